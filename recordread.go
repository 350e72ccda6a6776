package vdb

import (
	"github.com/andreyvit/vdb/hlc"
)

// Values is an object keyed by property index.
//
// Scalars are bool, int64, float64, string and []byte. Lists and sets are
// []any, maps are map[any]any (bytes keys come back as strings), embedded
// objects are Values and typed unions are TypedValue.
type Values map[uint16]any

// TypedValue is the value of a typed union.
type TypedValue struct {
	Type  uint16
	Value any
}

func asValues(v any) (Values, bool) {
	switch v := v.(type) {
	case Values:
		return v, true
	case map[uint16]any:
		return Values(v), true
	default:
		return nil, false
	}
}

func asTypedValue(v any) (TypedValue, bool) {
	switch v := v.(type) {
	case TypedValue:
		return v, true
	case *TypedValue:
		if v == nil {
			return TypedValue{}, false
		}
		return *v, true
	default:
		return TypedValue{}, false
	}
}

// recordReader decodes values of a record as of a version; zero means
// latest.
type recordReader struct {
	tbl     *Table
	rec     *Record
	version hlc.Version
}

func (r recordReader) storageErr(ref Ref, err error) error {
	return storageErrf(r.tbl.name, r.rec.Key, err, "cannot decode %v", ref)
}

// getValue returns the decoded node at ref; ok is false when there is no
// live value.
func (r recordReader) getValue(ref Ref) (storedValue, bool, error) {
	b := r.rec.read(ref, r.version)
	if b == nil {
		return storedValue{}, false, nil
	}
	sv, err := decodeStored(b)
	if err != nil {
		return sv, false, r.storageErr(ref, err)
	}
	if sv.ind == indDeleted {
		return sv, false, nil
	}
	return sv, true, nil
}

// getList reads the count at ref, then collects the items stored in the
// block right after it.
func (r recordReader) getList(p *Property, ref Ref) ([]any, error) {
	sv, ok, err := r.getValue(ref)
	if err != nil || !ok {
		return nil, err
	}
	if sv.ind != indComplex {
		return nil, storageErrf(r.tbl.name, r.rec.Key, nil, "%v: list node has indicator %d", ref, sv.ind)
	}
	items := make([]any, 0, sv.count)
	start, end := r.rec.prefixBlock(ref)
	for i := start; i < end && len(items) < sv.count; i++ {
		n := r.rec.nodes[i]
		if len(n.nodeRef()) != len(ref)+refPosSize {
			continue
		}
		b := r.nodeValue(n)
		if b == nil {
			continue
		}
		item, err := r.decodeScalar(p.typ, n.nodeRef(), b)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	if len(items) != sv.count {
		return nil, storageErrf(r.tbl.name, r.rec.Key, nil, "%v: list has %d items, count says %d", ref, len(items), sv.count)
	}
	return items, nil
}

func (r recordReader) getSet(p *Property, ref Ref) ([]any, error) {
	sv, ok, err := r.getValue(ref)
	if err != nil || !ok {
		return nil, err
	}
	items := make([]any, 0, sv.count)
	for _, itemRef := range directEntries(r.rec, ref, r.version) {
		item, err := r.decodeScalar(p.typ, itemRef, r.rec.read(itemRef, r.version))
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, nil
}

func (r recordReader) getMap(p *Property, ref Ref) (map[any]any, error) {
	_, ok, err := r.getValue(ref)
	if err != nil || !ok {
		return nil, err
	}
	m := make(map[any]any)
	for _, entryRef := range directEntries(r.rec, ref, r.version) {
		d := makeByteDecoder(entryRef[len(ref):])
		raw, err := d.VarBytes()
		if err != nil {
			return nil, r.storageErr(entryRef, err)
		}
		key, _, err := decodeOrdered(p.keyType, raw)
		if err != nil {
			return nil, r.storageErr(entryRef, err)
		}
		if b, ok := key.([]byte); ok {
			key = string(b)
		}
		var val any
		if p.hasEmbeddedValues() {
			val, err = r.readObject(r.tbl.schema.mustModel(p.model), entryRef)
		} else {
			val, err = r.decodeScalar(p.typ, entryRef, r.rec.read(entryRef, r.version))
		}
		if err != nil {
			return nil, err
		}
		m[key] = val
	}
	return m, nil
}

func (r recordReader) nodeValue(n node) []byte {
	if r.version == 0 {
		return current(n)
	}
	return valueAt(n, r.version)
}

func (r recordReader) decodeScalar(typ ValueType, ref Ref, b []byte) (any, error) {
	sv, err := decodeStored(b)
	if err != nil {
		return nil, r.storageErr(ref, err)
	}
	if sv.ind != indSimple {
		return nil, storageErrf(r.tbl.name, r.rec.Key, nil, "%v: wanted a scalar, got indicator %d", ref, sv.ind)
	}
	v, err := normalizeScalar(typ, sv.scalar)
	if err != nil {
		return nil, r.storageErr(ref, err)
	}
	return v, nil
}

// readProp decodes a property value; nil if it isn't set.
func (r recordReader) readProp(p *Property, ref Ref) (any, error) {
	switch p.kind {
	case KindValue:
		b := r.rec.read(ref, r.version)
		if b == nil {
			return nil, nil
		}
		return r.decodeScalar(p.typ, ref, b)
	case KindList:
		items, err := r.getList(p, ref)
		if items == nil || err != nil {
			return nil, err
		}
		return items, nil
	case KindSet:
		items, err := r.getSet(p, ref)
		if items == nil || err != nil {
			return nil, err
		}
		return items, nil
	case KindMap:
		m, err := r.getMap(p, ref)
		if m == nil || err != nil {
			return nil, err
		}
		return m, nil
	case KindEmbed:
		_, ok, err := r.getValue(ref)
		if !ok || err != nil {
			return nil, err
		}
		return r.readObject(r.tbl.schema.mustModel(p.model), ref)
	case KindMultiType:
		sv, ok, err := r.getValue(ref)
		if !ok || err != nil {
			return nil, err
		}
		switch sv.ind {
		case indNoType:
			return nil, nil
		case indTypeTag:
			inner := p.types[sv.tag]
			if inner == nil {
				return nil, storageErrf(r.tbl.name, r.rec.Key, nil, "%v: unknown type tag %d", ref, sv.tag)
			}
			v, err := r.readProp(inner, ref.Type(sv.tag))
			if err != nil {
				return nil, err
			}
			return TypedValue{Type: sv.tag, Value: v}, nil
		default:
			return nil, storageErrf(r.tbl.name, r.rec.Key, nil, "%v: typed union has indicator %d", ref, sv.ind)
		}
	default:
		return nil, typeErrf("unknown property kind %v", p.kind)
	}
}

func (r recordReader) readObject(model *Model, base Ref) (Values, error) {
	vals := make(Values, len(model.props))
	for _, p := range model.props {
		v, err := r.readProp(p, base.Prop(p.index))
		if err != nil {
			return nil, err
		}
		if v != nil {
			vals[p.index] = v
		}
	}
	return vals, nil
}

// readResolved decodes whatever ref points at.
func (r recordReader) readResolved(rr resolvedRef, ref Ref) (any, error) {
	switch rr.kind {
	case refSoftDelete:
		return r.rec.isSoftDeleted(r.version), nil
	case refProperty, refTypedSlot:
		return r.readProp(rr.prop, ref)
	case refListItem, refSetItem:
		b := r.rec.read(ref, r.version)
		if b == nil {
			return nil, nil
		}
		return r.decodeScalar(rr.prop.typ, ref, b)
	case refMapEntry:
		if rr.prop.hasEmbeddedValues() {
			if _, ok, err := r.getValue(ref); !ok || err != nil {
				return nil, err
			}
			return r.readObject(r.tbl.schema.mustModel(rr.prop.model), ref)
		}
		b := r.rec.read(ref, r.version)
		if b == nil {
			return nil, nil
		}
		return r.decodeScalar(rr.prop.typ, ref, b)
	default:
		return nil, typeErrf("unexpected ref kind %d", rr.kind)
	}
}

// readRef decodes the value at an arbitrary ref.
func (r recordReader) readRef(ref Ref) (any, error) {
	rr, err := resolveRef(r.tbl.schema, r.tbl.model, ref)
	if err != nil {
		return nil, requestErrf(r.tbl.name, err, "invalid ref %v", ref)
	}
	return r.readResolved(rr, ref)
}
