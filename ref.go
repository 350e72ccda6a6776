package vdb

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"fmt"
)

// Ref is the canonical reference of a value inside a record. A child ref
// always has its parent's ref as a prefix, and sibling refs sort in declared
// order:
//
//	property   parent + uint16 BE property index
//	list item  list + uint32 BE position
//	set item   set + uvarint length + ordered item bytes
//	map entry  map + uvarint length + ordered key bytes
//	typed slot union + uint16 BE type tag
type Ref []byte

const (
	refIndexSize = 2
	refPosSize   = 4

	softDeleteIndex uint16 = 0
)

// SoftDeleteRef holds the object-level soft delete flag.
var SoftDeleteRef = Ref{0, 0}

// Prop returns the ref of a top-level property.
func Prop(index uint16) Ref {
	return Ref(nil).Prop(index)
}

func (r Ref) Prop(index uint16) Ref {
	return Ref(binary.BigEndian.AppendUint16(r.extend(refIndexSize), index))
}

func (r Ref) Item(pos int) Ref {
	if pos < 0 || int64(pos) > int64(^uint32(0)) {
		panic(fmt.Errorf("list position out of range: %d", pos))
	}
	return Ref(binary.BigEndian.AppendUint32(r.extend(refPosSize), uint32(pos)))
}

// SetItem returns the ref of a set item. Panics on a non-scalar item.
func (r Ref) SetItem(v any) Ref {
	return r.keyed(v)
}

// MapKey returns the ref of a map entry. Panics on a non-scalar key.
func (r Ref) MapKey(k any) Ref {
	return r.keyed(k)
}

func (r Ref) Type(tag uint16) Ref {
	return r.Prop(tag)
}

func (r Ref) keyed(v any) Ref {
	nv, ok := normalizeLoose(v)
	if !ok {
		panic(fmt.Errorf("not a scalar: %T", v))
	}
	enc := encodeOrdered(nv)
	buf := r.extend(binaryUvarintLen(uint64(len(enc))) + len(enc))
	return Ref(appendVarbytes(buf, enc))
}

func (r Ref) extend(n int) []byte {
	out := make([]byte, len(r), len(r)+n)
	copy(out, r)
	return out
}

func (r Ref) HasPrefix(p Ref) bool {
	return bytes.HasPrefix(r, p)
}

func (r Ref) Equal(o Ref) bool {
	return bytes.Equal(r, o)
}

func (r Ref) topLevel() Ref {
	if len(r) < refIndexSize {
		return r
	}
	return r[:refIndexSize]
}

func (r Ref) String() string {
	if len(r) == 0 {
		return "<key>"
	}
	return hex.EncodeToString(r)
}

func binaryUvarintLen(v uint64) int {
	var tmp [binary.MaxVarintLen64]byte
	return binary.PutUvarint(tmp[:], v)
}

type refKind int

const (
	refProperty  refKind = iota // a property of a model (top-level or embedded)
	refListItem                 // an item of a list
	refSetItem                  // an item of a set
	refMapEntry                 // an entry of a map
	refTypedSlot                // the value of a typed union under a type tag
	refSoftDelete
)

// resolvedRef describes what a ref points at.
type resolvedRef struct {
	kind      refKind
	prop      *Property // property or typed slot definition; for items, the container
	parent    Ref       // for items and entries, the container ref
	item      any       // set item or map key
	pos       int       // list position
	valueType ValueType // scalar type of the value held, or TypeNone
	path      []*Property
}

// resolveRef walks ref against model. Embedded models are looked up by name
// as the walk reaches them.
func resolveRef(scm *Schema, model *Model, ref Ref) (resolvedRef, error) {
	if ref.Equal(SoftDeleteRef) {
		return resolvedRef{kind: refSoftDelete, prop: softDeleteProp, valueType: TypeBool}, nil
	}
	d := makeByteDecoder(ref)
	var rr resolvedRef
	for {
		idx, err := d.Uint16()
		if err != nil {
			return rr, fmt.Errorf("truncated property index at %d", d.Off())
		}
		p := model.Property(idx)
		if p == nil {
			return rr, fmt.Errorf("model %s has no property %d", model.name, idx)
		}
		rr = resolvedRef{kind: refProperty, prop: p, path: append(rr.path, p)}
	prop:
		if len(d.Buf) == 0 {
			if p.kind == KindValue {
				rr.valueType = p.typ
			}
			return rr, nil
		}
		containerRef := ref[:d.Off()]
		switch p.kind {
		case KindValue:
			return rr, fmt.Errorf("%s is a scalar and has no children", p.name)
		case KindList:
			pos, err := d.Uint32()
			if err != nil || len(d.Buf) != 0 {
				return rr, fmt.Errorf("invalid list position in %s", p.name)
			}
			return resolvedRef{kind: refListItem, prop: p, parent: containerRef, pos: int(pos), valueType: p.typ, path: rr.path}, nil
		case KindSet, KindMap:
			raw, err := d.VarBytes()
			if err != nil {
				return rr, fmt.Errorf("invalid item bytes in %s", p.name)
			}
			typ := p.typ
			if p.kind == KindMap {
				typ = p.keyType
			}
			item, rest, err := decodeOrdered(typ, raw)
			if err != nil || len(rest) != 0 {
				return rr, fmt.Errorf("invalid item bytes in %s", p.name)
			}
			kind := refSetItem
			if p.kind == KindMap {
				kind = refMapEntry
			}
			rr = resolvedRef{kind: kind, prop: p, parent: containerRef, item: item, path: rr.path}
			if len(d.Buf) == 0 {
				if !p.hasEmbeddedValues() {
					rr.valueType = p.typ
				}
				return rr, nil
			}
			if !p.hasEmbeddedValues() {
				return rr, fmt.Errorf("entries of %s have no children", p.name)
			}
			model = scm.models[p.model]
			if model == nil {
				return rr, fmt.Errorf("model %q is not defined", p.model)
			}
		case KindEmbed:
			model = scm.models[p.model]
			if model == nil {
				return rr, fmt.Errorf("model %q is not defined", p.model)
			}
		case KindMultiType:
			tag, err := d.Uint16()
			if err != nil {
				return rr, fmt.Errorf("truncated type tag in %s", p.name)
			}
			inner := p.types[tag]
			if inner == nil {
				return rr, fmt.Errorf("%s has no type %d", p.name, tag)
			}
			rr = resolvedRef{kind: refTypedSlot, prop: inner, parent: containerRef, path: append(rr.path, inner)}
			p = inner
			goto prop
		}
	}
}
