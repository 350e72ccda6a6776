package vdb

import (
	"bytes"
	"encoding/binary"
	"reflect"
	"slices"
	"sort"

	"github.com/andreyvit/vdb/hlc"
)

// recordWriter applies changes to a private clone of a record. If any change
// fails, the clone is dropped and nothing survives.
type recordWriter struct {
	tbl       *Table
	rec       *Record
	version   hlc.Version
	history   bool
	isNew     bool
	mutations int

	softDeleteFlipped bool
}

func newRecordWriter(tbl *Table, rec *Record, version hlc.Version, isNew bool) *recordWriter {
	return &recordWriter{
		tbl:     tbl,
		rec:     rec,
		version: version,
		history: tbl.keepHistory,
		isNew:   isNew,
	}
}

func (w *recordWriter) changed() bool {
	return w.mutations > 0
}

func (w *recordWriter) validationErrf(ref Ref, format string, args ...any) error {
	return validationErrf(w.tbl.name, w.rec.Key, ref, format, args...)
}

// setValue stores value at ref. Writing the current value is a no-op.
func (w *recordWriter) setValue(ref Ref, value []byte) bool {
	rec := w.rec
	i, ok := rec.find(ref)
	if !ok {
		rec.nodes = slices.Insert(rec.nodes, i, node(&valueNode{ref: ref, value: value, version: w.version}))
		w.mutations++
		return true
	}
	old := rec.nodes[i]
	if cur := current(old); cur != nil && bytes.Equal(cur, value) {
		return false
	}
	if w.history {
		rec.nodes[i] = appendHistory(old, historicEntry{version: w.version, value: value})
	} else {
		rec.nodes[i] = &valueNode{ref: old.nodeRef(), value: value, version: w.version}
	}
	w.mutations++
	return true
}

func appendHistory(n node, e historicEntry) node {
	var hist []historicEntry
	switch n := n.(type) {
	case *valueNode:
		if n.version == e.version && !e.deleted {
			return &valueNode{ref: n.ref, value: e.value, version: e.version}
		}
		if n.version != e.version {
			hist = []historicEntry{{version: n.version, value: n.value}}
		}
	case *historicNode:
		hist = slices.Clone(n.history)
		if hist[len(hist)-1].version == e.version {
			hist = hist[:len(hist)-1]
		}
	case *deletedNode:
		if n.version != e.version {
			hist = []historicEntry{{version: n.version, deleted: true}}
		}
	default:
		panic(typeErrf("unexpected node %T", n))
	}
	return &historicNode{ref: n.nodeRef(), history: append(hist, e)}
}

func (w *recordWriter) deleteNodeAt(i int) bool {
	n := w.rec.nodes[i]
	if current(n) == nil {
		return false
	}
	if w.history {
		w.rec.nodes[i] = appendHistory(n, historicEntry{version: w.version, deleted: true})
	} else {
		w.rec.nodes[i] = &deletedNode{ref: n.nodeRef(), version: w.version}
	}
	w.mutations++
	return true
}

// cascadeDelete marks every node under prefix (including prefix itself) as
// deleted.
func (w *recordWriter) cascadeDelete(prefix Ref) bool {
	start, end := w.rec.prefixBlock(prefix)
	var deleted bool
	for i := start; i < end; i++ {
		if w.deleteNodeAt(i) {
			deleted = true
		}
	}
	return deleted
}

func (w *recordWriter) live(ref Ref) bool {
	return w.rec.read(ref, 0) != nil
}

func (w *recordWriter) validateSize(p *Property, ref Ref, n int) error {
	if n < p.minSize || (p.maxSize > 0 && n > p.maxSize) {
		if p.maxSize > 0 {
			return w.validationErrf(ref, "%s has %d items, allowed %d..%d", p.name, n, p.minSize, p.maxSize)
		}
		return w.validationErrf(ref, "%s has %d items, wanted at least %d", p.name, n, p.minSize)
	}
	return nil
}

// writeObject replaces the object at base with vals: missing properties are
// deleted.
func (w *recordWriter) writeObject(model *Model, base Ref, vals Values) error {
	for idx := range vals {
		if model.Property(idx) == nil {
			return w.validationErrf(base.Prop(idx), "model %s has no property %d", model.name, idx)
		}
	}
	for _, p := range model.props {
		ref := base.Prop(p.index)
		v := vals[p.index]
		if v != nil {
			if err := w.writeProp(p, ref, v); err != nil {
				return err
			}
			continue
		}
		if p.required {
			return w.validationErrf(ref, "%s is required", p.name)
		}
		if p.kind.isContainer() && p.minSize > 0 {
			return w.validateSize(p, ref, 0)
		}
		w.cascadeDelete(ref)
	}
	return nil
}

func (w *recordWriter) writeProp(p *Property, ref Ref, v any) error {
	switch p.kind {
	case KindValue:
		nv, err := normalizeScalar(p.typ, v)
		if err != nil {
			return w.validationErrf(ref, "%s: %v", p.name, err)
		}
		w.setValue(ref, encodeSimple(nv))
		return nil

	case KindList:
		items, err := w.normalizeItems(p, ref, v)
		if err != nil {
			return err
		}
		if err := w.validateSize(p, ref, len(items)); err != nil {
			return err
		}
		w.setListValue(ref, items, countOf(w.rec.read(ref, 0)))
		return nil

	case KindSet:
		items, err := w.normalizeItems(p, ref, v)
		if err != nil {
			return err
		}
		items = sortedSetItems(items)
		if err := w.validateSize(p, ref, len(items)); err != nil {
			return err
		}
		w.setSetValue(ref, items)
		return nil

	case KindMap:
		m, ok := v.(map[any]any)
		if !ok {
			return w.validationErrf(ref, "%s: wanted map[any]any, got %T", p.name, v)
		}
		if err := w.validateSize(p, ref, len(m)); err != nil {
			return err
		}
		return w.setMapValue(p, ref, m)

	case KindEmbed:
		vals, ok := asValues(v)
		if !ok {
			return w.validationErrf(ref, "%s: wanted Values, got %T", p.name, v)
		}
		w.setValue(ref, embedMarker)
		return w.writeObject(w.tbl.schema.mustModel(p.model), ref, vals)

	case KindMultiType:
		tv, ok := asTypedValue(v)
		if !ok {
			return w.validationErrf(ref, "%s: wanted TypedValue, got %T", p.name, v)
		}
		inner := p.types[tv.Type]
		if inner == nil {
			return w.validationErrf(ref, "%s has no type %d", p.name, tv.Type)
		}
		if prev, err := decodeStored(w.rec.read(ref, 0)); err == nil && prev.ind == indTypeTag && prev.tag != tv.Type {
			w.cascadeDelete(ref.Type(prev.tag))
		}
		w.setValue(ref, encodeTypeTag(tv.Type))
		if tv.Value == nil {
			if inner.required {
				return w.validationErrf(ref, "%s: type %d needs a value", p.name, tv.Type)
			}
			w.cascadeDelete(ref.Type(tv.Type))
			return nil
		}
		return w.writeProp(inner, ref.Type(tv.Type), tv.Value)

	default:
		return typeErrf("unknown property kind %v", p.kind)
	}
}

func (w *recordWriter) normalizeItems(p *Property, ref Ref, v any) ([]any, error) {
	raw, ok := v.([]any)
	if !ok {
		return nil, w.validationErrf(ref, "%s: wanted []any, got %T", p.name, v)
	}
	items := make([]any, len(raw))
	for i, item := range raw {
		nv, err := normalizeScalar(p.typ, item)
		if err != nil {
			return nil, w.validationErrf(ref, "%s[%d]: %v", p.name, i, err)
		}
		items[i] = nv
	}
	return items, nil
}

// sortedSetItems orders set items by their canonical bytes and drops
// duplicates.
func sortedSetItems(items []any) []any {
	sort.SliceStable(items, func(i, j int) bool {
		return compareScalars(items[i], items[j]) < 0
	})
	return slices.CompactFunc(items, scalarsEqual)
}

// setListValue replaces a whole list: the count goes to the container ref and
// items go to ref + position, reusing existing slots.
func (w *recordWriter) setListValue(ref Ref, items []any, previousCount int) {
	w.setValue(ref, encodeCount(len(items)))
	for i := len(items); i < previousCount; i++ {
		w.cascadeDelete(ref.Item(i))
	}
	for i, item := range items {
		w.setValue(ref.Item(i), encodeSimple(item))
	}
}

func (w *recordWriter) setSetValue(ref Ref, items []any) {
	w.setValue(ref, encodeCount(len(items)))
	want := make([]Ref, len(items))
	for i, item := range items {
		want[i] = ref.SetItem(item)
	}
	for _, existing := range w.entryRefs(ref) {
		if !slices.ContainsFunc(want, existing.Equal) {
			w.cascadeDelete(existing)
		}
	}
	for i, item := range items {
		w.setValue(want[i], encodeSimple(item))
	}
}

func (w *recordWriter) setMapValue(p *Property, ref Ref, m map[any]any) error {
	type entry struct {
		ref Ref
		key any
		val any
	}
	entries := make([]entry, 0, len(m))
	for k, v := range m {
		nk, err := normalizeScalar(p.keyType, k)
		if err != nil {
			return w.validationErrf(ref, "%s key: %v", p.name, err)
		}
		entries = append(entries, entry{ref.MapKey(nk), nk, v})
	}
	sort.Slice(entries, func(i, j int) bool {
		return bytes.Compare(entries[i].ref, entries[j].ref) < 0
	})
	for i := 1; i < len(entries); i++ {
		if entries[i].ref.Equal(entries[i-1].ref) {
			return w.validationErrf(ref, "%s: duplicate key %v", p.name, entries[i].key)
		}
	}

	w.setValue(ref, encodeCount(len(entries)))
	for _, existing := range w.entryRefs(ref) {
		if !slices.ContainsFunc(entries, func(e entry) bool { return e.ref.Equal(existing) }) {
			w.cascadeDelete(existing)
		}
	}
	for _, e := range entries {
		if err := w.writeMapEntry(p, e.ref, e.val); err != nil {
			return err
		}
	}
	return nil
}

func (w *recordWriter) writeMapEntry(p *Property, ref Ref, v any) error {
	if v == nil {
		return w.validationErrf(ref, "%s: nil map value", p.name)
	}
	if p.hasEmbeddedValues() {
		vals, ok := asValues(v)
		if !ok {
			return w.validationErrf(ref, "%s: wanted Values, got %T", p.name, v)
		}
		w.setValue(ref, embedMarker)
		return w.writeObject(w.tbl.schema.mustModel(p.model), ref, vals)
	}
	nv, err := normalizeScalar(p.typ, v)
	if err != nil {
		return w.validationErrf(ref, "%s: %v", p.name, err)
	}
	w.setValue(ref, encodeSimple(nv))
	return nil
}

// entryRefs lists the live set items or map entries directly under ref.
func (w *recordWriter) entryRefs(ref Ref) []Ref {
	return directEntries(w.rec, ref, 0)
}

func directEntries(rec *Record, ref Ref, v hlc.Version) []Ref {
	start, end := rec.prefixBlock(ref)
	var out []Ref
	for i := start; i < end; i++ {
		n := rec.nodes[i]
		r := n.nodeRef()
		if len(r) == len(ref) {
			continue
		}
		d := makeByteDecoder(r[len(ref):])
		if _, err := d.VarBytes(); err != nil || len(d.Buf) != 0 {
			continue
		}
		var val []byte
		if v == 0 {
			val = current(n)
		} else {
			val = valueAt(n, v)
		}
		if val != nil {
			out = append(out, r)
		}
	}
	return out
}

// set applies SetValue{ref, v}. A nil value deletes.
func (w *recordWriter) set(ref Ref, v any) error {
	if v == nil {
		return w.deleteByReference(ref)
	}
	rr, err := resolveRef(w.tbl.schema, w.tbl.model, ref)
	if err != nil {
		return requestErrf(w.tbl.name, err, "invalid ref %v", ref)
	}
	before := w.mutations
	if err := w.setResolved(rr, ref, v); err != nil {
		return err
	}
	if w.mutations != before && !w.isNew && isFinal(rr) {
		return w.validationErrf(ref, "%s is final", rr.prop.name)
	}
	return nil
}

func isFinal(rr resolvedRef) bool {
	for _, p := range rr.path {
		if p.final {
			return true
		}
	}
	return false
}

func (w *recordWriter) setResolved(rr resolvedRef, ref Ref, v any) error {
	switch rr.kind {
	case refSoftDelete:
		deleted, ok := v.(bool)
		if !ok {
			return w.validationErrf(ref, "soft delete flag must be bool, got %T", v)
		}
		w.setSoftDeleted(deleted)
		return nil

	case refProperty:
		if err := w.requireParent(ref); err != nil {
			return err
		}
		return w.writeProp(rr.prop, ref, v)

	case refTypedSlot:
		union := rr.path[len(rr.path)-2]
		tag := binary.BigEndian.Uint16(ref[len(rr.parent):])
		return w.writeProp(union, rr.parent, TypedValue{Type: tag, Value: v})

	case refListItem:
		nv, err := normalizeScalar(rr.prop.typ, v)
		if err != nil {
			return w.validationErrf(ref, "%s: %v", rr.prop.name, err)
		}
		count := countOf(w.rec.read(rr.parent, 0))
		switch {
		case rr.pos < count:
		case rr.pos == count:
			if err := w.validateSize(rr.prop, rr.parent, count+1); err != nil {
				return err
			}
			w.setValue(rr.parent, encodeCount(count+1))
		default:
			return w.validationErrf(ref, "%s: position %d is past the end (%d items)", rr.prop.name, rr.pos, count)
		}
		w.setValue(ref, encodeSimple(nv))
		return nil

	case refSetItem:
		if !w.live(ref) {
			count := countOf(w.rec.read(rr.parent, 0))
			if err := w.validateSize(rr.prop, rr.parent, count+1); err != nil {
				return err
			}
			w.setValue(rr.parent, encodeCount(count+1))
		}
		w.setValue(ref, encodeSimple(rr.item))
		return nil

	case refMapEntry:
		if !w.live(ref) {
			count := countOf(w.rec.read(rr.parent, 0))
			if err := w.validateSize(rr.prop, rr.parent, count+1); err != nil {
				return err
			}
			w.setValue(rr.parent, encodeCount(count+1))
		}
		return w.writeMapEntry(rr.prop, ref, v)

	default:
		return typeErrf("unexpected ref kind %d", rr.kind)
	}
}

// requireParent checks that the object holding a nested property exists.
func (w *recordWriter) requireParent(ref Ref) error {
	if len(ref) <= refIndexSize {
		return nil
	}
	parent := ref[:len(ref)-refIndexSize]
	if !w.live(parent) {
		return w.validationErrf(ref, "parent %v is not set", parent)
	}
	return nil
}

func (w *recordWriter) setSoftDeleted(deleted bool) {
	if w.rec.isSoftDeleted(0) == deleted {
		return
	}
	if deleted {
		w.setValue(SoftDeleteRef, encodeSimple(true))
	} else {
		w.cascadeDelete(SoftDeleteRef)
	}
	w.softDeleteFlipped = true
}

// deleteByReference deletes ref and everything under it. The previous value
// of a container counts as empty for validation, and removing an item from a
// container updates its count first.
func (w *recordWriter) deleteByReference(ref Ref) error {
	if len(ref) == 0 {
		return requestErrf(w.tbl.name, nil, "cannot delete the whole object by ref")
	}
	rr, err := resolveRef(w.tbl.schema, w.tbl.model, ref)
	if err != nil {
		return requestErrf(w.tbl.name, err, "invalid ref %v", ref)
	}
	if !w.live(ref) {
		return nil
	}
	if !w.isNew && isFinal(rr) {
		return w.validationErrf(ref, "%s is final", rr.prop.name)
	}

	switch rr.kind {
	case refSoftDelete:
		w.setSoftDeleted(false)
		return nil

	case refProperty, refTypedSlot:
		p := rr.prop
		if p.required {
			return w.validationErrf(ref, "%s is required", p.name)
		}
		if p.kind.isContainer() {
			if err := w.validateSize(p, ref, 0); err != nil {
				return err
			}
		}
		w.cascadeDelete(ref)
		if rr.kind == refTypedSlot {
			w.setValue(rr.parent, noTypeMarker)
		}
		return nil

	case refListItem:
		count := countOf(w.rec.read(rr.parent, 0))
		if rr.pos >= count {
			return nil
		}
		newCount := count - 1
		if err := w.validateSize(rr.prop, rr.parent, newCount); err != nil {
			return err
		}
		for i := rr.pos; i < newCount; i++ {
			next := w.rec.read(rr.parent.Item(i+1), 0)
			w.setValue(rr.parent.Item(i), next)
		}
		w.cascadeDelete(rr.parent.Item(newCount))
		w.setValue(rr.parent, encodeCount(newCount))
		return nil

	case refSetItem, refMapEntry:
		count := countOf(w.rec.read(rr.parent, 0))
		if err := w.validateSize(rr.prop, rr.parent, count-1); err != nil {
			return err
		}
		w.cascadeDelete(ref)
		w.setValue(rr.parent, encodeCount(count-1))
		return nil

	default:
		return typeErrf("unexpected ref kind %d", rr.kind)
	}
}

// check compares the value at ref with v.
func (w *recordWriter) check(ref Ref, v any) error {
	rr, err := resolveRef(w.tbl.schema, w.tbl.model, ref)
	if err != nil {
		return requestErrf(w.tbl.name, err, "invalid ref %v", ref)
	}
	r := recordReader{tbl: w.tbl, rec: w.rec}
	actual, err := r.readResolved(rr, ref)
	if err != nil {
		return err
	}
	if rr.valueType != TypeNone && v != nil {
		nv, err := normalizeScalar(rr.valueType, v)
		if err != nil {
			return w.validationErrf(ref, "check: %v", err)
		}
		if scalarsEqual(actual, nv) {
			return nil
		}
	} else if reflect.DeepEqual(actual, v) {
		return nil
	}
	return w.validationErrf(ref, "check failed: value is %v, wanted %v", actual, v)
}

func (w *recordWriter) apply(ch Change) error {
	switch ch := ch.(type) {
	case SetValue:
		return w.set(ch.Ref, ch.Value)
	case DeleteRef:
		return w.deleteByReference(ch.Ref)
	case Check:
		return w.check(ch.Ref, ch.Value)
	case SoftDelete:
		w.setSoftDeleted(ch.Deleted)
		return nil
	default:
		return typeErrf("unexpected change %T", ch)
	}
}

// hardDelete tombstones every node of a history-keeping record.
func (w *recordWriter) hardDelete() {
	for i := range w.rec.nodes {
		w.deleteNodeAt(i)
	}
	w.rec.HardDeleted = w.version
	w.mutations++
}
