package vdb

import (
	"fmt"
	"slices"
	"testing"

	"github.com/andreyvit/vdb/hlc"
)

func writeNew(t testing.TB, tbl *Table, vals Values, v hlc.Version) *Record {
	t.Helper()
	key := must(tbl.keyOf(vals))
	rec := newRecord(key, v)
	if err := newRecordWriter(tbl, rec, v, true).writeObject(tbl.model, nil, vals); err != nil {
		t.Fatalf("writeObject: %v", err)
	}
	return rec
}

func applyAt(t testing.TB, tbl *Table, rec *Record, v hlc.Version, changes ...Change) *Record {
	t.Helper()
	out := rec.clone()
	w := newRecordWriter(tbl, out, v, false)
	for _, ch := range changes {
		if err := w.apply(ch); err != nil {
			t.Fatalf("apply %v: %v", ch, err)
		}
	}
	out.LastVersion = v
	return out
}

func readAt(t testing.TB, tbl *Table, rec *Record, ref Ref, v hlc.Version) any {
	t.Helper()
	val, err := recordReader{tbl: tbl, rec: rec, version: v}.readRef(ref)
	if err != nil {
		t.Fatalf("readRef %v: %v", ref, err)
	}
	return val
}

func TestListRoundTrip(t *testing.T) {
	for _, n := range []int{0, 1, 5} {
		t.Run(fmt.Sprint(n), func(t *testing.T) {
			items := make([]any, n)
			for i := range items {
				items[i] = fmt.Sprintf("t%d", i)
			}
			rec := writeNew(t, itemsTable, Values{pID: "x", pTags: items}, 1)
			deepEqual(t, readAt(t, itemsTable, rec, Prop(pTags), 0), any(items))

			if n < 3 {
				return
			}
			rec = applyAt(t, itemsTable, rec, 2, DeleteRef{Prop(pTags).Item(1)})
			want := slices.Delete(slices.Clone(items), 1, 2)
			deepEqual(t, readAt(t, itemsTable, rec, Prop(pTags), 0), any(want))
			if b := rec.read(Prop(pTags).Item(n-1), 0); b != nil {
				t.Errorf("** slot %d still holds %x", n-1, b)
			}

			// shrinking and growing reuse the slots
			rec = applyAt(t, itemsTable, rec, 3, SetValue{Prop(pTags), []any{"a"}})
			deepEqual(t, readAt(t, itemsTable, rec, Prop(pTags), 0), any([]any{"a"}))
			rec = applyAt(t, itemsTable, rec, 4, SetValue{Prop(pTags).Item(1), "b"})
			deepEqual(t, readAt(t, itemsTable, rec, Prop(pTags), 0), any([]any{"a", "b"}))
		})
	}
}

func TestListItemPastEnd(t *testing.T) {
	rec := writeNew(t, itemsTable, Values{pID: "x", pTags: []any{"a"}}, 1)
	w := newRecordWriter(itemsTable, rec.clone(), 2, false)
	err := w.apply(SetValue{Prop(pTags).Item(5), "z"})
	isErrAs[*ValidationError](t, err)
}

func TestContainerDeleteCascades(t *testing.T) {
	rec := writeNew(t, itemsTable, Values{
		pID:     "x",
		pAddr:   Values{pCity: "Paris", pZip: "75001"},
		pAttrs:  map[any]any{"k1": "v1", "k2": "v2"},
		pLabels: []any{"b", "a", "b"},
	}, 1)
	deepEqual(t, readAt(t, itemsTable, rec, Prop(pLabels), 0), any([]any{"a", "b"}))
	deepEqual(t, readAt(t, itemsTable, rec, Prop(pAddr).Prop(pCity), 0), any("Paris"))
	deepEqual(t, readAt(t, itemsTable, rec, Prop(pAttrs).MapKey("k2"), 0), any("v2"))

	rec = applyAt(t, itemsTable, rec, 2, DeleteRef{Prop(pAddr)}, DeleteRef{Prop(pAttrs)})
	for _, ref := range []Ref{Prop(pAddr), Prop(pAddr).Prop(pCity), Prop(pAddr).Prop(pZip), Prop(pAttrs), Prop(pAttrs).MapKey("k1"), Prop(pAttrs).MapKey("k2")} {
		if b := rec.read(ref, 0); b != nil {
			t.Errorf("** %v still holds %x", ref, b)
		}
	}
	if v := readAt(t, itemsTable, rec, Prop(pAddr), 0); v != nil {
		t.Errorf("** got addr %v, wanted nil", v)
	}
	deepEqual(t, readAt(t, itemsTable, rec, Prop(pLabels), 0), any([]any{"a", "b"}))

	// a removed map entry updates the count
	rec = applyAt(t, itemsTable, rec, 3, SetValue{Prop(pAttrs), map[any]any{"a": "1", "b": "2"}})
	rec = applyAt(t, itemsTable, rec, 4, DeleteRef{Prop(pAttrs).MapKey("a")})
	deepEqual(t, readAt(t, itemsTable, rec, Prop(pAttrs), 0), any(map[any]any{"b": "2"}))
}

func TestNestedSetNeedsParent(t *testing.T) {
	rec := writeNew(t, itemsTable, Values{pID: "x"}, 1)
	w := newRecordWriter(itemsTable, rec.clone(), 2, false)
	isErrAs[*ValidationError](t, w.apply(SetValue{Prop(pAddr).Prop(pCity), "Rome"}))

	rec = applyAt(t, itemsTable, rec, 2, SetValue{Prop(pAddr), Values{}}, SetValue{Prop(pAddr).Prop(pCity), "Rome"})
	deepEqual(t, readAt(t, itemsTable, rec, Prop(pAddr), 0), any(Values{pCity: "Rome"}))
}

func TestHistoryReads(t *testing.T) {
	rec := writeNew(t, eventsTable, Values{pID: "e", pA: 1, pTags: []any{"a", "b"}}, 10)
	rec = applyAt(t, eventsTable, rec, 20, SetValue{Prop(pA), 2}, DeleteRef{Prop(pTags).Item(0)})
	rec = applyAt(t, eventsTable, rec, 30, DeleteRef{Prop(pA)})

	deepEqual(t, readAt(t, eventsTable, rec, Prop(pA), 10), any(int64(1)))
	deepEqual(t, readAt(t, eventsTable, rec, Prop(pA), 25), any(int64(2)))
	if v := readAt(t, eventsTable, rec, Prop(pA), 30); v != nil {
		t.Errorf("** got %v at v30, wanted nil", v)
	}
	deepEqual(t, readAt(t, eventsTable, rec, Prop(pTags), 15), any([]any{"a", "b"}))
	deepEqual(t, readAt(t, eventsTable, rec, Prop(pTags), 0), any([]any{"b"}))
	deepEqual(t, rec.versions(0, 0), []hlc.Version{10, 20, 30})
	deepEqual(t, rec.versions(10, 20), []hlc.Version{20})
	deepEqual(t, rec.touchedAt(20), []Ref{Prop(pA), Prop(pTags)})

	if rec.existsAt(5) || !rec.existsAt(10) {
		t.Errorf("** existsAt around FirstVersion is wrong")
	}
	w := newRecordWriter(eventsTable, rec, 40, false)
	w.hardDelete()
	if rec.existsAt(0) || rec.existsAt(40) || !rec.existsAt(35) {
		t.Errorf("** existsAt around HardDeleted is wrong")
	}
}

func TestFinalProperty(t *testing.T) {
	rec := writeNew(t, itemsTable, Values{pID: "x"}, 1)
	w := newRecordWriter(itemsTable, rec.clone(), 2, false)
	isErrAs[*ValidationError](t, w.apply(DeleteRef{Prop(pID)}))

	// rewriting the same value is not a change
	w = newRecordWriter(itemsTable, rec.clone(), 2, false)
	if err := w.apply(SetValue{Prop(pID), "x"}); err != nil {
		t.Fatal(err)
	}
	if w.changed() {
		t.Errorf("** same value counted as a change")
	}
}
