package vdb

import (
	"testing"
)

func TestNewIndexOptions(t *testing.T) {
	idx := NewIndex("dbg", []IndexColumn{Asc(Prop(pA)), Desc(Prop(pB))}, IndexOptUnique|IndexOptDebugScans)
	deepEqual(t, idx.IsUnique(), true)
	deepEqual(t, idx.debugScans(), true)
	deepEqual(t, idx.String(), "dbg")

	deepEqual(t, itemsByAB.IsUnique(), false)
	deepEqual(t, itemsByAB.FullName(), "items.ab")

	func() {
		defer func() {
			if recover() == nil {
				t.Errorf("** no panic for unknown option")
			}
		}()
		NewIndex("bad", []IndexColumn{Asc(Prop(pA))}, IndexOpt(0x80))
	}()
	func() {
		defer func() {
			if recover() == nil {
				t.Errorf("** no panic for an index without columns")
			}
		}()
		NewIndex("empty", nil)
	}()
}

func TestScanLogLevel(t *testing.T) {
	s := setup(t, func(o *Options) { o.Verbose = false })
	ts := must(s.tableState("items"))
	_, ok := ts.scanLogLevel(ScanPlan{Kind: TableScan})
	deepEqual(t, ok, false)

	dbg := NewIndex("dbg", []IndexColumn{Asc(Prop(pA))}, IndexOptDebugScans)
	_, ok = ts.scanLogLevel(ScanPlan{Kind: IndexScan, Index: dbg})
	deepEqual(t, ok, true)
}
