package vdb

import (
	"bytes"

	"github.com/andreyvit/vdb/hlc"
)

// indexEntry is a row of an index bucket: column bytes followed by the
// primary key.
type indexEntry struct {
	idx     *Index
	entry   []byte
	colsLen int
	hasNull bool
}

func (e indexEntry) columns() []byte {
	return e.entry[:e.colsLen]
}

// computeIndexEntry builds the entry of a record for idx.
func computeIndexEntry(idx *Index, r recordReader) (indexEntry, error) {
	var buf []byte
	var hasNull bool
	for _, col := range idx.columns {
		v, err := r.readRef(col.Ref)
		if err != nil {
			return indexEntry{}, err
		}
		if v == nil {
			hasNull = true
		}
		buf = appendColumn(buf, v, col.Reversed)
	}
	colsLen := len(buf)
	buf = append(buf, r.rec.Key...)
	return indexEntry{idx: idx, entry: buf, colsLen: colsLen, hasNull: hasNull}, nil
}

// computeIndexEntries returns one entry per index; nil for a record that
// no longer exists.
func computeIndexEntries(tbl *Table, rec *Record) ([]indexEntry, error) {
	if rec == nil || rec.HardDeleted != 0 || len(tbl.indices) == 0 {
		return nil, nil
	}
	r := recordReader{tbl: tbl, rec: rec}
	entries := make([]indexEntry, len(tbl.indices))
	for i, idx := range tbl.indices {
		e, err := computeIndexEntry(idx, r)
		if err != nil {
			return nil, err
		}
		entries[i] = e
	}
	return entries, nil
}

// sortKeyOf returns the bytes a scan plan orders rec by.
func sortKeyOf(plan ScanPlan, tbl *Table, rec *Record, v hlc.Version) ([]byte, error) {
	if plan.Kind == TableScan {
		return rec.Key, nil
	}
	e, err := computeIndexEntry(plan.Index, recordReader{tbl: tbl, rec: rec, version: v})
	if err != nil {
		return nil, err
	}
	return e.entry, nil
}

// checkUnique finds another record holding the same unique column values.
func (ts *tableState) checkUnique(key []byte, entries []indexEntry) error {
	for _, e := range entries {
		if !e.idx.IsUnique() || e.hasNull {
			continue
		}
		cur := ts.indexBuckets[e.idx.pos].Cursor()
		for k := cur.Seek(e.columns()); k != nil && bytes.HasPrefix(k, e.columns()); k = cur.Next() {
			other := cur.Value()
			if !bytes.Equal(other, key) {
				return &UniqueError{Table: ts.tbl.name, Index: e.idx.name, Key: key, ExistingKey: other}
			}
		}
	}
	return nil
}

// updateIndices replaces old entries with new ones. Caller holds the write
// lock.
func (ts *tableState) updateIndices(key []byte, before, after []indexEntry) {
	for i, b := range ts.indexBuckets {
		var oldEntry, newEntry []byte
		if before != nil {
			oldEntry = before[i].entry
		}
		if after != nil {
			newEntry = after[i].entry
		}
		if bytes.Equal(oldEntry, newEntry) {
			continue
		}
		if oldEntry != nil {
			b.Delete(oldEntry)
		}
		if newEntry != nil {
			b.Put(newEntry, key)
		}
	}
}
