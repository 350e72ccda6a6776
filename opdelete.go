package vdb

import (
	"github.com/andreyvit/vdb/hlc"
)

func (ts *tableState) delete(req *DeleteRequest, version hlc.Version) *DeleteResponse {
	resp := &DeleteResponse{
		Version: version,
		Results: make([]WriteResult, len(req.Keys)),
	}
	for i, key := range req.Keys {
		changed, err := ts.deleteObject(key, req.Soft, version)
		resp.Results[i] = WriteResult{Key: key, Changed: changed, Err: err}
	}
	return resp
}

// deleteObject soft- or hard-deletes a record. Deleting a missing record is
// a no-op. A hard delete removes the record, or tombstones it when the table
// keeps history.
func (ts *tableState) deleteObject(key []byte, soft bool, version hlc.Version) (bool, error) {
	before, _ := ts.records.Get(key)
	if before == nil || before.HardDeleted != 0 {
		return false, nil
	}

	if soft {
		rec := before.clone()
		w := newRecordWriter(ts.tbl, rec, version, false)
		w.setSoftDeleted(true)
		if !w.changed() {
			return false, nil
		}
		rec.LastVersion = version
		upd, err := ts.newUpdate(OpDelete, rec, version)
		if err != nil {
			return false, err
		}
		upd.soft, upd.softDeleteFlipped = true, true
		return true, ts.commit(before, rec, upd)
	}

	var after *Record
	if ts.tbl.keepHistory {
		after = before.clone()
		newRecordWriter(ts.tbl, after, version, false).hardDelete()
		after.LastVersion = version
	}
	upd := &update{op: OpDelete, key: before.Key, version: version}
	return true, ts.commit(before, after, upd)
}
