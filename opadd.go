package vdb

import (
	"github.com/andreyvit/vdb/hlc"
)

func (ts *tableState) add(req *AddRequest, version hlc.Version) *AddResponse {
	resp := &AddResponse{
		Version: version,
		Results: make([]WriteResult, len(req.Objects)),
	}
	for i, vals := range req.Objects {
		key, err := ts.addObject(vals, version)
		resp.Results[i] = WriteResult{Key: key, Changed: err == nil, Err: err}
	}
	return resp
}

// addObject creates a record. A key whose record was hard-deleted in a
// history-keeping table starts over with a fresh record.
func (ts *tableState) addObject(vals Values, version hlc.Version) ([]byte, error) {
	key, err := ts.tbl.keyOf(vals)
	if err != nil {
		return nil, err
	}
	existing, _ := ts.records.Get(key)
	if existing != nil && existing.HardDeleted == 0 {
		return key, &AlreadyExistsError{Table: ts.tbl.name, Key: key}
	}

	rec := newRecord(key, version)
	w := newRecordWriter(ts.tbl, rec, version, true)
	if err := w.writeObject(ts.tbl.model, nil, vals); err != nil {
		return key, err
	}
	upd, err := ts.newUpdate(OpAdd, rec, version)
	if err != nil {
		return key, err
	}
	return key, ts.commit(existing, rec, upd)
}
