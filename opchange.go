package vdb

import (
	"github.com/andreyvit/vdb/hlc"
)

func (ts *tableState) change(req *ChangeRequest, version hlc.Version) *ChangeResponse {
	resp := &ChangeResponse{
		Version: version,
		Results: make([]WriteResult, len(req.Objects)),
	}
	for i, oc := range req.Objects {
		changed, err := ts.changeObject(oc, version)
		resp.Results[i] = WriteResult{Key: oc.Key, Changed: changed, Err: err}
	}
	return resp
}

// changeObject applies the changes to a clone of the record. Nothing is
// committed unless all of them succeed and at least one changes something.
func (ts *tableState) changeObject(oc ObjectChange, version hlc.Version) (bool, error) {
	before, _ := ts.records.Get(oc.Key)
	if before == nil || before.HardDeleted != 0 {
		return false, notFoundErr(ts.tbl.name, oc.Key)
	}
	if oc.LastVersion != 0 && oc.LastVersion != before.LastVersion {
		return false, &VersionMismatchError{Table: ts.tbl.name, Key: oc.Key, Expected: oc.LastVersion, Actual: before.LastVersion}
	}

	rec := before.clone()
	w := newRecordWriter(ts.tbl, rec, version, false)
	for _, ch := range oc.Changes {
		if err := w.apply(ch); err != nil {
			return false, err
		}
	}
	if !w.changed() {
		return false, nil
	}
	rec.LastVersion = version

	upd, err := ts.newUpdate(OpChange, rec, version)
	if err != nil {
		return false, err
	}
	upd.softDeleteFlipped = w.softDeleteFlipped
	if err := ts.commit(before, rec, upd); err != nil {
		return false, err
	}
	return true, nil
}
