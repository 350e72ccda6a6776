package vdb

import (
	"github.com/andreyvit/vdb/hlc"
)

func (ts *tableState) checkHistory(toVersion hlc.Version, maxVersions int) error {
	if ts.tbl.keepHistory {
		return nil
	}
	if toVersion != 0 {
		return requestErrf(ts.tbl.name, nil, "ToVersion needs a table that keeps history")
	}
	if maxVersions > 1 {
		return requestErrf(ts.tbl.name, nil, "MaxVersions %d needs a table that keeps history", maxVersions)
	}
	return nil
}

func (ts *tableState) lookup(keys [][]byte) []*Record {
	recs := make([]*Record, len(keys))
	ts.mu.RLock()
	defer ts.mu.RUnlock()
	for i, key := range keys {
		recs[i], _ = ts.records.Get(key)
	}
	return recs
}

func (ts *tableState) getObjects(req *GetRequest) (*GetResponse, error) {
	if err := ts.checkHistory(req.ToVersion, 0); err != nil {
		return nil, err
	}
	filter, err := bindFilter(ts.tbl, req.Filter)
	if err != nil {
		return nil, err
	}
	recs := ts.lookup(req.Keys)
	resp := &GetResponse{Objects: make([]GetResult, len(req.Keys))}
	for i, rec := range recs {
		ok, err := ts.matches(rec, req.ToVersion, filter, req.FilterSoftDeleted)
		if err != nil {
			return nil, err
		}
		if !ok {
			resp.Objects[i] = GetResult{Object: Object{Key: req.Keys[i]}}
			continue
		}
		obj, err := ts.object(rec, req.ToVersion)
		if err != nil {
			return nil, err
		}
		resp.Objects[i] = GetResult{Object: obj, Found: true}
	}
	return resp, nil
}
