package vdb

func (ts *tableState) getChanges(req *GetChangesRequest) (*GetChangesResponse, error) {
	if err := ts.checkHistory(req.ToVersion, req.MaxVersions); err != nil {
		return nil, err
	}
	if req.ToVersion != 0 && req.ToVersion <= req.FromVersion {
		return nil, requestErrf(ts.tbl.name, nil, "ToVersion %v is not after FromVersion %v", req.ToVersion, req.FromVersion)
	}
	resp := &GetChangesResponse{Objects: make([]ObjectChanges, len(req.Keys))}
	for i, rec := range ts.lookup(req.Keys) {
		if rec == nil {
			resp.Objects[i] = ObjectChanges{Key: req.Keys[i]}
			continue
		}
		oc, err := recordChanges(ts.tbl, rec, req.FromVersion, req.ToVersion, req.MaxVersions)
		if err != nil {
			return nil, err
		}
		resp.Objects[i] = oc
	}
	return resp, nil
}

func (ts *tableState) scanChanges(req *ScanChangesRequest) (*ScanChangesResponse, error) {
	if err := ts.checkHistory(req.ToVersion, req.MaxVersions); err != nil {
		return nil, err
	}
	q, err := ts.prepareScan(&req.ScanRequest)
	if err != nil {
		return nil, err
	}
	items, err := ts.scan(q)
	if err != nil {
		return nil, err
	}
	resp := &ScanChangesResponse{Plan: q.plan}
	for _, it := range items {
		oc, err := recordChanges(ts.tbl, it.rec, req.FromVersion, req.ToVersion, req.MaxVersions)
		if err != nil {
			return nil, err
		}
		if len(oc.Versions) > 0 {
			resp.Objects = append(resp.Objects, oc)
		}
	}
	return resp, nil
}
