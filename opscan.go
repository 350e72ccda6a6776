package vdb

import (
	"github.com/andreyvit/vdb/hlc"
)

// prepareScan validates a scan and plans it.
func (ts *tableState) prepareScan(req *ScanRequest) (scanQuery, error) {
	tbl := ts.tbl
	if err := ts.checkHistory(req.ToVersion, 0); err != nil {
		return scanQuery{}, err
	}
	if req.Limit < 0 {
		return scanQuery{}, requestErrf(tbl.name, nil, "negative limit %d", req.Limit)
	}
	filter, err := bindFilter(tbl, req.Filter)
	if err != nil {
		return scanQuery{}, err
	}
	if err := bindOrders(tbl, req.Order); err != nil {
		return scanQuery{}, err
	}
	plan, err := planScan(tbl, filter, req.Order)
	if err != nil {
		return scanQuery{}, err
	}
	q := scanQuery{
		plan:              plan,
		filter:            filter,
		limit:             req.Limit,
		version:           req.ToVersion,
		filterSoftDeleted: req.FilterSoftDeleted,
	}
	if req.StartKey != nil {
		q.after, err = ts.startSortKey(plan, req.StartKey, req.ToVersion)
		if err != nil {
			return scanQuery{}, err
		}
	}
	return q, nil
}

// startSortKey finds where the scan that returned startKey left off.
func (ts *tableState) startSortKey(plan ScanPlan, startKey []byte, v hlc.Version) ([]byte, error) {
	if plan.Kind == TableScan {
		return startKey, nil
	}
	rec := ts.get(startKey)
	if rec == nil || !rec.existsAt(v) {
		return nil, requestErrf(ts.tbl.name, ErrNotFound, "start key %x", startKey)
	}
	return sortKeyOf(plan, ts.tbl, rec, v)
}

func (ts *tableState) scanObjects(req *ScanRequest) (*ScanResponse, error) {
	q, err := ts.prepareScan(req)
	if err != nil {
		return nil, err
	}
	items, err := ts.scan(q)
	if err != nil {
		return nil, err
	}
	resp := &ScanResponse{Plan: q.plan, Objects: make([]Object, 0, len(items))}
	for _, it := range items {
		obj, err := ts.object(it.rec, q.version)
		if err != nil {
			return nil, err
		}
		resp.Objects = append(resp.Objects, obj)
	}
	return resp, nil
}
