package vdb

import (
	"context"
	"log/slog"

	"github.com/andreyvit/vdb/hlc"
)

type writeJob struct {
	ctx  context.Context
	req  Request
	done chan writeDone
}

type writeDone struct {
	resp Response
	err  error
}

// loop is the table's single writer. Each request gets one version from the
// clock; its objects are committed one by one.
func (ts *tableState) loop() error {
	for {
		select {
		case <-ts.tomb.Dying():
			return nil
		case job := <-ts.jobs:
			resp, err := ts.write(job.ctx, job.req)
			job.done <- writeDone{resp, err}
		}
	}
}

// submit hands a write request to the writer and waits for its outcome. If
// ctx ends after the writer took the request, the write still happens.
func (ts *tableState) submit(ctx context.Context, req Request) (Response, error) {
	job := &writeJob{ctx: ctx, req: req, done: make(chan writeDone, 1)}
	select {
	case ts.jobs <- job:
	case <-ts.tomb.Dying():
		return nil, ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	select {
	case d := <-job.done:
		return d.resp, d.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (ts *tableState) write(ctx context.Context, req Request) (Response, error) {
	version, err := ts.store.clock.Next(ctx)
	if err != nil {
		return nil, err
	}
	var resp Response
	var results []WriteResult
	switch req := req.(type) {
	case *AddRequest:
		r := ts.add(req, version)
		resp, results = r, r.Results
	case *ChangeRequest:
		r := ts.change(req, version)
		resp, results = r, r.Results
	case *DeleteRequest:
		r := ts.delete(req, version)
		resp, results = r, r.Results
	default:
		return nil, typeErrf("unexpected write request %T", req)
	}
	for _, r := range results {
		ts.store.metrics.recordWrite(ts.tbl.name, r)
		if r.Err != nil && ts.store.verbose {
			ts.logger.LogAttrs(ctx, slog.LevelDebug, "write rejected", hexAttr("key", r.Key), slog.Any("err", r.Err))
		}
	}
	return resp, nil
}

// commit swaps in the new state of one record: after is nil when the record
// is removed. Index entries are checked for uniqueness before anything
// becomes visible.
func (ts *tableState) commit(before, after *Record, upd *update) error {
	tbl := ts.tbl
	oldEntries, err := computeIndexEntries(tbl, before)
	if err != nil {
		return err
	}
	newEntries, err := computeIndexEntries(tbl, after)
	if err != nil {
		return err
	}
	if err := ts.checkUnique(upd.key, newEntries); err != nil {
		return err
	}

	ts.mu.Lock()
	if after == nil {
		ts.records.Delete(upd.key)
	} else {
		ts.records.Put(upd.key, after)
	}
	ts.updateIndices(upd.key, oldEntries, newEntries)
	ts.lastVersion = upd.version
	ts.invalidate(upd)
	ts.updates.publish(upd)
	ts.mu.Unlock()

	if ts.store.verbose {
		ts.logger.LogAttrs(context.Background(), slog.LevelDebug, "commit", slog.String("op", upd.op.String()), hexAttr("key", upd.key), slog.String("version", upd.version.String()))
	}
	if ts.store.persister != nil {
		var snap RecordSnapshot
		if after == nil {
			snap = RecordSnapshot{Key: upd.key, LastVersion: upd.version, Removed: true}
		} else {
			snap = snapshotRecord(after)
		}
		ts.store.persister.enqueue(tbl.name, snap)
	}
	return nil
}

func (ts *tableState) invalidate(upd *update) {
	cache := ts.store.cache
	if upd.hardDeleted() {
		cache.evictKey(ts.tbl.name, upd.key)
		return
	}
	for _, ref := range upd.rec.touchedAt(upd.version) {
		cache.invalidate(ts.tbl.name, upd.key, ref)
	}
}

// newUpdate describes a record written at version.
func (ts *tableState) newUpdate(op Op, rec *Record, version hlc.Version) (*update, error) {
	changes, err := changesAt(ts.tbl, rec, version)
	if err != nil {
		return nil, err
	}
	return &update{op: op, key: rec.Key, version: version, rec: rec, changes: changes}, nil
}
