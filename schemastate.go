package vdb

import (
	"bytes"
	"context"
	"log/slog"
	"slices"
	"sync"

	"gopkg.in/tomb.v2"

	"github.com/andreyvit/vdb/hlc"
)

// tableState is the live contents of one table. Only the table's writer
// goroutine modifies the buckets, and only under mu; readers hold mu.RLock.
type tableState struct {
	store  *Store
	tbl    *Table
	logger *slog.Logger

	mu           sync.RWMutex
	records      memBucket[*Record]
	indexBuckets []*memBucket[[]byte]
	lastVersion  hlc.Version

	jobs    chan *writeJob
	tomb    tomb.Tomb
	updates *updateManager
}

func newTableState(store *Store, tbl *Table) *tableState {
	ts := &tableState{
		store:        store,
		tbl:          tbl,
		logger:       store.logger.With(tableAttr(tbl.name)),
		indexBuckets: make([]*memBucket[[]byte], len(tbl.indices)),
		jobs:         make(chan *writeJob),
	}
	for i := range ts.indexBuckets {
		ts.indexBuckets[i] = new(memBucket[[]byte])
	}
	ts.updates = newUpdateManager(ts)
	return ts
}

// load fills an empty table from persisted snapshots. Called before the
// goroutines start.
func (ts *tableState) load(snaps []RecordSnapshot) (hlc.Version, error) {
	items := make([]memKV[*Record], 0, len(snaps))
	var maxVersion hlc.Version
	for _, snap := range snaps {
		if snap.Removed {
			continue
		}
		rec, err := restoreRecord(ts.tbl, snap)
		if err != nil {
			return 0, err
		}
		items = append(items, memKV[*Record]{key: rec.Key, value: rec})
		maxVersion = max(maxVersion, rec.LastVersion)
	}
	slices.SortFunc(items, func(a, b memKV[*Record]) int {
		return bytes.Compare(a.key, b.key)
	})
	for i := 1; i < len(items); i++ {
		if bytes.Equal(items[i].key, items[i-1].key) {
			return 0, storageErrf(ts.tbl.name, items[i].key, nil, "duplicate record in snapshot")
		}
	}
	ts.records.Load(items)

	for _, it := range items {
		entries, err := computeIndexEntries(ts.tbl, it.value)
		if err != nil {
			return 0, err
		}
		if err := ts.checkUnique(it.key, entries); err != nil {
			return 0, storageErrf(ts.tbl.name, it.key, err, "snapshot violates a unique index")
		}
		ts.updateIndices(it.key, nil, entries)
	}
	ts.lastVersion = maxVersion
	return maxVersion, nil
}

func (ts *tableState) start() {
	ts.tomb.Go(ts.loop)
	ts.updates.start()
}

func (ts *tableState) stop() {
	ts.tomb.Kill(nil)
	_ = ts.tomb.Wait()
	ts.updates.stop()
}

// get returns the latest committed record of key, including tombstoned
// ones.
func (ts *tableState) get(key []byte) *Record {
	ts.mu.RLock()
	defer ts.mu.RUnlock()
	rec, _ := ts.records.Get(key)
	return rec
}

func (ts *tableState) version() hlc.Version {
	ts.mu.RLock()
	defer ts.mu.RUnlock()
	return ts.lastVersion
}

// matches reports whether rec is visible at v (zero for latest) and
// satisfies filter.
func (ts *tableState) matches(rec *Record, v hlc.Version, filter Filter, filterSoftDeleted bool) (bool, error) {
	if rec == nil || !rec.existsAt(v) {
		return false, nil
	}
	if filterSoftDeleted && rec.isSoftDeleted(v) {
		return false, nil
	}
	return evalFilter(filter, recordReader{tbl: ts.tbl, rec: rec, version: v})
}

// object decodes rec as of v. Latest reads go through the value cache, one
// entry per top-level property.
func (ts *tableState) object(rec *Record, v hlc.Version) (Object, error) {
	obj := Object{
		Key:          rec.Key,
		FirstVersion: rec.FirstVersion,
		LastVersion:  rec.LastVersion,
		SoftDeleted:  rec.isSoftDeleted(v),
	}
	r := recordReader{tbl: ts.tbl, rec: rec, version: v}
	if v != 0 {
		obj.LastVersion = lastVersionAt(rec, v)
		vals, err := r.readObject(ts.tbl.model, nil)
		obj.Values = vals
		return obj, err
	}

	obj.Values = make(Values, len(ts.tbl.model.props))
	for _, p := range ts.tbl.model.props {
		ref := Prop(p.index)
		refVersion := latestUnder(rec, ref)
		if refVersion == 0 {
			continue
		}
		val, err := ts.store.cache.get(ts.tbl.name, rec.Key, ref, refVersion, func() (any, error) {
			return r.readProp(p, ref)
		})
		if err != nil {
			return obj, err
		}
		if val != nil {
			obj.Values[p.index] = val
		}
	}
	return obj, nil
}

// latestUnder returns the newest version of any node under prefix, or zero
// if there are none.
func latestUnder(rec *Record, prefix Ref) hlc.Version {
	start, end := rec.prefixBlock(prefix)
	var v hlc.Version
	for i := start; i < end; i++ {
		v = max(v, rec.nodes[i].latestVersion())
	}
	return v
}

func lastVersionAt(rec *Record, v hlc.Version) hlc.Version {
	vers := rec.versions(0, v)
	if len(vers) == 0 {
		return 0
	}
	return vers[len(vers)-1]
}

// scanQuery is a planned scan.
type scanQuery struct {
	plan              ScanPlan
	filter            Filter // bound
	limit             int
	after             []byte // sort key to continue after
	version           hlc.Version
	filterSoftDeleted bool
}

type scanItem struct {
	rec     *Record
	sortKey []byte
}

func (ts *tableState) scan(q scanQuery) ([]scanItem, error) {
	ts.mu.RLock()
	defer ts.mu.RUnlock()
	return ts.scanLocked(q)
}

// scanLogLevel reports whether to log a scan. Indices flagged with
// IndexOptDebugScans log at info even without Verbose.
func (ts *tableState) scanLogLevel(plan ScanPlan) (slog.Level, bool) {
	if plan.Index != nil && plan.Index.debugScans() {
		return slog.LevelInfo, true
	}
	return slog.LevelDebug, ts.store.verbose
}

func (ts *tableState) scanLocked(q scanQuery) ([]scanItem, error) {
	rang := q.plan.Range.After(q.after)
	if q.version != 0 {
		return ts.scanHistoricLocked(q, rang)
	}
	if lvl, ok := ts.scanLogLevel(q.plan); ok {
		ts.logger.LogAttrs(context.Background(), lvl, "scan", slog.String("plan", q.plan.String()), hexAttr("after", q.after), slog.Int("limit", q.limit))
	}

	var out []scanItem
	accept := func(rec *Record, sortKey []byte) (bool, error) {
		ok, err := ts.matches(rec, 0, q.filter, q.filterSoftDeleted)
		if !ok || err != nil {
			return false, err
		}
		out = append(out, scanItem{rec: rec, sortKey: sortKey})
		return q.limit > 0 && len(out) >= q.limit, nil
	}

	if q.plan.Kind == TableScan {
		for c := newRangeCursor(&ts.records, rang, ts.logger); c.Next(); {
			done, err := accept(c.Value(), c.Key())
			if err != nil {
				return nil, err
			}
			if done {
				break
			}
		}
		return out, nil
	}

	for c := newRangeCursor(ts.indexBuckets[q.plan.Index.pos], rang, ts.logger); c.Next(); {
		key := c.Value()
		rec, ok := ts.records.Get(key)
		if !ok {
			return nil, storageErrf(ts.tbl.name, key, nil, "index %s points to a missing record", q.plan.Index.name)
		}
		done, err := accept(rec, c.Key())
		if err != nil {
			return nil, err
		}
		if done {
			break
		}
	}
	return out, nil
}

// scanHistoricLocked scans the state as of q.version. Index entries of past
// versions aren't stored, so they are computed and sorted here.
func (ts *tableState) scanHistoricLocked(q scanQuery, rang ScanRange) ([]scanItem, error) {
	var out []scanItem
	cur := ts.records.Cursor()
	for k := cur.First(); k != nil; k = cur.Next() {
		rec := cur.Value()
		ok, err := ts.matches(rec, q.version, q.filter, q.filterSoftDeleted)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		sortKey, err := sortKeyOf(q.plan, ts.tbl, rec, q.version)
		if err != nil {
			return nil, err
		}
		if rang.Contains(sortKey) {
			out = append(out, scanItem{rec: rec, sortKey: sortKey})
		}
	}
	slices.SortFunc(out, func(a, b scanItem) int {
		c := bytes.Compare(a.sortKey, b.sortKey)
		if rang.Reverse {
			return -c
		}
		return c
	})
	if q.limit > 0 && len(out) > q.limit {
		out = out[:q.limit]
	}
	return out, nil
}
