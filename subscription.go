package vdb

import (
	"bytes"
	"context"
	"slices"
	"sync"

	"github.com/google/uuid"

	"github.com/andreyvit/vdb/hlc"
)

// GetUpdatesRequest subscribes to a fixed set of keys. Keys that fail
// Filter are left out of the window until a change makes them pass.
type GetUpdatesRequest struct {
	Table             string
	Keys              [][]byte
	Filter            Filter
	FromVersion       hlc.Version
	FilterSoftDeleted bool
}

// ScanUpdatesRequest subscribes to the window of a scan.
type ScanUpdatesRequest struct {
	Table             string
	Filter            Filter
	Order             Orders
	Limit             int
	FromVersion       hlc.Version
	FilterSoftDeleted bool
}

// Subscription streams the events of a live query. The first event is an
// *OrderedKeysUpdate with the initial window. Events older than the
// request's FromVersion are never sent.
type Subscription struct {
	id      uuid.UUID
	ts      *tableState
	l       listener
	pump    *pump
	once    sync.Once
	stopCtx func() bool
}

func (s *Subscription) ID() string {
	return s.id.String()
}

// Events returns the event channel. It is closed when the subscription or
// the store is closed.
func (s *Subscription) Events() <-chan UpdateResponse {
	return s.pump.out
}

// Close unregisters the subscription. Events in flight are dropped.
func (s *Subscription) Close() {
	s.once.Do(func() {
		if s.stopCtx != nil {
			s.stopCtx()
		}
		s.ts.updates.unregister(s.l)
		s.pump.stop()
	})
}

func (s *Store) subscribe(ctx context.Context, ts *tableState, l listener, p *pump) *Subscription {
	sub := &Subscription{id: uuid.New(), ts: ts, l: l, pump: p}
	sub.stopCtx = context.AfterFunc(ctx, sub.Close)
	return sub
}

// GetUpdates opens a subscription to the given keys. Closing the
// subscription or cancelling ctx ends it.
func (s *Store) GetUpdates(ctx context.Context, req GetUpdatesRequest) (*Subscription, error) {
	ts, err := s.tableState(req.Table)
	if err != nil {
		return nil, err
	}
	filter, err := bindFilter(ts.tbl, req.Filter)
	if err != nil {
		return nil, err
	}
	keys := slices.Clone(req.Keys)
	slices.SortFunc(keys, bytes.Compare)
	keys = slices.CompactFunc(keys, bytes.Equal)

	p := newPump(s.opt.ListenerBuffer)
	l := &getListener{
		ts:                ts,
		pump:              p,
		wanted:            make(map[string]bool, len(keys)),
		floor:             req.FromVersion,
		filter:            filter,
		filterSoftDeleted: req.FilterSoftDeleted,
	}
	for _, key := range keys {
		l.wanted[string(key)] = true
	}

	// the initial window is queued before the listener is registered, and
	// both happen under the read lock, so no commit falls in between
	ts.mu.RLock()
	initial := &OrderedKeysUpdate{Version: ts.lastVersion}
	for _, key := range keys {
		rec, _ := ts.records.Get(key)
		if !l.visible(rec) {
			continue
		}
		obj, err := ts.object(rec, 0)
		if err != nil {
			ts.mu.RUnlock()
			p.stop()
			return nil, err
		}
		l.keys = append(l.keys, key)
		initial.Objects = append(initial.Objects, obj)
	}
	p.push(initial)
	ts.updates.register(l)
	ts.mu.RUnlock()

	return s.subscribe(ctx, ts, l, p), nil
}

// ScanUpdates opens a subscription to a scan window. Closing the
// subscription or cancelling ctx ends it.
func (s *Store) ScanUpdates(ctx context.Context, req ScanUpdatesRequest) (*Subscription, error) {
	ts, err := s.tableState(req.Table)
	if err != nil {
		return nil, err
	}
	q, err := ts.prepareScan(&ScanRequest{
		Table:             req.Table,
		Filter:            req.Filter,
		Order:             req.Order,
		Limit:             req.Limit,
		FilterSoftDeleted: req.FilterSoftDeleted,
	})
	if err != nil {
		return nil, err
	}

	p := newPump(s.opt.ListenerBuffer)
	l := &scanListener{
		ts:      ts,
		pump:    p,
		q:       q,
		ordered: len(req.Order) > 0,
		floor:   req.FromVersion,
	}

	ts.mu.RLock()
	initial, err := l.initialLocked()
	if err == nil {
		p.push(initial)
		ts.updates.register(l)
	}
	ts.mu.RUnlock()
	if err != nil {
		p.stop()
		return nil, err
	}
	return s.subscribe(ctx, ts, l, p), nil
}
