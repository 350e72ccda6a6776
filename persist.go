package vdb

import (
	"bytes"
	"context"
	"log/slog"
	"sync"

	"gopkg.in/tomb.v2"

	"github.com/andreyvit/vdb/hlc"
)

// Persistence stores record snapshots outside of memory. Writes happen after
// the in-memory commit and are never rolled back; failures are reported on
// the store's side channel.
type Persistence interface {
	// LoadSnapshot returns every record of a table. A table that was never
	// written returns nothing and no error.
	LoadSnapshot(table string) ([]RecordSnapshot, error)

	// WriteSnapshot stores records, replacing earlier snapshots of the same
	// keys. A snapshot with Removed set deletes the key.
	WriteSnapshot(table string, records []RecordSnapshot) error

	Close() error
}

// RecordSnapshot is the persisted form of a record.
type RecordSnapshot struct {
	Key          []byte         `msgpack:"k"`
	FirstVersion hlc.Version    `msgpack:"f,omitempty"`
	LastVersion  hlc.Version    `msgpack:"l"`
	HardDeleted  hlc.Version    `msgpack:"x,omitempty"`
	Removed      bool           `msgpack:"d,omitempty"`
	Nodes        []NodeSnapshot `msgpack:"n,omitempty"`
}

// NodeSnapshot is one node; History is set for nodes that keep history, and
// Value is nil for a deletion.
type NodeSnapshot struct {
	Ref     Ref             `msgpack:"r"`
	Version hlc.Version     `msgpack:"v,omitempty"`
	Value   []byte          `msgpack:"b,omitempty"`
	History []EntrySnapshot `msgpack:"h,omitempty"`
}

type EntrySnapshot struct {
	Version hlc.Version `msgpack:"v"`
	Value   []byte      `msgpack:"b,omitempty"`
	Deleted bool        `msgpack:"d,omitempty"`
}

func snapshotRecord(rec *Record) RecordSnapshot {
	snap := RecordSnapshot{
		Key:          rec.Key,
		FirstVersion: rec.FirstVersion,
		LastVersion:  rec.LastVersion,
		HardDeleted:  rec.HardDeleted,
		Nodes:        make([]NodeSnapshot, len(rec.nodes)),
	}
	for i, n := range rec.nodes {
		switch n := n.(type) {
		case *valueNode:
			snap.Nodes[i] = NodeSnapshot{Ref: n.ref, Version: n.version, Value: n.value}
		case *deletedNode:
			snap.Nodes[i] = NodeSnapshot{Ref: n.ref, Version: n.version}
		case *historicNode:
			hist := make([]EntrySnapshot, len(n.history))
			for j, e := range n.history {
				hist[j] = EntrySnapshot{Version: e.version, Value: e.value, Deleted: e.deleted}
			}
			snap.Nodes[i] = NodeSnapshot{Ref: n.ref, History: hist}
		default:
			panic(typeErrf("unexpected node %T", n))
		}
	}
	return snap
}

// restoreRecord rebuilds a record, checking the orderings a corrupt
// snapshot could break.
func restoreRecord(tbl *Table, snap RecordSnapshot) (*Record, error) {
	corrupt := func(format string, args ...any) error {
		return storageErrf(tbl.name, snap.Key, nil, "snapshot: "+format, args...)
	}
	if len(snap.Key) == 0 {
		return nil, corrupt("empty key")
	}
	if snap.LastVersion < snap.FirstVersion {
		return nil, corrupt("last version %v before first version %v", snap.LastVersion, snap.FirstVersion)
	}
	rec := &Record{
		Key:          snap.Key,
		FirstVersion: snap.FirstVersion,
		LastVersion:  snap.LastVersion,
		HardDeleted:  snap.HardDeleted,
		nodes:        make([]node, len(snap.Nodes)),
	}
	for i, ns := range snap.Nodes {
		if i > 0 && bytes.Compare(snap.Nodes[i-1].Ref, ns.Ref) >= 0 {
			return nil, corrupt("nodes out of order at %v", ns.Ref)
		}
		if _, err := resolveRef(tbl.schema, tbl.model, ns.Ref); err != nil {
			return nil, storageErrf(tbl.name, snap.Key, err, "snapshot: bad ref %v", ns.Ref)
		}
		switch {
		case ns.History != nil:
			hist := make([]historicEntry, len(ns.History))
			for j, e := range ns.History {
				if j > 0 && e.Version <= ns.History[j-1].Version {
					return nil, corrupt("history of %v out of order", ns.Ref)
				}
				if !e.Deleted {
					if _, err := decodeStored(e.Value); err != nil {
						return nil, storageErrf(tbl.name, snap.Key, err, "snapshot: bad value at %v as of %v", ns.Ref, e.Version)
					}
				}
				hist[j] = historicEntry{version: e.Version, value: e.Value, deleted: e.Deleted}
			}
			rec.nodes[i] = &historicNode{ref: ns.Ref, history: hist}
		case ns.Value != nil:
			if _, err := decodeStored(ns.Value); err != nil {
				return nil, storageErrf(tbl.name, snap.Key, err, "snapshot: bad value at %v", ns.Ref)
			}
			rec.nodes[i] = &valueNode{ref: ns.Ref, value: ns.Value, version: ns.Version}
		default:
			rec.nodes[i] = &deletedNode{ref: ns.Ref, version: ns.Version}
		}
	}
	return rec, nil
}

type persistItem struct {
	table string
	snap  RecordSnapshot
}

// persister writes snapshots in the background, batching whatever piled up
// since the last write. Pending snapshots are flushed on stop.
type persister struct {
	store *Store
	p     Persistence
	mu    sync.Mutex
	queue []persistItem
	wake  chan struct{}
	tomb  tomb.Tomb
}

func newPersister(store *Store, p Persistence) *persister {
	ps := &persister{store: store, p: p, wake: make(chan struct{}, 1)}
	ps.tomb.Go(ps.loop)
	return ps
}

func (ps *persister) enqueue(table string, snap RecordSnapshot) {
	ps.mu.Lock()
	ps.queue = append(ps.queue, persistItem{table, snap})
	ps.mu.Unlock()
	select {
	case ps.wake <- struct{}{}:
	default:
	}
}

func (ps *persister) loop() error {
	for {
		select {
		case <-ps.tomb.Dying():
			ps.flush()
			return nil
		case <-ps.wake:
			ps.flush()
		}
	}
}

func (ps *persister) stop() {
	ps.tomb.Kill(nil)
	_ = ps.tomb.Wait()
}

func (ps *persister) flush() {
	ps.mu.Lock()
	items := ps.queue
	ps.queue = nil
	ps.mu.Unlock()
	if len(items) == 0 {
		return
	}

	// one batch per table, keeping only the latest snapshot of each key
	var order []string
	batches := make(map[string][]RecordSnapshot)
	latest := make(map[string]map[string]int)
	for _, it := range items {
		if batches[it.table] == nil {
			order = append(order, it.table)
			latest[it.table] = make(map[string]int)
		}
		if i, ok := latest[it.table][string(it.snap.Key)]; ok {
			batches[it.table][i] = it.snap
			continue
		}
		latest[it.table][string(it.snap.Key)] = len(batches[it.table])
		batches[it.table] = append(batches[it.table], it.snap)
	}
	for _, table := range order {
		batch := batches[table]
		if err := ps.p.WriteSnapshot(table, batch); err != nil {
			ps.store.reportPersistError(table, err)
			continue
		}
		ps.store.metrics.persisted(table, len(batch))
	}
}

// reportPersistError never blocks; a full PersistErrors channel drops err.
func (s *Store) reportPersistError(table string, err error) {
	err = storageErrf(table, nil, err, "persist")
	s.logger.LogAttrs(context.Background(), slog.LevelError, "persist failed", tableAttr(table), slog.Any("err", err))
	s.metrics.persistError(table)
	if s.opt.OnPersistError != nil {
		s.opt.OnPersistError(table, err)
	}
	select {
	case s.persistErrs <- err:
	default:
		s.logger.LogAttrs(context.Background(), slog.LevelWarn, "persist error channel full, dropping error", tableAttr(table))
	}
}
