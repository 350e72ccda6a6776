package vdb

import (
	"bytes"
	"fmt"
	"slices"
	"sync"
)

// MemPersistence is a Persistence kept in memory, intended for tests.
// Snapshots are stored encoded, so nothing aliases the store's records.
type MemPersistence struct {
	mu      sync.Mutex
	tables  map[string]map[string][]byte
	failErr error
	writes  int
	closed  bool
}

func NewMemPersistence() *MemPersistence {
	return &MemPersistence{tables: make(map[string]map[string][]byte)}
}

// FailWrites makes every following WriteSnapshot return err; nil restores
// normal operation.
func (mp *MemPersistence) FailWrites(err error) {
	mp.mu.Lock()
	defer mp.mu.Unlock()
	mp.failErr = err
}

// Writes returns the number of successful WriteSnapshot calls.
func (mp *MemPersistence) Writes() int {
	mp.mu.Lock()
	defer mp.mu.Unlock()
	return mp.writes
}

func (mp *MemPersistence) LoadSnapshot(table string) ([]RecordSnapshot, error) {
	mp.mu.Lock()
	defer mp.mu.Unlock()
	if mp.closed {
		return nil, fmt.Errorf("persistence closed")
	}
	recs := mp.tables[table]
	keys := make([]string, 0, len(recs))
	for k := range recs {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	out := make([]RecordSnapshot, 0, len(keys))
	for _, k := range keys {
		var snap RecordSnapshot
		if err := msgpackDecode(recs[k], &snap); err != nil {
			return nil, storageErrf(table, []byte(k), err, "cannot decode snapshot")
		}
		out = append(out, snap)
	}
	return out, nil
}

func (mp *MemPersistence) WriteSnapshot(table string, records []RecordSnapshot) error {
	mp.mu.Lock()
	defer mp.mu.Unlock()
	if mp.closed {
		return fmt.Errorf("persistence closed")
	}
	if mp.failErr != nil {
		return mp.failErr
	}
	recs := mp.tables[table]
	if recs == nil {
		recs = make(map[string][]byte)
		mp.tables[table] = recs
	}
	for _, snap := range records {
		if snap.Removed {
			delete(recs, string(snap.Key))
			continue
		}
		recs[string(snap.Key)] = msgpackAppend(nil, &snap)
	}
	mp.writes++
	return nil
}

// Corrupt replaces the stored snapshot of key with raw bytes.
func (mp *MemPersistence) Corrupt(table string, key []byte, raw []byte) {
	mp.mu.Lock()
	defer mp.mu.Unlock()
	if mp.tables[table] == nil {
		mp.tables[table] = make(map[string][]byte)
	}
	mp.tables[table][string(key)] = bytes.Clone(raw)
}

func (mp *MemPersistence) Close() error {
	mp.mu.Lock()
	defer mp.mu.Unlock()
	mp.closed = true
	return nil
}

// Reopen allows a closed MemPersistence to be used by another store.
func (mp *MemPersistence) Reopen() {
	mp.mu.Lock()
	defer mp.mu.Unlock()
	mp.closed = false
}
