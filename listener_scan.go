package vdb

import (
	"bytes"
	"context"
	"log/slog"
	"slices"
	"sort"

	"github.com/andreyvit/vdb/hlc"
)

type trackedKey struct {
	key     []byte
	sortKey []byte
}

// scanListener keeps the window of a scan: the matching keys in scan order,
// at most limit of them when limit > 0, with the sort key of each.
type scanListener struct {
	ts      *tableState
	pump    *pump
	q       scanQuery
	ordered bool
	items   []trackedKey
	floor   hlc.Version
}

// initialLocked reads the initial window. Caller holds the table read lock.
func (l *scanListener) initialLocked() (*OrderedKeysUpdate, error) {
	items, err := l.ts.scanLocked(l.q)
	if err != nil {
		return nil, err
	}
	initial := &OrderedKeysUpdate{Version: l.ts.lastVersion, Objects: make([]Object, 0, len(items))}
	for _, it := range items {
		obj, err := l.ts.object(it.rec, 0)
		if err != nil {
			return nil, err
		}
		l.items = append(l.items, trackedKey{key: it.rec.Key, sortKey: it.sortKey})
		initial.Objects = append(initial.Objects, obj)
	}
	return initial, nil
}

func (l *scanListener) stop() {
	l.pump.stop()
}

func (l *scanListener) logErr(msg string, key []byte, err error) {
	l.ts.logger.LogAttrs(context.Background(), slog.LevelError, msg, hexAttr("key", key), slog.Any("err", err))
}

func (l *scanListener) full() bool {
	return l.q.limit > 0 && len(l.items) >= l.q.limit
}

func (l *scanListener) indexOf(key []byte) int {
	return slices.IndexFunc(l.items, func(it trackedKey) bool {
		return bytes.Equal(it.key, key)
	})
}

// insertPos is the position sortKey would take in the window.
func (l *scanListener) insertPos(sortKey []byte) int {
	rang := l.q.plan.Range
	return sort.Search(len(l.items), func(i int) bool {
		return !rang.before(l.items[i].sortKey, sortKey)
	})
}

// place evaluates the record of an update against the scan; ok is false when
// it doesn't belong in the result at all.
func (l *scanListener) place(rec *Record) (sortKey []byte, ok bool) {
	if rec == nil {
		return nil, false
	}
	ok, err := l.ts.matches(rec, 0, l.q.filter, l.q.filterSoftDeleted)
	if err != nil {
		l.logErr("scan listener: cannot evaluate filter", rec.Key, err)
		return nil, false
	}
	if !ok {
		return nil, false
	}
	sortKey, err = sortKeyOf(l.q.plan, l.ts.tbl, rec, 0)
	if err != nil {
		l.logErr("scan listener: cannot compute sort key", rec.Key, err)
		return nil, false
	}
	return sortKey, l.q.plan.Range.Contains(sortKey)
}

func (l *scanListener) handle(upd *update) {
	if upd.version < l.floor {
		return
	}
	pos := l.indexOf(upd.key)
	sortKey, ok := l.place(upd.rec)
	switch {
	case pos >= 0 && ok:
		l.move(upd, pos, sortKey)
	case pos >= 0:
		l.remove(upd, pos, l.removalReason(upd))
	case ok:
		l.admit(upd, sortKey)
	}
}

func (l *scanListener) removalReason(upd *update) RemovalReason {
	switch {
	case upd.hardDeleted():
		return RemovedByHardDelete
	case upd.softDeleteFlipped && l.q.filterSoftDeleted && upd.rec.isSoftDeleted(0):
		return RemovedBySoftDelete
	default:
		return NotInRange
	}
}

// remove drops a tracked key; a window that was full gets refilled from the
// table.
func (l *scanListener) remove(upd *update, pos int, reason RemovalReason) {
	wasFull := l.full()
	l.items = slices.Delete(l.items, pos, pos+1)
	l.pump.push(&RemovalUpdate{Version: upd.version, Key: upd.key, Index: pos, Reason: reason})
	if wasFull {
		l.backfill(upd.version)
	}
}

// move repositions a tracked key that still matches. If it moved past the
// end of a full window, an untracked key may now belong before it, so the
// table decides which key takes the last slot.
func (l *scanListener) move(upd *update, pos int, sortKey []byte) {
	old := l.items[pos]
	wasFull := l.full()
	l.items = slices.Delete(l.items, pos, pos+1)
	newPos := l.insertPos(sortKey)

	if wasFull && newPos == len(l.items) && l.q.plan.Range.before(old.sortKey, sortKey) {
		next, ok := l.next()
		if ok && bytes.Equal(next.rec.Key, upd.key) {
			sortKey = next.sortKey
		} else {
			l.pump.push(&RemovalUpdate{Version: upd.version, Key: upd.key, Index: pos, Reason: NotInRange})
			if ok {
				l.append(upd.version, next)
			}
			return
		}
	}

	l.items = slices.Insert(l.items, newPos, trackedKey{key: upd.key, sortKey: sortKey})
	l.pump.push(&ChangeUpdate{
		Version:  upd.version,
		Key:      upd.key,
		Index:    newPos,
		OldIndex: pos,
		Changes:  upd.changes,
	})
}

// admit adds an untracked key that matches. For a bounded ordered scan, a
// changed key is only admitted after a point lookup confirms it still
// matches.
func (l *scanListener) admit(upd *update, sortKey []byte) {
	newPos := l.insertPos(sortKey)
	if l.full() && newPos >= len(l.items) {
		return
	}
	if upd.op != OpAdd && l.q.limit > 0 && l.ordered && !l.revalidate(upd.key) {
		return
	}
	obj, err := l.ts.object(upd.rec, 0)
	if err != nil {
		l.logErr("scan listener: cannot decode", upd.key, err)
		return
	}
	l.items = slices.Insert(l.items, newPos, trackedKey{key: upd.key, sortKey: sortKey})
	l.pump.push(&AdditionUpdate{Version: upd.version, Index: newPos, Object: obj})

	if l.q.limit > 0 && len(l.items) > l.q.limit {
		last := l.items[len(l.items)-1]
		l.items = l.items[:len(l.items)-1]
		l.pump.push(&RemovalUpdate{Version: upd.version, Key: last.key, Index: len(l.items), Reason: NotInRange})
	}
}

func (l *scanListener) revalidate(key []byte) bool {
	l.ts.store.metrics.revalidation(l.ts.tbl.name)
	ok, err := l.ts.matches(l.ts.get(key), 0, l.q.filter, l.q.filterSoftDeleted)
	if err != nil {
		l.logErr("scan listener: point lookup failed", key, err)
		return false
	}
	return ok
}

// next reads the first matching record after the window. It goes through
// the read path only and never waits for the table writer.
func (l *scanListener) next() (scanItem, bool) {
	l.ts.store.metrics.backfill(l.ts.tbl.name)
	q := l.q
	q.limit = 1
	if n := len(l.items); n > 0 {
		q.after = l.items[n-1].sortKey
	}
	found, err := l.ts.scan(q)
	if err != nil {
		l.logErr("scan listener: backfill failed", q.after, err)
		return scanItem{}, false
	}
	if len(found) == 0 {
		return scanItem{}, false
	}
	return found[0], true
}

func (l *scanListener) backfill(version hlc.Version) {
	if next, ok := l.next(); ok {
		l.append(version, next)
	}
}

func (l *scanListener) append(version hlc.Version, it scanItem) {
	if l.indexOf(it.rec.Key) >= 0 {
		return
	}
	obj, err := l.ts.object(it.rec, 0)
	if err != nil {
		l.logErr("scan listener: cannot decode", it.rec.Key, err)
		return
	}
	l.items = append(l.items, trackedKey{key: it.rec.Key, sortKey: it.sortKey})
	l.pump.push(&AdditionUpdate{Version: version, Index: len(l.items) - 1, Object: obj})
	if l.ts.store.verbose {
		l.ts.logger.LogAttrs(context.Background(), slog.LevelDebug, "backfill", hexAttr("key", it.rec.Key), slog.Int("index", len(l.items)-1))
	}
}
