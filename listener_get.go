package vdb

import (
	"bytes"
	"context"
	"log/slog"
	"slices"

	"github.com/andreyvit/vdb/hlc"
)

// getListener tracks a fixed set of keys. The window holds the keys that
// currently exist and pass the filter, sorted bytewise.
type getListener struct {
	ts                *tableState
	pump              *pump
	wanted            map[string]bool
	keys              [][]byte
	floor             hlc.Version
	filter            Filter
	filterSoftDeleted bool
}

func (l *getListener) stop() {
	l.pump.stop()
}

func (l *getListener) visible(rec *Record) bool {
	ok, err := l.ts.matches(rec, 0, l.filter, l.filterSoftDeleted)
	if err != nil {
		l.ts.logger.LogAttrs(context.Background(), slog.LevelError, "get listener: cannot evaluate filter", hexAttr("key", rec.Key), slog.Any("err", err))
		return false
	}
	return ok
}

func (l *getListener) handle(upd *update) {
	if upd.version < l.floor || !l.wanted[string(upd.key)] {
		return
	}
	pos, tracked := slices.BinarySearchFunc(l.keys, upd.key, bytes.Compare)
	present := l.visible(upd.rec)

	switch {
	case tracked && present:
		l.pump.push(&ChangeUpdate{
			Version:  upd.version,
			Key:      upd.key,
			Index:    pos,
			OldIndex: pos,
			Changes:  upd.changes,
		})

	case tracked && !present:
		l.keys = slices.Delete(l.keys, pos, pos+1)
		reason := NotInRange
		switch {
		case upd.hardDeleted():
			reason = RemovedByHardDelete
		case upd.softDeleteFlipped && l.filterSoftDeleted && upd.rec.isSoftDeleted(0):
			reason = RemovedBySoftDelete
		}
		l.pump.push(&RemovalUpdate{Version: upd.version, Key: upd.key, Index: pos, Reason: reason})

	case !tracked && present:
		obj, err := l.ts.object(upd.rec, 0)
		if err != nil {
			l.ts.logger.LogAttrs(context.Background(), slog.LevelError, "get listener: cannot decode", hexAttr("key", upd.key), slog.Any("err", err))
			return
		}
		l.keys = slices.Insert(l.keys, pos, upd.key)
		l.pump.push(&AdditionUpdate{Version: upd.version, Index: pos, Object: obj})
	}
}
