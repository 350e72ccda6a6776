package vdb

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
)

const (
	debugLogRawScans = false
)

// ScanRange defines a range of byte strings. Bounds are compared as
// prefixes: a key starting with an inclusive bound is inside the range, a key
// starting with an exclusive bound is outside. The constructors use
// mnemonics: O means open, I means inclusive, E means exclusive; the first
// letter is for the lower bound, the second for the upper bound.
type ScanRange struct {
	Lower    []byte
	Upper    []byte
	LowerInc bool
	UpperInc bool
	Reverse  bool
}

func RangeOO() ScanRange            { return ScanRange{} }
func RangeIO(l []byte) ScanRange    { return ScanRange{Lower: l, LowerInc: true} }
func RangeEO(l []byte) ScanRange    { return ScanRange{Lower: l} }
func RangeOI(u []byte) ScanRange    { return ScanRange{Upper: u, UpperInc: true} }
func RangeOE(u []byte) ScanRange    { return ScanRange{Upper: u} }
func RangeII(l, u []byte) ScanRange { return ScanRange{Lower: l, Upper: u, LowerInc: true, UpperInc: true} }
func RangeIE(l, u []byte) ScanRange { return ScanRange{Lower: l, Upper: u, LowerInc: true} }
func RangeEI(l, u []byte) ScanRange { return ScanRange{Lower: l, Upper: u, UpperInc: true} }
func RangeEE(l, u []byte) ScanRange { return ScanRange{Lower: l, Upper: u} }

// RangePrefix matches every key starting with p.
func RangePrefix(p []byte) ScanRange { return RangeII(p, p) }

func (rang ScanRange) Reversed() ScanRange { rang.Reverse = !rang.Reverse; return rang }

func (rang ScanRange) String() string {
	lb, ub := "(", ")"
	if rang.LowerInc {
		lb = "["
	}
	if rang.UpperInc {
		ub = "]"
	}
	s := fmt.Sprintf("%s%s, %s%s", lb, hexstr(rang.Lower), hexstr(rang.Upper), ub)
	if rang.Reverse {
		s += " reversed"
	}
	return s
}

// After narrows the range to keys strictly after k in scan direction.
func (rang ScanRange) After(k []byte) ScanRange {
	if k == nil {
		return rang
	}
	if rang.Reverse {
		if rang.Upper == nil || comparePrefix(k, rang.Upper) <= 0 {
			rang.Upper, rang.UpperInc = k, false
		}
	} else {
		if rang.Lower == nil || comparePrefix(k, rang.Lower) >= 0 {
			rang.Lower, rang.LowerInc = k, false
		}
	}
	return rang
}

// Contains reports whether k is inside both bounds.
func (rang ScanRange) Contains(k []byte) bool {
	return rang.aboveLower(k) && rang.belowUpper(k)
}

func (rang ScanRange) aboveLower(k []byte) bool {
	if rang.Lower == nil {
		return true
	}
	cmp := comparePrefix(k, rang.Lower)
	return cmp > 0 || (cmp == 0 && rang.LowerInc)
}

func (rang ScanRange) belowUpper(k []byte) bool {
	if rang.Upper == nil {
		return true
	}
	cmp := comparePrefix(k, rang.Upper)
	return cmp < 0 || (cmp == 0 && rang.UpperInc)
}

// before reports whether a sorts before b in scan direction.
func (rang ScanRange) before(a, b []byte) bool {
	c := bytes.Compare(a, b)
	if rang.Reverse {
		return c > 0
	}
	return c < 0
}

func rangeStart[V any](r *ScanRange, cur *memCursor[V], logger *slog.Logger) []byte {
	var k []byte
	if r.Reverse {
		switch {
		case r.Upper == nil:
			k = cur.Last()
		case r.UpperInc:
			k = cur.SeekLast(r.Upper)
		default:
			k = cur.SeekBefore(r.Upper)
		}
	} else {
		switch {
		case r.Lower == nil:
			k = cur.First()
		case r.LowerInc:
			k = cur.Seek(r.Lower)
		default:
			k = cur.SeekPast(r.Lower)
		}
	}
	if debugLogRawScans {
		logger.LogAttrs(context.Background(), slog.LevelDebug, "SEEK", slog.String("range", r.String()), hexAttr("key", k))
	}
	if k != nil && r.match(k, logger) {
		return k
	}
	return nil
}

// match checks the bound opposite to the scan start.
func (r *ScanRange) match(k []byte, logger *slog.Logger) bool {
	var ok bool
	if r.Reverse {
		ok = r.aboveLower(k)
	} else {
		ok = r.belowUpper(k)
	}
	if !ok && debugLogRawScans {
		logger.LogAttrs(context.Background(), slog.LevelDebug, "BAIL", slog.String("range", r.String()), hexAttr("key", k))
	}
	return ok
}

// rangeCursor walks the keys of a bucket inside a range.
type rangeCursor[V any] struct {
	rang   ScanRange
	cur    *memCursor[V]
	logger *slog.Logger
	k      []byte
	init   bool
}

func newRangeCursor[V any](b *memBucket[V], rang ScanRange, logger *slog.Logger) *rangeCursor[V] {
	return &rangeCursor[V]{rang: rang, cur: b.Cursor(), logger: logger}
}

func (c *rangeCursor[V]) Next() bool {
	if !c.init {
		c.init = true
		c.k = rangeStart(&c.rang, c.cur, c.logger)
		return c.k != nil
	}
	if c.k == nil {
		return false
	}
	if c.rang.Reverse {
		c.k = c.cur.Prev()
	} else {
		c.k = c.cur.Next()
	}
	if c.k != nil && !c.rang.match(c.k, c.logger) {
		c.k = nil
	}
	return c.k != nil
}

func (c *rangeCursor[V]) Key() []byte { return c.k }
func (c *rangeCursor[V]) Value() V    { return c.cur.Value() }
