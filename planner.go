package vdb

import (
	"bytes"
	"fmt"
	"slices"
)

type ScanKind int

const (
	TableScan ScanKind = iota
	IndexScan
)

func (k ScanKind) String() string {
	if k == IndexScan {
		return "index"
	}
	return "table"
}

// ScanPlan says how to read a table: which bucket to walk and which part of
// it.
type ScanPlan struct {
	Kind  ScanKind
	Index *Index // for IndexScan
	Range ScanRange
	Score int
}

func (p ScanPlan) String() string {
	if p.Kind == IndexScan {
		return fmt.Sprintf("index scan %s %v", p.Index.FullName(), p.Range)
	}
	return fmt.Sprintf("table scan %v", p.Range)
}

type scanCandidate struct {
	kind  ScanKind
	index *Index
	cols  []IndexColumn
}

func (c scanCandidate) name() string {
	if c.kind == IndexScan {
		return c.index.name
	}
	return "primary key"
}

func (tbl *Table) keyColumns() []IndexColumn {
	cols := make([]IndexColumn, len(tbl.keyRefs))
	for i, ref := range tbl.keyRefs {
		cols[i] = IndexColumn{Ref: ref, typ: tbl.keyProps[i].typ}
	}
	return cols
}

func (tbl *Table) scanCandidates() []scanCandidate {
	cands := make([]scanCandidate, 0, 1+len(tbl.indices))
	cands = append(cands, scanCandidate{kind: TableScan, cols: tbl.keyColumns()})
	for _, idx := range tbl.indices {
		cands = append(cands, scanCandidate{kind: IndexScan, index: idx, cols: idx.columns})
	}
	return cands
}

// planScan picks between a table scan and an index scan. With an ordering,
// only candidates whose column order can produce it are considered. The
// index whose range the filter narrows most wins; when several indices share
// the best score the table scan is used instead, if the ordering allows it.
func planScan(tbl *Table, filter Filter, orders Orders) (ScanPlan, error) {
	cons := filterConstraints(filter)
	var best, table *ScanPlan
	var tied bool
	var lastErr error
	for _, cand := range tbl.scanCandidates() {
		var reverse bool
		if len(orders) > 0 {
			var err error
			reverse, err = orderToScanType(tbl, cand, orders, cons)
			if err != nil {
				lastErr = err
				continue
			}
		}
		rang, score := narrowRange(cand, cons)
		rang.Reverse = reverse
		plan := &ScanPlan{Kind: cand.kind, Index: cand.index, Range: rang, Score: score}
		if cand.kind == TableScan {
			table = plan
		}
		switch {
		case best == nil || score > best.Score:
			best, tied = plan, false
		case score == best.Score && best.Kind == IndexScan:
			tied = true
		}
	}
	if best == nil {
		return ScanPlan{}, requestErrf(tbl.name, ErrNoFittingIndex, "order %v: %v", orders, lastErr)
	}
	if tied && table != nil {
		return *table, nil
	}
	return *best, nil
}

// orderToScanType walks the candidate's columns in lock-step with the
// requested order. Columns pinned by an equality may be skipped on either
// side. It returns whether the candidate must be walked backwards.
func orderToScanType(tbl *Table, cand scanCandidate, orders Orders, cons map[string]*constraint) (bool, error) {
	pinned := func(ref Ref) bool {
		c := cons[string(ref)]
		return c != nil && c.isEqual
	}
	var reverse, decided bool
	i, j := 0, 0
	for j < len(orders) {
		o := orders[j]
		if i >= len(cand.cols) || (o.isKey() && cand.kind == TableScan) {
			// entries end with the primary key
			if !o.isKey() {
				if pinned(o.Ref) {
					j++
					continue
				}
				return false, requestErrf(tbl.name, nil, "%s: ran out of columns before %v", cand.name(), o)
			}
			rev := o.Direction != Ascending
			if decided && rev != reverse {
				return false, requestErrf(tbl.name, nil, "%s: %v goes against the other columns", cand.name(), o)
			}
			reverse, decided = rev, true
			if j != len(orders)-1 {
				return false, requestErrf(tbl.name, nil, "%s: nothing can follow the key in an order", cand.name())
			}
			return reverse, nil
		}
		col := cand.cols[i]
		if bytes.Equal(col.Ref, o.Ref) {
			natural := Ascending
			if col.Reversed {
				natural = natural.flip()
			}
			rev := o.Direction != natural
			if decided && rev != reverse {
				return false, requestErrf(tbl.name, nil, "%s: %v goes against the other columns", cand.name(), o)
			}
			reverse, decided = rev, true
			i++
			j++
			continue
		}
		if pinned(col.Ref) {
			i++
			continue
		}
		if !o.isKey() && pinned(o.Ref) {
			j++
			continue
		}
		return false, requestErrf(tbl.name, nil, "%s: column %v does not match %v", cand.name(), col.Ref, o)
	}
	return reverse, nil
}

// narrowRange turns equality constraints on leading columns, plus at most
// one range constraint on the next column, into a byte range. The score is
// the combined length of both bounds.
func narrowRange(cand scanCandidate, cons map[string]*constraint) (ScanRange, int) {
	key := cand.kind == TableScan
	var prefix []byte
	for _, col := range cand.cols {
		c := cons[string(col.Ref)]
		if c == nil {
			break
		}
		if c.isEqual {
			prefix = appendBound(prefix, c.eq, col.Reversed, key)
			continue
		}
		if c.lo == nil && c.hi == nil {
			break
		}
		lo, loInc := boundOrPresent(prefix, c.lo, c.loInc, col.Reversed, key)
		hi, hiInc := boundOrPresent(prefix, c.hi, c.hiInc, col.Reversed, key)
		if col.Reversed {
			lo, hi = hi, lo
			loInc, hiInc = hiInc, loInc
		}
		rang := ScanRange{Lower: nilIfEmpty(lo), Upper: nilIfEmpty(hi), LowerInc: loInc, UpperInc: hiInc}
		return rang, len(lo) + len(hi)
	}
	if len(prefix) == 0 {
		return RangeOO(), 0
	}
	return RangePrefix(prefix), 2 * len(prefix)
}

func appendBound(prefix []byte, v any, reversed, key bool) []byte {
	b := slices.Clip(prefix)
	if key {
		return appendOrdered(b, v)
	}
	return appendColumn(b, v, reversed)
}

// boundOrPresent returns the bound for v, or for a missing v the bound that
// only excludes null column values.
func boundOrPresent(prefix []byte, v any, inc, reversed, key bool) ([]byte, bool) {
	if v != nil {
		return appendBound(prefix, v, reversed, key), inc
	}
	b := slices.Clip(prefix)
	if key {
		return b, true
	}
	if reversed {
		return append(b, ^byte(columnPresent)), true
	}
	return append(b, columnPresent), true
}

func nilIfEmpty(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	return b
}
