package vdb

import (
	"encoding/json"
	"fmt"
	"strings"
)

type DumpFlags uint64

const (
	DumpTableHeaders = DumpFlags(1 << iota)
	DumpRows
	DumpStats
	DumpIndices
	DumpIndexRows
	DumpNodes

	DumpAll = DumpFlags(0xFFFFFFFFFFFFFFFF)
)

var (
	dumpSep1 = strings.Repeat("=", 80)
	dumpSep2 = strings.Repeat("-", 60)
)

func (f DumpFlags) Contains(v DumpFlags) bool {
	return (f & v) == v
}

// Dump renders the current contents of every table for debugging.
func (s *Store) Dump(f DumpFlags) string {
	var buf strings.Builder
	for _, ts := range s.tables {
		ts.dump(&buf, f)
	}
	return buf.String()
}

func (ts *tableState) dump(w *strings.Builder, f DumpFlags) {
	tbl := ts.tbl
	prefix := tbl.name
	ts.mu.RLock()
	defer ts.mu.RUnlock()
	stats := ts.statsLocked()

	if f.Contains(DumpTableHeaders) {
		fmt.Fprintln(w, dumpSep1)
		fmt.Fprintf(w, "%s (%d records)\n", prefix, stats.Records)
	}
	if f.Contains(DumpStats) {
		fmt.Fprintf(w, "%s.stats: records = %d, tombstones = %d, nodes = %d, index_rows = %d, last_version = %d\n", prefix, stats.Records, stats.Tombstones, stats.Nodes, stats.IndexRows, stats.LastVersion)
	}

	if f.Contains(DumpRows) {
		if f.Contains(DumpStats) {
			fmt.Fprintln(w, dumpSep2)
		}
		for i, kv := range ts.records.items {
			ts.dumpRecord(w, prefix, f, i+1, kv.value)
		}
	}

	if f.Contains(DumpIndices) {
		for _, idx := range tbl.indices {
			fmt.Fprintln(w, dumpSep2)
			iprefix := prefix + ".i." + idx.ShortName()
			b := ts.indexBuckets[idx.pos]
			fmt.Fprintf(w, "%s (%d rows)\n", iprefix, b.Len())
			if f.Contains(DumpIndexRows) {
				for i, kv := range b.items {
					fmt.Fprintf(w, "%s.%d: %x => %x\n", iprefix, i+1, kv.key, kv.value)
				}
			}
		}
	}
}

func (ts *tableState) dumpRecord(w *strings.Builder, prefix string, f DumpFlags, pos int, rec *Record) {
	head := fmt.Sprintf("%s.%d %x (v%d..v%d", prefix, pos, rec.Key, rec.FirstVersion, rec.LastVersion)
	if rec.HardDeleted != 0 {
		head += fmt.Sprintf(" deleted v%d", rec.HardDeleted)
	}
	head += ")"

	if rec.HardDeleted != 0 {
		fmt.Fprintf(w, "%s\n", head)
	} else if ts.tbl.suppressContent {
		fmt.Fprintf(w, "%s = <suppressed>\n", head)
	} else {
		r := recordReader{tbl: ts.tbl, rec: rec}
		vals, err := r.readObject(ts.tbl.model, nil)
		if err != nil {
			fmt.Fprintf(w, "%s = ** ERROR: %v\n", head, err)
		} else {
			fmt.Fprintf(w, "%s = %s\n", head, loggableValues(ts.tbl.schema, ts.tbl.model, vals))
		}
	}

	if f.Contains(DumpNodes) {
		for _, n := range rec.nodes {
			switch n := n.(type) {
			case *valueNode:
				fmt.Fprintf(w, "  %v v%d: %x\n", n.ref, n.version, n.value)
			case *deletedNode:
				fmt.Fprintf(w, "  %v v%d: deleted\n", n.ref, n.version)
			case *historicNode:
				for _, e := range n.history {
					if e.deleted {
						fmt.Fprintf(w, "  %v v%d: deleted\n", n.ref, e.version)
					} else {
						fmt.Fprintf(w, "  %v v%d: %x\n", n.ref, e.version, e.value)
					}
				}
			}
		}
	}
}

// loggableValues renders values as JSON keyed by property name.
func loggableValues(scm *Schema, model *Model, vals Values) string {
	data, err := json.Marshal(jsonable(scm, model, vals))
	if err != nil {
		return fmt.Sprintf("** ERROR: %v", err)
	}
	return string(data)
}

func jsonable(scm *Schema, model *Model, v any) any {
	switch v := v.(type) {
	case Values:
		out := make(map[string]any, len(v))
		for idx, pv := range v {
			name := fmt.Sprint(idx)
			var sub *Model
			if model != nil {
				if p := model.Property(idx); p != nil {
					name = p.name
					if p.model != "" {
						sub = scm.Model(p.model)
					}
				}
			}
			out[name] = jsonable(scm, sub, pv)
		}
		return out
	case map[any]any:
		out := make(map[string]any, len(v))
		for k, mv := range v {
			out[fmt.Sprint(k)] = jsonable(scm, model, mv)
		}
		return out
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = jsonable(scm, model, item)
		}
		return out
	case TypedValue:
		return map[string]any{"type": v.Type, "value": jsonable(scm, model, v.Value)}
	default:
		return v
	}
}
