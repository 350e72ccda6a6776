package vdb

import (
	"bytes"
	"slices"
	"sort"

	"github.com/andreyvit/vdb/hlc"
)

// node is one of valueNode, historicNode, deletedNode. Nodes are immutable;
// changers replace them.
type node interface {
	nodeRef() Ref
	latestVersion() hlc.Version
}

type valueNode struct {
	ref     Ref
	value   []byte
	version hlc.Version
}

type historicEntry struct {
	version hlc.Version
	value   []byte
	deleted bool
}

// historicNode keeps every value a ref had, oldest first.
type historicNode struct {
	ref     Ref
	history []historicEntry
}

type deletedNode struct {
	ref     Ref
	version hlc.Version
}

func (n *valueNode) nodeRef() Ref    { return n.ref }
func (n *historicNode) nodeRef() Ref { return n.ref }
func (n *deletedNode) nodeRef() Ref  { return n.ref }

func (n *valueNode) latestVersion() hlc.Version { return n.version }
func (n *historicNode) latestVersion() hlc.Version {
	return n.history[len(n.history)-1].version
}
func (n *deletedNode) latestVersion() hlc.Version { return n.version }

// current returns the live value of a node, or nil.
func current(n node) []byte {
	switch n := n.(type) {
	case *valueNode:
		return n.value
	case *historicNode:
		last := n.history[len(n.history)-1]
		if last.deleted {
			return nil
		}
		return last.value
	case *deletedNode:
		return nil
	default:
		panic(typeErrf("unexpected node %T", n))
	}
}

// valueAt returns the value a node had at version v, or nil.
func valueAt(n node, v hlc.Version) []byte {
	switch n := n.(type) {
	case *valueNode:
		if n.version > v {
			return nil
		}
		return n.value
	case *historicNode:
		for i := len(n.history) - 1; i >= 0; i-- {
			e := n.history[i]
			if e.version <= v {
				if e.deleted {
					return nil
				}
				return e.value
			}
		}
		return nil
	case *deletedNode:
		return nil
	default:
		panic(typeErrf("unexpected node %T", n))
	}
}

// Record holds one object as nodes sorted by ref. A committed Record is never
// modified; writers work on a clone.
type Record struct {
	Key          []byte
	FirstVersion hlc.Version
	LastVersion  hlc.Version
	HardDeleted  hlc.Version // set when a history-keeping table tombstones the record

	nodes []node
}

func newRecord(key []byte, version hlc.Version) *Record {
	return &Record{Key: key, FirstVersion: version, LastVersion: version}
}

func (rec *Record) clone() *Record {
	out := *rec
	out.nodes = slices.Clone(rec.nodes)
	return &out
}

// existsAt reports whether the record is visible at version v; zero means
// the latest version.
func (rec *Record) existsAt(v hlc.Version) bool {
	if v == 0 {
		return rec.HardDeleted == 0
	}
	if rec.FirstVersion > v {
		return false
	}
	return rec.HardDeleted == 0 || rec.HardDeleted > v
}

func (rec *Record) find(ref Ref) (int, bool) {
	nodes := rec.nodes
	i := sort.Search(len(nodes), func(i int) bool {
		return bytes.Compare(nodes[i].nodeRef(), ref) >= 0
	})
	return i, i < len(nodes) && bytes.Equal(nodes[i].nodeRef(), ref)
}

// read returns the stored bytes at ref as of version v (zero for latest).
func (rec *Record) read(ref Ref, v hlc.Version) []byte {
	i, ok := rec.find(ref)
	if !ok {
		return nil
	}
	if v == 0 {
		return current(rec.nodes[i])
	}
	return valueAt(rec.nodes[i], v)
}

// prefixBlock returns the index range [start, end) of nodes whose refs start
// with prefix.
func (rec *Record) prefixBlock(prefix Ref) (int, int) {
	start, _ := rec.find(prefix)
	end := start
	for end < len(rec.nodes) && rec.nodes[end].nodeRef().HasPrefix(prefix) {
		end++
	}
	return start, end
}

func (rec *Record) isSoftDeleted(v hlc.Version) bool {
	b := rec.read(SoftDeleteRef, v)
	if b == nil {
		return false
	}
	sv, err := decodeStored(b)
	if err != nil {
		return false
	}
	deleted, _ := sv.scalar.(bool)
	return deleted
}

// versions returns the distinct versions recorded in the record within
// (from, to], ascending. Zero to means no upper bound.
func (rec *Record) versions(from, to hlc.Version) []hlc.Version {
	var out []hlc.Version
	add := func(v hlc.Version) {
		if v > from && (to == 0 || v <= to) {
			out = append(out, v)
		}
	}
	for _, n := range rec.nodes {
		switch n := n.(type) {
		case *valueNode:
			add(n.version)
		case *historicNode:
			for _, e := range n.history {
				add(e.version)
			}
		case *deletedNode:
			add(n.version)
		}
	}
	add(rec.FirstVersion)
	if rec.HardDeleted != 0 {
		add(rec.HardDeleted)
	}
	slices.Sort(out)
	return slices.Compact(out)
}

// touchedAt returns the distinct top-level refs that have an entry exactly
// at version v.
func (rec *Record) touchedAt(v hlc.Version) []Ref {
	var out []Ref
	for _, n := range rec.nodes {
		hit := false
		switch n := n.(type) {
		case *valueNode:
			hit = n.version == v
		case *historicNode:
			for _, e := range n.history {
				if e.version == v {
					hit = true
					break
				}
			}
		case *deletedNode:
			hit = n.version == v
		}
		if !hit {
			continue
		}
		top := n.nodeRef().topLevel()
		if len(out) == 0 || !out[len(out)-1].Equal(top) {
			out = append(out, top)
		}
	}
	return out
}

// touchedSince returns the distinct top-level refs changed after version v.
func (rec *Record) touchedSince(v hlc.Version) []Ref {
	var out []Ref
	for _, n := range rec.nodes {
		if n.latestVersion() <= v {
			continue
		}
		top := n.nodeRef().topLevel()
		if len(out) == 0 || !out[len(out)-1].Equal(top) {
			out = append(out, top)
		}
	}
	return out
}
