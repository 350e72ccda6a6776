package vdb

import (
	"fmt"
	"strings"
)

// Index is a secondary index over one or more scalar refs. Index keys
// are the concatenated column encodings followed by the primary key, so
// non-unique indices still have distinct entries.
type Index struct {
	table   *Table
	pos     int
	name    string
	columns []IndexColumn
	opts    IndexOpt
}

// IndexColumn is one column of an index. A reversed column sorts
// descending.
type IndexColumn struct {
	Ref      Ref
	Reversed bool

	typ ValueType
}

func Asc(ref Ref) IndexColumn  { return IndexColumn{Ref: ref} }
func Desc(ref Ref) IndexColumn { return IndexColumn{Ref: ref, Reversed: true} }

// IndexOpt flags can be combined with |.
type IndexOpt uint8

const (
	// IndexOptUnique rejects two live records with the same column values.
	IndexOptUnique IndexOpt = 1 << iota
	// IndexOptDebugScans logs every scan planned over the index.
	IndexOptDebugScans
)

func NewIndex(name string, columns []IndexColumn, opts ...IndexOpt) *Index {
	if len(columns) == 0 {
		panic(fmt.Errorf("index %q has no columns", name))
	}
	idx := &Index{name: name, columns: append([]IndexColumn(nil), columns...)}
	for _, o := range opts {
		if o&^(IndexOptUnique|IndexOptDebugScans) != 0 {
			panic(fmt.Errorf("index %q: unknown option %#x", name, uint8(o)))
		}
		idx.opts |= o
	}
	return idx
}

func (idx *Index) Table() *Table { return idx.table }
func (idx *Index) ShortName() string { return idx.name }
func (idx *Index) Columns() []IndexColumn { return idx.columns }
func (idx *Index) IsUnique() bool { return idx.opts&IndexOptUnique != 0 }

func (idx *Index) debugScans() bool { return idx.opts&IndexOptDebugScans != 0 }

// FullName is table.index; the index must already belong to a table.
func (idx *Index) FullName() string {
	if idx.table == nil {
		panic(fmt.Errorf("index %q was not added to a table", idx.name))
	}
	return idx.table.name + "." + idx.name
}

func (idx *Index) String() string {
	if idx.table == nil {
		return idx.name
	}
	var sb strings.Builder
	sb.WriteString(idx.FullName())
	sb.WriteByte('(')
	for i, col := range idx.columns {
		if i > 0 {
			sb.WriteString(", ")
		}
		fmt.Fprint(&sb, col.Ref)
		if col.Reversed {
			sb.WriteString(" desc")
		}
	}
	sb.WriteByte(')')
	return sb.String()
}
