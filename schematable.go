package vdb

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

type Table struct {
	schema          *Schema
	name            string
	pos             int // index in schema.tables
	modelName       string
	model           *Model
	keyRefs         []Ref
	keyProps        []*Property
	indices         []*Index
	indicesByName   map[string]*Index
	keepHistory     bool
	suppressContent bool
}

type tableOpt int

const (
	// KeepHistory retains every value of every ref, enabling ToVersion reads
	// and multi-version change queries.
	KeepHistory = tableOpt(1)

	SuppressContentWhenLogging = tableOpt(2)
)

// KeyRefs lists the top-level properties that make up the primary key. A
// table without KeyRefs gets random UUID keys.
type KeyRefs []Ref

// NewTable declares a table of objects of the named model. Register it with
// Schema.AddTable.
func NewTable(name string, model string, indices []*Index, opts ...any) *Table {
	tbl := &Table{
		name:          name,
		modelName:     model,
		indicesByName: make(map[string]*Index),
	}
	for _, opt := range opts {
		switch opt := opt.(type) {
		case tableOpt:
			switch opt {
			case KeepHistory:
				tbl.keepHistory = true
			case SuppressContentWhenLogging:
				tbl.suppressContent = true
			default:
				panic(fmt.Errorf("invalid option %T %v", opt, opt))
			}
		case KeyRefs:
			tbl.keyRefs = opt
		default:
			panic(fmt.Errorf("invalid option %T %v", opt, opt))
		}
	}
	for _, idx := range indices {
		tbl.addIndex(idx)
	}
	return tbl
}

func (tbl *Table) addIndex(idx *Index) {
	if idx.table != nil {
		panic(fmt.Errorf("index %s already added to table %s", idx.name, idx.table.name))
	}
	lower := strings.ToLower(idx.name)
	if tbl.indicesByName[lower] != nil {
		panic(fmt.Errorf("table %s already has index %s", tbl.name, idx.name))
	}
	idx.table = tbl
	idx.pos = len(tbl.indices)
	tbl.indices = append(tbl.indices, idx)
	tbl.indicesByName[lower] = idx
}

func (tbl *Table) Name() string {
	return tbl.name
}

func (tbl *Table) Model() *Model {
	return tbl.model
}

func (tbl *Table) Indices() []*Index {
	return tbl.indices
}

func (tbl *Table) IndexNamed(name string) *Index {
	return tbl.indicesByName[strings.ToLower(name)]
}

func (tbl *Table) KeepsHistory() bool {
	return tbl.keepHistory
}

func (tbl *Table) usesRandomKeys() bool {
	return len(tbl.keyRefs) == 0
}

// Key builds a primary key from key property values, in KeyRefs order.
func (tbl *Table) Key(vals ...any) ([]byte, error) {
	if tbl.usesRandomKeys() {
		return nil, fmt.Errorf("%s: table uses random keys", tbl.name)
	}
	if len(vals) != len(tbl.keyProps) {
		return nil, fmt.Errorf("%s: key has %d parts, got %d", tbl.name, len(tbl.keyProps), len(vals))
	}
	var key []byte
	for i, p := range tbl.keyProps {
		nv, err := normalizeScalar(p.typ, vals[i])
		if err != nil {
			return nil, fmt.Errorf("%s: key part %s: %w", tbl.name, p.name, err)
		}
		key = appendOrdered(key, nv)
	}
	return key, nil
}

// MustKey is Key that panics.
func (tbl *Table) MustKey(vals ...any) []byte {
	return must(tbl.Key(vals...))
}

// keyOf computes the primary key of a new object.
func (tbl *Table) keyOf(vals Values) ([]byte, error) {
	if tbl.usesRandomKeys() {
		id := uuid.New()
		return id[:], nil
	}
	parts := make([]any, len(tbl.keyProps))
	for i, p := range tbl.keyProps {
		v := vals[p.index]
		if v == nil {
			return nil, validationErrf(tbl.name, nil, tbl.keyRefs[i], "key property %s is required", p.name)
		}
		parts[i] = v
	}
	key, err := tbl.Key(parts...)
	if err != nil {
		return nil, validationErrf(tbl.name, nil, nil, "%v", err)
	}
	return key, nil
}

// decodeKey splits a primary key into its parts.
func (tbl *Table) decodeKey(key []byte) ([]any, error) {
	if tbl.usesRandomKeys() {
		return []any{key}, nil
	}
	parts := make([]any, len(tbl.keyProps))
	rest := key
	for i, p := range tbl.keyProps {
		var err error
		parts[i], rest, err = decodeOrdered(p.typ, rest)
		if err != nil {
			return nil, err
		}
	}
	if len(rest) != 0 {
		return nil, dataErrf(key, len(key)-len(rest), nil, "trailing bytes after key")
	}
	return parts, nil
}
