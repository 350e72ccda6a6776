package vdb

import (
	"fmt"
	"strings"
)

// Schema is the arena of named models and tables. Models refer to each other
// by name, so a model may embed itself; names are resolved at use time.
type Schema struct {
	models            map[string]*Model
	tables            []*Table
	tablesByLowerName map[string]*Table
}

func NewSchema() *Schema {
	return &Schema{
		models:            make(map[string]*Model),
		tablesByLowerName: make(map[string]*Table),
	}
}

func (scm *Schema) Tables() []*Table {
	return append([]*Table(nil), scm.tables...)
}

func (scm *Schema) TableNamed(name string) *Table {
	return scm.tablesByLowerName[strings.ToLower(name)]
}

// Model returns the model with the given name, or nil.
func (scm *Schema) Model(name string) *Model {
	return scm.models[name]
}

func (scm *Schema) mustModel(name string) *Model {
	m := scm.models[name]
	if m == nil {
		panic(fmt.Errorf("model %q is not defined", name))
	}
	return m
}

// AddModel defines a model. Property indices must be unique and non-zero.
func (scm *Schema) AddModel(name string, props ...*Property) *Model {
	if scm.models[name] != nil {
		panic(fmt.Errorf("model %q already defined", name))
	}
	m := &Model{
		name:    name,
		props:   props,
		byIndex: make(map[uint16]*Property, len(props)),
	}
	for _, p := range props {
		if p.index == softDeleteIndex {
			panic(fmt.Errorf("%s.%s: property index 0 is reserved", name, p.name))
		}
		if m.byIndex[p.index] != nil {
			panic(fmt.Errorf("%s: duplicate property index %d", name, p.index))
		}
		p.validateDefinition(name)
		m.byIndex[p.index] = p
	}
	scm.models[name] = m
	return m
}

// AddTable registers a table. The table's model, key refs and indices are
// checked against the schema.
func (scm *Schema) AddTable(tbl *Table) *Table {
	if scm.tablesByLowerName[strings.ToLower(tbl.name)] != nil {
		panic(fmt.Errorf("table %q already defined", tbl.name))
	}
	tbl.schema = scm
	tbl.model = scm.mustModel(tbl.modelName)
	tbl.pos = len(scm.tables)
	for _, ref := range tbl.keyRefs {
		rr, err := resolveRef(scm, tbl.model, ref)
		if err != nil {
			panic(fmt.Errorf("%s: key ref %v: %w", tbl.name, ref, err))
		}
		if rr.kind != refProperty || rr.prop.kind != KindValue || len(ref) != refIndexSize {
			panic(fmt.Errorf("%s: key ref %v must be a top-level value property", tbl.name, ref))
		}
		if !rr.prop.required || !rr.prop.final {
			panic(fmt.Errorf("%s: key property %s must be required and final", tbl.name, rr.prop.name))
		}
		tbl.keyProps = append(tbl.keyProps, rr.prop)
	}
	for _, idx := range tbl.indices {
		idx.table = tbl
		for i, col := range idx.columns {
			rr, err := resolveRef(scm, tbl.model, col.Ref)
			if err != nil {
				panic(fmt.Errorf("%s: column %v: %w", idx.FullName(), col.Ref, err))
			}
			if rr.valueType == TypeNone {
				panic(fmt.Errorf("%s: column %v does not hold a scalar value", idx.FullName(), col.Ref))
			}
			idx.columns[i].typ = rr.valueType
		}
	}
	scm.tables = append(scm.tables, tbl)
	scm.tablesByLowerName[strings.ToLower(tbl.name)] = tbl
	return tbl
}
