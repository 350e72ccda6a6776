package vdb

import (
	"fmt"
	"sort"
)

type Kind int

const (
	KindValue Kind = iota
	KindList
	KindSet
	KindMap
	KindEmbed
	KindMultiType
)

func (k Kind) String() string {
	switch k {
	case KindValue:
		return "value"
	case KindList:
		return "list"
	case KindSet:
		return "set"
	case KindMap:
		return "map"
	case KindEmbed:
		return "embed"
	case KindMultiType:
		return "multitype"
	default:
		return fmt.Sprintf("invalid kind %d", int(k))
	}
}

func (k Kind) isContainer() bool {
	return k == KindList || k == KindSet || k == KindMap
}

type ValueType int

const (
	TypeNone ValueType = iota
	TypeBool
	TypeInt
	TypeFloat
	TypeString
	TypeBytes
)

func (t ValueType) String() string {
	switch t {
	case TypeNone:
		return "none"
	case TypeBool:
		return "bool"
	case TypeInt:
		return "int"
	case TypeFloat:
		return "float"
	case TypeString:
		return "string"
	case TypeBytes:
		return "bytes"
	default:
		return fmt.Sprintf("invalid type %d", int(t))
	}
}

// Model is a named list of properties.
type Model struct {
	name    string
	props   []*Property
	byIndex map[uint16]*Property
}

func (m *Model) Name() string {
	return m.name
}

func (m *Model) Property(index uint16) *Property {
	return m.byIndex[index]
}

func (m *Model) Properties() []*Property {
	return append([]*Property(nil), m.props...)
}

// Property defines one property of a model. Build with Value, List, Set, Map,
// Embed or MultiType and chain modifiers.
type Property struct {
	index    uint16
	name     string
	kind     Kind
	typ      ValueType // scalar type of values, list/set items and map values
	keyType  ValueType // map keys
	model    string    // embedded model; for maps, the model of embedded values
	required bool
	final    bool
	minSize  int
	maxSize  int // 0 means unbounded
	types    map[uint16]*Property
}

func Value(index uint16, name string, typ ValueType) *Property {
	return &Property{index: index, name: name, kind: KindValue, typ: typ}
}

func List(index uint16, name string, typ ValueType) *Property {
	return &Property{index: index, name: name, kind: KindList, typ: typ}
}

func Set(index uint16, name string, typ ValueType) *Property {
	return &Property{index: index, name: name, kind: KindSet, typ: typ}
}

// Map defines a map with scalar values of typ. Use MapOf for embedded values.
func Map(index uint16, name string, keyType, typ ValueType) *Property {
	return &Property{index: index, name: name, kind: KindMap, keyType: keyType, typ: typ}
}

// MapOf defines a map whose values are embedded objects of the named model.
func MapOf(index uint16, name string, keyType ValueType, model string) *Property {
	return &Property{index: index, name: name, kind: KindMap, keyType: keyType, model: model}
}

func Embed(index uint16, name string, model string) *Property {
	return &Property{index: index, name: name, kind: KindEmbed, model: model}
}

// MultiType defines a typed union. Each type is described by a property whose
// index is the type tag.
func MultiType(index uint16, name string, types ...*Property) *Property {
	p := &Property{index: index, name: name, kind: KindMultiType, types: make(map[uint16]*Property)}
	for _, t := range types {
		if p.types[t.index] != nil {
			panic(fmt.Errorf("%s: duplicate type tag %d", name, t.index))
		}
		p.types[t.index] = t
	}
	return p
}

func (p *Property) Required() *Property {
	p.required = true
	return p
}

// Final properties can be set on Add but never changed afterwards.
func (p *Property) Final() *Property {
	p.final = true
	return p
}

// Size limits the number of items of a list, set or map. max == 0 is unbounded.
func (p *Property) Size(min, max int) *Property {
	p.minSize, p.maxSize = min, max
	return p
}

func (p *Property) Index() uint16   { return p.index }
func (p *Property) Name() string    { return p.name }
func (p *Property) Kind() Kind      { return p.kind }
func (p *Property) Type() ValueType { return p.typ }

func (p *Property) typeTags() []uint16 {
	tags := make([]uint16, 0, len(p.types))
	for tag := range p.types {
		tags = append(tags, tag)
	}
	sort.Slice(tags, func(i, j int) bool { return tags[i] < tags[j] })
	return tags
}

func (p *Property) hasEmbeddedValues() bool {
	return p.kind == KindMap && p.model != ""
}

func (p *Property) validateDefinition(modelName string) {
	switch p.kind {
	case KindValue, KindList, KindSet:
		if p.typ == TypeNone {
			panic(fmt.Errorf("%s.%s: %v needs a value type", modelName, p.name, p.kind))
		}
	case KindMap:
		if p.keyType == TypeNone {
			panic(fmt.Errorf("%s.%s: map needs a key type", modelName, p.name))
		}
		if (p.typ == TypeNone) == (p.model == "") {
			panic(fmt.Errorf("%s.%s: map needs either a value type or a value model", modelName, p.name))
		}
	case KindEmbed:
		if p.model == "" {
			panic(fmt.Errorf("%s.%s: embed needs a model name", modelName, p.name))
		}
	case KindMultiType:
		if len(p.types) == 0 {
			panic(fmt.Errorf("%s.%s: multitype needs at least one type", modelName, p.name))
		}
		for _, t := range p.types {
			if t.kind == KindMultiType {
				panic(fmt.Errorf("%s.%s: nested multitypes are not supported", modelName, p.name))
			}
			t.validateDefinition(modelName + "." + p.name)
		}
	}
	if p.maxSize != 0 && p.minSize > p.maxSize {
		panic(fmt.Errorf("%s.%s: min size %d > max size %d", modelName, p.name, p.minSize, p.maxSize))
	}
}

// softDeleteProp describes the reserved object-level soft-delete flag.
var softDeleteProp = &Property{index: softDeleteIndex, name: "$softDelete", kind: KindValue, typ: TypeBool}
