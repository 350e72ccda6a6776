package vdb

import (
	"fmt"
	"reflect"
	"strings"
)

// Filter is a predicate over an object. Build filters with Equals,
// GreaterThan, Between, Exists, And, Or and Not.
type Filter interface {
	fmt.Stringer
	isFilter()
}

type CompareOp int

const (
	CmpEq CompareOp = iota
	CmpGt
	CmpGte
	CmpLt
	CmpLte
)

func (op CompareOp) String() string {
	switch op {
	case CmpEq:
		return "=="
	case CmpGt:
		return ">"
	case CmpGte:
		return ">="
	case CmpLt:
		return "<"
	case CmpLte:
		return "<="
	default:
		return fmt.Sprintf("op%d", int(op))
	}
}

type Comparison struct {
	Ref   Ref
	Op    CompareOp
	Value any
}

type RangeFilter struct {
	Ref      Ref
	Lower    any
	Upper    any
	LowerInc bool
	UpperInc bool
}

type ExistsFilter struct {
	Ref Ref
}

type AndFilter []Filter
type OrFilter []Filter

type NotFilter struct {
	Filter Filter
}

func (Comparison) isFilter()   {}
func (RangeFilter) isFilter()  {}
func (ExistsFilter) isFilter() {}
func (AndFilter) isFilter()    {}
func (OrFilter) isFilter()     {}
func (NotFilter) isFilter()    {}

func Equals(ref Ref, v any) Filter             { return Comparison{ref, CmpEq, v} }
func GreaterThan(ref Ref, v any) Filter        { return Comparison{ref, CmpGt, v} }
func GreaterThanOrEqual(ref Ref, v any) Filter { return Comparison{ref, CmpGte, v} }
func LessThan(ref Ref, v any) Filter           { return Comparison{ref, CmpLt, v} }
func LessThanOrEqual(ref Ref, v any) Filter    { return Comparison{ref, CmpLte, v} }

// Between matches lower <= v <= upper.
func Between(ref Ref, lower, upper any) Filter {
	return RangeFilter{Ref: ref, Lower: lower, Upper: upper, LowerInc: true, UpperInc: true}
}

func Exists(ref Ref) Filter      { return ExistsFilter{ref} }
func And(fs ...Filter) Filter    { return AndFilter(fs) }
func Or(fs ...Filter) Filter     { return OrFilter(fs) }
func Not(f Filter) Filter        { return NotFilter{f} }

func (f Comparison) String() string {
	return fmt.Sprintf("%v %v %v", f.Ref, f.Op, f.Value)
}

func (f RangeFilter) String() string {
	lb, ub := "(", ")"
	if f.LowerInc {
		lb = "["
	}
	if f.UpperInc {
		ub = "]"
	}
	return fmt.Sprintf("%v in %s%v, %v%s", f.Ref, lb, f.Lower, f.Upper, ub)
}

func (f ExistsFilter) String() string { return fmt.Sprintf("exists %v", f.Ref) }
func (f AndFilter) String() string    { return joinFilters(f, " AND ") }
func (f OrFilter) String() string     { return joinFilters(f, " OR ") }
func (f NotFilter) String() string    { return fmt.Sprintf("NOT %v", f.Filter) }

func joinFilters(fs []Filter, sep string) string {
	parts := make([]string, len(fs))
	for i, f := range fs {
		parts[i] = f.String()
	}
	return "(" + strings.Join(parts, sep) + ")"
}

// bindFilter checks refs against the table model and converts comparison
// values to the canonical types of their properties.
func bindFilter(tbl *Table, f Filter) (Filter, error) {
	if f == nil {
		return nil, nil
	}
	norm := func(ref Ref, v any) (any, error) {
		rr, err := resolveRef(tbl.schema, tbl.model, ref)
		if err != nil {
			return nil, requestErrf(tbl.name, err, "filter: invalid ref %v", ref)
		}
		if v == nil {
			return nil, nil
		}
		if rr.valueType == TypeNone {
			return nil, requestErrf(tbl.name, nil, "filter: %v does not hold a scalar", ref)
		}
		nv, err := normalizeScalar(rr.valueType, v)
		if err != nil {
			return nil, requestErrf(tbl.name, err, "filter: %v", ref)
		}
		return nv, nil
	}
	switch f := f.(type) {
	case Comparison:
		v, err := norm(f.Ref, f.Value)
		if err != nil {
			return nil, err
		}
		if v == nil {
			return nil, requestErrf(tbl.name, nil, "filter: nil comparison value for %v", f.Ref)
		}
		f.Value = v
		return f, nil
	case RangeFilter:
		lo, err := norm(f.Ref, f.Lower)
		if err != nil {
			return nil, err
		}
		hi, err := norm(f.Ref, f.Upper)
		if err != nil {
			return nil, err
		}
		f.Lower, f.Upper = lo, hi
		return f, nil
	case ExistsFilter:
		if _, err := norm(f.Ref, nil); err != nil {
			return nil, err
		}
		return f, nil
	case AndFilter:
		out := make(AndFilter, len(f))
		for i, sub := range f {
			b, err := bindFilter(tbl, sub)
			if err != nil {
				return nil, err
			}
			out[i] = b
		}
		return out, nil
	case OrFilter:
		out := make(OrFilter, len(f))
		for i, sub := range f {
			b, err := bindFilter(tbl, sub)
			if err != nil {
				return nil, err
			}
			out[i] = b
		}
		return out, nil
	case NotFilter:
		b, err := bindFilter(tbl, f.Filter)
		if err != nil {
			return nil, err
		}
		return NotFilter{b}, nil
	default:
		return nil, requestErrf(tbl.name, nil, "unsupported filter %T", f)
	}
}

// evalFilter reports whether the record matches f. A nil filter matches
// everything.
func evalFilter(f Filter, r recordReader) (bool, error) {
	switch f := f.(type) {
	case nil:
		return true, nil
	case Comparison:
		actual, err := r.readRef(f.Ref)
		if err != nil || actual == nil {
			return false, err
		}
		if scalarTypeOf(actual) == TypeNone {
			return f.Op == CmpEq && reflect.DeepEqual(actual, f.Value), nil
		}
		c := compareScalars(actual, f.Value)
		switch f.Op {
		case CmpEq:
			return c == 0, nil
		case CmpGt:
			return c > 0, nil
		case CmpGte:
			return c >= 0, nil
		case CmpLt:
			return c < 0, nil
		case CmpLte:
			return c <= 0, nil
		default:
			return false, typeErrf("unknown comparison %v", f.Op)
		}
	case RangeFilter:
		actual, err := r.readRef(f.Ref)
		if err != nil || actual == nil || scalarTypeOf(actual) == TypeNone {
			return false, err
		}
		if f.Lower != nil {
			c := compareScalars(actual, f.Lower)
			if c < 0 || (c == 0 && !f.LowerInc) {
				return false, nil
			}
		}
		if f.Upper != nil {
			c := compareScalars(actual, f.Upper)
			if c > 0 || (c == 0 && !f.UpperInc) {
				return false, nil
			}
		}
		return true, nil
	case ExistsFilter:
		actual, err := r.readRef(f.Ref)
		return actual != nil, err
	case AndFilter:
		for _, sub := range f {
			ok, err := evalFilter(sub, r)
			if !ok || err != nil {
				return false, err
			}
		}
		return true, nil
	case OrFilter:
		for _, sub := range f {
			ok, err := evalFilter(sub, r)
			if err != nil {
				return false, err
			}
			if ok {
				return true, nil
			}
		}
		return false, nil
	case NotFilter:
		ok, err := evalFilter(f.Filter, r)
		return !ok && err == nil, err
	default:
		return false, typeErrf("unsupported filter %T", f)
	}
}

// constraint is what a conjunction of filters says about a single ref.
type constraint struct {
	eq      any
	lo, hi  any
	loInc   bool
	hiInc   bool
	isEqual bool
}

func (c *constraint) narrowLower(v any, inc bool) {
	if c.lo == nil {
		c.lo, c.loInc = v, inc
		return
	}
	cmp := compareScalars(v, c.lo)
	if cmp > 0 || (cmp == 0 && !inc) {
		c.lo, c.loInc = v, inc
	}
}

func (c *constraint) narrowUpper(v any, inc bool) {
	if c.hi == nil {
		c.hi, c.hiInc = v, inc
		return
	}
	cmp := compareScalars(v, c.hi)
	if cmp < 0 || (cmp == 0 && !inc) {
		c.hi, c.hiInc = v, inc
	}
}

// filterConstraints collects per-ref constraints implied by the top-level
// conjunction of a bound filter.
func filterConstraints(f Filter) map[string]*constraint {
	out := make(map[string]*constraint)
	var walk func(f Filter)
	get := func(ref Ref) *constraint {
		c := out[string(ref)]
		if c == nil {
			c = &constraint{}
			out[string(ref)] = c
		}
		return c
	}
	walk = func(f Filter) {
		switch f := f.(type) {
		case AndFilter:
			for _, sub := range f {
				walk(sub)
			}
		case Comparison:
			c := get(f.Ref)
			switch f.Op {
			case CmpEq:
				c.isEqual, c.eq = true, f.Value
			case CmpGt:
				c.narrowLower(f.Value, false)
			case CmpGte:
				c.narrowLower(f.Value, true)
			case CmpLt:
				c.narrowUpper(f.Value, false)
			case CmpLte:
				c.narrowUpper(f.Value, true)
			}
		case RangeFilter:
			c := get(f.Ref)
			if f.Lower != nil {
				c.narrowLower(f.Lower, f.LowerInc)
			}
			if f.Upper != nil {
				c.narrowUpper(f.Upper, f.UpperInc)
			}
		}
	}
	walk(f)
	return out
}
