package vdb

import (
	"errors"
	"strings"
)

type Direction int

const (
	Ascending Direction = iota
	Descending
)

func (d Direction) String() string {
	if d == Descending {
		return "desc"
	}
	return "asc"
}

func (d Direction) flip() Direction {
	return 1 - d
}

// Order is one column of a requested ordering. A nil Ref orders by the
// primary key.
type Order struct {
	Ref       Ref
	Direction Direction
}

func By(ref Ref) Order     { return Order{Ref: ref} }
func ByDesc(ref Ref) Order { return Order{Ref: ref, Direction: Descending} }
func ByKey() Order         { return Order{} }
func ByKeyDesc() Order     { return Order{Direction: Descending} }

func (o Order) isKey() bool {
	return len(o.Ref) == 0
}

func (o Order) String() string {
	if o.isKey() {
		return "key " + o.Direction.String()
	}
	return o.Ref.String() + " " + o.Direction.String()
}

// Orders is a multi-column ordering.
type Orders []Order

func (os Orders) String() string {
	parts := make([]string, len(os))
	for i, o := range os {
		parts[i] = o.String()
	}
	return strings.Join(parts, ", ")
}

func bindOrders(tbl *Table, orders Orders) error {
	for _, o := range orders {
		if o.isKey() {
			continue
		}
		rr, err := resolveRef(tbl.schema, tbl.model, o.Ref)
		if err != nil {
			return requestErrf(tbl.name, err, "order: invalid ref %v", o.Ref)
		}
		if rr.valueType == TypeNone {
			return requestErrf(tbl.name, nil, "order: %v does not hold a scalar", o.Ref)
		}
		if o.Direction != Ascending && o.Direction != Descending {
			return requestErrf(tbl.name, nil, "order: invalid direction %d", int(o.Direction))
		}
	}
	return nil
}

var ErrNoFittingIndex = errors.New("no fitting index")
