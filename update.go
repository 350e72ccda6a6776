package vdb

import (
	"fmt"

	"github.com/andreyvit/vdb/hlc"
)

// Op is the kind of a committed write.
type Op int

const (
	OpNone Op = iota
	OpAdd
	OpChange
	OpDelete
)

func (v Op) String() string {
	switch v {
	case OpNone:
		return "none"
	case OpAdd:
		return "add"
	case OpChange:
		return "change"
	case OpDelete:
		return "delete"
	default:
		return fmt.Sprintf("invalid op %d", int(v))
	}
}

// update is what a table writer publishes after committing one object.
type update struct {
	op      Op
	key     []byte
	version hlc.Version
	rec     *Record // state after the write; nil after a hard delete
	changes []Change
	soft    bool // OpDelete: soft delete

	softDeleteFlipped bool
}

func (u *update) hardDeleted() bool {
	return u.op == OpDelete && !u.soft
}

func (u *update) String() string {
	return fmt.Sprintf("%v %x @%v", u.op, u.key, u.version)
}

// RemovalReason says why a key left a subscription's result window.
type RemovalReason int

const (
	NotInRange RemovalReason = iota
	RemovedBySoftDelete
	RemovedByHardDelete
)

func (r RemovalReason) String() string {
	switch r {
	case NotInRange:
		return "not_in_range"
	case RemovedBySoftDelete:
		return "soft_delete"
	case RemovedByHardDelete:
		return "hard_delete"
	default:
		return fmt.Sprintf("reason%d", int(r))
	}
}

// UpdateResponse is an event of a subscription: OrderedKeysUpdate first,
// then any number of AdditionUpdate, ChangeUpdate and RemovalUpdate.
type UpdateResponse interface {
	UpdateVersion() hlc.Version
	isUpdate()
}

// OrderedKeysUpdate carries the initial result window.
type OrderedKeysUpdate struct {
	Version hlc.Version
	Objects []Object
}

// AdditionUpdate means Object entered the window at position Index.
type AdditionUpdate struct {
	Version hlc.Version
	Index   int
	Object  Object
}

// ChangeUpdate means a tracked object changed. It was at OldIndex before and
// is at Index now.
type ChangeUpdate struct {
	Version  hlc.Version
	Key      []byte
	Index    int
	OldIndex int
	Changes  []Change
}

// RemovalUpdate means the object at Index left the window.
type RemovalUpdate struct {
	Version hlc.Version
	Key     []byte
	Index   int
	Reason  RemovalReason
}

func (u *OrderedKeysUpdate) UpdateVersion() hlc.Version { return u.Version }
func (u *AdditionUpdate) UpdateVersion() hlc.Version    { return u.Version }
func (u *ChangeUpdate) UpdateVersion() hlc.Version      { return u.Version }
func (u *RemovalUpdate) UpdateVersion() hlc.Version     { return u.Version }

func (*OrderedKeysUpdate) isUpdate() {}
func (*AdditionUpdate) isUpdate()    {}
func (*ChangeUpdate) isUpdate()      {}
func (*RemovalUpdate) isUpdate()     {}

// Keys returns the keys of the initial window, in order.
func (u *OrderedKeysUpdate) Keys() [][]byte {
	keys := make([][]byte, len(u.Objects))
	for i, obj := range u.Objects {
		keys[i] = obj.Key
	}
	return keys
}

func (u *OrderedKeysUpdate) String() string {
	return fmt.Sprintf("keys(%d) @%v", len(u.Objects), u.Version)
}

func (u *AdditionUpdate) String() string {
	return fmt.Sprintf("add %x at %d @%v", u.Object.Key, u.Index, u.Version)
}

func (u *ChangeUpdate) String() string {
	return fmt.Sprintf("change %x %d->%d @%v", u.Key, u.OldIndex, u.Index, u.Version)
}

func (u *RemovalUpdate) String() string {
	return fmt.Sprintf("remove %x at %d (%v) @%v", u.Key, u.Index, u.Reason, u.Version)
}
