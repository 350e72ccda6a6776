package vdb

import (
	"fmt"

	"github.com/andreyvit/vdb/hlc"
)

type (
	// Change is one step of an object change: SetValue, DeleteRef, Check or
	// SoftDelete.
	Change interface {
		fmt.Stringer
		isChange()
	}

	// SetValue stores Value at Ref. A nil Value deletes Ref.
	SetValue struct {
		Ref   Ref
		Value any
	}

	// DeleteRef deletes Ref and everything nested under it.
	DeleteRef struct {
		Ref Ref
	}

	// Check fails the object change unless Ref currently holds Value.
	Check struct {
		Ref   Ref
		Value any
	}

	// SoftDelete sets or clears the object's soft delete flag.
	SoftDelete struct {
		Deleted bool
	}
)

func (SetValue) isChange()   {}
func (DeleteRef) isChange()  {}
func (Check) isChange()      {}
func (SoftDelete) isChange() {}

func (ch SetValue) String() string   { return fmt.Sprintf("set %v = %v", ch.Ref, ch.Value) }
func (ch DeleteRef) String() string  { return fmt.Sprintf("delete %v", ch.Ref) }
func (ch Check) String() string      { return fmt.Sprintf("check %v == %v", ch.Ref, ch.Value) }
func (ch SoftDelete) String() string { return fmt.Sprintf("soft delete = %v", ch.Deleted) }

// VersionChanges are the changes an object went through at one version, at
// top-level property granularity.
type VersionChanges struct {
	Version hlc.Version
	Changes []Change
	Added   bool // the object was created at this version
	Deleted bool // the object was hard-deleted at this version
}

// ObjectChanges lists the versions of one object, oldest first.
type ObjectChanges struct {
	Key      []byte
	Versions []VersionChanges
}

// changesAt describes the top-level refs of rec touched exactly at v, with
// their values as of v.
func changesAt(tbl *Table, rec *Record, v hlc.Version) ([]Change, error) {
	return describeRefs(recordReader{tbl: tbl, rec: rec, version: v}, rec.touchedAt(v))
}

func describeRefs(r recordReader, refs []Ref) ([]Change, error) {
	out := make([]Change, 0, len(refs))
	for _, ref := range refs {
		if ref.Equal(SoftDeleteRef) {
			out = append(out, SoftDelete{Deleted: r.rec.isSoftDeleted(r.version)})
			continue
		}
		v, err := r.readRef(ref)
		if err != nil {
			return nil, err
		}
		if v == nil {
			out = append(out, DeleteRef{Ref: ref})
		} else {
			out = append(out, SetValue{Ref: ref, Value: v})
		}
	}
	return out, nil
}

// recordChanges lists the versions of rec in (from, to], at most max of them
// (the oldest ones) when max > 0. A table without history only has the
// latest state, reported as a single version.
func recordChanges(tbl *Table, rec *Record, from, to hlc.Version, max int) (ObjectChanges, error) {
	oc := ObjectChanges{Key: rec.Key}
	if !tbl.keepHistory {
		if rec.LastVersion <= from {
			return oc, nil
		}
		changes, err := describeRefs(recordReader{tbl: tbl, rec: rec}, rec.touchedSince(from))
		if err != nil {
			return oc, err
		}
		oc.Versions = []VersionChanges{{
			Version: rec.LastVersion,
			Changes: changes,
			Added:   rec.FirstVersion > from,
		}}
		return oc, nil
	}

	for _, v := range rec.versions(from, to) {
		if max > 0 && len(oc.Versions) >= max {
			break
		}
		vc := VersionChanges{Version: v, Added: v == rec.FirstVersion}
		if v == rec.HardDeleted {
			vc.Deleted = true
		} else {
			changes, err := changesAt(tbl, rec, v)
			if err != nil {
				return oc, err
			}
			vc.Changes = changes
		}
		oc.Versions = append(oc.Versions, vc)
	}
	return oc, nil
}
