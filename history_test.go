package vdb

import (
	"context"
	"testing"

	"github.com/andreyvit/vdb/hlc"
)

func versionsOf(oc ObjectChanges) []hlc.Version {
	var out []hlc.Version
	for _, vc := range oc.Versions {
		out = append(out, vc.Version)
	}
	return out
}

func TestHistoryGetAtVersion(t *testing.T) {
	s := setup(t)
	ctx := context.Background()
	k := key("e1")
	v1 := addItems(t, s, "events", item("e1", 1, 0, "")).Version
	v2 := change(t, s, "events", k, SetValue{Prop(pA), 2}).Version
	v3 := del(t, s, "events", false, k).Version

	get := func(v hlc.Version) GetResult {
		resp := must(s.Get(ctx, &GetRequest{Table: "events", Keys: [][]byte{k}, ToVersion: v}))
		return resp.Objects[0]
	}
	deepEqual(t, get(v1).Values[pA], any(int64(1)))
	deepEqual(t, get(v2).Values[pA], any(int64(2)))
	deepEqual(t, get(v3-1).Values[pA], any(int64(2)))
	deepEqual(t, get(v3).Found, false)
	deepEqual(t, get(v1-1).Found, false)
	deepEqual(t, getOne(t, s, "events", k).Found, false)

	// the tombstone keeps old versions scannable
	resp := must(s.Scan(ctx, &ScanRequest{Table: "events", ToVersion: v2}))
	deepEqual(t, len(resp.Objects), 1)
	resp = must(s.Scan(ctx, &ScanRequest{Table: "events"}))
	deepEqual(t, len(resp.Objects), 0)

	// a key added again after the tombstone starts over
	v4 := addItems(t, s, "events", item("e1", 7, 0, "")).Version
	obj := getOne(t, s, "events", k)
	deepEqual(t, obj.FirstVersion, v4)
	deepEqual(t, obj.Values[pA], any(int64(7)))
}

func TestHistoryScanOrderAtVersion(t *testing.T) {
	s := setup(t)
	ctx := context.Background()
	addItems(t, s, "events", item("e1", 3, 0, ""), item("e2", 1, 0, ""))
	v := change(t, s, "events", key("e1"), SetValue{Prop(pA), 0}).Version
	change(t, s, "events", key("e2"), SetValue{Prop(pA), 9})

	resp := must(s.Scan(ctx, &ScanRequest{Table: "events", ToVersion: v, Order: Orders{ByKeyDesc()}}))
	var ids []string
	for _, obj := range resp.Objects {
		ids = append(ids, obj.Values[pID].(string))
	}
	deepEqual(t, ids, []string{"e2", "e1"})
	deepEqual(t, resp.Objects[0].Values[pA], any(int64(1)))
	deepEqual(t, resp.Objects[1].Values[pA], any(int64(0)))
}

func TestGetChanges(t *testing.T) {
	s := setup(t)
	ctx := context.Background()
	k := key("e1")
	v1 := addItems(t, s, "events", Values{pID: "e1", pA: 1, pTags: []any{"a"}}).Version
	v2 := change(t, s, "events", k, SetValue{Prop(pA), 2}).Version
	v3 := change(t, s, "events", k, SetValue{Prop(pTags).Item(0), "b"}, DeleteRef{Prop(pA)}).Version
	v4 := del(t, s, "events", false, k).Version

	changes := func(req GetChangesRequest) ObjectChanges {
		t.Helper()
		req.Table, req.Keys = "events", [][]byte{k}
		resp, err := s.GetChanges(ctx, &req)
		if err != nil {
			t.Fatalf("GetChanges: %v", err)
		}
		return resp.Objects[0]
	}

	oc := changes(GetChangesRequest{})
	deepEqual(t, versionsOf(oc), []hlc.Version{v1, v2, v3, v4})
	if !oc.Versions[0].Added || oc.Versions[1].Added {
		t.Errorf("** wrong Added flags: %+v", oc.Versions)
	}
	if !oc.Versions[3].Deleted || oc.Versions[2].Deleted {
		t.Errorf("** wrong Deleted flags: %+v", oc.Versions)
	}
	deepEqual(t, oc.Versions[1].Changes, []Change{SetValue{Prop(pA), int64(2)}})
	deepEqual(t, oc.Versions[2].Changes, []Change{DeleteRef{Prop(pA)}, SetValue{Prop(pTags), []any{"b"}}})

	deepEqual(t, versionsOf(changes(GetChangesRequest{FromVersion: v1})), []hlc.Version{v2, v3, v4})
	deepEqual(t, versionsOf(changes(GetChangesRequest{FromVersion: v1, ToVersion: v3})), []hlc.Version{v2, v3})
	deepEqual(t, versionsOf(changes(GetChangesRequest{MaxVersions: 2})), []hlc.Version{v1, v2})
	deepEqual(t, versionsOf(changes(GetChangesRequest{FromVersion: v4})), []hlc.Version(nil))

	_, err := s.GetChanges(ctx, &GetChangesRequest{Table: "events", Keys: [][]byte{k}, FromVersion: v3, ToVersion: v2})
	isErrAs[*RequestError](t, err)

	resp := must(s.GetChanges(ctx, &GetChangesRequest{Table: "events", Keys: [][]byte{key("nope")}}))
	deepEqual(t, len(resp.Objects[0].Versions), 0)
}

func TestGetChangesWithoutHistory(t *testing.T) {
	s := setup(t)
	ctx := context.Background()
	k := key("x1")
	v1 := addItems(t, s, "items", item("x1", 1, 2, "")).Version
	change(t, s, "items", k, SetValue{Prop(pA), 5})
	v3 := change(t, s, "items", k, SetValue{Prop(pName), "n"}).Version

	resp := must(s.GetChanges(ctx, &GetChangesRequest{Table: "items", Keys: [][]byte{k}, FromVersion: v1}))
	oc := resp.Objects[0]
	deepEqual(t, versionsOf(oc), []hlc.Version{v3})
	if oc.Versions[0].Added {
		t.Errorf("** got Added for a record created at FromVersion")
	}
	deepEqual(t, oc.Versions[0].Changes, []Change{SetValue{Prop(pA), int64(5)}, SetValue{Prop(pName), "n"}})

	resp = must(s.GetChanges(ctx, &GetChangesRequest{Table: "items", Keys: [][]byte{k}}))
	if !resp.Objects[0].Versions[0].Added {
		t.Errorf("** wanted Added from version zero")
	}

	_, err := s.GetChanges(ctx, &GetChangesRequest{Table: "items", Keys: [][]byte{k}, MaxVersions: 2})
	isErrAs[*RequestError](t, err)
}

func TestScanChanges(t *testing.T) {
	s := setup(t)
	ctx := context.Background()
	v1 := addItems(t, s, "items", item("x1", 5, 1, ""), item("x2", 5, 2, ""), item("x3", 6, 3, "")).Version
	v2 := change(t, s, "items", key("x2"), SetValue{Prop(pB), 20}).Version
	change(t, s, "items", key("x3"), SetValue{Prop(pB), 30})

	resp := must(s.ScanChanges(ctx, &ScanChangesRequest{
		ScanRequest: ScanRequest{Table: "items", Filter: Equals(Prop(pA), 5)},
		FromVersion: v1,
	}))
	deepEqual(t, resp.Plan.Index, itemsByAB)
	deepEqual(t, len(resp.Objects), 1)
	deepEqual(t, resp.Objects[0].Key, key("x2"))
	deepEqual(t, versionsOf(resp.Objects[0]), []hlc.Version{v2})
}
