package vdb

import (
	"context"
	"strings"
	"testing"

	"github.com/andreyvit/vdb/hlc"
)

func TestStoreAddGet(t *testing.T) {
	s := setup(t)
	resp := addItems(t, s, "items", item("x1", 1, 2, "foo"), item("x2", 3, 4, ""))
	if resp.Version == 0 {
		t.Fatalf("** got zero version")
	}
	deepEqual(t, resp.Results[0].Key, key("x1"))

	got := getOne(t, s, "items", key("x1"))
	if !got.Found {
		t.Fatalf("** x1 not found")
	}
	deepEqual(t, got.Values, Values{pID: "x1", pA: int64(1), pB: int64(2), pName: "foo"})
	deepEqual(t, got.FirstVersion, resp.Version)
	deepEqual(t, got.LastVersion, resp.Version)

	got = getOne(t, s, "items", key("nope"))
	if got.Found {
		t.Fatalf("** got %v, wanted not found", got)
	}
	deepEqual(t, got.Key, key("nope"))
}

func TestStoreAddExisting(t *testing.T) {
	s := setup(t)
	addItems(t, s, "items", item("x1", 1, 2, ""))
	resp, err := s.Add(context.Background(), &AddRequest{Table: "items", Objects: []Values{item("x1", 5, 5, ""), item("x2", 1, 1, "")}})
	if err != nil {
		t.Fatal(err)
	}
	isErrAs[*AlreadyExistsError](t, resp.Results[0].Err)
	if resp.Results[1].Err != nil || !resp.Results[1].Changed {
		t.Fatalf("** got %+v, wanted x2 added", resp.Results[1])
	}
	deepEqual(t, getOne(t, s, "items", key("x1")).Values[pA], any(int64(1)))
}

func TestStoreAddValidation(t *testing.T) {
	s := setup(t)
	resp, err := s.Add(context.Background(), &AddRequest{Table: "items", Objects: []Values{
		{pA: 1},
		{pID: "x", pA: "not an int"},
		{pID: "y", 99: 1},
	}})
	if err != nil {
		t.Fatal(err)
	}
	for i, r := range resp.Results {
		isErrAs[*ValidationError](t, r.Err)
		if r.Changed {
			t.Errorf("** result %d changed", i)
		}
	}
	st := must(s.TableStats("items"))
	deepEqual(t, st.Records, 0)
}

func TestStoreUniqueIndex(t *testing.T) {
	s := setup(t)
	addItems(t, s, "items", item("x1", 1, 1, "foo"))
	resp := must(s.Add(context.Background(), &AddRequest{Table: "items", Objects: []Values{item("x2", 2, 2, "foo")}}))
	ue := isErrAs[*UniqueError](t, resp.Results[0].Err)
	deepEqual(t, ue.Index, "name")
	deepEqual(t, ue.ExistingKey, key("x1"))

	// nulls don't collide
	addItems(t, s, "items", item("x3", 3, 3, ""), item("x4", 4, 4, ""))

	// a key may keep its own value
	change(t, s, "items", key("x1"), SetValue{Prop(pA), 10})
	change(t, s, "items", key("x1"), SetValue{Prop(pName), "bar"})
	addItems(t, s, "items", item("x5", 5, 5, "foo"))
}

func TestStoreChange(t *testing.T) {
	s := setup(t)
	add := addItems(t, s, "items", item("x1", 1, 2, "foo"))

	resp := change(t, s, "items", key("x1"), SetValue{Prop(pA), 7}, DeleteRef{Prop(pName)})
	if !resp.Results[0].Changed {
		t.Fatalf("** wanted Changed")
	}
	got := getOne(t, s, "items", key("x1"))
	deepEqual(t, got.Values, Values{pID: "x1", pA: int64(7), pB: int64(2)})
	deepEqual(t, got.FirstVersion, add.Version)
	deepEqual(t, got.LastVersion, resp.Version)

	// no-op
	resp = change(t, s, "items", key("x1"), SetValue{Prop(pA), 7})
	if resp.Results[0].Changed {
		t.Fatalf("** wanted no change")
	}
	deepEqual(t, getOne(t, s, "items", key("x1")).LastVersion, got.LastVersion)
}

func TestStoreChangeAllOrNothing(t *testing.T) {
	s := setup(t)
	addItems(t, s, "items", item("x1", 1, 2, "foo"))
	resp := must(s.Change(context.Background(), &ChangeRequest{Table: "items", Objects: []ObjectChange{{
		Key:     key("x1"),
		Changes: []Change{SetValue{Prop(pA), 100}, SetValue{Prop(pB), "bad"}},
	}}}))
	isErrAs[*ValidationError](t, resp.Results[0].Err)
	deepEqual(t, getOne(t, s, "items", key("x1")).Values[pA], any(int64(1)))
}

func TestStoreChangeErrors(t *testing.T) {
	s := setup(t)
	add := addItems(t, s, "items", item("x1", 1, 2, ""))
	ctx := context.Background()

	resp := must(s.Change(ctx, &ChangeRequest{Table: "items", Objects: []ObjectChange{
		{Key: key("missing"), Changes: []Change{SetValue{Prop(pA), 1}}},
		{Key: key("x1"), LastVersion: add.Version + 1, Changes: []Change{SetValue{Prop(pA), 3}}},
		{Key: key("x1"), Changes: []Change{SetValue{Prop(pID), "renamed"}}},
		{Key: key("x1"), Changes: []Change{Check{Prop(pA), 5}}},
	}}))
	isErr(t, resp.Results[0].Err, ErrNotFound)
	vm := isErrAs[*VersionMismatchError](t, resp.Results[1].Err)
	deepEqual(t, vm.Actual, add.Version)
	isErrAs[*ValidationError](t, resp.Results[2].Err)
	isErrAs[*ValidationError](t, resp.Results[3].Err)

	// a matching LastVersion and a passing check apply
	resp = must(s.Change(ctx, &ChangeRequest{Table: "items", Objects: []ObjectChange{
		{Key: key("x1"), LastVersion: add.Version, Changes: []Change{Check{Prop(pA), 1}, SetValue{Prop(pA), 3}}},
	}}))
	if err := resp.Results[0].Err; err != nil {
		t.Fatal(err)
	}
	deepEqual(t, getOne(t, s, "items", key("x1")).Values[pA], any(int64(3)))
}

func TestStoreSoftDelete(t *testing.T) {
	s := setup(t)
	ctx := context.Background()
	addItems(t, s, "items", item("x1", 1, 2, ""), item("x2", 2, 2, ""))
	del(t, s, "items", true, key("x1"))

	got := getOne(t, s, "items", key("x1"))
	if !got.Found || !got.SoftDeleted {
		t.Fatalf("** got %+v, wanted soft-deleted object", got)
	}
	resp := must(s.Get(ctx, &GetRequest{Table: "items", Keys: [][]byte{key("x1")}, FilterSoftDeleted: true}))
	if resp.Objects[0].Found {
		t.Fatalf("** got %+v, wanted filtered out", resp.Objects[0])
	}

	ids, _ := scanKeys(t, s, &ScanRequest{Table: "items", FilterSoftDeleted: true})
	deepEqual(t, ids, []string{"x2"})
	ids, _ = scanKeys(t, s, &ScanRequest{Table: "items"})
	deepEqual(t, ids, []string{"x1", "x2"})

	// deleting again is a no-op; undelete through the change API
	dr := del(t, s, "items", true, key("x1"))
	if dr.Results[0].Changed {
		t.Fatalf("** second soft delete changed the object")
	}
	change(t, s, "items", key("x1"), SoftDelete{Deleted: false})
	if getOne(t, s, "items", key("x1")).SoftDeleted {
		t.Fatalf("** still soft-deleted")
	}
}

func TestStoreHardDelete(t *testing.T) {
	s := setup(t)
	addItems(t, s, "items", item("x1", 1, 2, "foo"))
	dr := del(t, s, "items", false, key("x1"), key("missing"))
	if !dr.Results[0].Changed || dr.Results[1].Changed {
		t.Fatalf("** got %+v", dr.Results)
	}
	if getOne(t, s, "items", key("x1")).Found {
		t.Fatalf("** x1 still found")
	}
	st := must(s.TableStats("items"))
	deepEqual(t, st, TableStats{LastVersion: uint64(dr.Version)})

	// the unique value is free again, and so is the key
	addItems(t, s, "items", item("x1", 1, 2, "foo"))
}

func TestStoreLastVersionMonotonic(t *testing.T) {
	s := setup(t)
	var last hlc.Version
	check := func(v hlc.Version) {
		t.Helper()
		if v <= last {
			t.Fatalf("** version %v after %v", v, last)
		}
		last = v
		deepEqual(t, must(s.Version("items")), v)
	}
	check(addItems(t, s, "items", item("x1", 1, 2, "")).Version)
	check(change(t, s, "items", key("x1"), SetValue{Prop(pA), 2}).Version)
	check(addItems(t, s, "items", item("x2", 1, 2, "")).Version)
	check(del(t, s, "items", true, key("x2")).Version)
	check(del(t, s, "items", false, key("x1")).Version)

	// versions are shared across tables
	ev := addItems(t, s, "events", item("e1", 1, 1, "")).Version
	if ev <= last {
		t.Fatalf("** events version %v not after %v", ev, last)
	}
}

func TestStoreRandomKeys(t *testing.T) {
	scm := NewSchema()
	scm.AddModel("Note", Value(1, "text", TypeString))
	scm.AddTable(NewTable("notes", "Note", nil))
	s := must(Open(scm, Options{}))
	defer s.Close()

	resp := must(s.Add(context.Background(), &AddRequest{Table: "notes", Objects: []Values{{1: "a"}, {1: "b"}}}))
	k1, k2 := resp.Results[0].Key, resp.Results[1].Key
	if len(k1) != 16 || len(k2) != 16 || string(k1) == string(k2) {
		t.Fatalf("** got keys %x and %x, wanted two distinct UUIDs", k1, k2)
	}
}

func TestStoreExecuteErrors(t *testing.T) {
	s := setup(t)
	ctx := context.Background()

	_, err := s.Execute(ctx, nil)
	isErrAs[*RequestError](t, err)

	_, err = s.Get(ctx, &GetRequest{Table: "nope"})
	re := isErrAs[*RequestError](t, err)
	if !strings.Contains(re.Error(), "nope") {
		t.Errorf("** got %q, wanted the table name", re.Error())
	}

	_, err = s.Get(ctx, &GetRequest{Table: "items", ToVersion: 5})
	isErrAs[*RequestError](t, err)
	_, err = s.GetChanges(ctx, &GetChangesRequest{Table: "items", MaxVersions: 2})
	isErrAs[*RequestError](t, err)
}

func TestStoreClosed(t *testing.T) {
	s := must(Open(testSchema, Options{}))
	addItems(t, s, "items", item("x1", 1, 1, ""))
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	_, err := s.Get(context.Background(), &GetRequest{Table: "items", Keys: [][]byte{key("x1")}})
	isErr(t, err, ErrClosed)
	_, err = s.Add(context.Background(), &AddRequest{Table: "items"})
	isErr(t, err, ErrClosed)
}

func TestStoreNoGoroutinesAfterClose(t *testing.T) {
	defer verifyNoLeaks(t)()
	s := must(Open(testSchema, Options{Persistence: NewMemPersistence()}))
	addItems(t, s, "items", item("x1", 1, 1, ""))
	sub := must(s.ScanUpdates(context.Background(), ScanUpdatesRequest{Table: "items"}))
	nextEvent(t, sub)
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}
	for range sub.Events() {
	}
}

func TestStoreDump(t *testing.T) {
	s := setup(t)
	addItems(t, s, "items", Values{pID: "x1", pA: 1, pName: "foo", pAttrs: map[any]any{"k": "v"}, pTags: []any{"t1"}})
	if !DumpTableHeaders.Contains(DumpTableHeaders) || DumpTableHeaders.Contains(DumpRows) {
		t.Fatalf("** DumpFlags.Contains returned unexpected results")
	}
	out := s.Dump(DumpAll)
	for _, want := range []string{"items (1 records)", `"name":"foo"`, `"attrs":{"k":"v"}`, "items.i.name (1 rows)"} {
		if !strings.Contains(out, want) {
			t.Errorf("** Dump output missing %q; got:\n%s", want, out)
		}
	}
}
