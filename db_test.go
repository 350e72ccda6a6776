package vdb

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"reflect"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/goleak"
)

const (
	pID     uint16 = 1
	pA      uint16 = 2
	pB      uint16 = 3
	pName   uint16 = 4
	pTags   uint16 = 5
	pAttrs  uint16 = 6
	pAddr   uint16 = 7
	pLabels uint16 = 8

	pCity uint16 = 1
	pZip  uint16 = 2
)

var (
	itemsByAB   = NewIndex("ab", []IndexColumn{Asc(Prop(pA)), Asc(Prop(pB))})
	itemsByName = NewIndex("name", []IndexColumn{Asc(Prop(pName))}, IndexOptUnique)

	rankedByADesc = NewIndex("adesc", []IndexColumn{Desc(Prop(pA))})
	rankedByB     = NewIndex("b", []IndexColumn{Asc(Prop(pB))})

	testSchema  = newTestSchema()
	itemsTable  = testSchema.TableNamed("items")
	eventsTable = testSchema.TableNamed("events")
)

func newTestSchema() *Schema {
	scm := NewSchema()
	scm.AddModel("Addr",
		Value(pCity, "city", TypeString),
		Value(pZip, "zip", TypeString),
	)
	scm.AddModel("Item",
		Value(pID, "id", TypeString).Required().Final(),
		Value(pA, "a", TypeInt),
		Value(pB, "b", TypeInt),
		Value(pName, "name", TypeString),
		List(pTags, "tags", TypeString),
		Map(pAttrs, "attrs", TypeString, TypeString),
		Embed(pAddr, "addr", "Addr"),
		Set(pLabels, "labels", TypeString),
	)
	scm.AddTable(NewTable("items", "Item", []*Index{itemsByAB, itemsByName}, KeyRefs{Prop(pID)}))
	scm.AddTable(NewTable("events", "Item", nil, KeyRefs{Prop(pID)}, KeepHistory))
	scm.AddTable(NewTable("ranked", "Item", []*Index{rankedByADesc, rankedByB}, KeyRefs{Prop(pID)}))
	return scm
}

func init() {
	if os.Getenv("VDB_DEBUG") != "" {
		slog.SetLogLoggerLevel(slog.LevelDebug)
	}
}

func setup(t testing.TB, opts ...func(*Options)) *Store {
	t.Helper()
	opt := Options{Verbose: os.Getenv("VDB_DEBUG") != ""}
	for _, f := range opts {
		f(&opt)
	}
	s := must(Open(testSchema, opt))
	t.Cleanup(func() {
		if err := s.Close(); err != nil {
			t.Errorf("Close: %v", err)
		}
	})
	return s
}

// verifyNoLeaks snapshots the running goroutines; the returned func fails
// the test if any new ones are still around.
func verifyNoLeaks(t *testing.T) func() {
	ignore := goleak.IgnoreCurrent()
	return func() {
		t.Helper()
		goleak.VerifyNone(t, ignore)
	}
}

func item(id string, a, b int, name string) Values {
	vals := Values{pID: id, pA: a, pB: b}
	if name != "" {
		vals[pName] = name
	}
	return vals
}

func key(id string) []byte {
	return itemsTable.MustKey(id)
}

func addItems(t testing.TB, s *Store, table string, objs ...Values) *AddResponse {
	t.Helper()
	resp, err := s.Add(context.Background(), &AddRequest{Table: table, Objects: objs})
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := firstErr(resp.Results); err != nil {
		t.Fatalf("Add: %v", err)
	}
	return resp
}

func change(t testing.TB, s *Store, table string, k []byte, changes ...Change) *ChangeResponse {
	t.Helper()
	resp, err := s.Change(context.Background(), &ChangeRequest{Table: table, Objects: []ObjectChange{{Key: k, Changes: changes}}})
	if err != nil {
		t.Fatalf("Change: %v", err)
	}
	if err := firstErr(resp.Results); err != nil {
		t.Fatalf("Change: %v", err)
	}
	return resp
}

func del(t testing.TB, s *Store, table string, soft bool, keys ...[]byte) *DeleteResponse {
	t.Helper()
	resp, err := s.Delete(context.Background(), &DeleteRequest{Table: table, Keys: keys, Soft: soft})
	if err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := firstErr(resp.Results); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	return resp
}

func getOne(t testing.TB, s *Store, table string, k []byte) GetResult {
	t.Helper()
	resp, err := s.Get(context.Background(), &GetRequest{Table: table, Keys: [][]byte{k}})
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	return resp.Objects[0]
}

func scanKeys(t testing.TB, s *Store, req *ScanRequest) ([]string, ScanPlan) {
	t.Helper()
	resp, err := s.Scan(context.Background(), req)
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	var out []string
	for _, obj := range resp.Objects {
		out = append(out, obj.Values[pID].(string))
	}
	return out, resp.Plan
}

func nextEvent(t testing.TB, sub *Subscription) UpdateResponse {
	t.Helper()
	select {
	case ev, ok := <-sub.Events():
		if !ok {
			t.Fatalf("** subscription closed, wanted an event")
		}
		return ev
	case <-time.After(5 * time.Second):
		t.Fatalf("** timed out waiting for an event")
	}
	return nil
}

func noEvent(t testing.TB, sub *Subscription) {
	t.Helper()
	select {
	case ev := <-sub.Events():
		t.Fatalf("** got %v, wanted no event", ev)
	case <-time.After(50 * time.Millisecond):
	}
}

// counterValue sums a counter family from the store's private registry,
// restricted to one table label when table is not empty.
func counterValue(t testing.TB, reg *prometheus.Registry, name, table string) float64 {
	t.Helper()
	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	var sum float64
	for _, mf := range mfs {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			if table != "" && !hasLabel(m.GetLabel(), "table", table) {
				continue
			}
			if c := m.GetCounter(); c != nil {
				sum += c.GetValue()
			} else if g := m.GetGauge(); g != nil {
				sum += g.GetValue()
			}
		}
	}
	return sum
}

func hasLabel[L interface {
	GetName() string
	GetValue() string
}](labels []L, name, value string) bool {
	for _, l := range labels {
		if l.GetName() == name && l.GetValue() == value {
			return true
		}
	}
	return false
}

func deepEqual[T any](t testing.TB, a, e T) {
	if !reflect.DeepEqual(a, e) {
		t.Helper()
		t.Errorf("** got %v, wanted %v", a, e)
	}
}

func isErr(t testing.TB, err, target error) {
	if !errors.Is(err, target) {
		t.Helper()
		t.Errorf("** got error %v, wanted %v", err, target)
	}
}

func isErrAs[E error](t testing.TB, err error) E {
	t.Helper()
	var e E
	if !errors.As(err, &e) {
		t.Fatalf("** got error %v (%T), wanted %T", err, err, e)
	}
	return e
}
