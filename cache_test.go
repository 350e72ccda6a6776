package vdb

import (
	"context"
	"reflect"
	"testing"
)

func TestValueCacheGet(t *testing.T) {
	c := newValueCache(10, nil)
	var decodes int
	decoder := func(v any) func() (any, error) {
		return func() (any, error) {
			decodes++
			return v, nil
		}
	}
	k, ref := []byte("k"), Prop(1)

	deepEqual(t, must(c.get("t", k, ref, 5, decoder("a"))), any("a"))
	deepEqual(t, must(c.get("t", k, ref, 5, decoder("zzz"))), any("a"))
	deepEqual(t, decodes, 1)

	// an older reader decodes its own value and leaves the newer one cached
	deepEqual(t, must(c.get("t", k, ref, 3, decoder("old"))), any("old"))
	deepEqual(t, must(c.get("t", k, ref, 5, decoder("zzz"))), any("a"))
	deepEqual(t, decodes, 2)

	deepEqual(t, must(c.get("t", k, ref, 7, decoder("b"))), any("b"))
	deepEqual(t, must(c.get("t", k, ref, 7, decoder("zzz"))), any("b"))
	deepEqual(t, decodes, 3)
	deepEqual(t, c.Len(), 1)
}

func TestValueCacheEviction(t *testing.T) {
	c := newValueCache(2, nil)
	get := func(k string, ref Ref) {
		must(c.get("t", []byte(k), ref, 1, func() (any, error) { return k, nil }))
	}
	get("a", Prop(1))
	get("b", Prop(1))
	get("a", Prop(1)) // a becomes most recent
	get("c", Prop(1))
	deepEqual(t, c.Len(), 2)
	if c.items[cacheKey{"t", "b"}] != nil {
		t.Errorf("** b should have been evicted")
	}
	if c.items[cacheKey{"t", "a"}] == nil {
		t.Errorf("** a should have stayed")
	}

	get("a", Prop(2))
	c.evictKey("t", []byte("a"))
	deepEqual(t, c.Len(), 1)
	c.invalidate("t", []byte("c"), Prop(1))
	deepEqual(t, c.Len(), 0)
	deepEqual(t, len(c.items), 0)
}

func TestValueCacheDisabled(t *testing.T) {
	var c *valueCache
	var decodes int
	for range 2 {
		must(c.get("t", []byte("k"), Prop(1), 1, func() (any, error) {
			decodes++
			return nil, nil
		}))
	}
	deepEqual(t, decodes, 2)
	c.invalidate("t", []byte("k"), Prop(1))
	c.evictKey("t", []byte("k"))
}

func TestStoreReadsAreIdempotent(t *testing.T) {
	s := setup(t)
	reg := s.Registry()
	addItems(t, s, "items", Values{pID: "x1", pA: 1, pTags: []any{"a", "b"}, pAttrs: map[any]any{"k": "v"}})

	first := getOne(t, s, "items", key("x1"))
	hits := counterValue(t, reg, "vdb_cache_hits_total", "")
	second := getOne(t, s, "items", key("x1"))
	deepEqual(t, second, first)
	if reflect.ValueOf(second.Values[pTags]).Pointer() != reflect.ValueOf(first.Values[pTags]).Pointer() {
		t.Errorf("** second read decoded tags again")
	}
	if got := counterValue(t, reg, "vdb_cache_hits_total", ""); got <= hits {
		t.Errorf("** got %v cache hits, wanted more than %v", got, hits)
	}

	// a change invalidates only what it touched
	change(t, s, "items", key("x1"), SetValue{Prop(pTags).Item(1), "c"})
	third := getOne(t, s, "items", key("x1"))
	deepEqual(t, third.Values[pTags], any([]any{"a", "c"}))
	deepEqual(t, third.Values[pAttrs], first.Values[pAttrs])

	// deleting the key and re-adding it never serves stale values
	del(t, s, "items", false, key("x1"))
	addItems(t, s, "items", Values{pID: "x1", pTags: []any{"z"}})
	deepEqual(t, getOne(t, s, "items", key("x1")).Values, Values{pID: "x1", pTags: []any{"z"}})
}

func TestStoreWithoutCache(t *testing.T) {
	s := setup(t, func(o *Options) { o.CacheCapacity = -1 })
	if s.cache != nil {
		t.Fatalf("** cache enabled")
	}
	addItems(t, s, "items", item("x1", 1, 2, ""))
	deepEqual(t, getOne(t, s, "items", key("x1")).Values[pA], any(int64(1)))
	resp := must(s.Scan(context.Background(), &ScanRequest{Table: "items"}))
	deepEqual(t, len(resp.Objects), 1)
}
