package vdb

import (
	"container/list"
	"sync"

	"github.com/andreyvit/vdb/hlc"
)

type cacheKey struct {
	table string
	key   string
}

type cacheEntry struct {
	ck      cacheKey
	ref     string
	version hlc.Version
	value   any
}

// valueCache keeps decoded values by (table, key, ref) with the version they
// were decoded at. Values handed out are shared and must not be modified.
type valueCache struct {
	mu       sync.Mutex
	capacity int
	items    map[cacheKey]map[string]*list.Element
	lru      *list.List
	metrics  *metrics
}

func newValueCache(capacity int, m *metrics) *valueCache {
	return &valueCache{
		capacity: capacity,
		items:    make(map[cacheKey]map[string]*list.Element),
		lru:      list.New(),
		metrics:  m,
	}
}

// get returns the value of ref at version. A cached value decoded at the
// same version is returned as is; otherwise decode runs, and its result
// replaces the cached one unless the cached one is newer.
func (c *valueCache) get(table string, key []byte, ref Ref, version hlc.Version, decode func() (any, error)) (any, error) {
	if c == nil || c.capacity <= 0 {
		return decode()
	}
	ck := cacheKey{table, string(key)}

	c.mu.Lock()
	if el := c.items[ck][string(ref)]; el != nil {
		ent := el.Value.(*cacheEntry)
		if ent.version == version {
			c.lru.MoveToFront(el)
			c.mu.Unlock()
			c.metrics.cacheHit()
			return ent.value, nil
		}
	}
	c.mu.Unlock()
	c.metrics.cacheMiss()

	value, err := decode()
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	refs := c.items[ck]
	if el := refs[string(ref)]; el != nil {
		ent := el.Value.(*cacheEntry)
		if version >= ent.version {
			ent.version, ent.value = version, value
			c.lru.MoveToFront(el)
		}
		return value, nil
	}
	if refs == nil {
		refs = make(map[string]*list.Element)
		c.items[ck] = refs
	}
	refs[string(ref)] = c.lru.PushFront(&cacheEntry{ck: ck, ref: string(ref), version: version, value: value})
	if c.lru.Len() > c.capacity {
		c.removeElement(c.lru.Back())
		c.metrics.cacheEviction()
	}
	return value, nil
}

// invalidate drops the entry of one ref.
func (c *valueCache) invalidate(table string, key []byte, ref Ref) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if el := c.items[cacheKey{table, string(key)}][string(ref)]; el != nil {
		c.removeElement(el)
	}
}

// evictKey drops every entry of a primary key.
func (c *valueCache) evictKey(table string, key []byte) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	ck := cacheKey{table, string(key)}
	for _, el := range c.items[ck] {
		c.lru.Remove(el)
	}
	delete(c.items, ck)
}

func (c *valueCache) removeElement(el *list.Element) {
	c.lru.Remove(el)
	ent := el.Value.(*cacheEntry)
	refs := c.items[ent.ck]
	delete(refs, ent.ref)
	if len(refs) == 0 {
		delete(c.items, ent.ck)
	}
}

func (c *valueCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}
