package vdb

import (
	"bytes"
	"slices"
	"sort"
)

// memBucket is a sorted slice of key/value pairs. Callers synchronize; the
// table lock guards every bucket of a table.
type memBucket[V any] struct {
	items []memKV[V] // sorted by key
}

type memKV[V any] struct {
	key   []byte
	value V
}

func (b *memBucket[V]) Len() int { return len(b.items) }

func (b *memBucket[V]) find(key []byte) (idx int, ok bool) {
	items := b.items
	i := sort.Search(len(items), func(i int) bool {
		return bytes.Compare(items[i].key, key) >= 0
	})
	if i < len(items) && bytes.Equal(items[i].key, key) {
		return i, true
	}
	return i, false
}

func (b *memBucket[V]) Get(key []byte) (V, bool) {
	i, ok := b.find(key)
	if !ok {
		var zero V
		return zero, false
	}
	return b.items[i].value, true
}

// Put stores value under key. The bucket keeps key, so it must not be
// modified afterwards.
func (b *memBucket[V]) Put(key []byte, value V) {
	i, ok := b.find(key)
	if ok {
		b.items[i].value = value
		return
	}
	b.items = slices.Insert(b.items, i, memKV[V]{key: key, value: value})
}

func (b *memBucket[V]) Delete(key []byte) bool {
	i, ok := b.find(key)
	if !ok {
		return false
	}
	b.items = slices.Delete(b.items, i, i+1)
	return true
}

// Load replaces the contents with items, which must be sorted.
func (b *memBucket[V]) Load(items []memKV[V]) {
	b.items = items
}

func (b *memBucket[V]) Cursor() *memCursor[V] {
	return &memCursor[V]{b: b, pos: -1}
}

// memCursor iterates a bucket. It is only valid while the bucket is not
// modified.
type memCursor[V any] struct {
	b   *memBucket[V]
	pos int
}

func (c *memCursor[V]) at(i int) []byte {
	c.pos = i
	if i < 0 || i >= len(c.b.items) {
		return nil
	}
	return c.b.items[i].key
}

func (c *memCursor[V]) Value() V {
	return c.b.items[c.pos].value
}

func (c *memCursor[V]) First() []byte {
	return c.at(0)
}

func (c *memCursor[V]) Last() []byte {
	return c.at(len(c.b.items) - 1)
}

// Seek moves to the first key >= seek.
func (c *memCursor[V]) Seek(seek []byte) []byte {
	i, _ := c.b.find(seek)
	return c.at(i)
}

// SeekPast moves to the first key that is greater than prefix and does not
// start with it.
func (c *memCursor[V]) SeekPast(prefix []byte) []byte {
	items := c.b.items
	i := sort.Search(len(items), func(i int) bool {
		return comparePrefix(items[i].key, prefix) > 0
	})
	return c.at(i)
}

// SeekLast moves to the last key that is less than prefix or starts with it.
func (c *memCursor[V]) SeekLast(prefix []byte) []byte {
	if len(prefix) == 0 {
		return c.Last()
	}
	c.SeekPast(prefix)
	return c.Prev()
}

// SeekBefore moves to the last key < seek.
func (c *memCursor[V]) SeekBefore(seek []byte) []byte {
	c.Seek(seek)
	return c.Prev()
}

func (c *memCursor[V]) Next() []byte {
	if c.pos < 0 {
		return c.First()
	}
	if c.pos >= len(c.b.items) {
		return nil
	}
	return c.at(c.pos + 1)
}

func (c *memCursor[V]) Prev() []byte {
	if c.pos <= 0 {
		c.pos = -1
		return nil
	}
	return c.at(c.pos - 1)
}
