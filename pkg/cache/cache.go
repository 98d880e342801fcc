// pkg/cache/cache.go
// Package cache implements the in-memory page cache: an LRU of deserialized
// pages keyed by page number, with dirty pages pinned against eviction
// (spec §4.2 "Page cache"). Grounded on the teacher's
// pkg/cache/query_cache.go container/list + map-of-elements idiom, adapted
// from query results keyed by SQL hash to database pages keyed by page
// number.
package cache

import (
	"container/list"
	"sync"
)

// Page is the minimal shape the cache needs from a deserialized page: the
// number it lives at and whatever raw bytes its format package produced.
// The tree engine embeds richer state (format.Node, etc.) behind this.
type Page interface {
	PageNumber() uint32
}

type entry struct {
	page    Page
	dirty   bool
	element *list.Element
}

// Cache is an LRU of in-memory pages, addressed only by page number (spec
// §4.2: "identity of memory objects across touches is not preserved").
type Cache struct {
	mu       sync.Mutex
	capacity int
	entries  map[uint32]*entry
	lru      *list.List // list.Element.Value is uint32 (page number)

	hits, misses uint64
}

// Stats reports cache hit/miss counts, part of the embedding layer's
// Stats() surface (spec §6 "Stats: counters for reads, writes, hits...").
type Stats struct {
	Hits   uint64
	Misses uint64
}

// Stats returns a snapshot of the cache's hit/miss counters.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{Hits: c.hits, Misses: c.misses}
}

// New creates a cache that tries to keep at most capacity clean pages
// resident; capacity <= 0 means unbounded (Prune becomes a no-op).
func New(capacity int) *Cache {
	return &Cache{
		capacity: capacity,
		entries:  make(map[uint32]*entry),
		lru:      list.New(),
	}
}

// Find returns the cached page for pn, if present, without altering its
// LRU position.
func (c *Cache) Find(pn uint32) (Page, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[pn]
	if !ok {
		c.misses++
		return nil, false
	}
	c.hits++
	return e.page, true
}

// Insert adds p to the cache at the MRU end. If a page already occupies
// p.PageNumber(), it is replaced. The new entry is clean.
func (c *Cache) Insert(p Page) {
	c.mu.Lock()
	defer c.mu.Unlock()
	pn := p.PageNumber()
	if e, ok := c.entries[pn]; ok {
		e.page = p
		e.dirty = false
		c.lru.MoveToFront(e.element)
		return
	}
	el := c.lru.PushFront(pn)
	c.entries[pn] = &entry{page: p, element: el}
	c.evictLocked()
}

// Touch moves pn to the MRU end of the LRU list, if present (spec §4.2
// "touch (moves to MRU end of the LRU list)").
func (c *Cache) Touch(pn uint32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[pn]; ok {
		c.lru.MoveToFront(e.element)
	}
}

// MarkDirty pins pn against eviction by Prune until ClearDirty is called
// (spec §4.2: "dirty pages are additionally referenced by the dirty-set of
// the write transaction"; here dirty pinning is folded directly into the
// cache entry rather than tracked in a separate set, since the cache is the
// single owner of every live page per spec §4.1).
func (c *Cache) MarkDirty(pn uint32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[pn]; ok {
		e.dirty = true
	}
}

// ClearDirty unpins pn, making it eligible for eviction again. Called once
// a transaction's dirty pages have been durably written (spec §4.5
// "Commit").
func (c *Cache) ClearDirty(pn uint32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[pn]; ok {
		e.dirty = false
	}
}

// ClearAllDirty unpins every dirty page, making every cached page eligible
// for eviction again.
func (c *Cache) ClearAllDirty() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, e := range c.entries {
		e.dirty = false
	}
}

// IsDirty reports whether pn is currently pinned dirty.
func (c *Cache) IsDirty(pn uint32) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[pn]
	return ok && e.dirty
}

// Remove evicts pn from the cache without any notion of freeing the
// underlying page number (spec §4.2 "remove").
func (c *Cache) Remove(pn uint32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.removeLocked(pn)
}

func (c *Cache) removeLocked(pn uint32) {
	e, ok := c.entries[pn]
	if !ok {
		return
	}
	c.lru.Remove(e.element)
	delete(c.entries, pn)
}

// Delete is remove+free: it evicts pn from the cache and reports the page
// number to the caller so it can hand it to the free-page tracker (spec
// §4.2 "delete (remove+free)"). The cache itself has no notion of free
// pages; that bookkeeping lives in pkg/freepage.
func (c *Cache) Delete(pn uint32) {
	c.Remove(pn)
}

// Prune evicts clean pages from the LRU end while the cache holds more than
// capacity entries, stopping as soon as it reaches a dirty page or capacity
// (spec §4.2 "prune (while size > cache_size and the least-recent page is
// clean, evict it; dirty pages are pinned)").
func (c *Cache) Prune() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.evictLocked()
}

func (c *Cache) evictLocked() {
	if c.capacity <= 0 {
		return
	}
	for c.lru.Len() > c.capacity {
		back := c.lru.Back()
		if back == nil {
			return
		}
		pn := back.Value.(uint32)
		e := c.entries[pn]
		if e.dirty {
			// The least-recent page is pinned; spec says stop rather than
			// skip past it, since dirty pages are only a small, transient
			// fraction of the cache during a write transaction.
			return
		}
		c.lru.Remove(back)
		delete(c.entries, pn)
	}
}

// Len returns the number of pages currently resident.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
