package lru

import (
	"sync"
	"sync/atomic"
)

// DefaultCapacity is used when a non-positive capacity is requested.
const DefaultCapacity = 128

// Counter is a fixed-capacity map from K to a non-negative count with
// least-recently-used eviction. Reads through Get and all writes count as a use.
// It is safe for concurrent use.
type Counter[K comparable] struct {
	mu       sync.Mutex
	entries  map[K]*entry[K]
	head     *entry[K] // Most recently used.
	tail     *entry[K] // Least recently used.
	capacity int

	hits      atomic.Int64
	misses    atomic.Int64
	evictions atomic.Int64
}

type entry[K comparable] struct {
	key   K
	value int64
	prev  *entry[K]
	next  *entry[K]
}

// Entry is a key/count pair returned by Snapshot.
type Entry[K comparable] struct {
	Key   K
	Value int64
}

// Stats summarises cache activity.
type Stats struct {
	Len       int
	Capacity  int
	Hits      int64
	Misses    int64
	Evictions int64
}

// New creates a Counter holding at most capacity keys.
func New[K comparable](capacity int) *Counter[K] {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Counter[K]{
		entries:  make(map[K]*entry[K], capacity),
		capacity: capacity,
	}
}

// Get returns the count for key, or 0 when absent. A hit marks key as recently used.
func (c *Counter[K]) Get(key K) int64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		c.misses.Add(1)
		return 0
	}
	c.hits.Add(1)
	c.moveToFront(e)
	return e.value
}

// Peek returns the count for key without touching recency.
func (c *Counter[K]) Peek(key K) int64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.entries[key]; ok {
		return e.value
	}
	return 0
}

// Increment adds one to key, inserting it with a count of 1 when absent,
// and returns the new count.
func (c *Counter[K]) Increment(key K) int64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.entries[key]; ok {
		e.value++
		c.moveToFront(e)
		return e.value
	}
	c.insert(key, 1)
	return 1
}

// MergeSet overwrites the count for key unconditionally. Negative values are stored as 0.
func (c *Counter[K]) MergeSet(key K, value int64) {
	if value < 0 {
		value = 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.entries[key]; ok {
		e.value = value
		c.moveToFront(e)
		return
	}
	c.insert(key, value)
}

// Len returns the number of keys currently held.
func (c *Counter[K]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Cap returns the configured capacity.
func (c *Counter[K]) Cap() int {
	return c.capacity
}

// Snapshot copies the current contents, most recently used first.
func (c *Counter[K]) Snapshot() []Entry[K] {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]Entry[K], 0, len(c.entries))
	for e := c.head; e != nil; e = e.next {
		out = append(out, Entry[K]{Key: e.key, Value: e.value})
	}
	return out
}

// Stats reports size and activity counters.
func (c *Counter[K]) Stats() Stats {
	return Stats{
		Len:       c.Len(),
		Capacity:  c.capacity,
		Hits:      c.hits.Load(),
		Misses:    c.misses.Load(),
		Evictions: c.evictions.Load(),
	}
}

// insert adds a new entry at the front, evicting the tail first when full.
// c.mu must be held.
func (c *Counter[K]) insert(key K, value int64) {
	if len(c.entries) >= c.capacity {
		c.evictOldest()
	}
	e := &entry[K]{key: key, value: value}
	c.entries[key] = e
	c.pushFront(e)
}

func (c *Counter[K]) evictOldest() {
	victim := c.tail
	if victim == nil {
		return
	}
	c.unlink(victim)
	delete(c.entries, victim.key)
	c.evictions.Add(1)
}

func (c *Counter[K]) moveToFront(e *entry[K]) {
	if c.head == e {
		return
	}
	c.unlink(e)
	c.pushFront(e)
}

func (c *Counter[K]) pushFront(e *entry[K]) {
	e.prev = nil
	e.next = c.head
	if c.head != nil {
		c.head.prev = e
	}
	c.head = e
	if c.tail == nil {
		c.tail = e
	}
}

func (c *Counter[K]) unlink(e *entry[K]) {
	if e.prev != nil {
		e.prev.next = e.next
	} else {
		c.head = e.next
	}
	if e.next != nil {
		e.next.prev = e.prev
	} else {
		c.tail = e.prev
	}
	e.prev = nil
	e.next = nil
}
