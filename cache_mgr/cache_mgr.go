package cache_mgr

import (
	"log"
	"reflect"
	"sync"

	"github.com/dropbox/godropbox/errors"

	"github.com/shangmacun/tpie"
)

// Warn receives cache parameter warnings; tests may swap it.
var Warn = log.Default()

// Writeback is the caller-supplied capability invoked whenever the
// cache displaces an occupied slot: on eviction by Write, on Erase,
// and on Flush.  It is never invoked on a Read hit.
type Writeback[V any] func(V)

type entry[V any] struct {
	key   uint64
	value V
}

// Cache is a set-associative map from 64-bit keys to values with LRU
// replacement inside each set.  Key 0 is reserved to mean "empty
// slot"; passing it is a programmer error.  Within a set, slot 0 is
// most recently used and slot assoc-1 is evicted first.  Every public
// operation is atomic relative to the others on the same instance.
type Cache[V any] struct {
	mu        sync.Mutex
	entries   []entry[V]
	capacity  int
	assoc     int
	sets      uint64
	writeback Writeback[V]
	mem       *tpie.Memory
	charged   int64
	closed    bool
}

// Options tune cache construction.  The zero value selects the
// package defaults.
type Options struct {
	// Memory charges the slot array against a byte budget.  Defaults
	// to tpie.DefaultMemory.
	Memory *tpie.Memory
}

// New creates a cache holding up to capacity entries in sets of
// assoc slots.  assoc = 0 selects full associativity.  A capacity
// that is not a multiple of the associativity is rounded down with a
// warning.  A zero-capacity cache forwards every write directly to
// the writeback capability.
func New[V any](capacity, assoc int, writeback Writeback[V], o *Options) (*Cache[V], error) {
	if capacity < 0 || assoc < 0 {
		return nil, tpie.Errorf(tpie.OutOfRange,
			"capacity %d and associativity %d must be non-negative", capacity, assoc)
	}
	if writeback == nil {
		return nil, tpie.NewError(tpie.PermissionDenied, "a writeback capability is required")
	}
	mem := tpie.DefaultMemory
	if o != nil && o.Memory != nil {
		mem = o.Memory
	}
	if assoc == 0 {
		assoc = capacity
	}
	if capacity != 0 {
		if assoc > capacity {
			Warn.Printf("cache associativity %d exceeds capacity %d; reduced to capacity", assoc, capacity)
			assoc = capacity
		}
		if capacity%assoc != 0 {
			Warn.Printf("cache capacity %d is not a multiple of associativity %d; capacity reduced to %d",
				capacity, assoc, (capacity/assoc)*assoc)
			capacity = (capacity / assoc) * assoc
		}
	}
	c := &Cache[V]{
		capacity:  capacity,
		assoc:     assoc,
		writeback: writeback,
		mem:       mem,
	}
	if capacity != 0 {
		c.sets = uint64(capacity / assoc)
		var v V
		entrySize := int64(reflect.TypeOf(&v).Elem().Size()) + 8
		c.charged = int64(capacity) * entrySize
		if err := mem.Charge(c.charged); err != nil {
			return nil, err
		}
		c.entries = make([]entry[V], capacity)
	}
	return c, nil
}

func (c *Cache[V]) set(key uint64) []entry[V] {
	base := (key % c.sets) * uint64(c.assoc)
	return c.entries[base : base+uint64(c.assoc)]
}

// Read looks key up in its set.  On a hit the entry is removed from
// the cache and handed to the caller, who now owns it; no writeback
// occurs.
func (c *Cache[V]) Read(key uint64) (V, bool) {
	mustKey(key)
	var zero V
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.capacity == 0 {
		return zero, false
	}
	set := c.set(key)
	i := 0
	for ; i < c.assoc; i++ {
		if set[i].key == key {
			break
		}
	}
	if i == c.assoc {
		return zero, false
	}
	v := set[i].value
	// Slide later entries up so the occupied prefix stays dense, and
	// mark the trailing slot empty.
	copy(set[i:], set[i+1:])
	set[c.assoc-1] = entry[V]{}
	return v, true
}

// Write inserts (key, value) at the MRU slot of its set.  An occupied
// LRU slot is written back first; prior occupants slide toward the
// LRU end.  With zero capacity the value goes straight to the
// writeback capability.
func (c *Cache[V]) Write(key uint64, value V) {
	mustKey(key)
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.capacity == 0 {
		c.writeback(value)
		return
	}
	set := c.set(key)
	if set[c.assoc-1].key != 0 {
		c.writeback(set[c.assoc-1].value)
	}
	copy(set[1:], set[:c.assoc-1])
	set[0] = entry[V]{key: key, value: value}
}

// Erase removes key from its set, writing the value back first, and
// reports whether the key was present.
func (c *Cache[V]) Erase(key uint64) bool {
	mustKey(key)
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.capacity == 0 {
		return false
	}
	set := c.set(key)
	i := 0
	for ; i < c.assoc; i++ {
		if set[i].key == key {
			break
		}
	}
	if i == c.assoc {
		return false
	}
	c.writeback(set[i].value)
	copy(set[i:], set[i+1:])
	set[c.assoc-1] = entry[V]{}
	return true
}

// Flush writes back every occupied slot and empties the cache.
func (c *Cache[V]) Flush() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := range c.entries {
		if c.entries[i].key != 0 {
			c.writeback(c.entries[i].value)
			c.entries[i] = entry[V]{}
		}
	}
}

// Len reports the number of occupied slots.
func (c *Cache[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for i := range c.entries {
		if c.entries[i].key != 0 {
			n++
		}
	}
	return n
}

// Capacity reports the effective capacity after rounding.
func (c *Cache[V]) Capacity() int { return c.capacity }

// Associativity reports the effective associativity.
func (c *Cache[V]) Associativity() int { return c.assoc }

// Close flushes the cache and releases its slot array's memory
// charge.
func (c *Cache[V]) Close() {
	c.Flush()
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	c.mem.Release(c.charged)
	c.charged = 0
}

func mustKey(key uint64) {
	if key == 0 {
		panic(errors.New("cache key 0 is reserved for empty slots"))
	}
}
