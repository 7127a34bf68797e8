// Package transcache is the physical-address-keyed translation cache (spec
// §4.F): it owns compiled blocks and answers invalidation queries when
// guest stores overwrite code the cache has already translated.
//
// Blocks are held in a slab rather than behind raw pointers. Every other
// component that needs to reference a cached block — chiefly the jump
// table, package jumptable — holds a Handle (slab index + generation) and
// re-resolves it through Lookup rather than keeping the *execbuf.Buffer
// itself. This is the "arena with indices" resolution the spec's open
// question on jump-table lifetime calls out explicitly: a generation
// mismatch after eviction is a cheap, always-safe way to notice a stale
// reference, where a raw pointer into freed executable memory would not be.
package transcache

import "github.com/kestrelcore/n64jit/execbuf"

// Handle is a stable, safely-stale-detectable reference to a slab slot.
type Handle struct {
	index int
	gen   uint64
}

// Valid reports whether h was ever issued; it says nothing about whether
// the slot it names is still alive — use Lookup for that.
func (h Handle) Valid() bool { return h.gen != 0 }

type entry struct {
	alive      bool
	gen        uint64
	addr       uint64
	start, end uint64
	block      *execbuf.Buffer
}

// Cache is the physical-address range map of compiled blocks.
//
// Not safe for concurrent use without external synchronization; the engine
// serializes all cache access within its single dispatch loop (spec §5).
type Cache struct {
	slab    []entry
	free    []int
	byAddr  map[uint64]Handle
	nextGen uint64
}

// New returns an empty Cache.
func New() *Cache {
	return &Cache{byAddr: make(map[uint64]Handle)}
}

// Builder constructs a block for a cache miss, returning the compiled
// buffer and the physical byte interval [start, end) it covers.
type Builder func() (block *execbuf.Buffer, start, end uint64, err error)

// GetOrInsertWith returns the cached block for addr, calling build to
// compile one on a miss. Idempotent on repeated equal keys when no
// intervening invalidation has dropped the entry (spec §8 property a).
func (c *Cache) GetOrInsertWith(addr uint64, build Builder) (Handle, *execbuf.Buffer, error) {
	if h, ok := c.byAddr[addr]; ok {
		if e := c.slab[h.index]; e.alive && e.gen == h.gen {
			return h, e.block, nil
		}
		delete(c.byAddr, addr)
	}

	block, start, end, err := build()
	if err != nil {
		return Handle{}, nil, err
	}

	c.nextGen++
	e := entry{alive: true, gen: c.nextGen, addr: addr, start: start, end: end, block: block}

	var idx int
	if n := len(c.free); n > 0 {
		idx = c.free[n-1]
		c.free = c.free[:n-1]
		c.slab[idx] = e
	} else {
		idx = len(c.slab)
		c.slab = append(c.slab, e)
	}

	h := Handle{index: idx, gen: e.gen}
	c.byAddr[addr] = h
	return h, block, nil
}

// HandleAt returns the live handle keyed by the exact physical start address
// addr, if any. Used by package engine to populate the jump table with the
// handle of a block it just compiled or found via GetOrInsertWith (spec
// §4.G: "on resolution, the entry is populated with the entry pointer of
// the compiled block that owns the target").
func (c *Cache) HandleAt(addr uint64) (Handle, bool) {
	h, ok := c.byAddr[addr]
	return h, ok
}

// Lookup resolves h to its block if it is still alive and the generation
// matches; ok is false for any stale or unknown handle.
func (c *Cache) Lookup(h Handle) (block *execbuf.Buffer, ok bool) {
	if h.index < 0 || h.index >= len(c.slab) {
		return nil, false
	}
	e := c.slab[h.index]
	if !e.alive || e.gen != h.gen {
		return nil, false
	}
	return e.block, true
}

// Invalidate drops every entry whose byte range intersects [start, end),
// closing its executable buffer and returning the handles that were
// dropped so callers (the jump table) can purge their own references
// (spec §8 property b, §4.G's coordinated-drop requirement).
func (c *Cache) Invalidate(start, end uint64) []Handle {
	var dropped []Handle
	for i := range c.slab {
		e := &c.slab[i]
		if !e.alive || e.end <= start || end <= e.start {
			continue
		}
		dropped = append(dropped, Handle{index: i, gen: e.gen})
		delete(c.byAddr, e.addr)
		_ = e.block.Close()
		e.alive = false
		e.block = nil
		c.free = append(c.free, i)
	}
	return dropped
}

// Len reports the number of live entries, for tests and the debug monitor.
func (c *Cache) Len() int {
	n := 0
	for _, e := range c.slab {
		if e.alive {
			n++
		}
	}
	return n
}
