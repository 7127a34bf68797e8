// Package jumptable is the virtual/physical-target to resolved-host-pointer
// table used to chain compiled blocks at runtime (spec §4.G). A query miss
// inserts an empty entry; resolution later fills in the owning block.
//
// Entries reference blocks by transcache.Handle rather than a raw host
// pointer (spec §9 open question: "model as a weak handle + epoch"). A
// lookup that lands on a stale handle is treated exactly like an unresolved
// entry — the caller falls back to compiling or re-resolving — so a block
// dropped by the cache can never be jumped into by a dangling reference.
package jumptable

import "github.com/kestrelcore/n64jit/transcache"

// Table maps guest target addresses to the cache handle of the block that
// owns them, if resolved.
//
// Not safe for concurrent use; queried only from the engine's single
// dispatch loop (spec §5).
type Table struct {
	cache   *transcache.Cache
	entries map[uint64]transcache.Handle
}

// New returns an empty Table resolving handles against cache.
func New(cache *transcache.Cache) *Table {
	return &Table{cache: cache, entries: make(map[uint64]transcache.Handle)}
}

// Resolved reports the host entry point for target if a live, resolved
// block owns it. ok is false on miss (caller should insert an empty entry
// via Query) and on a stale handle (caller should re-resolve).
func (t *Table) Resolved(target uint64) (entry uintptr, ok bool) {
	h, found := t.entries[target]
	if !found || !h.Valid() {
		return 0, false
	}
	block, live := t.cache.Lookup(h)
	if !live {
		delete(t.entries, target)
		return 0, false
	}
	return block.Entry(), true
}

// Query records that target was asked for, inserting an empty (unresolved)
// entry if none exists yet. Mirrors the bridge thunk get_host_jump_addr's
// query-then-maybe-populate contract (spec §4.G).
func (t *Table) Query(target uint64) {
	if _, ok := t.entries[target]; !ok {
		t.entries[target] = transcache.Handle{}
	}
}

// Resolve populates target's entry with the cache handle of the block that
// now owns it.
func (t *Table) Resolve(target uint64, h transcache.Handle) {
	t.entries[target] = h
}

// Drop removes every entry pointing at one of the given handles. Called by
// the engine immediately after transcache.Cache.Invalidate returns its
// dropped-handle list, so jump-table and cache state never disagree about
// which blocks are live (spec §4.F: "removing a block drops all jump-table
// entries that point into it").
func (t *Table) Drop(handles []transcache.Handle) {
	if len(handles) == 0 {
		return
	}
	dead := make(map[transcache.Handle]bool, len(handles))
	for _, h := range handles {
		dead[h] = true
	}
	for target, h := range t.entries {
		if dead[h] {
			delete(t.entries, target)
		}
	}
}
