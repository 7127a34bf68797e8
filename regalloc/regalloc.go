// Package regalloc binds guest register slots to host registers on demand,
// evicting by least-recently-borrowed when none are free (spec §4.D). It
// holds no emitted-code state of its own — the translator asks it for a
// register, gets back an optional evicted slot to spill, and decides what
// instructions that implies.
package regalloc

import "github.com/kestrelcore/n64jit/encoder"

// Slot identifies what a host register is currently bound to: a guest GPR
// index, or the guest program counter.
type Slot struct {
	IsPC bool
	GPR  int
}

// PCSlot is the well-known Slot for the guest program counter.
var PCSlot = Slot{IsPC: true}

// GPRSlot returns the Slot for guest register i.
func GPRSlot(i int) Slot { return Slot{GPR: i} }

type binding struct {
	reg    encoder.Reg
	borrow uint64
}

// Allocator is the guest-slot to host-register map described in spec §4.D:
// a map from Slot to host register plus a monotonically increasing borrow
// index per binding, a free-register set, and a scratch-register exclusion
// list.
//
// Not safe for concurrent use; one Allocator compiles one basic block at a
// time, matching the single-threaded translation model (spec §5).
type Allocator struct {
	bound  map[Slot]binding
	byReg  map[encoder.Reg]Slot
	free   map[encoder.Reg]bool
	order  []encoder.Reg // stable iteration order for free-set scans
	borrow uint64
}

// New returns an Allocator whose free set is the given pool of host
// registers, in the order provided. Any register reserved for the state
// pointer, the trampoline return register or call-sequence scratch space
// (spec §4.B) must either be left out of pool or removed with Exclude before
// allocating anything; package translator leaves them out of its pool.
func New(pool []encoder.Reg) *Allocator {
	a := &Allocator{
		bound: make(map[Slot]binding),
		byReg: make(map[encoder.Reg]Slot),
		free:  make(map[encoder.Reg]bool, len(pool)),
		order: append([]encoder.Reg(nil), pool...),
	}
	for _, r := range pool {
		a.free[r] = true
	}
	return a
}

// Exclude removes r from the free set without binding it to anything, so a
// caller can pin a register (such as one package execbuf reserves) that is
// part of the pool it passed to New.
func (a *Allocator) Exclude(r encoder.Reg) {
	delete(a.free, r)
}

// Get returns the host register bound to slot, binding a fresh one via
// Insert if slot is not yet bound. Every call bumps the binding's borrow
// index, so recently-used slots are the least likely to be evicted next.
func (a *Allocator) Get(slot Slot) (encoder.Reg, *Slot) {
	if b, ok := a.bound[slot]; ok {
		a.borrow++
		b.borrow = a.borrow
		a.bound[slot] = b
		return b.reg, nil
	}
	return a.Insert(slot)
}

// Insert binds slot to a register: a free one if available, otherwise the
// register whose current binding has the smallest borrow index (LRU-by-age).
// In the eviction case the evicted Slot is returned so the caller can spill
// it to the state struct before reusing the register; otherwise the second
// return value is nil.
func (a *Allocator) Insert(slot Slot) (encoder.Reg, *Slot) {
	for _, r := range a.order {
		if a.free[r] {
			delete(a.free, r)
			a.borrow++
			a.bound[slot] = binding{reg: r, borrow: a.borrow}
			a.byReg[r] = slot
			return r, nil
		}
	}

	var evictReg encoder.Reg
	var evictSlot Slot
	lowest := ^uint64(0)
	for r, s := range a.byReg {
		if b := a.bound[s]; b.borrow < lowest {
			lowest = b.borrow
			evictReg = r
			evictSlot = s
		}
	}

	delete(a.bound, evictSlot)
	a.borrow++
	a.bound[slot] = binding{reg: evictReg, borrow: a.borrow}
	a.byReg[evictReg] = slot
	return evictReg, &evictSlot
}

// Free releases slot's binding, returning its register to the free set. If
// this empties the allocator entirely, the borrow counter resets to zero
// (spec §8 register-allocator property d) so a long-running engine's borrow
// index never grows unbounded across blocks.
func (a *Allocator) Free(slot Slot) {
	b, ok := a.bound[slot]
	if !ok {
		return
	}
	delete(a.bound, slot)
	delete(a.byReg, b.reg)
	a.free[b.reg] = true
	if len(a.bound) == 0 {
		a.borrow = 0
	}
}

// Bound reports whether slot currently has a host register, and which one.
func (a *Allocator) Bound(slot Slot) (encoder.Reg, bool) {
	b, ok := a.bound[slot]
	return b.reg, ok
}

// Bindings returns a snapshot of every currently-bound slot and its host
// register, used by the translator's epilogue to sync every live guest
// register back to the state struct before a block suspends.
func (a *Allocator) Bindings() map[Slot]encoder.Reg {
	out := make(map[Slot]encoder.Reg, len(a.bound))
	for s, b := range a.bound {
		out[s] = b.reg
	}
	return out
}

// Reset clears every binding and returns every register to the free set,
// as if the Allocator had just been constructed. Used between blocks — a
// fresh Allocator is cheaper to build per compile in practice, but Reset
// lets a caller reuse one without reallocating its maps.
func (a *Allocator) Reset() {
	for s := range a.bound {
		a.Free(s)
	}
}
