// Package bridge is the host side of the memory-access and jump-resolution
// thunks emitted code needs (spec §4.H): mmu_read_{byte,word,dword},
// mmu_store_dword, and get_host_jump_addr.
//
// Unlike the Rust original this project's spec was distilled from, emitted
// code here never calls these as a raw native `call` into Go. A reference
// pure-Go JIT in this project's own example corpus hit the same wall and
// documented why: "we don't use call instruction ... general limitations on
// pure Go JIT engines" (wazero's classic wasm/jit backend). Go's internal
// calling convention reserves a register for the goroutine pointer and
// expects a managed stack with guard-page checks; a block entered through
// execbuf's trampoline cannot safely transfer control into arbitrary Go
// code and back without either reimplementing those invariants in hand-
// written assembly per call site, or routing through the one place this
// project already crosses that boundary safely: the interruption protocol
// (spec §4.E, guest.Interruption). So a block never calls bridge directly —
// it writes an InterruptionMemRead/MemWrite/PrepareJump record and suspends
// through the trampoline's return register; package engine calls the
// functions below from ordinary Go between dispatches, then resumes the
// block. This is a deliberate adaptation, not an oversight — see DESIGN.md.
package bridge

import (
	"fmt"

	"github.com/kestrelcore/n64jit/guest"
	"github.com/kestrelcore/n64jit/jumptable"
	"github.com/kestrelcore/n64jit/rdram"
)

// Bridge holds the collaborators the thunks below need: a memory unit to
// read and write guest RAM, and a physical-address translator.
type Bridge struct {
	Mem        rdram.MemoryUnit
	Translator rdram.PhysTranslator
}

// New returns a Bridge wired to the given memory unit and translator.
func New(mem rdram.MemoryUnit, tr rdram.PhysTranslator) *Bridge {
	return &Bridge{Mem: mem, Translator: tr}
}

// ErrUnmapped is returned when a guest virtual address falls outside every
// segment the translator recognizes. Package engine does not treat it as
// fatal: it logs a warning, and a failed read yields zero.
type ErrUnmapped struct{ VAddr uint64 }

func (e ErrUnmapped) Error() string {
	return fmt.Sprintf("bridge: unmapped guest virtual address %#x", e.VAddr)
}

// ServiceMemRead satisfies an InterruptionMemRead: translates in.Target,
// performs a sized big-endian load, and returns the zero-extended result for
// the caller to write back into Interruption.Result before resuming.
func (b *Bridge) ServiceMemRead(in guest.Interruption) (result uint64, err error) {
	paddr, ok := b.Translator.Translate(in.Target)
	if !ok {
		return 0, ErrUnmapped{in.Target}
	}
	switch in.Size {
	case guest.MemByte:
		return uint64(b.Mem.ReadU8(paddr)), nil
	case guest.MemHalf:
		return uint64(b.Mem.ReadU16(paddr)), nil
	case guest.MemWord:
		return uint64(b.Mem.ReadU32(paddr)), nil
	default:
		return 0, fmt.Errorf("bridge: mmu_read: unsupported size %d", in.Size)
	}
}

// ServiceMemWrite satisfies an InterruptionMemWrite: translates in.Target,
// stores the low bits of in.StoreValue per in.Size in big-endian order, and
// returns the physical interval the engine should mark for cache
// invalidation (spec §4.H: mmu_store_dword sets cache_invalidation).
func (b *Bridge) ServiceMemWrite(in guest.Interruption) (iv guest.CacheInterval, err error) {
	paddr, ok := b.Translator.Translate(in.Target)
	if !ok {
		return guest.CacheInterval{}, ErrUnmapped{in.Target}
	}
	switch in.Size {
	case guest.MemByte:
		b.Mem.StoreU8(paddr, byte(in.StoreValue))
	case guest.MemHalf:
		b.Mem.StoreU16(paddr, uint16(in.StoreValue))
	case guest.MemWord:
		b.Mem.StoreU32(paddr, uint32(in.StoreValue))
	default:
		return guest.CacheInterval{}, fmt.Errorf("bridge: mmu_store: unsupported size %d", in.Size)
	}
	return guest.CacheInterval{Valid: true, Start: paddr, End: paddr + uint64(in.Size)}, nil
}

// GetHostJumpAddr implements get_host_jump_addr's fetch-or-create contract
// (spec §4.H): query the jump table, and if unresolved, leave an empty
// entry for a later Resolve once the target is compiled. Called by the
// engine when handling an InterruptionPrepareJump; it is not a function
// emitted code calls directly (see the package doc comment).
func (b *Bridge) GetHostJumpAddr(jt *jumptable.Table, vaddr uint64) (uintptr, bool) {
	if entry, ok := jt.Resolved(vaddr); ok {
		return entry, true
	}
	jt.Query(vaddr)
	return 0, false
}
