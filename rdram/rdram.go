// rdram.go - guest physical memory for the MIPS III console target
//
// This module adapts the engine's memory-bus idiom (a mutex-guarded flat
// byte slice with typed big/little accessors and a memory-mapped I/O
// region table) from 32-bit little-endian peripheral buses to the 64-bit
// big-endian RDRAM window a MIPS III console guest expects. It implements
// the MemoryUnit capability set the core's translator/bridge consume
// (package bridge), plus an identity virtual→physical translator — the
// core treats both as external collaborators (spec §6) and only depends on
// their interfaces.
package rdram

import (
	"encoding/binary"
	"fmt"
	"sync"
)

const (
	// DefaultSize is 8MB, the stock RDRAM size of the reference console
	// this module's test fixtures target.
	DefaultSize = 8 * 1024 * 1024

	// addrMask is the address mask of a DefaultSize buffer. RDRAM.mask
	// applies the same folding using the actual buffer length, so addresses
	// above it alias down rather than panicking, mirroring how the real
	// console's address decoder folds the physical space.
	addrMask = DefaultSize - 1
)

// MemoryUnit is the big-endian typed read/write/copy capability set the
// translator's memory-access lowerings and the bridge thunks (package
// bridge) are written against. RDRAM satisfies it; package bridge holds
// its memory through this interface, and package translator does not
// import this package.
type MemoryUnit interface {
	ReadU8(paddr uint64) uint8
	ReadU16(paddr uint64) uint16
	ReadU32(paddr uint64) uint32
	StoreU8(paddr uint64, v uint8)
	StoreU16(paddr uint64, v uint16)
	StoreU32(paddr uint64, v uint32)
	CopyFrom(dst uint64, src []byte)
}

// RDRAM implements MemoryUnit over a contiguous block of guest physical
// memory. Access is guarded by a read/write mutex, following the teacher's
// SystemBus convention — the JIT itself runs single-threaded (spec §5), but
// a hosting emulator may poke RDRAM from an I/O-emulation goroutine between
// dispatches, so the lock stays.
type RDRAM struct {
	mu  sync.RWMutex
	mem []byte
}

// New allocates an RDRAM block of exactly size bytes, or DefaultSize if
// size is not positive. size is not rounded; it must be a power of two for
// the address mask to behave.
func New(size int) *RDRAM {
	if size <= 0 {
		size = DefaultSize
	}
	return &RDRAM{mem: make([]byte, size)}
}

func (r *RDRAM) mask(addr uint64) uint64 {
	return addr & uint64(len(r.mem)-1)
}

func (r *RDRAM) ReadU8(paddr uint64) uint8 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.mem[r.mask(paddr)]
}

func (r *RDRAM) ReadU16(paddr uint64) uint16 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a := r.mask(paddr)
	return binary.BigEndian.Uint16(r.mem[a : a+2])
}

func (r *RDRAM) ReadU32(paddr uint64) uint32 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a := r.mask(paddr)
	return binary.BigEndian.Uint32(r.mem[a : a+4])
}

func (r *RDRAM) StoreU8(paddr uint64, v uint8) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.mem[r.mask(paddr)] = v
}

func (r *RDRAM) StoreU16(paddr uint64, v uint16) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a := r.mask(paddr)
	binary.BigEndian.PutUint16(r.mem[a:a+2], v)
}

func (r *RDRAM) StoreU32(paddr uint64, v uint32) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a := r.mask(paddr)
	binary.BigEndian.PutUint32(r.mem[a:a+4], v)
}

// CopyFrom bulk-copies src into RDRAM starting at dst, used by the engine's
// end-to-end boot path to seed the cartridge header into RDRAM the way a PIF
// boot stub would (spec §8, end-to-end scenario 1).
func (r *RDRAM) CopyFrom(dst uint64, src []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a := r.mask(dst)
	n := copy(r.mem[a:], src)
	if n < len(src) {
		// wrap around rather than fail; the reference console's address
		// decoder does the same for a window-crossing DMA.
		copy(r.mem, src[n:])
	}
}

// Reset clears RDRAM to zero.
func (r *RDRAM) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.mem {
		r.mem[i] = 0
	}
}

// Len reports the backing buffer size.
func (r *RDRAM) Len() int {
	return len(r.mem)
}

// PhysTranslator is the virtual→physical translation capability the
// translator's memory-access lowerings invoke through the bridge. A real
// console additionally validates TLB/segment rules; this module implements
// only the direct-mapped kseg0/kseg1 identity relationship MIPS III uses
// for the uncached and cached direct segments, plus an identity mapping of
// the low 512MB of useg, which is sufficient for the
// covered instruction set (no user-segment paging is lowered, per spec
// Non-goals).
type PhysTranslator interface {
	Translate(vaddr uint64) (paddr uint64, ok bool)
}

// IdentityTranslator implements PhysTranslator by masking the kseg0/kseg1
// segment bits, matching the direct-mapped segments real MIPS III firmware
// uses for the boot path and most game code.
type IdentityTranslator struct{}

const (
	kseg0Base = 0xFFFFFFFF80000000
	kseg1Base = 0xFFFFFFFFA0000000
	ksegSize  = 0x20000000
)

func (IdentityTranslator) Translate(vaddr uint64) (uint64, bool) {
	switch {
	case vaddr >= kseg0Base && vaddr < kseg0Base+ksegSize:
		return vaddr - kseg0Base, true
	case vaddr >= kseg1Base && vaddr < kseg1Base+ksegSize:
		return vaddr - kseg1Base, true
	case vaddr < ksegSize:
		// useg, identity-mapped for this module's non-paging scope.
		return vaddr, true
	default:
		return 0, false
	}
}

func (r *RDRAM) String() string {
	return fmt.Sprintf("rdram(%d bytes)", len(r.mem))
}
