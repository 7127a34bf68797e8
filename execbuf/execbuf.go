// Package execbuf owns the mapped executable memory a compiled block lives
// in and the small trampoline that crosses from Go into it and back.
//
// A Buffer is immutable once finalized (spec §4.B): code is written while
// the mapping is still writable, then the page is flipped read+execute and
// never written to again. This project never maps a page both writable and
// executable at once.
package execbuf

import (
	"fmt"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/kestrelcore/n64jit/encoder"
)

// StateReg, ReturnReg and the two scratch registers are the host-register
// conventions the trampoline and every compiled block agree on. They are
// left out of package translator's register pool (regPool), so the
// allocator (package regalloc) never hands them out. The trampoline's assembly (trampoline_amd64.s) hard-
// codes R15/R14; these constants are what package translator's code
// generation reads, and must name the same two registers.
const (
	// StateReg is the register holding the *guest.State pointer for the
	// whole lifetime of a compiled block (spec §4.B step 2).
	StateReg = encoder.R15
	// ReturnReg is loaded with the trampoline's own resume point before a
	// block is entered; a block suspends by jumping through it rather than
	// returning, so chained blocks never grow the host call stack.
	ReturnReg = encoder.R14
	// Scratch1 and Scratch2 are reserved for emitted code's own temporaries,
	// e.g. computing a memory-access virtual address before an interruption.
	Scratch1 = encoder.R12
	Scratch2 = encoder.R13
)

// ErrProtect wraps a failure to change a mapping's page protection.
type ErrProtect struct {
	Op  string
	Err error
}

func (e ErrProtect) Error() string { return fmt.Sprintf("execbuf: %s: %v", e.Op, e.Err) }
func (e ErrProtect) Unwrap() error { return e.Err }

// Buffer is one block's worth of mapped executable memory: an owned
// read+execute byte region, its raw entry pointer, the originating
// guest virtual PC, and its length in guest bytes (spec §4.B).
//
// A Buffer's mapping is rounded up to a full page; code shorter than a page
// wastes the remainder, which is acceptable at the block granularity this
// project compiles at.
type Buffer struct {
	mem      []byte
	guestPC  uint64
	guestLen uint32
	final    bool
}

// New maps len(code) bytes (rounded to a page), copies code in, flips the
// mapping to read+execute, and returns the finalized Buffer. guestPC and
// guestLen are purely descriptive metadata the translation cache keys its
// intervals on; they play no role in execution.
func New(code []byte, guestPC uint64, guestLen uint32) (*Buffer, error) {
	if len(code) == 0 {
		return nil, fmt.Errorf("execbuf: empty block")
	}
	pageSize := unix.Getpagesize()
	size := (len(code) + pageSize - 1) &^ (pageSize - 1)

	mem, err := unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANON)
	if err != nil {
		return nil, ErrProtect{"mmap", err}
	}
	copy(mem, code)

	if err := unix.Mprotect(mem, unix.PROT_READ|unix.PROT_EXEC); err != nil {
		_ = unix.Munmap(mem)
		return nil, ErrProtect{"mprotect rx", err}
	}

	return &Buffer{mem: mem, guestPC: guestPC, guestLen: guestLen, final: true}, nil
}

// GuestPC is the virtual address of the first guest instruction this block
// translates.
func (b *Buffer) GuestPC() uint64 { return b.guestPC }

// GuestLen is the number of guest bytes this block covers.
func (b *Buffer) GuestLen() uint32 { return b.guestLen }

// Entry is the raw host address execution enters at.
func (b *Buffer) Entry() uintptr { return uintptr(unsafe.Pointer(&b.mem[0])) }

// Code returns the raw bytes backing this block, for read-only host-code
// disassembly tooling (cmd/jitmon). The slice aliases the executable
// mapping; callers must not write through it.
func (b *Buffer) Code() []byte { return b.mem }

// Close unmaps the buffer. Callers must not call Entry or Execute afterward.
func (b *Buffer) Close() error {
	if b.mem == nil {
		return nil
	}
	err := unix.Munmap(b.mem)
	b.mem = nil
	return err
}
