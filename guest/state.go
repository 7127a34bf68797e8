// state.go - shared architectural state for the MIPS III guest CPU
//
// This module defines the single struct shared between the host engine and
// emitted JIT code. Every field here is addressed by the translator through
// a fixed byte offset baked into generated x86-64 instructions (see package
// jitstate), so changing a field's type or position changes the JIT's
// output. Treat the layout as load-bearing, not cosmetic.
package guest

import "fmt"

// NumGPR is the number of general-purpose registers in the MIPS III register
// file. GPR[0] is hardwired to zero; the GPR array itself does not enforce
// that, State.Get and State.Set do, and package translator never emits a
// write to it.
const NumGPR = 32

// InterruptionKind tags why a compiled block suspended.
type InterruptionKind uint8

const (
	// InterruptionNone means the block ran to its p-clock budget or epilogue
	// without needing host intervention.
	InterruptionNone InterruptionKind = iota
	// InterruptionPrepareJump means the block wants the host to resolve the
	// virtual address carried in Interruption.Target before resuming.
	InterruptionPrepareJump
	// InterruptionMemRead means the block wants the host to perform a
	// sized, translated, big-endian load from Interruption.Target and write
	// the result back into Interruption.Result before resuming. Emitted
	// code never calls the memory-unit's Read methods directly — see
	// package bridge's doc comment for why the memory-access thunks run
	// host-side rather than as a raw call from generated code.
	InterruptionMemRead
	// InterruptionMemWrite means the block wants the host to perform a
	// sized, translated, big-endian store of Interruption.StoreValue to
	// Interruption.Target. A store always ends its block, so the host does
	// not resume the block afterwards.
	InterruptionMemWrite
)

// MemAccessSize distinguishes the width of a MemRead/MemWrite interruption.
type MemAccessSize uint8

const (
	MemByte MemAccessSize = 1
	MemHalf MemAccessSize = 2
	MemWord MemAccessSize = 4
)

// Interruption is the tagged union emitted code writes immediately before
// suspending and the engine reads immediately after.
//
// Target carries the jump-resolution virtual address (InterruptionPrepareJump)
// or the memory-access virtual address (InterruptionMemRead/MemWrite).
// Size is meaningful for InterruptionMemRead and InterruptionMemWrite;
// StoreValue only for InterruptionMemWrite; Result only for
// InterruptionMemRead, and is written by the host
// before the block resumes.
type Interruption struct {
	Kind       InterruptionKind
	Size       MemAccessSize
	_          [6]byte // pad to keep Target 8-byte aligned at a fixed offset
	Target     uint64
	StoreValue uint64
	Result     uint64
}

// CacheInterval is an inclusive-exclusive physical byte range, [Start, End),
// written by the memory-store bridge thunk whenever guest code writes to
// memory the cache may have already translated.
type CacheInterval struct {
	Valid bool
	Start uint64
	End   uint64
}

// CP0 models the subset of the system-control coprocessor the rest of this
// module treats as opaque. The JIT core never reads or writes these fields;
// they exist so a host embedding this package has somewhere to keep them.
type CP0 struct {
	Status uint32
	Config uint32
	Cause  uint32
	EPC    uint64
}

// State is the architectural state of one guest CPU, shared between the
// host dispatch loop and the machine code the translator emits. There is
// exactly one owner at a time per the single-threaded cooperative model:
// either the host is inspecting it between dispatches, or emitted code is
// mutating it, never both.
type State struct {
	GPR [NumGPR]uint64
	PC  uint64
	CP0 CP0

	CacheInvalidation CacheInterval
	Interruption      Interruption
	ResumeAddr        uint64
}

// New returns a zeroed guest state with PC at the conventional MIPS reset
// vector used by this module's test fixtures.
func New() *State {
	return &State{PC: 0xFFFFFFFFBFC00000}
}

// Get reads guest register index i, returning 0 for index 0 regardless of
// what was last stored there (mirrors the hardwired-zero semantics the
// translator is expected to maintain, but is re-asserted here for any
// caller that bypasses the translator, e.g. tests or the debug monitor).
func (s *State) Get(i int) uint64 {
	if i == 0 {
		return 0
	}
	return s.GPR[i]
}

// Set writes guest register index i, silently discarding writes to r0.
func (s *State) Set(i int, v uint64) {
	if i == 0 {
		return
	}
	s.GPR[i] = v
}

// DrainInvalidation clears and returns the pending cache invalidation
// interval, if any. Called once per dispatch step by the engine, strictly
// before the engine may compile or run a block (see package engine).
func (s *State) DrainInvalidation() (CacheInterval, bool) {
	iv := s.CacheInvalidation
	s.CacheInvalidation = CacheInterval{}
	if !iv.Valid {
		return CacheInterval{}, false
	}
	return iv, true
}

// TakeInterruption reads and clears the interruption slot. The payload is
// consumed exactly once per suspension, per the ordering guarantees in the
// concurrency model.
func (s *State) TakeInterruption() Interruption {
	i := s.Interruption
	s.Interruption = Interruption{}
	return i
}

func (s *State) String() string {
	return fmt.Sprintf("pc=%#016x r1=%#x r2=%#x ... r31=%#x", s.PC, s.GPR[1], s.GPR[2], s.GPR[31])
}
