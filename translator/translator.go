// Package translator lowers one basic block of MIPS III instructions to
// x86-64 machine code (spec §4.E). It drives the encoder, the register
// allocator, and the jitstate offset calculator; its output is ready to
// hand to execbuf.New.
package translator

import (
	"fmt"

	"github.com/kestrelcore/n64jit/encoder"
	"github.com/kestrelcore/n64jit/execbuf"
	"github.com/kestrelcore/n64jit/guest"
	"github.com/kestrelcore/n64jit/jitstate"
	"github.com/kestrelcore/n64jit/mipsdecode"
	"github.com/kestrelcore/n64jit/regalloc"
)

// Status is the per-instruction compile-time outcome the block loop
// switches on (spec §4.E state machine).
type Status int

const (
	// Continue means compile the next instruction in sequence.
	Continue Status = iota
	// InvalidateCache means the block is done and guest memory was
	// written; the engine must drop overlapping cache entries.
	InvalidateCache
	// Branch means the block is done; an interruption tail has already
	// been emitted by the lowering that produced this status.
	Branch
)

// ErrDecode wraps a decode failure encountered mid-block; fatal for the
// block being compiled (spec §4.E "Failure").
type ErrDecode struct{ Err error }

func (e ErrDecode) Error() string { return fmt.Sprintf("translator: decode: %v", e.Err) }
func (e ErrDecode) Unwrap() error { return e.Err }

// regPool is the set of host registers available to bind guest GPRs and the
// guest PC; it excludes the stack pointer and frame pointer (never used as
// general allocation targets by this translator) and the four registers
// execbuf.StateReg/ReturnReg/Scratch1/Scratch2 reserve.
var regPool = []encoder.Reg{
	encoder.RAX, encoder.RCX, encoder.RDX, encoder.RBX,
	encoder.RSI, encoder.RDI, encoder.R8, encoder.R9, encoder.R10, encoder.R11,
}

// Translator compiles one basic block at a time. Not safe for concurrent
// use — callers construct one per compile, matching the single-threaded
// translation model (spec §5).
type Translator struct {
	asm     *encoder.Assembler
	alloc   *regalloc.Allocator
	js      *jitstate.JitState
	decoder mipsdecode.Decoder

	// fetch returns the raw 32-bit guest instruction word at a guest
	// virtual address; package engine supplies this backed by rdram and a
	// PhysTranslator, keeping this package free of a direct rdram import.
	fetch func(vaddr uint64) (uint32, error)
}

// New returns a Translator bound to state via js, fetching instruction
// words through fetch and decoding them with decoder.
func New(js *jitstate.JitState, decoder mipsdecode.Decoder, fetch func(uint64) (uint32, error)) *Translator {
	alloc := regalloc.New(regPool)
	return &Translator{
		asm:     encoder.New(),
		alloc:   alloc,
		js:      js,
		decoder: decoder,
		fetch:   fetch,
	}
}

// CompileResult is everything the engine needs to install a freshly
// compiled block into the translation cache.
type CompileResult struct {
	Code    []byte
	StartPC uint64
	EndPC   uint64 // exclusive; next guest PC not covered by this block
	EndedBy Status
}

// Compile translates guest instructions starting at startPC until the
// p-clock budget is exhausted or a terminal status is reached (spec §4.E's
// compile loop).
func (t *Translator) Compile(startPC uint64, budget int) (CompileResult, error) {
	pc := startPC
	issued := 0
	status := Continue

	// zeroReg must read as zero for the whole block; nothing ever writes to
	// it afterward (every lowering skips emission instead of writing
	// through it for a guest r0 destination).
	t.asm.Xor(encoder.Register(zeroReg), encoder.Register(zeroReg))

	// pc tracks the address of the last instruction actually translated,
	// in every exit path: a terminal lowering breaks before it would
	// advance, and the budget check below does the same for the
	// exhausted-budget path, so EndPC's pc+4 uniformly means "the next
	// untranslated guest address" with no off-by-one.
	for {
		word, err := t.fetch(pc)
		if err != nil {
			return CompileResult{}, fmt.Errorf("translator: fetch at %#x: %w", pc, err)
		}
		inst, err := t.decoder.Fetch(word)
		if err != nil {
			return CompileResult{}, ErrDecode{err}
		}

		status, err = t.emit(inst, pc)
		if err != nil {
			return CompileResult{}, err
		}
		issued += inst.Cycles()

		if status != Continue {
			break
		}
		if issued >= budget {
			break
		}
		pc += 4
	}

	endPC := pc + 4
	if status == Continue {
		// Budget exhausted with no terminal instruction: suspend cleanly
		// at the next guest PC, no cache action needed.
		t.syncAll()
		t.writeStatePC(endPC)
		t.asm.JmpReg(execbuf.ReturnReg)
	}

	return CompileResult{
		Code:    t.asm.Bytes(),
		StartPC: startPC,
		EndPC:   endPC,
		EndedBy: status,
	}, nil
}

// emit lowers one instruction at guest address pc, returning its status.
func (t *Translator) emit(inst mipsdecode.Instruction, pc uint64) (Status, error) {
	switch inst.Op {
	case mipsdecode.LUI:
		return Continue, t.lowerLUI(inst)
	case mipsdecode.ORI, mipsdecode.ANDI, mipsdecode.XORI:
		return Continue, t.lowerLogicalImm(inst)
	case mipsdecode.ADDI, mipsdecode.ADDIU:
		return Continue, t.lowerAddImm(inst)
	case mipsdecode.AND, mipsdecode.OR, mipsdecode.XOR, mipsdecode.NOR:
		return Continue, t.lowerLogicalReg(inst)
	case mipsdecode.LB, mipsdecode.LBU, mipsdecode.LH, mipsdecode.LHU, mipsdecode.LW, mipsdecode.LWU:
		return Continue, t.lowerLoad(inst)
	case mipsdecode.SW:
		if err := t.lowerStore(inst, pc); err != nil {
			return Continue, err
		}
		return InvalidateCache, nil
	case mipsdecode.J:
		target := jTarget(pc, inst.Target)
		return Branch, t.lowerUnconditionalJump(target, false, pc)
	case mipsdecode.JAL:
		target := jTarget(pc, inst.Target)
		return Branch, t.lowerUnconditionalJump(target, true, pc)
	case mipsdecode.JR:
		return Branch, t.lowerJR(inst)
	case mipsdecode.BNE:
		return Branch, t.lowerBNE(inst, pc)
	default:
		return Continue, fmt.Errorf("translator: unlowered mnemonic %s", inst.Op)
	}
}

func jTarget(pc uint64, target uint32) uint64 {
	return (pc & 0xFFFFFFFFF0000000) | (uint64(target) << 2)
}

// zeroReg is the fixed host register standing in for guest r0, which MIPS
// hardware wires to a constant zero (spec §4.D). It is never handed to the
// allocator — regPool already excludes it, the same way it excludes RSP —
// so nothing can evict or rebind it out from under this invariant. Compile
// zeroes it once per block; every lowering that would write to guest r0
// must check for that and skip emission instead of routing through here.
const zeroReg = encoder.RBP

// gprReg returns the host register holding guest register i's current
// value. For a slot touched for the first time in this block it loads the
// value from the state struct before handing the register back — a fresh
// binding carries whatever the host register last held, not guest register
// i's value, so skipping this load would read garbage on every register's
// first reference per block. Spills an evicted binding to the state struct
// first if the allocator had to evict to satisfy the request (spec §4.D
// policy: spilling is the translator's job).
func (t *Translator) gprReg(i int) encoder.Reg {
	if i == 0 {
		return zeroReg
	}
	slot := regalloc.GPRSlot(i)
	if r, ok := t.alloc.Bound(slot); ok {
		r, _ = t.alloc.Get(slot)
		return r
	}
	r, evicted := t.alloc.Insert(slot)
	if evicted != nil {
		t.spill(*evicted, r)
	}
	t.asm.Mov(encoder.Register(r), encoder.Mem(execbuf.StateReg, t.js.OffsetGPR(i)))
	return r
}

func (t *Translator) spill(slot regalloc.Slot, reg encoder.Reg) {
	if slot.IsPC {
		return
	}
	t.asm.Mov(encoder.Mem(execbuf.StateReg, t.js.OffsetGPR(slot.GPR)), encoder.Register(reg))
}

// syncAll flushes every currently-bound guest register to the state
// struct, the first step of every block-ending tail (spec §4.E).
func (t *Translator) syncAll() {
	for slot, reg := range t.alloc.Bindings() {
		if slot.IsPC {
			continue
		}
		t.asm.Mov(encoder.Mem(execbuf.StateReg, t.js.OffsetGPR(slot.GPR)), encoder.Register(reg))
	}
}

// reloadAll reloads every currently-bound guest register from the state
// struct, undoing syncAll's flush once a mid-block suspension resumes.
// Used only by lowerLoad: servicing an InterruptionMemRead runs ordinary Go
// code (package bridge) between the suspend and the resume, which leaves no
// guarantee about what this block's bound host registers hold afterward.
func (t *Translator) reloadAll() {
	for slot, reg := range t.alloc.Bindings() {
		if slot.IsPC {
			continue
		}
		t.asm.Mov(encoder.Register(reg), encoder.Mem(execbuf.StateReg, t.js.OffsetGPR(slot.GPR)))
	}
}

func (t *Translator) writeStatePC(pc uint64) {
	t.asm.MovAbs(execbuf.Scratch1, pc)
	t.asm.Mov(encoder.Mem(execbuf.StateReg, t.js.OffsetPC()), encoder.Register(execbuf.Scratch1))
}

// writeInterruptionKind stores an 8-bit discriminant at the interruption
// field's known offset (spec §4.E step 2).
func (t *Translator) writeInterruptionKind(kind guest.InterruptionKind) {
	t.asm.StoreByteImm(encoder.Mem(execbuf.StateReg, t.js.OffsetInterruptionKind()), uint8(kind))
}

func (t *Translator) writeInterruptionSize(size guest.MemAccessSize) {
	t.asm.StoreByteImm(encoder.Mem(execbuf.StateReg, t.js.OffsetInterruptionSize()), uint8(size))
}
