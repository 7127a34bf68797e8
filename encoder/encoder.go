// encoder.go - tiny x86-64 macro-assembler for the MIPS-to-host translator
//
// This module maps a small symbolic instruction grammar (mnemonic plus one
// of five addressing modes) straight to REX/ModR/M/SIB/displacement/
// immediate byte sequences. It holds no register-allocation state of its
// own — every register choice comes from the caller (package regalloc via
// package translator) — and it classifies every operand combination
// statically rather than building a general-purpose assembler: the goal is
// exact conformance with the golden-byte fixtures this project's tests
// check against, not coverage of the x86-64 ISA.
//
// Go has no analogue of a Rust-style const-generic "literal vs variable"
// operand distinction; both collapse to the same runtime Operand value
// here. What the spec calls the five addressing modes survive as the four
// Operand constructors below (Imm covers both immediate forms) plus the
// RIPRelative constructor used only by Lea.
package encoder

import (
	"encoding/binary"
	"fmt"
)

// Reg is an x86-64 general-purpose register number, 0-15, matching the
// numbering REX.B/R/X extend (0-7 legacy, 8-15 requiring a REX extension
// bit).
type Reg uint8

const (
	RAX Reg = iota
	RCX
	RDX
	RBX
	RSP
	RBP
	RSI
	RDI
	R8
	R9
	R10
	R11
	R12
	R13
	R14
	R15
)

var regNames = [...]string{"rax", "rcx", "rdx", "rbx", "rsp", "rbp", "rsi", "rdi",
	"r8", "r9", "r10", "r11", "r12", "r13", "r14", "r15"}

func (r Reg) String() string {
	if int(r) < len(regNames) {
		return regNames[r]
	}
	return fmt.Sprintf("reg%d", r)
}

// ext reports whether encoding r in a ModR/M or SIB field requires a REX
// extension bit (R, X or B depending on position).
func (r Reg) ext() bool { return r >= R8 }

// low3 is the 3-bit field value written into ModR/M or SIB.
func (r Reg) low3() byte { return byte(r) & 7 }

// isStackLike reports whether r's low 3 bits are 100 — RSP or R12 — which
// forces a SIB byte under every indirect addressing mode per spec §4.A.
func (r Reg) isStackLike() bool { return r.low3() == 4 }

// isBPLike reports whether r's low 3 bits are 101 — RBP or R13 — which
// cannot use mod=00 (that encoding is RIP-relative for rm=101) and must be
// forced to a disp8 of zero instead, per spec §4.A.
func (r Reg) isBPLike() bool { return r.low3() == 5 }

type operandKind int

const (
	kindImm operandKind = iota
	kindReg
	kindMem
	kindAbs
	kindRIP
)

// Operand is one of the encoder's five addressing-mode shapes: an
// immediate, a direct register, [base + disp], an absolute [imm], or (for
// Lea only) a RIP-relative displacement.
type Operand struct {
	kind operandKind
	reg  Reg
	imm  uint64
	base Reg
	disp int32
}

// Imm is an immediate operand — the encoder's literal and variable
// immediate addressing modes are the same Go value, so there is one
// constructor for both.
func Imm(v uint64) Operand { return Operand{kind: kindImm, imm: v} }

// Register is a direct register operand — likewise literal and variable
// register addressing collapse to this one constructor.
func Register(r Reg) Operand { return Operand{kind: kindReg, reg: r} }

// Mem is the indirect [base + disp] addressing mode.
func Mem(base Reg, disp int32) Operand { return Operand{kind: kindMem, base: base, disp: disp} }

// Abs is the absolute [imm] addressing mode, encoded as a SIB-with-no-base
// displacement-only form.
func Abs(addr uint64) Operand { return Operand{kind: kindAbs, imm: addr} }

// RIPRelative is [rip + disp], used only by Lea to compute the interrupt
// protocol's resume address (spec §9 open question 4: a RIP-relative lea in
// place of the naked-function / return-address-reading alternative).
func RIPRelative(disp int32) Operand { return Operand{kind: kindRIP, disp: disp} }

// ErrUnsupportedOperand is returned for any operand combination outside the
// encoder's covered subset — an encoding error per spec §7, fatal for the
// block being translated.
type ErrUnsupportedOperand struct {
	Mnemonic string
	Dst, Src Operand
}

func (e ErrUnsupportedOperand) Error() string {
	return fmt.Sprintf("encoder: %s does not support this operand combination (dst kind %d, src kind %d)",
		e.Mnemonic, e.Dst.kind, e.Src.kind)
}

// Assembler accumulates emitted bytes for one compiled block. It is not
// safe for concurrent use — a block is translated by exactly one goroutine
// at a time per the single-threaded model (spec §5).
type Assembler struct {
	buf []byte
}

// New returns an empty Assembler with a small pre-sized buffer; most basic
// blocks run well under a few hundred bytes of host code.
func New() *Assembler {
	return &Assembler{buf: make([]byte, 0, 512)}
}

// Bytes returns the accumulated machine code.
func (a *Assembler) Bytes() []byte { return a.buf }

// Len reports how many bytes have been emitted so far; used by call sites
// that need to patch a displacement back into already-emitted bytes (e.g.
// resolving a branch target after both sides of a block are known).
func (a *Assembler) Len() int { return len(a.buf) }

// PatchDisp32 overwrites the 4 bytes at byte offset off with a new
// little-endian disp32. Used sparingly — this translator resolves most
// control flow through the interruption protocol rather than in-block
// relocations (spec §4.E), but self-relative encodings such as Lea still
// need one patch point for their own displacement.
func (a *Assembler) PatchDisp32(off int, v int32) {
	binary.LittleEndian.PutUint32(a.buf[off:off+4], uint32(v))
}

func (a *Assembler) emit(b ...byte) { a.buf = append(a.buf, b...) }

func (a *Assembler) emitImm32(v uint32) {
	var tmp [4]byte
	binary.LittleEndian.PutUint32(tmp[:], v)
	a.buf = append(a.buf, tmp[:]...)
}

func (a *Assembler) emitImm64(v uint64) {
	var tmp [8]byte
	binary.LittleEndian.PutUint64(tmp[:], v)
	a.buf = append(a.buf, tmp[:]...)
}

// rex builds a REX prefix byte. w selects 64-bit operand size; r, x, b are
// the extension bits for the ModR/M reg field, the SIB index field, and the
// ModR/M rm (or SIB base) field respectively.
func rex(w, r, x, b bool) byte {
	v := byte(0x40)
	if w {
		v |= 0x08
	}
	if r {
		v |= 0x04
	}
	if x {
		v |= 0x02
	}
	if b {
		v |= 0x01
	}
	return v
}

// needsRex reports whether any of the REX bits besides the always-present
// high nibble are set — callers only emit the prefix when it carries
// information the default REX-less encoding wouldn't.
func needsRex(w, r, x, b bool) bool { return w || r || x || b }

// emitRegDirect emits a register-direct ModR/M byte (mod=11) plus the REX
// prefix it needs, for ModR/M-reg=regField, ModR/M-rm=rmField.
func (a *Assembler) emitRegDirect(w bool, regField, rmField Reg, opcode ...byte) {
	if needsRex(w, regField.ext(), false, rmField.ext()) {
		a.emit(rex(w, regField.ext(), false, rmField.ext()))
	}
	a.emit(opcode...)
	a.emit(0xC0 | regField.low3()<<3 | rmField.low3())
}

// emitModRMMem emits a ModR/M (+ SIB + displacement) sequence addressing
// [base + disp], with regField as the ModR/M reg field (the other operand,
// or an opcode-extension digit for single-operand forms).
func (a *Assembler) emitModRMMem(w bool, regField, base Reg, disp int32, opcode ...byte) {
	r := regField.ext()
	b := base.ext()
	if needsRex(w, r, false, b) {
		a.emit(rex(w, r, false, b))
	}
	a.emit(opcode...)

	switch {
	case disp == 0 && !base.isBPLike():
		a.emit(0x00 | regField.low3()<<3 | base.low3())
		if base.isStackLike() {
			a.emit(0x24) // SIB: scale=00, index=100 (none), base=100 (rsp/r12)
		}
	case fitsInt8(disp) || base.isBPLike():
		// rbp/r13 with zero disp must still take the disp8 form (mod=00,
		// rm=101 is RIP-relative in 64-bit mode), so a zero displacement on
		// a bp-like base always falls through to this disp8 case.
		a.emit(0x40 | regField.low3()<<3 | base.low3())
		if base.isStackLike() {
			a.emit(0x24)
		}
		a.emit(byte(int8(disp)))
	default:
		a.emit(0x80 | regField.low3()<<3 | base.low3())
		if base.isStackLike() {
			a.emit(0x24)
		}
		a.emitImm32(uint32(disp))
	}
}

// emitModRMAbs emits the disp32-only absolute addressing form [disp32]:
// mod=00, rm=100 (SIB present), SIB = scale 00 / index 100 (none) / base
// 101 (disp32, no base register) — byte value 0x25 per spec §4.A.
func (a *Assembler) emitModRMAbs(w bool, regField Reg, addr uint32, opcode ...byte) {
	r := regField.ext()
	if needsRex(w, r, false, false) {
		a.emit(rex(w, r, false, false))
	}
	a.emit(opcode...)
	a.emit(0x00 | regField.low3()<<3 | 0x04)
	a.emit(0x25)
	a.emitImm32(addr)
}

func fitsInt8(v int32) bool { return v >= -128 && v <= 127 }
