// instr.go - the encoder's symbolic instruction grammar
//
// Covers the mnemonics spec §4.A names (mov, movabs, push, pop, add, or,
// sub, ret, call; call_fn lives in callfn.go) plus the extensions package
// translator's lowering needs: and, xor, not, cmp, cmovne, jmp through a
// register, RIP-relative lea, byte-immediate stores, 32-bit mov/add and
// sign-extending moves — see DESIGN.md for why the encoder's documented
// subset alone cannot satisfy that lowering table.
package encoder

// Mov encodes dst ← src. Supported combinations: register←register,
// register←immediate (when the immediate fits in 32 bits — wider values
// must go through MovAbs), register←memory, memory←register,
// register←absolute, absolute←register.
func (a *Assembler) Mov(dst, src Operand) error {
	switch {
	case dst.kind == kindReg && src.kind == kindReg:
		a.emitRegDirect(true, src.reg, dst.reg, 0x89)
		return nil

	case dst.kind == kindReg && src.kind == kindImm:
		if src.imm > 0xFFFFFFFF {
			return ErrUnsupportedOperand{"mov", dst, src}
		}
		if dst.reg.ext() {
			a.emit(rex(false, false, false, true))
		}
		a.emit(0xB8 + dst.reg.low3())
		a.emitImm32(uint32(src.imm))
		return nil

	case dst.kind == kindReg && src.kind == kindMem:
		a.emitModRMMem(true, dst.reg, src.base, src.disp, 0x8B)
		return nil

	case dst.kind == kindReg && src.kind == kindAbs:
		a.emitModRMAbs(true, dst.reg, uint32(src.imm), 0x8B)
		return nil

	case dst.kind == kindMem && src.kind == kindReg:
		a.emitModRMMem(true, src.reg, dst.base, dst.disp, 0x89)
		return nil

	case dst.kind == kindAbs && src.kind == kindReg:
		a.emitModRMAbs(true, src.reg, uint32(dst.imm), 0x89)
		return nil

	default:
		return ErrUnsupportedOperand{"mov", dst, src}
	}
}

// MovAbs loads a full 64-bit immediate into dst: REX.W + (0xB8+reg) + imm64.
func (a *Assembler) MovAbs(dst Reg, imm uint64) {
	a.emit(rex(true, false, false, dst.ext()))
	a.emit(0xB8 + dst.low3())
	a.emitImm64(imm)
}

// StoreByteImm writes the single immediate byte imm to memory operand dst,
// opcode 0xC6 /0. Used by the interruption protocol to write the
// discriminant (spec §4.E step 2) without disturbing a full 64-bit slot.
func (a *Assembler) StoreByteImm(dst Operand, imm uint8) error {
	if dst.kind != kindMem {
		return ErrUnsupportedOperand{"movb", dst, Operand{}}
	}
	b := dst.base.ext()
	if needsRex(false, false, false, b) {
		a.emit(rex(false, false, false, b))
	}
	a.emit(0xC6)
	switch {
	case dst.disp == 0 && !dst.base.isBPLike():
		a.emit(0x00 | 0<<3 | dst.base.low3())
		if dst.base.isStackLike() {
			a.emit(0x24)
		}
	case fitsInt8(dst.disp) || dst.base.isBPLike():
		a.emit(0x40 | 0<<3 | dst.base.low3())
		if dst.base.isStackLike() {
			a.emit(0x24)
		}
		a.emit(byte(int8(dst.disp)))
	default:
		a.emit(0x80 | 0<<3 | dst.base.low3())
		if dst.base.isStackLike() {
			a.emit(0x24)
		}
		a.emitImm32(uint32(dst.disp))
	}
	a.emit(imm)
	return nil
}

// Push encodes push r64: opcode 0x50+reg, REX.B only if reg ≥ 8. Push/pop
// default to 64-bit operand size in long mode, so REX.W is never needed.
func (a *Assembler) Push(r Reg) {
	if r.ext() {
		a.emit(rex(false, false, false, true))
	}
	a.emit(0x50 + r.low3())
}

// Pop encodes pop r64: opcode 0x58+reg, REX.B only if reg ≥ 8.
func (a *Assembler) Pop(r Reg) {
	if r.ext() {
		a.emit(rex(false, false, false, true))
	}
	a.emit(0x58 + r.low3())
}

// Ret encodes a near return.
func (a *Assembler) Ret() {
	a.emit(0xC3)
}

// Call encodes an indirect call through a register: opcode 0xFF /2.
func (a *Assembler) Call(target Reg) {
	if target.ext() {
		a.emit(rex(false, false, false, true))
	}
	a.emit(0xFF)
	a.emit(0xD0 | target.low3())
}

// JmpReg encodes an indirect jump through a register: opcode 0xFF /4. Used
// by the translator's interruption protocol to jump to the trampoline's
// return register instead of a near `ret` (spec §4.E step 4) — not in spec
// §4.A's literal mnemonic list, see DESIGN.md.
func (a *Assembler) JmpReg(target Reg) {
	if target.ext() {
		a.emit(rex(false, false, false, true))
	}
	a.emit(0xFF)
	a.emit(0xE0 | target.low3())
}

// Lea encodes lea dst, [rip + disp]: opcode 0x8D /r with a RIP-relative
// ModR/M (mod=00, rm=101). Returns the byte offset of the disp32 field so
// the caller can patch it once the true displacement (relative to the
// instruction's own end) is known — see package translator's interruption
// protocol, SPEC_FULL §11 item 3.
func (a *Assembler) Lea(dst Reg, src Operand) (dispOffset int, err error) {
	if src.kind != kindRIP {
		return 0, ErrUnsupportedOperand{"lea", Operand{kind: kindReg, reg: dst}, src}
	}
	a.emit(rex(true, dst.ext(), false, false))
	a.emit(0x8D)
	a.emit(0x00 | dst.low3()<<3 | 0x05)
	off := a.Len()
	a.emitImm32(uint32(src.disp))
	return off, nil
}

// rm64r64 is the opcode for the r/m64 op= r64 family member.
// imm32dig is the ModR/M reg-field digit for the opcode-0x81
// r/m64 op= imm32 family member.
type aluOp struct {
	rm64r64  byte
	imm32dig byte
}

var (
	aluAdd = aluOp{0x01, 0x00}
	aluOr  = aluOp{0x09, 0x01}
	aluAnd = aluOp{0x21, 0x04}
	aluSub = aluOp{0x29, 0x05}
	aluXor = aluOp{0x31, 0x06}
)

func (a *Assembler) alu(op aluOp, name string, dst, src Operand) error {
	switch {
	case dst.kind == kindReg && src.kind == kindReg:
		a.emitRegDirect(true, src.reg, dst.reg, op.rm64r64)
		return nil
	case dst.kind == kindReg && src.kind == kindImm:
		// Opcode 0x81 /digit sign-extends its imm32 over the 64-bit
		// destination, so any immediate that round-trips through int32
		// (small positives and sign-extended negatives like a stack-align
		// mask) is encodable, not just values that fit unsigned in 32 bits.
		if int64(int32(src.imm)) != int64(src.imm) {
			return ErrUnsupportedOperand{name, dst, src}
		}
		if needsRex(true, false, false, dst.reg.ext()) {
			a.emit(rex(true, false, false, dst.reg.ext()))
		}
		a.emit(0x81)
		a.emit(0xC0 | op.imm32dig<<3 | dst.reg.low3())
		a.emitImm32(uint32(src.imm))
		return nil
	default:
		return ErrUnsupportedOperand{name, dst, src}
	}
}

// Add encodes dst += src (register or 32-bit-fitting immediate).
func (a *Assembler) Add(dst, src Operand) error { return a.alu(aluAdd, "add", dst, src) }

// Mov32 encodes a 32-bit register-to-register move; per the standard
// x86-64 rule, writing a 32-bit register zeroes its upper 32 bits. Used
// where MIPS semantics operate on the low 32 bits of a 64-bit guest
// register and then sign- or zero-extend the result (e.g. ADDI/ADDIU) —
// see DESIGN.md.
func (a *Assembler) Mov32(dst, src Reg) {
	a.emitRegDirect(false, src, dst, 0x89)
}

// AddImm32 encodes r/m32 += imm32 (dst's upper 32 bits are zeroed). Paired
// with SignExtend32 to implement MIPS's low-32-then-sign-extend ADDI/ADDIU
// contract, so the result does not depend on any pre-existing upper bits
// of the guest register's host binding.
func (a *Assembler) AddImm32(dst Reg, imm uint32) {
	if needsRex(false, false, false, dst.ext()) {
		a.emit(rex(false, false, false, dst.ext()))
	}
	a.emit(0x81)
	a.emit(0xC0 | 0<<3 | dst.low3())
	a.emitImm32(imm)
}

// Or encodes dst |= src. Named in spec §4.A's mnemonic list.
func (a *Assembler) Or(dst, src Operand) error { return a.alu(aluOr, "or", dst, src) }

// Sub encodes dst -= src.
func (a *Assembler) Sub(dst, src Operand) error { return a.alu(aluSub, "sub", dst, src) }

// And encodes dst &= src. Not in spec §4.A's literal mnemonic list, but
// required to lower MIPS AND/ANDI/NOR (spec §4.E) — see DESIGN.md.
func (a *Assembler) And(dst, src Operand) error { return a.alu(aluAnd, "and", dst, src) }

// Xor encodes dst ^= src. Required to lower MIPS XOR/XORI — see DESIGN.md.
func (a *Assembler) Xor(dst, src Operand) error { return a.alu(aluXor, "xor", dst, src) }

// Not encodes dst = ^dst in place: opcode 0xF7 /2. Required to compose
// MIPS NOR as OR followed by NOT, per spec §4.E's contract ("NOR is
// bitwise-not of OR") — see DESIGN.md.
func (a *Assembler) Not(dst Reg) {
	a.emit(rex(true, false, false, dst.ext()))
	a.emit(0xF7)
	a.emit(0xD0 | dst.low3())
}

// Cmp encodes a register-register compare (dst - src, flags only): opcode
// 0x39. Needed by the translator's BNE lowering (spec §4.E) to set flags
// ahead of a conditional move into the interruption target.
func (a *Assembler) Cmp(dst, src Operand) error {
	if dst.kind != kindReg || src.kind != kindReg {
		return ErrUnsupportedOperand{"cmp", dst, src}
	}
	a.emitRegDirect(true, src.reg, dst.reg, 0x39)
	return nil
}

// CMovNE encodes a conditional move: dst = src if ZF=0 (opcode 0x0F 0x45
// /r). Used by BNE's branch-target selection (spec §4.E) to pick between
// the taken and fall-through guest PC without emitting an in-block branch.
func (a *Assembler) CMovNE(dst, src Reg) {
	a.emit(rex(true, dst.ext(), false, src.ext()))
	a.emit(0x0F, 0x45)
	a.emit(0xC0 | dst.low3()<<3 | src.low3())
}

// SignExtend8 sign-extends r's low byte into all 64 bits in place (movsx
// r64, r8 — opcode 0x0F 0xBE /r). Needed to lower MIPS LB, whose loaded
// byte the bridge thunk always hands back zero-extended — see DESIGN.md.
func (a *Assembler) SignExtend8(r Reg) {
	a.emit(rex(true, r.ext(), false, r.ext()))
	a.emit(0x0F, 0xBE)
	a.emit(0xC0 | r.low3()<<3 | r.low3())
}

// SignExtend16 sign-extends r's low 16 bits into all 64 bits in place
// (movsx r64, r16 — opcode 0x0F 0xBF /r). Needed to lower MIPS LH.
func (a *Assembler) SignExtend16(r Reg) {
	a.emit(rex(true, r.ext(), false, r.ext()))
	a.emit(0x0F, 0xBF)
	a.emit(0xC0 | r.low3()<<3 | r.low3())
}

// SignExtend32 sign-extends r's low 32 bits into all 64 bits in place
// (movsxd r64, r32 — opcode 0x63 /r). Needed to lower MIPS LW, and ADDI/
// ADDIU after AddImm32.
func (a *Assembler) SignExtend32(r Reg) {
	a.emit(rex(true, r.ext(), false, r.ext()))
	a.emit(0x63)
	a.emit(0xC0 | r.low3()<<3 | r.low3())
}
