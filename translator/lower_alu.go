package translator

import (
	"github.com/kestrelcore/n64jit/encoder"
	"github.com/kestrelcore/n64jit/mipsdecode"
)

// lowerLUI implements `rt <- (imm as u64) << 16` (spec §4.E). A destination
// of r0 is a hardware no-op (spec §4.D): MIPS discards writes to r0, so this
// skips emission entirely rather than routing through zeroReg.
func (t *Translator) lowerLUI(inst mipsdecode.Instruction) error {
	if inst.Rt == 0 {
		return nil
	}
	dst := t.gprReg(inst.Rt)
	return t.asm.Mov(encoder.Register(dst), encoder.Imm(uint64(inst.ImmU)<<16))
}

// lowerLogicalImm implements ORI/ANDI/XORI: `rt <- rs OP zero_extend(imm)`.
// Every immediate here fits in 16 bits, so the 32-bit form x86 sign-extends
// into the opcode is bit-identical to zero-extension (the sign bit of the
// 32-bit pattern is always clear).
func (t *Translator) lowerLogicalImm(inst mipsdecode.Instruction) error {
	if inst.Rt == 0 {
		return nil
	}
	dst := t.gprReg(inst.Rt)
	src := t.gprReg(inst.Rs)
	if dst != src {
		if err := t.asm.Mov(encoder.Register(dst), encoder.Register(src)); err != nil {
			return err
		}
	}
	imm := encoder.Imm(uint64(inst.ImmU))
	switch inst.Op {
	case mipsdecode.ORI:
		return t.asm.Or(encoder.Register(dst), imm)
	case mipsdecode.ANDI:
		return t.asm.And(encoder.Register(dst), imm)
	case mipsdecode.XORI:
		return t.asm.Xor(encoder.Register(dst), imm)
	}
	return nil
}

// lowerAddImm implements ADDI/ADDIU: sign-extend imm to 32, add to the low
// 32 bits of rs, sign-extend the sum to 64 (spec §4.E). The 32-bit-width
// move and add naturally discard rs's upper bits per the x86-64 rule that
// a 32-bit write zeroes them; SignExtend32 then produces the required
// 64-bit sign extension of the 32-bit sum.
func (t *Translator) lowerAddImm(inst mipsdecode.Instruction) error {
	if inst.Rt == 0 {
		return nil
	}
	dst := t.gprReg(inst.Rt)
	src := t.gprReg(inst.Rs)
	if dst != src {
		t.asm.Mov32(dst, src)
	}
	t.asm.AddImm32(dst, uint32(inst.Imm))
	t.asm.SignExtend32(dst)
	return nil
}

// lowerLogicalReg implements AND/OR/XOR/NOR: `rd <- rs OP rt`. NOR is
// bitwise-not of OR (spec §4.E).
//
// All four ops are commutative, which this leans on to stay correct when rd
// aliases rt but not rs (e.g. `and r1, r2, r1`): moving rs into dst first
// would clobber rt's value before it's read, so whichever source already
// shares dst's register is left alone and the other is moved in.
func (t *Translator) lowerLogicalReg(inst mipsdecode.Instruction) error {
	if inst.Rd == 0 {
		return nil
	}
	dst := t.gprReg(inst.Rd)
	rs := t.gprReg(inst.Rs)
	rt := t.gprReg(inst.Rt)

	other := rt
	if dst != rs && dst != rt {
		if err := t.asm.Mov(encoder.Register(dst), encoder.Register(rs)); err != nil {
			return err
		}
	} else if dst == rt {
		other = rs
	}

	switch inst.Op {
	case mipsdecode.AND:
		return t.asm.And(encoder.Register(dst), encoder.Register(other))
	case mipsdecode.OR:
		return t.asm.Or(encoder.Register(dst), encoder.Register(other))
	case mipsdecode.XOR:
		return t.asm.Xor(encoder.Register(dst), encoder.Register(other))
	case mipsdecode.NOR:
		if err := t.asm.Or(encoder.Register(dst), encoder.Register(other)); err != nil {
			return err
		}
		t.asm.Not(dst)
		return nil
	}
	return nil
}
