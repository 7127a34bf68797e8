package translator

import (
	"github.com/kestrelcore/n64jit/encoder"
	"github.com/kestrelcore/n64jit/execbuf"
	"github.com/kestrelcore/n64jit/guest"
	"github.com/kestrelcore/n64jit/mipsdecode"
)

// bTarget computes BNE's branch-taken address: pc + sign_extend(imm)<<2
// (spec.md's BNE row: "target = pc + sign_extend(off << 2)"). J/JAL's
// target uses jTarget instead, a different addressing mode entirely (pc's
// top 4 bits plus a shifted absolute field).
func bTarget(pc uint64, imm int32) uint64 {
	return uint64(int64(pc) + int64(imm)<<2)
}

// suspendForJump writes target into both the interruption payload and the
// state's PC field, tags the suspension InterruptionPrepareJump, and jumps
// back to the trampoline (spec §4.E "Branch"). Host-side, package engine
// resolves target through the jump table and either runs a cached block or
// compiles a fresh one — this translator never emits a raw call to do that
// resolution itself (see package bridge's doc comment).
func (t *Translator) suspendForJump(targetReg encoder.Reg) {
	t.asm.Mov(encoder.Mem(execbuf.StateReg, t.js.OffsetInterruptionTarget()), encoder.Register(targetReg))
	t.asm.Mov(encoder.Mem(execbuf.StateReg, t.js.OffsetPC()), encoder.Register(targetReg))
	t.syncAll()
	t.writeInterruptionKind(guest.InterruptionPrepareJump)
	t.asm.JmpReg(execbuf.ReturnReg)
}

// lowerUnconditionalJump implements J and JAL: target is a compile-time
// constant (pc's upper 4 bits combined with the shifted 26-bit field), so
// unlike JR there is no runtime address computation, only the immediate
// write into the interruption slot. JAL additionally binds r31 to the
// compile-time-constant return address pc+8 before the block's registers
// are synced (spec §4.E).
func (t *Translator) lowerUnconditionalJump(target uint64, isJAL bool, pc uint64) error {
	if isJAL {
		ra := t.gprReg(31)
		t.asm.MovAbs(ra, pc+8)
	}
	t.asm.MovAbs(execbuf.Scratch1, target)
	t.suspendForJump(execbuf.Scratch1)
	return nil
}

// lowerJR implements JR: the target is whatever rs currently holds, a
// genuinely runtime value unlike J/JAL/BNE's compile-time-constant
// candidates (spec §4.E).
func (t *Translator) lowerJR(inst mipsdecode.Instruction) error {
	rs := t.gprReg(inst.Rs)
	t.suspendForJump(rs)
	return nil
}

// lowerBNE implements BNE: compares rs and rt at runtime, then selects
// between two compile-time-constant candidate targets (taken, fall-through)
// with a conditional move rather than emitting an in-block x86 branch
// (spec §4.E) — the decision of which address becomes "the" target is
// runtime, but both candidates are known at translation time.
func (t *Translator) lowerBNE(inst mipsdecode.Instruction, pc uint64) error {
	rs := t.gprReg(inst.Rs)
	rt := t.gprReg(inst.Rt)

	fallThrough := pc + 4
	taken := bTarget(pc, inst.Imm)

	t.asm.MovAbs(execbuf.Scratch1, fallThrough)
	t.asm.MovAbs(execbuf.Scratch2, taken)
	if err := t.asm.Cmp(encoder.Register(rs), encoder.Register(rt)); err != nil {
		return err
	}
	t.asm.CMovNE(execbuf.Scratch1, execbuf.Scratch2)
	t.suspendForJump(execbuf.Scratch1)
	return nil
}
