package translator

import (
	"github.com/kestrelcore/n64jit/encoder"
	"github.com/kestrelcore/n64jit/execbuf"
	"github.com/kestrelcore/n64jit/guest"
	"github.com/kestrelcore/n64jit/mipsdecode"
)

// computeAddr emits rs + sign_extend(imm) into Scratch1, the address a
// load or store lowering hands off to the host via the interruption
// protocol rather than a raw mmu call — see package bridge's doc comment.
func (t *Translator) computeAddr(inst mipsdecode.Instruction) {
	rs := t.gprReg(inst.Rs)
	t.asm.Mov(encoder.Register(execbuf.Scratch1), encoder.Register(rs))
	t.asm.Add(encoder.Register(execbuf.Scratch1), encoder.Imm(uint64(uint32(inst.Imm))))
}

func memSize(op mipsdecode.Mnemonic) guest.MemAccessSize {
	switch op {
	case mipsdecode.LB, mipsdecode.LBU:
		return guest.MemByte
	case mipsdecode.LH, mipsdecode.LHU:
		return guest.MemHalf
	default:
		return guest.MemWord
	}
}

func signed(op mipsdecode.Mnemonic) bool {
	return op == mipsdecode.LB || op == mipsdecode.LH || op == mipsdecode.LW
}

// lowerLoad implements LB/LBU/LH/LHU/LW/LWU: read from guest memory at
// rs + sign_extend(imm), sign- or zero-extend to 64 (spec §4.E).
//
// This does not end the block. It suspends mid-block through the same
// interruption/resume mechanism branches use (spec §4.E "Resumption"),
// computing a RIP-relative resume address with Lea so execution picks up
// immediately after the jump back into this block, then continues lowering
// the next MIPS instruction right there. Unlike a branch's suspension,
// execution resumes inside this same block afterward, so every bound guest
// register must be flushed before suspending and reloaded on resume: the
// host services the read with an ordinary Go call (package bridge) in
// between, and nothing about that call preserves what this block's bound
// host registers held going in.
func (t *Translator) lowerLoad(inst mipsdecode.Instruction) error {
	if inst.Rt == 0 {
		// A load to r0 is discarded (spec §4.D); skip the memory access and
		// the suspend/resume round trip entirely rather than servicing a
		// read whose result nothing can observe.
		return nil
	}
	dst := t.gprReg(inst.Rt)
	t.computeAddr(inst)

	t.asm.Mov(encoder.Mem(execbuf.StateReg, t.js.OffsetInterruptionTarget()), encoder.Register(execbuf.Scratch1))
	t.writeInterruptionSize(memSize(inst.Op))
	t.writeInterruptionKind(guest.InterruptionMemRead)

	t.syncAll()
	if err := t.emitSuspendAndResume(); err != nil {
		return err
	}
	t.reloadAll()

	t.asm.Mov(encoder.Register(dst), encoder.Mem(execbuf.StateReg, t.js.OffsetInterruptionResult()))
	if signed(inst.Op) {
		switch memSize(inst.Op) {
		case guest.MemByte:
			t.asm.SignExtend8(dst)
		case guest.MemHalf:
			t.asm.SignExtend16(dst)
		case guest.MemWord:
			t.asm.SignExtend32(dst)
		}
	}
	return nil
}

// lowerStore implements SW: store the low 32 bits of rt to guest memory at
// rs + sign_extend(imm); always finishes the block with InvalidateCache
// (spec §4.E).
func (t *Translator) lowerStore(inst mipsdecode.Instruction, pc uint64) error {
	rt := t.gprReg(inst.Rt)
	t.computeAddr(inst)

	t.asm.Mov(encoder.Mem(execbuf.StateReg, t.js.OffsetInterruptionTarget()), encoder.Register(execbuf.Scratch1))
	t.asm.Mov(encoder.Mem(execbuf.StateReg, t.js.OffsetInterruptionStoreValue()), encoder.Register(rt))
	t.writeInterruptionSize(guest.MemWord)
	t.writeInterruptionKind(guest.InterruptionMemWrite)

	t.syncAll()
	t.writeStatePC(pc + 4)
	t.asm.JmpReg(execbuf.ReturnReg)
	return nil
}

// emitSuspendAndResume writes resume_addr via a RIP-relative Lea targeting
// the instruction immediately after the jump to the trampoline's return
// register, then performs that jump (spec §4.E steps 3-4). Control returns
// here — right after the jump — once the host has serviced the
// interruption and resumed the block.
func (t *Translator) emitSuspendAndResume() error {
	dispOff, err := t.asm.Lea(execbuf.Scratch2, encoder.RIPRelative(0))
	if err != nil {
		return err
	}
	t.asm.Mov(encoder.Mem(execbuf.StateReg, t.js.OffsetResumeAddr()), encoder.Register(execbuf.Scratch2))
	t.asm.JmpReg(execbuf.ReturnReg)

	resumeOffset := t.asm.Len()
	ripAfterLea := dispOff + 4
	t.asm.PatchDisp32(dispOff, int32(resumeOffset-ripAfterLea))
	return nil
}
