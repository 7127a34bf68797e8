// callfn.go - the call_fn macro-layer convenience named in spec §4.A
//
// call_fn(f, args...) is a System V x86-64 ABI call-sequence generator: it
// spills argument-register sources that a later argument would clobber,
// moves arguments into the integer argument registers in dependency order,
// aligns the stack to 16 bytes, materializes the callee's address in rax,
// and calls it. It has no knowledge of the guest register allocator and does
// no wrap_call bookkeeping (state-pointer push, guest-register sync). Package
// translator does not call CallFn: its host interactions go through the
// interruption protocol instead (see package bridge), so no translated block
// contains a call_fn sequence.
package encoder

// ArgRegs is the System V x86-64 integer argument-register order. Every
// bridge thunk (package bridge) takes at most 3 arguments in this project,
// well within the 6 registers available.
var ArgRegs = [6]Reg{RDI, RSI, RDX, RCX, R8, R9}

// CallFn emits a call to the absolute address target with args passed in
// order through ArgRegs. Each element of args must already be a Register or
// Imm operand chosen by the caller; CallFn does not consult the allocator.
//
// Before overwriting an argument register, CallFn checks whether that
// register is itself the source for an argument not yet moved; if so it
// spills the about-to-be-clobbered value to a reserved stack slot first and
// reads it back from there instead of the now-overwritten register. This
// mirrors spec §4.A's call_fn contract ("spilling to the stack any argument
// register that is also a source operand of a later argument") and spec
// §4.E's wrap_call step 3.
func (a *Assembler) CallFn(target uint64, args []Operand) error {
	if len(args) > len(ArgRegs) {
		return ErrUnsupportedOperand{"call_fn", Operand{}, Operand{}}
	}

	// Reserve one 8-byte stack slot per argument up front so spill offsets
	// are known before any move is emitted.
	slotOf := map[Reg]int32{}
	if len(args) > 0 {
		if err := a.Sub(Register(RSP), Imm(uint64(8*len(args)))); err != nil {
			return err
		}
	}
	for i, arg := range args {
		if arg.kind == kindReg {
			slotOf[arg.reg] = int32(8 * i)
		}
	}

	moved := make([]bool, len(args))
	spilled := make([]bool, len(args))
	for i := range args {
		a.moveCallArg(i, args, slotOf, moved, spilled)
	}

	if len(args) > 0 {
		if err := a.Add(Register(RSP), Imm(uint64(8*len(args)))); err != nil {
			return err
		}
	}

	// Align the stack to 16 bytes before the call, preserving the prior
	// rsp in r11 (a caller-saved scratch register) so it can be restored
	// afterwards (spec §4.E step 4/6).
	a.Mov(Register(R11), Register(RSP))
	if err := a.And(Register(RSP), Imm(^uint64(0xF))); err != nil {
		return err
	}

	a.MovAbs(RAX, target)
	a.Call(RAX)

	a.Mov(Register(RSP), Register(R11))
	return nil
}

// moveCallArg moves args[i] into ArgRegs[i], first spilling any
// not-yet-moved later argument whose source register would be clobbered.
func (a *Assembler) moveCallArg(i int, args []Operand, slotOf map[Reg]int32, moved, spilled []bool) {
	destReg := ArgRegs[i]

	// If a later, unmoved argument reads destReg, spill it to its reserved
	// stack slot before destReg is overwritten.
	for j := i + 1; j < len(args); j++ {
		if moved[j] || spilled[j] || args[j].kind != kindReg || args[j].reg != destReg {
			continue
		}
		a.Mov(Mem(RSP, slotOf[args[j].reg]), Register(destReg))
		spilled[j] = true
	}

	src := args[i]
	if spilled[i] {
		src = Mem(RSP, slotOf[args[i].reg])
	}
	switch src.kind {
	case kindReg, kindImm:
		a.Mov(Register(destReg), src)
	case kindMem:
		a.Mov(Register(destReg), src)
	default:
		// Absolute source operands are not part of the call_fn contract —
		// arguments are always register, immediate, or (post-spill) stack
		// memory values the translator has already materialized.
	}
	moved[i] = true
}
