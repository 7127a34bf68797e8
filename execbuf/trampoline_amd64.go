//go:build amd64

package execbuf

// trampolineEnter is implemented in trampoline_amd64.s.
func trampolineEnter(blockEntry, statePtr uintptr)

// Execute enters the block at its host entry point with statePtr loaded
// into the designated state register, and returns once the block suspends
// (spec §4.B: the callee contract is jumping back to the stashed return
// target when finished). Inspecting *why* it suspended is the caller's job,
// via guest.State.TakeInterruption.
func (b *Buffer) Execute(statePtr uintptr) {
	trampolineEnter(b.Entry(), statePtr)
}

// ExecuteAt enters at an arbitrary host address rather than a Buffer's own
// entry point. Package engine uses this to resume mid-block after servicing
// an InterruptionMemRead, jumping back in at
// guest.State.ResumeAddr — an address interior to a Buffer that is still
// mapped, not a fresh block's start.
func ExecuteAt(entry, statePtr uintptr) {
	trampolineEnter(entry, statePtr)
}
