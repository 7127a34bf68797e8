// jitstate.go - byte-offset accounting for the shared guest state struct
//
// Emitted code never holds a Go pointer to guest.State; it holds the state
// pointer in a single dedicated host register and reaches every field
// through a constant displacement computed here at translation time. This
// module is the only place that is allowed to know the layout of
// guest.State down to the byte — the translator asks it for an offset and
// never pokes at guest.State's fields by name.
package jitstate

import (
	"fmt"
	"unsafe"

	"github.com/kestrelcore/n64jit/guest"
)

// maxDisp32 is the largest displacement the encoder's disp32 addressing
// mode can hold; offsetOf enforces the invariant from spec §4.C that
// every offset it returns fits in a signed 32-bit x86-64 displacement.
const maxDisp32 = 1<<31 - 1

// JitState wraps a shared-ownership handle on a guest.State and exposes the
// byte offsets the translator bakes into [state_reg + offset] operands.
type JitState struct {
	state *guest.State
}

// Wrap returns a JitState bound to state. The caller retains ownership;
// JitState never outlives a single engine's lifetime in practice, but
// nothing here enforces that — it is just an offset calculator plus the
// raw pointer the trampoline loads into the state register.
func Wrap(state *guest.State) *JitState {
	return &JitState{state: state}
}

// Ptr returns the raw address to load into the designated state register.
func (j *JitState) Ptr() uintptr {
	return uintptr(unsafe.Pointer(j.state))
}

// State returns the wrapped guest state for host-side (non-emitted-code)
// access, e.g. by the engine's dispatch loop or the debug monitor.
func (j *JitState) State() *guest.State {
	return j.state
}

func offsetOf(base, field unsafe.Pointer) int32 {
	off := uintptr(field) - uintptr(base)
	if off > maxDisp32 {
		panic(fmt.Sprintf("jitstate: offset %#x does not fit in a signed 32-bit displacement", off))
	}
	return int32(off)
}

// OffsetGPR returns the byte offset of guest register i.
func (j *JitState) OffsetGPR(i int) int32 {
	return offsetOf(unsafe.Pointer(j.state), unsafe.Pointer(&j.state.GPR[i]))
}

// OffsetPC returns the byte offset of the guest program counter.
func (j *JitState) OffsetPC() int32 {
	return offsetOf(unsafe.Pointer(j.state), unsafe.Pointer(&j.state.PC))
}

// OffsetCacheInvalidation returns the byte offset of the cache-invalidation
// interval field.
func (j *JitState) OffsetCacheInvalidation() int32 {
	return offsetOf(unsafe.Pointer(j.state), unsafe.Pointer(&j.state.CacheInvalidation))
}

// OffsetInterruptionKind returns the byte offset of the interruption
// discriminant byte.
func (j *JitState) OffsetInterruptionKind() int32 {
	return offsetOf(unsafe.Pointer(j.state), unsafe.Pointer(&j.state.Interruption.Kind))
}

// OffsetInterruptionTarget returns the byte offset of the interruption
// payload, fixed at offset 8 relative to the discriminant per spec §6.
func (j *JitState) OffsetInterruptionTarget() int32 {
	return offsetOf(unsafe.Pointer(j.state), unsafe.Pointer(&j.state.Interruption.Target))
}

// OffsetResumeAddr returns the byte offset of the resume-address field.
func (j *JitState) OffsetResumeAddr() int32 {
	return offsetOf(unsafe.Pointer(j.state), unsafe.Pointer(&j.state.ResumeAddr))
}

// OffsetInterruptionSize returns the byte offset of the memory-access-width
// field, meaningful only for MemRead/MemWrite interruptions.
func (j *JitState) OffsetInterruptionSize() int32 {
	return offsetOf(unsafe.Pointer(j.state), unsafe.Pointer(&j.state.Interruption.Size))
}

// OffsetInterruptionStoreValue returns the byte offset of the pending
// memory-store's value, written by emitted code before an InterruptionMemWrite.
func (j *JitState) OffsetInterruptionStoreValue() int32 {
	return offsetOf(unsafe.Pointer(j.state), unsafe.Pointer(&j.state.Interruption.StoreValue))
}

// OffsetInterruptionResult returns the byte offset of the pending memory
// load's result, written by the host before resuming an InterruptionMemRead.
func (j *JitState) OffsetInterruptionResult() int32 {
	return offsetOf(unsafe.Pointer(j.state), unsafe.Pointer(&j.state.Interruption.Result))
}
