// Package engine is the JIT's orchestrator (spec §4.I): it owns the
// translation cache and jump table, drives the compile-on-demand dispatch
// loop, and is the only package that calls a compiled block's Execute
// directly. Everything else in this module is a collaborator the engine
// wires together: translator compiles, execbuf runs, bridge services the
// interruptions a running block raises, transcache/jumptable remember what
// has already been compiled.
//
// The dispatch loop follows spec §2's data-flow steps and §4.I's
// step-function description: drain pending invalidation, resolve the
// current guest PC to a block, run it, and react to however it suspended.
// Nothing here spawns a goroutine — the single-threaded cooperative model
// (spec §5) means exactly one of "host" and "emitted code" is ever running.
package engine

import (
	"fmt"
	"os"

	"github.com/kestrelcore/n64jit/bridge"
	"github.com/kestrelcore/n64jit/execbuf"
	"github.com/kestrelcore/n64jit/guest"
	"github.com/kestrelcore/n64jit/jitstate"
	"github.com/kestrelcore/n64jit/jumptable"
	"github.com/kestrelcore/n64jit/mipsdecode"
	"github.com/kestrelcore/n64jit/rdram"
	"github.com/kestrelcore/n64jit/transcache"
	"github.com/kestrelcore/n64jit/translator"
)

// DefaultBudget is the p-clock compile budget spec §4.I names ("a target
// of ~1024 p-clocks"), used when New is given a non-positive budget.
const DefaultBudget = 1024

// ErrUnmapped is returned when the guest PC itself, or a jump target, falls
// outside every segment the physical translator recognizes.
// Unlike bridge.ErrUnmapped (raised for a load/store inside an already-
// running block, which drainSuspension degrades to a logged warning per
// spec §7), a PC or jump target that cannot be translated leaves the engine with
// no block to run at all, so it is fatal to the dispatch step.
type ErrUnmapped struct{ VAddr uint64 }

func (e ErrUnmapped) Error() string {
	return fmt.Sprintf("engine: unmapped guest address %#x", e.VAddr)
}

// Engine owns the cache, the jump table, and a shared reference to guest
// state (spec §4.I). Not safe for concurrent use — exactly one goroutine
// drives Step/Run, matching the single-threaded model.
type Engine struct {
	state   *guest.State
	js      *jitstate.JitState
	mem     rdram.MemoryUnit
	xlat    rdram.PhysTranslator
	decoder mipsdecode.Decoder
	cache   *transcache.Cache
	jt      *jumptable.Table
	brg     *bridge.Bridge
	budget  int

	// Warnf receives non-fatal diagnostics (guest memory errors inside a
	// thunk) in the teacher's fmt.Fprintf(os.Stderr, ...)
	// idiom (spec §7, SPEC_FULL §7 ambient logging). Overridable so
	// cmd/jitmon and tests can capture it instead of writing to stderr.
	Warnf func(format string, args ...any)
}

// New returns an Engine over state, backed by mem for guest memory traffic
// and xlat for virtual-to-physical translation, decoding guest instruction
// words with decoder. budget is the per-block p-clock compile budget (spec
// §4.I); a non-positive value defaults to DefaultBudget.
func New(state *guest.State, mem rdram.MemoryUnit, xlat rdram.PhysTranslator, decoder mipsdecode.Decoder, budget int) *Engine {
	if budget <= 0 {
		budget = DefaultBudget
	}
	cache := transcache.New()
	return &Engine{
		state:   state,
		js:      jitstate.Wrap(state),
		mem:     mem,
		xlat:    xlat,
		decoder: decoder,
		cache:   cache,
		jt:      jumptable.New(cache),
		brg:     bridge.New(mem, xlat),
		budget:  budget,
		Warnf: func(format string, args ...any) {
			fmt.Fprintf(os.Stderr, "engine: "+format+"\n", args...)
		},
	}
}

// State returns the wrapped guest state, for a host that wants to inspect
// GPRs or seed PC between dispatches.
func (e *Engine) State() *guest.State { return e.state }

// CacheLen exposes the number of live cached blocks for tests and
// cmd/jitmon's monitor view.
func (e *Engine) CacheLen() int { return e.cache.Len() }

// ReadWord reads the 32-bit big-endian guest instruction word at vaddr
// without compiling or running anything, for cmd/jitmon's guest-side
// disassembly view.
func (e *Engine) ReadWord(vaddr uint64) (uint32, error) {
	return e.fetchWord(vaddr)
}

// BlockCodeAt returns the raw host bytes and originating guest PC of the
// block currently cached for vaddr, for cmd/jitmon's host-side disassembly
// view (spec §6 "Emitted binary format"). ok is false if vaddr doesn't
// translate or no block is cached there yet.
func (e *Engine) BlockCodeAt(vaddr uint64) (code []byte, guestPC uint64, ok bool) {
	paddr, mapped := e.xlat.Translate(vaddr)
	if !mapped {
		return nil, 0, false
	}
	h, found := e.cache.HandleAt(paddr)
	if !found {
		return nil, 0, false
	}
	block, live := e.cache.Lookup(h)
	if !live {
		return nil, 0, false
	}
	return block.Code(), block.GuestPC(), true
}

// LoadProgram copies a flat MIPS binary image into guest memory at base and
// sets PC to base, the boot path cmd/jitmon drives (spec §8 end-to-end
// scenario 1's "load the test ROM, skip PIF to pc=..." step, minus the
// cartridge/PIF specifics this module's Non-goals exclude).
func (e *Engine) LoadProgram(base uint64, image []byte) error {
	paddr, ok := e.xlat.Translate(base)
	if !ok {
		return ErrUnmapped{base}
	}
	e.mem.CopyFrom(paddr, image)
	e.state.PC = base
	return nil
}

// Step runs exactly one dispatch: drain invalidation, fetch-or-compile the
// block at the current guest PC, run it, and react to its suspension (spec
// §4.I's loop body, run once).
func (e *Engine) Step() error {
	if iv, ok := e.state.DrainInvalidation(); ok {
		dropped := e.cache.Invalidate(iv.Start, iv.End)
		e.jt.Drop(dropped)
	}

	block, err := e.blockAt(e.state.PC)
	if err != nil {
		return err
	}

	ptr := e.js.Ptr()
	block.Execute(ptr)
	return e.drainSuspension(ptr)
}

// Run calls Step up to n times, stopping early on the first error.
func (e *Engine) Run(n int) error {
	for i := 0; i < n; i++ {
		if err := e.Step(); err != nil {
			return err
		}
	}
	return nil
}

// fetchWord reads the 32-bit big-endian guest instruction word at vaddr,
// the closure package translator's Compile drives its fetch loop with.
func (e *Engine) fetchWord(vaddr uint64) (uint32, error) {
	paddr, ok := e.xlat.Translate(vaddr)
	if !ok {
		return 0, ErrUnmapped{vaddr}
	}
	return e.mem.ReadU32(paddr), nil
}

// blockAt returns the cached block starting at the guest virtual address
// vaddr, compiling one on a miss. A fresh translator.Translator is built
// per compile (spec §4.E: one Translator per basic block; its Assembler
// and Allocator carry no cross-block state).
func (e *Engine) blockAt(vaddr uint64) (*execbuf.Buffer, error) {
	paddr, ok := e.xlat.Translate(vaddr)
	if !ok {
		return nil, ErrUnmapped{vaddr}
	}
	_, block, err := e.cache.GetOrInsertWith(paddr, func() (*execbuf.Buffer, uint64, uint64, error) {
		tr := translator.New(e.js, e.decoder, e.fetchWord)
		res, err := tr.Compile(vaddr, e.budget)
		if err != nil {
			return nil, 0, 0, err
		}
		buf, err := execbuf.New(res.Code, res.StartPC, uint32(res.EndPC-res.StartPC))
		if err != nil {
			return nil, 0, 0, err
		}
		return buf, paddr, paddr + uint64(buf.GuestLen()), nil
	})
	return block, err
}

// drainSuspension inspects the interruption slot a just-returned Execute or
// ExecuteAt left behind and reacts per its kind. MemRead services the load
// and resumes the same block in place (spec §4.E "Resumption"); MemWrite
// services the store, records the cache-invalidation interval, and returns
// (the block already ended itself — SW always finishes via InvalidateCache,
// spec §4.E); PrepareJump resolves the jump and returns; None means the
// block ran to its budget or epilogue with nothing to service.
func (e *Engine) drainSuspension(ptr uintptr) error {
	for {
		in := e.state.Interruption
		switch in.Kind {
		case guest.InterruptionNone:
			return nil

		case guest.InterruptionMemRead:
			result, err := e.brg.ServiceMemRead(in)
			if err != nil {
				e.Warnf("mmu_read: %v", err)
				result = 0
			}
			e.state.Interruption.Result = result
			e.state.Interruption.Kind = guest.InterruptionNone
			execbuf.ExecuteAt(e.state.ResumeAddr, ptr)

		case guest.InterruptionMemWrite:
			iv, err := e.brg.ServiceMemWrite(in)
			e.state.Interruption = guest.Interruption{}
			if err != nil {
				e.Warnf("mmu_store: %v", err)
				return nil
			}
			e.state.CacheInvalidation = iv
			return nil

		case guest.InterruptionPrepareJump:
			e.state.Interruption = guest.Interruption{}
			return e.resolveJump(in.Target)

		default:
			return fmt.Errorf("engine: unknown interruption kind %d", in.Kind)
		}
	}
}

// resolveJump implements spec §4.I's "resolve via jump table, compiling the
// target block if missing" step. It does not itself re-enter the block
// whose branch produced this interruption — that block has already ended
// (every branch lowering emits Status Branch, spec §4.E) — it only ensures
// the target is compiled and the jump table knows about it, then sets PC so
// the next Step's blockAt finds it. See bridge's package doc comment for
// why emitted code never calls get_host_jump_addr directly: the table is
// host-side bookkeeping, not a control-transfer mechanism here.
func (e *Engine) resolveJump(target uint64) error {
	e.state.PC = target

	if _, ok := e.brg.GetHostJumpAddr(e.jt, target); ok {
		return nil
	}

	if _, err := e.blockAt(target); err != nil {
		return err
	}

	paddr, ok := e.xlat.Translate(target)
	if !ok {
		return ErrUnmapped{target}
	}
	if h, ok := e.cache.HandleAt(paddr); ok {
		e.jt.Resolve(target, h)
	}
	return nil
}
