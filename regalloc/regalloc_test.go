package regalloc

import (
	"testing"

	"github.com/kestrelcore/n64jit/encoder"
)

func pool3() []encoder.Reg { return []encoder.Reg{encoder.RAX, encoder.RCX, encoder.RDX} }

// property (a): every insert returns a register not already in the map.
func TestInsertReturnsUnboundRegister(t *testing.T) {
	a := New(pool3())
	seen := map[encoder.Reg]bool{}
	for i := 0; i < 3; i++ {
		r, evicted := a.Insert(GPRSlot(i))
		if evicted != nil {
			t.Fatalf("unexpected eviction on slot %d", i)
		}
		if seen[r] {
			t.Fatalf("register %v reused while pool had free entries", r)
		}
		seen[r] = true
	}
}

// property (b): after N > |regs| inserts without frees, every insert past
// |regs| evicts the minimum-borrow-index holder.
func TestInsertEvictsLRU(t *testing.T) {
	a := New(pool3())
	a.Insert(GPRSlot(0))
	a.Insert(GPRSlot(1))
	a.Insert(GPRSlot(2))

	// Touch slot 1 and 2 so slot 0 has the smallest borrow index.
	a.Get(GPRSlot(1))
	a.Get(GPRSlot(2))

	_, evicted := a.Insert(GPRSlot(3))
	if evicted == nil || *evicted != GPRSlot(0) {
		t.Fatalf("expected slot 0 evicted, got %+v", evicted)
	}
}

// property (c): free followed by insert re-uses the freed register.
func TestFreeThenInsertReusesRegister(t *testing.T) {
	a := New(pool3())
	r0, _ := a.Insert(GPRSlot(0))
	a.Insert(GPRSlot(1))
	a.Insert(GPRSlot(2))

	a.Free(GPRSlot(0))
	r, evicted := a.Insert(GPRSlot(3))
	if evicted != nil {
		t.Fatalf("unexpected eviction after a free: %+v", evicted)
	}
	if r != r0 {
		t.Fatalf("expected freed register %v reused, got %v", r0, r)
	}
}

// property (d): when the map empties, the borrow counter resets to zero.
func TestBorrowCounterResetsWhenEmpty(t *testing.T) {
	a := New(pool3())
	a.Insert(GPRSlot(0))
	a.Insert(GPRSlot(1))
	a.Free(GPRSlot(0))
	a.Free(GPRSlot(1))

	if a.borrow != 0 {
		t.Fatalf("borrow counter = %d, want 0 after emptying", a.borrow)
	}

	r, evicted := a.Insert(GPRSlot(5))
	if evicted != nil {
		t.Fatalf("unexpected eviction into an empty allocator")
	}
	if _, ok := a.Bound(GPRSlot(5)); !ok || a.bound[GPRSlot(5)].reg != r {
		t.Fatalf("slot 5 not bound to returned register")
	}
}

func TestExcludeRemovesFromFreeSet(t *testing.T) {
	a := New(pool3())
	a.Exclude(encoder.RAX)

	for i := 0; i < 2; i++ {
		r, evicted := a.Insert(GPRSlot(i))
		if evicted != nil {
			t.Fatalf("unexpected eviction")
		}
		if r == encoder.RAX {
			t.Fatalf("excluded register RAX was allocated")
		}
	}
}
