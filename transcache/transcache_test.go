package transcache

import (
	"testing"

	"github.com/kestrelcore/n64jit/execbuf"
)

func tinyBlock(t *testing.T, start, end uint64) Builder {
	return func() (*execbuf.Buffer, uint64, uint64, error) {
		code := []byte{0xc3} // ret
		buf, err := execbuf.New(code, start, uint32(end-start))
		return buf, start, end, err
	}
}

// property (a): get_or_insert_with is idempotent on repeated equal keys.
func TestGetOrInsertWithIsIdempotent(t *testing.T) {
	c := New()
	h1, b1, err := c.GetOrInsertWith(0x1000, tinyBlock(t, 0x1000, 0x1004))
	if err != nil {
		t.Fatal(err)
	}
	calls := 0
	h2, b2, err := c.GetOrInsertWith(0x1000, func() (*execbuf.Buffer, uint64, uint64, error) {
		calls++
		return tinyBlock(t, 0x1000, 0x1004)()
	})
	if err != nil {
		t.Fatal(err)
	}
	if calls != 0 {
		t.Fatalf("builder called on a cache hit")
	}
	if h1 != h2 || b1 != b2 {
		t.Fatalf("expected identical handle and block on repeated key")
	}
}

// property (b) and (c): invalidate drops exactly the entries whose ranges
// intersect, and surviving entries remain fetchable by their original keys.
func TestInvalidateDropsOverlappingOnly(t *testing.T) {
	c := New()
	hA, _, err := c.GetOrInsertWith(0x1000, tinyBlock(t, 0x1000, 0x1008))
	if err != nil {
		t.Fatal(err)
	}
	hB, bufB, err := c.GetOrInsertWith(0x2000, tinyBlock(t, 0x2000, 0x2008))
	if err != nil {
		t.Fatal(err)
	}

	dropped := c.Invalidate(0x1004, 0x1006)
	if len(dropped) != 1 || dropped[0] != hA {
		t.Fatalf("expected only entry A dropped, got %+v", dropped)
	}

	if _, ok := c.Lookup(hA); ok {
		t.Fatal("entry A should be dead after invalidation")
	}
	block, ok := c.Lookup(hB)
	if !ok || block != bufB {
		t.Fatal("entry B should survive a non-overlapping invalidation")
	}

	// Re-fetching the dropped key must rebuild, not resurrect the handle.
	h2, _, err := c.GetOrInsertWith(0x1000, tinyBlock(t, 0x1000, 0x1008))
	if err != nil {
		t.Fatal(err)
	}
	if h2 == hA {
		t.Fatal("rebuilt entry reused the stale handle's generation")
	}
}
