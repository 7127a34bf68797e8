package jumptable

import (
	"testing"

	"github.com/kestrelcore/n64jit/execbuf"
	"github.com/kestrelcore/n64jit/transcache"
)

func TestQueryThenResolve(t *testing.T) {
	cache := transcache.New()
	tbl := New(cache)

	if _, ok := tbl.Resolved(0x4000); ok {
		t.Fatal("expected miss before any query")
	}
	tbl.Query(0x4000)
	if _, ok := tbl.Resolved(0x4000); ok {
		t.Fatal("expected still-unresolved after a bare query")
	}

	h, buf, err := cache.GetOrInsertWith(0x1000, func() (*execbuf.Buffer, uint64, uint64, error) {
		b, err := execbuf.New([]byte{0xc3}, 0x1000, 1)
		return b, 0x1000, 0x1001, err
	})
	if err != nil {
		t.Fatal(err)
	}

	tbl.Resolve(0x4000, h)
	entry, ok := tbl.Resolved(0x4000)
	if !ok || entry != buf.Entry() {
		t.Fatalf("expected resolved entry %#x, got %#x ok=%v", buf.Entry(), entry, ok)
	}
}

func TestDropPurgesEntriesForInvalidatedHandles(t *testing.T) {
	cache := transcache.New()
	tbl := New(cache)

	h, _, err := cache.GetOrInsertWith(0x1000, func() (*execbuf.Buffer, uint64, uint64, error) {
		b, err := execbuf.New([]byte{0xc3}, 0x1000, 1)
		return b, 0x1000, 0x1001, err
	})
	if err != nil {
		t.Fatal(err)
	}
	tbl.Resolve(0x4000, h)

	dropped := cache.Invalidate(0x1000, 0x1001)
	tbl.Drop(dropped)

	if _, ok := tbl.Resolved(0x4000); ok {
		t.Fatal("expected entry purged after its owning block was invalidated")
	}
}
