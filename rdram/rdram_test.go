package rdram

import "testing"

func TestReadWriteRoundTrip32(t *testing.T) {
	r := New(DefaultSize)
	r.StoreU32(0x2000, 0xdeadbeef)
	if got := r.ReadU32(0x2000); got != 0xdeadbeef {
		t.Fatalf("got %#x, want 0xdeadbeef", got)
	}
}

func TestBigEndianLayout(t *testing.T) {
	r := New(DefaultSize)
	r.StoreU32(0, 0x01020304)
	b0, b1, b2, b3 := r.ReadU8(0), r.ReadU8(1), r.ReadU8(2), r.ReadU8(3)
	if b0 != 0x01 || b1 != 0x02 || b2 != 0x03 || b3 != 0x04 {
		t.Fatalf("expected big-endian byte order, got %02x %02x %02x %02x", b0, b1, b2, b3)
	}
}

func TestCopyFromSeedsCartridgeHeader(t *testing.T) {
	r := New(DefaultSize)
	header := []byte{0x80, 0x37, 0x12, 0x40}
	r.CopyFrom(0, header)
	for i, want := range header {
		if got := r.ReadU8(uint64(i)); got != want {
			t.Fatalf("byte %d: got %#x want %#x", i, got, want)
		}
	}
}

func TestIdentityTranslatorKseg0(t *testing.T) {
	tr := IdentityTranslator{}
	paddr, ok := tr.Translate(0xFFFFFFFF80001000)
	if !ok || paddr != 0x1000 {
		t.Fatalf("got (%#x, %v), want (0x1000, true)", paddr, ok)
	}
}

func TestIdentityTranslatorRejectsOutOfRange(t *testing.T) {
	tr := IdentityTranslator{}
	if _, ok := tr.Translate(0xFFFFFFFFC0000000); ok {
		t.Fatalf("expected translation failure for unmapped segment")
	}
}
