package encoder

import (
	"bytes"
	"testing"
)

// goldenFixtures are the per-addressing-mode reference encodings spec §8
// designates as the conformance oracle.
func TestMovGoldenFixtures(t *testing.T) {
	cases := []struct {
		name string
		enc  func(a *Assembler) error
		want []byte
	}{
		{"mov rcx, r8", func(a *Assembler) error { return a.Mov(Register(RCX), Register(R8)) }, hex("4c89c1")},
		{"mov rcx, rbx", func(a *Assembler) error { return a.Mov(Register(RCX), Register(RBX)) }, hex("4889d9")},
		{"mov r9, r11", func(a *Assembler) error { return a.Mov(Register(R9), Register(R11)) }, hex("4d89d9")},
		{"mov rcx, 0x3412", func(a *Assembler) error { return a.Mov(Register(RCX), Imm(0x3412)) }, hex("b912340000")},
		{"mov r11, 0x3412", func(a *Assembler) error { return a.Mov(Register(R11), Imm(0x3412)) }, hex("41bb12340000")},
		{"mov rcx, [0x78563412]", func(a *Assembler) error { return a.Mov(Register(RCX), Abs(0x78563412)) }, hex("488b0c2512345678")},
		{"mov rax, [rsp + 0x78563412]", func(a *Assembler) error {
			return a.Mov(Register(RAX), Mem(RSP, 0x78563412))
		}, hex("488b842412345678")},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			a := New()
			if err := c.enc(a); err != nil {
				t.Fatalf("encode error: %v", err)
			}
			if !bytes.Equal(a.Bytes(), c.want) {
				t.Fatalf("got % x, want % x", a.Bytes(), c.want)
			}
		})
	}
}

func TestMovDisp8Form(t *testing.T) {
	a := New()
	if err := a.Mov(Register(RAX), Mem(RBX, 0x10)); err != nil {
		t.Fatal(err)
	}
	// REX.W, 8B /r, mod=01 rm=011(rbx) reg=000(rax), disp8=0x10
	want := hex("488b4310")
	if !bytes.Equal(a.Bytes(), want) {
		t.Fatalf("got % x, want % x", a.Bytes(), want)
	}
}

func TestMovRBPZeroDispForcesDisp8(t *testing.T) {
	a := New()
	if err := a.Mov(Register(RAX), Mem(RBP, 0)); err != nil {
		t.Fatal(err)
	}
	want := hex("488b4500") // mod=01 rm=101(rbp), disp8=0x00
	if !bytes.Equal(a.Bytes(), want) {
		t.Fatalf("got % x, want % x", a.Bytes(), want)
	}
}

func TestMovStackPointerBaseEmitsSIB(t *testing.T) {
	a := New()
	if err := a.Mov(Register(RAX), Mem(RSP, 0)); err != nil {
		t.Fatal(err)
	}
	want := hex("488b0424") // mod=00 rm=100(sib), sib=0x24
	if !bytes.Equal(a.Bytes(), want) {
		t.Fatalf("got % x, want % x", a.Bytes(), want)
	}
}

func TestMovAbsFullWidth(t *testing.T) {
	a := New()
	a.MovAbs(RCX, 0x1122334455667788)
	want := hex("48b98877665544332211")
	if !bytes.Equal(a.Bytes(), want) {
		t.Fatalf("got % x, want % x", a.Bytes(), want)
	}
}

func TestMovImmRejectsOver32Bit(t *testing.T) {
	a := New()
	if err := a.Mov(Register(RAX), Imm(1<<40)); err == nil {
		t.Fatal("expected ErrUnsupportedOperand for a 64-bit immediate through Mov")
	}
}

func TestPushPopRoundTrip(t *testing.T) {
	a := New()
	a.Push(R13)
	a.Pop(R13)
	want := hex("4155415d")
	if !bytes.Equal(a.Bytes(), want) {
		t.Fatalf("got % x, want % x", a.Bytes(), want)
	}
}

func TestAluRegRegAndImm(t *testing.T) {
	a := New()
	if err := a.Add(Register(RAX), Register(RCX)); err != nil {
		t.Fatal(err)
	}
	if err := a.Sub(Register(RDX), Imm(4)); err != nil {
		t.Fatal(err)
	}
	want := hex("4801c8") // add rax, rcx
	want = append(want, hex("4881ea04000000")...)
	if !bytes.Equal(a.Bytes(), want) {
		t.Fatalf("got % x, want % x", a.Bytes(), want)
	}
}

func TestNorComposesOrThenNot(t *testing.T) {
	a := New()
	if err := a.Or(Register(RAX), Register(RBX)); err != nil {
		t.Fatal(err)
	}
	a.Not(RAX)
	want := hex("4809d8")
	want = append(want, hex("48f7d0")...)
	if !bytes.Equal(a.Bytes(), want) {
		t.Fatalf("got % x, want % x", a.Bytes(), want)
	}
}

// TestCallFnZeroArgsGoldenFixture pins the exact System V call sequence
// call_fn emits for a nullary target: save rsp, align to 16 bytes, load the
// absolute target, call, restore rsp.
func TestCallFnZeroArgsGoldenFixture(t *testing.T) {
	a := New()
	if err := a.CallFn(0x1122334455667788, nil); err != nil {
		t.Fatal(err)
	}
	want := hex("4989e3" + "4881e4f0ffffff" + "48b88877665544332211" + "ffd0" + "4c89dc")
	if !bytes.Equal(a.Bytes(), want) {
		t.Fatalf("got % x, want % x", a.Bytes(), want)
	}
}

// TestCallFnRejectsTooManyArgs checks the ArgRegs-capacity guard.
func TestCallFnRejectsTooManyArgs(t *testing.T) {
	a := New()
	args := make([]Operand, len(ArgRegs)+1)
	for i := range args {
		args[i] = Imm(uint64(i))
	}
	if err := a.CallFn(0, args); err == nil {
		t.Fatal("expected ErrUnsupportedOperand for more arguments than ArgRegs")
	}
}

// TestCallFnSpillsClobberedArgSource exercises moveCallArg's spill path: the
// second argument reads rdi, which is also ArgRegs[0] and so is about to be
// overwritten moving the first argument into place. call_fn must spill rdi
// to its reserved stack slot before clobbering it, then read the spilled
// value back for the second argument instead of the (by then) wrong rdi.
func TestCallFnSpillsClobberedArgSource(t *testing.T) {
	a := New()
	args := []Operand{Register(RSI), Register(RDI)}
	if err := a.CallFn(0xAABBCCDD, args); err != nil {
		t.Fatal(err)
	}
	b := a.Bytes()

	// sub rsp, 0x10 reserves the two spill slots before any move.
	if !bytes.HasPrefix(b, hex("4881ec10000000")) {
		t.Fatalf("expected leading sub rsp,0x10, got % x", b[:min(8, len(b))])
	}
	// add rsp, 0x10 releases the spill slots before the aligned call.
	tail := hex("4881c410000000")
	if !bytes.Contains(b, tail) {
		t.Fatalf("missing spill-slot release % x in % x", tail, b)
	}
	if !bytes.Contains(b, hex("ffd0")) {
		t.Fatalf("missing call rax in % x", b)
	}
}

func hex(s string) []byte {
	b := make([]byte, len(s)/2)
	for i := range b {
		var v byte
		for j := 0; j < 2; j++ {
			c := s[i*2+j]
			var nib byte
			switch {
			case c >= '0' && c <= '9':
				nib = c - '0'
			case c >= 'a' && c <= 'f':
				nib = c - 'a' + 10
			}
			v = v<<4 | nib
		}
		b[i] = v
	}
	return b
}
