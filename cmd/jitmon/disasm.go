package main

import (
	"fmt"
	"io"

	"golang.org/x/arch/x86/x86asm"
)

// disasX86 decodes and prints code as 64-bit x86-64 instructions, one per
// line, advancing by each decoded instruction's length. A decode failure
// prints the offending byte and resyncs one byte forward rather than
// aborting the whole dump — emitted blocks are short, and one bad offset
// (e.g. landing mid-instruction from a miscomputed length) shouldn't hide
// the rest.
func disasX86(out io.Writer, code []byte) {
	for off := 0; off < len(code); {
		inst, err := x86asm.Decode(code[off:], 64)
		if err != nil {
			fmt.Fprintf(out, "  +%#04x: %02x  <decode error: %v>\r\n", off, code[off], err)
			off++
			continue
		}
		fmt.Fprintf(out, "  +%#04x: %s\r\n", off, x86asm.GNUSyntax(inst, uint64(off), nil))
		off += inst.Len
	}
}
