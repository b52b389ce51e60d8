package loader

import (
	"fmt"
	"strings"

	"svm/module"
)

// DisassembleFunction pretty-prints a decoded instruction stream as
// "offset: mnemonic operand" lines. It is a pure external-collaborator
// pretty-printer: interp never consults it, matching spec.md §1's
// framing of disassembly as outside the execution core.
func DisassembleFunction(name string, body module.Instructions) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s:\n", name)
	for _, inst := range body.Code {
		if inst.Op.HasOperand() {
			fmt.Fprintf(&b, "  %4d: %-8s %d\n", inst.Offset, inst.Op, inst.Operand)
		} else {
			fmt.Fprintf(&b, "  %4d: %-8s\n", inst.Offset, inst.Op)
		}
	}
	return b.String()
}
