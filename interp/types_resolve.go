package interp

import (
	"svm/module"
	"svm/typ"
)

// currentModule returns the module owning the active frame's function.
func (it *Interpreter) currentModule() *module.Module {
	slot, ok := it.prog.GetFunction(it.fr.funcIndex)
	if !ok {
		return nil
	}
	return slot.Module
}

// resolveTypeOperand interprets a `new`/`gcnew`/`anew`/`agcnew` operand
// as a type selector: a code below typ.FundamentalCount names a
// fundamental type directly, matching the structure-table's own field
// code encoding (module.resolveModuleStructures); at or above it, the
// remainder indexes the active function's module's own structures, the
// same space push's "operand ≥ pool count" branch draws from.
func (it *Interpreter) resolveTypeOperand(operand uint32) (typ.Type, bool) {
	if operand < typ.FundamentalCount {
		return typ.Fundamental(typ.Code(operand))
	}
	m := it.currentModule()
	if m == nil {
		return typ.Type{}, false
	}
	return it.prog.LocalStructType(m, int(operand-typ.FundamentalCount))
}
