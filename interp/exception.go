// Package interp implements the interpreter core (spec.md §4.5/§4.6):
// instruction dispatch, typed arithmetic/cast/compare, control flow,
// call/return, and the memory opcodes, over a module.Program.
package interp

import "fmt"

// Code enumerates every runtime-error condition spec.md §4.5/§7 lists.
type Code int

const (
	CodeNone Code = iota

	CodeStackOverflow
	CodeStackEmpty
	CodeStackDifferentType

	CodeConstantPoolOutOfRange

	CodeArithDivZero

	CodeLocalVarOutOfRange
	CodeLocalVarInvalidIndex

	CodeLabelOutOfRange

	CodeFunctionOutOfRange
	CodeFunctionNoRet
	CodeFunctionTopOfCallStack

	CodePointerNull
	CodePointerNotPointer
	CodePointerInvalidForPointer
	CodePointerUnknownAddress

	CodeStructureFieldOutOfRange
	CodeStructureNotStructure
	CodeStructureInvalidForStructure

	CodeArrayLengthCannotBeZero
	CodeArrayIndexOutOfRange
	CodeArrayNotArray
	CodeArrayInvalidForArray

	CodeStdlibTypeAssertFail
)

var codeNames = map[Code]string{
	CodeStackOverflow:                "stack-overflow",
	CodeStackEmpty:                   "stack-empty",
	CodeStackDifferentType:           "stack-different-type",
	CodeConstantPoolOutOfRange:       "constant-pool-out-of-range",
	CodeArithDivZero:                 "arith-div-zero",
	CodeLocalVarOutOfRange:           "local-var-out-of-range",
	CodeLocalVarInvalidIndex:         "local-var-invalid-index",
	CodeLabelOutOfRange:              "label-out-of-range",
	CodeFunctionOutOfRange:           "function-out-of-range",
	CodeFunctionNoRet:                "function-no-ret",
	CodeFunctionTopOfCallStack:       "function-top-of-call-stack",
	CodePointerNull:                  "pointer-null",
	CodePointerNotPointer:            "pointer-not-pointer",
	CodePointerInvalidForPointer:     "pointer-invalid-for-pointer",
	CodePointerUnknownAddress:        "pointer-unknown-address",
	CodeStructureFieldOutOfRange:     "structure-field-out-of-range",
	CodeStructureNotStructure:        "structure-not-structure",
	CodeStructureInvalidForStructure: "structure-invalid-for-structure",
	CodeArrayLengthCannotBeZero:      "array-length-cannot-be-zero",
	CodeArrayIndexOutOfRange:         "array-index-out-of-range",
	CodeArrayNotArray:                "array-not-array",
	CodeArrayInvalidForArray:         "array-invalid-for-array",
	CodeStdlibTypeAssertFail:         "stdlib-type-assert-fail",
}

func (c Code) String() string {
	if n, ok := codeNames[c]; ok {
		return n
	}
	return "none"
}

// Exception captures the interpreter's state at the moment a violation
// halted execution (spec.md §4.5/§7): the global index of the function
// active at the time, the instruction index within its instruction
// stream, and the error code. The instruction stream itself is not
// stored in the Exception.
type Exception struct {
	Code           Code
	FunctionIndex  int
	InstructionIdx int
}

func (e *Exception) Error() string {
	return fmt.Sprintf("interp: %s at function %d, instruction %d", e.Code, e.FunctionIndex, e.InstructionIdx)
}
