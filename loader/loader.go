// Package loader reads the byte-file wire format (spec.md §6) into a
// module.Module. It is an external collaborator: the interpreter core
// never sees a byte stream, only the module.Module shape this package
// produces.
package loader

import (
	"encoding/binary"
	"fmt"
	"io"

	"svm/loader/opcode"
	"svm/module"
)

// Magic is the 4-byte file signature (spec.md §6).
var Magic = [4]byte{0x74, 0x68, 0x74, 0x68}

// StructureTableMinVersion is the file-format version at and above
// which a structure table is present (spec.md §6: "file version ≥
// 0.2.0"). The wire format encodes file-format version as a flat u16,
// so "0.2.0" is read here as the integer 2 — the simplest reading
// consistent with the single-u16 header field spec.md §6 actually
// specifies.
const StructureTableMinVersion = 2

// maxFileFormatVersion/maxBytecodeVersion are the newest wire versions
// this loader understands (the u16 encodings of FileFormatVersion and
// BytecodeVersion in version.go); a file declaring a newer one is
// rejected rather than misread.
const (
	maxFileFormatVersion Version = 2
	maxBytecodeVersion   Version = 4
)

// Version is a file-format or bytecode version read from the header.
type Version uint16

// Header is the decoded byte-file header.
type Header struct {
	FileFormatVersion Version
	BytecodeVersion   Version
}

var errBadMagic = fmt.Errorf("loader: bad magic (not a ShitVM byte file)")

// Load decodes a complete byte file into a fresh module.Module named
// path. Only the little-endian wire format is supported (spec.md §9
// open question 3); there is no endianness field to sanity-check
// against, so a file produced by a big-endian writer is not detected as
// such: it is decoded as little-endian and reported as an error only
// when that decoding itself fails (for example, a misread count runs
// past the end of the input); otherwise it is accepted as misread.
func Load(r io.Reader, path string) (*module.Module, error) {
	var magic [4]byte
	if _, err := io.ReadFull(r, magic[:]); err != nil {
		return nil, fmt.Errorf("loader: reading magic: %w", err)
	}
	if magic != Magic {
		return nil, errBadMagic
	}

	var hdr Header
	if err := binary.Read(r, binary.LittleEndian, (*uint16)(&hdr.FileFormatVersion)); err != nil {
		return nil, fmt.Errorf("loader: reading file-format version: %w", err)
	}
	if err := binary.Read(r, binary.LittleEndian, (*uint16)(&hdr.BytecodeVersion)); err != nil {
		return nil, fmt.Errorf("loader: reading bytecode version: %w", err)
	}
	if hdr.FileFormatVersion > maxFileFormatVersion {
		return nil, fmt.Errorf("loader: file-format version %d is newer than supported %d", hdr.FileFormatVersion, maxFileFormatVersion)
	}
	if hdr.BytecodeVersion > maxBytecodeVersion {
		return nil, fmt.Errorf("loader: bytecode version %d is newer than supported %d", hdr.BytecodeVersion, maxBytecodeVersion)
	}

	m := module.NewModule(path)

	pool, err := readConstantPool(r)
	if err != nil {
		return nil, fmt.Errorf("loader: constant pool: %w", err)
	}
	m.Constants = pool

	if hdr.FileFormatVersion >= StructureTableMinVersion {
		if err := readStructureTable(r, m); err != nil {
			return nil, fmt.Errorf("loader: structure table: %w", err)
		}
	}

	if err := readFunctionTable(r, m); err != nil {
		return nil, fmt.Errorf("loader: function table: %w", err)
	}

	entry, err := readInstructions(r)
	if err != nil {
		return nil, fmt.Errorf("loader: entry point: %w", err)
	}
	m.EntryIndex = m.DefineBytecodeFunction("<entry>", 0, false, entry)

	return m, nil
}

func readU32(r io.Reader) (uint32, error) {
	var v uint32
	err := binary.Read(r, binary.LittleEndian, &v)
	return v, err
}

func readConstantPool(r io.Reader) (module.ConstantPool, error) {
	var pool module.ConstantPool

	intCount, err := readU32(r)
	if err != nil {
		return pool, err
	}
	pool.Ints = make([]int32, intCount)
	for i := range pool.Ints {
		if err := binary.Read(r, binary.LittleEndian, &pool.Ints[i]); err != nil {
			return pool, fmt.Errorf("int constant %d: %w", i, err)
		}
	}

	longCount, err := readU32(r)
	if err != nil {
		return pool, err
	}
	pool.Longs = make([]int64, longCount)
	for i := range pool.Longs {
		if err := binary.Read(r, binary.LittleEndian, &pool.Longs[i]); err != nil {
			return pool, fmt.Errorf("long constant %d: %w", i, err)
		}
	}

	doubleCount, err := readU32(r)
	if err != nil {
		return pool, err
	}
	pool.Doubles = make([]float64, doubleCount)
	for i := range pool.Doubles {
		if err := binary.Read(r, binary.LittleEndian, &pool.Doubles[i]); err != nil {
			return pool, fmt.Errorf("double constant %d: %w", i, err)
		}
	}

	return pool, nil
}

func readStructureTable(r io.Reader, m *module.Module) error {
	structCount, err := readU32(r)
	if err != nil {
		return err
	}
	for si := 0; si < int(structCount); si++ {
		fieldCount, err := readU32(r)
		if err != nil {
			return fmt.Errorf("structure %d: field count: %w", si, err)
		}
		codes := make([]uint32, fieldCount)
		for fi := range codes {
			if codes[fi], err = readU32(r); err != nil {
				return fmt.Errorf("structure %d field %d: %w", si, fi, err)
			}
		}
		m.DefineStructure(fmt.Sprintf("struct%d", si), codes)
	}
	return nil
}

func readFunctionTable(r io.Reader, m *module.Module) error {
	funcCount, err := readU32(r)
	if err != nil {
		return err
	}
	for fi := 0; fi < int(funcCount); fi++ {
		var arity uint16
		if err := binary.Read(r, binary.LittleEndian, &arity); err != nil {
			return fmt.Errorf("function %d: arity: %w", fi, err)
		}
		var hasResult uint8
		if err := binary.Read(r, binary.LittleEndian, &hasResult); err != nil {
			return fmt.Errorf("function %d: hasResult: %w", fi, err)
		}
		body, err := readInstructions(r)
		if err != nil {
			return fmt.Errorf("function %d: body: %w", fi, err)
		}
		m.DefineBytecodeFunction(fmt.Sprintf("func%d", fi), int(arity), hasResult != 0, body)
	}
	return nil
}

func readInstructions(r io.Reader) (module.Instructions, error) {
	var insts module.Instructions

	labelCount, err := readU32(r)
	if err != nil {
		return insts, fmt.Errorf("label count: %w", err)
	}
	insts.Labels = make([]uint64, labelCount)
	for i := range insts.Labels {
		if err := binary.Read(r, binary.LittleEndian, &insts.Labels[i]); err != nil {
			return insts, fmt.Errorf("label %d: %w", i, err)
		}
	}

	var instCount uint64
	if err := binary.Read(r, binary.LittleEndian, &instCount); err != nil {
		return insts, fmt.Errorf("instruction count: %w", err)
	}
	insts.Code = make([]opcode.Instruction, instCount)
	for i := range insts.Code {
		var opByte uint8
		if err := binary.Read(r, binary.LittleEndian, &opByte); err != nil {
			return insts, fmt.Errorf("instruction %d opcode: %w", i, err)
		}
		op := opcode.Opcode(opByte)
		inst := opcode.Instruction{Op: op, Offset: uint64(i)}
		if op.HasOperand() {
			if err := binary.Read(r, binary.LittleEndian, &inst.Operand); err != nil {
				return insts, fmt.Errorf("instruction %d operand: %w", i, err)
			}
		}
		insts.Code[i] = inst
	}

	return insts, nil
}
