package module

import (
	"fmt"
	"sort"

	"svm/loader/opcode"
	"svm/typ"
)

// Program is the resolved closure spec.md §3/§4.4 describes: modules
// concatenated in dependency order, with flat global index spaces for
// types and functions and per-module base offsets.
//
// The wire format (spec.md §6) carries no explicit cross-module import
// table, so cross-module references use the same "index selects either
// a local entry or overflows into the next space" trick spec.md already
// uses for push (constant vs. default structure): a Call operand below
// the calling module's own function count addresses a local function;
// at or above it, the remainder indexes into the concatenation of that
// module's declared Dependencies' function spaces, in declaration
// order. This is documented in DESIGN.md as the chosen resolution of
// an otherwise-underspecified corner of §4.4/§6.
type Program struct {
	Modules    []*Module
	funcBase   map[*Module]int
	structBase map[*Module]int
	localTypes map[*Module][]typ.Type // this module's own structures, by local index
	funcs      []FunctionSlot
	structs    []*typ.Structure
}

// GetType implements object.Resolver: global structure codes resolve to
// their interned typ.Type.
func (p *Program) GetType(code typ.Code) (typ.Type, bool) {
	idx := int(code) - typ.FundamentalCount
	if idx < 0 || idx >= len(p.structs) {
		return typ.Type{}, false
	}
	return p.structs[idx].Type, true
}

func (p *Program) GetStructure(code typ.Code) (*typ.Structure, bool) {
	idx := int(code) - typ.FundamentalCount
	if idx < 0 || idx >= len(p.structs) {
		return nil, false
	}
	return p.structs[idx], true
}

func (p *Program) GetFunction(index int) (FunctionSlot, bool) {
	if index < 0 || index >= len(p.funcs) {
		return FunctionSlot{}, false
	}
	return p.funcs[index], true
}

func (p *Program) GetStructureCount() int { return len(p.structs) }
func (p *Program) GetFunctionCount() int  { return len(p.funcs) }

// FuncBaseOf returns the global function-index base assigned to m by
// Resolve, i.e. the global index of m's function 0.
func (p *Program) FuncBaseOf(m *Module) int { return p.funcBase[m] }

// LocalStructType resolves a module-local structure index (as used by
// push's "operand >= pool count selects a default-initialized
// structure" rule) into its interned Type.
func (p *Program) LocalStructType(m *Module, localIdx int) (typ.Type, bool) {
	ts, ok := p.localTypes[m]
	if !ok || localIdx < 0 || localIdx >= len(ts) {
		return typ.Type{}, false
	}
	return ts[localIdx], true
}

// GlobalFunctionIndex translates a Call instruction's wire-level
// operand — local to the calling module m, or overflowing into its
// declared dependencies — into the flat global function index the
// interpreter dispatches on.
func (p *Program) GlobalFunctionIndex(m *Module, operand uint32) (int, bool) {
	op := int(operand)
	if op < len(m.Functions) {
		return p.funcBase[m] + op, true
	}
	rem := op - len(m.Functions)
	for _, depPath := range m.Dependencies {
		dep := p.moduleByPath(depPath)
		if dep == nil {
			continue
		}
		if rem < len(dep.Functions) {
			return p.funcBase[dep] + rem, true
		}
		rem -= len(dep.Functions)
	}
	return 0, false
}

func (p *Program) moduleByPath(path string) *Module {
	for _, m := range p.Modules {
		if m.Path == path {
			return m
		}
	}
	return nil
}

// Resolve builds a Program from a set of modules: topologically sorts
// them by declared dependency (Kahn's algorithm; modules still unplaced
// once the ready queue empties signal a cycle, per spec.md §4.4), interns every
// module's structures into global type codes (rejecting field-graph
// cycles via a 3-color DFS, spec.md §3/§9), and flattens functions into
// a global index space.
func Resolve(modules []*Module) (*Program, error) {
	order, err := topoSortModules(modules)
	if err != nil {
		return nil, err
	}

	p := &Program{
		Modules:    order,
		funcBase:   make(map[*Module]int),
		structBase: make(map[*Module]int),
		localTypes: make(map[*Module][]typ.Type),
	}

	for _, m := range order {
		p.structBase[m] = len(p.structs)
		types, err := resolveModuleStructures(m, p.structBase[m])
		if err != nil {
			return nil, fmt.Errorf("module %q: %w", m.Path, err)
		}
		p.localTypes[m] = types
		for _, t := range types {
			p.structs = append(p.structs, t.Structure())
		}
	}

	for _, m := range order {
		p.funcBase[m] = len(p.funcs)
		for i := range m.Functions {
			p.funcs = append(p.funcs, FunctionSlot{Def: &m.Functions[i], Module: m})
		}
	}

	for _, m := range order {
		for i := range m.Functions {
			f := &m.Functions[i]
			if f.Kind != FunctionBytecode {
				continue
			}
			for ci := range f.Bytecode.Code {
				inst := &f.Bytecode.Code[ci]
				if inst.Op != opcode.Call {
					continue
				}
				g, ok := p.GlobalFunctionIndex(m, inst.Operand)
				if !ok {
					return nil, fmt.Errorf("module %q: function %q: call operand %d does not resolve", m.Path, f.Name, inst.Operand)
				}
				inst.Operand = uint32(g)
			}
		}
	}

	return p, nil
}

// topoSortModules runs Kahn's algorithm over the Dependencies
// adjacency, returning an error if any module is left unplaced (a
// cycle, or a dependency naming a module not present in the set).
func topoSortModules(modules []*Module) ([]*Module, error) {
	byPath := make(map[string]*Module, len(modules))
	for _, m := range modules {
		byPath[m.Path] = m
	}
	indegree := make(map[string]int, len(modules))
	dependents := make(map[string][]string)
	for _, m := range modules {
		if _, ok := indegree[m.Path]; !ok {
			indegree[m.Path] = 0
		}
		for _, dep := range m.Dependencies {
			if _, ok := byPath[dep]; !ok {
				return nil, fmt.Errorf("module %q depends on unknown module %q", m.Path, dep)
			}
			indegree[m.Path]++
			dependents[dep] = append(dependents[dep], m.Path)
		}
	}

	var ready []string
	for path, d := range indegree {
		if d == 0 {
			ready = append(ready, path)
		}
	}
	sort.Strings(ready)

	var order []*Module
	for len(ready) > 0 {
		path := ready[0]
		ready = ready[1:]
		order = append(order, byPath[path])
		next := append([]string(nil), dependents[path]...)
		sort.Strings(next)
		for _, dep := range next {
			indegree[dep]--
			if indegree[dep] == 0 {
				ready = append(ready, dep)
				sort.Strings(ready)
			}
		}
	}

	if len(order) != len(modules) {
		return nil, fmt.Errorf("module dependency graph contains a cycle")
	}
	return order, nil
}

// structColor is the 3-color DFS state for field-graph cycle detection
// (spec.md §9 design note).
type structColor int

const (
	white structColor = iota
	gray
	black
)

// resolveModuleStructures interns every StructDef in m, in declaration
// order, computing each one's padded layout via typ.NewStructure.
// A field may reference any structure of the same module, earlier- or
// later-declared (the referenced structure is resolved first by the
// DFS); only a cycle in the field graph, detected by reaching a gray
// node, is rejected.
func resolveModuleStructures(m *Module, globalBase int) ([]typ.Type, error) {
	n := len(m.StructDefs)
	types := make([]typ.Type, n)
	colors := make([]structColor, n)

	var visit func(i int) error
	visit = func(i int) error {
		switch colors[i] {
		case black:
			return nil
		case gray:
			return fmt.Errorf("structure %q participates in a field-graph cycle", m.StructDefs[i].Name)
		}
		colors[i] = gray
		def := m.StructDefs[i]
		fieldTypes := make([]typ.Type, len(def.FieldCodes))
		for fi, code := range def.FieldCodes {
			if int(code) < typ.FundamentalCount {
				t, ok := typ.Fundamental(typ.Code(code))
				if !ok {
					return fmt.Errorf("structure %q field %d: invalid fundamental code %d", def.Name, fi, code)
				}
				fieldTypes[fi] = t
				continue
			}
			idx := int(code) - typ.FundamentalCount
			if idx < 0 || idx >= n {
				return fmt.Errorf("structure %q field %d: structure index %d out of range", def.Name, fi, idx)
			}
			if err := visit(idx); err != nil {
				return err
			}
			fieldTypes[fi] = types[idx]
		}
		code := typ.Code(typ.FundamentalCount + globalBase + i)
		types[i] = typ.NewStructure(def.Name, code, fieldTypes).Type
		colors[i] = black
		return nil
	}

	for i := range m.StructDefs {
		if err := visit(i); err != nil {
			return nil, err
		}
	}
	return types, nil
}
