package wasm

import "fmt"

// Info is the linking-relevant view of a binary.
type Info struct {
	Types   []FuncType
	Imports []Import
	Exports []Export
	Customs []Custom
	// Globals holds the types of defined (not imported) globals.
	Globals []GlobalType
}

// Custom returns the data of the first custom section called name.
func (i *Info) Custom(name string) ([]byte, bool) {
	for _, c := range i.Customs {
		if c.Name == name {
			return c.Data, true
		}
	}
	return nil, false
}

// ImportType returns the signature of a function import.
func (i *Info) ImportType(imp Import) (FuncType, bool) {
	if imp.Kind != KindFunc || int(imp.TypeIdx) >= len(i.Types) {
		return FuncType{}, false
	}
	return i.Types[imp.TypeIdx], true
}

// ExportedGlobals lists the names of exported globals that the binary
// defines itself. Re-exported imports are excluded.
func (i *Info) ExportedGlobals() []string {
	var imported uint32
	for _, imp := range i.Imports {
		if imp.Kind == KindGlobal {
			imported++
		}
	}
	var names []string
	for _, exp := range i.Exports {
		if exp.Kind == KindGlobal && exp.Index >= imported {
			names = append(names, exp.Name)
		}
	}
	return names
}

// ExportedFuncs lists the names of exported functions.
func (i *Info) ExportedFuncs() []string {
	var names []string
	for _, exp := range i.Exports {
		if exp.Kind == KindFunc {
			names = append(names, exp.Name)
		}
	}
	return names
}

// Inspect parses the type, import, global, export and custom sections of bin.
func Inspect(bin []byte) (*Info, error) {
	r := &reader{b: bin}
	r.header()

	info := &Info{}
	for !r.done() {
		id := r.byte()
		size := r.u32()
		body := r.take(int(size))
		if r.err != nil {
			break
		}
		sec := &reader{b: body}
		switch id {
		case SectionType:
			info.Types = readTypes(sec)
		case SectionImport:
			info.Imports = readImports(sec)
		case SectionGlobal:
			info.Globals = readGlobals(sec)
		case SectionExport:
			info.Exports = readExports(sec)
		case SectionCustom:
			name := sec.name()
			if sec.err == nil {
				info.Customs = append(info.Customs, Custom{Name: name, Data: body[sec.off:]})
			}
		}
		if sec.err != nil {
			return nil, fmt.Errorf("section %d: %w", id, sec.err)
		}
	}
	if r.err != nil {
		return nil, r.err
	}
	return info, nil
}

func readTypes(r *reader) []FuncType {
	n := r.u32()
	var types []FuncType
	for i := uint32(0); i < n && r.err == nil; i++ {
		if b := r.byte(); b != FuncTypeByte {
			r.fail(fmt.Errorf("wasm: unexpected type form 0x%02x", b))
			return nil
		}
		params := r.take(int(r.u32()))
		results := r.take(int(r.u32()))
		types = append(types, FuncType{
			Params:  append([]byte(nil), params...),
			Results: append([]byte(nil), results...),
		})
	}
	return types
}

func readImports(r *reader) []Import {
	n := r.u32()
	var imports []Import
	for i := uint32(0); i < n && r.err == nil; i++ {
		imp := Import{Module: r.name(), Name: r.name(), Kind: r.byte()}
		switch imp.Kind {
		case KindFunc:
			imp.TypeIdx = r.u32()
		case KindTable:
			r.byte()
			r.limits()
		case KindMemory:
			r.limits()
		case KindGlobal:
			imp.Global = GlobalType{ValType: r.byte(), Mutable: r.byte() == 1}
		default:
			r.fail(fmt.Errorf("wasm: unknown import kind 0x%02x", imp.Kind))
		}
		imports = append(imports, imp)
	}
	return imports
}

func readGlobals(r *reader) []GlobalType {
	n := r.u32()
	var globals []GlobalType
	for i := uint32(0); i < n && r.err == nil; i++ {
		g := GlobalType{ValType: r.byte(), Mutable: r.byte() == 1}
		// constant initializer: one instruction with an immediate, then end
		for r.err == nil {
			op := r.byte()
			if op == OpEnd {
				break
			}
			switch op {
			case OpI64Const, 0x41, OpGlobalGet:
				r.skipLEB()
			case 0x43:
				r.take(4)
			case 0x44:
				r.take(8)
			default:
				r.fail(fmt.Errorf("wasm: unsupported global initializer 0x%02x", op))
			}
		}
		globals = append(globals, g)
	}
	return globals
}

func readExports(r *reader) []Export {
	n := r.u32()
	var exports []Export
	for i := uint32(0); i < n && r.err == nil; i++ {
		exports = append(exports, Export{Name: r.name(), Kind: r.byte(), Index: r.u32()})
	}
	return exports
}
