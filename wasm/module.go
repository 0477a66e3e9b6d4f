package wasm

import "slices"

// FuncType is a function signature
type FuncType struct {
	Params  []byte
	Results []byte
}

// Equal reports whether two signatures are identical
func (t FuncType) Equal(o FuncType) bool {
	return slices.Equal(t.Params, o.Params) && slices.Equal(t.Results, o.Results)
}

// GlobalType describes a global's value type and mutability
type GlobalType struct {
	ValType byte
	Mutable bool
}

// Import is a function or global import
type Import struct {
	Module  string
	Name    string
	Kind    byte
	TypeIdx uint32     // KindFunc
	Global  GlobalType // KindGlobal
}

// Export names a definition in one of the index spaces
type Export struct {
	Name  string
	Kind  byte
	Index uint32
}

// Global is a defined global initialised with an i64 constant
type Global struct {
	Type GlobalType
	Init int64
}

// Func is a defined function. Body holds the instruction stream without
// the terminating end opcode.
type Func struct {
	Locals  []byte
	Body    []byte
	TypeIdx uint32
}

// Custom is a named custom section
type Custom struct {
	Name string
	Data []byte
}

// Module is an in-memory module ready for encoding
type Module struct {
	Types   []FuncType
	Imports []Import
	Funcs   []Func
	Globals []Global
	Exports []Export
	Customs []Custom
}

// AddType returns the index of ft, appending it if not already present.
func (m *Module) AddType(ft FuncType) uint32 {
	for i, t := range m.Types {
		if t.Equal(ft) {
			return uint32(i)
		}
	}
	m.Types = append(m.Types, ft)
	return uint32(len(m.Types) - 1)
}

// ImportedFuncs counts function imports, which precede defined functions in
// the function index space.
func (m *Module) ImportedFuncs() uint32 {
	var n uint32
	for _, imp := range m.Imports {
		if imp.Kind == KindFunc {
			n++
		}
	}
	return n
}

// ImportedGlobals counts global imports.
func (m *Module) ImportedGlobals() uint32 {
	var n uint32
	for _, imp := range m.Imports {
		if imp.Kind == KindGlobal {
			n++
		}
	}
	return n
}

// I64Type builds the signature (i64 * params) -> i64 or -> () when results is 0.
func I64Type(params, results int) FuncType {
	ft := FuncType{
		Params:  make([]byte, params),
		Results: make([]byte, results),
	}
	for i := range ft.Params {
		ft.Params[i] = ValI64
	}
	for i := range ft.Results {
		ft.Results[i] = ValI64
	}
	return ft
}
