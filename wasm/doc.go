// Package wasm builds, inspects and rewrites the WebAssembly binaries that
// serve as jitlink artifacts.
//
// Only the subset the code generator emits is supported: i64 functions,
// mutable i64 globals, imports of functions and globals, exports and custom
// sections. Anything else found while inspecting a foreign binary is skipped
// over without interpretation.
//
// Building a module:
//
//	m := &wasm.Module{}
//	t := m.AddType(wasm.FuncType{Results: []byte{wasm.ValI64}})
//	body := wasm.NewExpr().I64Const(3)
//	m.Funcs = append(m.Funcs, wasm.Func{TypeIdx: t, Body: body.Bytes()})
//	m.Exports = append(m.Exports, wasm.Export{Name: "three", Kind: wasm.KindFunc})
//	bin := m.Encode()
//
// Inspect parses the import, export and custom sections back out, and
// RewriteImports re-targets import module names so an artifact can be linked
// against concrete instances.
package wasm
