package wasm

// Encode encodes the module to WebAssembly binary format
func (m *Module) Encode() []byte {
	var w writer

	w.u32le(Magic)
	w.u32le(Version)

	if len(m.Types) > 0 {
		var sec writer
		sec.u32(uint32(len(m.Types)))
		for _, ft := range m.Types {
			sec.byte(FuncTypeByte)
			writeValTypes(&sec, ft.Params)
			writeValTypes(&sec, ft.Results)
		}
		w.section(SectionType, sec.buf)
	}

	if len(m.Imports) > 0 {
		var sec writer
		sec.u32(uint32(len(m.Imports)))
		for _, imp := range m.Imports {
			sec.name(imp.Module)
			sec.name(imp.Name)
			sec.byte(imp.Kind)
			switch imp.Kind {
			case KindFunc:
				sec.u32(imp.TypeIdx)
			case KindGlobal:
				writeGlobalType(&sec, imp.Global)
			}
		}
		w.section(SectionImport, sec.buf)
	}

	if len(m.Funcs) > 0 {
		var sec writer
		sec.u32(uint32(len(m.Funcs)))
		for _, f := range m.Funcs {
			sec.u32(f.TypeIdx)
		}
		w.section(SectionFunction, sec.buf)
	}

	if len(m.Globals) > 0 {
		var sec writer
		sec.u32(uint32(len(m.Globals)))
		for _, g := range m.Globals {
			writeGlobalType(&sec, g.Type)
			sec.byte(OpI64Const)
			sec.s64(g.Init)
			sec.byte(OpEnd)
		}
		w.section(SectionGlobal, sec.buf)
	}

	if len(m.Exports) > 0 {
		var sec writer
		sec.u32(uint32(len(m.Exports)))
		for _, exp := range m.Exports {
			sec.name(exp.Name)
			sec.byte(exp.Kind)
			sec.u32(exp.Index)
		}
		w.section(SectionExport, sec.buf)
	}

	if len(m.Funcs) > 0 {
		var sec writer
		sec.u32(uint32(len(m.Funcs)))
		for _, f := range m.Funcs {
			var body writer
			writeLocals(&body, f.Locals)
			body.bytes(f.Body)
			body.byte(OpEnd)
			sec.u32(uint32(len(body.buf)))
			sec.bytes(body.buf)
		}
		w.section(SectionCode, sec.buf)
	}

	for _, c := range m.Customs {
		var sec writer
		sec.name(c.Name)
		sec.bytes(c.Data)
		w.section(SectionCustom, sec.buf)
	}

	return w.buf
}

func writeValTypes(w *writer, types []byte) {
	w.u32(uint32(len(types)))
	w.bytes(types)
}

func writeGlobalType(w *writer, g GlobalType) {
	w.byte(g.ValType)
	if g.Mutable {
		w.byte(1)
	} else {
		w.byte(0)
	}
}

// writeLocals run-length encodes local declarations.
func writeLocals(w *writer, locals []byte) {
	type run struct {
		n uint32
		t byte
	}
	var runs []run
	for _, t := range locals {
		if len(runs) > 0 && runs[len(runs)-1].t == t {
			runs[len(runs)-1].n++
			continue
		}
		runs = append(runs, run{n: 1, t: t})
	}
	w.u32(uint32(len(runs)))
	for _, r := range runs {
		w.u32(r.n)
		w.byte(r.t)
	}
}
