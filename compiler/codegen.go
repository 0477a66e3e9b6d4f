package compiler

import (
	"github.com/wippyai/jitlink/artifact"
	"github.com/wippyai/jitlink/errors"
	"github.com/wippyai/jitlink/ir"
	"github.com/wippyai/jitlink/wasm"
)

const (
	ImportEnv    = artifact.ImportEnv
	ImportVar    = artifact.ImportVar
	ImportVarDef = artifact.ImportVarDef
)

// DefaultMaxDepth bounds expression nesting during code generation.
const DefaultMaxDepth = 4096

type funcKey struct {
	ns, name string
}

type importKey struct {
	module, name string
	kind         byte
}

type genFunc struct {
	defn     ir.Defn
	index    uint32
	exported bool
}

// generator lowers one unit to a wasm module.
type generator struct {
	unit     *ir.Unit
	preamble *Preamble
	mod      *wasm.Module
	hash     string

	funcs      map[funcKey]*genFunc
	order      []*genFunc
	imports    map[importKey]uint32
	globals    map[string]uint32
	funcArity  map[string]int
	defGlobals []ir.DefGlobal

	maxDepth int
}

// function-local state
type frame struct {
	locals []byte
	scope  []scopeEntry
	depth  int
}

type scopeEntry struct {
	name string
	idx  uint32
}

func (f *frame) lookup(name string) (uint32, bool) {
	for i := len(f.scope) - 1; i >= 0; i-- {
		if f.scope[i].name == name {
			return f.scope[i].idx, true
		}
	}
	return 0, false
}

func (f *frame) newLocal(params int) uint32 {
	f.locals = append(f.locals, wasm.ValI64)
	return uint32(params + len(f.locals) - 1)
}

// Generate lowers unit into an artifact module. preamble functions the unit
// calls are linked in statically.
func Generate(unit *ir.Unit, preamble *Preamble, maxDepth int) (*wasm.Module, *artifact.Manifest, error) {
	if maxDepth <= 0 {
		maxDepth = DefaultMaxDepth
	}
	g := &generator{
		unit:      unit,
		hash:      unit.Hash(),
		preamble:  preamble,
		mod:       &wasm.Module{},
		funcs:     make(map[funcKey]*genFunc),
		imports:   make(map[importKey]uint32),
		globals:   make(map[string]uint32),
		funcArity: make(map[string]int),
		maxDepth:  maxDepth,
	}
	if err := g.collect(); err != nil {
		return nil, nil, err
	}
	if err := g.emit(); err != nil {
		return nil, nil, err
	}
	manifest, err := g.manifest()
	if err != nil {
		return nil, nil, err
	}
	return g.mod, manifest, nil
}

// collect gathers defined functions, statically linked preamble functions,
// imports and defined globals, fixing every index before bodies are emitted.
func (g *generator) collect() error {
	var roots []ir.Node
	for _, f := range g.unit.Forms {
		var err error
		ir.Walk(f, func(n ir.Node) {
			if err != nil {
				return
			}
			switch n := n.(type) {
			case ir.Defn:
				key := funcKey{n.NS, n.Name}
				if _, dup := g.funcs[key]; dup {
					err = errors.Semantic("function %s is defined twice in one unit", ir.Qualify(n.NS, n.Name))
					return
				}
				gf := &genFunc{defn: n, exported: true}
				g.funcs[key] = gf
				g.order = append(g.order, gf)
			case ir.DefGlobal:
				for _, d := range g.defGlobals {
					if d.Name == n.Name {
						err = errors.Semantic("global %s is defined twice in one unit", n.Name)
						return
					}
				}
				g.defGlobals = append(g.defGlobals, n)
			}
		})
		if err != nil {
			return err
		}
		roots = append(roots, f)
	}

	// statically link reachable preamble functions
	for i := 0; i < len(roots); i++ {
		var err error
		ir.Walk(roots[i], func(n ir.Node) {
			inv, ok := n.(ir.Invoke)
			if !ok || err != nil {
				return
			}
			key := funcKey{inv.NS, inv.Name}
			if _, known := g.funcs[key]; known || g.preamble == nil {
				return
			}
			defn, ok := g.preamble.Lookup(ir.Qualify(inv.NS, inv.Name))
			if !ok {
				return
			}
			gf := &genFunc{defn: defn}
			g.funcs[key] = gf
			g.order = append(g.order, gf)
			roots = append(roots, defn)
		})
		if err != nil {
			return err
		}
	}

	// imports, in first-use order
	for _, root := range roots {
		var err error
		ir.Walk(root, func(n ir.Node) {
			if err != nil {
				return
			}
			err = g.collectImport(n)
		})
		if err != nil {
			return err
		}
	}

	// defined functions follow imports in the index space
	next := g.mod.ImportedFuncs()
	for _, gf := range g.order {
		gf.index = next
		next++
	}

	base := g.mod.ImportedGlobals()
	for i, d := range g.defGlobals {
		g.globals[d.Name] = base + uint32(i)
	}
	return nil
}

func (g *generator) definesGlobal(name string) bool {
	for _, d := range g.defGlobals {
		if d.Name == name {
			return true
		}
	}
	return false
}

func (g *generator) collectImport(n ir.Node) error {
	switch n := n.(type) {
	case ir.Invoke:
		if _, ok := g.funcs[funcKey{n.NS, n.Name}]; ok {
			return nil
		}
		return g.importFunc(ImportEnv, ir.Qualify(n.NS, n.Name), len(n.Args), 1)
	case ir.ForeignCall:
		return g.importFunc(ImportEnv, n.Name, len(n.Args), 1)
	case ir.VarRef:
		return g.importFunc(ImportVar, ir.Qualify(n.NS, n.Name), 0, 1)
	case ir.Def:
		return g.importFunc(ImportVarDef, ir.Qualify(n.NS, n.Name), 1, 0)
	case ir.ForeignGet:
		g.importGlobal(n.Name)
	case ir.ForeignSet:
		g.importGlobal(n.Name)
	}
	return nil
}

func (g *generator) importFunc(module, name string, params, results int) error {
	key := importKey{module, name, wasm.KindFunc}
	if _, ok := g.imports[key]; ok {
		if module == ImportEnv && g.funcArity[name] != params {
			return errors.Semantic("%s is called with %d and %d arguments", name, g.funcArity[name], params)
		}
		return nil
	}
	idx := g.mod.ImportedFuncs()
	g.mod.Imports = append(g.mod.Imports, wasm.Import{
		Module:  module,
		Name:    name,
		Kind:    wasm.KindFunc,
		TypeIdx: g.mod.AddType(wasm.I64Type(params, results)),
	})
	g.imports[key] = idx
	if module == ImportEnv {
		g.funcArity[name] = params
	}
	return nil
}

func (g *generator) importGlobal(name string) {
	if g.definesGlobal(name) {
		return
	}
	key := importKey{ImportEnv, name, wasm.KindGlobal}
	if _, ok := g.imports[key]; ok {
		return
	}
	idx := g.mod.ImportedGlobals()
	g.mod.Imports = append(g.mod.Imports, wasm.Import{
		Module: ImportEnv,
		Name:   name,
		Kind:   wasm.KindGlobal,
		Global: wasm.GlobalType{ValType: wasm.ValI64, Mutable: true},
	})
	g.imports[key] = idx
	g.globals[name] = idx
}

func (g *generator) emit() error {
	for _, gf := range g.order {
		f := &frame{}
		for i, p := range gf.defn.Params {
			f.scope = append(f.scope, scopeEntry{name: p, idx: uint32(i)})
		}
		e := wasm.NewExpr()
		if err := g.expr(e, f, len(gf.defn.Params), gf.defn.Body); err != nil {
			return err
		}
		g.mod.Funcs = append(g.mod.Funcs, wasm.Func{
			TypeIdx: g.mod.AddType(wasm.I64Type(len(gf.defn.Params), 1)),
			Locals:  f.locals,
			Body:    e.Bytes(),
		})
		if gf.exported {
			g.mod.Exports = append(g.mod.Exports, wasm.Export{
				Name:  ir.Qualify(gf.defn.NS, gf.defn.Name),
				Kind:  wasm.KindFunc,
				Index: gf.index,
			})
		}
	}

	for _, d := range g.defGlobals {
		g.mod.Globals = append(g.mod.Globals, wasm.Global{
			Type: wasm.GlobalType{ValType: wasm.ValI64, Mutable: true},
			Init: d.Init,
		})
		g.mod.Exports = append(g.mod.Exports, wasm.Export{
			Name:  d.Name,
			Kind:  wasm.KindGlobal,
			Index: g.globals[d.Name],
		})
	}

	// entry: evaluate top-level forms in order, yield the last value
	f := &frame{}
	e := wasm.NewExpr()
	if len(g.unit.Forms) == 0 {
		e.I64Const(0)
	}
	for i, form := range g.unit.Forms {
		if err := g.expr(e, f, 0, form); err != nil {
			return err
		}
		if i < len(g.unit.Forms)-1 {
			e.Op(wasm.OpDrop)
		}
	}
	entryIdx := g.mod.ImportedFuncs() + uint32(len(g.order))
	g.mod.Funcs = append(g.mod.Funcs, wasm.Func{
		TypeIdx: g.mod.AddType(wasm.I64Type(0, 1)),
		Locals:  f.locals,
		Body:    e.Bytes(),
	})
	g.mod.Exports = append(g.mod.Exports, wasm.Export{
		Name:  ir.EntryPrefix + g.hash,
		Kind:  wasm.KindFunc,
		Index: entryIdx,
	})
	return nil
}

var compareOps = map[string]byte{
	"<":    wasm.OpI64LtS,
	">":    wasm.OpI64GtS,
	"<=":   wasm.OpI64LeS,
	">=":   wasm.OpI64GeS,
	"=":    wasm.OpI64Eq,
	"not=": wasm.OpI64Ne,
}

var arithOps = map[string]byte{
	"+":    wasm.OpI64Add,
	"-":    wasm.OpI64Sub,
	"*":    wasm.OpI64Mul,
	"quot": wasm.OpI64DivS,
	"rem":  wasm.OpI64RemS,
}

// expr emits code leaving exactly one i64 on the stack.
func (g *generator) expr(e *wasm.Expr, f *frame, params int, n ir.Node) error {
	f.depth++
	defer func() { f.depth-- }()
	if f.depth > g.maxDepth {
		return errors.Backend(nil, "expression nesting exceeds %d levels", g.maxDepth)
	}

	switch n := n.(type) {
	case nil:
		e.I64Const(0)
	case ir.Const:
		e.I64Const(n.Value)
	case ir.Local:
		idx, ok := f.lookup(n.Name)
		if !ok {
			return errors.Semantic("unbound local %s", n.Name)
		}
		e.LocalGet(idx)
	case ir.VarRef:
		e.Call(g.imports[importKey{ImportVar, ir.Qualify(n.NS, n.Name), wasm.KindFunc}])
	case ir.Def:
		if err := g.expr(e, f, params, n.Init); err != nil {
			return err
		}
		tmp := f.newLocal(params)
		e.LocalTee(tmp)
		e.Call(g.imports[importKey{ImportVarDef, ir.Qualify(n.NS, n.Name), wasm.KindFunc}])
		e.LocalGet(tmp)
	case ir.Defn, ir.DefGlobal:
		// definitions are hoisted into the module; the form's value is nil
		if d, ok := n.(ir.DefGlobal); ok {
			e.I64Const(d.Init)
		} else {
			e.I64Const(0)
		}
	case ir.Invoke:
		if err := g.exprs(e, f, params, n.Args); err != nil {
			return err
		}
		if gf, ok := g.funcs[funcKey{n.NS, n.Name}]; ok {
			if len(gf.defn.Params) != len(n.Args) {
				return errors.Semantic("wrong number of arguments (%d) to %s", len(n.Args), ir.Qualify(n.NS, n.Name))
			}
			e.Call(gf.index)
		} else {
			e.Call(g.imports[importKey{ImportEnv, ir.Qualify(n.NS, n.Name), wasm.KindFunc}])
		}
	case ir.ForeignCall:
		if err := g.exprs(e, f, params, n.Args); err != nil {
			return err
		}
		e.Call(g.imports[importKey{ImportEnv, n.Name, wasm.KindFunc}])
	case ir.ForeignGet:
		e.GlobalGet(g.globals[n.Name])
	case ir.ForeignSet:
		if err := g.expr(e, f, params, n.Value); err != nil {
			return err
		}
		e.GlobalSet(g.globals[n.Name])
		e.GlobalGet(g.globals[n.Name])
	case ir.Prim:
		return g.prim(e, f, params, n)
	case ir.If:
		if err := g.expr(e, f, params, n.Cond); err != nil {
			return err
		}
		e.I64Const(0).Op(wasm.OpI64Ne).IfI64()
		if err := g.expr(e, f, params, n.Then); err != nil {
			return err
		}
		e.Op(wasm.OpElse)
		if err := g.expr(e, f, params, n.Else); err != nil {
			return err
		}
		e.Op(wasm.OpEnd)
	case ir.Let:
		saved := len(f.scope)
		for _, b := range n.Bindings {
			if err := g.expr(e, f, params, b.Value); err != nil {
				return err
			}
			idx := f.newLocal(params)
			e.LocalSet(idx)
			f.scope = append(f.scope, scopeEntry{name: b.Name, idx: idx})
		}
		err := g.expr(e, f, params, n.Body)
		f.scope = f.scope[:saved]
		return err
	case ir.Do:
		if len(n.Forms) == 0 {
			e.I64Const(0)
		}
		for i, form := range n.Forms {
			if err := g.expr(e, f, params, form); err != nil {
				return err
			}
			if i < len(n.Forms)-1 {
				e.Op(wasm.OpDrop)
			}
		}
	default:
		return errors.Backend(nil, "cannot generate code for %T", n)
	}
	return nil
}

func (g *generator) exprs(e *wasm.Expr, f *frame, params int, nodes []ir.Node) error {
	for _, n := range nodes {
		if err := g.expr(e, f, params, n); err != nil {
			return err
		}
	}
	return nil
}

func (g *generator) prim(e *wasm.Expr, f *frame, params int, p ir.Prim) error {
	switch {
	case p.Op == "not":
		if err := g.expr(e, f, params, p.Args[0]); err != nil {
			return err
		}
		e.Op(wasm.OpI64Eqz, wasm.OpI64ExtendI32U)
		return nil
	case compareOps[p.Op] != 0:
		if len(p.Args) != 2 {
			return errors.Semantic("%s expects 2 arguments", p.Op)
		}
		if err := g.exprs(e, f, params, p.Args); err != nil {
			return err
		}
		e.Op(compareOps[p.Op], wasm.OpI64ExtendI32U)
		return nil
	}

	op, ok := arithOps[p.Op]
	if !ok {
		return errors.Semantic("unknown primitive %s", p.Op)
	}
	switch len(p.Args) {
	case 0:
		switch p.Op {
		case "+":
			e.I64Const(0)
		case "*":
			e.I64Const(1)
		default:
			return errors.Semantic("%s expects arguments", p.Op)
		}
		return nil
	case 1:
		if p.Op == "-" {
			e.I64Const(0)
			if err := g.expr(e, f, params, p.Args[0]); err != nil {
				return err
			}
			e.Op(wasm.OpI64Sub)
			return nil
		}
		if p.Op == "quot" || p.Op == "rem" {
			return errors.Semantic("%s expects 2 arguments", p.Op)
		}
		return g.expr(e, f, params, p.Args[0])
	}
	if err := g.expr(e, f, params, p.Args[0]); err != nil {
		return err
	}
	for _, a := range p.Args[1:] {
		if err := g.expr(e, f, params, a); err != nil {
			return err
		}
		e.Op(op)
	}
	return nil
}

func (g *generator) manifest() (*artifact.Manifest, error) {
	m := &artifact.Manifest{
		Version: artifact.ManifestVersion,
		Hash:    g.hash,
		Entry:   ir.EntryPrefix + g.hash,
		Target:  g.unit.Target.Key(),
		Effects: g.unit.Effects,
		Deps:    g.unit.Deps(),
	}
	for _, gf := range g.order {
		if gf.exported {
			m.Functions = append(m.Functions, artifact.Function{
				Name:  ir.Qualify(gf.defn.NS, gf.defn.Name),
				Arity: len(gf.defn.Params),
			})
		}
	}
	for _, d := range g.defGlobals {
		m.Globals = append(m.Globals, artifact.Global{Name: d.Name, Init: d.Init})
	}
	seen := map[string]bool{}
	for _, imp := range g.mod.Imports {
		if (imp.Module == ImportVar || imp.Module == ImportVarDef) && !seen[imp.Name] {
			seen[imp.Name] = true
			m.Vars = append(m.Vars, imp.Name)
		}
	}

	data, err := m.Encode()
	if err != nil {
		return nil, errors.Backend(err, "encode manifest")
	}
	g.mod.Customs = append(g.mod.Customs, wasm.Custom{Name: artifact.SectionName, Data: data})
	return m, nil
}
