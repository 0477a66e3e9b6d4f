package engine

import (
	"context"
	"fmt"
	"strings"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"go.uber.org/zap"

	"github.com/wippyai/jitlink/artifact"
	"github.com/wippyai/jitlink/env"
	"github.com/wippyai/jitlink/errors"
	"github.com/wippyai/jitlink/registry"
	"github.com/wippyai/jitlink/wasm"
)

type importKey struct {
	module, name string
}

// plan is the outcome of resolving one artifact's imports.
type plan struct {
	remap    map[importKey]string
	bindings map[string]registry.Address
	reads    []string
	defs     []string
}

func (p *plan) provide(imp wasm.Import, module string) {
	p.remap[importKey{imp.Module, imp.Name}] = module
}

func (e *Engine) link(ctx context.Context, art *artifact.Artifact, name string) (*EntryPoint, error) {
	info, err := wasm.Inspect(art.Bytes)
	if err != nil {
		return nil, errors.New(errors.PhaseLoad, errors.KindCorrupt).Module(name).Cause(err).Detail("inspect artifact").Build()
	}
	manifest := art.Manifest
	if manifest == nil {
		opened, err := artifact.FromInfo(art.Bytes, info, art.Target)
		if err != nil {
			return nil, errors.New(errors.PhaseLoad, errors.KindCorrupt).Module(name).Cause(err).Build()
		}
		manifest = opened.Manifest
	}
	entrySymbol := art.EntrySymbol
	if entrySymbol == "" {
		entrySymbol = manifest.Entry
	}

	exported := info.ExportedGlobals()
	if err := e.checkGlobals(name, exported); err != nil {
		return nil, err
	}
	if err := e.materialize(ctx); err != nil {
		return nil, err
	}

	p := &plan{
		remap:    make(map[importKey]string),
		bindings: make(map[string]registry.Address),
	}
	for _, imp := range info.Imports {
		switch imp.Module {
		case artifact.ImportEnv:
			if err := e.resolve(ctx, name, info, imp, p); err != nil {
				return nil, err
			}
		case artifact.ImportVar:
			p.reads = append(p.reads, imp.Name)
			p.provide(imp, name+"#var")
		case artifact.ImportVarDef:
			p.defs = append(p.defs, imp.Name)
			p.provide(imp, name+"#var.def")
		default:
			return nil, errors.Unresolved(name, imp.Module+"."+imp.Name, "unknown import module")
		}
	}

	bin, err := wasm.RewriteImports(art.Bytes, func(module, field string) string {
		if to, ok := p.remap[importKey{module, field}]; ok {
			return to
		}
		return module
	})
	if err != nil {
		return nil, errors.New(errors.PhaseLoad, errors.KindCorrupt).Module(name).Cause(err).Detail("rewrite imports").Build()
	}

	binders, err := e.bindVars(ctx, name, p.reads, p.defs)
	if err != nil {
		return nil, err
	}
	discard := func(mods ...api.Module) {
		for _, m := range append(mods, binders...) {
			if m != nil {
				_ = m.Close(ctx)
			}
		}
	}

	mod, err := e.runtime.InstantiateWithConfig(ctx, bin, wazero.NewModuleConfig().WithName(name))
	if err != nil {
		discard()
		return nil, errors.New(errors.PhaseLoad, errors.KindInvalidInput).Module(name).Cause(err).Detail("instantiate").Build()
	}

	fn := mod.ExportedFunction(entrySymbol)
	if fn == nil {
		discard(mod)
		return nil, errors.InitFailed(name, entrySymbol, fmt.Errorf("entry symbol is not exported"))
	}
	frame, callCtx := e.frame(ctx)
	res, err := fn.Call(callCtx)
	if err != nil {
		discard(mod)
		return nil, errors.InitFailed(name, entrySymbol, err)
	}
	if err := env.Apply(frame, manifest.Effects); err != nil {
		discard(mod)
		return nil, errors.InitFailed(name, entrySymbol, err)
	}

	e.mu.Lock()
	for _, f := range manifest.Functions {
		e.funcs[f.Name] = provider{module: name, arity: f.Arity}
	}
	for _, g := range exported {
		e.globals[g] = name
	}
	e.mu.Unlock()

	for _, f := range manifest.Functions {
		if ns, sym, ok := strings.Cut(f.Name, "/"); ok {
			frame.Env().Intern(ns, sym, env.FnVar, f.Arity)
		}
	}

	return &EntryPoint{
		Module:   name,
		Symbol:   entrySymbol,
		Result:   int64(res[0]),
		Bindings: p.bindings,
		fn:       fn,
		engine:   e,
	}, nil
}

// checkGlobals rejects data globals that already have a provider.
func (e *Engine) checkGlobals(module string, names []string) error {
	for _, g := range names {
		if rec, ok := e.registry.Resolve(g); ok {
			return errors.Duplicate(module, g, rec.Origin, moduleOrigin(module))
		}
		e.mu.RLock()
		owner, taken := e.globals[g]
		e.mu.RUnlock()
		if taken {
			return errors.Duplicate(module, g, moduleOrigin(owner), moduleOrigin(module))
		}
	}
	return nil
}

// resolve binds one env import: registry first, then earlier artifacts,
// then the native catalog.
func (e *Engine) resolve(ctx context.Context, module string, info *wasm.Info, imp wasm.Import, p *plan) error {
	want, arity := registry.Data, 0
	if imp.Kind == wasm.KindFunc {
		ft, ok := info.ImportType(imp)
		if !ok {
			return errors.Unresolved(module, imp.Name, "import has no valid type")
		}
		want, arity = registry.Function, len(ft.Params)
	}

	if ok, err := e.fromRegistry(module, imp, want, arity, p); ok || err != nil {
		return err
	}
	if ok, err := e.fromArtifacts(module, imp, want, arity, p); ok || err != nil {
		return err
	}
	if e.catalog != nil {
		if sym, lib, ok := e.catalog.Lookup(imp.Name); ok {
			if _, err := e.registry.Register(sym, registry.LibraryOrigin(lib)); err != nil {
				return err
			}
			if err := e.materialize(ctx); err != nil {
				return err
			}
			Logger().Debug("Resolved symbol from native library",
				zap.String("symbol", imp.Name),
				zap.String("library", lib),
				zap.String("module", module))
			if ok, err := e.fromRegistry(module, imp, want, arity, p); ok || err != nil {
				return err
			}
		}
	}
	return errors.Unresolved(module, imp.Name, "no provider")
}

func (e *Engine) fromRegistry(module string, imp wasm.Import, want registry.Kind, arity int, p *plan) (bool, error) {
	rec, ok := e.registry.Resolve(imp.Name)
	if !ok {
		return false, nil
	}
	if rec.Kind != want {
		return false, errors.Unresolved(module, imp.Name, fmt.Sprintf("registered as %s, imported as %s", rec.Kind, want))
	}
	if want == registry.Function && rec.Arity != arity {
		return false, errors.Unresolved(module, imp.Name, fmt.Sprintf("registered with arity %d, called with %d", rec.Arity, arity))
	}
	e.mu.RLock()
	provider, ok := e.symbols[imp.Name]
	e.mu.RUnlock()
	if !ok {
		return false, errors.Unresolved(module, imp.Name, "registered but not materialised")
	}
	p.provide(imp, provider)
	p.bindings[imp.Name] = rec.Address
	return true, nil
}

func (e *Engine) fromArtifacts(module string, imp wasm.Import, want registry.Kind, arity int, p *plan) (bool, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if want == registry.Data {
		owner, ok := e.globals[imp.Name]
		if ok {
			p.provide(imp, owner)
		}
		return ok, nil
	}
	prov, ok := e.funcs[imp.Name]
	if !ok {
		return false, nil
	}
	if prov.arity != arity {
		return false, errors.Unresolved(module, imp.Name, fmt.Sprintf("%s defines it with arity %d, called with %d", prov.module, prov.arity, arity))
	}
	p.provide(imp, prov.module)
	return true, nil
}

// materialize instantiates registry records added since the last
// generation. Callers hold linkMu.
func (e *Engine) materialize(ctx context.Context) error {
	recs := e.registry.Since(e.materialized)
	if len(recs) == 0 {
		return nil
	}
	e.generation++
	fnModule := fmt.Sprintf("#foreign/%d", e.generation)
	dataModule := fmt.Sprintf("#foreign.data/%d", e.generation)

	var fns, data []registry.Record
	for _, rec := range recs {
		if rec.Kind == registry.Function {
			fns = append(fns, rec)
		} else {
			data = append(data, rec)
		}
	}

	if len(fns) > 0 {
		b := e.runtime.NewHostModuleBuilder(fnModule)
		for _, rec := range fns {
			b.NewFunctionBuilder().
				WithGoFunction(foreignFunc(rec), i64s(rec.Arity), i64s(1)).
				WithName(rec.Name).
				Export(rec.Name)
		}
		if _, err := b.Instantiate(ctx); err != nil {
			return fmt.Errorf("materialise %s: %w", fnModule, err)
		}
	}
	if len(data) > 0 {
		m := &wasm.Module{}
		for i, rec := range data {
			m.Globals = append(m.Globals, wasm.Global{
				Type: wasm.GlobalType{ValType: wasm.ValI64, Mutable: true},
				Init: rec.Init,
			})
			m.Exports = append(m.Exports, wasm.Export{Name: rec.Name, Kind: wasm.KindGlobal, Index: uint32(i)})
		}
		if _, err := e.runtime.InstantiateWithConfig(ctx, m.Encode(), wazero.NewModuleConfig().WithName(dataModule)); err != nil {
			return fmt.Errorf("materialise %s: %w", dataModule, err)
		}
	}

	e.mu.Lock()
	for _, rec := range fns {
		e.symbols[rec.Name] = fnModule
	}
	for _, rec := range data {
		e.symbols[rec.Name] = dataModule
	}
	e.mu.Unlock()
	e.materialized = recs[len(recs)-1].Seq
	e.metrics.Generations.Inc()
	return nil
}

func foreignFunc(rec registry.Record) api.GoFunc {
	fn, name, arity := rec.Fn, rec.Name, rec.Arity
	return func(ctx context.Context, stack []uint64) {
		args := make([]int64, arity)
		for i := range args {
			args[i] = int64(stack[i])
		}
		res, err := fn(ctx, args)
		if err != nil {
			panic(fmt.Errorf("foreign %s: %w", name, err))
		}
		stack[0] = uint64(res)
	}
}

// bindVars instantiates the accessor modules of one artifact.
func (e *Engine) bindVars(ctx context.Context, module string, reads, defs []string) ([]api.Module, error) {
	var mods []api.Module
	build := func(name string, names []string, fn func(string) api.GoFunc, params, results []api.ValueType) error {
		if len(names) == 0 {
			return nil
		}
		b := e.runtime.NewHostModuleBuilder(name)
		for _, q := range names {
			b.NewFunctionBuilder().WithGoFunction(fn(q), params, results).WithName(q).Export(q)
		}
		m, err := b.Instantiate(ctx)
		if err != nil {
			return errors.New(errors.PhaseLoad, errors.KindInvalidInput).Module(module).Cause(err).Detail("bind vars").Build()
		}
		mods = append(mods, m)
		return nil
	}
	if err := build(module+"#var", reads, readVar, nil, i64s(1)); err != nil {
		return nil, err
	}
	if err := build(module+"#var.def", defs, bindVar, i64s(1), nil); err != nil {
		for _, m := range mods {
			_ = m.Close(ctx)
		}
		return nil, err
	}
	return mods, nil
}

func readVar(qualified string) api.GoFunc {
	return func(ctx context.Context, stack []uint64) {
		f, err := env.FrameFrom(ctx)
		if err != nil {
			panic(err)
		}
		v, ok := f.Env().Var(qualified)
		if !ok {
			panic(fmt.Errorf("var %s is not defined", qualified))
		}
		x, bound := v.Get()
		if !bound {
			panic(fmt.Errorf("var %s is unbound", qualified))
		}
		stack[0] = uint64(x)
	}
}

func bindVar(qualified string) api.GoFunc {
	ns, name, _ := strings.Cut(qualified, "/")
	return func(ctx context.Context, stack []uint64) {
		f, err := env.FrameFrom(ctx)
		if err != nil {
			panic(err)
		}
		f.Env().Intern(ns, name, env.ValueVar, 0).Set(int64(stack[0]))
	}
}

func i64s(n int) []api.ValueType {
	out := make([]api.ValueType, n)
	for i := range out {
		out[i] = api.ValueTypeI64
	}
	return out
}
