package engine

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tetratelabs/wazero"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/wippyai/jitlink/artifact"
	"github.com/wippyai/jitlink/env"
	"github.com/wippyai/jitlink/errors"
	"github.com/wippyai/jitlink/native"
	"github.com/wippyai/jitlink/registry"
)

// State is the load state of a module name.
type State uint8

const (
	Unloaded State = iota
	Loading
	Loaded
	Failed
)

func (s State) String() string {
	switch s {
	case Unloaded:
		return "unloaded"
	case Loading:
		return "loading"
	case Loaded:
		return "loaded"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// LoadedArtifact records what happened to a module name.
type LoadedArtifact struct {
	Err         error
	entry       *EntryPoint
	Module      string
	EntrySymbol string
	Hash        string
	State       State
}

// Config holds configuration for engine creation
type Config struct {
	// Registry is the foreign symbol registry. A fresh one is used when nil.
	Registry *registry.Registry
	// Catalog answers dynamic lookups. Nil disables them.
	Catalog *native.Catalog
	// Env is the execution environment. A fresh one is used when nil.
	Env     *env.Env
	Metrics *Metrics

	// CompilationCacheDir persists machine code of loaded artifacts across
	// runs. Empty keeps it in memory.
	CompilationCacheDir string

	// MemoryLimitPages sets the maximum memory per instance in pages (64KB each).
	// 0 means default.
	MemoryLimitPages uint32
}

type provider struct {
	module string
	arity  int
}

// Engine is safe for concurrent use. Links are serialised; calls into
// loaded code are not.
type Engine struct {
	runtime  wazero.Runtime
	ccache   wazero.CompilationCache
	registry *registry.Registry
	catalog  *native.Catalog
	env      *env.Env
	metrics  *Metrics

	modules map[string]*LoadedArtifact
	funcs   map[string]provider
	globals map[string]string
	symbols map[string]string
	mu      sync.RWMutex

	group        singleflight.Group
	linkMu       sync.Mutex
	materialized uint64
	generation   int

	closed atomic.Bool
}

// New creates an engine with its own wazero runtime.
func New(ctx context.Context, cfg *Config) (*Engine, error) {
	if cfg == nil {
		cfg = &Config{}
	}
	e := &Engine{
		registry: cfg.Registry,
		catalog:  cfg.Catalog,
		env:      cfg.Env,
		metrics:  cfg.Metrics,
		modules:  make(map[string]*LoadedArtifact),
		funcs:    make(map[string]provider),
		globals:  make(map[string]string),
		symbols:  make(map[string]string),
	}
	if e.registry == nil {
		e.registry = registry.New()
	}
	if e.env == nil {
		e.env = env.New()
	}
	if e.metrics == nil {
		e.metrics = NewMetrics()
	}

	runtimeCfg := wazero.NewRuntimeConfig()
	if cfg.MemoryLimitPages > 0 {
		runtimeCfg = runtimeCfg.WithMemoryLimitPages(cfg.MemoryLimitPages)
	}
	if cfg.CompilationCacheDir != "" {
		cc, err := wazero.NewCompilationCacheWithDir(cfg.CompilationCacheDir)
		if err != nil {
			return nil, fmt.Errorf("compilation cache: %w", err)
		}
		e.ccache = cc
		runtimeCfg = runtimeCfg.WithCompilationCache(cc)
	}
	e.runtime = wazero.NewRuntimeWithConfig(ctx, runtimeCfg)
	return e, nil
}

// Registry returns the foreign symbol registry the engine links against.
func (e *Engine) Registry() *registry.Registry { return e.registry }

// Env returns the execution environment.
func (e *Engine) Env() *env.Env { return e.env }

// Metrics returns the engine metrics.
func (e *Engine) Metrics() *Metrics { return e.metrics }

// Validate compiles bin to host machine code and discards it.
func (e *Engine) Validate(ctx context.Context, bin []byte) error {
	cm, err := e.runtime.CompileModule(ctx, bin)
	if err != nil {
		return err
	}
	return cm.Close(ctx)
}

// LoadAndGetEntry loads art under moduleName and returns its entry point.
func (e *Engine) LoadAndGetEntry(ctx context.Context, moduleName string, art *artifact.Artifact) (*EntryPoint, error) {
	return e.Load(ctx, art, moduleName)
}

// Load links and initialises art under name. Loading a name that was
// loaded before returns the recorded outcome and ignores art.
func (e *Engine) Load(ctx context.Context, art *artifact.Artifact, name string) (*EntryPoint, error) {
	if e.closed.Load() {
		return nil, errors.InvalidInput(errors.PhaseLoad, "engine is closed")
	}
	if name == "" || strings.Contains(name, "#") {
		return nil, errors.InvalidInput(errors.PhaseLoad, "invalid module name %q", name)
	}
	if art == nil {
		return nil, errors.InvalidInput(errors.PhaseLoad, "module %s: no artifact", name)
	}

	if ep, ok, err := e.known(name, art); ok {
		return ep, err
	}
	v, err, _ := e.group.Do(name, func() (any, error) {
		return e.load(ctx, art, name)
	})
	if err != nil {
		return nil, err
	}
	return v.(*EntryPoint), nil
}

// known returns the outcome of a finished load of name.
func (e *Engine) known(name string, art *artifact.Artifact) (*EntryPoint, bool, error) {
	e.mu.RLock()
	la, ok := e.modules[name]
	if !ok || (la.State != Loaded && la.State != Failed) {
		e.mu.RUnlock()
		return nil, false, nil
	}
	ep, err, hash := la.entry, la.Err, la.Hash
	e.mu.RUnlock()

	e.metrics.Loads.WithLabelValues(LabelReused).Inc()
	if hash != art.Hash {
		Logger().Warn("Module already loaded with a different artifact",
			zap.String("module", name),
			zap.String("loaded", hash),
			zap.String("requested", art.Hash))
	}
	return ep, true, err
}

func (e *Engine) load(ctx context.Context, art *artifact.Artifact, name string) (*EntryPoint, error) {
	e.linkMu.Lock()
	defer e.linkMu.Unlock()

	if ep, ok, err := e.known(name, art); ok {
		return ep, err
	}

	la := &LoadedArtifact{
		Module:      name,
		EntrySymbol: art.EntrySymbol,
		Hash:        art.Hash,
		State:       Loading,
	}
	e.mu.Lock()
	e.modules[name] = la
	e.mu.Unlock()

	start := time.Now()
	ep, err := e.link(ctx, art, name)
	e.metrics.LinkSeconds.Observe(time.Since(start).Seconds())

	e.mu.Lock()
	if err != nil {
		la.State, la.Err = Failed, err
	} else {
		la.State, la.entry = Loaded, ep
	}
	e.mu.Unlock()

	if err != nil {
		e.metrics.Loads.WithLabelValues(LabelFailed).Inc()
		Logger().Debug("Load failed", zap.String("module", name), zap.Error(err))
		return nil, err
	}
	e.metrics.Loads.WithLabelValues(LabelLoaded).Inc()
	e.metrics.Modules.Inc()
	Logger().Debug("Loaded module",
		zap.String("module", name),
		zap.String("hash", art.Hash),
		zap.Int("bindings", len(ep.Bindings)))
	return ep, nil
}

// State returns the load state of name.
func (e *Engine) State(name string) State {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if la, ok := e.modules[name]; ok {
		return la.State
	}
	return Unloaded
}

// Modules returns every module name the engine has seen, sorted.
func (e *Engine) Modules() []LoadedArtifact {
	e.mu.RLock()
	out := make([]LoadedArtifact, 0, len(e.modules))
	for _, la := range e.modules {
		c := *la
		c.entry = nil
		out = append(out, c)
	}
	e.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Module < out[j].Module })
	return out
}

// RegisterForeign registers sym unless a loaded artifact already defines a
// data global of that name.
func (e *Engine) RegisterForeign(sym registry.Symbol, origin string) (registry.Record, error) {
	e.linkMu.Lock()
	defer e.linkMu.Unlock()

	e.mu.RLock()
	owner, taken := e.globals[sym.Name]
	e.mu.RUnlock()
	if taken {
		return registry.Record{}, errors.Duplicate(owner, sym.Name, moduleOrigin(owner), origin)
	}
	return e.registry.Register(sym, origin)
}

// Call invokes a function var defined by a loaded artifact.
func (e *Engine) Call(ctx context.Context, qualified string, args ...int64) (int64, error) {
	e.mu.RLock()
	prov, ok := e.funcs[qualified]
	e.mu.RUnlock()
	if !ok {
		return 0, errors.New(errors.PhaseLoad, errors.KindNotFound).Symbol(qualified).Detail("no loaded artifact defines it").Build()
	}
	if len(args) != prov.arity {
		return 0, errors.InvalidInput(errors.PhaseLoad, "%s takes %d arguments, got %d", qualified, prov.arity, len(args))
	}
	mod := e.runtime.Module(prov.module)
	if mod == nil {
		return 0, errors.New(errors.PhaseLoad, errors.KindNotFound).Module(prov.module).Build()
	}
	params := make([]uint64, len(args))
	for i, a := range args {
		params[i] = uint64(a)
	}
	_, ctx = e.frame(ctx)
	res, err := mod.ExportedFunction(qualified).Call(ctx, params...)
	if err != nil {
		return 0, fmt.Errorf("call %s: %w", qualified, err)
	}
	return int64(res[0]), nil
}

// Global returns the current value of a data symbol, whether it is
// provided by the registry or by an artifact.
func (e *Engine) Global(name string) (int64, bool) {
	e.mu.RLock()
	modName, ok := e.symbols[name]
	if !ok {
		modName, ok = e.globals[name]
	}
	e.mu.RUnlock()
	if !ok {
		return 0, false
	}
	mod := e.runtime.Module(modName)
	if mod == nil {
		return 0, false
	}
	g := mod.ExportedGlobal(name)
	if g == nil {
		return 0, false
	}
	return int64(g.Get()), true
}

// frame returns the frame bound to ctx, binding a fresh one in the default
// namespace when there is none.
func (e *Engine) frame(ctx context.Context) (*env.Frame, context.Context) {
	if f, err := env.FrameFrom(ctx); err == nil {
		return f, ctx
	}
	f := env.NewFrame(e.env, env.DefaultNS)
	return f, env.WithFrame(ctx, f)
}

// Close releases the runtime and every loaded module.
func (e *Engine) Close(ctx context.Context) error {
	if !e.closed.CompareAndSwap(false, true) {
		return nil
	}
	err := e.runtime.Close(ctx)
	if e.ccache != nil {
		if cerr := e.ccache.Close(ctx); err == nil {
			err = cerr
		}
	}
	return err
}

func moduleOrigin(name string) string {
	return "module " + name
}
