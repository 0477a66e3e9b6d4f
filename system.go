package jitlink

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/benbjohnson/clock"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/wippyai/jitlink/cache"
	"github.com/wippyai/jitlink/compiler"
	"github.com/wippyai/jitlink/config"
	"github.com/wippyai/jitlink/engine"
	"github.com/wippyai/jitlink/ir"
	"github.com/wippyai/jitlink/native"
	"github.com/wippyai/jitlink/registry"
)

// System is one process's set of components.
type System struct {
	Config   config.Config
	Registry *registry.Registry
	Catalog  *native.Catalog
	Cache    *cache.Cache
	Preamble *compiler.Preamble
	Compiler *compiler.Compiler
	Engine   *engine.Engine

	metrics *prometheus.Registry
	closers []func(context.Context) error
}

type options struct {
	out    io.Writer
	clock  clock.Clock
	logger *zap.Logger
}

// Option configures New.
type Option func(*options)

// WithOutput sets where native print writes. Defaults to stdout.
func WithOutput(w io.Writer) Option {
	return func(o *options) { o.out = w }
}

// WithClock sets the clock used by the cache and the time library.
func WithClock(c clock.Clock) Option {
	return func(o *options) { o.clock = c }
}

// WithLogger sets the logger used by the cache.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) { o.logger = l }
}

// New builds every component described by cfg.
func New(ctx context.Context, cfg config.Config, opts ...Option) (*System, error) {
	o := options{out: os.Stdout, clock: clock.New(), logger: zap.NewNop()}
	for _, opt := range opts {
		opt(&o)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	s := &System{
		Config:  cfg,
		Catalog: native.Default(native.Options{Out: o.out, Clock: o.clock}),
		metrics: prometheus.NewRegistry(),
	}

	s.Registry = registry.New()
	for _, name := range cfg.Registry.Libraries {
		lib, ok := s.Catalog.Library(name)
		if !ok {
			return nil, fmt.Errorf("registry: unknown library %q (have %v)", name, s.Catalog.Names())
		}
		if err := s.Registry.RegisterLibrary(lib); err != nil {
			return nil, err
		}
	}

	cacheMetrics := cache.NewMetrics()
	c, err := cache.New(cfg.Cache.Dir,
		cache.WithClock(o.clock),
		cache.WithLogger(o.logger),
		cache.WithMetrics(cacheMetrics),
	)
	if err != nil {
		return nil, err
	}
	s.Cache = c

	src := compiler.DefaultPreamble
	if cfg.Compiler.Preamble != "" {
		data, err := os.ReadFile(cfg.Compiler.Preamble)
		if err != nil {
			return nil, fmt.Errorf("preamble: %w", err)
		}
		src = string(data)
	}
	s.Preamble = compiler.NewPreamble(src)
	if err := s.Preamble.Load(); err != nil {
		return nil, err
	}

	s.Engine, err = engine.New(ctx, &engine.Config{
		Registry:            s.Registry,
		Catalog:             s.Catalog,
		CompilationCacheDir: cfg.Cache.NativeDir(),
	})
	if err != nil {
		return nil, err
	}
	s.closers = append(s.closers, s.Engine.Close)

	s.Compiler = compiler.New(c)
	for _, t := range cfg.Targets {
		spec := t.Spec()
		if _, ok := s.Compiler.Backend(spec); ok {
			continue
		}
		if spec.IsLocal() {
			s.Compiler.AddBackend(compiler.NewLocal(s.Preamble, s.Engine, cfg.Compiler.MaxDepth))
			continue
		}
		cross, err := compiler.NewCross(ctx, spec, s.Preamble, cfg.Compiler.MaxDepth)
		if err != nil {
			_ = s.Close(ctx)
			return nil, fmt.Errorf("target %s: %w", t.Name, err)
		}
		s.Compiler.AddBackend(cross)
		s.closers = append(s.closers, cross.Close)
	}
	if _, ok := s.Compiler.Backend(ir.Host()); !ok {
		s.Compiler.AddBackend(compiler.NewLocal(s.Preamble, s.Engine, cfg.Compiler.MaxDepth))
	}

	for _, cs := range [][]prometheus.Collector{
		cacheMetrics.PrometheusCollectors(),
		s.Compiler.Metrics().PrometheusCollectors(),
		s.Engine.Metrics().PrometheusCollectors(),
	} {
		s.metrics.MustRegister(cs...)
	}
	return s, nil
}

// PrometheusRegistry holds the metrics of every component.
func (s *System) PrometheusRegistry() *prometheus.Registry {
	return s.metrics
}

// Close releases the engine and every cross backend.
func (s *System) Close(ctx context.Context) error {
	var err error
	for i := len(s.closers) - 1; i >= 0; i-- {
		err = multierr.Append(err, s.closers[i](ctx))
	}
	s.closers = nil
	return err
}

// Target resolves a configured target name. An empty name is the host.
func (s *System) Target(name string) (ir.TargetSpec, error) {
	if name == "" {
		return ir.Host(), nil
	}
	t, ok := s.Config.Target(name)
	if !ok {
		return ir.TargetSpec{}, fmt.Errorf("unknown target %q", name)
	}
	return t.Spec(), nil
}
