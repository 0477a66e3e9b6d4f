// Package compiler turns IR units into artifacts.
//
// A Compiler owns one Backend per target and consults the object cache
// before invoking it. The cache key combines the unit hash with the
// backend fingerprint so a preamble or ABI flag change never serves stale
// code. Concurrent compiles of the same unit for the same target share one
// build. Failed builds are never cached.
package compiler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/wippyai/jitlink/artifact"
	"github.com/wippyai/jitlink/cache"
	"github.com/wippyai/jitlink/errors"
	"github.com/wippyai/jitlink/ir"
)

// Compiler dispatches units to backends through the object cache.
type Compiler struct {
	cache    *cache.Cache
	metrics  *Metrics
	backends map[string]Backend
	group    singleflight.Group
	mu       sync.RWMutex
}

// Option configures a Compiler.
type Option func(*Compiler)

// WithMetrics sets the compiler metrics.
func WithMetrics(m *Metrics) Option {
	return func(c *Compiler) { c.metrics = m }
}

// New creates a compiler. c may be nil to disable caching.
func New(c *cache.Cache, opts ...Option) *Compiler {
	comp := &Compiler{
		cache:    c,
		backends: make(map[string]Backend),
	}
	for _, opt := range opts {
		opt(comp)
	}
	if comp.metrics == nil {
		comp.metrics = NewMetrics()
	}
	return comp
}

// Metrics returns the compiler metrics.
func (c *Compiler) Metrics() *Metrics {
	return c.metrics
}

// AddBackend registers b for its target, replacing any previous backend.
func (c *Compiler) AddBackend(b Backend) {
	c.mu.Lock()
	c.backends[b.Target().Key()] = b
	c.mu.Unlock()
}

// Backend returns the backend for target.
func (c *Compiler) Backend(target ir.TargetSpec) (Backend, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	b, ok := c.backends[target.Normalize().Key()]
	return b, ok
}

// Targets lists the targets that have a backend.
func (c *Compiler) Targets() []ir.TargetSpec {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]ir.TargetSpec, 0, len(c.backends))
	for _, b := range c.backends {
		out = append(out, b.Target())
	}
	return out
}

// CacheKey is the object cache key for a unit built by b.
func CacheKey(unitHash string, b Backend) string {
	return fmt.Sprintf("%016x", xxhash.Sum64String(unitHash+"\x00"+b.Fingerprint()))
}

// Compile returns the artifact for unit on unit.Target.
func (c *Compiler) Compile(ctx context.Context, unit *ir.Unit) (*artifact.Artifact, error) {
	target := unit.Target.Normalize()
	b, ok := c.Backend(target)
	if !ok {
		return nil, errors.New(errors.PhaseCompile, errors.KindBackendFailure).
			Module(unit.Name).
			Detail("no backend for target %s", target).
			Build()
	}

	hash := unit.Hash()
	key := CacheKey(hash, b)
	start := time.Now()

	v, err, _ := c.group.Do(target.Key()+"/"+key, func() (any, error) {
		if art, ok := c.lookup(key, hash, target); ok {
			return art, nil
		}
		art, err := b.Build(ctx, unit)
		if err != nil {
			return nil, err
		}
		c.store(key, art, unit.Name)
		return art, nil
	})

	labels := []string{target.Key(), LabelMiss}
	if err != nil {
		labels[1] = LabelError
		c.metrics.Compiles.WithLabelValues(labels...).Inc()
		c.metrics.Duration.WithLabelValues(labels...).Observe(time.Since(start).Seconds())
		Logger().Debug("Compile failed",
			zap.String("unit", unit.Name),
			zap.String("target", target.Key()),
			zap.Error(err))
		return nil, err
	}

	art := v.(*artifact.Artifact)
	if art.FromCache {
		labels[1] = LabelHit
	}
	c.metrics.Compiles.WithLabelValues(labels...).Inc()
	c.metrics.Duration.WithLabelValues(labels...).Observe(time.Since(start).Seconds())
	return art, nil
}

func (c *Compiler) lookup(key, hash string, target ir.TargetSpec) (*artifact.Artifact, bool) {
	if c.cache == nil {
		return nil, false
	}
	entry, ok := c.cache.Lookup(key, target)
	if !ok {
		return nil, false
	}
	art, err := artifact.Open(entry.Artifact, target)
	if err != nil || art.Hash != hash {
		Logger().Warn("Cached artifact unusable, rebuilding",
			zap.String("key", key),
			zap.String("target", target.Key()),
			zap.Error(err))
		return nil, false
	}
	art.FromCache = true
	return art, true
}

func (c *Compiler) store(key string, art *artifact.Artifact, unitName string) {
	if c.cache == nil {
		return
	}
	if err := c.cache.Store(key, art.Target, art.Bytes, art.EntrySymbol, unitName); err != nil {
		Logger().Warn("Failed to cache artifact",
			zap.String("key", key),
			zap.String("target", art.Target.Key()),
			zap.Error(err))
	}
}
