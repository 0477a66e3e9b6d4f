package compiler

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/cespare/xxhash/v2"
	"github.com/tetratelabs/wazero"

	"github.com/wippyai/jitlink/artifact"
	"github.com/wippyai/jitlink/errors"
	"github.com/wippyai/jitlink/ir"
)

// Backend turns a unit into an artifact for one target.
type Backend interface {
	Target() ir.TargetSpec
	// Fingerprint changes whenever the backend would generate different
	// bytes for the same unit.
	Fingerprint() string
	Build(ctx context.Context, unit *ir.Unit) (*artifact.Artifact, error)
}

// Validator checks that generated bytes form a loadable module.
type Validator interface {
	Validate(ctx context.Context, bin []byte) error
}

// RuntimeValidator validates by compiling with a dedicated wazero runtime.
type RuntimeValidator struct {
	runtime wazero.Runtime
}

// NewInterpreterValidator validates without producing host machine code,
// which is what a foreign target needs.
func NewInterpreterValidator(ctx context.Context) *RuntimeValidator {
	return &RuntimeValidator{runtime: wazero.NewRuntimeWithConfig(ctx, wazero.NewRuntimeConfigInterpreter())}
}

// NewCompilerValidator validates by compiling to host machine code.
func NewCompilerValidator(ctx context.Context) *RuntimeValidator {
	return &RuntimeValidator{runtime: wazero.NewRuntimeWithConfig(ctx, wazero.NewRuntimeConfigCompiler())}
}

// Validate compiles bin and discards the result.
func (v *RuntimeValidator) Validate(ctx context.Context, bin []byte) error {
	cm, err := v.runtime.CompileModule(ctx, bin)
	if err != nil {
		return err
	}
	return cm.Close(ctx)
}

// Close releases the runtime.
func (v *RuntimeValidator) Close(ctx context.Context) error {
	return v.runtime.Close(ctx)
}

type toolchain struct {
	preamble  *Preamble
	validator Validator
	target    ir.TargetSpec
	maxDepth  int
	builds    atomic.Int64
}

func (t *toolchain) fingerprint() string {
	return fmt.Sprintf("%s:%s:%d", t.target.Key(), t.preamble.Digest(), t.maxDepth)
}

func (t *toolchain) build(ctx context.Context, unit *ir.Unit) (*artifact.Artifact, error) {
	if err := t.preamble.Load(); err != nil {
		return nil, errors.Backend(err, "runtime preamble unavailable")
	}
	t.builds.Add(1)

	u := *unit
	u.Target = t.target
	mod, manifest, err := Generate(&u, t.preamble, t.maxDepth)
	if err != nil {
		return nil, err
	}
	bin := mod.Encode()
	if err := t.validator.Validate(ctx, bin); err != nil {
		return nil, errors.Backend(err, "generated module for %s failed validation", t.target)
	}
	return &artifact.Artifact{
		Manifest:    manifest,
		Hash:        manifest.Hash,
		EntrySymbol: manifest.Entry,
		Bytes:       bin,
		Target:      t.target,
	}, nil
}

// Local generates code for the host. Validation goes through the native
// compiler of the process that will run the code.
type Local struct {
	tc toolchain
}

// NewLocal creates the host backend. validator is normally the engine.
func NewLocal(preamble *Preamble, validator Validator, maxDepth int) *Local {
	if maxDepth <= 0 {
		maxDepth = DefaultMaxDepth
	}
	return &Local{tc: toolchain{
		preamble:  preamble,
		validator: validator,
		target:    ir.Host(),
		maxDepth:  maxDepth,
	}}
}

func (l *Local) Target() ir.TargetSpec { return l.tc.target }
func (l *Local) Fingerprint() string   { return l.tc.fingerprint() }

// Build generates and validates an artifact for the host.
func (l *Local) Build(ctx context.Context, unit *ir.Unit) (*artifact.Artifact, error) {
	return l.tc.build(ctx, unit)
}

// Builds reports how many artifacts the backend generated.
func (l *Local) Builds() int64 { return l.tc.builds.Load() }

// Cross generates code for a foreign target. The toolchain is configured
// once: the preamble is parsed at construction and reused by every build.
type Cross struct {
	validator *RuntimeValidator
	tc        toolchain
}

// NewCross configures a toolchain for target.
func NewCross(ctx context.Context, target ir.TargetSpec, preamble *Preamble, maxDepth int) (*Cross, error) {
	if maxDepth <= 0 {
		maxDepth = DefaultMaxDepth
	}
	target = target.Normalize()
	if err := preamble.Load(); err != nil {
		return nil, errors.Backend(err, "configure toolchain for %s", target)
	}
	v := NewInterpreterValidator(ctx)
	return &Cross{
		validator: v,
		tc: toolchain{
			preamble:  preamble,
			validator: v,
			target:    target,
			maxDepth:  maxDepth,
		},
	}, nil
}

func (c *Cross) Target() ir.TargetSpec { return c.tc.target }

// Fingerprint includes the sysroot and ABI flags through the target key.
func (c *Cross) Fingerprint() string {
	return fmt.Sprintf("%s:%016x", c.tc.fingerprint(), xxhash.Sum64String(c.tc.target.String()))
}

// Build generates and validates an artifact for the foreign target.
func (c *Cross) Build(ctx context.Context, unit *ir.Unit) (*artifact.Artifact, error) {
	return c.tc.build(ctx, unit)
}

// Builds reports how many artifacts the toolchain generated.
func (c *Cross) Builds() int64 { return c.tc.builds.Load() }

// Close releases the toolchain's validation runtime.
func (c *Cross) Close(ctx context.Context) error {
	return c.validator.Close(ctx)
}
