package env

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/wippyai/jitlink/ir"
)

// ErrNotBound is returned by operations that need a frame when the context
// carries none.
var ErrNotBound = errors.New("environment frame is not bound")

// Frame is the per-thread-of-execution binding of an environment and its
// current namespace.
type Frame struct {
	env *Env
	ns  string
	mu  sync.RWMutex
}

// NewFrame binds env with ns as the current namespace.
func NewFrame(e *Env, ns string) *Frame {
	e.Ensure(ns)
	return &Frame{env: e, ns: ns}
}

// Env returns the bound environment.
func (f *Frame) Env() *Env {
	return f.env
}

// Namespace returns the current namespace.
func (f *Frame) Namespace() string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.ns
}

// SetNamespace switches the current namespace, creating it if needed.
func (f *Frame) SetNamespace(ns string) {
	f.env.Ensure(ns)
	f.mu.Lock()
	f.ns = ns
	f.mu.Unlock()
}

type frameKey struct{}

// WithFrame returns a context carrying f.
func WithFrame(ctx context.Context, f *Frame) context.Context {
	return context.WithValue(ctx, frameKey{}, f)
}

// FrameFrom returns the frame bound to ctx or ErrNotBound.
func FrameFrom(ctx context.Context) (*Frame, error) {
	if ctx != nil {
		if f, ok := ctx.Value(frameKey{}).(*Frame); ok && f != nil {
			return f, nil
		}
	}
	return nil, ErrNotBound
}

// Apply performs effects against the frame's environment in order.
func Apply(f *Frame, effects []ir.Effect) error {
	for _, eff := range effects {
		switch eff.Kind {
		case ir.EffectSwitchNS:
			f.SetNamespace(eff.NS)
		case ir.EffectRequire:
			f.env.Ensure(eff.NS)
		case ir.EffectAlias:
			f.env.Ensure(eff.Target)
			if err := f.env.AddAlias(eff.NS, eff.Name, eff.Target); err != nil {
				return err
			}
		case ir.EffectRefer:
			f.env.AddRefer(eff.NS, eff.Name, eff.Target)
		default:
			return fmt.Errorf("unknown effect kind %d", eff.Kind)
		}
	}
	return nil
}
