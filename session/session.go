// Package session turns source text into compiled artifacts on behalf of
// one client, keeping that client's namespace environment.
//
// Environment forms are replayed through nsync before anything is
// analysed, so names resolve the way they will on the executing side. The
// compile-side environment only ever holds declarations: values exist only
// where the artifacts run.
package session

import (
	"context"
	"fmt"
	"sync"

	"github.com/wippyai/jitlink/artifact"
	"github.com/wippyai/jitlink/compiler"
	"github.com/wippyai/jitlink/env"
	"github.com/wippyai/jitlink/errors"
	"github.com/wippyai/jitlink/ir"
	"github.com/wippyai/jitlink/lang"
	"github.com/wippyai/jitlink/nsync"
)

// Compiled is one artifact produced for a request.
type Compiled struct {
	Artifact *artifact.Artifact
	Module   string
}

// Session is not safe for concurrent use; requests of one session are
// processed in order.
type Session struct {
	compiler *compiler.Compiler
	sync     *nsync.Synchronizer
	tracker  *compiler.DefTracker
	target   ir.TargetSpec
	requires int
	mu       sync.Mutex
}

// New creates a session with a fresh environment in the default namespace.
// preamble functions are declared so calls to them resolve.
func New(comp *compiler.Compiler, preamble *compiler.Preamble, target ir.TargetSpec) (*Session, error) {
	e := env.New()
	if preamble != nil {
		if err := preamble.Declare(e); err != nil {
			return nil, err
		}
	}
	return &Session{
		compiler: comp,
		sync:     nsync.New(env.NewFrame(e, env.DefaultNS)),
		tracker:  compiler.NewDefTracker(),
		target:   target.Normalize(),
	}, nil
}

// Namespace returns the current namespace.
func (s *Session) Namespace() string {
	return s.sync.Namespace()
}

// Env returns the compile-side environment.
func (s *Session) Env() *env.Env {
	return s.sync.Frame().Env()
}

// Target returns the target the session compiles for.
func (s *Session) Target() ir.TargetSpec {
	return s.target
}

// SwitchTo makes ns the current namespace, creating it if needed.
func (s *Session) SwitchTo(ns string) {
	if ns == "" || ns == s.Namespace() {
		return
	}
	s.sync.Frame().SetNamespace(ns)
}

// Unit analyses every form of src into one unit named module. A failing
// form leaves the environment as it was before the call.
func (s *Session) Unit(module, src string) (*ir.Unit, error) {
	forms, err := lang.ReadAll(src)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var u *ir.Unit
	err = s.atomically(func() error {
		u, err = s.unit(module, forms)
		return err
	})
	return u, err
}

func (s *Session) unit(module string, forms []lang.Form) (*ir.Unit, error) {
	u := &ir.Unit{Name: module, Namespace: s.Namespace(), Target: s.target}
	for _, f := range forms {
		effects, node, err := s.form(f)
		if err != nil {
			return nil, err
		}
		u.Effects = append(u.Effects, effects...)
		if node != nil {
			u.Forms = append(u.Forms, node)
		}
	}
	return u, nil
}

// atomically runs fn and rolls back the environment and the current
// namespace when it fails.
func (s *Session) atomically(fn func() error) error {
	snap := s.Env().Snapshot()
	ns := s.Namespace()
	if err := fn(); err != nil {
		s.Env().Restore(snap)
		s.sync.Frame().SetNamespace(ns)
		return err
	}
	return nil
}

// form replays an environment form or analyses anything else.
func (s *Session) form(f lang.Form) ([]ir.Effect, ir.Node, error) {
	if nsync.Recognizes(f) {
		effects, err := s.sync.Replay(f)
		return effects, nil, err
	}
	a := &lang.Analyzer{Env: s.Env(), NS: s.Namespace()}
	node, err := a.Analyze(f)
	return nil, node, err
}

// Compile analyses src into one unit and compiles it. Declarations of a
// request that fails to compile are not kept.
func (s *Session) Compile(ctx context.Context, module, src string) (*Compiled, error) {
	forms, err := lang.ReadAll(src)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var art *artifact.Artifact
	err = s.atomically(func() error {
		u, err := s.unit(module, forms)
		if err != nil {
			return err
		}
		art, err = s.compiler.Compile(ctx, u)
		return err
	})
	if err != nil {
		return nil, err
	}
	return &Compiled{Artifact: art, Module: module}, nil
}

// Require compiles src one top-level form at a time. The modules of the
// n-th Require call are named prefix$n.1, prefix$n.2 and so on. A def or
// defn whose body is unchanged since this session last compiled it is
// skipped and reported by qualified name.
func (s *Session) Require(ctx context.Context, prefix, src string) ([]*Compiled, []string, error) {
	if prefix == "" {
		return nil, nil, errors.InvalidInput(errors.PhaseCompile, "module prefix is empty")
	}
	forms, err := lang.ReadAll(src)
	if err != nil {
		return nil, nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requires++

	var (
		out     []*Compiled
		skipped []string
		record  = map[string]string{}
	)
	err = s.atomically(func() error {
		for i, f := range forms {
			u := &ir.Unit{
				Name:      fmt.Sprintf("%s$%d.%d", prefix, s.requires, i+1),
				Namespace: s.Namespace(),
				Target:    s.target,
			}
			effects, node, err := s.form(f)
			if err != nil {
				return err
			}
			u.Effects = effects
			if node != nil {
				if name, ok := definedName(node); ok {
					hash := ir.NodeHash(node)
					if !s.tracker.Changed(name, hash) {
						skipped = append(skipped, name)
						continue
					}
					record[name] = hash
				}
				u.Forms = []ir.Node{node}
			}
			art, err := s.compiler.Compile(ctx, u)
			if err != nil {
				return err
			}
			out = append(out, &Compiled{Artifact: art, Module: u.Name})
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	for name, hash := range record {
		s.tracker.Record(name, hash)
	}
	return out, skipped, nil
}

func definedName(n ir.Node) (string, bool) {
	switch n := n.(type) {
	case ir.Def:
		return ir.Qualify(n.NS, n.Name), true
	case ir.Defn:
		return ir.Qualify(n.NS, n.Name), true
	}
	return "", false
}
