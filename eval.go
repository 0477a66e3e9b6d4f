package jitlink

import (
	"context"
	"fmt"

	"github.com/wippyai/jitlink/env"
	"github.com/wippyai/jitlink/errors"
	"github.com/wippyai/jitlink/ir"
	"github.com/wippyai/jitlink/session"
)

// Evaluator compiles and runs source in this process. The compile side and
// the execution side keep separate environments, as they would across a
// network; environment forms are replayed on both.
type Evaluator struct {
	sys     *System
	session *session.Session
	frame   *env.Frame
	prefix  string
	evals   int
}

// Evaluator starts a session for target, which must run on this host.
func (s *System) Evaluator(target ir.TargetSpec) (*Evaluator, error) {
	if !target.IsLocal() {
		return nil, errors.InvalidInput(errors.PhaseLoad, "target %s cannot execute on this host", target)
	}
	sess, err := session.New(s.Compiler, s.Preamble, target)
	if err != nil {
		return nil, err
	}
	return &Evaluator{
		sys:     s,
		session: sess,
		frame:   env.NewFrame(s.Engine.Env(), env.DefaultNS),
		prefix:  "eval",
	}, nil
}

// Namespace returns the current namespace.
func (e *Evaluator) Namespace() string {
	return e.frame.Namespace()
}

// Eval compiles src as one unit, loads it and returns its value.
func (e *Evaluator) Eval(ctx context.Context, src string) (int64, error) {
	e.evals++
	module := fmt.Sprintf("%s$%d", e.prefix, e.evals)
	e.session.SwitchTo(e.Namespace())
	c, err := e.session.Compile(ctx, module, src)
	if err != nil {
		return 0, err
	}
	ep, err := e.sys.Engine.Load(env.WithFrame(ctx, e.frame), c.Artifact, c.Module)
	if err != nil {
		return 0, err
	}
	return ep.Result, nil
}

// Require compiles src form by form and loads each module in order.
func (e *Evaluator) Require(ctx context.Context, src string) ([]string, error) {
	e.session.SwitchTo(e.Namespace())
	compiled, skipped, err := e.session.Require(ctx, e.prefix, src)
	if err != nil {
		return nil, err
	}
	ctx = env.WithFrame(ctx, e.frame)
	for _, c := range compiled {
		if _, err := e.sys.Engine.Load(ctx, c.Artifact, c.Module); err != nil {
			return nil, err
		}
	}
	return skipped, nil
}
