package remote

import (
	"context"
	"fmt"

	"github.com/wippyai/jitlink/artifact"
	"github.com/wippyai/jitlink/engine"
	"github.com/wippyai/jitlink/env"
	"github.com/wippyai/jitlink/errors"
	"github.com/wippyai/jitlink/ir"
)

// Executor runs code compiled by a remote service in a local engine. It
// owns the client side of one session.
type Executor struct {
	client *Client
	engine *engine.Engine
	frame  *env.Frame
	// target names only the host arch; the service supplies the sysroot
	// and ABI it was configured with.
	target ir.TargetSpec
	prefix string
	evals  int
}

// NewExecutor binds client to eng. Modules are named prefix$1, prefix$2
// and so on; an empty prefix means "repl".
func NewExecutor(client *Client, eng *engine.Engine, prefix string) *Executor {
	if prefix == "" {
		prefix = "repl"
	}
	return &Executor{
		client: client,
		engine: eng,
		frame:  env.NewFrame(eng.Env(), env.DefaultNS),
		target: ir.Host(),
		prefix: prefix,
	}
}

// Namespace returns the executor's current namespace.
func (x *Executor) Namespace() string {
	return x.frame.Namespace()
}

// Frame returns the execution frame.
func (x *Executor) Frame() *env.Frame {
	return x.frame
}

// Eval compiles src remotely, loads it and returns its value.
func (x *Executor) Eval(ctx context.Context, src string) (int64, error) {
	x.evals++
	module := fmt.Sprintf("%s$%d", x.prefix, x.evals)
	resp, err := x.client.Compile(ctx, x.Namespace(), module, src, &x.target)
	if err != nil {
		return 0, err
	}
	return x.load(ctx, Module{
		Name:        resp.Module,
		EntrySymbol: resp.EntrySymbol,
		Hash:        resp.Hash,
		Artifact:    resp.Artifact,
	})
}

// Require compiles src form by form and loads every module in order. It
// returns the names of definitions the service skipped as unchanged.
func (x *Executor) Require(ctx context.Context, src string) ([]string, error) {
	resp, err := x.client.Require(ctx, x.Namespace(), x.prefix, src, &x.target)
	if err != nil {
		return nil, err
	}
	for _, m := range resp.Modules {
		if _, err := x.load(ctx, m); err != nil {
			return nil, err
		}
	}
	return resp.Skipped, nil
}

func (x *Executor) load(ctx context.Context, m Module) (int64, error) {
	art, err := artifact.Open(m.Artifact, x.target)
	if err != nil {
		return 0, errors.Transport(errors.KindProtocolViolation, "module "+m.Name+": unreadable artifact", err)
	}
	if art.Hash != m.Hash || art.EntrySymbol != m.EntrySymbol {
		return 0, errors.Transport(errors.KindProtocolViolation, "module "+m.Name+": artifact does not match response", nil)
	}
	ep, err := x.engine.Load(env.WithFrame(ctx, x.frame), art, m.Name)
	if err != nil {
		return 0, err
	}
	return ep.Result, nil
}
