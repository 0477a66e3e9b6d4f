package engine

import (
	"context"

	"github.com/tetratelabs/wazero/api"

	"github.com/wippyai/jitlink/errors"
	"github.com/wippyai/jitlink/registry"
)

// EntryPoint is the initialisation function of a loaded artifact.
type EntryPoint struct {
	fn     api.Function
	engine *Engine
	// Bindings maps every foreign symbol the artifact links against to its
	// registry address.
	Bindings map[string]registry.Address
	Module   string
	Symbol   string
	// Result is the value the entry returned during the load.
	Result int64
}

// Call runs the entry again. The frame bound to ctx is used when present.
func (p *EntryPoint) Call(ctx context.Context) (int64, error) {
	_, ctx = p.engine.frame(ctx)
	res, err := p.fn.Call(ctx)
	if err != nil {
		return 0, errors.InitFailed(p.Module, p.Symbol, err)
	}
	return int64(res[0]), nil
}
