package remote

import (
	"fmt"
	"io"

	"github.com/fxamacker/cbor/v2"

	"github.com/wippyai/jitlink/errors"
	"github.com/wippyai/jitlink/ir"
)

// DefaultPort is the port the compilation service listens on.
const DefaultPort = 5570

// Request and response operations.
const (
	OpCompile  = "compile"
	OpCompiled = "compiled"
	OpRequire  = "require"
	OpRequired = "required"
	OpPing     = "ping"
	OpPong     = "pong"
	OpError    = "error"
)

// Request is sent by a client. ID correlates the response.
type Request struct {
	Target *ir.TargetSpec `cbor:"target,omitempty"`
	Op     string         `cbor:"op"`
	NS     string         `cbor:"ns,omitempty"`
	Source string         `cbor:"source,omitempty"`
	Module string         `cbor:"module,omitempty"`
	ID     uint64         `cbor:"id"`
}

// Module is one compiled module in a response.
type Module struct {
	Name        string `cbor:"name"`
	EntrySymbol string `cbor:"entry_symbol"`
	Hash        string `cbor:"hash"`
	Artifact    []byte `cbor:"artifact"`
}

// Response answers exactly one request.
type Response struct {
	Op          string   `cbor:"op"`
	EntrySymbol string   `cbor:"entry_symbol,omitempty"`
	Hash        string   `cbor:"hash,omitempty"`
	Module      string   `cbor:"module,omitempty"`
	NS          string   `cbor:"ns,omitempty"`
	Phase       string   `cbor:"phase,omitempty"`
	Kind        string   `cbor:"kind,omitempty"`
	Symbol      string   `cbor:"symbol,omitempty"`
	Message     string   `cbor:"message,omitempty"`
	Artifact    []byte   `cbor:"artifact,omitempty"`
	Modules     []Module `cbor:"modules,omitempty"`
	Skipped     []string `cbor:"skipped,omitempty"`
	ID          uint64   `cbor:"id"`
}

// Err converts an error response back into a structured error.
func (r *Response) Err() error {
	if r.Op != OpError {
		return nil
	}
	return &errors.Error{
		Phase:  errors.Phase(r.Phase),
		Kind:   errors.Kind(r.Kind),
		Symbol: r.Symbol,
		Detail: r.Message,
	}
}

func errorResponse(id uint64, err error) *Response {
	e, ok := errors.As(err)
	if !ok {
		return &Response{
			Op:      OpError,
			ID:      id,
			Phase:   string(errors.PhaseCompile),
			Kind:    string(errors.KindBackendFailure),
			Message: err.Error(),
		}
	}
	msg := e.Detail
	if e.Cause != nil {
		if msg != "" {
			msg += ": "
		}
		msg += e.Cause.Error()
	}
	return &Response{
		Op:      OpError,
		ID:      id,
		Phase:   string(e.Phase),
		Kind:    string(e.Kind),
		Symbol:  e.Symbol,
		Message: msg,
	}
}

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	if encMode, err = cbor.CanonicalEncOptions().EncMode(); err != nil {
		panic(fmt.Sprintf("remote: failed to create CBOR enc mode: %v", err))
	}
	decMode, err = cbor.DecOptions{
		MaxArrayElements: 1 << 16,
		MaxMapPairs:      1 << 10,
	}.DecMode()
	if err != nil {
		panic(fmt.Sprintf("remote: failed to create CBOR dec mode: %v", err))
	}
}

// Every frame is a single CBOR data item; the encoding delimits itself.
func newEncoder(w io.Writer) *cbor.Encoder { return encMode.NewEncoder(w) }
func newDecoder(r io.Reader) *cbor.Decoder { return decMode.NewDecoder(r) }
