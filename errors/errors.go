package errors

import (
	stderrors "errors"
	"fmt"
	"strings"
)

// Phase indicates which component produced the error
type Phase string

const (
	PhaseCompile   Phase = "compile"   // unit compiler
	PhaseLoad      Phase = "load"      // execution engine
	PhaseCache     Phase = "cache"     // object cache
	PhaseRegistry  Phase = "registry"  // foreign symbol registry
	PhaseTransport Phase = "transport" // remote compilation service
	PhaseSync      Phase = "sync"      // namespace synchronizer
	PhaseConfig    Phase = "config"    // startup configuration
)

// Kind categorizes the error
type Kind string

const (
	// compile
	KindSyntax         Kind = "syntax"
	KindSemantic       Kind = "semantic"
	KindBackendFailure Kind = "backend_failure"

	// load
	KindUnresolvedSymbol    Kind = "unresolved_symbol"
	KindDuplicateDefinition Kind = "duplicate_definition"
	KindInitFailed          Kind = "init_failed"

	// cache
	KindCorrupt   Kind = "corrupt"
	KindIOFailure Kind = "io_failure"

	// transport
	KindDisconnected      Kind = "disconnected"
	KindTimeout           Kind = "timeout"
	KindProtocolViolation Kind = "protocol_violation"

	KindInvalidInput Kind = "invalid_input"
	KindNotFound     Kind = "not_found"
)

// Error is the structured error type used throughout jitlink
type Error struct {
	Cause   error
	Phase   Phase
	Kind    Kind
	Symbol  string
	Module  string
	Detail  string
	Origins []string
}

// Error implements the error interface
func (e *Error) Error() string {
	var b strings.Builder

	b.WriteByte('[')
	b.WriteString(string(e.Phase))
	b.WriteString("] ")
	b.WriteString(string(e.Kind))

	if e.Symbol != "" {
		b.WriteString(" ")
		b.WriteString(fmt.Sprintf("%q", e.Symbol))
	}
	if e.Module != "" {
		b.WriteString(" in ")
		b.WriteString(e.Module)
	}
	if e.Detail != "" {
		b.WriteString(": ")
		b.WriteString(e.Detail)
	}
	if len(e.Origins) > 0 {
		b.WriteString(" (origins: ")
		b.WriteString(strings.Join(e.Origins, ", "))
		b.WriteByte(')')
	}
	if e.Cause != nil {
		b.WriteString(" (caused by: ")
		b.WriteString(e.Cause.Error())
		b.WriteByte(')')
	}

	return b.String()
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target matches this error
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Phase == t.Phase && e.Kind == t.Kind
	}
	return false
}

// Builder provides structured error construction
type Builder struct {
	err Error
}

// New creates a new error builder
func New(phase Phase, kind Kind) *Builder {
	return &Builder{
		err: Error{
			Phase: phase,
			Kind:  kind,
		},
	}
}

// Symbol sets the offending symbol name
func (b *Builder) Symbol(name string) *Builder {
	b.err.Symbol = name
	return b
}

// Module sets the module the error belongs to
func (b *Builder) Module(name string) *Builder {
	b.err.Module = name
	return b
}

// Origins records the candidate origins of a conflicting definition
func (b *Builder) Origins(origins ...string) *Builder {
	b.err.Origins = origins
	return b
}

// Cause sets the underlying error
func (b *Builder) Cause(err error) *Builder {
	b.err.Cause = err
	return b
}

// Detail sets the human-readable detail message
func (b *Builder) Detail(msg string, args ...any) *Builder {
	if len(args) > 0 {
		b.err.Detail = fmt.Sprintf(msg, args...)
	} else {
		b.err.Detail = msg
	}
	return b
}

// Build returns the constructed error
func (b *Builder) Build() *Error {
	return &b.err
}

// As extracts the structured error from err's chain.
func As(err error) (*Error, bool) {
	var e *Error
	if stderrors.As(err, &e) {
		return e, true
	}
	return nil, false
}

func is(err error, phase Phase, kind Kind) bool {
	e, ok := As(err)
	return ok && e.Phase == phase && e.Kind == kind
}

// IsCompile reports whether err is a compile error of the given kind.
func IsCompile(err error, kind Kind) bool { return is(err, PhaseCompile, kind) }

// IsLoad reports whether err is a load error of the given kind.
func IsLoad(err error, kind Kind) bool { return is(err, PhaseLoad, kind) }

// IsTransport reports whether err is a transport error of the given kind.
func IsTransport(err error, kind Kind) bool { return is(err, PhaseTransport, kind) }

// Convenience constructors for the fixed taxonomy

// Syntax creates a compile error for unreadable source
func Syntax(detail string, args ...any) *Error {
	return New(PhaseCompile, KindSyntax).Detail(detail, args...).Build()
}

// Semantic creates a compile error for well-formed but invalid input
func Semantic(detail string, args ...any) *Error {
	return New(PhaseCompile, KindSemantic).Detail(detail, args...).Build()
}

// Backend creates a compile error raised by a code generation backend
func Backend(cause error, detail string, args ...any) *Error {
	return New(PhaseCompile, KindBackendFailure).Detail(detail, args...).Cause(cause).Build()
}

// Unresolved creates a load error for an import with no provider
func Unresolved(module, symbol, detail string) *Error {
	return &Error{
		Phase:  PhaseLoad,
		Kind:   KindUnresolvedSymbol,
		Module: module,
		Symbol: symbol,
		Detail: detail,
	}
}

// Duplicate creates a load error naming both candidate origins
func Duplicate(module, symbol, existing, incoming string) *Error {
	return &Error{
		Phase:   PhaseLoad,
		Kind:    KindDuplicateDefinition,
		Module:  module,
		Symbol:  symbol,
		Detail:  "symbol is already defined",
		Origins: []string{existing, incoming},
	}
}

// InitFailed creates a load error for a trapping entry symbol
func InitFailed(module, entry string, cause error) *Error {
	return &Error{
		Phase:  PhaseLoad,
		Kind:   KindInitFailed,
		Module: module,
		Symbol: entry,
		Detail: "entry symbol failed",
		Cause:  cause,
	}
}

// Corrupt creates a cache error for an unreadable entry
func Corrupt(key, detail string) *Error {
	return &Error{
		Phase:  PhaseCache,
		Kind:   KindCorrupt,
		Symbol: key,
		Detail: detail,
	}
}

// IO creates a cache error wrapping a filesystem failure
func IO(key string, cause error) *Error {
	return &Error{
		Phase:  PhaseCache,
		Kind:   KindIOFailure,
		Symbol: key,
		Cause:  cause,
	}
}

// Transport creates a transport error
func Transport(kind Kind, detail string, cause error) *Error {
	return &Error{
		Phase:  PhaseTransport,
		Kind:   kind,
		Detail: detail,
		Cause:  cause,
	}
}

// InvalidInput creates an invalid input error
func InvalidInput(phase Phase, detail string, args ...any) *Error {
	return New(phase, KindInvalidInput).Detail(detail, args...).Build()
}
