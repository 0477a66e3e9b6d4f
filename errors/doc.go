// Package errors provides the structured error type shared by every jitlink
// component.
//
// Errors carry a Phase (which component failed) and a Kind (what went wrong).
// Compile, load, cache and transport failures map onto fixed kinds so callers
// can branch on them without parsing messages:
//
//	err := errors.New(errors.PhaseLoad, errors.KindUnresolvedSymbol).
//		Symbol("rt_context").
//		Detail("no provider").
//		Build()
//
//	if errors.IsLoad(err, errors.KindUnresolvedSymbol) { ... }
//
// Duplicate definitions keep every candidate origin so a registry setup gap
// can be diagnosed from the message alone.
package errors
