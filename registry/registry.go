// Package registry implements the foreign symbol registry: the process-wide
// table of externally linked functions and data symbols.
//
// A symbol receives its address the first time it is registered and keeps
// it for the rest of the run. Records are never removed, so every artifact
// that references a name observes the same address no matter when it is
// loaded. Registering must happen before the first artifact referencing the
// name is loaded; the engine refuses artifacts that would define a second
// copy.
package registry

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/wippyai/jitlink/errors"
)

// Kind distinguishes functions from data symbols.
type Kind uint8

const (
	Function Kind = iota + 1
	Data
)

func (k Kind) String() string {
	switch k {
	case Function:
		return "function"
	case Data:
		return "data"
	default:
		return "unknown"
	}
}

// Address identifies a registered symbol for the lifetime of the process.
type Address uint64

func (a Address) String() string {
	return fmt.Sprintf("0x%08x", uint64(a))
}

// Func implements a foreign function over i64 arguments.
type Func func(ctx context.Context, args []int64) (int64, error)

// Symbol is a foreign symbol before registration.
type Symbol struct {
	Fn    Func
	Name  string
	Doc   string
	Kind  Kind
	Arity int
	// Init is the initial value of a data symbol.
	Init int64
}

// Library groups symbols provided by one native library.
type Library struct {
	Name    string
	Symbols []Symbol
}

// Record is a registered symbol.
type Record struct {
	Symbol
	Origin  string
	Address Address
	// Seq orders records by registration, starting at 1.
	Seq uint64
}

// baseAddress keeps addresses clear of zero so an unset Address is obvious.
const baseAddress Address = 0x10000

// Registry is safe for concurrent use.
type Registry struct {
	byName map[string]*Record
	order  []*Record
	mu     sync.RWMutex
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{byName: make(map[string]*Record)}
}

func validate(sym Symbol) error {
	switch {
	case sym.Name == "":
		return errors.InvalidInput(errors.PhaseRegistry, "symbol name is empty")
	case strings.Contains(sym.Name, "/"):
		return errors.InvalidInput(errors.PhaseRegistry, "symbol %q: names may not contain '/'", sym.Name)
	case sym.Kind == Function && sym.Fn == nil:
		return errors.InvalidInput(errors.PhaseRegistry, "function %q has no implementation", sym.Name)
	case sym.Kind == Function && sym.Arity < 0:
		return errors.InvalidInput(errors.PhaseRegistry, "function %q has negative arity", sym.Name)
	case sym.Kind == Data && sym.Fn != nil:
		return errors.InvalidInput(errors.PhaseRegistry, "data symbol %q has an implementation", sym.Name)
	case sym.Kind != Function && sym.Kind != Data:
		return errors.InvalidInput(errors.PhaseRegistry, "symbol %q has unknown kind %d", sym.Name, sym.Kind)
	}
	return nil
}

// Register adds sym on behalf of origin and returns its record.
// Registering a name again from the same origin with the same kind returns
// the existing record. Any other collision is an error naming both origins.
func (r *Registry) Register(sym Symbol, origin string) (Record, error) {
	if err := validate(sym); err != nil {
		return Record{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if rec, ok := r.byName[sym.Name]; ok {
		if rec.Origin == origin && rec.Kind == sym.Kind && rec.Arity == sym.Arity {
			return *rec, nil
		}
		return Record{}, errors.New(errors.PhaseRegistry, errors.KindDuplicateDefinition).
			Symbol(sym.Name).
			Origins(rec.Origin, origin).
			Detail("already registered as %s", rec.Kind).
			Build()
	}

	seq := uint64(len(r.order)) + 1
	rec := &Record{
		Symbol:  sym,
		Origin:  origin,
		Address: baseAddress + Address(seq*8),
		Seq:     seq,
	}
	r.byName[sym.Name] = rec
	r.order = append(r.order, rec)
	return *rec, nil
}

// RegisterLibrary registers every symbol of lib with origin "library <name>".
// It stops at the first failure; symbols registered before it stay.
func (r *Registry) RegisterLibrary(lib *Library) error {
	origin := LibraryOrigin(lib.Name)
	for _, sym := range lib.Symbols {
		if _, err := r.Register(sym, origin); err != nil {
			return fmt.Errorf("library %s: %w", lib.Name, err)
		}
	}
	return nil
}

// LibraryOrigin is the origin recorded for symbols of a native library.
func LibraryOrigin(name string) string {
	return "library " + name
}

// Resolve returns the record for name.
func (r *Registry) Resolve(name string) (Record, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.byName[name]
	if !ok {
		return Record{}, false
	}
	return *rec, true
}

// Seq returns the sequence number of the latest record, 0 when empty.
func (r *Registry) Seq() uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return uint64(len(r.order))
}

// Since returns records registered after seq, in registration order.
func (r *Registry) Since(seq uint64) []Record {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if seq >= uint64(len(r.order)) {
		return nil
	}
	out := make([]Record, 0, uint64(len(r.order))-seq)
	for _, rec := range r.order[seq:] {
		out = append(out, *rec)
	}
	return out
}

// Records returns all records sorted by name.
func (r *Registry) Records() []Record {
	out := r.Since(0)
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
