// Package env holds the symbolic environment: namespaces, the vars interned
// in them, aliases and referred names.
//
// The same types serve both sides of a remote session. The compiling side
// only declares vars so later forms resolve; the executing side also stores
// their values. Environment effects recorded in a unit are applied with
// Apply on either side so both views stay aligned.
package env

import (
	"fmt"
	"maps"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/wippyai/jitlink/ir"
)

// CoreNS is referred into every namespace.
const CoreNS = "core"

// DefaultNS is the namespace sessions start in.
const DefaultNS = "user"

// VarKind tells value vars from function vars.
type VarKind uint8

const (
	ValueVar VarKind = iota + 1
	FnVar
)

// Var is a named, namespace-qualified binding.
type Var struct {
	NS    string
	Name  string
	value atomic.Int64
	bound atomic.Bool
	mu    sync.Mutex
	kind  VarKind
	arity int
}

// Qualified returns ns/name.
func (v *Var) Qualified() string {
	return ir.Qualify(v.NS, v.Name)
}

// Kind returns the var kind.
func (v *Var) Kind() VarKind {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.kind
}

// Arity returns the declared arity of a function var.
func (v *Var) Arity() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.arity
}

func (v *Var) declare(kind VarKind, arity int) {
	v.mu.Lock()
	v.kind = kind
	v.arity = arity
	v.mu.Unlock()
}

// Get returns the var's value and whether it has been bound.
func (v *Var) Get() (int64, bool) {
	if !v.bound.Load() {
		return 0, false
	}
	return v.value.Load(), true
}

// Set binds the var.
func (v *Var) Set(x int64) {
	v.value.Store(x)
	v.bound.Store(true)
}

// Namespace maps names to vars and holds aliases and refers.
type Namespace struct {
	vars    map[string]*Var
	aliases map[string]string
	refers  map[string]string
	Name    string
	mu      sync.RWMutex
}

func newNamespace(name string) *Namespace {
	return &Namespace{
		Name:    name,
		vars:    make(map[string]*Var),
		aliases: make(map[string]string),
		refers:  make(map[string]string),
	}
}

// Lookup returns the var interned under name.
func (n *Namespace) Lookup(name string) (*Var, bool) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	v, ok := n.vars[name]
	return v, ok
}

// Alias returns the namespace an alias points to.
func (n *Namespace) Alias(alias string) (string, bool) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	target, ok := n.aliases[alias]
	return target, ok
}

// Aliases returns a copy of the alias table.
func (n *Namespace) Aliases() map[string]string {
	n.mu.RLock()
	defer n.mu.RUnlock()
	out := make(map[string]string, len(n.aliases))
	for k, v := range n.aliases {
		out[k] = v
	}
	return out
}

// Vars lists interned var names, sorted.
func (n *Namespace) Vars() []string {
	n.mu.RLock()
	defer n.mu.RUnlock()
	names := make([]string, 0, len(n.vars))
	for name := range n.vars {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Env is a set of namespaces. It is safe for concurrent use.
type Env struct {
	nss map[string]*Namespace
	mu  sync.RWMutex
}

// New creates an environment containing the core and default namespaces.
func New() *Env {
	e := &Env{nss: make(map[string]*Namespace)}
	e.Ensure(CoreNS)
	e.Ensure(DefaultNS)
	return e
}

// Ensure returns namespace name, creating it if needed.
func (e *Env) Ensure(name string) *Namespace {
	e.mu.Lock()
	defer e.mu.Unlock()
	ns, ok := e.nss[name]
	if !ok {
		ns = newNamespace(name)
		e.nss[name] = ns
	}
	return ns
}

// Find returns namespace name if it exists.
func (e *Env) Find(name string) (*Namespace, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	ns, ok := e.nss[name]
	return ns, ok
}

// Namespaces lists namespace names, sorted.
func (e *Env) Namespaces() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	names := make([]string, 0, len(e.nss))
	for name := range e.nss {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Intern declares ns/name with the given kind, creating the namespace and
// var as needed. Re-interning updates kind and arity and keeps the value.
func (e *Env) Intern(ns, name string, kind VarKind, arity int) *Var {
	n := e.Ensure(ns)
	n.mu.Lock()
	v, ok := n.vars[name]
	if !ok {
		v = &Var{NS: ns, Name: name}
		n.vars[name] = v
	}
	n.mu.Unlock()
	v.declare(kind, arity)
	return v
}

// Var returns the var for a qualified name.
func (e *Env) Var(qualified string) (*Var, bool) {
	nsName, name, ok := strings.Cut(qualified, "/")
	if !ok {
		return nil, false
	}
	ns, ok := e.Find(nsName)
	if !ok {
		return nil, false
	}
	return ns.Lookup(name)
}

// Resolve looks sym up as seen from namespace current. Qualified symbols
// go through current's aliases first, then namespace names. Unqualified
// symbols are tried in current, then refers, then the core namespace.
func (e *Env) Resolve(current, sym string) (*Var, bool) {
	cur, ok := e.Find(current)
	if !ok {
		return nil, false
	}

	if nsPart, name, qualified := strings.Cut(sym, "/"); qualified && nsPart != "" && name != "" {
		target := nsPart
		if aliased, ok := cur.Alias(nsPart); ok {
			target = aliased
		}
		ns, ok := e.Find(target)
		if !ok {
			return nil, false
		}
		return ns.Lookup(name)
	}

	if v, ok := cur.Lookup(sym); ok {
		return v, true
	}
	cur.mu.RLock()
	from, referred := cur.refers[sym]
	cur.mu.RUnlock()
	if referred {
		if ns, ok := e.Find(from); ok {
			if v, ok := ns.Lookup(sym); ok {
				return v, true
			}
		}
	}
	if core, ok := e.Find(CoreNS); ok && current != CoreNS {
		return core.Lookup(sym)
	}
	return nil, false
}

// AddAlias makes alias refer to namespace target inside ns.
func (e *Env) AddAlias(ns, alias, target string) error {
	n := e.Ensure(ns)
	n.mu.Lock()
	defer n.mu.Unlock()
	if existing, ok := n.aliases[alias]; ok && existing != target {
		return fmt.Errorf("alias %s already refers to %s in namespace %s", alias, existing, ns)
	}
	n.aliases[alias] = target
	return nil
}

// AddRefer makes from/name resolvable as name inside ns.
func (e *Env) AddRefer(ns, name, from string) {
	n := e.Ensure(ns)
	n.mu.Lock()
	n.refers[name] = from
	n.mu.Unlock()
}

// Snapshot records the declarations of an environment: namespaces, the
// kind and arity of every var, aliases and refers. Values are not part of
// it.
type Snapshot struct {
	nss map[string]nsState
}

type nsState struct {
	ns      *Namespace
	vars    map[string]varState
	aliases map[string]string
	refers  map[string]string
}

type varState struct {
	v     *Var
	kind  VarKind
	arity int
}

// Snapshot captures the current declarations for a later Restore.
func (e *Env) Snapshot() *Snapshot {
	e.mu.RLock()
	defer e.mu.RUnlock()
	s := &Snapshot{nss: make(map[string]nsState, len(e.nss))}
	for name, ns := range e.nss {
		ns.mu.RLock()
		st := nsState{
			ns:      ns,
			vars:    make(map[string]varState, len(ns.vars)),
			aliases: maps.Clone(ns.aliases),
			refers:  maps.Clone(ns.refers),
		}
		for vn, v := range ns.vars {
			st.vars[vn] = varState{v: v, kind: v.Kind(), arity: v.Arity()}
		}
		ns.mu.RUnlock()
		s.nss[name] = st
	}
	return s
}

// Restore undoes every declaration made since s was taken. Namespaces and
// vars created after it are dropped; vars that existed keep their identity.
func (e *Env) Restore(s *Snapshot) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.nss = make(map[string]*Namespace, len(s.nss))
	for name, st := range s.nss {
		ns := st.ns
		ns.mu.Lock()
		ns.vars = make(map[string]*Var, len(st.vars))
		for vn, vs := range st.vars {
			vs.v.declare(vs.kind, vs.arity)
			ns.vars[vn] = vs.v
		}
		ns.aliases = maps.Clone(st.aliases)
		ns.refers = maps.Clone(st.refers)
		ns.mu.Unlock()
		e.nss[name] = ns
	}
}
