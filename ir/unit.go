package ir

import "slices"

// EffectKind is the kind of environment mutation a unit performs.
type EffectKind uint8

const (
	// EffectSwitchNS makes NS the current namespace.
	EffectSwitchNS EffectKind = iota + 1
	// EffectRequire ensures namespace NS exists.
	EffectRequire
	// EffectAlias makes Name an alias of namespace Target inside NS.
	EffectAlias
	// EffectRefer makes var Target/Name resolvable unqualified inside NS.
	EffectRefer
)

func (k EffectKind) String() string {
	switch k {
	case EffectSwitchNS:
		return "switch-ns"
	case EffectRequire:
		return "require"
	case EffectAlias:
		return "alias"
	case EffectRefer:
		return "refer"
	default:
		return "unknown"
	}
}

// Effect is one environment mutation, replayed on the compiling side and
// applied again on the executing side after the unit has loaded.
type Effect struct {
	NS     string     `cbor:"ns" yaml:"ns"`
	Name   string     `cbor:"name,omitempty" yaml:"name,omitempty"`
	Target string     `cbor:"target,omitempty" yaml:"target,omitempty"`
	Kind   EffectKind `cbor:"kind" yaml:"kind"`
}

// Unit is one analysed piece of program logic submitted for code
// generation. A Unit is not modified after construction.
type Unit struct {
	// Name is the module identity the unit will be loaded under. It does
	// not contribute to the hash.
	Name string
	// Namespace is the namespace current when the unit was analysed.
	Namespace string
	Forms     []Node
	Effects   []Effect
	Target    TargetSpec
}

// EntrySymbol is the exported function that initialises the unit.
func (u *Unit) EntrySymbol() string {
	return EntryPrefix + u.Hash()
}

// EntryPrefix starts every entry symbol.
const EntryPrefix = "__jitlink_init_"

// Defines reports whether the unit itself defines function var qualified.
func (u *Unit) Defines(qualified string) bool {
	found := false
	for _, f := range u.Forms {
		Walk(f, func(n Node) {
			if d, ok := n.(Defn); ok && Qualify(d.NS, d.Name) == qualified {
				found = true
			}
		})
	}
	return found
}

// Deps lists every symbol the unit references from outside itself, sorted.
// Function vars the unit defines are excluded.
func (u *Unit) Deps() []string {
	defined := map[string]bool{}
	refs := map[string]bool{}
	for _, f := range u.Forms {
		Walk(f, func(n Node) {
			switch n := n.(type) {
			case Defn:
				defined[Qualify(n.NS, n.Name)] = true
			case DefGlobal:
				defined[n.Name] = true
			case Invoke:
				refs[Qualify(n.NS, n.Name)] = true
			case VarRef:
				refs[Qualify(n.NS, n.Name)] = true
			case Def:
				refs[Qualify(n.NS, n.Name)] = true
			case ForeignCall:
				refs[n.Name] = true
			case ForeignGet:
				refs[n.Name] = true
			case ForeignSet:
				refs[n.Name] = true
			}
		})
	}
	deps := make([]string, 0, len(refs))
	for name := range refs {
		if !defined[name] {
			deps = append(deps, name)
		}
	}
	slices.Sort(deps)
	return deps
}
