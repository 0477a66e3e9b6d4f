package ir

import (
	"fmt"

	"github.com/cespare/xxhash/v2"
	"github.com/fxamacker/cbor/v2"
)

// hashVersion changes whenever the normalized encoding changes, so hashes
// from an older encoding never alias new ones.
const hashVersion = "jitlink.ir/1"

var encMode cbor.EncMode

func init() {
	var err error
	encMode, err = cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("ir: canonical cbor: %v", err))
	}
}

// Hash returns the content hash of the unit: 16 hex digits of xxhash64
// over the canonical CBOR encoding of the normalized tree and effects.
// The unit name and namespace are not included; forms carry fully
// qualified names already.
func (u *Unit) Hash() string {
	forms := make([]any, len(u.Forms))
	for i, f := range u.Forms {
		forms[i] = normalize(f, nil)
	}
	effects := make([]any, len(u.Effects))
	for i, e := range u.Effects {
		effects[i] = []any{uint8(e.Kind), e.NS, e.Name, e.Target}
	}
	return sum([]any{hashVersion, forms, effects})
}

// NodeHash hashes a single node the same way Unit.Hash hashes a form.
func NodeHash(n Node) string {
	return sum([]any{hashVersion, normalize(n, nil)})
}

func sum(v any) string {
	data, err := encMode.Marshal(v)
	if err != nil {
		// normalize only produces strings, integers and slices
		panic(fmt.Sprintf("ir: encode normalized tree: %v", err))
	}
	return fmt.Sprintf("%016x", xxhash.Sum64(data))
}

// scope maps local names to binding positions, innermost last.
type scope []string

func (s scope) index(name string) (int, bool) {
	for i := len(s) - 1; i >= 0; i-- {
		if s[i] == name {
			return len(s) - 1 - i, true
		}
	}
	return 0, false
}

// normalize turns a node into tagged arrays with locals replaced by their
// distance from the innermost binding.
func normalize(n Node, s scope) any {
	switch n := n.(type) {
	case nil:
		return []any{"nil"}
	case Const:
		return []any{"const", n.Value}
	case Local:
		if idx, ok := s.index(n.Name); ok {
			return []any{"local", idx}
		}
		return []any{"free", n.Name}
	case VarRef:
		return []any{"var", n.NS, n.Name}
	case Def:
		return []any{"def", n.NS, n.Name, normalize(n.Init, s)}
	case Defn:
		inner := append(scope(nil), n.Params...)
		return []any{"defn", n.NS, n.Name, len(n.Params), normalize(n.Body, inner)}
	case Invoke:
		return []any{"invoke", n.NS, n.Name, normalizeAll(n.Args, s)}
	case ForeignCall:
		return []any{"fcall", n.Name, normalizeAll(n.Args, s)}
	case ForeignGet:
		return []any{"fget", n.Name}
	case ForeignSet:
		return []any{"fset", n.Name, normalize(n.Value, s)}
	case DefGlobal:
		return []any{"defglobal", n.Name, n.Init}
	case Prim:
		return []any{"prim", n.Op, normalizeAll(n.Args, s)}
	case If:
		return []any{"if", normalize(n.Cond, s), normalize(n.Then, s), normalize(n.Else, s)}
	case Let:
		bindings := make([]any, len(n.Bindings))
		inner := append(scope(nil), s...)
		for i, b := range n.Bindings {
			bindings[i] = normalize(b.Value, inner)
			inner = append(inner, b.Name)
		}
		return []any{"let", bindings, normalize(n.Body, inner)}
	case Do:
		return []any{"do", normalizeAll(n.Forms, s)}
	default:
		panic(fmt.Sprintf("ir: unknown node %T", n))
	}
}

func normalizeAll(nodes []Node, s scope) []any {
	out := make([]any, len(nodes))
	for i, n := range nodes {
		out[i] = normalize(n, s)
	}
	return out
}
