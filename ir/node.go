package ir

// Node is an expression in the canonical tree. The set is closed.
type Node interface {
	node()
}

// Const is an integer literal. Booleans are 1 and 0, nil is 0.
type Const struct {
	Value int64
}

// Local reads a parameter or let binding.
type Local struct {
	Name string
}

// VarRef dereferences a value var.
type VarRef struct {
	NS   string
	Name string
}

// Def binds a value var to the result of Init.
type Def struct {
	Init Node
	NS   string
	Name string
}

// Defn defines a function var.
type Defn struct {
	Body   Node
	NS     string
	Name   string
	Params []string
}

// Invoke calls a function var.
type Invoke struct {
	NS   string
	Name string
	Args []Node
}

// ForeignCall calls an externally linked function.
type ForeignCall struct {
	Name string
	Args []Node
}

// ForeignGet reads an externally linked data symbol.
type ForeignGet struct {
	Name string
}

// ForeignSet writes an externally linked data symbol.
type ForeignSet struct {
	Value Node
	Name  string
}

// DefGlobal defines an externally linked data symbol owned by the unit.
type DefGlobal struct {
	Name string
	Init int64
}

// Prim applies a primitive operator.
type Prim struct {
	Op   string
	Args []Node
}

// If evaluates Then when Cond is non-zero, Else otherwise.
type If struct {
	Cond Node
	Then Node
	Else Node
}

// Binding is one let binding.
type Binding struct {
	Value Node
	Name  string
}

// Let introduces sequential bindings visible in Body.
type Let struct {
	Body     Node
	Bindings []Binding
}

// Do evaluates forms in order and yields the last.
type Do struct {
	Forms []Node
}

func (Const) node()       {}
func (Local) node()       {}
func (VarRef) node()      {}
func (Def) node()         {}
func (Defn) node()        {}
func (Invoke) node()      {}
func (ForeignCall) node() {}
func (ForeignGet) node()  {}
func (ForeignSet) node()  {}
func (DefGlobal) node()   {}
func (Prim) node()        {}
func (If) node()          {}
func (Let) node()         {}
func (Do) node()          {}

// Primitive operators and their accepted arities. -1 means variadic.
var Prims = map[string][2]int{
	"+":    {0, -1},
	"*":    {0, -1},
	"-":    {1, -1},
	"quot": {2, 2},
	"rem":  {2, 2},
	"<":    {2, 2},
	">":    {2, 2},
	"<=":   {2, 2},
	">=":   {2, 2},
	"=":    {2, 2},
	"not=": {2, 2},
	"not":  {1, 1},
}

// Qualify joins a namespace and a name.
func Qualify(ns, name string) string {
	return ns + "/" + name
}

// Walk calls fn for n and every node below it, depth first.
func Walk(n Node, fn func(Node)) {
	if n == nil {
		return
	}
	fn(n)
	switch n := n.(type) {
	case Def:
		Walk(n.Init, fn)
	case Defn:
		Walk(n.Body, fn)
	case Invoke:
		for _, a := range n.Args {
			Walk(a, fn)
		}
	case ForeignCall:
		for _, a := range n.Args {
			Walk(a, fn)
		}
	case ForeignSet:
		Walk(n.Value, fn)
	case Prim:
		for _, a := range n.Args {
			Walk(a, fn)
		}
	case If:
		Walk(n.Cond, fn)
		Walk(n.Then, fn)
		Walk(n.Else, fn)
	case Let:
		for _, b := range n.Bindings {
			Walk(b.Value, fn)
		}
		Walk(n.Body, fn)
	case Do:
		for _, f := range n.Forms {
			Walk(f, fn)
		}
	}
}
