package lang

import (
	"fmt"

	"github.com/wippyai/jitlink/env"
	"github.com/wippyai/jitlink/errors"
	"github.com/wippyai/jitlink/ir"
)

// NativeNS qualifies foreign symbols in source.
const NativeNS = "native"

// EnvForms are handled by the synchronizer and rejected by the analyzer.
var EnvForms = map[string]bool{
	"ns":      true,
	"in-ns":   true,
	"require": true,
	"alias":   true,
	"refer":   true,
}

// Analyzer turns forms into ir nodes, declaring defined vars in Env.
type Analyzer struct {
	Env *env.Env
	// NS is the namespace new vars are defined in and names are resolved from.
	NS string
}

type scope struct {
	names []string
	inFn  bool
}

func (s *scope) has(name string) bool {
	for i := len(s.names) - 1; i >= 0; i-- {
		if s.names[i] == name {
			return true
		}
	}
	return false
}

func (s *scope) push(names ...string) *scope {
	return &scope{names: append(append([]string(nil), s.names...), names...), inFn: s.inFn}
}

func semantic(f Form, msg string, args ...any) error {
	return errors.Semantic("line %d: %s", f.Line(), fmt.Sprintf(msg, args...))
}

// Analyze analyzes one top-level form.
func (a *Analyzer) Analyze(f Form) (ir.Node, error) {
	return a.analyze(f, &scope{}, true)
}

func (a *Analyzer) analyze(f Form, s *scope, top bool) (ir.Node, error) {
	switch f := f.(type) {
	case Int:
		return ir.Const{Value: f.Value}, nil
	case Symbol:
		return a.symbol(f, s)
	case Keyword:
		return nil, semantic(f, "keyword :%s is not a value", f.Name)
	case Vector:
		return nil, semantic(f, "vectors are only allowed in binding positions")
	case List:
		return a.list(f, s, top)
	}
	return nil, errors.Semantic("unsupported form %T", f)
}

func (a *Analyzer) symbol(sym Symbol, s *scope) (ir.Node, error) {
	if sym.NS == "" {
		switch sym.Name {
		case "nil", "false":
			return ir.Const{Value: 0}, nil
		case "true":
			return ir.Const{Value: 1}, nil
		}
		if s.has(sym.Name) {
			return ir.Local{Name: sym.Name}, nil
		}
	}
	if sym.NS == NativeNS {
		return ir.ForeignGet{Name: sym.Name}, nil
	}
	v, ok := a.Env.Resolve(a.NS, sym.String())
	if !ok {
		return nil, semantic(sym, "unable to resolve symbol %s in namespace %s", sym, a.NS)
	}
	if v.Kind() == env.FnVar {
		return nil, semantic(sym, "function %s cannot be used as a value", v.Qualified())
	}
	return ir.VarRef{NS: v.NS, Name: v.Name}, nil
}

func (a *Analyzer) list(l List, s *scope, top bool) (ir.Node, error) {
	if len(l.Items) == 0 {
		return ir.Const{Value: 0}, nil
	}
	head, ok := l.Items[0].(Symbol)
	if !ok {
		return nil, semantic(l, "cannot call %s", Format(l.Items[0]))
	}
	args := l.Items[1:]

	if head.NS == "" && !s.has(head.Name) {
		switch head.Name {
		case "def":
			return a.def(l, s, top)
		case "defn":
			return a.defn(l, s, top)
		case "defglobal":
			return a.defglobal(l, top)
		case "let":
			return a.let(l, s)
		case "if":
			return a.ifForm(l, s)
		case "do":
			forms, err := a.analyzeAll(args, s, top)
			if err != nil {
				return nil, err
			}
			return ir.Do{Forms: forms}, nil
		case "set!":
			return a.set(l, s)
		case "quote":
			return nil, semantic(l, "quoted data is only allowed in environment forms")
		}
		if EnvForms[head.Name] {
			return nil, semantic(l, "(%s ...) must appear at the top level of a request", head.Name)
		}
		if bounds, ok := ir.Prims[head.Name]; ok {
			if len(args) < bounds[0] || (bounds[1] >= 0 && len(args) > bounds[1]) {
				return nil, semantic(l, "wrong number of arguments (%d) to %s", len(args), head.Name)
			}
			nodes, err := a.analyzeAll(args, s, false)
			if err != nil {
				return nil, err
			}
			return ir.Prim{Op: head.Name, Args: nodes}, nil
		}
	}

	nodes, err := a.analyzeAll(args, s, false)
	if err != nil {
		return nil, err
	}
	if head.NS == NativeNS {
		return ir.ForeignCall{Name: head.Name, Args: nodes}, nil
	}
	if head.NS == "" && s.has(head.Name) {
		return nil, semantic(l, "local %s is not a function", head.Name)
	}
	v, ok := a.Env.Resolve(a.NS, head.String())
	if !ok {
		return nil, semantic(head, "unable to resolve symbol %s in namespace %s", head, a.NS)
	}
	if v.Kind() != env.FnVar {
		return nil, semantic(head, "%s is not a function", v.Qualified())
	}
	if v.Arity() != len(nodes) {
		return nil, semantic(l, "wrong number of arguments (%d) to %s, expected %d", len(nodes), v.Qualified(), v.Arity())
	}
	return ir.Invoke{NS: v.NS, Name: v.Name, Args: nodes}, nil
}

func (a *Analyzer) analyzeAll(forms []Form, s *scope, top bool) ([]ir.Node, error) {
	nodes := make([]ir.Node, 0, len(forms))
	for _, f := range forms {
		n, err := a.analyze(f, s, top)
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, n)
	}
	return nodes, nil
}

func body(nodes []ir.Node) ir.Node {
	switch len(nodes) {
	case 0:
		return ir.Const{Value: 0}
	case 1:
		return nodes[0]
	default:
		return ir.Do{Forms: nodes}
	}
}

func defName(l List) (Symbol, error) {
	if len(l.Items) < 2 {
		return Symbol{}, semantic(l, "%s requires a name", Format(l.Items[0]))
	}
	name, ok := l.Items[1].(Symbol)
	if !ok || name.NS != "" {
		return Symbol{}, semantic(l, "%s name must be an unqualified symbol", Format(l.Items[0]))
	}
	return name, nil
}

func (a *Analyzer) def(l List, s *scope, top bool) (ir.Node, error) {
	if !top || s.inFn || len(s.names) > 0 {
		return nil, semantic(l, "def is only allowed at the top level")
	}
	name, err := defName(l)
	if err != nil {
		return nil, err
	}
	if len(l.Items) != 3 {
		return nil, semantic(l, "def expects a name and one value")
	}
	init, err := a.analyze(l.Items[2], s, false)
	if err != nil {
		return nil, err
	}
	a.Env.Intern(a.NS, name.Name, env.ValueVar, 0)
	return ir.Def{NS: a.NS, Name: name.Name, Init: init}, nil
}

func (a *Analyzer) defn(l List, s *scope, top bool) (ir.Node, error) {
	if !top || s.inFn || len(s.names) > 0 {
		return nil, semantic(l, "defn is only allowed at the top level")
	}
	name, err := defName(l)
	if err != nil {
		return nil, err
	}
	if len(l.Items) < 3 {
		return nil, semantic(l, "defn expects a parameter vector")
	}
	paramVec, ok := l.Items[2].(Vector)
	if !ok {
		return nil, semantic(l, "defn parameters must be a vector")
	}
	params := make([]string, 0, len(paramVec.Items))
	seen := map[string]bool{}
	for _, p := range paramVec.Items {
		sym, ok := p.(Symbol)
		if !ok || sym.NS != "" {
			return nil, semantic(paramVec, "parameter %s must be an unqualified symbol", Format(p))
		}
		if seen[sym.Name] {
			return nil, semantic(paramVec, "duplicate parameter %s", sym.Name)
		}
		seen[sym.Name] = true
		params = append(params, sym.Name)
	}

	// declared before the body so the function can call itself
	a.Env.Intern(a.NS, name.Name, env.FnVar, len(params))

	inner := &scope{names: params, inFn: true}
	nodes, err := a.analyzeAll(l.Items[3:], inner, false)
	if err != nil {
		return nil, err
	}
	return ir.Defn{NS: a.NS, Name: name.Name, Params: params, Body: body(nodes)}, nil
}

func (a *Analyzer) defglobal(l List, top bool) (ir.Node, error) {
	if !top {
		return nil, semantic(l, "defglobal is only allowed at the top level")
	}
	name, err := defName(l)
	if err != nil {
		return nil, err
	}
	var init int64
	switch len(l.Items) {
	case 2:
	case 3:
		lit, ok := l.Items[2].(Int)
		if !ok {
			return nil, semantic(l, "defglobal initial value must be an integer literal")
		}
		init = lit.Value
	default:
		return nil, semantic(l, "defglobal expects a name and an optional integer")
	}
	return ir.DefGlobal{Name: name.Name, Init: init}, nil
}

func (a *Analyzer) let(l List, s *scope) (ir.Node, error) {
	if len(l.Items) < 2 {
		return nil, semantic(l, "let requires a binding vector")
	}
	vec, ok := l.Items[1].(Vector)
	if !ok || len(vec.Items)%2 != 0 {
		return nil, semantic(l, "let bindings must be a vector of name/value pairs")
	}
	inner := s
	bindings := make([]ir.Binding, 0, len(vec.Items)/2)
	for i := 0; i < len(vec.Items); i += 2 {
		sym, ok := vec.Items[i].(Symbol)
		if !ok || sym.NS != "" {
			return nil, semantic(vec, "let binding name must be an unqualified symbol")
		}
		value, err := a.analyze(vec.Items[i+1], inner, false)
		if err != nil {
			return nil, err
		}
		bindings = append(bindings, ir.Binding{Name: sym.Name, Value: value})
		inner = inner.push(sym.Name)
	}
	nodes, err := a.analyzeAll(l.Items[2:], inner, false)
	if err != nil {
		return nil, err
	}
	return ir.Let{Bindings: bindings, Body: body(nodes)}, nil
}

func (a *Analyzer) ifForm(l List, s *scope) (ir.Node, error) {
	if len(l.Items) != 3 && len(l.Items) != 4 {
		return nil, semantic(l, "if expects a condition, a then branch and an optional else branch")
	}
	nodes, err := a.analyzeAll(l.Items[1:], s, false)
	if err != nil {
		return nil, err
	}
	n := ir.If{Cond: nodes[0], Then: nodes[1], Else: ir.Const{Value: 0}}
	if len(nodes) == 3 {
		n.Else = nodes[2]
	}
	return n, nil
}

func (a *Analyzer) set(l List, s *scope) (ir.Node, error) {
	if len(l.Items) != 3 {
		return nil, semantic(l, "set! expects a target and a value")
	}
	target, ok := l.Items[1].(Symbol)
	if !ok || target.NS != NativeNS {
		return nil, semantic(l, "set! target must be a native data symbol")
	}
	value, err := a.analyze(l.Items[2], s, false)
	if err != nil {
		return nil, err
	}
	return ir.ForeignSet{Name: target.Name, Value: value}, nil
}
