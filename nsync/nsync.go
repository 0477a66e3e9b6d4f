// Package nsync keeps the namespace environment of a compiling session in
// step with the executing side.
//
// Only a closed set of forms is replayed: ns, in-ns, alias, require and
// refer. They are recognised structurally, applied to the session frame and
// returned as ir.Effect values so the executor performs the same mutations
// after it loads the unit. Every other form is left to the analyzer and is
// never executed on the compiling side.
package nsync

import (
	"github.com/wippyai/jitlink/env"
	"github.com/wippyai/jitlink/errors"
	"github.com/wippyai/jitlink/ir"
	"github.com/wippyai/jitlink/lang"
)

// Synchronizer replays environment forms into one frame.
type Synchronizer struct {
	frame *env.Frame
}

// New creates a synchronizer over frame.
func New(frame *env.Frame) *Synchronizer {
	return &Synchronizer{frame: frame}
}

// Frame returns the session frame.
func (s *Synchronizer) Frame() *env.Frame { return s.frame }

// Namespace returns the current namespace of the session.
func (s *Synchronizer) Namespace() string { return s.frame.Namespace() }

// Recognizes reports whether f is an environment form.
func Recognizes(f lang.Form) bool {
	head, ok := lang.Head(f)
	return ok && head.NS == "" && lang.EnvForms[head.Name]
}

// Replay applies an environment form to the session and returns the
// effects it performed.
func (s *Synchronizer) Replay(f lang.Form) ([]ir.Effect, error) {
	effects, err := s.Effects(f)
	if err != nil {
		return nil, err
	}
	if err := env.Apply(s.frame, effects); err != nil {
		return nil, errors.New(errors.PhaseSync, errors.KindSemantic).
			Detail("line %d", f.Line()).
			Cause(err).
			Build()
	}
	return effects, nil
}

// Effects computes the effects of an environment form without applying
// them.
func (s *Synchronizer) Effects(f lang.Form) ([]ir.Effect, error) {
	if !Recognizes(f) {
		return nil, errors.InvalidInput(errors.PhaseSync, "line %d: %s is not an environment form", f.Line(), lang.Format(f))
	}
	l := f.(lang.List)
	head := l.Items[0].(lang.Symbol).Name
	args := l.Items[1:]
	r := &replay{sync: s, current: s.frame.Namespace(), line: f.Line()}

	switch head {
	case "ns":
		return r.ns(args)
	case "in-ns":
		if len(args) != 1 {
			return nil, r.errorf("in-ns expects a namespace")
		}
		name, err := r.name(args[0])
		if err != nil {
			return nil, err
		}
		return []ir.Effect{{Kind: ir.EffectSwitchNS, NS: name}}, nil
	case "alias":
		if len(args) != 2 {
			return nil, r.errorf("alias expects an alias and a namespace")
		}
		alias, err := r.name(args[0])
		if err != nil {
			return nil, err
		}
		target, err := r.name(args[1])
		if err != nil {
			return nil, err
		}
		return []ir.Effect{{Kind: ir.EffectAlias, NS: r.current, Name: alias, Target: target}}, nil
	case "require":
		if len(args) == 0 {
			return nil, r.errorf("require expects at least one spec")
		}
		for _, a := range args {
			if err := r.libspec(lang.Unquote(a)); err != nil {
				return nil, err
			}
		}
		return r.effects, nil
	case "refer":
		if len(args) == 0 {
			return nil, r.errorf("refer expects a namespace")
		}
		target, err := r.name(args[0])
		if err != nil {
			return nil, err
		}
		if err := r.refer(target, args[1:]); err != nil {
			return nil, err
		}
		return r.effects, nil
	}
	return nil, r.errorf("unhandled environment form %s", head)
}

type replay struct {
	sync    *Synchronizer
	current string
	effects []ir.Effect
	line    int
}

func (r *replay) errorf(format string, args ...any) error {
	return errors.New(errors.PhaseSync, errors.KindSemantic).
		Detail("line %d: "+format, append([]any{r.line}, args...)...).
		Build()
}

// name reads a possibly quoted unqualified symbol.
func (r *replay) name(f lang.Form) (string, error) {
	sym, ok := lang.Unquote(f).(lang.Symbol)
	if !ok || sym.NS != "" {
		return "", r.errorf("expected a name, got %s", lang.Format(f))
	}
	return sym.Name, nil
}

func (r *replay) ns(args []lang.Form) ([]ir.Effect, error) {
	if len(args) == 0 {
		return nil, r.errorf("ns expects a name")
	}
	name, err := r.name(args[0])
	if err != nil {
		return nil, err
	}
	r.effects = append(r.effects, ir.Effect{Kind: ir.EffectSwitchNS, NS: name})
	r.current = name

	for _, clause := range args[1:] {
		l, ok := clause.(lang.List)
		if !ok || len(l.Items) == 0 {
			return nil, r.errorf("bad ns clause %s", lang.Format(clause))
		}
		kw, ok := l.Items[0].(lang.Keyword)
		if !ok {
			return nil, r.errorf("bad ns clause %s", lang.Format(clause))
		}
		switch kw.Name {
		case "require":
			for _, spec := range l.Items[1:] {
				if err := r.libspec(spec); err != nil {
					return nil, err
				}
			}
		case "refer":
			if len(l.Items) < 2 {
				return nil, r.errorf("(:refer) expects a namespace")
			}
			target, err := r.name(l.Items[1])
			if err != nil {
				return nil, err
			}
			if err := r.refer(target, l.Items[2:]); err != nil {
				return nil, err
			}
		default:
			// other clauses carry no environment change
		}
	}
	return r.effects, nil
}

// libspec handles a.b, [a.b], [a.b :as b] and [a.b :refer [x y]].
func (r *replay) libspec(f lang.Form) error {
	switch f := f.(type) {
	case lang.Symbol:
		if f.NS != "" {
			return r.errorf("bad library name %s", f)
		}
		r.effects = append(r.effects, ir.Effect{Kind: ir.EffectRequire, NS: f.Name})
		return nil
	case lang.Vector:
		if len(f.Items) == 0 {
			return r.errorf("empty library spec")
		}
		lib, err := r.name(f.Items[0])
		if err != nil {
			return err
		}
		r.effects = append(r.effects, ir.Effect{Kind: ir.EffectRequire, NS: lib})
		opts := f.Items[1:]
		if len(opts)%2 != 0 {
			return r.errorf("library spec %s has an option without a value", lang.Format(f))
		}
		for i := 0; i < len(opts); i += 2 {
			kw, ok := opts[i].(lang.Keyword)
			if !ok {
				return r.errorf("expected an option keyword, got %s", lang.Format(opts[i]))
			}
			switch kw.Name {
			case "as":
				alias, err := r.name(opts[i+1])
				if err != nil {
					return err
				}
				r.effects = append(r.effects, ir.Effect{Kind: ir.EffectAlias, NS: r.current, Name: alias, Target: lib})
			case "refer":
				if err := r.referNames(lib, opts[i+1]); err != nil {
					return err
				}
			default:
				return r.errorf("unsupported library option :%s", kw.Name)
			}
		}
		return nil
	}
	return r.errorf("bad library spec %s", lang.Format(f))
}

// refer handles the options after the namespace of a refer: nothing,
// :only [names] or :exclude [names].
func (r *replay) refer(target string, opts []lang.Form) error {
	if len(opts) == 0 {
		return r.referAll(target, nil)
	}
	if len(opts) != 2 {
		return r.errorf("refer expects :only or :exclude with a vector")
	}
	kw, ok := opts[0].(lang.Keyword)
	if !ok {
		return r.errorf("expected :only or :exclude")
	}
	switch kw.Name {
	case "only":
		return r.referNames(target, opts[1])
	case "exclude":
		names, err := r.names(opts[1])
		if err != nil {
			return err
		}
		skip := make(map[string]bool, len(names))
		for _, n := range names {
			skip[n] = true
		}
		return r.referAll(target, skip)
	}
	return r.errorf("unsupported refer option :%s", kw.Name)
}

func (r *replay) referAll(target string, skip map[string]bool) error {
	ns, ok := r.sync.frame.Env().Find(target)
	if !ok {
		return r.errorf("namespace %s is not loaded", target)
	}
	for _, name := range ns.Vars() {
		if !skip[name] {
			r.effects = append(r.effects, ir.Effect{Kind: ir.EffectRefer, NS: r.current, Name: name, Target: target})
		}
	}
	return nil
}

func (r *replay) referNames(target string, f lang.Form) error {
	if kw, ok := lang.Unquote(f).(lang.Keyword); ok && kw.Name == "all" {
		return r.referAll(target, nil)
	}
	names, err := r.names(f)
	if err != nil {
		return err
	}
	for _, n := range names {
		r.effects = append(r.effects, ir.Effect{Kind: ir.EffectRefer, NS: r.current, Name: n, Target: target})
	}
	return nil
}

func (r *replay) names(f lang.Form) ([]string, error) {
	v, ok := lang.Unquote(f).(lang.Vector)
	if !ok {
		return nil, r.errorf("expected a vector of names, got %s", lang.Format(f))
	}
	out := make([]string, 0, len(v.Items))
	for _, item := range v.Items {
		n, err := r.name(item)
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, nil
}
