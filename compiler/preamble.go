package compiler

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/cespare/xxhash/v2"

	"github.com/wippyai/jitlink/env"
	"github.com/wippyai/jitlink/ir"
	"github.com/wippyai/jitlink/lang"
)

// DefaultPreamble is the runtime preamble linked into artifacts that call
// its functions.
const DefaultPreamble = `
(defn inc [x] (+ x 1))
(defn dec [x] (- x 1))
(defn zero? [x] (= x 0))
(defn pos? [x] (> x 0))
(defn neg? [x] (< x 0))
(defn even? [x] (= (rem x 2) 0))
(defn odd? [x] (not (even? x)))
(defn square [x] (* x x))
(defn fact [n] (if (<= n 1) 1 (* n (fact (dec n)))))
(defn fib [n] (if (< n 2) n (+ (fib (- n 1)) (fib (- n 2)))))
`

// Preamble is shared runtime code, parsed and analyzed once no matter how
// many units link against it.
type Preamble struct {
	fns    map[string]ir.Defn
	err    error
	source string
	digest string
	order  []string
	once   sync.Once
	parses atomic.Int64
}

// NewPreamble creates a preamble from source. Nothing is parsed until Load.
func NewPreamble(source string) *Preamble {
	return &Preamble{source: source}
}

// Load parses and analyzes the source on first call and returns the
// outcome of that first attempt on every call.
func (p *Preamble) Load() error {
	p.once.Do(func() {
		p.parses.Add(1)
		p.digest = fmt.Sprintf("%016x", xxhash.Sum64String(p.source))
		p.fns = make(map[string]ir.Defn)

		forms, err := lang.ReadAll(p.source)
		if err != nil {
			p.err = fmt.Errorf("preamble: %w", err)
			return
		}
		a := &lang.Analyzer{Env: env.New(), NS: env.CoreNS}
		for _, f := range forms {
			n, err := a.Analyze(f)
			if err != nil {
				p.err = fmt.Errorf("preamble: %w", err)
				return
			}
			defn, ok := n.(ir.Defn)
			if !ok {
				p.err = fmt.Errorf("preamble: line %d: only defn forms are allowed", f.Line())
				return
			}
			name := ir.Qualify(defn.NS, defn.Name)
			if _, dup := p.fns[name]; !dup {
				p.order = append(p.order, name)
			}
			p.fns[name] = defn
		}
	})
	return p.err
}

// Parses reports how many times the source has been parsed.
func (p *Preamble) Parses() int64 {
	return p.parses.Load()
}

// Digest identifies the preamble source.
func (p *Preamble) Digest() string {
	_ = p.Load()
	return p.digest
}

// Lookup returns the definition of a qualified preamble function.
func (p *Preamble) Lookup(qualified string) (ir.Defn, bool) {
	if p.Load() != nil {
		return ir.Defn{}, false
	}
	d, ok := p.fns[qualified]
	return d, ok
}

// Names lists preamble functions in definition order.
func (p *Preamble) Names() []string {
	if p.Load() != nil {
		return nil
	}
	return append([]string(nil), p.order...)
}

// Declare interns every preamble function into e so the analyzer resolves
// calls to them.
func (p *Preamble) Declare(e *env.Env) error {
	if err := p.Load(); err != nil {
		return err
	}
	for _, name := range p.order {
		d := p.fns[name]
		e.Intern(d.NS, d.Name, env.FnVar, len(d.Params))
	}
	return nil
}
