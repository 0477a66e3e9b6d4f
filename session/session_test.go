package session

import (
	"context"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/wippyai/jitlink/compiler"
	"github.com/wippyai/jitlink/errors"
	"github.com/wippyai/jitlink/ir"
)

func newSession(t *testing.T) *Session {
	t.Helper()
	ctx := context.Background()
	preamble := compiler.NewPreamble(compiler.DefaultPreamble)
	v := compiler.NewInterpreterValidator(ctx)
	t.Cleanup(func() { v.Close(ctx) })
	comp := compiler.New(nil)
	comp.AddBackend(compiler.NewLocal(preamble, v, 0))
	s, err := New(comp, preamble, ir.Host())
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func TestUnit(t *testing.T) {
	s := newSession(t)
	u, err := s.Unit("m", "(ns app.a) (def x (inc 1))")
	if err != nil {
		t.Fatalf("Unit: %v", err)
	}
	want := &ir.Unit{
		Name:      "m",
		Namespace: "user",
		Target:    ir.Host(),
		Effects:   []ir.Effect{{Kind: ir.EffectSwitchNS, NS: "app.a"}},
		Forms: []ir.Node{ir.Def{
			NS:   "app.a",
			Name: "x",
			Init: ir.Invoke{NS: "core", Name: "inc", Args: []ir.Node{ir.Const{Value: 1}}},
		}},
	}
	if diff := cmp.Diff(want, u); diff != "" {
		t.Errorf("unit mismatch (-want +got):\n%s", diff)
	}
	if s.Namespace() != "app.a" {
		t.Errorf("namespace = %s", s.Namespace())
	}
}

func TestUnit_AliasAcrossRequests(t *testing.T) {
	s := newSession(t)
	for _, src := range []string{"(in-ns 'A) (def x 1)", "(in-ns 'user)", "(alias 'a 'A)"} {
		if _, err := s.Unit("m", src); err != nil {
			t.Fatalf("%s: %v", src, err)
		}
	}
	u, err := s.Unit("m", "a/x")
	if err != nil {
		t.Fatalf("Unit: %v", err)
	}
	if diff := cmp.Diff([]ir.Node{ir.VarRef{NS: "A", Name: "x"}}, u.Forms); diff != "" {
		t.Errorf("forms mismatch (-want +got):\n%s", diff)
	}
	// the compile side holds the declaration, never the value
	v, ok := s.Env().Var("A/x")
	if !ok {
		t.Fatal("A/x not declared")
	}
	if _, bound := v.Get(); bound {
		t.Error("compile-side var must stay unbound")
	}
}

func TestCompile(t *testing.T) {
	ctx := context.Background()
	s := newSession(t)
	c, err := s.Compile(ctx, "m1", "(defn sq [x] (* x x)) (sq 4)")
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	if c.Module != "m1" || c.Artifact.EntrySymbol == "" {
		t.Errorf("compiled = %+v", c)
	}
	if arity, ok := c.Artifact.Manifest.Function("user/sq"); !ok || arity != 1 {
		t.Errorf("manifest function sq = %d, %v", arity, ok)
	}

	if _, err := s.Compile(ctx, "m2", "(sq"); !errors.IsCompile(err, errors.KindSyntax) {
		t.Errorf("err = %v, want syntax error", err)
	}
	if _, err := s.Compile(ctx, "m3", "(undefined 1)"); !errors.IsCompile(err, errors.KindSemantic) {
		t.Errorf("err = %v, want semantic error", err)
	}
}

func TestRequire(t *testing.T) {
	ctx := context.Background()
	s := newSession(t)
	src := "(ns lib) (defn f [] 1) (def y 2) (f)"

	first, skipped, err := s.Require(ctx, "lib", src)
	if err != nil {
		t.Fatalf("Require: %v", err)
	}
	if len(first) != 4 || len(skipped) != 0 {
		t.Fatalf("first require: %d modules, skipped %v", len(first), skipped)
	}
	if first[0].Module != "lib$1.1" || first[3].Module != "lib$1.4" {
		t.Errorf("modules = %s .. %s", first[0].Module, first[3].Module)
	}
	if got := first[0].Artifact.Manifest.Effects; len(got) != 1 || got[0].Kind != ir.EffectSwitchNS {
		t.Errorf("ns effects = %+v", got)
	}

	second, skipped, err := s.Require(ctx, "lib", src)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]string{"lib/f", "lib/y"}, skipped); diff != "" {
		t.Errorf("skipped mismatch (-want +got):\n%s", diff)
	}
	if len(second) != 2 || second[1].Module != "lib$2.4" {
		t.Errorf("second require modules = %d", len(second))
	}

	third, skipped, err := s.Require(ctx, "lib", "(ns lib) (defn f [] 5)")
	if err != nil {
		t.Fatal(err)
	}
	if len(third) != 2 || len(skipped) != 0 {
		t.Errorf("changed body should recompile: %d modules, skipped %v", len(third), skipped)
	}

	if _, _, err := s.Require(ctx, "", src); !errors.IsCompile(err, errors.KindInvalidInput) {
		t.Errorf("empty prefix: err = %v", err)
	}
}

func TestFailedRequestLeavesEnvironment(t *testing.T) {
	ctx := context.Background()
	tests := []struct {
		name string
		run  func(s *Session) error
	}{
		{
			name: "compile",
			run: func(s *Session) error {
				_, err := s.Compile(ctx, "m", "(in-ns 'other) (def x 1) (no-such-fn)")
				return err
			},
		},
		{
			name: "unit",
			run: func(s *Session) error {
				_, err := s.Unit("m", "(in-ns 'other) (def x 1) (no-such-fn)")
				return err
			},
		},
		{
			name: "require",
			run: func(s *Session) error {
				_, _, err := s.Require(ctx, "r", "(in-ns 'other) (def x 1) (no-such-fn)")
				return err
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newSession(t)
			if err := tt.run(s); !errors.IsCompile(err, errors.KindSemantic) {
				t.Fatalf("err = %v, want semantic error", err)
			}
			if s.Namespace() != "user" {
				t.Errorf("namespace = %s, want user", s.Namespace())
			}
			if _, ok := s.Env().Find("other"); ok {
				t.Error("namespace other should not exist")
			}
			if _, err := s.Unit("m", "(in-ns 'other) x"); !errors.IsCompile(err, errors.KindSemantic) {
				t.Errorf("x resolved after a failed request: %v", err)
			}
		})
	}
}
