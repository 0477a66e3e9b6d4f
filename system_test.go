package jitlink

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/benbjohnson/clock"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/wippyai/jitlink/compiler"
	"github.com/wippyai/jitlink/config"
	"github.com/wippyai/jitlink/errors"
	"github.com/wippyai/jitlink/ir"
)

func newSystem(t *testing.T, dir string, edit func(*config.Config)) (*System, *bytes.Buffer) {
	t.Helper()
	cfg := config.Default()
	cfg.Cache.Dir = dir
	if edit != nil {
		edit(&cfg)
	}
	out := &bytes.Buffer{}
	sys, err := New(context.Background(), cfg, WithOutput(out), WithClock(clock.NewMock()))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { sys.Close(context.Background()) })
	return sys, out
}

func eval(t *testing.T, ev *Evaluator, src string) int64 {
	t.Helper()
	v, err := ev.Eval(context.Background(), src)
	if err != nil {
		t.Fatalf("Eval %s: %v", src, err)
	}
	return v
}

func TestSystem_OnePlusTwo(t *testing.T) {
	dir := t.TempDir()
	sys, _ := newSystem(t, dir, nil)
	if err := sys.Cache.ClearAll(); err != nil {
		t.Fatal(err)
	}
	ev, err := sys.Evaluator(ir.Host())
	if err != nil {
		t.Fatal(err)
	}
	if v := eval(t, ev, "(+ 1 2)"); v != 3 {
		t.Errorf("(+ 1 2) = %d, want 3", v)
	}
	if n := testutil.ToFloat64(sys.Compiler.Metrics().Compiles.WithLabelValues(ir.Host().Key(), compiler.LabelMiss)); n != 1 {
		t.Errorf("misses = %v, want 1", n)
	}
}

func TestSystem_CacheSurvivesRestart(t *testing.T) {
	dir := t.TempDir()
	first, _ := newSystem(t, dir, nil)
	ev, _ := first.Evaluator(ir.Host())
	eval(t, ev, "(fact 6)")
	first.Close(context.Background())

	second, _ := newSystem(t, dir, nil)
	ev, _ = second.Evaluator(ir.Host())
	if v := eval(t, ev, "(fact 6)"); v != 720 {
		t.Errorf("(fact 6) = %d", v)
	}
	hits := testutil.ToFloat64(second.Compiler.Metrics().Compiles.WithLabelValues(ir.Host().Key(), compiler.LabelHit))
	if hits != 1 {
		t.Errorf("hits after restart = %v, want 1", hits)
	}
}

func TestSystem_Libraries(t *testing.T) {
	sys, out := newSystem(t, t.TempDir(), func(c *config.Config) {
		c.Registry.Libraries = []string{"core", "math"}
	})
	for _, name := range []string{"print", "rt_context", "gcd"} {
		if _, ok := sys.Registry.Resolve(name); !ok {
			t.Errorf("%s not registered", name)
		}
	}
	ev, _ := sys.Evaluator(ir.Host())
	if v := eval(t, ev, "(native/print 42)"); v != 42 {
		t.Errorf("print = %d", v)
	}
	if out.String() != "42\n" {
		t.Errorf("output = %q", out.String())
	}

	cfg := config.Default()
	cfg.Cache.Dir = t.TempDir()
	cfg.Registry.Libraries = []string{"nope"}
	if _, err := New(context.Background(), cfg); err == nil {
		t.Error("unknown library should fail")
	}
}

func TestSystem_CrossTarget(t *testing.T) {
	sys, _ := newSystem(t, t.TempDir(), func(c *config.Config) {
		c.Targets = append(c.Targets, config.Target{Name: "rv", Arch: "riscv64", Sysroot: "/opt/rv"})
	})
	target, err := sys.Target("rv")
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := sys.Compiler.Backend(target); !ok {
		t.Fatal("no backend for the cross target")
	}
	if _, err := sys.Evaluator(target); !errors.IsLoad(err, errors.KindInvalidInput) {
		t.Errorf("cross evaluator err = %v", err)
	}
	if _, err := sys.Target("missing"); err == nil {
		t.Error("unknown target should fail")
	}
}

func TestSystem_Preamble(t *testing.T) {
	path := filepath.Join(t.TempDir(), "preamble.clj")
	if err := os.WriteFile(path, []byte("(defn triple [x] (* 3 x))"), 0o644); err != nil {
		t.Fatal(err)
	}
	sys, _ := newSystem(t, t.TempDir(), func(c *config.Config) { c.Compiler.Preamble = path })
	ev, _ := sys.Evaluator(ir.Host())
	if v := eval(t, ev, "(triple 5)"); v != 15 {
		t.Errorf("(triple 5) = %d", v)
	}
}

func TestEvaluator_Namespaces(t *testing.T) {
	sys, _ := newSystem(t, t.TempDir(), nil)
	ev, _ := sys.Evaluator(ir.Host())
	for _, src := range []string{"(in-ns 'A)", "(def x 1)", "(in-ns 'user)", "(alias 'a 'A)"} {
		eval(t, ev, src)
	}
	if v := eval(t, ev, "a/x"); v != 1 {
		t.Errorf("a/x = %d, want 1", v)
	}

	skipped, err := ev.Require(context.Background(), "(ns lib) (defn half [n] (quot n 2))")
	if err != nil || len(skipped) != 0 {
		t.Fatalf("Require = %v, %v", skipped, err)
	}
	if ev.Namespace() != "lib" {
		t.Errorf("namespace = %s", ev.Namespace())
	}
	if v := eval(t, ev, "(half 9)"); v != 4 {
		t.Errorf("(half 9) = %d", v)
	}
}

func TestSystem_Metrics(t *testing.T) {
	sys, _ := newSystem(t, t.TempDir(), nil)
	ev, _ := sys.Evaluator(ir.Host())
	eval(t, ev, "(inc 1)")
	families, err := sys.PrometheusRegistry().Gather()
	if err != nil {
		t.Fatal(err)
	}
	names := map[string]bool{}
	for _, f := range families {
		names[f.GetName()] = true
	}
	for _, want := range []string{"jitlink_compiler_compiles_total", "jitlink_engine_loads_total"} {
		if !names[want] {
			t.Errorf("metric %s not gathered", want)
		}
	}
}
