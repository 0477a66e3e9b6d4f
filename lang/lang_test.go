package lang

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/wippyai/jitlink/env"
	"github.com/wippyai/jitlink/errors"
	"github.com/wippyai/jitlink/ir"
)

func TestTokenize(t *testing.T) {
	tokens, err := Tokenize("(defn f [x]\n  ; comment\n  'x, -1)")
	if err != nil {
		t.Fatal(err)
	}
	want := []Token{
		{"(", LParen, 1}, {"defn", Atom, 1}, {"f", Atom, 1},
		{"[", LBracket, 1}, {"x", Atom, 1}, {"]", RBracket, 1},
		{"'", Quote, 3}, {"x", Atom, 3}, {"-1", Atom, 3}, {")", RParen, 3},
	}
	if diff := cmp.Diff(want, tokens); diff != "" {
		t.Errorf("tokens mismatch (-want +got):\n%s", diff)
	}
	if _, err := Tokenize(`"str"`); err == nil {
		t.Error("strings should be rejected")
	}
}

func TestReadAll(t *testing.T) {
	forms, err := ReadAll("(+ 1 0x10) :kw a/b - 'x [1_000]")
	if err != nil {
		t.Fatal(err)
	}
	got := make([]string, len(forms))
	for i, f := range forms {
		got[i] = Format(f)
	}
	want := []string{"(+ 1 16)", ":kw", "a/b", "-", "(quote x)", "[1000]"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("forms mismatch (-want +got):\n%s", diff)
	}
	if s := forms[2].(Symbol); s.NS != "a" || s.Name != "b" {
		t.Errorf("symbol = %+v", s)
	}
	if s := Unquote(forms[4]).(Symbol); s.Name != "x" {
		t.Errorf("Unquote = %+v", s)
	}
}

func TestReadAll_SyntaxErrors(t *testing.T) {
	for _, src := range []string{"(+ 1", ")", "[1 2)", "99999999999999999999", "foo/", ":", "'"} {
		t.Run(src, func(t *testing.T) {
			_, err := ReadAll(src)
			if !errors.IsCompile(err, errors.KindSyntax) {
				t.Fatalf("err = %v, want syntax error", err)
			}
		})
	}
}

func analyze(t *testing.T, a *Analyzer, src string) (ir.Node, error) {
	t.Helper()
	forms, err := ReadAll(src)
	if err != nil {
		t.Fatalf("read %q: %v", src, err)
	}
	if len(forms) != 1 {
		t.Fatalf("read %q: %d forms", src, len(forms))
	}
	return a.Analyze(forms[0])
}

func newAnalyzer() *Analyzer {
	e := env.New()
	e.Intern("core", "inc", env.FnVar, 1)
	e.Intern("app.a", "x", env.ValueVar, 0)
	_ = e.AddAlias("user", "a", "app.a")
	return &Analyzer{Env: e, NS: "user"}
}

func TestAnalyze(t *testing.T) {
	tests := []struct {
		src  string
		want ir.Node
	}{
		{"(+ 1 2)", ir.Prim{Op: "+", Args: []ir.Node{ir.Const{Value: 1}, ir.Const{Value: 2}}}},
		{"true", ir.Const{Value: 1}},
		{"a/x", ir.VarRef{NS: "app.a", Name: "x"}},
		{"(inc 1)", ir.Invoke{NS: "core", Name: "inc", Args: []ir.Node{ir.Const{Value: 1}}}},
		{"native/counter", ir.ForeignGet{Name: "counter"}},
		{"(native/print 4)", ir.ForeignCall{Name: "print", Args: []ir.Node{ir.Const{Value: 4}}}},
		{"(set! native/counter 2)", ir.ForeignSet{Name: "counter", Value: ir.Const{Value: 2}}},
		{"(defglobal g 7)", ir.DefGlobal{Name: "g", Init: 7}},
		{"(if 1 2)", ir.If{Cond: ir.Const{Value: 1}, Then: ir.Const{Value: 2}, Else: ir.Const{Value: 0}}},
		{"(let [v 1 w v] w)", ir.Let{
			Bindings: []ir.Binding{{Name: "v", Value: ir.Const{Value: 1}}, {Name: "w", Value: ir.Local{Name: "v"}}},
			Body:     ir.Local{Name: "w"},
		}},
		{"(defn twice [n] (+ n n))", ir.Defn{
			NS: "user", Name: "twice", Params: []string{"n"},
			Body: ir.Prim{Op: "+", Args: []ir.Node{ir.Local{Name: "n"}, ir.Local{Name: "n"}}},
		}},
		{"(defn loop [n] (loop n))", ir.Defn{
			NS: "user", Name: "loop", Params: []string{"n"},
			Body: ir.Invoke{NS: "user", Name: "loop", Args: []ir.Node{ir.Local{Name: "n"}}},
		}},
		{"(def y (do 1 2))", ir.Def{NS: "user", Name: "y", Init: ir.Do{Forms: []ir.Node{ir.Const{Value: 1}, ir.Const{Value: 2}}}}},
	}

	for _, tt := range tests {
		t.Run(tt.src, func(t *testing.T) {
			got, err := analyze(t, newAnalyzer(), tt.src)
			if err != nil {
				t.Fatalf("Analyze: %v", err)
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("node mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestAnalyze_Declares(t *testing.T) {
	a := newAnalyzer()
	if _, err := analyze(t, a, "(def y 1)"); err != nil {
		t.Fatal(err)
	}
	if _, err := analyze(t, a, "(defn f [p q] p)"); err != nil {
		t.Fatal(err)
	}
	if got, err := analyze(t, a, "(f y y)"); err != nil {
		t.Fatal(err)
	} else if _, ok := got.(ir.Invoke); !ok {
		t.Errorf("got %T", got)
	}
}

func TestAnalyze_SemanticErrors(t *testing.T) {
	for _, src := range []string{
		"missing",
		"(missing 1)",
		"(inc 1 2)",
		"inc",
		"(a/x 1)",
		":kw",
		"[1]",
		"(let [x] x)",
		"(let [x 1] (x))",
		"(if 1)",
		"(quot 1)",
		"(not 1 2)",
		"(def)",
		"(def a/b 1)",
		"(defn f x x)",
		"(defn f [x x] x)",
		"(defn f [x] (def y 1))",
		"(let [z 1] (defn g [] z))",
		"(+ 1 (def y 2))",
		"(defglobal g x)",
		"(set! counter 1)",
		"(do (ns foo))",
		"(1 2)",
		"'x",
	} {
		t.Run(src, func(t *testing.T) {
			_, err := analyze(t, newAnalyzer(), src)
			if !errors.IsCompile(err, errors.KindSemantic) {
				t.Fatalf("err = %v, want semantic error", err)
			}
		})
	}
}
