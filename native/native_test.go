package native

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/wippyai/jitlink/registry"
)

func call(t *testing.T, c *Catalog, name string, args ...int64) (int64, error) {
	t.Helper()
	sym, _, ok := c.Lookup(name)
	if !ok {
		t.Fatalf("symbol %s not found", name)
	}
	if sym.Kind != registry.Function || sym.Arity != len(args) {
		t.Fatalf("symbol %s: kind %v arity %d", name, sym.Kind, sym.Arity)
	}
	return sym.Fn(context.Background(), args)
}

func TestLibraries(t *testing.T) {
	var out bytes.Buffer
	mock := clock.NewMock()
	mock.Set(time.UnixMilli(5000))
	c := Default(Options{Out: &out, Clock: mock})

	tests := []struct {
		name    string
		args    []int64
		want    int64
		wantErr bool
	}{
		{"abs", []int64{-4}, 4, false},
		{"max", []int64{3, 9}, 9, false},
		{"min", []int64{3, 9}, 3, false},
		{"pow", []int64{3, 4}, 81, false},
		{"pow", []int64{2, -1}, 0, true},
		{"gcd", []int64{-12, 18}, 6, false},
		{"isqrt", []int64{0}, 0, false},
		{"isqrt", []int64{15}, 3, false},
		{"isqrt", []int64{16}, 4, false},
		{"isqrt", []int64{1 << 62}, 1 << 31, false},
		{"isqrt", []int64{-1}, 0, true},
		{"now_ms", nil, 5000, false},
		{"since_ms", []int64{4000}, 1000, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := call(t, c, tt.name, tt.args...)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && got != tt.want {
				t.Errorf("%s%v = %d, want %d", tt.name, tt.args, got, tt.want)
			}
		})
	}

	if got, _ := call(t, c, "print", 42); got != 42 || out.String() != "42\n" {
		t.Errorf("print returned %d, wrote %q", got, out.String())
	}
}

func TestCatalog_Lookup(t *testing.T) {
	c := Default(Options{})
	sym, lib, ok := c.Lookup("rt_context")
	if !ok || lib != "core" || sym.Kind != registry.Data {
		t.Errorf("Lookup(rt_context) = %+v %q %v", sym, lib, ok)
	}
	if _, _, ok := c.Lookup("nope"); ok {
		t.Error("unexpected symbol")
	}
	if got := c.Names(); len(got) != 3 || got[0] != "core" || got[1] != "math" || got[2] != "time" {
		t.Errorf("Names = %v", got)
	}
	if _, ok := c.Library("math"); !ok {
		t.Error("math library missing")
	}
}

func TestLibraries_Register(t *testing.T) {
	r := registry.New()
	c := Default(Options{})
	for _, name := range c.Names() {
		lib, _ := c.Library(name)
		if err := r.RegisterLibrary(lib); err != nil {
			t.Fatalf("register %s: %v", name, err)
		}
	}
	if _, ok := r.Resolve("gcd"); !ok {
		t.Error("gcd not registered")
	}
}
