// Package native provides the host's native libraries: Go implementations
// of foreign functions and the initial values of foreign data symbols.
//
// Libraries named in the configuration are registered at startup. The
// catalog also answers dynamic lookups for symbols no artifact or
// preloaded library provides.
package native

import (
	"context"
	"fmt"
	"io"
	"math/bits"
	"sort"
	"sync"

	"github.com/benbjohnson/clock"

	"github.com/wippyai/jitlink/registry"
)

// Catalog holds every native library available to the process.
type Catalog struct {
	libs  map[string]*registry.Library
	order []string
}

// NewCatalog creates a catalog from libs. Later libraries do not shadow
// symbols of earlier ones during lookup.
func NewCatalog(libs ...*registry.Library) *Catalog {
	c := &Catalog{libs: make(map[string]*registry.Library)}
	for _, lib := range libs {
		c.Add(lib)
	}
	return c
}

// Options configures the built-in libraries.
type Options struct {
	Out   io.Writer
	Clock clock.Clock
}

// Default returns the built-in libraries: core, math and time.
func Default(opts Options) *Catalog {
	if opts.Out == nil {
		opts.Out = io.Discard
	}
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	return NewCatalog(Core(opts.Out), Math(), Time(opts.Clock))
}

// Add appends lib, replacing a library with the same name.
func (c *Catalog) Add(lib *registry.Library) {
	if _, ok := c.libs[lib.Name]; !ok {
		c.order = append(c.order, lib.Name)
	}
	c.libs[lib.Name] = lib
}

// Library returns the library called name.
func (c *Catalog) Library(name string) (*registry.Library, bool) {
	lib, ok := c.libs[name]
	return lib, ok
}

// Names lists library names, sorted.
func (c *Catalog) Names() []string {
	names := append([]string(nil), c.order...)
	sort.Strings(names)
	return names
}

// Lookup searches every library for a symbol, in the order libraries were
// added, and returns it with the library name.
func (c *Catalog) Lookup(name string) (registry.Symbol, string, bool) {
	for _, libName := range c.order {
		for _, sym := range c.libs[libName].Symbols {
			if sym.Name == name {
				return sym, libName, true
			}
		}
	}
	return registry.Symbol{}, "", false
}

// Core is the runtime support library. rt_context is the process-wide
// mutable context every unit must share.
func Core(out io.Writer) *registry.Library {
	var mu sync.Mutex
	return &registry.Library{
		Name: "core",
		Symbols: []registry.Symbol{
			{Name: "rt_context", Kind: registry.Data, Doc: "shared runtime context"},
			{Name: "counter", Kind: registry.Data, Doc: "shared counter"},
			fn1("print", "write x and return it", func(x int64) (int64, error) {
				mu.Lock()
				defer mu.Unlock()
				_, err := fmt.Fprintln(out, x)
				return x, err
			}),
			fn1("abs", "absolute value", func(x int64) (int64, error) {
				if x < 0 {
					return -x, nil
				}
				return x, nil
			}),
			fn2("max", "larger of a and b", func(a, b int64) (int64, error) { return max(a, b), nil }),
			fn2("min", "smaller of a and b", func(a, b int64) (int64, error) { return min(a, b), nil }),
		},
	}
}

// Math holds integer routines too awkward to express as primitives.
func Math() *registry.Library {
	return &registry.Library{
		Name: "math",
		Symbols: []registry.Symbol{
			fn2("pow", "b raised to e", func(b, e int64) (int64, error) {
				if e < 0 {
					return 0, fmt.Errorf("pow: negative exponent %d", e)
				}
				result := int64(1)
				for ; e > 0; e >>= 1 {
					if e&1 == 1 {
						result *= b
					}
					b *= b
				}
				return result, nil
			}),
			fn2("gcd", "greatest common divisor", func(a, b int64) (int64, error) {
				if a < 0 {
					a = -a
				}
				if b < 0 {
					b = -b
				}
				for b != 0 {
					a, b = b, a%b
				}
				return a, nil
			}),
			fn1("isqrt", "integer square root", func(x int64) (int64, error) {
				if x < 0 {
					return 0, fmt.Errorf("isqrt: negative argument %d", x)
				}
				if x == 0 {
					return 0, nil
				}
				r := int64(1) << ((bits.Len64(uint64(x)) + 1) / 2)
				for r > x/r {
					r = (r + x/r) / 2
				}
				return r, nil
			}),
		},
	}
}

// Time exposes the process clock in milliseconds.
func Time(clk clock.Clock) *registry.Library {
	return &registry.Library{
		Name: "time",
		Symbols: []registry.Symbol{
			{
				Name: "now_ms", Kind: registry.Function, Arity: 0, Doc: "unix time in milliseconds",
				Fn: func(context.Context, []int64) (int64, error) {
					return clk.Now().UnixMilli(), nil
				},
			},
			fn1("since_ms", "milliseconds elapsed since t", func(t int64) (int64, error) {
				return clk.Now().UnixMilli() - t, nil
			}),
		},
	}
}

func fn1(name, doc string, f func(int64) (int64, error)) registry.Symbol {
	return registry.Symbol{
		Name: name, Kind: registry.Function, Arity: 1, Doc: doc,
		Fn: func(_ context.Context, args []int64) (int64, error) { return f(args[0]) },
	}
}

func fn2(name, doc string, f func(int64, int64) (int64, error)) registry.Symbol {
	return registry.Symbol{
		Name: name, Kind: registry.Function, Arity: 2, Doc: doc,
		Fn: func(_ context.Context, args []int64) (int64, error) { return f(args[0], args[1]) },
	}
}
