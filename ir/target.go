package ir

import (
	"fmt"
	"runtime"
	"slices"
	"strings"

	"github.com/cespare/xxhash/v2"
)

// TargetSpec is the architecture, sysroot and ABI a unit is compiled for.
type TargetSpec struct {
	Arch     string   `cbor:"arch" toml:"arch" yaml:"arch"`
	Sysroot  string   `cbor:"sysroot,omitempty" toml:"sysroot" yaml:"sysroot,omitempty"`
	ABIFlags []string `cbor:"abi_flags,omitempty" toml:"abi_flags" yaml:"abi_flags,omitempty"`
}

// Host returns the target of the running process.
func Host() TargetSpec {
	return TargetSpec{Arch: runtime.GOARCH}
}

// Normalize resolves "native" and sorts ABI flags.
func (t TargetSpec) Normalize() TargetSpec {
	out := TargetSpec{Arch: t.Arch, Sysroot: t.Sysroot}
	if out.Arch == "" || out.Arch == "native" {
		out.Arch = runtime.GOARCH
	}
	if len(t.ABIFlags) > 0 {
		out.ABIFlags = slices.Clone(t.ABIFlags)
		slices.Sort(out.ABIFlags)
		out.ABIFlags = slices.Compact(out.ABIFlags)
	}
	return out
}

// IsLocal reports whether code for t runs in this process unchanged.
func (t TargetSpec) IsLocal() bool {
	n := t.Normalize()
	return n.Arch == runtime.GOARCH && n.Sysroot == "" && len(n.ABIFlags) == 0
}

// Key is the cache partition for t. Local and cross targets never share a key.
func (t TargetSpec) Key() string {
	n := t.Normalize()
	if n.IsLocal() {
		return "local-" + n.Arch
	}
	h := xxhash.New()
	_, _ = h.WriteString(n.Sysroot)
	for _, f := range n.ABIFlags {
		_, _ = h.WriteString("\x00")
		_, _ = h.WriteString(f)
	}
	return fmt.Sprintf("cross-%s-%08x", n.Arch, uint32(h.Sum64()))
}

// Serves reports whether code built for t answers a request for want. The
// architectures must agree; a sysroot or ABI flags are compared only when
// want names them, so an arch-only request accepts any target of that
// arch.
func (t TargetSpec) Serves(want TargetSpec) bool {
	n, w := t.Normalize(), want.Normalize()
	if n.Arch != w.Arch {
		return false
	}
	if w.Sysroot != "" && w.Sysroot != n.Sysroot {
		return false
	}
	return len(w.ABIFlags) == 0 || slices.Equal(w.ABIFlags, n.ABIFlags)
}

func (t TargetSpec) String() string {
	n := t.Normalize()
	var b strings.Builder
	b.WriteString(n.Arch)
	if n.Sysroot != "" {
		b.WriteString(" sysroot=")
		b.WriteString(n.Sysroot)
	}
	if len(n.ABIFlags) > 0 {
		b.WriteString(" abi=")
		b.WriteString(strings.Join(n.ABIFlags, ","))
	}
	return b.String()
}
