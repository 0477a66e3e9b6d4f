package artifact

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/wippyai/jitlink/ir"
	"github.com/wippyai/jitlink/wasm"
)

func TestOpen(t *testing.T) {
	m := &Manifest{
		Version:   ManifestVersion,
		Hash:      "00112233aabbccdd",
		Entry:     ir.EntryPrefix + "00112233aabbccdd",
		Target:    ir.Host().Key(),
		Functions: []Function{{Name: "user/inc", Arity: 1}},
		Globals:   []Global{{Name: "counter", Init: 4}},
		Effects:   []ir.Effect{{Kind: ir.EffectAlias, NS: "user", Name: "a", Target: "app.core"}},
	}
	data, err := m.Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	mod := &wasm.Module{Customs: []wasm.Custom{{Name: SectionName, Data: data}}}

	a, err := Open(mod.Encode(), ir.Host())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if a.Hash != m.Hash || a.EntrySymbol != m.Entry {
		t.Errorf("artifact = %q %q", a.Hash, a.EntrySymbol)
	}
	if diff := cmp.Diff(m, a.Manifest); diff != "" {
		t.Errorf("manifest mismatch (-want +got):\n%s", diff)
	}
	if n, ok := a.Manifest.Function("user/inc"); !ok || n != 1 {
		t.Errorf("Function = %d, %v", n, ok)
	}
}

func TestOpen_Errors(t *testing.T) {
	tests := []struct {
		name string
		bin  []byte
	}{
		{"not wasm", []byte("garbage!")},
		{"no manifest", (&wasm.Module{}).Encode()},
		{"bad manifest", (&wasm.Module{Customs: []wasm.Custom{{Name: SectionName, Data: []byte{0xff}}}}).Encode()},
		{"old version", func() []byte {
			data, _ := (&Manifest{Version: 0}).Encode()
			return (&wasm.Module{Customs: []wasm.Custom{{Name: SectionName, Data: data}}}).Encode()
		}()},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Open(tt.bin, ir.Host()); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}
