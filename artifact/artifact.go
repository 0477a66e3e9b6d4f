// Package artifact describes compiled, linkable units.
//
// An artifact is a WebAssembly module with a manifest embedded in a custom
// section. The manifest makes the binary self-describing: a loader that only
// has the bytes (read back from the cache or received over the wire) knows
// the entry symbol, the function vars it defines and the effects to replay.
package artifact

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"github.com/wippyai/jitlink/ir"
	"github.com/wippyai/jitlink/wasm"
)

// SectionName is the custom section holding the manifest.
const SectionName = "jitlink.manifest"

// ManifestVersion is bumped when the manifest layout changes.
const ManifestVersion = 1

// Import modules of generated code. A loader rewrites them to the concrete
// instances that provide each symbol.
const (
	// ImportEnv holds foreign symbols and function vars of other artifacts.
	ImportEnv = "env"
	// ImportVar holds value var readers, () -> i64.
	ImportVar = "var"
	// ImportVarDef holds value var binders, (i64) -> ().
	ImportVarDef = "var.def"
)

// Function is a function var defined by an artifact.
type Function struct {
	Name  string `cbor:"name"`
	Arity int    `cbor:"arity"`
}

// Global is an externally linked data symbol defined by an artifact.
type Global struct {
	Name string `cbor:"name"`
	Init int64  `cbor:"init"`
}

// Manifest is the self-description embedded in every artifact.
type Manifest struct {
	Hash      string      `cbor:"hash"`
	Entry     string      `cbor:"entry"`
	Target    string      `cbor:"target"`
	Functions []Function  `cbor:"functions,omitempty"`
	Globals   []Global    `cbor:"globals,omitempty"`
	Vars      []string    `cbor:"vars,omitempty"`
	Effects   []ir.Effect `cbor:"effects,omitempty"`
	Deps      []string    `cbor:"deps,omitempty"`
	Version   int         `cbor:"version"`
}

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	if encMode, err = cbor.CanonicalEncOptions().EncMode(); err != nil {
		panic(err)
	}
	if decMode, err = (cbor.DecOptions{MaxArrayElements: 1 << 16, MaxMapPairs: 1 << 16}).DecMode(); err != nil {
		panic(err)
	}
}

// Encode serializes the manifest.
func (m *Manifest) Encode() ([]byte, error) {
	return encMode.Marshal(m)
}

// DecodeManifest parses a manifest section.
func DecodeManifest(data []byte) (*Manifest, error) {
	var m Manifest
	if err := decMode.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("decode manifest: %w", err)
	}
	if m.Version != ManifestVersion {
		return nil, fmt.Errorf("manifest version %d, want %d", m.Version, ManifestVersion)
	}
	return &m, nil
}

// Artifact is the compiled, linkable form of one unit for one target.
type Artifact struct {
	Manifest    *Manifest
	Hash        string
	EntrySymbol string
	Bytes       []byte
	Target      ir.TargetSpec
	// FromCache is set when the bytes were served by the object cache.
	FromCache bool
}

// Open reconstructs an artifact from its bytes alone.
func Open(bin []byte, target ir.TargetSpec) (*Artifact, error) {
	info, err := wasm.Inspect(bin)
	if err != nil {
		return nil, fmt.Errorf("inspect artifact: %w", err)
	}
	return FromInfo(bin, info, target)
}

// FromInfo builds an artifact from an already inspected binary.
func FromInfo(bin []byte, info *wasm.Info, target ir.TargetSpec) (*Artifact, error) {
	data, ok := info.Custom(SectionName)
	if !ok {
		return nil, fmt.Errorf("artifact has no %s section", SectionName)
	}
	m, err := DecodeManifest(data)
	if err != nil {
		return nil, err
	}
	return &Artifact{
		Manifest:    m,
		Hash:        m.Hash,
		EntrySymbol: m.Entry,
		Bytes:       bin,
		Target:      target,
	}, nil
}

// Function returns the arity of a function var defined by the artifact.
func (m *Manifest) Function(name string) (int, bool) {
	for _, f := range m.Functions {
		if f.Name == name {
			return f.Arity, true
		}
	}
	return 0, false
}
