// Package cache implements the content-addressed object cache.
//
// Entries are keyed by (unit hash, target) and never updated in place: a
// changed unit has a different hash. The on-disk layout is
//
//	<dir>/v<ABI>/<target key>/<hash[:2]>/<hash>.wasm.sz
//	<dir>/v<ABI>/<target key>/<hash[:2]>/<hash>.meta.yaml
//
// The artifact is snappy-compressed; the YAML sidecar names the entry
// symbol, the unit that produced it and a checksum of the artifact. Both
// files are written to a temporary name and renamed, the sidecar last, so a
// reader never sees a half-written entry as complete. Concurrent writers of
// one hash produce identical bytes and the last rename wins.
//
// Anything unreadable (missing artifact, bad YAML, checksum mismatch, short
// file) is reported as a miss and overwritten by the next Store.
package cache

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/cespare/xxhash/v2"
	"github.com/golang/snappy"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/wippyai/jitlink/errors"
	"github.com/wippyai/jitlink/ir"
)

// ABIVersion partitions the cache by code generation ABI. Bump it whenever
// generated artifacts stop being interchangeable with older ones.
const ABIVersion = 1

const (
	artifactExt = ".wasm.sz"
	metaExt     = ".meta.yaml"
)

// Entry is a cached artifact.
type Entry struct {
	CreatedAt   time.Time
	Hash        string
	Target      string
	EntrySymbol string
	Unit        string
	Artifact    []byte
}

type meta struct {
	CreatedAt   time.Time `yaml:"created_at"`
	Hash        string    `yaml:"hash"`
	Target      string    `yaml:"target"`
	EntrySymbol string    `yaml:"entry_symbol"`
	Unit        string    `yaml:"unit,omitempty"`
	Checksum    string    `yaml:"checksum"`
	Size        int       `yaml:"size"`
}

// Cache is safe for concurrent use by multiple goroutines and processes.
type Cache struct {
	clock   clock.Clock
	logger  *zap.Logger
	metrics *Metrics
	root    string
}

// Option configures a Cache.
type Option func(*Cache)

// WithClock sets the clock used for entry timestamps.
func WithClock(c clock.Clock) Option {
	return func(cache *Cache) { cache.clock = c }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(cache *Cache) { cache.logger = l }
}

// WithMetrics sets the metrics collectors.
func WithMetrics(m *Metrics) Option {
	return func(cache *Cache) { cache.metrics = m }
}

// New opens a cache rooted at dir, creating it if needed.
func New(dir string, opts ...Option) (*Cache, error) {
	c := &Cache{
		root:   filepath.Join(dir, fmt.Sprintf("v%d", ABIVersion)),
		clock:  clock.New(),
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.metrics == nil {
		c.metrics = NewMetrics()
	}
	if err := os.MkdirAll(c.root, 0o750); err != nil {
		return nil, errors.IO(c.root, err)
	}
	return c, nil
}

// Dir returns the versioned cache root.
func (c *Cache) Dir() string {
	return c.root
}

// Metrics returns the cache collectors.
func (c *Cache) Metrics() *Metrics {
	return c.metrics
}

func validHash(hash string) bool {
	if len(hash) < 4 {
		return false
	}
	for _, r := range hash {
		if (r < '0' || r > '9') && (r < 'a' || r > 'f') {
			return false
		}
	}
	return true
}

func (c *Cache) paths(hash string, target ir.TargetSpec) (dir, artifact, meta string) {
	dir = filepath.Join(c.root, target.Key(), hash[:2])
	return dir, filepath.Join(dir, hash+artifactExt), filepath.Join(dir, hash+metaExt)
}

// Lookup returns the entry for (hash, target). Unreadable entries are misses.
func (c *Cache) Lookup(hash string, target ir.TargetSpec) (*Entry, bool) {
	key := target.Key()
	if !validHash(hash) {
		c.metrics.Lookups.WithLabelValues(key, LabelMiss).Inc()
		return nil, false
	}

	entry, err := c.read(hash, target)
	switch {
	case err == nil:
		c.metrics.Lookups.WithLabelValues(key, LabelHit).Inc()
		return entry, true
	case os.IsNotExist(err):
		c.metrics.Lookups.WithLabelValues(key, LabelMiss).Inc()
	default:
		c.metrics.Lookups.WithLabelValues(key, LabelCorrupt).Inc()
		c.logger.Warn("Cache entry unreadable, treating as miss",
			zap.String("hash", hash),
			zap.String("target", key),
			zap.Error(err))
	}
	return nil, false
}

func (c *Cache) read(hash string, target ir.TargetSpec) (*Entry, error) {
	_, artifactPath, metaPath := c.paths(hash, target)
	key := hash + "@" + target.Key()

	raw, err := os.ReadFile(metaPath)
	if err != nil {
		return nil, err
	}
	var m meta
	if err := yaml.Unmarshal(raw, &m); err != nil {
		return nil, errors.Corrupt(key, "metadata: "+err.Error())
	}
	if m.Hash != hash || m.Target != target.Key() {
		return nil, errors.Corrupt(key, "metadata names another entry")
	}

	compressed, err := os.ReadFile(artifactPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.Corrupt(key, "artifact missing")
		}
		return nil, errors.IO(key, err)
	}
	data, err := snappy.Decode(nil, compressed)
	if err != nil {
		return nil, errors.Corrupt(key, "decompress: "+err.Error())
	}
	if len(data) != m.Size {
		return nil, errors.Corrupt(key, fmt.Sprintf("short artifact: %d of %d bytes", len(data), m.Size))
	}
	if sum := checksum(data); sum != m.Checksum {
		return nil, errors.Corrupt(key, "checksum mismatch")
	}

	return &Entry{
		Hash:        m.Hash,
		Target:      m.Target,
		EntrySymbol: m.EntrySymbol,
		Unit:        m.Unit,
		CreatedAt:   m.CreatedAt,
		Artifact:    data,
	}, nil
}

func checksum(data []byte) string {
	return fmt.Sprintf("%016x", xxhash.Sum64(data))
}

// Store writes an entry for (hash, target). unit names the originating unit
// for diagnostics.
func (c *Cache) Store(hash string, target ir.TargetSpec, artifact []byte, entrySymbol, unit string) error {
	key := target.Key()
	err := c.write(hash, target, artifact, entrySymbol, unit)
	if err != nil {
		c.metrics.Writes.WithLabelValues(key, LabelError).Inc()
		return err
	}
	c.metrics.Writes.WithLabelValues(key, LabelSuccess).Inc()
	return nil
}

func (c *Cache) write(hash string, target ir.TargetSpec, artifact []byte, entrySymbol, unit string) error {
	if !validHash(hash) {
		return errors.InvalidInput(errors.PhaseCache, "invalid hash %q", hash)
	}
	dir, artifactPath, metaPath := c.paths(hash, target)
	key := hash + "@" + target.Key()

	if err := os.MkdirAll(dir, 0o750); err != nil {
		return errors.IO(key, err)
	}

	compressed := snappy.Encode(nil, artifact)
	if err := writeAtomic(dir, artifactPath, compressed); err != nil {
		return errors.IO(key, err)
	}
	c.metrics.BytesWritten.Add(float64(len(compressed)))

	m := meta{
		Hash:        hash,
		Target:      target.Key(),
		EntrySymbol: entrySymbol,
		Unit:        unit,
		Size:        len(artifact),
		Checksum:    checksum(artifact),
		CreatedAt:   c.clock.Now().UTC(),
	}
	raw, err := yaml.Marshal(&m)
	if err != nil {
		return errors.IO(key, err)
	}
	if err := writeAtomic(dir, metaPath, raw); err != nil {
		return errors.IO(key, err)
	}
	return nil
}

// writeAtomic writes data to a temporary file in dir and renames it over path.
func writeAtomic(dir, path string, data []byte) error {
	f, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return err
	}
	tmp := f.Name()
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return err
	}
	return nil
}

// Clear removes every entry for target.
func (c *Cache) Clear(target ir.TargetSpec) error {
	if err := os.RemoveAll(filepath.Join(c.root, target.Key())); err != nil {
		return errors.IO(target.Key(), err)
	}
	return nil
}

// ClearAll removes every entry for every target.
func (c *Cache) ClearAll() error {
	entries, err := os.ReadDir(c.root)
	if err != nil {
		return errors.IO(c.root, err)
	}
	for _, e := range entries {
		if err := os.RemoveAll(filepath.Join(c.root, e.Name())); err != nil {
			return errors.IO(e.Name(), err)
		}
	}
	return nil
}

// TargetStats summarizes one target partition.
type TargetStats struct {
	Target  string `json:"target"`
	Entries int    `json:"entries"`
	Bytes   int64  `json:"bytes"`
}

// Stats walks the cache and reports entry counts and on-disk sizes.
func (c *Cache) Stats() ([]TargetStats, error) {
	targets, err := os.ReadDir(c.root)
	if err != nil {
		return nil, errors.IO(c.root, err)
	}
	var out []TargetStats
	for _, t := range targets {
		if !t.IsDir() {
			continue
		}
		ts := TargetStats{Target: t.Name()}
		err := filepath.WalkDir(filepath.Join(c.root, t.Name()), func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() || strings.HasPrefix(d.Name(), ".tmp-") {
				return nil
			}
			info, err := d.Info()
			if err != nil {
				return err
			}
			ts.Bytes += info.Size()
			if strings.HasSuffix(d.Name(), metaExt) {
				ts.Entries++
			}
			return nil
		})
		if err != nil {
			return nil, errors.IO(t.Name(), err)
		}
		out = append(out, ts)
	}
	return out, nil
}
