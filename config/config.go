// Package config loads jitlink settings from a TOML file and the
// environment.
package config

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	osenv "github.com/xyproto/env/v2"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/wippyai/jitlink/ir"
)

const (
	// DefaultListen is the compilation service address.
	DefaultListen = ":5570"
	// DefaultAdmin is the admin HTTP address.
	DefaultAdmin = ":5571"
	// DefaultMaxDepth bounds expression nesting during code generation.
	DefaultMaxDepth = 4096
)

// Environment variables that override file settings.
const (
	EnvCacheDir  = "JITLINK_CACHE_DIR"
	EnvListen    = "JITLINK_LISTEN"
	EnvAdmin     = "JITLINK_ADMIN"
	EnvLogLevel  = "JITLINK_LOG_LEVEL"
	EnvLibraries = "JITLINK_LIBRARIES"
)

// Config is the complete configuration.
type Config struct {
	Cache    Cache    `toml:"cache"`
	Registry Registry `toml:"registry"`
	Targets  []Target `toml:"targets"`
	Server   Server   `toml:"server"`
	Compiler Compiler `toml:"compiler"`
	Log      Log      `toml:"log"`
}

// Cache configures the object cache.
type Cache struct {
	Dir string `toml:"dir"`
	// Native also persists wazero machine code under Dir.
	Native bool `toml:"native"`
}

// NativeDir is where machine code is cached, or "" when disabled.
func (c Cache) NativeDir() string {
	if !c.Native || c.Dir == "" {
		return ""
	}
	return filepath.Join(c.Dir, "native")
}

// Registry lists the native libraries registered at startup. Libraries not
// listed remain available to dynamic lookup.
type Registry struct {
	Libraries []string `toml:"libraries"`
}

// Target is a named compilation target.
type Target struct {
	Name     string   `toml:"name"`
	Arch     string   `toml:"arch"`
	Sysroot  string   `toml:"sysroot"`
	ABIFlags []string `toml:"abi_flags"`
}

// Spec returns the normalized target.
func (t Target) Spec() ir.TargetSpec {
	return ir.TargetSpec{Arch: t.Arch, Sysroot: t.Sysroot, ABIFlags: t.ABIFlags}.Normalize()
}

// Server configures the network listeners.
type Server struct {
	Listen string `toml:"listen"`
	Admin  string `toml:"admin"`
}

// Compiler configures code generation.
type Compiler struct {
	MaxDepth int `toml:"max_depth"`
	// Preamble is a path to a source file replacing the built-in preamble.
	Preamble string `toml:"preamble"`
}

// Log configures logging.
type Log struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		Cache:    Cache{Dir: defaultCacheDir(), Native: true},
		Registry: Registry{Libraries: []string{"core"}},
		Targets:  []Target{{Name: "host", Arch: "native"}},
		Server:   Server{Listen: DefaultListen, Admin: DefaultAdmin},
		Compiler: Compiler{MaxDepth: DefaultMaxDepth},
		Log:      Log{Level: "info", Format: "console"},
	}
}

func defaultCacheDir() string {
	dir, err := os.UserCacheDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "jitlink")
	}
	return filepath.Join(dir, "jitlink")
}

// Load reads path over the defaults, applies environment overrides and
// validates the result. An empty path skips the file.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		cfg = base()
		md, err := toml.DecodeFile(path, &cfg)
		if err != nil {
			return Config{}, fmt.Errorf("config %s: %w", path, err)
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			return Config{}, fmt.Errorf("config %s: unknown key %s", path, undecoded[0])
		}
		cfg.fill()
	}
	cfg.ApplyEnv()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Parse decodes TOML text over the defaults without consulting the
// environment.
func Parse(data string) (Config, error) {
	cfg := base()
	md, err := toml.Decode(data, &cfg)
	if err != nil {
		return Config{}, err
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return Config{}, fmt.Errorf("unknown key %s", undecoded[0])
	}
	cfg.fill()
	return cfg, cfg.Validate()
}

// base is Default with the lists cleared. The decoder writes into existing
// slice elements, so list defaults are filled in after decoding.
func base() Config {
	cfg := Default()
	cfg.Targets = nil
	cfg.Registry.Libraries = nil
	return cfg
}

func (c *Config) fill() {
	def := Default()
	if c.Targets == nil {
		c.Targets = def.Targets
	}
	if c.Registry.Libraries == nil {
		c.Registry.Libraries = def.Registry.Libraries
	}
}

// ApplyEnv overrides settings from JITLINK_* environment variables.
func (c *Config) ApplyEnv() {
	c.Cache.Dir = osenv.Str(EnvCacheDir, c.Cache.Dir)
	c.Server.Listen = osenv.Str(EnvListen, c.Server.Listen)
	c.Server.Admin = osenv.Str(EnvAdmin, c.Server.Admin)
	c.Log.Level = osenv.Str(EnvLogLevel, c.Log.Level)
	if osenv.Has(EnvLibraries) {
		c.Registry.Libraries = splitList(osenv.Str(EnvLibraries))
	}
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	if c.Cache.Dir == "" {
		return fmt.Errorf("cache.dir is required")
	}
	if c.Compiler.MaxDepth <= 0 {
		return fmt.Errorf("compiler.max_depth must be positive, got %d", c.Compiler.MaxDepth)
	}
	if len(c.Targets) == 0 {
		return fmt.Errorf("at least one target is required")
	}
	seen := make(map[string]bool, len(c.Targets))
	for i, t := range c.Targets {
		if t.Name == "" {
			return fmt.Errorf("targets[%d]: name is required", i)
		}
		if seen[t.Name] {
			return fmt.Errorf("targets[%d]: duplicate name %q", i, t.Name)
		}
		seen[t.Name] = true
	}
	for name, addr := range map[string]string{"server.listen": c.Server.Listen, "server.admin": c.Server.Admin} {
		if addr == "" {
			continue
		}
		if _, _, err := net.SplitHostPort(addr); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}
	if _, err := zapcore.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("log.level: %w", err)
	}
	switch c.Log.Format {
	case "console", "json":
	default:
		return fmt.Errorf("log.format must be console or json, got %q", c.Log.Format)
	}
	return nil
}

// Target returns the target called name.
func (c *Config) Target(name string) (Target, bool) {
	for _, t := range c.Targets {
		if t.Name == name {
			return t, true
		}
	}
	return Target{}, false
}

// Logger builds the process logger.
func (l Log) Logger() (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(l.Level)
	if err != nil {
		return nil, err
	}
	cfg := zap.NewProductionConfig()
	if l.Format != "json" {
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}
	cfg.Level = zap.NewAtomicLevelAt(level)
	cfg.EncoderConfig.EncodeTime = zapcore.RFC3339TimeEncoder
	cfg.OutputPaths = []string{"stderr"}
	return cfg.Build()
}
