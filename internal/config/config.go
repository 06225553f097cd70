// Package config loads the memtier YAML configuration.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// EnvPath names the environment variable that overrides the config location.
const EnvPath = "MEMTIER_CONFIG"

// Config is the root configuration.
type Config struct {
	Store StoreConfig `yaml:"store"`
	Queue QueueConfig `yaml:"queue"`
	Tiers TiersConfig `yaml:"tiers"`
	Log   LogConfig   `yaml:"log"`
}

type StoreConfig struct {
	Path             string        `yaml:"path"`
	MaxCapacity      int           `yaml:"max_capacity"`
	AutosaveInterval time.Duration `yaml:"autosave_interval"`
}

type QueueConfig struct {
	Capacity       int           `yaml:"capacity"`
	EnqueueTimeout time.Duration `yaml:"enqueue_timeout"`
	SpillPath      string        `yaml:"spill_path"`
	PollInterval   time.Duration `yaml:"poll_interval"`
}

type TiersConfig struct {
	// AutoPush sends every stored record through the orchestrator.
	AutoPush  bool            `yaml:"auto_push"`
	Fast      FastConfig      `yaml:"fast"`
	Local     LocalConfig     `yaml:"local"`
	Permanent PermanentConfig `yaml:"permanent"`
}

type FastConfig struct {
	Enabled  bool `yaml:"enabled"`
	Capacity int  `yaml:"capacity"`
}

type LocalConfig struct {
	Enabled bool         `yaml:"enabled"`
	Mirror  MirrorConfig `yaml:"mirror"`
}

// MirrorConfig selects the local tier's database mirror. An empty driver
// disables it.
type MirrorConfig struct {
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
}

type PermanentConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Path      string `yaml:"path"`
	BatchSize int    `yaml:"batch_size"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Dir returns the default data directory, ~/.memtier.
func Dir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".memtier"
	}
	return filepath.Join(home, ".memtier")
}

// DefaultPath returns $MEMTIER_CONFIG, or ~/.memtier/config.yaml.
func DefaultPath() string {
	if p := os.Getenv(EnvPath); p != "" {
		return p
	}
	return filepath.Join(Dir(), "config.yaml")
}

// Default returns the configuration used when no file exists.
func Default() *Config {
	cfg := &Config{
		Tiers: TiersConfig{
			AutoPush:  true,
			Fast:      FastConfig{Enabled: true},
			Local:     LocalConfig{Enabled: true},
			Permanent: PermanentConfig{Enabled: true},
		},
	}
	cfg.defaults()
	return cfg
}

// defaults fills zero values. Enable flags are left alone, so a file that
// omits a tier leaves it disabled.
func (c *Config) defaults() {
	dir := Dir()
	if c.Store.Path == "" {
		c.Store.Path = filepath.Join(dir, "records.log")
	}
	if c.Store.MaxCapacity == 0 {
		c.Store.MaxCapacity = 10000
	}
	if c.Queue.Capacity == 0 {
		c.Queue.Capacity = 1000
	}
	if c.Queue.EnqueueTimeout == 0 {
		c.Queue.EnqueueTimeout = 250 * time.Millisecond
	}
	if c.Queue.PollInterval == 0 {
		c.Queue.PollInterval = time.Second
	}
	if c.Tiers.Fast.Capacity == 0 {
		c.Tiers.Fast.Capacity = 4096
	}
	if c.Tiers.Permanent.Path == "" {
		c.Tiers.Permanent.Path = filepath.Join(dir, "ledger.jsonl")
	}
	if c.Tiers.Permanent.BatchSize == 0 {
		c.Tiers.Permanent.BatchSize = 10
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "console"
	}
}

// Load reads path, expands environment variables, applies defaults, and
// validates the result. A missing file yields Default().
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return Default(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}
	return Parse(raw)
}

// Parse decodes raw YAML the same way Load does.
func Parse(raw []byte) (*Config, error) {
	expanded, err := expandEnv(raw)
	if err != nil {
		return nil, fmt.Errorf("config: expanding variables: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(expanded, &cfg); err != nil {
		return nil, fmt.Errorf("config: parsing: %w", err)
	}
	cfg.defaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// envPattern matches ${VAR} and ${VAR:-default}.
var envPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-((?:[^}\\]|\\.)*))?\}`)

// expandEnv substitutes variables and reports every unresolved one.
func expandEnv(raw []byte) ([]byte, error) {
	var errs []error

	out := envPattern.ReplaceAllFunc(raw, func(match []byte) []byte {
		subs := envPattern.FindSubmatch(match)
		name := string(subs[1])
		if v, ok := os.LookupEnv(name); ok {
			return []byte(v)
		}
		if subs[2] != nil {
			return subs[2]
		}
		errs = append(errs, fmt.Errorf("unresolved variable: %s", name))
		return match
	})

	return out, errors.Join(errs...)
}
