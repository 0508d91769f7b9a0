// Package config provides configuration management for chronicle.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	DefaultDebounce   = Duration(500 * time.Millisecond)
	DefaultMaxWorkers = 4
	DefaultPageSize   = 1000
	DefaultLogLevel   = "info"
)

// Duration wraps time.Duration so config files can say "2s" or "500ms".
type Duration time.Duration

// UnmarshalYAML accepts either a duration string or integer nanoseconds.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err == nil {
		parsed, err := time.ParseDuration(s)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", s, err)
		}
		*d = Duration(parsed)
		return nil
	}
	var n int64
	if err := value.Decode(&n); err != nil {
		return fmt.Errorf("invalid duration value")
	}
	*d = Duration(n)
	return nil
}

// MarshalYAML writes the duration in time.Duration string form.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Config holds the daemon configuration.
type Config struct {
	// WatchDirs are the projects directories holding per-project transcript
	// subdirectories. Defaults to ~/.claude/projects.
	WatchDirs        []string `yaml:"watch_dirs"`
	DBPath           string   `yaml:"db_path"`
	DebounceInterval Duration `yaml:"debounce_interval"`
	MaxWorkers       int      `yaml:"max_workers"`
	PageSize         int      `yaml:"page_size"`
	LogLevel         string   `yaml:"log_level"`
}

// Default returns the configuration used when no config file exists.
func Default() *Config {
	return &Config{
		WatchDirs:        []string{defaultWatchDir()},
		DBPath:           DBPath(),
		DebounceInterval: DefaultDebounce,
		MaxWorkers:       DefaultMaxWorkers,
		PageSize:         DefaultPageSize,
		LogLevel:         DefaultLogLevel,
	}
}

// Load reads the config file at path, falling back to defaults when the
// file does not exist. Environment overrides apply last.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
		// Defaults only.
	case err != nil:
		return nil, fmt.Errorf("read config: %w", err)
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	cfg.applyEnv()
	cfg.fillDefaults()
	return cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("CHRONICLE_DB_PATH"); v != "" {
		c.DBPath = v
	}
	if v := os.Getenv("CHRONICLE_WATCH_DIR"); v != "" {
		c.WatchDirs = []string{v}
	}
}

func (c *Config) fillDefaults() {
	if len(c.WatchDirs) == 0 {
		c.WatchDirs = []string{defaultWatchDir()}
	}
	if c.DBPath == "" {
		c.DBPath = DBPath()
	}
	if c.DebounceInterval <= 0 {
		c.DebounceInterval = DefaultDebounce
	}
	if c.MaxWorkers <= 0 {
		c.MaxWorkers = DefaultMaxWorkers
	}
	if c.PageSize <= 0 {
		c.PageSize = DefaultPageSize
	}
	if c.LogLevel == "" {
		c.LogLevel = DefaultLogLevel
	}
}

// DataDir returns the chronicle data directory under the user's home.
func DataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".chronicle"
	}
	return filepath.Join(home, ".chronicle")
}

// DBPath returns the default database path.
func DBPath() string {
	return filepath.Join(DataDir(), "chronicle.db")
}

// ConfigPath returns the default config file path.
func ConfigPath() string {
	return filepath.Join(DataDir(), "config.yaml")
}

// EnsureDataDir creates the data directory if it does not exist.
func EnsureDataDir() error {
	return os.MkdirAll(DataDir(), 0o755)
}

func defaultWatchDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".claude", "projects")
	}
	return filepath.Join(home, ".claude", "projects")
}
