// Package config provides configuration management for chronicle.
package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
)

// ConfigSuite is a test suite for config operations.
type ConfigSuite struct {
	suite.Suite
	tempDir     string
	origHomeDir string
}

func (s *ConfigSuite) SetupTest() {
	var err error
	s.tempDir, err = os.MkdirTemp("", "config-test-*")
	s.Require().NoError(err)

	// Save and override HOME
	s.origHomeDir = os.Getenv("HOME")
	os.Setenv("HOME", s.tempDir)
}

func (s *ConfigSuite) TearDownTest() {
	os.Setenv("HOME", s.origHomeDir)
	os.Unsetenv("CHRONICLE_DB_PATH")
	os.Unsetenv("CHRONICLE_WATCH_DIR")
	os.RemoveAll(s.tempDir)
}

func TestConfigSuite(t *testing.T) {
	suite.Run(t, new(ConfigSuite))
}

// TestDefault tests default configuration values.
func (s *ConfigSuite) TestDefault() {
	cfg := Default()

	s.Equal(DefaultDebounce, cfg.DebounceInterval)
	s.Equal(DefaultMaxWorkers, cfg.MaxWorkers)
	s.Equal(DefaultPageSize, cfg.PageSize)
	s.Equal(DefaultLogLevel, cfg.LogLevel)
	s.Require().Len(cfg.WatchDirs, 1)
	s.Contains(cfg.WatchDirs[0], filepath.Join(".claude", "projects"))
	s.Contains(cfg.DBPath, "chronicle.db")
}

// TestDataDir tests data directory path.
func (s *ConfigSuite) TestDataDir() {
	dir := DataDir()
	s.Contains(dir, ".chronicle")
}

// TestDBPath tests database path.
func (s *ConfigSuite) TestDBPath() {
	path := DBPath()
	s.Contains(path, "chronicle.db")
}

// TestEnsureDataDir tests data directory creation.
func (s *ConfigSuite) TestEnsureDataDir() {
	err := EnsureDataDir()
	s.NoError(err)

	dir := DataDir()
	info, err := os.Stat(dir)
	s.NoError(err)
	s.True(info.IsDir())
}

// TestLoadMissingFile falls back to defaults.
func (s *ConfigSuite) TestLoadMissingFile() {
	cfg, err := Load(filepath.Join(s.tempDir, "does-not-exist.yaml"))
	s.NoError(err)
	s.Equal(DefaultMaxWorkers, cfg.MaxWorkers)
}

// TestLoadYAML tests reading a config file.
func (s *ConfigSuite) TestLoadYAML() {
	path := filepath.Join(s.tempDir, "config.yaml")
	content := `
watch_dirs:
  - /data/projects
db_path: /data/chronicle.db
debounce_interval: 2s
max_workers: 8
page_size: 500
log_level: debug
`
	s.Require().NoError(os.WriteFile(path, []byte(content), 0o644))

	cfg, err := Load(path)
	s.NoError(err)
	s.Equal([]string{"/data/projects"}, cfg.WatchDirs)
	s.Equal("/data/chronicle.db", cfg.DBPath)
	s.Equal(2*time.Second, cfg.DebounceInterval.Std())
	s.Equal(8, cfg.MaxWorkers)
	s.Equal(500, cfg.PageSize)
	s.Equal("debug", cfg.LogLevel)
}

// TestLoadPartialYAML fills missing fields with defaults.
func (s *ConfigSuite) TestLoadPartialYAML() {
	path := filepath.Join(s.tempDir, "config.yaml")
	s.Require().NoError(os.WriteFile(path, []byte("max_workers: 2\n"), 0o644))

	cfg, err := Load(path)
	s.NoError(err)
	s.Equal(2, cfg.MaxWorkers)
	s.Equal(DefaultPageSize, cfg.PageSize)
	s.NotEmpty(cfg.WatchDirs)
}

// TestEnvOverrides tests environment variable precedence.
func (s *ConfigSuite) TestEnvOverrides() {
	path := filepath.Join(s.tempDir, "config.yaml")
	s.Require().NoError(os.WriteFile(path, []byte("db_path: /from/file.db\n"), 0o644))

	os.Setenv("CHRONICLE_DB_PATH", "/from/env.db")
	os.Setenv("CHRONICLE_WATCH_DIR", "/from/env-projects")

	cfg, err := Load(path)
	s.NoError(err)
	s.Equal("/from/env.db", cfg.DBPath)
	s.Equal([]string{"/from/env-projects"}, cfg.WatchDirs)
}

// TestLoadInvalidYAML reports a parse error.
func (s *ConfigSuite) TestLoadInvalidYAML() {
	path := filepath.Join(s.tempDir, "config.yaml")
	s.Require().NoError(os.WriteFile(path, []byte("watch_dirs: [unclosed"), 0o644))

	_, err := Load(path)
	s.Error(err)
}
