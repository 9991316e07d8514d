// Package config loads and validates the optional .exec-action.yaml file.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/sys/unix"
	"gopkg.in/yaml.v3"

	"github.com/retailnext/exec-action/internal/mergepipe"
	"github.com/retailnext/exec-action/internal/signals"
)

// FileName is the configuration file looked up from the workspace upward.
const FileName = ".exec-action.yaml"

// History backends.
const (
	HistoryNone   = "none"
	HistoryDisk   = "disk"
	HistorySQLite = "sqlite"
)

// DefaultHistoryCache is the LRU capacity used in front of a history backend.
const DefaultHistoryCache = 16

// Config holds the parsed .exec-action.yaml configuration.
// All fields are optional; zero values represent defaults.
type Config struct {
	Version         int           `yaml:"version"`
	RawMaxOutput    int           `yaml:"max_output"`      // bytes per captured stream, 0 = unlimited
	RawDrainTimeout string        `yaml:"drain_timeout"`   // e.g. "200ms"
	ForwardSignals  []string      `yaml:"forward_signals"` // e.g. ["SIGINT", "TERM"]
	History         HistoryConfig `yaml:"history"`
}

// HistoryConfig controls where settled runs are recorded.
type HistoryConfig struct {
	Backend string `yaml:"backend"` // none, disk or sqlite
	Path    string `yaml:"path"`    // directory (disk) or database file (sqlite)
	Cache   int    `yaml:"cache"`   // LRU capacity
}

// MaxOutputBytes returns the per-stream capture cap, or 0 for no cap.
func (c *Config) MaxOutputBytes() int {
	if c.RawMaxOutput > 0 {
		return c.RawMaxOutput
	}
	return 0
}

// DrainTimeout returns the configured merge-pipe drain bound or the default.
func (c *Config) DrainTimeout() time.Duration {
	if c.RawDrainTimeout != "" {
		d, err := time.ParseDuration(c.RawDrainTimeout)
		if err == nil && d > 0 {
			return d
		}
	}
	return mergepipe.DefaultDrainTimeout
}

// Signals returns the signals to relay to the child, falling back to
// signals.Forwarded.
func (c *Config) Signals() ([]os.Signal, error) {
	if len(c.ForwardSignals) == 0 {
		return signals.Forwarded, nil
	}
	out := make([]os.Signal, 0, len(c.ForwardSignals))
	for _, name := range c.ForwardSignals {
		sig, err := ParseSignal(name)
		if err != nil {
			return nil, err
		}
		out = append(out, sig)
	}
	return out, nil
}

// HistoryBackend returns the configured backend, or def when unset.
func (c *Config) HistoryBackend(def string) string {
	if c.History.Backend != "" {
		return strings.ToLower(c.History.Backend)
	}
	return def
}

// HistoryCache returns the configured LRU capacity or DefaultHistoryCache.
func (c *Config) HistoryCache() int {
	if c.History.Cache > 0 {
		return c.History.Cache
	}
	return DefaultHistoryCache
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	if c.RawDrainTimeout != "" {
		if d, err := time.ParseDuration(c.RawDrainTimeout); err != nil || d <= 0 {
			return fmt.Errorf("drain_timeout %q is not a positive duration", c.RawDrainTimeout)
		}
	}
	if _, err := c.Signals(); err != nil {
		return err
	}
	switch c.HistoryBackend(HistoryNone) {
	case HistoryNone, HistoryDisk, HistorySQLite:
	default:
		return fmt.Errorf("history.backend %q must be one of none, disk, sqlite", c.History.Backend)
	}
	return nil
}

// ParseSignal accepts names such as "SIGTERM", "TERM" or "term".
func ParseSignal(name string) (os.Signal, error) {
	n := strings.ToUpper(strings.TrimSpace(name))
	if !strings.HasPrefix(n, "SIG") {
		n = "SIG" + n
	}
	sig := unix.SignalNum(n)
	if sig == 0 {
		return nil, fmt.Errorf("unknown signal %q", name)
	}
	return sig, nil
}

// LoadResult holds the parsed config and where it came from.
type LoadResult struct {
	Config *Config
	Path   string // config file path; empty when none was found
}

// Load looks for FileName in workspace and each of its parents. If no file
// exists, a default Config is returned.
func Load(workspace string) (*LoadResult, error) {
	path, err := findConfig(workspace)
	if err != nil {
		return &LoadResult{Config: &Config{}}, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", FileName, err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", FileName, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid %s: %w", path, err)
	}
	return &LoadResult{Config: cfg, Path: path}, nil
}

// findConfig walks upward from dir looking for FileName.
func findConfig(dir string) (string, error) {
	dir, err := filepath.Abs(dir)
	if err != nil {
		return "", err
	}
	for {
		path := filepath.Join(dir, FileName)
		if info, err := os.Stat(path); err == nil && !info.IsDir() {
			return path, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", fmt.Errorf("%s not found", FileName)
		}
		dir = parent
	}
}
