package config

import (
	"os"
	"path/filepath"
	"slices"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/retailnext/exec-action/internal/signals"
)

func writeConfig(t *testing.T, dir, body string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, FileName), []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestLoad_FromWorkspace(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, "version: 1\nmax_output: 4096\ndrain_timeout: 1s\n")

	res, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if want := filepath.Join(dir, FileName); res.Path != want {
		t.Errorf("Path = %q, want %q", res.Path, want)
	}
	if res.Config.Version != 1 {
		t.Errorf("Config.Version = %d, want 1", res.Config.Version)
	}
	if got := res.Config.MaxOutputBytes(); got != 4096 {
		t.Errorf("MaxOutputBytes() = %d, want 4096", got)
	}
	if got := res.Config.DrainTimeout(); got != time.Second {
		t.Errorf("DrainTimeout() = %v, want 1s", got)
	}
}

func TestLoad_FromSubdirectory(t *testing.T) {
	root := t.TempDir()
	writeConfig(t, root, "version: 2\n")

	sub := filepath.Join(root, "pkg", "foo")
	if err := os.MkdirAll(sub, 0o755); err != nil {
		t.Fatal(err)
	}

	res, err := Load(sub)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if want := filepath.Join(root, FileName); res.Path != want {
		t.Errorf("Path = %q, want %q", res.Path, want)
	}
	if res.Config.Version != 2 {
		t.Errorf("Config.Version = %d, want 2", res.Config.Version)
	}
}

func TestLoad_NoFile(t *testing.T) {
	res, err := Load(t.TempDir())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if res.Path != "" {
		t.Errorf("Path = %q, want empty", res.Path)
	}

	cfg := res.Config
	if got := cfg.MaxOutputBytes(); got != 0 {
		t.Errorf("MaxOutputBytes() = %d, want 0", got)
	}
	if got := cfg.DrainTimeout(); got != 200*time.Millisecond {
		t.Errorf("DrainTimeout() = %v, want 200ms", got)
	}
	if got := cfg.HistoryBackend(HistoryDisk); got != HistoryDisk {
		t.Errorf("HistoryBackend(disk) = %q, want %q", got, HistoryDisk)
	}
	if got := cfg.HistoryCache(); got != DefaultHistoryCache {
		t.Errorf("HistoryCache() = %d, want %d", got, DefaultHistoryCache)
	}

	sigs, err := cfg.Signals()
	if err != nil {
		t.Fatalf("Signals: %v", err)
	}
	if !slices.Equal(sigs, signals.Forwarded) {
		t.Errorf("Signals() = %v, want %v", sigs, signals.Forwarded)
	}
}

func TestLoad_Malformed(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, "version: [\n")

	_, err := Load(dir)
	if err == nil {
		t.Fatal("expected error for malformed YAML")
	}
	if !strings.Contains(err.Error(), "parsing "+FileName) {
		t.Errorf("error = %q, want to mention parsing %s", err, FileName)
	}
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"drain timeout", "drain_timeout: soon\n", "drain_timeout"},
		{"signal", "forward_signals: [SIGNOPE]\n", "unknown signal"},
		{"history backend", "history:\n  backend: redis\n", "history.backend"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			writeConfig(t, dir, tt.body)
			_, err := Load(dir)
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error = %q, want to contain %q", err, tt.want)
			}
		})
	}
}

func TestConfig_Signals(t *testing.T) {
	cfg := &Config{ForwardSignals: []string{"SIGINT", "term", " hup "}}
	sigs, err := cfg.Signals()
	if err != nil {
		t.Fatalf("Signals: %v", err)
	}
	want := []os.Signal{syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP}
	if !slices.Equal(sigs, want) {
		t.Errorf("Signals() = %v, want %v", sigs, want)
	}
}

func TestConfig_History(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, "history:\n  backend: SQLite\n  path: runs.db\n  cache: 3\n")

	res, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got := res.Config.HistoryBackend(HistoryNone); got != HistorySQLite {
		t.Errorf("HistoryBackend() = %q, want %q", got, HistorySQLite)
	}
	if res.Config.History.Path != "runs.db" {
		t.Errorf("History.Path = %q, want runs.db", res.Config.History.Path)
	}
	if got := res.Config.HistoryCache(); got != 3 {
		t.Errorf("HistoryCache() = %d, want 3", got)
	}
}
