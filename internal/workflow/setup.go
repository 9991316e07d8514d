package workflow

import (
	"fmt"
	"io"
	"log/slog"
	"path/filepath"

	"github.com/retailnext/exec-action/internal/config"
	"github.com/retailnext/exec-action/internal/report"
	"github.com/retailnext/exec-action/internal/runner"
)

// DefaultHistoryDir is where history lives, relative to the workspace,
// when history.path is unset.
const DefaultHistoryDir = ".exec-action"

// NewRunner builds a runner for workspace from cfg.
func NewRunner(cfg *config.Config, workspace string, logger *slog.Logger) (*runner.Runner, error) {
	sigs, err := cfg.Signals()
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	return &runner.Runner{
		Workspace:    workspace,
		MaxOutput:    cfg.MaxOutputBytes(),
		DrainTimeout: cfg.DrainTimeout(),
		Signals:      sigs,
		Logger:       logger,
	}, nil
}

// OpenHistory opens the history store selected by cfg, with def as the
// backend when none is configured. It returns a nil Store for the "none"
// backend. The returned closer is never nil.
func OpenHistory(cfg *config.Config, workspace, def string) (report.Store, io.Closer, error) {
	path := cfg.History.Path
	if path != "" && !filepath.IsAbs(path) {
		path = filepath.Join(workspace, path)
	}

	switch backend := cfg.HistoryBackend(def); backend {
	case config.HistoryNone:
		return nil, nopCloser{}, nil
	case config.HistoryDisk:
		return report.NewLRUStore(cfg.HistoryCache(), report.NewDiskStore(path)), nopCloser{}, nil
	case config.HistorySQLite:
		if path == "" {
			path = filepath.Join(workspace, DefaultHistoryDir, "history.db")
		}
		db, err := report.OpenSQLite(path)
		if err != nil {
			return nil, nil, fmt.Errorf("opening history: %w", err)
		}
		return report.NewLRUStore(cfg.HistoryCache(), db), db, nil
	default:
		return nil, nil, fmt.Errorf("unknown history backend %q", backend)
	}
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
