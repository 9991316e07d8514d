package report

import (
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"github.com/jmgilman/go/errors"
)

// DiskStore writes each RunResult as a JSON file. Without a configured
// directory, a temp directory is created lazily on first use.
type DiskStore struct {
	mu  sync.Mutex
	dir string
}

// NewDiskStore creates a DiskStore rooted at dir. An empty dir defers to a
// fresh temp directory.
func NewDiskStore(dir string) *DiskStore {
	return &DiskStore{dir: dir}
}

// Dir returns the directory results are written to, creating it if needed.
func (s *DiskStore) Dir() (string, error) {
	return s.ensureDir()
}

func (s *DiskStore) Save(result *RunResult) error {
	dir, err := s.ensureDir()
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return fmt.Errorf("marshalling run %s: %w", result.ID, err)
	}
	// Write then rename so a concurrent Load never sees a partial file.
	path := s.path(dir, result.ID)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("writing run %s: %w", result.ID, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("writing run %s: %w", result.ID, err)
	}
	return nil
}

func (s *DiskStore) Load(runID string) (*RunResult, error) {
	if runID == "" || filepath.Base(runID) != runID {
		return nil, notFound(runID)
	}
	dir, err := s.ensureDir()
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(s.path(dir, runID))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, errors.Wrapf(err, CodeRunNotFound, "no run %q", runID)
	}
	if err != nil {
		return nil, fmt.Errorf("reading run %s: %w", runID, err)
	}
	var result RunResult
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("unmarshalling run %s: %w", runID, err)
	}
	return &result, nil
}

// Recent lists up to limit runs, newest first. Unreadable files are skipped.
func (s *DiskStore) Recent(limit int) ([]Summary, error) {
	dir, err := s.ensureDir()
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("listing runs: %w", err)
	}

	var out []Summary
	for _, e := range entries {
		id, ok := strings.CutSuffix(e.Name(), ".json")
		if !ok || e.IsDir() {
			continue
		}
		r, err := s.Load(id)
		if err != nil {
			continue
		}
		out = append(out, r.summary())
	}
	slices.SortFunc(out, func(a, b Summary) int { return b.StartedAt.Compare(a.StartedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *DiskStore) path(dir, runID string) string {
	return filepath.Join(dir, runID+".json")
}

func (s *DiskStore) ensureDir() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dir != "" {
		if err := os.MkdirAll(s.dir, 0o755); err != nil {
			return "", fmt.Errorf("creating run directory: %w", err)
		}
		return s.dir, nil
	}
	dir, err := os.MkdirTemp("", "exec-action-runs-*")
	if err != nil {
		return "", fmt.Errorf("creating run directory: %w", err)
	}
	s.dir = dir
	return dir, nil
}
