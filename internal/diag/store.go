// Package diag manages per-run diagnostic artifacts: checkpoint screenshots
// and a manifest describing how far the pipeline got. These are write-only
// side files for diagnosing target-site layout drift, never read back by
// the engine.
package diag

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"time"
)

type Run struct {
	ID          string    `json:"id"`
	StartedAt   time.Time `json:"started_at"`
	FinishedAt  time.Time `json:"finished_at"`
	State       string    `json:"state"`
	Success     bool      `json:"success"`
	ErrorKind   string    `json:"error_kind,omitempty"`
	QuoteURL    string    `json:"quote_url,omitempty"`
	QuoteCount  int       `json:"quote_count"`
	Screenshots []string  `json:"screenshots,omitempty"`
}

type Store struct {
	Root       string
	DefaultTTL time.Duration
}

func (s Store) EnsureDir() error {
	return os.MkdirAll(s.Root, 0o755)
}

func (s Store) RunDir(id string) string {
	return filepath.Join(s.Root, id)
}

func (s Store) EnsureRunDir(id string) error {
	if id == "" {
		return errors.New("run id required")
	}
	return os.MkdirAll(s.RunDir(id), 0o755)
}

func (s Store) ManifestPath(id string) string {
	return filepath.Join(s.RunDir(id), "run.json")
}

func (s Store) ScreenshotPath(id, label string) string {
	return filepath.Join(s.RunDir(id), label+".png")
}

func (s Store) Load(id string) (Run, error) {
	b, err := os.ReadFile(s.ManifestPath(id))
	if err != nil {
		return Run{}, err
	}
	var r Run
	if err := json.Unmarshal(b, &r); err != nil {
		return Run{}, err
	}
	return r, nil
}

func (s Store) Save(r Run) error {
	if r.ID == "" {
		return errors.New("run id required")
	}
	if err := s.EnsureRunDir(r.ID); err != nil {
		return err
	}
	b, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(s.ManifestPath(r.ID), b, 0o644)
}

// List returns all recorded runs, newest first. Directories without a
// readable manifest are ignored.
func (s Store) List() ([]Run, error) {
	entries, err := os.ReadDir(s.Root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	runs := make([]Run, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		r, err := s.Load(entry.Name())
		if err != nil {
			continue
		}
		runs = append(runs, r)
	}
	sort.Slice(runs, func(i, j int) bool {
		return runs[i].StartedAt.After(runs[j].StartedAt)
	})
	return runs, nil
}

func (s Store) Remove(id string) error {
	if id == "" {
		return errors.New("run id required")
	}
	return os.RemoveAll(s.RunDir(id))
}

func (s Store) IsExpired(r Run) bool {
	if s.DefaultTTL <= 0 {
		return false
	}
	ref := r.FinishedAt
	if ref.IsZero() {
		ref = r.StartedAt
	}
	return time.Now().UTC().After(ref.Add(s.DefaultTTL))
}

// Prune removes runs older than the store TTL and returns what it removed.
func (s Store) Prune() ([]Run, error) {
	runs, err := s.List()
	if err != nil {
		return nil, err
	}
	removed := make([]Run, 0)
	for _, r := range runs {
		if s.IsExpired(r) {
			if err := s.Remove(r.ID); err != nil {
				return removed, err
			}
			removed = append(removed, r)
		}
	}
	return removed, nil
}
