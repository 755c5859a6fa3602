package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/mblsha/diagforge/internal/config"
	"github.com/mblsha/diagforge/internal/job"
)

const (
	stateFile       = "state.json"
	diagnosticsFile = "diagnostics.json"
)

type Store struct {
	cfg config.Config
	mu  sync.Mutex
}

func New(cfg config.Config) *Store {
	return &Store{cfg: cfg}
}

func (s *Store) EnsureDirs() error {
	dirs := []string{s.cfg.BaseDir, s.cfg.JobsDir(), s.cfg.WorkDir(), s.cfg.ArtifactsDir()}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("ensure directory %q: %w", dir, err)
		}
	}
	return nil
}

func (s *Store) CreateJobLayout(jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, p := range []string{s.JobDir(jobID), s.ArtifactsJobDir(jobID)} {
		if err := os.MkdirAll(p, 0o755); err != nil {
			return fmt.Errorf("create path %q: %w", p, err)
		}
	}
	return nil
}

func (s *Store) Save(record *job.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return writeJSON(s.StatePath(record.ID), record)
}

func (s *Store) Load(jobID string) (*job.Record, error) {
	raw, err := os.ReadFile(s.StatePath(jobID))
	if err != nil {
		return nil, err
	}
	var rec job.Record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("parse state file: %w", err)
	}
	return &rec, nil
}

// LoadAll returns every persisted job, oldest first.
func (s *Store) LoadAll() ([]*job.Record, error) {
	entries, err := os.ReadDir(s.cfg.JobsDir())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("list jobs: %w", err)
	}

	records := make([]*job.Record, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		rec, err := s.Load(entry.Name())
		if err != nil {
			return nil, fmt.Errorf("load job %q: %w", entry.Name(), err)
		}
		records = append(records, rec)
	}
	sort.Slice(records, func(i, j int) bool {
		if records[i].CreatedAt.Equal(records[j].CreatedAt) {
			return records[i].ID < records[j].ID
		}
		return records[i].CreatedAt.Before(records[j].CreatedAt)
	})
	return records, nil
}

func (s *Store) SaveDiagnostics(jobID string, report job.DiagnosticsReport) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return writeJSON(s.DiagnosticsPath(jobID), report)
}

func (s *Store) LoadDiagnostics(jobID string) (job.DiagnosticsReport, error) {
	raw, err := os.ReadFile(s.DiagnosticsPath(jobID))
	if err != nil {
		return job.DiagnosticsReport{}, err
	}
	var report job.DiagnosticsReport
	if err := json.Unmarshal(raw, &report); err != nil {
		return job.DiagnosticsReport{}, fmt.Errorf("parse diagnostics report: %w", err)
	}
	return report, nil
}

func (s *Store) JobDir(jobID string) string {
	return filepath.Join(s.cfg.JobsDir(), jobID)
}

func (s *Store) StatePath(jobID string) string {
	return filepath.Join(s.JobDir(jobID), stateFile)
}

func (s *Store) DiagnosticsPath(jobID string) string {
	return filepath.Join(s.ArtifactsJobDir(jobID), diagnosticsFile)
}

// WorkDir is shared by every job: builds run against the configured
// workspace, not a per-job copy.
func (s *Store) WorkDir() string {
	return s.cfg.WorkDir()
}

func (s *Store) ArtifactsJobDir(jobID string) string {
	return filepath.Join(s.cfg.ArtifactsDir(), jobID)
}

// writeJSON replaces path atomically so readers never see a partial file.
func writeJSON(path string, v any) error {
	raw, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", filepath.Base(path), err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", filepath.Base(path), err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("replace %s: %w", filepath.Base(path), err)
	}
	return nil
}
