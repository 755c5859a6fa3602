package queue

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"github.com/mblsha/diagforge/internal/builder"
	"github.com/mblsha/diagforge/internal/diagnostics"
	"github.com/mblsha/diagforge/internal/job"
)

const (
	defaultConsoleTailLine = 200
	maxConsoleTailLines    = 5000
)

// ReadDiagnostics returns the diagnostics of a job as JSON. Running jobs are
// parsed from the logs written so far.
func (m *Manager) ReadDiagnostics(jobID string) ([]byte, error) {
	report, err := m.report(jobID)
	if err != nil {
		return nil, err
	}
	return json.MarshalIndent(report, "", "  ")
}

func (m *Manager) ReadConsoleTail(jobID string, lines int) ([]byte, error) {
	raw, err := m.ReadConsoleLog(jobID)
	if err != nil {
		return nil, err
	}
	if lines <= 0 {
		lines = defaultConsoleTailLine
	}
	if lines > maxConsoleTailLines {
		lines = maxConsoleTailLines
	}
	return tailLastLines(raw, lines), nil
}

func (m *Manager) report(jobID string) (job.DiagnosticsReport, error) {
	rec, ok := m.Get(jobID)
	if !ok {
		return job.DiagnosticsReport{}, os.ErrNotExist
	}
	if rec.Terminal() {
		report, err := m.store.LoadDiagnostics(jobID)
		if err == nil {
			return report, nil
		}
		if !os.IsNotExist(err) {
			return job.DiagnosticsReport{}, err
		}
	}
	return m.collectReport(jobID, rec.Targets), nil
}

// collectReport parses the per-target logs before console.log so that
// diagnostics seen in both keep their target.
func (m *Manager) collectReport(jobID string, targets []string) job.DiagnosticsReport {
	artDir := m.store.ArtifactsJobDir(jobID)
	logs := make([]diagnostics.Log, 0, len(targets)+1)
	for _, target := range targets {
		path := builder.TargetLogPath(artDir, target)
		if raw, err := os.ReadFile(path); err == nil {
			logs = append(logs, diagnostics.Log{Source: filepath.Base(path), Target: target, Data: raw})
		}
	}
	if raw, err := os.ReadFile(filepath.Join(artDir, builder.ConsoleLog)); err == nil {
		logs = append(logs, diagnostics.Log{Source: builder.ConsoleLog, Data: raw})
	}

	report := diagnostics.BuildReport(logs)
	root := m.store.WorkDir()
	if abs, err := filepath.Abs(root); err == nil {
		root = abs
	}
	diagnostics.Relativize(&report, root)
	return report
}

func inferFailure(report job.DiagnosticsReport, fallbackMessage string, buildErr error) (string, string) {
	return diagnostics.InferFailure(report, fallbackMessage, buildErr)
}

func tailLastLines(raw []byte, lines int) []byte {
	if lines <= 0 {
		return raw
	}
	s := string(raw)
	parts := strings.Split(s, "\n")
	if len(parts) == 0 {
		return raw
	}
	if parts[len(parts)-1] == "" {
		parts = parts[:len(parts)-1]
	}
	if len(parts) <= lines {
		return []byte(strings.Join(parts, "\n") + "\n")
	}
	start := len(parts) - lines
	return []byte(strings.Join(parts[start:], "\n") + "\n")
}
