package queue

import (
	"context"
	"fmt"
	"os"

	"github.com/mblsha/diagforge/internal/diagnostics"
	"github.com/mblsha/diagforge/internal/job"
	"github.com/mblsha/diagforge/internal/report"
)

// Collaborator reports on the latest job of a Manager. Progress picks the job;
// Diagnostics reads whichever job it is handed.
type Collaborator struct {
	m *Manager
}

var _ report.Collaborator = Collaborator{}

func (m *Manager) Collaborator() Collaborator {
	return Collaborator{m: m}
}

func (c Collaborator) Progress(ctx context.Context) (report.Progress, error) {
	if err := ctx.Err(); err != nil {
		return report.Progress{}, err
	}
	if !c.m.Started() {
		return report.Progress{}, report.ErrNotInitialized
	}
	rec, ok := c.m.Latest()
	if !ok {
		return report.Progress{Phase: report.PhaseWaiting}, nil
	}
	return report.Progress{
		JobID:     rec.ID,
		Phase:     phaseOf(rec.State),
		Completed: rec.Completed,
		Remaining: rec.Remaining(),
		Failed:    rec.Failed,
	}, nil
}

// Diagnostics returns the diagnostics of jobID, restricted to targets when
// any are given. An empty jobID means no build has been submitted yet.
func (c Collaborator) Diagnostics(ctx context.Context, jobID string, targets []string) ([]job.Diagnostic, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !c.m.Started() {
		return nil, report.ErrNotInitialized
	}
	if jobID == "" {
		return []job.Diagnostic{}, nil
	}
	rec, ok := c.m.Get(jobID)
	if !ok {
		return nil, fmt.Errorf("job %s: %w", jobID, os.ErrNotExist)
	}
	if rec.State == job.StateQueued {
		return []job.Diagnostic{}, nil
	}
	r, err := c.m.report(jobID)
	if err != nil {
		return nil, err
	}
	return diagnostics.Filter(r.Diagnostics, targets), nil
}

func phaseOf(state job.State) report.Phase {
	switch state {
	case job.StateRunning:
		return report.PhaseInProgress
	case job.StateSucceeded:
		return report.PhaseSuccess
	case job.StateFailed:
		return report.PhaseFailed
	case job.StateInterrupted:
		return report.PhaseInterrupted
	default:
		return report.PhaseWaiting
	}
}
