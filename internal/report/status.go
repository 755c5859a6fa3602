package report

import (
	"context"
	"fmt"

	"github.com/mblsha/diagforge/internal/job"
	"github.com/mblsha/diagforge/internal/wire"
)

type Phase int

const (
	PhaseWaiting Phase = iota
	PhaseInProgress
	PhaseSuccess
	PhaseFailed
	PhaseInterrupted
)

func (p Phase) String() string {
	switch p {
	case PhaseInProgress:
		return "in_progress"
	case PhaseSuccess:
		return "success"
	case PhaseFailed:
		return "failed"
	case PhaseInterrupted:
		return "interrupted"
	default:
		return "waiting"
	}
}

// Progress is a snapshot of the latest build. Target counters are
// meaningful once the build has left PhaseWaiting.
// Progress is one snapshot of the latest build. JobID is empty while no build
// has been submitted.
type Progress struct {
	JobID     string
	Phase     Phase
	Completed int
	Remaining int
	Failed    int
}

// Collaborator is the build system the assembler reports on. Diagnostics is
// asked for the job a Progress snapshot named, so a build submitted between
// the two calls cannot mix into the response.
type Collaborator interface {
	Progress(ctx context.Context) (Progress, error)
	Diagnostics(ctx context.Context, jobID string, targets []string) ([]job.Diagnostic, error)
}

// Status renders the progress snapshot. total is the unfiltered diagnostic
// count of the build.
func Status(p Progress, total int) string {
	switch p.Phase {
	case PhaseInProgress:
		return fmt.Sprintf("building (%d/%d completed, %d failed)", p.Completed, p.Completed+p.Remaining, p.Failed)
	case PhaseSuccess:
		if total == 0 {
			return "success"
		}
		return "success_with_warnings"
	case PhaseFailed:
		return "failed"
	case PhaseInterrupted:
		return "interrupted"
	default:
		return "waiting"
	}
}

func buildSummary(p Progress) *wire.BuildSummary {
	if p.Phase == PhaseWaiting {
		return nil
	}
	return &wire.BuildSummary{Completed: p.Completed, Remaining: p.Remaining, Failed: p.Failed}
}
