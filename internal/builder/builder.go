package builder

import (
	"context"
	"path/filepath"
	"strings"
	"time"
)

type TargetStatus string

const (
	TargetStarted   TargetStatus = "started"
	TargetSucceeded TargetStatus = "succeeded"
	TargetFailed    TargetStatus = "failed"
)

type ProgressUpdate struct {
	Target      string
	Status      TargetStatus
	Message     string
	HeartbeatAt time.Time
}

type ProgressFunc func(update ProgressUpdate)

type BuildJob struct {
	ID           string
	WorkDir      string
	ArtifactsDir string
	Targets      []string
	Progress     ProgressFunc
}

type BuildResult struct {
	ExitCode int
	Message  string
	Failed   []string
}

type Builder interface {
	Build(ctx context.Context, job BuildJob) (BuildResult, error)
}

const (
	ConsoleLog = "console.log"
	targetDir  = "targets"
)

// TargetLogPath is where a builder writes the output of one target.
func TargetLogPath(artifactsDir, target string) string {
	return filepath.Join(artifactsDir, targetDir, sanitize(target)+".log")
}

func sanitize(target string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			return r
		default:
			return '_'
		}
	}, target)
}

func report(job BuildJob, target string, status TargetStatus, message string) {
	if job.Progress != nil {
		job.Progress(ProgressUpdate{
			Target:      target,
			Status:      status,
			Message:     message,
			HeartbeatAt: time.Now().UTC(),
		})
	}
}
