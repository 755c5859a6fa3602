package builder

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// FakeBuilder is intended for tests and local dry-runs. Logs scripts the
// output written for each target.
type FakeBuilder struct {
	mu sync.Mutex

	Calls []BuildJob

	Logs              map[string]string
	FailTargets       map[string]error
	BlockCh           <-chan struct{}
	HeartbeatInterval time.Duration
}

func (b *FakeBuilder) Build(ctx context.Context, job BuildJob) (BuildResult, error) {
	if err := os.MkdirAll(filepath.Join(job.ArtifactsDir, targetDir), 0o755); err != nil {
		return BuildResult{ExitCode: 1}, err
	}

	b.mu.Lock()
	b.Calls = append(b.Calls, job)
	b.mu.Unlock()

	console, err := os.OpenFile(filepath.Join(job.ArtifactsDir, ConsoleLog), os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return BuildResult{ExitCode: 1}, err
	}
	defer console.Close()

	var res BuildResult
	var firstErr error
	for i, target := range job.Targets {
		report(job, target, TargetStarted, "fake build of "+target)

		out := b.Logs[target]
		if err := os.WriteFile(TargetLogPath(job.ArtifactsDir, target), []byte(out), 0o644); err != nil {
			return BuildResult{ExitCode: 1}, err
		}
		if _, err := console.WriteString(out); err != nil {
			return BuildResult{ExitCode: 1}, err
		}

		// block after the first target so callers can observe a running build
		if i == 0 && b.BlockCh != nil {
			if err := b.block(ctx, job, target); err != nil {
				report(job, target, TargetFailed, "interrupted")
				return BuildResult{ExitCode: -1, Message: "build interrupted"}, err
			}
		}

		if err, ok := b.FailTargets[target]; ok {
			res.Failed = append(res.Failed, target)
			if firstErr == nil {
				firstErr = err
			}
			report(job, target, TargetFailed, "fake build failed")
			continue
		}
		report(job, target, TargetSucceeded, "fake build succeeded")
	}

	if firstErr != nil {
		res.ExitCode = 2
		res.Message = fmt.Sprintf("%d of %d targets failed", len(res.Failed), len(job.Targets))
		return res, firstErr
	}
	res.Message = fmt.Sprintf("fake build succeeded for %s", job.ID)
	return res, nil
}

func (b *FakeBuilder) block(ctx context.Context, job BuildJob, target string) error {
	interval := b.HeartbeatInterval
	if interval <= 0 {
		interval = 2 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			report(job, target, TargetStarted, "fake heartbeat")
		case <-b.BlockCh:
			return nil
		}
	}
}

func (b *FakeBuilder) CallCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.Calls)
}
