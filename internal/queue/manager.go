package queue

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/mblsha/diagforge/internal/builder"
	"github.com/mblsha/diagforge/internal/config"
	"github.com/mblsha/diagforge/internal/job"
	"github.com/mblsha/diagforge/internal/store"
)

var ErrNoTargets = errors.New("no targets to build")

type Manager struct {
	cfg     config.Config
	store   *store.Store
	builder builder.Builder

	mu      sync.RWMutex
	jobs    map[string]*job.Record
	latest  string
	started bool
	queue   chan string

	once sync.Once
}

func New(cfg config.Config, st *store.Store, b builder.Builder) *Manager {
	return &Manager{
		cfg:     cfg,
		store:   st,
		builder: b,
		jobs:    map[string]*job.Record{},
		queue:   make(chan string, 4096),
	}
}

func (m *Manager) Start(ctx context.Context) error {
	if err := m.store.EnsureDirs(); err != nil {
		return err
	}
	if err := m.recoverJobs(); err != nil {
		return err
	}

	m.once.Do(func() {
		m.mu.Lock()
		m.started = true
		m.mu.Unlock()
		go m.worker(ctx)
	})
	return nil
}

func (m *Manager) Started() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.started
}

// Submit queues a build of targets, or of the configured default targets
// when none are given.
func (m *Manager) Submit(ctx context.Context, targets []string) (*job.Record, error) {
	targets = normalizeTargets(targets)
	if len(targets) == 0 {
		targets = normalizeTargets(m.cfg.DefaultTargets)
	}
	if len(targets) == 0 {
		return nil, ErrNoTargets
	}

	id := ulid.Make().String()
	if err := m.store.CreateJobLayout(id); err != nil {
		return nil, err
	}
	rec := job.New(id, targets, time.Now())
	if err := m.store.Save(rec); err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.jobs[id] = rec
	m.latest = id
	copyRec := *rec
	m.mu.Unlock()

	select {
	case m.queue <- id:
	case <-ctx.Done():
		return nil, fmt.Errorf("enqueue job %s: %w", id, ctx.Err())
	}
	log.Printf("job %s queued: targets=%s", id, strings.Join(targets, ","))
	return &copyRec, nil
}

func (m *Manager) Get(jobID string) (*job.Record, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.jobs[jobID]
	if !ok {
		return nil, false
	}
	copyRec := *rec
	return &copyRec, true
}

// Latest returns the most recently submitted job.
func (m *Manager) Latest() (*job.Record, bool) {
	m.mu.RLock()
	id := m.latest
	m.mu.RUnlock()
	if id == "" {
		return nil, false
	}
	return m.Get(id)
}

func (m *Manager) ReadConsoleLog(jobID string) ([]byte, error) {
	if _, ok := m.Get(jobID); !ok {
		return nil, os.ErrNotExist
	}
	return os.ReadFile(filepath.Join(m.store.ArtifactsJobDir(jobID), builder.ConsoleLog))
}

func (m *Manager) recoverJobs() error {
	recs, err := m.store.LoadAll()
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, rec := range recs {
		m.jobs[rec.ID] = rec
		if rec.ID > m.latest {
			m.latest = rec.ID
		}
		switch rec.State {
		case job.StateQueued:
			m.enqueue(rec.ID)
		case job.StateRunning:
			now := time.Now().UTC()
			rec.State = job.StateQueued
			rec.UpdatedAt = now
			rec.Message = "requeued after restart"
			rec.Error = ""
			rec.CurrentTarget = ""
			rec.Completed = 0
			rec.Failed = 0
			rec.StartedAt = nil
			rec.FinishedAt = nil
			rec.HeartbeatAt = nil
			rec.ExitCode = nil
			if err := m.store.Save(rec); err != nil {
				return err
			}
			m.enqueue(rec.ID)
		}
	}
	return nil
}

func (m *Manager) worker(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case id := <-m.queue:
			m.process(ctx, id)
		}
	}
}

func (m *Manager) process(parentCtx context.Context, id string) {
	m.mu.Lock()
	rec, ok := m.jobs[id]
	if !ok || rec.State != job.StateQueued {
		m.mu.Unlock()
		return
	}
	if err := rec.Transition(job.StateRunning, time.Now(), "build started"); err != nil {
		m.mu.Unlock()
		return
	}
	_ = m.store.Save(rec)
	targets := append([]string(nil), rec.Targets...)
	m.mu.Unlock()
	log.Printf("job %s running: %d targets", id, len(targets))

	ctx, cancel := context.WithTimeout(parentCtx, m.cfg.WorkerTimeout)
	defer cancel()

	result, buildErr := m.builder.Build(ctx, builder.BuildJob{
		ID:           id,
		WorkDir:      m.store.WorkDir(),
		ArtifactsDir: m.store.ArtifactsJobDir(id),
		Targets:      targets,
		Progress:     func(u builder.ProgressUpdate) { m.applyProgress(id, u) },
	})

	report := m.collectReport(id, targets)
	if err := m.store.SaveDiagnostics(id, report); err != nil {
		log.Printf("job %s: save diagnostics: %v", id, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	rec.ErrorCount = report.ErrorCount
	rec.WarningCount = report.WarningCount
	switch {
	case ctx.Err() != nil:
		msg := "build interrupted"
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			msg = fmt.Sprintf("build timed out after %s", m.cfg.WorkerTimeout)
		}
		if err := rec.MarkInterrupted(now, msg); err != nil {
			forceTerminal(rec, job.StateInterrupted, now, msg)
		}
	case buildErr != nil:
		kind, summary := inferFailure(report, result.Message, buildErr)
		if err := rec.MarkFailed(now, result.Message, errors.New(summary), result.ExitCode); err != nil {
			forceTerminal(rec, job.StateFailed, now, result.Message)
			rec.Error = summary
		}
		rec.FailureKind = kind
	default:
		if err := rec.MarkSucceeded(now, result.Message, result.ExitCode); err != nil {
			forceTerminal(rec, job.StateSucceeded, now, result.Message)
		}
	}
	_ = m.store.Save(rec)
	log.Printf("job %s %s: completed=%d failed=%d errors=%d warnings=%d",
		id, rec.State, rec.Completed, rec.Failed, rec.ErrorCount, rec.WarningCount)
}

func (m *Manager) applyProgress(id string, u builder.ProgressUpdate) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.jobs[id]
	if !ok || rec.State != job.StateRunning {
		return
	}
	switch u.Status {
	case builder.TargetStarted:
		rec.StartTarget(u.Target, u.HeartbeatAt)
	case builder.TargetSucceeded:
		rec.FinishTarget(u.Target, true, u.HeartbeatAt)
	case builder.TargetFailed:
		rec.FinishTarget(u.Target, false, u.HeartbeatAt)
	}
	if u.Message != "" {
		rec.Message = u.Message
	}
	_ = m.store.Save(rec)
}

func (m *Manager) enqueue(jobID string) {
	m.queue <- jobID
}

func forceTerminal(rec *job.Record, state job.State, now time.Time, message string) {
	n := now.UTC()
	rec.State = state
	rec.UpdatedAt = n
	rec.Message = message
	rec.FinishedAt = &n
	rec.CurrentTarget = ""
}

func normalizeTargets(targets []string) []string {
	seen := make(map[string]struct{}, len(targets))
	out := make([]string, 0, len(targets))
	for _, t := range targets {
		t = strings.TrimSpace(t)
		if t == "" {
			continue
		}
		if _, dup := seen[t]; dup {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}
