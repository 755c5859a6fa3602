package job

import (
	"errors"
	"fmt"
	"time"
)

type State string

const (
	StateQueued      State = "QUEUED"
	StateRunning     State = "RUNNING"
	StateSucceeded   State = "SUCCEEDED"
	StateFailed      State = "FAILED"
	StateInterrupted State = "INTERRUPTED"
)

type Record struct {
	ID string `json:"id"`

	State   State  `json:"state"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
	// FailureKind classifies the first error diagnostic of a failed build,
	// e.g. syntax, link or type.
	FailureKind string `json:"failure_kind,omitempty"`

	Targets       []string `json:"targets"`
	CurrentTarget string   `json:"current_target,omitempty"`
	Completed     int      `json:"completed"`
	Failed        int      `json:"failed"`

	ErrorCount   int `json:"error_count"`
	WarningCount int `json:"warning_count"`

	HeartbeatAt *time.Time `json:"heartbeat_at,omitempty"`

	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`

	ExitCode *int `json:"exit_code,omitempty"`
}

func New(id string, targets []string, now time.Time) *Record {
	return &Record{
		ID:        id,
		State:     StateQueued,
		Targets:   append([]string(nil), targets...),
		CreatedAt: now.UTC(),
		UpdatedAt: now.UTC(),
	}
}

func (r *Record) Transition(next State, now time.Time, message string) error {
	if !isValidTransition(r.State, next) {
		return fmt.Errorf("invalid transition %s -> %s", r.State, next)
	}
	n := now.UTC()
	r.State = next
	r.UpdatedAt = n
	r.Message = message
	if next == StateRunning {
		r.StartedAt = &n
		r.FinishedAt = nil
		r.ExitCode = nil
		r.Error = ""
		r.HeartbeatAt = &n
	}
	if r.Terminal() {
		r.FinishedAt = &n
		r.HeartbeatAt = &n
		r.CurrentTarget = ""
	}
	return nil
}

func (r *Record) MarkFailed(now time.Time, message string, err error, exitCode int) error {
	if err == nil {
		err = errors.New("build failed")
	}
	if r.State != StateRunning && r.State != StateQueued {
		return fmt.Errorf("invalid state for failure: %s", r.State)
	}
	if trErr := r.Transition(StateFailed, now, message); trErr != nil {
		return trErr
	}
	r.Error = err.Error()
	r.ExitCode = &exitCode
	return nil
}

func (r *Record) MarkSucceeded(now time.Time, message string, exitCode int) error {
	if r.State != StateRunning {
		return fmt.Errorf("invalid state for success: %s", r.State)
	}
	if err := r.Transition(StateSucceeded, now, message); err != nil {
		return err
	}
	r.Error = ""
	r.ExitCode = &exitCode
	return nil
}

// MarkInterrupted ends a queued or running job that was cancelled or timed
// out before every target finished.
func (r *Record) MarkInterrupted(now time.Time, message string) error {
	if r.State != StateRunning && r.State != StateQueued {
		return fmt.Errorf("invalid state for interruption: %s", r.State)
	}
	return r.Transition(StateInterrupted, now, message)
}

// StartTarget and FinishTarget track per-target progress of a running job.
func (r *Record) StartTarget(target string, now time.Time) {
	n := now.UTC()
	r.CurrentTarget = target
	r.UpdatedAt = n
	r.HeartbeatAt = &n
}

func (r *Record) FinishTarget(target string, ok bool, now time.Time) {
	n := now.UTC()
	if ok {
		r.Completed++
	} else {
		r.Failed++
	}
	if r.CurrentTarget == target {
		r.CurrentTarget = ""
	}
	r.UpdatedAt = n
	r.HeartbeatAt = &n
}

func (r *Record) Remaining() int {
	return max(len(r.Targets)-r.Completed-r.Failed, 0)
}

func (r *Record) Terminal() bool {
	return r.State == StateSucceeded || r.State == StateFailed || r.State == StateInterrupted
}

func isValidTransition(from, to State) bool {
	if from == to {
		return true
	}
	switch from {
	case StateQueued:
		return to == StateRunning || to == StateFailed || to == StateInterrupted
	case StateRunning:
		return to == StateSucceeded || to == StateFailed || to == StateInterrupted
	default:
		return false
	}
}
