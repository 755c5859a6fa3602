package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/mblsha/diagforge/internal/job"
	"github.com/mblsha/diagforge/internal/report"
	"github.com/mblsha/diagforge/internal/wire"
)

const defaultTailLines = 100

type BuildStatus struct {
	Assembler *report.Assembler
}

func (BuildStatus) Name() string { return "build_status" }

func (BuildStatus) Description() string {
	return "Report the latest build's status with its errors and warnings, errors first. " +
		"The response fits a fixed token budget; follow next_cursor to read further diagnostics."
}

func (BuildStatus) InputSchema() map[string]any {
	return object(map[string]any{
		"targets": map[string]any{
			"type":        "array",
			"items":       map[string]any{"type": "string"},
			"description": "Only report diagnostics produced by these targets.",
		},
		"max_diagnostics": map[string]any{
			"type":        "integer",
			"minimum":     1,
			"maximum":     report.MaxPageSize,
			"description": "Page size. Omit to return as many diagnostics as fit the token budget.",
		},
		"cursor": map[string]any{
			"type":        "string",
			"description": "next_cursor from a previous response.",
		},
		"severity_filter": map[string]any{
			"type":        "string",
			"enum":        []string{"error", "warning", "all"},
			"description": "Defaults to all.",
		},
		"file_pattern": map[string]any{
			"type":        "string",
			"description": "Glob over file paths, e.g. src/**/*.rs. Supports *, ? and **.",
		},
	})
}

func (t BuildStatus) Execute(ctx context.Context, args json.RawMessage) (*Result, error) {
	var req wire.Request
	if err := decodeArgs(args, &req); err != nil {
		return nil, err
	}
	resp, err := t.Assembler.Assemble(ctx, req)
	if err != nil {
		return nil, err
	}
	raw, err := json.Marshal(resp)
	if err != nil {
		return nil, fmt.Errorf("encode response: %w", err)
	}
	return &Result{Text: string(raw)}, nil
}

// Submitter queues builds.
type Submitter interface {
	Submit(ctx context.Context, targets []string) (*job.Record, error)
}

type StartBuild struct {
	Jobs Submitter
}

func (StartBuild) Name() string { return "start_build" }

func (StartBuild) Description() string {
	return "Queue a build of the given targets, or of the default targets when none are given."
}

func (StartBuild) InputSchema() map[string]any {
	return object(map[string]any{
		"targets": map[string]any{
			"type":  "array",
			"items": map[string]any{"type": "string"},
		},
	})
}

func (t StartBuild) Execute(ctx context.Context, args json.RawMessage) (*Result, error) {
	var in struct {
		Targets []string `json:"targets"`
	}
	if err := decodeArgs(args, &in); err != nil {
		return nil, err
	}
	rec, err := t.Jobs.Submit(ctx, in.Targets)
	if err != nil {
		return nil, fmt.Errorf("start build: %w", err)
	}
	raw, err := json.Marshal(map[string]any{
		"job_id":  rec.ID,
		"state":   rec.State,
		"targets": rec.Targets,
	})
	if err != nil {
		return nil, err
	}
	return &Result{Text: string(raw)}, nil
}

// LogReader reads console output of jobs.
type LogReader interface {
	Get(jobID string) (*job.Record, bool)
	Latest() (*job.Record, bool)
	ReadConsoleTail(jobID string, lines int) ([]byte, error)
}

type BuildLogTail struct {
	Jobs LogReader
}

func (BuildLogTail) Name() string { return "build_log_tail" }

func (BuildLogTail) Description() string {
	return "Return the last lines of a build's console output. Defaults to the latest build."
}

func (BuildLogTail) InputSchema() map[string]any {
	return object(map[string]any{
		"job_id": map[string]any{"type": "string"},
		"lines": map[string]any{
			"type":    "integer",
			"minimum": 1,
			"maximum": 5000,
		},
	})
}

func (t BuildLogTail) Execute(_ context.Context, args json.RawMessage) (*Result, error) {
	var in struct {
		JobID string `json:"job_id"`
		Lines int    `json:"lines"`
	}
	if err := decodeArgs(args, &in); err != nil {
		return nil, err
	}
	if in.Lines < 0 {
		return nil, errors.New("lines must be >= 1")
	}
	if in.Lines == 0 {
		in.Lines = defaultTailLines
	}

	var rec *job.Record
	var ok bool
	if id := strings.TrimSpace(in.JobID); id != "" {
		rec, ok = t.Jobs.Get(id)
		if !ok {
			return nil, fmt.Errorf("job %s not found", id)
		}
	} else if rec, ok = t.Jobs.Latest(); !ok {
		return nil, errors.New("no builds yet")
	}

	raw, err := t.Jobs.ReadConsoleTail(rec.ID, in.Lines)
	if err != nil {
		return nil, fmt.Errorf("read log of job %s: %w", rec.ID, err)
	}
	return &Result{Text: fmt.Sprintf("job %s (%s)\n%s", rec.ID, rec.State, raw)}, nil
}

func object(props map[string]any) map[string]any {
	return map[string]any{
		"type":                 "object",
		"properties":           props,
		"additionalProperties": false,
	}
}
