package report

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/pmezard/go-difflib/difflib"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/mblsha/diagforge/internal/job"
	"github.com/mblsha/diagforge/internal/stream"
	"github.com/mblsha/diagforge/internal/wire"
)

type fakeCollaborator struct {
	progress Progress
	diags    []job.Diagnostic
	err      error
	calls    int
	jobID    string
	targets  []string
}

func (f *fakeCollaborator) Diagnostics(_ context.Context, jobID string, targets []string) ([]job.Diagnostic, error) {
	f.calls++
	f.jobID = jobID
	f.targets = targets
	if f.err != nil {
		return nil, f.err
	}
	return f.diags, nil
}

func (f *fakeCollaborator) Progress(context.Context) (Progress, error) {
	f.calls++
	if f.err != nil {
		return Progress{}, f.err
	}
	return f.progress, nil
}

func generated(n int) []job.Diagnostic {
	out := make([]job.Diagnostic, n)
	for i := range out {
		sev := job.SeverityWarning
		if i%4 == 0 {
			sev = job.SeverityError
		}
		out[i] = job.Diagnostic{
			Severity: sev,
			File:     fmt.Sprintf("src/pkg%d/file%d.rs", i%5, i),
			Line:     i + 1,
			Column:   3,
			Message:  fmt.Sprintf("unused variable number %d", i),
		}
	}
	return out
}

func ptr[T any](v T) *T { return &v }

func newTestAssembler(c Collaborator) *Assembler {
	return NewAssembler(c, nil, nil, stream.Limits{})
}

func TestAssemble_EmptyWaitingBuild(t *testing.T) {
	a := newTestAssembler(&fakeCollaborator{progress: Progress{Phase: PhaseWaiting}})
	resp, err := a.Assemble(context.Background(), wire.Request{})
	if err != nil {
		t.Fatalf("assemble: %v", err)
	}
	if resp.Status != "waiting" {
		t.Fatalf("expected waiting, got %q", resp.Status)
	}
	if resp.Diagnostics == nil || len(resp.Diagnostics) != 0 {
		t.Fatalf("expected empty non-nil diagnostics")
	}
	if !resp.Truncated || resp.TruncationReason == nil {
		t.Fatalf("expected budget truncation to be reported")
	}
	if !strings.Contains(*resp.TruncationReason, "limited to 0 of 0 diagnostics") {
		t.Fatalf("unexpected reason %q", *resp.TruncationReason)
	}
	if resp.NextCursor != nil {
		t.Fatalf("no cursor expected for an empty build")
	}
	if resp.TokenCount < 100 || resp.TokenCount > 120 {
		t.Fatalf("expected token_count within 100-120, got %d", resp.TokenCount)
	}
	if resp.Summary.BuildSummary != nil {
		t.Fatalf("waiting builds carry no build summary")
	}

	raw, _ := json.Marshal(resp)
	if !strings.Contains(string(raw), `"diagnostics":[]`) || !strings.Contains(string(raw), `"next_cursor":null`) {
		t.Fatalf("unexpected wire shape: %s", raw)
	}
}

func TestAssemble_ValidationErrors(t *testing.T) {
	negative := func() string {
		raw, _ := msgpack.Marshal(map[string]any{"v": 1, "o": -1, "l": 10, "f": 0})
		return base64.RawURLEncoding.EncodeToString(raw)
	}()
	cases := []struct {
		name  string
		req   wire.Request
		field string
		want  string
	}{
		{"negative page size", wire.Request{MaxDiagnostics: ptr(-5)}, "max_diagnostics", "must be >= 1"},
		{"zero page size", wire.Request{MaxDiagnostics: ptr(0)}, "max_diagnostics", "must be >= 1"},
		{"huge page size", wire.Request{MaxDiagnostics: ptr(1001)}, "max_diagnostics", "must be <= 1000"},
		{"negative offset", wire.Request{Cursor: ptr(negative)}, "cursor", "must be >= 0"},
		{"negative page", wire.Request{Page: ptr(-1)}, "page", "must be >= 0"},
		{"page instead of cursor", wire.Request{Page: ptr(2)}, "page", "not supported; pass cursor"},
		{"garbage cursor", wire.Request{Cursor: ptr("%%%")}, "cursor", "malformed cursor"},
		{"bad severity", wire.Request{SeverityFilter: ptr("invalid")}, "severity_filter", "error|warning|all"},
		{"eleven stars", wire.Request{FilePattern: ptr("a*b*c*d*e*f*g*h*i*j*k*")}, "file_pattern", "too many wildcards (max 10)"},
		{"long pattern", wire.Request{FilePattern: ptr(strings.Repeat("x", 201))}, "file_pattern", "max 200 characters"},
		{"empty pattern", wire.Request{FilePattern: ptr("")}, "file_pattern", "must not be empty"},
		{"empty target", wire.Request{Targets: []string{"app", " "}}, "targets", "must not contain empty names"},
		{"too many targets", wire.Request{Targets: make([]string, MaxTargets+1)}, "targets", "at most 64"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			collab := &fakeCollaborator{}
			a := newTestAssembler(collab)
			_, err := a.Assemble(context.Background(), tc.req)
			var verr *ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("expected ValidationError, got %v", err)
			}
			if verr.Field != tc.field {
				t.Fatalf("expected field %q, got %q", tc.field, verr.Field)
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("expected %q in %q", tc.want, err.Error())
			}
			if collab.calls != 0 {
				t.Fatalf("collaborator must not be called for invalid requests")
			}
		})
	}
}

func TestAssemble_SeverityIsCaseInsensitive(t *testing.T) {
	a := newTestAssembler(&fakeCollaborator{progress: Progress{Phase: PhaseFailed}, diags: generated(20)})
	resp, err := a.Assemble(context.Background(), wire.Request{SeverityFilter: ptr("ERROR")})
	if err != nil {
		t.Fatalf("assemble: %v", err)
	}
	for _, d := range resp.Diagnostics {
		if d.Severity != wire.SeverityError {
			t.Fatalf("unexpected %s", d.Severity)
		}
	}
	if resp.Summary.TotalDiagnostics != 20 || resp.Summary.ErrorCount != 5 || resp.Summary.WarningCount != 15 {
		t.Fatalf("summary must count the unfiltered build: %+v", resp.Summary)
	}
}

func TestAssemble_CollaboratorUnavailable(t *testing.T) {
	a := newTestAssembler(nil)
	if _, err := a.Assemble(context.Background(), wire.Request{}); !errors.Is(err, ErrCollaboratorUnavailable) {
		t.Fatalf("expected ErrCollaboratorUnavailable, got %v", err)
	}

	a = newTestAssembler(&fakeCollaborator{err: ErrNotInitialized})
	_, err := a.Assemble(context.Background(), wire.Request{})
	if !errors.Is(err, ErrCollaboratorUnavailable) {
		t.Fatalf("expected ErrCollaboratorUnavailable, got %v", err)
	}
	if !strings.Contains(err.Error(), "build system not connected") {
		t.Fatalf("unexpected message %q", err.Error())
	}

	boom := errors.New("disk on fire")
	a = newTestAssembler(&fakeCollaborator{err: boom})
	if _, err := a.Assemble(context.Background(), wire.Request{}); !errors.Is(err, boom) || errors.Is(err, ErrCollaboratorUnavailable) {
		t.Fatalf("expected wrapped collaborator error, got %v", err)
	}
}

func TestStatus(t *testing.T) {
	cases := []struct {
		p     Progress
		total int
		want  string
	}{
		{Progress{Phase: PhaseWaiting}, 0, "waiting"},
		{Progress{Phase: PhaseInProgress, Completed: 2, Remaining: 3, Failed: 1}, 4, "building (2/5 completed, 1 failed)"},
		{Progress{Phase: PhaseSuccess}, 0, "success"},
		{Progress{Phase: PhaseSuccess}, 3, "success_with_warnings"},
		{Progress{Phase: PhaseFailed}, 3, "failed"},
		{Progress{Phase: PhaseInterrupted}, 0, "interrupted"},
	}
	for _, tc := range cases {
		if got := Status(tc.p, tc.total); got != tc.want {
			t.Fatalf("Status(%+v, %d) = %q, want %q", tc.p, tc.total, got, tc.want)
		}
	}
}

func TestAssemble_BuildSummaryWhileBuilding(t *testing.T) {
	collab := &fakeCollaborator{
		progress: Progress{JobID: "01J0BUILD", Phase: PhaseInProgress, Completed: 1, Remaining: 2},
		diags:    generated(3),
	}
	a := newTestAssembler(collab)
	resp, err := a.Assemble(context.Background(), wire.Request{Targets: []string{" app "}})
	if err != nil {
		t.Fatalf("assemble: %v", err)
	}
	if collab.jobID != "01J0BUILD" {
		t.Fatalf("diagnostics should be read for the progress job, got %q", collab.jobID)
	}
	if resp.Status != "building (1/3 completed, 0 failed)" {
		t.Fatalf("unexpected status %q", resp.Status)
	}
	b := resp.Summary.BuildSummary
	if b == nil || b.Completed != 1 || b.Remaining != 2 || b.Failed != 0 {
		t.Fatalf("unexpected build summary %+v", b)
	}
}

func TestAssemble_CursorPagination(t *testing.T) {
	collab := &fakeCollaborator{progress: Progress{Phase: PhaseFailed}, diags: generated(250)}
	a := newTestAssembler(collab)

	req := wire.Request{MaxDiagnostics: ptr(100), FilePattern: ptr("src/**/*.rs"), Targets: []string{"app"}}
	var all []wire.Diagnostic
	for page := 0; ; page++ {
		if page > 5 {
			t.Fatalf("pagination did not terminate")
		}
		resp, err := a.Assemble(context.Background(), req)
		if err != nil {
			t.Fatalf("page %d: %v", page, err)
		}
		all = append(all, resp.Diagnostics...)
		if resp.NextCursor == nil {
			if resp.Truncated {
				t.Fatalf("last page should not be truncated")
			}
			break
		}
		if !resp.Truncated || resp.TruncationReason == nil {
			t.Fatalf("intermediate page must be marked truncated")
		}
		req.Cursor = resp.NextCursor
	}
	if len(all) != 250 {
		t.Fatalf("expected 250 diagnostics across pages, got %d", len(all))
	}
	for i := 1; i < len(all); i++ {
		if all[i-1].Severity == wire.SeverityWarning && all[i].Severity == wire.SeverityError {
			t.Fatalf("error after warning at %d", i)
		}
	}
	if len(collab.targets) != 1 || collab.targets[0] != "app" {
		t.Fatalf("targets not forwarded: %v", collab.targets)
	}
}

func TestAssemble_CursorFromOtherFilterRejected(t *testing.T) {
	a := newTestAssembler(&fakeCollaborator{progress: Progress{Phase: PhaseFailed}, diags: generated(50)})
	first, err := a.Assemble(context.Background(), wire.Request{MaxDiagnostics: ptr(10)})
	if err != nil || first.NextCursor == nil {
		t.Fatalf("expected first page with cursor, err=%v", err)
	}
	_, err = a.Assemble(context.Background(), wire.Request{Cursor: first.NextCursor, SeverityFilter: ptr("warning")})
	var verr *ValidationError
	if !errors.As(err, &verr) || verr.Field != "cursor" {
		t.Fatalf("expected cursor validation error, got %v", err)
	}
	_, err = a.Assemble(context.Background(), wire.Request{Cursor: first.NextCursor, MaxDiagnostics: ptr(20)})
	if !errors.As(err, &verr) || !strings.Contains(verr.Message, "does not match max_diagnostics") {
		t.Fatalf("expected page size conflict, got %v", err)
	}
}

func TestAssemble_Idempotent(t *testing.T) {
	a := newTestAssembler(&fakeCollaborator{progress: Progress{Phase: PhaseSuccess}, diags: generated(700)})
	req := wire.Request{SeverityFilter: ptr("all")}
	first, err := a.Assemble(context.Background(), req)
	if err != nil {
		t.Fatalf("assemble: %v", err)
	}
	second, err := a.Assemble(context.Background(), req)
	if err != nil {
		t.Fatalf("assemble: %v", err)
	}
	x, _ := json.MarshalIndent(first, "", "  ")
	y, _ := json.MarshalIndent(second, "", "  ")
	if string(x) != string(y) {
		diff, _ := difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
			A:        difflib.SplitLines(string(x)),
			B:        difflib.SplitLines(string(y)),
			FromFile: "first",
			ToFile:   "second",
			Context:  2,
		})
		t.Fatalf("responses differ:\n%s", diff)
	}
}

func TestAssemble_TokenCountPricesFinalResponse(t *testing.T) {
	a := newTestAssembler(&fakeCollaborator{progress: Progress{Phase: PhaseSuccess}, diags: generated(1500)})
	resp, err := a.Assemble(context.Background(), wire.Request{})
	if err != nil {
		t.Fatalf("assemble: %v", err)
	}
	if got := a.Estimator.Response(resp); got != resp.TokenCount {
		t.Fatalf("token_count %d does not price the final response (%d)", resp.TokenCount, got)
	}
	if resp.NextCursor == nil || len(resp.Diagnostics) == 0 || len(resp.Diagnostics) == 1500 {
		t.Fatalf("expected a partial budget page with a cursor, got %d items", len(resp.Diagnostics))
	}
	if resp.Status != "success_with_warnings" {
		t.Fatalf("unexpected status %q", resp.Status)
	}

	next, err := a.Assemble(context.Background(), wire.Request{Cursor: resp.NextCursor})
	if err != nil {
		t.Fatalf("continue: %v", err)
	}
	if next.Diagnostics[0] == resp.Diagnostics[0] {
		t.Fatalf("continuation repeated the first page")
	}
}

func TestConvert(t *testing.T) {
	out, errs, warns := convert([]job.Diagnostic{
		{Severity: job.SeverityInfo, Message: "elaborating"},
		{Severity: job.SeverityError, Code: "E0308", Message: "mismatched types", File: "src/main.rs", Line: 4, Column: 9},
		{Severity: job.SeverityWarning, Message: "no location"},
	})
	if len(out) != 2 || errs != 1 || warns != 1 {
		t.Fatalf("unexpected conversion: %+v errs=%d warns=%d", out, errs, warns)
	}
	if out[0].Message != "[E0308] mismatched types" {
		t.Fatalf("expected code prefix, got %q", out[0].Message)
	}
	if out[1].Line != 1 || out[1].Column != 1 {
		t.Fatalf("expected clamped location, got %d:%d", out[1].Line, out[1].Column)
	}
}
