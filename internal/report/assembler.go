package report

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/mblsha/diagforge/internal/cursor"
	"github.com/mblsha/diagforge/internal/glob"
	"github.com/mblsha/diagforge/internal/job"
	"github.com/mblsha/diagforge/internal/stream"
	"github.com/mblsha/diagforge/internal/tokens"
	"github.com/mblsha/diagforge/internal/wire"
)

// token_count prices itself; its digit width settles within a few passes.
const maxSizingPasses = 3

// Assembler turns a build-status request into a bounded report. The
// estimator and matcher caches are shared across requests.
type Assembler struct {
	Collaborator Collaborator
	Estimator    *tokens.Estimator
	Matcher      *glob.Matcher
	Limits       stream.Limits
}

func NewAssembler(c Collaborator, est *tokens.Estimator, m *glob.Matcher, limits stream.Limits) *Assembler {
	if est == nil {
		est = tokens.New(tokens.DefaultCacheSize)
	}
	if m == nil {
		m = glob.New(glob.DefaultCacheSize, glob.DefaultTimeout)
	}
	if limits == (stream.Limits{}) {
		limits = stream.DefaultLimits()
	}
	return &Assembler{Collaborator: c, Estimator: est, Matcher: m, Limits: limits}
}

func (a *Assembler) Assemble(ctx context.Context, req wire.Request) (*wire.Response, error) {
	q, err := a.validate(req)
	if err != nil {
		return nil, err
	}
	if a.Collaborator == nil {
		return nil, ErrCollaboratorUnavailable
	}

	progress, err := a.Collaborator.Progress(ctx)
	if err != nil {
		return nil, collaboratorError("fetch build progress", err)
	}
	raw, err := a.Collaborator.Diagnostics(ctx, progress.JobID, q.targets)
	if err != nil {
		return nil, collaboratorError("fetch diagnostics", err)
	}

	diags, errCount, warnCount := convert(raw)
	res := stream.Run(stream.FromSlice(diags), stream.Options{
		Severity:  q.severity,
		Pattern:   q.pattern,
		Offset:    q.offset,
		Limit:     q.limit,
		Matcher:   a.Matcher,
		Estimator: a.Estimator,
		Limits:    a.Limits,
	})

	resp := &wire.Response{
		Status:      Status(progress, len(diags)),
		Diagnostics: res.Items,
		Truncated:   res.Truncated,
		Summary: wire.Summary{
			TotalDiagnostics:    len(diags),
			ReturnedDiagnostics: len(res.Items),
			ErrorCount:          errCount,
			WarningCount:        warnCount,
			BuildSummary:        buildSummary(progress),
		},
	}
	if resp.Diagnostics == nil {
		resp.Diagnostics = []wire.Diagnostic{}
	}
	if res.Reason != "" {
		reason := res.Reason
		resp.TruncationReason = &reason
	}
	if res.HasMore {
		next, err := cursor.Encode(cursor.Position{Offset: res.NextOffset, Limit: q.limit, Fingerprint: q.fingerprint})
		if err != nil {
			return nil, fmt.Errorf("issue cursor: %w", err)
		}
		resp.NextCursor = &next
	}
	a.size(resp)

	log.Printf("build-status: job=%s status=%q returned=%d/%d truncated=%v tokens=%d",
		progress.JobID, resp.Status, resp.Summary.ReturnedDiagnostics, resp.Summary.TotalDiagnostics, resp.Truncated, resp.TokenCount)
	return resp, nil
}

func (a *Assembler) size(resp *wire.Response) {
	resp.TokenCount = 0
	for i := 0; i < maxSizingPasses; i++ {
		n := a.Estimator.Response(resp)
		if n == resp.TokenCount {
			return
		}
		resp.TokenCount = n
	}
}

func collaboratorError(op string, err error) error {
	if errors.Is(err, ErrNotInitialized) || errors.Is(err, ErrCollaboratorUnavailable) {
		return fmt.Errorf("%s: %w", op, ErrCollaboratorUnavailable)
	}
	return fmt.Errorf("%s: %w", op, err)
}

// convert maps build-log diagnostics onto the wire model. Informational
// records are dropped; locations are clamped to 1.
func convert(raw []job.Diagnostic) ([]wire.Diagnostic, int, int) {
	out := make([]wire.Diagnostic, 0, len(raw))
	errCount, warnCount := 0, 0
	for _, d := range raw {
		var sev wire.Severity
		switch d.Severity {
		case job.SeverityError:
			sev = wire.SeverityError
			errCount++
		case job.SeverityWarning:
			sev = wire.SeverityWarning
			warnCount++
		default:
			continue
		}
		msg := d.Message
		if d.Code != "" {
			msg = "[" + d.Code + "] " + msg
		}
		out = append(out, wire.Diagnostic{
			Severity: sev,
			File:     d.File,
			Line:     max(d.Line, 1),
			Column:   max(d.Column, 1),
			Message:  msg,
		})
	}
	return out, errCount, warnCount
}
