package report

import (
	"errors"
	"strings"

	"github.com/mblsha/diagforge/internal/cursor"
	"github.com/mblsha/diagforge/internal/glob"
	"github.com/mblsha/diagforge/internal/wire"
)

const (
	MaxPageSize     = 1000
	MaxTargets      = 64
	MaxTargetLength = 256
)

// query is a validated request in pipeline terms. limit zero selects the
// token budget.
type query struct {
	targets     []string
	severity    wire.SeverityFilter
	pattern     string
	offset      int
	limit       int
	fingerprint uint64
}

func (a *Assembler) validate(req wire.Request) (query, error) {
	var q query

	if req.MaxDiagnostics != nil {
		switch n := *req.MaxDiagnostics; {
		case n < 1:
			return q, invalid("max_diagnostics", "must be >= 1")
		case n > MaxPageSize:
			return q, invalid("max_diagnostics", "must be <= %d", MaxPageSize)
		}
		q.limit = *req.MaxDiagnostics
	}

	if req.Page != nil {
		if *req.Page < 0 {
			return q, invalid("page", "must be >= 0")
		}
		return q, invalid("page", "not supported; pass cursor from next_cursor instead")
	}

	q.severity = wire.FilterAll
	if req.SeverityFilter != nil {
		switch s := wire.SeverityFilter(strings.ToLower(strings.TrimSpace(*req.SeverityFilter))); s {
		case wire.FilterAll, wire.FilterError, wire.FilterWarning:
			q.severity = s
		default:
			return q, invalid("severity_filter", "must be one of error|warning|all")
		}
	}

	if req.FilePattern != nil {
		if err := a.Matcher.Validate(*req.FilePattern); err != nil {
			return q, invalid("file_pattern", "%s", patternMessage(err))
		}
		q.pattern = *req.FilePattern
	}

	if len(req.Targets) > MaxTargets {
		return q, invalid("targets", "must name at most %d targets", MaxTargets)
	}
	for _, t := range req.Targets {
		t = strings.TrimSpace(t)
		if t == "" {
			return q, invalid("targets", "must not contain empty names")
		}
		if len(t) > MaxTargetLength {
			return q, invalid("targets", "names must be at most %d characters", MaxTargetLength)
		}
		q.targets = append(q.targets, t)
	}

	q.fingerprint = cursor.Fingerprint(string(q.severity), q.pattern, q.targets)
	if req.Cursor != nil {
		pos, err := cursor.Decode(*req.Cursor)
		if err != nil {
			return q, invalid("cursor", "%s", err.Error())
		}
		if pos.Fingerprint != q.fingerprint {
			return q, invalid("cursor", "was issued for a different filter; repeat the original severity_filter, file_pattern and targets")
		}
		if req.MaxDiagnostics != nil && pos.Limit != q.limit {
			return q, invalid("cursor", "page size %d does not match max_diagnostics %d", pos.Limit, q.limit)
		}
		q.offset = pos.Offset
		q.limit = pos.Limit
	}
	return q, nil
}

func patternMessage(err error) string {
	msg := err.Error()
	if errors.Is(err, glob.ErrTooComplex) {
		msg = strings.TrimPrefix(msg, glob.ErrTooComplex.Error()+": ")
	}
	return msg
}
