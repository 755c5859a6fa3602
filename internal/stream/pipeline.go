package stream

import (
	"fmt"

	"github.com/mblsha/diagforge/internal/glob"
	"github.com/mblsha/diagforge/internal/tokens"
	"github.com/mblsha/diagforge/internal/wire"
)

type Limits struct {
	// BufferCeiling is the priority buffer capacity. It does not depend on
	// the requested offset or page size.
	BufferCeiling   int
	OutputCeiling   int
	MaxTokens       int
	MetadataReserve int
}

func DefaultLimits() Limits {
	return Limits{
		BufferCeiling:   10_000,
		OutputCeiling:   1_000,
		MaxTokens:       25_000,
		MetadataReserve: 1_000,
	}
}

type Options struct {
	Severity wire.SeverityFilter
	Pattern  string

	Offset int
	// Limit > 0 selects page mode. Zero fills the token budget instead.
	Limit int

	Matcher   *glob.Matcher
	Estimator *tokens.Estimator
	Limits    Limits
}

type Result struct {
	Items     []wire.Diagnostic
	Truncated bool
	Reason    string

	// HasMore reports items left after this slice within the buffered set;
	// NextOffset is where the next slice starts.
	HasMore    bool
	NextOffset int

	Buffered   int
	Overflowed bool
}

// Run filters src by severity and file pattern, buffers it errors-first and
// selects either one page or as many items as fit the token budget.
func Run(src Seq[wire.Diagnostic], opts Options) Result {
	lim := opts.Limits
	if lim == (Limits{}) {
		lim = DefaultLimits()
	}

	filtered := Filter(src, func(d wire.Diagnostic) bool {
		return opts.Severity.Allows(d.Severity)
	})
	if opts.Pattern != "" && opts.Matcher != nil {
		filtered = Filter(filtered, func(d wire.Diagnostic) bool {
			return opts.Matcher.MatchPath(opts.Pattern, d.File)
		})
	}

	buf := NewPriorityBuffer(lim.BufferCeiling)
	buf.Fill(filtered)

	offset := max(opts.Offset, 0)
	res := Result{Buffered: buf.Len(), Overflowed: buf.Overflowed()}
	if opts.Limit > 0 {
		page(&res, buf, offset, min(opts.Limit, lim.OutputCeiling))
	} else {
		budget(&res, buf, offset, opts.Estimator, lim)
	}
	if res.Overflowed && !res.HasMore {
		res.Truncated = true
		res.Reason = appendReason(res.Reason, fmt.Sprintf(
			"stopped buffering at %d diagnostics; narrow severity_filter or file_pattern to see the rest",
			lim.BufferCeiling))
	}
	return res
}

func page(res *Result, buf *PriorityBuffer, offset, limit int) {
	res.Items = Collect(Take(Skip(buf.Drain(), offset), limit), 0)
	end := offset + len(res.Items)
	res.HasMore = end < res.Buffered
	if res.HasMore {
		res.NextOffset = end
		res.Truncated = true
		res.Reason = fmt.Sprintf("showing diagnostics %d-%d of %d; pass next_cursor for more",
			offset+1, end, res.Buffered)
	}
}

func budget(res *Result, buf *PriorityBuffer, offset int, est *tokens.Estimator, lim Limits) {
	if est == nil {
		est = tokens.New(0)
	}
	available := max(res.Buffered-offset, 0)
	items := Skip(buf.Drain(), offset)
	running := lim.MetadataReserve
	res.Items = []wire.Diagnostic{}
	for len(res.Items) < lim.OutputCeiling {
		d, ok := items()
		if !ok {
			break
		}
		cost := tokens.Scaled(est.Diagnostic(d))
		if running+cost > lim.MaxTokens {
			break
		}
		running += cost
		res.Items = append(res.Items, d)
	}

	end := offset + len(res.Items)
	res.HasMore = end < res.Buffered
	if res.HasMore {
		res.NextOffset = end
	}
	res.Truncated = true
	if len(res.Items) == lim.OutputCeiling && res.HasMore {
		res.Reason = fmt.Sprintf("limited to %d of %d diagnostics by the %d-item output ceiling",
			len(res.Items), available, lim.OutputCeiling)
		return
	}
	res.Reason = fmt.Sprintf("limited to %d of %d diagnostics by the %d-token response budget (%d reserved for metadata)",
		len(res.Items), available, lim.MaxTokens, lim.MetadataReserve)
}

func appendReason(reason, more string) string {
	if reason == "" {
		return more
	}
	return reason + "; " + more
}
