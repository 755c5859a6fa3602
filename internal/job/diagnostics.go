package job

import (
	"strconv"
	"strings"
	"time"
)

type DiagnosticSeverity string

const (
	SeverityError   DiagnosticSeverity = "ERROR"
	SeverityWarning DiagnosticSeverity = "WARNING"
	// SeverityInfo records are stored but never reported to status callers.
	SeverityInfo DiagnosticSeverity = "INFO"
)

// Diagnostic is one message parsed from a build log. Source names the log it
// came from and Target the build target that log belongs to, if any.
type Diagnostic struct {
	Severity DiagnosticSeverity `json:"severity"`
	Code     string             `json:"code,omitempty"`
	Message  string             `json:"message"`
	File     string             `json:"file,omitempty"`
	Line     int                `json:"line,omitempty"`
	Column   int                `json:"column,omitempty"`
	Target   string             `json:"target,omitempty"`
	Source   string             `json:"source,omitempty"`
}

// Family is the rule family of a spaced code such as "DRC NSTD-1". Codes
// without a family part (E0308, TS2322) return "".
func (d Diagnostic) Family() string {
	family, _, ok := strings.Cut(strings.TrimSpace(d.Code), " ")
	if !ok {
		return ""
	}
	return family
}

// key ignores Target and Source so the same message read from a target log
// and from the console log is kept once.
func (d Diagnostic) key() string {
	return string(d.Severity) + "|" + d.Code + "|" + d.Message + "|" + d.File + "|" +
		strconv.Itoa(d.Line) + "|" + strconv.Itoa(d.Column)
}

const DiagnosticsSchema = 1

// DiagnosticsReport is the per-job artifact written after a build finishes.
type DiagnosticsReport struct {
	Schema       int          `json:"schema"`
	GeneratedAt  time.Time    `json:"generated_at"`
	ErrorCount   int          `json:"error_count"`
	WarningCount int          `json:"warning_count"`
	InfoCount    int          `json:"info_count"`
	Diagnostics  []Diagnostic `json:"diagnostics"`

	seen map[string]struct{}
}

func NewDiagnosticsReport(now time.Time) DiagnosticsReport {
	return DiagnosticsReport{
		Schema:      DiagnosticsSchema,
		GeneratedAt: now.UTC(),
		Diagnostics: make([]Diagnostic, 0),
	}
}

// Add appends d and bumps its severity count, unless an identical diagnostic
// is already in the report. The first occurrence keeps its Target.
func (r *DiagnosticsReport) Add(d Diagnostic) bool {
	if r.seen == nil {
		r.seen = make(map[string]struct{}, len(r.Diagnostics))
		for _, have := range r.Diagnostics {
			r.seen[have.key()] = struct{}{}
		}
	}
	k := d.key()
	if _, dup := r.seen[k]; dup {
		return false
	}
	r.seen[k] = struct{}{}
	r.Diagnostics = append(r.Diagnostics, d)
	switch d.Severity {
	case SeverityError:
		r.ErrorCount++
	case SeverityWarning:
		r.WarningCount++
	default:
		r.InfoCount++
	}
	return true
}

// RewriteFiles replaces every non-empty File with rewrite(File). Later Adds
// deduplicate against the rewritten paths.
func (r *DiagnosticsReport) RewriteFiles(rewrite func(string) string) {
	for i := range r.Diagnostics {
		if r.Diagnostics[i].File != "" {
			r.Diagnostics[i].File = rewrite(r.Diagnostics[i].File)
		}
	}
	r.seen = nil
}

// FirstError returns the earliest error in log order.
func (r DiagnosticsReport) FirstError() (Diagnostic, bool) {
	for _, d := range r.Diagnostics {
		if d.Severity == SeverityError {
			return d, true
		}
	}
	return Diagnostic{}, false
}
