package wire

type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

type SeverityFilter string

const (
	FilterAll     SeverityFilter = "all"
	FilterError   SeverityFilter = "error"
	FilterWarning SeverityFilter = "warning"
)

func (f SeverityFilter) Allows(s Severity) bool {
	switch f {
	case FilterError:
		return s == SeverityError
	case FilterWarning:
		return s == SeverityWarning
	default:
		return true
	}
}

type Diagnostic struct {
	Severity Severity `json:"severity" yaml:"severity"`
	File     string   `json:"file" yaml:"file"`
	Line     int      `json:"line" yaml:"line"`
	Column   int      `json:"column" yaml:"column"`
	Message  string   `json:"message" yaml:"message"`
}

type BuildSummary struct {
	Completed int `json:"completed" yaml:"completed"`
	Remaining int `json:"remaining" yaml:"remaining"`
	Failed    int `json:"failed" yaml:"failed"`
}

type Summary struct {
	TotalDiagnostics    int           `json:"total_diagnostics" yaml:"total_diagnostics"`
	ReturnedDiagnostics int           `json:"returned_diagnostics" yaml:"returned_diagnostics"`
	ErrorCount          int           `json:"error_count" yaml:"error_count"`
	WarningCount        int           `json:"warning_count" yaml:"warning_count"`
	BuildSummary        *BuildSummary `json:"build_summary,omitempty" yaml:"build_summary,omitempty"`
}

// Response is the bounded build-status report. TruncationReason and
// NextCursor are always serialized, as null when unset, so the token estimate
// prices exactly what goes on the wire.
type Response struct {
	Status           string       `json:"status" yaml:"status"`
	Diagnostics      []Diagnostic `json:"diagnostics" yaml:"diagnostics"`
	Truncated        bool         `json:"truncated" yaml:"truncated"`
	TruncationReason *string      `json:"truncation_reason" yaml:"truncation_reason"`
	NextCursor       *string      `json:"next_cursor" yaml:"next_cursor"`
	TokenCount       int          `json:"token_count" yaml:"token_count"`
	Summary          Summary      `json:"summary" yaml:"summary"`
}

type Request struct {
	Targets        []string `json:"targets,omitempty"`
	MaxDiagnostics *int     `json:"max_diagnostics,omitempty"`
	Cursor         *string  `json:"cursor,omitempty"`
	SeverityFilter *string  `json:"severity_filter,omitempty"`
	FilePattern    *string  `json:"file_pattern,omitempty"`

	// Page is always rejected; pagination is cursor-only. It is decoded so
	// a client sending it gets an error rather than an unpaged response.
	Page *int `json:"page,omitempty"`
}
