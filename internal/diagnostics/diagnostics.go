package diagnostics

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/mblsha/diagforge/internal/job"
)

// Log is one captured build log. Target is empty for logs that mix every
// target, such as console.log.
type Log struct {
	Source string
	Target string
	Data   []byte
}

var (
	// path:line[:col]: severity[code]: message
	compilerLine = regexp.MustCompile(`^(.+?):(\d+):(?:(\d+):)?\s*(fatal error|error|warning)(?:\[([^\]]+)\])?:\s*(.*)$`)
	// path.go:line:col: message, as printed by the go toolchain
	goLine = regexp.MustCompile(`^(.+?\.go):(\d+):(\d+):\s+(.+)$`)
	// path(line[,col]): severity CODE: message
	msvcLine = regexp.MustCompile(`^(.+?)\((\d+)(?:,(\d+))?\)\s*:\s*(error|warning)\s+([A-Za-z]*\d+)\s*:\s*(.*)$`)
	// severity[code]: message, located by a following --> line
	rustHeader   = regexp.MustCompile(`^(error|warning)(?:\[([A-Za-z0-9]+)\])?:\s+(.+)$`)
	rustLocation = regexp.MustCompile(`^-->\s+(.+?):(\d+):(\d+)$`)
	rustSummary  = regexp.MustCompile(`^(aborting due to|could not compile|build failed|.*generated \d+ warnings?)`)
)

func BuildReport(logs []Log) job.DiagnosticsReport {
	report := job.NewDiagnosticsReport(time.Now())
	add := func(d job.Diagnostic) { report.Add(d) }

	for _, l := range logs {
		p := &lineParser{source: l.Source, target: l.Target, emit: add}
		reader := bufio.NewReader(bytes.NewReader(l.Data))
		for {
			line, err := reader.ReadString('\n')
			if len(line) > 0 {
				p.feed(strings.TrimRight(line, "\r\n"))
			}
			if err == io.EOF || err != nil {
				break
			}
		}
		p.flush()
	}
	return report
}

// Relativize rewrites file paths under root to be relative to it, so file
// patterns can be written against the project layout.
func Relativize(report *job.DiagnosticsReport, root string) {
	if root == "" {
		return
	}
	report.RewriteFiles(func(file string) string {
		if !filepath.IsAbs(file) {
			return file
		}
		if rel, err := filepath.Rel(root, file); err == nil && !strings.HasPrefix(rel, "..") {
			return filepath.ToSlash(rel)
		}
		return file
	})
}

// Filter keeps diagnostics produced by the given targets. Diagnostics that
// only appeared in mixed logs have no target and are kept.
func Filter(diags []job.Diagnostic, targets []string) []job.Diagnostic {
	if len(targets) == 0 {
		return diags
	}
	want := make(map[string]struct{}, len(targets))
	for _, t := range targets {
		want[t] = struct{}{}
	}
	out := make([]job.Diagnostic, 0, len(diags))
	for _, d := range diags {
		if _, ok := want[d.Target]; ok || d.Target == "" {
			out = append(out, d)
		}
	}
	return out
}

type lineParser struct {
	source  string
	target  string
	emit    func(job.Diagnostic)
	pending *job.Diagnostic
}

func (p *lineParser) feed(rawLine string) {
	line := strings.TrimSpace(rawLine)
	if line == "" {
		return
	}
	if p.pending != nil {
		if m := rustLocation.FindStringSubmatch(line); m != nil {
			d := *p.pending
			d.File = m[1]
			d.Line = atoi(m[2])
			d.Column = atoi(m[3])
			p.pending = nil
			p.emit(d)
			return
		}
	}

	d, ok := parseLine(line)
	if !ok {
		if m := rustHeader.FindStringSubmatch(line); m != nil && !rustSummary.MatchString(m[3]) {
			p.flush()
			p.pending = &job.Diagnostic{
				Severity: severityOf(m[1]),
				Code:     m[2],
				Message:  m[3],
				Target:   p.target,
				Source:   p.source,
			}
		}
		return
	}
	p.flush()
	d.Target = p.target
	d.Source = p.source
	p.emit(d)
}

// flush emits a header that never got a location.
func (p *lineParser) flush() {
	if p.pending != nil {
		p.emit(*p.pending)
		p.pending = nil
	}
}

func parseLine(line string) (job.Diagnostic, bool) {
	if d, ok := parseVivado(line); ok {
		return d, true
	}
	if m := msvcLine.FindStringSubmatch(line); m != nil {
		return job.Diagnostic{
			Severity: severityOf(m[4]),
			Code:     m[5],
			Message:  strings.TrimSpace(m[6]),
			File:     m[1],
			Line:     atoi(m[2]),
			Column:   atoi(m[3]),
		}, true
	}
	if m := compilerLine.FindStringSubmatch(line); m != nil {
		return job.Diagnostic{
			Severity: severityOf(m[4]),
			Code:     m[5],
			Message:  strings.TrimSpace(m[6]),
			File:     m[1],
			Line:     atoi(m[2]),
			Column:   atoi(m[3]),
		}, true
	}
	if m := goLine.FindStringSubmatch(line); m != nil {
		return job.Diagnostic{
			Severity: job.SeverityError,
			Message:  strings.TrimSpace(m[4]),
			File:     m[1],
			Line:     atoi(m[2]),
			Column:   atoi(m[3]),
		}, true
	}
	return job.Diagnostic{}, false
}

func severityOf(word string) job.DiagnosticSeverity {
	switch strings.ToLower(word) {
	case "error", "fatal error":
		return job.SeverityError
	case "warning":
		return job.SeverityWarning
	default:
		return job.SeverityInfo
	}
}

func parseVivado(line string) (job.Diagnostic, bool) {
	var severity job.DiagnosticSeverity
	var rest string
	switch {
	case strings.HasPrefix(line, "ERROR:"):
		severity = job.SeverityError
		rest = strings.TrimSpace(strings.TrimPrefix(line, "ERROR:"))
	case strings.HasPrefix(line, "CRITICAL WARNING:"):
		severity = job.SeverityWarning
		rest = strings.TrimSpace(strings.TrimPrefix(line, "CRITICAL WARNING:"))
	case strings.HasPrefix(line, "WARNING:"):
		severity = job.SeverityWarning
		rest = strings.TrimSpace(strings.TrimPrefix(line, "WARNING:"))
	case strings.HasPrefix(line, "INFO:"):
		severity = job.SeverityInfo
		rest = strings.TrimSpace(strings.TrimPrefix(line, "INFO:"))
	default:
		return job.Diagnostic{}, false
	}

	d := job.Diagnostic{Severity: severity}
	if strings.HasPrefix(rest, "[") {
		if end := strings.Index(rest, "]"); end > 1 {
			d.Code = strings.TrimSpace(rest[1:end])
			rest = strings.TrimSpace(rest[end+1:])
		}
	}

	msg, file, lineNo, col := splitTrailingLocation(rest)
	d.Message = msg
	d.File = file
	d.Line = lineNo
	d.Column = col
	if d.Message == "" {
		d.Message = rest
	}
	return d, true
}

func InferFailure(report job.DiagnosticsReport, fallbackMessage string, buildErr error) (string, string) {
	if d, ok := report.FirstError(); ok {
		return classify(d), formatSummary(d)
	}
	msg := strings.TrimSpace(fallbackMessage)
	if msg == "" && buildErr != nil {
		msg = strings.TrimSpace(buildErr.Error())
	}
	if msg == "" {
		msg = "build failed"
	}
	return "internal", msg
}

func classify(d job.Diagnostic) string {
	lower := strings.ToLower(d.Message + " " + d.Code + " " + d.File)
	switch {
	case strings.Contains(lower, "syntax") || strings.Contains(lower, "expected expression") || strings.Contains(lower, "unexpected"):
		return "syntax"
	case strings.Contains(lower, "undefined reference") || strings.Contains(lower, "unresolved external") || strings.Contains(lower, "ld returned"):
		return "link"
	case strings.Contains(lower, "type") || strings.Contains(lower, "mismatch") || strings.HasPrefix(d.Code, "TS"):
		return "type"
	case strings.Contains(lower, "constraint") || strings.Contains(lower, ".xdc") || strings.EqualFold(d.Family(), "DRC"):
		return "constraints"
	case strings.Contains(lower, "timing"):
		return "timing"
	default:
		return "compile"
	}
}

func formatSummary(d job.Diagnostic) string {
	code := strings.TrimSpace(d.Code)
	where := ""
	if d.File != "" && d.Line > 0 {
		where = fmt.Sprintf(" (%s:%d)", d.File, d.Line)
	} else if d.File != "" {
		where = fmt.Sprintf(" (%s)", d.File)
	}
	if code != "" {
		return fmt.Sprintf("[%s] %s%s", code, d.Message, where)
	}
	return d.Message + where
}

func splitTrailingLocation(msg string) (string, string, int, int) {
	msg = strings.TrimSpace(msg)
	if !strings.HasSuffix(msg, "]") {
		return msg, "", 0, 0
	}
	start := strings.LastIndex(msg, " [")
	if start < 0 {
		return msg, "", 0, 0
	}
	location := strings.TrimSpace(msg[start+2 : len(msg)-1])
	if location == "" {
		return msg, "", 0, 0
	}
	path, line, col := parseLocation(location)
	if path == "" {
		return msg, "", 0, 0
	}
	return strings.TrimSpace(msg[:start]), path, line, col
}

func parseLocation(location string) (string, int, int) {
	parts := strings.Split(location, ":")
	if len(parts) < 2 {
		return location, 0, 0
	}
	last := strings.TrimSpace(parts[len(parts)-1])
	if n, ok := parseInt(last); ok {
		if len(parts) >= 3 {
			prev := strings.TrimSpace(parts[len(parts)-2])
			if ln, ok := parseInt(prev); ok {
				return strings.Join(parts[:len(parts)-2], ":"), ln, n
			}
		}
		return strings.Join(parts[:len(parts)-1], ":"), n, 0
	}
	return location, 0, 0
}

func parseInt(v string) (int, bool) {
	if v == "" {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}

func atoi(v string) int {
	n, _ := parseInt(v)
	return n
}
