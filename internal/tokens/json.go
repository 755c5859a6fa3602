package tokens

import "github.com/mblsha/diagforge/internal/wire"

type Kind uint8

const (
	KindString Kind = iota
	KindNumber
	KindBoolean
	KindNull
	KindArray
	KindObject
)

const (
	objectOverhead = 3
	arrayOverhead  = 2
	rootOverhead   = 10
	nullValue      = 1
	booleanValue   = 1
)

// FieldOverhead prices the quoted key, the value's type punctuation and the
// separator of one JSON field.
func FieldOverhead(name string, kind Kind) int {
	return (len(name)+3+3)/4 + kindSurcharge(kind) + 1
}

func kindSurcharge(kind Kind) int {
	switch kind {
	case KindString, KindArray:
		return 2
	case KindObject:
		return 3
	default:
		return 0
	}
}

// Digits prices an integer by its width.
func Digits(n int) int {
	if n < 0 {
		n = -n
	}
	switch {
	case n < 100:
		return 1
	case n < 1000:
		return 2
	default:
		return 3
	}
}

func (e *Estimator) Diagnostic(d wire.Diagnostic) int {
	total := e.Text(string(d.Severity)) + e.Text(d.File) + e.Text(d.Message)
	total += Digits(d.Line) + Digits(d.Column)
	total += FieldOverhead("severity", KindString)
	total += FieldOverhead("file", KindString)
	total += FieldOverhead("line", KindNumber)
	total += FieldOverhead("column", KindNumber)
	total += FieldOverhead("message", KindString)
	return total + objectOverhead
}

// Response prices the finished response, token_count included. Callers must
// fill every other field first.
func (e *Estimator) Response(r *wire.Response) int {
	total := rootOverhead
	total += FieldOverhead("status", KindString) + e.Text(r.Status)

	total += FieldOverhead("diagnostics", KindArray) + arrayOverhead
	for _, d := range r.Diagnostics {
		total += e.Diagnostic(d)
	}

	total += FieldOverhead("truncated", KindBoolean) + booleanValue
	total += e.nullableString("truncation_reason", r.TruncationReason)
	total += e.nullableString("next_cursor", r.NextCursor)
	total += FieldOverhead("token_count", KindNumber) + Digits(r.TokenCount)
	total += FieldOverhead("summary", KindObject) + summaryCost(r.Summary) + objectOverhead
	return total
}

func (e *Estimator) nullableString(name string, v *string) int {
	if v == nil {
		return FieldOverhead(name, KindNull) + nullValue
	}
	return FieldOverhead(name, KindString) + e.Text(*v)
}

// summaryCost prices the members of the summary object. Nested objects pay
// their own braces on top of the parent field.
func summaryCost(s wire.Summary) int {
	total := FieldOverhead("total_diagnostics", KindNumber) + Digits(s.TotalDiagnostics)
	total += FieldOverhead("returned_diagnostics", KindNumber) + Digits(s.ReturnedDiagnostics)
	total += FieldOverhead("error_count", KindNumber) + Digits(s.ErrorCount)
	total += FieldOverhead("warning_count", KindNumber) + Digits(s.WarningCount)
	if b := s.BuildSummary; b != nil {
		nested := FieldOverhead("completed", KindNumber) + Digits(b.Completed)
		nested += FieldOverhead("remaining", KindNumber) + Digits(b.Remaining)
		nested += FieldOverhead("failed", KindNumber) + Digits(b.Failed)
		total += FieldOverhead("build_summary", KindObject) + nested + objectOverhead
	}
	return total
}
