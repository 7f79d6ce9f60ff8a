package validation

import (
	"fmt"
	"strings"
)

// Kind klassifiziert einen Validierungsbefund.
type Kind string

const (
	KindEncoding  Kind = "encoding"
	KindMalformed Kind = "malformed"
	KindHeader    Kind = "header"
	KindRowLimit  Kind = "row_limit"
	KindEmpty     Kind = "empty"
	KindField     Kind = "field"
)

// Issue ist ein einzelner Befund. Row ist 1-basiert (ohne Header), 0 für Dateiebene.
type Issue struct {
	Kind    Kind   `json:"kind"`
	Row     int    `json:"row,omitempty"`
	Field   string `json:"field,omitempty"`
	Value   string `json:"value,omitempty"`
	Message string `json:"message"`
}

func (i Issue) String() string {
	if i.Kind != KindField {
		return i.Message
	}
	msg := fmt.Sprintf("row %d: %s %s", i.Row, i.Field, i.Message)
	if i.Value != "" {
		msg += ", got: " + i.Value
	}
	return msg
}

// Error wird von Validate zurückgegeben, sobald mindestens ein Befund vorliegt.
// TotalRows ist -1, wenn die Zeilenzahl nicht ermittelt werden konnte.
type Error struct {
	Issues    []Issue
	TotalRows int
}

func (e *Error) Error() string {
	return e.Summary(0)
}

// Summary verbindet die ersten max Befunde mit "; ". max <= 0 bedeutet alle.
func (e *Error) Summary(max int) string {
	shown := e.Issues
	if max > 0 && len(shown) > max {
		shown = shown[:max]
	}
	parts := make([]string, 0, len(shown))
	for _, issue := range shown {
		parts = append(parts, issue.String())
	}
	msg := strings.Join(parts, "; ")
	if rest := len(e.Issues) - len(shown); rest > 0 {
		msg += fmt.Sprintf(" (and %d more)", rest)
	}
	return msg
}

func fileError(kind Kind, message string, total int) *Error {
	return &Error{
		Issues:    []Issue{{Kind: kind, Message: message}},
		TotalRows: total,
	}
}

func rowIssue(row int, field, value, message string) Issue {
	return Issue{Kind: KindField, Row: row, Field: field, Value: value, Message: message}
}
