// Package grading turns raw detector outputs into a durian quality verdict.
//
// Everything here is pure and synchronous: raw records are normalized into
// detection sets, aggregated into an analysis summary, scored, classified,
// and finally assembled into a scan record for storage.
package grading

import "fmt"

// ValidationError reports a malformed raw detector or classifier record.
// Callers drop the offending record and keep going.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// MissingContextError reports required identity or context that was not
// supplied. It is fatal for the scan being built.
type MissingContextError struct {
	Field string
}

func (e *MissingContextError) Error() string {
	return fmt.Sprintf("missing %s", e.Field)
}
