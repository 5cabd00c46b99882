package query

import (
	"fmt"
	"strings"
)

// LookupError reports a query/update key whose path cannot be resolved
// against the schema. It names the offending segment, the original key, the
// wire prefix resolved so far, and close field-name candidates.
type LookupError struct {
	Key         string
	Segment     string
	Resolved    []string
	Suggestions []string
}

// Error implements the error interface.
func (e *LookupError) Error() string {
	msg := fmt.Sprintf("cannot resolve field %q in key %q", e.Segment, e.Key)

	if len(e.Resolved) > 0 {
		msg += fmt.Sprintf(" (resolved prefix %q)", strings.Join(e.Resolved, "."))
	}

	if len(e.Suggestions) > 0 {
		msg += fmt.Sprintf("; did you mean %q?", strings.Join(e.Suggestions, `", "`))
	}

	return msg
}

// JoinError reports an attempt to resolve a path through a reference field.
// Cross-reference joins are not supported by the wire query language.
type JoinError struct {
	Key   string
	Field string
}

// Error implements the error interface.
func (e *JoinError) Error() string {
	return fmt.Sprintf(
		"cannot query through reference field %q in key %q: joins are not supported",
		e.Field, e.Key)
}

// InvalidQueryError reports a structurally resolvable query that represents
// an unsupported operation: a join, a malformed operand shape, or an invalid
// combinator use.
type InvalidQueryError struct {
	Reason string
	Cause  error
}

// Error implements the error interface.
func (e *InvalidQueryError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("invalid query: %s: %v", e.Reason, e.Cause)
	}

	return "invalid query: " + e.Reason
}

// Unwrap returns the underlying cause, if any.
func (e *InvalidQueryError) Unwrap() error { return e.Cause }

// OperationError reports an update that is semantically empty or
// self-contradictory.
type OperationError struct {
	Reason string
}

// Error implements the error interface.
func (e *OperationError) Error() string {
	return "invalid update operation: " + e.Reason
}

func invalidf(format string, args ...any) *InvalidQueryError {
	return &InvalidQueryError{Reason: fmt.Sprintf(format, args...)}
}

func operationf(format string, args ...any) *OperationError {
	return &OperationError{Reason: fmt.Sprintf(format, args...)}
}
