package schema

import "fmt"

// ConflictError reports an invalid class declaration: duplicate field names,
// colliding wire names, or inheritance rule violations. Raised at
// registration time, never at query time.
type ConflictError struct {
	Class  string
	Reason string
}

// Error implements the error interface.
func (e *ConflictError) Error() string {
	return fmt.Sprintf("schema conflict in class %q: %s", e.Class, e.Reason)
}

// UnknownClassError reports a class name that was referenced (forward
// reference, parent declaration, lookup) but never registered.
type UnknownClassError struct {
	Class string
}

// Error implements the error interface.
func (e *UnknownClassError) Error() string {
	return fmt.Sprintf("unknown document class %q", e.Class)
}

func conflictf(class, format string, args ...any) *ConflictError {
	return &ConflictError{Class: class, Reason: fmt.Sprintf(format, args...)}
}
