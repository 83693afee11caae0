package domain

import "fmt"

// ValidationError reports malformed input. It is always raised before any
// mutation is applied.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// InvalidStateError reports an operation that is not legal in the current
// status. The aggregate is left untouched.
type InvalidStateError struct {
	Op     string
	Status string
	Reason string
}

func (e *InvalidStateError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("%s not allowed in status %q: %s", e.Op, e.Status, e.Reason)
	}
	return fmt.Sprintf("%s not allowed in status %q", e.Op, e.Status)
}

type NotFoundError struct {
	Kind string
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Kind, e.ID)
}

// ConcurrencyConflictError reports a version mismatch between the loaded
// aggregate and the stored one. Callers reload and retry.
type ConcurrencyConflictError struct {
	RequestID       string
	ExpectedVersion int64
}

func (e *ConcurrencyConflictError) Error() string {
	return fmt.Sprintf("request %q changed concurrently (expected version %d)", e.RequestID, e.ExpectedVersion)
}

// ExternalDependencyError wraps a failure in persistence or another
// collaborator. The engine never retries state-changing operations itself.
type ExternalDependencyError struct {
	Dependency string
	Err        error
}

func (e *ExternalDependencyError) Error() string {
	return fmt.Sprintf("%s failure: %v", e.Dependency, e.Err)
}

func (e *ExternalDependencyError) Unwrap() error { return e.Err }
