package types

import (
	"errors"
	"fmt"
)

var (
	// ErrRunNotFound is returned for unknown run ids.
	ErrRunNotFound = errors.New("run not found")
	// ErrCancelled marks a run stopped between stages by its caller.
	ErrCancelled = errors.New("cancelled")
	// ErrConcurrencyConflict is raised by the lease table when an identity
	// already has an active run. Callers attach instead of surfacing it.
	ErrConcurrencyConflict = errors.New("identity has an active run")
)

// TransientToolError is a retryable failure of an external call.
type TransientToolError struct {
	Tool string
	Err  error
}

func (e *TransientToolError) Error() string {
	return fmt.Sprintf("%s: transient failure: %v", e.Tool, e.Err)
}

func (e *TransientToolError) Unwrap() error { return e.Err }

// FatalIngestionError aborts a run without retry.
type FatalIngestionError struct {
	Reason string
	Err    error
}

func (e *FatalIngestionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("fatal ingestion error: %s: %v", e.Reason, e.Err)
	}
	return "fatal ingestion error: " + e.Reason
}

func (e *FatalIngestionError) Unwrap() error { return e.Err }

// InsufficientEvidenceError is converted to a Refusal by the synthesizer and
// never escalates to the run.
type InsufficientEvidenceError struct {
	Topic  string
	Detail string
}

func (e *InsufficientEvidenceError) Error() string {
	return fmt.Sprintf("insufficient evidence for %q: %s", e.Topic, e.Detail)
}

// AggregationInconsistencyError reports a risk that references a missing
// finding or claim.
type AggregationInconsistencyError struct {
	RiskID string
	Source RiskSource
}

func (e *AggregationInconsistencyError) Error() string {
	return fmt.Sprintf("risk %s references missing %s %s", e.RiskID, e.Source.Kind, e.Source.ID)
}

// IsTransient reports whether err (or anything it wraps) is retryable.
func IsTransient(err error) bool {
	var t *TransientToolError
	return errors.As(err, &t)
}

// IsFatal reports whether err must abort the run without retry.
func IsFatal(err error) bool {
	var f *FatalIngestionError
	var a *AggregationInconsistencyError
	return errors.As(err, &f) || errors.As(err, &a) || errors.Is(err, ErrCancelled)
}
