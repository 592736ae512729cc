package ingest

import (
	"errors"
	"fmt"
)

// ErrStructuralMismatch means the page no longer matches the expected
// extraction patterns. Not retried inside a strategy; the orchestrator
// falls through to the next one.
var ErrStructuralMismatch = errors.New("page structure does not match extraction patterns")

// TransientError wraps a network-level failure that the fetcher retries
// with backoff before giving up.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string { return "transient network error: " + e.Err.Error() }
func (e *TransientError) Unwrap() error { return e.Err }

// StrategyFailure is the unrecoverable outcome of one strategy attempt.
// "No data found" is never a StrategyFailure; strategies return an empty
// success result for that.
type StrategyFailure struct {
	Strategy string
	Target   string
	Err      error
}

func (e *StrategyFailure) Error() string {
	return fmt.Sprintf("strategy %s failed for %q: %v", e.Strategy, e.Target, e.Err)
}

func (e *StrategyFailure) Unwrap() error { return e.Err }

// ValidationError marks a raw record that fails minimal shape requirements.
// The record is dropped and counted in the run summary, never fatal.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string { return "invalid record: " + e.Reason }
