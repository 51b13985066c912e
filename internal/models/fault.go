package models

import "fmt"

// FaultKind partitions failures so retry policy and quality tagging are
// decidable by inspection rather than by string matching.
type FaultKind string

const (
	// FaultTransient covers I/O glitches, subprocess timeouts and AI
	// rate limits. Retriable; counts against the circuit breaker.
	FaultTransient FaultKind = "transient"

	// FaultPolicy covers guard rejections (path, command, protected
	// file). Not retriable within the cycle.
	FaultPolicy FaultKind = "policy"

	// FaultValidation covers schema-invalid stores and malformed
	// generated artifacts. The artifact is rejected and regenerated up
	// to the retry cap.
	FaultValidation FaultKind = "validation"

	// FaultFatal covers unhandled failures inside the orchestrator.
	FaultFatal FaultKind = "fatal"
)

// Fault is a typed failure carried inside PhaseResult and repository
// errors.
type Fault struct {
	Kind    FaultKind
	Message string
	Err     error
}

// NewFault builds a fault wrapping an optional cause.
func NewFault(kind FaultKind, message string, err error) *Fault {
	return &Fault{Kind: kind, Message: message, Err: err}
}

// Error implements the error interface.
func (f *Fault) Error() string {
	if f.Err != nil {
		return fmt.Sprintf("%s: %s: %v", f.Kind, f.Message, f.Err)
	}
	return fmt.Sprintf("%s: %s", f.Kind, f.Message)
}

// Unwrap exposes the cause for errors.Is/As.
func (f *Fault) Unwrap() error { return f.Err }

// Retriable reports whether the fault may be retried within the cycle.
func (f *Fault) Retriable() bool {
	return f != nil && (f.Kind == FaultTransient || f.Kind == FaultValidation)
}
