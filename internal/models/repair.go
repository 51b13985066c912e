package models

import "time"

// ErrorCategory classifies an externally reported error.
type ErrorCategory string

const (
	ErrorTransient     ErrorCategory = "transient"
	ErrorPermanent     ErrorCategory = "permanent"
	ErrorResource      ErrorCategory = "resource"
	ErrorExternal      ErrorCategory = "external"
	ErrorConfiguration ErrorCategory = "configuration"
	ErrorValidation    ErrorCategory = "validation"
	ErrorTimeout       ErrorCategory = "timeout"
	ErrorUnknown       ErrorCategory = "unknown"
)

// ErrorStatus is the lifecycle state of an aggregated error.
type ErrorStatus string

const (
	ErrorNew       ErrorStatus = "new"
	ErrorQueued    ErrorStatus = "queued"
	ErrorRepairing ErrorStatus = "repairing"
	ErrorResolved  ErrorStatus = "resolved"
	ErrorFailed    ErrorStatus = "failed"
	ErrorIgnored   ErrorStatus = "ignored"
)

// ErrorReport is the inbound shape accepted by the aggregator. Category
// and severity are optional; missing values are auto-classified.
type ErrorReport struct {
	Source   string            `json:"source"`
	Message  string            `json:"message"`
	Stack    string            `json:"stack,omitempty"`
	Category ErrorCategory     `json:"category,omitempty"`
	Severity Severity          `json:"severity,omitempty"`
	Context  map[string]string `json:"context,omitempty"`
}

// RepairAttempt records one repair run against an aggregated error.
type RepairAttempt struct {
	TaskID     string    `json:"taskId"`
	StartedAt  time.Time `json:"startedAt"`
	FinishedAt time.Time `json:"finishedAt"`
	Success    bool      `json:"success"`
	Detail     string    `json:"detail,omitempty"`
}

// AggregatedError is a persisted, classified error awaiting repair.
type AggregatedError struct {
	ID             string            `json:"id"`
	Timestamp      time.Time         `json:"timestamp"`
	Source         string            `json:"source"`
	Category       ErrorCategory     `json:"category"`
	Severity       Severity          `json:"severity"`
	Status         ErrorStatus       `json:"status"`
	Message        string            `json:"message"`
	Stack          string            `json:"stack,omitempty"`
	Context        map[string]string `json:"context,omitempty"`
	RepairAttempts []RepairAttempt   `json:"repairAttempts"`
	ResolvedAt     *time.Time        `json:"resolvedAt,omitempty"`
	ResolvedBy     string            `json:"resolvedBy,omitempty"`
}

// RepairPriority orders repair tasks.
type RepairPriority string

const (
	RepairLow    RepairPriority = "low"
	RepairNormal RepairPriority = "normal"
	RepairHigh   RepairPriority = "high"
	RepairUrgent RepairPriority = "urgent"
)

// Rank maps a priority to a sortable weight (higher runs first).
func (p RepairPriority) Rank() int {
	switch p {
	case RepairUrgent:
		return 3
	case RepairHigh:
		return 2
	case RepairNormal:
		return 1
	default:
		return 0
	}
}

// RepairStatus is the lifecycle state of a repair task.
type RepairStatus string

const (
	RepairPending    RepairStatus = "pending"
	RepairInProgress RepairStatus = "in_progress"
	RepairCompleted  RepairStatus = "completed"
	RepairFailed     RepairStatus = "failed"
	RepairCancelled  RepairStatus = "cancelled"
)

// RepairTask is one scheduled repair of an aggregated error.
type RepairTask struct {
	ID             string         `json:"id"`
	ErrorID        string         `json:"errorId"`
	Priority       RepairPriority `json:"priority"`
	Prompt         string         `json:"prompt"`
	MaxAttempts    int            `json:"maxAttempts"`
	CurrentAttempt int            `json:"currentAttempt"`
	Status         RepairStatus   `json:"status"`
	CreatedAt      time.Time      `json:"createdAt"`
	StartedAt      *time.Time     `json:"startedAt,omitempty"`
	CompletedAt    *time.Time     `json:"completedAt,omitempty"`
	Result         string         `json:"result,omitempty"`
}

// BreakerState is the circuit breaker position.
type BreakerState string

const (
	BreakerClosed   BreakerState = "closed"
	BreakerOpen     BreakerState = "open"
	BreakerHalfOpen BreakerState = "half_open"
)

// CircuitBreakerState is the persisted breaker snapshot.
type CircuitBreakerState struct {
	State                        BreakerState   `json:"state"`
	LastFailureAt                *time.Time     `json:"lastFailureAt,omitempty"`
	ConsecutiveFailuresGlobal    int            `json:"consecutiveFailuresGlobal"`
	ConsecutiveFailuresPerSource map[string]int `json:"consecutiveFailuresPerSource"`
	AttemptsPerError             map[string]int `json:"attemptsPerError"`
	OpenedAt                     *time.Time     `json:"openedAt,omitempty"`
	HalfOpenTestsRemaining       int            `json:"halfOpenTestsRemaining,omitempty"`
}
