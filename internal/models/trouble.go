package models

import "time"

// TroubleCategory classifies a captured incident.
type TroubleCategory string

const (
	TroubleBuildError       TroubleCategory = "build-error"
	TroubleTestFailure      TroubleCategory = "test-failure"
	TroubleNamingConflict   TroubleCategory = "naming-conflict"
	TroubleTypeError        TroubleCategory = "type-error"
	TroubleRuntimeError     TroubleCategory = "runtime-error"
	TroubleLintError        TroubleCategory = "lint-error"
	TroubleDependencyError  TroubleCategory = "dependency-error"
	TroubleConfigError      TroubleCategory = "config-error"
	TroubleSecurityIssue    TroubleCategory = "security-issue"
	TroublePerformanceIssue TroubleCategory = "performance-issue"
	TroubleOther            TroubleCategory = "other"
)

// Severity grades a trouble or aggregated error.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Trouble is a structured incident captured during a cycle.
type Trouble struct {
	ID         string          `json:"id"`
	CycleID    string          `json:"cycleId"`
	Phase      string          `json:"phase"`
	Category   TroubleCategory `json:"category"`
	Severity   Severity        `json:"severity"`
	Message    string          `json:"message"`
	File       string          `json:"file,omitempty"`
	Line       int             `json:"line,omitempty"`
	Column     int             `json:"column,omitempty"`
	StackTrace string          `json:"stackTrace,omitempty"`
	Context    string          `json:"context,omitempty"`
	Resolved   bool            `json:"resolved"`
	ResolvedBy string          `json:"resolvedBy,omitempty"`
	OccurredAt time.Time       `json:"occurredAt"`
	ResolvedAt *time.Time      `json:"resolvedAt,omitempty"`
}

// TroublePattern is an abstraction over recurring troubles produced by
// the abstraction engine.
type TroublePattern struct {
	ID                    string                 `json:"id"`
	Name                  string                 `json:"name"`
	Category              TroubleCategory        `json:"category"`
	Keywords              []string               `json:"keywords"`
	Regex                 string                 `json:"regex,omitempty"`
	OccurrenceCount       int                    `json:"occurrenceCount"`
	Confidence            float64                `json:"confidence"`
	PreventionSuggestions []PreventionSuggestion `json:"preventionSuggestions"`
	LastOccurredAt        time.Time              `json:"lastOccurredAt"`
}

// PreventionSuggestion proposes a measure that would avoid a trouble
// pattern recurring.
type PreventionSuggestion struct {
	ID          string  `json:"id"`
	Title       string  `json:"title"`
	Description string  `json:"description"`
	Automated   bool    `json:"automated"`
	Confidence  float64 `json:"confidence"`
}
