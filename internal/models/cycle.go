// Package models defines the shared data types that flow between the
// orchestrator, phases, repositories and the verifier.
package models

import "time"

// Priority levels for discovered improvements.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
)

// Risk classification for a plan.
type Risk string

const (
	RiskLow    Risk = "low"
	RiskMedium Risk = "medium"
	RiskHigh   Risk = "high"
)

// Quality tags describing what a finished cycle actually accomplished.
type Quality string

const (
	QualityFailed    Quality = "failed"
	QualityNoOp      Quality = "no-op"
	QualityPartial   Quality = "partial"
	QualityEffective Quality = "effective"
)

// Issue is a detected problem from the health-check or error-detect phases.
type Issue struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	Message  string `json:"message"`
	File     string `json:"file,omitempty"`
	Line     int    `json:"line,omitempty"`
	Resolved bool   `json:"resolved"`
}

// Improvement is an actionable work item discovered during a cycle.
type Improvement struct {
	ID          string   `json:"id"`
	Type        string   `json:"type"`
	Description string   `json:"description"`
	Priority    Priority `json:"priority"`
	File        string   `json:"file,omitempty"`
	Line        int      `json:"line,omitempty"`
	Source      string   `json:"source"`
}

// Plan is the chosen repair strategy for exactly one target.
type Plan struct {
	ID                string   `json:"id"`
	Description       string   `json:"description"`
	Steps             []string `json:"steps"`
	AffectedFiles     []string `json:"affectedFiles"`
	Risk              Risk     `json:"risk"`
	TargetIssue       string   `json:"targetIssue,omitempty"`
	TargetImprovement string   `json:"targetImprovement,omitempty"`
}

// ChangeType describes how a file was touched.
type ChangeType string

const (
	ChangeCreate ChangeType = "create"
	ChangeModify ChangeType = "modify"
	ChangeDelete ChangeType = "delete"
)

// Change records one file mutation performed by the implement phase.
type Change struct {
	File         string     `json:"file"`
	ChangeType   ChangeType `json:"changeType"`
	Summary      string     `json:"summary,omitempty"`
	RelatedIssue string     `json:"relatedIssue,omitempty"`
}

// TestResult summarizes one test-command run.
type TestResult struct {
	Passed      bool          `json:"passed"`
	TotalTests  int           `json:"totalTests"`
	PassedTests int           `json:"passedTests"`
	FailedTests int           `json:"failedTests"`
	Errors      []string      `json:"errors,omitempty"`
	Duration    time.Duration `json:"duration"`
}

// TokenUsage accumulates AI token consumption for a cycle.
type TokenUsage struct {
	InputTokens  int `json:"inputTokens"`
	OutputTokens int `json:"outputTokens"`
}

// Add accumulates another usage sample.
func (t *TokenUsage) Add(other TokenUsage) {
	t.InputTokens += other.InputTokens
	t.OutputTokens += other.OutputTokens
}

// Total returns the combined token count.
func (t TokenUsage) Total() int {
	return t.InputTokens + t.OutputTokens
}

// SearchResults holds the context gathered for the planned target.
// Released at cycle end to keep finished contexts small.
type SearchResults struct {
	FileContents map[string]string `json:"fileContents,omitempty"`
	Symbols      []string          `json:"symbols,omitempty"`
	PriorCycles  []string          `json:"priorCycles,omitempty"`
}

// CycleContext is the shared mutable state for one cycle. It is owned by
// the orchestrator and passed by reference to phases, which mutate it
// cooperatively and strictly sequentially. Phases append; they never
// remove prior entries.
type CycleContext struct {
	CycleID            string              `json:"cycleId"`
	StartTime          time.Time           `json:"startTime"`
	Issues             []Issue             `json:"issues"`
	Improvements       []Improvement       `json:"improvements"`
	Plan               *Plan               `json:"plan,omitempty"`
	ImplementedChanges []Change            `json:"implementedChanges"`
	TestResults        *TestResult         `json:"testResults,omitempty"`
	Troubles           []Trouble           `json:"troubles"`
	ActiveGoals        []string            `json:"activeGoals"`
	GoalProgress       map[string]float64  `json:"goalProgress,omitempty"`
	UsedPatterns       []string            `json:"usedPatterns"`
	PatternMatches     int                 `json:"patternMatches"`
	AICalls            int                 `json:"aiCalls"`
	TokenUsage         TokenUsage          `json:"tokenUsage"`
	FailedPhase        string              `json:"failedPhase,omitempty"`
	FailureReason      string              `json:"failureReason,omitempty"`
	CriticalFailure    bool                `json:"criticalFailure"`
	SearchResults      *SearchResults      `json:"-"`
	SnapshotID         string              `json:"snapshotId,omitempty"`
	QueuedItemIDs      map[string]string   `json:"-"` // improvement id -> queue item id
	Metadata           map[string]string   `json:"metadata,omitempty"`
}

// RecordFailure sets the failed phase exactly once; the first failing
// phase wins.
func (c *CycleContext) RecordFailure(phase, reason string) {
	if c.FailedPhase != "" {
		return
	}
	c.FailedPhase = phase
	c.FailureReason = reason
}

// ReleaseLargeFields nulls the bulky portions of a finished context.
func (c *CycleContext) ReleaseLargeFields() {
	c.SearchResults = nil
	c.Troubles = nil
	c.Metadata = nil
}

// PhaseResult is returned by every phase.
type PhaseResult struct {
	Success    bool
	ShouldStop bool
	Message    string
	Fault      *Fault
}

// CycleResult is the outcome of one orchestrator run.
type CycleResult struct {
	CycleID      string        `json:"cycleId"`
	Success      bool          `json:"success"`
	Duration     time.Duration `json:"duration"`
	TroubleCount int           `json:"troubleCount"`
	ShouldRetry  bool          `json:"shouldRetry"`
	RetryReason  string        `json:"retryReason,omitempty"`
	FailedPhase  string        `json:"failedPhase,omitempty"`
	SkippedEarly bool          `json:"skippedEarly"`
	Quality      Quality       `json:"quality"`
}
