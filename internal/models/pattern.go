package models

import "time"

// ConditionType selects how a pattern condition matches.
type ConditionType string

const (
	ConditionFileGlob  ConditionType = "file-glob"
	ConditionRegex     ConditionType = "regex"
	ConditionErrorCode ConditionType = "error-code"
)

// PatternCondition is one matching rule of a learned pattern. A pattern
// matches a file only when all of its conditions hold.
type PatternCondition struct {
	Type   ConditionType `json:"type"`
	Value  string        `json:"value"`
	Target string        `json:"target,omitempty"`
}

// SolutionType selects how a pattern's fix is applied.
type SolutionType string

const (
	SolutionTemplate SolutionType = "template"
	SolutionAIPrompt SolutionType = "ai-prompt"
)

// PatternSolution carries the fix derived from a past success.
type PatternSolution struct {
	Type    SolutionType `json:"type"`
	Content string       `json:"content"`
}

// PatternPhase tracks a pattern's maturity by usage volume.
type PatternPhase string

const (
	PatternPhaseInitial     PatternPhase = "initial"
	PatternPhaseTrial       PatternPhase = "trial"
	PatternPhaseEstablished PatternPhase = "established"
)

// PatternStats holds the usage statistics driving confidence decay and
// phase transitions.
type PatternStats struct {
	UsageCount   int          `json:"usageCount"`
	SuccessCount int          `json:"successCount"`
	Confidence   float64      `json:"confidence"`
	LastUsed     time.Time    `json:"lastUsed"`
	Phase        PatternPhase `json:"phase"`
}

// PatternVersion is one entry in a pattern's version history.
type PatternVersion struct {
	Version   int       `json:"version"`
	ChangedAt time.Time `json:"changedAt"`
	Note      string    `json:"note,omitempty"`
}

// LearnedPattern is a rule derived from a past successful solution.
type LearnedPattern struct {
	ID         string             `json:"id"`
	Name       string             `json:"name"`
	Version    int                `json:"version"`
	Conditions []PatternCondition `json:"conditions"`
	Solution   PatternSolution    `json:"solution"`
	Stats      PatternStats       `json:"stats"`
	History    []PatternVersion   `json:"history,omitempty"`
	CreatedAt  time.Time          `json:"createdAt"`
}

// PatternMatch is a rule-engine hit against a candidate file.
type PatternMatch struct {
	PatternID      string  `json:"patternId"`
	File           string  `json:"file"`
	Line           int     `json:"line"`
	MatchedContent string  `json:"matchedContent"`
	Confidence     float64 `json:"confidence"`
}

// ExtractionContext is the input for learning a new pattern from a
// completed fix.
type ExtractionContext struct {
	Problem     string
	ProblemFile string
	ErrorCode   string
	Before      string
	After       string
	Solution    string
	Success     bool
}

// FailurePattern records a fix attempt that did not work, so future
// cycles can avoid retrying it.
type FailurePattern struct {
	ID              string          `json:"id"`
	TroubleCategory TroubleCategory `json:"troubleCategory"`
	TroubleMessage  string          `json:"troubleMessage"`
	TroubleFile     string          `json:"troubleFile,omitempty"`
	AttemptedFixes  []string        `json:"attemptedFixes"`
	FailureReason   string          `json:"failureReason"`
	OccurrenceCount int             `json:"occurrenceCount"`
	LastSeenAt      time.Time       `json:"lastSeenAt"`
}

// LearningStats are the repository-wide counters persisted alongside the
// patterns themselves.
type LearningStats struct {
	TotalCycles   int       `json:"totalCycles"`
	PatternHits   int       `json:"patternHits"`
	AICalls       int       `json:"aiCalls"`
	HitRate       float64   `json:"hitRate"`
	TopPatternIDs []string  `json:"topPatternIds,omitempty"`
	LastUpdatedAt time.Time `json:"lastUpdatedAt"`
}
