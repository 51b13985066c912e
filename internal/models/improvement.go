package models

import "time"

// QueueStatus is the lifecycle state of a queued improvement.
type QueueStatus string

const (
	QueuePending    QueueStatus = "pending"
	QueueScheduled  QueueStatus = "scheduled"
	QueueInProgress QueueStatus = "in_progress"
	QueueCompleted  QueueStatus = "completed"
	QueueFailed     QueueStatus = "failed"
	QueueSkipped    QueueStatus = "skipped"
)

// Terminal reports whether the status is a final state.
func (s QueueStatus) Terminal() bool {
	return s == QueueCompleted || s == QueueFailed || s == QueueSkipped
}

// QueuedImprovement is a persistent, prioritized work item awaiting a
// future cycle. Priority is clamped to [0,100].
type QueuedImprovement struct {
	ID                     string            `json:"id"`
	Source                 string            `json:"source"`
	Type                   string            `json:"type"`
	Title                  string            `json:"title"`
	Description            string            `json:"description"`
	Priority               int               `json:"priority"`
	Status                 QueueStatus       `json:"status"`
	Metadata               map[string]string `json:"metadata,omitempty"`
	RelatedFile            string            `json:"relatedFile,omitempty"`
	RelatedPatternID       string            `json:"relatedPatternId,omitempty"`
	PreventionSuggestionID string            `json:"preventionSuggestionId,omitempty"`
	CreatedAt              time.Time         `json:"createdAt"`
	UpdatedAt              time.Time         `json:"updatedAt"`
	ScheduledFor           *time.Time        `json:"scheduledFor,omitempty"`
	CompletedAt            *time.Time        `json:"completedAt,omitempty"`
	CycleID                string            `json:"cycleId,omitempty"`
	Result                 string            `json:"result,omitempty"`
}
