package ai

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/GS-Bacon/KairosAgent-sub000/internal/logger"
	"github.com/GS-Bacon/KairosAgent-sub000/internal/store"
)

// ConfirmationStatus tracks the review state of a fallback-produced
// artifact.
type ConfirmationStatus string

const (
	ConfirmationPending     ConfirmationStatus = "pending"
	ConfirmationConfirmed   ConfirmationStatus = "confirmed"
	ConfirmationNeedsReview ConfirmationStatus = "needs_review"
)

// Confirmation is one fallback-produced artifact awaiting a high-trust
// review on a later cycle.
type Confirmation struct {
	ID         string             `json:"id"`
	Phase      string             `json:"phase"`
	File       string             `json:"file,omitempty"`
	Provider   string             `json:"provider"`
	Content    string             `json:"content"`
	Status     ConfirmationStatus `json:"status"`
	Reason     string             `json:"reason,omitempty"`
	CreatedAt  time.Time          `json:"createdAt"`
	ReviewedAt *time.Time         `json:"reviewedAt,omitempty"`
}

type confirmationsDoc struct {
	Items []Confirmation `json:"items"`
}

// ConfirmationQueue persists fallback-produced artifacts pending review
// at workspace/approvals/pending.json.
type ConfirmationQueue struct {
	store  *store.Store
	logger logger.Logger

	mu     sync.Mutex
	items  []Confirmation
	loaded bool
}

// NewConfirmationQueue creates the queue persisting to path.
func NewConfirmationQueue(path string, log logger.Logger) (*ConfirmationQueue, error) {
	st, err := store.New(path, "", log)
	if err != nil {
		return nil, err
	}
	return &ConfirmationQueue{store: st, logger: log}, nil
}

func (q *ConfirmationQueue) load() {
	if q.loaded {
		return
	}
	var doc confirmationsDoc
	if ok, _ := q.store.Load(&doc); ok {
		q.items = doc.Items
	}
	q.loaded = true
}

// Add records a pending confirmation and returns its id.
func (q *ConfirmationQueue) Add(phase, file, provider, content string) (string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.load()

	item := Confirmation{
		ID:        uuid.NewString(),
		Phase:     phase,
		File:      file,
		Provider:  provider,
		Content:   content,
		Status:    ConfirmationPending,
		CreatedAt: time.Now(),
	}
	q.items = append(q.items, item)
	return item.ID, q.store.Save(confirmationsDoc{Items: q.items})
}

// Pending returns up to n pending confirmations, oldest first.
func (q *ConfirmationQueue) Pending(n int) []Confirmation {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.load()

	var pending []Confirmation
	for _, item := range q.items {
		if item.Status == ConfirmationPending {
			pending = append(pending, item)
		}
		if n > 0 && len(pending) >= n {
			break
		}
	}
	return pending
}

// Resolve marks a confirmation confirmed or needing manual review.
func (q *ConfirmationQueue) Resolve(id string, status ConfirmationStatus, reason string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.load()

	for i := range q.items {
		if q.items[i].ID == id {
			now := time.Now()
			q.items[i].Status = status
			q.items[i].Reason = reason
			q.items[i].ReviewedAt = &now
			return q.store.Save(confirmationsDoc{Items: q.items})
		}
	}
	return nil
}

// reviewVerdict is the JSON shape expected from the reviewer.
type reviewVerdict struct {
	Approved bool   `json:"approved"`
	Reason   string `json:"reason"`
}

// ReviewPending asks the high-trust provider to re-review up to max
// pending confirmations. Provider unavailability leaves items pending;
// the cycle never blocks on it.
func (q *ConfirmationQueue) ReviewPending(ctx context.Context, reviewer Provider, max int) int {
	if reviewer == nil || !reviewer.Available() {
		return 0
	}

	reviewed := 0
	for _, item := range q.Pending(max) {
		prompt := "Review this AI-generated artifact produced by a fallback provider (" + item.Provider +
			") during the " + item.Phase + " phase"
		if item.File != "" {
			prompt += " for file " + item.File
		}
		prompt += ".\nApprove only if it is safe and plausible.\n\n---\n" + item.Content +
			"\n---\n\nRespond with JSON only: {\"approved\": bool, \"reason\": string}"

		resp, err := reviewer.Generate(ctx, Request{
			Prompt: prompt,
			Schema: `{"type":"object","properties":{"approved":{"type":"boolean"},"reason":{"type":"string"}},"required":["approved","reason"]}`,
		})
		if err != nil {
			if q.logger != nil {
				q.logger.Warnf("ai: confirmation review failed: %v", err)
			}
			continue
		}

		var verdict reviewVerdict
		content := resp.Content
		if !strings.HasPrefix(strings.TrimSpace(content), "{") {
			if extracted, ok := ExtractJSON(content); ok {
				content = extracted
			}
		}
		if err := json.Unmarshal([]byte(content), &verdict); err != nil {
			continue
		}

		status := ConfirmationNeedsReview
		if verdict.Approved {
			status = ConfirmationConfirmed
		}
		q.Resolve(item.ID, status, verdict.Reason)
		reviewed++
	}
	return reviewed
}
