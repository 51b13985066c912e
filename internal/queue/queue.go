// Package queue implements the persistent, priority-ordered improvement
// queue feeding future cycles.
package queue

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/GS-Bacon/KairosAgent-sub000/internal/logger"
	"github.com/GS-Bacon/KairosAgent-sub000/internal/models"
	"github.com/GS-Bacon/KairosAgent-sub000/internal/store"
)

const queueSchema = `{
	"type": "object",
	"properties": {
		"items": {
			"type": "array",
			"items": {
				"type": "object",
				"required": ["id", "title", "priority", "status"]
			}
		}
	},
	"required": ["items"]
}`

type queueDoc struct {
	Items []models.QueuedImprovement `json:"items"`
}

// ImprovementQueue is the persistent work store. Priorities are clamped
// to [0,100]; dequeue returns pending items in non-increasing priority
// and transitions them to scheduled in the same save.
type ImprovementQueue struct {
	store           *store.Store
	defaultPriority int
	logger          logger.Logger

	mu     sync.Mutex
	items  []models.QueuedImprovement
	loaded bool
}

// New creates an ImprovementQueue persisting to path.
func New(path string, defaultPriority int, log logger.Logger) (*ImprovementQueue, error) {
	st, err := store.New(path, queueSchema, log)
	if err != nil {
		return nil, err
	}
	if defaultPriority <= 0 {
		defaultPriority = 50
	}
	return &ImprovementQueue{store: st, defaultPriority: defaultPriority, logger: log}, nil
}

func (q *ImprovementQueue) load() {
	if q.loaded {
		return
	}
	var doc queueDoc
	if ok, _ := q.store.Load(&doc); ok {
		q.items = doc.Items
	}
	q.loaded = true
}

func (q *ImprovementQueue) saveLocked() error {
	return q.store.Save(queueDoc{Items: q.items})
}

// ClampPriority bounds a priority to [0,100].
func ClampPriority(p int) int {
	if p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return p
}

// Enqueue adds an item unless a live item with the same title and
// description (case-insensitive) already exists. Scheduled and
// in-progress items block duplicates too; only terminal ones are free
// to recur. Returns the stored item's id and whether it was added.
func (q *ImprovementQueue) Enqueue(item models.QueuedImprovement) (string, bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.load()

	title := strings.ToLower(strings.TrimSpace(item.Title))
	desc := strings.ToLower(strings.TrimSpace(item.Description))
	for _, existing := range q.items {
		if existing.Status.Terminal() {
			continue
		}
		if strings.ToLower(strings.TrimSpace(existing.Title)) == title &&
			strings.ToLower(strings.TrimSpace(existing.Description)) == desc {
			return existing.ID, false, nil
		}
	}

	now := time.Now()
	if item.ID == "" {
		item.ID = uuid.NewString()
	}
	if item.Priority == 0 {
		item.Priority = q.defaultPriority
	}
	item.Priority = ClampPriority(item.Priority)
	if item.Status == "" {
		item.Status = models.QueuePending
	}
	if item.CreatedAt.IsZero() {
		item.CreatedAt = now
	}
	item.UpdatedAt = now

	q.items = append(q.items, item)
	if err := q.saveLocked(); err != nil {
		return "", false, err
	}
	return item.ID, true, nil
}

// Dequeue returns up to n pending items in non-increasing priority,
// marking them scheduled in the same transaction.
func (q *ImprovementQueue) Dequeue(n int) ([]models.QueuedImprovement, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.load()

	indices := make([]int, 0)
	for i, item := range q.items {
		if item.Status == models.QueuePending {
			indices = append(indices, i)
		}
	}
	sort.SliceStable(indices, func(a, b int) bool {
		return q.items[indices[a]].Priority > q.items[indices[b]].Priority
	})
	if n > 0 && n < len(indices) {
		indices = indices[:n]
	}

	now := time.Now()
	out := make([]models.QueuedImprovement, 0, len(indices))
	for _, i := range indices {
		q.items[i].Status = models.QueueScheduled
		q.items[i].UpdatedAt = now
		q.items[i].ScheduledFor = &now
		out = append(out, q.items[i])
	}
	if len(out) == 0 {
		return nil, nil
	}
	return out, q.saveLocked()
}

// Peek returns up to n pending items by priority without changing state.
func (q *ImprovementQueue) Peek(n int) []models.QueuedImprovement {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.load()

	pending := make([]models.QueuedImprovement, 0)
	for _, item := range q.items {
		if item.Status == models.QueuePending {
			pending = append(pending, item)
		}
	}
	sort.SliceStable(pending, func(a, b int) bool {
		return pending[a].Priority > pending[b].Priority
	})
	if n > 0 && n < len(pending) {
		pending = pending[:n]
	}
	return pending
}

// PendingCount returns the number of pending items.
func (q *ImprovementQueue) PendingCount() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.load()

	count := 0
	for _, item := range q.items {
		if item.Status == models.QueuePending {
			count++
		}
	}
	return count
}

// UpdateStatus transitions an item, enforcing the status machine:
// pending -> scheduled -> in_progress -> (completed|failed) and
// pending -> skipped.
func (q *ImprovementQueue) UpdateStatus(id string, status models.QueueStatus, cycleID, result string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.load()

	for i := range q.items {
		if q.items[i].ID != id {
			continue
		}
		if !validTransition(q.items[i].Status, status) {
			return fmt.Errorf("invalid status transition %s -> %s for %s", q.items[i].Status, status, id)
		}
		now := time.Now()
		q.items[i].Status = status
		q.items[i].UpdatedAt = now
		if cycleID != "" {
			q.items[i].CycleID = cycleID
		}
		if result != "" {
			q.items[i].Result = result
		}
		if status == models.QueueCompleted || status == models.QueueFailed {
			q.items[i].CompletedAt = &now
		}
		return q.saveLocked()
	}
	return fmt.Errorf("queue item %s not found", id)
}

// Release returns scheduled items to pending. Used at cycle end for
// items that were dequeued but not selected by the planner, so they
// stay eligible for future cycles.
func (q *ImprovementQueue) Release(ids []string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.load()

	changed := false
	now := time.Now()
	for _, id := range ids {
		for i := range q.items {
			if q.items[i].ID == id && q.items[i].Status == models.QueueScheduled {
				q.items[i].Status = models.QueuePending
				q.items[i].ScheduledFor = nil
				q.items[i].UpdatedAt = now
				changed = true
			}
		}
	}
	if !changed {
		return nil
	}
	return q.saveLocked()
}

func validTransition(from, to models.QueueStatus) bool {
	switch from {
	case models.QueuePending:
		return to == models.QueueScheduled || to == models.QueueSkipped
	case models.QueueScheduled:
		return to == models.QueueInProgress || to == models.QueueCompleted || to == models.QueueFailed
	case models.QueueInProgress:
		return to == models.QueueCompleted || to == models.QueueFailed
	default:
		return false
	}
}

// Get returns a copy of one item by id.
func (q *ImprovementQueue) Get(id string) (models.QueuedImprovement, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.load()

	for _, item := range q.items {
		if item.ID == id {
			return item, true
		}
	}
	return models.QueuedImprovement{}, false
}

// All returns a copy of every item.
func (q *ImprovementQueue) All() []models.QueuedImprovement {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.load()

	out := make([]models.QueuedImprovement, len(q.items))
	copy(out, q.items)
	return out
}

// Cleanup removes terminal items older than daysOld, keeping all
// non-terminal items and terminal ones completed within the window.
// Returns how many were removed.
func (q *ImprovementQueue) Cleanup(daysOld int) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.load()

	cutoff := time.Now().AddDate(0, 0, -daysOld)
	kept := q.items[:0]
	removed := 0
	for _, item := range q.items {
		if item.Status.Terminal() {
			completed := item.CompletedAt
			if completed == nil {
				completed = &item.UpdatedAt
			}
			if completed.Before(cutoff) {
				removed++
				continue
			}
		}
		kept = append(kept, item)
	}
	q.items = kept
	if removed == 0 {
		return 0, nil
	}
	if q.logger != nil {
		q.logger.Debugf("queue: cleaned up %d old items", removed)
	}
	return removed, q.saveLocked()
}
