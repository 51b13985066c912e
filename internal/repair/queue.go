package repair

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/GS-Bacon/KairosAgent-sub000/internal/logger"
	"github.com/GS-Bacon/KairosAgent-sub000/internal/models"
	"github.com/GS-Bacon/KairosAgent-sub000/internal/store"
)

// defaultMaxAttempts is applied to tasks enqueued without a limit.
const defaultMaxAttempts = 3

type tasksDoc struct {
	Tasks []models.RepairTask `json:"tasks"`
}

// Queue is the persistent repair-task queue. At most one task is
// in_progress at a time.
type Queue struct {
	store  *store.Store
	logger logger.Logger

	mu     sync.Mutex
	tasks  []models.RepairTask
	loaded bool
}

// NewQueue creates a Queue persisting to path.
func NewQueue(path string, log logger.Logger) (*Queue, error) {
	st, err := store.New(path, "", log)
	if err != nil {
		return nil, err
	}
	return &Queue{store: st, logger: log}, nil
}

func (q *Queue) load() {
	if q.loaded {
		return
	}
	var doc tasksDoc
	if ok, _ := q.store.Load(&doc); ok {
		q.tasks = doc.Tasks
	}
	// A task left in_progress by a crashed process goes back to pending.
	for i := range q.tasks {
		if q.tasks[i].Status == models.RepairInProgress {
			q.tasks[i].Status = models.RepairPending
		}
	}
	q.loaded = true
}

func (q *Queue) saveLocked() {
	if err := q.store.Save(tasksDoc{Tasks: q.tasks}); err != nil && q.logger != nil {
		q.logger.Warnf("repair: persist tasks: %v", err)
	}
}

// Enqueue adds a repair task for an aggregated error. An existing
// non-terminal task for the same error is returned instead of a
// duplicate.
func (q *Queue) Enqueue(errorID, prompt string, priority models.RepairPriority) models.RepairTask {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.load()

	for _, t := range q.tasks {
		if t.ErrorID == errorID &&
			(t.Status == models.RepairPending || t.Status == models.RepairInProgress) {
			return t
		}
	}

	task := models.RepairTask{
		ID:          uuid.NewString(),
		ErrorID:     errorID,
		Priority:    priority,
		Prompt:      prompt,
		MaxAttempts: defaultMaxAttempts,
		Status:      models.RepairPending,
		CreatedAt:   time.Now(),
	}
	q.tasks = append(q.tasks, task)
	q.saveLocked()
	return task
}

// Next claims the highest-priority pending task, marking it
// in_progress. Returns false when another task is already running or
// nothing is pending.
func (q *Queue) Next() (models.RepairTask, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.load()

	for _, t := range q.tasks {
		if t.Status == models.RepairInProgress {
			return models.RepairTask{}, false
		}
	}

	best := -1
	for i, t := range q.tasks {
		if t.Status != models.RepairPending {
			continue
		}
		if best < 0 || t.Priority.Rank() > q.tasks[best].Priority.Rank() ||
			(t.Priority.Rank() == q.tasks[best].Priority.Rank() && t.CreatedAt.Before(q.tasks[best].CreatedAt)) {
			best = i
		}
	}
	if best < 0 {
		return models.RepairTask{}, false
	}

	now := time.Now()
	q.tasks[best].Status = models.RepairInProgress
	q.tasks[best].StartedAt = &now
	q.tasks[best].CurrentAttempt++
	q.saveLocked()
	return q.tasks[best], true
}

// Complete finishes an in_progress task. A failed task with attempts
// remaining goes back to pending.
func (q *Queue) Complete(id string, success bool, result string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.load()

	for i := range q.tasks {
		if q.tasks[i].ID != id {
			continue
		}
		if q.tasks[i].Status != models.RepairInProgress {
			return fmt.Errorf("task %s is not in progress", id)
		}
		now := time.Now()
		q.tasks[i].Result = result
		switch {
		case success:
			q.tasks[i].Status = models.RepairCompleted
			q.tasks[i].CompletedAt = &now
		case q.tasks[i].CurrentAttempt < q.tasks[i].MaxAttempts:
			q.tasks[i].Status = models.RepairPending
		default:
			q.tasks[i].Status = models.RepairFailed
			q.tasks[i].CompletedAt = &now
		}
		q.saveLocked()
		return nil
	}
	return fmt.Errorf("task %s not found", id)
}

// Cancel marks a pending task cancelled.
func (q *Queue) Cancel(id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.load()

	for i := range q.tasks {
		if q.tasks[i].ID != id {
			continue
		}
		if q.tasks[i].Status != models.RepairPending {
			return fmt.Errorf("task %s is not pending", id)
		}
		now := time.Now()
		q.tasks[i].Status = models.RepairCancelled
		q.tasks[i].CompletedAt = &now
		q.saveLocked()
		return nil
	}
	return fmt.Errorf("task %s not found", id)
}

// All returns every task, newest first.
func (q *Queue) All() []models.RepairTask {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.load()

	out := make([]models.RepairTask, len(q.tasks))
	copy(out, q.tasks)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

// PendingCount returns the number of pending tasks.
func (q *Queue) PendingCount() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.load()

	n := 0
	for _, t := range q.tasks {
		if t.Status == models.RepairPending {
			n++
		}
	}
	return n
}
