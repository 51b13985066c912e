package queue

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GS-Bacon/KairosAgent-sub000/internal/models"
)

func newTestQueue(t *testing.T) *ImprovementQueue {
	t.Helper()
	q, err := New(filepath.Join(t.TempDir(), "improvements.json"), 50, nil)
	require.NoError(t, err)
	return q
}

func TestClampPriority(t *testing.T) {
	assert.Equal(t, 0, ClampPriority(-5))
	assert.Equal(t, 100, ClampPriority(140))
	assert.Equal(t, 42, ClampPriority(42))
}

func TestEnqueueDefaults(t *testing.T) {
	q := newTestQueue(t)

	id, added, err := q.Enqueue(models.QueuedImprovement{Title: "add caching"})
	require.NoError(t, err)
	require.True(t, added)

	item, ok := q.Get(id)
	require.True(t, ok)
	assert.Equal(t, 50, item.Priority, "default priority applies")
	assert.Equal(t, models.QueuePending, item.Status)
	assert.False(t, item.CreatedAt.IsZero())
}

func TestEnqueueDedup(t *testing.T) {
	q := newTestQueue(t)

	first, added, err := q.Enqueue(models.QueuedImprovement{
		Title: "Fix logging", Description: "Structured output",
	})
	require.NoError(t, err)
	require.True(t, added)

	// Same title and description, different case: duplicate.
	dup, added, err := q.Enqueue(models.QueuedImprovement{
		Title: "fix LOGGING", Description: "structured output",
	})
	require.NoError(t, err)
	assert.False(t, added)
	assert.Equal(t, first, dup)

	_, added, err = q.Enqueue(models.QueuedImprovement{
		Title: "Fix logging", Description: "different details",
	})
	require.NoError(t, err)
	assert.True(t, added, "different description is a new item")
}

func TestEnqueueDedupCoversInFlightItems(t *testing.T) {
	q := newTestQueue(t)

	first, added, err := q.Enqueue(models.QueuedImprovement{
		Title: "Fix logging", Description: "Structured output",
	})
	require.NoError(t, err)
	require.True(t, added)

	// Claim the item; it sits in scheduled while a cycle works on it.
	_, err = q.Dequeue(1)
	require.NoError(t, err)

	dup, added, err := q.Enqueue(models.QueuedImprovement{
		Title: "Fix logging", Description: "Structured output",
	})
	require.NoError(t, err)
	assert.False(t, added, "scheduled items still block duplicates")
	assert.Equal(t, first, dup)

	require.NoError(t, q.UpdateStatus(first, models.QueueInProgress, "cycle-1", ""))
	_, added, err = q.Enqueue(models.QueuedImprovement{
		Title: "Fix logging", Description: "Structured output",
	})
	require.NoError(t, err)
	assert.False(t, added, "in-progress items still block duplicates")

	require.NoError(t, q.UpdateStatus(first, models.QueueCompleted, "cycle-1", "done"))
	_, added, err = q.Enqueue(models.QueuedImprovement{
		Title: "Fix logging", Description: "Structured output",
	})
	require.NoError(t, err)
	assert.True(t, added, "completed items no longer block the same work")
}

func TestDequeuePriorityOrder(t *testing.T) {
	q := newTestQueue(t)

	for _, item := range []models.QueuedImprovement{
		{Title: "low", Priority: 10},
		{Title: "high", Priority: 90},
		{Title: "mid", Priority: 55},
	} {
		_, _, err := q.Enqueue(item)
		require.NoError(t, err)
	}

	got, err := q.Dequeue(2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "high", got[0].Title)
	assert.Equal(t, "mid", got[1].Title)

	// Dequeued items moved to scheduled in the same save.
	for _, item := range got {
		stored, ok := q.Get(item.ID)
		require.True(t, ok)
		assert.Equal(t, models.QueueScheduled, stored.Status)
		assert.NotNil(t, stored.ScheduledFor)
	}
	assert.Equal(t, 1, q.PendingCount())
}

func TestDequeueEmpty(t *testing.T) {
	q := newTestQueue(t)
	got, err := q.Dequeue(5)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestPeekDoesNotChangeState(t *testing.T) {
	q := newTestQueue(t)
	_, _, err := q.Enqueue(models.QueuedImprovement{Title: "x", Priority: 70})
	require.NoError(t, err)

	peeked := q.Peek(1)
	require.Len(t, peeked, 1)
	assert.Equal(t, 1, q.PendingCount())
}

func TestUpdateStatusTransitions(t *testing.T) {
	tests := []struct {
		name string
		path []models.QueueStatus
		ok   bool
	}{
		{name: "full lifecycle", path: []models.QueueStatus{models.QueueScheduled, models.QueueInProgress, models.QueueCompleted}, ok: true},
		{name: "scheduled straight to failed", path: []models.QueueStatus{models.QueueScheduled, models.QueueFailed}, ok: true},
		{name: "pending to skipped", path: []models.QueueStatus{models.QueueSkipped}, ok: true},
		{name: "pending straight to completed", path: []models.QueueStatus{models.QueueCompleted}, ok: false},
		{name: "completed is terminal", path: []models.QueueStatus{models.QueueScheduled, models.QueueCompleted, models.QueuePending}, ok: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := newTestQueue(t)
			id, _, err := q.Enqueue(models.QueuedImprovement{Title: tt.name})
			require.NoError(t, err)

			var last error
			for _, status := range tt.path {
				last = q.UpdateStatus(id, status, "cycle-1", "")
				if last != nil {
					break
				}
			}
			if tt.ok {
				assert.NoError(t, last)
			} else {
				assert.Error(t, last)
			}
		})
	}
}

func TestUpdateStatusRecordsCompletion(t *testing.T) {
	q := newTestQueue(t)
	id, _, err := q.Enqueue(models.QueuedImprovement{Title: "x"})
	require.NoError(t, err)

	require.NoError(t, q.UpdateStatus(id, models.QueueScheduled, "", ""))
	require.NoError(t, q.UpdateStatus(id, models.QueueCompleted, "cycle-9", "done"))

	item, ok := q.Get(id)
	require.True(t, ok)
	assert.Equal(t, "cycle-9", item.CycleID)
	assert.Equal(t, "done", item.Result)
	assert.NotNil(t, item.CompletedAt)
}

func TestRelease(t *testing.T) {
	q := newTestQueue(t)
	idA, _, err := q.Enqueue(models.QueuedImprovement{Title: "a", Priority: 80})
	require.NoError(t, err)
	idB, _, err := q.Enqueue(models.QueuedImprovement{Title: "b", Priority: 60})
	require.NoError(t, err)

	_, err = q.Dequeue(2)
	require.NoError(t, err)

	// Release one; the other keeps its scheduled claim.
	require.NoError(t, q.Release([]string{idB, "nonexistent"}))

	a, _ := q.Get(idA)
	b, _ := q.Get(idB)
	assert.Equal(t, models.QueueScheduled, a.Status)
	assert.Equal(t, models.QueuePending, b.Status)
	assert.Nil(t, b.ScheduledFor)
}

func TestCleanup(t *testing.T) {
	q := newTestQueue(t)

	old := time.Now().AddDate(0, 0, -30)
	_, _, err := q.Enqueue(models.QueuedImprovement{Title: "stale"})
	require.NoError(t, err)
	_, _, err = q.Enqueue(models.QueuedImprovement{Title: "fresh"})
	require.NoError(t, err)
	_, _, err = q.Enqueue(models.QueuedImprovement{Title: "still pending"})
	require.NoError(t, err)

	// Age the first item into a terminal state far in the past.
	items := q.All()
	require.NoError(t, q.UpdateStatus(items[0].ID, models.QueueSkipped, "", ""))
	require.NoError(t, q.UpdateStatus(items[1].ID, models.QueueScheduled, "", ""))
	require.NoError(t, q.UpdateStatus(items[1].ID, models.QueueCompleted, "", ""))

	q.mu.Lock()
	for i := range q.items {
		if q.items[i].Title == "stale" {
			q.items[i].CompletedAt = &old
		}
	}
	q.mu.Unlock()

	removed, err := q.Cleanup(14)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)
	assert.Len(t, q.All(), 2)
}

func TestQueuePersistsAcrossInstances(t *testing.T) {
	path := filepath.Join(t.TempDir(), "improvements.json")
	q, err := New(path, 50, nil)
	require.NoError(t, err)
	_, _, err = q.Enqueue(models.QueuedImprovement{Title: "persisted"})
	require.NoError(t, err)

	reopened, err := New(path, 50, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, reopened.PendingCount())
}
