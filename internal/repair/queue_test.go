package repair

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GS-Bacon/KairosAgent-sub000/internal/models"
)

func newTestRepairQueue(t *testing.T) *Queue {
	t.Helper()
	q, err := NewQueue(filepath.Join(t.TempDir(), "tasks.json"), nil)
	require.NoError(t, err)
	return q
}

func TestEnqueueAndDedup(t *testing.T) {
	q := newTestRepairQueue(t)

	task := q.Enqueue("err-1", "fix it", models.RepairHigh)
	assert.Equal(t, models.RepairPending, task.Status)
	assert.Equal(t, 3, task.MaxAttempts)
	assert.Zero(t, task.CurrentAttempt)

	dup := q.Enqueue("err-1", "fix it again", models.RepairLow)
	assert.Equal(t, task.ID, dup.ID, "non-terminal task for the same error is reused")
	assert.Equal(t, 1, q.PendingCount())

	other := q.Enqueue("err-2", "", models.RepairLow)
	assert.NotEqual(t, task.ID, other.ID)
	assert.Equal(t, 2, q.PendingCount())
}

func TestNextClaimsByPriority(t *testing.T) {
	q := newTestRepairQueue(t)

	q.Enqueue("err-low", "", models.RepairLow)
	urgent := q.Enqueue("err-urgent", "", models.RepairUrgent)
	q.Enqueue("err-normal", "", models.RepairNormal)

	claimed, ok := q.Next()
	require.True(t, ok)
	assert.Equal(t, urgent.ID, claimed.ID)
	assert.Equal(t, models.RepairInProgress, claimed.Status)
	assert.Equal(t, 1, claimed.CurrentAttempt)
	assert.NotNil(t, claimed.StartedAt)
}

func TestNextRefusesSecondConcurrentTask(t *testing.T) {
	q := newTestRepairQueue(t)
	q.Enqueue("err-1", "", models.RepairNormal)
	q.Enqueue("err-2", "", models.RepairNormal)

	_, ok := q.Next()
	require.True(t, ok)

	_, ok = q.Next()
	assert.False(t, ok, "only one task runs at a time")
}

func TestNextEmptyQueue(t *testing.T) {
	q := newTestRepairQueue(t)
	_, ok := q.Next()
	assert.False(t, ok)
}

func TestCompleteSuccess(t *testing.T) {
	q := newTestRepairQueue(t)
	q.Enqueue("err-1", "", models.RepairNormal)
	claimed, ok := q.Next()
	require.True(t, ok)

	require.NoError(t, q.Complete(claimed.ID, true, "repaired"))

	all := q.All()
	require.Len(t, all, 1)
	assert.Equal(t, models.RepairCompleted, all[0].Status)
	assert.Equal(t, "repaired", all[0].Result)
	assert.NotNil(t, all[0].CompletedAt)
}

func TestCompleteFailureRetriesUntilExhausted(t *testing.T) {
	q := newTestRepairQueue(t)
	q.Enqueue("err-1", "", models.RepairNormal)

	// Attempts 1 and 2 fail and requeue; attempt 3 fails for good.
	for attempt := 1; attempt <= 2; attempt++ {
		claimed, ok := q.Next()
		require.True(t, ok)
		assert.Equal(t, attempt, claimed.CurrentAttempt)
		require.NoError(t, q.Complete(claimed.ID, false, "still broken"))
		assert.Equal(t, 1, q.PendingCount())
	}

	claimed, ok := q.Next()
	require.True(t, ok)
	assert.Equal(t, 3, claimed.CurrentAttempt)
	require.NoError(t, q.Complete(claimed.ID, false, "gave up"))

	all := q.All()
	require.Len(t, all, 1)
	assert.Equal(t, models.RepairFailed, all[0].Status)
	assert.Zero(t, q.PendingCount())
}

func TestCompleteRequiresInProgress(t *testing.T) {
	q := newTestRepairQueue(t)
	task := q.Enqueue("err-1", "", models.RepairNormal)

	assert.Error(t, q.Complete(task.ID, true, ""), "pending task cannot complete")
	assert.Error(t, q.Complete("missing", true, ""))
}

func TestCancel(t *testing.T) {
	q := newTestRepairQueue(t)
	task := q.Enqueue("err-1", "", models.RepairNormal)

	require.NoError(t, q.Cancel(task.ID))
	all := q.All()
	assert.Equal(t, models.RepairCancelled, all[0].Status)
	assert.Zero(t, q.PendingCount())

	assert.Error(t, q.Cancel(task.ID), "cancelled task is no longer pending")
}

func TestCrashedInProgressTaskResetsOnLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tasks.json")

	q, err := NewQueue(path, nil)
	require.NoError(t, err)
	q.Enqueue("err-1", "", models.RepairNormal)
	_, ok := q.Next()
	require.True(t, ok)

	// A fresh process sees the stranded in_progress task as pending again.
	reopened, err := NewQueue(path, nil)
	require.NoError(t, err)
	claimed, ok := reopened.Next()
	require.True(t, ok)
	assert.Equal(t, "err-1", claimed.ErrorID)
	assert.Equal(t, 2, claimed.CurrentAttempt)
}

func TestEnqueueFromReport(t *testing.T) {
	a := newTestAggregator(t)
	q := newTestRepairQueue(t)

	task := EnqueueFromReport(a, q, models.ErrorReport{
		Source:  "watchdog",
		Message: "panic: nil map write",
	})

	assert.Equal(t, models.RepairUrgent, task.Priority, "critical severity maps to urgent")
	entry, ok := a.Get(task.ErrorID)
	require.True(t, ok)
	assert.Equal(t, models.ErrorQueued, entry.Status)
}

func TestPriorityFor(t *testing.T) {
	assert.Equal(t, models.RepairUrgent, priorityFor(models.SeverityCritical))
	assert.Equal(t, models.RepairHigh, priorityFor(models.SeverityHigh))
	assert.Equal(t, models.RepairNormal, priorityFor(models.SeverityMedium))
	assert.Equal(t, models.RepairLow, priorityFor(models.SeverityLow))
}
