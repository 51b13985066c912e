package history

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GS-Bacon/KairosAgent-sub000/internal/models"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func makeRecord(id string, startedAt time.Time, success bool) Record {
	return Record{
		CycleID:    id,
		StartedAt:  startedAt,
		FinishedAt: startedAt.Add(2 * time.Minute),
		Success:    success,
		Quality:    models.QualityEffective,
		Summary:    "refactored logging in " + id,
		TokenUsage: models.TokenUsage{InputTokens: 100, OutputTokens: 50},
		Changes: []models.Change{
			{File: "src/app.ts", ChangeType: models.ChangeModify},
		},
	}
}

func TestAppendAndRecent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Now().Add(-time.Hour)

	for i := 0; i < 3; i++ {
		rec := makeRecord(fmt.Sprintf("cycle-%d", i), base.Add(time.Duration(i)*time.Minute), true)
		require.NoError(t, s.Append(ctx, rec))
	}

	got, err := s.Recent(ctx, 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "cycle-2", got[0].CycleID, "newest first")
	assert.Equal(t, "cycle-1", got[1].CycleID)
	assert.Equal(t, models.QualityEffective, got[0].Quality)
	assert.Equal(t, 100, got[0].TokenUsage.InputTokens)
	require.Len(t, got[0].Changes, 1)
	assert.Equal(t, "src/app.ts", got[0].Changes[0].File)
}

func TestForFile(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Now().Add(-time.Hour)

	recA := makeRecord("cycle-a", base, true)
	recB := makeRecord("cycle-b", base.Add(time.Minute), true)
	recB.Changes = []models.Change{{File: "src/other.ts", ChangeType: models.ChangeCreate}}
	require.NoError(t, s.Append(ctx, recA))
	require.NoError(t, s.Append(ctx, recB))

	got, err := s.ForFile(ctx, "src/app.ts", 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "cycle-a", got[0].CycleID)

	none, err := s.ForFile(ctx, "src/missing.ts", 10)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestSearch(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Now().Add(-time.Hour)

	ok := makeRecord("cycle-ok", base, true)
	ok.Summary = "added retry logic to the fetcher"
	failed := makeRecord("cycle-bad", base.Add(time.Minute), false)
	failed.Summary = "attempted queue cleanup"
	failed.FailedPhase = "verify"
	failed.FailureReason = "type error in fetcher.ts"
	require.NoError(t, s.Append(ctx, ok))
	require.NoError(t, s.Append(ctx, failed))

	got, err := s.Search(ctx, "fetcher", 10)
	require.NoError(t, err)
	require.Len(t, got, 2, "matches summary and failure reason")

	got, err = s.Search(ctx, "retry", 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "cycle-ok", got[0].CycleID)

	got, err = s.Search(ctx, "nomatch", 10)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestStats(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Now().Add(-time.Hour)

	ok := makeRecord("cycle-ok", base, true)
	ok.TroubleCount = 2
	failed := makeRecord("cycle-bad", base.Add(time.Minute), false)
	failed.TroubleCount = 3
	require.NoError(t, s.Append(ctx, ok))
	require.NoError(t, s.Append(ctx, failed))

	st, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, st.TotalCycles)
	assert.Equal(t, 1, st.SuccessfulCycles)
	assert.Equal(t, 5, st.TotalTroubles)
	assert.Equal(t, 300, st.TotalTokens)
}

func TestStatsEmpty(t *testing.T) {
	s := newTestStore(t)
	st, err := s.Stats(context.Background())
	require.NoError(t, err)
	assert.Zero(t, st.TotalCycles)
	assert.Zero(t, st.TotalTokens)
}

func TestCleanup(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	old := makeRecord("cycle-old", time.Now().AddDate(0, 0, -40), true)
	recent := makeRecord("cycle-new", time.Now().Add(-time.Hour), true)
	require.NoError(t, s.Append(ctx, old))
	require.NoError(t, s.Append(ctx, recent))

	removed, err := s.Cleanup(ctx, 30)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	got, err := s.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "cycle-new", got[0].CycleID)

	// Joined file rows go with the cycle.
	byFile, err := s.ForFile(ctx, "src/app.ts", 10)
	require.NoError(t, err)
	assert.Len(t, byFile, 1)
}

func TestPersistsOnDisk(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history", "cycles.db")
	ctx := context.Background()

	s, err := NewStore(path)
	require.NoError(t, err)
	require.NoError(t, s.Append(ctx, makeRecord("cycle-1", time.Now(), true)))
	require.NoError(t, s.Close())

	reopened, err := NewStore(path)
	require.NoError(t, err)
	defer reopened.Close()

	got, err := reopened.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "cycle-1", got[0].CycleID)
}
