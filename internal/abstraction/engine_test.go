package abstraction

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GS-Bacon/KairosAgent-sub000/internal/models"
	"github.com/GS-Bacon/KairosAgent-sub000/internal/queue"
)

func newTestEngine(t *testing.T, q *queue.ImprovementQueue) *Engine {
	t.Helper()
	e, err := NewEngine(filepath.Join(t.TempDir(), "trouble-patterns.json"), q, nil, nil)
	require.NoError(t, err)
	return e
}

func makeBuildTrouble(msg string) models.Trouble {
	return models.Trouble{
		Category:   models.TroubleBuildError,
		Severity:   models.SeverityHigh,
		Message:    msg,
		OccurredAt: time.Now(),
	}
}

func TestGroupTroubles(t *testing.T) {
	troubles := []models.Trouble{
		makeBuildTrouble("cannot find module lodash in src/app.ts"),
		makeBuildTrouble("cannot find module lodash in src/util.ts"),
		makeBuildTrouble("unexpected token at line 4"),
		{Category: models.TroubleTestFailure, Message: "cannot find module lodash in src/app.ts", OccurredAt: time.Now()},
	}

	groups := groupTroubles(troubles)
	require.Len(t, groups, 3, "similar messages in the same category merge")
	assert.Len(t, groups[0], 2)
}

func TestAnalyzeCreatesPattern(t *testing.T) {
	e := newTestEngine(t, nil)

	touched := e.Analyze(context.Background(), []models.Trouble{
		makeBuildTrouble("cannot find module lodash in src/app.ts"),
		makeBuildTrouble("cannot find module lodash in src/util.ts"),
	})
	require.Len(t, touched, 1)

	p := touched[0]
	assert.Equal(t, models.TroubleBuildError, p.Category)
	assert.Equal(t, 2, p.OccurrenceCount)
	assert.InDelta(t, 0.5, p.Confidence, 1e-9)
	assert.NotEmpty(t, p.Keywords)
	assert.NotEmpty(t, p.Regex)
	require.NotEmpty(t, p.PreventionSuggestions, "canned prevention rules attach")
	assert.Equal(t, "Add a pre-commit build hook", p.PreventionSuggestions[0].Title)
}

func TestAnalyzeMatchesExistingPattern(t *testing.T) {
	e := newTestEngine(t, nil)
	ctx := context.Background()

	first := e.Analyze(ctx, []models.Trouble{
		makeBuildTrouble("dependency resolution failed for package left-pad"),
	})
	require.Len(t, first, 1)

	second := e.Analyze(ctx, []models.Trouble{
		makeBuildTrouble("dependency resolution failed for package rimraf"),
	})
	require.Len(t, second, 1)
	assert.Equal(t, first[0].ID, second[0].ID, "recurrence joins the existing pattern")
	assert.Equal(t, 2, second[0].OccurrenceCount)

	patterns := e.Patterns()
	assert.Len(t, patterns, 1)
}

func TestAnalyzeDifferentCategoryStaysSeparate(t *testing.T) {
	e := newTestEngine(t, nil)
	ctx := context.Background()

	e.Analyze(ctx, []models.Trouble{makeBuildTrouble("cannot find module lodash")})
	e.Analyze(ctx, []models.Trouble{{
		Category:   models.TroubleTestFailure,
		Message:    "cannot find module lodash",
		OccurredAt: time.Now(),
	}})

	assert.Len(t, e.Patterns(), 2)
}

func TestAnalyzeEmptyInput(t *testing.T) {
	e := newTestEngine(t, nil)
	assert.Nil(t, e.Analyze(context.Background(), nil))
}

func TestConfidenceFor(t *testing.T) {
	assert.InDelta(t, 0.4, confidenceFor(1), 1e-9)
	assert.InDelta(t, 0.8, confidenceFor(5), 1e-9)
	assert.Equal(t, 1.0, confidenceFor(10))
	assert.Equal(t, 1.0, confidenceFor(50), "clamped")
}

func TestCommonKeywords(t *testing.T) {
	group := []models.Trouble{
		makeBuildTrouble("cannot find module lodash"),
		makeBuildTrouble("cannot find module underscore"),
	}

	keywords := commonKeywords(group)
	assert.Contains(t, keywords, "cannot")
	assert.Contains(t, keywords, "find")
	assert.Contains(t, keywords, "module")
	assert.NotContains(t, keywords, "lodash", "minority tokens drop out")

	// Longest first.
	for i := 1; i < len(keywords); i++ {
		assert.GreaterOrEqual(t, len(keywords[i-1]), len(keywords[i]))
	}
}

func TestRegexFromKeywords(t *testing.T) {
	assert.Empty(t, regexFromKeywords(nil))
	assert.Equal(t, "(?i)module", regexFromKeywords([]string{"module"}))
	assert.Equal(t, "(?i)a\\.b.*cd", regexFromKeywords([]string{"a.b", "cd"}))
}

func TestEnqueueSuggestionsFeedsQueue(t *testing.T) {
	q, err := queue.New(filepath.Join(t.TempDir(), "improvements.json"), 50, nil)
	require.NoError(t, err)
	e := newTestEngine(t, q)

	touched := e.Analyze(context.Background(), []models.Trouble{
		makeBuildTrouble("cannot find module lodash in src/app.ts"),
		makeBuildTrouble("cannot find module lodash in src/util.ts"),
	})
	require.Len(t, touched, 1)

	items, err := q.Dequeue(1)
	require.NoError(t, err)
	require.Len(t, items, 1)
	item := items[0]
	assert.Equal(t, "abstraction", item.Source)
	assert.Equal(t, "prevention", item.Type)
	assert.Equal(t, "Add a pre-commit build hook", item.Title)
	// 40 + 2 occurrences + 0.5*20 confidence + 10 automated + 0.9*10.
	assert.Equal(t, 71, item.Priority)

	// Re-analysis does not duplicate the queued suggestion.
	e.Analyze(context.Background(), []models.Trouble{
		makeBuildTrouble("cannot find module lodash in src/other.ts"),
	})
	assert.Zero(t, q.PendingCount())
}

func TestPatternsPersist(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trouble-patterns.json")

	e, err := NewEngine(path, nil, nil, nil)
	require.NoError(t, err)
	e.Analyze(context.Background(), []models.Trouble{
		makeBuildTrouble("cannot find module lodash"),
	})

	reopened, err := NewEngine(path, nil, nil, nil)
	require.NoError(t, err)
	patterns := reopened.Patterns()
	require.Len(t, patterns, 1)
	assert.Equal(t, models.TroubleBuildError, patterns[0].Category)
	assert.NotEmpty(t, patterns[0].PreventionSuggestions)
}
