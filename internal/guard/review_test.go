package guard

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GS-Bacon/KairosAgent-sub000/internal/ai"
)

// fakeProvider returns a fixed verdict for every review request.
type fakeProvider struct {
	name      string
	available bool
	approve   bool
	reason    string
	fail      bool
	calls     int
}

func (f *fakeProvider) Name() string    { return f.name }
func (f *fakeProvider) Available() bool { return f.available }

func (f *fakeProvider) Generate(ctx context.Context, req ai.Request) (*ai.Response, error) {
	f.calls++
	if f.fail {
		return nil, context.DeadlineExceeded
	}
	verdict := `{"approved": false, "reason": "` + f.reason + `"}`
	if f.approve {
		verdict = `{"approved": true, "reason": "` + f.reason + `"}`
	}
	return &ai.Response{Content: verdict}, nil
}

func newTestReviewer(t *testing.T, primary, secondary ai.Provider) *Reviewer {
	t.Helper()
	r, err := NewReviewer(primary, secondary,
		filepath.Join(t.TempDir(), "ai-review-log.json"), nil)
	require.NoError(t, err)
	return r
}

func TestValidateCodeWithAIDecisionTable(t *testing.T) {
	tests := []struct {
		name     string
		primary  *fakeProvider
		second   *fakeProvider
		approved bool
	}{
		{
			name:     "both approve",
			primary:  &fakeProvider{name: "p", available: true, approve: true},
			second:   &fakeProvider{name: "s", available: true, approve: true},
			approved: true,
		},
		{
			name:     "primary approves over secondary rejection",
			primary:  &fakeProvider{name: "p", available: true, approve: true},
			second:   &fakeProvider{name: "s", available: true, approve: false},
			approved: true,
		},
		{
			name:     "primary rejection is final",
			primary:  &fakeProvider{name: "p", available: true, approve: false, reason: "shell escape"},
			second:   &fakeProvider{name: "s", available: true, approve: true},
			approved: false,
		},
		{
			name:     "secondary alone without trust history",
			primary:  &fakeProvider{name: "p", available: false},
			second:   &fakeProvider{name: "s", available: true, approve: true},
			approved: false,
		},
		{
			name:     "neither available",
			primary:  &fakeProvider{name: "p", available: false},
			second:   &fakeProvider{name: "s", available: false},
			approved: false,
		},
		{
			name:     "primary errors fall through to secondary rules",
			primary:  &fakeProvider{name: "p", available: true, fail: true},
			second:   &fakeProvider{name: "s", available: true, approve: true},
			approved: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newTestReviewer(t, tt.primary, tt.second)
			got := r.ValidateCodeWithAI(context.Background(), "code", "test", nil)
			assert.Equal(t, tt.approved, got.Approved, got.Reason)
			assert.NotEmpty(t, got.Reason)
		})
	}
}

func TestSecondaryAloneApprovedWithHighTrust(t *testing.T) {
	primary := &fakeProvider{name: "p", available: true, approve: true}
	secondary := &fakeProvider{name: "s", available: true, approve: true}
	r := newTestReviewer(t, primary, secondary)

	// Build agreement history: five dual reviews where both agree.
	for i := 0; i < 5; i++ {
		r.ValidateCodeWithAI(context.Background(), "code", "warmup", nil)
	}
	require.Equal(t, 1.0, r.TrustScore())

	// Primary goes away; the trusted secondary may approve alone.
	primary.available = false
	got := r.ValidateCodeWithAI(context.Background(), "code", "solo", nil)
	assert.True(t, got.Approved)
	assert.Contains(t, got.Reason, "secondary")
}

func TestTrustScoreRequiresMinimumSamples(t *testing.T) {
	primary := &fakeProvider{name: "p", available: true, approve: true}
	secondary := &fakeProvider{name: "s", available: true, approve: true}
	r := newTestReviewer(t, primary, secondary)

	for i := 0; i < 4; i++ {
		r.ValidateCodeWithAI(context.Background(), "code", "warmup", nil)
	}
	assert.Equal(t, 0.0, r.TrustScore(), "under 5 dual samples trust stays zero")
}

func TestTrustScoreCountsDisagreement(t *testing.T) {
	primary := &fakeProvider{name: "p", available: true, approve: true}
	secondary := &fakeProvider{name: "s", available: true, approve: false}
	r := newTestReviewer(t, primary, secondary)

	for i := 0; i < 6; i++ {
		r.ValidateCodeWithAI(context.Background(), "code", "warmup", nil)
	}
	assert.Equal(t, 0.0, r.TrustScore(), "constant disagreement gives zero trust")
}

func TestReviewProtectedFileChange(t *testing.T) {
	t.Run("approved by primary", func(t *testing.T) {
		r := newTestReviewer(t, &fakeProvider{name: "p", available: true, approve: true}, nil)
		got := r.ReviewProtectedFileChange(context.Background(), "src/core/x.ts", "refactor", "code")
		assert.True(t, got.Approved)
	})

	t.Run("rejected by primary", func(t *testing.T) {
		r := newTestReviewer(t, &fakeProvider{name: "p", available: true, approve: false}, nil)
		got := r.ReviewProtectedFileChange(context.Background(), "src/core/x.ts", "refactor", "code")
		assert.False(t, got.Approved)
	})

	t.Run("no primary rejects", func(t *testing.T) {
		secondary := &fakeProvider{name: "s", available: true, approve: true}
		r := newTestReviewer(t, nil, secondary)
		got := r.ReviewProtectedFileChange(context.Background(), "src/core/x.ts", "refactor", "code")
		assert.False(t, got.Approved)
		assert.Zero(t, secondary.calls, "secondary never reviews protected file changes")
	})
}

func TestReviewLogPersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ai-review-log.json")
	primary := &fakeProvider{name: "p", available: true, approve: true}

	r, err := NewReviewer(primary, nil, path, nil)
	require.NoError(t, err)
	r.ValidateCodeWithAI(context.Background(), "code", "ctx", []string{"eval() call"})

	reopened, err := NewReviewer(primary, nil, path, nil)
	require.NoError(t, err)
	records := reopened.Records()
	require.Len(t, records, 1)
	assert.True(t, records[0].Approved)
	assert.Equal(t, []string{"eval() call"}, records[0].DangerousPatterns)
}
