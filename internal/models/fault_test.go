package models

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFaultRetriable(t *testing.T) {
	tests := []struct {
		kind FaultKind
		want bool
	}{
		{FaultTransient, true},
		{FaultValidation, true},
		{FaultPolicy, false},
		{FaultFatal, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			assert.Equal(t, tt.want, NewFault(tt.kind, "x", nil).Retriable())
		})
	}

	var nilFault *Fault
	assert.False(t, nilFault.Retriable())
}

func TestFaultErrorAndUnwrap(t *testing.T) {
	cause := errors.New("disk full")
	f := NewFault(FaultTransient, "snapshot write", cause)

	assert.Equal(t, "transient: snapshot write: disk full", f.Error())
	assert.True(t, errors.Is(f, cause))

	bare := NewFault(FaultPolicy, "path escapes workspace", nil)
	assert.Equal(t, "policy: path escapes workspace", bare.Error())
}

func TestQueueStatusTerminal(t *testing.T) {
	assert.True(t, QueueCompleted.Terminal())
	assert.True(t, QueueFailed.Terminal())
	assert.True(t, QueueSkipped.Terminal())
	assert.False(t, QueuePending.Terminal())
	assert.False(t, QueueScheduled.Terminal())
	assert.False(t, QueueInProgress.Terminal())
}

func TestCycleContextRecordFailureFirstWins(t *testing.T) {
	c := &CycleContext{}
	c.RecordFailure("plan", "no target")
	c.RecordFailure("verify", "later failure")

	assert.Equal(t, "plan", c.FailedPhase)
	assert.Equal(t, "no target", c.FailureReason)
}

func TestTokenUsage(t *testing.T) {
	u := TokenUsage{InputTokens: 10, OutputTokens: 5}
	u.Add(TokenUsage{InputTokens: 2, OutputTokens: 3})

	assert.Equal(t, 12, u.InputTokens)
	assert.Equal(t, 8, u.OutputTokens)
	assert.Equal(t, 20, u.Total())
}
