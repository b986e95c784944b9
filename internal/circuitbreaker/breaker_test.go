package circuitbreaker

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBreakerOpensAfterMaxFailures(t *testing.T) {
	b := New(Config{MaxFailures: 3, OpenTimeout: time.Minute, HalfOpenProbeCount: 1})

	require.True(t, b.ShouldAttempt())
	b.RecordFailure()
	b.RecordFailure()
	assert.Equal(t, StateClosed, b.CurrentState())
	b.RecordFailure()

	assert.Equal(t, StateOpen, b.CurrentState())
	assert.False(t, b.ShouldAttempt())
}

func TestBreakerHalfOpenAfterTimeout(t *testing.T) {
	b := New(Config{MaxFailures: 1, OpenTimeout: 10 * time.Millisecond, HalfOpenProbeCount: 1})
	fakeNow := time.Now()
	b.now = func() time.Time { return fakeNow }

	b.RecordFailure()
	assert.Equal(t, StateOpen, b.CurrentState())

	fakeNow = fakeNow.Add(20 * time.Millisecond)
	assert.Equal(t, StateHalfOpen, b.CurrentState())
	assert.True(t, b.ShouldAttempt())
}

func TestBreakerHalfOpenSuccessCloses(t *testing.T) {
	b := New(Config{MaxFailures: 1, OpenTimeout: time.Millisecond, HalfOpenProbeCount: 1})
	fakeNow := time.Now()
	b.now = func() time.Time { return fakeNow }

	b.RecordFailure()
	fakeNow = fakeNow.Add(5 * time.Millisecond)
	require.Equal(t, StateHalfOpen, b.CurrentState())

	b.RecordSuccess()
	assert.Equal(t, StateClosed, b.CurrentState())
	assert.Equal(t, 0, b.Statistics().ConsecutiveFailures)
}

func TestBreakerHalfOpenFailureReopens(t *testing.T) {
	b := New(Config{MaxFailures: 1, OpenTimeout: time.Millisecond, HalfOpenProbeCount: 1})
	fakeNow := time.Now()
	b.now = func() time.Time { return fakeNow }

	b.RecordFailure()
	fakeNow = fakeNow.Add(5 * time.Millisecond)
	require.Equal(t, StateHalfOpen, b.CurrentState())

	b.RecordFailure()
	assert.Equal(t, StateOpen, b.CurrentState())
}
