package circuit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type outcome int

const (
	fail outcome = iota
	succeed
)

// replay records outcomes in order and returns the breaker state after each.
func replay(b *Breaker, outcomes ...outcome) []State {
	states := make([]State, 0, len(outcomes))
	for _, o := range outcomes {
		if o == fail {
			b.RecordFailure()
		} else {
			b.RecordSuccess()
		}
		states = append(states, b.State())
	}
	return states
}

func TestBreakerTransitions(t *testing.T) {
	c, o := StateClosed, StateOpen
	tests := []struct {
		name     string
		opts     []Option
		outcomes []outcome
		want     []State
	}{
		{
			name:     "opens on the threshold failure",
			opts:     []Option{WithFailureThreshold(3)},
			outcomes: []outcome{fail, fail, fail},
			want:     []State{c, c, o},
		},
		{
			name:     "success resets the failure streak",
			opts:     []Option{WithFailureThreshold(3)},
			outcomes: []outcome{fail, fail, succeed, fail, fail, fail},
			want:     []State{c, c, c, c, c, o},
		},
		{
			name:     "closes after the success threshold",
			opts:     []Option{WithFailureThreshold(1), WithSuccessThreshold(2)},
			outcomes: []outcome{fail, succeed, succeed},
			want:     []State{o, o, c},
		},
		{
			name:     "failure while open resets the success streak",
			opts:     []Option{WithFailureThreshold(1), WithSuccessThreshold(3)},
			outcomes: []outcome{fail, succeed, succeed, fail, succeed, succeed, succeed},
			want:     []State{o, o, o, o, o, o, c},
		},
		{
			name:     "default threshold is five failures",
			outcomes: []outcome{fail, fail, fail, fail, fail},
			want:     []State{c, c, c, c, o},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := New("relay", tt.opts...)
			assert.Equal(t, tt.want, replay(b, tt.outcomes...))
		})
	}
}

func TestBreakerReportsStateChanges(t *testing.T) {
	b := New("wss://relay.example", WithFailureThreshold(2))
	assert.Equal(t, "wss://relay.example", b.Name())

	fallback, change := b.RecordFailure()
	assert.False(t, fallback)
	assert.Equal(t, StateChange{}, change)

	fallback, change = b.RecordFailure()
	assert.True(t, fallback)
	assert.True(t, change.Opened)

	fallback, change = b.RecordFailure()
	assert.True(t, fallback, "open breaker keeps asking for the fallback")
	assert.False(t, change.Opened, "already open")

	primary, change := b.RecordSuccess()
	assert.True(t, primary)
	assert.True(t, change.Closed)
}

func TestBreakerReset(t *testing.T) {
	b := New("relay", WithFailureThreshold(1))
	b.RecordFailure()
	require.True(t, b.IsOpen())

	b.Reset()

	assert.False(t, b.IsOpen())
	assert.True(t, b.Allow())
}

func TestBreakerAllowProbesAfterCooldown(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	b := New("relay", WithFailureThreshold(2), WithCooldown(time.Minute), WithClock(func() time.Time { return now }))

	assert.True(t, b.Allow())
	replay(b, fail, fail)
	require.True(t, b.IsOpen())
	assert.False(t, b.Allow(), "open breaker rejects calls during cooldown")

	now = now.Add(time.Minute)
	assert.True(t, b.Allow(), "one probe after the cooldown")
	assert.False(t, b.Allow(), "second probe waits for the next cooldown")

	b.RecordSuccess()
	assert.False(t, b.IsOpen())
	assert.True(t, b.Allow())
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "closed", StateClosed.String())
	assert.Equal(t, "open", StateOpen.String())
}
