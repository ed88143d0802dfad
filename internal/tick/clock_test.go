package tick

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	name  string
	calls *[]string
}

func (r recorder) OnTick(t Tick)     { *r.calls = append(*r.calls, r.name+":tick") }
func (r recorder) OnPostTick(t Tick) { *r.calls = append(*r.calls, r.name+":post") }

func TestClock_StartsAtZero(t *testing.T) {
	c := NewClock(time.Millisecond)
	assert.Equal(t, Tick(0), c.Current())
	assert.Equal(t, Tick(1), c.Step())
	assert.Equal(t, Tick(2), c.Step())
	assert.Equal(t, Tick(2), c.Current())
}

func TestClock_NewClockAt(t *testing.T) {
	c := NewClockAt(time.Millisecond, 100)
	assert.Equal(t, Tick(101), c.Step())
}

func TestClock_PostTickAfterAllTicks(t *testing.T) {
	c := NewClock(time.Millisecond)
	var calls []string
	c.Subscribe(recorder{name: "a", calls: &calls})
	c.Subscribe(recorder{name: "b", calls: &calls})

	c.Step()

	assert.Equal(t, []string{"a:tick", "b:tick", "a:post", "b:post"}, calls)
}

func TestClock_PanickingListenerIsIsolated(t *testing.T) {
	c := NewClock(time.Millisecond)
	var ticks []Tick
	c.Subscribe(Funcs{Tick: func(Tick) { panic("boom") }})
	c.Subscribe(Funcs{Tick: func(t Tick) { ticks = append(ticks, t) }})

	c.Step()
	c.Step()

	assert.Equal(t, []Tick{1, 2}, ticks)
	assert.Equal(t, uint64(2), c.Faults())
}

func TestClock_CancelStopsNotifications(t *testing.T) {
	c := NewClock(time.Millisecond)
	var n int
	sub := c.Subscribe(Funcs{Tick: func(Tick) { n++ }})

	c.Step()
	sub.Cancel()
	c.Step()

	assert.Equal(t, 1, n)
	assert.False(t, sub.Active())
	assert.Equal(t, 0, c.Len())

	// cancelling twice is harmless
	sub.Cancel()
}

func TestClock_CancelDuringStepSkipsPostTick(t *testing.T) {
	c := NewClock(time.Millisecond)
	var victim *Subscription
	var victimPost int

	c.Subscribe(Funcs{Tick: func(Tick) { victim.Cancel() }})
	victim = c.Subscribe(Funcs{PostTick: func(Tick) { victimPost++ }})

	c.Step()

	assert.Zero(t, victimPost)
}

func TestClock_SubscribeDuringStepStartsNextTick(t *testing.T) {
	c := NewClock(time.Millisecond)
	var seen []Tick
	var once bool
	c.Subscribe(Funcs{Tick: func(Tick) {
		if once {
			return
		}
		once = true
		c.Subscribe(Funcs{Tick: func(t Tick) { seen = append(seen, t) }})
	}})

	c.Step()
	c.Step()

	assert.Equal(t, []Tick{2}, seen)
}

func TestClock_Run(t *testing.T) {
	c := NewClock(time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())
	reached := make(chan struct{})
	c.Subscribe(Funcs{PostTick: func(t Tick) {
		if t == 3 {
			close(reached)
		}
	}})

	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	select {
	case <-reached:
	case <-time.After(2 * time.Second):
		t.Fatal("clock did not reach tick 3")
	}
	cancel()
	require.ErrorIs(t, <-done, context.Canceled)
}

func TestClock_DefaultInterval(t *testing.T) {
	c := NewClock(0)
	assert.Equal(t, DefaultDuration, c.Interval())
	assert.InDelta(t, DefaultDelta, c.Delta(), 1e-12)
}
