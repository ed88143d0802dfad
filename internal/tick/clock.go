package tick

import (
	"context"
	"log"
	"sync"
	"sync/atomic"
	"time"
)

// Tick identifies one fixed-interval simulation step.
type Tick uint32

// Tick system defaults
const (
	DefaultRate     = 64                         // Hz
	DefaultDuration = time.Second / DefaultRate  // 15.625ms
	DefaultDelta    = 1.0 / float64(DefaultRate) // seconds
)

// Participant receives the two notifications fired for every tick.
// OnPostTick for tick N runs only after every OnTick for tick N returned.
type Participant interface {
	OnTick(t Tick)
	OnPostTick(t Tick)
}

// Subscription is the only way to detach a participant from a clock.
type Subscription struct {
	clock     *Clock
	p         Participant
	cancelled atomic.Bool
	lastTick  Tick
	lastPost  Tick
}

// Cancel detaches the participant. No callback for it starts after Cancel returns,
// including the remaining callbacks of a step that is in progress.
func (s *Subscription) Cancel() {
	if s == nil || !s.cancelled.CompareAndSwap(false, true) {
		return
	}
	s.clock.remove(s)
}

// Active reports whether the subscription still receives notifications.
func (s *Subscription) Active() bool {
	return s != nil && !s.cancelled.Load()
}

// Clock is a process-wide monotonically increasing tick counter.
type Clock struct {
	interval time.Duration
	current  atomic.Uint32
	faults   atomic.Uint64

	mu   sync.Mutex
	subs []*Subscription

	// serialises Step so a tick never interleaves with the next one
	stepMu sync.Mutex
}

// NewClock creates a clock at tick 0; the first Step produces tick 1.
func NewClock(interval time.Duration) *Clock {
	return NewClockAt(interval, 0)
}

// NewClockAt creates a clock whose next Step produces start+1.
func NewClockAt(interval time.Duration, start Tick) *Clock {
	if interval <= 0 {
		interval = DefaultDuration
	}
	c := &Clock{interval: interval}
	c.current.Store(uint32(start))
	return c
}

// Interval returns the fixed step duration.
func (c *Clock) Interval() time.Duration { return c.interval }

// Delta returns the step duration in seconds.
func (c *Clock) Delta() float64 { return c.interval.Seconds() }

// Current returns the last completed (or in-progress) tick.
func (c *Clock) Current() Tick { return Tick(c.current.Load()) }

// Faults returns how many listener panics were recovered.
func (c *Clock) Faults() uint64 { return c.faults.Load() }

// Subscribe registers p. A subscription made while a step is running
// receives its first notification on the following tick.
func (c *Clock) Subscribe(p Participant) *Subscription {
	s := &Subscription{clock: c, p: p, lastTick: c.Current(), lastPost: c.Current()}
	c.mu.Lock()
	c.subs = append(c.subs, s)
	c.mu.Unlock()
	return s
}

// Len returns the number of active subscriptions.
func (c *Clock) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.subs)
}

func (c *Clock) remove(s *Subscription) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, cur := range c.subs {
		if cur == s {
			c.subs = append(c.subs[:i:i], c.subs[i+1:]...)
			return
		}
	}
}

// Step advances the clock by one tick and fires both notifications.
func (c *Clock) Step() Tick {
	c.stepMu.Lock()
	defer c.stepMu.Unlock()

	t := Tick(c.current.Add(1))

	c.mu.Lock()
	subs := make([]*Subscription, len(c.subs))
	copy(subs, c.subs)
	c.mu.Unlock()

	for _, s := range subs {
		if !s.Active() || s.lastTick >= t {
			continue
		}
		s.lastTick = t
		c.invoke(s, t, "tick", s.p.OnTick)
	}
	for _, s := range subs {
		if !s.Active() || s.lastPost >= t {
			continue
		}
		s.lastPost = t
		c.invoke(s, t, "post-tick", s.p.OnPostTick)
	}
	return t
}

// invoke isolates a faulting listener from the rest of the tick.
func (c *Clock) invoke(s *Subscription, t Tick, phase string, fn func(Tick)) {
	defer func() {
		if r := recover(); r != nil {
			c.faults.Add(1)
			log.Printf("tick %d: %s listener %T panicked: %v", t, phase, s.p, r)
		}
	}()
	fn(t)
}

// Run steps the clock at its fixed interval until ctx is done.
func (c *Clock) Run(ctx context.Context) error {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			c.Step()
		}
	}
}

// Funcs adapts plain functions to a Participant. Nil fields are skipped.
type Funcs struct {
	Tick     func(Tick)
	PostTick func(Tick)
}

func (f Funcs) OnTick(t Tick) {
	if f.Tick != nil {
		f.Tick(t)
	}
}

func (f Funcs) OnPostTick(t Tick) {
	if f.PostTick != nil {
		f.PostTick(t)
	}
}
