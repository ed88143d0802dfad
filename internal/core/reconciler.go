package core

import (
	"slices"
	"sync"

	"mygame/netsim/internal/physics"
	"mygame/netsim/internal/tick"
)

// Correction is the authoritative state of one entity at the end of a tick.
type Correction struct {
	Entity EntityID
	Tick   tick.Tick
	State  physics.Snapshot
}

// SnapshotSender transmits corrections from the authority. Delivery is
// unreliable; implementations may drop.
type SnapshotSender interface {
	SendCorrection(c Correction)
}

// InputSender transmits inputs sampled by an owning observer.
type InputSender[T Record] interface {
	SendInput(entity EntityID, in T)
}

// Stats summarises what a controller did so far.
type Stats struct {
	Corrections        uint64
	StaleCorrections   uint64
	ReplayedTicks      uint64
	AcceptedInputs     uint64
	DroppedInputs      uint64
	LastCorrectionTick tick.Tick
	LastDivergence     float64
}

// Config wires one entity controller. Sample is set only on the machine
// that owns the entity's input.
type Config[T Record] struct {
	ID          EntityID
	Proxy       *physics.Proxy
	Action      Action[T]
	Default     Factory[T]
	Sample      func(t tick.Tick) T
	HistorySize int
}

// Entity is what a room or client keeps per spawned controller.
type Entity interface {
	tick.Participant
	ID() EntityID
	Owned() bool
	Proxy() *physics.Proxy
	Stats() Stats
	Detach()
}

// controller holds what both roles share: the proxy, the action and the
// input history, all owned exclusively by this entity.
type controller[T Record] struct {
	id      EntityID
	proxy   *physics.Proxy
	action  Action[T]
	def     Factory[T]
	sample  func(t tick.Tick) T
	history *History[T]
	sub     *tick.Subscription

	inboxMu sync.Mutex
	inbox   []T

	statsMu sync.Mutex
	stats   Stats
}

func newController[T Record](cfg Config[T]) controller[T] {
	size := cfg.HistorySize
	if size <= 0 {
		size = DefaultHistoryTicks
	}
	return controller[T]{
		id:      cfg.ID,
		proxy:   cfg.Proxy,
		action:  cfg.Action,
		def:     cfg.Default,
		sample:  cfg.Sample,
		history: NewHistory[T](size),
	}
}

// DefaultHistoryTicks covers a one second round trip at 64Hz twice over.
const DefaultHistoryTicks = 128

func (c *controller[T]) ID() EntityID { return c.id }

// Owned reports whether inputs are sampled on this machine.
func (c *controller[T]) Owned() bool { return c.sample != nil }

func (c *controller[T]) Proxy() *physics.Proxy { return c.proxy }

func (c *controller[T]) History() *History[T] { return c.history }

func (c *controller[T]) Stats() Stats {
	c.statsMu.Lock()
	defer c.statsMu.Unlock()
	return c.stats
}

func (c *controller[T]) updateStats(fn func(s *Stats)) {
	c.statsMu.Lock()
	fn(&c.stats)
	c.statsMu.Unlock()
}

// Detach is the single teardown path: no callback runs after it returns.
func (c *controller[T]) Detach() {
	c.sub.Cancel()
}

// DeliverInput queues an input received from the network. It is safe to
// call from any goroutine; the input enters the history on the next tick.
func (c *controller[T]) DeliverInput(in T) {
	c.inboxMu.Lock()
	c.inbox = append(c.inbox, in)
	c.inboxMu.Unlock()
}

func (c *controller[T]) drainInputs() {
	c.inboxMu.Lock()
	pending := c.inbox
	c.inbox = nil
	c.inboxMu.Unlock()
	if len(pending) == 0 {
		return
	}

	slices.SortFunc(pending, func(a, b T) int {
		switch {
		case a.Tick() < b.Tick():
			return -1
		case a.Tick() > b.Tick():
			return 1
		}
		return 0
	})

	var accepted, dropped uint64
	for _, in := range pending {
		if err := c.history.Record(in); err != nil {
			dropped++
			continue
		}
		accepted++
	}
	c.updateStats(func(s *Stats) {
		s.AcceptedInputs += accepted
		s.DroppedInputs += dropped
	})
}

// live picks the input simulated for t the first time it runs.
func (c *controller[T]) live(t tick.Tick) (T, ReplicateState, bool) {
	if c.sample != nil {
		in := c.sample(t)
		if err := c.history.Record(in); err != nil {
			c.updateStats(func(s *Stats) { s.DroppedInputs++ })
		}
		return in, Created, true
	}
	if in, ok := c.history.Get(t); ok {
		return in, Created, false
	}
	return c.def(t), Invalid, false
}

// Authority simulates an entity whose state is ground truth and emits a
// correction after every tick.
type Authority[T Record] struct {
	controller[T]
	out    SnapshotSender
	retain tick.Tick
}

// NewAuthority builds the authoritative controller. out may be nil.
func NewAuthority[T Record](cfg Config[T], out SnapshotSender) *Authority[T] {
	a := &Authority[T]{controller: newController(cfg), out: out}
	a.retain = tick.Tick(a.history.Cap())
	return a
}

// Attach subscribes the controller to clock.
func (a *Authority[T]) Attach(clock *tick.Clock) {
	a.sub = clock.Subscribe(a)
}

func (a *Authority[T]) OnTick(t tick.Tick) {
	a.drainInputs()
	in, state, _ := a.live(t)
	a.action.Replicate(in, state)
}

func (a *Authority[T]) OnPostTick(t tick.Tick) {
	c := Correction{Entity: a.id, Tick: t, State: a.proxy.Snapshot()}
	if a.out != nil {
		a.out.SendCorrection(c)
	}
	if t > a.retain {
		a.history.Prune(t - a.retain)
	}
}

// Observer predicts an entity locally and reconciles against corrections
// from the authority.
type Observer[T Record] struct {
	controller[T]
	out InputSender[T]

	pendingMu sync.Mutex
	pending   *Correction

	current     tick.Tick
	lastApplied tick.Tick
	applied     bool
	predicted   *predictions
}

// NewObserver builds the predicting controller. out may be nil when the
// entity is not owned here.
func NewObserver[T Record](cfg Config[T], out InputSender[T]) *Observer[T] {
	o := &Observer[T]{controller: newController(cfg), out: out}
	o.predicted = newPredictions(o.history.Cap())
	return o
}

// Attach subscribes the controller to clock.
func (o *Observer[T]) Attach(clock *tick.Clock) {
	o.sub = clock.Subscribe(o)
}

// Deliver hands over a correction from the network. Only the newest
// undelivered correction is kept. Safe for concurrent use.
func (o *Observer[T]) Deliver(c Correction) {
	o.pendingMu.Lock()
	defer o.pendingMu.Unlock()
	if o.pending != nil && c.Tick <= o.pending.Tick {
		o.updateStats(func(s *Stats) { s.StaleCorrections++ })
		return
	}
	o.pending = &c
}

func (o *Observer[T]) OnTick(t tick.Tick) {
	o.Reconcile()

	in, state, owned := o.live(t)
	o.action.Replicate(in, state)
	o.current = t
	if owned && o.out != nil {
		o.out.SendInput(o.id, in)
	}
}

func (o *Observer[T]) OnPostTick(t tick.Tick) {
	o.predicted.put(t, o.proxy.Snapshot())
}

// Current returns the newest tick this observer simulated.
func (o *Observer[T]) Current() tick.Tick { return o.current }

func (o *Observer[T]) takePending() *Correction {
	o.pendingMu.Lock()
	defer o.pendingMu.Unlock()
	c := o.pending
	o.pending = nil
	return c
}

// Reconcile takes in delivered inputs, then restores the newest pending
// correction and replays every tick after it up to the current one. It
// runs at the start of every tick and must only be called from the
// goroutine that steps the clock.
func (o *Observer[T]) Reconcile() {
	o.drainInputs()
	c := o.takePending()
	if c == nil {
		return
	}
	if o.applied && c.Tick <= o.lastApplied {
		o.updateStats(func(s *Stats) { s.StaleCorrections++ })
		return
	}

	divergence, known := 0.0, false
	if snap, ok := o.predicted.get(c.Tick); ok {
		divergence, known = snap.Distance(c.State), true
	}

	o.proxy.Restore(c.State)
	o.lastApplied, o.applied = c.Tick, true

	replayed := o.replay(c.Tick)
	o.history.Prune(c.Tick + 1)

	o.updateStats(func(s *Stats) {
		s.Corrections++
		s.ReplayedTicks += replayed
		s.LastCorrectionTick = c.Tick
		if known {
			s.LastDivergence = divergence
		}
	})
}

func (o *Observer[T]) replay(from tick.Tick) uint64 {
	if from >= o.current {
		return 0
	}
	var n uint64
	step := func(in T, state ReplicateState) {
		o.action.Replicate(in, state)
		o.predicted.put(in.Tick(), o.proxy.Snapshot())
		n++
	}

	next := from + 1
	for in := range o.history.Since(from) {
		if in.Tick() > o.current {
			break
		}
		for ; next < in.Tick(); next++ {
			step(o.def(next), ReplayedFuture)
		}
		step(in, ReplayedCreated)
		next++
	}
	for ; next <= o.current; next++ {
		step(o.def(next), ReplayedFuture)
	}
	return n
}

// predictions remembers the predicted snapshot of recent ticks so a
// correction can be compared against what this side believed.
type predictions struct {
	ticks []tick.Tick
	snaps []physics.Snapshot
	set   []bool
}

func newPredictions(capacity int) *predictions {
	return &predictions{
		ticks: make([]tick.Tick, capacity),
		snaps: make([]physics.Snapshot, capacity),
		set:   make([]bool, capacity),
	}
}

func (p *predictions) put(t tick.Tick, s physics.Snapshot) {
	i := int(t % tick.Tick(len(p.ticks)))
	p.ticks[i], p.snaps[i], p.set[i] = t, s, true
}

func (p *predictions) get(t tick.Tick) (physics.Snapshot, bool) {
	i := int(t % tick.Tick(len(p.ticks)))
	if !p.set[i] || p.ticks[i] != t {
		return physics.Snapshot{}, false
	}
	return p.snaps[i], true
}
