package netstart

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"mygame/netsim/internal/core"
	"mygame/netsim/internal/session"
	"mygame/netsim/internal/tick"
	"mygame/netsim/internal/wire"
	"mygame/netsim/pkg/config"
)

var ErrNoWelcome = errors.New("server did not answer join")

// ClientOptions configure an observer client.
type ClientOptions struct {
	Game     config.GameConfig
	Username string
	Token    string
	Input    core.InputSource
	// WelcomeTimeout bounds the wait for the server's answer to Join.
	WelcomeTimeout time.Duration
}

// remote is an entity mirrored from the authority.
type remote struct {
	ctrl    core.Entity
	kind    wire.Kind
	deliver func(core.Correction)
	input   func(core.MoveData)
}

// ClientStats summarises a client run.
type ClientStats struct {
	Entity   core.EntityID
	Tick     tick.Tick
	Entities int
	Owned    core.Stats
	Faults   uint64
}

// Client is a connected observer. It predicts its own player ahead of the
// authority and mirrors every other entity the authority reports.
type Client struct {
	t    Transport
	opts ClientOptions

	mu       sync.Mutex
	welcome  wire.Welcome
	clock    *tick.Clock
	world    session.World
	entities map[core.EntityID]*remote
	gone     map[core.EntityID]bool
}

func NewClient(t Transport, opts ClientOptions) *Client {
	if opts.WelcomeTimeout <= 0 {
		opts.WelcomeTimeout = 5 * time.Second
	}
	if opts.Input == nil {
		opts.Input = core.ScriptedInput{Period: 64, JumpEvery: 96}
	}
	return &Client{
		t:        t,
		opts:     opts,
		entities: make(map[core.EntityID]*remote),
		gone:     make(map[core.EntityID]bool),
	}
}

// Run joins the session on an already connected transport and predicts
// until ctx is done or the transport stops.
func (c *Client) Run(ctx context.Context) error {
	defer c.t.StopConnection()

	join, err := wire.Marshal(&wire.Packet{Join: &wire.Join{Username: c.opts.Username, Token: c.opts.Token}})
	if err != nil {
		return err
	}
	if !c.t.Send(join) {
		return fmt.Errorf("send join: %w", ErrNoWelcome)
	}

	in := c.t.Receive()
	w, err := c.awaitWelcome(ctx, in)
	if err != nil {
		return err
	}
	c.start(w)
	log.Printf("client: joined room %s as entity %d at tick %d", w.Room, w.Entity, c.clock.Current())

	go c.clock.Run(ctx)

	for {
		select {
		case <-ctx.Done():
			return nil
		case b, ok := <-in:
			if !ok {
				return nil
			}
			pkt, err := wire.Unmarshal(b)
			if err != nil {
				continue
			}
			c.handle(pkt)
		}
	}
}

func (c *Client) awaitWelcome(ctx context.Context, in <-chan []byte) (wire.Welcome, error) {
	timer := time.NewTimer(c.opts.WelcomeTimeout)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return wire.Welcome{}, ctx.Err()
		case <-timer.C:
			return wire.Welcome{}, ErrNoWelcome
		case b, ok := <-in:
			if !ok {
				return wire.Welcome{}, ErrNoWelcome
			}
			pkt, err := wire.Unmarshal(b)
			if err == nil && pkt.Welcome != nil {
				return *pkt.Welcome, nil
			}
		}
	}
}

// start aligns the local clock lead ticks ahead of the authority and
// spawns the owned player.
func (c *Client) start(w wire.Welcome) {
	rate := w.TickRate
	if rate == 0 {
		rate = tick.DefaultRate
	}
	clock := tick.NewClockAt(time.Second/time.Duration(rate), w.Tick+tick.Tick(w.LeadTicks))

	c.mu.Lock()
	defer c.mu.Unlock()
	c.welcome = w
	c.clock = clock
	c.world = session.NewWorld(c.opts.Game, clock.Delta())

	sampler := core.NewSampler(c.opts.Input)
	o := core.NewObserver(c.world.PlayerConfig(w.Entity, sampler.Sample), c)
	o.Attach(clock)
	c.entities[w.Entity] = &remote{ctrl: o, kind: wire.KindPlayer, deliver: o.Deliver}
}

// SendInput sends an owned input to the authority.
func (c *Client) SendInput(entity core.EntityID, in core.MoveData) {
	b, err := wire.Marshal(&wire.Packet{Input: &wire.Input{Entity: entity, Move: in}})
	if err != nil {
		return
	}
	c.t.Send(b)
}

func (c *Client) handle(pkt *wire.Packet) {
	switch {
	case pkt.Snapshot != nil:
		for _, st := range pkt.Snapshot.States {
			r := c.spawn(st.Entity, st.Kind)
			if r == nil {
				continue
			}
			r.deliver(core.Correction{Entity: st.Entity, Tick: pkt.Snapshot.Tick, State: st.State})
		}

	case pkt.Input != nil:
		c.mu.Lock()
		r := c.entities[pkt.Input.Entity]
		c.mu.Unlock()
		if r != nil && r.input != nil {
			r.input(pkt.Input.Move)
		}

	case pkt.Despawn != nil:
		c.despawn(pkt.Despawn.Entity)
	}
}

// spawn returns the mirror of id, creating it on first sight.
func (c *Client) spawn(id core.EntityID, kind wire.Kind) *remote {
	c.mu.Lock()
	defer c.mu.Unlock()
	if r, ok := c.entities[id]; ok {
		return r
	}
	if c.gone[id] {
		return nil
	}

	var r *remote
	switch kind {
	case wire.KindPlayer:
		o := core.NewObserver(c.world.PlayerConfig(id, nil), nil)
		o.Attach(c.clock)
		r = &remote{ctrl: o, kind: kind, deliver: o.Deliver, input: o.DeliverInput}
	case wire.KindJoint:
		o := core.NewObserver(c.world.JointConfig(id), nil)
		o.Attach(c.clock)
		r = &remote{ctrl: o, kind: kind, deliver: o.Deliver}
	default:
		return nil
	}
	c.entities[id] = r
	return r
}

func (c *Client) despawn(id core.EntityID) {
	c.mu.Lock()
	r, ok := c.entities[id]
	delete(c.entities, id)
	c.gone[id] = true
	c.mu.Unlock()
	if ok {
		r.ctrl.Detach()
	}
}

// Stats reports the owned player's reconciliation counters.
func (c *Client) Stats() ClientStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	st := ClientStats{Entity: c.welcome.Entity, Entities: len(c.entities)}
	if c.clock != nil {
		st.Tick = c.clock.Current()
		st.Faults = c.clock.Faults()
	}
	if r, ok := c.entities[c.welcome.Entity]; ok {
		st.Owned = r.ctrl.Stats()
	}
	return st
}
