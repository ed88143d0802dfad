package session

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"mygame/netsim/internal/core"
	"mygame/netsim/internal/mq"
	"mygame/netsim/internal/tick"
	"mygame/netsim/internal/wire"
	"mygame/netsim/pkg/config"
)

var (
	ErrUnknownEntity = errors.New("unknown entity")
	ErrRoomFull      = errors.New("room is full")
	ErrInvalidToken  = errors.New("invalid room token")
	ErrClosed        = errors.New("room closed")
)

// SnapshotStore persists the latest encoded snapshot of a room.
type SnapshotStore interface {
	SaveSnapshot(ctx context.Context, roomID string, t tick.Tick, data []byte) error
}

// TokenValidator admits peers to a room.
type TokenValidator interface {
	ValidateRoomToken(ctx context.Context, roomID, token string) (bool, error)
}

// EventPublisher receives room lifecycle events.
type EventPublisher interface {
	Publish(e mq.Event) error
}

// Options configure a Room. Only Game is required.
type Options struct {
	ID           string
	TickInterval time.Duration
	Game         config.GameConfig
	MaxPeers     int
	SendQueue    int

	// Resume continues the tick numbering and joint states of a previous run.
	Resume *wire.Snapshot

	Store  SnapshotStore
	Tokens TokenValidator
	Events EventPublisher
}

// Status is a point-in-time view of a room.
type Status struct {
	Room           string
	Tick           tick.Tick
	Peers          int
	Entities       int
	Faults         uint64
	InputsAccepted uint64
	InputsDropped  uint64
	SendsDropped   uint64
}

type entity struct {
	ctrl  core.Entity
	kind  wire.Kind
	mover *core.Authority[core.MoveData]
	peer  *Peer
}

type inbound struct {
	peer  *Peer
	input wire.Input
}

type joinReq struct {
	peer *Peer
	join wire.Join
	done chan error
}

type despawnReq struct {
	id   core.EntityID
	done chan error
}

// Room is the authoritative session: it steps every entity on one clock,
// batches their corrections into one snapshot per tick and relays inputs
// between peers. Entity and peer membership only changes on the goroutine
// running Run.
type Room struct {
	ID string

	opts  Options
	world World
	clock *tick.Clock

	register   chan joinReq
	unregister chan string
	despawn    chan despawnReq
	done       chan struct{}

	mu       sync.RWMutex
	peers    map[string]*Peer
	entities map[core.EntityID]*entity
	nextID   core.EntityID

	inboxMu sync.Mutex
	inbox   []inbound

	batch  []wire.EntityState
	saving atomic.Bool

	accepted atomic.Uint64
	dropped  atomic.Uint64
	// sends dropped by peers that already left
	gone     atomic.Uint64
}

func NewRoom(opts Options) *Room {
	if opts.ID == "" {
		opts.ID = uuid.NewString()
	}
	if opts.TickInterval <= 0 {
		opts.TickInterval = tick.DefaultDuration
	}
	if opts.MaxPeers <= 0 {
		opts.MaxPeers = 16
	}

	var start tick.Tick
	if opts.Resume != nil {
		start = opts.Resume.Tick
	}
	clock := tick.NewClockAt(opts.TickInterval, start)

	r := &Room{
		ID:         opts.ID,
		opts:       opts,
		world:      NewWorld(opts.Game, clock.Delta()),
		clock:      clock,
		register:   make(chan joinReq),
		unregister: make(chan string),
		despawn:    make(chan despawnReq),
		done:       make(chan struct{}),
		peers:      make(map[string]*Peer),
		entities:   make(map[core.EntityID]*entity),
	}
	r.spawnJoints(opts.Game.SpringJoints)
	if opts.Resume != nil {
		r.restore(opts.Resume)
	}
	return r
}

func (r *Room) Clock() *tick.Clock { return r.clock }

// Run steps the room until ctx is done.
func (r *Room) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.clock.Interval())
	defer ticker.Stop()
	defer r.shutdown()

	log.Printf("room %s: running at tick %d", r.ID, r.clock.Current())
	for {
		select {
		case <-ctx.Done():
			return nil

		case req := <-r.register:
			req.done <- r.join(req.peer, req.join)

		case id := <-r.unregister:
			r.leave(id)

		case req := <-r.despawn:
			req.done <- r.remove(req.id)

		case <-ticker.C:
			r.step()
		}
	}
}

func (r *Room) shutdown() {
	close(r.done)
	r.mu.Lock()
	peers := r.peers
	r.peers = make(map[string]*Peer)
	r.mu.Unlock()
	for _, p := range peers {
		p.Close()
	}
	r.publish(mq.NewEvent(mq.EventSessionEnded, r.ID, 0, uint32(r.clock.Current())))
	log.Printf("room %s: stopped at tick %d", r.ID, r.clock.Current())
}

// Register admits peer after checking its token, spawns its player and
// answers with a Welcome.
func (r *Room) Register(ctx context.Context, peer *Peer, join wire.Join) error {
	if err := r.authorize(ctx, join.Token); err != nil {
		return err
	}
	req := joinReq{peer: peer, join: join, done: make(chan error, 1)}
	select {
	case r.register <- req:
	case <-r.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-req.done:
		return err
	case <-r.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Leave despawns the player of the peer with the given id, if any.
func (r *Room) Leave(peerID string) {
	select {
	case r.unregister <- peerID:
	case <-r.done:
	}
}

// Despawn removes an entity on behalf of an operator.
func (r *Room) Despawn(ctx context.Context, id core.EntityID) error {
	req := despawnReq{id: id, done: make(chan error, 1)}
	select {
	case r.despawn <- req:
	case <-r.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-req.done:
		return err
	case <-r.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Submit queues an input from peer. It is checked against the peer's
// entity and the acceptance window on the next tick.
func (r *Room) Submit(peer *Peer, in wire.Input) {
	r.inboxMu.Lock()
	r.inbox = append(r.inbox, inbound{peer: peer, input: in})
	r.inboxMu.Unlock()
}

func (r *Room) Status() Status {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var gone uint64
	for _, p := range r.peers {
		gone += p.Dropped()
	}
	return Status{
		Room:           r.ID,
		Tick:           r.clock.Current(),
		Peers:          len(r.peers),
		Entities:       len(r.entities),
		Faults:         r.clock.Faults(),
		InputsAccepted: r.accepted.Load(),
		InputsDropped:  r.dropped.Load(),
		SendsDropped:   r.gone.Load() + gone,
	}
}

func (r *Room) authorize(ctx context.Context, token string) error {
	if r.opts.Tokens == nil {
		return nil
	}
	ok, err := r.opts.Tokens.ValidateRoomToken(ctx, r.ID, token)
	if err != nil {
		return fmt.Errorf("validate token: %w", err)
	}
	if !ok {
		return ErrInvalidToken
	}
	return nil
}

func (r *Room) allocID() core.EntityID {
	r.nextID++
	return r.nextID
}

func (r *Room) spawnJoints(n int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for range n {
		id := r.allocID()
		a := core.NewAuthority(r.world.JointConfig(id), collector{r, wire.KindJoint})
		a.Attach(r.clock)
		r.entities[id] = &entity{ctrl: a, kind: wire.KindJoint}
	}
}

func (r *Room) restore(s *wire.Snapshot) {
	var n int
	for _, st := range s.States {
		e, ok := r.entities[st.Entity]
		if !ok || st.Kind != wire.KindJoint || e.kind != wire.KindJoint {
			continue
		}
		e.ctrl.Proxy().Restore(st.State)
		n++
	}
	log.Printf("room %s: resumed at tick %d with %d joints", r.ID, s.Tick, n)
}

func (r *Room) join(peer *Peer, join wire.Join) error {
	r.mu.Lock()
	if peer.entity != 0 {
		r.mu.Unlock()
		return nil
	}
	if len(r.peers) >= r.opts.MaxPeers {
		r.mu.Unlock()
		return ErrRoomFull
	}
	if join.Username != "" {
		peer.Username = join.Username
	}
	id := r.allocID()
	a := core.NewAuthority(r.world.PlayerConfig(id, nil), collector{r, wire.KindPlayer})
	a.Attach(r.clock)
	peer.entity = id
	r.peers[peer.ID] = peer
	r.entities[id] = &entity{ctrl: a, kind: wire.KindPlayer, mover: a, peer: peer}
	r.mu.Unlock()

	welcome, err := wire.Marshal(&wire.Packet{Welcome: &wire.Welcome{
		Room:      r.ID,
		Entity:    id,
		Tick:      r.clock.Current(),
		TickRate:  uint32(time.Second / r.clock.Interval()),
		LeadTicks: uint32(r.opts.Game.LeadTicks),
	}})
	if err != nil {
		return err
	}
	peer.Send(welcome)

	log.Printf("room %s: %s joined as entity %d", r.ID, peer.Username, id)
	r.publish(mq.Event{
		Type:      mq.EventSpawned,
		Room:      r.ID,
		Entity:    uint32(id),
		Tick:      uint32(r.clock.Current()),
		Timestamp: time.Now().Unix(),
		Data:      map[string]any{"username": peer.Username, "peer": peer.ID},
	})
	return nil
}

func (r *Room) leave(peerID string) {
	r.mu.RLock()
	peer, ok := r.peers[peerID]
	r.mu.RUnlock()
	if !ok {
		return
	}
	if err := r.remove(peer.entity); err != nil {
		log.Printf("room %s: leave %s: %v", r.ID, peerID, err)
	}
}

// remove detaches an entity, tells every peer and drops its owner.
func (r *Room) remove(id core.EntityID) error {
	r.mu.Lock()
	e, ok := r.entities[id]
	if !ok {
		r.mu.Unlock()
		return ErrUnknownEntity
	}
	e.ctrl.Detach()
	delete(r.entities, id)
	if e.peer != nil {
		delete(r.peers, e.peer.ID)
	}
	r.mu.Unlock()

	if e.peer != nil {
		r.gone.Add(e.peer.Dropped())
		e.peer.Close()
	}
	if b, err := wire.Marshal(&wire.Packet{Despawn: &wire.Despawn{Entity: id}}); err == nil {
		r.broadcast(b, nil)
	}
	log.Printf("room %s: entity %d despawned", r.ID, id)
	r.publish(mq.NewEvent(mq.EventDespawned, r.ID, uint32(id), uint32(r.clock.Current())))
	return nil
}

func (r *Room) step() {
	r.drainInputs()
	t := r.clock.Step()
	r.flush(t)
}

// window is the range of input ticks accepted before simulating next.
func (r *Room) window(next tick.Tick) (lo, hi tick.Tick) {
	lag := tick.Tick(r.opts.Game.AcceptableLagTicks)
	lead := tick.Tick(r.opts.Game.LeadTicks)
	if next > lag {
		lo = next - lag
	}
	return lo, next + lead + lag
}

func (r *Room) drainInputs() {
	r.inboxMu.Lock()
	pending := r.inbox
	r.inbox = nil
	r.inboxMu.Unlock()
	if len(pending) == 0 {
		return
	}

	lo, hi := r.window(r.clock.Current() + 1)

	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, in := range pending {
		e, ok := r.entities[in.input.Entity]
		t := in.input.Move.Tick()
		if !ok || e.peer != in.peer || e.mover == nil || t < lo || t > hi {
			r.dropped.Add(1)
			continue
		}
		e.mover.DeliverInput(in.input.Move)
		r.accepted.Add(1)

		relay, err := wire.Marshal(&wire.Packet{Input: &in.input})
		if err != nil {
			continue
		}
		for _, p := range r.peers {
			if p != in.peer {
				p.Send(relay)
			}
		}
	}
}

// flush sends the snapshot collected during the post-tick of t.
func (r *Room) flush(t tick.Tick) {
	if len(r.batch) == 0 {
		return
	}
	slices.SortFunc(r.batch, func(a, b wire.EntityState) int {
		return cmp.Compare(a.Entity, b.Entity)
	})
	data, err := wire.Marshal(&wire.Packet{Snapshot: &wire.Snapshot{Tick: t, States: r.batch}})
	r.batch = r.batch[:0]
	if err != nil {
		log.Printf("room %s: encode snapshot %d: %v", r.ID, t, err)
		return
	}
	r.broadcast(data, nil)
	r.persist(t, data)
}

func (r *Room) broadcast(b []byte, except *Peer) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, p := range r.peers {
		if p != except {
			p.Send(b)
		}
	}
}

// persist saves every PersistEveryTicks-th snapshot without blocking the
// tick. A save still in flight skips the next one.
func (r *Room) persist(t tick.Tick, data []byte) {
	every := tick.Tick(r.opts.Game.PersistEveryTicks)
	if r.opts.Store == nil || every == 0 || t%every != 0 {
		return
	}
	if !r.saving.CompareAndSwap(false, true) {
		return
	}
	go func() {
		defer r.saving.Store(false)
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := r.opts.Store.SaveSnapshot(ctx, r.ID, t, data); err != nil {
			log.Printf("room %s: persist tick %d: %v", r.ID, t, err)
		}
	}()
}

func (r *Room) publish(e mq.Event) {
	if r.opts.Events == nil {
		return
	}
	go func() {
		if err := r.opts.Events.Publish(e); err != nil {
			log.Printf("room %s: publish %s: %v", r.ID, e.Type, err)
		}
	}()
}

// collector gathers the corrections of one tick into the room's batch.
type collector struct {
	room *Room
	kind wire.Kind
}

func (c collector) SendCorrection(corr core.Correction) {
	c.room.batch = append(c.room.batch, wire.EntityState{Entity: corr.Entity, Kind: c.kind, State: corr.State})
}
