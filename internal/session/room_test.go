package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mygame/netsim/internal/core"
	"mygame/netsim/internal/mq"
	"mygame/netsim/internal/tick"
	"mygame/netsim/internal/wire"
	"mygame/netsim/pkg/config"
)

func testGame() config.GameConfig {
	return config.GameConfig{
		MoveRate:           15,
		JumpForce:          15,
		Gravity:            -9.81,
		HistoryTicks:       32,
		LeadTicks:          3,
		AcceptableLagTicks: 2,
		SpringJoints:       2,
		SpringStrength:     1,
		DamperStrength:     1,
	}
}

type recordConn struct {
	mu      sync.Mutex
	packets [][]byte
	closed  bool
}

func (c *recordConn) WritePacket(b []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.packets = append(c.packets, b)
	return nil
}

func (c *recordConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *recordConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *recordConn) decoded(t *testing.T) []*wire.Packet {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*wire.Packet, 0, len(c.packets))
	for _, b := range c.packets {
		p, err := wire.Unmarshal(b)
		require.NoError(t, err)
		out = append(out, p)
	}
	return out
}

func (c *recordConn) welcome(t *testing.T) *wire.Welcome {
	for _, p := range c.decoded(t) {
		if p.Welcome != nil {
			return p.Welcome
		}
	}
	return nil
}

func (c *recordConn) snapshots(t *testing.T) []*wire.Snapshot {
	var out []*wire.Snapshot
	for _, p := range c.decoded(t) {
		if p.Snapshot != nil {
			out = append(out, p.Snapshot)
		}
	}
	return out
}

func (c *recordConn) inputs(t *testing.T) []*wire.Input {
	var out []*wire.Input
	for _, p := range c.decoded(t) {
		if p.Input != nil {
			out = append(out, p.Input)
		}
	}
	return out
}

func (c *recordConn) despawns(t *testing.T) []core.EntityID {
	var out []core.EntityID
	for _, p := range c.decoded(t) {
		if p.Despawn != nil {
			out = append(out, p.Despawn.Entity)
		}
	}
	return out
}

type eventLog struct {
	mu     sync.Mutex
	events []mq.Event
}

func (l *eventLog) Publish(e mq.Event) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, e)
	return nil
}

func (l *eventLog) types() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []string
	for _, e := range l.events {
		out = append(out, e.Type)
	}
	return out
}

type memStore struct {
	mu    sync.Mutex
	ticks []tick.Tick
	last  []byte
}

func (s *memStore) SaveSnapshot(_ context.Context, _ string, t tick.Tick, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ticks = append(s.ticks, t)
	s.last = data
	return nil
}

func (s *memStore) saved() []tick.Tick {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]tick.Tick(nil), s.ticks...)
}

type staticTokens map[string]string

func (s staticTokens) ValidateRoomToken(_ context.Context, room, token string) (bool, error) {
	want, ok := s[room]
	return ok && want == token, nil
}

func newTestRoom(t *testing.T, mutate func(o *Options)) *Room {
	t.Helper()
	opts := Options{ID: "test-room", Game: testGame()}
	if mutate != nil {
		mutate(&opts)
	}
	return NewRoom(opts)
}

func joinPeer(t *testing.T, r *Room, name string) (*Peer, *recordConn) {
	t.Helper()
	conn := &recordConn{}
	peer := NewPeer(conn, 0)
	t.Cleanup(peer.Close)
	require.NoError(t, r.join(peer, wire.Join{Username: name}))
	return peer, conn
}

func TestRoom_JoinSpawnsPlayerAndWelcomes(t *testing.T) {
	r := newTestRoom(t, nil)
	peer, conn := joinPeer(t, r, "ann")

	require.Eventually(t, func() bool { return conn.welcome(t) != nil }, time.Second, 5*time.Millisecond)
	w := conn.welcome(t)
	assert.Equal(t, "test-room", w.Room)
	assert.Equal(t, core.EntityID(3), w.Entity, "joints take the first ids")
	assert.Equal(t, uint32(64), w.TickRate)
	assert.Equal(t, uint32(3), w.LeadTicks)
	assert.Equal(t, "ann", peer.Username)

	st := r.Status()
	assert.Equal(t, 1, st.Peers)
	assert.Equal(t, 3, st.Entities)

	require.NoError(t, r.join(peer, wire.Join{Username: "again"}), "a second join is ignored")
	assert.Equal(t, 3, r.Status().Entities)
}

func TestRoom_Full(t *testing.T) {
	r := newTestRoom(t, func(o *Options) { o.MaxPeers = 1 })
	joinPeer(t, r, "a")

	err := r.join(NewPeer(&recordConn{}, 0), wire.Join{})
	assert.ErrorIs(t, err, ErrRoomFull)
}

func TestRoom_StepBroadcastsOneSnapshotPerTick(t *testing.T) {
	r := newTestRoom(t, nil)
	_, conn := joinPeer(t, r, "ann")

	r.step()
	r.step()

	require.Eventually(t, func() bool { return len(conn.snapshots(t)) == 2 }, time.Second, 5*time.Millisecond)
	snaps := conn.snapshots(t)
	assert.Equal(t, tick.Tick(1), snaps[0].Tick)
	assert.Equal(t, tick.Tick(2), snaps[1].Tick)

	states := snaps[1].States
	require.Len(t, states, 3)
	assert.Equal(t, []core.EntityID{1, 2, 3}, []core.EntityID{states[0].Entity, states[1].Entity, states[2].Entity})
	assert.Equal(t, wire.KindJoint, states[0].Kind)
	assert.Equal(t, wire.KindPlayer, states[2].Kind)
	assert.Less(t, states[2].State.Velocity.Y(), 0.0, "players fall")
	assert.Less(t, states[0].State.Rotation, jointTilt, "joints spring back upright")
}

func TestRoom_InputWindowAndRelay(t *testing.T) {
	r := newTestRoom(t, nil)
	a, connA := joinPeer(t, r, "a")
	b, connB := joinPeer(t, r, "b")
	for range 10 {
		r.step()
	}

	// next tick is 11: accepted window is [9, 16]
	r.Submit(a, wire.Input{Entity: 3, Move: core.NewMoveData(8, false, 1)})
	r.Submit(a, wire.Input{Entity: 3, Move: core.NewMoveData(9, false, 1)})
	r.Submit(a, wire.Input{Entity: 3, Move: core.NewMoveData(16, true, 1)})
	r.Submit(a, wire.Input{Entity: 3, Move: core.NewMoveData(17, false, 1)})
	r.Submit(a, wire.Input{Entity: 1, Move: core.NewMoveData(11, false, 1)})
	r.Submit(b, wire.Input{Entity: 3, Move: core.NewMoveData(11, false, 1)})
	r.drainInputs()

	st := r.Status()
	assert.Equal(t, uint64(2), st.InputsAccepted)
	assert.Equal(t, uint64(4), st.InputsDropped)

	require.Eventually(t, func() bool { return len(connB.inputs(t)) == 2 }, time.Second, 5*time.Millisecond)
	relayed := connB.inputs(t)
	assert.Equal(t, tick.Tick(9), relayed[0].Move.Tick())
	assert.Equal(t, tick.Tick(16), relayed[1].Move.Tick())
	assert.True(t, relayed[1].Move.Jump)
	assert.Empty(t, connA.inputs(t), "inputs are not echoed to their sender")
}

func TestRoom_InputMovesPlayer(t *testing.T) {
	still := newTestRoom(t, nil)
	moved := newTestRoom(t, nil)
	joinPeer(t, still, "a")
	p, _ := joinPeer(t, moved, "a")

	for i := tick.Tick(1); i <= 5; i++ {
		moved.Submit(p, wire.Input{Entity: 3, Move: core.NewMoveData(i, false, 1)})
		moved.step()
		still.step()
	}

	xs := still.entities[3].ctrl.Proxy().State().Position.X()
	xm := moved.entities[3].ctrl.Proxy().State().Position.X()
	assert.Greater(t, xm, xs)
}

func TestRoom_LeaveDespawns(t *testing.T) {
	events := &eventLog{}
	r := newTestRoom(t, func(o *Options) { o.Events = events })
	a, connA := joinPeer(t, r, "a")
	_, connB := joinPeer(t, r, "b")

	r.leave(a.ID)
	r.leave(a.ID)

	assert.True(t, a.Closed())
	require.Eventually(t, connA.isClosed, time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return len(connB.despawns(t)) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []core.EntityID{3}, connB.despawns(t))

	st := r.Status()
	assert.Equal(t, 1, st.Peers)
	assert.Equal(t, 3, st.Entities)

	require.Eventually(t, func() bool { return len(events.types()) == 3 }, time.Second, 5*time.Millisecond)
	assert.ElementsMatch(t, []string{mq.EventSpawned, mq.EventSpawned, mq.EventDespawned}, events.types())

	r.step()
	for _, s := range connB.snapshots(t) {
		for _, e := range s.States {
			assert.NotEqual(t, core.EntityID(3), e.Entity)
		}
	}
}

func TestRoom_RemoveUnknown(t *testing.T) {
	r := newTestRoom(t, nil)
	assert.ErrorIs(t, r.remove(42), ErrUnknownEntity)
	require.NoError(t, r.remove(1))
	assert.Equal(t, 1, r.Status().Entities)
}

func TestRoom_PersistsEveryNTicks(t *testing.T) {
	store := &memStore{}
	r := newTestRoom(t, func(o *Options) {
		o.Store = store
		o.Game.PersistEveryTicks = 4
	})

	for range 4 {
		r.step()
	}
	require.Eventually(t, func() bool { return len(store.saved()) == 1 }, time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return !r.saving.Load() }, time.Second, 5*time.Millisecond)
	for range 4 {
		r.step()
	}
	require.Eventually(t, func() bool { return len(store.saved()) == 2 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []tick.Tick{4, 8}, store.saved())
}

func TestRoom_ResumeFromSnapshot(t *testing.T) {
	store := &memStore{}
	first := newTestRoom(t, func(o *Options) {
		o.Store = store
		o.Game.PersistEveryTicks = 10
	})
	for range 10 {
		first.step()
	}
	require.Eventually(t, func() bool { return len(store.saved()) == 1 }, time.Second, 5*time.Millisecond)

	store.mu.Lock()
	pkt, err := wire.Unmarshal(store.last)
	store.mu.Unlock()
	require.NoError(t, err)
	require.NotNil(t, pkt.Snapshot)

	resumed := newTestRoom(t, func(o *Options) { o.Resume = pkt.Snapshot })

	assert.Equal(t, tick.Tick(10), resumed.Clock().Current())
	for _, id := range []core.EntityID{1, 2} {
		assert.Equal(t, first.entities[id].ctrl.Proxy().Snapshot(), resumed.entities[id].ctrl.Proxy().Snapshot())
	}

	first.step()
	resumed.step()
	assert.Equal(t, first.entities[1].ctrl.Proxy().Snapshot(), resumed.entities[1].ctrl.Proxy().Snapshot(),
		"a resumed joint continues the same trajectory")
}

func TestRoom_RegisterChecksToken(t *testing.T) {
	r := newTestRoom(t, func(o *Options) { o.Tokens = staticTokens{"test-room": "secret"} })

	err := r.Register(context.Background(), NewPeer(&recordConn{}, 0), wire.Join{Token: "wrong"})
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestRoom_RunServesRequests(t *testing.T) {
	r := newTestRoom(t, func(o *Options) {
		o.TickInterval = 2 * time.Millisecond
		o.Tokens = staticTokens{"test-room": "secret"}
	})
	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		r.Run(ctx)
	}()

	conn := &recordConn{}
	peer := NewPeer(conn, 0)
	require.NoError(t, r.Register(ctx, peer, wire.Join{Username: "ann", Token: "secret"}))
	require.Eventually(t, func() bool { return len(conn.snapshots(t)) > 2 }, time.Second, 5*time.Millisecond)

	require.NoError(t, r.Despawn(ctx, 3))
	assert.ErrorIs(t, r.Despawn(ctx, 3), ErrUnknownEntity)
	assert.True(t, peer.Closed())

	cancel()
	<-stopped
	err := r.Register(context.Background(), NewPeer(&recordConn{}, 0), wire.Join{Token: "secret"})
	assert.ErrorIs(t, err, ErrClosed)
}
