package session

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mygame/netsim/internal/core"
	"mygame/netsim/internal/wire"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func runRoom(t *testing.T) *Room {
	t.Helper()
	r := newTestRoom(t, func(o *Options) { o.TickInterval = 5 * time.Millisecond })
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		r.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return r
}

func mustMarshal(t *testing.T, p *wire.Packet) []byte {
	t.Helper()
	b, err := wire.Marshal(p)
	require.NoError(t, err)
	return b
}

// readUntil reads packets until match returns true.
func readUntil(t *testing.T, read func() ([]byte, error), match func(p *wire.Packet) bool) *wire.Packet {
	t.Helper()
	for range 200 {
		b, err := read()
		require.NoError(t, err)
		p, err := wire.Unmarshal(b)
		require.NoError(t, err)
		if match(p) {
			return p
		}
	}
	t.Fatal("no matching packet")
	return nil
}

func TestWebSocket_JoinWelcomeSnapshot(t *testing.T) {
	r := runRoom(t)
	srv := httptest.NewServer(NewRouter(r))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?room_id=test-room"
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer ws.Close()
	ws.SetReadDeadline(time.Now().Add(5 * time.Second))

	read := func() ([]byte, error) {
		_, b, err := ws.ReadMessage()
		return b, err
	}

	require.NoError(t, ws.WriteMessage(websocket.BinaryMessage, mustMarshal(t, &wire.Packet{Join: &wire.Join{Username: "ann"}})))
	p := readUntil(t, read, func(p *wire.Packet) bool { return p.Welcome != nil })
	assert.Equal(t, core.EntityID(3), p.Welcome.Entity)

	p = readUntil(t, read, func(p *wire.Packet) bool { return p.Snapshot != nil && len(p.Snapshot.States) == 3 })
	assert.Equal(t, wire.KindPlayer, p.Snapshot.States[2].Kind)

	ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	require.Eventually(t, func() bool { return r.Status().Peers == 0 }, 2*time.Second, 5*time.Millisecond)
}

func TestWebSocket_WrongRoom(t *testing.T) {
	r := newTestRoom(t, nil)
	srv := httptest.NewServer(NewRouter(r))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?room_id=other"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestHealthz(t *testing.T) {
	r := newTestRoom(t, nil)
	srv := httptest.NewServer(NewRouter(r))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "test-room", body["room"])
}

func TestUDP_JoinWelcomeSnapshot(t *testing.T) {
	r := runRoom(t)
	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	served := make(chan error, 1)
	go func() { served <- r.ServeUDP(ctx, pc) }()
	defer func() {
		cancel()
		assert.NoError(t, <-served)
	}()

	conn, err := net.Dial("udp", pc.LocalAddr().String())
	require.NoError(t, err)
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	_, err = conn.Write(mustMarshal(t, &wire.Packet{Join: &wire.Join{Username: "udp"}}))
	require.NoError(t, err)

	buf := make([]byte, udpMaxDatagram)
	read := func() ([]byte, error) {
		n, err := conn.Read(buf)
		return buf[:n], err
	}
	p := readUntil(t, read, func(p *wire.Packet) bool { return p.Welcome != nil })
	entity := p.Welcome.Entity
	assert.Equal(t, core.EntityID(3), entity)

	readUntil(t, read, func(p *wire.Packet) bool { return p.Snapshot != nil && len(p.Snapshot.States) == 3 })
	assert.Equal(t, 1, r.Status().Peers)
}

func TestUDP_DropIdle(t *testing.T) {
	r := newTestRoom(t, nil)
	u := &udpPeers{room: r, peers: make(map[string]*udpPeer)}
	addr := &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 9}

	peer := u.touch(addr)
	assert.Same(t, peer, u.touch(addr))

	go func() {
		req := <-r.unregister
		assert.Equal(t, peer.ID, req)
	}()
	u.dropIdle(time.Now().Add(time.Minute))

	assert.True(t, peer.Closed())
	assert.NotSame(t, peer, u.touch(addr), "a dropped address gets a fresh peer")
}

func serveUDP(t *testing.T, r *Room) net.Conn {
	t.Helper()
	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	served := make(chan error, 1)
	go func() { served <- r.ServeUDP(ctx, pc) }()

	conn, err := net.Dial("udp", pc.LocalAddr().String())
	require.NoError(t, err)
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	t.Cleanup(func() {
		conn.Close()
		cancel()
		assert.NoError(t, <-served)
	})
	return conn
}

func TestUDP_HelloEchoedWithoutPeer(t *testing.T) {
	r := runRoom(t)
	conn := serveUDP(t, r)

	_, err := conn.Write(mustMarshal(t, &wire.Packet{Hello: &wire.Hello{Nonce: 42}}))
	require.NoError(t, err)

	buf := make([]byte, udpMaxDatagram)
	n, err := conn.Read(buf)
	require.NoError(t, err)
	p, err := wire.Unmarshal(buf[:n])
	require.NoError(t, err)
	require.NotNil(t, p.Hello)
	assert.Equal(t, uint32(42), p.Hello.Nonce)
	assert.Equal(t, 0, r.Status().Peers)
}

// slowTokens holds every validation until release is closed.
type slowTokens struct {
	release chan struct{}
}

func (s slowTokens) ValidateRoomToken(ctx context.Context, _, _ string) (bool, error) {
	select {
	case <-s.release:
		return true, nil
	case <-ctx.Done():
		return false, ctx.Err()
	}
}

func TestUDP_PendingJoinDoesNotBlockReads(t *testing.T) {
	tokens := slowTokens{release: make(chan struct{})}
	r := newTestRoom(t, func(o *Options) {
		o.TickInterval = 5 * time.Millisecond
		o.Tokens = tokens
	})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		r.Run(ctx)
	}()
	defer func() {
		cancel()
		<-done
	}()

	conn := serveUDP(t, r)
	_, err := conn.Write(mustMarshal(t, &wire.Packet{Join: &wire.Join{Username: "slow", Token: "t"}}))
	require.NoError(t, err)
	_, err = conn.Write(mustMarshal(t, &wire.Packet{Hello: &wire.Hello{Nonce: 7}}))
	require.NoError(t, err)

	buf := make([]byte, udpMaxDatagram)
	read := func() ([]byte, error) {
		n, err := conn.Read(buf)
		return buf[:n], err
	}
	p := readUntil(t, read, func(p *wire.Packet) bool { return p.Hello != nil })
	assert.Equal(t, uint32(7), p.Hello.Nonce)
	assert.Equal(t, 0, r.Status().Peers, "the join is still waiting on its token")

	close(tokens.release)
	readUntil(t, read, func(p *wire.Packet) bool { return p.Welcome != nil })
	assert.Equal(t, 1, r.Status().Peers)
}
