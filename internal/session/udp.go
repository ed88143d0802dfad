package session

import (
	"context"
	"errors"
	"log"
	"net"
	"sync"
	"time"

	"mygame/netsim/internal/wire"
)

const (
	udpIdleTimeout = 10 * time.Second
	udpMaxDatagram = 64 << 10
	udpSweepPeriod = udpIdleTimeout / 2
)

type udpConn struct {
	pc   net.PacketConn
	addr net.Addr
}

func (c *udpConn) WritePacket(b []byte) error {
	_, err := c.pc.WriteTo(b, c.addr)
	return err
}

// Close is a no-op: the listener owns the socket.
func (c *udpConn) Close() error { return nil }

type udpPeer struct {
	peer     *Peer
	lastSeen time.Time
}

// udpPeers tracks datagram peers by remote address. UDP has no close, so
// peers silent for udpIdleTimeout are dropped.
type udpPeers struct {
	room *Room
	pc   net.PacketConn

	mu    sync.Mutex
	peers map[string]*udpPeer
}

// ServeUDP serves the standard datagram transport on pc until ctx is done.
func (r *Room) ServeUDP(ctx context.Context, pc net.PacketConn) error {
	u := &udpPeers{room: r, pc: pc, peers: make(map[string]*udpPeer)}

	go u.sweep(ctx)
	go func() {
		<-ctx.Done()
		pc.Close()
	}()

	log.Printf("room %s: udp listening on %s", r.ID, pc.LocalAddr())
	buf := make([]byte, udpMaxDatagram)
	for {
		n, addr, err := pc.ReadFrom(buf)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}
		pkt, err := wire.Unmarshal(buf[:n])
		if err != nil {
			continue
		}
		if pkt.Hello != nil {
			u.hello(addr, *pkt.Hello)
			continue
		}
		peer := u.touch(addr)
		if pkt.Join != nil {
			// Register waits on the token store and the room loop.
			go u.handle(ctx, addr, peer, pkt)
			continue
		}
		u.handle(ctx, addr, peer, pkt)
	}
}

func (u *udpPeers) handle(ctx context.Context, addr net.Addr, peer *Peer, pkt *wire.Packet) {
	if err := u.room.handle(ctx, peer, pkt); err != nil {
		log.Printf("peer %s (%s): %v", peer.ID, addr, err)
		u.drop(addr.String())
	}
}

// hello echoes a connection probe without creating a peer.
func (u *udpPeers) hello(addr net.Addr, h wire.Hello) {
	b, err := wire.Marshal(&wire.Packet{Hello: &h})
	if err != nil {
		return
	}
	if _, err := u.pc.WriteTo(b, addr); err != nil {
		log.Printf("room %s: hello %s: %v", u.room.ID, addr, err)
	}
}

func (u *udpPeers) touch(addr net.Addr) *Peer {
	key := addr.String()
	u.mu.Lock()
	defer u.mu.Unlock()
	if p, ok := u.peers[key]; ok && !p.peer.Closed() {
		p.lastSeen = time.Now()
		return p.peer
	}
	p := &udpPeer{
		peer:     NewPeer(&udpConn{pc: u.pc, addr: addr}, u.room.opts.SendQueue),
		lastSeen: time.Now(),
	}
	u.peers[key] = p
	return p.peer
}

func (u *udpPeers) drop(key string) {
	u.mu.Lock()
	p, ok := u.peers[key]
	delete(u.peers, key)
	u.mu.Unlock()
	if !ok {
		return
	}
	u.room.Leave(p.peer.ID)
	p.peer.Close()
}

func (u *udpPeers) sweep(ctx context.Context) {
	ticker := time.NewTicker(udpSweepPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			u.dropIdle(time.Now().Add(-udpIdleTimeout))
		}
	}
}

func (u *udpPeers) dropIdle(before time.Time) {
	u.mu.Lock()
	var idle []string
	for key, p := range u.peers {
		if p.lastSeen.Before(before) {
			idle = append(idle, key)
		}
	}
	u.mu.Unlock()

	for _, key := range idle {
		u.drop(key)
	}
}
