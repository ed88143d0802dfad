package session

import (
	"log"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"mygame/netsim/internal/core"
)

// DefaultSendQueue is the number of packets a peer may have in flight
// before newer ones are dropped.
const DefaultSendQueue = 64

// Conn is the write side of a peer's transport.
type Conn interface {
	WritePacket(b []byte) error
	Close() error
}

// Peer is one connected observer. All channels are unreliable: Send never
// blocks and drops when the queue is full.
type Peer struct {
	ID       string
	Username string

	// entity is owned by the room goroutine
	entity core.EntityID

	conn    Conn
	out     chan []byte
	done    chan struct{}
	once    sync.Once
	dropped atomic.Uint64
}

func NewPeer(conn Conn, queue int) *Peer {
	if queue <= 0 {
		queue = DefaultSendQueue
	}
	p := &Peer{
		ID:       uuid.NewString(),
		Username: "Player",
		conn:     conn,
		out:      make(chan []byte, queue),
		done:     make(chan struct{}),
	}
	go p.writeLoop()
	return p
}

// Send queues b for delivery and reports whether it was queued.
func (p *Peer) Send(b []byte) bool {
	select {
	case <-p.done:
		return false
	default:
	}
	select {
	case p.out <- b:
		return true
	default:
		p.dropped.Add(1)
		return false
	}
}

// Dropped returns how many packets were discarded on a full queue.
func (p *Peer) Dropped() uint64 { return p.dropped.Load() }

func (p *Peer) Done() <-chan struct{} { return p.done }

func (p *Peer) Closed() bool {
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}

func (p *Peer) Close() {
	p.once.Do(func() {
		close(p.done)
		p.conn.Close()
	})
}

func (p *Peer) writeLoop() {
	for {
		select {
		case <-p.done:
			return
		case b := <-p.out:
			if err := p.conn.WritePacket(b); err != nil {
				log.Printf("peer %s: write failed: %v", p.ID, err)
				p.Close()
				return
			}
		}
	}
}
