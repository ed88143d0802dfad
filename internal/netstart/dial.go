package netstart

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math/rand/v2"
	"net"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"mygame/netsim/internal/wire"
)

var ErrNoHello = errors.New("server did not answer hello")

const (
	DefaultConnectTimeout = 5 * time.Second
	helloRetry            = 250 * time.Millisecond
	defaultQueue          = 64
	maxDatagram           = 64 << 10
	wsWriteDeadline       = 10 * time.Second
)

// packetConn is a connected datagram socket.
type packetConn interface {
	ReadPacket() ([]byte, error)
	WritePacket(b []byte) error
	Close() error
}

type dialFunc func(ctx context.Context, addr string) (packetConn, error)

// transport runs the connection state machine on top of a dialFunc.
type transport struct {
	notifier
	name    string
	dial    dialFunc
	timeout time.Duration

	mu      sync.Mutex
	addr    string
	running bool
	cancel  context.CancelFunc
	in      chan []byte
	out     chan []byte
}

func newTransport(name string, dial dialFunc, timeout time.Duration) *transport {
	if timeout <= 0 {
		timeout = DefaultConnectTimeout
	}
	in := make(chan []byte)
	close(in)
	return &transport{name: name, dial: dial, timeout: timeout, in: in}
}

func (t *transport) SetClientAddress(addr string) {
	t.mu.Lock()
	t.addr = addr
	t.mu.Unlock()
}

func (t *transport) OnConnectionState(fn func(State)) func() {
	return t.subscribe(fn)
}

func (t *transport) StartConnection() bool {
	t.mu.Lock()
	if t.running || t.addr == "" {
		t.mu.Unlock()
		return false
	}
	ctx, cancel := context.WithCancel(context.Background())
	in := make(chan []byte, defaultQueue)
	out := make(chan []byte, defaultQueue)
	t.running, t.cancel, t.in, t.out = true, cancel, in, out
	addr := t.addr
	t.mu.Unlock()

	t.set(Starting)
	go t.run(ctx, cancel, addr, in, out)
	return true
}

func (t *transport) Send(b []byte) bool {
	if t.current() != Started {
		return false
	}
	t.mu.Lock()
	out := t.out
	t.mu.Unlock()
	select {
	case out <- b:
		return true
	default:
		return false
	}
}

func (t *transport) Receive() <-chan []byte {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.in
}

func (t *transport) StopConnection() {
	t.mu.Lock()
	running, cancel := t.running, t.cancel
	t.mu.Unlock()
	if !running {
		return
	}
	t.set(Stopping)
	cancel()
}

func (t *transport) run(ctx context.Context, cancel context.CancelFunc, addr string, in, out chan []byte) {
	defer func() {
		cancel()
		close(in)
		t.mu.Lock()
		t.running = false
		t.mu.Unlock()
		t.set(Stopped)
	}()

	dctx, dcancel := context.WithTimeout(ctx, t.timeout)
	conn, err := t.dial(dctx, addr)
	dcancel()
	if err != nil {
		log.Printf("%s transport: connect %s: %v", t.name, addr, err)
		return
	}
	if ctx.Err() != nil {
		conn.Close()
		return
	}

	t.set(Started)
	go func() {
		<-ctx.Done()
		conn.Close()
	}()
	go writeLoop(ctx, cancel, conn, out)

	for {
		b, err := conn.ReadPacket()
		if err != nil {
			if ctx.Err() == nil {
				log.Printf("%s transport: read %s: %v", t.name, addr, err)
			}
			return
		}
		select {
		case in <- b:
		default:
		}
	}
}

func writeLoop(ctx context.Context, cancel context.CancelFunc, conn packetConn, out <-chan []byte) {
	for {
		select {
		case <-ctx.Done():
			return
		case b := <-out:
			if err := conn.WritePacket(b); err != nil {
				cancel()
				return
			}
		}
	}
}

// withPort appends port to addr unless it already names one.
func withPort(addr string, port int) string {
	if _, _, err := net.SplitHostPort(addr); err == nil {
		return addr
	}
	return net.JoinHostPort(strings.Trim(addr, "[]"), strconv.Itoa(port))
}

// WebSocketTransport is the fallback transport.
type WebSocketTransport struct {
	*transport
}

// NewWebSocketTransport dials ws://<addr>/ws, using port when addr has
// none. Addresses that already carry a ws:// or wss:// scheme are used
// verbatim.
func NewWebSocketTransport(port int, timeout time.Duration) *WebSocketTransport {
	dial := func(ctx context.Context, addr string) (packetConn, error) {
		url := addr
		if !strings.HasPrefix(addr, "ws://") && !strings.HasPrefix(addr, "wss://") {
			url = fmt.Sprintf("ws://%s/ws", withPort(addr, port))
		}
		c, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
		if err != nil {
			return nil, err
		}
		return &wsPacketConn{c: c}, nil
	}
	return &WebSocketTransport{newTransport("websocket", dial, timeout)}
}

type wsPacketConn struct {
	c *websocket.Conn
}

func (w *wsPacketConn) ReadPacket() ([]byte, error) {
	_, b, err := w.c.ReadMessage()
	return b, err
}

func (w *wsPacketConn) WritePacket(b []byte) error {
	w.c.SetWriteDeadline(time.Now().Add(wsWriteDeadline))
	return w.c.WriteMessage(websocket.BinaryMessage, b)
}

func (w *wsPacketConn) Close() error {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	w.c.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	return w.c.Close()
}

// UDPTransport is the standard transport. A connection counts as started
// only once the server has echoed a Hello datagram.
type UDPTransport struct {
	*transport
}

func NewUDPTransport(port int, timeout time.Duration) *UDPTransport {
	dial := func(ctx context.Context, addr string) (packetConn, error) {
		var d net.Dialer
		c, err := d.DialContext(ctx, "udp", withPort(addr, port))
		if err != nil {
			return nil, err
		}
		if err := hello(ctx, c); err != nil {
			c.Close()
			return nil, err
		}
		return &udpPacketConn{c: c}, nil
	}
	return &UDPTransport{newTransport("udp", dial, timeout)}
}

// hello sends Hello every helloRetry until the server echoes its nonce or
// ctx expires.
func hello(ctx context.Context, c net.Conn) error {
	nonce := rand.Uint32()
	probe, err := wire.Marshal(&wire.Packet{Hello: &wire.Hello{Nonce: nonce}})
	if err != nil {
		return err
	}
	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(DefaultConnectTimeout)
	}
	defer c.SetReadDeadline(time.Time{})

	buf := make([]byte, maxDatagram)
	for ctx.Err() == nil && time.Now().Before(deadline) {
		if _, err := c.Write(probe); err != nil {
			return err
		}
		retry := time.Now().Add(helloRetry)
		if retry.After(deadline) {
			retry = deadline
		}
		c.SetReadDeadline(retry)
		for {
			n, err := c.Read(buf)
			if errors.Is(err, os.ErrDeadlineExceeded) {
				break
			}
			if err != nil {
				return err
			}
			pkt, err := wire.Unmarshal(buf[:n])
			if err == nil && pkt.Hello != nil && pkt.Hello.Nonce == nonce {
				return nil
			}
		}
	}
	return ErrNoHello
}

type udpPacketConn struct {
	c   net.Conn
	buf [maxDatagram]byte
}

func (u *udpPacketConn) ReadPacket() ([]byte, error) {
	n, err := u.c.Read(u.buf[:])
	if err != nil {
		return nil, err
	}
	return append([]byte(nil), u.buf[:n]...), nil
}

func (u *udpPacketConn) WritePacket(b []byte) error {
	_, err := u.c.Write(b)
	return err
}

func (u *udpPacketConn) Close() error { return u.c.Close() }

// NewTransport builds the transport of kind k.
func NewTransport(k Kind, wsPort, udpPort int, timeout time.Duration) Transport {
	if k == Fallback {
		return NewWebSocketTransport(wsPort, timeout)
	}
	return NewUDPTransport(udpPort, timeout)
}
