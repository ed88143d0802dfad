package netstart

import "sync"

// State is a client transport's connection state.
type State uint8

const (
	Stopped State = iota
	Starting
	Started
	Stopping
)

func (s State) String() string {
	switch s {
	case Starting:
		return "starting"
	case Started:
		return "started"
	case Stopping:
		return "stopping"
	default:
		return "stopped"
	}
}

// Transport is an unreliable datagram channel to one authority address.
type Transport interface {
	SetClientAddress(addr string)
	// StartConnection begins connecting and reports whether the attempt
	// could be started. The outcome arrives as a state change.
	StartConnection() bool
	// OnConnectionState registers fn for state changes and returns a func
	// that unregisters it.
	OnConnectionState(fn func(State)) (unsubscribe func())
	// Send queues one datagram; false means it was dropped.
	Send(b []byte) bool
	// Receive yields inbound datagrams. It is closed when the transport
	// stops.
	Receive() <-chan []byte
	StopConnection()
}

// notifier fans state changes out to listeners.
type notifier struct {
	mu        sync.Mutex
	state     State
	next      int
	listeners map[int]func(State)
}

func (n *notifier) subscribe(fn func(State)) func() {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.listeners == nil {
		n.listeners = make(map[int]func(State))
	}
	id := n.next
	n.next++
	n.listeners[id] = fn
	return func() {
		n.mu.Lock()
		delete(n.listeners, id)
		n.mu.Unlock()
	}
}

func (n *notifier) current() State {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.state
}

func (n *notifier) set(s State) {
	n.mu.Lock()
	if n.state == s {
		n.mu.Unlock()
		return
	}
	n.state = s
	fns := make([]func(State), 0, len(n.listeners))
	for _, fn := range n.listeners {
		fns = append(fns, fn)
	}
	n.mu.Unlock()

	for _, fn := range fns {
		fn(s)
	}
}
