package relay

import (
	"context"
	"sync"

	"LiveBoard/internal/protocol"
	"LiveBoard/internal/state"
)

// LocalTransport joins a client to a relay running in the same process. It
// implements protocol.Link for the client and Peer for the relay.
type LocalTransport struct {
	relay *Relay

	mu      sync.Mutex
	session *Session
	epoch   int
	online  bool
	queue   []protocol.Event

	// serializes calls into the session
	handling sync.Mutex

	wake   chan struct{}
	events chan protocol.Event
	done   chan struct{}
	once   sync.Once
}

// NewLocalTransport connects to r right away.
func NewLocalTransport(r *Relay) *LocalTransport {
	t := &LocalTransport{
		relay:  r,
		wake:   make(chan struct{}, 1),
		events: make(chan protocol.Event),
		done:   make(chan struct{}),
	}
	go t.pump()
	t.Reconnect()
	return t
}

func (t *LocalTransport) Events() <-chan protocol.Event {
	return t.events
}

func (t *LocalTransport) Send(m protocol.Message) error {
	t.mu.Lock()
	session := t.session
	t.mu.Unlock()
	if session == nil {
		return state.ErrConnectionLost
	}

	t.handling.Lock()
	defer t.handling.Unlock()
	session.Handle(context.Background(), m)
	return nil
}

// Disconnect drops the connection as a network failure would.
func (t *LocalTransport) Disconnect() {
	t.mu.Lock()
	session := t.session
	if session == nil {
		t.mu.Unlock()
		return
	}
	t.session = nil
	t.online = false
	t.epoch++
	t.enqueue(protocol.Event{Kind: protocol.EventDisconnected, Err: state.ErrConnectionLost})
	t.mu.Unlock()

	t.handling.Lock()
	session.Close()
	t.handling.Unlock()
}

// Reconnect opens a new session after Disconnect.
func (t *LocalTransport) Reconnect() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.session != nil {
		return
	}
	select {
	case <-t.done:
		return
	default:
	}
	t.epoch++
	t.online = true
	t.session = t.relay.Attach(&localPeer{transport: t, epoch: t.epoch})
	t.enqueue(protocol.Event{Kind: protocol.EventConnected})
}

func (t *LocalTransport) Close() error {
	t.Disconnect()
	t.once.Do(func() { close(t.done) })
	return nil
}

// enqueue appends to the event queue. Callers hold t.mu.
func (t *LocalTransport) enqueue(ev protocol.Event) {
	t.queue = append(t.queue, ev)
	select {
	case t.wake <- struct{}{}:
	default:
	}
}

func (t *LocalTransport) pump() {
	for {
		t.mu.Lock()
		if len(t.queue) == 0 {
			t.mu.Unlock()
			select {
			case <-t.wake:
				continue
			case <-t.done:
				return
			}
		}
		ev := t.queue[0]
		t.queue = t.queue[1:]
		t.mu.Unlock()

		select {
		case t.events <- ev:
		case <-t.done:
			return
		}
	}
}

// localPeer is the relay's end of a LocalTransport connection. A peer
// belongs to one connection epoch and goes silent after a disconnect.
type localPeer struct {
	transport *LocalTransport
	epoch     int
}

func (p *localPeer) Send(m protocol.Message) error {
	t := p.transport
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.online || t.epoch != p.epoch {
		return state.ErrConnectionLost
	}
	t.enqueue(protocol.Event{Kind: protocol.EventMessage, Message: m})
	return nil
}

func (p *localPeer) Close() error {
	t := p.transport
	t.mu.Lock()
	current := t.epoch == p.epoch && t.online
	t.mu.Unlock()
	if current {
		go t.Disconnect()
	}
	return nil
}
