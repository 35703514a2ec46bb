package protocol

type EventKind int

const (
	EventConnected EventKind = iota
	EventMessage
	EventDisconnected
)

func (k EventKind) String() string {
	switch k {
	case EventConnected:
		return "connected"
	case EventMessage:
		return "message"
	}
	return "disconnected"
}

// Event is something that happened on a Link.
type Event struct {
	Kind    EventKind
	Message Message
	Err     error
}

// Link is a client's connection to the relay. It reconnects on its own and
// reports every state change and inbound message on Events, in order.
type Link interface {
	Events() <-chan Event
	// Send fails with state.ErrConnectionLost while disconnected.
	Send(m Message) error
	Close() error
}
