package protocol

import (
	"encoding/json"
	"errors"
	"fmt"

	"LiveBoard/internal/presence"
	"LiveBoard/internal/state"
)

type Type string

const (
	TypeHello        Type = "hello"         // client -> relay, opens a session
	TypeSnapshot     Type = "snapshot"      // relay -> client, ops after Since plus presence
	TypeSubmit       Type = "submit"        // client -> relay, uncommitted op
	TypeCommitted    Type = "committed"     // relay -> clients, op with its sequence
	TypeRangeRequest Type = "range_request" // client -> relay, [From, To]
	TypeRange        Type = "range"         // relay -> client
	TypePresence     Type = "presence"      // both ways, never logged
	TypeLeave        Type = "leave"         // relay -> clients
	TypeError        Type = "error"         // relay -> client
)

// Message is the envelope of everything exchanged between a client and the
// relay. Only the fields relevant to Type are set.
type Message struct {
	Type         Type                `json:"type"`
	BoardID      string              `json:"board,omitempty"`
	Participant  string              `json:"participant,omitempty"`
	DisplayName  string              `json:"name,omitempty"`
	Since        uint64              `json:"since,omitempty"`
	From         uint64              `json:"from,omitempty"`
	To           uint64              `json:"to,omitempty"`
	Current      uint64              `json:"current,omitempty"`
	Op           *state.Operation    `json:"op,omitempty"`
	Ops          []state.Operation   `json:"ops,omitempty"`
	Presence     *presence.Presence  `json:"presence,omitempty"`
	Participants []presence.Presence `json:"participants,omitempty"`
	Error        *Error              `json:"error,omitempty"`
}

func Encode(m Message) ([]byte, error) {
	return json.Marshal(m)
}

func Decode(data []byte) (Message, error) {
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return Message{}, fmt.Errorf("decode message: %w", err)
	}
	if m.Type == "" {
		return Message{}, errors.New("decode message: missing type")
	}
	return m, nil
}

// Error codes
const (
	CodeInvalid     = "invalid"
	CodePermission  = "permission_denied"
	CodeUnsupported = "unsupported"
	CodeBadRequest  = "bad_request"
	CodeInternal    = "internal"
)

// Error reports why the relay refused a request. Op names the rejected
// operation, if any.
type Error struct {
	Code    string     `json:"code"`
	Message string     `json:"message"`
	Op      state.OpID `json:"op,omitempty"`
}

func (e *Error) Error() string {
	return e.Code + ": " + e.Message
}

// Unwrap maps the code back onto the error kinds of package state.
func (e *Error) Unwrap() error {
	switch e.Code {
	case CodeInvalid:
		return &state.ValidationError{Field: "operation", Reason: e.Message}
	case CodePermission:
		return state.ErrPermissionDenied
	case CodeUnsupported:
		return state.ErrUnsupported
	}
	return nil
}

// ErrorFor builds the wire error for err, classifying it by kind.
func ErrorFor(op state.OpID, err error) *Error {
	var verr *state.ValidationError
	code := CodeInternal
	switch {
	case errors.As(err, &verr):
		code = CodeInvalid
	case errors.Is(err, state.ErrPermissionDenied):
		code = CodePermission
	case errors.Is(err, state.ErrUnsupported):
		code = CodeUnsupported
	case errors.Is(err, ErrBadRequest), errors.Is(err, state.ErrUnknownOperation):
		code = CodeBadRequest
	}
	return &Error{Code: code, Message: err.Error(), Op: op}
}

// ErrBadRequest marks messages that make no sense in the session's state.
var ErrBadRequest = errors.New("bad request")
