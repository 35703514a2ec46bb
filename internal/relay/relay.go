package relay

import (
	"context"
	"fmt"
	"sync"
	"time"

	"LiveBoard/internal/core"
	"LiveBoard/internal/presence"
	"LiveBoard/internal/protocol"
	"LiveBoard/internal/state"
	"LiveBoard/internal/storage"

	"github.com/apex/log"
)

type Config struct {
	Limits          state.Limits
	PresenceTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{Limits: state.DefaultLimits(), PresenceTimeout: 10 * time.Second}
}

// Peer delivers messages to one connected client. Send must not block.
type Peer interface {
	Send(m protocol.Message) error
	Close() error
}

// Relay is the single authority of every board it serves: it assigns
// sequence numbers, persists the log and fans commits out to all sessions.
type Relay struct {
	cfg    Config
	store  storage.Store
	mu     sync.Mutex
	boards map[string]*hub
	stats  stats
	now    func() time.Time
	log    *log.Entry
}

// hub is the state of one board. mu serializes commits so that every
// session sees the same order.
type hub struct {
	id       string
	mu       sync.Mutex
	sessions map[*Session]struct{}
	presence *presence.Manager
}

func New(store storage.Store, cfg Config) *Relay {
	r := &Relay{
		cfg:    cfg,
		store:  store,
		boards: make(map[string]*hub),
		now:    time.Now,
		log:    core.Logger("relay"),
	}
	r.stats.reset()
	return r
}

// Attach starts a session for a newly connected peer. The session joins a
// board when the peer says hello.
func (r *Relay) Attach(peer Peer) *Session {
	r.stats.add(statSessions, 1)
	return &Session{relay: r, peer: peer}
}

// Stats returns the relay counters.
func (r *Relay) Stats() map[string]int {
	out := r.stats.snapshot()
	r.mu.Lock()
	out["boards"] = len(r.boards)
	r.mu.Unlock()
	return out
}

// Run expires stale presence until ctx is done.
func (r *Relay) Run(ctx context.Context) {
	interval := r.cfg.PresenceTimeout / 4
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Sweep(r.now())
		}
	}
}

// Sweep removes participants whose presence timed out and tells the
// remaining sessions they left.
func (r *Relay) Sweep(now time.Time) {
	r.mu.Lock()
	hubs := make([]*hub, 0, len(r.boards))
	for _, h := range r.boards {
		hubs = append(hubs, h)
	}
	r.mu.Unlock()

	for _, h := range hubs {
		h.mu.Lock()
		for _, id := range h.presence.Expire(now) {
			r.stats.add(statExpired, 1)
			h.broadcast(protocol.Message{Type: protocol.TypeLeave, BoardID: h.id, Participant: id}, nil)
		}
		h.mu.Unlock()
	}
}

func (r *Relay) hub(id string) *hub {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.boards[id]
	if !ok {
		h = &hub{
			id:       id,
			sessions: make(map[*Session]struct{}),
			presence: presence.NewManager(r.cfg.PresenceTimeout),
		}
		r.boards[id] = h
		r.log.WithField("board", id).Info("board opened")
	}
	return h
}

// admit decides whether op may be committed on behalf of participant.
// Callers hold the board lock.
func (r *Relay) admit(ctx context.Context, boardID, participant string, op state.Operation) error {
	if err := state.Validate(op, r.cfg.Limits); err != nil {
		return err
	}
	if op.AuthorID != participant {
		return fmt.Errorf("%w: %s cannot submit as %s", state.ErrPermissionDenied, participant, op.AuthorID)
	}
	if op.Kind != state.KindStrokeUndone && op.Kind != state.KindStrokeRedone {
		return nil
	}
	target, found, err := r.store.Lookup(ctx, boardID, op.Target)
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("%w: target %s", state.ErrUnknownOperation, op.Target)
	}
	if !target.Kind.IsStroke() {
		return fmt.Errorf("%w: %s of %s", state.ErrUnsupported, op.Kind, target.Kind)
	}
	if target.AuthorID != op.AuthorID {
		return fmt.Errorf("%w: %s belongs to %s", state.ErrPermissionDenied, op.Target, target.AuthorID)
	}
	return nil
}

// broadcast sends m to every session but exclude. Callers hold h.mu.
func (h *hub) broadcast(m protocol.Message, exclude *Session) {
	for s := range h.sessions {
		if s == exclude {
			continue
		}
		if err := s.peer.Send(m); err != nil {
			s.relay.log.WithError(err).WithField("participant", s.participant).Warn("dropping session")
			delete(h.sessions, s)
			s.peer.Close()
		}
	}
}

// Session is one client connection. Handle is called from a single
// goroutine per session.
type Session struct {
	relay       *Relay
	peer        Peer
	hub         *hub
	participant string
	name        string
	closed      bool
}

func (s *Session) Participant() string {
	return s.participant
}

// Handle processes one message from the client.
func (s *Session) Handle(ctx context.Context, m protocol.Message) {
	if s.closed {
		return
	}
	switch m.Type {
	case protocol.TypeHello:
		s.hello(ctx, m)
	case protocol.TypeSubmit:
		s.submit(ctx, m)
	case protocol.TypeRangeRequest:
		s.rangeRequest(ctx, m)
	case protocol.TypePresence:
		s.updatePresence(m)
	case protocol.TypeLeave:
		s.leave()
	default:
		s.reject(state.OpID{}, fmt.Errorf("%w: unexpected %s", protocol.ErrBadRequest, m.Type))
	}
}

// Close detaches the session from its board. The participant's presence
// stays until it times out, so a quick reconnect is not seen as a leave.
func (s *Session) Close() {
	if s.closed {
		return
	}
	s.closed = true
	s.detach()
	s.relay.stats.add(statSessions, -1)
}

func (s *Session) hello(ctx context.Context, m protocol.Message) {
	if m.BoardID == "" || m.Participant == "" {
		s.reject(state.OpID{}, fmt.Errorf("%w: hello needs a board and a participant", protocol.ErrBadRequest))
		return
	}
	s.detach()

	h := s.relay.hub(m.BoardID)
	h.mu.Lock()
	defer h.mu.Unlock()

	head, err := s.relay.store.Head(ctx, h.id)
	if err != nil {
		s.reject(state.OpID{}, err)
		return
	}
	since := m.Since
	if since > head {
		// the client knows a log this relay never had; start it over
		since = 0
	}
	ops, err := s.relay.store.Range(ctx, h.id, since+1, head)
	if err != nil {
		s.reject(state.OpID{}, err)
		return
	}

	s.hub = h
	s.participant = m.Participant
	s.name = m.DisplayName
	h.sessions[s] = struct{}{}

	p, ok := h.presence.Get(s.participant)
	if !ok {
		p = presence.Presence{ParticipantID: s.participant, Tool: state.DefaultToolState()}
	}
	if s.name != "" {
		p.DisplayName = s.name
	}
	h.presence.Update(p, s.relay.now())
	p, _ = h.presence.Get(s.participant)

	s.relay.stats.add(statSnapshots, 1)
	s.send(protocol.Message{
		Type:         protocol.TypeSnapshot,
		BoardID:      h.id,
		Since:        since,
		Current:      head,
		Ops:          ops,
		Participants: h.presence.Snapshot(),
	})
	h.broadcast(protocol.Message{Type: protocol.TypePresence, BoardID: h.id, Presence: &p}, s)
	s.relay.log.WithField("board", h.id).WithField("participant", s.participant).
		WithField("since", since).WithField("head", head).Info("session joined")
}

func (s *Session) submit(ctx context.Context, m protocol.Message) {
	h := s.hub
	if h == nil || m.Op == nil {
		s.reject(state.OpID{}, fmt.Errorf("%w: submit outside a board", protocol.ErrBadRequest))
		return
	}
	op := *m.Op
	op.Sequence = 0

	h.mu.Lock()
	defer h.mu.Unlock()

	if err := s.relay.admit(ctx, h.id, s.participant, op); err != nil {
		s.relay.stats.add(statRejected, 1)
		s.relay.log.WithError(err).WithField("op", op.ID.String()).Debug("rejected")
		s.reject(op.ID, err)
		return
	}
	committed, dup, err := s.relay.store.Append(ctx, h.id, op)
	if err != nil {
		s.relay.log.WithError(err).WithField("op", op.ID.String()).Error("append failed")
		s.reject(op.ID, err)
		return
	}
	h.presence.Touch(s.participant, s.relay.now())

	msg := protocol.Message{Type: protocol.TypeCommitted, BoardID: h.id, Op: &committed}
	if dup {
		// already fanned out once; only the resubmitting client needs it again
		s.relay.stats.add(statDuplicates, 1)
		s.send(msg)
		return
	}
	s.relay.stats.add(statCommits, 1)
	h.broadcast(msg, nil)
}

func (s *Session) rangeRequest(ctx context.Context, m protocol.Message) {
	if s.hub == nil || m.From == 0 || (m.To != 0 && m.To < m.From) {
		s.reject(state.OpID{}, fmt.Errorf("%w: range [%d, %d]", protocol.ErrBadRequest, m.From, m.To))
		return
	}
	ops, err := s.relay.store.Range(ctx, s.hub.id, m.From, m.To)
	if err != nil {
		s.reject(state.OpID{}, err)
		return
	}
	s.relay.stats.add(statRanges, 1)
	s.send(protocol.Message{Type: protocol.TypeRange, BoardID: s.hub.id, From: m.From, To: m.To, Ops: ops})
}

func (s *Session) updatePresence(m protocol.Message) {
	h := s.hub
	if h == nil || m.Presence == nil {
		return
	}
	p := *m.Presence
	p.ParticipantID = s.participant
	if p.DisplayName == "" {
		p.DisplayName = s.name
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	h.presence.Update(p, s.relay.now())
	p, _ = h.presence.Get(s.participant)
	s.relay.stats.add(statPresence, 1)
	h.broadcast(protocol.Message{Type: protocol.TypePresence, BoardID: h.id, Presence: &p}, s)
}

func (s *Session) leave() {
	h := s.hub
	if h == nil {
		return
	}
	s.detach()

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.presence.Remove(s.participant) {
		h.broadcast(protocol.Message{Type: protocol.TypeLeave, BoardID: h.id, Participant: s.participant}, nil)
	}
	s.relay.log.WithField("board", h.id).WithField("participant", s.participant).Info("session left")
}

func (s *Session) detach() {
	h := s.hub
	if h == nil {
		return
	}
	h.mu.Lock()
	delete(h.sessions, s)
	h.mu.Unlock()
	s.hub = nil
}

func (s *Session) send(m protocol.Message) {
	if err := s.peer.Send(m); err != nil {
		s.relay.log.WithError(err).WithField("participant", s.participant).Debug("send failed")
	}
}

func (s *Session) reject(op state.OpID, err error) {
	s.send(protocol.Message{Type: protocol.TypeError, Error: protocol.ErrorFor(op, err)})
}
