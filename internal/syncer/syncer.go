package syncer

import (
	"errors"
	"sort"
	"time"

	"LiveBoard/internal/core"
	"LiveBoard/internal/protocol"
	"LiveBoard/internal/state"

	"github.com/apex/log"
	"github.com/cenkalti/backoff/v4"
)

type Phase int

const (
	PhaseIdle         Phase = iota
	PhaseJoining            // waiting for the snapshot; commits are buffered
	PhaseLive               // in sync, submitting
	PhaseReconnecting       // submissions frozen until the relay answers again
	PhaseFailed             // snapshot never arrived
)

func (p Phase) String() string {
	switch p {
	case PhaseJoining:
		return "joining"
	case PhaseLive:
		return "live"
	case PhaseReconnecting:
		return "reconnecting"
	case PhaseFailed:
		return "failed"
	}
	return "idle"
}

type Config struct {
	AckTimeout      time.Duration
	SnapshotTimeout time.Duration
	MaxAttempts     int
	InitialBackoff  time.Duration
	MaxBackoff      time.Duration
}

func DefaultConfig() Config {
	return Config{
		AckTimeout:      2 * time.Second,
		SnapshotTimeout: 5 * time.Second,
		MaxAttempts:     5,
		InitialBackoff:  250 * time.Millisecond,
		MaxBackoff:      8 * time.Second,
	}
}

// Identity names the board and participant a session is for.
type Identity struct {
	BoardID     string
	Participant string
	DisplayName string
}

// Sender is the outbound half of a protocol.Link.
type Sender interface {
	Send(m protocol.Message) error
}

// Handler receives the results of synchronization.
type Handler interface {
	// Applied is called for every committed operation, in sequence order.
	Applied(op state.Operation, e state.Effect)
	// Reset is called when the local log was discarded for board.
	Reset(board *state.Board)
	// Rejected is called when the relay refused a local operation.
	Rejected(op state.Operation, err error)
	// Reissued is called when a pending operation got a new id before it
	// was committed.
	Reissued(from, to state.OpID)
	// Status is called on every phase change.
	Status(p Phase, err error)
}

type submission struct {
	op       state.Operation
	stamped  bool // the id was issued after the clock saw the relay log
	sent     bool
	sentAt   time.Time
	nextAt   time.Time
	attempts int
	backoff  *backoff.ExponentialBackOff
}

// request tracks a hello or range request awaiting its answer.
type request struct {
	from, to uint64
	sentAt   time.Time
	nextAt   time.Time
	attempts int
	backoff  *backoff.ExponentialBackOff
}

// Engine keeps a board replica in sync with the relay. It is driven by the
// client event loop and never blocks.
type Engine struct {
	cfg     Config
	id      Identity
	board   *state.Board
	clock   *state.Clock
	link    Sender
	handler Handler

	phase     Phase
	connected bool
	synced    bool // a snapshot has been applied
	err       error

	pending    []*submission
	pendingIDs map[state.OpID]*submission
	buffer     map[uint64]state.Operation // committed ahead of the head
	joinBuffer []state.Operation          // committed before the snapshot arrived
	join       *request
	gap        *request

	log *log.Entry
}

func New(id Identity, board *state.Board, clock *state.Clock, link Sender, handler Handler, cfg Config) *Engine {
	return &Engine{
		cfg:        cfg,
		id:         id,
		board:      board,
		clock:      clock,
		link:       link,
		handler:    handler,
		pendingIDs: make(map[state.OpID]*submission),
		buffer:     make(map[uint64]state.Operation),
		log:        core.Logger("syncer").WithField("board", id.BoardID).WithField("participant", id.Participant),
	}
}

func (e *Engine) Phase() Phase {
	return e.phase
}

// Err returns the error that put the engine in its current phase, if any.
func (e *Engine) Err() error {
	return e.err
}

func (e *Engine) Board() *state.Board {
	return e.board
}

// Pending returns the local operations not yet committed, oldest first.
func (e *Engine) Pending() []state.Operation {
	out := make([]state.Operation, 0, len(e.pending))
	for _, s := range e.pending {
		out = append(out, s.op)
	}
	return out
}

// IsPending reports whether a local operation is awaiting its commit.
func (e *Engine) IsPending(id state.OpID) bool {
	_, ok := e.pendingIDs[id]
	return ok
}

// Connected starts (or restarts) the session once the link is up.
func (e *Engine) Connected(now time.Time) {
	e.connected = true
	if e.phase == PhaseFailed {
		return
	}
	e.startJoin(now)
}

// Disconnected freezes submissions until the link comes back.
func (e *Engine) Disconnected(now time.Time, err error) {
	e.connected = false
	if err == nil {
		err = state.ErrConnectionLost
	}
	e.join = nil
	e.gap = nil
	if e.phase != PhaseFailed && e.phase != PhaseIdle {
		e.setPhase(PhaseReconnecting, err)
	}
}

// Retry leaves the failed phase and joins again.
func (e *Engine) Retry(now time.Time) {
	if e.phase != PhaseFailed {
		return
	}
	e.phase = PhaseIdle
	e.err = nil
	if e.connected {
		e.startJoin(now)
	}
}

// Submit queues a local operation. It is sent right away while live and
// held otherwise.
func (e *Engine) Submit(op state.Operation, now time.Time) {
	if _, ok := e.pendingIDs[op.ID]; ok {
		return
	}
	s := &submission{op: op, stamped: e.synced, backoff: e.newBackoff()}
	e.pending = append(e.pending, s)
	e.pendingIDs[op.ID] = s
	if e.phase == PhaseLive && e.connected {
		e.send(s, now)
	}
}

// Handle processes a message from the relay.
func (e *Engine) Handle(m protocol.Message, now time.Time) {
	switch m.Type {
	case protocol.TypeSnapshot:
		e.handleSnapshot(m, now)
	case protocol.TypeCommitted:
		if m.Op == nil {
			return
		}
		if e.phase == PhaseJoining {
			e.joinBuffer = append(e.joinBuffer, *m.Op)
			return
		}
		e.deliver(*m.Op, now)
	case protocol.TypeRange:
		if e.phase == PhaseJoining {
			e.joinBuffer = append(e.joinBuffer, m.Ops...)
			return
		}
		e.gap = nil
		for _, op := range m.Ops {
			e.deliver(op, now)
		}
		e.requestGap(now)
	case protocol.TypeError:
		e.handleError(m)
	}
}

// Tick retries whatever timed out by now.
func (e *Engine) Tick(now time.Time) {
	if !e.connected {
		return
	}
	switch e.phase {
	case PhaseJoining:
		e.retryJoin(now)
	case PhaseReconnecting:
		if e.join != nil && !now.Before(e.join.nextAt) {
			e.sendHello(now)
		}
	case PhaseLive:
		e.retrySubmissions(now)
		e.retryGap(now)
	}
}

func (e *Engine) startJoin(now time.Time) {
	e.join = &request{backoff: e.newBackoff()}
	e.sendHello(now)
}

func (e *Engine) sendHello(now time.Time) {
	e.joinBuffer = nil
	e.join.attempts++
	e.join.sentAt = now
	e.setPhase(PhaseJoining, nil)
	err := e.link.Send(protocol.Message{
		Type:        protocol.TypeHello,
		BoardID:     e.id.BoardID,
		Participant: e.id.Participant,
		DisplayName: e.id.DisplayName,
		Since:       e.board.Head(),
	})
	if err != nil {
		e.log.WithError(err).Debug("hello not sent")
	}
}

func (e *Engine) retryJoin(now time.Time) {
	j := e.join
	if j == nil || now.Sub(j.sentAt) < e.cfg.SnapshotTimeout {
		return
	}
	if j.attempts >= e.cfg.MaxAttempts {
		e.join = nil
		e.log.WithField("attempts", j.attempts).Error("snapshot never arrived")
		e.setPhase(PhaseFailed, state.ErrSnapshotTimeout)
		return
	}
	// wait out the backoff in the reconnecting phase, then ask again
	j.nextAt = now.Add(j.backoff.NextBackOff())
	e.setPhase(PhaseReconnecting, state.ErrSnapshotTimeout)
}

func (e *Engine) handleSnapshot(m protocol.Message, now time.Time) {
	if e.phase != PhaseJoining {
		return
	}
	if m.Current < e.board.Head() {
		e.log.WithField("local", e.board.Head()).WithField("relay", m.Current).Warn("relay log is behind, starting over")
		e.board = state.NewBoard(e.id.BoardID)
		e.buffer = make(map[uint64]state.Operation)
		e.handler.Reset(e.board)
	}
	e.join = nil
	e.gap = nil
	buffered := e.joinBuffer
	e.joinBuffer = nil
	e.setPhase(PhaseLive, nil)

	for _, op := range m.Ops {
		e.deliver(op, now)
	}
	sort.Slice(buffered, func(i, j int) bool { return buffered[i].Sequence < buffered[j].Sequence })
	for _, op := range buffered {
		e.deliver(op, now)
	}
	e.requestGap(now)
	e.synced = true
	e.stampPending()

	// resend what is still uncommitted; ids only change when stamped above
	for _, s := range e.pending {
		s.attempts = 0
		s.backoff.Reset()
		e.send(s, now)
	}
	e.log.WithField("head", e.board.Head()).WithField("resent", len(e.pending)).Info("in sync")
}

// deliver applies op if it is next, buffers it if it is ahead, and drops it
// if it was applied before.
func (e *Engine) deliver(op state.Operation, now time.Time) {
	head := e.board.Head()
	switch {
	case op.Sequence <= head:
		// a duplicate answer for an id that is ours but committed with other
		// content
		if s, ok := e.pendingIDs[op.ID]; ok && s.stamped && !s.op.SameAs(op) {
			e.reissue(s)
			if e.phase == PhaseLive && e.connected {
				e.send(s, now)
			}
		}
		return
	case op.Sequence > head+1:
		e.buffer[op.Sequence] = op
		e.requestGap(now)
		return
	}
	e.apply(op)
	for {
		next, ok := e.buffer[e.board.Head()+1]
		if !ok {
			break
		}
		delete(e.buffer, next.Sequence)
		e.apply(next)
	}
}

func (e *Engine) apply(op state.Operation) {
	effect, err := e.board.Append(op)
	if err != nil {
		e.log.WithError(err).WithField("seq", op.Sequence).Error("append failed")
		return
	}
	e.clock.Observe(op.ID)
	if s, ok := e.pendingIDs[op.ID]; ok && s.stamped {
		if s.op.SameAs(op) {
			e.drop(s)
		} else {
			e.reissue(s)
		}
	}
	e.handler.Applied(op, effect)
}

// stampPending gives the operations queued before the first snapshot ids
// issued after the clock has seen every committed id of ours. A client
// restarted with the same participant id would otherwise reuse them.
func (e *Engine) stampPending() {
	for _, s := range e.pending {
		if !s.stamped {
			e.reissue(s)
		}
	}
}

func (e *Engine) reissue(s *submission) {
	from := s.op.ID
	delete(e.pendingIDs, from)
	s.op.ID = e.clock.Next()
	s.stamped = true
	s.sent = false
	s.attempts = 0
	s.backoff.Reset()
	e.pendingIDs[s.op.ID] = s
	e.log.WithField("from", from.String()).WithField("to", s.op.ID.String()).Info("operation reissued")
	e.handler.Reissued(from, s.op.ID)
}

// requestGap asks for the operations missing below the lowest buffered one.
func (e *Engine) requestGap(now time.Time) {
	if e.gap != nil || len(e.buffer) == 0 || !e.connected {
		return
	}
	lowest := uint64(0)
	for seq := range e.buffer {
		if lowest == 0 || seq < lowest {
			lowest = seq
		}
	}
	e.gap = &request{from: e.board.Head() + 1, to: lowest - 1, backoff: e.newBackoff()}
	e.sendRange(now)
}

func (e *Engine) sendRange(now time.Time) {
	g := e.gap
	g.attempts++
	g.sentAt = now
	e.log.WithField("from", g.from).WithField("to", g.to).Debug("requesting missing range")
	if err := e.link.Send(protocol.Message{Type: protocol.TypeRangeRequest, BoardID: e.id.BoardID, From: g.from, To: g.to}); err != nil {
		e.log.WithError(err).Debug("range request not sent")
	}
}

func (e *Engine) retryGap(now time.Time) {
	g := e.gap
	if g == nil {
		return
	}
	if g.nextAt.IsZero() {
		if now.Sub(g.sentAt) < e.cfg.AckTimeout {
			return
		}
		if g.attempts >= e.cfg.MaxAttempts {
			e.reconnect(now, state.ErrConnectionLost)
			return
		}
		g.nextAt = now.Add(g.backoff.NextBackOff())
	}
	if !now.Before(g.nextAt) {
		g.nextAt = time.Time{}
		e.sendRange(now)
	}
}

func (e *Engine) retrySubmissions(now time.Time) {
	for _, s := range e.pending {
		if !s.sent {
			if !now.Before(s.nextAt) {
				e.send(s, now)
			}
			continue
		}
		if now.Sub(s.sentAt) < e.cfg.AckTimeout {
			continue
		}
		if s.attempts >= e.cfg.MaxAttempts {
			e.log.WithField("op", s.op.ID.String()).Warn("no acknowledgement, freezing submissions")
			e.reconnect(now, state.ErrConnectionLost)
			return
		}
		s.sent = false
		s.nextAt = now.Add(s.backoff.NextBackOff())
	}
}

// reconnect freezes submissions and rejoins after a backoff.
func (e *Engine) reconnect(now time.Time, err error) {
	e.gap = nil
	for _, s := range e.pending {
		s.sent = false
	}
	e.join = &request{backoff: e.newBackoff()}
	e.join.nextAt = now.Add(e.join.backoff.NextBackOff())
	e.setPhase(PhaseReconnecting, err)
}

func (e *Engine) send(s *submission, now time.Time) {
	s.sent = true
	s.sentAt = now
	s.attempts++
	op := s.op
	if err := e.link.Send(protocol.Message{Type: protocol.TypeSubmit, BoardID: e.id.BoardID, Op: &op}); err != nil {
		e.log.WithError(err).WithField("op", op.ID.String()).Debug("submit not sent")
	}
}

func (e *Engine) handleError(m protocol.Message) {
	if m.Error == nil {
		return
	}
	s, ok := e.pendingIDs[m.Error.Op]
	if !ok {
		e.log.WithField("code", m.Error.Code).Warn(m.Error.Message)
		return
	}
	e.drop(s)
	e.log.WithField("op", s.op.ID.String()).WithField("code", m.Error.Code).Warn("operation rejected")
	e.handler.Rejected(s.op, m.Error)
}

func (e *Engine) drop(s *submission) {
	delete(e.pendingIDs, s.op.ID)
	for i, p := range e.pending {
		if p == s {
			e.pending = append(e.pending[:i], e.pending[i+1:]...)
			break
		}
	}
}

func (e *Engine) setPhase(p Phase, err error) {
	if e.phase == p && errors.Is(err, e.err) {
		return
	}
	e.phase = p
	e.err = err
	e.log.WithField("phase", p.String()).Debug("phase changed")
	e.handler.Status(p, err)
}

func (e *Engine) newBackoff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = e.cfg.InitialBackoff
	b.MaxInterval = e.cfg.MaxBackoff
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}
