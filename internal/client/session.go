package client

import (
	"time"

	"LiveBoard/internal/capture"
	"LiveBoard/internal/core"
	"LiveBoard/internal/history"
	"LiveBoard/internal/presence"
	"LiveBoard/internal/protocol"
	"LiveBoard/internal/render"
	"LiveBoard/internal/state"
	"LiveBoard/internal/syncer"

	"github.com/apex/log"
)

// session is the state of one open board. Only the event loop touches it.
type session struct {
	client  *Client
	boardID string
	self    string
	name    string
	link    protocol.Link

	clock    *state.Clock
	sync     *syncer.Engine
	renderer *render.Renderer
	capture  *capture.Engine
	history  *history.Manager
	peers    *presence.Manager
	throttle *presence.Throttle
	cursor   *presence.Cursor

	overlayDirty  bool
	presenceDirty bool

	log *log.Entry
}

func newSession(c *Client, boardID string, link protocol.Link) *session {
	o := c.opts
	s := &session{
		client:   c,
		boardID:  boardID,
		self:     o.Participant,
		name:     o.DisplayName,
		link:     link,
		clock:    state.NewClock(o.Participant),
		renderer: render.NewRenderer(o.Width, o.Height),
		peers:    presence.NewManager(o.PresenceTimeout),
		throttle: presence.NewThrottle(o.PresenceThrottle, o.Heartbeat),
		log:      core.Logger("client").WithField("board", boardID).WithField("participant", o.Participant),
	}
	board := state.NewBoard(boardID)
	s.capture = capture.NewEngine(s.clock, s.observed, o.Capture)
	s.history = history.NewManager(board, s.clock, s.observed)
	id := syncer.Identity{BoardID: boardID, Participant: o.Participant, DisplayName: o.DisplayName}
	s.sync = syncer.New(id, board, s.clock, link, s, o.Sync)
	return s
}

// observed is the highest committed sequence this participant has seen.
func (s *session) observed() uint64 {
	return s.sync.Board().Head()
}

// Applied implements syncer.Handler.
func (s *session) Applied(op state.Operation, e state.Effect) {
	s.history.Observe(op, e)
	s.renderer.Apply(s.sync.Board(), op, e)
	s.overlayDirty = true
	if cb := s.client.callbacks.OnOperationApplied; cb != nil {
		cb(op)
	}
}

// Reset implements syncer.Handler.
func (s *session) Reset(board *state.Board) {
	s.history = history.NewManager(board, s.clock, s.observed)
	s.renderer.Replay(board)
	s.overlayDirty = true
}

// Rejected implements syncer.Handler.
func (s *session) Rejected(op state.Operation, err error) {
	s.history.Rejected(op.ID)
	s.overlayDirty = true
	s.client.report(s.sync.Phase(), err)
}

// Reissued implements syncer.Handler.
func (s *session) Reissued(from, to state.OpID) {
	s.history.Reissued(from, to)
	s.overlayDirty = true
}

// Status implements syncer.Handler.
func (s *session) Status(p syncer.Phase, err error) {
	s.client.report(p, err)
}

func (s *session) handleEvent(ev protocol.Event, now time.Time) {
	switch ev.Kind {
	case protocol.EventConnected:
		s.log.Info("connected")
		s.sync.Connected(now)
		s.throttle.Reset()
		s.offerPresence(now)
	case protocol.EventDisconnected:
		s.log.WithError(ev.Err).Warn("disconnected")
		s.sync.Disconnected(now, ev.Err)
	case protocol.EventMessage:
		s.handleMessage(ev.Message, now)
	}
}

func (s *session) handleMessage(m protocol.Message, now time.Time) {
	switch m.Type {
	case protocol.TypeSnapshot:
		if s.sync.Phase() == syncer.PhaseJoining {
			for _, p := range m.Participants {
				if p.ParticipantID != s.self {
					s.peers.Update(p, now)
				}
			}
			s.presenceDirty = true
		}
	case protocol.TypePresence:
		if m.Presence != nil && m.Presence.ParticipantID != s.self {
			s.peers.Update(*m.Presence, now)
			s.presenceDirty = true
		}
	case protocol.TypeLeave:
		if m.Participant != s.self && s.peers.Remove(m.Participant) {
			s.presenceDirty = true
		}
	case protocol.TypeCommitted:
		if m.Op != nil {
			s.peers.Touch(m.Op.AuthorID, now)
		}
	}
	s.sync.Handle(m, now)
}

// tick runs timers and publishes the frame.
func (s *session) tick(now time.Time) {
	s.sync.Tick(now)
	if p, ok := s.throttle.Tick(now); ok {
		s.sendPresence(p)
	}
	s.peers.Touch(s.self, now)
	if gone := s.peers.Expire(now); len(gone) > 0 {
		s.presenceDirty = true
	}
	s.flush()
}

func (s *session) flush() {
	if s.overlayDirty {
		s.overlayDirty = false
		overlay := s.sync.Pending()
		if op, ok := s.capture.InFlight(); ok {
			overlay = append(overlay, op)
		}
		s.renderer.SetOverlay(overlay)
	}
	if s.renderer.Dirty() {
		dirty := s.renderer.TakeDirty()
		s.client.frame.Store(s.renderer.Frame())
		if cb := s.client.callbacks.OnFrame; cb != nil {
			cb(dirty)
		}
	}
	if s.presenceDirty {
		s.presenceDirty = false
		if cb := s.client.callbacks.OnPresenceChanged; cb != nil {
			cb(s.participants())
		}
	}
}

func (s *session) pointerDown(ev capture.PointerEvent) {
	if s.capture.Press(ev) {
		s.overlayDirty = true
	}
	s.moveCursor(ev.X, ev.Y, time.Now())
}

func (s *session) pointerMove(ev capture.PointerEvent) {
	if s.capture.Move(ev) {
		s.overlayDirty = true
	}
	s.moveCursor(ev.X, ev.Y, time.Now())
}

func (s *session) pointerUp(ev capture.PointerEvent) {
	if op, ok := s.capture.Release(ev); ok {
		s.submit(op)
	}
	s.overlayDirty = true
}

func (s *session) pointerLeave(ev capture.PointerEvent) {
	if op, ok := s.capture.Leave(ev); ok {
		s.submit(op)
	}
	s.overlayDirty = true
	s.cursor = nil
	s.offerPresence(time.Now())
}

func (s *session) pointerCancel(pointerID int) {
	if s.capture.Cancel(pointerID) {
		s.overlayDirty = true
	}
}

func (s *session) hover(x, y float64) {
	s.moveCursor(x, y, time.Now())
}

func (s *session) moveCursor(x, y float64, now time.Time) {
	s.cursor = &presence.Cursor{X: x, Y: y}
	s.offerPresence(now)
}

func (s *session) setTool(ts state.ToolState) error {
	if err := s.capture.SetTool(ts); err != nil {
		return err
	}
	s.offerPresence(time.Now())
	return nil
}

func (s *session) undo() error {
	op, err := s.history.Undo()
	if err != nil {
		return err
	}
	s.submit(op)
	return nil
}

func (s *session) redo() error {
	op, err := s.history.Redo()
	if err != nil {
		return err
	}
	s.submit(op)
	return nil
}

func (s *session) undoOp(target state.OpID) error {
	op, err := s.history.UndoOp(target)
	if err != nil {
		return err
	}
	s.submit(op)
	return nil
}

func (s *session) redoOp(target state.OpID) error {
	op, err := s.history.RedoOp(target)
	if err != nil {
		return err
	}
	s.submit(op)
	return nil
}

func (s *session) clear() error {
	op := state.Operation{
		ID:        s.clock.Next(),
		AuthorID:  s.self,
		Kind:      state.KindBoardCleared,
		CausalRef: s.observed(),
	}
	s.submit(op)
	return nil
}

func (s *session) placeText(at state.Point, text string) error {
	op, err := s.capture.PlaceText(at, text, time.Now())
	if err != nil {
		return err
	}
	s.submit(op)
	return nil
}

func (s *session) submit(op state.Operation) {
	s.log.WithField("op", op.ID.String()).WithField("kind", string(op.Kind)).Debug("submit")
	s.sync.Submit(op, time.Now())
	s.overlayDirty = true
}

func (s *session) offerPresence(now time.Time) {
	p := presence.Presence{
		ParticipantID: s.self,
		DisplayName:   s.name,
		Tool:          s.capture.Tool(),
		Cursor:        s.cursor,
	}
	old, known := s.peers.Get(s.self)
	if s.peers.Update(p, now) || !known || old.Tool != p.Tool {
		s.presenceDirty = true
	}
	if out, ok := s.throttle.Offer(p, now); ok {
		s.sendPresence(out)
	}
}

func (s *session) sendPresence(p presence.Presence) {
	err := s.link.Send(protocol.Message{Type: protocol.TypePresence, BoardID: s.boardID, Presence: &p})
	if err != nil {
		s.log.WithError(err).Debug("presence not sent")
	}
}

func (s *session) participants() []state.ParticipantState {
	entries := s.peers.Snapshot()
	out := make([]state.ParticipantState, 0, len(entries))
	for _, p := range entries {
		ps := state.ParticipantState{
			ID:          p.ParticipantID,
			DisplayName: p.DisplayName,
			Color:       p.Color,
			ActiveTool:  p.Tool,
		}
		if p.Cursor != nil {
			ps.Cursor = &state.Point{X: p.Cursor.X, Y: p.Cursor.Y}
		}
		ps.UndoStack, ps.RedoStack = s.history.Stacks(p.ParticipantID)
		out = append(out, ps)
	}
	return out
}

func (s *session) close() {
	if err := s.link.Send(protocol.Message{Type: protocol.TypeLeave, BoardID: s.boardID}); err != nil {
		s.log.WithError(err).Debug("leave not sent")
	}
	if err := s.link.Close(); err != nil {
		s.log.WithError(err).Warn("closing link")
	}
}
