package syncer_test

import (
	"testing"
	"time"

	"LiveBoard/internal/protocol"
	"LiveBoard/internal/state"
	"LiveBoard/internal/syncer"
	"github.com/stretchr/testify/require"
)

type fakeLink struct {
	sent []protocol.Message
}

func (l *fakeLink) Send(m protocol.Message) error {
	l.sent = append(l.sent, m)
	return nil
}

func (l *fakeLink) take() []protocol.Message {
	out := l.sent
	l.sent = nil
	return out
}

type recorder struct {
	applied  []uint64
	resets   int
	rejected []state.OpID
	reissued [][2]state.OpID
	phases   []syncer.Phase
	lastErr  error
}

func (r *recorder) Applied(op state.Operation, _ state.Effect) {
	r.applied = append(r.applied, op.Sequence)
}

func (r *recorder) Reset(*state.Board) {
	r.resets++
}

func (r *recorder) Rejected(op state.Operation, _ error) {
	r.rejected = append(r.rejected, op.ID)
}

func (r *recorder) Reissued(from, to state.OpID) {
	r.reissued = append(r.reissued, [2]state.OpID{from, to})
}

func (r *recorder) Status(p syncer.Phase, err error) {
	r.phases = append(r.phases, p)
	r.lastErr = err
}

var t0 = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func testConfig() syncer.Config {
	return syncer.Config{
		AckTimeout:      time.Second,
		SnapshotTimeout: time.Second,
		MaxAttempts:     2,
		InitialBackoff:  100 * time.Millisecond,
		MaxBackoff:      time.Second,
	}
}

type fixture struct {
	engine *syncer.Engine
	link   *fakeLink
	rec    *recorder
	clock  *state.Clock
}

func newFixture() *fixture {
	f := &fixture{link: &fakeLink{}, rec: &recorder{}, clock: state.NewClock("alice")}
	id := syncer.Identity{BoardID: "b1", Participant: "alice", DisplayName: "Alice"}
	f.engine = syncer.New(id, state.NewBoard("b1"), f.clock, f.link, f.rec, testConfig())
	return f
}

func (f *fixture) live(t *testing.T) {
	f.engine.Connected(t0)
	require.Equal(t, protocol.TypeHello, f.link.take()[0].Type)
	f.engine.Handle(protocol.Message{Type: protocol.TypeSnapshot, BoardID: "b1"}, t0)
	require.Equal(t, syncer.PhaseLive, f.engine.Phase())
}

func (f *fixture) local() state.Operation {
	return state.Operation{
		ID:       f.clock.Next(),
		AuthorID: "alice",
		Kind:     state.KindStrokeAdded,
		Stroke: &state.Stroke{
			Tool: state.ToolPen, Color: "#FFFFFF", Width: 2, Composite: state.CompositeNormal,
			Points: []state.Point{{X: 1, Y: 1}},
		},
	}
}

func remote(seq uint64) state.Operation {
	return state.Operation{
		ID:       state.OpID{Author: "bob", Counter: seq},
		AuthorID: "bob",
		Sequence: seq,
		Kind:     state.KindStrokeAdded,
		Stroke: &state.Stroke{
			Tool: state.ToolPen, Color: "#FF5252", Width: 3, Composite: state.CompositeNormal,
			Points: []state.Point{{X: 5, Y: 5}},
		},
	}
}

func committed(op state.Operation) protocol.Message {
	return protocol.Message{Type: protocol.TypeCommitted, BoardID: "b1", Op: &op}
}

func TestJoinBuffersCommits(t *testing.T) {
	f := newFixture()
	f.engine.Connected(t0)
	hello := f.link.take()
	require.Len(t, hello, 1)
	require.Equal(t, protocol.TypeHello, hello[0].Type)
	require.Equal(t, "Alice", hello[0].DisplayName)
	require.Equal(t, syncer.PhaseJoining, f.engine.Phase())

	f.engine.Handle(committed(remote(2)), t0)
	require.Empty(t, f.rec.applied)

	f.engine.Handle(protocol.Message{Type: protocol.TypeSnapshot, Current: 1, Ops: []state.Operation{remote(1)}}, t0)
	require.Equal(t, syncer.PhaseLive, f.engine.Phase())
	require.Equal(t, []uint64{1, 2}, f.rec.applied)
	require.Equal(t, uint64(2), f.engine.Board().Head())

	// duplicates of applied sequences are ignored
	f.engine.Handle(committed(remote(2)), t0)
	require.Equal(t, []uint64{1, 2}, f.rec.applied)
}

func TestGapRequestsRange(t *testing.T) {
	f := newFixture()
	f.live(t)

	f.engine.Handle(committed(remote(3)), t0)
	sent := f.link.take()
	require.Len(t, sent, 1)
	require.Equal(t, protocol.TypeRangeRequest, sent[0].Type)
	require.Equal(t, uint64(1), sent[0].From)
	require.Equal(t, uint64(2), sent[0].To)
	require.Empty(t, f.rec.applied)

	f.engine.Handle(protocol.Message{Type: protocol.TypeRange, From: 1, To: 2, Ops: []state.Operation{remote(1), remote(2)}}, t0)
	require.Equal(t, []uint64{1, 2, 3}, f.rec.applied)
	require.Empty(t, f.link.take())
}

func TestGapRequestRetried(t *testing.T) {
	f := newFixture()
	f.live(t)
	f.engine.Handle(committed(remote(2)), t0)
	require.Len(t, f.link.take(), 1)

	f.engine.Tick(t0.Add(time.Second))
	require.Empty(t, f.link.take())
	f.engine.Tick(t0.Add(1100 * time.Millisecond))
	sent := f.link.take()
	require.Len(t, sent, 1)
	require.Equal(t, protocol.TypeRangeRequest, sent[0].Type)
}

func TestSubmitAcknowledged(t *testing.T) {
	f := newFixture()
	f.live(t)

	op := f.local()
	f.engine.Submit(op, t0)
	sent := f.link.take()
	require.Len(t, sent, 1)
	require.Equal(t, protocol.TypeSubmit, sent[0].Type)
	require.Equal(t, op.ID, sent[0].Op.ID)
	require.True(t, f.engine.IsPending(op.ID))

	op.Sequence = 1
	f.engine.Handle(committed(op), t0)
	require.False(t, f.engine.IsPending(op.ID))
	require.Empty(t, f.engine.Pending())
	require.Equal(t, []uint64{1}, f.rec.applied)
}

func TestReconnectResendsWithOriginalIDs(t *testing.T) {
	f := newFixture()
	f.live(t)

	first := f.local()
	f.engine.Submit(first, t0)
	f.link.take()

	f.engine.Disconnected(t0, nil)
	require.Equal(t, syncer.PhaseReconnecting, f.engine.Phase())
	require.ErrorIs(t, f.rec.lastErr, state.ErrConnectionLost)

	second := f.local()
	f.engine.Submit(second, t0)
	require.Empty(t, f.link.take())
	f.engine.Tick(t0.Add(time.Minute))
	require.Empty(t, f.link.take())

	f.engine.Connected(t0.Add(time.Minute))
	hello := f.link.take()
	require.Len(t, hello, 1)
	require.Equal(t, protocol.TypeHello, hello[0].Type)

	// the first submission made it before the link dropped
	landed := first
	landed.Sequence = 1
	f.engine.Handle(protocol.Message{Type: protocol.TypeSnapshot, Current: 1, Ops: []state.Operation{landed}}, t0.Add(time.Minute))
	resent := f.link.take()
	require.Len(t, resent, 1)
	require.Equal(t, protocol.TypeSubmit, resent[0].Type)
	require.Equal(t, second.ID, resent[0].Op.ID)
	require.Equal(t, []state.Operation{second}, f.engine.Pending())
}

func TestAckTimeoutFreezesSubmissions(t *testing.T) {
	f := newFixture()
	f.live(t)
	op := f.local()
	f.engine.Submit(op, t0)
	require.Len(t, f.link.take(), 1)

	f.engine.Tick(t0.Add(time.Second))
	require.Empty(t, f.link.take())
	f.engine.Tick(t0.Add(1100 * time.Millisecond))
	retry := f.link.take()
	require.Len(t, retry, 1)
	require.Equal(t, op.ID, retry[0].Op.ID)

	f.engine.Tick(t0.Add(2100 * time.Millisecond))
	require.Equal(t, syncer.PhaseReconnecting, f.engine.Phase())
	require.ErrorIs(t, f.engine.Err(), state.ErrConnectionLost)

	// submissions are held, not dropped
	later := f.local()
	f.engine.Submit(later, t0.Add(2100*time.Millisecond))
	require.Empty(t, f.link.take())
	require.Len(t, f.engine.Pending(), 2)

	f.engine.Tick(t0.Add(2200 * time.Millisecond))
	hello := f.link.take()
	require.Len(t, hello, 1)
	require.Equal(t, protocol.TypeHello, hello[0].Type)

	f.engine.Handle(protocol.Message{Type: protocol.TypeSnapshot}, t0.Add(2300*time.Millisecond))
	require.Equal(t, syncer.PhaseLive, f.engine.Phase())
	resent := f.link.take()
	require.Len(t, resent, 2)
	require.Equal(t, op.ID, resent[0].Op.ID)
	require.Equal(t, later.ID, resent[1].Op.ID)
}

func TestSnapshotTimeout(t *testing.T) {
	f := newFixture()
	f.engine.Connected(t0)
	require.Len(t, f.link.take(), 1)

	f.engine.Tick(t0.Add(time.Second))
	require.Equal(t, syncer.PhaseReconnecting, f.engine.Phase())
	f.engine.Tick(t0.Add(1100 * time.Millisecond))
	require.Len(t, f.link.take(), 1)
	require.Equal(t, syncer.PhaseJoining, f.engine.Phase())

	f.engine.Tick(t0.Add(2100 * time.Millisecond))
	require.Equal(t, syncer.PhaseFailed, f.engine.Phase())
	require.ErrorIs(t, f.engine.Err(), state.ErrSnapshotTimeout)
	f.engine.Tick(t0.Add(time.Hour))
	require.Empty(t, f.link.take())

	f.engine.Retry(t0.Add(time.Hour))
	require.Len(t, f.link.take(), 1)
	require.Equal(t, syncer.PhaseJoining, f.engine.Phase())
}

func TestRejectionDropsPending(t *testing.T) {
	f := newFixture()
	f.live(t)
	op := f.local()
	f.engine.Submit(op, t0)
	f.link.take()

	f.engine.Handle(protocol.Message{
		Type:  protocol.TypeError,
		Error: &protocol.Error{Code: protocol.CodePermission, Message: "no", Op: op.ID},
	}, t0)
	require.Equal(t, []state.OpID{op.ID}, f.rec.rejected)
	require.Empty(t, f.engine.Pending())
}

func TestSnapshotBehindResetsBoard(t *testing.T) {
	f := newFixture()
	f.live(t)
	for seq := uint64(1); seq <= 3; seq++ {
		f.engine.Handle(committed(remote(seq)), t0)
	}
	require.Equal(t, uint64(3), f.engine.Board().Head())

	f.engine.Disconnected(t0, nil)
	f.engine.Connected(t0)
	hello := f.link.take()
	require.Equal(t, uint64(3), hello[len(hello)-1].Since)

	fresh := remote(1)
	fresh.ID = state.OpID{Author: "carol", Counter: 1}
	fresh.AuthorID = "carol"
	f.engine.Handle(protocol.Message{Type: protocol.TypeSnapshot, Current: 1, Ops: []state.Operation{fresh}}, t0)
	require.Equal(t, 1, f.rec.resets)
	require.Equal(t, uint64(1), f.engine.Board().Head())
	require.Equal(t, fresh.ID, f.engine.Board().Operations()[0].ID)
}

// A client restarted with a fixed participant id starts its clock over.
// Whatever it queues before the snapshot must not take an id that the log
// already holds.
func TestRestartedClientDoesNotReuseIDs(t *testing.T) {
	f := newFixture()
	f.engine.Connected(t0)
	f.link.take()

	queued := f.local()
	require.Equal(t, state.OpID{Author: "alice", Counter: 1}, queued.ID)
	f.engine.Submit(queued, t0)
	require.Empty(t, f.link.take())

	// alice#1 from the previous run
	old := f.local()
	old.ID = queued.ID
	old.Stroke = &state.Stroke{
		Tool: state.ToolPen, Color: "#FF5252", Width: 9, Composite: state.CompositeNormal,
		Points: []state.Point{{X: 30, Y: 30}},
	}
	old.Sequence = 1
	f.engine.Handle(protocol.Message{Type: protocol.TypeSnapshot, Current: 1, Ops: []state.Operation{old}}, t0)
	require.Equal(t, []uint64{1}, f.rec.applied)

	fresh := state.OpID{Author: "alice", Counter: 3}
	pending := f.engine.Pending()
	require.Len(t, pending, 1)
	require.Equal(t, fresh, pending[0].ID)
	require.Equal(t, queued.Stroke, pending[0].Stroke)
	require.Equal(t, [][2]state.OpID{{queued.ID, fresh}}, f.rec.reissued)

	sent := f.link.take()
	require.Len(t, sent, 1)
	require.Equal(t, protocol.TypeSubmit, sent[0].Type)
	require.Equal(t, fresh, sent[0].Op.ID)
}

func TestEchoMustMatchPendingContent(t *testing.T) {
	f := newFixture()
	f.live(t)
	op := f.local()
	f.engine.Submit(op, t0)
	f.link.take()

	other := op
	other.Stroke = &state.Stroke{
		Tool: state.ToolPen, Color: "#4CAF50", Width: 1, Composite: state.CompositeNormal,
		Points: []state.Point{{X: 7, Y: 7}},
	}
	other.Sequence = 1
	f.engine.Handle(committed(other), t0)
	require.Equal(t, []uint64{1}, f.rec.applied)

	pending := f.engine.Pending()
	require.Len(t, pending, 1)
	require.NotEqual(t, op.ID, pending[0].ID)
	require.Equal(t, op.Stroke, pending[0].Stroke)

	f.engine.Tick(t0)
	sent := f.link.take()
	require.Len(t, sent, 1)
	require.Equal(t, pending[0].ID, sent[0].Op.ID)
}
