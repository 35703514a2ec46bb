package client_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"LiveBoard/internal/capture"
	"LiveBoard/internal/client"
	"LiveBoard/internal/core"
	"LiveBoard/internal/protocol"
	"LiveBoard/internal/relay"
	"LiveBoard/internal/render"
	"LiveBoard/internal/state"
	"LiveBoard/internal/storage"
	"LiveBoard/internal/syncer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	boardID = "board-1"
	width   = 200
	height  = 120
	wait    = 3 * time.Second
	poll    = 5 * time.Millisecond
)

// lossyLink drops committed messages while drop is set.
type lossyLink struct {
	protocol.Link
	drop   atomic.Bool
	events chan protocol.Event
}

func newLossyLink(inner protocol.Link) *lossyLink {
	l := &lossyLink{Link: inner, events: make(chan protocol.Event)}
	go func() {
		for ev := range inner.Events() {
			if ev.Kind == protocol.EventMessage && ev.Message.Type == protocol.TypeCommitted && l.drop.Load() {
				continue
			}
			l.events <- ev
		}
	}()
	return l
}

func (l *lossyLink) Events() <-chan protocol.Event {
	return l.events
}

type participant struct {
	*client.Client
	transport *relay.LocalTransport
	lossy     *lossyLink
}

func newRelay() *relay.Relay {
	return relay.New(storage.NewMemoryStore(), relay.DefaultConfig())
}

func options(name string) client.Options {
	opts := client.DefaultOptions(name)
	opts.DisplayName = name
	opts.Width = width
	opts.Height = height
	opts.Tick = 2 * time.Millisecond
	opts.Sync.AckTimeout = 40 * time.Millisecond
	opts.Sync.InitialBackoff = 10 * time.Millisecond
	opts.Sync.MaxAttempts = 50
	return opts
}

func join(t *testing.T, r *relay.Relay, name string) *participant {
	p := &participant{}
	dial := func(context.Context, string) (protocol.Link, error) {
		p.transport = relay.NewLocalTransport(r)
		p.lossy = newLossyLink(p.transport)
		return p.lossy, nil
	}
	p.Client = client.New(options(name), dial, client.Callbacks{})
	require.NoError(t, p.OpenBoard(context.Background(), boardID))
	t.Cleanup(func() { _ = p.CloseBoard() })
	p.waitPhase(t, syncer.PhaseLive)
	return p
}

func (p *participant) waitPhase(t *testing.T, want syncer.Phase) {
	require.Eventually(t, func() bool {
		phase, _ := p.Status()
		return phase == want
	}, wait, poll)
}

func (p *participant) waitOps(t *testing.T, n int) []state.Operation {
	var ops []state.Operation
	require.Eventually(t, func() bool {
		var err error
		ops, err = p.Operations()
		return err == nil && len(ops) == n
	}, wait, poll)
	return ops
}

func (p *participant) waitSettled(t *testing.T) {
	require.Eventually(t, func() bool {
		pending, err := p.Pending()
		return err == nil && len(pending) == 0
	}, wait, poll)
}

// draw feeds a press, moves and a release through the client.
func (p *participant) draw(t *testing.T, pts ...[2]float64) {
	at := time.Now()
	ev := func(pt [2]float64) capture.PointerEvent {
		return capture.PointerEvent{PointerID: 1, X: pt[0], Y: pt[1], At: at}
	}
	require.NoError(t, p.PointerDown(ev(pts[0])))
	for _, pt := range pts[1:] {
		at = at.Add(20 * time.Millisecond)
		require.NoError(t, p.PointerMove(ev(pt)))
	}
	require.NoError(t, p.PointerUp(ev(pts[len(pts)-1])))
}

func ids(ops []state.Operation) []state.OpID {
	out := make([]state.OpID, 0, len(ops))
	for _, op := range ops {
		out = append(out, op.ID)
	}
	return out
}

func requireReplayMatches(t *testing.T, p *participant) {
	ops, err := p.Operations()
	require.NoError(t, err)
	img, err := p.Snapshot()
	require.NoError(t, err)
	want := render.Render(ops, uint64(len(ops)), width, height)
	require.Equal(t, render.Checksum(want), render.Checksum(img))
}

func TestConcurrentStrokesConverge(t *testing.T) {
	r := newRelay()
	alice := join(t, r, "alice")
	bob := join(t, r, "bob")

	var wg sync.WaitGroup
	for i, p := range []*participant{alice, bob} {
		wg.Add(1)
		go func(p *participant, offset float64) {
			defer wg.Done()
			for n := 0; n < 5; n++ {
				y := offset + float64(n*10)
				at := time.Now()
				assert.NoError(t, p.PointerDown(capture.PointerEvent{X: 10, Y: y, At: at}))
				assert.NoError(t, p.PointerMove(capture.PointerEvent{X: 60, Y: y + 5, At: at.Add(20 * time.Millisecond)}))
				assert.NoError(t, p.PointerUp(capture.PointerEvent{X: 120, Y: y, At: at.Add(40 * time.Millisecond)}))
			}
		}(p, float64(10+i*50))
	}
	wg.Wait()

	a := alice.waitOps(t, 10)
	b := bob.waitOps(t, 10)
	require.Equal(t, ids(a), ids(b))
	for i, op := range a {
		require.Equal(t, uint64(i+1), op.Sequence)
	}

	av, err := alice.Visible()
	require.NoError(t, err)
	bv, err := bob.Visible()
	require.NoError(t, err)
	require.Equal(t, ids(av), ids(bv))

	alice.waitSettled(t)
	bob.waitSettled(t)
	as, err := alice.Checksum()
	require.NoError(t, err)
	bs, err := bob.Checksum()
	require.NoError(t, err)
	require.Equal(t, as, bs)
	requireReplayMatches(t, alice)
}

func TestLateJoinerCatchesUp(t *testing.T) {
	r := newRelay()
	alice := join(t, r, "alice")
	for i := 0; i < 3; i++ {
		y := float64(20 + i*30)
		alice.draw(t, [2]float64{10, y}, [2]float64{80, y}, [2]float64{150, y + 10})
	}
	alice.waitOps(t, 3)
	require.NoError(t, alice.Undo())
	want := alice.waitOps(t, 4)

	carol := join(t, r, "carol")
	got := carol.waitOps(t, 4)
	require.Equal(t, want, got)

	av, err := alice.Visible()
	require.NoError(t, err)
	cv, err := carol.Visible()
	require.NoError(t, err)
	require.Len(t, cv, 2)
	require.Equal(t, ids(av), ids(cv))

	participants, err := carol.Participants()
	require.NoError(t, err)
	var found bool
	for _, ps := range participants {
		if ps.ID == "alice" {
			found = true
			require.Equal(t, []state.OpID{want[1].ID, want[0].ID}, ps.UndoStack)
			require.Equal(t, []state.OpID{want[2].ID}, ps.RedoStack)
		}
	}
	require.True(t, found)
	requireReplayMatches(t, carol)
}

func TestClearEmptiesEveryBoard(t *testing.T) {
	r := newRelay()
	alice := join(t, r, "alice")
	bob := join(t, r, "bob")

	alice.draw(t, [2]float64{10, 10}, [2]float64{100, 50})
	alice.draw(t, [2]float64{20, 80}, [2]float64{120, 90})
	alice.waitOps(t, 2)
	bob.draw(t, [2]float64{150, 10}, [2]float64{180, 100})
	bob.waitOps(t, 3)
	require.NoError(t, bob.Clear())

	for _, p := range []*participant{alice, bob} {
		ops := p.waitOps(t, 4)
		require.Equal(t, state.KindBoardCleared, ops[3].Kind)
		visible, err := p.Visible()
		require.NoError(t, err)
		require.Empty(t, visible)
		img, err := p.Snapshot()
		require.NoError(t, err)
		require.Equal(t, render.Checksum(render.Render(nil, 0, width, height)), render.Checksum(img))
	}

	// strokes from before the clear are out of reach for undo
	require.ErrorIs(t, alice.Undo(), state.ErrNothingToUndo)

	alice.draw(t, [2]float64{30, 30}, [2]float64{60, 60})
	bob.waitOps(t, 5)
	visible, err := bob.Visible()
	require.NoError(t, err)
	require.Len(t, visible, 1)
}

func TestReconnectResendsPending(t *testing.T) {
	r := newRelay()
	alice := join(t, r, "alice")
	bob := join(t, r, "bob")

	alice.transport.Disconnect()
	alice.waitPhase(t, syncer.PhaseReconnecting)
	_, err := alice.Status()
	require.ErrorIs(t, err, state.ErrConnectionLost)

	alice.draw(t, [2]float64{10, 10}, [2]float64{90, 40})
	pending, err := alice.Pending()
	require.NoError(t, err)
	require.Len(t, pending, 1)
	ops, err := bob.Operations()
	require.NoError(t, err)
	require.Empty(t, ops)

	alice.transport.Reconnect()
	alice.waitPhase(t, syncer.PhaseLive)
	got := bob.waitOps(t, 1)
	require.Equal(t, pending[0].ID, got[0].ID)
	alice.waitOps(t, 1)
	alice.waitSettled(t)
}

func TestLostEchoIsResubmittedOnce(t *testing.T) {
	r := newRelay()
	alice := join(t, r, "alice")
	bob := join(t, r, "bob")

	alice.lossy.drop.Store(true)
	alice.draw(t, [2]float64{10, 10}, [2]float64{90, 40})
	bob.waitOps(t, 1)
	require.Eventually(t, func() bool { return r.Stats()["duplicates"] > 0 }, wait, poll)

	alice.lossy.drop.Store(false)
	alice.waitOps(t, 1)
	alice.waitSettled(t)
	require.Equal(t, 1, r.Stats()["commits"])

	ops, err := bob.Operations()
	require.NoError(t, err)
	require.Len(t, ops, 1)
}

func TestUndoRequiresOwnership(t *testing.T) {
	r := newRelay()
	alice := join(t, r, "alice")
	bob := join(t, r, "bob")

	alice.draw(t, [2]float64{10, 10}, [2]float64{90, 40})
	ops := bob.waitOps(t, 1)

	require.ErrorIs(t, bob.UndoOp(ops[0].ID), state.ErrPermissionDenied)
	require.ErrorIs(t, bob.Undo(), state.ErrNothingToUndo)
	require.ErrorIs(t, bob.UndoOp(state.OpID{Author: "nobody", Counter: 1}), state.ErrUnknownOperation)

	require.NoError(t, alice.Undo())
	alice.waitOps(t, 2)
	require.ErrorIs(t, alice.Undo(), state.ErrNothingToUndo)
	require.NoError(t, alice.Redo())
	bob.waitOps(t, 3)
	visible, err := bob.Visible()
	require.NoError(t, err)
	require.Equal(t, []state.OpID{ops[0].ID}, ids(visible))
}

func TestIncrementalRenderMatchesReplay(t *testing.T) {
	r := newRelay()
	alice := join(t, r, "alice")
	bob := join(t, r, "bob")

	alice.draw(t, [2]float64{10, 10}, [2]float64{100, 60}, [2]float64{180, 20})
	require.NoError(t, bob.SetTool(state.ToolState{Tool: state.ToolShape, Color: "#FF5252", Width: 3}))
	bob.draw(t, [2]float64{40, 30}, [2]float64{140, 100})
	require.NoError(t, alice.SetTool(state.ToolState{Tool: state.ToolEraser, Color: "#FFFFFF", Width: 12}))
	alice.draw(t, [2]float64{60, 20}, [2]float64{60, 110})
	require.NoError(t, bob.SetTool(state.ToolState{Tool: state.ToolText, Color: "#FFEB3B", Width: 2}))
	require.NoError(t, bob.PlaceText(state.Point{X: 20, Y: 100}, "hi"))
	alice.waitOps(t, 4)
	require.NoError(t, alice.Undo())
	alice.waitOps(t, 5)
	bob.waitOps(t, 5)
	require.NoError(t, bob.Undo())
	bob.waitOps(t, 6)
	require.NoError(t, alice.Redo())

	alice.waitOps(t, 7)
	bob.waitOps(t, 7)
	requireReplayMatches(t, alice)
	requireReplayMatches(t, bob)
}

func TestPresencePropagates(t *testing.T) {
	r := newRelay()
	alice := join(t, r, "alice")
	bob := join(t, r, "bob")

	eraser := state.ToolState{Tool: state.ToolEraser, Color: "#FF5252", Width: 8}
	require.NoError(t, bob.SetTool(eraser))
	require.NoError(t, bob.Hover(42, 24))

	require.Eventually(t, func() bool {
		participants, err := alice.Participants()
		if err != nil {
			return false
		}
		for _, ps := range participants {
			if ps.ID == "bob" {
				return ps.ActiveTool == eraser && ps.Cursor != nil && ps.Cursor.X == 42
			}
		}
		return false
	}, wait, poll)

	require.NoError(t, bob.CloseBoard())
	require.ErrorIs(t, bob.Undo(), client.ErrNotOpen)
	require.Eventually(t, func() bool {
		participants, err := alice.Participants()
		if err != nil {
			return false
		}
		for _, ps := range participants {
			if ps.ID == "bob" {
				return false
			}
		}
		return true
	}, wait, poll)
}

func TestOpenBoardTwice(t *testing.T) {
	r := newRelay()
	alice := join(t, r, "alice")
	require.ErrorIs(t, alice.OpenBoard(context.Background(), "other"), client.ErrBoardOpen)
	require.Equal(t, boardID, alice.BoardID())
	require.NotNil(t, alice.Frame())
}

func TestLimitsFollowConfig(t *testing.T) {
	t.Cleanup(core.ResetConfig)
	require.NoError(t, core.LoadConfigString("[board]\nmax_width = 40\n"))

	c := client.New(client.OptionsFromConfig(core.ReadConfig()), nil, client.Callbacks{})
	require.Equal(t, 40.0, c.Limits().MaxWidth)
	require.Equal(t, state.DefaultLimits().MaxPoints, c.Limits().MaxPoints)
}
