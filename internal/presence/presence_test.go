package presence_test

import (
	"testing"
	"time"

	"LiveBoard/internal/presence"
	"LiveBoard/internal/state"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func TestColorForIsStable(t *testing.T) {
	c := presence.ColorFor("alice")
	require.Contains(t, presence.Palette, c)
	require.Equal(t, c, presence.ColorFor("alice"))
}

func TestManagerExpiry(t *testing.T) {
	m := presence.NewManager(10 * time.Second)
	require.True(t, m.Update(presence.Presence{ParticipantID: "bob", DisplayName: "Bob"}, t0))
	require.True(t, m.Update(presence.Presence{ParticipantID: "alice", DisplayName: "Alice"}, t0))
	require.False(t, m.Update(presence.Presence{
		ParticipantID: "bob",
		Tool:          state.ToolState{Tool: state.ToolEraser, Color: "#FFFFFF", Width: 9},
		Cursor:        &presence.Cursor{X: 4, Y: 5},
	}, t0.Add(8*time.Second)))

	bob, ok := m.Get("bob")
	require.True(t, ok)
	require.Equal(t, "Bob", bob.DisplayName)
	require.Equal(t, presence.ColorFor("bob"), bob.Color)
	require.Equal(t, state.ToolEraser, bob.Tool.Tool)

	snapshot := m.Snapshot()
	require.Len(t, snapshot, 2)
	require.Equal(t, "alice", snapshot[0].ParticipantID)

	require.Empty(t, m.Expire(t0.Add(10*time.Second)))
	require.Equal(t, []string{"alice"}, m.Expire(t0.Add(11*time.Second)))
	m.Touch("bob", t0.Add(15*time.Second))
	require.Empty(t, m.Expire(t0.Add(20*time.Second)))
	require.True(t, m.Remove("bob"))
	require.False(t, m.Remove("bob"))
	require.Zero(t, m.Len())
}

func TestThrottle(t *testing.T) {
	th := presence.NewThrottle(50*time.Millisecond, 3*time.Second)
	p := func(x float64) presence.Presence {
		return presence.Presence{ParticipantID: "alice", Cursor: &presence.Cursor{X: x}}
	}

	sent, ok := th.Offer(p(1), t0)
	require.True(t, ok)
	require.Equal(t, 1.0, sent.Cursor.X)

	_, ok = th.Offer(p(2), t0.Add(10*time.Millisecond))
	require.False(t, ok)
	_, ok = th.Offer(p(3), t0.Add(20*time.Millisecond))
	require.False(t, ok)
	_, ok = th.Tick(t0.Add(40 * time.Millisecond))
	require.False(t, ok)

	sent, ok = th.Tick(t0.Add(50 * time.Millisecond))
	require.True(t, ok)
	require.Equal(t, 3.0, sent.Cursor.X)

	_, ok = th.Tick(t0.Add(time.Second))
	require.False(t, ok)
	sent, ok = th.Tick(t0.Add(50*time.Millisecond + 3*time.Second))
	require.True(t, ok, "heartbeat")
	require.Equal(t, 3.0, sent.Cursor.X)
}
