package state_test

import (
	"image/color"
	"math"
	"testing"

	"LiveBoard/internal/state"
	"github.com/stretchr/testify/require"
)

func penStroke() state.Operation {
	return state.Operation{
		ID:       state.OpID{Author: "alice", Counter: 1},
		AuthorID: "alice",
		Kind:     state.KindStrokeAdded,
		Stroke: &state.Stroke{
			Tool: state.ToolPen, Color: "#4CAF50", Width: 5, Composite: state.CompositeNormal,
			Points: []state.Point{{X: 1, Y: 2}},
		},
	}
}

func TestValidateAcceptsWellFormed(t *testing.T) {
	limits := state.DefaultLimits()
	require.NoError(t, state.Validate(penStroke(), limits))

	erase := penStroke()
	erase.Kind = state.KindStrokeErased
	erase.Stroke.Tool = state.ToolEraser
	erase.Stroke.Composite = state.CompositeDestinationOut
	require.NoError(t, state.Validate(erase, limits))

	text := penStroke()
	text.Stroke.Tool = state.ToolText
	text.Stroke.Text = "hello"
	require.NoError(t, state.Validate(text, limits))

	undo := state.Operation{
		ID: state.OpID{Author: "alice", Counter: 2}, AuthorID: "alice",
		Kind: state.KindStrokeUndone, Target: state.OpID{Author: "alice", Counter: 1},
	}
	require.NoError(t, state.Validate(undo, limits))

	cleared := state.Operation{ID: state.OpID{Author: "bob", Counter: 9}, AuthorID: "bob", Kind: state.KindBoardCleared}
	require.NoError(t, state.Validate(cleared, limits))
}

func TestValidateRejects(t *testing.T) {
	limits := state.DefaultLimits()
	cases := map[string]func(op *state.Operation){
		"no points":        func(op *state.Operation) { op.Stroke.Points = nil },
		"zero width":       func(op *state.Operation) { op.Stroke.Width = 0 },
		"too wide":         func(op *state.Operation) { op.Stroke.Width = limits.MaxWidth + 1 },
		"nan width":        func(op *state.Operation) { op.Stroke.Width = math.NaN() },
		"bad color":        func(op *state.Operation) { op.Stroke.Color = "red" },
		"short color":      func(op *state.Operation) { op.Stroke.Color = "#FFF" },
		"infinite point":   func(op *state.Operation) { op.Stroke.Points[0].X = math.Inf(1) },
		"author mismatch":  func(op *state.Operation) { op.AuthorID = "mallory" },
		"zero counter":     func(op *state.Operation) { op.ID.Counter = 0 },
		"eraser as add":    func(op *state.Operation) { op.Stroke.Tool = state.ToolEraser },
		"pen erasing":      func(op *state.Operation) { op.Kind = state.KindStrokeErased },
		"dest-out drawing": func(op *state.Operation) { op.Stroke.Composite = state.CompositeDestinationOut },
		"empty text":       func(op *state.Operation) { op.Stroke.Tool = state.ToolText },
		"stray text":       func(op *state.Operation) { op.Stroke.Text = "x" },
		"broken utf8 text": func(op *state.Operation) { op.Stroke.Tool = state.ToolText; op.Stroke.Text = "a\xffb" },
		"missing payload":  func(op *state.Operation) { op.Stroke = nil },
		"unknown kind":     func(op *state.Operation) { op.Kind = "stroke_moved" },
		"undo with stroke": func(op *state.Operation) { op.Kind = state.KindStrokeUndone; op.Target = op.ID },
		"too many points": func(op *state.Operation) {
			op.Stroke.Points = make([]state.Point, limits.MaxPoints+1)
		},
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			op := penStroke()
			mutate(&op)
			err := state.Validate(op, limits)
			var verr *state.ValidationError
			require.ErrorAs(t, err, &verr)
			require.False(t, state.Retryable(err))
		})
	}
}

func TestParseColor(t *testing.T) {
	c, err := state.ParseColor("#FF5252")
	require.NoError(t, err)
	require.Equal(t, color.NRGBA{R: 0xff, G: 0x52, B: 0x52, A: 0xff}, c)

	c, err = state.ParseColor("#2196F380")
	require.NoError(t, err)
	require.Equal(t, color.NRGBA{R: 0x21, G: 0x96, B: 0xf3, A: 0x80}, c)

	for _, bad := range []string{"", "#", "2196F3", "#2196F", "#GGGGGG", "#+196F3"} {
		_, err := state.ParseColor(bad)
		require.Error(t, err, bad)
	}
}
