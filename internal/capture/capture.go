package capture

import (
	"math"
	"time"

	"LiveBoard/internal/core"
	"LiveBoard/internal/state"

	"github.com/apex/log"
)

// Config bounds the sampling rate of freehand input.
type Config struct {
	MinInterval time.Duration
	MinDistance float64
	Limits      state.Limits
}

func DefaultConfig() Config {
	return Config{
		MinInterval: 8 * time.Millisecond,
		MinDistance: 1.5,
		Limits:      state.DefaultLimits(),
	}
}

// PointerEvent is one pointer sample in canvas coordinates.
type PointerEvent struct {
	PointerID int
	X, Y      float64
	At        time.Time
}

// Engine turns pointer input into stroke operations. It buffers at most one
// stroke at a time and is owned by the client event loop.
type Engine struct {
	cfg      Config
	clock    *state.Clock
	observed func() uint64
	tool     state.ToolState

	drawing  bool
	pointer  int
	started  time.Time
	lastKept time.Time
	stroke   *state.Stroke

	log *log.Entry
}

// NewEngine creates a capture engine issuing ids from clock. observed
// reports the highest committed sequence the participant has seen.
func NewEngine(clock *state.Clock, observed func() uint64, cfg Config) *Engine {
	return &Engine{
		cfg:      cfg,
		clock:    clock,
		observed: observed,
		tool:     state.DefaultToolState(),
		log:      core.Logger("capture").WithField("participant", clock.Author()),
	}
}

// SetTool changes the selection used by the next stroke. A stroke in
// progress keeps the selection it started with.
func (e *Engine) SetTool(ts state.ToolState) error {
	switch ts.Tool {
	case state.ToolPen, state.ToolEraser, state.ToolShape, state.ToolText:
	default:
		return &state.ValidationError{Field: "tool", Reason: "unknown tool " + string(ts.Tool)}
	}
	if _, err := state.ParseColor(ts.Color); err != nil {
		return &state.ValidationError{Field: "color", Reason: err.Error()}
	}
	if !(ts.Width > 0 && ts.Width <= e.cfg.Limits.MaxWidth) {
		return &state.ValidationError{Field: "width", Reason: "out of range"}
	}
	e.tool = ts
	return nil
}

func (e *Engine) Tool() state.ToolState {
	return e.tool
}

func (e *Engine) Drawing() bool {
	return e.drawing
}

// Press opens a stroke buffer. It reports false when the press is ignored:
// another stroke is open or the text tool is active.
func (e *Engine) Press(ev PointerEvent) bool {
	if e.drawing || e.tool.Tool == state.ToolText {
		return false
	}
	e.drawing = true
	e.pointer = ev.PointerID
	e.started = ev.At
	e.lastKept = ev.At

	composite := state.CompositeNormal
	if e.tool.Tool == state.ToolEraser {
		composite = state.CompositeDestinationOut
	}
	e.stroke = &state.Stroke{
		Tool:      e.tool.Tool,
		Color:     e.tool.Color,
		Width:     e.tool.Width,
		Composite: composite,
		StartedAt: ev.At.UnixMilli(),
		Points:    []state.Point{e.point(ev)},
	}
	return true
}

// Move samples the pointer. It reports whether the buffered stroke changed.
func (e *Engine) Move(ev PointerEvent) bool {
	if !e.drawing || ev.PointerID != e.pointer {
		return false
	}
	if ev.At.Sub(e.lastKept) < e.cfg.MinInterval {
		return false
	}
	p := e.point(ev)
	if distance(e.last(), p) < e.cfg.MinDistance {
		return false
	}
	return e.keep(p, ev.At)
}

// Release closes the buffer and returns the finished operation.
func (e *Engine) Release(ev PointerEvent) (state.Operation, bool) {
	if !e.drawing || ev.PointerID != e.pointer {
		return state.Operation{}, false
	}
	if p := e.point(ev); p.X != e.last().X || p.Y != e.last().Y {
		e.keep(p, ev.At)
	}
	return e.finish()
}

// Leave behaves like a release when the pointer leaves the canvas.
func (e *Engine) Leave(ev PointerEvent) (state.Operation, bool) {
	return e.Release(ev)
}

// Cancel drops the open buffer without producing an operation.
func (e *Engine) Cancel(pointerID int) bool {
	if !e.drawing || pointerID != e.pointer {
		return false
	}
	e.reset()
	e.log.Debug("stroke cancelled")
	return true
}

// InFlight returns the open stroke as an uncommitted operation for display.
func (e *Engine) InFlight() (state.Operation, bool) {
	if !e.drawing {
		return state.Operation{}, false
	}
	s := *e.stroke
	s.Points = append([]state.Point(nil), e.stroke.Points...)
	return state.Operation{AuthorID: e.clock.Author(), Kind: kindOf(s.Tool), Stroke: &s}, true
}

// PlaceText builds a one-point text stroke with the active color and width.
func (e *Engine) PlaceText(at state.Point, text string, now time.Time) (state.Operation, error) {
	op := state.Operation{
		AuthorID: e.clock.Author(),
		Kind:     state.KindStrokeAdded,
		Stroke: &state.Stroke{
			Tool:      state.ToolText,
			Color:     e.tool.Color,
			Width:     e.tool.Width,
			Composite: state.CompositeNormal,
			StartedAt: now.UnixMilli(),
			Points:    []state.Point{{X: at.X, Y: at.Y}},
			Text:      text,
		},
	}
	// checked with a placeholder id so a rejected text never consumes a counter
	candidate := op
	candidate.ID = state.OpID{Author: op.AuthorID, Counter: 1}
	if err := state.Validate(candidate, e.cfg.Limits); err != nil {
		return state.Operation{}, err
	}
	op.ID = e.clock.Next()
	op.CausalRef = e.observed()
	return op, nil
}

func (e *Engine) finish() (state.Operation, bool) {
	op := state.Operation{
		AuthorID: e.clock.Author(),
		Kind:     kindOf(e.stroke.Tool),
		Stroke:   e.stroke,
	}
	e.reset()

	candidate := op
	candidate.ID = state.OpID{Author: op.AuthorID, Counter: 1}
	if err := state.Validate(candidate, e.cfg.Limits); err != nil {
		e.log.WithError(err).Warn("dropping stroke")
		return state.Operation{}, false
	}
	op.ID = e.clock.Next()
	op.CausalRef = e.observed()
	return op, true
}

func (e *Engine) keep(p state.Point, at time.Time) bool {
	e.lastKept = at
	pts := e.stroke.Points
	if e.stroke.Tool == state.ToolShape {
		// a rectangle only needs its two corners
		if len(pts) == 1 {
			e.stroke.Points = append(pts, p)
		} else {
			pts[1] = p
		}
		return true
	}
	if len(pts) >= e.cfg.Limits.MaxPoints {
		return false
	}
	e.stroke.Points = append(pts, p)
	return true
}

func (e *Engine) reset() {
	e.drawing = false
	e.stroke = nil
}

func (e *Engine) last() state.Point {
	return e.stroke.Points[len(e.stroke.Points)-1]
}

func (e *Engine) point(ev PointerEvent) state.Point {
	return state.Point{X: ev.X, Y: ev.Y, T: ev.At.Sub(e.started).Milliseconds()}
}

func kindOf(t state.Tool) state.Kind {
	if t == state.ToolEraser {
		return state.KindStrokeErased
	}
	return state.KindStrokeAdded
}

func distance(a, b state.Point) float64 {
	return math.Hypot(b.X-a.X, b.Y-a.Y)
}
