package state

import (
	"fmt"
	"slices"
	"strconv"
	"strings"
)

// Point is one sampled pointer position. T is the offset in milliseconds
// from the start of the stroke.
type Point struct {
	X, Y float64
	T    int64
}

type Tool string

const (
	ToolPen    Tool = "pen"
	ToolEraser Tool = "eraser"
	ToolShape  Tool = "shape"
	ToolText   Tool = "text"
)

// Composite selects how a stroke is combined with the pixels under it.
type Composite string

const (
	CompositeNormal         Composite = "normal"
	CompositeDestinationOut Composite = "destination-out"
)

// Stroke is the payload of StrokeAdded and StrokeErased operations.
type Stroke struct {
	Tool      Tool
	Color     string
	Width     float64
	Composite Composite
	StartedAt int64 // unix milliseconds
	Points    []Point
	Text      string // text tool only, anchored at Points[0]
}

type Kind string

const (
	KindStrokeAdded  Kind = "stroke_added"
	KindStrokeErased Kind = "stroke_erased"
	KindBoardCleared Kind = "board_cleared"
	KindStrokeUndone Kind = "stroke_undone"
	KindStrokeRedone Kind = "stroke_redone"
)

// IsStroke reports whether operations of this kind draw on the board.
func (k Kind) IsStroke() bool {
	return k == KindStrokeAdded || k == KindStrokeErased
}

// OpID identifies an operation globally: the author's participant id plus
// the author's local counter.
type OpID struct {
	Author  string
	Counter uint64
}

func (id OpID) IsZero() bool {
	return id.Author == "" && id.Counter == 0
}

func (id OpID) String() string {
	if id.IsZero() {
		return ""
	}
	return id.Author + "#" + strconv.FormatUint(id.Counter, 10)
}

// ParseOpID parses the textual form produced by OpID.String. The author part
// may itself contain '#'; the counter follows the last one.
func ParseOpID(s string) (OpID, error) {
	if s == "" {
		return OpID{}, nil
	}
	i := strings.LastIndexByte(s, '#')
	if i <= 0 || i == len(s)-1 {
		return OpID{}, fmt.Errorf("malformed operation id %q", s)
	}
	counter, err := strconv.ParseUint(s[i+1:], 10, 64)
	if err != nil {
		return OpID{}, fmt.Errorf("malformed operation id %q: %w", s, err)
	}
	return OpID{Author: s[:i], Counter: counter}, nil
}

func (id OpID) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

func (id *OpID) UnmarshalText(text []byte) error {
	parsed, err := ParseOpID(string(text))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

// Operation is one atomic, immutable change to a board. Sequence is zero
// until the relay commits the operation.
type Operation struct {
	ID        OpID
	Sequence  uint64
	AuthorID  string
	Kind      Kind
	Stroke    *Stroke // StrokeAdded, StrokeErased
	Target    OpID    // StrokeUndone, StrokeRedone
	CausalRef uint64
}

func (op Operation) Committed() bool {
	return op.Sequence > 0
}

// SameAs reports whether op and other carry the same change, whatever
// their sequences.
func (op Operation) SameAs(other Operation) bool {
	if op.ID != other.ID || op.AuthorID != other.AuthorID || op.Kind != other.Kind ||
		op.Target != other.Target || op.CausalRef != other.CausalRef {
		return false
	}
	if op.Stroke == nil || other.Stroke == nil {
		return op.Stroke == nil && other.Stroke == nil
	}
	a, b := op.Stroke, other.Stroke
	return a.Tool == b.Tool && a.Color == b.Color && a.Width == b.Width &&
		a.Composite == b.Composite && a.StartedAt == b.StartedAt &&
		a.Text == b.Text && slices.Equal(a.Points, b.Points)
}

// WithSequence returns a copy of op committed at seq.
func (op Operation) WithSequence(seq uint64) Operation {
	op.Sequence = seq
	return op
}

// ToolState is a participant's current drawing selection.
type ToolState struct {
	Tool  Tool    `json:"tool"`
	Color string  `json:"color"`
	Width float64 `json:"width"`
}

// DefaultToolState mirrors the whiteboard's initial selection.
func DefaultToolState() ToolState {
	return ToolState{Tool: ToolPen, Color: "#FFFFFF", Width: 5}
}

// ParticipantState is what a client knows about one participant.
type ParticipantState struct {
	ID          string
	DisplayName string
	Color       string
	ActiveTool  ToolState
	Cursor      *Point
	UndoStack   []OpID // most recent first
	RedoStack   []OpID // most recent first
}
