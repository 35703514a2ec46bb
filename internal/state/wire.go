package state

import (
	"encoding/json"
	"fmt"
	"math"
)

// wireOperation is the compact JSON form of an Operation. Points travel as a
// flat [x0, y0, t0, x1, y1, t1, ...] array.
type wireOperation struct {
	ID        OpID        `json:"id"`
	Sequence  uint64      `json:"seq,omitempty"`
	AuthorID  string      `json:"author"`
	Kind      Kind        `json:"kind"`
	Stroke    *wireStroke `json:"stroke,omitempty"`
	Target    *OpID       `json:"target,omitempty"`
	CausalRef uint64      `json:"ref,omitempty"`
}

type wireStroke struct {
	Tool      Tool      `json:"tool"`
	Color     string    `json:"color"`
	Width     float64   `json:"width"`
	Composite Composite `json:"mode"`
	StartedAt int64     `json:"t0"`
	Points    []float64 `json:"pts"`
	Text      string    `json:"text,omitempty"`
}

const pointStride = 3

// maxExactMillis keeps point offsets exactly representable as float64.
const maxExactMillis = 1 << 53

func (op Operation) MarshalJSON() ([]byte, error) {
	w := wireOperation{
		ID:        op.ID,
		Sequence:  op.Sequence,
		AuthorID:  op.AuthorID,
		Kind:      op.Kind,
		CausalRef: op.CausalRef,
	}
	if !op.Target.IsZero() {
		target := op.Target
		w.Target = &target
	}
	if s := op.Stroke; s != nil {
		flat := make([]float64, 0, len(s.Points)*pointStride)
		for _, p := range s.Points {
			flat = append(flat, p.X, p.Y, float64(p.T))
		}
		w.Stroke = &wireStroke{
			Tool:      s.Tool,
			Color:     s.Color,
			Width:     s.Width,
			Composite: s.Composite,
			StartedAt: s.StartedAt,
			Points:    flat,
			Text:      s.Text,
		}
	}
	return json.Marshal(w)
}

func (op *Operation) UnmarshalJSON(data []byte) error {
	var w wireOperation
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	decoded := Operation{
		ID:        w.ID,
		Sequence:  w.Sequence,
		AuthorID:  w.AuthorID,
		Kind:      w.Kind,
		CausalRef: w.CausalRef,
	}
	if w.Target != nil {
		decoded.Target = *w.Target
	}
	if ws := w.Stroke; ws != nil {
		if len(ws.Points)%pointStride != 0 {
			return fmt.Errorf("stroke of %s: %d coordinates is not a multiple of %d", w.ID, len(ws.Points), pointStride)
		}
		var points []Point
		if n := len(ws.Points) / pointStride; n > 0 {
			points = make([]Point, n)
			for i := range points {
				t := ws.Points[i*pointStride+2]
				if t != math.Trunc(t) || math.Abs(t) > maxExactMillis {
					return fmt.Errorf("stroke of %s: point %d has a malformed timestamp", w.ID, i)
				}
				points[i] = Point{X: ws.Points[i*pointStride], Y: ws.Points[i*pointStride+1], T: int64(t)}
			}
		}
		decoded.Stroke = &Stroke{
			Tool:      ws.Tool,
			Color:     ws.Color,
			Width:     ws.Width,
			Composite: ws.Composite,
			StartedAt: ws.StartedAt,
			Points:    points,
			Text:      ws.Text,
		}
	}
	*op = decoded
	return nil
}

// EncodeOperation returns the wire form of op.
func EncodeOperation(op Operation) ([]byte, error) {
	return json.Marshal(op)
}

// DecodeOperation parses the wire form of an operation.
func DecodeOperation(data []byte) (Operation, error) {
	var op Operation
	if err := json.Unmarshal(data, &op); err != nil {
		return Operation{}, fmt.Errorf("decode operation: %w", err)
	}
	return op, nil
}
