package state

import (
	"fmt"
	"image/color"
	"math"
	"strconv"
	"unicode/utf8"
)

// Limits bound operation payloads.
type Limits struct {
	MaxWidth  float64
	MaxPoints int
	MaxText   int
}

func DefaultLimits() Limits {
	return Limits{MaxWidth: 20, MaxPoints: 4096, MaxText: 256}
}

// Validate checks op against the construction contract. It returns a
// *ValidationError describing the first violation.
func Validate(op Operation, limits Limits) error {
	if op.ID.Author == "" || op.ID.Counter == 0 {
		return invalid("id", "must carry an author and a positive counter")
	}
	if op.AuthorID != op.ID.Author {
		return invalid("authorId", "%q does not match id author %q", op.AuthorID, op.ID.Author)
	}
	switch op.Kind {
	case KindStrokeAdded, KindStrokeErased:
		if !op.Target.IsZero() {
			return invalid("target", "not allowed on %s", op.Kind)
		}
		return validateStroke(op.Kind, op.Stroke, limits)
	case KindStrokeUndone, KindStrokeRedone:
		if op.Stroke != nil {
			return invalid("payload", "not allowed on %s", op.Kind)
		}
		if op.Target.IsZero() {
			return invalid("target", "required on %s", op.Kind)
		}
	case KindBoardCleared:
		if op.Stroke != nil || !op.Target.IsZero() {
			return invalid("payload", "not allowed on %s", op.Kind)
		}
	default:
		return invalid("kind", "unknown kind %q", op.Kind)
	}
	return nil
}

func validateStroke(kind Kind, s *Stroke, limits Limits) error {
	if s == nil {
		return invalid("payload", "required on %s", kind)
	}
	if len(s.Points) == 0 {
		return invalid("points", "must contain at least one point")
	}
	if limits.MaxPoints > 0 && len(s.Points) > limits.MaxPoints {
		return invalid("points", "%d points exceed the maximum of %d", len(s.Points), limits.MaxPoints)
	}
	if math.IsNaN(s.Width) || s.Width <= 0 || s.Width > limits.MaxWidth {
		return invalid("width", "%v is outside (0, %v]", s.Width, limits.MaxWidth)
	}
	if _, err := ParseColor(s.Color); err != nil {
		return invalid("color", "%v", err)
	}
	for _, p := range s.Points {
		if !finite(p.X) || !finite(p.Y) {
			return invalid("points", "coordinates must be finite")
		}
	}

	erasing := kind == KindStrokeErased
	if erasing != (s.Tool == ToolEraser) {
		return invalid("tool", "%s cannot be used with %s", s.Tool, kind)
	}
	switch s.Composite {
	case CompositeNormal:
		if erasing {
			return invalid("composite", "erasing requires %s", CompositeDestinationOut)
		}
	case CompositeDestinationOut:
		if !erasing {
			return invalid("composite", "%s is reserved for erasing", CompositeDestinationOut)
		}
	default:
		return invalid("composite", "unknown mode %q", s.Composite)
	}

	switch s.Tool {
	case ToolPen, ToolEraser, ToolShape:
		if s.Text != "" {
			return invalid("text", "only allowed with the text tool")
		}
	case ToolText:
		if s.Text == "" {
			return invalid("text", "required with the text tool")
		}
		if !utf8.ValidString(s.Text) {
			return invalid("text", "is not valid UTF-8")
		}
		if limits.MaxText > 0 && len(s.Text) > limits.MaxText {
			return invalid("text", "longer than %d bytes", limits.MaxText)
		}
	default:
		return invalid("tool", "unknown tool %q", s.Tool)
	}
	return nil
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// ParseColor parses "#RRGGBB" or "#RRGGBBAA".
func ParseColor(s string) (color.NRGBA, error) {
	if (len(s) != 7 && len(s) != 9) || s[0] != '#' {
		return color.NRGBA{}, fmt.Errorf("%q is not #RRGGBB or #RRGGBBAA", s)
	}
	v, err := strconv.ParseUint(s[1:], 16, 32)
	if err != nil {
		return color.NRGBA{}, fmt.Errorf("%q is not hexadecimal", s)
	}
	if len(s) == 7 {
		v = v<<8 | 0xff
	}
	return color.NRGBA{R: uint8(v >> 24), G: uint8(v >> 16), B: uint8(v >> 8), A: uint8(v)}, nil
}
