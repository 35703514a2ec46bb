package render

import (
	"image"
	"math"

	"LiveBoard/internal/state"
	"LiveBoard/internal/utils/comparison"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
)

// Rect is an axis-aligned area of the board in canvas coordinates.
type Rect struct {
	X      float64
	Y      float64
	Width  float64
	Height float64
}

func (r Rect) Empty() bool {
	return r.Width <= 0 || r.Height <= 0
}

// Overlaps reports whether the two areas share at least an edge.
func (r Rect) Overlaps(o Rect) bool {
	return !(r.X+r.Width < o.X || o.X+o.Width < r.X ||
		r.Y+r.Height < o.Y || o.Y+o.Height < r.Y)
}

func (r Rect) Contains(p state.Point) bool {
	return p.X >= r.X && p.X <= r.X+r.Width &&
		p.Y >= r.Y && p.Y <= r.Y+r.Height
}

// Union returns the smallest area covering both.
func (r Rect) Union(o Rect) Rect {
	if r.Empty() {
		return o
	}
	if o.Empty() {
		return r
	}
	minX := comparison.Min(r.X, o.X)
	minY := comparison.Min(r.Y, o.Y)
	maxX := comparison.Max(r.X+r.Width, o.X+o.Width)
	maxY := comparison.Max(r.Y+r.Height, o.Y+o.Height)
	return Rect{X: minX, Y: minY, Width: maxX - minX, Height: maxY - minY}
}

// Pixels returns the pixel rectangle covering r, clipped to a w×h canvas.
func (r Rect) Pixels(w, h int) image.Rectangle {
	if r.Empty() {
		return image.Rectangle{}
	}
	x0 := comparison.Clamp(int(math.Floor(r.X)), 0, w)
	y0 := comparison.Clamp(int(math.Floor(r.Y)), 0, h)
	x1 := comparison.Clamp(int(math.Ceil(r.X+r.Width)), 0, w)
	y1 := comparison.Clamp(int(math.Ceil(r.Y+r.Height)), 0, h)
	return image.Rect(x0, y0, x1, y1)
}

// StrokeBounds returns the area a stroke can touch once rasterized,
// including its caps and one pixel of antialiasing.
func StrokeBounds(s *state.Stroke) Rect {
	if s == nil || len(s.Points) == 0 {
		return Rect{}
	}
	if s.Tool == state.ToolText {
		return textBounds(s)
	}
	points := s.Points
	if s.Tool == state.ToolShape {
		points = []state.Point{points[0], points[len(points)-1]}
	}

	minX, minY := points[0].X, points[0].Y
	maxX, maxY := points[0].X, points[0].Y
	for _, p := range points {
		minX = comparison.Min(minX, p.X)
		maxX = comparison.Max(maxX, p.X)
		minY = comparison.Min(minY, p.Y)
		maxY = comparison.Max(maxY, p.Y)
	}

	padding := s.Width/2 + 1
	return Rect{
		X:      minX - padding,
		Y:      minY - padding,
		Width:  maxX - minX + 2*padding,
		Height: maxY - minY + 2*padding,
	}
}

func textBounds(s *state.Stroke) Rect {
	face := basicfont.Face7x13
	advance := font.MeasureString(face, s.Text)
	x, y := math.Round(s.Points[0].X), math.Round(s.Points[0].Y)
	return Rect{
		X:      x,
		Y:      y - float64(face.Ascent),
		Width:  float64(advance.Ceil()),
		Height: float64(face.Ascent + face.Descent),
	}
}

// DirtyRegions accumulates the areas changed since the last Take. Areas
// that overlap are merged so a burst of nearby strokes yields one region.
type DirtyRegions struct {
	regions []Rect
}

func (d *DirtyRegions) Add(r Rect) {
	if r.Empty() {
		return
	}
	for {
		merged := false
		for i, existing := range d.regions {
			if existing.Overlaps(r) {
				r = existing.Union(r)
				d.regions = append(d.regions[:i], d.regions[i+1:]...)
				merged = true
				break
			}
		}
		if !merged {
			break
		}
	}
	d.regions = append(d.regions, r)
}

func (d *DirtyRegions) Any() bool {
	return len(d.regions) > 0
}

// Take returns the accumulated regions and resets the set.
func (d *DirtyRegions) Take() []Rect {
	regions := d.regions
	d.regions = nil
	return regions
}
