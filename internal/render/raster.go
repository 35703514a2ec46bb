package render

import (
	"image"
	"image/draw"
	"math"

	"LiveBoard/internal/state"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
	"golang.org/x/image/vector"
)

// drawStroke rasterizes s onto dst. Only pixels inside the stroke's bounds
// are read or written.
func drawStroke(dst *image.RGBA, s *state.Stroke) image.Rectangle {
	bounds := StrokeBounds(s).Pixels(dst.Rect.Dx(), dst.Rect.Dy())
	if bounds.Empty() {
		return bounds
	}
	c, err := state.ParseColor(s.Color)
	if err != nil {
		// committed operations are validated; nothing sensible to draw
		return image.Rectangle{}
	}

	mask := coverage(s, bounds)
	if s.Composite == state.CompositeDestinationOut {
		eraseMasked(dst, bounds, mask)
	} else {
		draw.DrawMask(dst, bounds, image.NewUniform(c), image.Point{}, mask, image.Point{}, draw.Over)
	}
	return bounds
}

// coverage returns the stroke's alpha mask for the pixel area r. The mask
// origin corresponds to r.Min.
func coverage(s *state.Stroke, r image.Rectangle) *image.Alpha {
	mask := image.NewAlpha(image.Rect(0, 0, r.Dx(), r.Dy()))
	if s.Tool == state.ToolText {
		d := font.Drawer{
			Dst:  mask,
			Src:  image.Opaque,
			Face: basicfont.Face7x13,
			Dot: fixed.P(
				int(math.Round(s.Points[0].X))-r.Min.X,
				int(math.Round(s.Points[0].Y))-r.Min.Y,
			),
		}
		d.DrawString(s.Text)
		return mask
	}

	z := vector.NewRasterizer(r.Dx(), r.Dy())
	z.DrawOp = draw.Src
	off := func(p state.Point) state.Point {
		return state.Point{X: p.X - float64(r.Min.X), Y: p.Y - float64(r.Min.Y)}
	}
	pts := s.Points
	if s.Tool == state.ToolShape {
		a, b := pts[0], pts[len(pts)-1]
		pts = []state.Point{a, {X: b.X, Y: a.Y}, b, {X: a.X, Y: b.Y}, a}
	}
	radius := s.Width / 2
	for i, p := range pts {
		circle(z, off(p), radius)
		if i > 0 {
			segment(z, off(pts[i-1]), off(p), radius)
		}
	}
	z.Draw(mask, mask.Bounds(), image.Opaque, image.Point{})
	return mask
}

// eraseMasked scales every premultiplied channel of dst by the inverse of
// the mask coverage.
func eraseMasked(dst *image.RGBA, r image.Rectangle, mask *image.Alpha) {
	for y := 0; y < r.Dy(); y++ {
		row := dst.PixOffset(r.Min.X, r.Min.Y+y)
		for x := 0; x < r.Dx(); x++ {
			m := mask.Pix[y*mask.Stride+x]
			if m == 0 {
				continue
			}
			keep := 255 - uint32(m)
			px := dst.Pix[row+4*x : row+4*x+4 : row+4*x+4]
			for i := range px {
				px[i] = uint8((uint32(px[i])*keep + 127) / 255)
			}
		}
	}
}

// The rasterizer sums signed areas, so every polygon is emitted with the
// same orientation and overlaps saturate instead of cancelling out.
func polygon(z *vector.Rasterizer, pts []state.Point) {
	if len(pts) < 3 {
		return
	}
	if signedArea(pts) < 0 {
		for i, j := 0, len(pts)-1; i < j; i, j = i+1, j-1 {
			pts[i], pts[j] = pts[j], pts[i]
		}
	}
	z.MoveTo(float32(pts[0].X), float32(pts[0].Y))
	for _, p := range pts[1:] {
		z.LineTo(float32(p.X), float32(p.Y))
	}
	z.ClosePath()
}

func signedArea(pts []state.Point) float64 {
	var a float64
	for i := range pts {
		p, q := pts[i], pts[(i+1)%len(pts)]
		a += p.X*q.Y - q.X*p.Y
	}
	return a / 2
}

// circle approximates a round cap or join.
func circle(z *vector.Rasterizer, c state.Point, radius float64) {
	n := int(math.Ceil(radius * 2))
	if n < 12 {
		n = 12
	}
	pts := make([]state.Point, n)
	for i := range pts {
		a := 2 * math.Pi * float64(i) / float64(n)
		pts[i] = state.Point{X: c.X + radius*math.Cos(a), Y: c.Y + radius*math.Sin(a)}
	}
	polygon(z, pts)
}

// segment emits the body of one line segment of the given half width.
func segment(z *vector.Rasterizer, a, b state.Point, radius float64) {
	dx, dy := b.X-a.X, b.Y-a.Y
	length := math.Hypot(dx, dy)
	if length == 0 {
		return
	}
	nx, ny := -dy/length*radius, dx/length*radius
	polygon(z, []state.Point{
		{X: a.X + nx, Y: a.Y + ny},
		{X: b.X + nx, Y: b.Y + ny},
		{X: b.X - nx, Y: b.Y - ny},
		{X: a.X - nx, Y: a.Y - ny},
	})
}
