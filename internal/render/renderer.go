package render

import (
	"image"
	"image/draw"

	"LiveBoard/internal/core"
	"LiveBoard/internal/state"

	"github.com/apex/log"
	"github.com/cespare/xxhash"
)

// Render draws the effective visible set of ops[:upTo] on a fresh w×h
// raster. It depends on nothing but its arguments.
func Render(ops []state.Operation, upTo uint64, w, h int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for _, op := range state.VisibleSet(ops, upTo) {
		drawStroke(img, op.Stroke)
	}
	return img
}

// Checksum hashes the pixels of img.
func Checksum(img *image.RGBA) uint64 {
	return xxhash.Sum64(img.Pix)
}

// checkpoint holds the pixels a stroke covered before it was drawn.
type checkpoint struct {
	id     state.OpID
	rect   image.Rectangle
	pixels *image.RGBA
}

// Renderer maintains the committed raster of one board and the optimistic
// overlay drawn on top of it. It is owned by the client event loop.
type Renderer struct {
	width   int
	height  int
	base    *image.RGBA
	saved   *checkpoint
	overlay []state.Operation
	dirty   DirtyRegions
	replays int
	log     *log.Entry
}

func NewRenderer(w, h int) *Renderer {
	return &Renderer{
		width:  w,
		height: h,
		base:   image.NewRGBA(image.Rect(0, 0, w, h)),
		log:    core.Logger("render"),
	}
}

func (r *Renderer) Size() (int, int) {
	return r.width, r.height
}

// Apply brings the raster up to date after op was appended to b with the
// given effect.
func (r *Renderer) Apply(b *state.Board, op state.Operation, e state.Effect) {
	switch e.Kind {
	case state.EffectDraw:
		r.drawTop(op)
	case state.EffectClear:
		r.reset()
		r.dirty.Add(r.canvas())
	case state.EffectHide:
		if r.saved != nil && r.saved.id == e.Target {
			draw.Draw(r.base, r.saved.rect, r.saved.pixels, r.saved.rect.Min, draw.Src)
			r.dirty.Add(rectOf(r.saved.rect))
			r.saved = nil
			return
		}
		r.Replay(b)
	case state.EffectShow:
		target, ok := b.Get(e.Target)
		if ok && !b.CoveredAbove(e.Target) {
			r.drawTop(target)
			return
		}
		r.Replay(b)
	}
}

// Replay clears the raster and redraws the visible set of b.
func (r *Renderer) Replay(b *state.Board) {
	r.replays++
	r.reset()
	for _, op := range b.Visible() {
		r.drawTop(op)
	}
	r.dirty.Add(r.canvas())
	r.log.WithField("board", b.ID).WithField("head", b.Head()).Debug("full replay")
}

// Replays returns how many full replays the renderer has run.
func (r *Renderer) Replays() int {
	return r.replays
}

func (r *Renderer) reset() {
	r.base = image.NewRGBA(image.Rect(0, 0, r.width, r.height))
	r.saved = nil
}

// drawTop draws op over everything else and keeps what it covered so the
// stroke can be taken off again without a replay.
func (r *Renderer) drawTop(op state.Operation) {
	rect := StrokeBounds(op.Stroke).Pixels(r.width, r.height)
	saved := image.NewRGBA(rect)
	draw.Draw(saved, rect, r.base, rect.Min, draw.Src)
	r.saved = &checkpoint{id: op.ID, rect: rect, pixels: saved}
	drawStroke(r.base, op.Stroke)
	r.dirty.Add(rectOf(rect))
}

// SetOverlay replaces the uncommitted strokes drawn over the committed
// raster. Ops are drawn in the given order.
func (r *Renderer) SetOverlay(ops []state.Operation) {
	for _, op := range r.overlay {
		r.dirty.Add(StrokeBounds(op.Stroke))
	}
	r.overlay = r.overlay[:0]
	for _, op := range ops {
		if op.Stroke == nil {
			continue
		}
		r.overlay = append(r.overlay, op)
		r.dirty.Add(StrokeBounds(op.Stroke))
	}
}

// Frame composes the overlay over the committed raster into a new image.
func (r *Renderer) Frame() *image.RGBA {
	frame := r.Image()
	for _, op := range r.overlay {
		drawStroke(frame, op.Stroke)
	}
	return frame
}

// Image returns a copy of the committed raster.
func (r *Renderer) Image() *image.RGBA {
	img := image.NewRGBA(r.base.Rect)
	copy(img.Pix, r.base.Pix)
	return img
}

// Checksum hashes the committed raster.
func (r *Renderer) Checksum() uint64 {
	return Checksum(r.base)
}

// Dirty reports whether anything changed since the last TakeDirty.
func (r *Renderer) Dirty() bool {
	return r.dirty.Any()
}

// TakeDirty returns the areas changed since the previous call.
func (r *Renderer) TakeDirty() []Rect {
	return r.dirty.Take()
}

func (r *Renderer) canvas() Rect {
	return Rect{Width: float64(r.width), Height: float64(r.height)}
}

func rectOf(p image.Rectangle) Rect {
	return Rect{X: float64(p.Min.X), Y: float64(p.Min.Y), Width: float64(p.Dx()), Height: float64(p.Dy())}
}
