package ui

import (
	"fmt"
	"image/color"
	"sync"
	"time"

	"LiveBoard/internal/capture"
	"LiveBoard/internal/client"
	"LiveBoard/internal/core"
	"LiveBoard/internal/render"
	"LiveBoard/internal/state"
	"LiveBoard/internal/syncer"

	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/canvas"
	"fyne.io/fyne/v2/driver/desktop"
	"fyne.io/fyne/v2/widget"
	"github.com/apex/log"
)

var background = color.NRGBA{R: 0x1e, G: 0x1e, B: 0x24, A: 0xff}

const cursorRadius = 5

// BoardWidget shows the client's frame and feeds it pointer input. Board
// coordinates are fyne units offset by the pan.
type BoardWidget struct {
	widget.BaseWidget
	client *client.Client

	mu           sync.RWMutex
	participants []state.ParticipantState
	tool         state.ToolState
	panX, panY   float32
	drawing      bool
	last         fyne.Position

	// TextProvider supplies the text placed by the text tool.
	TextProvider func() string

	image     *canvas.Image
	statusBar *widget.Label
	log       *log.Entry
}

var _ fyne.Widget = (*BoardWidget)(nil)
var _ fyne.Draggable = (*BoardWidget)(nil)
var _ desktop.Mouseable = (*BoardWidget)(nil)
var _ desktop.Hoverable = (*BoardWidget)(nil)

func NewBoardWidget() *BoardWidget {
	b := &BoardWidget{
		tool:      state.DefaultToolState(),
		statusBar: widget.NewLabel("Connecting..."),
		log:       core.Logger("ui"),
	}
	b.image = canvas.NewImageFromImage(nil)
	b.image.FillMode = canvas.ImageFillStretch
	b.image.ScaleMode = canvas.ImageScalePixels
	b.ExtendBaseWidget(b)
	return b
}

// Callbacks returns the client callbacks that keep the widget current. They
// hop onto the fyne thread.
func (b *BoardWidget) Callbacks() client.Callbacks {
	return client.Callbacks{
		OnFrame: func([]render.Rect) {
			fyne.Do(b.refreshFrame)
		},
		OnPresenceChanged: func(participants []state.ParticipantState) {
			b.mu.Lock()
			b.participants = participants
			b.mu.Unlock()
			fyne.Do(b.Refresh)
		},
		OnStatus: func(status syncer.Phase, err error) {
			text := "Board " + status.String()
			if err != nil {
				text = fmt.Sprintf("%s: %v", text, err)
			}
			fyne.Do(func() { b.statusBar.SetText(text) })
		},
	}
}

// Attach binds the widget to the client it displays.
func (b *BoardWidget) Attach(c *client.Client) {
	b.client = c
}

func (b *BoardWidget) Client() *client.Client {
	return b.client
}

func (b *BoardWidget) StatusBar() *widget.Label {
	return b.statusBar
}

func (b *BoardWidget) SetStatus(text string) {
	fyne.Do(func() { b.statusBar.SetText(text) })
}

func (b *BoardWidget) Tool() state.ToolState {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.tool
}

// SetTool changes the active tool, color or width.
func (b *BoardWidget) SetTool(ts state.ToolState) error {
	if err := b.client.SetTool(ts); err != nil {
		return err
	}
	b.mu.Lock()
	b.tool = ts
	b.mu.Unlock()
	return nil
}

func (b *BoardWidget) refreshFrame() {
	if b.client == nil {
		return
	}
	frame := b.client.Frame()
	if frame == nil {
		return
	}
	b.image.Image = frame
	b.image.Refresh()
	b.Refresh()
}

func (b *BoardWidget) toBoard(pos fyne.Position) state.Point {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return state.Point{X: float64(pos.X - b.panX), Y: float64(pos.Y - b.panY)}
}

func (b *BoardWidget) pointer(pos fyne.Position) capture.PointerEvent {
	p := b.toBoard(pos)
	return capture.PointerEvent{PointerID: 1, X: p.X, Y: p.Y, At: time.Now()}
}

func (b *BoardWidget) report(err error) {
	if err != nil {
		b.log.WithError(err).Warn("board action failed")
		b.SetStatus(err.Error())
	}
}

func (b *BoardWidget) MouseDown(e *desktop.MouseEvent) {
	if e.Button != desktop.MouseButtonPrimary || b.client == nil {
		return
	}
	if b.Tool().Tool == state.ToolText {
		b.placeText(e.Position)
		return
	}
	b.mu.Lock()
	b.drawing = true
	b.last = e.Position
	b.mu.Unlock()
	b.report(b.client.PointerDown(b.pointer(e.Position)))
}

func (b *BoardWidget) MouseUp(e *desktop.MouseEvent) {
	if e.Button != desktop.MouseButtonPrimary {
		return
	}
	b.release(e.Position)
}

func (b *BoardWidget) Dragged(e *fyne.DragEvent) {
	b.mu.Lock()
	drawing := b.drawing
	if drawing {
		b.last = e.Position
	} else {
		b.panX += e.Dragged.DX
		b.panY += e.Dragged.DY
	}
	b.mu.Unlock()
	if drawing {
		b.report(b.client.PointerMove(b.pointer(e.Position)))
		return
	}
	b.Refresh()
}

func (b *BoardWidget) DragEnd() {
	b.mu.RLock()
	last := b.last
	b.mu.RUnlock()
	b.release(last)
}

func (b *BoardWidget) release(pos fyne.Position) {
	b.mu.Lock()
	drawing := b.drawing
	b.drawing = false
	b.mu.Unlock()
	if drawing {
		b.report(b.client.PointerUp(b.pointer(pos)))
	}
}

func (b *BoardWidget) MouseIn(*desktop.MouseEvent) {}

func (b *BoardWidget) MouseMoved(e *desktop.MouseEvent) {
	if b.client == nil {
		return
	}
	p := b.toBoard(e.Position)
	b.report(b.client.Hover(p.X, p.Y))
}

func (b *BoardWidget) MouseOut() {
	b.mu.Lock()
	drawing := b.drawing
	b.drawing = false
	last := b.last
	b.mu.Unlock()
	if drawing {
		b.report(b.client.PointerLeave(b.pointer(last)))
	}
}

func (b *BoardWidget) Scrolled(e *fyne.ScrollEvent) {
	b.mu.Lock()
	b.panX += e.Scrolled.DX
	b.panY += e.Scrolled.DY
	b.mu.Unlock()
	b.Refresh()
}

func (b *BoardWidget) placeText(pos fyne.Position) {
	if b.TextProvider == nil {
		return
	}
	text := b.TextProvider()
	if text == "" {
		b.SetStatus("Type some text first")
		return
	}
	b.report(b.client.PlaceText(b.toBoard(pos), text))
}

func (b *BoardWidget) CreateRenderer() fyne.WidgetRenderer {
	r := &boardWidgetRenderer{board: b}
	r.background = canvas.NewRectangle(background)
	return r
}

type boardWidgetRenderer struct {
	board      *BoardWidget
	background *canvas.Rectangle
}

func (r *boardWidgetRenderer) Objects() []fyne.CanvasObject {
	b := r.board
	b.mu.RLock()
	defer b.mu.RUnlock()

	objects := []fyne.CanvasObject{r.background, b.image}
	self := ""
	if b.client != nil {
		self = b.client.Participant()
		if frame := b.client.Frame(); frame != nil {
			bounds := frame.Bounds()
			b.image.Move(fyne.NewPos(b.panX, b.panY))
			b.image.Resize(fyne.NewSize(float32(bounds.Dx()), float32(bounds.Dy())))
		}
	}
	for _, p := range b.participants {
		if p.ID == self || p.Cursor == nil {
			continue
		}
		c, err := state.ParseColor(p.Color)
		if err != nil {
			continue
		}
		x := float32(p.Cursor.X) + b.panX
		y := float32(p.Cursor.Y) + b.panY
		dot := canvas.NewCircle(c)
		dot.Move(fyne.NewPos(x-cursorRadius, y-cursorRadius))
		dot.Resize(fyne.NewSize(2*cursorRadius, 2*cursorRadius))
		name := p.DisplayName
		if name == "" {
			name = p.ID
		}
		label := canvas.NewText(name, c)
		label.TextSize = 11
		label.Move(fyne.NewPos(x+cursorRadius+2, y-cursorRadius))
		objects = append(objects, dot, label)
	}
	return objects
}

func (r *boardWidgetRenderer) Refresh() {
	canvas.Refresh(r.board)
}

func (r *boardWidgetRenderer) Destroy() {}

func (r *boardWidgetRenderer) Layout(size fyne.Size) {
	r.background.Resize(size)
}

func (r *boardWidgetRenderer) MinSize() fyne.Size {
	return fyne.NewSize(300, 300)
}
