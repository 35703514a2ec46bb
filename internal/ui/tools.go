package ui

import (
	"fmt"
	"image/color"
	"strings"

	"LiveBoard/internal/export"
	"LiveBoard/internal/presence"
	"LiveBoard/internal/state"

	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/canvas"
	"fyne.io/fyne/v2/container"
	"fyne.io/fyne/v2/dialog"
	"fyne.io/fyne/v2/layout"
	"fyne.io/fyne/v2/theme"
	"fyne.io/fyne/v2/widget"
)

// --- Custom Widget for Color Swatches ---
type colorSwatch struct {
	widget.BaseWidget
	Hex      string
	Color    color.Color
	OnTapped func(hex string)
}

func newColorSwatch(hex string, tapped func(string)) *colorSwatch {
	c, err := state.ParseColor(hex)
	if err != nil {
		c = color.NRGBA{A: 0xff}
	}
	s := &colorSwatch{Hex: hex, Color: c, OnTapped: tapped}
	s.ExtendBaseWidget(s)
	return s
}

func (s *colorSwatch) CreateRenderer() fyne.WidgetRenderer {
	rect := canvas.NewRectangle(s.Color)
	rect.SetMinSize(fyne.NewSize(28, 28))

	border := canvas.NewRectangle(color.Transparent)
	border.StrokeColor = color.Gray{Y: 150}
	border.StrokeWidth = 1

	return widget.NewSimpleRenderer(container.NewStack(rect, border))
}

func (s *colorSwatch) Tapped(_ *fyne.PointEvent) {
	if s.OnTapped != nil {
		s.OnTapped(s.Hex)
	}
}

var toolNames = []string{"Pen", "Eraser", "Shape", "Text"}

func toolFor(name string) state.Tool {
	return state.Tool(strings.ToLower(name))
}

// --- The Main Toolbar ---
func NewToolbar(board *BoardWidget, win fyne.Window) fyne.CanvasObject {
	update := func(change func(ts *state.ToolState)) {
		ts := board.Tool()
		change(&ts)
		board.report(board.SetTool(ts))
	}

	tools := widget.NewSelect(toolNames, nil)
	tools.SetSelected(toolNames[0])
	tools.OnChanged = func(name string) {
		update(func(ts *state.ToolState) { ts.Tool = toolFor(name) })
	}

	swatches := container.NewHBox()
	for _, hex := range presence.Palette {
		swatches.Add(newColorSwatch(hex, func(hex string) {
			update(func(ts *state.ToolState) { ts.Color = hex })
		}))
	}

	maxWidth := board.Client().Limits().MaxWidth
	if maxWidth < 1 {
		maxWidth = state.DefaultLimits().MaxWidth
	}
	widthSlider := widget.NewSlider(1, maxWidth)
	widthSlider.Step = 1
	widthSlider.SetValue(board.Tool().Width)
	widthSlider.OnChanged = func(val float64) {
		update(func(ts *state.ToolState) { ts.Width = val })
	}
	sliderContainer := container.New(layout.NewGridWrapLayout(fyne.NewSize(140, 35)), widthSlider)

	text := widget.NewEntry()
	text.SetPlaceHolder("Text to place")
	board.TextProvider = func() string { return text.Text }
	textContainer := container.New(layout.NewGridWrapLayout(fyne.NewSize(160, 35)), text)

	actions := widget.NewToolbar(
		widget.NewToolbarAction(theme.ContentUndoIcon(), func() { board.report(board.Client().Undo()) }),
		widget.NewToolbarAction(theme.ContentRedoIcon(), func() { board.report(board.Client().Redo()) }),
		widget.NewToolbarAction(theme.DeleteIcon(), func() {
			dialog.ShowConfirm("Clear board", "Clear the board for everyone?", func(ok bool) {
				if ok {
					board.report(board.Client().Clear())
				}
			}, win)
		}),
		widget.NewToolbarSeparator(),
		widget.NewToolbarAction(theme.DocumentSaveIcon(), func() { saveLog(board, win) }),
		widget.NewToolbarAction(theme.FileImageIcon(), func() { savePNG(board, win) }),
	)

	return container.NewHBox(
		widget.NewLabel("Tool:"),
		tools,
		widget.NewSeparator(),
		widget.NewLabel("Color:"),
		swatches,
		widget.NewSeparator(),
		widget.NewLabel("Size:"),
		sliderContainer,
		textContainer,
		widget.NewSeparator(),
		actions,
		layout.NewSpacer(),
	)
}

// saveLog writes the committed operation log.
func saveLog(board *BoardWidget, win fyne.Window) {
	ops, err := board.Client().Operations()
	if err != nil {
		dialog.ShowError(err, win)
		return
	}
	data, err := export.SerializeBoard(ops)
	if err != nil {
		dialog.ShowError(err, win)
		return
	}
	save := dialog.NewFileSave(func(writer fyne.URIWriteCloser, err error) {
		if err != nil || writer == nil {
			return
		}
		defer writer.Close()
		if _, err := writer.Write(data); err != nil {
			dialog.ShowError(err, win)
			return
		}
		board.SetStatus(fmt.Sprintf("Saved %d operations", len(ops)))
	}, win)
	save.SetFileName(board.Client().BoardID() + ".json")
	save.Show()
}

func savePNG(board *BoardWidget, win fyne.Window) {
	frame := board.Client().Frame()
	if frame == nil {
		return
	}
	save := dialog.NewFileSave(func(writer fyne.URIWriteCloser, err error) {
		if err != nil || writer == nil {
			return
		}
		defer writer.Close()
		if err := export.WritePNG(writer, frame); err != nil {
			dialog.ShowError(err, win)
			return
		}
		board.SetStatus("Exported " + writer.URI().Name())
	}, win)
	save.SetFileName(board.Client().BoardID() + ".png")
	save.Show()
}
