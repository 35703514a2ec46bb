package ui

import (
	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/app"
	"fyne.io/fyne/v2/container"
	"fyne.io/fyne/v2/widget"
)

// RunApp shows the board window and blocks until it is closed. open runs
// once the app exists and before the window is shown; onClose runs before
// the window goes away.
func RunApp(shareLink string, board *BoardWidget, open func() error, onClose func()) error {
	myApp := app.New()
	myWindow := myApp.NewWindow("LiveBoard")
	myWindow.Resize(fyne.NewSize(1280, 860))

	toolbar := NewToolbar(board, myWindow)

	link := widget.NewEntry()
	link.SetText(shareLink)
	copyLink := widget.NewButton("Copy link", func() {
		myWindow.Clipboard().SetContent(shareLink)
		board.SetStatus("Share link copied")
	})
	footer := container.NewBorder(nil, nil, board.StatusBar(), copyLink, link)

	content := container.NewBorder(toolbar, footer, nil, nil, board)
	myWindow.SetContent(content)

	if err := open(); err != nil {
		return err
	}
	board.refreshFrame()
	myWindow.SetOnClosed(func() {
		if onClose != nil {
			onClose()
		}
	})
	myWindow.ShowAndRun()
	return nil
}
