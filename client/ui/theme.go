package ui

import (
	"github.com/gdamore/tcell/v2"

	"lnmsg/events"
)

// Colors - Midnight Commander style
var (
	ColorBg        = tcell.NewRGBColor(0, 0, 128)
	ColorFg        = tcell.NewRGBColor(192, 192, 192)
	ColorBorder    = tcell.NewRGBColor(0, 255, 255)
	ColorTitle     = tcell.NewRGBColor(255, 255, 255)
	ColorHighlight = tcell.NewRGBColor(0, 255, 255)
	ColorStatusBar = tcell.NewRGBColor(0, 128, 128)
	ColorInputBg   = tcell.NewRGBColor(0, 0, 64)
)

// tagFor picks the tview color tag used for an event line.
func tagFor(t events.Type) string {
	switch t {
	case events.MessageSent, events.FileSent:
		return "[yellow]"
	case events.MessageReceived, events.FileReceived:
		return "[aqua]"
	case events.PeerDisconnected, events.Error:
		return "[red]"
	default:
		return "[gray]"
	}
}
