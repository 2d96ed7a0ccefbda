package ui

import (
	"strings"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"
)

func (a *App) showHelp() {
	var b strings.Builder
	b.WriteString("\n [yellow]Commands[-]\n")
	b.WriteString(" ───────────────────────────────────────────────────────────────\n")
	for _, line := range HelpLines() {
		b.WriteString("   " + tview.Escape(line) + "\n")
	}
	b.WriteString("\n [yellow]Keys[-]\n")
	b.WriteString(" ───────────────────────────────────────────────────────────────\n")
	b.WriteString("   [white]Enter[-]    Send message or command\n")
	b.WriteString("   [white]PgUp/Dn[-]  Scroll the conversation\n")
	b.WriteString("   [white]Esc[-]      Say goodbye and quit\n")

	helpView := tview.NewTextView()
	helpView.SetText(b.String())
	helpView.SetBackgroundColor(ColorBg)
	helpView.SetTextColor(ColorFg)
	helpView.SetDynamicColors(true)
	helpView.SetBorder(true)
	helpView.SetBorderColor(ColorBorder)
	helpView.SetTitle(" Help ")
	helpView.SetTitleColor(ColorTitle)
	helpView.SetScrollable(true)

	statusBar := tview.NewTextView()
	statusBar.SetBackgroundColor(ColorStatusBar)
	statusBar.SetTextColor(ColorTitle)
	statusBar.SetTextAlign(tview.AlignCenter)
	statusBar.SetText(" Esc/Enter/F1: Close ")

	flex := tview.NewFlex().SetDirection(tview.FlexRow).
		AddItem(helpView, 0, 1, true).
		AddItem(statusBar, 1, 0, false)
	flex.SetBackgroundColor(ColorBg)

	flex.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
		switch event.Key() {
		case tcell.KeyEsc, tcell.KeyEnter, tcell.KeyF1:
			a.pages.RemovePage("help")
			a.app.SetFocus(a.input)
			return nil
		}
		return event
	})

	a.pages.AddPage("help", flex, true, true)
}
