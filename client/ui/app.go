// Package ui is the interactive console of the peer: a full-screen chat
// window on a terminal, or a plain line mode otherwise.
package ui

import (
	"context"
	"fmt"
	"sync"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"

	"lnmsg/events"
	"lnmsg/peer"
)

// App is the main application
type App struct {
	app       *tview.Application
	pages     *tview.Pages
	client    *peer.Client
	config    peer.Config
	chatView  *tview.TextView
	input     *tview.InputField
	statusBar *tview.TextView
	outbox    chan string
	mu        sync.RWMutex
	quitting  bool
}

// NewApp creates a new application instance
func NewApp(config peer.Config) *App {
	return &App{
		config: config,
		outbox: make(chan string, 64),
	}
}

// Run connects to the hub and shows the chat window until the user quits
// or the connection ends.
func (a *App) Run(ctx context.Context) error {
	a.app = tview.NewApplication()
	a.pages = tview.NewPages()
	a.pages.AddPage("chat", a.createChatPage(), true, true)

	client, err := peer.Dial(ctx, a.config, a)
	if err != nil {
		return fmt.Errorf("connect to %s: %w", a.config.Addr, err)
	}
	a.client = client

	go a.sendLoop()
	go func() {
		<-client.Done()
		a.app.QueueUpdateDraw(func() {
			a.updateStatusBar()
			a.input.SetLabel("(closed) ")
		})
	}()

	a.updateStatusBar()
	defer client.Close()
	return a.app.SetRoot(a.pages, true).EnableMouse(false).Run()
}

// Emit implements events.Sink. It is called from the connection's
// goroutines and only queues UI work.
func (a *App) Emit(e events.Event) {
	line, ok := FormatEvent(e)
	if !ok && e.Type != events.ServerIdentity && e.Type != events.ServerStatus {
		return
	}
	a.app.QueueUpdateDraw(func() {
		if ok {
			a.appendLine(tagFor(e.Type) + tview.Escape(line) + "[-]")
		}
		a.updateStatusBar()
	})
}

// sendLoop executes submitted lines one at a time, in order, away from the
// UI goroutine.
func (a *App) sendLoop() {
	for line := range a.outbox {
		output, quit, err := Execute(a.client, line)
		a.app.QueueUpdateDraw(func() {
			for _, l := range output {
				a.appendLine("[white]" + tview.Escape(l) + "[-]")
			}
			if err != nil {
				a.appendLine("[red]! " + tview.Escape(err.Error()) + "[-]")
			}
		})
		if quit {
			a.quit()
			return
		}
	}
}

func (a *App) appendLine(line string) {
	fmt.Fprintln(a.chatView, line)
	a.chatView.ScrollToEnd()
}

func (a *App) updateStatusBar() {
	if a.client == nil {
		a.statusBar.SetText(" connecting to " + a.config.Addr + " ")
		return
	}
	hub := a.client.Hub()
	state := "[green]●[-]"
	select {
	case <-a.client.Done():
		state = "[red]○[-]"
	default:
	}
	a.statusBar.SetText(fmt.Sprintf(" %s %s %s ─ %s │ you: %s │ Enter:Send F1:Help Esc:Quit ",
		state, tview.Escape(hub.Avatar), tview.Escape(hub.Name), tview.Escape(hub.Status), tview.Escape(a.client.Name())))
}

// quit waits until the connection is closed, which happens after the exit
// grace period, then stops the application.
func (a *App) quit() {
	a.mu.Lock()
	if a.quitting {
		a.mu.Unlock()
		return
	}
	a.quitting = true
	a.mu.Unlock()

	if a.client != nil {
		<-a.client.Done()
	}
	a.app.Stop()
}

func (a *App) createChatPage() tview.Primitive {
	a.chatView = tview.NewTextView()
	a.chatView.SetBorder(true)
	a.chatView.SetBorderColor(ColorBorder)
	a.chatView.SetBackgroundColor(ColorBg)
	a.chatView.SetTitle(" " + a.config.Addr + " ")
	a.chatView.SetTitleColor(ColorTitle)
	a.chatView.SetTextColor(ColorFg)
	a.chatView.SetDynamicColors(true)
	a.chatView.SetScrollable(true)

	a.input = tview.NewInputField()
	a.input.SetLabel("> ")
	a.input.SetFieldWidth(0)
	a.input.SetBackgroundColor(ColorBg)
	a.input.SetFieldBackgroundColor(ColorInputBg)
	a.input.SetFieldTextColor(ColorFg)
	a.input.SetLabelColor(ColorHighlight)
	a.input.SetBorder(true)
	a.input.SetBorderColor(ColorBorder)
	a.input.SetTitle(" Message ")
	a.input.SetTitleColor(ColorTitle)

	a.input.SetDoneFunc(func(key tcell.Key) {
		if key != tcell.KeyEnter {
			return
		}
		text := a.input.GetText()
		if text == "" {
			return
		}
		a.input.SetText("")
		select {
		case a.outbox <- text:
		default:
			a.appendLine("[red]! still sending, try again[-]")
		}
	})

	a.statusBar = tview.NewTextView()
	a.statusBar.SetBackgroundColor(ColorStatusBar)
	a.statusBar.SetTextColor(ColorTitle)
	a.statusBar.SetDynamicColors(true)

	flex := tview.NewFlex().SetDirection(tview.FlexRow).
		AddItem(a.chatView, 0, 1, false).
		AddItem(a.input, 3, 0, true).
		AddItem(a.statusBar, 1, 0, false)
	flex.SetBackgroundColor(ColorBg)

	flex.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
		switch event.Key() {
		case tcell.KeyF1:
			a.showHelp()
			return nil
		case tcell.KeyEsc:
			select {
			case <-a.client.Done():
				a.app.Stop()
			default:
				select {
				case a.outbox <- "/quit":
				default:
				}
			}
			return nil
		case tcell.KeyPgUp:
			row, col := a.chatView.GetScrollOffset()
			a.chatView.ScrollTo(row-10, col)
			return nil
		case tcell.KeyPgDn:
			row, col := a.chatView.GetScrollOffset()
			a.chatView.ScrollTo(row+10, col)
			return nil
		}
		return event
	})

	return flex
}
