package ui

import (
	"fmt"

	"lnmsg/events"
	"lnmsg/models"
)

// FormatMessage renders one chat line.
func FormatMessage(m models.Message) string {
	return fmt.Sprintf("[%s] %s: %s", m.Timestamp.Format("15:04"), m.Sender, m.Body)
}

// FormatEvent renders an event for the console. ok is false for events
// the user does not need to see.
func FormatEvent(e events.Event) (line string, ok bool) {
	switch e.Type {
	case events.MessageReceived, events.MessageSent:
		if e.Message == nil {
			return "", false
		}
		return FormatMessage(*e.Message), true
	case events.FileReceived:
		if e.File == nil {
			return "", false
		}
		return fmt.Sprintf("* %s sent %s (%s), saved to %s", e.File.Sender, e.File.Filename, formatSize(e.File.Size), e.File.StoredPath), true
	case events.FileSent:
		if e.File == nil {
			return "", false
		}
		return fmt.Sprintf("* sent %s (%s)", e.File.Filename, formatSize(e.File.Size)), true
	case events.ServerIdentity:
		if e.Previous == "" || e.Previous == e.Value {
			return "", false
		}
		return fmt.Sprintf("* %s is now called %s", e.Previous, e.Value), true
	case events.ServerStatus:
		return "* hub status: " + e.Value, true
	case events.ServerAvatar:
		return "* hub avatar: " + e.Value, true
	case events.PeerConnected:
		return fmt.Sprintf("* connected to %s as %s", e.Address, e.Username), true
	case events.PeerDisconnected:
		return "* disconnected", true
	case events.Error:
		return "! " + e.Value, true
	}
	return "", false
}

func formatSize(n int64) string {
	switch {
	case n >= 1<<20:
		return fmt.Sprintf("%.1f MiB", float64(n)/(1<<20))
	case n >= 1<<10:
		return fmt.Sprintf("%.1f KiB", float64(n)/(1<<10))
	default:
		return fmt.Sprintf("%d B", n)
	}
}
