package ui

import (
	"fmt"
	"strings"

	"lnmsg/models"
	"lnmsg/peer"
	"lnmsg/protocol"
)

// Conversation is the part of peer.Client the console drives.
type Conversation interface {
	Send(text string) (models.Message, error)
	Rename(name string) error
	SetStatus(status string) error
	SetAvatar(avatar string) error
	SendFile(path string) (models.FileTransfer, error)
	History() []models.Message
	Hub() peer.Hub
}

// Execute runs one line typed by the user. Lines starting with / are
// commands, anything else is chat. quit reports that the conversation is
// ending.
func Execute(c Conversation, line string) (output []string, quit bool, err error) {
	line = strings.TrimSpace(line)
	if line == "" {
		return nil, false, nil
	}
	if !strings.HasPrefix(line, "/") {
		if _, err := c.Send(line); err != nil {
			return nil, false, err
		}
		return nil, protocol.IsExitKeyword(line), nil
	}

	cmd, arg, _ := strings.Cut(line[1:], " ")
	arg = strings.TrimSpace(arg)

	switch strings.ToLower(cmd) {
	case "name":
		if err := c.Rename(arg); err != nil {
			return nil, false, err
		}
		return []string{"* you are now " + arg}, false, nil
	case "status":
		if err := c.SetStatus(arg); err != nil {
			return nil, false, err
		}
		return []string{"* status set to " + arg}, false, nil
	case "avatar":
		if err := c.SetAvatar(arg); err != nil {
			return nil, false, err
		}
		return []string{"* avatar set to " + arg}, false, nil
	case "file":
		if arg == "" {
			return nil, false, fmt.Errorf("usage: /file PATH")
		}
		if _, err := c.SendFile(arg); err != nil {
			return nil, false, err
		}
		return nil, false, nil
	case "history":
		history := c.History()
		if len(history) == 0 {
			return []string{"* no messages yet"}, false, nil
		}
		out := make([]string, 0, len(history))
		for _, m := range history {
			out = append(out, FormatMessage(m))
		}
		return out, false, nil
	case "hub":
		hub := c.Hub()
		return []string{fmt.Sprintf("* %s %s (%s)", hub.Avatar, hub.Name, hub.Status)}, false, nil
	case "help":
		return HelpLines(), false, nil
	case "quit":
		if _, err := c.Send(protocol.ExitKeywords()[0]); err != nil {
			return nil, true, err
		}
		return nil, true, nil
	default:
		return nil, false, fmt.Errorf("unknown command /%s, try /help", cmd)
	}
}

// HelpLines lists the console commands.
func HelpLines() []string {
	return []string{
		"/name NAME      change the name the hub shows",
		"/status TEXT    set your status",
		"/avatar GLYPH   set your avatar",
		"/file PATH      send a file (2 MiB max)",
		"/history        show this conversation",
		"/hub            show the hub's name and status",
		"/quit           say goodbye and leave",
		"exit keywords   " + strings.Join(protocol.ExitKeywords(), ", "),
	}
}
