// Package protocol implements the newline-delimited text protocol spoken
// between the hub and its peers: line framing, classification of lines into
// control frames and chat payloads, and the base64 file frame.
package protocol

import (
	"strconv"
	"strings"
)

// Control prefixes. Order matters: Classify checks them top to bottom.
const (
	PrefixServerName   = "__SERVER_NAME__:"
	PrefixServerStatus = "__SERVER_STATUS__:"
	PrefixServerAvatar = "__SERVER_AVATAR__:"
	PrefixClientName   = "__CLIENT_NAME__:"
	PrefixClientStatus = "__CLIENT_STATUS__:"
	PrefixClientAvatar = "__CLIENT_AVATAR__:"
	PrefixFile         = "__FILE__|"
)

// DefaultServerName is used when a server identity frame carries no name.
const DefaultServerName = "Serveur"

// Frame is one classified protocol line. The concrete type is one of
// ServerIdentity, ServerStatus, ServerAvatar, ClientRename, ClientStatus,
// ClientAvatar, FileFrame, Exit or Plain.
type Frame interface {
	frame()
}

type ServerIdentity struct{ Name string }

type ServerStatus struct{ Status string }

type ServerAvatar struct{ Avatar string }

type ClientRename struct{ Name string }

type ClientStatus struct{ Status string }

type ClientAvatar struct{ Avatar string }

// FileFrame is a file transfer still in its wire form. Data is base64.
type FileFrame struct {
	Filename string
	Mimetype string
	Size     int
	Data     string
}

// Exit is an exit keyword, in any case or accent form.
type Exit struct{ Text string }

// Plain is an ordinary chat line, untouched.
type Plain struct{ Text string }

func (ServerIdentity) frame() {}
func (ServerStatus) frame()   {}
func (ServerAvatar) frame()   {}
func (ClientRename) frame()   {}
func (ClientStatus) frame()   {}
func (ClientAvatar) frame()   {}
func (FileFrame) frame()      {}
func (Exit) frame()           {}
func (Plain) frame()          {}

// Classify turns one line into a Frame. The first matching prefix wins.
// Lines that are blank after trimming must be skipped by the caller.
func Classify(line string) (Frame, error) {
	switch {
	case strings.HasPrefix(line, PrefixServerName):
		name := strings.TrimSpace(line[len(PrefixServerName):])
		if name == "" {
			name = DefaultServerName
		}
		return ServerIdentity{Name: name}, nil
	case strings.HasPrefix(line, PrefixServerStatus):
		v, err := controlValue(line, PrefixServerStatus)
		if err != nil {
			return nil, err
		}
		return ServerStatus{Status: v}, nil
	case strings.HasPrefix(line, PrefixServerAvatar):
		v, err := controlValue(line, PrefixServerAvatar)
		if err != nil {
			return nil, err
		}
		return ServerAvatar{Avatar: v}, nil
	case strings.HasPrefix(line, PrefixClientName):
		v, err := controlValue(line, PrefixClientName)
		if err != nil {
			return nil, err
		}
		return ClientRename{Name: v}, nil
	case strings.HasPrefix(line, PrefixClientStatus):
		v, err := controlValue(line, PrefixClientStatus)
		if err != nil {
			return nil, err
		}
		return ClientStatus{Status: v}, nil
	case strings.HasPrefix(line, PrefixClientAvatar):
		v, err := controlValue(line, PrefixClientAvatar)
		if err != nil {
			return nil, err
		}
		return ClientAvatar{Avatar: v}, nil
	case strings.HasPrefix(line, PrefixFile):
		return parseFileFrame(line)
	case IsExitKeyword(line):
		return Exit{Text: line}, nil
	default:
		return Plain{Text: line}, nil
	}
}

func controlValue(line, prefix string) (string, error) {
	v := strings.TrimSpace(line[len(prefix):])
	if v == "" {
		return "", &FrameError{Line: line, Reason: "empty value"}
	}
	return v, nil
}

func parseFileFrame(line string) (Frame, error) {
	parts := strings.SplitN(line, "|", 5)
	if len(parts) != 5 {
		return nil, &FrameError{Line: line, Reason: "expected 5 fields, got " + strconv.Itoa(len(parts))}
	}
	size, err := strconv.Atoi(parts[3])
	if err != nil || size < 0 {
		return nil, &FrameError{Line: line, Reason: "invalid size " + strconv.Quote(parts[3])}
	}
	if parts[1] == "" {
		return nil, &FrameError{Line: line, Reason: "empty filename"}
	}
	return FileFrame{
		Filename: parts[1],
		Mimetype: parts[2],
		Size:     size,
		Data:     parts[4],
	}, nil
}

// FormatServerName and the functions below render outbound control lines
// without the trailing newline.
func FormatServerName(name string) string { return PrefixServerName + name }

func FormatServerStatus(status string) string { return PrefixServerStatus + status }

func FormatServerAvatar(avatar string) string { return PrefixServerAvatar + avatar }

func FormatClientName(name string) string { return PrefixClientName + name }

func FormatClientStatus(status string) string { return PrefixClientStatus + status }

func FormatClientAvatar(avatar string) string { return PrefixClientAvatar + avatar }
