// Package events carries notifications out of the connection engine. The
// engine emits typed events through a Sink and never learns how they are
// displayed.
package events

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"lnmsg/models"
)

type Type string

const (
	PeerConnected      Type = "client_connected"
	PeerDisconnected   Type = "client_disconnected"
	MessageReceived    Type = "message_received"
	MessageSent        Type = "message_sent"
	FileReceived       Type = "file_received"
	FileSent           Type = "file_sent"
	PeerRenamed        Type = "client_renamed"
	PeerStatusChanged  Type = "client_status_changed"
	PeerAvatarChanged  Type = "client_avatar_changed"
	MessagesMarkedRead Type = "messages_marked_read"
	ServerIdentity     Type = "server_identity_changed"
	ServerStatus       Type = "server_status_changed"
	ServerAvatar       Type = "server_avatar_changed"
	Error              Type = "error"
)

type Event struct {
	Type      Type                 `json:"type"`
	Time      time.Time            `json:"time"`
	SessionID int64                `json:"session_id,omitempty"`
	Address   string               `json:"address,omitempty"`
	Username  string               `json:"username,omitempty"`
	Message   *models.Message      `json:"message,omitempty"`
	File      *models.FileTransfer `json:"file,omitempty"`
	Value     string               `json:"value,omitempty"`
	Previous  string               `json:"previous,omitempty"`
	Count     int                  `json:"count,omitempty"`
}

// Sink receives events. Emit must not block the caller for long; it is
// called from connection workers.
type Sink interface {
	Emit(Event)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(Event)

func (f SinkFunc) Emit(e Event) { f(e) }

// Discard drops every event.
var Discard Sink = SinkFunc(func(Event) {})

// Multi fans an event out to every sink in order.
func Multi(sinks ...Sink) Sink {
	return SinkFunc(func(e Event) {
		for _, s := range sinks {
			s.Emit(e)
		}
	})
}

// Stamped fills in Time on events that lack one before passing them on.
func Stamped(next Sink) Sink {
	return SinkFunc(func(e Event) {
		if e.Time.IsZero() {
			e.Time = time.Now().UTC()
		}
		next.Emit(e)
	})
}

// Logger writes a one-line summary of each event at debug level.
var Logger Sink = SinkFunc(func(e Event) {
	ev := log.Debug().Str("event", string(e.Type))
	if e.SessionID != 0 {
		ev = ev.Int64("session_id", e.SessionID)
	}
	if e.Username != "" {
		ev = ev.Str("username", e.Username)
	}
	if e.Value != "" {
		ev = ev.Str("value", e.Value)
	}
	ev.Msg("event")
})

// Recorder keeps every event it sees. It is safe for concurrent use.
type Recorder struct {
	mu     sync.Mutex
	events []Event
	notify chan struct{}
}

func NewRecorder() *Recorder {
	return &Recorder{notify: make(chan struct{}, 1)}
}

func (r *Recorder) Emit(e Event) {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
	select {
	case r.notify <- struct{}{}:
	default:
	}
}

// Events returns a copy of everything recorded so far.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// Count returns how many events of type t were recorded.
func (r *Recorder) Count(t Type) int {
	n := 0
	for _, e := range r.Events() {
		if e.Type == t {
			n++
		}
	}
	return n
}

// Wait blocks until an event of type t has been recorded or timeout
// expires. It returns the first matching event.
func (r *Recorder) Wait(t Type, timeout time.Duration) (Event, bool) {
	deadline := time.After(timeout)
	for {
		for _, e := range r.Events() {
			if e.Type == t {
				return e, true
			}
		}
		select {
		case <-r.notify:
		case <-time.After(10 * time.Millisecond):
		case <-deadline:
			return Event{}, false
		}
	}
}
