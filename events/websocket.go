package events

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 54 * time.Second
	listenerBuffer = 64
)

// Broadcaster is a Sink that forwards every event as a JSON text message
// to each connected WebSocket listener. A listener that falls behind is
// dropped rather than slowing the connection workers down.
type Broadcaster struct {
	upgrader  websocket.Upgrader
	mu        sync.RWMutex
	listeners map[*listener]struct{}
	closed    bool

	// Welcome, when set, produces the first message sent to a new listener
	// (typically a snapshot of the live sessions).
	Welcome func() any
}

type listener struct {
	conn *websocket.Conn
	send chan []byte
	addr string
	once sync.Once
}

func NewBroadcaster() *Broadcaster {
	return &Broadcaster{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		listeners: make(map[*listener]struct{}),
	}
}

// ServeHTTP upgrades the request and registers the new listener.
func (b *Broadcaster) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := b.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Str("remote", r.RemoteAddr).Msg("websocket upgrade failed")
		return
	}

	l := &listener{conn: conn, send: make(chan []byte, listenerBuffer), addr: r.RemoteAddr}
	if b.Welcome != nil {
		if data, err := json.Marshal(b.Welcome()); err == nil {
			l.send <- data
		}
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		conn.Close()
		return
	}
	b.listeners[l] = struct{}{}
	count := len(b.listeners)
	b.mu.Unlock()
	log.Info().Str("remote", l.addr).Int("listeners", count).Msg("event listener connected")

	go b.writePump(l)
	go b.readPump(l)
}

// Emit implements Sink.
func (b *Broadcaster) Emit(e Event) {
	data, err := json.Marshal(e)
	if err != nil {
		log.Error().Err(err).Str("event", string(e.Type)).Msg("marshal event")
		return
	}

	var slow []*listener
	b.mu.RLock()
	for l := range b.listeners {
		select {
		case l.send <- data:
		default:
			slow = append(slow, l)
		}
	}
	b.mu.RUnlock()

	for _, l := range slow {
		log.Warn().Str("remote", l.addr).Msg("event listener too slow, dropping")
		b.remove(l)
	}
}

// Count returns the number of connected listeners.
func (b *Broadcaster) Count() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.listeners)
}

// Close disconnects every listener and refuses new ones.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	b.closed = true
	ls := make([]*listener, 0, len(b.listeners))
	for l := range b.listeners {
		ls = append(ls, l)
	}
	b.mu.Unlock()

	for _, l := range ls {
		b.remove(l)
	}
}

func (b *Broadcaster) remove(l *listener) {
	b.mu.Lock()
	_, ok := b.listeners[l]
	delete(b.listeners, l)
	b.mu.Unlock()
	if ok {
		l.once.Do(func() { close(l.send) })
	}
}

// readPump only exists to notice the listener going away and to answer
// pings; listeners never send anything meaningful.
func (b *Broadcaster) readPump(l *listener) {
	defer func() {
		b.remove(l)
		l.conn.Close()
	}()

	l.conn.SetReadLimit(512)
	l.conn.SetReadDeadline(time.Now().Add(pongWait))
	l.conn.SetPongHandler(func(string) error {
		return l.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := l.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Debug().Err(err).Str("remote", l.addr).Msg("event listener read error")
			}
			return
		}
	}
}

func (b *Broadcaster) writePump(l *listener) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		l.conn.Close()
	}()

	for {
		select {
		case data, ok := <-l.send:
			l.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				l.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := l.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Debug().Err(err).Str("remote", l.addr).Msg("event listener write failed")
				return
			}
		case <-ticker.C:
			l.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := l.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
