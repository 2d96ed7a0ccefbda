// Package session holds the registry of live peer sessions. The registry is
// the only structure shared between connection workers; every read and
// write goes through its methods.
package session

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"lnmsg/models"
)

const (
	DefaultStatus = "Available"
	DefaultAvatar = "👤"
)

var ErrDuplicateID = errors.New("duplicate session id")

// Session is the state of one live connection. Values handed out by the
// Registry are copies; mutate through Registry.Update.
type Session struct {
	ID          int64            `json:"id"`
	Address     string           `json:"address"`
	Username    string           `json:"username"`
	Status      string           `json:"status"`
	Avatar      string           `json:"avatar"`
	ConnectedAt time.Time        `json:"connected_at"`
	History     []models.Message `json:"messages,omitempty"`
}

// DefaultUsername is the name a session carries until the peer names itself.
func DefaultUsername(id int64) string {
	return fmt.Sprintf("Client_%d", id)
}

// Unread counts received messages not yet marked read.
func (s *Session) Unread() int {
	n := 0
	for _, m := range s.History {
		if m.Direction == models.Received && !m.Read {
			n++
		}
	}
	return n
}

func (s *Session) clone() Session {
	c := *s
	c.History = append([]models.Message(nil), s.History...)
	return c
}

type Registry struct {
	mu       sync.RWMutex
	sessions map[int64]*Session
	lastID   atomic.Int64
}

func NewRegistry() *Registry {
	return &Registry{sessions: make(map[int64]*Session)}
}

// Seed makes NextID continue after id, so ids persisted by an earlier run
// are not handed out again.
func (r *Registry) Seed(id int64) {
	for {
		cur := r.lastID.Load()
		if id <= cur || r.lastID.CompareAndSwap(cur, id) {
			return
		}
	}
}

// NextID allocates a process-unique, monotonically increasing id.
func (r *Registry) NextID() int64 {
	return r.lastID.Add(1)
}

// Register inserts a session with default identity for a freshly accepted
// connection.
func (r *Registry) Register(id int64, address string) (Session, error) {
	s := &Session{
		ID:          id,
		Address:     address,
		Username:    DefaultUsername(id),
		Status:      DefaultStatus,
		Avatar:      DefaultAvatar,
		ConnectedAt: time.Now().UTC(),
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[id]; ok {
		return Session{}, fmt.Errorf("%w: %d", ErrDuplicateID, id)
	}
	r.sessions[id] = s
	return s.clone(), nil
}

// Update applies fn to the session under the write lock and returns the
// resulting copy. It reports false if the session is gone.
func (r *Registry) Update(id int64, fn func(*Session)) (Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok {
		return Session{}, false
	}
	fn(s)
	return s.clone(), true
}

// Remove deletes the session and returns its final state. Removing an
// absent id is not an error; it reports false.
func (r *Registry) Remove(id int64) (Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok {
		return Session{}, false
	}
	delete(r.sessions, id)
	return s.clone(), true
}

func (r *Registry) Get(id int64) (Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	if !ok {
		return Session{}, false
	}
	return s.clone(), true
}

// Snapshot returns a copy of every session, ordered by id.
func (r *Registry) Snapshot() []Session {
	r.mu.RLock()
	out := make([]Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s.clone())
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// IDs returns the ids of every live session, ordered.
func (r *Registry) IDs() []int64 {
	r.mu.RLock()
	ids := make([]int64, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	r.mu.RUnlock()

	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// AppendMessage adds m to the session's history.
func (r *Registry) AppendMessage(id int64, m models.Message) bool {
	_, ok := r.Update(id, func(s *Session) {
		s.History = append(s.History, m)
	})
	return ok
}

// MarkRead flips the read flag on every unread received message and
// returns how many changed.
func (r *Registry) MarkRead(id int64) (int, bool) {
	n := 0
	_, ok := r.Update(id, func(s *Session) {
		for i := range s.History {
			if s.History[i].Direction == models.Received && !s.History[i].Read {
				s.History[i].Read = true
				n++
			}
		}
	})
	return n, ok
}
