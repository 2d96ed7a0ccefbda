package server

import (
	"errors"
	"net"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"lnmsg/events"
	"lnmsg/models"
	"lnmsg/protocol"
	"lnmsg/session"
)

var (
	ErrConnectionLost = errors.New("connection lost")
	ErrUnknownSession = errors.New("unknown session")
)

// HistoryStore is the durable record the hub appends to. Implementations
// must be safe for concurrent use by every connection worker.
type HistoryStore interface {
	TouchPeer(id int64, username, address string) error
	UpdatePeerPresence(id int64, status, avatar string) error
	SaveMessage(id int64, m models.Message) (int64, error)
	Messages(id int64) ([]models.Message, error)
	MarkMessagesRead(id int64) (int64, error)
	SaveFile(id int64, f models.FileTransfer) (int64, error)
	Files(id int64) ([]models.FileTransfer, error)
}

type Server struct {
	store    HistoryStore
	config   *ServerConfig
	registry *session.Registry
	files    *FileStore
	sink     events.Sink

	mu    sync.RWMutex
	links map[int64]*link

	idMu   sync.RWMutex
	name   string
	status string
	avatar string

	listener net.Listener
	quit     chan struct{}
	quitOnce sync.Once
	wg       sync.WaitGroup
}

type ServerConfig struct {
	Port         int
	FilesDir     string
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
	ExitGrace    time.Duration
	Name         string
	Status       string
	Avatar       string
}

// link is the transport half of a session: the socket and the lock that
// keeps outbound lines in submission order.
type link struct {
	id      int64
	conn    net.Conn
	mu      sync.Mutex
	once    sync.Once
	closing atomic.Bool
}

func (l *link) close() {
	l.once.Do(func() { l.conn.Close() })
}

// New builds a hub around store. config is copied before defaults are
// filled in.
func New(store HistoryStore, sink events.Sink, cfg *ServerConfig) *Server {
	config := *cfg
	if config.WriteTimeout == 0 {
		config.WriteTimeout = 10 * time.Second
	}
	if config.FilesDir == "" {
		config.FilesDir = "received_files"
	}
	if config.Name == "" {
		config.Name = protocol.DefaultServerName
	}
	if config.Status == "" {
		config.Status = session.DefaultStatus
	}
	if config.Avatar == "" {
		config.Avatar = session.DefaultAvatar
	}
	if sink == nil {
		sink = events.Discard
	}

	registry := session.NewRegistry()
	if seeder, ok := store.(interface{ MaxPeerID() (int64, error) }); ok {
		if last, err := seeder.MaxPeerID(); err == nil {
			registry.Seed(last)
		} else {
			log.Error().Err(err).Msg("read last session id")
		}
	}

	return &Server{
		store:    store,
		config:   &config,
		registry: registry,
		files:    NewFileStore(config.FilesDir),
		sink:     events.Stamped(sink),
		links:    make(map[int64]*link),
		name:     config.Name,
		status:   config.Status,
		avatar:   config.Avatar,
		quit:     make(chan struct{}),
	}
}

func (s *Server) Start() error {
	listener, err := net.Listen("tcp", ":"+strconv.Itoa(s.config.Port))
	if err != nil {
		return err
	}
	return s.Serve(listener)
}

// Serve accepts connections on listener until Shutdown is called. Each
// connection gets its own worker goroutine.
func (s *Server) Serve(listener net.Listener) error {
	s.mu.Lock()
	if s.stopping() {
		s.mu.Unlock()
		listener.Close()
		return nil
	}
	s.listener = listener
	s.mu.Unlock()
	defer listener.Close()

	log.Info().Str("addr", listener.Addr().String()).Msg("hub listening")

	for {
		conn, err := listener.Accept()
		if err != nil {
			select {
			case <-s.quit:
				return nil
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			log.Error().Err(err).Msg("accept connection")
			continue
		}

		// quit is closed before Shutdown takes mu, so a worker counted
		// here is always waited for.
		s.mu.Lock()
		if s.stopping() {
			s.mu.Unlock()
			conn.Close()
			return nil
		}
		s.wg.Add(1)
		s.mu.Unlock()

		go func() {
			defer s.wg.Done()
			s.handleConnection(conn)
		}()
	}
}

// stopping reports whether Shutdown has started.
func (s *Server) stopping() bool {
	select {
	case <-s.quit:
		return true
	default:
		return false
	}
}

// Addr returns the listening address, or "" before Serve.
func (s *Server) Addr() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Shutdown stops accepting, closes every peer connection and waits for the
// workers to finish.
func (s *Server) Shutdown() {
	s.quitOnce.Do(func() { close(s.quit) })

	s.mu.Lock()
	if s.listener != nil {
		s.listener.Close()
	}
	links := make([]*link, 0, len(s.links))
	for _, l := range s.links {
		links = append(links, l)
	}
	s.mu.Unlock()

	for _, l := range links {
		l.close()
	}
	s.wg.Wait()
	log.Info().Int("closed", len(links)).Msg("hub stopped")
}

// StartRetention deletes messages older than days once per interval until
// Shutdown.
func (s *Server) StartRetention(store interface {
	DeleteOldMessages(days int) (int64, error)
}, days int, interval time.Duration) {
	if days <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-s.quit:
				return
			case <-ticker.C:
				n, err := store.DeleteOldMessages(days)
				if err != nil {
					log.Error().Err(err).Msg("retention cleanup")
					continue
				}
				if n > 0 {
					log.Info().Int64("deleted", n).Int("days", days).Msg("old messages removed")
				}
			}
		}
	}()
}

// addLink records l unless Shutdown has already collected the links to
// close, in which case it reports false.
func (s *Server) addLink(l *link) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopping() {
		return false
	}
	s.links[l.id] = l
	return true
}

func (s *Server) removeLink(id int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.links, id)
}

func (s *Server) getLink(id int64) (*link, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	l, ok := s.links[id]
	return l, ok
}

// writeLine sends one protocol line. Lines to the same peer never
// interleave.
func (s *Server) writeLine(l *link, line string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.conn.SetWriteDeadline(time.Now().Add(s.config.WriteTimeout))
	if _, err := l.conn.Write([]byte(line + "\n")); err != nil {
		return err
	}
	return nil
}

func (s *Server) identity() (name, status, avatar string) {
	s.idMu.RLock()
	defer s.idMu.RUnlock()
	return s.name, s.status, s.avatar
}

func (s *Server) emit(e events.Event) {
	s.sink.Emit(e)
}

// Stats returns server statistics as a formatted string
func (s *Server) Stats() string {
	sessions := s.registry.Snapshot()
	users := make([]string, 0, len(sessions))
	for _, sess := range sessions {
		users = append(users, sess.Username)
	}
	return "connections=" + strconv.Itoa(len(sessions)) + ",users=" + strings.Join(users, ";")
}
