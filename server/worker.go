package server

import (
	"errors"
	"io"
	"net"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"lnmsg/events"
	"lnmsg/protocol"
	"lnmsg/session"
)

// handleConnection drives one peer from accept to close:
// announce the hub, read the peer's name, then dispatch frames until the
// stream ends or an exit keyword arrives.
func (s *Server) handleConnection(conn net.Conn) {
	id := s.registry.NextID()
	addr := conn.RemoteAddr().String()

	if _, err := s.registry.Register(id, addr); err != nil {
		conn.Close()
		panic(err)
	}

	l := &link{id: id, conn: conn}
	if !s.addLink(l) {
		conn.Close()
		s.registry.Remove(id)
		return
	}

	logger := log.With().Int64("session_id", id).Str("address", addr).Logger()
	logger.Info().Msg("peer connected")

	defer s.finish(l, logger)

	name, status, avatar := s.identity()
	for _, line := range []string{
		protocol.FormatServerName(name),
		protocol.FormatServerStatus(status),
		protocol.FormatServerAvatar(avatar),
	} {
		if err := s.writeLine(l, line); err != nil {
			logger.Debug().Err(err).Msg("announce hub identity")
			return
		}
	}

	dec := protocol.NewDecoder(conn)
	dec.OnDiscard = func(err error, n int) {
		logger.Warn().Err(err).Int("bytes", n).Msg("dropped input")
		s.emit(events.Event{Type: events.Error, SessionID: id, Address: addr, Value: err.Error()})
	}

	first, err := s.readLine(conn, dec)
	if err != nil {
		logReadEnd(logger, err)
		return
	}

	username := strings.TrimSpace(first)
	if username == "" {
		username = session.DefaultUsername(id)
	}
	sess, _ := s.registry.Update(id, func(sess *session.Session) {
		sess.Username = username
	})
	if err := s.store.TouchPeer(id, username, addr); err != nil {
		logger.Error().Err(err).Msg("record peer")
	}

	logger = logger.With().Str("username", username).Logger()
	s.emit(events.Event{
		Type:      events.PeerConnected,
		SessionID: id,
		Address:   addr,
		Username:  sess.Username,
	})

	for {
		line, err := s.readLine(conn, dec)
		if err != nil {
			logReadEnd(logger, err)
			return
		}
		if strings.TrimSpace(line) == "" {
			continue
		}

		frame, err := protocol.Classify(line)
		if err != nil {
			logger.Warn().Err(err).Msg("dropped frame")
			continue
		}
		if !s.dispatch(l, frame, logger) {
			return
		}
	}
}

func (s *Server) readLine(conn net.Conn, dec *protocol.Decoder) (string, error) {
	if s.config.IdleTimeout > 0 {
		conn.SetReadDeadline(time.Now().Add(s.config.IdleTimeout))
	}
	return dec.Next()
}

// finish runs exactly once per connection.
func (s *Server) finish(l *link, logger zerolog.Logger) {
	l.close()
	s.removeLink(l.id)

	sess, ok := s.registry.Remove(l.id)
	if !ok {
		return
	}
	if err := s.store.TouchPeer(sess.ID, sess.Username, sess.Address); err != nil {
		logger.Error().Err(err).Msg("record last seen")
	}

	s.emit(events.Event{
		Type:      events.PeerDisconnected,
		SessionID: sess.ID,
		Address:   sess.Address,
		Username:  sess.Username,
	})
	logger.Info().Msg("peer disconnected")
}

func logReadEnd(logger zerolog.Logger, err error) {
	var ne net.Error
	switch {
	case errors.Is(err, io.EOF), errors.Is(err, net.ErrClosed):
		logger.Debug().Msg("stream closed")
	case errors.As(err, &ne) && ne.Timeout():
		logger.Info().Msg("idle timeout")
	default:
		logger.Warn().Err(err).Msg("read failed")
	}
}
