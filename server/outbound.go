package server

import (
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"lnmsg/events"
	"lnmsg/models"
	"lnmsg/protocol"
	"lnmsg/session"
)

// SendMessage validates text and sends it to one peer. Sending an exit
// keyword closes the connection after the configured grace period.
func (s *Server) SendMessage(id int64, text string) (models.Message, error) {
	text, err := protocol.ValidateMessage(text)
	if err != nil {
		return models.Message{}, err
	}
	l, err := s.liveLink(id)
	if err != nil {
		return models.Message{}, err
	}

	if err := s.writeLine(l, text); err != nil {
		l.close()
		return models.Message{}, fmt.Errorf("%w: %v", ErrConnectionLost, err)
	}
	if protocol.IsExitKeyword(text) {
		s.closeAfterGrace(l)
	}

	name, _, _ := s.identity()
	m := models.Message{
		SessionID: id,
		Direction: models.Sent,
		Sender:    name,
		Body:      text,
		Timestamp: time.Now(),
		Read:      true,
	}
	if m.ID, err = s.store.SaveMessage(id, m); err != nil {
		log.Error().Err(err).Int64("session_id", id).Msg("save sent message")
	}
	s.registry.AppendMessage(id, m)
	s.emit(events.Event{Type: events.MessageSent, SessionID: id, Message: &m})
	return m, nil
}

// SendFile encodes data as a file frame and sends it to one peer. Size and
// name are checked before anything touches the socket.
func (s *Server) SendFile(id int64, filename, mimetype string, data []byte) (models.FileTransfer, error) {
	line, err := protocol.EncodeFile(data, filename, mimetype)
	if err != nil {
		return models.FileTransfer{}, err
	}
	name, _ := protocol.SanitizeFilename(filename)
	if mimetype == "" {
		mimetype = protocol.DefaultMimetype
	}

	l, err := s.liveLink(id)
	if err != nil {
		return models.FileTransfer{}, err
	}
	if err := s.writeLine(l, line); err != nil {
		l.close()
		return models.FileTransfer{}, fmt.Errorf("%w: %v", ErrConnectionLost, err)
	}

	logger := log.With().Int64("session_id", id).Str("filename", name).Logger()
	path, sum, err := s.files.Save(id, "sent", name, data)
	if err != nil {
		logger.Error().Err(err).Msg("keep sent copy")
		sum = digest(data)
	}

	hub, _, _ := s.identity()
	ft := models.FileTransfer{
		SessionID:  id,
		Filename:   name,
		Mimetype:   mimetype,
		Size:       int64(len(data)),
		Direction:  models.Sent,
		Sender:     hub,
		StoredPath: path,
		Digest:     sum,
		Timestamp:  time.Now(),
	}
	if ft.ID, err = s.store.SaveFile(id, ft); err != nil {
		logger.Error().Err(err).Msg("save file record")
	}

	logger.Info().Int64("size", ft.Size).Msg("file sent")
	s.emit(events.Event{Type: events.FileSent, SessionID: id, File: &ft})
	return ft, nil
}

// SetIdentity renames the hub and announces the new name to every peer.
func (s *Server) SetIdentity(name string) error {
	return s.setIdentityField(events.ServerIdentity, name)
}

func (s *Server) SetStatus(status string) error {
	return s.setIdentityField(events.ServerStatus, status)
}

func (s *Server) SetAvatar(avatar string) error {
	return s.setIdentityField(events.ServerAvatar, avatar)
}

func (s *Server) setIdentityField(kind events.Type, value string) error {
	value, err := protocol.ValidateValue(value)
	if err != nil {
		return err
	}

	var previous, line string
	s.idMu.Lock()
	switch kind {
	case events.ServerIdentity:
		previous, s.name = s.name, value
		line = protocol.FormatServerName(value)
	case events.ServerStatus:
		previous, s.status = s.status, value
		line = protocol.FormatServerStatus(value)
	case events.ServerAvatar:
		previous, s.avatar = s.avatar, value
		line = protocol.FormatServerAvatar(value)
	}
	s.idMu.Unlock()

	s.broadcast(line)
	s.emit(events.Event{Type: kind, Value: value, Previous: previous})
	return nil
}

// broadcast sends line to every connected peer. A peer whose write fails
// is closed and its worker finishes the session.
func (s *Server) broadcast(line string) {
	for _, id := range s.registry.IDs() {
		l, ok := s.getLink(id)
		if !ok || l.closing.Load() {
			continue
		}
		if err := s.writeLine(l, line); err != nil {
			log.Warn().Err(err).Int64("session_id", id).Msg("broadcast failed")
			l.close()
		}
	}
}

// MarkRead flags every received message of a session as read and returns
// how many changed. It works for disconnected sessions too.
func (s *Server) MarkRead(id int64) (int, error) {
	live, _ := s.registry.MarkRead(id)
	stored, err := s.store.MarkMessagesRead(id)
	if err != nil {
		return live, err
	}

	n := live
	if int(stored) > n {
		n = int(stored)
	}
	if n > 0 {
		s.emit(events.Event{Type: events.MessagesMarkedRead, SessionID: id, Count: n})
	}
	return n, nil
}

// History returns the in-memory history of a live session, or the stored
// one once the session is gone.
func (s *Server) History(id int64) ([]models.Message, error) {
	if sess, ok := s.registry.Get(id); ok {
		return sess.History, nil
	}
	return s.store.Messages(id)
}

func (s *Server) Files(id int64) ([]models.FileTransfer, error) {
	return s.store.Files(id)
}

// Sessions returns a snapshot of every connected session ordered by id.
func (s *Server) Sessions() []session.Session {
	return s.registry.Snapshot()
}

func (s *Server) Session(id int64) (session.Session, bool) {
	return s.registry.Get(id)
}

// Identity returns the hub's current name, status and avatar.
func (s *Server) Identity() (name, status, avatar string) {
	return s.identity()
}

// Disconnect closes a peer's connection. The worker then finishes the
// session and emits the disconnect event.
func (s *Server) Disconnect(id int64) error {
	l, ok := s.getLink(id)
	if !ok {
		return ErrUnknownSession
	}
	l.close()
	return nil
}

func (s *Server) liveLink(id int64) (*link, error) {
	l, ok := s.getLink(id)
	if !ok {
		return nil, ErrUnknownSession
	}
	if l.closing.Load() {
		return nil, ErrConnectionLost
	}
	return l, nil
}

func (s *Server) closeAfterGrace(l *link) {
	l.closing.Store(true)
	time.AfterFunc(s.config.ExitGrace, l.close)
}
