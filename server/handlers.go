package server

import (
	"time"

	"github.com/rs/zerolog"

	"lnmsg/events"
	"lnmsg/models"
	"lnmsg/protocol"
	"lnmsg/session"
)

// dispatch applies one inbound frame. It returns false when the
// connection should close.
func (s *Server) dispatch(l *link, frame protocol.Frame, logger zerolog.Logger) bool {
	switch f := frame.(type) {
	case protocol.ClientRename:
		s.handleRename(l, f.Name, logger)
	case protocol.ClientStatus:
		s.handlePresence(l, events.PeerStatusChanged, f.Status, logger)
	case protocol.ClientAvatar:
		s.handlePresence(l, events.PeerAvatarChanged, f.Avatar, logger)
	case protocol.FileFrame:
		s.handleFile(l, f, logger)
	case protocol.Exit:
		logger.Info().Str("keyword", f.Text).Msg("peer said goodbye")
		if err := s.writeLine(l, protocol.Farewell); err != nil {
			logger.Debug().Err(err).Msg("send farewell")
		}
		return false
	case protocol.Plain:
		s.handleMessage(l, f.Text, logger)
	case protocol.ServerIdentity, protocol.ServerStatus, protocol.ServerAvatar:
		logger.Warn().Msg("peer sent a hub-only frame")
	}
	return true
}

func (s *Server) handleRename(l *link, name string, logger zerolog.Logger) {
	var previous string
	sess, ok := s.registry.Update(l.id, func(sess *session.Session) {
		previous = sess.Username
		sess.Username = name
	})
	if !ok {
		return
	}
	if err := s.store.TouchPeer(l.id, name, sess.Address); err != nil {
		logger.Error().Err(err).Msg("record rename")
	}

	logger.Info().Str("previous", previous).Str("name", name).Msg("peer renamed")
	s.emit(events.Event{
		Type:      events.PeerRenamed,
		SessionID: l.id,
		Username:  name,
		Value:     name,
		Previous:  previous,
	})
}

func (s *Server) handlePresence(l *link, kind events.Type, value string, logger zerolog.Logger) {
	var previous string
	sess, ok := s.registry.Update(l.id, func(sess *session.Session) {
		if kind == events.PeerStatusChanged {
			previous, sess.Status = sess.Status, value
		} else {
			previous, sess.Avatar = sess.Avatar, value
		}
	})
	if !ok {
		return
	}
	if err := s.store.UpdatePeerPresence(l.id, sess.Status, sess.Avatar); err != nil {
		logger.Error().Err(err).Msg("record presence")
	}

	s.emit(events.Event{
		Type:      kind,
		SessionID: l.id,
		Username:  sess.Username,
		Value:     value,
		Previous:  previous,
	})
}

func (s *Server) handleMessage(l *link, text string, logger zerolog.Logger) {
	sess, ok := s.registry.Get(l.id)
	if !ok {
		return
	}

	m := models.Message{
		SessionID: l.id,
		Direction: models.Received,
		Sender:    sess.Username,
		Body:      text,
		Timestamp: time.Now(),
	}
	id, err := s.store.SaveMessage(l.id, m)
	if err != nil {
		logger.Error().Err(err).Msg("save message")
	}
	m.ID = id
	s.registry.AppendMessage(l.id, m)

	logger.Debug().Int("length", len(text)).Msg("message received")
	s.emit(events.Event{
		Type:      events.MessageReceived,
		SessionID: l.id,
		Username:  sess.Username,
		Message:   &m,
	})
}

func (s *Server) handleFile(l *link, f protocol.FileFrame, logger zerolog.Logger) {
	data, err := protocol.DecodeFile(f)
	if err != nil {
		logger.Warn().Err(err).Str("filename", f.Filename).Msg("dropped file")
		return
	}
	name, err := protocol.SanitizeFilename(f.Filename)
	if err != nil {
		logger.Warn().Err(err).Str("filename", f.Filename).Msg("dropped file")
		return
	}

	path, sum, err := s.files.Save(l.id, "", name, data)
	if err != nil {
		logger.Error().Err(err).Str("filename", name).Msg("store file")
		return
	}

	sess, _ := s.registry.Get(l.id)
	ft := models.FileTransfer{
		SessionID:  l.id,
		Filename:   name,
		Mimetype:   f.Mimetype,
		Size:       int64(len(data)),
		Direction:  models.Received,
		Sender:     sess.Username,
		StoredPath: path,
		Digest:     sum,
		Timestamp:  time.Now(),
	}
	if ft.Mimetype == "" {
		ft.Mimetype = protocol.DefaultMimetype
	}
	if ft.ID, err = s.store.SaveFile(l.id, ft); err != nil {
		logger.Error().Err(err).Msg("save file record")
	}

	logger.Info().Str("filename", name).Int64("size", ft.Size).Msg("file received")
	s.emit(events.Event{
		Type:      events.FileReceived,
		SessionID: l.id,
		Username:  sess.Username,
		File:      &ft,
	})
}
