package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"

	"lnmsg/db"
	"lnmsg/models"
	"lnmsg/protocol"
	"lnmsg/server"
	"lnmsg/session"
)

// SessionView is a connected session as the API reports it.
type SessionView struct {
	ID          int64     `json:"client_id"`
	Address     string    `json:"address"`
	Username    string    `json:"username"`
	Status      string    `json:"status"`
	Avatar      string    `json:"avatar"`
	ConnectedAt time.Time `json:"connected_at"`
	Messages    int       `json:"message_count"`
	Unread      int       `json:"unread"`
}

type Identity struct {
	Name   string `json:"name"`
	Status string `json:"status"`
	Avatar string `json:"avatar"`
}

type messageRequest struct {
	Message string `json:"message"`
}

func viewOf(s session.Session) SessionView {
	return SessionView{
		ID:          s.ID,
		Address:     s.Address,
		Username:    s.Username,
		Status:      s.Status,
		Avatar:      s.Avatar,
		ConnectedAt: s.ConnectedAt,
		Messages:    len(s.History),
		Unread:      s.Unread(),
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError maps engine errors onto status codes.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	var maxBytes *http.MaxBytesError
	switch {
	case errors.Is(err, protocol.ErrPayloadTooLarge), errors.As(err, &maxBytes):
		status = http.StatusRequestEntityTooLarge
	case errors.Is(err, server.ErrUnknownSession), errors.Is(err, db.ErrNoRows):
		status = http.StatusNotFound
	case errors.Is(err, server.ErrConnectionLost):
		status = http.StatusBadGateway
	case errors.Is(err, protocol.ErrEmptyMessage),
		errors.Is(err, protocol.ErrInvalidText),
		errors.Is(err, protocol.ErrReservedPrefix),
		errors.Is(err, protocol.ErrInvalidFilename):
		status = http.StatusBadRequest
	}
	if status == http.StatusInternalServerError {
		log.Error().Err(err).Msg("api request failed")
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func sessionID(r *http.Request) int64 {
	id, _ := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	return id
}

func (h *handler) listSessions(w http.ResponseWriter, r *http.Request) {
	sessions := h.hub.Sessions()
	views := make([]SessionView, 0, len(sessions))
	for _, s := range sessions {
		views = append(views, viewOf(s))
	}
	writeJSON(w, http.StatusOK, views)
}

func (h *handler) getSession(w http.ResponseWriter, r *http.Request) {
	s, ok := h.hub.Session(sessionID(r))
	if !ok {
		writeError(w, server.ErrUnknownSession)
		return
	}
	writeJSON(w, http.StatusOK, viewOf(s))
}

func (h *handler) disconnect(w http.ResponseWriter, r *http.Request) {
	if err := h.hub.Disconnect(sessionID(r)); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) getMessages(w http.ResponseWriter, r *http.Request) {
	messages, err := h.hub.History(sessionID(r))
	if err != nil {
		writeError(w, err)
		return
	}
	if messages == nil {
		messages = []models.Message{}
	}
	writeJSON(w, http.StatusOK, messages)
}

func (h *handler) sendMessage(w http.ResponseWriter, r *http.Request) {
	var req messageRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 64<<10)).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request"})
		return
	}
	m, err := h.hub.SendMessage(sessionID(r), req.Message)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, m)
}

func (h *handler) getFiles(w http.ResponseWriter, r *http.Request) {
	files, err := h.hub.Files(sessionID(r))
	if err != nil {
		writeError(w, err)
		return
	}
	if files == nil {
		files = []models.FileTransfer{}
	}
	writeJSON(w, http.StatusOK, files)
}

func (h *handler) sendFile(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 2*protocol.MaxFileSize)
	if err := r.ParseMultipartForm(protocol.MaxFileSize); err != nil {
		var maxBytes *http.MaxBytesError
		if errors.As(err, &maxBytes) {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid multipart form"})
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "missing file field"})
		return
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, protocol.MaxFileSize+1))
	if err != nil {
		writeError(w, err)
		return
	}

	ft, err := h.hub.SendFile(sessionID(r), header.Filename, header.Header.Get("Content-Type"), data)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, ft)
}

func (h *handler) markRead(w http.ResponseWriter, r *http.Request) {
	n, err := h.hub.MarkRead(sessionID(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"count": n})
}

func (h *handler) getIdentity(w http.ResponseWriter, r *http.Request) {
	name, status, avatar := h.hub.Identity()
	writeJSON(w, http.StatusOK, Identity{Name: name, Status: status, Avatar: avatar})
}

// putIdentity applies every non-empty field and broadcasts it to the peers.
func (h *handler) putIdentity(w http.ResponseWriter, r *http.Request) {
	var req Identity
	if err := json.NewDecoder(io.LimitReader(r.Body, 16<<10)).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request"})
		return
	}

	for _, set := range []struct {
		value string
		apply func(string) error
	}{
		{req.Name, h.hub.SetIdentity},
		{req.Status, h.hub.SetStatus},
		{req.Avatar, h.hub.SetAvatar},
	} {
		if set.value == "" {
			continue
		}
		if err := set.apply(set.value); err != nil {
			writeError(w, err)
			return
		}
	}

	h.getIdentity(w, r)
}

func (h *handler) listPeers(w http.ResponseWriter, r *http.Request) {
	peers, err := h.archive.Peers()
	if err != nil {
		writeError(w, err)
		return
	}
	if peers == nil {
		peers = []models.Peer{}
	}
	writeJSON(w, http.StatusOK, peers)
}

func (h *handler) exportPeer(w http.ResponseWriter, r *http.Request) {
	export, err := h.archive.Export(sessionID(r))
	if err != nil {
		writeError(w, err)
		return
	}
	if export.Peer == nil && len(export.Messages) == 0 && len(export.Files) == 0 {
		writeError(w, db.ErrNoRows)
		return
	}
	w.Header().Set("Content-Disposition", "attachment; filename=client_"+mux.Vars(r)["id"]+".json")
	writeJSON(w, http.StatusOK, export)
}
