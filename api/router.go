// Package api exposes the hub to its operator over HTTP.
package api

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"

	"lnmsg/models"
	"lnmsg/session"
)

// Hub is the operator surface of the running hub.
type Hub interface {
	Sessions() []session.Session
	Session(id int64) (session.Session, bool)
	History(id int64) ([]models.Message, error)
	Files(id int64) ([]models.FileTransfer, error)
	SendMessage(id int64, text string) (models.Message, error)
	SendFile(id int64, filename, mimetype string, data []byte) (models.FileTransfer, error)
	MarkRead(id int64) (int, error)
	Disconnect(id int64) error
	Identity() (name, status, avatar string)
	SetIdentity(name string) error
	SetStatus(status string) error
	SetAvatar(avatar string) error
}

// Archive is the stored history of every peer, connected or not.
type Archive interface {
	Peers() ([]models.Peer, error)
	Export(id int64) (*models.Export, error)
}

type handler struct {
	hub     Hub
	archive Archive
}

// NewRouter builds the HTTP routes. stream serves /events and may be nil.
func NewRouter(hub Hub, archive Archive, stream http.Handler) *mux.Router {
	h := &handler{hub: hub, archive: archive}

	r := mux.NewRouter()
	r.Use(logRequests)

	r.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintln(w, "OK")
	}).Methods("GET")

	r.HandleFunc("/api/sessions", h.listSessions).Methods("GET")
	r.HandleFunc("/api/sessions/{id:[0-9]+}", h.getSession).Methods("GET")
	r.HandleFunc("/api/sessions/{id:[0-9]+}", h.disconnect).Methods("DELETE")
	r.HandleFunc("/api/sessions/{id:[0-9]+}/messages", h.getMessages).Methods("GET")
	r.HandleFunc("/api/sessions/{id:[0-9]+}/messages", h.sendMessage).Methods("POST")
	r.HandleFunc("/api/sessions/{id:[0-9]+}/files", h.getFiles).Methods("GET")
	r.HandleFunc("/api/sessions/{id:[0-9]+}/files", h.sendFile).Methods("POST")
	r.HandleFunc("/api/sessions/{id:[0-9]+}/read", h.markRead).Methods("POST")

	r.HandleFunc("/api/identity", h.getIdentity).Methods("GET")
	r.HandleFunc("/api/identity", h.putIdentity).Methods("PUT")

	r.HandleFunc("/api/peers", h.listPeers).Methods("GET")
	r.HandleFunc("/api/peers/{id:[0-9]+}/export", h.exportPeer).Methods("GET")

	if stream != nil {
		r.Handle("/events", stream).Methods("GET")
	}
	return r
}

func logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Dur("took", time.Since(start)).
			Msg("http request")
	})
}
