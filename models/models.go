package models

import "time"

// Direction tells which side produced a message or file.
type Direction string

const (
	Received Direction = "received"
	Sent     Direction = "sent"
)

type Message struct {
	ID        int64     `json:"id,omitempty"`
	SessionID int64     `json:"session_id"`
	Direction Direction `json:"type"`
	Sender    string    `json:"sender"`
	Body      string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
	Read      bool      `json:"read"`
}

type FileTransfer struct {
	ID         int64     `json:"id,omitempty"`
	SessionID  int64     `json:"session_id"`
	Filename   string    `json:"filename"`
	Mimetype   string    `json:"mimetype"`
	Size       int64     `json:"size"`
	Direction  Direction `json:"type"`
	Sender     string    `json:"sender"`
	StoredPath string    `json:"file_path"`
	Digest     string    `json:"digest,omitempty"` // blake2b-256, hex
	Timestamp  time.Time `json:"timestamp"`
}

// Peer is the durable record of a peer that has connected at least once.
type Peer struct {
	ID           int64     `json:"client_id"`
	Username     string    `json:"username"`
	Address      string    `json:"address"`
	Status       string    `json:"status"`
	Avatar       string    `json:"avatar"`
	FirstSeen    time.Time `json:"first_seen"`
	LastSeen     time.Time `json:"last_seen"`
	MessageCount int       `json:"message_count"`
	FileCount    int       `json:"file_count"`
}

// Export bundles everything stored about one peer.
type Export struct {
	Peer     *Peer          `json:"client"`
	Messages []Message      `json:"messages"`
	Files    []FileTransfer `json:"files"`
}
