package db

import (
	"path/filepath"
	"sync"
	"testing"
	"time"

	"lnmsg/models"
)

func setupTestDB(t *testing.T) *DB {
	t.Helper()
	database, err := New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Failed to create database: %v", err)
	}
	t.Cleanup(func() { database.Close() })
	return database
}

func TestMessagesRoundTrip(t *testing.T) {
	database := setupTestDB(t)

	if err := database.TouchPeer(1, "Alice", "127.0.0.1:4000"); err != nil {
		t.Fatalf("TouchPeer failed: %v", err)
	}

	now := time.Now().UTC().Truncate(time.Millisecond)
	in := []models.Message{
		{Direction: models.Received, Sender: "Alice", Body: "Hello", Timestamp: now},
		{Direction: models.Sent, Sender: "Serveur", Body: "Hi Alice", Timestamp: now.Add(time.Second)},
	}
	for _, m := range in {
		if _, err := database.SaveMessage(1, m); err != nil {
			t.Fatalf("SaveMessage failed: %v", err)
		}
	}

	got, err := database.Messages(1)
	if err != nil {
		t.Fatalf("Messages failed: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("Expected 2 messages, got %d", len(got))
	}
	if got[0].Body != "Hello" || got[0].Direction != models.Received || !got[0].Timestamp.Equal(now) {
		t.Errorf("Unexpected first message: %+v", got[0])
	}
	if got[1].Sender != "Serveur" || got[1].Direction != models.Sent {
		t.Errorf("Unexpected second message: %+v", got[1])
	}

	peer, err := database.Peer(1)
	if err != nil {
		t.Fatalf("Peer failed: %v", err)
	}
	if peer.MessageCount != 2 || peer.Username != "Alice" {
		t.Errorf("Unexpected peer record: %+v", peer)
	}
}

func TestMarkMessagesRead(t *testing.T) {
	database := setupTestDB(t)
	database.TouchPeer(1, "Alice", "a")
	database.SaveMessage(1, models.Message{Direction: models.Received, Sender: "Alice", Body: "one", Timestamp: time.Now()})
	database.SaveMessage(1, models.Message{Direction: models.Sent, Sender: "Serveur", Body: "two", Timestamp: time.Now()})

	n, err := database.MarkMessagesRead(1)
	if err != nil || n != 1 {
		t.Fatalf("Expected 1 message marked, got %d, %v", n, err)
	}
	if n, _ := database.MarkMessagesRead(1); n != 0 {
		t.Errorf("Expected second call to mark nothing, got %d", n)
	}

	msgs, _ := database.Messages(1)
	if !msgs[0].Read || msgs[1].Read {
		t.Errorf("Unexpected read flags: %v %v", msgs[0].Read, msgs[1].Read)
	}
}

func TestFilesAndExport(t *testing.T) {
	database := setupTestDB(t)
	database.TouchPeer(4, "Bob", "b")

	f := models.FileTransfer{
		Filename:   "photo.png",
		Mimetype:   "image/png",
		Size:       1234,
		Direction:  models.Received,
		Sender:     "Bob",
		StoredPath: "/tmp/files/client_4/x_photo.png",
		Digest:     "abcd",
		Timestamp:  time.Now(),
	}
	if _, err := database.SaveFile(4, f); err != nil {
		t.Fatalf("SaveFile failed: %v", err)
	}

	exp, err := database.Export(4)
	if err != nil {
		t.Fatalf("Export failed: %v", err)
	}
	if exp.Peer == nil || exp.Peer.FileCount != 1 {
		t.Errorf("Expected peer with one file, got %+v", exp.Peer)
	}
	if len(exp.Files) != 1 || exp.Files[0].Digest != "abcd" || exp.Files[0].Size != 1234 {
		t.Errorf("Unexpected files: %+v", exp.Files)
	}

	if _, err := database.Peer(99); err != ErrNoRows {
		t.Errorf("Expected ErrNoRows, got %v", err)
	}
}

func TestTouchPeerAndPresence(t *testing.T) {
	database := setupTestDB(t)
	database.TouchPeer(2, "Client_2", "c")
	database.TouchPeer(2, "Carol", "c")
	if err := database.UpdatePeerPresence(2, "Busy", "🐱"); err != nil {
		t.Fatalf("UpdatePeerPresence failed: %v", err)
	}

	peers, err := database.Peers()
	if err != nil {
		t.Fatalf("Peers failed: %v", err)
	}
	if len(peers) != 1 || peers[0].Username != "Carol" || peers[0].Status != "Busy" || peers[0].Avatar != "🐱" {
		t.Errorf("Unexpected peers: %+v", peers)
	}

	database.TouchPeer(9, "Dave", "d")
	if id, err := database.MaxPeerID(); err != nil || id != 9 {
		t.Errorf("Expected max id 9, got %d, %v", id, err)
	}
}

func TestConcurrentAppend(t *testing.T) {
	database := setupTestDB(t)
	const peers, perPeer = 4, 25

	var wg sync.WaitGroup
	for p := int64(1); p <= peers; p++ {
		database.TouchPeer(p, "peer", "addr")
		wg.Add(1)
		go func(id int64) {
			defer wg.Done()
			for i := 0; i < perPeer; i++ {
				if _, err := database.SaveMessage(id, models.Message{Direction: models.Received, Sender: "peer", Body: "x", Timestamp: time.Now()}); err != nil {
					t.Errorf("SaveMessage failed: %v", err)
					return
				}
			}
		}(p)
	}
	wg.Wait()

	for p := int64(1); p <= peers; p++ {
		msgs, err := database.Messages(p)
		if err != nil || len(msgs) != perPeer {
			t.Errorf("Peer %d: expected %d messages, got %d, %v", p, perPeer, len(msgs), err)
		}
	}
}

func TestDeleteOldMessages(t *testing.T) {
	database := setupTestDB(t)
	database.SaveMessage(1, models.Message{Direction: models.Received, Sender: "a", Body: "x", Timestamp: time.Now()})

	n, err := database.DeleteOldMessages(30)
	if err != nil || n != 0 {
		t.Errorf("Expected recent message to survive, deleted %d, %v", n, err)
	}
	n, err = database.DeleteOldMessages(-1)
	if err != nil || n != 1 {
		t.Errorf("Expected message to be deleted, deleted %d, %v", n, err)
	}
}
