package peer

import (
	"bufio"
	"context"
	"encoding/base64"
	"errors"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"lnmsg/db"
	"lnmsg/events"
	"lnmsg/protocol"
	"lnmsg/server"
)

// startHub runs a real hub on a loopback port.
func startHub(t *testing.T) (*server.Server, *events.Recorder, string) {
	t.Helper()
	dir := t.TempDir()

	database, err := db.New(filepath.Join(dir, "hub.db"))
	if err != nil {
		t.Fatalf("Failed to create database: %v", err)
	}
	t.Cleanup(func() { database.Close() })

	rec := events.NewRecorder()
	srv := server.New(database, rec, &server.ServerConfig{
		FilesDir:  filepath.Join(dir, "files"),
		ExitGrace: 50 * time.Millisecond,
	})

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen failed: %v", err)
	}
	go srv.Serve(listener)
	t.Cleanup(srv.Shutdown)

	return srv, rec, listener.Addr().String()
}

func dialHub(t *testing.T, addr, name string) (*Client, *events.Recorder) {
	t.Helper()
	rec := events.NewRecorder()
	c, err := Dial(context.Background(), Config{
		Addr:        addr,
		Name:        name,
		DownloadDir: t.TempDir(),
		ExitGrace:   50 * time.Millisecond,
	}, rec)
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c, rec
}

type pipeHub struct {
	conn   net.Conn
	reader *bufio.Reader
}

// pipeHub plays the hub side by hand over an in-memory connection.
func newPipeHub(t *testing.T) (*pipeHub, *Client, *events.Recorder) {
	t.Helper()
	hubConn, peerConn := net.Pipe()
	t.Cleanup(func() { hubConn.Close() })

	rec := events.NewRecorder()
	type result struct {
		c   *Client
		err error
	}
	ready := make(chan result, 1)
	go func() {
		c, err := NewClient(peerConn, Config{Name: "Zoe", DownloadDir: t.TempDir()}, rec)
		ready <- result{c, err}
	}()

	h := &pipeHub{conn: hubConn, reader: bufio.NewReader(hubConn)}
	if name, err := h.read(2 * time.Second); err != nil || name != "Zoe" {
		t.Fatalf("Expected name line, got %q (%v)", name, err)
	}
	r := <-ready
	if r.err != nil {
		t.Fatalf("NewClient failed: %v", r.err)
	}
	t.Cleanup(func() { r.c.Close() })
	return h, r.c, rec
}

func (h *pipeHub) read(timeout time.Duration) (string, error) {
	h.conn.SetReadDeadline(time.Now().Add(timeout))
	line, err := h.reader.ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimSuffix(line, "\n"), nil
}

func (h *pipeHub) send(line string) error {
	h.conn.SetWriteDeadline(time.Now().Add(2 * time.Second))
	_, err := h.conn.Write([]byte(line + "\n"))
	return err
}

func waitCount(t *testing.T, rec *events.Recorder, typ events.Type, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for rec.Count(typ) < n {
		if time.Now().After(deadline) {
			t.Fatalf("Timed out waiting for %d %s events, have %d", n, typ, rec.Count(typ))
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func waitDone(t *testing.T, c *Client) {
	t.Helper()
	select {
	case <-c.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("Connection did not close")
	}
}

func TestConversationWithHub(t *testing.T) {
	srv, hubRec, addr := startHub(t)
	c, rec := dialHub(t, addr, "Alice")

	if _, ok := rec.Wait(events.ServerAvatar, 2*time.Second); !ok {
		t.Fatal("Hub identity not received")
	}
	if hub := c.Hub(); hub.Name != protocol.DefaultServerName || hub.Status == "" {
		t.Errorf("Unexpected hub info: %+v", hub)
	}

	ev, ok := hubRec.Wait(events.PeerConnected, 2*time.Second)
	if !ok || ev.Username != "Alice" {
		t.Fatalf("Unexpected connect event: %+v", ev)
	}

	if _, err := c.Send("Hello"); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	got, ok := hubRec.Wait(events.MessageReceived, 2*time.Second)
	if !ok || got.Message.Body != "Hello" {
		t.Errorf("Hub did not get message: %+v", got)
	}

	if _, err := srv.SendMessage(ev.SessionID, "Bienvenue Alice"); err != nil {
		t.Fatalf("Hub SendMessage failed: %v", err)
	}
	reply, ok := rec.Wait(events.MessageReceived, 2*time.Second)
	if !ok || reply.Message.Body != "Bienvenue Alice" || reply.Message.Sender != protocol.DefaultServerName {
		t.Errorf("Unexpected reply: %+v", reply)
	}

	history := c.History()
	if len(history) != 2 {
		t.Errorf("Expected 2 history entries, got %d", len(history))
	}
}

func TestPresenceUpdates(t *testing.T) {
	_, hubRec, addr := startHub(t)
	c, _ := dialHub(t, addr, "Bob")
	waitCount(t, hubRec, events.PeerConnected, 1)

	if err := c.Rename("Robert"); err != nil {
		t.Fatalf("Rename failed: %v", err)
	}
	if err := c.SetStatus("Away"); err != nil {
		t.Fatalf("SetStatus failed: %v", err)
	}
	if err := c.SetAvatar("🦊"); err != nil {
		t.Fatalf("SetAvatar failed: %v", err)
	}
	if err := c.SetStatus("  "); err == nil {
		t.Errorf("Expected empty status to be rejected")
	}

	ev, ok := hubRec.Wait(events.PeerAvatarChanged, 2*time.Second)
	if !ok || ev.Value != "🦊" || ev.Username != "Robert" {
		t.Errorf("Unexpected avatar event: %+v", ev)
	}
	if c.Name() != "Robert" {
		t.Errorf("Expected local name Robert, got %q", c.Name())
	}
}

func TestPeerExitKeyword(t *testing.T) {
	_, hubRec, addr := startHub(t)
	c, _ := dialHub(t, addr, "Carol")
	waitCount(t, hubRec, events.PeerConnected, 1)

	if _, err := c.Send("Au Revoir"); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if _, err := c.Send("too late"); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Expected ErrNotConnected while closing, got %v", err)
	}

	waitDone(t, c)
	waitCount(t, hubRec, events.PeerDisconnected, 1)
}

func TestHubExitKeyword(t *testing.T) {
	srv, hubRec, addr := startHub(t)
	c, rec := dialHub(t, addr, "Dan")
	ev, ok := hubRec.Wait(events.PeerConnected, 2*time.Second)
	if !ok {
		t.Fatal("No connect event")
	}

	if _, err := srv.SendMessage(ev.SessionID, "ciao"); err != nil {
		t.Fatalf("Hub SendMessage failed: %v", err)
	}

	waitDone(t, c)
	if n := rec.Count(events.PeerDisconnected); n != 1 {
		t.Errorf("Expected one disconnect event, got %d", n)
	}
	if n := rec.Count(events.MessageReceived); n != 0 {
		t.Errorf("Exit keyword must not be recorded, got %d messages", n)
	}
}

func TestSendTooLongWritesNothing(t *testing.T) {
	h, c, _ := newPipeHub(t)

	_, err := c.Send(strings.Repeat("é", 6000))
	if !errors.Is(err, protocol.ErrPayloadTooLarge) {
		t.Fatalf("Expected ErrPayloadTooLarge, got %v", err)
	}
	if _, err := h.read(200 * time.Millisecond); err == nil {
		t.Errorf("Nothing should have been written")
	}
	if len(c.History()) != 0 {
		t.Errorf("Rejected message must not reach history")
	}
}

func TestSendFileTooLarge(t *testing.T) {
	h, c, _ := newPipeHub(t)

	_, err := c.SendData("big.bin", "", make([]byte, 3<<20))
	if !errors.Is(err, protocol.ErrPayloadTooLarge) {
		t.Fatalf("Expected ErrPayloadTooLarge, got %v", err)
	}

	path := filepath.Join(t.TempDir(), "big.bin")
	if err := os.WriteFile(path, make([]byte, 3<<20), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := c.SendFile(path); !errors.Is(err, protocol.ErrPayloadTooLarge) {
		t.Errorf("Expected ErrPayloadTooLarge from SendFile, got %v", err)
	}
	if _, err := h.read(200 * time.Millisecond); err == nil {
		t.Errorf("Nothing should have been written")
	}
}

func TestSendFile(t *testing.T) {
	h, c, rec := newPipeHub(t)

	path := filepath.Join(t.TempDir(), "notes.txt")
	if err := os.WriteFile(path, []byte("remember"), 0o644); err != nil {
		t.Fatal(err)
	}

	done := make(chan error, 1)
	go func() {
		_, err := c.SendFile(path)
		done <- err
	}()

	line, err := h.read(2 * time.Second)
	if err != nil {
		t.Fatalf("Failed to read file frame: %v", err)
	}
	if !strings.HasPrefix(line, "__FILE__|notes.txt|text/plain") {
		t.Errorf("Unexpected frame %q", line)
	}
	if err := <-done; err != nil {
		t.Fatalf("SendFile failed: %v", err)
	}
	if _, ok := rec.Wait(events.FileSent, time.Second); !ok {
		t.Errorf("No file sent event")
	}
}

func TestReceiveFile(t *testing.T) {
	h, c, rec := newPipeHub(t)

	data := base64.StdEncoding.EncodeToString([]byte("payload"))
	frame := "__FILE__|../../secret.txt|text/plain|7|" + data
	h.send(frame)
	h.send(frame)

	waitCount(t, rec, events.FileReceived, 2)
	files := c.Files()
	if len(files) != 2 {
		t.Fatalf("Expected 2 files, got %d", len(files))
	}
	if files[0].StoredPath == files[1].StoredPath {
		t.Errorf("Second file overwrote the first: %s", files[0].StoredPath)
	}
	for _, f := range files {
		if filepath.Base(f.StoredPath) != "secret.txt" && !strings.HasSuffix(f.StoredPath, "_secret.txt") {
			t.Errorf("Unexpected stored path %s", f.StoredPath)
		}
		got, err := os.ReadFile(f.StoredPath)
		if err != nil || string(got) != "payload" {
			t.Errorf("Stored content mismatch: %q, %v", got, err)
		}
	}
}

func TestReceiveFileKeepsExistingDownload(t *testing.T) {
	h, c, rec := newPipeHub(t)

	existing := filepath.Join(c.config.DownloadDir, "notes.txt")
	if err := os.WriteFile(existing, []byte("mine"), 0o644); err != nil {
		t.Fatalf("Failed to write file: %v", err)
	}

	h.send("__FILE__|notes.txt|text/plain|5|" + base64.StdEncoding.EncodeToString([]byte("yours")))
	ev, ok := rec.Wait(events.FileReceived, 2*time.Second)
	if !ok {
		t.Fatal("No file event")
	}
	if ev.File.StoredPath == existing {
		t.Errorf("Download replaced the existing file")
	}
	if got, _ := os.ReadFile(existing); string(got) != "mine" {
		t.Errorf("Existing file changed to %q", got)
	}
	if got, _ := os.ReadFile(ev.File.StoredPath); string(got) != "yours" {
		t.Errorf("Stored content mismatch: %q", got)
	}
}

func TestInvalidInputFromHub(t *testing.T) {
	h, _, rec := newPipeHub(t)

	h.send("bad \xff\xfe line")
	ev, ok := rec.Wait(events.Error, 2*time.Second)
	if !ok || ev.Value != protocol.ErrInvalidEncoding.Error() {
		t.Errorf("Expected invalid encoding error event, got %+v", ev)
	}

	h.send("still here")
	waitCount(t, rec, events.MessageReceived, 1)
}

func TestHubFramesAndMalformedLines(t *testing.T) {
	h, c, rec := newPipeHub(t)

	h.send("__SERVER_NAME__:")
	h.send("__SERVER_STATUS__:Busy")
	h.send("__CLIENT_NAME__:Mallory")
	h.send("__FILE__|only|three")
	h.send("   ")
	h.send("plain text")

	waitCount(t, rec, events.MessageReceived, 1)
	hub := c.Hub()
	if hub.Name != protocol.DefaultServerName || hub.Status != "Busy" {
		t.Errorf("Unexpected hub info: %+v", hub)
	}
	if c.Name() != "Zoe" {
		t.Errorf("Hub must not rename the peer, got %q", c.Name())
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	_, c, rec := newPipeHub(t)

	c.Close()
	c.Close()
	waitDone(t, c)

	if n := rec.Count(events.PeerDisconnected); n != 1 {
		t.Errorf("Expected one disconnect event, got %d", n)
	}
	if _, err := c.Send("hello"); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Expected ErrNotConnected, got %v", err)
	}
}
