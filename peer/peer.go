// Package peer is the connecting side of the protocol: it dials a hub,
// introduces itself and keeps one conversation with it.
package peer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"lnmsg/events"
	"lnmsg/models"
	"lnmsg/protocol"
)

var ErrNotConnected = errors.New("not connected")

type Config struct {
	Addr         string
	Name         string
	DownloadDir  string
	DialTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
	ExitGrace    time.Duration
}

// Hub is what the peer knows about the hub it talks to.
type Hub struct {
	Name   string `json:"name"`
	Status string `json:"status"`
	Avatar string `json:"avatar"`
}

// Client is one live connection to a hub. All methods are safe for
// concurrent use.
type Client struct {
	config Config
	sink   events.Sink
	conn   net.Conn
	logger zerolog.Logger

	sendMu sync.Mutex

	mu      sync.RWMutex
	name    string
	status  string
	avatar  string
	hub     Hub
	history []models.Message
	files   []models.FileTransfer

	closing   atomic.Bool
	closeOnce sync.Once
	done      chan struct{}
}

// Dial connects to cfg.Addr and introduces the peer as cfg.Name.
func Dial(ctx context.Context, cfg Config, sink events.Sink) (*Client, error) {
	if cfg.DialTimeout == 0 {
		cfg.DialTimeout = 10 * time.Second
	}
	dialer := net.Dialer{Timeout: cfg.DialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", cfg.Addr)
	if err != nil {
		return nil, err
	}
	return NewClient(conn, cfg, sink)
}

// NewClient runs the peer protocol over an established connection. The
// read loop starts before the name is sent so a hub announcing itself
// first never blocks the handshake.
func NewClient(conn net.Conn, cfg Config, sink events.Sink) (*Client, error) {
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	if cfg.ExitGrace == 0 {
		cfg.ExitGrace = time.Second
	}
	if cfg.DownloadDir == "" {
		cfg.DownloadDir = "downloads"
	}
	if sink == nil {
		sink = events.Discard
	}

	name := strings.TrimSpace(cfg.Name)
	if name == "" {
		name = "Client"
	}

	c := &Client{
		config: cfg,
		sink:   events.Stamped(sink),
		conn:   conn,
		logger: log.With().Str("hub", conn.RemoteAddr().String()).Logger(),
		name:   name,
		hub:    Hub{Name: protocol.DefaultServerName},
		done:   make(chan struct{}),
	}

	go c.readLoop()

	if err := c.writeLine(name); err != nil {
		c.Close()
		return nil, fmt.Errorf("send name: %w", err)
	}

	c.logger.Info().Str("name", name).Msg("connected")
	c.sink.Emit(events.Event{
		Type:     events.PeerConnected,
		Address:  conn.RemoteAddr().String(),
		Username: name,
	})
	return c, nil
}

func (c *Client) readLoop() {
	defer c.Close()

	dec := protocol.NewDecoder(c.conn)
	dec.OnDiscard = func(err error, n int) {
		c.logger.Warn().Err(err).Int("bytes", n).Msg("dropped input")
		c.sink.Emit(events.Event{Type: events.Error, Value: err.Error()})
	}

	for {
		if c.config.IdleTimeout > 0 {
			c.conn.SetReadDeadline(time.Now().Add(c.config.IdleTimeout))
		}
		line, err := dec.Next()
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
				c.logger.Warn().Err(err).Msg("read failed")
			}
			return
		}
		if strings.TrimSpace(line) == "" {
			continue
		}

		frame, err := protocol.Classify(line)
		if err != nil {
			c.logger.Warn().Err(err).Msg("dropped frame")
			continue
		}
		if !c.dispatch(frame) {
			return
		}
	}
}

func (c *Client) dispatch(frame protocol.Frame) bool {
	switch f := frame.(type) {
	case protocol.ServerIdentity:
		c.setHub(events.ServerIdentity, f.Name)
	case protocol.ServerStatus:
		c.setHub(events.ServerStatus, f.Status)
	case protocol.ServerAvatar:
		c.setHub(events.ServerAvatar, f.Avatar)
	case protocol.ClientRename, protocol.ClientStatus, protocol.ClientAvatar:
		c.logger.Warn().Msg("hub sent a peer-only frame")
	case protocol.FileFrame:
		c.receiveFile(f)
	case protocol.Exit:
		c.logger.Info().Str("keyword", f.Text).Msg("hub said goodbye")
		if err := c.writeLine(protocol.Farewell); err != nil {
			c.logger.Debug().Err(err).Msg("send farewell")
		}
		return false
	case protocol.Plain:
		c.receiveMessage(f.Text)
	}
	return true
}

func (c *Client) setHub(kind events.Type, value string) {
	var previous string
	c.mu.Lock()
	switch kind {
	case events.ServerIdentity:
		previous, c.hub.Name = c.hub.Name, value
	case events.ServerStatus:
		previous, c.hub.Status = c.hub.Status, value
	case events.ServerAvatar:
		previous, c.hub.Avatar = c.hub.Avatar, value
	}
	c.mu.Unlock()

	c.sink.Emit(events.Event{Type: kind, Value: value, Previous: previous})
}

func (c *Client) receiveMessage(text string) {
	c.mu.Lock()
	m := models.Message{
		Direction: models.Received,
		Sender:    c.hub.Name,
		Body:      text,
		Timestamp: time.Now(),
	}
	c.history = append(c.history, m)
	c.mu.Unlock()

	c.sink.Emit(events.Event{Type: events.MessageReceived, Username: m.Sender, Message: &m})
}

func (c *Client) receiveFile(f protocol.FileFrame) {
	data, err := protocol.DecodeFile(f)
	if err != nil {
		c.logger.Warn().Err(err).Str("filename", f.Filename).Msg("dropped file")
		return
	}
	name, err := protocol.SanitizeFilename(f.Filename)
	if err != nil {
		c.logger.Warn().Err(err).Str("filename", f.Filename).Msg("dropped file")
		return
	}

	path, err := c.store(name, data)
	if err != nil {
		c.logger.Error().Err(err).Str("filename", name).Msg("store file")
		return
	}

	c.mu.Lock()
	ft := models.FileTransfer{
		Filename:   name,
		Mimetype:   f.Mimetype,
		Size:       int64(len(data)),
		Direction:  models.Received,
		Sender:     c.hub.Name,
		StoredPath: path,
		Timestamp:  time.Now(),
	}
	c.files = append(c.files, ft)
	c.mu.Unlock()

	c.logger.Info().Str("filename", name).Str("path", path).Msg("file received")
	c.sink.Emit(events.Event{Type: events.FileReceived, Username: ft.Sender, File: &ft})
}

// store writes data into the download directory. An existing file is
// never overwritten; the new one gets a unique prefix instead.
func (c *Client) store(name string, data []byte) (string, error) {
	if err := os.MkdirAll(c.config.DownloadDir, 0o755); err != nil {
		return "", err
	}
	path := filepath.Join(c.config.DownloadDir, name)
	for {
		f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if errors.Is(err, os.ErrExist) {
			path = filepath.Join(c.config.DownloadDir, uuid.NewString()[:8]+"_"+name)
			continue
		}
		if err != nil {
			return "", err
		}
		if _, err := f.Write(data); err != nil {
			f.Close()
			return "", err
		}
		return path, f.Close()
	}
}

func (c *Client) writeLine(line string) error {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout))
	_, err := c.conn.Write([]byte(line + "\n"))
	return err
}

// send writes line unless the connection is closing. A failed write
// closes the connection.
func (c *Client) send(line string) error {
	if c.closing.Load() {
		return ErrNotConnected
	}
	select {
	case <-c.done:
		return ErrNotConnected
	default:
	}
	if err := c.writeLine(line); err != nil {
		c.Close()
		return fmt.Errorf("%w: %v", ErrNotConnected, err)
	}
	return nil
}

// Send validates text and sends it to the hub. Sending an exit keyword
// closes the connection after the grace period.
func (c *Client) Send(text string) (models.Message, error) {
	text, err := protocol.ValidateMessage(text)
	if err != nil {
		return models.Message{}, err
	}
	if err := c.send(text); err != nil {
		return models.Message{}, err
	}
	if protocol.IsExitKeyword(text) {
		c.closing.Store(true)
		time.AfterFunc(c.config.ExitGrace, func() { c.Close() })
	}

	c.mu.Lock()
	m := models.Message{
		Direction: models.Sent,
		Sender:    c.name,
		Body:      text,
		Timestamp: time.Now(),
		Read:      true,
	}
	c.history = append(c.history, m)
	c.mu.Unlock()

	c.sink.Emit(events.Event{Type: events.MessageSent, Username: m.Sender, Message: &m})
	return m, nil
}

func (c *Client) Rename(name string) error {
	name, err := protocol.ValidateValue(name)
	if err != nil {
		return err
	}
	if err := c.send(protocol.FormatClientName(name)); err != nil {
		return err
	}
	c.mu.Lock()
	c.name = name
	c.mu.Unlock()
	return nil
}

func (c *Client) SetStatus(status string) error {
	status, err := protocol.ValidateValue(status)
	if err != nil {
		return err
	}
	if err := c.send(protocol.FormatClientStatus(status)); err != nil {
		return err
	}
	c.mu.Lock()
	c.status = status
	c.mu.Unlock()
	return nil
}

func (c *Client) SetAvatar(avatar string) error {
	avatar, err := protocol.ValidateValue(avatar)
	if err != nil {
		return err
	}
	if err := c.send(protocol.FormatClientAvatar(avatar)); err != nil {
		return err
	}
	c.mu.Lock()
	c.avatar = avatar
	c.mu.Unlock()
	return nil
}

// SendFile reads path and sends it as a file frame. The mimetype is taken
// from the extension.
func (c *Client) SendFile(path string) (models.FileTransfer, error) {
	info, err := os.Stat(path)
	if err != nil {
		return models.FileTransfer{}, err
	}
	if info.Size() > protocol.MaxFileSize {
		return models.FileTransfer{}, &protocol.PayloadTooLargeError{What: "file", Size: int(info.Size()), Limit: protocol.MaxFileSize}
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return models.FileTransfer{}, err
	}
	return c.SendData(filepath.Base(path), mime.TypeByExtension(filepath.Ext(path)), data)
}

// SendData sends data as a file named filename. Size and name are checked
// before anything is written.
func (c *Client) SendData(filename, mimetype string, data []byte) (models.FileTransfer, error) {
	line, err := protocol.EncodeFile(data, filename, mimetype)
	if err != nil {
		return models.FileTransfer{}, err
	}
	if err := c.send(line); err != nil {
		return models.FileTransfer{}, err
	}

	name, _ := protocol.SanitizeFilename(filename)
	if mimetype == "" {
		mimetype = protocol.DefaultMimetype
	}

	c.mu.Lock()
	ft := models.FileTransfer{
		Filename:  name,
		Mimetype:  mimetype,
		Size:      int64(len(data)),
		Direction: models.Sent,
		Sender:    c.name,
		Timestamp: time.Now(),
	}
	c.files = append(c.files, ft)
	c.mu.Unlock()

	c.sink.Emit(events.Event{Type: events.FileSent, Username: ft.Sender, File: &ft})
	return ft, nil
}

func (c *Client) History() []models.Message {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]models.Message(nil), c.history...)
}

func (c *Client) Files() []models.FileTransfer {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]models.FileTransfer(nil), c.files...)
}

func (c *Client) Hub() Hub {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.hub
}

// Name returns the name the peer currently announces.
func (c *Client) Name() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.name
}

// Done is closed once the connection is gone.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Close closes the connection. Only the first call has any effect.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.closing.Store(true)
		err = c.conn.Close()
		close(c.done)

		c.logger.Info().Msg("disconnected")
		c.mu.RLock()
		hub := c.hub.Name
		c.mu.RUnlock()
		c.sink.Emit(events.Event{
			Type:     events.PeerDisconnected,
			Address:  c.conn.RemoteAddr().String(),
			Username: hub,
		})
	})
	return err
}
