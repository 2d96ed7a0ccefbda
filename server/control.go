package server

import (
	"bufio"
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"
)

// ServeControl listens on a unix socket for one-line management commands.
// shutdown is called when a client asks the hub to stop.
func (s *Server) ServeControl(path string, shutdown func()) error {
	os.Remove(path)

	listener, err := net.Listen("unix", path)
	if err != nil {
		return fmt.Errorf("control socket: %w", err)
	}
	defer os.Remove(path)

	go func() {
		<-s.quit
		listener.Close()
	}()

	log.Info().Str("path", path).Msg("control socket listening")

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
			continue
		}

		go s.handleControlCommand(conn, shutdown)
	}
}

func (s *Server) handleControlCommand(conn net.Conn, shutdown func()) {
	defer conn.Close()

	reader := bufio.NewReader(conn)
	line, err := reader.ReadString('\n')
	if err != nil && line == "" {
		return
	}

	line = strings.TrimSpace(line)
	parts := strings.SplitN(line, "|", 2)

	switch parts[0] {
	case "stats":
		conn.Write([]byte("OK|" + s.Stats() + "\n"))

	case "sessions":
		sessions := s.Sessions()
		rows := make([]string, 0, len(sessions))
		for _, sess := range sessions {
			rows = append(rows, fmt.Sprintf("%d,%s,%s", sess.ID, sess.Username, sess.Address))
		}
		conn.Write([]byte("OK|" + strings.Join(rows, ";") + "\n"))

	case "kick":
		if len(parts) < 2 {
			conn.Write([]byte("ERROR|Session id required\n"))
			return
		}
		id, err := strconv.ParseInt(strings.TrimSpace(parts[1]), 10, 64)
		if err != nil {
			conn.Write([]byte("ERROR|Invalid session id\n"))
			return
		}
		if err := s.Disconnect(id); err != nil {
			conn.Write([]byte("ERROR|" + err.Error() + "\n"))
			return
		}
		conn.Write([]byte("OK|Disconnected\n"))

	case "shutdown":
		conn.Write([]byte("OK|Shutting down\n"))
		conn.Close()

		log.Info().Msg("shutdown requested over control socket")
		if shutdown != nil {
			shutdown()
		}

	default:
		conn.Write([]byte("ERROR|Unknown command\n"))
	}
}
