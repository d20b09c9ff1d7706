// Package ipc carries control commands from iris-ctl to the daemon over a
// unix socket.
package ipc

import (
	"encoding/json"
	"errors"
	"fmt"
	log "log/slog"
	"net"
	"os"
	"time"
)

const DefaultSocketPath = "/tmp/iris.sock"

const (
	CmdTrigger = "trigger" // listen for one spoken command
	CmdSay     = "say"     // handle Text as if it was spoken
	CmdFile    = "file"    // transcribe the recording at Text and handle it
	CmdStatus  = "status"
)

type ControlMessage struct {
	Cmd  string `json:"cmd"`
	Text string `json:"text,omitempty"`
}

type Reply struct {
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
	Text  string `json:"text,omitempty"`
}

type Handler func(ControlMessage) Reply

type Server struct {
	ln   net.Listener
	path string
}

// Listen binds the socket and serves connections in the background, one
// message and one reply per connection.
func Listen(path string, handler Handler) (*Server, error) {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("remove stale socket: %w", err)
	}

	ln, err := net.Listen("unix", path)
	if err != nil {
		return nil, fmt.Errorf("listen: %w", err)
	}

	s := &Server{ln: ln, path: path}
	go s.serve(handler)

	return s, nil
}

func (s *Server) Close() error {
	err := s.ln.Close()
	os.Remove(s.path)
	return err
}

func (s *Server) serve(handler Handler) {
	for {
		conn, err := s.ln.Accept()
		if errors.Is(err, net.ErrClosed) {
			return
		}
		if err != nil {
			log.Warn("Failed to accept control connection", "err", err)
			continue
		}
		go handleConn(conn, handler)
	}
}

func handleConn(conn net.Conn, handler Handler) {
	defer conn.Close()

	var msg ControlMessage
	if err := json.NewDecoder(conn).Decode(&msg); err != nil {
		log.Warn("Malformed control message", "err", err)
		return
	}

	reply := handler(msg)

	if err := json.NewEncoder(conn).Encode(reply); err != nil {
		log.Debug("Failed to send control reply", "err", err)
	}
}

// Send delivers one command and waits up to timeout for the reply.
func Send(path string, msg ControlMessage, timeout time.Duration) (Reply, error) {
	conn, err := net.DialTimeout("unix", path, timeout)
	if err != nil {
		return Reply{}, err
	}
	defer conn.Close()

	if timeout > 0 {
		conn.SetDeadline(time.Now().Add(timeout))
	}

	if err := json.NewEncoder(conn).Encode(msg); err != nil {
		return Reply{}, fmt.Errorf("send: %w", err)
	}

	var reply Reply
	if err := json.NewDecoder(conn).Decode(&reply); err != nil {
		return Reply{}, fmt.Errorf("read reply: %w", err)
	}

	return reply, nil
}
