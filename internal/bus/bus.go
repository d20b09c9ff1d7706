// Package bus connects Iris to a websocket hub: observations, replies and
// state changes go out, remote commands come in.
package bus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	log "log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const Name = "iris"

const (
	KindObservation = "observation"
	KindReply       = "reply"
	KindState       = "state"
	KindCommand     = "command"
)

var ErrClosed = errors.New("bus: closed")

type Message struct {
	From    string    `json:"from"`
	To      string    `json:"to"`
	Kind    string    `json:"kind"`
	Content string    `json:"content"`
	Time    time.Time `json:"time"`
	Regions int       `json:"regions,omitempty"`
}

// Bus writes from a single goroutine; Publish never blocks the caller.
type Bus struct {
	conn *websocket.Conn
	out  chan *Message

	closeOnce sync.Once
	closed    chan struct{}
	done      chan struct{}
}

func Dial(ctx context.Context, hubURL string, backlog int) (*Bus, error) {
	u, err := url.Parse(hubURL)
	if err != nil {
		return nil, fmt.Errorf("parse hub url: %w", err)
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("dial hub: %w", err)
	}

	if backlog < 1 {
		backlog = 1
	}

	b := &Bus{
		conn:   conn,
		out:    make(chan *Message, backlog),
		closed: make(chan struct{}),
		done:   make(chan struct{}),
	}
	go b.writer()

	log.Info("Connected to bus", "url", hubURL)

	return b, nil
}

// Publish queues m for the hub and drops it when the backlog is full.
func (b *Bus) Publish(kind, content string) bool {
	return b.Send(&Message{From: Name, Kind: kind, Content: content})
}

func (b *Bus) Send(m *Message) bool {
	if m.Time.IsZero() {
		m.Time = time.Now()
	}

	select {
	case <-b.closed:
		return false
	default:
	}

	select {
	case b.out <- m:
		return true
	default:
		log.Warn("Bus backlog full, dropping message", "kind", m.Kind)
		return false
	}
}

// Run reads messages until the connection fails or ctx ends, passing
// commands addressed to us (or to nobody) to handle.
func (b *Bus) Run(ctx context.Context, handle func(*Message)) error {
	go func() {
		select {
		case <-ctx.Done():
			b.Close()
		case <-b.closed:
		}
	}()

	for {
		m, err := b.read()
		if err != nil {
			select {
			case <-b.closed:
				return ErrClosed
			default:
			}
			return err
		}

		if m.Kind != KindCommand || (m.To != "" && m.To != Name) {
			log.Debug("Ignoring bus message", "kind", m.Kind, "to", m.To)
			continue
		}

		handle(m)
	}
}

func (b *Bus) Close() error {
	var err error

	b.closeOnce.Do(func() {
		close(b.closed)
		<-b.done
		b.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		err = b.conn.Close()
	})

	return err
}

func (b *Bus) read() (*Message, error) {
	_, data, err := b.conn.ReadMessage()
	if err != nil {
		return nil, err
	}

	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("decode bus message: %w", err)
	}

	return &m, nil
}

func (b *Bus) writer() {
	defer close(b.done)

	for {
		select {
		case <-b.closed:
			return
		case m := <-b.out:
			data, err := json.Marshal(m)
			if err != nil {
				log.Error("Failed to encode bus message", "err", err)
				continue
			}
			if err := b.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Error("Failed to write to bus", "err", err)
			}
		}
	}
}
