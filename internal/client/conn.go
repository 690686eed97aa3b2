// Package client implements the signaling side of a conference participant:
// a correlated request/response connection, the media handshake coordinator
// and the room directory mirror.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"

	"github.com/demirkiran/cafe/internal/protocol"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

var (
	ErrConnClosed     = errors.New("connection closed")
	ErrServerRejected = errors.New("server rejected request")
)

// PushHandler receives one unsolicited server event.
type PushHandler func(data json.RawMessage)

// Conn is a signaling connection. Requests carry a generated correlation id
// and block until the matching response arrives; push events fan out to
// registered handlers on the read loop goroutine.
type Conn struct {
	ws *websocket.Conn

	writeMu sync.Mutex

	mu      sync.Mutex
	pending map[string]chan protocol.Envelope
	closed  bool

	handlerMu sync.RWMutex
	handlers  map[string][]PushHandler

	done chan struct{}
}

// Dial connects to the signaling endpoint and starts the read loop.
func Dial(ctx context.Context, url string, header http.Header) (*Conn, error) {
	ws, _, err := websocket.DefaultDialer.DialContext(ctx, url, header)
	if err != nil {
		return nil, err
	}
	c := &Conn{
		ws:       ws,
		pending:  make(map[string]chan protocol.Envelope),
		handlers: make(map[string][]PushHandler),
		done:     make(chan struct{}),
	}
	go c.readLoop()
	return c, nil
}

// On registers a handler for a push event. Handlers run on the read loop;
// they must not block.
func (c *Conn) On(event string, h PushHandler) {
	c.handlerMu.Lock()
	c.handlers[event] = append(c.handlers[event], h)
	c.handlerMu.Unlock()
}

// Request sends one request and waits for its response or ctx expiry.
func (c *Conn) Request(ctx context.Context, event string, payload any) (json.RawMessage, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	id := uuid.NewString()
	ch := make(chan protocol.Envelope, 1)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrConnClosed
	}
	c.pending[id] = ch
	c.mu.Unlock()

	frame, err := json.Marshal(protocol.Envelope{ID: id, Event: event, Data: data})
	if err != nil {
		c.forget(id)
		return nil, err
	}
	c.writeMu.Lock()
	err = c.ws.WriteMessage(websocket.TextMessage, frame)
	c.writeMu.Unlock()
	if err != nil {
		c.forget(id)
		return nil, err
	}

	select {
	case <-ctx.Done():
		c.forget(id)
		return nil, ctx.Err()
	case <-c.done:
		return nil, ErrConnClosed
	case resp := <-ch:
		if resp.Error != "" {
			return nil, errors.Join(ErrServerRejected, errors.New(resp.Error))
		}
		return resp.Data, nil
	}
}

// Close tears the connection down and fails every outstanding request.
func (c *Conn) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.pending = make(map[string]chan protocol.Envelope)
	c.mu.Unlock()

	close(c.done)
	_ = c.ws.Close()
}

// Done closes when the connection is gone, normally or not.
func (c *Conn) Done() <-chan struct{} { return c.done }

func (c *Conn) forget(id string) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

func (c *Conn) readLoop() {
	defer c.Close()
	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			log.Debug().Err(err).Str("module", "client").Msg("read loop exit")
			return
		}

		var env protocol.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			log.Warn().Err(err).Str("module", "client").Msg("bad frame")
			continue
		}

		switch {
		case env.IsResponse():
			c.mu.Lock()
			ch, ok := c.pending[env.ID]
			if ok {
				delete(c.pending, env.ID)
			}
			c.mu.Unlock()
			if ok {
				ch <- env
			}
		case env.Event != "":
			c.handlerMu.RLock()
			hs := c.handlers[env.Event]
			c.handlerMu.RUnlock()
			for _, h := range hs {
				h(env.Data)
			}
		}
	}
}
