package signal

import (
	"context"
	"errors"
	"net/http"
	"sync"

	"github.com/demirkiran/cafe/internal/app/orch"
	"github.com/demirkiran/cafe/internal/domain"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

var ErrBackpressure = errors.New("backpressure")

type Controller struct {
	Orch *orch.Orchestrator
}

func NewController(o *orch.Orchestrator) *Controller {
	return &Controller{Orch: o}
}

type wsConn struct {
	conn *websocket.Conn
	send chan []byte

	mu     sync.RWMutex
	closed bool
}

func (c *wsConn) TrySend(frame []byte) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return errors.New("connection closed")
	}
	select {
	case c.send <- frame:
	default:
		return ErrBackpressure
	}
	return nil
}

func (c *wsConn) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	_ = c.conn.Close()
	c.mu.Unlock()
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// HandleSignal upgrades the HTTP request and runs the connection until it
// drops. The client token cookie is the peer id for the connection lifetime.
func (ctl *Controller) HandleSignal(ctx context.Context, c *gin.Context) {
	peerID := domain.PeerID(c.GetString("client_token"))
	log.Info().Str("module", "signal").Str("peer", string(peerID)).Msg("new WS connection")

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Msg("ws upgrade")
		return
	}

	conn := &wsConn{
		conn: ws,
		send: make(chan []byte, 64),
	}

	ctx, cancel := context.WithCancel(ctx)
	ctl.Orch.Connect(peerID, conn, cancel)

	go ctl.writePump(ctx, conn)
	go ctl.readPump(ctx, peerID, conn)
}
