package signal

import (
	"time"

	"github.com/demirkiran/cafe/internal/protocol"
)

func (ctl *Controller) handlePing(c *wsConn, req *protocol.Envelope) {
	ctl.respond(c, req, protocol.PingResult{
		Pong:      true,
		Timestamp: time.Now().UnixMilli(),
	})
}
