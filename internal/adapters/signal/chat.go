package signal

import (
	"encoding/json"

	"github.com/demirkiran/cafe/internal/domain"
	"github.com/demirkiran/cafe/internal/protocol"
)

func (ctl *Controller) handleChat(id domain.PeerID, c *wsConn, req *protocol.Envelope) {
	var p protocol.ChatPayload
	if err := json.Unmarshal(req.Data, &p); err != nil {
		ctl.respondError(c, req, "bad payload")
		return
	}
	// Fan-out includes the sender; the response only acknowledges receipt.
	ctl.Orch.SendChat(id, p.Message, p.File)
	ctl.respond(c, req, protocol.SuccessResult{Success: true})
}
