package signal

import (
	"encoding/json"
	"errors"

	"github.com/demirkiran/cafe/internal/domain"
	"github.com/demirkiran/cafe/internal/protocol"
	"github.com/rs/zerolog/log"
)

const wrongPasswordMessage = "Yanlış şifre!"

func (ctl *Controller) handleSetUsername(id domain.PeerID, c *wsConn, req *protocol.Envelope) {
	var p protocol.SetUsernamePayload
	if err := json.Unmarshal(req.Data, &p); err != nil {
		ctl.respondError(c, req, "bad payload")
		return
	}

	err := ctl.Orch.Identify(id, p.Username, p.Password, p.RoomID)
	switch {
	case err == nil:
		ctl.respond(c, req, protocol.SetUsernameResult{Success: true})
	case errors.Is(err, domain.ErrInvalidCredentials):
		// A wrong password is a negative result, not a protocol error.
		ctl.respond(c, req, protocol.SetUsernameResult{Success: false, Error: wrongPasswordMessage})
	default:
		log.Error().Err(err).Str("module", "signal").Str("peer", string(id)).Msg("set username")
		ctl.respond(c, req, protocol.SetUsernameResult{Success: false, Error: err.Error()})
	}
}

func (ctl *Controller) handleGetUsers(id domain.PeerID, c *wsConn, req *protocol.Envelope) {
	users := ctl.Orch.Users(id)
	if users == nil {
		users = []domain.Summary{}
	}
	ctl.respond(c, req, protocol.GetUsersResult{Users: users})
}

func (ctl *Controller) handleStatus(id domain.PeerID, c *wsConn, req *protocol.Envelope) {
	var p protocol.StatusPayload
	if err := json.Unmarshal(req.Data, &p); err != nil {
		ctl.respondError(c, req, "bad payload")
		return
	}
	if err := ctl.Orch.SetStatus(id, p); err != nil {
		ctl.respondError(c, req, err.Error())
		return
	}
	ctl.respond(c, req, protocol.SuccessResult{Success: true})
}
