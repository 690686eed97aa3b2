package signal

import (
	"encoding/json"

	"github.com/demirkiran/cafe/internal/domain"
	"github.com/demirkiran/cafe/internal/protocol"
	"github.com/rs/zerolog/log"
)

func (ctl *Controller) handleRouterCapabilities(id domain.PeerID, c *wsConn, req *protocol.Envelope) {
	// A missing router yields a null result, not an error; the client asks
	// again after identifying.
	caps := ctl.Orch.RouterCapabilities(id)
	ctl.respond(c, req, protocol.RouterCapabilitiesResult{RtpCapabilities: caps})
}

func (ctl *Controller) handleCreateTransport(id domain.PeerID, c *wsConn, req *protocol.Envelope) {
	var p protocol.CreateTransportPayload
	if err := json.Unmarshal(req.Data, &p); err != nil {
		ctl.respondError(c, req, "bad payload")
		return
	}
	if p.Type != domain.DirectionSend && p.Type != domain.DirectionRecv {
		ctl.respondError(c, req, "unknown transport type")
		return
	}

	info, err := ctl.Orch.CreateTransport(id, p.Type)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Str("peer", string(id)).Msg("create transport")
		ctl.respondError(c, req, err.Error())
		return
	}
	ctl.respond(c, req, protocol.CreateTransportResult{TransportParams: protocol.TransportParams{
		ID:             info.ID,
		IceParameters:  info.IceParameters,
		IceCandidates:  info.IceCandidates,
		DtlsParameters: info.DtlsParameters,
	}})
}

func (ctl *Controller) handleConnectTransport(id domain.PeerID, c *wsConn, req *protocol.Envelope) {
	var p protocol.ConnectTransportPayload
	if err := json.Unmarshal(req.Data, &p); err != nil {
		ctl.respondError(c, req, "bad payload")
		return
	}
	if err := ctl.Orch.ConnectTransport(id, p.TransportID, p.DtlsParameters); err != nil {
		log.Error().Err(err).Str("module", "signal").Str("peer", string(id)).Msg("connect transport")
		ctl.respondError(c, req, err.Error())
		return
	}
	ctl.respond(c, req, protocol.SuccessResult{Success: true})
}
