package signal

import (
	"encoding/json"

	"github.com/demirkiran/cafe/internal/domain"
	"github.com/demirkiran/cafe/internal/protocol"
	"github.com/rs/zerolog/log"
)

func (ctl *Controller) handleProduce(id domain.PeerID, c *wsConn, req *protocol.Envelope) {
	var p protocol.ProducePayload
	if err := json.Unmarshal(req.Data, &p); err != nil {
		ctl.respondError(c, req, "bad payload")
		return
	}

	pid, err := ctl.Orch.Produce(id, p.TransportID, p.Kind, p.RtpParameters, p.AppData)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Str("peer", string(id)).Msg("produce")
		ctl.respondError(c, req, err.Error())
		return
	}
	ctl.respond(c, req, protocol.ProduceResult{ProducerID: pid})
}

func (ctl *Controller) handleConsume(id domain.PeerID, c *wsConn, req *protocol.Envelope) {
	var p protocol.ConsumePayload
	if err := json.Unmarshal(req.Data, &p); err != nil {
		ctl.respondError(c, req, "bad payload")
		return
	}

	info, err := ctl.Orch.Consume(id, p.ProducerID, p.RtpCapabilities)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Str("peer", string(id)).Msg("consume")
		ctl.respondError(c, req, err.Error())
		return
	}
	// A zero consumer id means the capabilities cannot decode this
	// producer. The result is an empty object, not an error.
	ctl.respond(c, req, protocol.ConsumeResult{
		ConsumerID:    info.ID,
		ProducerID:    info.ProducerID,
		PeerID:        info.ProducerPeer,
		Kind:          info.Kind,
		RtpParameters: info.RtpParameters,
	})
}

func (ctl *Controller) handleCloseProducer(id domain.PeerID, c *wsConn, req *protocol.Envelope) {
	var p protocol.CloseProducerPayload
	if err := json.Unmarshal(req.Data, &p); err != nil {
		ctl.respondError(c, req, "bad payload")
		return
	}
	ctl.Orch.CloseProducer(id, p.ProducerID)
	ctl.respond(c, req, protocol.SuccessResult{Success: true})
}

func (ctl *Controller) handleGetProducers(id domain.PeerID, c *wsConn, req *protocol.Envelope) {
	producers := ctl.Orch.Producers(id)
	if producers == nil {
		producers = []protocol.ProducerInfo{}
	}
	ctl.respond(c, req, protocol.GetProducersResult{Producers: producers})
}
