package signal

import (
	"context"
	"encoding/json"
	"time"

	"github.com/demirkiran/cafe/internal/domain"
	"github.com/demirkiran/cafe/internal/protocol"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

func (ctl *Controller) writePump(ctx context.Context, c *wsConn) {
	for {
		select {
		case <-ctx.Done():
			log.Info().Str("module", "signal").Msg("writePump ctx done")
			return
		case data, ok := <-c.send:
			if !ok {
				log.Warn().Str("module", "signal").Msg("writePump channel closed")
				return
			}
			if err := c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second)); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump set deadline")
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump write error")
				return
			}
		}
	}
}

func (ctl *Controller) readPump(ctx context.Context, id domain.PeerID, c *wsConn) {
	defer func() {
		log.Info().Str("module", "signal").Str("peer", string(id)).Msg("readPump closing")
		ctl.Orch.Disconnect(id)
		c.Close()
	}()

	for {
		select {
		case <-ctx.Done():
			log.Info().Str("module", "signal").Str("peer", string(id)).Msg("readPump ctx done")
			return
		default:
			_, data, err := c.conn.ReadMessage()
			if err != nil {
				log.Error().Err(err).Str("module", "signal").Str("peer", string(id)).Msg("readPump read error")
				return
			}
			ctl.handleRequest(id, c, data)
		}
	}
}

func (ctl *Controller) handleRequest(id domain.PeerID, c *wsConn, data []byte) {
	var env protocol.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("bad json")
		return
	}
	if env.ID == "" || env.Event == "" {
		log.Warn().Str("module", "signal").Str("event", env.Event).Msg("frame is not a request")
		return
	}

	switch env.Event {
	case protocol.MethodGetRouterRtpCapabilities:
		ctl.handleRouterCapabilities(id, c, &env)
	case protocol.MethodCreateWebRtcTransport:
		ctl.handleCreateTransport(id, c, &env)
	case protocol.MethodConnectTransport:
		ctl.handleConnectTransport(id, c, &env)
	case protocol.MethodProduce:
		ctl.handleProduce(id, c, &env)
	case protocol.MethodConsume:
		ctl.handleConsume(id, c, &env)
	case protocol.MethodCloseProducer:
		ctl.handleCloseProducer(id, c, &env)
	case protocol.MethodGetProducers:
		ctl.handleGetProducers(id, c, &env)
	case protocol.MethodSetUsername:
		ctl.handleSetUsername(id, c, &env)
	case protocol.MethodGetUsers:
		ctl.handleGetUsers(id, c, &env)
	case protocol.MethodChatMessage:
		ctl.handleChat(id, c, &env)
	case protocol.MethodUpdatePeerStatus:
		ctl.handleStatus(id, c, &env)
	case protocol.MethodPing:
		ctl.handlePing(c, &env)
	default:
		log.Warn().Str("module", "signal").Str("event", env.Event).Msg("unknown request")
		ctl.respondError(c, &env, "unknown request")
	}
}

// respond answers a request by echoing its correlation id.
func (ctl *Controller) respond(c *wsConn, req *protocol.Envelope, result any) {
	data, err := json.Marshal(result)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("respond marshal")
		return
	}
	ctl.sendFrame(c, protocol.Envelope{ID: req.ID, Data: data})
}

func (ctl *Controller) respondError(c *wsConn, req *protocol.Envelope, msg string) {
	ctl.sendFrame(c, protocol.Envelope{ID: req.ID, Error: msg})
}

func (ctl *Controller) sendFrame(c *wsConn, env protocol.Envelope) {
	b, err := json.Marshal(env)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("frame marshal")
		return
	}
	if err := c.TrySend(b); err != nil {
		log.Warn().Err(err).Str("module", "signal").Msg("frame dropped")
	}
}
