package orch

import (
	"github.com/demirkiran/cafe/internal/domain"
	"github.com/demirkiran/cafe/internal/protocol"
	"github.com/rs/zerolog/log"
)

// SetStatus applies a partial mute/deafen update and broadcasts it to the
// room. Muting the mic also pauses the peer's audio forwarding so silence
// does not cross the wire.
func (o *Orchestrator) SetStatus(id domain.PeerID, status domain.Status) error {
	if err := o.Registry.SetStatus(id, status); err != nil {
		return err
	}
	peer, ok := o.Registry.Get(id)
	if !ok {
		return domain.ErrPeerNotFound
	}

	if status.IsMicMuted != nil {
		for _, p := range o.Engine.ProducersInRoom(peer.Room) {
			if p.Peer == id && p.Kind == domain.KindAudio {
				o.Engine.PauseProducer(p.ID, *status.IsMicMuted)
			}
		}
	}

	o.Dir.ToRoom(peer.Room, protocol.EventPeerStatusUpdate, protocol.PeerStatusEvent{
		PeerID: id,
		Status: status,
	}, id)
	return nil
}

// Users lists everybody except the caller.
func (o *Orchestrator) Users(id domain.PeerID) []domain.Summary {
	return o.Registry.ListPeers(id, "")
}

// SendChat stamps a message and fans it out to the whole room, sender
// included, so every client renders the server-confirmed order.
func (o *Orchestrator) SendChat(id domain.PeerID, text string, file *domain.FileAttachment) {
	peer, ok := o.Registry.Get(id)
	if !ok || !peer.Identified() {
		return
	}
	if o.Chat != nil && !o.Chat.Allow(id) {
		log.Warn().Str("module", "orch").Str("peer", string(id)).Msg("chat rate limited")
		return
	}

	msg, err := domain.NewChatMessage(id, peer.Username, text, file)
	if err != nil {
		return
	}
	o.Dir.ToRoom(peer.Room, protocol.EventChatMessage, msg)
}
