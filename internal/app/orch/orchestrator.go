// Package orch drives one peer's journey from connection to full media
// exchange: it mediates between the session registry, the media engine and
// the broadcast directory.
package orch

import (
	"context"
	"encoding/json"

	"github.com/demirkiran/cafe/internal/app"
	"github.com/demirkiran/cafe/internal/domain"
	"github.com/demirkiran/cafe/internal/media"
	"github.com/demirkiran/cafe/internal/protocol"
	"github.com/rs/zerolog/log"
)

// MediaEngine is the SFU capability set the orchestrator consumes. The
// engine owns all transports/producers/consumers; the orchestrator holds
// only IDs.
type MediaEngine interface {
	EnsureRouter(room domain.RoomID)
	RouterCapabilities(room domain.RoomID) json.RawMessage
	CreateTransport(room domain.RoomID, peer domain.PeerID, dir domain.Direction) (media.TransportInfo, error)
	ConnectTransport(id domain.TransportID, dtls json.RawMessage) error
	Produce(tid domain.TransportID, kind domain.MediaKind, rtp json.RawMessage, appData map[string]any) (media.ProducerInfo, error)
	CanConsume(id domain.ProducerID, caps json.RawMessage) bool
	Consume(tid domain.TransportID, pid domain.ProducerID, caps json.RawMessage) (media.ConsumerInfo, error)
	PauseProducer(id domain.ProducerID, paused bool)
	CloseProducer(id domain.ProducerID) map[domain.PeerID][]domain.ConsumerID
	CloseTransport(id domain.TransportID) map[domain.ProducerID]map[domain.PeerID][]domain.ConsumerID
	ProducersInRoom(room domain.RoomID) []media.ProducerInfo
}

type Orchestrator struct {
	Registry *app.Registry
	Engine   MediaEngine
	Dir      *app.Directory

	// Password is the shared room secret; exact string equality is the
	// entire authentication mechanism.
	Password string
	Chat     *app.ChatLimiter
}

const welcomeMessage = "DemirkiranCAFE'ye hoşgeldin!"

// Connect registers a fresh connection, greets it, and announces it to
// nobody else: a peer stays invisible until it identifies itself.
func (o *Orchestrator) Connect(id domain.PeerID, conn app.SignalConn, cancel context.CancelFunc) *domain.Peer {
	peer := o.Registry.Register(id, conn, cancel)
	o.Dir.ToPeer(id, protocol.EventWelcome, protocol.WelcomePayload{
		Message:  welcomeMessage,
		ClientID: id,
	})
	return peer
}

// Identify validates the shared secret and moves the peer into a room.
// Re-identifying with a different room is the only sanctioned room switch;
// the client contract is to have torn down its media beforehand.
func (o *Orchestrator) Identify(id domain.PeerID, username, password string, room domain.RoomID) error {
	if password != o.Password {
		log.Warn().Str("module", "orch").Str("peer", string(id)).Msg("wrong room password")
		return domain.ErrInvalidCredentials
	}

	peer, ok := o.Registry.Get(id)
	if !ok {
		return domain.ErrPeerNotFound
	}
	wasIdentified := peer.Identified()

	prevRoom, err := o.Registry.SetIdentity(id, username, room)
	if err != nil {
		return err
	}
	peer, _ = o.Registry.Get(id)

	o.Engine.EnsureRouter(peer.Room)

	if wasIdentified && prevRoom != peer.Room {
		o.Dir.ToRoom(prevRoom, protocol.EventPeerLeft, protocol.PeerLeftEvent{PeerID: id}, id)
	}
	o.Dir.ToRoom(peer.Room, protocol.EventPeerJoined, protocol.PeerJoinedEvent{
		PeerID:   id,
		Username: peer.Username,
		RoomID:   peer.Room,
	}, id)
	return nil
}

// Disconnect runs the cascading cleanup path. It is idempotent: the second
// call for the same id finds no registry record and is a no-op.
func (o *Orchestrator) Disconnect(id domain.PeerID) {
	peer, ok := o.Registry.Deregister(id)
	if !ok {
		return
	}
	if o.Chat != nil {
		o.Chat.Forget(id)
	}

	o.closeTransportCascade(id, peer.Room, peer.SendTransport)
	o.closeTransportCascade(id, peer.Room, peer.RecvTransport)

	if peer.Identified() {
		o.Dir.ToRoom(peer.Room, protocol.EventPeerLeft, protocol.PeerLeftEvent{PeerID: id})
	}
	log.Info().Str("module", "orch").Str("peer", string(id)).Msg("peer cleaned up")
}

// closeTransportCascade closes one transport in the engine and mirrors the
// cascade into the registry and the room. This is the single cleanup path
// for every teardown route.
func (o *Orchestrator) closeTransportCascade(owner domain.PeerID, room domain.RoomID, tid domain.TransportID) {
	if tid == "" {
		return
	}
	for pid, consumersByPeer := range o.Engine.CloseTransport(tid) {
		for peerID, consumers := range consumersByPeer {
			for _, cid := range consumers {
				o.Registry.RemoveConsumer(peerID, cid)
			}
		}
		o.Dir.ToRoom(room, protocol.EventProducerClosed, protocol.ProducerClosedEvent{
			ProducerID: pid,
			PeerID:     owner,
		}, owner)
	}
}
