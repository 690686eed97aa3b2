package orch

import (
	"encoding/json"
	"errors"

	"github.com/demirkiran/cafe/internal/domain"
	"github.com/demirkiran/cafe/internal/media"
	"github.com/demirkiran/cafe/internal/protocol"
	"github.com/rs/zerolog/log"
)

// RouterCapabilities returns the caller's room capabilities, or nil when the
// router does not exist yet. Nil is not an error; the client retries after
// identifying.
func (o *Orchestrator) RouterCapabilities(id domain.PeerID) json.RawMessage {
	peer, ok := o.Registry.Get(id)
	if !ok {
		return nil
	}
	return o.Engine.RouterCapabilities(peer.Room)
}

// CreateTransport creates one directional engine transport and records its
// id on the peer. A repeated call for the same direction overwrites the
// record; the previous transport is closed first so nothing leaks.
func (o *Orchestrator) CreateTransport(id domain.PeerID, dir domain.Direction) (media.TransportInfo, error) {
	peer, ok := o.Registry.Get(id)
	if !ok {
		return media.TransportInfo{}, domain.ErrPeerNotFound
	}
	if !peer.Identified() {
		return media.TransportInfo{}, domain.ErrNotReady
	}

	if prev := peer.Transport(dir); prev != "" {
		o.closeTransportCascade(id, peer.Room, prev)
	}

	info, err := o.Engine.CreateTransport(peer.Room, id, dir)
	if err != nil {
		return media.TransportInfo{}, err
	}
	if err := o.Registry.RecordTransport(id, dir, info.ID); err != nil {
		o.Engine.CloseTransport(info.ID)
		return media.TransportInfo{}, err
	}
	return info, nil
}

// ConnectTransport completes the DTLS step for a transport the caller owns.
func (o *Orchestrator) ConnectTransport(id domain.PeerID, tid domain.TransportID, dtls json.RawMessage) error {
	peer, ok := o.Registry.Get(id)
	if !ok {
		return domain.ErrPeerNotFound
	}
	if !peer.OwnsTransport(tid) {
		return domain.ErrTransportNotFound
	}
	return o.Engine.ConnectTransport(tid, dtls)
}

// Produce creates a producer on the caller's connected send transport and
// fans new-producer out to the room before returning, so other peers can
// start their consume flow with minimal latency.
func (o *Orchestrator) Produce(id domain.PeerID, tid domain.TransportID, kind domain.MediaKind, rtp json.RawMessage, appData map[string]any) (domain.ProducerID, error) {
	peer, ok := o.Registry.Get(id)
	if !ok {
		return "", domain.ErrPeerNotFound
	}
	if tid == "" || peer.SendTransport != tid {
		return "", domain.ErrTransportNotFound
	}
	if !kind.Valid() {
		return "", media.ErrBadParameters
	}

	info, err := o.Engine.Produce(tid, kind, rtp, appData)
	if err != nil {
		return "", err
	}
	if err := o.Registry.AddProducer(id, info.ID); err != nil {
		// The peer disconnected while the engine call was in flight.
		o.Engine.CloseProducer(info.ID)
		return "", err
	}

	o.Dir.ToRoom(peer.Room, protocol.EventNewProducer, protocol.NewProducerEvent{
		ProducerID: info.ID,
		PeerID:     id,
		Kind:       kind,
		AppData:    appData,
	}, id)

	return info.ID, nil
}

// Consume subscribes the caller to a producer. An incompatible capability
// set yields a zero result and no error: the caller simply skips that
// stream.
func (o *Orchestrator) Consume(id domain.PeerID, pid domain.ProducerID, caps json.RawMessage) (media.ConsumerInfo, error) {
	peer, ok := o.Registry.Get(id)
	if !ok {
		return media.ConsumerInfo{}, domain.ErrPeerNotFound
	}
	if peer.RecvTransport == "" {
		return media.ConsumerInfo{}, domain.ErrTransportNotFound
	}

	// A consume without a capability blob falls back to the set the peer
	// declared on an earlier consume; a blob-bearing consume refreshes it.
	if len(caps) > 0 {
		_ = o.Registry.SetCapabilities(id, caps)
	} else {
		caps = peer.RtpCapabilities
	}

	if !o.Engine.CanConsume(pid, caps) {
		return media.ConsumerInfo{}, nil
	}

	info, err := o.Engine.Consume(peer.RecvTransport, pid, caps)
	if err != nil {
		// The producer may have closed between the check and the engine
		// call; the caller treats this like any other engine failure and
		// skips the stream.
		if errors.Is(err, media.ErrProducerClosed) {
			log.Warn().Str("module", "orch").Str("producer", string(pid)).Msg("producer closed before consume")
		}
		return media.ConsumerInfo{}, err
	}
	if err := o.Registry.AddConsumer(id, info.ID); err != nil {
		return media.ConsumerInfo{}, err
	}
	return info, nil
}

// CloseProducer tears one producer down on the caller's request. Unknown or
// foreign producer ids are a no-op; affected consumers learn about the
// closure through producer-closed.
func (o *Orchestrator) CloseProducer(id domain.PeerID, pid domain.ProducerID) {
	peer, ok := o.Registry.Get(id)
	if !ok {
		return
	}
	if _, owns := peer.Producers[pid]; !owns {
		return
	}

	for peerID, consumers := range o.Engine.CloseProducer(pid) {
		for _, cid := range consumers {
			o.Registry.RemoveConsumer(peerID, cid)
		}
	}
	o.Registry.RemoveProducer(id, pid)

	o.Dir.ToRoom(peer.Room, protocol.EventProducerClosed, protocol.ProducerClosedEvent{
		ProducerID: pid,
		PeerID:     id,
	}, id)
}

// Producers lists every live producer in the caller's room except its own.
func (o *Orchestrator) Producers(id domain.PeerID) []protocol.ProducerInfo {
	peer, ok := o.Registry.Get(id)
	if !ok {
		return nil
	}
	all := o.Engine.ProducersInRoom(peer.Room)
	out := make([]protocol.ProducerInfo, 0, len(all))
	for _, p := range all {
		if p.Peer == id {
			continue
		}
		out = append(out, protocol.ProducerInfo{
			ID:      p.ID,
			PeerID:  p.Peer,
			Kind:    p.Kind,
			AppData: p.AppData,
		})
	}
	return out
}
