package app

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/demirkiran/cafe/internal/domain"
	"github.com/rs/zerolog/log"
)

// SignalConn is a peer's signaling endpoint. Owned by the adapter; the
// adapter must Close() it.
type SignalConn interface {
	TrySend([]byte) error
	Close()
}

type peerEntry struct {
	peer   *domain.Peer
	conn   SignalConn
	cancel context.CancelFunc
}

// Registry is the authoritative in-memory map of connected peers. It is
// injectable; tests instantiate isolated instances. All mutations run under
// one lock so multi-step updates are atomic with respect to other requests.
type Registry struct {
	mu    sync.RWMutex
	peers map[domain.PeerID]*peerEntry
}

func NewRegistry() *Registry {
	return &Registry{peers: make(map[domain.PeerID]*peerEntry)}
}

// Register creates the peer record for a fresh connection.
func (r *Registry) Register(id domain.PeerID, conn SignalConn, cancel context.CancelFunc) *domain.Peer {
	r.mu.Lock()
	defer r.mu.Unlock()
	p := domain.NewPeer(id)
	r.peers[id] = &peerEntry{peer: p, conn: conn, cancel: cancel}
	log.Info().Str("module", "app.registry").Str("peer", string(id)).Msg("peer registered")
	return p
}

func (r *Registry) Get(id domain.PeerID) (*domain.Peer, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.peers[id]
	if !ok {
		return nil, false
	}
	return e.peer, true
}

func (r *Registry) Conn(id domain.PeerID) (SignalConn, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.peers[id]
	if !ok || e.conn == nil {
		return nil, false
	}
	return e.conn, true
}

// SetIdentity applies a validated username and room. It returns the room the
// peer was in before, so the caller can announce the departure.
func (r *Registry) SetIdentity(id domain.PeerID, username string, room domain.RoomID) (domain.RoomID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.peers[id]
	if !ok {
		return "", domain.ErrPeerNotFound
	}
	if err := e.peer.SetUsername(username); err != nil {
		return "", err
	}
	prev := e.peer.Room
	if room != "" {
		e.peer.Room = room
	}
	log.Info().Str("module", "app.registry").Str("peer", string(id)).
		Str("username", username).Str("room", string(e.peer.Room)).Msg("peer identified")
	return prev, nil
}

// RecordTransport overwrites the send or recv transport id. The caller is
// responsible for having closed any previous transport of that direction.
func (r *Registry) RecordTransport(id domain.PeerID, dir domain.Direction, tid domain.TransportID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.peers[id]
	if !ok {
		return domain.ErrPeerNotFound
	}
	if dir == domain.DirectionSend {
		e.peer.SendTransport = tid
	} else {
		e.peer.RecvTransport = tid
	}
	return nil
}

func (r *Registry) SetCapabilities(id domain.PeerID, caps json.RawMessage) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.peers[id]
	if !ok {
		return domain.ErrPeerNotFound
	}
	e.peer.RtpCapabilities = caps
	return nil
}

func (r *Registry) AddProducer(id domain.PeerID, pid domain.ProducerID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.peers[id]
	if !ok {
		return domain.ErrPeerNotFound
	}
	e.peer.Producers[pid] = struct{}{}
	return nil
}

func (r *Registry) RemoveProducer(id domain.PeerID, pid domain.ProducerID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.peers[id]; ok {
		delete(e.peer.Producers, pid)
	}
}

func (r *Registry) AddConsumer(id domain.PeerID, cid domain.ConsumerID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.peers[id]
	if !ok {
		return domain.ErrPeerNotFound
	}
	e.peer.Consumers[cid] = struct{}{}
	return nil
}

func (r *Registry) RemoveConsumer(id domain.PeerID, cid domain.ConsumerID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.peers[id]; ok {
		delete(e.peer.Consumers, cid)
	}
}

// SetStatus applies a partial mute/deafen update; unset fields keep their
// value (last write wins per field).
func (r *Registry) SetStatus(id domain.PeerID, status domain.Status) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.peers[id]
	if !ok {
		return domain.ErrPeerNotFound
	}
	if status.IsMicMuted != nil {
		e.peer.IsMicMuted = *status.IsMicMuted
	}
	if status.IsDeafened != nil {
		e.peer.IsDeafened = *status.IsDeafened
	}
	return nil
}

// ListPeers returns summaries of everyone but the caller, optionally scoped
// to one room.
func (r *Registry) ListPeers(excluding domain.PeerID, room domain.RoomID) []domain.Summary {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.Summary, 0, len(r.peers))
	for id, e := range r.peers {
		if id == excluding {
			continue
		}
		if room != "" && e.peer.Room != room {
			continue
		}
		out = append(out, e.peer.Summary())
	}
	return out
}

// ConnsInRoom snapshots the signaling endpoints of a room's members.
func (r *Registry) ConnsInRoom(room domain.RoomID, excluding ...domain.PeerID) []SignalConn {
	skip := make(map[domain.PeerID]struct{}, len(excluding))
	for _, id := range excluding {
		skip[id] = struct{}{}
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]SignalConn, 0, len(r.peers))
	for id, e := range r.peers {
		if _, ok := skip[id]; ok {
			continue
		}
		if e.peer.Room != room || e.conn == nil {
			continue
		}
		out = append(out, e.conn)
	}
	return out
}

// Deregister removes and returns the full record for cascading cleanup.
// Unknown ids return ok=false; callers treat that as already cleaned up.
func (r *Registry) Deregister(id domain.PeerID) (*domain.Peer, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.peers[id]
	if !ok {
		return nil, false
	}
	delete(r.peers, id)
	if e.cancel != nil {
		e.cancel()
	}
	log.Info().Str("module", "app.registry").Str("peer", string(id)).Msg("peer deregistered")
	return e.peer, true
}
