package client

import (
	"encoding/json"
	"sync"

	"github.com/demirkiran/cafe/internal/domain"
	"github.com/demirkiran/cafe/internal/protocol"
	"github.com/rs/zerolog/log"
)

// RemotePeer is one row of the room mirror.
type RemotePeer struct {
	ID         domain.PeerID
	Username   string
	IsMicMuted bool
	IsDeafened bool
}

// Directory mirrors room membership and chat from push events. Join order is
// preserved; a rejoining peer keeps its slot.
type Directory struct {
	mu    sync.RWMutex
	order []domain.PeerID
	peers map[domain.PeerID]*RemotePeer

	seen     map[string]struct{}
	messages []domain.ChatMessage

	onChat func(domain.ChatMessage)
}

func NewDirectory() *Directory {
	return &Directory{
		peers: make(map[domain.PeerID]*RemotePeer),
		seen:  make(map[string]struct{}),
	}
}

// OnChat registers a callback for each newly accepted chat message. It runs
// on the connection's read loop.
func (d *Directory) OnChat(fn func(domain.ChatMessage)) { d.onChat = fn }

// Subscribe wires the directory to a connection's push events. Call before
// joining so no event is missed.
func (d *Directory) Subscribe(c *Conn) {
	c.On(protocol.EventPeerJoined, d.handleJoined)
	c.On(protocol.EventPeerLeft, d.handleLeft)
	c.On(protocol.EventPeerStatusUpdate, d.handleStatus)
	c.On(protocol.EventChatMessage, d.handleChat)
}

// Seed replaces the membership with a getUsers snapshot.
func (d *Directory) Seed(users []domain.Summary) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.order = d.order[:0]
	d.peers = make(map[domain.PeerID]*RemotePeer, len(users))
	for _, u := range users {
		d.order = append(d.order, u.ID)
		d.peers[u.ID] = &RemotePeer{
			ID:         u.ID,
			Username:   u.Username,
			IsMicMuted: u.IsMicMuted,
			IsDeafened: u.IsDeafened,
		}
	}
}

// Peers returns the membership in join order.
func (d *Directory) Peers() []RemotePeer {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]RemotePeer, 0, len(d.order))
	for _, id := range d.order {
		out = append(out, *d.peers[id])
	}
	return out
}

// Messages returns the accepted chat log in arrival order.
func (d *Directory) Messages() []domain.ChatMessage {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]domain.ChatMessage, len(d.messages))
	copy(out, d.messages)
	return out
}

func (d *Directory) handleJoined(data json.RawMessage) {
	var ev protocol.PeerJoinedEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		log.Warn().Err(err).Str("module", "client").Msg("bad peer-joined")
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if p, ok := d.peers[ev.PeerID]; ok {
		p.Username = ev.Username
		return
	}
	d.order = append(d.order, ev.PeerID)
	d.peers[ev.PeerID] = &RemotePeer{ID: ev.PeerID, Username: ev.Username}
}

func (d *Directory) handleLeft(data json.RawMessage) {
	var ev protocol.PeerLeftEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.peers[ev.PeerID]; !ok {
		return
	}
	delete(d.peers, ev.PeerID)
	for i, id := range d.order {
		if id == ev.PeerID {
			d.order = append(d.order[:i], d.order[i+1:]...)
			break
		}
	}
}

// handleStatus patches only the fields the update carries.
func (d *Directory) handleStatus(data json.RawMessage) {
	var ev protocol.PeerStatusEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	p, ok := d.peers[ev.PeerID]
	if !ok {
		return
	}
	if ev.Status.IsMicMuted != nil {
		p.IsMicMuted = *ev.Status.IsMicMuted
	}
	if ev.Status.IsDeafened != nil {
		p.IsDeafened = *ev.Status.IsDeafened
	}
}

// handleChat drops duplicate deliveries by message id.
func (d *Directory) handleChat(data json.RawMessage) {
	var msg domain.ChatMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return
	}
	d.mu.Lock()
	if _, dup := d.seen[msg.ID]; dup {
		d.mu.Unlock()
		return
	}
	d.seen[msg.ID] = struct{}{}
	d.messages = append(d.messages, msg)
	fn := d.onChat
	d.mu.Unlock()

	if fn != nil {
		fn(msg)
	}
}
