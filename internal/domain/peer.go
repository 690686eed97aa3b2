// Package domain contains entities without logic, just meta-data.
package domain

import (
	"encoding/json"
	"errors"
)

const (
	MaxUsernameLen = 36
	MaxMessageLen  = 4096

	// DefaultRoom is where every peer lives until it identifies itself.
	DefaultRoom RoomID = "main"
)

var (
	ErrUsernameEmpty      = errors.New("username empty")
	ErrUsernameTooLong    = errors.New("username too long")
	ErrInvalidCredentials = errors.New("invalid room password")
	ErrPeerNotFound       = errors.New("peer not found")
	ErrTransportNotFound  = errors.New("transport not found")
	ErrNotReady           = errors.New("not ready")
)

type (
	PeerID      string
	RoomID      string
	TransportID string
	ProducerID  string
	ConsumerID  string
)

// MediaKind is the track type of a producer or consumer.
type MediaKind string

const (
	KindAudio MediaKind = "audio"
	KindVideo MediaKind = "video"
)

func (k MediaKind) Valid() bool { return k == KindAudio || k == KindVideo }

// Direction tells which way a transport carries media, seen from the peer.
type Direction string

const (
	DirectionSend Direction = "send"
	DirectionRecv Direction = "recv"
)

// Status holds the mute/deafen flags a peer announces to the room.
// Pointers distinguish "unchanged" from "set to false" in partial updates.
type Status struct {
	IsMicMuted *bool `json:"isMicMuted,omitempty"`
	IsDeafened *bool `json:"isDeafened,omitempty"`
}

// Peer is one connected client. The registry owns these records; engine-side
// objects (transports, producers, consumers) are referenced by ID only.
type Peer struct {
	ID       PeerID
	Username string
	Room     RoomID

	IsMicMuted bool
	IsDeafened bool

	SendTransport TransportID
	RecvTransport TransportID

	Producers map[ProducerID]struct{}
	Consumers map[ConsumerID]struct{}

	// RtpCapabilities is the peer's declared receive capability blob,
	// opaque to everything but the media engine.
	RtpCapabilities json.RawMessage
}

func NewPeer(id PeerID) *Peer {
	return &Peer{
		ID:        id,
		Room:      DefaultRoom,
		Producers: make(map[ProducerID]struct{}),
		Consumers: make(map[ConsumerID]struct{}),
	}
}

// Identified reports whether the peer has passed the password gate.
func (p *Peer) Identified() bool { return p.Username != "" }

func (p *Peer) SetUsername(name string) error {
	if len(name) == 0 {
		return ErrUsernameEmpty
	}
	if len(name) > MaxUsernameLen {
		return ErrUsernameTooLong
	}
	p.Username = name
	return nil
}

// Transport returns the transport ID recorded for the given direction.
func (p *Peer) Transport(dir Direction) TransportID {
	if dir == DirectionSend {
		return p.SendTransport
	}
	return p.RecvTransport
}

// OwnsTransport reports whether tid is one of the peer's two transports.
func (p *Peer) OwnsTransport(tid TransportID) bool {
	return tid != "" && (p.SendTransport == tid || p.RecvTransport == tid)
}

// Summary is the directory view of a peer, safe to hand to other clients.
type Summary struct {
	ID         PeerID `json:"id"`
	Username   string `json:"username"`
	Room       RoomID `json:"roomId"`
	IsMicMuted bool   `json:"isMicMuted"`
	IsDeafened bool   `json:"isDeafened"`
}

func (p *Peer) Summary() Summary {
	return Summary{
		ID:         p.ID,
		Username:   p.Username,
		Room:       p.Room,
		IsMicMuted: p.IsMicMuted,
		IsDeafened: p.IsDeafened,
	}
}
