// Package media wraps the SFU capability set: workers, per-room routers,
// transports, producers and consumers. It owns every engine-side object and
// hands out only IDs and parameter blobs; the signaling layer never touches
// the objects themselves.
package media

import (
	"encoding/json"
	"errors"

	"github.com/demirkiran/cafe/internal/domain"
)

var (
	ErrRouterNotReady        = errors.New("router not ready")
	ErrTransportNotFound     = errors.New("transport not found")
	ErrTransportNotConnected = errors.New("transport not connected")
	ErrProducerClosed        = errors.New("producer closed")
	ErrBadParameters         = errors.New("bad parameters")
)

// TransportInfo carries everything a client needs to connect a transport.
type TransportInfo struct {
	ID             domain.TransportID
	IceParameters  json.RawMessage
	IceCandidates  json.RawMessage
	DtlsParameters json.RawMessage
}

// ProducerInfo describes a live producer for directory queries and events.
type ProducerInfo struct {
	ID      domain.ProducerID
	Peer    domain.PeerID
	Kind    domain.MediaKind
	AppData map[string]any
}

// ConsumerInfo is the result of a successful consume.
type ConsumerInfo struct {
	ID            domain.ConsumerID
	ProducerID    domain.ProducerID
	ProducerPeer  domain.PeerID
	Kind          domain.MediaKind
	RtpParameters json.RawMessage
}

// Codec is one entry of a capability set. Kind plus MimeType decide
// compatibility; Parameters are carried through untouched.
type Codec struct {
	Kind       domain.MediaKind `json:"kind"`
	MimeType   string           `json:"mimeType"`
	ClockRate  uint32           `json:"clockRate"`
	Channels   uint16           `json:"channels,omitempty"`
	Parameters map[string]any   `json:"parameters,omitempty"`
}

// Capabilities is the typed slice of an rtpCapabilities blob the engine
// interprets; everything else in the blob passes through untouched.
type Capabilities struct {
	Codecs []Codec `json:"codecs"`
}

// rtpParameters is the slice of a produce request the engine interprets.
type rtpParameters struct {
	Codecs []Codec `json:"codecs"`
}
