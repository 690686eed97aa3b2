// Package protocol defines the signaling wire format shared by the server
// controller and the client coordinator.
//
// Requests carry a correlation id; the matching response echoes it. Push
// events carry no id. Parameter payloads (ICE, DTLS, RTP) are opaque blobs
// owned by the media engine; this layer only moves them.
package protocol

import (
	"encoding/json"

	"github.com/demirkiran/cafe/internal/domain"
)

// Request method names.
const (
	MethodGetRouterRtpCapabilities = "getRouterRtpCapabilities"
	MethodCreateWebRtcTransport    = "createWebRtcTransport"
	MethodConnectTransport         = "connectTransport"
	MethodProduce                  = "produce"
	MethodConsume                  = "consume"
	MethodCloseProducer            = "closeProducer"
	MethodGetProducers             = "getProducers"
	MethodSetUsername              = "setUsername"
	MethodGetUsers                 = "getUsers"
	MethodChatMessage              = "chat-message"
	MethodUpdatePeerStatus         = "updatePeerStatus"
	MethodPing                     = "ping"
)

// Push event names.
const (
	EventWelcome          = "welcome"
	EventPeerJoined       = "peer-joined"
	EventPeerLeft         = "peer-left"
	EventPeerStatusUpdate = "peer-status-update"
	EventNewProducer      = "new-producer"
	EventProducerClosed   = "producer-closed"
	EventChatMessage      = "chat-message"
)

// Envelope is every frame on the wire. A frame with an ID and Event set is a
// request; an ID without Event is a response; an Event without ID is a push.
type Envelope struct {
	ID    string          `json:"id,omitempty"`
	Event string          `json:"event,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
	Error string          `json:"error,omitempty"`
}

// IsResponse reports whether the frame answers an outstanding request.
func (e *Envelope) IsResponse() bool { return e.ID != "" && e.Event == "" }

type WelcomePayload struct {
	Message  string        `json:"message"`
	ClientID domain.PeerID `json:"clientId"`
}

type RouterCapabilitiesResult struct {
	RtpCapabilities json.RawMessage `json:"rtpCapabilities"`
}

type CreateTransportPayload struct {
	Type domain.Direction `json:"type"`
}

// TransportParams mirror the engine's transport connection parameters.
type TransportParams struct {
	ID             domain.TransportID `json:"id"`
	IceParameters  json.RawMessage    `json:"iceParameters"`
	IceCandidates  json.RawMessage    `json:"iceCandidates"`
	DtlsParameters json.RawMessage    `json:"dtlsParameters"`
}

type CreateTransportResult struct {
	TransportParams TransportParams `json:"transportParams"`
}

type ConnectTransportPayload struct {
	TransportID    domain.TransportID `json:"transportId"`
	DtlsParameters json.RawMessage    `json:"dtlsParameters"`
}

type SuccessResult struct {
	Success bool `json:"success"`
}

type ProducePayload struct {
	TransportID   domain.TransportID `json:"transportId"`
	Kind          domain.MediaKind   `json:"kind"`
	RtpParameters json.RawMessage    `json:"rtpParameters"`
	AppData       map[string]any     `json:"appData,omitempty"`
}

type ProduceResult struct {
	ProducerID domain.ProducerID `json:"producerId"`
}

type ConsumePayload struct {
	ProducerID      domain.ProducerID `json:"producerId"`
	RtpCapabilities json.RawMessage   `json:"rtpCapabilities"`
}

// ConsumeResult is null-equivalent (zero ConsumerID) when the peer's
// capabilities cannot decode the producer.
type ConsumeResult struct {
	ConsumerID    domain.ConsumerID `json:"consumerId,omitempty"`
	ProducerID    domain.ProducerID `json:"producerId,omitempty"`
	PeerID        domain.PeerID     `json:"peerId,omitempty"`
	Kind          domain.MediaKind  `json:"kind,omitempty"`
	RtpParameters json.RawMessage   `json:"rtpParameters,omitempty"`
}

type CloseProducerPayload struct {
	ProducerID domain.ProducerID `json:"producerId"`
}

type ProducerInfo struct {
	ID      domain.ProducerID `json:"id"`
	PeerID  domain.PeerID     `json:"peerId"`
	Kind    domain.MediaKind  `json:"kind"`
	AppData map[string]any    `json:"appData,omitempty"`
}

type GetProducersResult struct {
	Producers []ProducerInfo `json:"producers"`
}

type SetUsernamePayload struct {
	Username string        `json:"username"`
	Password string        `json:"password"`
	RoomID   domain.RoomID `json:"roomId,omitempty"`
}

type SetUsernameResult struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

type GetUsersResult struct {
	Users []domain.Summary `json:"users"`
}

type ChatPayload struct {
	Message string                 `json:"message"`
	File    *domain.FileAttachment `json:"file,omitempty"`
}

type StatusPayload = domain.Status

type PingResult struct {
	Pong      bool  `json:"pong"`
	Timestamp int64 `json:"timestamp"`
}

type PeerJoinedEvent struct {
	PeerID   domain.PeerID `json:"peerId"`
	Username string        `json:"username"`
	RoomID   domain.RoomID `json:"roomId,omitempty"`
}

type PeerLeftEvent struct {
	PeerID domain.PeerID `json:"peerId"`
}

type PeerStatusEvent struct {
	PeerID domain.PeerID `json:"peerId"`
	Status domain.Status `json:"status"`
}

type NewProducerEvent struct {
	ProducerID domain.ProducerID `json:"producerId"`
	PeerID     domain.PeerID     `json:"peerId"`
	Kind       domain.MediaKind  `json:"kind"`
	AppData    map[string]any    `json:"appData,omitempty"`
}

type ProducerClosedEvent struct {
	ProducerID domain.ProducerID `json:"producerId"`
	PeerID     domain.PeerID     `json:"peerId"`
}
