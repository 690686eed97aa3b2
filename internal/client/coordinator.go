package client

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"encoding/json"
	"errors"
	"sync"

	"github.com/demirkiran/cafe/internal/domain"
	"github.com/demirkiran/cafe/internal/media"
	"github.com/demirkiran/cafe/internal/protocol"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

var (
	ErrNotReady      = errors.New("capabilities not loaded")
	ErrNoTransport   = errors.New("transport not created")
	ErrWrongPassword = errors.New("wrong room password")
)

// Coordinator sequences the media handshake over one signaling connection:
// capabilities first, then transports, then produce/consume. It keeps the
// handshake ordering invariants so callers cannot race them.
type Coordinator struct {
	conn *Conn

	mu        sync.Mutex
	caps      json.RawMessage
	send      domain.TransportID
	recv      domain.TransportID
	producers map[domain.ProducerID]domain.MediaKind

	// produceMu serializes produce calls; the send transport carries one
	// handshake at a time.
	produceMu sync.Mutex
}

func NewCoordinator(conn *Conn) *Coordinator {
	return &Coordinator{
		conn:      conn,
		producers: make(map[domain.ProducerID]domain.MediaKind),
	}
}

// Conn exposes the underlying connection for push subscriptions.
func (co *Coordinator) Conn() *Conn { return co.conn }

// Join identifies this peer. Re-joining with another room id is the room
// switch path; call CloseAll first.
func (co *Coordinator) Join(ctx context.Context, username, password string, room domain.RoomID) error {
	data, err := co.conn.Request(ctx, protocol.MethodSetUsername, protocol.SetUsernamePayload{
		Username: username,
		Password: password,
		RoomID:   room,
	})
	if err != nil {
		return err
	}
	var res protocol.SetUsernameResult
	if err := json.Unmarshal(data, &res); err != nil {
		return err
	}
	if !res.Success {
		if res.Error == "Yanlış şifre!" {
			return ErrWrongPassword
		}
		return errors.New(res.Error)
	}
	return nil
}

// LoadCapabilities fetches the room capabilities. The first successful call
// wins; later calls return the cached blob.
func (co *Coordinator) LoadCapabilities(ctx context.Context) (json.RawMessage, error) {
	co.mu.Lock()
	if co.caps != nil {
		caps := co.caps
		co.mu.Unlock()
		return caps, nil
	}
	co.mu.Unlock()

	data, err := co.conn.Request(ctx, protocol.MethodGetRouterRtpCapabilities, struct{}{})
	if err != nil {
		return nil, err
	}
	var res protocol.RouterCapabilitiesResult
	if err := json.Unmarshal(data, &res); err != nil {
		return nil, err
	}

	co.mu.Lock()
	if co.caps == nil {
		co.caps = res.RtpCapabilities
	}
	caps := co.caps
	co.mu.Unlock()
	return caps, nil
}

// CreateTransports builds the send and recv transports and completes both
// DTLS round-trips. Capabilities must be loaded first.
func (co *Coordinator) CreateTransports(ctx context.Context) error {
	co.mu.Lock()
	ready := co.caps != nil
	co.mu.Unlock()
	if !ready {
		return ErrNotReady
	}

	dtls, err := localDTLSParameters()
	if err != nil {
		return err
	}

	for _, dir := range []domain.Direction{domain.DirectionSend, domain.DirectionRecv} {
		tid, err := co.createOne(ctx, dir, dtls)
		if err != nil {
			return err
		}
		co.mu.Lock()
		if dir == domain.DirectionSend {
			co.send = tid
		} else {
			co.recv = tid
		}
		co.mu.Unlock()
	}
	return nil
}

func (co *Coordinator) createOne(ctx context.Context, dir domain.Direction, dtls json.RawMessage) (domain.TransportID, error) {
	data, err := co.conn.Request(ctx, protocol.MethodCreateWebRtcTransport, protocol.CreateTransportPayload{Type: dir})
	if err != nil {
		return "", err
	}
	var res protocol.CreateTransportResult
	if err := json.Unmarshal(data, &res); err != nil {
		return "", err
	}
	tid := res.TransportParams.ID

	if _, err := co.conn.Request(ctx, protocol.MethodConnectTransport, protocol.ConnectTransportPayload{
		TransportID:    tid,
		DtlsParameters: dtls,
	}); err != nil {
		return "", err
	}
	log.Debug().Str("module", "client").Str("transport", string(tid)).Str("dir", string(dir)).Msg("transport connected")
	return tid, nil
}

// ProduceTrack announces one outgoing track. AppData travels verbatim to
// every new-producer listener; a screen share sets {"share": true}.
func (co *Coordinator) ProduceTrack(ctx context.Context, kind domain.MediaKind, appData map[string]any) (domain.ProducerID, error) {
	co.mu.Lock()
	tid := co.send
	ready := co.caps != nil
	co.mu.Unlock()
	if !ready {
		return "", ErrNotReady
	}
	if tid == "" {
		return "", ErrNoTransport
	}

	rtp, err := json.Marshal(media.Capabilities{Codecs: []media.Codec{trackCodec(kind)}})
	if err != nil {
		return "", err
	}

	co.produceMu.Lock()
	defer co.produceMu.Unlock()

	data, err := co.conn.Request(ctx, protocol.MethodProduce, protocol.ProducePayload{
		TransportID:   tid,
		Kind:          kind,
		RtpParameters: rtp,
		AppData:       appData,
	})
	if err != nil {
		return "", err
	}
	var res protocol.ProduceResult
	if err := json.Unmarshal(data, &res); err != nil {
		return "", err
	}

	co.mu.Lock()
	co.producers[res.ProducerID] = kind
	co.mu.Unlock()
	return res.ProducerID, nil
}

// ConsumeProducer subscribes to a remote producer. A nil result with a nil
// error means the capabilities cannot decode that stream; skip it.
func (co *Coordinator) ConsumeProducer(ctx context.Context, pid domain.ProducerID) (*protocol.ConsumeResult, error) {
	co.mu.Lock()
	caps := co.caps
	recv := co.recv
	co.mu.Unlock()
	if caps == nil {
		return nil, ErrNotReady
	}
	if recv == "" {
		return nil, ErrNoTransport
	}

	data, err := co.conn.Request(ctx, protocol.MethodConsume, protocol.ConsumePayload{
		ProducerID:      pid,
		RtpCapabilities: caps,
	})
	if err != nil {
		return nil, err
	}
	var res protocol.ConsumeResult
	if err := json.Unmarshal(data, &res); err != nil {
		return nil, err
	}
	if res.ConsumerID == "" {
		return nil, nil
	}
	return &res, nil
}

// CloseProducer stops one of our tracks.
func (co *Coordinator) CloseProducer(ctx context.Context, pid domain.ProducerID) error {
	if _, err := co.conn.Request(ctx, protocol.MethodCloseProducer, protocol.CloseProducerPayload{ProducerID: pid}); err != nil {
		return err
	}
	co.mu.Lock()
	delete(co.producers, pid)
	co.mu.Unlock()
	return nil
}

// CloseAll closes every producer we own and forgets the transports. Run it
// before switching rooms or leaving; the server cascades the rest.
func (co *Coordinator) CloseAll(ctx context.Context) {
	co.mu.Lock()
	pids := make([]domain.ProducerID, 0, len(co.producers))
	for pid := range co.producers {
		pids = append(pids, pid)
	}
	co.mu.Unlock()

	for _, pid := range pids {
		if err := co.CloseProducer(ctx, pid); err != nil {
			log.Warn().Err(err).Str("module", "client").Str("producer", string(pid)).Msg("close producer")
		}
	}

	co.mu.Lock()
	co.send, co.recv = "", ""
	co.mu.Unlock()
}

// Producers asks the server for everything consumable in the room.
func (co *Coordinator) Producers(ctx context.Context) ([]protocol.ProducerInfo, error) {
	data, err := co.conn.Request(ctx, protocol.MethodGetProducers, struct{}{})
	if err != nil {
		return nil, err
	}
	var res protocol.GetProducersResult
	if err := json.Unmarshal(data, &res); err != nil {
		return nil, err
	}
	return res.Producers, nil
}

// Users lists every other identified peer.
func (co *Coordinator) Users(ctx context.Context) ([]domain.Summary, error) {
	data, err := co.conn.Request(ctx, protocol.MethodGetUsers, struct{}{})
	if err != nil {
		return nil, err
	}
	var res protocol.GetUsersResult
	if err := json.Unmarshal(data, &res); err != nil {
		return nil, err
	}
	return res.Users, nil
}

// SendChat posts a message to the room. The echo arrives as a push event
// like everybody else's copy.
func (co *Coordinator) SendChat(ctx context.Context, text string, file *domain.FileAttachment) error {
	_, err := co.conn.Request(ctx, protocol.MethodChatMessage, protocol.ChatPayload{Message: text, File: file})
	return err
}

// UpdateStatus publishes a partial mute/deafen change.
func (co *Coordinator) UpdateStatus(ctx context.Context, status domain.Status) error {
	_, err := co.conn.Request(ctx, protocol.MethodUpdatePeerStatus, status)
	return err
}

// Ping measures signaling round-trip health.
func (co *Coordinator) Ping(ctx context.Context) (protocol.PingResult, error) {
	data, err := co.conn.Request(ctx, protocol.MethodPing, struct{}{})
	if err != nil {
		return protocol.PingResult{}, err
	}
	var res protocol.PingResult
	err = json.Unmarshal(data, &res)
	return res, err
}

func trackCodec(kind domain.MediaKind) media.Codec {
	if kind == domain.KindAudio {
		return media.Codec{Kind: kind, MimeType: "audio/opus", ClockRate: 48000, Channels: 2}
	}
	return media.Codec{Kind: kind, MimeType: "video/VP8", ClockRate: 90000}
}

// localDTLSParameters generates a fresh certificate and advertises its
// fingerprints the way a browser's transport would.
func localDTLSParameters() (json.RawMessage, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, err
	}
	cert, err := webrtc.GenerateCertificate(key)
	if err != nil {
		return nil, err
	}
	fps, err := cert.GetFingerprints()
	if err != nil {
		return nil, err
	}

	params := webrtc.DTLSParameters{Role: webrtc.DTLSRoleClient, Fingerprints: fps}
	return json.Marshal(params)
}
