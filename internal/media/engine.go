package media

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/demirkiran/cafe/internal/domain"
	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

type transportState int

const (
	transportCreated transportState = iota
	transportConnected
	transportClosed
)

type transport struct {
	id    domain.TransportID
	room  domain.RoomID
	peer  domain.PeerID
	dir   domain.Direction
	conn  transportConn
	state transportState

	producers map[domain.ProducerID]struct{}
	consumers map[domain.ConsumerID]struct{}

	// pending holds inbound tracks that arrived before produce declared a
	// matching producer.
	pending map[domain.MediaKind]RTPSource
}

type producer struct {
	id        domain.ProducerID
	peer      domain.PeerID
	room      domain.RoomID
	kind      domain.MediaKind
	codecs    []Codec
	appData   map[string]any
	transport domain.TransportID
	fwd       *forwarder
	consumers map[domain.ConsumerID]struct{}
}

type consumer struct {
	id        domain.ConsumerID
	peer      domain.PeerID
	producer  domain.ProducerID
	kind      domain.MediaKind
	transport domain.TransportID
}

// Engine is the in-process media engine. All maps are guarded by one mutex;
// every multi-step mutation (cascading closes in particular) happens under it
// so a disconnect cannot interleave with a consume on the same producer.
type Engine struct {
	pool   *WorkerPool
	codecs []Codec
	dial   transportFactory

	mu         sync.Mutex
	routers    map[domain.RoomID]*Router
	transports map[domain.TransportID]*transport
	producers  map[domain.ProducerID]*producer
	consumers  map[domain.ConsumerID]*consumer
}

func NewEngine(pool *WorkerPool) *Engine {
	return &Engine{
		pool:       pool,
		codecs:     DefaultCodecs(),
		dial:       newORTCConn,
		routers:    make(map[domain.RoomID]*Router),
		transports: make(map[domain.TransportID]*transport),
		producers:  make(map[domain.ProducerID]*producer),
		consumers:  make(map[domain.ConsumerID]*consumer),
	}
}

// EnsureRouter creates the room's router on first use. Routers live for the
// process lifetime; there is no teardown on empty rooms.
func (e *Engine) EnsureRouter(room domain.RoomID) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.routers[room]; ok {
		return
	}
	e.routers[room] = newRouter(room, e.pool.Next(), e.codecs)
	log.Info().Str("module", "media").Str("room", string(room)).Msg("router created")
}

// RouterCapabilities returns nil when the room's router does not exist yet.
func (e *Engine) RouterCapabilities(room domain.RoomID) json.RawMessage {
	e.mu.Lock()
	r, ok := e.routers[room]
	e.mu.Unlock()
	if !ok {
		return nil
	}
	return r.Capabilities()
}

// CreateTransport creates one directional transport for a peer against the
// room's router.
func (e *Engine) CreateTransport(room domain.RoomID, peer domain.PeerID, dir domain.Direction) (TransportInfo, error) {
	e.mu.Lock()
	r, ok := e.routers[room]
	e.mu.Unlock()
	if !ok {
		return TransportInfo{}, ErrRouterNotReady
	}

	conn, err := e.dial(r.worker)
	if err != nil {
		return TransportInfo{}, err
	}
	ice, candidates, dtls, err := conn.LocalParameters()
	if err != nil {
		conn.Close()
		return TransportInfo{}, err
	}

	t := &transport{
		id:        domain.TransportID(uuid.NewString()),
		room:      room,
		peer:      peer,
		dir:       dir,
		conn:      conn,
		producers: make(map[domain.ProducerID]struct{}),
		consumers: make(map[domain.ConsumerID]struct{}),
		pending:   make(map[domain.MediaKind]RTPSource),
	}

	e.mu.Lock()
	e.transports[t.id] = t
	e.mu.Unlock()

	if dir == domain.DirectionSend {
		conn.OnSource(func(kind domain.MediaKind, src RTPSource) {
			e.deliverSource(t.id, kind, src)
		})
	}

	log.Info().Str("module", "media").Str("transport", string(t.id)).
		Str("peer", string(peer)).Str("direction", string(dir)).Msg("transport created")

	return TransportInfo{
		ID:             t.id,
		IceParameters:  ice,
		IceCandidates:  candidates,
		DtlsParameters: dtls,
	}, nil
}

// ConnectTransport completes the DTLS step. Connecting twice is a no-op so
// client retries stay safe.
func (e *Engine) ConnectTransport(id domain.TransportID, remoteDtls json.RawMessage) error {
	e.mu.Lock()
	t, ok := e.transports[id]
	e.mu.Unlock()
	if !ok {
		return ErrTransportNotFound
	}
	if t.state == transportConnected {
		return nil
	}
	if err := t.conn.Connect(remoteDtls); err != nil {
		return err
	}
	e.mu.Lock()
	t.state = transportConnected
	e.mu.Unlock()
	return nil
}

// Produce registers an outbound track on a connected send transport.
func (e *Engine) Produce(tid domain.TransportID, kind domain.MediaKind, rtpParams json.RawMessage, appData map[string]any) (ProducerInfo, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	t, ok := e.transports[tid]
	if !ok {
		return ProducerInfo{}, ErrTransportNotFound
	}
	if t.state != transportConnected {
		return ProducerInfo{}, ErrTransportNotConnected
	}
	r, ok := e.routers[t.room]
	if !ok || !r.supports(kind) {
		return ProducerInfo{}, ErrBadParameters
	}

	var params rtpParameters
	if len(rtpParams) > 0 {
		if err := json.Unmarshal(rtpParams, &params); err != nil {
			return ProducerInfo{}, ErrBadParameters
		}
	}

	p := &producer{
		id:        domain.ProducerID(uuid.NewString()),
		peer:      t.peer,
		room:      t.room,
		kind:      kind,
		codecs:    params.Codecs,
		appData:   appData,
		transport: tid,
		fwd:       newForwarder(),
		consumers: make(map[domain.ConsumerID]struct{}),
	}
	e.producers[p.id] = p
	t.producers[p.id] = struct{}{}

	if src, ok := t.pending[kind]; ok {
		delete(t.pending, kind)
		e.attachLocked(p, src)
	}

	log.Info().Str("module", "media").Str("producer", string(p.id)).
		Str("peer", string(t.peer)).Str("kind", string(kind)).Msg("producer created")

	return ProducerInfo{ID: p.id, Peer: p.peer, Kind: p.kind, AppData: p.appData}, nil
}

// deliverSource routes an inbound track from the media plane to the producer
// of the same kind on its transport. A track that arrives before produce is
// parked on the transport and picked up when the producer appears.
func (e *Engine) deliverSource(tid domain.TransportID, kind domain.MediaKind, src RTPSource) {
	e.mu.Lock()
	defer e.mu.Unlock()

	t, ok := e.transports[tid]
	if !ok {
		return
	}
	for pid := range t.producers {
		p := e.producers[pid]
		if p != nil && p.kind == kind {
			e.attachLocked(p, src)
			return
		}
	}
	t.pending[kind] = src
}

func (e *Engine) attachLocked(p *producer, src RTPSource) bool {
	logger := log.With().Str("module", "media.forward").Str("producer", string(p.id)).Logger()
	return p.fwd.attach(context.Background(), src, &logger)
}

// AttachSource starts forwarding RTP from src to the producer's consumers.
// The second source for one producer is refused.
func (e *Engine) AttachSource(ctx context.Context, id domain.ProducerID, src RTPSource) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	p, ok := e.producers[id]
	if !ok {
		return false
	}
	logger := log.With().Str("module", "media.forward").Str("producer", string(id)).Logger()
	return p.fwd.attach(ctx, src, &logger)
}

// CanConsume checks a declared capability set against a producer. A missing
// producer or unparsable blob is simply "no".
func (e *Engine) CanConsume(id domain.ProducerID, rtpCaps json.RawMessage) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	p, ok := e.producers[id]
	if !ok {
		return false
	}
	r, ok := e.routers[p.room]
	if !ok {
		return false
	}
	return r.compatible(p.kind, p.codecs, rtpCaps)
}

// Consume creates a subscription on a connected recv transport. The
// compatibility re-check guards the window between a caller's CanConsume and
// this call: the producer may have closed in between.
func (e *Engine) Consume(tid domain.TransportID, pid domain.ProducerID, rtpCaps json.RawMessage) (ConsumerInfo, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	t, ok := e.transports[tid]
	if !ok {
		return ConsumerInfo{}, ErrTransportNotFound
	}
	if t.state != transportConnected {
		return ConsumerInfo{}, ErrTransportNotConnected
	}
	p, ok := e.producers[pid]
	if !ok {
		return ConsumerInfo{}, ErrProducerClosed
	}
	r := e.routers[p.room]
	if r == nil || !r.compatible(p.kind, p.codecs, rtpCaps) {
		return ConsumerInfo{}, ErrBadParameters
	}

	c := &consumer{
		id:        domain.ConsumerID(uuid.NewString()),
		peer:      t.peer,
		producer:  pid,
		kind:      p.kind,
		transport: tid,
	}

	capability := webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2}
	if p.kind == domain.KindVideo {
		capability = webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8, ClockRate: 90000}
	}
	track, err := webrtc.NewTrackLocalStaticRTP(capability, string(c.id), string(p.id))
	if err != nil {
		return ConsumerInfo{}, err
	}
	p.fwd.addSink(c.id, track)

	e.consumers[c.id] = c
	t.consumers[c.id] = struct{}{}
	p.consumers[c.id] = struct{}{}

	params, err := json.Marshal(Capabilities{Codecs: p.codecs})
	if err != nil {
		params = nil
	}

	log.Info().Str("module", "media").Str("consumer", string(c.id)).
		Str("producer", string(pid)).Str("peer", string(t.peer)).Msg("consumer created")

	return ConsumerInfo{
		ID:            c.id,
		ProducerID:    pid,
		ProducerPeer:  p.peer,
		Kind:          p.kind,
		RtpParameters: params,
	}, nil
}

// PauseProducer gates the forwarding loop without tearing anything down.
func (e *Engine) PauseProducer(id domain.ProducerID, paused bool) {
	e.mu.Lock()
	p, ok := e.producers[id]
	e.mu.Unlock()
	if ok {
		p.fwd.setPaused(paused)
	}
}

// CloseProducer closes a producer and all consumers riding on it. It returns
// the closed consumers grouped by owning peer so the caller can clean its own
// bookkeeping; unknown ids are a no-op.
func (e *Engine) CloseProducer(id domain.ProducerID) map[domain.PeerID][]domain.ConsumerID {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.closeProducerLocked(id)
}

func (e *Engine) closeProducerLocked(id domain.ProducerID) map[domain.PeerID][]domain.ConsumerID {
	p, ok := e.producers[id]
	if !ok {
		return nil
	}
	closed := make(map[domain.PeerID][]domain.ConsumerID)
	for cid := range p.consumers {
		if c := e.consumers[cid]; c != nil {
			closed[c.peer] = append(closed[c.peer], cid)
			if t := e.transports[c.transport]; t != nil {
				delete(t.consumers, cid)
			}
			delete(e.consumers, cid)
		}
	}
	p.fwd.stop()
	if t := e.transports[p.transport]; t != nil {
		delete(t.producers, id)
	}
	delete(e.producers, id)
	log.Info().Str("module", "media").Str("producer", string(id)).Msg("producer closed")
	return closed
}

// CloseConsumer drops one subscription. No-op on unknown ids.
func (e *Engine) CloseConsumer(id domain.ConsumerID) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closeConsumerLocked(id)
}

func (e *Engine) closeConsumerLocked(id domain.ConsumerID) {
	c, ok := e.consumers[id]
	if !ok {
		return
	}
	if p := e.producers[c.producer]; p != nil {
		p.fwd.dropSink(id)
		delete(p.consumers, id)
	}
	if t := e.transports[c.transport]; t != nil {
		delete(t.consumers, id)
	}
	delete(e.consumers, id)
}

// CloseTransport closes a transport and cascades to every producer and
// consumer riding on it. Closed producers are returned with their affected
// consumer peers so the signaling layer can fan out producer-closed events.
func (e *Engine) CloseTransport(id domain.TransportID) map[domain.ProducerID]map[domain.PeerID][]domain.ConsumerID {
	e.mu.Lock()
	defer e.mu.Unlock()

	t, ok := e.transports[id]
	if !ok || t.state == transportClosed {
		return nil
	}
	t.state = transportClosed

	closed := make(map[domain.ProducerID]map[domain.PeerID][]domain.ConsumerID)
	for pid := range t.producers {
		closed[pid] = e.closeProducerLocked(pid)
	}
	for cid := range t.consumers {
		e.closeConsumerLocked(cid)
	}
	t.conn.Close()
	delete(e.transports, id)
	log.Info().Str("module", "media").Str("transport", string(id)).Msg("transport closed")
	return closed
}

// ProducersInRoom lists live producers against the room's router.
func (e *Engine) ProducersInRoom(room domain.RoomID) []ProducerInfo {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]ProducerInfo, 0, len(e.producers))
	for _, p := range e.producers {
		if p.room == room {
			out = append(out, ProducerInfo{ID: p.id, Peer: p.peer, Kind: p.kind, AppData: p.appData})
		}
	}
	return out
}
