package media

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/demirkiran/cafe/internal/domain"
)

// stubConn replaces the real ICE/DTLS transport in engine tests.
type stubConn struct {
	mu        sync.Mutex
	connected bool
	closed    bool
	failNext  error
	onSource  func(kind domain.MediaKind, src RTPSource)
}

func (s *stubConn) LocalParameters() (json.RawMessage, json.RawMessage, json.RawMessage, error) {
	return json.RawMessage(`{"usernameFragment":"u","password":"p"}`),
		json.RawMessage(`[]`),
		json.RawMessage(`{"role":"auto","fingerprints":[]}`),
		nil
}

func (s *stubConn) Connect(remoteDtls json.RawMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failNext != nil {
		err := s.failNext
		s.failNext = nil
		return err
	}
	s.connected = true
	return nil
}

func (s *stubConn) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
}

func (s *stubConn) OnSource(fn func(kind domain.MediaKind, src RTPSource)) {
	s.mu.Lock()
	s.onSource = fn
	s.mu.Unlock()
}

// deliver simulates the media plane handing over an inbound track.
func (s *stubConn) deliver(kind domain.MediaKind, src RTPSource) {
	s.mu.Lock()
	fn := s.onSource
	s.mu.Unlock()
	if fn != nil {
		fn(kind, src)
	}
}

func newTestEngine(t *testing.T) (*Engine, *[]*stubConn) {
	t.Helper()
	pool, err := NewWorkerPool(1, WorkerConfig{})
	if err != nil {
		t.Fatalf("worker pool: %v", err)
	}
	e := NewEngine(pool)
	var conns []*stubConn
	e.dial = func(w *Worker) (transportConn, error) {
		c := &stubConn{}
		conns = append(conns, c)
		return c, nil
	}
	return e, &conns
}

func opusCaps() json.RawMessage {
	return json.RawMessage(`{"codecs":[{"kind":"audio","mimeType":"audio/opus","clockRate":48000,"channels":2}]}`)
}

func connectedTransport(t *testing.T, e *Engine, room domain.RoomID, peer domain.PeerID, dir domain.Direction) domain.TransportID {
	t.Helper()
	info, err := e.CreateTransport(room, peer, dir)
	if err != nil {
		t.Fatalf("create transport: %v", err)
	}
	if err := e.ConnectTransport(info.ID, json.RawMessage(`{}`)); err != nil {
		t.Fatalf("connect transport: %v", err)
	}
	return info.ID
}

func TestCreateTransportNeedsRouter(t *testing.T) {
	e, _ := newTestEngine(t)
	if _, err := e.CreateTransport("oda1", "p1", domain.DirectionSend); !errors.Is(err, ErrRouterNotReady) {
		t.Fatalf("err = %v, want ErrRouterNotReady", err)
	}
}

func TestConnectTransportIdempotent(t *testing.T) {
	e, conns := newTestEngine(t)
	e.EnsureRouter("oda1")
	info, err := e.CreateTransport("oda1", "p1", domain.DirectionSend)
	if err != nil {
		t.Fatal(err)
	}

	if err := e.ConnectTransport(info.ID, nil); err != nil {
		t.Fatal(err)
	}
	// Make the stub error if Connect were called again.
	(*conns)[0].failNext = errors.New("boom")
	if err := e.ConnectTransport(info.ID, nil); err != nil {
		t.Fatalf("second connect must be a no-op, got %v", err)
	}
}

func TestProduceLifecycle(t *testing.T) {
	e, _ := newTestEngine(t)
	e.EnsureRouter("oda1")

	info, err := e.CreateTransport("oda1", "p1", domain.DirectionSend)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := e.Produce(info.ID, domain.KindAudio, opusCaps(), nil); !errors.Is(err, ErrTransportNotConnected) {
		t.Fatalf("produce before connect: err = %v", err)
	}

	if err := e.ConnectTransport(info.ID, nil); err != nil {
		t.Fatal(err)
	}
	p, err := e.Produce(info.ID, domain.KindAudio, opusCaps(), map[string]any{"share": true})
	if err != nil {
		t.Fatalf("produce: %v", err)
	}
	if p.Peer != "p1" || p.Kind != domain.KindAudio || p.AppData["share"] != true {
		t.Fatalf("producer info = %+v", p)
	}

	got := e.ProducersInRoom("oda1")
	if len(got) != 1 || got[0].ID != p.ID {
		t.Fatalf("ProducersInRoom = %+v", got)
	}
	if got := e.ProducersInRoom("oda2"); len(got) != 0 {
		t.Fatal("producers must be scoped to their room")
	}
}

func TestCanConsume(t *testing.T) {
	e, _ := newTestEngine(t)
	e.EnsureRouter("oda1")
	send := connectedTransport(t, e, "oda1", "p1", domain.DirectionSend)
	p, err := e.Produce(send, domain.KindAudio, opusCaps(), nil)
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name string
		caps json.RawMessage
		want bool
	}{
		{"matching codec", opusCaps(), true},
		{"kind mismatch", json.RawMessage(`{"codecs":[{"kind":"video","mimeType":"video/VP8"}]}`), false},
		{"codec mismatch", json.RawMessage(`{"codecs":[{"kind":"audio","mimeType":"audio/PCMU"}]}`), false},
		{"garbage blob", json.RawMessage(`notjson`), false},
		{"empty caps", json.RawMessage(`{}`), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := e.CanConsume(p.ID, tt.caps); got != tt.want {
				t.Fatalf("CanConsume = %v, want %v", got, tt.want)
			}
		})
	}

	if e.CanConsume("missing", opusCaps()) {
		t.Fatal("unknown producer must not be consumable")
	}
}

func TestConsumeAndProducerClose(t *testing.T) {
	e, _ := newTestEngine(t)
	e.EnsureRouter("oda1")
	send := connectedTransport(t, e, "oda1", "p1", domain.DirectionSend)
	recv := connectedTransport(t, e, "oda1", "p2", domain.DirectionRecv)

	p, err := e.Produce(send, domain.KindAudio, opusCaps(), nil)
	if err != nil {
		t.Fatal(err)
	}
	c, err := e.Consume(recv, p.ID, opusCaps())
	if err != nil {
		t.Fatalf("consume: %v", err)
	}
	if c.ProducerID != p.ID || c.ProducerPeer != "p1" || c.Kind != domain.KindAudio {
		t.Fatalf("consumer info = %+v", c)
	}

	closed := e.CloseProducer(p.ID)
	if got := closed["p2"]; len(got) != 1 || got[0] != c.ID {
		t.Fatalf("closed consumers = %+v", closed)
	}

	if _, err := e.Consume(recv, p.ID, opusCaps()); !errors.Is(err, ErrProducerClosed) {
		t.Fatalf("consume after close: err = %v", err)
	}
	if e.CloseProducer(p.ID) != nil {
		t.Fatal("closing twice must be a no-op")
	}
}

func TestCloseTransportCascade(t *testing.T) {
	e, conns := newTestEngine(t)
	e.EnsureRouter("oda1")
	send := connectedTransport(t, e, "oda1", "p1", domain.DirectionSend)
	recv := connectedTransport(t, e, "oda1", "p2", domain.DirectionRecv)

	p, err := e.Produce(send, domain.KindAudio, opusCaps(), nil)
	if err != nil {
		t.Fatal(err)
	}
	c, err := e.Consume(recv, p.ID, opusCaps())
	if err != nil {
		t.Fatal(err)
	}

	closed := e.CloseTransport(send)
	byPeer, ok := closed[p.ID]
	if !ok {
		t.Fatalf("cascade must report producer %s, got %+v", p.ID, closed)
	}
	if got := byPeer["p2"]; len(got) != 1 || got[0] != c.ID {
		t.Fatalf("cascade consumers = %+v", byPeer)
	}
	if !(*conns)[0].closed {
		t.Fatal("underlying connection must be closed")
	}

	if e.CloseTransport(send) != nil {
		t.Fatal("closing an unknown transport must return nil")
	}
	if got := e.ProducersInRoom("oda1"); len(got) != 0 {
		t.Fatalf("room still lists %d producers", len(got))
	}
}

func TestAttachSource(t *testing.T) {
	e, _ := newTestEngine(t)
	e.EnsureRouter("oda1")
	send := connectedTransport(t, e, "oda1", "p1", domain.DirectionSend)
	recv := connectedTransport(t, e, "oda1", "p2", domain.DirectionRecv)

	p, err := e.Produce(send, domain.KindAudio, opusCaps(), nil)
	if err != nil {
		t.Fatal(err)
	}
	c, err := e.Consume(recv, p.ID, opusCaps())
	if err != nil {
		t.Fatal(err)
	}

	if e.AttachSource(context.Background(), "missing", &scriptedSource{total: 0}) {
		t.Fatal("attach to an unknown producer must fail")
	}
	if !e.AttachSource(context.Background(), p.ID, &scriptedSource{total: 3}) {
		t.Fatal("attach to a live producer must succeed")
	}

	// The source drains and fails; the forwarder marks its sinks deleted.
	deadline := time.After(2 * time.Second)
	for {
		e.mu.Lock()
		fwd := e.producers[p.ID].fwd
		e.mu.Unlock()
		fwd.mu.RLock()
		s, ok := fwd.sinks[c.ID]
		done := ok && s.get() == sinkDelete
		fwd.mu.RUnlock()
		if done {
			return
		}
		select {
		case <-deadline:
			t.Fatal("forwarder never stopped after source exhaustion")
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestInboundTrackAttachesToProducer(t *testing.T) {
	e, conns := newTestEngine(t)
	e.EnsureRouter("oda1")
	send := connectedTransport(t, e, "oda1", "p1", domain.DirectionSend)

	p, err := e.Produce(send, domain.KindAudio, opusCaps(), nil)
	if err != nil {
		t.Fatal(err)
	}

	(*conns)[0].deliver(domain.KindAudio, &scriptedSource{total: 1})

	e.mu.Lock()
	fwd := e.producers[p.ID].fwd
	e.mu.Unlock()

	// The delivery claimed the producer's forwarder, so a second source is
	// refused.
	if e.AttachSource(context.Background(), p.ID, &scriptedSource{total: 1}) {
		t.Fatal("second source for one producer must be refused")
	}
	fwd.mu.RLock()
	claimed := fwd.stopped || fwd.cancel != nil
	fwd.mu.RUnlock()
	if !claimed {
		t.Fatal("delivered track never reached the forwarder")
	}
}

func TestInboundTrackBeforeProduceIsParked(t *testing.T) {
	e, conns := newTestEngine(t)
	e.EnsureRouter("oda1")
	send := connectedTransport(t, e, "oda1", "p1", domain.DirectionSend)

	// Track arrives before the produce request.
	(*conns)[0].deliver(domain.KindAudio, &scriptedSource{total: 1})

	e.mu.Lock()
	parked := len(e.transports[send].pending)
	e.mu.Unlock()
	if parked != 1 {
		t.Fatalf("pending sources = %d, want 1", parked)
	}

	p, err := e.Produce(send, domain.KindAudio, opusCaps(), nil)
	if err != nil {
		t.Fatal(err)
	}

	e.mu.Lock()
	parked = len(e.transports[send].pending)
	fwd := e.producers[p.ID].fwd
	e.mu.Unlock()
	if parked != 0 {
		t.Fatal("produce must pick up the parked source")
	}
	fwd.mu.RLock()
	claimed := fwd.stopped || fwd.cancel != nil
	fwd.mu.RUnlock()
	if !claimed {
		t.Fatal("parked source never attached")
	}
}

func TestRouterCapabilities(t *testing.T) {
	e, _ := newTestEngine(t)
	if e.RouterCapabilities("oda1") != nil {
		t.Fatal("missing router must yield nil capabilities")
	}

	e.EnsureRouter("oda1")
	raw := e.RouterCapabilities("oda1")
	var caps Capabilities
	if err := json.Unmarshal(raw, &caps); err != nil {
		t.Fatalf("capabilities blob: %v", err)
	}
	if len(caps.Codecs) != len(DefaultCodecs()) {
		t.Fatalf("capabilities carry %d codecs, want %d", len(caps.Codecs), len(DefaultCodecs()))
	}
}

func TestWorkerPoolRoundRobinAndReplace(t *testing.T) {
	pool, err := NewWorkerPool(2, WorkerConfig{})
	if err != nil {
		t.Fatal(err)
	}
	a, b := pool.Next(), pool.Next()
	if a == b {
		t.Fatal("two workers must alternate")
	}
	if pool.Next() != a {
		t.Fatal("round robin must wrap")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go pool.Watch(ctx)

	a.fail(errors.New("simulated crash"))

	deadline := time.After(2 * time.Second)
	for {
		w := pool.Next()
		select {
		case <-w.Dead():
		default:
			if w != b {
				// The replacement worker is alive and scheduled.
				return
			}
		}
		select {
		case <-deadline:
			t.Fatal("dead worker was never replaced")
		case <-time.After(10 * time.Millisecond):
		}
	}
}
