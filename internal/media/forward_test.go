package media

import (
	"context"
	"io"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
)

// scriptedSource yields n packets then fails like a closed track.
type scriptedSource struct {
	n     int32
	total int32
}

func (s *scriptedSource) ReadRTP() (*rtp.Packet, error) {
	if atomic.AddInt32(&s.n, 1) > s.total {
		return nil, io.EOF
	}
	return &rtp.Packet{Header: rtp.Header{SequenceNumber: uint16(s.n)}}, nil
}

func newLocalTrack(t *testing.T) *webrtc.TrackLocalStaticRTP {
	t.Helper()
	track, err := webrtc.NewTrackLocalStaticRTP(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2},
		"audio", "test")
	if err != nil {
		t.Fatalf("new track: %v", err)
	}
	return track
}

func TestForwarderStopsOnSourceError(t *testing.T) {
	f := newForwarder()
	f.addSink("c1", newLocalTrack(t))

	done := make(chan struct{})
	logger := zerolog.Nop()
	go func() {
		f.run(context.Background(), &scriptedSource{total: 5}, &logger)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("forwarder must stop when the source fails")
	}

	f.mu.RLock()
	state := f.sinks["c1"].get()
	f.mu.RUnlock()
	if state != sinkDelete {
		t.Fatalf("sink state after stop = %v, want sinkDelete", state)
	}
}

func TestForwarderSingleAttach(t *testing.T) {
	f := newForwarder()
	logger := zerolog.Nop()

	if !f.attach(context.Background(), &scriptedSource{total: 0}, &logger) {
		t.Fatal("first attach must succeed")
	}
	if f.attach(context.Background(), &scriptedSource{total: 0}, &logger) {
		t.Fatal("second attach must be refused")
	}

	// Once stopped, the forwarder stays dead.
	deadline := time.After(2 * time.Second)
	for {
		f.mu.RLock()
		stopped := f.stopped
		f.mu.RUnlock()
		if stopped {
			break
		}
		select {
		case <-deadline:
			t.Fatal("forwarder never stopped after source exhaustion")
		case <-time.After(10 * time.Millisecond):
		}
	}
	if f.attach(context.Background(), &scriptedSource{total: 0}, &logger) {
		t.Fatal("attach after stop must be refused")
	}
}

func TestForwarderDropSink(t *testing.T) {
	f := newForwarder()
	f.addSink("c1", newLocalTrack(t))
	f.addSink("c2", newLocalTrack(t))

	f.dropSink("c1")
	logger := zerolog.Nop()
	f.forward(&rtp.Packet{}, &logger)

	f.mu.RLock()
	_, c1Present := f.sinks["c1"]
	_, c2Present := f.sinks["c2"]
	f.mu.RUnlock()
	if c1Present {
		t.Fatal("dropped sink must be cleaned up on the next packet")
	}
	if !c2Present {
		t.Fatal("unrelated sink must survive")
	}
}
