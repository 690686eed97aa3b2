package media

import (
	"context"
	"maps"
	"sync"
	"sync/atomic"

	"github.com/demirkiran/cafe/internal/domain"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
)

// RTPSource yields packets from a producer's inbound track. The media plane
// attaches one per producer; *webrtc.TrackRemote satisfies it through a thin
// adapter.
type RTPSource interface {
	ReadRTP() (*rtp.Packet, error)
}

type sinkState int32

const (
	sinkOk sinkState = iota
	sinkPaused
	sinkDelete
)

// sink is one outgoing leg of a producer's fan-out.
type sink struct {
	track *webrtc.TrackLocalStaticRTP
	state atomic.Int32
}

func newSink(track *webrtc.TrackLocalStaticRTP) *sink {
	return &sink{track: track}
}

func (s *sink) get() sinkState     { return sinkState(s.state.Load()) }
func (s *sink) set(next sinkState) { s.state.Store(int32(next)) }

// forwarder fans one producer's RTP out to every consumer's local track.
type forwarder struct {
	mu      sync.RWMutex
	sinks   map[domain.ConsumerID]*sink
	paused  atomic.Bool
	cancel  context.CancelFunc
	stopped bool
}

func newForwarder() *forwarder {
	return &forwarder{sinks: make(map[domain.ConsumerID]*sink)}
}

func (f *forwarder) addSink(id domain.ConsumerID, track *webrtc.TrackLocalStaticRTP) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sinks[id] = newSink(track)
}

func (f *forwarder) dropSink(id domain.ConsumerID) {
	f.mu.RLock()
	s, ok := f.sinks[id]
	f.mu.RUnlock()
	if ok {
		s.set(sinkDelete)
	}
}

func (f *forwarder) setPaused(paused bool) { f.paused.Store(paused) }

// attach starts the read loop for an inbound track. One source per producer;
// an attach after stop, or a second attach, is refused.
func (f *forwarder) attach(ctx context.Context, src RTPSource, logger *zerolog.Logger) bool {
	f.mu.Lock()
	if f.stopped || f.cancel != nil {
		f.mu.Unlock()
		return false
	}
	ctx, cancel := context.WithCancel(ctx)
	f.cancel = cancel
	f.mu.Unlock()

	go f.run(ctx, src, logger)
	return true
}

func (f *forwarder) stop() {
	f.mu.Lock()
	f.stopped = true
	cancel := f.cancel
	f.cancel = nil
	for _, s := range f.sinks {
		s.set(sinkDelete)
	}
	f.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// run reads from src until ctx is done or the source fails.
func (f *forwarder) run(ctx context.Context, src RTPSource, logger *zerolog.Logger) {
	for {
		select {
		case <-ctx.Done():
			f.stop()
			return
		default:
		}
		pkt, err := src.ReadRTP()
		if err != nil {
			logger.Error().Err(err).Msg("forwarder read RTP, stopping")
			f.stop()
			return
		}
		if f.paused.Load() {
			continue
		}
		f.forward(pkt, logger)
	}
}

func (f *forwarder) forward(pkt *rtp.Packet, logger *zerolog.Logger) {
	snapshot := make(map[domain.ConsumerID]*sink, len(f.sinks))
	f.mu.RLock()
	maps.Copy(snapshot, f.sinks)
	f.mu.RUnlock()

	dirty := make([]domain.ConsumerID, 0, len(snapshot))
	for id, s := range snapshot {
		switch s.get() {
		case sinkDelete:
			dirty = append(dirty, id)
		case sinkPaused:
		case sinkOk:
			if err := s.track.WriteRTP(pkt); err != nil {
				logger.Error().Err(err).Str("consumer", string(id)).Msg("forwarder write RTP, dropping sink")
				s.set(sinkDelete)
				dirty = append(dirty, id)
			}
		}
	}

	// Cleanup runs outside the RLock.
	if len(dirty) > 0 {
		f.mu.Lock()
		for _, id := range dirty {
			delete(f.sinks, id)
		}
		f.mu.Unlock()
	}
}

// TrackSource adapts a remote pion track into an RTPSource.
func TrackSource(track *webrtc.TrackRemote) RTPSource {
	return trackSource{track}
}

type trackSource struct {
	track *webrtc.TrackRemote
}

func (t trackSource) ReadRTP() (*rtp.Packet, error) {
	pkt, _, err := t.track.ReadRTP()
	return pkt, err
}
