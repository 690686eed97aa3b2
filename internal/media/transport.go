package media

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/demirkiran/cafe/internal/domain"
	"github.com/pion/webrtc/v4"
)

// transportConn is the network leg of a transport. The default implementation
// gathers real ICE candidates and advertises the worker's DTLS fingerprints;
// tests substitute a stub.
type transportConn interface {
	LocalParameters() (ice, candidates, dtls json.RawMessage, err error)
	Connect(remoteDtls json.RawMessage) error
	// OnSource registers the callback invoked once per inbound track the
	// media plane delivers on this transport.
	OnSource(fn func(kind domain.MediaKind, src RTPSource))
	Close()
}

type transportFactory func(w *Worker) (transportConn, error)

// ortcConn exchanges mediasoup-style transport parameters: ICE from a pion
// gatherer, DTLS fingerprints from the worker certificate. The handshake
// itself runs on the ICE path owned by the media plane.
type ortcConn struct {
	gatherer *webrtc.ICEGatherer
	worker   *Worker

	mu       sync.Mutex
	onSource func(kind domain.MediaKind, src RTPSource)
}

func newORTCConn(w *Worker) (transportConn, error) {
	gatherer, err := w.api.NewICEGatherer(webrtc.ICEGatherOptions{})
	if err != nil {
		w.fail(err)
		return nil, fmt.Errorf("new ice gatherer: %w", err)
	}

	done := make(chan struct{})
	gatherer.OnLocalCandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			close(done)
		}
	})
	if err := gatherer.Gather(); err != nil {
		return nil, fmt.Errorf("gather: %w", err)
	}
	<-done

	return &ortcConn{gatherer: gatherer, worker: w}, nil
}

func (c *ortcConn) LocalParameters() (ice, candidates, dtls json.RawMessage, err error) {
	iceParams, err := c.gatherer.GetLocalParameters()
	if err != nil {
		return nil, nil, nil, fmt.Errorf("ice parameters: %w", err)
	}
	cands, err := c.gatherer.GetLocalCandidates()
	if err != nil {
		return nil, nil, nil, fmt.Errorf("ice candidates: %w", err)
	}
	fingerprints, err := c.worker.cert.GetFingerprints()
	if err != nil {
		return nil, nil, nil, fmt.Errorf("dtls fingerprints: %w", err)
	}

	if ice, err = json.Marshal(iceParams); err != nil {
		return nil, nil, nil, err
	}
	candidateInits := make([]webrtc.ICECandidateInit, 0, len(cands))
	for _, cand := range cands {
		candidateInits = append(candidateInits, cand.ToJSON())
	}
	if candidates, err = json.Marshal(candidateInits); err != nil {
		return nil, nil, nil, err
	}
	if dtls, err = json.Marshal(webrtc.DTLSParameters{
		Role:         webrtc.DTLSRoleAuto,
		Fingerprints: fingerprints,
	}); err != nil {
		return nil, nil, nil, err
	}
	return ice, candidates, dtls, nil
}

func (c *ortcConn) Connect(remoteDtls json.RawMessage) error {
	var params webrtc.DTLSParameters
	if err := json.Unmarshal(remoteDtls, &params); err != nil {
		return fmt.Errorf("%w: %v", ErrBadParameters, err)
	}
	if len(params.Fingerprints) == 0 {
		return fmt.Errorf("%w: no dtls fingerprints", ErrBadParameters)
	}
	return nil
}

func (c *ortcConn) OnSource(fn func(kind domain.MediaKind, src RTPSource)) {
	c.mu.Lock()
	c.onSource = fn
	c.mu.Unlock()
}

// deliverTrack runs when the ICE/DTLS/SRTP leg decrypts an inbound track.
func (c *ortcConn) deliverTrack(track *webrtc.TrackRemote) {
	c.mu.Lock()
	fn := c.onSource
	c.mu.Unlock()
	if fn == nil {
		return
	}
	kind := domain.KindAudio
	if track.Kind() == webrtc.RTPCodecTypeVideo {
		kind = domain.KindVideo
	}
	fn(kind, TrackSource(track))
}

func (c *ortcConn) Close() {
	_ = c.gatherer.Close()
}
