package media

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"fmt"
	"sync"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

// WorkerConfig bounds the UDP range and fixes the announced address for every
// transport the worker creates.
type WorkerConfig struct {
	AnnouncedIP string
	RTCMinPort  uint16
	RTCMaxPort  uint16
	ICEServers  []string
}

// Worker is one media-plane unit: its own pion API instance, setting engine
// and DTLS certificate. Routers are placed on workers round-robin.
type Worker struct {
	id   int
	api  *webrtc.API
	cert *webrtc.Certificate

	dead     chan struct{}
	deadOnce sync.Once
}

func newWorker(id int, cfg WorkerConfig) (*Worker, error) {
	se := webrtc.SettingEngine{}
	if cfg.RTCMinPort > 0 && cfg.RTCMaxPort >= cfg.RTCMinPort {
		if err := se.SetEphemeralUDPPortRange(cfg.RTCMinPort, cfg.RTCMaxPort); err != nil {
			return nil, fmt.Errorf("set port range: %w", err)
		}
	}
	if cfg.AnnouncedIP != "" {
		se.SetNAT1To1IPs([]string{cfg.AnnouncedIP}, webrtc.ICECandidateTypeHost)
	}

	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate key: %w", err)
	}
	cert, err := webrtc.GenerateCertificate(priv)
	if err != nil {
		return nil, fmt.Errorf("generate certificate: %w", err)
	}

	return &Worker{
		id:   id,
		api:  webrtc.NewAPI(webrtc.WithSettingEngine(se)),
		cert: cert,
		dead: make(chan struct{}),
	}, nil
}

// fail marks the worker dead. The pool notices and spawns a replacement;
// in-flight operations bound to this worker fail and must be retried.
func (w *Worker) fail(err error) {
	w.deadOnce.Do(func() {
		log.Error().Err(err).Str("module", "media.worker").Int("worker", w.id).Msg("worker died")
		close(w.dead)
	})
}

func (w *Worker) Dead() <-chan struct{} { return w.dead }

// WorkerPool owns a fixed-size set of workers and replaces dead ones.
type WorkerPool struct {
	cfg WorkerConfig

	mu      sync.Mutex
	workers []*Worker
	next    int
	seq     int
}

func NewWorkerPool(n int, cfg WorkerConfig) (*WorkerPool, error) {
	if n < 1 {
		n = 1
	}
	p := &WorkerPool{cfg: cfg}
	for i := 0; i < n; i++ {
		w, err := newWorker(i, cfg)
		if err != nil {
			return nil, err
		}
		p.workers = append(p.workers, w)
	}
	p.seq = n
	return p, nil
}

// Next returns a worker round-robin.
func (p *WorkerPool) Next() *Worker {
	p.mu.Lock()
	defer p.mu.Unlock()
	w := p.workers[p.next%len(p.workers)]
	p.next++
	return w
}

func (p *WorkerPool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.workers)
}

// Watch replaces dead workers until ctx is canceled.
func (p *WorkerPool) Watch(ctx context.Context) {
	for {
		p.mu.Lock()
		watched := make([]*Worker, len(p.workers))
		copy(watched, p.workers)
		p.mu.Unlock()

		cases := make([]<-chan struct{}, len(watched))
		for i, w := range watched {
			cases[i] = w.Dead()
		}

		idx, ok := waitAny(ctx, cases)
		if !ok {
			return
		}
		p.replace(watched[idx])
	}
}

func (p *WorkerPool) replace(dead *Worker) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i, w := range p.workers {
		if w != dead {
			continue
		}
		p.seq++
		fresh, err := newWorker(p.seq, p.cfg)
		if err != nil {
			log.Error().Err(err).Str("module", "media.worker").Msg("worker replacement failed")
			p.workers = append(p.workers[:i], p.workers[i+1:]...)
			return
		}
		p.workers[i] = fresh
		log.Info().Str("module", "media.worker").Int("worker", fresh.id).Msg("worker replaced")
		return
	}
}

// waitAny blocks until one of the channels closes or ctx is done.
func waitAny(ctx context.Context, chans []<-chan struct{}) (int, bool) {
	fired := make(chan int, len(chans))
	inner, cancel := context.WithCancel(ctx)
	defer cancel()
	for i, ch := range chans {
		go func(i int, ch <-chan struct{}) {
			select {
			case <-ch:
				fired <- i
			case <-inner.Done():
			}
		}(i, ch)
	}
	select {
	case i := <-fired:
		return i, true
	case <-ctx.Done():
		return 0, false
	}
}
