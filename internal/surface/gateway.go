package surface

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"
)

// State is the gateway bootstrap state.
type State int

const (
	StateUninitialized State = iota
	StateLoading
	StateReady
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateLoading:
		return "loading"
	case StateReady:
		return "ready"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Gateway owns the one-time asynchronous bootstrap of the underlying
// Surface and forwards marker and overlay operations to it only once Ready.
//
// The bootstrap is a process-wide singleton state machine with an explicit
// queue of pending waiters: every caller that arrives during Loading is
// coalesced onto the single outstanding Initialize attempt rather than
// issuing a second one. Failed is terminal for the session; there is no
// automatic retry.
type Gateway struct {
	surface Surface
	cfg     InitConfig
	timeout time.Duration

	mu      sync.Mutex
	state   State
	failure error
	waiters []chan error
}

// NewGateway wraps a Surface. bootstrapTimeout bounds the single Initialize
// attempt; zero means no bound beyond what the surface itself imposes.
func NewGateway(s Surface, cfg InitConfig, bootstrapTimeout time.Duration) *Gateway {
	return &Gateway{
		surface: s,
		cfg:     cfg,
		timeout: bootstrapTimeout,
		state:   StateUninitialized,
	}
}

// State reports the current bootstrap state.
func (g *Gateway) State() State {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state
}

// Bootstrap brings the surface to Ready, starting the one-time Initialize
// attempt if nobody has yet. Concurrent callers during Loading block on the
// same attempt. A caller whose context expires stops waiting, but the
// attempt itself keeps running for everyone else.
func (g *Gateway) Bootstrap(ctx context.Context) error {
	g.mu.Lock()

	switch g.state {
	case StateReady:
		g.mu.Unlock()
		return nil
	case StateFailed:
		failure := g.failure
		g.mu.Unlock()
		return fmt.Errorf("%w: %v", ErrUnavailable, failure)
	case StateUninitialized:
		g.state = StateLoading
		done := make(chan error, 1)
		g.waiters = append(g.waiters, done)
		g.mu.Unlock()
		go g.initialize()
		return g.wait(ctx, done)
	default: // StateLoading
		done := make(chan error, 1)
		g.waiters = append(g.waiters, done)
		g.mu.Unlock()
		return g.wait(ctx, done)
	}
}

func (g *Gateway) wait(ctx context.Context, done <-chan error) error {
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// initialize runs the single bootstrap attempt. It is detached from any one
// caller's context so an impatient caller cannot abort the attempt the
// other waiters are queued on.
func (g *Gateway) initialize() {
	ctx := context.Background()
	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	err := g.surface.Initialize(ctx, g.cfg)

	g.mu.Lock()
	if err != nil {
		g.state = StateFailed
		g.failure = err
		log.Printf("surface: bootstrap failed: %v", err)
	} else {
		g.state = StateReady
	}
	waiters := g.waiters
	g.waiters = nil
	g.mu.Unlock()

	for _, w := range waiters {
		if err != nil {
			w <- fmt.Errorf("%w: %v", ErrUnavailable, err)
		} else {
			w <- nil
		}
	}
}

// ready gates every marker and overlay operation. Calls made before Ready
// fail explicitly; they are never silently dropped.
func (g *Gateway) ready() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	switch g.state {
	case StateReady:
		return nil
	case StateFailed:
		return fmt.Errorf("%w: %v", ErrUnavailable, g.failure)
	default:
		return ErrNotReady
	}
}

// CreateMarker creates a marker on the surface.
func (g *Gateway) CreateMarker(ctx context.Context, lat, lng float64, content MarkerContent) (Handle, error) {
	if err := g.ready(); err != nil {
		return "", err
	}
	return g.surface.CreateMarker(ctx, lat, lng, content)
}

// UpdateMarkerContent rebinds the content of an existing marker in place.
func (g *Gateway) UpdateMarkerContent(ctx context.Context, h Handle, content MarkerContent) error {
	if err := g.ready(); err != nil {
		return err
	}
	return g.surface.UpdateMarkerContent(ctx, h, content)
}

// DestroyMarker removes a marker from the surface.
func (g *Gateway) DestroyMarker(ctx context.Context, h Handle) error {
	if err := g.ready(); err != nil {
		return err
	}
	return g.surface.DestroyMarker(ctx, h)
}

// OpenOverlay opens the detail overlay for a marker.
func (g *Gateway) OpenOverlay(ctx context.Context, h Handle, content MarkerContent) error {
	if err := g.ready(); err != nil {
		return err
	}
	return g.surface.OpenOverlay(ctx, h, content)
}

// CloseOverlay closes the detail overlay for a marker.
func (g *Gateway) CloseOverlay(ctx context.Context, h Handle) error {
	if err := g.ready(); err != nil {
		return err
	}
	return g.surface.CloseOverlay(ctx, h)
}
