package overlay

import (
	"context"
	"log"
	"sync"

	"traffic-map/internal/dataset"
	"traffic-map/internal/marker"
	"traffic-map/internal/surface"
)

// Resolver looks up the live marker entry for an identity key. The service
// wires this to the current registry so the coordinator never captures a
// stale one.
type Resolver func(key dataset.Key) (marker.Entry, bool)

// Coordinator tracks which marker (if any) has its detail overlay open and
// guarantees at most one overlay is visible at any instant. Marker-click
// events from the surface are routed through the single HandleMarkerClick
// entry point rather than per-marker callbacks.
type Coordinator struct {
	gateway *surface.Gateway
	resolve Resolver

	mu   sync.Mutex
	open *openOverlay
}

type openOverlay struct {
	key    dataset.Key
	handle surface.Handle
}

// NewCoordinator creates a Coordinator.
func NewCoordinator(gw *surface.Gateway, resolve Resolver) *Coordinator {
	return &Coordinator{gateway: gw, resolve: resolve}
}

// HandleMarkerClick is the entry point for click events routed from the map
// surface.
func (c *Coordinator) HandleMarkerClick(ctx context.Context, key dataset.Key) error {
	return c.Open(ctx, key)
}

// Open opens the overlay for key, closing a different open overlay first.
// Opening the already-open key is a no-op: no duplicate open call is issued.
// A key no longer in the registry is a benign race with reconciliation and
// resolves as a silent no-op.
func (c *Coordinator) Open(ctx context.Context, key dataset.Key) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.open != nil && c.open.key == key {
		return nil
	}

	entry, ok := c.resolve(key)
	if !ok {
		log.Printf("overlay: click for unregistered key %q ignored", key)
		return nil
	}

	if c.open != nil {
		if err := c.gateway.CloseOverlay(ctx, c.open.handle); err != nil {
			return err
		}
		c.open = nil
	}

	content := surface.MarkerContent{
		Title:     entry.Record.Name,
		Summary:   entry.Record.TrafficSummary,
		Causes:    entry.Record.Causes,
		Sentiment: entry.Record.Sentiment,
		Priority:  entry.Record.Priority,
	}
	if err := c.gateway.OpenOverlay(ctx, entry.Handle, content); err != nil {
		return err
	}
	c.open = &openOverlay{key: key, handle: entry.Handle}
	return nil
}

// CloseIfOpen closes the overlay if it is anchored to key. Reconciliation
// calls this before destroying a marker so a removed marker never leaves a
// dangling overlay behind.
func (c *Coordinator) CloseIfOpen(ctx context.Context, key dataset.Key) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.open == nil || c.open.key != key {
		return
	}
	if err := c.gateway.CloseOverlay(ctx, c.open.handle); err != nil {
		log.Printf("overlay: close for removed marker %q failed: %v", key, err)
	}
	c.open = nil
}

// Invalidate clears the overlay state if it is anchored to key, without a
// close call to the surface. Reconciliation uses it after a run for a key it
// removed: destroying the marker already dismissed any overlay anchored to
// it, so only the local state needs dropping.
func (c *Coordinator) Invalidate(key dataset.Key) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.open != nil && c.open.key == key {
		c.open = nil
	}
}

// CloseAll clears the overlay state unconditionally.
func (c *Coordinator) CloseAll(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.open == nil {
		return nil
	}
	if err := c.gateway.CloseOverlay(ctx, c.open.handle); err != nil {
		return err
	}
	c.open = nil
	return nil
}

// Current returns the key of the open overlay, if any.
func (c *Coordinator) Current() (dataset.Key, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.open == nil {
		return "", false
	}
	return c.open.key, true
}
