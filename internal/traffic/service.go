package traffic

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"traffic-map/internal/dataset"
	"traffic-map/internal/marker"
	"traffic-map/internal/overlay"
	"traffic-map/internal/store"
	"traffic-map/internal/surface"
)

// ErrSuperseded is returned when a dataset replacement was cancelled because
// a newer upload arrived before it finished.
var ErrSuperseded = errors.New("superseded by a newer dataset")

// Service is the location dataset reconciliation and marker lifecycle
// manager. It validates uploads, brings the surface to Ready through the
// gateway, and runs strictly serialized reconciliations against the marker
// registry.
type Service struct {
	gateway    *surface.Gateway
	reconciler *marker.Reconciler
	overlays   *overlay.Coordinator
	store      *store.MemoryStore

	// runMu serializes reconciliation runs; interleaved partial registries
	// are never possible.
	runMu sync.Mutex

	regMu    sync.RWMutex
	registry marker.Registry

	inflightMu sync.Mutex
	inflight   *inflightRun
}

type inflightRun struct {
	cancel context.CancelFunc
}

// NewService wires the reconciler and overlay coordinator around a shared
// registry.
func NewService(gw *surface.Gateway, st *store.MemoryStore) *Service {
	s := &Service{
		gateway:  gw,
		store:    st,
		registry: marker.NewRegistry(),
	}
	s.overlays = overlay.NewCoordinator(gw, s.lookupEntry)
	s.reconciler = marker.NewReconciler(gw, func(ctx context.Context, key dataset.Key) {
		// Close the overlay before its marker disappears.
		s.overlays.CloseIfOpen(ctx, key)
	})
	return s
}

// lookupEntry resolves against the live registry, never a captured copy.
func (s *Service) lookupEntry(key dataset.Key) (marker.Entry, bool) {
	s.regMu.RLock()
	defer s.regMu.RUnlock()
	return s.registry.Lookup(key)
}

func (s *Service) currentRegistry() marker.Registry {
	s.regMu.RLock()
	defer s.regMu.RUnlock()
	return s.registry
}

func (s *Service) setRegistry(r marker.Registry) {
	s.regMu.Lock()
	defer s.regMu.Unlock()
	s.registry = r
}

// ReplaceDataset validates raw and, on success, reconciles the drawn marker
// set against it, replacing the active dataset atomically. A defective
// document is rejected wholesale and the previously active dataset stays
// displayed unchanged.
//
// Runs are strictly serialized. An upload arriving while another is in
// flight cancels the in-flight run and waits for it to unwind; the cancelled
// run leaves the registry consistent with the surface, and this run's
// removal phase destroys any handles for keys absent from the new dataset,
// so cancellation cannot orphan a handle.
func (s *Service) ReplaceDataset(ctx context.Context, raw []byte, source string) (store.UploadReport, error) {
	report := store.UploadReport{
		Timestamp: time.Now().UTC(),
		Source:    source,
	}

	ds, err := dataset.Validate(raw)
	if err != nil {
		report.Status = store.StatusRejected
		report.Error = err.Error()
		var verr *dataset.ValidationError
		if errors.As(err, &verr) {
			report.Defects = len(verr.Defects)
		}
		s.store.RecordReport(report)
		return report, err
	}
	report.Locations = len(ds)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	run := &inflightRun{cancel: cancel}
	s.inflightMu.Lock()
	if s.inflight != nil {
		s.inflight.cancel()
	}
	s.inflight = run
	s.inflightMu.Unlock()

	defer func() {
		s.inflightMu.Lock()
		if s.inflight == run {
			s.inflight = nil
		}
		s.inflightMu.Unlock()
	}()

	s.runMu.Lock()
	defer s.runMu.Unlock()

	// A newer upload may have superseded this one while it waited its turn.
	if err := runCtx.Err(); err != nil {
		report.Status = store.StatusFailed
		report.Error = ErrSuperseded.Error()
		s.store.RecordReport(report)
		return report, ErrSuperseded
	}

	if err := s.gateway.Bootstrap(runCtx); err != nil {
		report.Status = store.StatusFailed
		report.Error = err.Error()
		s.store.RecordReport(report)
		return report, err
	}

	prev := s.currentRegistry()
	next, rep, err := s.reconciler.Reconcile(runCtx, prev, ds)

	// The returned registry reflects exactly what exists on the surface,
	// also after a partial failure or cancellation.
	s.setRegistry(next)

	// A click during the run may have re-opened an overlay for a marker the
	// run then destroyed; its key is gone from the registry, so drop it.
	if key, ok := s.overlays.Current(); ok {
		if _, live := next.Lookup(key); !live {
			s.overlays.Invalidate(key)
		}
	}

	report.Created = len(rep.Created)
	report.Updated = len(rep.Updated)
	report.Removed = len(rep.Removed)
	report.Unchanged = len(rep.Unchanged)

	if err != nil {
		if rep.Failed != nil {
			log.Printf("traffic: reconciliation aborted at %q (%s): %s",
				rep.Failed.Key, rep.Failed.Op, rep.Failed.Err)
		}
		report.Status = store.StatusFailed
		report.Error = err.Error()
		s.store.RecordReport(report)
		return report, err
	}

	s.store.SetActive(ds)
	report.Status = store.StatusApplied
	s.store.RecordReport(report)
	return report, nil
}

// HandleMarkerClick routes a marker click from the UI into the overlay
// coordinator.
func (s *Service) HandleMarkerClick(ctx context.Context, key dataset.Key) error {
	return s.overlays.HandleMarkerClick(ctx, key)
}

// CloseOverlays clears the overlay state unconditionally.
func (s *Service) CloseOverlays(ctx context.Context) error {
	return s.overlays.CloseAll(ctx)
}

// Locations returns the active dataset.
func (s *Service) Locations() (dataset.Dataset, error) {
	return s.store.Active()
}

// Reports returns the retained upload reports, oldest first.
func (s *Service) Reports() []store.UploadReport {
	return s.store.Reports()
}

// Status is a snapshot of the manager for the status endpoint.
type Status struct {
	Surface    string `json:"surface"`
	Markers    int    `json:"markers"`
	Overlay    string `json:"overlay,omitempty"`
	HasDataset bool   `json:"hasDataset"`
}

// Status reports the gateway state, drawn marker count and open overlay.
func (s *Service) Status() Status {
	st := Status{Surface: s.gateway.State().String()}

	s.regMu.RLock()
	st.Markers = len(s.registry)
	s.regMu.RUnlock()

	if key, ok := s.overlays.Current(); ok {
		st.Overlay = string(key)
	}
	if _, err := s.store.Active(); err == nil {
		st.HasDataset = true
	}
	return st
}
