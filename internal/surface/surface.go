package surface

import (
	"context"
	"errors"
)

var (
	// ErrNotReady is returned for marker and overlay operations issued
	// before the surface bootstrap has completed.
	ErrNotReady = errors.New("map surface not ready")

	// ErrUnavailable is returned once the bootstrap has failed; the failure
	// is terminal for the session and only a manual restart recovers.
	ErrUnavailable = errors.New("map surface unavailable")
)

// Handle is the surface's opaque token for one visual marker. Handles are
// owned exclusively by the marker registry and destroyed exactly once.
type Handle string

// MarkerContent is the information bound to a marker and shown in its
// detail overlay.
type MarkerContent struct {
	Title     string   `json:"title"`
	Summary   string   `json:"summary"`
	Causes    []string `json:"causes,omitempty"`
	Sentiment string   `json:"sentiment,omitempty"`
	Priority  string   `json:"priority,omitempty"`
}

// InitConfig is the one-time bootstrap configuration for the surface.
type InitConfig struct {
	APIKey      string  `json:"apiKey"`
	CenterLat   float64 `json:"centerLat"`
	CenterLng   float64 `json:"centerLng"`
	DefaultZoom int     `json:"defaultZoom"`
}

// Surface abstracts the external mapping capability. Tile rendering,
// pan/zoom and pixel placement all live behind this interface and are never
// reimplemented here.
type Surface interface {
	Initialize(ctx context.Context, cfg InitConfig) error
	CreateMarker(ctx context.Context, lat, lng float64, content MarkerContent) (Handle, error)
	UpdateMarkerContent(ctx context.Context, h Handle, content MarkerContent) error
	DestroyMarker(ctx context.Context, h Handle) error
	OpenOverlay(ctx context.Context, h Handle, content MarkerContent) error
	CloseOverlay(ctx context.Context, h Handle) error
}
