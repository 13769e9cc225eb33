package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"

	"traffic-map/internal/store"
	"traffic-map/internal/surface"
	"traffic-map/internal/traffic"
)

// noopSurface accepts everything; route tests only care about status codes
// and payload shapes.
type noopSurface struct {
	nextID int
}

func (s *noopSurface) Initialize(ctx context.Context, cfg surface.InitConfig) error { return nil }
func (s *noopSurface) CreateMarker(ctx context.Context, lat, lng float64, content surface.MarkerContent) (surface.Handle, error) {
	s.nextID++
	return surface.Handle(fmt.Sprintf("m-%d", s.nextID)), nil
}
func (s *noopSurface) UpdateMarkerContent(ctx context.Context, h surface.Handle, content surface.MarkerContent) error {
	return nil
}
func (s *noopSurface) DestroyMarker(ctx context.Context, h surface.Handle) error { return nil }
func (s *noopSurface) OpenOverlay(ctx context.Context, h surface.Handle, content surface.MarkerContent) error {
	return nil
}
func (s *noopSurface) CloseOverlay(ctx context.Context, h surface.Handle) error { return nil }

func newTestApp() *fiber.App {
	app := fiber.New()

	gw := surface.NewGateway(&noopSurface{}, surface.InitConfig{}, 0)
	svc := traffic.NewService(gw, store.NewMemoryStore(10))
	RegisterRoutes(app, svc)
	return app
}

// TestUploadDefectiveDataset verifies that a defective document is rejected
// wholesale with the full defect list and a 422.
func TestUploadDefectiveDataset(t *testing.T) {
	app := newTestApp()

	body := `[{"name":"","coordinates":{"lat":200,"lng":0},"trafficSummary":"x","causes":[]}]`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/dataset", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")

	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("expected status %d, got %d", http.StatusUnprocessableEntity, resp.StatusCode)
	}

	var payload struct {
		Defects []struct {
			Index  int    `json:"index"`
			Reason string `json:"reason"`
		} `json:"defects"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if len(payload.Defects) != 2 {
		t.Fatalf("expected 2 defects, got %d", len(payload.Defects))
	}
	for _, d := range payload.Defects {
		if d.Index != 0 {
			t.Fatalf("expected defect index 0, got %d", d.Index)
		}
	}
}

// TestUploadAndListLocations verifies the happy path: upload a dataset, then
// read it back.
func TestUploadAndListLocations(t *testing.T) {
	app := newTestApp()

	body := `[{"name":"Silk Board","coordinates":{"lat":12.9177,"lng":77.6233},"trafficSummary":"heavy","causes":["rain"]}]`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/dataset", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")

	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, resp.StatusCode)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/v1/locations", nil)
	resp, err = app.Test(req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, resp.StatusCode)
	}

	var payload struct {
		Count int `json:"count"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if payload.Count != 1 {
		t.Fatalf("expected 1 location, got %d", payload.Count)
	}
}

// TestLocationsBeforeAnyUpload returns 404 when no dataset is loaded.
func TestLocationsBeforeAnyUpload(t *testing.T) {
	app := newTestApp()

	req := httptest.NewRequest(http.MethodGet, "/api/v1/locations", nil)
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected status %d, got %d", http.StatusNotFound, resp.StatusCode)
	}
}

// TestMarkerClickValidation verifies the click endpoint requires a key and
// treats an unknown key as a benign no-op.
func TestMarkerClickValidation(t *testing.T) {
	app := newTestApp()

	// Missing key should return 400.
	req := httptest.NewRequest(http.MethodPost, "/api/v1/markers/click", strings.NewReader(`{}`))
	req.Header.Set("Content-Type", "application/json")
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected status %d, got %d", http.StatusBadRequest, resp.StatusCode)
	}

	// Unknown key is a silent no-op, not an error.
	req = httptest.NewRequest(http.MethodPost, "/api/v1/markers/click",
		strings.NewReader(`{"key":"ghost@0.00000,0.00000"}`))
	req.Header.Set("Content-Type", "application/json")
	resp, err = app.Test(req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("expected status %d, got %d", http.StatusNoContent, resp.StatusCode)
	}
}

// TestStatusEndpoint reports the gateway state before any bootstrap.
func TestStatusEndpoint(t *testing.T) {
	app := newTestApp()

	req := httptest.NewRequest(http.MethodGet, "/api/v1/status", nil)
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, resp.StatusCode)
	}

	var payload struct {
		Surface string `json:"surface"`
		Markers int    `json:"markers"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if payload.Surface != "uninitialized" {
		t.Fatalf("expected uninitialized surface, got %q", payload.Surface)
	}
	if payload.Markers != 0 {
		t.Fatalf("expected 0 markers, got %d", payload.Markers)
	}
}
