package surface

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/sony/gobreaker"
)

var (
	errRateLimited      = errors.New("rate limited")
	errServerError      = errors.New("server error")
	errUnexpectedStatus = errors.New("unexpected status code")
)

// RemoteSurface implements Surface against a map-rendering service over
// HTTP. Initialize opens a session; markers and overlays are resources under
// that session. Marker operations are retried with exponential backoff
// behind a circuit breaker; the bootstrap is a single attempt so a
// quota-limited service is never hit by a retry storm.
type RemoteSurface struct {
	client  *http.Client
	baseURL string
	circuit *gobreaker.CircuitBreaker

	maxRetries   int
	initialDelay time.Duration
	maxDelay     time.Duration

	sessionID string
}

// NewRemoteSurface creates a client for the surface service at baseURL.
func NewRemoteSurface(client *http.Client, baseURL string) *RemoteSurface {
	return &RemoteSurface{
		client:  client,
		baseURL: baseURL,
		circuit: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "map-surface",
			MaxRequests: 5,
			Interval:    1 * time.Minute,
			Timeout:     2 * time.Minute,
		}),
		maxRetries:   3,
		initialDelay: 500 * time.Millisecond,
		maxDelay:     5 * time.Second,
	}
}

// Initialize opens a rendering session. One attempt only; the gateway treats
// a failure as terminal for the session.
func (s *RemoteSurface) Initialize(ctx context.Context, cfg InitConfig) error {
	body, err := json.Marshal(cfg)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/v1/sessions", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("surface initialize: unexpected status %d", resp.StatusCode)
	}

	var payload struct {
		SessionID string `json:"sessionId"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return err
	}
	if payload.SessionID == "" {
		return fmt.Errorf("surface initialize: empty session id")
	}

	s.sessionID = payload.SessionID
	return nil
}

type markerRequest struct {
	Lat     float64       `json:"lat"`
	Lng     float64       `json:"lng"`
	Content MarkerContent `json:"content"`
}

// CreateMarker places a marker and returns the service-assigned handle. The
// request carries one idempotency key across all retry attempts, so a
// retried create cannot produce a duplicate marker.
func (s *RemoteSurface) CreateMarker(ctx context.Context, lat, lng float64, content MarkerContent) (Handle, error) {
	body, err := json.Marshal(markerRequest{Lat: lat, Lng: lng, Content: content})
	if err != nil {
		return "", err
	}

	idempotencyKey := uuid.NewString()
	resp, err := s.send(ctx, func() (*http.Request, error) {
		req, err := http.NewRequest(http.MethodPost, s.markersURL(), bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Idempotency-Key", idempotencyKey)
		return req, nil
	})
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var payload struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return "", err
	}
	if payload.ID == "" {
		return "", fmt.Errorf("surface create marker: empty handle")
	}
	return Handle(payload.ID), nil
}

// UpdateMarkerContent rebinds the content of an existing marker.
func (s *RemoteSurface) UpdateMarkerContent(ctx context.Context, h Handle, content MarkerContent) error {
	body, err := json.Marshal(struct {
		Content MarkerContent `json:"content"`
	}{Content: content})
	if err != nil {
		return err
	}
	return s.do(ctx, http.MethodPatch, s.markerURL(h), body)
}

// DestroyMarker removes a marker.
func (s *RemoteSurface) DestroyMarker(ctx context.Context, h Handle) error {
	return s.do(ctx, http.MethodDelete, s.markerURL(h), nil)
}

// OpenOverlay opens the detail overlay anchored to a marker.
func (s *RemoteSurface) OpenOverlay(ctx context.Context, h Handle, content MarkerContent) error {
	body, err := json.Marshal(struct {
		Content MarkerContent `json:"content"`
	}{Content: content})
	if err != nil {
		return err
	}
	return s.do(ctx, http.MethodPost, s.markerURL(h)+"/overlay", body)
}

// CloseOverlay closes the overlay anchored to a marker.
func (s *RemoteSurface) CloseOverlay(ctx context.Context, h Handle) error {
	return s.do(ctx, http.MethodDelete, s.markerURL(h)+"/overlay", nil)
}

func (s *RemoteSurface) do(ctx context.Context, method, url string, body []byte) error {
	resp, err := s.send(ctx, func() (*http.Request, error) {
		var req *http.Request
		var err error
		if body != nil {
			req, err = http.NewRequest(method, url, bytes.NewReader(body))
		} else {
			req, err = http.NewRequest(method, url, nil)
		}
		if err != nil {
			return nil, err
		}
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		return req, nil
	})
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

// send issues one marker operation, retrying rate limits, transport errors
// and 5xx responses with exponential backoff. An open circuit fails fast.
// buildRequest is called per attempt because a request body reader cannot be
// replayed.
func (s *RemoteSurface) send(ctx context.Context, buildRequest func() (*http.Request, error)) (*http.Response, error) {
	for attempt := 0; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		req, err := buildRequest()
		if err != nil {
			return nil, err
		}

		resp, err := s.attempt(req.WithContext(ctx))
		if err == nil {
			return resp, nil
		}
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, fmt.Errorf("surface circuit open: %w", err)
		}
		if attempt >= s.maxRetries {
			return nil, err
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(s.retryDelay(attempt)):
		}
	}
}

// attempt runs a single request through the circuit breaker, classifying
// retryable status codes as errors so they count against the breaker.
func (s *RemoteSurface) attempt(req *http.Request) (*http.Response, error) {
	out, err := s.circuit.Execute(func() (interface{}, error) {
		resp, err := s.client.Do(req)
		if err != nil {
			return nil, err
		}
		switch {
		case resp.StatusCode == http.StatusTooManyRequests:
			resp.Body.Close()
			return nil, errRateLimited
		case resp.StatusCode >= 500:
			resp.Body.Close()
			return nil, errServerError
		case resp.StatusCode < 200 || resp.StatusCode >= 300:
			resp.Body.Close()
			return nil, fmt.Errorf("%w: %d", errUnexpectedStatus, resp.StatusCode)
		}
		return resp, nil
	})
	if err != nil {
		return nil, err
	}
	return out.(*http.Response), nil
}

func (s *RemoteSurface) retryDelay(attempt int) time.Duration {
	delay := s.initialDelay << uint(attempt)
	if s.maxDelay > 0 && delay > s.maxDelay {
		delay = s.maxDelay
	}
	return delay
}

func (s *RemoteSurface) markersURL() string {
	return fmt.Sprintf("%s/v1/sessions/%s/markers", s.baseURL, s.sessionID)
}

func (s *RemoteSurface) markerURL(h Handle) string {
	return fmt.Sprintf("%s/%s", s.markersURL(), h)
}
