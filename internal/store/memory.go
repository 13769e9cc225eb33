package store

import (
	"errors"
	"sync"
	"time"

	"traffic-map/internal/dataset"
)

var (
	// ErrNoDataset is returned when no dataset has been applied yet.
	ErrNoDataset = errors.New("no active dataset")
)

// UploadStatus classifies the outcome of one dataset replacement attempt.
type UploadStatus string

const (
	StatusApplied  UploadStatus = "applied"
	StatusRejected UploadStatus = "rejected"
	StatusFailed   UploadStatus = "failed"
)

// UploadReport summarizes one dataset replacement attempt.
type UploadReport struct {
	Timestamp time.Time    `json:"timestamp"`
	Source    string       `json:"source"` // upload, scheduler, startup
	Status    UploadStatus `json:"status"`
	Locations int          `json:"locations"`

	Created   int `json:"created"`
	Updated   int `json:"updated"`
	Removed   int `json:"removed"`
	Unchanged int `json:"unchanged"`

	Defects int    `json:"defects,omitempty"`
	Error   string `json:"error,omitempty"`
}

// MemoryStore is a concurrency-safe in-memory holder for the active dataset
// and a bounded history of upload reports. Nothing is persisted across
// sessions.
type MemoryStore struct {
	mu sync.RWMutex

	active  dataset.Dataset
	hasData bool

	reports    []UploadReport
	maxHistory int // max number of retained reports (0 = unlimited)
}

// NewMemoryStore creates a MemoryStore retaining at most maxHistory reports.
func NewMemoryStore(maxHistory int) *MemoryStore {
	return &MemoryStore{maxHistory: maxHistory}
}

// SetActive replaces the active dataset wholesale.
func (s *MemoryStore) SetActive(d dataset.Dataset) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.active = d
	s.hasData = true
}

// Active returns the currently displayed dataset.
func (s *MemoryStore) Active() (dataset.Dataset, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.hasData {
		return nil, ErrNoDataset
	}
	return s.active, nil
}

// RecordReport appends an upload report and enforces retention by count.
func (s *MemoryStore) RecordReport(r UploadReport) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.reports = append(s.reports, r)
	if s.maxHistory > 0 && len(s.reports) > s.maxHistory {
		over := len(s.reports) - s.maxHistory
		s.reports = s.reports[over:]
	}
}

// Reports returns the retained upload reports, oldest first.
func (s *MemoryStore) Reports() []UploadReport {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]UploadReport, len(s.reports))
	copy(out, s.reports)
	return out
}
