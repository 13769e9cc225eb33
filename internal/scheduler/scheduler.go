package scheduler

import (
	"context"
	"errors"
	"log"
	"os"
	"time"

	"github.com/go-co-op/gocron"

	"traffic-map/internal/dataset"
	"traffic-map/internal/traffic"
)

// Scheduler polls the configured dataset file and re-uploads it when its
// modification time changes. A defective file is logged and skipped; the
// active dataset stays up.
type Scheduler struct {
	scheduler *gocron.Scheduler
	service   *traffic.Service
	path      string
	interval  time.Duration

	lastMod time.Time
}

// New creates a Scheduler watching path. An empty path disables it.
func New(path string, interval time.Duration, service *traffic.Service) *Scheduler {
	s := gocron.NewScheduler(time.UTC)
	return &Scheduler{
		scheduler: s,
		service:   service,
		path:      path,
		interval:  interval,
	}
}

// Start schedules the periodic refresh job and starts the underlying
// scheduler.
func (s *Scheduler) Start() error {
	if s.path == "" {
		log.Println("scheduler: no dataset path configured; nothing to schedule")
		return nil
	}

	seconds := int(s.interval.Seconds())
	if seconds <= 0 {
		seconds = 60
	}

	_, err := s.scheduler.Every(seconds).Seconds().Do(s.refresh)
	if err != nil {
		return err
	}

	s.scheduler.StartAsync()
	return nil
}

// refresh re-reads the dataset file if it changed since the last pass.
func (s *Scheduler) refresh() {
	info, err := os.Stat(s.path)
	if err != nil {
		log.Printf("scheduler: stat %s: %v", s.path, err)
		return
	}
	if !info.ModTime().After(s.lastMod) {
		return
	}
	// Advance even when the file is defective, so a bad file is reported
	// once rather than on every tick.
	s.lastMod = info.ModTime()

	raw, err := os.ReadFile(s.path)
	if err != nil {
		log.Printf("scheduler: read %s: %v", s.path, err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	report, err := s.service.ReplaceDataset(ctx, raw, "scheduler")
	if err != nil {
		var verr *dataset.ValidationError
		if errors.As(err, &verr) {
			log.Printf("scheduler: dataset %s rejected with %d defects", s.path, len(verr.Defects))
			return
		}
		log.Printf("scheduler: dataset refresh failed: %v", err)
		return
	}

	log.Printf("scheduler: dataset refreshed: %d locations (%d created, %d updated, %d removed)",
		report.Locations, report.Created, report.Updated, report.Removed)
}

// Stop stops the scheduler and cancels any future jobs.
func (s *Scheduler) Stop() {
	if s.scheduler != nil {
		s.scheduler.Stop()
	}
}
