package service

import (
	"log/slog"
	"time"

	"github.com/aussiebroadwan/academy/internal/auth/telemetry"
)

// Purger is a session store that needs expired entries swept out by hand.
// Redis expires keys itself and does not need one.
type Purger interface {
	PurgeExpired() int
}

// HousekeepingService periodically drops expired sessions and blacklist
// entries from stores that do not expire keys on their own.
type HousekeepingService struct {
	Store    Purger
	Logger   *slog.Logger
	Interval time.Duration
	Metrics  *telemetry.Metrics

	stopCh chan struct{}
	doneCh chan struct{}
}

// NewHousekeepingService returns a stopped service. A non-positive interval
// defaults to one minute.
func NewHousekeepingService(store Purger, logger *slog.Logger, interval time.Duration) *HousekeepingService {
	if interval <= 0 {
		interval = time.Minute
	}

	return &HousekeepingService{
		Store:    store,
		Logger:   logger,
		Interval: interval,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Start launches the worker. Call Stop to shut it down.
func (s *HousekeepingService) Start() {
	go s.run()
	s.Logger.Info("housekeeping service started", "interval", s.Interval)
}

// Stop blocks until an in-progress sweep has finished.
func (s *HousekeepingService) Stop() {
	close(s.stopCh)
	<-s.doneCh
	s.Logger.Info("housekeeping service stopped")
}

func (s *HousekeepingService) run() {
	defer close(s.doneCh)

	ticker := time.NewTicker(s.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.Sweep()
		case <-s.stopCh:
			return
		}
	}
}

// Sweep runs one cleanup pass and returns the number of entries removed.
func (s *HousekeepingService) Sweep() int {
	n := s.Store.PurgeExpired()
	s.Metrics.Purged(n)
	s.Logger.Debug("housekeeping sweep completed", "purged", n)
	return n
}
