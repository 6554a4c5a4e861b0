// Package scheduler runs the periodic automated threat scan.
package scheduler

import (
	"context"
	"log/slog"
	"time"

	"github.com/safetymap/safetymap/internal/models"
)

// ThreatScanner produces fresh incident candidates from external sources.
type ThreatScanner interface {
	ScanForThreats(ctx context.Context) ([]models.Report, error)
}

// ThreatSyncer ingests scanned candidates into the active backend.
type ThreatSyncer interface {
	SyncThreats(ctx context.Context, candidates []models.Report) error
}

// ScanScheduler manages the automatic scan-and-ingest loop.
type ScanScheduler struct {
	scanner  ThreatScanner
	syncer   ThreatSyncer
	logger   *slog.Logger
	stopChan chan struct{}
	interval time.Duration
}

// NewScanScheduler creates a scheduler running at the given interval.
func NewScanScheduler(scanner ThreatScanner, syncer ThreatSyncer, interval time.Duration, logger *slog.Logger) *ScanScheduler {
	return &ScanScheduler{
		scanner:  scanner,
		syncer:   syncer,
		logger:   logger,
		stopChan: make(chan struct{}),
		interval: interval,
	}
}

// Start begins the scheduler loop
func (s *ScanScheduler) Start(ctx context.Context) {
	s.logger.Info("Starting scan scheduler", "interval", s.interval)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	// Run once immediately on start
	s.runScan(ctx)

	for {
		select {
		case <-ticker.C:
			s.runScan(ctx)
		case <-s.stopChan:
			s.logger.Info("Scan scheduler stopped")
			return
		case <-ctx.Done():
			s.logger.Info("Scan scheduler stopping due to context cancellation")
			return
		}
	}
}

// Stop stops the scheduler
func (s *ScanScheduler) Stop() {
	close(s.stopChan)
}

// runScan executes one scan-and-ingest cycle. Failures are logged and the
// loop keeps its schedule.
func (s *ScanScheduler) runScan(ctx context.Context) {
	candidates, err := s.scanner.ScanForThreats(ctx)
	if err != nil {
		s.logger.Error("Automated threat scan failed", "error", err)
		return
	}
	if len(candidates) == 0 {
		s.logger.Debug("Threat scan returned no candidates")
		return
	}

	if err := s.syncer.SyncThreats(ctx, candidates); err != nil {
		s.logger.Error("Failed to ingest scanned threats", "error", err)
		return
	}

	s.logger.Info("Scan cycle complete", "candidates", len(candidates))
}
