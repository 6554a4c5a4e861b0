package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/safetymap/safetymap/internal/models"
)

type stubScanner struct {
	mu      sync.Mutex
	calls   int
	results []models.Report
	err     error
}

func (s *stubScanner) ScanForThreats(ctx context.Context) ([]models.Report, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	return s.results, s.err
}

func (s *stubScanner) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

type stubSyncer struct {
	mu      sync.Mutex
	batches [][]models.Report
}

func (s *stubSyncer) SyncThreats(ctx context.Context, candidates []models.Report) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.batches = append(s.batches, candidates)
	return nil
}

func (s *stubSyncer) batchCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.batches)
}

func TestScanScheduler_RunsImmediatelyAndStops(t *testing.T) {
	scanner := &stubScanner{results: []models.Report{{Title: "incident"}}}
	syncer := &stubSyncer{}
	s := NewScanScheduler(scanner, syncer, time.Hour, slog.Default())

	done := make(chan struct{})
	go func() {
		s.Start(context.Background())
		close(done)
	}()

	deadline := time.Now().Add(time.Second)
	for syncer.batchCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	if syncer.batchCount() != 1 {
		t.Errorf("batches = %d, want 1 immediate run", syncer.batchCount())
	}

	s.Stop()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("scheduler did not stop")
	}
}

func TestScanScheduler_ScanErrorSkipsIngest(t *testing.T) {
	scanner := &stubScanner{err: errors.New("scan offline")}
	syncer := &stubSyncer{}
	s := NewScanScheduler(scanner, syncer, time.Hour, slog.Default())

	s.runScan(context.Background())

	if scanner.callCount() != 1 {
		t.Errorf("scanner calls = %d, want 1", scanner.callCount())
	}
	if syncer.batchCount() != 0 {
		t.Errorf("batches = %d, want 0 after scan failure", syncer.batchCount())
	}
}

func TestScanScheduler_EmptyScanSkipsIngest(t *testing.T) {
	scanner := &stubScanner{}
	syncer := &stubSyncer{}
	s := NewScanScheduler(scanner, syncer, time.Hour, slog.Default())

	s.runScan(context.Background())

	if syncer.batchCount() != 0 {
		t.Errorf("batches = %d, want 0 for empty scan", syncer.batchCount())
	}
}

func TestScanScheduler_ContextCancellationStopsLoop(t *testing.T) {
	scanner := &stubScanner{}
	syncer := &stubSyncer{}
	s := NewScanScheduler(scanner, syncer, time.Hour, slog.Default())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Start(ctx)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("scheduler did not stop on context cancellation")
	}
}
