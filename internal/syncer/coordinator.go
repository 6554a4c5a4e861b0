// Package syncer orchestrates report persistence across the remote and
// local backends: one-way failover, deduplicated batch ingestion, seeding,
// and the AI-assisted bulk cleanup pass.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/safetymap/safetymap/internal/dedup"
	"github.com/safetymap/safetymap/internal/metrics"
	"github.com/safetymap/safetymap/internal/models"
	"github.com/safetymap/safetymap/internal/store"
)

// RecentWindow bounds how far back existing reports are fetched when
// deduplicating a scan batch.
const RecentWindow = 14 * 24 * time.Hour

// DefaultConnectTimeout bounds the remote subscription's initial snapshot.
// No data and no explicit error within this window forces failover.
const DefaultConnectTimeout = 5 * time.Second

// DedupAdvisor is the external AI collaborator consulted during bulk
// cleanup. Its result is a best-effort cleanup pass, never a correctness
// dependency.
type DedupAdvisor interface {
	IdentifyDuplicateIDs(ctx context.Context, reports []models.Report) ([]string, error)
}

// Config holds coordinator tunables.
type Config struct {
	ConnectTimeout time.Duration
}

// Coordinator routes reads and writes to whichever backend is active and
// performs the one-way remote-to-local failover when the remote backend
// proves unusable.
type Coordinator struct {
	remote    store.Store // nil when the remote backend never came up
	local     store.Store
	advisor   DedupAdvisor
	conn      *ConnectionState
	logger    *slog.Logger
	collector *metrics.SyncCollector
	timeout   time.Duration
	now       func() time.Time

	seedOnce sync.Once

	subMu sync.Mutex
	sub   *activeSubscription
}

// activeSubscription tracks the single external callback pair and the
// unsubscribe handle of whichever backend currently feeds it.
type activeSubscription struct {
	mu            sync.Mutex
	closed        bool
	onReports     store.ReportsFunc
	onLastUpdated store.LastUpdatedFunc
	backendUnsub  store.Unsubscribe
}

// Callbacks run outside the lock so one may unsubscribe from within its
// own delivery without deadlocking.
func (s *activeSubscription) deliverReports(reports []models.Report) {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return
	}
	s.onReports(reports)
}

func (s *activeSubscription) deliverLastUpdated(ts int64) {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return
	}
	s.onLastUpdated(ts)
}

// New constructs a coordinator. remote may be nil, in which case the
// coordinator binds straight to the local backend.
func New(remote, local store.Store, advisor DedupAdvisor, collector *metrics.SyncCollector, cfg Config, logger *slog.Logger) *Coordinator {
	timeout := cfg.ConnectTimeout
	if timeout <= 0 {
		timeout = DefaultConnectTimeout
	}

	return &Coordinator{
		remote:    remote,
		local:     local,
		advisor:   advisor,
		conn:      NewConnectionState(),
		logger:    logger,
		collector: collector,
		timeout:   timeout,
		now:       time.Now,
	}
}

// State exposes the current bind state, mainly for health reporting.
func (c *Coordinator) State() BindState {
	return c.conn.State()
}

// Subscribe binds the external callback pair to the active backend. The
// pair survives a mid-session failover: the backend underneath is swapped
// while the caller keeps the same handles. The returned unsubscribe is
// safe to call repeatedly, including from inside a delivery callback;
// once it runs, no new delivery begins.
func (c *Coordinator) Subscribe(ctx context.Context, onReports store.ReportsFunc, onLastUpdated store.LastUpdatedFunc) (store.Unsubscribe, error) {
	sub := &activeSubscription{onReports: onReports, onLastUpdated: onLastUpdated}

	c.subMu.Lock()
	c.sub = sub
	c.subMu.Unlock()

	if c.remote == nil || c.conn.FallbackEngaged() {
		if err := c.bindLocal(ctx, sub); err != nil {
			return nil, err
		}
		c.conn.EngageFallback()
		return c.unsubscribeFunc(sub), nil
	}

	c.conn.BeginConnecting()

	// Force failover if neither data nor an explicit error shows up in
	// time. Stopped on the first successful snapshot so a slow network
	// cannot cause a spurious late failover.
	connectTimer := time.AfterFunc(c.timeout, func() {
		if c.conn.State() == StateConnectingRemote {
			c.failover(ctx, "no initial snapshot within connect timeout")
		}
	})

	remoteOnReports := func(reports []models.Report) {
		if c.conn.MarkBoundRemote() {
			connectTimer.Stop()
		} else if c.conn.FallbackEngaged() {
			// Lost the race against failover; local feed owns delivery now.
			return
		}

		if len(reports) == 0 {
			c.seedOnce.Do(func() {
				go func() {
					if err := c.remote.SeedIfEmpty(context.Background()); err != nil {
						c.logger.Warn("remote seeding failed", "error", err)
					}
				}()
			})
		}

		sub.deliverReports(reports)
	}

	remoteOnLastUpdated := func(ts int64) {
		if c.conn.FallbackEngaged() {
			return
		}
		sub.deliverLastUpdated(ts)
	}

	remoteOnError := func(err error) {
		if errors.Is(err, store.ErrUnavailable) || errors.Is(err, store.ErrPermissionDenied) {
			connectTimer.Stop()
			c.failover(ctx, fmt.Sprintf("remote subscription error: %v", err))
			return
		}
		c.logger.Error("remote snapshot error", "error", err)
	}

	unsub, err := c.remote.Subscribe(ctx, remoteOnReports, remoteOnLastUpdated, remoteOnError)
	if err != nil {
		connectTimer.Stop()
		c.logger.Warn("remote subscribe failed, switching to offline mode", "error", err)
		if ferr := c.failoverTo(ctx, sub); ferr != nil {
			return nil, ferr
		}
		return c.unsubscribeFunc(sub), nil
	}

	sub.mu.Lock()
	if sub.backendUnsub == nil { // failover may have swapped it already
		sub.backendUnsub = unsub
	} else {
		unsub()
	}
	sub.mu.Unlock()

	return c.unsubscribeFunc(sub), nil
}

func (c *Coordinator) unsubscribeFunc(sub *activeSubscription) store.Unsubscribe {
	return func() {
		sub.mu.Lock()
		sub.closed = true
		backendUnsub := sub.backendUnsub
		sub.backendUnsub = nil
		sub.mu.Unlock()

		if backendUnsub != nil {
			backendUnsub()
		}

		c.subMu.Lock()
		if c.sub == sub {
			c.sub = nil
		}
		c.subMu.Unlock()
	}
}

func (c *Coordinator) bindLocal(ctx context.Context, sub *activeSubscription) error {
	unsub, err := c.local.Subscribe(ctx, sub.deliverReports, sub.deliverLastUpdated, nil)
	if err != nil {
		return fmt.Errorf("local subscribe failed: %w", err)
	}

	sub.mu.Lock()
	old := sub.backendUnsub
	sub.backendUnsub = unsub
	closed := sub.closed
	sub.mu.Unlock()

	if old != nil {
		old()
	}
	if closed {
		unsub()
	}
	return nil
}

// failover engages the one-way fallback exactly once: tear down the remote
// feed, attach the local feed under the same external callbacks. Repeated
// or concurrent triggers are no-ops.
func (c *Coordinator) failover(ctx context.Context, reason string) {
	if !c.conn.EngageFallback() {
		return
	}

	c.logger.Warn("switching to offline mode", "reason", reason)
	if c.collector != nil {
		c.collector.FailoverEngaged()
	}

	c.subMu.Lock()
	sub := c.sub
	c.subMu.Unlock()
	if sub == nil {
		return
	}

	if err := c.bindLocal(ctx, sub); err != nil {
		c.logger.Error("local fallback subscription failed", "error", err)
	}
}

// failoverTo is the subscribe-time variant: engage the flag (idempotent)
// and bind the local feed, propagating a local failure to the caller since
// there is no further fallback.
func (c *Coordinator) failoverTo(ctx context.Context, sub *activeSubscription) error {
	c.conn.EngageFallback()
	if c.collector != nil {
		c.collector.FailoverEngaged()
	}
	return c.bindLocal(ctx, sub)
}

// active returns the backend writes should go to right now.
func (c *Coordinator) active() store.Store {
	if c.remote == nil || c.conn.FallbackEngaged() {
		return c.local
	}
	return c.remote
}

// AddReport persists one report through the active backend, falling back
// to the local store on remote failure. The caller only sees an error when
// the local store itself fails.
func (c *Coordinator) AddReport(ctx context.Context, report models.Report) error {
	if report.Status == "" {
		report.Status = models.StatusPending
	}

	backend := c.active()
	err := backend.AddReport(ctx, report)
	if err == nil || backend == c.local {
		return err
	}

	c.failover(ctx, fmt.Sprintf("remote write failed: %v", err))
	return c.local.AddReport(ctx, report)
}

// UpdateStatus patches a report's moderation status (dismissed deletes),
// with the same remote-then-local write policy as AddReport.
func (c *Coordinator) UpdateStatus(ctx context.Context, id string, status models.Status) error {
	backend := c.active()
	err := backend.UpdateStatus(ctx, id, status)
	if err == nil || backend == c.local {
		return err
	}

	c.failover(ctx, fmt.Sprintf("remote status update failed: %v", err))
	return c.local.UpdateStatus(ctx, id, status)
}

// ListReports returns the active backend's full collection, newest first.
func (c *Coordinator) ListReports(ctx context.Context) ([]models.Report, error) {
	return c.active().ListAll(ctx)
}

// SyncThreats ingests a batch of freshly-scanned candidates: normalize,
// re-seed an empty store, drop duplicates of anything seen in the recent
// window, and insert the unique remainder as verified. Automated ingestion
// is equivalent to admin-verified manual entry.
func (c *Coordinator) SyncThreats(ctx context.Context, candidates []models.Report) error {
	now := c.now()
	normalized := make([]models.Report, 0, len(candidates))
	for _, cand := range candidates {
		normalized = append(normalized, dedup.NormalizeCandidate(cand, now))
	}

	backend := c.active()
	err := c.syncThreatsOn(ctx, backend, normalized, now)
	if err == nil || backend == c.local {
		return err
	}

	c.failover(ctx, fmt.Sprintf("remote sync failed: %v", err))
	return c.syncThreatsOn(ctx, c.local, normalized, c.now())
}

func (c *Coordinator) syncThreatsOn(ctx context.Context, backend store.Store, candidates []models.Report, now time.Time) error {
	count, err := backend.Count(ctx)
	if err != nil {
		return err
	}
	if count == 0 {
		if err := backend.SeedIfEmpty(ctx); err != nil {
			return err
		}
	}

	existing, err := backend.ListSince(ctx, now.Add(-RecentWindow).UnixMilli())
	if err != nil {
		return err
	}

	unique := dedup.Filter(candidates, existing)
	if c.collector != nil {
		c.collector.DuplicatesFiltered(len(candidates) - len(unique))
	}
	if len(unique) == 0 {
		return nil
	}

	c.logger.Info("syncing new unique threats", "count", len(unique))
	for _, r := range unique {
		r.Status = models.StatusVerified
		if err := backend.AddReport(ctx, r); err != nil {
			return err
		}
	}
	if c.collector != nil {
		c.collector.ReportsIngested(len(unique))
	}
	return nil
}

// RunBulkCleanup asks the dedup advisor which reports are duplicates and
// deletes them in one transaction. Best-effort by contract: every failure
// path returns 0 rather than an error. The cleanup pass is wired to the
// remote backend only; a coordinator running on the local fallback always
// reports 0, an asymmetry carried over deliberately.
func (c *Coordinator) RunBulkCleanup(ctx context.Context) int {
	if c.remote == nil || c.conn.FallbackEngaged() || c.advisor == nil {
		return 0
	}

	all, err := c.remote.ListAll(ctx)
	if err != nil {
		c.logger.Error("bulk cleanup fetch failed", "error", err)
		return 0
	}
	if len(all) < 2 {
		return 0
	}

	ids, err := c.advisor.IdentifyDuplicateIDs(ctx, all)
	if err != nil {
		c.logger.Error("dedup advisor failed", "error", err)
		return 0
	}
	if len(ids) == 0 {
		return 0
	}

	c.logger.Info("dedup advisor flagged duplicates", "count", len(ids))
	if err := c.remote.DeleteBatch(ctx, ids); err != nil {
		c.logger.Error("bulk cleanup deletion failed", "error", err)
		return 0
	}

	if c.collector != nil {
		c.collector.CleanupRemoved(len(ids))
	}
	return len(ids)
}

// SeedIfEmpty seeds the active backend's bootstrap data.
func (c *Coordinator) SeedIfEmpty(ctx context.Context) error {
	return c.active().SeedIfEmpty(ctx)
}
