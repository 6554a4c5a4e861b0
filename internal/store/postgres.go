package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/safetymap/safetymap/internal/models"
)

// notifyChannel is the Postgres NOTIFY channel fired by triggers on the
// reports and metadata tables. Notifications carry no payload; listeners
// re-read on receipt.
const notifyChannel = "safetymap_changes"

// RemoteConfig holds connection parameters for the remote backend.
type RemoteConfig struct {
	URL            string
	ConnectTimeout time.Duration
	MaxConnections int
}

// DefaultRemoteConfig returns sensible defaults for the remote backend.
func DefaultRemoteConfig() RemoteConfig {
	return RemoteConfig{
		ConnectTimeout: 5 * time.Second,
		MaxConnections: 20,
	}
}

// RemoteStore is the networked PostgreSQL backend. Subscription push is
// realized with LISTEN/NOTIFY; the store makes one bounded connection
// attempt and surfaces classified failures upward instead of retrying
// silently forever.
type RemoteStore struct {
	db      *sql.DB
	connStr string
	logger  *slog.Logger
	now     func() time.Time
}

// NewRemoteStore connects to PostgreSQL with a single bounded attempt.
func NewRemoteStore(ctx context.Context, cfg RemoteConfig, logger *slog.Logger) (*RemoteStore, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("%w: database URL is required", ErrUnavailable)
	}

	db, err := sql.Open("postgres", cfg.URL)
	if err != nil {
		return nil, classifyPQError(err)
	}
	db.SetMaxOpenConns(cfg.MaxConnections)

	pingCtx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, classifyPQError(err)
	}

	return &RemoteStore{
		db:      db,
		connStr: cfg.URL,
		logger:  logger,
		now:     time.Now,
	}, nil
}

// Migrate applies any pending schema migrations from dir.
func (s *RemoteStore) Migrate(dir string) error {
	return RunMigrations(s.db, dir, s.logger)
}

// Close releases the underlying connection pool.
func (s *RemoteStore) Close() error {
	return s.db.Close()
}

// Subscribe delivers an initial snapshot, then re-reads and re-delivers on
// every NOTIFY from the changefeed triggers. Connectivity failures of the
// listener are reported through onError as ErrUnavailable.
func (s *RemoteStore) Subscribe(ctx context.Context, onReports ReportsFunc, onLastUpdated LastUpdatedFunc, onError ErrorFunc) (Unsubscribe, error) {
	sub := &subscriber{onReports: onReports, onLastUpdated: onLastUpdated}

	reportErr := func(err error) {
		sub.mu.Lock()
		closed := sub.closed
		sub.mu.Unlock()
		if !closed && onError != nil {
			onError(err)
		}
	}

	listener := pq.NewListener(s.connStr, time.Second, time.Minute, func(ev pq.ListenerEventType, err error) {
		if ev == pq.ListenerEventConnectionAttemptFailed {
			reportErr(fmt.Errorf("%w: changefeed connection lost: %v", ErrUnavailable, err))
		}
	})

	if err := listener.Listen(notifyChannel); err != nil {
		listener.Close()
		return nil, classifyPQError(err)
	}

	done := make(chan struct{})

	go func() {
		if err := s.deliver(ctx, sub); err != nil {
			reportErr(err)
		}

		pingInterval := time.NewTicker(90 * time.Second)
		defer pingInterval.Stop()

		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case _, ok := <-listener.Notify:
				if !ok {
					return
				}
				if err := s.deliver(ctx, sub); err != nil {
					reportErr(err)
				}
			case <-pingInterval.C:
				// Keeps half-dead connections from going unnoticed.
				if err := listener.Ping(); err != nil {
					reportErr(fmt.Errorf("%w: changefeed ping failed: %v", ErrUnavailable, err))
				}
			}
		}
	}()

	var once sync.Once
	unsub := func() {
		once.Do(func() {
			sub.close()
			close(done)
			if err := listener.Close(); err != nil {
				s.logger.Debug("changefeed listener close failed", "error", err)
			}
		})
	}
	return unsub, nil
}

func (s *RemoteStore) deliver(ctx context.Context, sub *subscriber) error {
	reports, err := s.ListAll(ctx)
	if err != nil {
		return err
	}

	ts, err := s.lastUpdated(ctx)
	if err != nil {
		// Metadata sync being restricted is not fatal; use local time.
		s.logger.Debug("last-updated read failed, using local time", "error", err)
		ts = s.now().UnixMilli()
	}

	sub.notify(reports, ts)
	return nil
}

const reportColumns = `id, type, title, description, lat, lng, radius, timestamp_ms,
	severity, status, abducted_count, data_confidence, source_url, video_url,
	image_url, media_urls, view_count, comment_count, votes_confirm,
	votes_recovered, votes_fake`

// AddReport inserts one report and bumps the last-updated marker. A report
// without a durable id gets a backend-assigned one.
func (s *RemoteStore) AddReport(ctx context.Context, report models.Report) error {
	if report.ID == "" {
		report.ID = uuid.NewString()
	}
	if report.Status == "" {
		report.Status = models.StatusPending
	}

	query := fmt.Sprintf(`INSERT INTO reports (%s) VALUES
		($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21)`,
		reportColumns)

	_, err := s.db.ExecContext(ctx, query,
		report.ID,
		report.Type,
		report.Title,
		report.Description,
		report.Position.Lat,
		report.Position.Lng,
		report.Radius,
		report.Timestamp,
		report.Severity,
		report.Status,
		report.AbductedCount,
		report.DataConfidence,
		report.SourceURL,
		report.VideoURL,
		report.ImageURL,
		pq.Array(report.MediaURLs),
		report.ViewCount,
		report.CommentCount,
		report.VoteCounts.Confirm,
		report.VoteCounts.Recovered,
		report.VoteCounts.Fake,
	)
	if err != nil {
		return classifyPQError(fmt.Errorf("failed to insert report: %w", err))
	}

	s.touch(ctx)
	return nil
}

// UpdateStatus patches the status field, or deletes the record when the
// new status is dismissed. Updating an absent id is a tolerated no-op.
func (s *RemoteStore) UpdateStatus(ctx context.Context, id string, status models.Status) error {
	var err error
	if status == models.StatusDismissed {
		_, err = s.db.ExecContext(ctx, "DELETE FROM reports WHERE id = $1", id)
	} else {
		_, err = s.db.ExecContext(ctx, "UPDATE reports SET status = $2 WHERE id = $1", id, status)
	}
	if err != nil {
		return classifyPQError(fmt.Errorf("failed to update report status: %w", err))
	}
	return nil
}

// ListAll returns all reports, newest first.
func (s *RemoteStore) ListAll(ctx context.Context) ([]models.Report, error) {
	query := fmt.Sprintf("SELECT %s FROM reports ORDER BY timestamp_ms DESC", reportColumns)
	return s.queryReports(ctx, query)
}

// ListSince returns reports with timestamps after sinceMillis, newest first.
func (s *RemoteStore) ListSince(ctx context.Context, sinceMillis int64) ([]models.Report, error) {
	query := fmt.Sprintf("SELECT %s FROM reports WHERE timestamp_ms > $1 ORDER BY timestamp_ms DESC", reportColumns)
	return s.queryReports(ctx, query, sinceMillis)
}

// Count returns the number of stored reports.
func (s *RemoteStore) Count(ctx context.Context) (int, error) {
	var count int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM reports").Scan(&count); err != nil {
		return 0, classifyPQError(fmt.Errorf("failed to count reports: %w", err))
	}
	return count, nil
}

// DeleteBatch removes the given ids in one transaction, all-or-nothing.
func (s *RemoteStore) DeleteBatch(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return classifyPQError(fmt.Errorf("failed to begin transaction: %w", err))
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM reports WHERE id = ANY($1)", pq.Array(ids)); err != nil {
		return classifyPQError(fmt.Errorf("failed to delete reports: %w", err))
	}

	if err := tx.Commit(); err != nil {
		return classifyPQError(fmt.Errorf("failed to commit deletion: %w", err))
	}

	s.touch(ctx)
	return nil
}

// SeedIfEmpty inserts the bootstrap set when the reports table is empty.
func (s *RemoteStore) SeedIfEmpty(ctx context.Context) error {
	count, err := s.Count(ctx)
	if err != nil {
		return err
	}
	if count > 0 {
		return nil
	}

	for _, seed := range SeedReports(s.now()) {
		seed.Status = models.StatusVerified
		if err := s.AddReport(ctx, seed); err != nil {
			return fmt.Errorf("failed to seed reports: %w", err)
		}
	}
	return nil
}

func (s *RemoteStore) queryReports(ctx context.Context, query string, args ...any) ([]models.Report, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, classifyPQError(fmt.Errorf("failed to query reports: %w", err))
	}
	defer rows.Close()

	var reports []models.Report
	for rows.Next() {
		var r models.Report
		var mediaURLs pq.StringArray
		err := rows.Scan(
			&r.ID,
			&r.Type,
			&r.Title,
			&r.Description,
			&r.Position.Lat,
			&r.Position.Lng,
			&r.Radius,
			&r.Timestamp,
			&r.Severity,
			&r.Status,
			&r.AbductedCount,
			&r.DataConfidence,
			&r.SourceURL,
			&r.VideoURL,
			&r.ImageURL,
			&mediaURLs,
			&r.ViewCount,
			&r.CommentCount,
			&r.VoteCounts.Confirm,
			&r.VoteCounts.Recovered,
			&r.VoteCounts.Fake,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan report: %w", err)
		}
		r.MediaURLs = mediaURLs
		r.Status = r.EffectiveStatus()
		reports = append(reports, r)
	}
	if err := rows.Err(); err != nil {
		return nil, classifyPQError(err)
	}

	return reports, nil
}

// touch bumps the last-updated marker. Best-effort: metadata being
// restricted should never fail the write that triggered it.
func (s *RemoteStore) touch(ctx context.Context) {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO metadata (key, value) VALUES ('last_updated', $1)
		 ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value`,
		s.now().UnixMilli())
	if err != nil {
		s.logger.Debug("failed to bump last-updated marker", "error", err)
	}
}

func (s *RemoteStore) lastUpdated(ctx context.Context) (int64, error) {
	var ts int64
	err := s.db.QueryRowContext(ctx, "SELECT value FROM metadata WHERE key = 'last_updated'").Scan(&ts)
	if err == sql.ErrNoRows {
		return s.now().UnixMilli(), nil
	}
	if err != nil {
		return 0, classifyPQError(err)
	}
	return ts, nil
}

// classifyPQError maps driver errors onto the store's sentinel errors so
// the coordinator can distinguish systemic failures from one-off ones.
func classifyPQError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrUnavailable) || errors.Is(err, ErrPermissionDenied) {
		return err
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch {
		case pqErr.Code.Class() == "28" || pqErr.Code == "42501":
			// invalid_authorization_specification / insufficient_privilege
			return fmt.Errorf("%w: %v", ErrPermissionDenied, err)
		case pqErr.Code.Class() == "08" || pqErr.Code.Class() == "57" || pqErr.Code.Class() == "53":
			// connection_exception / operator_intervention / insufficient_resources
			return fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		return err
	}

	var netErr net.Error
	if errors.As(err, &netErr) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	return err
}
