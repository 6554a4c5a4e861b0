package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3" // SQLite driver
	"github.com/safetymap/safetymap/internal/models"
)

// Persisted entry names. The layout is deliberately a two-entry key-value
// scheme: the full report collection as one JSON array plus the
// last-updated timestamp as an epoch-millis string. There is no schema
// version; evolution is handled by the seed-id patch check at load time.
const (
	keyReports     = "safetymap_reports"
	keyLastUpdated = "safetymap_lastUpdated"
)

// LocalStore is the single-device fallback backend, persisted in a SQLite
// key-value table. Change "push" is simulated: every write fires a
// payload-free in-process notification and each subscriber re-reads the
// stored collection.
type LocalStore struct {
	db     *sql.DB
	logger *slog.Logger
	now    func() time.Time

	mu   sync.Mutex // serializes read-modify-write cycles
	subs *subscriberSet
}

// NewLocalStore opens (creating if necessary) the SQLite database at path.
func NewLocalStore(path string, logger *slog.Logger) (*LocalStore, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open local store: %w", err)
	}

	_, err = db.Exec(`CREATE TABLE IF NOT EXISTS kv (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	)`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create kv table: %w", err)
	}

	return &LocalStore{
		db:     db,
		logger: logger,
		now:    time.Now,
		subs:   newSubscriberSet(),
	}, nil
}

// Close releases the underlying database handle.
func (s *LocalStore) Close() error {
	return s.db.Close()
}

// Subscribe registers the callback pair, delivers an immediate snapshot,
// and re-delivers after every local write.
func (s *LocalStore) Subscribe(ctx context.Context, onReports ReportsFunc, onLastUpdated LastUpdatedFunc, onError ErrorFunc) (Unsubscribe, error) {
	sub := s.subs.add(onReports, onLastUpdated)

	if err := s.deliver(ctx, sub); err != nil {
		s.subs.remove(sub)
		return nil, err
	}

	return func() { s.subs.remove(sub) }, nil
}

// deliver loads the stored collection (patching in any absent seed
// records) and invokes the subscriber's callbacks.
func (s *LocalStore) deliver(ctx context.Context, sub *subscriber) error {
	reports, err := s.loadReports(ctx)
	if err != nil {
		return err
	}

	ts, err := s.loadLastUpdated(ctx)
	if err != nil {
		return err
	}

	sub.notify(reports, ts)
	return nil
}

// broadcast is the generalized cross-tab storage signal: no payload, every
// listener re-reads. Errors during re-read are logged, not propagated; a
// broken read for one subscriber must not poison the write that caused it.
// Never call while holding s.mu.
func (s *LocalStore) broadcast(ctx context.Context) {
	for _, sub := range s.subs.snapshot() {
		if err := s.deliver(ctx, sub); err != nil {
			s.logger.Warn("local store broadcast delivery failed", "error", err)
		}
	}
}

// AddReport prepends the report to the stored collection. Reports without
// an id get a client-assigned one, since there is no backend to mint ids.
func (s *LocalStore) AddReport(ctx context.Context, report models.Report) error {
	if report.ID == "" {
		report.ID = uuid.NewString()
	}

	err := s.withLock(func() error {
		current, err := s.readReports(ctx)
		if err != nil {
			return err
		}

		updated := append([]models.Report{report}, current...)
		if err := s.writeReports(ctx, updated); err != nil {
			return err
		}
		return s.writeLastUpdated(ctx, s.now().UnixMilli())
	})
	if err != nil {
		return err
	}

	s.broadcast(ctx)
	return nil
}

// UpdateStatus patches the status in place, or removes the record entirely
// when the new status is dismissed. Updating an absent id is a no-op.
func (s *LocalStore) UpdateStatus(ctx context.Context, id string, status models.Status) error {
	err := s.withLock(func() error {
		current, err := s.readReports(ctx)
		if err != nil {
			return err
		}

		var updated []models.Report
		if status == models.StatusDismissed {
			updated = make([]models.Report, 0, len(current))
			for _, r := range current {
				if r.ID != id {
					updated = append(updated, r)
				}
			}
		} else {
			updated = current
			for i := range updated {
				if updated[i].ID == id {
					updated[i].Status = status
				}
			}
		}

		return s.writeReports(ctx, updated)
	})
	if err != nil {
		return err
	}

	s.broadcast(ctx)
	return nil
}

// ListAll returns the stored collection, seed-patched, newest first.
func (s *LocalStore) ListAll(ctx context.Context) ([]models.Report, error) {
	return s.loadReports(ctx)
}

// ListSince returns stored reports with timestamps after sinceMillis.
func (s *LocalStore) ListSince(ctx context.Context, sinceMillis int64) ([]models.Report, error) {
	all, err := s.loadReports(ctx)
	if err != nil {
		return nil, err
	}

	recent := make([]models.Report, 0, len(all))
	for _, r := range all {
		if r.Timestamp > sinceMillis {
			recent = append(recent, r)
		}
	}
	return recent, nil
}

// Count returns the number of stored reports without seed patching, so an
// empty store reads as empty.
func (s *LocalStore) Count(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	reports, err := s.readReports(ctx)
	if err != nil {
		return 0, err
	}
	return len(reports), nil
}

// DeleteBatch removes the given ids in one write. Absent ids are ignored.
func (s *LocalStore) DeleteBatch(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	doomed := make(map[string]bool, len(ids))
	for _, id := range ids {
		doomed[id] = true
	}

	err := s.withLock(func() error {
		current, err := s.readReports(ctx)
		if err != nil {
			return err
		}

		kept := make([]models.Report, 0, len(current))
		for _, r := range current {
			if !doomed[r.ID] {
				kept = append(kept, r)
			}
		}

		return s.writeReports(ctx, kept)
	})
	if err != nil {
		return err
	}

	s.broadcast(ctx)
	return nil
}

// SeedIfEmpty writes the bootstrap set when no reports are stored.
func (s *LocalStore) SeedIfEmpty(ctx context.Context) error {
	seeded := false
	err := s.withLock(func() error {
		current, err := s.readReports(ctx)
		if err != nil {
			return err
		}
		if len(current) > 0 {
			return nil
		}

		if err := s.writeReports(ctx, SeedReports(s.now())); err != nil {
			return err
		}
		if err := s.writeLastUpdated(ctx, s.now().UnixMilli()); err != nil {
			return err
		}
		seeded = true
		return nil
	})
	if err != nil {
		return err
	}

	if seeded {
		s.broadcast(ctx)
	}
	return nil
}

func (s *LocalStore) withLock(fn func() error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn()
}

// loadReports reads the collection and patches in any missing seed
// records, persisting the patched result. An entirely empty store is
// seeded with the full bootstrap set on first read.
func (s *LocalStore) loadReports(ctx context.Context) ([]models.Report, error) {
	var reports []models.Report
	err := s.withLock(func() error {
		var err error
		reports, err = s.readReports(ctx)
		if err != nil {
			return err
		}

		if missing := missingSeeds(reports, s.now()); len(missing) > 0 {
			reports = append(missing, reports...)
			if err := s.writeReports(ctx, reports); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	// Records written before moderation existed default to verified.
	for i := range reports {
		reports[i].Status = reports[i].EffectiveStatus()
	}

	return reports, nil
}

func (s *LocalStore) loadLastUpdated(ctx context.Context) (int64, error) {
	var raw string
	err := s.db.QueryRowContext(ctx, "SELECT value FROM kv WHERE key = ?", keyLastUpdated).Scan(&raw)
	if err == sql.ErrNoRows {
		return s.now().UnixMilli(), nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read last-updated entry: %w", err)
	}

	ts, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return s.now().UnixMilli(), nil
	}
	return ts, nil
}

func (s *LocalStore) readReports(ctx context.Context) ([]models.Report, error) {
	var raw string
	err := s.db.QueryRowContext(ctx, "SELECT value FROM kv WHERE key = ?", keyReports).Scan(&raw)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read reports entry: %w", err)
	}

	var reports []models.Report
	if err := json.Unmarshal([]byte(raw), &reports); err != nil {
		return nil, fmt.Errorf("corrupt reports entry: %w", err)
	}
	return reports, nil
}

func (s *LocalStore) writeReports(ctx context.Context, reports []models.Report) error {
	data, err := json.Marshal(reports)
	if err != nil {
		return fmt.Errorf("failed to marshal reports: %w", err)
	}
	return s.writeKV(ctx, keyReports, string(data))
}

func (s *LocalStore) writeLastUpdated(ctx context.Context, ts int64) error {
	return s.writeKV(ctx, keyLastUpdated, strconv.FormatInt(ts, 10))
}

func (s *LocalStore) writeKV(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO kv (key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value",
		key, value)
	if err != nil {
		return fmt.Errorf("failed to write %s: %w", key, err)
	}
	return nil
}
