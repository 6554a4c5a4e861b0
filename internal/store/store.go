// Package store provides the persistence backends for incident reports: a
// networked PostgreSQL store with a LISTEN/NOTIFY changefeed and a
// same-device SQLite fallback with an in-process change broadcast.
package store

import (
	"context"
	"errors"

	"github.com/safetymap/safetymap/internal/models"
)

// Standard errors for backend operations. The sync coordinator uses
// errors.Is against ErrUnavailable and ErrPermissionDenied to decide
// whether a failure is systemic (triggers failover) or local to one call.
var (
	// ErrUnavailable indicates the backend cannot be reached at all.
	ErrUnavailable = errors.New("backend unavailable")

	// ErrPermissionDenied indicates the backend rejected our credentials.
	ErrPermissionDenied = errors.New("permission denied")

	// ErrNotFound indicates the requested report does not exist.
	ErrNotFound = errors.New("report not found")
)

// ReportsFunc receives the full report collection after every committed
// change, newest first.
type ReportsFunc func(reports []models.Report)

// LastUpdatedFunc receives the store's last-updated timestamp in epoch
// milliseconds.
type LastUpdatedFunc func(ts int64)

// ErrorFunc receives asynchronous subscription errors. Errors matching
// ErrUnavailable or ErrPermissionDenied mean the backend is unusable.
type ErrorFunc func(err error)

// Unsubscribe stops delivery for a subscription. Safe to call more than
// once; after the first call no further callbacks are invoked.
type Unsubscribe func()

// Store is the persistence contract shared by the remote and local
// backends. Subscribe must deliver an initial snapshot promptly and again
// on every committed change. UpdateStatus with StatusDismissed deletes the
// record outright. DeleteBatch is all-or-nothing.
type Store interface {
	Subscribe(ctx context.Context, onReports ReportsFunc, onLastUpdated LastUpdatedFunc, onError ErrorFunc) (Unsubscribe, error)
	AddReport(ctx context.Context, report models.Report) error
	UpdateStatus(ctx context.Context, id string, status models.Status) error
	ListAll(ctx context.Context) ([]models.Report, error)
	ListSince(ctx context.Context, sinceMillis int64) ([]models.Report, error)
	Count(ctx context.Context) (int, error)
	DeleteBatch(ctx context.Context, ids []string) error
	SeedIfEmpty(ctx context.Context) error
	Close() error
}
