package dedup

import (
	"time"

	"github.com/google/uuid"
	"github.com/safetymap/safetymap/internal/models"
)

// Defaults applied to scanned candidates that arrive with fields missing.
const (
	DefaultRadiusMeters   = 2000.0
	DefaultSeverity       = models.SeverityHigh
	DefaultDataConfidence = "Medium"
	DefaultTitle          = "Unknown Incident"
	DefaultDescription    = "Automated threat detection."
)

// NormalizeCandidate fills in documented defaults on a partially-populated
// candidate report. Both the manual submission path and scan ingestion use
// this so default policy lives in one place.
func NormalizeCandidate(r models.Report, now time.Time) models.Report {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if !models.ValidType(r.Type) {
		r.Type = models.TypeSuspectedKidnapping
	}
	if r.Title == "" {
		r.Title = DefaultTitle
	}
	if r.Description == "" {
		r.Description = DefaultDescription
	}
	if r.Radius <= 0 {
		r.Radius = DefaultRadiusMeters
	}
	if r.Timestamp == 0 {
		r.Timestamp = now.UnixMilli()
	}
	if !models.ValidSeverity(r.Severity) {
		r.Severity = DefaultSeverity
	}
	if r.DataConfidence == "" {
		r.DataConfidence = DefaultDataConfidence
	}
	return r
}
