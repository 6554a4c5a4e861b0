// Package dedup implements multi-signal duplicate detection for incident
// reports: exact identity, source URL, exact text, and spatiotemporal
// proximity.
package dedup

import (
	"time"

	"github.com/safetymap/safetymap/internal/geo"
	"github.com/safetymap/safetymap/internal/models"
)

// Fixed dedup policy. Two same-type reports closer than DuplicateRadiusKm
// and DuplicateWindow apart are treated as the same real-world event.
const (
	DuplicateRadiusKm = 5.0
	DuplicateWindow   = 48 * time.Hour
)

// IsDuplicate reports whether candidate matches any member of existing.
//
// A match requires any one of: identical id (re-inserted seed data),
// identical non-empty source URL, identical title and description, or the
// same type within DuplicateRadiusKm and DuplicateWindow. Text comparisons
// are exact and case-sensitive; trivial rephrasings are not caught.
func IsDuplicate(candidate models.Report, existing []models.Report) bool {
	for _, other := range existing {
		if matches(candidate, other) {
			return true
		}
	}
	return false
}

func matches(candidate, other models.Report) bool {
	if candidate.ID != "" && candidate.ID == other.ID {
		return true
	}

	// URL match is the strongest signal: same article, same event.
	if candidate.SourceURL != "" && other.SourceURL != "" && candidate.SourceURL == other.SourceURL {
		return true
	}

	if candidate.Title == other.Title && candidate.Description == other.Description {
		return true
	}

	if candidate.Type == other.Type {
		distKm := geo.DistanceKm(candidate.Position, other.Position)
		timeDiff := time.Duration(abs64(candidate.Timestamp-other.Timestamp)) * time.Millisecond
		if distKm < DuplicateRadiusKm && timeDiff < DuplicateWindow {
			return true
		}
	}

	return false
}

// Filter returns the members of candidates that are not duplicates of
// existing. Candidates are not checked against each other; a batch that
// contains internal duplicates passes through unchanged.
func Filter(candidates, existing []models.Report) []models.Report {
	unique := make([]models.Report, 0, len(candidates))
	for _, c := range candidates {
		if !IsDuplicate(c, existing) {
			unique = append(unique, c)
		}
	}
	return unique
}

func abs64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
