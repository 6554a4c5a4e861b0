package models

import "time"

// Report represents one geotagged incident record with classification,
// severity, and moderation status.
type Report struct {
	ID          string      `json:"id"`
	Type        ReportType  `json:"type"`
	Title       string      `json:"title"`
	Description string      `json:"description"`
	Position    Coordinates `json:"position"`
	Radius      float64     `json:"radius"`    // meters
	Timestamp   int64       `json:"timestamp"` // epoch milliseconds
	Severity    Severity    `json:"severity"`
	Status      Status      `json:"status"`

	// Intelligence metadata
	AbductedCount  int        `json:"abductedCount,omitempty"`
	DataConfidence string     `json:"dataConfidence,omitempty"` // e.g. "High", "Medium", "Unverified"
	SourceURL      string     `json:"sourceUrl,omitempty"`
	VideoURL       string     `json:"videoUrl,omitempty"`
	ImageURL       string     `json:"imageUrl,omitempty"`
	MediaURLs      []string   `json:"mediaUrls,omitempty"`
	ViewCount      int        `json:"viewCount,omitempty"`
	CommentCount   int        `json:"commentCount,omitempty"`
	VoteCounts     VoteCounts `json:"voteCounts,omitempty"`
}

// Coordinates is a WGS84 latitude/longitude pair in degrees.
type Coordinates struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// VoteCounts aggregates community votes on a report.
type VoteCounts struct {
	Confirm   int `json:"confirm,omitempty"`
	Recovered int `json:"recovered,omitempty"`
	Fake      int `json:"fake,omitempty"`
}

// ReportType classifies an incident.
type ReportType string

const (
	TypeGathering           ReportType = "gathering"
	TypeSuspectedKidnapping ReportType = "suspected-kidnapping"
	TypeInsurgentActivity   ReportType = "insurgent-activity"
	TypeCheckpoint          ReportType = "checkpoint"
)

// ValidType reports whether t is a member of the closed type enumeration.
func ValidType(t ReportType) bool {
	switch t {
	case TypeGathering, TypeSuspectedKidnapping, TypeInsurgentActivity, TypeCheckpoint:
		return true
	}
	return false
}

// Severity is the ordinal impact assessment of a report.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// ValidSeverity reports whether s is a member of the severity enumeration.
func ValidSeverity(s Severity) bool {
	switch s {
	case SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical:
		return true
	}
	return false
}

// Status is the moderation lifecycle state of a report.
//
// Transitions are one-directional: pending -> verified or pending ->
// dismissed; verified -> resolved or verified -> dismissed. A dismissed
// report is deleted outright rather than retained as a tombstone.
type Status string

const (
	StatusPending   Status = "pending"
	StatusVerified  Status = "verified"
	StatusDismissed Status = "dismissed"
	StatusResolved  Status = "resolved"
)

// ValidStatus reports whether s is a member of the status enumeration.
func ValidStatus(s Status) bool {
	switch s {
	case StatusPending, StatusVerified, StatusDismissed, StatusResolved:
		return true
	}
	return false
}

// EffectiveStatus returns the report's status, defaulting records written
// before status existed to verified.
func (r Report) EffectiveStatus() Status {
	if r.Status == "" {
		return StatusVerified
	}
	return r.Status
}

// Time returns the report timestamp as a time.Time.
func (r Report) Time() time.Time {
	return time.UnixMilli(r.Timestamp)
}

// Age returns how long ago the report's event occurred relative to now.
func (r Report) Age(now time.Time) time.Duration {
	return now.Sub(r.Time())
}
