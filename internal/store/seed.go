package store

import (
	"time"

	"github.com/safetymap/safetymap/internal/models"
)

// Seed record ids checked at local load time. A stored collection missing
// any of these gets the absent records patched back in.
var seedIDs = []string{"video-demo-kano", "image-demo-jos", "seed-kaduna-highway", "seed-sambisa-fringe"}

// SeedReports returns the bootstrap incident set inserted whenever a
// backing store is empty, so the map is never blank on first run.
// Timestamps are relative to now.
func SeedReports(now time.Time) []models.Report {
	return []models.Report{
		{
			ID:             "video-demo-kano",
			Type:           models.TypeSuspectedKidnapping,
			Title:          "Security Operations in Kano",
			Description:    "Joint task force operations captured on video dispersing bandit groups in the Falgore Forest region.",
			Position:       models.Coordinates{Lat: 11.8000, Lng: 8.5000},
			Radius:         4000,
			Timestamp:      now.Add(-2 * time.Hour).UnixMilli(),
			Severity:       models.SeverityHigh,
			DataConfidence: "High",
			Status:         models.StatusVerified,
			VideoURL:       "https://www.youtube.com/watch?v=J_CQlqC1qGM",
		},
		{
			ID:             "image-demo-jos",
			Type:           models.TypeGathering,
			Title:          "Peace Rally in Jos",
			Description:    "Large public gathering for peace observed in Jos city center. Heavy security presence verified.",
			Position:       models.Coordinates{Lat: 9.9326, Lng: 8.8911},
			Radius:         1000,
			Timestamp:      now.Add(-5 * time.Hour).UnixMilli(),
			Severity:       models.SeverityLow,
			DataConfidence: "High",
			Status:         models.StatusVerified,
			ImageURL:       "https://upload.wikimedia.org/wikipedia/commons/thumb/c/c5/Jos_Nigeria_Street_View.jpg/1200px-Jos_Nigeria_Street_View.jpg",
		},
		{
			ID:             "seed-kaduna-highway",
			Type:           models.TypeSuspectedKidnapping,
			Title:          "High Risk Zone",
			Description:    "Multiple reports of suspicious vehicle stops along the Kaduna-Abuja highway.",
			Position:       models.Coordinates{Lat: 10.0000, Lng: 7.5000},
			Radius:         5000,
			Timestamp:      now.Add(-12 * time.Hour).UnixMilli(),
			Severity:       models.SeverityHigh,
			AbductedCount:  12,
			DataConfidence: "Medium",
			Status:         models.StatusVerified,
		},
		{
			ID:             "seed-sambisa-fringe",
			Type:           models.TypeInsurgentActivity,
			Title:          "Insurgent Sighting",
			Description:    "Unverified reports of movement in the Sambisa Forest fringe.",
			Position:       models.Coordinates{Lat: 11.5000, Lng: 13.0000},
			Radius:         10000,
			Timestamp:      now.Add(-48 * time.Hour).UnixMilli(),
			Severity:       models.SeverityCritical,
			AbductedCount:  5,
			DataConfidence: "Low",
			Status:         models.StatusVerified,
		},
	}
}

// missingSeeds returns the seed records whose ids are absent from reports.
func missingSeeds(reports []models.Report, now time.Time) []models.Report {
	present := make(map[string]bool, len(reports))
	for _, r := range reports {
		present[r.ID] = true
	}

	var missing []models.Report
	for _, seed := range SeedReports(now) {
		if !present[seed.ID] {
			missing = append(missing, seed)
		}
	}
	return missing
}
