package intel

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/safetymap/safetymap/internal/models"
)

// scannedIncident is the wire shape the scan prompt asks the model for.
type scannedIncident struct {
	Title         string  `json:"title"`
	Description   string  `json:"description"`
	Type          string  `json:"type"`
	Lat           float64 `json:"lat"`
	Lng           float64 `json:"lng"`
	AbductedCount int     `json:"abductedCount"`
	Confidence    string  `json:"confidence"`
	Radius        float64 `json:"radius"`
	Severity      string  `json:"severity"`
	Date          string  `json:"date"`
	SourceURL     string  `json:"sourceUrl"`
}

// ScanForThreats asks the model for recent security incidents and returns
// them as partial report candidates for batch ingestion. The candidates
// carry only what the model produced; ingestion applies the documented
// defaults for anything missing.
func (c *Client) ScanForThreats(ctx context.Context) ([]models.Report, error) {
	// JSON mode forces a JSON object, but the scan contract is a top-level
	// array, so rely on the prompt and parse defensively instead.
	raw, err := c.complete(ctx, c.prompts.ScanSystemPrompt, c.prompts.ScanPrompt, false, c.config.MaxTokens)
	if err != nil {
		return nil, fmt.Errorf("threat scan failed: %w", err)
	}

	candidates, err := parseScannedIncidents(raw, time.Now())
	if err != nil {
		c.logger.Error("threat scan returned unparseable payload", "error", err)
		return nil, fmt.Errorf("threat scan parse failed: %w", err)
	}

	c.logger.Info("threat scan complete", "candidates", len(candidates))
	return candidates, nil
}

// parseScannedIncidents converts the model's JSON array into report
// candidates, coercing out-of-enum type and severity values rather than
// rejecting the record.
func parseScannedIncidents(raw string, now time.Time) ([]models.Report, error) {
	var incidents []scannedIncident
	if err := json.Unmarshal([]byte(stripFences(raw)), &incidents); err != nil {
		return nil, fmt.Errorf("invalid incident array: %w", err)
	}

	reports := make([]models.Report, 0, len(incidents))
	for _, inc := range incidents {
		reportType := models.ReportType(inc.Type)
		if !models.ValidType(reportType) {
			reportType = models.TypeSuspectedKidnapping
		}

		severity := models.Severity(inc.Severity)
		if !models.ValidSeverity(severity) {
			severity = models.SeverityHigh
		}

		timestamp := now.UnixMilli()
		if inc.Date != "" {
			if t, err := time.Parse("2006-01-02", inc.Date); err == nil {
				timestamp = t.UnixMilli()
			}
		}

		reports = append(reports, models.Report{
			Type:           reportType,
			Title:          inc.Title,
			Description:    inc.Description,
			Position:       models.Coordinates{Lat: inc.Lat, Lng: inc.Lng},
			Radius:         inc.Radius,
			Timestamp:      timestamp,
			Severity:       severity,
			AbductedCount:  inc.AbductedCount,
			DataConfidence: inc.Confidence,
			SourceURL:      inc.SourceURL,
		})
	}

	return reports, nil
}
