package intel

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"time"
	"unicode/utf8"

	"github.com/safetymap/safetymap/internal/models"
)

// digestDescriptionLimit bounds how much free text per report is sent to
// the dedup advisor.
const digestDescriptionLimit = 200

// reportDigest is the bounded projection sent to the dedup advisor. Full
// report payloads never leave the service.
type reportDigest struct {
	ID          string  `json:"id"`
	Title       string  `json:"title"`
	Description string  `json:"description"`
	Lat         float64 `json:"lat"`
	Lng         float64 `json:"lng"`
	Date        string  `json:"date"`
	Source      string  `json:"source,omitempty"`
}

type dedupResponse struct {
	DuplicateIDs []string `json:"duplicate_ids"`
}

// IdentifyDuplicateIDs asks the model which reports duplicate another in
// the set and returns their ids. Ids not present in the input are dropped
// so a hallucinated id can never delete a live record.
func (c *Client) IdentifyDuplicateIDs(ctx context.Context, reports []models.Report) ([]string, error) {
	if len(reports) < 2 {
		return nil, nil
	}

	known := make(map[string]bool, len(reports))
	digests := make([]reportDigest, 0, len(reports))
	for _, r := range reports {
		known[r.ID] = true
		digests = append(digests, digestReport(r))
	}

	raw, err := c.complete(ctx, c.prompts.DedupSystemPrompt, c.prompts.BuildDedupPrompt(digests), true, 1000)
	if err != nil {
		return nil, fmt.Errorf("dedup analysis failed: %w", err)
	}

	var result dedupResponse
	if err := json.Unmarshal([]byte(stripFences(raw)), &result); err != nil {
		return nil, fmt.Errorf("invalid dedup response: %w", err)
	}

	ids := make([]string, 0, len(result.DuplicateIDs))
	for _, id := range result.DuplicateIDs {
		if known[id] {
			ids = append(ids, id)
		} else {
			c.logger.Warn("dedup advisor returned unknown id, ignoring", "id", id)
		}
	}

	return ids, nil
}

// digestReport builds the bounded projection: truncated description and
// coordinates rounded to two decimals (roughly 1 km).
func digestReport(r models.Report) reportDigest {
	desc := truncateOnRune(r.Description, digestDescriptionLimit)

	return reportDigest{
		ID:          r.ID,
		Title:       r.Title,
		Description: desc,
		Lat:         roundCoord(r.Position.Lat),
		Lng:         roundCoord(r.Position.Lng),
		Date:        time.UnixMilli(r.Timestamp).UTC().Format("2006-01-02"),
		Source:      r.SourceURL,
	}
}

func roundCoord(v float64) float64 {
	return math.Round(v*100) / 100
}

// truncateOnRune cuts s to at most limit bytes, backing up so the cut
// never splits a multi-byte rune.
func truncateOnRune(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	cut := limit
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}
