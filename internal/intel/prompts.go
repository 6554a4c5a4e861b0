package intel

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/safetymap/safetymap/internal/models"
)

// PromptTemplates holds the prompt text for each AI collaboration.
type PromptTemplates struct {
	AnalystSystemPrompt string
	ScanSystemPrompt    string
	ScanPrompt          string
	DedupSystemPrompt   string
}

// NewPromptTemplates returns the default prompt set.
func NewPromptTemplates() *PromptTemplates {
	return &PromptTemplates{
		AnalystSystemPrompt: `You are a tactical security analyst for SafetyMap.
You receive the current situational report data and a user query.
Based on the data provided and your general knowledge of the region, provide a concise, tactical response.
If the user asks about safety, reference specific nearby markers if relevant.
Keep the tone professional, alert, and objective.`,

		ScanSystemPrompt: `You are an automated intelligence gathering agent monitoring security incidents in Nigeria.
You respond with strict JSON only, never markdown.`,

		ScanPrompt: `Report the latest security incidents (last 14 days) in Nigeria, specifically:
- Kidnappings / Abductions
- Bandit attacks
- Insurgent activity
- Communal clashes

Return a STRICT JSON array of objects. Do not use markdown.
Each object must have:
{
  "title": "Short headline (e.g. 'Abduction in Kajuru')",
  "description": "2-sentence summary.",
  "type": "suspected-kidnapping" or "insurgent-activity" or "gathering" or "checkpoint",
  "lat": number (approximate latitude of the town/LGA),
  "lng": number (approximate longitude of the town/LGA),
  "abductedCount": number (estimate, use 0 if not applicable),
  "confidence": "High" or "Medium" or "Low",
  "radius": number (impact radius in meters),
  "severity": "high" or "critical",
  "date": "YYYY-MM-DD" (date of the incident),
  "sourceUrl": "URL string to the news source"
}`,

		DedupSystemPrompt: `You are a data-quality assistant for an incident report database.
You receive a JSON array of report digests. Identify reports that describe the SAME real-world incident as another report in the list (same event covered by different sources, reposts, or near-identical records).
For each duplicate group, keep the earliest report and flag the rest for removal.
Respond with ONLY a JSON object of the form {"duplicate_ids": ["id1", "id2"]}.
If there are no duplicates, respond with {"duplicate_ids": []}.`,
	}
}

// BuildAnalysisPrompt renders the situation-analysis user prompt: the
// bounded report context plus the user's query.
func (p *PromptTemplates) BuildAnalysisPrompt(reports []models.Report, userQuery string) string {
	type reportContext struct {
		Type     models.ReportType `json:"type"`
		Title    string            `json:"title"`
		Severity models.Severity   `json:"severity"`
		Abducted int               `json:"abducted"`
		Location string            `json:"location"`
		Desc     string            `json:"desc"`
	}

	context := make([]reportContext, 0, len(reports))
	for _, r := range reports {
		context = append(context, reportContext{
			Type:     r.Type,
			Title:    r.Title,
			Severity: r.Severity,
			Abducted: r.AbductedCount,
			Location: fmt.Sprintf("%.4f, %.4f", r.Position.Lat, r.Position.Lng),
			Desc:     r.Description,
		})
	}

	data, err := json.Marshal(context)
	if err != nil {
		data = []byte("[]")
	}

	return fmt.Sprintf(`Here is the current situational report data on the map (JSON format):
%s

User Query: %q`, data, userQuery)
}

// BuildDedupPrompt renders the dedup-advisor user prompt from digests.
func (p *PromptTemplates) BuildDedupPrompt(digests []reportDigest) string {
	data, err := json.Marshal(digests)
	if err != nil {
		data = []byte("[]")
	}
	return "Report digests:\n" + string(data)
}

// stripFences removes markdown code fences some models wrap around JSON
// despite instructions.
func stripFences(text string) string {
	text = strings.ReplaceAll(text, "```json", "")
	text = strings.ReplaceAll(text, "```", "")
	return strings.TrimSpace(text)
}
