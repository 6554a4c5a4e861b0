package intel

import (
	"context"

	"github.com/safetymap/safetymap/internal/models"
)

// UnavailableMessage is returned to the caller whenever the analysis
// completion fails. The chat surface never sees an error.
const UnavailableMessage = "System Alert: AI analysis currently unavailable due to network or API restrictions."

// AnalyzeSituation produces a tactical summary of the current report set
// in response to a user query. Failures are logged and replaced with a
// fixed notice.
func (c *Client) AnalyzeSituation(ctx context.Context, reports []models.Report, userQuery string) string {
	prompt := c.prompts.BuildAnalysisPrompt(reports, userQuery)

	answer, err := c.complete(ctx, c.prompts.AnalystSystemPrompt, prompt, false, 500)
	if err != nil {
		c.logger.Error("situation analysis failed", "error", err)
		return UnavailableMessage
	}

	return answer
}
