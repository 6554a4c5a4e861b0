package intel

import (
	"context"

	"github.com/safetymap/safetymap/internal/models"
)

// Mock provides a canned implementation of the intel collaborations for
// testing without OpenAI API calls.
type Mock struct {
	ScanResults  []models.Report
	ScanErr      error
	DuplicateIDs []string
	DedupErr     error
	Analysis     string
}

// NewMock creates a mock with an empty scan result and a fixed analysis.
func NewMock() *Mock {
	return &Mock{Analysis: "No significant threats in the monitored area."}
}

func (m *Mock) ScanForThreats(ctx context.Context) ([]models.Report, error) {
	return m.ScanResults, m.ScanErr
}

func (m *Mock) IdentifyDuplicateIDs(ctx context.Context, reports []models.Report) ([]string, error) {
	return m.DuplicateIDs, m.DedupErr
}

func (m *Mock) AnalyzeSituation(ctx context.Context, reports []models.Report, userQuery string) string {
	return m.Analysis
}
