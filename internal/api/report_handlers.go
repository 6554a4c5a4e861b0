// Package api exposes the report service over HTTP: public report
// listing and submission, the admin scan/cleanup/moderation surface, the
// situation-analysis endpoint, and the access-code login.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/safetymap/safetymap/internal/auth"
	"github.com/safetymap/safetymap/internal/dedup"
	"github.com/safetymap/safetymap/internal/models"
	"github.com/safetymap/safetymap/internal/syncer"
)

// ReportService is the coordinator surface the HTTP layer consumes.
type ReportService interface {
	ListReports(ctx context.Context) ([]models.Report, error)
	AddReport(ctx context.Context, report models.Report) error
	UpdateStatus(ctx context.Context, id string, status models.Status) error
	SyncThreats(ctx context.Context, candidates []models.Report) error
	RunBulkCleanup(ctx context.Context) int
	State() syncer.BindState
}

// ThreatScanner produces fresh incident candidates on demand.
type ThreatScanner interface {
	ScanForThreats(ctx context.Context) ([]models.Report, error)
}

// SituationAnalyst answers free-text queries over the current report set.
type SituationAnalyst interface {
	AnalyzeSituation(ctx context.Context, reports []models.Report, userQuery string) string
}

type Handler struct {
	service   ReportService
	scanner   ThreatScanner
	analyst   SituationAnalyst
	gate      *auth.Gate
	stream    *StreamHub // nil disables /api/reports/stream
	logger    *slog.Logger
	startTime time.Time
}

func NewHandler(service ReportService, scanner ThreatScanner, analyst SituationAnalyst, gate *auth.Gate, stream *StreamHub, logger *slog.Logger) *Handler {
	return &Handler{
		service:   service,
		scanner:   scanner,
		analyst:   analyst,
		gate:      gate,
		stream:    stream,
		logger:    logger,
		startTime: time.Now(),
	}
}

// ReportsResponse is the list endpoint's envelope.
type ReportsResponse struct {
	Reports []models.Report `json:"reports"`
	Count   int             `json:"count"`
}

// GetReportsHandler handles GET /api/reports. Public callers see only
// verified and resolved reports; an admin session sees everything.
func (h *Handler) GetReportsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	reports, err := h.service.ListReports(r.Context())
	if err != nil {
		h.logger.Error("failed to list reports", "error", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	if !h.isAdmin(r) {
		reports = publicReports(reports)
	}

	writeJSON(w, http.StatusOK, ReportsResponse{Reports: reports, Count: len(reports)})
}

// CreateReportHandler handles POST /api/reports. Manual submissions enter
// as pending; an admin session submits directly as verified.
func (h *Handler) CreateReportHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var report models.Report
	if err := json.NewDecoder(r.Body).Decode(&report); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if err := validateSubmission(report); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	report = applyManualDefaults(report, time.Now())
	if h.isAdmin(r) {
		report.Status = models.StatusVerified
	} else {
		report.Status = models.StatusPending
	}

	if err := h.service.AddReport(r.Context(), report); err != nil {
		h.logger.Error("failed to add report", "error", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]string{"status": string(report.Status)})
}

// UpdateStatusHandler handles PATCH /api/reports/:id/status (admin only,
// enforced by the router). Dismissing deletes the record.
func (h *Handler) UpdateStatusHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPatch {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	parts := strings.Split(r.URL.Path, "/")
	// /api/reports/:id/status
	if len(parts) != 5 || parts[3] == "" {
		http.Error(w, "Report ID required", http.StatusBadRequest)
		return
	}
	id := parts[3]

	var body struct {
		Status models.Status `json:"status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if !models.ValidStatus(body.Status) {
		http.Error(w, fmt.Sprintf("Invalid status %q", body.Status), http.StatusBadRequest)
		return
	}

	if err := h.service.UpdateStatus(r.Context(), id, body.Status); err != nil {
		h.logger.Error("failed to update report status", "id", id, "error", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"id": id, "status": string(body.Status)})
}

// ScanHandler handles POST /api/admin/scan: one on-demand scan-and-ingest
// cycle.
func (h *Handler) ScanHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if h.scanner == nil {
		http.Error(w, "Threat scanning not configured", http.StatusServiceUnavailable)
		return
	}

	candidates, err := h.scanner.ScanForThreats(r.Context())
	if err != nil {
		h.logger.Error("manual threat scan failed", "error", err)
		http.Error(w, "Scan failed", http.StatusBadGateway)
		return
	}

	if len(candidates) > 0 {
		if err := h.service.SyncThreats(r.Context(), candidates); err != nil {
			h.logger.Error("failed to ingest scanned threats", "error", err)
			http.Error(w, "Internal server error", http.StatusInternalServerError)
			return
		}
	}

	writeJSON(w, http.StatusOK, map[string]int{"candidates": len(candidates)})
}

// CleanupHandler handles POST /api/admin/cleanup: the AI-assisted bulk
// dedup pass. Always succeeds; the count says how much it did.
func (h *Handler) CleanupHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	removed := h.service.RunBulkCleanup(r.Context())
	writeJSON(w, http.StatusOK, map[string]int{"removed": removed})
}

// AnalyzeHandler handles POST /api/analyze: a situation query over the
// current report set.
func (h *Handler) AnalyzeHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if h.analyst == nil {
		http.Error(w, "Analysis not configured", http.StatusServiceUnavailable)
		return
	}

	var body struct {
		Query string `json:"query"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || strings.TrimSpace(body.Query) == "" {
		http.Error(w, "Query required", http.StatusBadRequest)
		return
	}

	reports, err := h.service.ListReports(r.Context())
	if err != nil {
		h.logger.Error("failed to list reports for analysis", "error", err)
		reports = nil
	}

	answer := h.analyst.AnalyzeSituation(r.Context(), publicReports(reports), body.Query)
	writeJSON(w, http.StatusOK, map[string]string{"analysis": answer})
}

// LoginHandler handles POST /api/auth/login: exchanges the shared admin
// access code for a session token.
func (h *Handler) LoginHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var body struct {
		AccessCode string `json:"accessCode"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if !h.gate.VerifyAccessCode(body.AccessCode) {
		h.logger.Warn("failed admin login attempt")
		http.Error(w, "Invalid access code", http.StatusUnauthorized)
		return
	}

	token, err := h.gate.IssueToken()
	if err != nil {
		h.logger.Error("failed to issue session token", "error", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"token": token})
}

// HealthHandler handles GET /healthz.
func (h *Handler) HealthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"backend": h.service.State().String(),
		"uptime":  time.Since(h.startTime).Round(time.Second).String(),
	})
}

// isAdmin reports whether the request carries a valid admin session token.
// Used on routes that are public but behave differently for admins.
func (h *Handler) isAdmin(r *http.Request) bool {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return false
	}
	parts := strings.Split(authHeader, " ")
	if len(parts) != 2 || parts[0] != "Bearer" {
		return false
	}
	_, err := h.gate.ValidateToken(parts[1])
	return err == nil
}

// publicReports filters the collection to what unauthenticated callers
// may see: everything except pending submissions.
func publicReports(reports []models.Report) []models.Report {
	out := make([]models.Report, 0, len(reports))
	for _, r := range reports {
		if r.EffectiveStatus() != models.StatusPending {
			out = append(out, r)
		}
	}
	return out
}

// validateSubmission checks the fields a manual submission must carry.
func validateSubmission(r models.Report) error {
	if !models.ValidType(r.Type) {
		return fmt.Errorf("invalid report type %q", r.Type)
	}
	if strings.TrimSpace(r.Title) == "" {
		return fmt.Errorf("title is required")
	}
	if r.Position.Lat == 0 && r.Position.Lng == 0 {
		return fmt.Errorf("position is required")
	}
	if r.Radius < 0 {
		return fmt.Errorf("radius must be non-negative")
	}
	return nil
}

// applyManualDefaults stamps the documented manual-entry defaults:
// insurgent activity is critical, everything else medium, confidence
// marked as manual input.
func applyManualDefaults(r models.Report, now time.Time) models.Report {
	if r.Severity == "" {
		if r.Type == models.TypeInsurgentActivity {
			r.Severity = models.SeverityCritical
		} else {
			r.Severity = models.SeverityMedium
		}
	}
	if r.DataConfidence == "" {
		r.DataConfidence = "Manual Input"
	}
	if r.Timestamp == 0 {
		r.Timestamp = now.UnixMilli()
	}
	if r.Radius == 0 {
		r.Radius = dedup.DefaultRadiusMeters
	}
	return r
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		slog.Default().Error("failed to encode response", "error", err)
	}
}
