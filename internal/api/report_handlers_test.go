package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/safetymap/safetymap/internal/auth"
	"github.com/safetymap/safetymap/internal/intel"
	"github.com/safetymap/safetymap/internal/models"
	"github.com/safetymap/safetymap/internal/syncer"
)

type fakeService struct {
	reports    []models.Report
	listErr    error
	added      []models.Report
	statusSets map[string]models.Status
	synced     [][]models.Report
	cleanupN   int
	state      syncer.BindState
}

func newFakeService() *fakeService {
	return &fakeService{statusSets: map[string]models.Status{}, state: syncer.StateBoundRemote}
}

func (f *fakeService) ListReports(ctx context.Context) ([]models.Report, error) {
	return f.reports, f.listErr
}

func (f *fakeService) AddReport(ctx context.Context, report models.Report) error {
	f.added = append(f.added, report)
	return nil
}

func (f *fakeService) UpdateStatus(ctx context.Context, id string, status models.Status) error {
	f.statusSets[id] = status
	return nil
}

func (f *fakeService) SyncThreats(ctx context.Context, candidates []models.Report) error {
	f.synced = append(f.synced, candidates)
	return nil
}

func (f *fakeService) RunBulkCleanup(ctx context.Context) int { return f.cleanupN }

func (f *fakeService) State() syncer.BindState { return f.state }

type testEnv struct {
	service *fakeService
	intel   *intel.Mock
	gate    *auth.Gate
	stream  *StreamHub
	mux     *http.ServeMux
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	hash, err := auth.HashAccessCode("letmein")
	if err != nil {
		t.Fatalf("HashAccessCode: %v", err)
	}
	gate := auth.NewGate(hash, "test-secret")
	service := newFakeService()
	mock := intel.NewMock()
	stream := NewStreamHub(slog.Default())

	handler := NewHandler(service, mock, mock, gate, stream, slog.Default())
	mux := http.NewServeMux()
	SetupRoutes(mux, handler, gate)

	return &testEnv{service: service, intel: mock, gate: gate, stream: stream, mux: mux}
}

func (e *testEnv) adminToken(t *testing.T) string {
	t.Helper()
	token, err := e.gate.IssueToken()
	if err != nil {
		t.Fatalf("IssueToken: %v", err)
	}
	return token
}

func (e *testEnv) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	e.mux.ServeHTTP(rec, req)
	return rec
}

func jsonBody(t *testing.T, v any) *bytes.Reader {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal body: %v", err)
	}
	return bytes.NewReader(data)
}

func TestGetReports_PublicFiltersPending(t *testing.T) {
	env := newTestEnv(t)
	env.service.reports = []models.Report{
		{ID: "a", Status: models.StatusVerified},
		{ID: "b", Status: models.StatusPending},
		{ID: "c"}, // legacy record, effective status verified
		{ID: "d", Status: models.StatusResolved},
	}

	rec := env.do(httptest.NewRequest(http.MethodGet, "/api/reports", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	var resp ReportsResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp.Count != 3 {
		t.Errorf("count = %d, want 3 (pending hidden)", resp.Count)
	}
	for _, r := range resp.Reports {
		if r.ID == "b" {
			t.Error("pending report visible to public caller")
		}
	}
}

func TestGetReports_AdminSeesAll(t *testing.T) {
	env := newTestEnv(t)
	env.service.reports = []models.Report{
		{ID: "a", Status: models.StatusVerified},
		{ID: "b", Status: models.StatusPending},
	}

	req := httptest.NewRequest(http.MethodGet, "/api/reports", nil)
	req.Header.Set("Authorization", "Bearer "+env.adminToken(t))
	rec := env.do(req)

	var resp ReportsResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp.Count != 2 {
		t.Errorf("count = %d, want 2 for admin", resp.Count)
	}
}

func TestCreateReport(t *testing.T) {
	t.Run("public submission is pending with manual defaults", func(t *testing.T) {
		env := newTestEnv(t)
		body := jsonBody(t, models.Report{
			Type:     models.TypeCheckpoint,
			Title:    "Checkpoint on A2",
			Position: models.Coordinates{Lat: 10, Lng: 7},
		})

		rec := env.do(httptest.NewRequest(http.MethodPost, "/api/reports", body))
		if rec.Code != http.StatusCreated {
			t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
		}
		if len(env.service.added) != 1 {
			t.Fatalf("added %d reports", len(env.service.added))
		}

		got := env.service.added[0]
		if got.Status != models.StatusPending {
			t.Errorf("status = %q, want pending", got.Status)
		}
		if got.Severity != models.SeverityMedium {
			t.Errorf("severity = %q, want medium default", got.Severity)
		}
		if got.DataConfidence != "Manual Input" {
			t.Errorf("dataConfidence = %q", got.DataConfidence)
		}
		if got.Radius != 2000 {
			t.Errorf("radius = %v, want 2000 default", got.Radius)
		}
		if got.Timestamp == 0 {
			t.Error("timestamp not defaulted")
		}
	})

	t.Run("insurgent activity defaults to critical", func(t *testing.T) {
		env := newTestEnv(t)
		body := jsonBody(t, models.Report{
			Type:     models.TypeInsurgentActivity,
			Title:    "Movement near ridge",
			Position: models.Coordinates{Lat: 11, Lng: 13},
		})

		env.do(httptest.NewRequest(http.MethodPost, "/api/reports", body))
		if got := env.service.added[0].Severity; got != models.SeverityCritical {
			t.Errorf("severity = %q, want critical", got)
		}
	})

	t.Run("admin submission is verified", func(t *testing.T) {
		env := newTestEnv(t)
		body := jsonBody(t, models.Report{
			Type:     models.TypeGathering,
			Title:    "Large gathering",
			Position: models.Coordinates{Lat: 9, Lng: 8},
		})

		req := httptest.NewRequest(http.MethodPost, "/api/reports", body)
		req.Header.Set("Authorization", "Bearer "+env.adminToken(t))
		env.do(req)

		if got := env.service.added[0].Status; got != models.StatusVerified {
			t.Errorf("status = %q, want verified", got)
		}
	})

	t.Run("rejects invalid submissions", func(t *testing.T) {
		env := newTestEnv(t)
		cases := []models.Report{
			{Type: "earthquake", Title: "x", Position: models.Coordinates{Lat: 1, Lng: 1}},
			{Type: models.TypeCheckpoint, Title: "  ", Position: models.Coordinates{Lat: 1, Lng: 1}},
			{Type: models.TypeCheckpoint, Title: "x"},
			{Type: models.TypeCheckpoint, Title: "x", Position: models.Coordinates{Lat: 1, Lng: 1}, Radius: -5},
		}

		for _, c := range cases {
			rec := env.do(httptest.NewRequest(http.MethodPost, "/api/reports", jsonBody(t, c)))
			if rec.Code != http.StatusBadRequest {
				t.Errorf("report %+v: status = %d, want 400", c, rec.Code)
			}
		}
		if len(env.service.added) != 0 {
			t.Errorf("invalid reports reached the service: %d", len(env.service.added))
		}
	})
}

func TestUpdateStatus(t *testing.T) {
	env := newTestEnv(t)
	token := env.adminToken(t)

	t.Run("requires auth", func(t *testing.T) {
		body := jsonBody(t, map[string]string{"status": "verified"})
		rec := env.do(httptest.NewRequest(http.MethodPatch, "/api/reports/r-1/status", body))
		if rec.Code != http.StatusUnauthorized {
			t.Errorf("status = %d, want 401", rec.Code)
		}
	})

	t.Run("patches status", func(t *testing.T) {
		body := jsonBody(t, map[string]string{"status": "dismissed"})
		req := httptest.NewRequest(http.MethodPatch, "/api/reports/r-1/status", body)
		req.Header.Set("Authorization", "Bearer "+token)

		rec := env.do(req)
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
		}
		if env.service.statusSets["r-1"] != models.StatusDismissed {
			t.Errorf("service saw status %q", env.service.statusSets["r-1"])
		}
	})

	t.Run("rejects unknown status", func(t *testing.T) {
		body := jsonBody(t, map[string]string{"status": "archived"})
		req := httptest.NewRequest(http.MethodPatch, "/api/reports/r-1/status", body)
		req.Header.Set("Authorization", "Bearer "+token)

		rec := env.do(req)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("status = %d, want 400", rec.Code)
		}
	})
}

func TestScanHandler(t *testing.T) {
	env := newTestEnv(t)
	env.intel.ScanResults = []models.Report{
		{Type: models.TypeSuspectedKidnapping, Title: "Abduction", Position: models.Coordinates{Lat: 10, Lng: 7}, Timestamp: time.Now().UnixMilli()},
	}

	req := httptest.NewRequest(http.MethodPost, "/api/admin/scan", nil)
	req.Header.Set("Authorization", "Bearer "+env.adminToken(t))
	rec := env.do(req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	if len(env.service.synced) != 1 || len(env.service.synced[0]) != 1 {
		t.Errorf("synced batches = %v", env.service.synced)
	}

	var resp map[string]int
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp["candidates"] != 1 {
		t.Errorf("candidates = %d, want 1", resp["candidates"])
	}
}

func TestScanHandler_ScanFailure(t *testing.T) {
	env := newTestEnv(t)
	env.intel.ScanErr = errors.New("model offline")

	req := httptest.NewRequest(http.MethodPost, "/api/admin/scan", nil)
	req.Header.Set("Authorization", "Bearer "+env.adminToken(t))
	rec := env.do(req)

	if rec.Code != http.StatusBadGateway {
		t.Errorf("status = %d, want 502", rec.Code)
	}
	if len(env.service.synced) != 0 {
		t.Error("failed scan still reached the service")
	}
}

func TestCleanupHandler(t *testing.T) {
	env := newTestEnv(t)
	env.service.cleanupN = 3

	req := httptest.NewRequest(http.MethodPost, "/api/admin/cleanup", nil)
	req.Header.Set("Authorization", "Bearer "+env.adminToken(t))
	rec := env.do(req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	var resp map[string]int
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp["removed"] != 3 {
		t.Errorf("removed = %d, want 3", resp["removed"])
	}
}

func TestAnalyzeHandler(t *testing.T) {
	env := newTestEnv(t)
	env.intel.Analysis = "Avoid the northern route after dark."
	env.service.reports = []models.Report{{ID: "a", Status: models.StatusVerified}}

	body := jsonBody(t, map[string]string{"query": "Is the north safe?"})
	rec := env.do(httptest.NewRequest(http.MethodPost, "/api/analyze", body))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	var resp map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp["analysis"] != env.intel.Analysis {
		t.Errorf("analysis = %q", resp["analysis"])
	}
}

func TestAnalyzeHandler_EmptyQuery(t *testing.T) {
	env := newTestEnv(t)

	body := jsonBody(t, map[string]string{"query": "   "})
	rec := env.do(httptest.NewRequest(http.MethodPost, "/api/analyze", body))

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestLoginHandler(t *testing.T) {
	env := newTestEnv(t)

	t.Run("correct code", func(t *testing.T) {
		body := jsonBody(t, map[string]string{"accessCode": "letmein"})
		rec := env.do(httptest.NewRequest(http.MethodPost, "/api/auth/login", body))

		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d", rec.Code)
		}

		var resp map[string]string
		if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		if _, err := env.gate.ValidateToken(resp["token"]); err != nil {
			t.Errorf("issued token does not validate: %v", err)
		}
	})

	t.Run("wrong code", func(t *testing.T) {
		body := jsonBody(t, map[string]string{"accessCode": "guess"})
		rec := env.do(httptest.NewRequest(http.MethodPost, "/api/auth/login", body))

		if rec.Code != http.StatusUnauthorized {
			t.Errorf("status = %d, want 401", rec.Code)
		}
	})
}

func TestHealthHandler(t *testing.T) {
	env := newTestEnv(t)
	env.service.state = syncer.StateBoundLocal

	rec := env.do(httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	var resp map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp["backend"] != "bound-local" {
		t.Errorf("backend = %q, want bound-local", resp["backend"])
	}
}
