package api

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/safetymap/safetymap/internal/models"
)

// serveStream runs the stream route until cancel fires and returns the
// recorded response.
func serveStream(t *testing.T, env *testEnv, prepare func(req *http.Request), during func(cancel context.CancelFunc)) *httptest.ResponseRecorder {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	req := httptest.NewRequest(http.MethodGet, "/api/reports/stream", nil).WithContext(ctx)
	if prepare != nil {
		prepare(req)
	}

	rec := httptest.NewRecorder()
	done := make(chan struct{})
	go func() {
		env.mux.ServeHTTP(rec, req)
		close(done)
	}()

	during(cancel)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("stream handler did not stop on context cancellation")
	}
	return rec
}

func TestStreamHandler_ReplaysSnapshotAndFiltersPending(t *testing.T) {
	env := newTestEnv(t)
	env.stream.OnReports([]models.Report{
		{ID: "a", Status: models.StatusVerified},
		{ID: "b", Status: models.StatusPending},
	})
	env.stream.OnLastUpdated(1234)

	rec := serveStream(t, env, nil, func(cancel context.CancelFunc) {
		cancel()
	})

	if got := rec.Header().Get("Content-Type"); got != "text/event-stream" {
		t.Errorf("Content-Type = %q", got)
	}

	body := rec.Body.String()
	if !strings.Contains(body, "event: reports") {
		t.Error("missing reports event")
	}
	if !strings.Contains(body, `"id":"a"`) {
		t.Error("verified report missing from stream")
	}
	if strings.Contains(body, `"id":"b"`) {
		t.Error("pending report leaked to public stream")
	}
	if !strings.Contains(body, "event: lastUpdated") || !strings.Contains(body, "1234") {
		t.Error("missing lastUpdated event")
	}
}

func TestStreamHandler_AdminStreamsEverything(t *testing.T) {
	env := newTestEnv(t)
	env.stream.OnReports([]models.Report{
		{ID: "a", Status: models.StatusVerified},
		{ID: "b", Status: models.StatusPending},
	})

	token := env.adminToken(t)
	rec := serveStream(t, env,
		func(req *http.Request) { req.Header.Set("Authorization", "Bearer "+token) },
		func(cancel context.CancelFunc) { cancel() },
	)

	if !strings.Contains(rec.Body.String(), `"id":"b"`) {
		t.Error("admin stream missing pending report")
	}
}

func TestStreamHandler_DeliversLiveUpdates(t *testing.T) {
	env := newTestEnv(t)

	rec := serveStream(t, env, nil, func(cancel context.CancelFunc) {
		// Whether this lands before or after registration, the client
		// sees it: late joiners get the snapshot replayed.
		env.stream.OnReports([]models.Report{{ID: "live-1", Status: models.StatusVerified}})
		time.Sleep(50 * time.Millisecond)
		cancel()
	})

	if !strings.Contains(rec.Body.String(), `"id":"live-1"`) {
		t.Error("live report update not delivered")
	}
}

func TestStreamHandler_UnavailableWithoutHub(t *testing.T) {
	env := newTestEnv(t)
	handler := NewHandler(env.service, env.intel, env.intel, env.gate, nil, slog.Default())

	rec := httptest.NewRecorder()
	handler.StreamHandler(rec, httptest.NewRequest(http.MethodGet, "/api/reports/stream", nil))

	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", rec.Code)
	}
}

func TestStreamHubReplayIsLatestSnapshot(t *testing.T) {
	hub := NewStreamHub(slog.Default())
	hub.OnReports([]models.Report{{ID: "old"}})
	hub.OnReports([]models.Report{{ID: "new"}})
	hub.OnLastUpdated(99)

	_, initial, unregister := hub.register()
	defer unregister()

	if initial == nil {
		t.Fatal("no snapshot replayed to late joiner")
	}
	if len(initial.reports) != 1 || initial.reports[0].ID != "new" {
		t.Errorf("replayed snapshot = %+v, want the latest", initial.reports)
	}
	if initial.lastUpdated != 99 {
		t.Errorf("replayed lastUpdated = %d, want 99", initial.lastUpdated)
	}
}
