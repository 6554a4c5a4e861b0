package api

import (
	"net/http"
	"strings"

	"github.com/safetymap/safetymap/internal/auth"
)

// SetupRoutes configures all API routes
func SetupRoutes(mux *http.ServeMux, handler *Handler, gate *auth.Gate) {
	adminOnly := func(h http.HandlerFunc) http.Handler {
		return gate.Middleware(h)
	}

	// Authentication route (public)
	mux.HandleFunc("/api/auth/login", handler.LoginHandler)

	// Report routes (read and submit are public; moderation is admin only)
	mux.HandleFunc("/api/reports", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions {
			preflight(w, "GET, POST, OPTIONS")
			return
		}
		switch r.Method {
		case http.MethodGet:
			handler.GetReportsHandler(w, r)
		case http.MethodPost:
			handler.CreateReportHandler(w, r)
		default:
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		}
	})

	// Realtime report feed (SSE); the exact path wins over /api/reports/.
	mux.HandleFunc("/api/reports/stream", handler.StreamHandler)

	mux.HandleFunc("/api/reports/", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions {
			preflight(w, "PATCH, OPTIONS")
			return
		}
		if strings.HasSuffix(r.URL.Path, "/status") {
			adminOnly(handler.UpdateStatusHandler).ServeHTTP(w, r)
			return
		}
		http.NotFound(w, r)
	})

	// Situation analysis route (public)
	mux.HandleFunc("/api/analyze", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions {
			preflight(w, "POST, OPTIONS")
			return
		}
		handler.AnalyzeHandler(w, r)
	})

	// Admin routes
	mux.HandleFunc("/api/admin/scan", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions {
			preflight(w, "POST, OPTIONS")
			return
		}
		adminOnly(handler.ScanHandler).ServeHTTP(w, r)
	})

	mux.HandleFunc("/api/admin/cleanup", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions {
			preflight(w, "POST, OPTIONS")
			return
		}
		adminOnly(handler.CleanupHandler).ServeHTTP(w, r)
	})

	// Health route
	mux.HandleFunc("/healthz", handler.HealthHandler)

	// CORS preflight fallback
	mux.HandleFunc("/api/", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions {
			preflight(w, "GET, POST, PATCH, DELETE, OPTIONS")
			return
		}
		http.NotFound(w, r)
	})
}

func preflight(w http.ResponseWriter, methods string) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", methods)
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
	w.WriteHeader(http.StatusOK)
}
