package api

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/safetymap/safetymap/internal/models"
)

// streamEvent is one push to connected stream clients. Each event carries
// a complete snapshot, so a dropped intermediate event costs nothing.
type streamEvent struct {
	reports     []models.Report
	hasReports  bool
	lastUpdated int64
	hasTS       bool
}

// StreamHub fans the coordinator's single subscription out to any number
// of connected stream clients. It implements the store callback pair, so
// the composition root wires it with one Coordinator.Subscribe call; new
// clients get the latest snapshot replayed on connect.
type StreamHub struct {
	logger *slog.Logger

	mu          sync.Mutex
	clients     map[chan streamEvent]struct{}
	reports     []models.Report
	hasSnapshot bool
	lastUpdated int64
}

func NewStreamHub(logger *slog.Logger) *StreamHub {
	return &StreamHub{
		logger:  logger,
		clients: make(map[chan streamEvent]struct{}),
	}
}

// OnReports satisfies store.ReportsFunc.
func (h *StreamHub) OnReports(reports []models.Report) {
	snapshot := append([]models.Report(nil), reports...)

	h.mu.Lock()
	h.reports = snapshot
	h.hasSnapshot = true
	h.mu.Unlock()

	h.push(streamEvent{reports: snapshot, hasReports: true})
}

// OnLastUpdated satisfies store.LastUpdatedFunc.
func (h *StreamHub) OnLastUpdated(ts int64) {
	h.mu.Lock()
	h.lastUpdated = ts
	h.mu.Unlock()

	h.push(streamEvent{lastUpdated: ts, hasTS: true})
}

// push delivers without blocking: a client that cannot keep up misses
// intermediate events and catches up on the next full snapshot.
func (h *StreamHub) push(ev streamEvent) {
	h.mu.Lock()
	clients := make([]chan streamEvent, 0, len(h.clients))
	for ch := range h.clients {
		clients = append(clients, ch)
	}
	h.mu.Unlock()

	for _, ch := range clients {
		select {
		case ch <- ev:
		default:
			h.logger.Debug("stream client lagging, event dropped")
		}
	}
}

// register adds a client and returns its event channel, the latest
// snapshot to replay (nil before the first delivery), and a removal func.
// The channel is never closed; clients stop on their request context.
func (h *StreamHub) register() (chan streamEvent, *streamEvent, func()) {
	ch := make(chan streamEvent, 8)

	h.mu.Lock()
	h.clients[ch] = struct{}{}
	var initial *streamEvent
	if h.hasSnapshot {
		initial = &streamEvent{
			reports:     h.reports,
			hasReports:  true,
			lastUpdated: h.lastUpdated,
			hasTS:       true,
		}
	}
	h.mu.Unlock()

	return ch, initial, func() {
		h.mu.Lock()
		delete(h.clients, ch)
		h.mu.Unlock()
	}
}

// StreamHandler handles GET /api/reports/stream: a Server-Sent Events
// feed of report snapshots and last-updated markers. Public clients get
// the moderated view; an admin session streams everything.
func (h *Handler) StreamHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if h.stream == nil {
		http.Error(w, "Streaming unavailable", http.StatusServiceUnavailable)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Access-Control-Allow-Origin", "*")

	admin := h.isAdmin(r)
	ch, initial, unregister := h.stream.register()
	defer unregister()

	if initial != nil {
		if err := h.writeStreamEvent(w, flusher, *initial, admin); err != nil {
			return
		}
	}

	for {
		select {
		case <-r.Context().Done():
			return
		case ev := <-ch:
			if err := h.writeStreamEvent(w, flusher, ev, admin); err != nil {
				return
			}
		}
	}
}

func (h *Handler) writeStreamEvent(w http.ResponseWriter, flusher http.Flusher, ev streamEvent, admin bool) error {
	if ev.hasReports {
		reports := ev.reports
		if !admin {
			reports = publicReports(reports)
		}
		if err := writeSSE(w, "reports", ReportsResponse{Reports: reports, Count: len(reports)}); err != nil {
			return err
		}
	}
	if ev.hasTS {
		if err := writeSSE(w, "lastUpdated", map[string]int64{"lastUpdated": ev.lastUpdated}); err != nil {
			return err
		}
	}
	flusher.Flush()
	return nil
}

func writeSSE(w http.ResponseWriter, event string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data)
	return err
}
