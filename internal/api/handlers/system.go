package handlers

import (
	"net/http"
	"time"
)

var startedAt = time.Now()

// Health handles GET /api/v1/health. Public.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if err := h.db.PingContext(r.Context()); err != nil {
		fail(w, http.StatusServiceUnavailable, "database unavailable")
		return
	}
	ok(w, map[string]string{"status": "ok"})
}

// Status handles GET /api/v1/admin/status.
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	out := map[string]interface{}{
		"uptime_seconds": int(time.Since(startedAt).Seconds()),
		"started_at":     startedAt.UTC().Format(time.RFC3339),
	}
	if h.queue != nil {
		counts, err := h.queue.Counts(r.Context())
		if err != nil {
			failErr(w, "Status", err)
			return
		}
		out["outbox"] = counts
	}
	if h.pool != nil {
		out["workers"] = h.pool.Size()
		out["paused"] = h.pool.Paused()
	}
	if h.hub != nil {
		out["ws_clients"] = h.hub.ClientCount()
	}
	if h.rates != nil {
		out["rate"] = h.rates.Current(r.Context())
	}
	ok(w, out)
}

// ServeWS handles GET /ws. Events are filtered to the caller's account;
// admins receive every account's events.
func (h *Handler) ServeWS(w http.ResponseWriter, r *http.Request) {
	if h.hub == nil {
		fail(w, http.StatusServiceUnavailable, "websocket hub not initialized")
		return
	}
	user := currentUser(r)
	h.hub.ServeWS(w, r, user.ID, isAdmin(user))
}
