package handlers

import (
	"net/http"
	"strings"

	"github.com/NEXTmarketingSTUDIO/next-review-booster-sub000/internal/webhook"
)

// ListWebhooks handles GET /api/v1/admin/webhooks.
func (h *Handler) ListWebhooks(w http.ResponseWriter, r *http.Request) {
	if h.webhook == nil {
		fail(w, http.StatusServiceUnavailable, "webhook dispatcher not initialized")
		return
	}
	hooks, err := h.webhook.List(r.Context())
	if err != nil {
		failErr(w, "ListWebhooks", err)
		return
	}
	ok(w, hooks)
}

func decodeWebhook(w http.ResponseWriter, r *http.Request) (webhook.Input, bool) {
	var in webhook.Input
	if err := decode(r, &in); err != nil {
		fail(w, http.StatusBadRequest, "invalid JSON")
		return in, false
	}
	in.Name = strings.TrimSpace(in.Name)
	in.URL = strings.TrimSpace(in.URL)
	if in.Name == "" || in.URL == "" {
		fail(w, http.StatusBadRequest, "name and url are required")
		return in, false
	}
	if !strings.HasPrefix(in.URL, "http://") && !strings.HasPrefix(in.URL, "https://") {
		fail(w, http.StatusBadRequest, "url must be http or https")
		return in, false
	}
	return in, true
}

// CreateWebhook handles POST /api/v1/admin/webhooks.
func (h *Handler) CreateWebhook(w http.ResponseWriter, r *http.Request) {
	if h.webhook == nil {
		fail(w, http.StatusServiceUnavailable, "webhook dispatcher not initialized")
		return
	}
	in, valid := decodeWebhook(w, r)
	if !valid {
		return
	}
	id, err := h.webhook.Create(r.Context(), in)
	if err != nil {
		failErr(w, "CreateWebhook", err)
		return
	}
	created(w, map[string]int{"id": id})
}

// GetWebhook handles GET /api/v1/admin/webhooks/{id}.
func (h *Handler) GetWebhook(w http.ResponseWriter, r *http.Request) {
	if h.webhook == nil {
		fail(w, http.StatusServiceUnavailable, "webhook dispatcher not initialized")
		return
	}
	id, valid := intPathID(r, "id")
	if !valid {
		fail(w, http.StatusBadRequest, "invalid id")
		return
	}
	wh, err := h.webhook.Get(r.Context(), id)
	if err != nil {
		failErr(w, "GetWebhook", err)
		return
	}
	ok(w, wh)
}

// UpdateWebhook handles PUT /api/v1/admin/webhooks/{id}.
func (h *Handler) UpdateWebhook(w http.ResponseWriter, r *http.Request) {
	if h.webhook == nil {
		fail(w, http.StatusServiceUnavailable, "webhook dispatcher not initialized")
		return
	}
	id, valid := intPathID(r, "id")
	if !valid {
		fail(w, http.StatusBadRequest, "invalid id")
		return
	}
	in, valid := decodeWebhook(w, r)
	if !valid {
		return
	}
	if err := h.webhook.Update(r.Context(), id, in); err != nil {
		failErr(w, "UpdateWebhook", err)
		return
	}
	ok(w, map[string]string{"message": "updated"})
}

// DeleteWebhook handles DELETE /api/v1/admin/webhooks/{id}.
func (h *Handler) DeleteWebhook(w http.ResponseWriter, r *http.Request) {
	if h.webhook == nil {
		fail(w, http.StatusServiceUnavailable, "webhook dispatcher not initialized")
		return
	}
	id, valid := intPathID(r, "id")
	if !valid {
		fail(w, http.StatusBadRequest, "invalid id")
		return
	}
	if err := h.webhook.Delete(r.Context(), id); err != nil {
		failErr(w, "DeleteWebhook", err)
		return
	}
	ok(w, map[string]string{"message": "deleted"})
}

// TestWebhook handles POST /api/v1/admin/webhooks/{id}/test.
func (h *Handler) TestWebhook(w http.ResponseWriter, r *http.Request) {
	if h.webhook == nil {
		fail(w, http.StatusServiceUnavailable, "webhook dispatcher not initialized")
		return
	}
	id, valid := intPathID(r, "id")
	if !valid {
		fail(w, http.StatusBadRequest, "invalid id")
		return
	}
	if err := h.webhook.TestWebhook(r.Context(), id); err != nil {
		if statusOf(err) == http.StatusNotFound {
			failErr(w, "TestWebhook", err)
			return
		}
		fail(w, http.StatusBadGateway, "test failed: "+err.Error())
		return
	}
	ok(w, map[string]string{"message": "test delivered"})
}
