package handlers

import (
	"context"
	"net/http"
	"strings"

	"github.com/NEXTmarketingSTUDIO/next-review-booster-sub000/internal/db"
)

// GetSettings handles GET /api/v1/settings.
func (h *Handler) GetSettings(w http.ResponseWriter, r *http.Request) {
	as, err := h.settings.Get(r.Context(), currentUser(r).ID)
	if err != nil {
		failErr(w, "GetSettings", err)
		return
	}
	ok(w, as)
}

// PutSettings handles PUT /api/v1/settings. A template that renders past
// the length limit is rejected with 422.
func (h *Handler) PutSettings(w http.ResponseWriter, r *http.Request) {
	user := currentUser(r)
	var as db.AccountSettings
	if err := decode(r, &as); err != nil {
		fail(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	as.UserID = user.ID
	saved, err := h.settings.Put(r.Context(), as)
	if err != nil {
		failErr(w, "PutSettings", err)
		return
	}
	h.db.WriteLog(&user.ID, "info", "Settings updated")
	ok(w, saved)
}

// PreviewTemplate handles POST /api/v1/settings/preview: the live length and
// cost readout of the template editor. An empty company falls back to the
// saved one.
func (h *Handler) PreviewTemplate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Template    string `json:"template"`
		CompanyName string `json:"company_name"`
	}
	if err := decode(r, &req); err != nil {
		fail(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	company := strings.TrimSpace(req.CompanyName)
	if company == "" {
		company = h.settings.CompanyName(r.Context(), currentUser(r).ID)
	}
	ok(w, h.settings.Preview(req.Template, company, h.rate(r.Context())))
}

// GetTwilio handles GET /api/v1/settings/twilio. The auth token is never
// returned.
func (h *Handler) GetTwilio(w http.ResponseWriter, r *http.Request) {
	cfg, configured, err := h.settings.Twilio(r.Context(), currentUser(r).ID)
	if err != nil {
		failErr(w, "GetTwilio", err)
		return
	}
	ok(w, map[string]interface{}{"configured": configured, "config": cfg})
}

// ListSystemSettings handles GET /api/v1/admin/settings.
func (h *Handler) ListSystemSettings(w http.ResponseWriter, r *http.Request) {
	rows, err := h.db.QueryContext(r.Context(), `SELECT key, value FROM settings WHERE key != 'schema_version' ORDER BY key`)
	if err != nil {
		failErr(w, "ListSystemSettings", err)
		return
	}
	defer rows.Close()

	settings := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			continue
		}
		settings[k] = v
	}
	ok(w, settings)
}

// UpdateSystemSetting handles PUT /api/v1/admin/settings/{key}.
func (h *Handler) UpdateSystemSetting(w http.ResponseWriter, r *http.Request) {
	key := pathID(r, "key")
	if key == "" || key == "schema_version" {
		fail(w, http.StatusBadRequest, "invalid key")
		return
	}
	var req struct {
		Value string `json:"value"`
	}
	if err := decode(r, &req); err != nil {
		fail(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if err := h.db.SetSetting(key, req.Value); err != nil {
		failErr(w, "UpdateSystemSetting", err)
		return
	}
	ok(w, map[string]string{"key": key, "value": req.Value})
}

// rate is the current exchange rate, or zero (the estimator's fallback)
// when no provider is wired.
func (h *Handler) rate(ctx context.Context) float64 {
	if h.rates == nil {
		return 0
	}
	return h.rates.Mid(ctx)
}
