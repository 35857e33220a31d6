package handlers

import (
	"net/http"

	"github.com/NEXTmarketingSTUDIO/next-review-booster-sub000/internal/smscost"
	"github.com/NEXTmarketingSTUDIO/next-review-booster-sub000/internal/ws"
)

type estimateRequest struct {
	Template    string `json:"template"`
	CompanyName string `json:"company_name"`
	Link        string `json:"link"`
	Count       int    `json:"count"`
	// ExchangeRate overrides the live rate when positive.
	ExchangeRate float64 `json:"exchange_rate"`
}

// Estimate handles POST /api/v1/estimate. Count defaults to one message and
// Link to the sample review link. Without a company name the [NAZWA_FIRMY]
// token stays in the message and counts at its own length.
func (h *Handler) Estimate(w http.ResponseWriter, r *http.Request) {
	var req estimateRequest
	if err := decode(r, &req); err != nil {
		fail(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.Count < 0 {
		fail(w, http.StatusBadRequest, "count must not be negative")
		return
	}
	if req.Count == 0 {
		req.Count = 1
	}
	if req.Link == "" {
		req.Link = h.pricing.SampleLink
	}
	rate := req.ExchangeRate
	if rate <= 0 {
		rate = h.rate(r.Context())
	}
	est := h.estimator.Quote(req.Template, smscost.RenderContext{
		LinkValue:   req.Link,
		CompanyName: req.CompanyName,
	}, req.Count, rate)
	ok(w, est)
}

// GetRate handles GET /api/v1/rate.
func (h *Handler) GetRate(w http.ResponseWriter, r *http.Request) {
	if h.rates == nil {
		fail(w, http.StatusServiceUnavailable, "exchange rates not initialized")
		return
	}
	ok(w, h.rates.Current(r.Context()))
}

// RefreshRate handles POST /api/v1/admin/rate/refresh.
func (h *Handler) RefreshRate(w http.ResponseWriter, r *http.Request) {
	if h.rates == nil {
		fail(w, http.StatusServiceUnavailable, "exchange rates not initialized")
		return
	}
	rate := h.rates.Refresh(r.Context())
	if h.hub != nil && !rate.Fallback {
		h.hub.Broadcast(ws.WSMessage{Type: ws.TypeRateUpdated, UserID: currentUser(r).ID, Data: rate})
	}
	ok(w, rate)
}
