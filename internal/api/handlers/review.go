package handlers

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/NEXTmarketingSTUDIO/next-review-booster-sub000/internal/notify"
	"github.com/NEXTmarketingSTUDIO/next-review-booster-sub000/internal/ws"
)

// GetReviewForm handles GET /api/v1/review/{code}. Public.
func (h *Handler) GetReviewForm(w http.ResponseWriter, r *http.Request) {
	form, err := h.clients.LookupReview(r.Context(), pathID(r, "code"))
	if err != nil {
		failErr(w, "GetReviewForm", err)
		return
	}
	if form.FirstOpen && h.notify != nil {
		h.notify.Notify(r.Context(), notify.Event{
			UserID:   form.UserID,
			Type:     ws.TypeReviewOpened,
			ClientID: form.ClientID,
		})
	}
	ok(w, form)
}

// SubmitReview handles POST /api/v1/review/{code}. Public.
func (h *Handler) SubmitReview(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Stars  int    `json:"stars"`
		Review string `json:"review"`
	}
	if err := decode(r, &req); err != nil {
		fail(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	c, err := h.clients.SubmitReview(r.Context(), pathID(r, "code"), req.Stars, req.Review)
	if err != nil {
		failErr(w, "SubmitReview", err)
		return
	}

	name := strings.TrimSpace(c.Name + " " + c.Surname)
	h.db.WriteLog(&c.UserID, "info", fmt.Sprintf("Review from client %d: %d stars", c.ID, c.Stars))
	if h.notify != nil {
		level := notify.LevelSuccess
		if c.Stars <= 3 {
			level = notify.LevelWarning
		}
		h.notify.Notify(r.Context(), notify.Event{
			UserID:   c.UserID,
			Type:     ws.TypeReviewCompleted,
			ClientID: c.ID,
			Data:     map[string]interface{}{"stars": c.Stars, "review": c.Review, "client_name": name},
			Title:    "Nowa opinia",
			Message:  fmt.Sprintf("%s ocenił(a) Twoją firmę na %d/5.", name, c.Stars),
			Level:    level,
		})
	}
	ok(w, map[string]interface{}{
		"message":      "Dziękujemy za opinię!",
		"stars":        c.Stars,
		"review_code":  c.ReviewCode,
		"review_saved": true,
	})
}
