package handlers

import (
	"fmt"
	"net/http"

	"github.com/NEXTmarketingSTUDIO/next-review-booster-sub000/internal/clients"
)

// ListClients handles GET /api/v1/clients.
// Query params: review_status, sms_status, rating, search, sort, limit, page.
func (h *Handler) ListClients(w http.ResponseWriter, r *http.Request) {
	user := currentUser(r)
	q := r.URL.Query()
	limit, pg, offset := page(r, 50, 500)

	list, total, err := h.clients.List(r.Context(), user.ID, clients.Filter{
		ReviewStatus: q.Get("review_status"),
		SMSStatus:    q.Get("sms_status"),
		Rating:       q.Get("rating"),
		Search:       q.Get("search"),
		Sort:         q.Get("sort"),
		Limit:        limit,
		Offset:       offset,
	})
	if err != nil {
		failErr(w, "ListClients", err)
		return
	}
	okPaginated(w, list, total, pg, limit)
}

// CreateClient handles POST /api/v1/clients.
func (h *Handler) CreateClient(w http.ResponseWriter, r *http.Request) {
	user := currentUser(r)
	var in clients.Input
	if err := decode(r, &in); err != nil {
		fail(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	c, err := h.clients.Create(r.Context(), user.ID, in)
	if err != nil {
		failErr(w, "CreateClient", err)
		return
	}
	h.db.WriteLog(&user.ID, "info", fmt.Sprintf("Client %d added", c.ID))
	created(w, c)
}

// GetClient handles GET /api/v1/clients/{id}.
func (h *Handler) GetClient(w http.ResponseWriter, r *http.Request) {
	id, valid := intPathID(r, "id")
	if !valid {
		fail(w, http.StatusBadRequest, "invalid id")
		return
	}
	c, err := h.clients.Get(r.Context(), currentUser(r).ID, id)
	if err != nil {
		failErr(w, "GetClient", err)
		return
	}
	ok(w, c)
}

// UpdateClient handles PUT /api/v1/clients/{id}. Only fields present in the
// body change.
func (h *Handler) UpdateClient(w http.ResponseWriter, r *http.Request) {
	id, valid := intPathID(r, "id")
	if !valid {
		fail(w, http.StatusBadRequest, "invalid id")
		return
	}
	var p clients.Patch
	if err := decode(r, &p); err != nil {
		fail(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	c, err := h.clients.Update(r.Context(), currentUser(r).ID, id, p)
	if err != nil {
		failErr(w, "UpdateClient", err)
		return
	}
	ok(w, c)
}

// DeleteClient handles DELETE /api/v1/clients/{id}.
func (h *Handler) DeleteClient(w http.ResponseWriter, r *http.Request) {
	id, valid := intPathID(r, "id")
	if !valid {
		fail(w, http.StatusBadRequest, "invalid id")
		return
	}
	user := currentUser(r)
	if err := h.clients.Delete(r.Context(), user.ID, id); err != nil {
		failErr(w, "DeleteClient", err)
		return
	}
	h.db.WriteLog(&user.ID, "info", fmt.Sprintf("Client %d deleted", id))
	ok(w, map[string]string{"message": "deleted"})
}

// Statistics handles GET /api/v1/statistics.
func (h *Handler) Statistics(w http.ResponseWriter, r *http.Request) {
	st, err := h.clients.Statistics(r.Context(), currentUser(r).ID, timeNow())
	if err != nil {
		failErr(w, "Statistics", err)
		return
	}
	ok(w, st)
}
