package handlers

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/NEXTmarketingSTUDIO/next-review-booster-sub000/internal/queue"
)

// SendSMS handles POST /api/v1/clients/{id}/sms.
func (h *Handler) SendSMS(w http.ResponseWriter, r *http.Request) {
	id, valid := intPathID(r, "id")
	if !valid {
		fail(w, http.StatusBadRequest, "invalid id")
		return
	}
	res, err := h.sms.SendToClient(r.Context(), currentUser(r).ID, id)
	if err != nil {
		failErr(w, "SendSMS", err)
		return
	}
	ok(w, res)
}

// SendAllSMS handles POST /api/v1/clients/sms/all.
func (h *Handler) SendAllSMS(w http.ResponseWriter, r *http.Request) {
	user := currentUser(r)
	res, err := h.sms.SendToAll(r.Context(), user.ID)
	if err != nil {
		failErr(w, "SendAllSMS", err)
		return
	}
	h.db.WriteLog(&user.ID, "info", fmt.Sprintf("Bulk SMS: %d of %d sent", res.Sent, res.TotalFound))
	ok(w, res)
}

// QueueSMS handles POST /api/v1/clients/{id}/sms/queue. The send is handed
// to the outbox workers; queuing the same pending request twice is a no-op.
func (h *Handler) QueueSMS(w http.ResponseWriter, r *http.Request) {
	if h.queue == nil {
		fail(w, http.StatusServiceUnavailable, "outbox not initialized")
		return
	}
	id, valid := intPathID(r, "id")
	if !valid {
		fail(w, http.StatusBadRequest, "invalid id")
		return
	}
	user := currentUser(r)
	c, err := h.clients.Get(r.Context(), user.ID, id)
	if err != nil {
		failErr(w, "QueueSMS", err)
		return
	}
	itemID, isNew, err := h.queue.Enqueue(r.Context(), user.ID, c.ID, queue.ReminderKey(c.ID, c.SMSCount))
	if err != nil {
		failErr(w, "QueueSMS", err)
		return
	}
	ok(w, map[string]interface{}{"id": itemID, "created": isNew})
}

// SMSHistory handles GET /api/v1/sms/history.
func (h *Handler) SMSHistory(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	list, err := h.sms.History(r.Context(), currentUser(r).ID, limit)
	if err != nil {
		failErr(w, "SMSHistory", err)
		return
	}
	ok(w, list)
}

// ListOutbox handles GET /api/v1/sms/outbox. Admins see every account.
// Query params: status, limit.
func (h *Handler) ListOutbox(w http.ResponseWriter, r *http.Request) {
	if h.queue == nil {
		fail(w, http.StatusServiceUnavailable, "outbox not initialized")
		return
	}
	user := currentUser(r)
	userID := user.ID
	if isAdmin(user) {
		userID = 0
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	items, err := h.queue.List(r.Context(), userID, r.URL.Query().Get("status"), limit)
	if err != nil {
		failErr(w, "ListOutbox", err)
		return
	}
	ok(w, items)
}

// Usage handles GET /api/v1/usage: this month's SMS count against the
// account's tier limit.
func (h *Handler) Usage(w http.ResponseWriter, r *http.Request) {
	u, err := h.quota.Usage(r.Context(), currentUser(r).ID)
	if err != nil {
		failErr(w, "Usage", err)
		return
	}
	ok(w, u)
}
