package handlers

import "net/http"

// ListNotifications handles GET /api/v1/notifications.
// Query params: unread_only, limit, page.
func (h *Handler) ListNotifications(w http.ResponseWriter, r *http.Request) {
	limit, pg, offset := page(r, 20, 100)
	unreadOnly := r.URL.Query().Get("unread_only") == "true"
	list, total, err := h.notes.List(r.Context(), currentUser(r).ID, unreadOnly, limit, offset)
	if err != nil {
		failErr(w, "ListNotifications", err)
		return
	}
	okPaginated(w, list, total, pg, limit)
}

// UnreadNotifications handles GET /api/v1/notifications/unread-count.
func (h *Handler) UnreadNotifications(w http.ResponseWriter, r *http.Request) {
	n, err := h.notes.UnreadCount(r.Context(), currentUser(r).ID)
	if err != nil {
		failErr(w, "UnreadNotifications", err)
		return
	}
	ok(w, map[string]int{"unread_count": n})
}

// MarkNotificationRead handles POST /api/v1/notifications/{id}/read.
func (h *Handler) MarkNotificationRead(w http.ResponseWriter, r *http.Request) {
	id, valid := intPathID(r, "id")
	if !valid {
		fail(w, http.StatusBadRequest, "invalid id")
		return
	}
	if err := h.notes.MarkRead(r.Context(), currentUser(r).ID, id); err != nil {
		failErr(w, "MarkNotificationRead", err)
		return
	}
	ok(w, map[string]string{"message": "marked as read"})
}

// MarkAllNotificationsRead handles POST /api/v1/notifications/read-all.
func (h *Handler) MarkAllNotificationsRead(w http.ResponseWriter, r *http.Request) {
	if err := h.notes.MarkAllRead(r.Context(), currentUser(r).ID); err != nil {
		failErr(w, "MarkAllNotificationsRead", err)
		return
	}
	ok(w, map[string]string{"message": "all marked as read"})
}

// DeleteNotification handles DELETE /api/v1/notifications/{id}.
func (h *Handler) DeleteNotification(w http.ResponseWriter, r *http.Request) {
	id, valid := intPathID(r, "id")
	if !valid {
		fail(w, http.StatusBadRequest, "invalid id")
		return
	}
	if err := h.notes.Delete(r.Context(), currentUser(r).ID, id); err != nil {
		failErr(w, "DeleteNotification", err)
		return
	}
	ok(w, map[string]string{"message": "deleted"})
}

// DeleteAllNotifications handles DELETE /api/v1/notifications.
func (h *Handler) DeleteAllNotifications(w http.ResponseWriter, r *http.Request) {
	if err := h.notes.DeleteAll(r.Context(), currentUser(r).ID); err != nil {
		failErr(w, "DeleteAllNotifications", err)
		return
	}
	ok(w, map[string]string{"message": "deleted"})
}
