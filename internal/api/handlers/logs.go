package handlers

import (
	"net/http"
	"strconv"
)

// ListLogs handles GET /api/v1/logs. Accounts see their own lines; admins
// see everything unless they pass user_id.
// Query params: level, user_id, limit, page.
func (h *Handler) ListLogs(w http.ResponseWriter, r *http.Request) {
	limit, pg, offset := page(r, 100, 500)
	user := currentUser(r)

	var scope *int
	if !isAdmin(user) {
		scope = &user.ID
	} else if v, err := strconv.Atoi(r.URL.Query().Get("user_id")); err == nil && v > 0 {
		scope = &v
	}

	logs, total, err := h.db.ListLogs(r.Context(), scope, r.URL.Query().Get("level"), limit, offset)
	if err != nil {
		failErr(w, "ListLogs", err)
		return
	}
	okPaginated(w, logs, total, pg, limit)
}
