package handlers

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/NEXTmarketingSTUDIO/next-review-booster-sub000/internal/auth"
	"github.com/NEXTmarketingSTUDIO/next-review-booster-sub000/internal/db"
	"github.com/NEXTmarketingSTUDIO/next-review-booster-sub000/internal/quota"
)

type userWithUsage struct {
	db.User
	Usage quota.Usage `json:"sms_usage"`
}

// ListUsers handles GET /api/v1/admin/users.
func (h *Handler) ListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := auth.ListUsers(r.Context(), h.db)
	if err != nil {
		failErr(w, "ListUsers", err)
		return
	}
	out := make([]userWithUsage, 0, len(users))
	for _, u := range users {
		usage, err := h.quota.Usage(r.Context(), u.ID)
		if err != nil {
			failErr(w, "ListUsers", err)
			return
		}
		out = append(out, userWithUsage{User: u, Usage: usage})
	}
	ok(w, out)
}

// CreateUser handles POST /api/v1/admin/users. The username is derived from
// display_name or email when omitted.
func (h *Handler) CreateUser(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username    string `json:"username"`
		DisplayName string `json:"display_name"`
		Email       string `json:"email"`
		Password    string `json:"password"`
		Permission  string `json:"permission"`
	}
	if err := decode(r, &req); err != nil {
		fail(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	perm := auth.Demo
	if req.Permission != "" {
		p, err := auth.LookupPermission(req.Permission)
		if err != nil {
			failErr(w, "CreateUser", err)
			return
		}
		perm = p
	}
	username := strings.TrimSpace(req.Username)
	if username == "" {
		username = auth.GenerateUsername(req.DisplayName, req.Email)
	}
	u, err := auth.CreateUser(r.Context(), h.db, username, strings.TrimSpace(req.Email), req.Password, perm)
	if err != nil {
		failErr(w, "CreateUser", err)
		return
	}
	admin := currentUser(r)
	h.db.WriteLog(&admin.ID, "info", fmt.Sprintf("Created user %s (%s)", u.Username, u.Permission))
	created(w, u)
}

// UpdatePermission handles PUT /api/v1/admin/users/{id}/permission.
func (h *Handler) UpdatePermission(w http.ResponseWriter, r *http.Request) {
	id, valid := intPathID(r, "id")
	if !valid {
		fail(w, http.StatusBadRequest, "invalid id")
		return
	}
	var req struct {
		Permission string `json:"permission"`
	}
	if err := decode(r, &req); err != nil {
		fail(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	perm, err := auth.LookupPermission(req.Permission)
	if err != nil {
		failErr(w, "UpdatePermission", err)
		return
	}
	if err := h.perms.Set(r.Context(), id, perm); err != nil {
		failErr(w, "UpdatePermission", err)
		return
	}
	admin := currentUser(r)
	h.db.WriteLog(&admin.ID, "info", fmt.Sprintf("User %d permission set to %s", id, perm))
	u, err := auth.GetUser(r.Context(), h.db, id)
	if err != nil {
		failErr(w, "UpdatePermission", err)
		return
	}
	ok(w, u)
}

// DeleteUser handles DELETE /api/v1/admin/users/{id}. Admins cannot delete
// their own account.
func (h *Handler) DeleteUser(w http.ResponseWriter, r *http.Request) {
	id, valid := intPathID(r, "id")
	if !valid {
		fail(w, http.StatusBadRequest, "invalid id")
		return
	}
	admin := currentUser(r)
	if id == admin.ID {
		fail(w, http.StatusConflict, "cannot delete your own account")
		return
	}
	if err := h.perms.Delete(r.Context(), id); err != nil {
		failErr(w, "DeleteUser", err)
		return
	}
	if h.notes != nil {
		h.notes.Forget(id)
	}
	if h.quota != nil {
		h.quota.Forget(id)
	}
	h.db.WriteLog(&admin.ID, "info", fmt.Sprintf("Deleted user %d", id))
	ok(w, map[string]int{"deleted": id})
}

// UpdateUserTwilio handles PUT /api/v1/admin/users/{id}/twilio. An empty
// auth_token keeps the stored one.
func (h *Handler) UpdateUserTwilio(w http.ResponseWriter, r *http.Request) {
	id, valid := intPathID(r, "id")
	if !valid {
		fail(w, http.StatusBadRequest, "invalid id")
		return
	}
	var req struct {
		AccountSID          string `json:"account_sid"`
		AuthToken           string `json:"auth_token"`
		PhoneNumber         string `json:"phone_number"`
		MessagingServiceSID string `json:"messaging_service_sid"`
	}
	if err := decode(r, &req); err != nil {
		fail(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if strings.TrimSpace(req.AccountSID) == "" {
		fail(w, http.StatusBadRequest, "account_sid is required")
		return
	}
	if req.PhoneNumber == "" && req.MessagingServiceSID == "" {
		fail(w, http.StatusBadRequest, "phone_number or messaging_service_sid is required")
		return
	}
	if _, err := auth.GetUser(r.Context(), h.db, id); err != nil {
		failErr(w, "UpdateUserTwilio", err)
		return
	}
	cfg := db.TwilioConfig{
		UserID:              id,
		AccountSID:          strings.TrimSpace(req.AccountSID),
		AuthToken:           strings.TrimSpace(req.AuthToken),
		PhoneNumber:         strings.TrimSpace(req.PhoneNumber),
		MessagingServiceSID: strings.TrimSpace(req.MessagingServiceSID),
	}
	if err := h.settings.PutTwilio(r.Context(), cfg); err != nil {
		failErr(w, "UpdateUserTwilio", err)
		return
	}
	saved, configured, err := h.settings.Twilio(r.Context(), id)
	if err != nil {
		failErr(w, "UpdateUserTwilio", err)
		return
	}
	admin := currentUser(r)
	h.db.WriteLog(&admin.ID, "info", fmt.Sprintf("Twilio credentials updated for user %d", id))
	ok(w, map[string]interface{}{"configured": configured, "config": saved})
}

// UserStatistics handles GET /api/v1/admin/users/{id}/statistics.
func (h *Handler) UserStatistics(w http.ResponseWriter, r *http.Request) {
	id, valid := intPathID(r, "id")
	if !valid {
		fail(w, http.StatusBadRequest, "invalid id")
		return
	}
	u, err := auth.GetUser(r.Context(), h.db, id)
	if err != nil {
		failErr(w, "UserStatistics", err)
		return
	}
	stats, err := h.clients.Statistics(r.Context(), id, timeNow())
	if err != nil {
		failErr(w, "UserStatistics", err)
		return
	}
	usage, err := h.quota.Usage(r.Context(), id)
	if err != nil {
		failErr(w, "UserStatistics", err)
		return
	}
	ok(w, map[string]interface{}{"user": u, "statistics": stats, "sms_usage": usage})
}

// CostReport handles GET /api/v1/admin/cost-report.
func (h *Handler) CostReport(w http.ResponseWriter, r *http.Request) {
	if h.reports == nil {
		fail(w, http.StatusServiceUnavailable, "reports not initialized")
		return
	}
	rep, err := h.reports.Build(r.Context())
	if err != nil {
		failErr(w, "CostReport", err)
		return
	}
	ok(w, rep)
}

// RetryOutbox handles POST /api/v1/admin/outbox/{id}/retry. Failed items
// go back to pending; deferred pending items are released immediately.
func (h *Handler) RetryOutbox(w http.ResponseWriter, r *http.Request) {
	if h.queue == nil {
		fail(w, http.StatusServiceUnavailable, "outbox not initialized")
		return
	}
	id, valid := intPathID(r, "id")
	if !valid {
		fail(w, http.StatusBadRequest, "invalid id")
		return
	}
	err := h.queue.Wake(r.Context(), id)
	if err != nil {
		err = h.queue.Retry(r.Context(), id)
	}
	if err != nil {
		failErr(w, "RetryOutbox", err)
		return
	}
	ok(w, map[string]string{"message": "requeued"})
}

// PauseWorkers handles POST /api/v1/admin/workers/pause.
func (h *Handler) PauseWorkers(w http.ResponseWriter, r *http.Request) {
	if h.pool == nil {
		fail(w, http.StatusServiceUnavailable, "workers not initialized")
		return
	}
	h.pool.Pause()
	ok(w, map[string]bool{"paused": true})
}

// ResumeWorkers handles POST /api/v1/admin/workers/resume.
func (h *Handler) ResumeWorkers(w http.ResponseWriter, r *http.Request) {
	if h.pool == nil {
		fail(w, http.StatusServiceUnavailable, "workers not initialized")
		return
	}
	h.pool.Resume()
	ok(w, map[string]bool{"paused": false})
}

// ListJobs handles GET /api/v1/admin/jobs.
func (h *Handler) ListJobs(w http.ResponseWriter, r *http.Request) {
	if h.scheduler == nil {
		ok(w, []struct{}{})
		return
	}
	ok(w, h.scheduler.Jobs())
}
