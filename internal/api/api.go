// Package api sets up the HTTP routes and middleware for the review booster
// REST API.
package api

import (
	"net/http"

	"github.com/NEXTmarketingSTUDIO/next-review-booster-sub000/internal/api/handlers"
	"github.com/NEXTmarketingSTUDIO/next-review-booster-sub000/internal/auth"
)

// Deps holds all dependencies injected into the API handlers.
type Deps = handlers.Deps

// SetupRoutes registers all HTTP routes on the given ServeMux.
// Uses Go 1.22 method+pattern routing syntax.
func SetupRoutes(mux *http.ServeMux, deps Deps) {
	h := handlers.New(deps)

	requireAuth := func(fn http.HandlerFunc) http.Handler {
		return auth.RequireAuth(deps.DB, deps.Perms, csrfGuard(fn))
	}
	requireAdmin := func(fn http.HandlerFunc) http.Handler {
		return auth.RequireAuth(deps.DB, deps.Perms, auth.RequirePermission(auth.Admin, csrfGuard(fn)))
	}

	// ── Public routes ────────────────────────────────────────────────────────
	mux.HandleFunc("GET /api/v1/health", h.Health)
	mux.HandleFunc("POST /api/v1/auth/login", h.Login)
	mux.HandleFunc("POST /api/v1/auth/logout", h.Logout)
	mux.HandleFunc("GET /api/v1/review/{code}", h.GetReviewForm)
	mux.HandleFunc("POST /api/v1/review/{code}", h.SubmitReview)
	mux.HandleFunc("POST /api/v1/signup/{username}", h.Signup)

	// ── Protected routes ─────────────────────────────────────────────────────
	// Auth
	mux.Handle("GET /api/v1/auth/me", requireAuth(h.Me))

	// Clients
	mux.Handle("GET /api/v1/clients", requireAuth(h.ListClients))
	mux.Handle("POST /api/v1/clients", requireAuth(h.CreateClient))
	mux.Handle("GET /api/v1/clients/{id}", requireAuth(h.GetClient))
	mux.Handle("PUT /api/v1/clients/{id}", requireAuth(h.UpdateClient))
	mux.Handle("DELETE /api/v1/clients/{id}", requireAuth(h.DeleteClient))
	mux.Handle("POST /api/v1/clients/{id}/sms", requireAuth(h.SendSMS))
	mux.Handle("POST /api/v1/clients/{id}/sms/queue", requireAuth(h.QueueSMS))
	mux.Handle("POST /api/v1/clients/sms/all", requireAuth(h.SendAllSMS))
	mux.Handle("GET /api/v1/statistics", requireAuth(h.Statistics))
	mux.Handle("GET /api/v1/qr", requireAuth(h.QRCode))

	// SMS
	mux.Handle("GET /api/v1/sms/history", requireAuth(h.SMSHistory))
	mux.Handle("GET /api/v1/sms/outbox", requireAuth(h.ListOutbox))
	mux.Handle("GET /api/v1/usage", requireAuth(h.Usage))

	// Settings
	mux.Handle("GET /api/v1/settings", requireAuth(h.GetSettings))
	mux.Handle("PUT /api/v1/settings", requireAuth(h.PutSettings))
	mux.Handle("POST /api/v1/settings/preview", requireAuth(h.PreviewTemplate))
	mux.Handle("GET /api/v1/settings/twilio", requireAuth(h.GetTwilio))

	// Cost estimation
	mux.Handle("POST /api/v1/estimate", requireAuth(h.Estimate))
	mux.Handle("GET /api/v1/rate", requireAuth(h.GetRate))

	// Notifications
	mux.Handle("GET /api/v1/notifications", requireAuth(h.ListNotifications))
	mux.Handle("DELETE /api/v1/notifications", requireAuth(h.DeleteAllNotifications))
	mux.Handle("GET /api/v1/notifications/unread-count", requireAuth(h.UnreadNotifications))
	mux.Handle("POST /api/v1/notifications/read-all", requireAuth(h.MarkAllNotificationsRead))
	mux.Handle("POST /api/v1/notifications/{id}/read", requireAuth(h.MarkNotificationRead))
	mux.Handle("DELETE /api/v1/notifications/{id}", requireAuth(h.DeleteNotification))

	// Logs
	mux.Handle("GET /api/v1/logs", requireAuth(h.ListLogs))

	// WebSocket
	mux.Handle("GET /ws", requireAuth(h.ServeWS))

	// ── Admin routes ─────────────────────────────────────────────────────────
	mux.Handle("GET /api/v1/admin/status", requireAdmin(h.Status))
	mux.Handle("GET /api/v1/admin/users", requireAdmin(h.ListUsers))
	mux.Handle("POST /api/v1/admin/users", requireAdmin(h.CreateUser))
	mux.Handle("DELETE /api/v1/admin/users/{id}", requireAdmin(h.DeleteUser))
	mux.Handle("PUT /api/v1/admin/users/{id}/permission", requireAdmin(h.UpdatePermission))
	mux.Handle("PUT /api/v1/admin/users/{id}/twilio", requireAdmin(h.UpdateUserTwilio))
	mux.Handle("GET /api/v1/admin/users/{id}/statistics", requireAdmin(h.UserStatistics))
	mux.Handle("GET /api/v1/admin/cost-report", requireAdmin(h.CostReport))
	mux.Handle("GET /api/v1/admin/rate", requireAdmin(h.GetRate))
	mux.Handle("POST /api/v1/admin/rate/refresh", requireAdmin(h.RefreshRate))
	mux.Handle("POST /api/v1/admin/outbox/{id}/retry", requireAdmin(h.RetryOutbox))
	mux.Handle("POST /api/v1/admin/workers/pause", requireAdmin(h.PauseWorkers))
	mux.Handle("POST /api/v1/admin/workers/resume", requireAdmin(h.ResumeWorkers))
	mux.Handle("GET /api/v1/admin/jobs", requireAdmin(h.ListJobs))
	mux.Handle("GET /api/v1/admin/settings", requireAdmin(h.ListSystemSettings))
	mux.Handle("PUT /api/v1/admin/settings/{key}", requireAdmin(h.UpdateSystemSetting))

	// Webhooks
	mux.Handle("GET /api/v1/admin/webhooks", requireAdmin(h.ListWebhooks))
	mux.Handle("POST /api/v1/admin/webhooks", requireAdmin(h.CreateWebhook))
	mux.Handle("GET /api/v1/admin/webhooks/{id}", requireAdmin(h.GetWebhook))
	mux.Handle("PUT /api/v1/admin/webhooks/{id}", requireAdmin(h.UpdateWebhook))
	mux.Handle("DELETE /api/v1/admin/webhooks/{id}", requireAdmin(h.DeleteWebhook))
	mux.Handle("POST /api/v1/admin/webhooks/{id}/test", requireAdmin(h.TestWebhook))
}

// csrfGuard enforces the X-CSRF-Token header on mutating requests that
// authenticate with the session cookie. Bearer-token callers are exempt.
func csrfGuard(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet, http.MethodHead, http.MethodOptions:
			next.ServeHTTP(w, r)
			return
		}
		if r.Header.Get("Authorization") == "" && r.Header.Get("X-CSRF-Token") == "" {
			http.Error(w, `{"success":false,"error":"missing CSRF token"}`, http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}
