// Package handlers provides HTTP handler implementations for the review
// booster REST API.
package handlers

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/NEXTmarketingSTUDIO/next-review-booster-sub000/internal/auth"
	"github.com/NEXTmarketingSTUDIO/next-review-booster-sub000/internal/clients"
	"github.com/NEXTmarketingSTUDIO/next-review-booster-sub000/internal/config"
	"github.com/NEXTmarketingSTUDIO/next-review-booster-sub000/internal/db"
	"github.com/NEXTmarketingSTUDIO/next-review-booster-sub000/internal/limiter"
	"github.com/NEXTmarketingSTUDIO/next-review-booster-sub000/internal/notify"
	"github.com/NEXTmarketingSTUDIO/next-review-booster-sub000/internal/queue"
	"github.com/NEXTmarketingSTUDIO/next-review-booster-sub000/internal/quota"
	"github.com/NEXTmarketingSTUDIO/next-review-booster-sub000/internal/rates"
	"github.com/NEXTmarketingSTUDIO/next-review-booster-sub000/internal/report"
	"github.com/NEXTmarketingSTUDIO/next-review-booster-sub000/internal/scheduler"
	"github.com/NEXTmarketingSTUDIO/next-review-booster-sub000/internal/settings"
	"github.com/NEXTmarketingSTUDIO/next-review-booster-sub000/internal/sms"
	"github.com/NEXTmarketingSTUDIO/next-review-booster-sub000/internal/smscost"
	"github.com/NEXTmarketingSTUDIO/next-review-booster-sub000/internal/webhook"
	"github.com/NEXTmarketingSTUDIO/next-review-booster-sub000/internal/worker"
	"github.com/NEXTmarketingSTUDIO/next-review-booster-sub000/internal/ws"
)

// Deps holds everything the handlers use. Queue, Pool, Hub, Webhook, Rates,
// Reports and Scheduler may be nil; the routes that need them then answer
// 503.
type Deps struct {
	DB        *db.DB
	Config    *config.Config
	Pricing   config.Pricing
	Perms     *auth.Permissions
	Clients   *clients.Store
	Settings  *settings.Store
	SMS       *sms.Service
	Quota     *quota.Governor
	Queue     *queue.Queue
	Pool      *worker.Pool
	Hub       *ws.Hub
	Notify    *notify.Dispatcher
	Notes     *notify.Store
	Webhook   *webhook.Dispatcher
	Rates     *rates.Provider
	Reports   *report.Builder
	Scheduler *scheduler.Engine
}

// Handler holds all shared dependencies for API handler methods.
type Handler struct {
	db        *db.DB
	config    *config.Config
	pricing   config.Pricing
	estimator *smscost.Estimator
	perms     *auth.Permissions
	guard     *auth.LoginGuard
	clients   *clients.Store
	settings  *settings.Store
	sms       *sms.Service
	quota     *quota.Governor
	queue     *queue.Queue
	pool      *worker.Pool
	hub       *ws.Hub
	notify    *notify.Dispatcher
	notes     *notify.Store
	webhook   *webhook.Dispatcher
	rates     *rates.Provider
	reports   *report.Builder
	scheduler *scheduler.Engine
}

// New creates a Handler with all dependencies.
func New(d Deps) *Handler {
	cfg := d.Config
	if cfg == nil {
		cfg = &config.Config{}
	}
	return &Handler{
		db:        d.DB,
		config:    cfg,
		pricing:   d.Pricing,
		estimator: d.Pricing.Estimator(),
		perms:     d.Perms,
		guard:     auth.NewLoginGuard(d.DB, cfg.BruteForceMaxAttempts, cfg.BruteForceBlockMinutes),
		clients:   d.Clients,
		settings:  d.Settings,
		sms:       d.SMS,
		quota:     d.Quota,
		queue:     d.Queue,
		pool:      d.Pool,
		hub:       d.Hub,
		notify:    d.Notify,
		notes:     d.Notes,
		webhook:   d.Webhook,
		rates:     d.Rates,
		reports:   d.Reports,
		scheduler: d.Scheduler,
	}
}

// ── Response helpers ──────────────────────────────────────────────────────────

type response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

type paginatedResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data"`
	Meta    pageMeta    `json:"meta"`
}

type pageMeta struct {
	Total int `json:"total"`
	Page  int `json:"page"`
	Limit int `json:"limit"`
}

func ok(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response{Success: true, Data: data})
}

func created(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(response{Success: true, Data: data})
}

func okPaginated(w http.ResponseWriter, data interface{}, total, page, limit int) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(paginatedResponse{
		Success: true,
		Data:    data,
		Meta:    pageMeta{Total: total, Page: page, Limit: limit},
	})
}

func fail(w http.ResponseWriter, code int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(response{Success: false, Error: msg})
}

// failErr maps a domain error to its status code. Unexpected errors are
// logged and hidden behind a generic message.
func failErr(w http.ResponseWriter, op string, err error) {
	code := statusOf(err)
	if code == http.StatusInternalServerError {
		log.Printf("handlers.%s: %v", op, err)
		fail(w, code, "internal error")
		return
	}
	fail(w, code, err.Error())
}

func statusOf(err error) int {
	var (
		le *smscost.LengthError
		rl *limiter.ErrRateLimit
		te *sms.TwilioError
	)
	switch {
	case errors.Is(err, clients.ErrNotFound),
		errors.Is(err, notify.ErrNotFound),
		errors.Is(err, webhook.ErrNotFound),
		errors.Is(err, queue.ErrNotFound),
		errors.Is(err, auth.ErrUserNotFound):
		return http.StatusNotFound
	case errors.Is(err, clients.ErrInvalidInput),
		errors.Is(err, clients.ErrInvalidStars),
		errors.Is(err, settings.ErrInvalidFrequency),
		errors.Is(err, settings.ErrMissingField),
		errors.Is(err, auth.ErrInvalidUsername),
		errors.Is(err, auth.ErrWeakPassword),
		errors.Is(err, auth.ErrUnknownPermission),
		errors.Is(err, sms.ErrNoPhone),
		errors.Is(err, sms.ErrNoReviewCode):
		return http.StatusBadRequest
	case errors.Is(err, sms.ErrLimitReached),
		errors.Is(err, sms.ErrAlreadyCompleted),
		errors.Is(err, auth.ErrUserExists):
		return http.StatusConflict
	case errors.As(err, &le):
		return http.StatusUnprocessableEntity
	case errors.Is(err, quota.ErrQuotaExceeded), errors.As(err, &rl):
		return http.StatusTooManyRequests
	case errors.Is(err, sms.ErrNoGateway):
		return http.StatusServiceUnavailable
	case errors.As(err, &te):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

var timeNow = time.Now

func decode(r *http.Request, v interface{}) error {
	return json.NewDecoder(r.Body).Decode(v)
}

func pathID(r *http.Request, name string) string {
	return r.PathValue(name)
}

func intPathID(r *http.Request, name string) (int, bool) {
	id, err := strconv.Atoi(pathID(r, name))
	return id, err == nil && id > 0
}

// page reads limit and page query parameters.
func page(r *http.Request, defLimit, maxLimit int) (limit, pg, offset int) {
	q := r.URL.Query()
	limit, pg = defLimit, 1
	if n, err := strconv.Atoi(q.Get("limit")); err == nil && n > 0 && n <= maxLimit {
		limit = n
	}
	if n, err := strconv.Atoi(q.Get("page")); err == nil && n > 0 {
		pg = n
	}
	return limit, pg, (pg - 1) * limit
}

// currentUser returns the authenticated user. RequireAuth guarantees it is
// set on protected routes.
func currentUser(r *http.Request) *db.User {
	return auth.UserFromContext(r.Context())
}

func isAdmin(u *db.User) bool {
	return u != nil && auth.ParsePermission(u.Permission) == auth.Admin
}
