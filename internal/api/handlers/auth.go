package handlers

import (
	"context"
	"errors"
	"log"
	"net"
	"net/http"
	"strconv"

	"github.com/NEXTmarketingSTUDIO/next-review-booster-sub000/internal/auth"
)

// Login handles POST /api/v1/auth/login.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := decode(r, &req); err != nil {
		fail(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	ip := clientIP(r)

	retry, blocked, err := h.guard.Blocked(r.Context(), ip)
	if err != nil {
		failErr(w, "Login", err)
		return
	}
	if blocked {
		w.Header().Set("Retry-After", strconv.Itoa(int(retry.Seconds())))
		fail(w, http.StatusTooManyRequests, "IP blocked due to too many failed attempts")
		return
	}

	token, user, err := auth.Login(r.Context(), h.db, req.Username, req.Password, h.config.SessionExpiryHours)
	if err != nil {
		h.recordAttempt(r, ip, false)
		if errors.Is(err, auth.ErrInvalidCredentials) {
			fail(w, http.StatusUnauthorized, "invalid credentials")
			return
		}
		failErr(w, "Login", err)
		return
	}
	h.recordAttempt(r, ip, true)
	h.db.WriteLog(&user.ID, "info", "Logged in from "+ip)

	auth.SetSessionCookie(w, token, h.config.SessionExpiryHours)
	ok(w, map[string]interface{}{
		"token": token,
		"user":  user,
	})
}

// recordAttempt stores a login attempt for the brute force guard. A lost
// attempt weakens the guard, so it is logged but does not fail the login.
func (h *Handler) recordAttempt(r *http.Request, ip string, success bool) {
	if err := h.guard.Record(context.WithoutCancel(r.Context()), ip, success); err != nil {
		log.Printf("handlers.Login: record attempt from %s: %v", ip, err)
	}
}

// Logout handles POST /api/v1/auth/logout.
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	token := auth.TokenFromRequest(r)
	if token != "" {
		if err := auth.Logout(r.Context(), h.db, token); err != nil {
			log.Printf("handlers.Logout: %v", err)
		}
	}
	auth.ClearSessionCookie(w)
	ok(w, map[string]string{"message": "logged out"})
}

// Me handles GET /api/v1/auth/me.
func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	user := currentUser(r)
	if user == nil {
		fail(w, http.StatusUnauthorized, "not authenticated")
		return
	}
	out := map[string]interface{}{
		"id":         user.ID,
		"username":   user.Username,
		"email":      user.Email,
		"permission": user.Permission,
		"is_admin":   isAdmin(user),
	}
	if h.quota != nil {
		if usage, err := h.quota.Usage(r.Context(), user.ID); err == nil {
			out["sms_usage"] = usage
		}
	}
	ok(w, out)
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
