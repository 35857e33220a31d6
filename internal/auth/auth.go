// Package auth handles passwords, sessions, permissions and login throttling.
package auth

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/NEXTmarketingSTUDIO/next-review-booster-sub000/internal/db"
)

const bcryptCost = 12

// SessionCookieName is the HttpOnly cookie carrying the session token.
const SessionCookieName = "reviewbooster_session"

const csrfCookieName = "csrf_token"

var (
	ErrInvalidCredentials = errors.New("auth: invalid credentials")
	ErrSessionNotFound    = errors.New("auth: session not found")
	ErrSessionExpired     = errors.New("auth: session expired")
	ErrForbidden          = errors.New("auth: insufficient permission")
)

// HashPassword hashes a plain-text password using bcrypt cost 12.
func HashPassword(plain string) (string, error) {
	b, err := bcrypt.GenerateFromPassword([]byte(plain), bcryptCost)
	if err != nil {
		return "", fmt.Errorf("auth.HashPassword: %w", err)
	}
	return string(b), nil
}

// CheckPassword compares plain text against a bcrypt hash.
func CheckPassword(plain, hash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(plain)) == nil
}

// Login validates credentials, creates a session, and returns the session
// token with the user. Unknown users and wrong passwords both return
// ErrInvalidCredentials.
func Login(ctx context.Context, database *db.DB, username, password string, expiryHours int) (string, *db.User, error) {
	var user db.User
	err := database.QueryRowContext(ctx,
		`SELECT id, username, email, password_hash, permission, created_at FROM users WHERE username=?`, username,
	).Scan(&user.ID, &user.Username, &user.Email, &user.PasswordHash, &user.Permission, &user.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil, ErrInvalidCredentials
	}
	if err != nil {
		return "", nil, fmt.Errorf("auth.Login: query user: %w", err)
	}
	if !CheckPassword(password, user.PasswordHash) {
		return "", nil, ErrInvalidCredentials
	}

	token, err := generateToken()
	if err != nil {
		return "", nil, fmt.Errorf("auth.Login: generate token: %w", err)
	}

	expiresAt := time.Now().Add(time.Duration(expiryHours) * time.Hour)
	_, err = database.ExecContext(ctx,
		`INSERT INTO sessions (user_id, token, expires_at) VALUES (?,?,?)`,
		user.ID, token, db.Timestamp(expiresAt),
	)
	if err != nil {
		return "", nil, fmt.Errorf("auth.Login: create session: %w", err)
	}
	return token, &user, nil
}

// Logout deletes a session by token.
func Logout(ctx context.Context, database *db.DB, token string) error {
	_, err := database.ExecContext(ctx, `DELETE FROM sessions WHERE token=?`, token)
	if err != nil {
		return fmt.Errorf("auth.Logout: %w", err)
	}
	return nil
}

// ValidateSession checks the session token and returns the associated User.
func ValidateSession(ctx context.Context, database *db.DB, token string) (*db.User, error) {
	var expiresAt time.Time
	var u db.User
	err := database.QueryRowContext(ctx, `
		SELECT s.expires_at,
		       u.id, u.username, u.email, u.password_hash, u.permission, u.created_at
		FROM sessions s
		JOIN users u ON u.id = s.user_id
		WHERE s.token=?`, token,
	).Scan(&expiresAt, &u.ID, &u.Username, &u.Email, &u.PasswordHash, &u.Permission, &u.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("auth.ValidateSession: %w", err)
	}
	if time.Now().After(expiresAt) {
		return nil, ErrSessionExpired
	}
	return &u, nil
}

// CleanExpiredSessions deletes sessions past their expiry.
func CleanExpiredSessions(ctx context.Context, database *db.DB) error {
	_, err := database.ExecContext(ctx, `DELETE FROM sessions WHERE expires_at < ?`, db.Timestamp(time.Now()))
	if err != nil {
		return fmt.Errorf("auth.CleanExpiredSessions: %w", err)
	}
	return nil
}

// SeedAdmin creates the default admin account if no users exist.
func SeedAdmin(ctx context.Context, database *db.DB, username, password string) error {
	var count int
	if err := database.QueryRowContext(ctx, `SELECT COUNT(*) FROM users`).Scan(&count); err != nil {
		return fmt.Errorf("auth.SeedAdmin: count: %w", err)
	}
	if count > 0 {
		return nil
	}
	if _, err := CreateUser(ctx, database, username, "", password, Admin); err != nil {
		return fmt.Errorf("auth.SeedAdmin: %w", err)
	}
	return nil
}

// RequireAuth is middleware that accepts a Bearer token or the session
// cookie. The user's permission is refreshed through perms when it is set.
func RequireAuth(database *db.DB, perms *Permissions, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := TokenFromRequest(r)
		if token == "" {
			http.Error(w, `{"success":false,"error":"unauthorized"}`, http.StatusUnauthorized)
			return
		}
		user, err := ValidateSession(r.Context(), database, token)
		if err != nil {
			http.Error(w, `{"success":false,"error":"unauthorized"}`, http.StatusUnauthorized)
			return
		}
		if perms != nil {
			user.Permission = perms.Lookup(r.Context(), user.ID).String()
		}
		ctx := context.WithValue(r.Context(), contextKeyUser, user)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequirePermission rejects users below min with 403. It must run inside
// RequireAuth.
func RequirePermission(min Permission, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u := UserFromContext(r.Context())
		if u == nil {
			http.Error(w, `{"success":false,"error":"unauthorized"}`, http.StatusUnauthorized)
			return
		}
		if !ParsePermission(u.Permission).AtLeast(min) {
			http.Error(w, `{"success":false,"error":"forbidden"}`, http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// TokenFromRequest returns the Bearer token, or the session cookie value.
func TokenFromRequest(r *http.Request) string {
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimSpace(h[len("Bearer "):])
	}
	return SessionTokenFromRequest(r)
}

// SetSessionCookie writes the session cookie to the response.
// Also sets a non-HttpOnly csrf_token cookie so JS can read it for X-CSRF-Token headers.
func SetSessionCookie(w http.ResponseWriter, token string, expiryHours int) {
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		MaxAge:   expiryHours * 3600,
		SameSite: http.SameSiteStrictMode,
	})
	http.SetCookie(w, &http.Cookie{
		Name:     csrfCookieName,
		Value:    token[:16], // first 16 hex chars, not the full session token
		Path:     "/",
		HttpOnly: false,
		MaxAge:   expiryHours * 3600,
		SameSite: http.SameSiteStrictMode,
	})
}

// ClearSessionCookie removes the session and CSRF cookies.
func ClearSessionCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{Name: SessionCookieName, Value: "", Path: "/", MaxAge: -1})
	http.SetCookie(w, &http.Cookie{Name: csrfCookieName, Value: "", Path: "/", MaxAge: -1})
}

// UserFromContext extracts the authenticated user from the request context.
func UserFromContext(ctx context.Context) *db.User {
	u, _ := ctx.Value(contextKeyUser).(*db.User)
	return u
}

// WithUser returns ctx carrying u, as RequireAuth does.
func WithUser(ctx context.Context, u *db.User) context.Context {
	return context.WithValue(ctx, contextKeyUser, u)
}

// SessionTokenFromRequest extracts the session token from the cookie.
func SessionTokenFromRequest(r *http.Request) string {
	cookie, err := r.Cookie(SessionCookieName)
	if err != nil {
		return ""
	}
	return cookie.Value
}

type contextKey int

const contextKeyUser contextKey = iota

func generateToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
