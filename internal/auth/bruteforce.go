package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/NEXTmarketingSTUDIO/next-review-booster-sub000/internal/db"
)

// AttemptRetention is how long login attempts are kept.
const AttemptRetention = 24 * time.Hour

// LoginGuard blocks an IP after MaxAttempts failed logins inside Window.
// A successful login does not reset the count; failures simply age out.
type LoginGuard struct {
	database    *db.DB
	maxAttempts int
	window      time.Duration
	now         func() time.Time
}

// NewLoginGuard creates a LoginGuard. Non-positive limits fall back to
// 5 attempts in 15 minutes.
func NewLoginGuard(database *db.DB, maxAttempts, blockMinutes int) *LoginGuard {
	if maxAttempts <= 0 {
		maxAttempts = 5
	}
	if blockMinutes <= 0 {
		blockMinutes = 15
	}
	return &LoginGuard{
		database:    database,
		maxAttempts: maxAttempts,
		window:      time.Duration(blockMinutes) * time.Minute,
		now:         time.Now,
	}
}

// Record stores one login attempt for ip.
func (g *LoginGuard) Record(ctx context.Context, ip string, success bool) error {
	sval := 0
	if success {
		sval = 1
	}
	_, err := g.database.ExecContext(ctx,
		`INSERT INTO login_attempts (ip, success, created_at) VALUES (?,?,?)`,
		ip, sval, db.Timestamp(g.now()))
	if err != nil {
		return fmt.Errorf("auth.LoginGuard.Record: %w", err)
	}
	return nil
}

// Blocked reports whether ip is locked out and, if so, how long until the
// oldest counted failure leaves the window.
func (g *LoginGuard) Blocked(ctx context.Context, ip string) (time.Duration, bool, error) {
	now := g.now()
	var at time.Time
	err := g.database.QueryRowContext(ctx,
		`SELECT created_at FROM login_attempts
		 WHERE ip=? AND success=0 AND created_at > ?
		 ORDER BY created_at DESC LIMIT 1 OFFSET ?`,
		ip, db.Timestamp(now.Add(-g.window)), g.maxAttempts-1,
	).Scan(&at)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("auth.LoginGuard.Blocked: %w", err)
	}
	retry := at.Add(g.window).Sub(now)
	if retry < time.Second {
		retry = time.Second
	}
	return retry, true, nil
}

// CleanOldAttempts removes login attempts older than AttemptRetention.
func CleanOldAttempts(ctx context.Context, database *db.DB) error {
	cutoff := time.Now().Add(-AttemptRetention)
	_, err := database.ExecContext(ctx, `DELETE FROM login_attempts WHERE created_at < ?`, db.Timestamp(cutoff))
	if err != nil {
		return fmt.Errorf("auth.CleanOldAttempts: %w", err)
	}
	return nil
}
