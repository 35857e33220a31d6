package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/NEXTmarketingSTUDIO/next-review-booster-sub000/internal/db"
)

var (
	ErrUserNotFound    = errors.New("auth: user not found")
	ErrUserExists      = errors.New("auth: username already taken")
	ErrInvalidUsername = errors.New("auth: invalid username")
	ErrWeakPassword    = errors.New("auth: password too short")
)

// MinPasswordLength is enforced by CreateUser.
const MinPasswordLength = 8

var (
	usernamePattern = regexp.MustCompile(`^[a-z0-9._-]+$`)
	usernameStrip   = regexp.MustCompile(`[^a-z0-9._-]`)
)

// IsValidUsername reports whether s is 2..50 characters of [a-z0-9._-].
func IsValidUsername(s string) bool {
	if len(s) < 2 || len(s) > 50 {
		return false
	}
	return usernamePattern.MatchString(s)
}

// GenerateUsername derives a username from a display name, falling back to
// the local part of email.
func GenerateUsername(displayName, email string) string {
	if name := strings.TrimSpace(displayName); name != "" {
		u := usernameStrip.ReplaceAllString(strings.ToLower(name), "")
		if len(u) > 50 {
			u = u[:50]
		}
		return u
	}
	if email != "" {
		local, _, _ := strings.Cut(email, "@")
		return local
	}
	return ""
}

const userColumns = `id, username, email, password_hash, permission, created_at`

func scanUser(row interface{ Scan(...any) error }) (*db.User, error) {
	var u db.User
	if err := row.Scan(&u.ID, &u.Username, &u.Email, &u.PasswordHash, &u.Permission, &u.CreatedAt); err != nil {
		return nil, err
	}
	return &u, nil
}

// CreateUser inserts an account with a bcrypt password hash.
func CreateUser(ctx context.Context, database *db.DB, username, email, password string, perm Permission) (*db.User, error) {
	if !IsValidUsername(username) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidUsername, username)
	}
	if len(password) < MinPasswordLength {
		return nil, ErrWeakPassword
	}
	hash, err := HashPassword(password)
	if err != nil {
		return nil, err
	}
	res, err := database.ExecContext(ctx,
		`INSERT INTO users (username, email, password_hash, permission) VALUES (?,?,?,?)`,
		username, email, hash, perm.String())
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE") {
			return nil, fmt.Errorf("%w: %q", ErrUserExists, username)
		}
		return nil, fmt.Errorf("auth.CreateUser: %w", err)
	}
	id, _ := res.LastInsertId()
	return GetUser(ctx, database, int(id))
}

// GetUser returns one account by id.
func GetUser(ctx context.Context, database *db.DB, id int) (*db.User, error) {
	u, err := scanUser(database.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id=?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("auth.GetUser: %w", err)
	}
	return u, nil
}

// GetUserByUsername returns one account by username.
func GetUserByUsername(ctx context.Context, database *db.DB, username string) (*db.User, error) {
	u, err := scanUser(database.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE username=?`, username))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("auth.GetUserByUsername: %w", err)
	}
	return u, nil
}

// ListUsers returns every account ordered by id.
func ListUsers(ctx context.Context, database *db.DB) ([]db.User, error) {
	rows, err := database.QueryContext(ctx, `SELECT `+userColumns+` FROM users ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("auth.ListUsers: %w", err)
	}
	defer rows.Close()
	users := []db.User{}
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("auth.ListUsers: scan: %w", err)
		}
		users = append(users, *u)
	}
	return users, rows.Err()
}

// SetPermission writes a tier. Callers holding a Permissions cache should
// use Permissions.Set instead.
func SetPermission(ctx context.Context, database *db.DB, userID int, perm Permission) error {
	res, err := database.ExecContext(ctx, `UPDATE users SET permission=? WHERE id=?`, perm.String(), userID)
	if err != nil {
		return fmt.Errorf("auth.SetPermission: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrUserNotFound
	}
	return nil
}

// DeleteUser removes an account with its sessions, settings, clients, SMS
// history and notifications. Activity log lines are kept without the
// account. Callers holding a Permissions cache should use
// Permissions.Delete instead.
func DeleteUser(ctx context.Context, database *db.DB, userID int) error {
	tx, err := database.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("auth.DeleteUser: %w", err)
	}
	defer tx.Rollback()

	for _, stmt := range []string{
		`DELETE FROM sessions WHERE user_id=?`,
		`DELETE FROM account_settings WHERE user_id=?`,
		`DELETE FROM twilio_configs WHERE user_id=?`,
		`DELETE FROM sms_outbox WHERE user_id=?`,
		`DELETE FROM sms_log WHERE user_id=?`,
		`DELETE FROM clients WHERE user_id=?`,
		`DELETE FROM notifications WHERE user_id=?`,
		`UPDATE logs SET user_id=NULL WHERE user_id=?`,
	} {
		if _, err := tx.ExecContext(ctx, stmt, userID); err != nil {
			return fmt.Errorf("auth.DeleteUser: %w", err)
		}
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM users WHERE id=?`, userID)
	if err != nil {
		return fmt.Errorf("auth.DeleteUser: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrUserNotFound
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("auth.DeleteUser: commit: %w", err)
	}
	return nil
}
