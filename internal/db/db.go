// Package db provides the SQLite database wrapper and model types for the
// review booster daemon.
package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// TimeFormat matches SQLite's CURRENT_TIMESTAMP so stored values compare
// correctly as text.
const TimeFormat = "2006-01-02 15:04:05"

// DB wraps *sql.DB and provides migration support.
type DB struct {
	*sql.DB
}

// New opens a SQLite connection with WAL mode and foreign keys enabled.
// Driver name is "sqlite" (modernc.org/sqlite, not mattn/go-sqlite3).
func New(path string) (*DB, error) {
	sqlDB, err := sql.Open("sqlite", path+"?_journal=WAL&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("db.New: open: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		return nil, fmt.Errorf("db.New: ping: %w", err)
	}
	// Limit to 1 writer at a time to avoid SQLITE_BUSY in WAL mode.
	sqlDB.SetMaxOpenConns(1)
	return &DB{sqlDB}, nil
}

// Migrate runs all CREATE TABLE IF NOT EXISTS migrations exactly once per schema version.
func (d *DB) Migrate() error {
	if _, err := d.Exec(ddlSettings); err != nil {
		return fmt.Errorf("db.Migrate: settings table: %w", err)
	}

	// INSERT OR IGNORE keeps operator-edited values.
	defaults := []struct{ k, v string }{
		{"telegram_token", ""},
		{"telegram_chat_id", ""},
		{"session_expiry_hours", "24"},
		{"brute_force_max_attempts", "5"},
		{"brute_force_block_minutes", "15"},
		{"exchange_rate_mid", ""},
		{"exchange_rate_date", ""},
	}
	for _, s := range defaults {
		if _, err := d.Exec(`INSERT OR IGNORE INTO settings (key, value) VALUES (?, ?)`, s.k, s.v); err != nil {
			return fmt.Errorf("db.Migrate: seed setting %q: %w", s.k, err)
		}
	}

	var version int
	row := d.QueryRow(`SELECT value FROM settings WHERE key='schema_version' LIMIT 1`)
	_ = row.Scan(&version) // row may not exist yet (version=0)

	if version >= schemaVersion {
		return nil
	}

	tables := []string{
		ddlUsers,
		ddlSessions,
		ddlLoginAttempts,
		ddlAccountSettings,
		ddlTwilioConfigs,
		ddlClients,
		ddlClientsIndex,
		ddlSMSOutbox,
		ddlSMSLog,
		ddlSMSLogIndex,
		ddlNotifications,
		ddlLogs,
		ddlWebhooks,
	}

	for _, ddl := range tables {
		if _, err := d.Exec(ddl); err != nil {
			return fmt.Errorf("db.Migrate: %w", err)
		}
	}

	_, err := d.Exec(`INSERT INTO settings (key, value) VALUES ('schema_version', ?)
		ON CONFLICT(key) DO UPDATE SET value=excluded.value`, schemaVersion)
	if err != nil {
		return fmt.Errorf("db.Migrate: schema_version upsert: %w", err)
	}
	return nil
}

const schemaVersion = 1

// Timestamp formats t in UTC the way SQLite's CURRENT_TIMESTAMP does.
func Timestamp(t time.Time) string {
	return t.UTC().Format(TimeFormat)
}

// MonthStart returns the first instant of t's month in UTC.
func MonthStart(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
}

// WriteLog inserts a log line into the logs table. Errors are dropped; the
// activity log must never fail the operation being logged.
func (d *DB) WriteLog(userID *int, level, message string) {
	var uid sql.NullInt64
	if userID != nil {
		uid = sql.NullInt64{Int64: int64(*userID), Valid: true}
	}
	_, _ = d.Exec(`INSERT INTO logs (user_id, level, message) VALUES (?,?,?)`, uid, level, message)
}

// ListLogs returns the newest log lines, optionally for one user.
func (d *DB) ListLogs(ctx context.Context, userID *int, level string, limit, offset int) ([]Log, int, error) {
	where := `WHERE 1=1`
	var args []any
	if userID != nil {
		where += ` AND user_id=?`
		args = append(args, *userID)
	}
	if level != "" {
		where += ` AND level=?`
		args = append(args, level)
	}

	var total int
	if err := d.QueryRowContext(ctx, `SELECT COUNT(*) FROM logs `+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("db.ListLogs: count: %w", err)
	}

	rows, err := d.QueryContext(ctx,
		`SELECT id, user_id, level, message, created_at FROM logs `+where+` ORDER BY id DESC LIMIT ? OFFSET ?`,
		append(args, limit, offset)...)
	if err != nil {
		return nil, 0, fmt.Errorf("db.ListLogs: %w", err)
	}
	defer rows.Close()

	var logs []Log
	for rows.Next() {
		var l Log
		if err := rows.Scan(&l.ID, &l.UserID, &l.Level, &l.Message, &l.CreatedAt); err != nil {
			return nil, 0, fmt.Errorf("db.ListLogs: scan: %w", err)
		}
		logs = append(logs, l)
	}
	if logs == nil {
		logs = []Log{}
	}
	return logs, total, rows.Err()
}

// GetSetting retrieves a settings value by key, returning fallback if not found.
func (d *DB) GetSetting(key, fallback string) string {
	var v string
	if err := d.QueryRow(`SELECT value FROM settings WHERE key=?`, key).Scan(&v); err != nil {
		return fallback
	}
	return v
}

// SetSetting upserts a settings key-value pair.
func (d *DB) SetSetting(key, value string) error {
	_, err := d.Exec(
		`INSERT INTO settings (key, value) VALUES (?,?) ON CONFLICT(key) DO UPDATE SET value=excluded.value`,
		key, value,
	)
	if err != nil {
		return fmt.Errorf("db.SetSetting: %w", err)
	}
	return nil
}
