package db

import (
	"database/sql"
	"encoding/json"
	"time"
)

// ── Model Types ──────────────────────────────────────────────────────────────

// User is an account. Permission is one of Admin, Professional, Starter, Demo.
type User struct {
	ID           int       `json:"id"`
	Username     string    `json:"username"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	Permission   string    `json:"permission"`
	CreatedAt    time.Time `json:"created_at"`
}

// Session represents an authenticated session.
type Session struct {
	ID        int       `json:"id"`
	UserID    int       `json:"user_id"`
	Token     string    `json:"-"`
	ExpiresAt time.Time `json:"expires_at"`
	CreatedAt time.Time `json:"created_at"`
}

// LoginAttempt tracks login tries per IP for brute-force protection.
type LoginAttempt struct {
	ID        int       `json:"id"`
	IP        string    `json:"ip"`
	Success   bool      `json:"success"`
	CreatedAt time.Time `json:"created_at"`
}

// AccountSettings holds an account's profile and messaging preferences.
type AccountSettings struct {
	UserID            int       `json:"-"`
	Name              string    `json:"name"`
	Surname           string    `json:"surname"`
	Email             string    `json:"email"`
	CompanyName       string    `json:"company_name"`
	GoogleCard        string    `json:"google_card"`
	ReminderFrequency int       `json:"reminder_frequency"`
	MessageTemplate   string    `json:"message_template"`
	AutoSendEnabled   bool      `json:"auto_send_enabled"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// TwilioConfig is an account's own gateway credentials.
type TwilioConfig struct {
	UserID              int       `json:"-"`
	AccountSID          string    `json:"account_sid"`
	AuthToken           string    `json:"-"`
	PhoneNumber         string    `json:"phone_number"`
	MessagingServiceSID string    `json:"messaging_service_sid"`
	UpdatedAt           time.Time `json:"updated_at"`
}

// Review statuses of a client.
const (
	ReviewNotSent   = "not_sent"
	ReviewSent      = "sent"
	ReviewOpened    = "opened"
	ReviewCompleted = "completed"
)

// MaxSMSPerClient caps review requests sent to one client.
const MaxSMSPerClient = 2

// Client is a customer asked for a review.
type Client struct {
	ID           int          `json:"id"`
	UserID       int          `json:"-"`
	Name         string       `json:"name"`
	Surname      string       `json:"surname"`
	Phone        string       `json:"phone"`
	Email        string       `json:"email"`
	Note         string       `json:"note"`
	Stars        int          `json:"stars"`
	Review       string       `json:"review"`
	ReviewCode   string       `json:"review_code"`
	ReviewStatus string       `json:"review_status"`
	SMSCount     int          `json:"sms_count"`
	LastSMSSent  sql.NullTime `json:"-"`
	CreatedAt    time.Time    `json:"created_at"`
	UpdatedAt    time.Time    `json:"updated_at"`
}

// MarshalJSON renders LastSMSSent as a nullable timestamp.
func (c Client) MarshalJSON() ([]byte, error) {
	type alias Client
	var last *time.Time
	if c.LastSMSSent.Valid {
		t := c.LastSMSSent.Time
		last = &t
	}
	return json.Marshal(struct {
		alias
		LastSMSSent *time.Time `json:"last_sms_sent"`
	}{alias(c), last})
}

// Outbox statuses.
const (
	OutboxPending = "pending"
	OutboxSending = "sending"
	OutboxSent    = "sent"
	OutboxFailed  = "failed"
)

// OutboxItem is a queued SMS send for one client.
type OutboxItem struct {
	ID             int          `json:"id"`
	UserID         int          `json:"user_id"`
	ClientID       int          `json:"client_id"`
	IdempotencyKey string       `json:"idempotency_key"`
	Status         string       `json:"status"`
	Attempts       int          `json:"attempts"`
	Error          string       `json:"error,omitempty"`
	NotBefore      sql.NullTime `json:"-"`
	CreatedAt      time.Time    `json:"created_at"`
	UpdatedAt      time.Time    `json:"updated_at"`
}

// SMSLog records one gateway send attempt and its estimated cost.
type SMSLog struct {
	ID          int       `json:"id"`
	UserID      int       `json:"user_id"`
	ClientID    int       `json:"client_id"`
	ProviderSID string    `json:"provider_sid"`
	Status      string    `json:"status"`
	Segments    int       `json:"segments"`
	Encoding    string    `json:"encoding"`
	Length      int       `json:"length"`
	CostBase    float64   `json:"cost_base"`
	Error       string    `json:"error,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// Notification is an in-app message for one account.
type Notification struct {
	ID        int       `json:"id"`
	UserID    int       `json:"-"`
	Type      string    `json:"type"`
	Title     string    `json:"title"`
	Message   string    `json:"message"`
	Read      bool      `json:"read"`
	CreatedAt time.Time `json:"created_at"`
}

// Log is an activity log line.
type Log struct {
	ID        int           `json:"id"`
	UserID    sql.NullInt64 `json:"-"`
	Level     string        `json:"level"`
	Message   string        `json:"message"`
	CreatedAt time.Time     `json:"created_at"`
}

// Webhook defines an outbound webhook subscription.
type Webhook struct {
	ID         int          `json:"id"`
	Name       string       `json:"name"`
	URL        string       `json:"url"`
	Events     string       `json:"events"`
	Secret     string       `json:"-"`
	Enabled    bool         `json:"enabled"`
	LastStatus int          `json:"last_status"`
	LastFired  sql.NullTime `json:"-"`
	CreatedAt  time.Time    `json:"created_at"`
}

// ── DDL Statements ───────────────────────────────────────────────────────────

const ddlSettings = `CREATE TABLE IF NOT EXISTS settings (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL DEFAULT ''
);`

const ddlUsers = `CREATE TABLE IF NOT EXISTS users (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	username      TEXT    NOT NULL UNIQUE,
	email         TEXT    NOT NULL DEFAULT '',
	password_hash TEXT    NOT NULL,
	permission    TEXT    NOT NULL DEFAULT 'Demo',
	created_at    DATETIME DEFAULT CURRENT_TIMESTAMP
);`

const ddlSessions = `CREATE TABLE IF NOT EXISTS sessions (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	user_id    INTEGER NOT NULL REFERENCES users(id) ON DELETE CASCADE,
	token      TEXT    NOT NULL UNIQUE,
	expires_at DATETIME NOT NULL,
	created_at DATETIME DEFAULT CURRENT_TIMESTAMP
);`

const ddlLoginAttempts = `CREATE TABLE IF NOT EXISTS login_attempts (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	ip         TEXT    NOT NULL,
	success    INTEGER NOT NULL DEFAULT 0,
	created_at DATETIME DEFAULT CURRENT_TIMESTAMP
);`

const ddlAccountSettings = `CREATE TABLE IF NOT EXISTS account_settings (
	user_id            INTEGER PRIMARY KEY REFERENCES users(id) ON DELETE CASCADE,
	name               TEXT    NOT NULL DEFAULT '',
	surname            TEXT    NOT NULL DEFAULT '',
	email              TEXT    NOT NULL DEFAULT '',
	company_name       TEXT    NOT NULL DEFAULT '',
	google_card        TEXT    NOT NULL DEFAULT '',
	reminder_frequency INTEGER NOT NULL DEFAULT 7,
	message_template   TEXT    NOT NULL DEFAULT '',
	auto_send_enabled  INTEGER NOT NULL DEFAULT 0,
	updated_at         DATETIME DEFAULT CURRENT_TIMESTAMP
);`

const ddlTwilioConfigs = `CREATE TABLE IF NOT EXISTS twilio_configs (
	user_id               INTEGER PRIMARY KEY REFERENCES users(id) ON DELETE CASCADE,
	account_sid           TEXT    NOT NULL DEFAULT '',
	auth_token            TEXT    NOT NULL DEFAULT '',
	phone_number          TEXT    NOT NULL DEFAULT '',
	messaging_service_sid TEXT    NOT NULL DEFAULT '',
	updated_at            DATETIME DEFAULT CURRENT_TIMESTAMP
);`

const ddlClients = `CREATE TABLE IF NOT EXISTS clients (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	user_id       INTEGER NOT NULL REFERENCES users(id) ON DELETE CASCADE,
	name          TEXT    NOT NULL,
	surname       TEXT    NOT NULL DEFAULT '',
	phone         TEXT    NOT NULL DEFAULT '',
	email         TEXT    NOT NULL DEFAULT '',
	note          TEXT    NOT NULL DEFAULT '',
	stars         INTEGER NOT NULL DEFAULT 0,
	review        TEXT    NOT NULL DEFAULT '',
	review_code   TEXT    NOT NULL UNIQUE,
	review_status TEXT    NOT NULL DEFAULT 'not_sent',
	sms_count     INTEGER NOT NULL DEFAULT 0,
	last_sms_sent DATETIME,
	created_at    DATETIME DEFAULT CURRENT_TIMESTAMP,
	updated_at    DATETIME DEFAULT CURRENT_TIMESTAMP
);`

const ddlClientsIndex = `CREATE INDEX IF NOT EXISTS idx_clients_user ON clients(user_id, review_status);`

const ddlSMSOutbox = `CREATE TABLE IF NOT EXISTS sms_outbox (
	id              INTEGER PRIMARY KEY AUTOINCREMENT,
	user_id         INTEGER NOT NULL REFERENCES users(id) ON DELETE CASCADE,
	client_id       INTEGER NOT NULL REFERENCES clients(id) ON DELETE CASCADE,
	idempotency_key TEXT    NOT NULL UNIQUE,
	status          TEXT    NOT NULL DEFAULT 'pending',
	attempts        INTEGER NOT NULL DEFAULT 0,
	error           TEXT    NOT NULL DEFAULT '',
	not_before      DATETIME,
	created_at      DATETIME DEFAULT CURRENT_TIMESTAMP,
	updated_at      DATETIME DEFAULT CURRENT_TIMESTAMP
);`

const ddlSMSLog = `CREATE TABLE IF NOT EXISTS sms_log (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	user_id      INTEGER NOT NULL REFERENCES users(id) ON DELETE CASCADE,
	client_id    INTEGER REFERENCES clients(id) ON DELETE SET NULL,
	provider_sid TEXT    NOT NULL DEFAULT '',
	status       TEXT    NOT NULL DEFAULT '',
	segments     INTEGER NOT NULL DEFAULT 0,
	encoding     TEXT    NOT NULL DEFAULT '',
	length       INTEGER NOT NULL DEFAULT 0,
	cost_base    REAL    NOT NULL DEFAULT 0,
	error        TEXT    NOT NULL DEFAULT '',
	created_at   DATETIME DEFAULT CURRENT_TIMESTAMP
);`

const ddlSMSLogIndex = `CREATE INDEX IF NOT EXISTS idx_sms_log_user ON sms_log(user_id, created_at);`

const ddlNotifications = `CREATE TABLE IF NOT EXISTS notifications (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	user_id    INTEGER NOT NULL REFERENCES users(id) ON DELETE CASCADE,
	type       TEXT    NOT NULL DEFAULT 'info',
	title      TEXT    NOT NULL DEFAULT '',
	message    TEXT    NOT NULL DEFAULT '',
	read       INTEGER NOT NULL DEFAULT 0,
	created_at DATETIME DEFAULT CURRENT_TIMESTAMP
);`

const ddlLogs = `CREATE TABLE IF NOT EXISTS logs (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	user_id    INTEGER REFERENCES users(id) ON DELETE SET NULL,
	level      TEXT    NOT NULL DEFAULT 'info',
	message    TEXT    NOT NULL,
	created_at DATETIME DEFAULT CURRENT_TIMESTAMP
);`

const ddlWebhooks = `CREATE TABLE IF NOT EXISTS webhooks (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	name        TEXT    NOT NULL,
	url         TEXT    NOT NULL,
	events      TEXT    NOT NULL DEFAULT '',
	secret      TEXT    NOT NULL DEFAULT '',
	enabled     INTEGER NOT NULL DEFAULT 1,
	last_status INTEGER NOT NULL DEFAULT 0,
	last_fired  DATETIME,
	created_at  DATETIME DEFAULT CURRENT_TIMESTAMP
);`
