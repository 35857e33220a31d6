// Package config loads daemon configuration from environment variables.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/NEXTmarketingSTUDIO/next-review-booster-sub000/internal/platform"
)

// Config holds all runtime configuration for the review booster daemon.
type Config struct {
	Port    string
	WorkDir string
	DBPath  string

	AdminUsername string
	AdminPassword string

	TelegramToken  string
	TelegramChatID int64

	SessionExpiryHours     int
	BruteForceMaxAttempts  int
	BruteForceBlockMinutes int

	// PublicReviewURL is the link base; a client's link is PublicReviewURL/<review_code>.
	PublicReviewURL string
	// PublicSignupURL is the base of the self-service signup page encoded in
	// an account's QR code: PublicSignupURL/<username>.
	PublicSignupURL string

	Twilio     TwilioConfig
	SMSDryRun  bool
	SMSWorkers int

	NBPBaseURL   string
	RateCurrency string
	RateTTL      time.Duration

	PricingFile  string
	ReminderCron string

	AllowedOrigins []string
}

// TwilioConfig is the deployment-wide gateway account. Accounts may
// override it with their own credentials.
type TwilioConfig struct {
	AccountSID          string
	AuthToken           string
	From                string
	MessagingServiceSID string
}

// Configured reports whether enough is set to send through Twilio.
func (t TwilioConfig) Configured() bool {
	return t.AccountSID != "" && t.AuthToken != "" && (t.From != "" || t.MessagingServiceSID != "")
}

// Load reads environment variables and returns a Config.
// Uses sensible defaults for optional fields.
// Panics if required fields are empty.
func Load() *Config {
	workDir := getEnv("WORK_DIR", platform.DefaultWorkDir())

	dbPath := getEnv("DB_PATH", filepath.Join(workDir, "reviewbooster.db"))
	if dbPath == "" {
		panic("config: DB_PATH is required")
	}

	chatID, _ := strconv.ParseInt(os.Getenv("TELEGRAM_CHAT_ID"), 10, 64)

	return &Config{
		Port:    getEnv("PORT", "8080"),
		WorkDir: workDir,
		DBPath:  dbPath,

		AdminUsername: getEnv("ADMIN_USERNAME", "admin"),
		AdminPassword: getEnv("ADMIN_PASSWORD", "changeme"),

		TelegramToken:  os.Getenv("TELEGRAM_TOKEN"),
		TelegramChatID: chatID,

		SessionExpiryHours:     getEnvInt("SESSION_EXPIRY_HOURS", 24),
		BruteForceMaxAttempts:  getEnvInt("BRUTE_FORCE_MAX_ATTEMPTS", 5),
		BruteForceBlockMinutes: getEnvInt("BRUTE_FORCE_BLOCK_MINUTES", 15),

		PublicReviewURL: strings.TrimRight(getEnv("PUBLIC_REVIEW_URL", "next-reviews-booster.com/review"), "/"),
		PublicSignupURL: strings.TrimRight(getEnv("PUBLIC_SIGNUP_URL", "next-reviews-booster.com/client-login"), "/"),

		Twilio: TwilioConfig{
			AccountSID:          os.Getenv("TWILIO_ACCOUNT_SID"),
			AuthToken:           os.Getenv("TWILIO_AUTH_TOKEN"),
			From:                os.Getenv("TWILIO_FROM"),
			MessagingServiceSID: os.Getenv("TWILIO_MESSAGING_SERVICE_SID"),
		},
		SMSDryRun:  getEnvBool("SMS_DRY_RUN", false),
		SMSWorkers: getEnvInt("SMS_WORKERS", 2),

		NBPBaseURL:   getEnv("NBP_BASE_URL", "https://api.nbp.pl"),
		RateCurrency: strings.ToLower(getEnv("RATE_CURRENCY", "usd")),
		RateTTL:      time.Duration(getEnvInt("RATE_TTL_MINUTES", 60)) * time.Minute,

		PricingFile:  os.Getenv("PRICING_FILE"),
		ReminderCron: getEnv("REMINDER_CRON", "0 0 * * * *"),

		AllowedOrigins: splitList(os.Getenv("ALLOWED_ORIGINS")),
	}
}

// ReviewLink returns the public link for a review code.
func (c *Config) ReviewLink(code string) string {
	return c.PublicReviewURL + "/" + code
}

// SignupLink returns the signup page of the account named username.
func (c *Config) SignupLink(username string) string {
	return c.PublicSignupURL + "/" + username
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// LoadEnvFile sets KEY=value pairs from path as environment variables.
// Variables already present in the environment win. A missing file is not
// an error.
func LoadEnvFile(path string) error {
	data, err := os.ReadFile(path) // #nosec G304 -- operator-supplied path
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("config.LoadEnvFile: %w", err)
	}
	for n, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, val, ok := strings.Cut(line, "=")
		key = strings.TrimSpace(strings.TrimPrefix(key, "export "))
		if !ok || key == "" {
			return fmt.Errorf("config.LoadEnvFile: %s:%d: expected KEY=value", path, n+1)
		}
		val = strings.Trim(strings.TrimSpace(val), `"'`)
		if _, set := os.LookupEnv(key); set {
			continue
		}
		if err := os.Setenv(key, val); err != nil {
			return fmt.Errorf("config.LoadEnvFile: %w", err)
		}
	}
	return nil
}
