// Package settings stores per-account profile and messaging preferences and
// validates message templates against the SMS length limit.
package settings

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/NEXTmarketingSTUDIO/next-review-booster-sub000/internal/clients"
	"github.com/NEXTmarketingSTUDIO/next-review-booster-sub000/internal/config"
	"github.com/NEXTmarketingSTUDIO/next-review-booster-sub000/internal/db"
	"github.com/NEXTmarketingSTUDIO/next-review-booster-sub000/internal/smscost"
)

// DefaultTemplate is used by accounts that never saved one. It renders to
// 191 characters with a production review link.
const DefaultTemplate = "Bardzo prosimy o zostawienie opinii o naszych usługach: [LINK]\n" +
	"Wasza opinia ma dla nas ogromne znaczenie i pomoże kolejnym klientom w wyborze.\n\n" +
	"Dziękujemy!"

// Reminder frequency bounds, in days.
const (
	DefaultReminderFrequency = 7
	MinReminderFrequency     = 1
	MaxReminderFrequency     = 30
)

var (
	ErrInvalidFrequency = errors.New("settings: reminder frequency out of range")
	ErrMissingField     = errors.New("settings: required field missing")
)

// Store reads and writes account_settings rows.
type Store struct {
	db        *db.DB
	pricing   config.Pricing
	estimator *smscost.Estimator
}

// New returns a Store validating templates with pricing.
func New(database *db.DB, pricing config.Pricing) *Store {
	return &Store{db: database, pricing: pricing, estimator: pricing.Estimator()}
}

// Defaults returns the settings of an account that saved nothing.
func Defaults(userID int) db.AccountSettings {
	return db.AccountSettings{
		UserID:            userID,
		ReminderFrequency: DefaultReminderFrequency,
		MessageTemplate:   DefaultTemplate,
	}
}

// Get returns the account's settings, or Defaults when none are stored.
func (s *Store) Get(ctx context.Context, userID int) (db.AccountSettings, error) {
	as := db.AccountSettings{UserID: userID}
	err := s.db.QueryRowContext(ctx, `
		SELECT name, surname, email, company_name, google_card, reminder_frequency,
		       message_template, auto_send_enabled, updated_at
		FROM account_settings WHERE user_id=?`, userID,
	).Scan(&as.Name, &as.Surname, &as.Email, &as.CompanyName, &as.GoogleCard,
		&as.ReminderFrequency, &as.MessageTemplate, &as.AutoSendEnabled, &as.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Defaults(userID), nil
	}
	if err != nil {
		return as, fmt.Errorf("settings.Get: %w", err)
	}
	if strings.TrimSpace(as.MessageTemplate) == "" {
		as.MessageTemplate = DefaultTemplate
	}
	return as, nil
}

// Validate checks the frequency range and that the template, rendered with
// the account's company name and a sample link, fits the length limit.
// Length violations are returned as *smscost.LengthError.
func (s *Store) Validate(as db.AccountSettings) error {
	if as.ReminderFrequency < MinReminderFrequency || as.ReminderFrequency > MaxReminderFrequency {
		return fmt.Errorf("%w: %d (allowed %d-%d)", ErrInvalidFrequency,
			as.ReminderFrequency, MinReminderFrequency, MaxReminderFrequency)
	}
	if strings.TrimSpace(as.Name) == "" || strings.TrimSpace(as.Email) == "" {
		return fmt.Errorf("%w: name and email are required", ErrMissingField)
	}
	rendered := smscost.Render(as.MessageTemplate, smscost.RenderContext{
		LinkValue:   s.pricing.SampleLink,
		CompanyName: as.CompanyName,
	})
	return smscost.CheckLength(rendered, s.pricing.MaxMessageLength)
}

// Put validates and upserts the account's settings.
func (s *Store) Put(ctx context.Context, as db.AccountSettings) (db.AccountSettings, error) {
	if strings.TrimSpace(as.MessageTemplate) == "" {
		as.MessageTemplate = DefaultTemplate
	}
	if err := s.Validate(as); err != nil {
		return as, err
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO account_settings (user_id, name, surname, email, company_name, google_card,
			reminder_frequency, message_template, auto_send_enabled, updated_at)
		VALUES (?,?,?,?,?,?,?,?,?,CURRENT_TIMESTAMP)
		ON CONFLICT(user_id) DO UPDATE SET
			name=excluded.name, surname=excluded.surname, email=excluded.email,
			company_name=excluded.company_name, google_card=excluded.google_card,
			reminder_frequency=excluded.reminder_frequency,
			message_template=excluded.message_template,
			auto_send_enabled=excluded.auto_send_enabled,
			updated_at=CURRENT_TIMESTAMP`,
		as.UserID, as.Name, as.Surname, as.Email, as.CompanyName, as.GoogleCard,
		as.ReminderFrequency, as.MessageTemplate, as.AutoSendEnabled)
	if err != nil {
		return as, fmt.Errorf("settings.Put: %w", err)
	}
	return s.Get(ctx, as.UserID)
}

// AutoSendAccounts returns the settings of every account with automatic
// reminders switched on.
func (s *Store) AutoSendAccounts(ctx context.Context) ([]db.AccountSettings, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT user_id, company_name, reminder_frequency, message_template
		FROM account_settings WHERE auto_send_enabled=1 ORDER BY user_id`)
	if err != nil {
		return nil, fmt.Errorf("settings.AutoSendAccounts: %w", err)
	}
	defer rows.Close()
	var out []db.AccountSettings
	for rows.Next() {
		as := db.AccountSettings{AutoSendEnabled: true}
		if err := rows.Scan(&as.UserID, &as.CompanyName, &as.ReminderFrequency, &as.MessageTemplate); err != nil {
			return nil, fmt.Errorf("settings.AutoSendAccounts: scan: %w", err)
		}
		out = append(out, as)
	}
	return out, rows.Err()
}

// Preview is the live cost readout of the template editor.
type Preview struct {
	Rendered  string               `json:"rendered"`
	Estimate  smscost.CostEstimate `json:"estimate"`
	MaxLength int                  `json:"max_length"`
	TooLong   bool                 `json:"too_long"`
	// MissingCompany is set when [NAZWA_FIRMY] stayed unresolved.
	MissingCompany bool `json:"missing_company"`
}

// Preview renders tmpl for company with the sample link and prices one
// message at rate.
func (s *Store) Preview(tmpl, company string, rate float64) Preview {
	rendered := smscost.Render(tmpl, smscost.RenderContext{LinkValue: s.pricing.SampleLink, CompanyName: company})
	est := s.estimator.QuoteRendered(rendered, 1, rate)
	return Preview{
		Rendered:       rendered,
		Estimate:       est,
		MaxLength:      s.pricing.MaxMessageLength,
		TooLong:        smscost.CheckLength(rendered, s.pricing.MaxMessageLength) != nil,
		MissingCompany: strings.Contains(rendered, smscost.TokenCompany),
	}
}

// CompanyName returns the account's company name or the review form default.
func (s *Store) CompanyName(ctx context.Context, userID int) string {
	as, err := s.Get(ctx, userID)
	if err != nil || strings.TrimSpace(as.CompanyName) == "" {
		return clients.DefaultCompanyName
	}
	return as.CompanyName
}
