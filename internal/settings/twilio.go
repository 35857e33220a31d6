package settings

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/NEXTmarketingSTUDIO/next-review-booster-sub000/internal/db"
)

// Twilio returns the account's own gateway credentials. ok is false when the
// account has none stored.
func (s *Store) Twilio(ctx context.Context, userID int) (cfg db.TwilioConfig, ok bool, err error) {
	cfg.UserID = userID
	err = s.db.QueryRowContext(ctx, `
		SELECT account_sid, auth_token, phone_number, messaging_service_sid, updated_at
		FROM twilio_configs WHERE user_id=?`, userID,
	).Scan(&cfg.AccountSID, &cfg.AuthToken, &cfg.PhoneNumber, &cfg.MessagingServiceSID, &cfg.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return cfg, false, nil
	}
	if err != nil {
		return cfg, false, fmt.Errorf("settings.Twilio: %w", err)
	}
	return cfg, cfg.AccountSID != "" && cfg.AuthToken != "", nil
}

// PutTwilio upserts the account's gateway credentials. An empty auth token
// keeps the stored one so the secret never has to round-trip the UI.
func (s *Store) PutTwilio(ctx context.Context, cfg db.TwilioConfig) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO twilio_configs (user_id, account_sid, auth_token, phone_number, messaging_service_sid, updated_at)
		VALUES (?,?,?,?,?,CURRENT_TIMESTAMP)
		ON CONFLICT(user_id) DO UPDATE SET
			account_sid=excluded.account_sid,
			auth_token=CASE WHEN excluded.auth_token='' THEN twilio_configs.auth_token ELSE excluded.auth_token END,
			phone_number=excluded.phone_number,
			messaging_service_sid=excluded.messaging_service_sid,
			updated_at=CURRENT_TIMESTAMP`,
		cfg.UserID, cfg.AccountSID, cfg.AuthToken, cfg.PhoneNumber, cfg.MessagingServiceSID)
	if err != nil {
		return fmt.Errorf("settings.PutTwilio: %w", err)
	}
	return nil
}
