package clients

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/NEXTmarketingSTUDIO/next-review-booster-sub000/internal/db"
)

// DefaultCompanyName is shown when the account has not set one.
const DefaultCompanyName = "Twoja Firma"

// ReviewForm is what the public review page shows a client.
type ReviewForm struct {
	ReviewCode  string `json:"review_code"`
	ClientName  string `json:"client_name"`
	CompanyName string `json:"company_name"`
	GoogleCard  string `json:"google_card,omitempty"`
	Completed   bool   `json:"completed"`

	UserID   int `json:"-"`
	ClientID int `json:"-"`
	// FirstOpen is set when this lookup moved the request to opened.
	FirstOpen bool `json:"-"`
}

// LookupReview resolves a review code, marks the request opened unless the
// review is already completed, and returns the form data.
func (s *Store) LookupReview(ctx context.Context, code string) (*ReviewForm, error) {
	code = strings.ToLower(strings.TrimSpace(code))
	if !IsValidCode(code) {
		return nil, ErrNotFound
	}
	var (
		f       ReviewForm
		name    string
		surname string
		status  string
		company sql.NullString
		card    sql.NullString
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT c.id, c.user_id, c.name, c.surname, c.review_status, a.company_name, a.google_card
		FROM clients c LEFT JOIN account_settings a ON a.user_id = c.user_id
		WHERE c.review_code=?`, code,
	).Scan(&f.ClientID, &f.UserID, &name, &surname, &status, &company, &card)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("clients.LookupReview: %w", err)
	}

	f.ReviewCode = code
	f.ClientName = strings.TrimSpace(name + " " + surname)
	f.CompanyName = DefaultCompanyName
	if company.Valid && strings.TrimSpace(company.String) != "" {
		f.CompanyName = company.String
	}
	f.GoogleCard = card.String
	f.Completed = status == db.ReviewCompleted

	if !f.Completed && status != db.ReviewOpened {
		if _, err := s.db.ExecContext(ctx,
			`UPDATE clients SET review_status=?, updated_at=CURRENT_TIMESTAMP WHERE id=?`,
			db.ReviewOpened, f.ClientID); err != nil {
			return nil, fmt.Errorf("clients.LookupReview: mark opened: %w", err)
		}
		f.FirstOpen = true
	}
	return &f, nil
}

// SubmitReview stores the client's rating and completes the request.
func (s *Store) SubmitReview(ctx context.Context, code string, stars int, review string) (*db.Client, error) {
	if stars < 1 || stars > 5 {
		return nil, ErrInvalidStars
	}
	code = strings.ToLower(strings.TrimSpace(code))
	if !IsValidCode(code) {
		return nil, ErrNotFound
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE clients SET stars=?, review=?, review_status=?, updated_at=CURRENT_TIMESTAMP
		WHERE review_code=?`,
		stars, strings.TrimSpace(review), db.ReviewCompleted, code)
	if err != nil {
		return nil, fmt.Errorf("clients.SubmitReview: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, ErrNotFound
	}
	c, err := scanClient(s.db.QueryRowContext(ctx,
		`SELECT `+clientColumns+` FROM clients WHERE review_code=?`, code))
	if err != nil {
		return nil, fmt.Errorf("clients.SubmitReview: reload: %w", err)
	}
	return c, nil
}
