// Package clients manages an account's customers and their review requests.
package clients

import (
	"context"
	"crypto/rand"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/NEXTmarketingSTUDIO/next-review-booster-sub000/internal/db"
)

var (
	ErrNotFound     = errors.New("clients: not found")
	ErrInvalidInput = errors.New("clients: invalid input")
	ErrInvalidStars = errors.New("clients: stars must be between 1 and 5")
	ErrNoSlot       = errors.New("clients: no review request slot left")
)

// CodeLength is the length of a review code.
const CodeLength = 10

const codeAlphabet = "abcdefghijklmnopqrstuvwxyz0123456789"

// GenerateCode returns a random review code of CodeLength characters from
// [a-z0-9].
func GenerateCode() (string, error) {
	// 252 is the largest multiple of 36 below 256; higher bytes are rejected
	// so every character is equally likely.
	out := make([]byte, 0, CodeLength)
	buf := make([]byte, CodeLength*2)
	for len(out) < CodeLength {
		if _, err := rand.Read(buf); err != nil {
			return "", fmt.Errorf("clients.GenerateCode: %w", err)
		}
		for _, b := range buf {
			if b >= 252 {
				continue
			}
			out = append(out, codeAlphabet[int(b)%len(codeAlphabet)])
			if len(out) == CodeLength {
				break
			}
		}
	}
	return string(out), nil
}

// IsValidCode reports whether code has the shape GenerateCode produces.
func IsValidCode(code string) bool {
	if len(code) != CodeLength {
		return false
	}
	for _, c := range code {
		if !strings.ContainsRune(codeAlphabet, c) {
			return false
		}
	}
	return true
}

// Input is the payload for creating a client.
type Input struct {
	Name    string `json:"name"`
	Surname string `json:"surname"`
	Phone   string `json:"phone"`
	Email   string `json:"email"`
	Note    string `json:"note"`
}

// Patch holds the fields of an update. Nil fields are left unchanged.
type Patch struct {
	Name         *string `json:"name"`
	Surname      *string `json:"surname"`
	Phone        *string `json:"phone"`
	Email        *string `json:"email"`
	Note         *string `json:"note"`
	Stars        *int    `json:"stars"`
	Review       *string `json:"review"`
	ReviewStatus *string `json:"review_status"`
}

// Store persists clients.
type Store struct {
	db *db.DB
}

// New creates a Store.
func New(database *db.DB) *Store {
	return &Store{db: database}
}

const clientColumns = `id, user_id, name, surname, phone, email, note, stars, review,
	review_code, review_status, sms_count, last_sms_sent, created_at, updated_at`

func scanClient(row interface{ Scan(...any) error }) (*db.Client, error) {
	var c db.Client
	err := row.Scan(&c.ID, &c.UserID, &c.Name, &c.Surname, &c.Phone, &c.Email, &c.Note,
		&c.Stars, &c.Review, &c.ReviewCode, &c.ReviewStatus, &c.SMSCount, &c.LastSMSSent,
		&c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// Create inserts a client with a fresh review code and status not_sent.
func (s *Store) Create(ctx context.Context, userID int, in Input) (*db.Client, error) {
	in.Name = strings.TrimSpace(in.Name)
	if in.Name == "" {
		return nil, fmt.Errorf("%w: name is required", ErrInvalidInput)
	}
	for attempt := 0; attempt < 5; attempt++ {
		code, err := GenerateCode()
		if err != nil {
			return nil, err
		}
		res, err := s.db.ExecContext(ctx, `
			INSERT INTO clients (user_id, name, surname, phone, email, note, review_code, review_status)
			VALUES (?,?,?,?,?,?,?,?)`,
			userID, in.Name, strings.TrimSpace(in.Surname), strings.TrimSpace(in.Phone),
			strings.TrimSpace(in.Email), in.Note, code, db.ReviewNotSent)
		if err != nil {
			if strings.Contains(err.Error(), "UNIQUE") {
				continue
			}
			return nil, fmt.Errorf("clients.Create: %w", err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return nil, fmt.Errorf("clients.Create: last insert id: %w", err)
		}
		return s.Get(ctx, userID, int(id))
	}
	return nil, fmt.Errorf("clients.Create: could not allocate a unique review code")
}

// Get returns one of the account's clients.
func (s *Store) Get(ctx context.Context, userID, id int) (*db.Client, error) {
	c, err := scanClient(s.db.QueryRowContext(ctx,
		`SELECT `+clientColumns+` FROM clients WHERE id=? AND user_id=?`, id, userID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("clients.Get: %w", err)
	}
	return c, nil
}

// Update applies the non-nil fields of p.
func (s *Store) Update(ctx context.Context, userID, id int, p Patch) (*db.Client, error) {
	var sets []string
	var args []any
	str := func(col string, v *string) {
		if v != nil {
			sets = append(sets, col+"=?")
			args = append(args, strings.TrimSpace(*v))
		}
	}
	if p.Name != nil && strings.TrimSpace(*p.Name) == "" {
		return nil, fmt.Errorf("%w: name must not be empty", ErrInvalidInput)
	}
	if p.Stars != nil && (*p.Stars < 0 || *p.Stars > 5) {
		return nil, ErrInvalidStars
	}
	if p.ReviewStatus != nil && !validStatus(*p.ReviewStatus) {
		return nil, fmt.Errorf("%w: unknown review status %q", ErrInvalidInput, *p.ReviewStatus)
	}
	str("name", p.Name)
	str("surname", p.Surname)
	str("phone", p.Phone)
	str("email", p.Email)
	str("note", p.Note)
	str("review", p.Review)
	str("review_status", p.ReviewStatus)
	if p.Stars != nil {
		sets = append(sets, "stars=?")
		args = append(args, *p.Stars)
	}
	if len(sets) == 0 {
		return s.Get(ctx, userID, id)
	}
	sets = append(sets, "updated_at=CURRENT_TIMESTAMP")
	args = append(args, id, userID)
	res, err := s.db.ExecContext(ctx,
		`UPDATE clients SET `+strings.Join(sets, ", ")+` WHERE id=? AND user_id=?`, args...)
	if err != nil {
		return nil, fmt.Errorf("clients.Update: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, ErrNotFound
	}
	return s.Get(ctx, userID, id)
}

func validStatus(s string) bool {
	switch s {
	case db.ReviewNotSent, db.ReviewSent, db.ReviewOpened, db.ReviewCompleted:
		return true
	}
	return false
}

// Delete removes one of the account's clients.
func (s *Store) Delete(ctx context.Context, userID, id int) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM clients WHERE id=? AND user_id=?`, id, userID)
	if err != nil {
		return fmt.Errorf("clients.Delete: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// ReserveSend claims one of the client's review request slots before the
// message goes out. It fails with ErrNoSlot when the client has no phone or
// review code, already left a review, or used every slot.
func (s *Store) ReserveSend(ctx context.Context, id int) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE clients SET sms_count=sms_count+1, updated_at=CURRENT_TIMESTAMP
		WHERE id=? AND phone<>'' AND review_code<>'' AND review_status<>? AND sms_count<?`,
		id, db.ReviewCompleted, db.MaxSMSPerClient)
	if err != nil {
		return fmt.Errorf("clients.ReserveSend: %w", err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return fmt.Errorf("clients.ReserveSend: %w", err)
	} else if n != 1 {
		return ErrNoSlot
	}
	return nil
}

// ReleaseSend gives back a slot taken by ReserveSend when the gateway did
// not accept the message.
func (s *Store) ReleaseSend(ctx context.Context, id int) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE clients SET sms_count=sms_count-1, updated_at=CURRENT_TIMESTAMP
		WHERE id=? AND sms_count>0`, id)
	if err != nil {
		return fmt.Errorf("clients.ReleaseSend: %w", err)
	}
	return nil
}

// RecordSent stamps a delivered review request on a reserved slot and marks
// the client sent, keeping a status that is already further along.
func (s *Store) RecordSent(ctx context.Context, id int, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE clients
		SET last_sms_sent=?,
		    review_status=CASE WHEN review_status=? THEN ? ELSE review_status END,
		    updated_at=CURRENT_TIMESTAMP
		WHERE id=?`,
		db.Timestamp(at), db.ReviewNotSent, db.ReviewSent, id)
	if err != nil {
		return fmt.Errorf("clients.RecordSent: %w", err)
	}
	return nil
}

// Eligible reports whether c may receive another review request.
func Eligible(c *db.Client) bool {
	return strings.TrimSpace(c.Phone) != "" &&
		c.ReviewCode != "" &&
		c.ReviewStatus != db.ReviewCompleted &&
		c.SMSCount < db.MaxSMSPerClient
}

// ListEligible returns the account's clients that may receive a review
// request.
func (s *Store) ListEligible(ctx context.Context, userID int) ([]db.Client, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+clientColumns+` FROM clients
		WHERE user_id=? AND phone<>'' AND review_code<>'' AND review_status<>? AND sms_count<?
		ORDER BY id`, userID, db.ReviewCompleted, db.MaxSMSPerClient)
	if err != nil {
		return nil, fmt.Errorf("clients.ListEligible: %w", err)
	}
	defer rows.Close()
	return scanClients(rows)
}

// DueForReminder returns eligible clients of userID whose last request is
// older than frequency days before now.
func (s *Store) DueForReminder(ctx context.Context, userID, frequency int, now time.Time) ([]db.Client, error) {
	cutoff := now.AddDate(0, 0, -frequency)
	rows, err := s.db.QueryContext(ctx, `SELECT `+clientColumns+` FROM clients
		WHERE user_id=? AND phone<>'' AND review_code<>'' AND review_status<>? AND sms_count<?
		  AND last_sms_sent IS NOT NULL AND last_sms_sent<=?
		ORDER BY last_sms_sent`,
		userID, db.ReviewCompleted, db.MaxSMSPerClient, db.Timestamp(cutoff))
	if err != nil {
		return nil, fmt.Errorf("clients.DueForReminder: %w", err)
	}
	defer rows.Close()
	return scanClients(rows)
}

func scanClients(rows *sql.Rows) ([]db.Client, error) {
	out := []db.Client{}
	for rows.Next() {
		c, err := scanClient(rows)
		if err != nil {
			return nil, fmt.Errorf("clients.scan: %w", err)
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}
