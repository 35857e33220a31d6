package clients

import (
	"context"
	"fmt"
	"strings"

	"github.com/NEXTmarketingSTUDIO/next-review-booster-sub000/internal/db"
)

// Filter narrows and orders List results. Empty fields and "all" match
// everything.
type Filter struct {
	ReviewStatus string // not_sent, sent, opened, completed
	SMSStatus    string // sent, not_sent, limit_reached
	Rating       string // no_rating, has_rating, low_rating
	Search       string
	Sort         string // name_asc, name_desc, date_asc, date_desc, rating_asc, rating_desc
	Limit        int
	Offset       int
}

var sortClauses = map[string]string{
	"name_asc":    "name COLLATE NOCASE ASC, id ASC",
	"name_desc":   "name COLLATE NOCASE DESC, id DESC",
	"date_asc":    "COALESCE(last_sms_sent, '') ASC, id ASC",
	"date_desc":   "COALESCE(last_sms_sent, '') DESC, id DESC",
	"rating_asc":  "stars ASC, id ASC",
	"rating_desc": "stars DESC, id DESC",
	"created":     "id DESC",
}

func set(v string) bool { return v != "" && v != "all" }

// List returns the account's clients matching f and the total match count.
func (s *Store) List(ctx context.Context, userID int, f Filter) ([]db.Client, int, error) {
	where := []string{"user_id=?"}
	args := []any{userID}

	if set(f.ReviewStatus) {
		if !validStatus(f.ReviewStatus) {
			return nil, 0, fmt.Errorf("%w: unknown review status %q", ErrInvalidInput, f.ReviewStatus)
		}
		where = append(where, "review_status=?")
		args = append(args, f.ReviewStatus)
	}
	if set(f.SMSStatus) {
		switch f.SMSStatus {
		case "sent":
			where = append(where, "sms_count>0")
		case "not_sent":
			where = append(where, "sms_count=0")
		case "limit_reached":
			where = append(where, "sms_count>=?")
			args = append(args, db.MaxSMSPerClient)
		default:
			return nil, 0, fmt.Errorf("%w: unknown sms status %q", ErrInvalidInput, f.SMSStatus)
		}
	}
	if set(f.Rating) {
		switch f.Rating {
		case "no_rating":
			where = append(where, "stars=0")
		case "has_rating":
			where = append(where, "stars>0")
		case "low_rating":
			where = append(where, "stars BETWEEN 1 AND 4")
		default:
			return nil, 0, fmt.Errorf("%w: unknown rating filter %q", ErrInvalidInput, f.Rating)
		}
	}
	if q := strings.TrimSpace(f.Search); q != "" {
		like := "%" + strings.ToLower(q) + "%"
		where = append(where, "(LOWER(name) LIKE ? OR LOWER(surname) LIKE ? OR phone LIKE ? OR LOWER(email) LIKE ?)")
		args = append(args, like, like, like, like)
	}

	order, ok := sortClauses[f.Sort]
	if !ok {
		order = sortClauses["name_asc"]
	}
	if f.Limit <= 0 || f.Limit > 500 {
		f.Limit = 100
	}
	if f.Offset < 0 {
		f.Offset = 0
	}

	cond := strings.Join(where, " AND ")
	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM clients WHERE `+cond, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("clients.List: count: %w", err)
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+clientColumns+` FROM clients WHERE `+cond+` ORDER BY `+order+` LIMIT ? OFFSET ?`,
		append(args, f.Limit, f.Offset)...)
	if err != nil {
		return nil, 0, fmt.Errorf("clients.List: %w", err)
	}
	defer rows.Close()
	list, err := scanClients(rows)
	if err != nil {
		return nil, 0, err
	}
	return list, total, nil
}
