package notify

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/NEXTmarketingSTUDIO/next-review-booster-sub000/internal/cache"
	"github.com/NEXTmarketingSTUDIO/next-review-booster-sub000/internal/db"
)

// ErrNotFound is returned for a notification that does not exist or belongs
// to another account.
var ErrNotFound = errors.New("notify: notification not found")

// UnreadTTL bounds how stale the unread badge may be.
const UnreadTTL = 2 * time.Minute

// Notification levels.
const (
	LevelInfo    = "info"
	LevelSuccess = "success"
	LevelWarning = "warning"
	LevelError   = "error"
)

// Store persists in-app notifications.
type Store struct {
	db     *db.DB
	unread *cache.Keyed[int, int]
}

// NewStore creates a Store with a cached unread counter.
func NewStore(database *db.DB, opts ...cache.Option) *Store {
	s := &Store{db: database}
	s.unread = cache.NewKeyed(UnreadTTL, s.countUnread, opts...)
	return s
}

// Forget drops the cached unread count of a deleted account.
func (s *Store) Forget(userID int) {
	s.unread.Forget(userID)
}

func (s *Store) countUnread(ctx context.Context, userID int) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM notifications WHERE user_id=? AND read=0`, userID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("notify.countUnread: %w", err)
	}
	return n, nil
}

// Create stores a notification for userID.
func (s *Store) Create(ctx context.Context, userID int, level, title, message string) (*db.Notification, error) {
	if level == "" {
		level = LevelInfo
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO notifications (user_id, type, title, message) VALUES (?,?,?,?)`,
		userID, level, title, message)
	if err != nil {
		return nil, fmt.Errorf("notify.Create: %w", err)
	}
	s.unread.Invalidate(userID)
	id, _ := res.LastInsertId()
	n := &db.Notification{ID: int(id), UserID: userID, Type: level, Title: title, Message: message}
	if err := s.db.QueryRowContext(ctx, `SELECT created_at FROM notifications WHERE id=?`, id).Scan(&n.CreatedAt); err != nil {
		log.Printf("notify.Create: read back %d: %v", id, err)
	}
	return n, nil
}

// List returns the account's notifications, newest first, and the total.
func (s *Store) List(ctx context.Context, userID int, unreadOnly bool, limit, offset int) ([]db.Notification, int, error) {
	where := `WHERE user_id=?`
	if unreadOnly {
		where += ` AND read=0`
	}
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM notifications `+where, userID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("notify.List: count: %w", err)
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, type, title, message, read, created_at
		FROM notifications `+where+` ORDER BY id DESC LIMIT ? OFFSET ?`,
		userID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("notify.List: %w", err)
	}
	defer rows.Close()
	out := []db.Notification{}
	for rows.Next() {
		var n db.Notification
		if err := rows.Scan(&n.ID, &n.UserID, &n.Type, &n.Title, &n.Message, &n.Read, &n.CreatedAt); err != nil {
			return nil, 0, fmt.Errorf("notify.List: scan: %w", err)
		}
		out = append(out, n)
	}
	return out, total, rows.Err()
}

// UnreadCount returns the cached unread count. On a failed refresh the last
// known count is returned.
func (s *Store) UnreadCount(ctx context.Context, userID int) (int, error) {
	n, err := s.unread.Get(ctx, userID)
	if errors.Is(err, cache.ErrStale) {
		return n, nil
	}
	return n, err
}

// MarkRead marks one notification read.
func (s *Store) MarkRead(ctx context.Context, userID, id int) error {
	return s.exec(ctx, "notify.MarkRead", true, `UPDATE notifications SET read=1 WHERE id=? AND user_id=?`, id, userID)
}

// MarkAllRead marks every notification of the account read.
func (s *Store) MarkAllRead(ctx context.Context, userID int) error {
	return s.exec(ctx, "notify.MarkAllRead", false, `UPDATE notifications SET read=1 WHERE user_id=? AND read=0`, userID)
}

// Delete removes one notification.
func (s *Store) Delete(ctx context.Context, userID, id int) error {
	return s.exec(ctx, "notify.Delete", true, `DELETE FROM notifications WHERE id=? AND user_id=?`, id, userID)
}

// DeleteAll removes every notification of the account.
func (s *Store) DeleteAll(ctx context.Context, userID int) error {
	return s.exec(ctx, "notify.DeleteAll", false, `DELETE FROM notifications WHERE user_id=?`, userID)
}

// exec runs a mutation and drops the cached unread count. The account id is
// always the last argument.
func (s *Store) exec(ctx context.Context, op string, mustMatch bool, query string, args ...any) error {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if userID, ok := args[len(args)-1].(int); ok {
		s.unread.Invalidate(userID)
	}
	if mustMatch {
		if n, _ := res.RowsAffected(); n == 0 {
			return ErrNotFound
		}
	}
	return nil
}
