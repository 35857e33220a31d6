// Package queue manages the SQLite-backed SMS outbox.
package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/NEXTmarketingSTUDIO/next-review-booster-sub000/internal/db"
)

// ErrNotFound is returned for an unknown outbox item.
var ErrNotFound = errors.New("queue: item not found")

// MaxAttempts bounds gateway attempts per item before it is failed.
const MaxAttempts = 3

// Queue wraps the database and provides outbox operations.
type Queue struct {
	database *db.DB
	now      func() time.Time
}

// New creates a Queue.
func New(database *db.DB) *Queue {
	return &Queue{database: database, now: time.Now}
}

// ReminderKey is the idempotency key of the reminder that would be the
// client's sent+1-th message. Repeated sweeps map to the same key.
func ReminderKey(clientID, sent int) string {
	return fmt.Sprintf("reminder:%d:%d", clientID, sent+1)
}

// Enqueue inserts a pending send for clientID. An empty key gets a random
// one. created is false when an item with the same key already exists.
func (q *Queue) Enqueue(ctx context.Context, userID, clientID int, key string) (id int64, created bool, err error) {
	if key == "" {
		key = uuid.NewString()
	}
	res, err := q.database.ExecContext(ctx, `
		INSERT OR IGNORE INTO sms_outbox (user_id, client_id, idempotency_key, status)
		VALUES (?,?,?,?)`,
		userID, clientID, key, db.OutboxPending,
	)
	if err != nil {
		return 0, false, fmt.Errorf("queue.Enqueue: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		err = q.database.QueryRowContext(ctx,
			`SELECT id FROM sms_outbox WHERE idempotency_key=?`, key).Scan(&id)
		if err != nil {
			return 0, false, fmt.Errorf("queue.Enqueue: existing: %w", err)
		}
		return id, false, nil
	}
	id, err = res.LastInsertId()
	if err != nil {
		return 0, false, fmt.Errorf("queue.Enqueue: last insert id: %w", err)
	}
	return id, true, nil
}

const itemColumns = `id, user_id, client_id, idempotency_key, status, attempts, error,
	not_before, created_at, updated_at`

func scanItem(row interface{ Scan(...any) error }) (*db.OutboxItem, error) {
	var it db.OutboxItem
	if err := row.Scan(&it.ID, &it.UserID, &it.ClientID, &it.IdempotencyKey, &it.Status,
		&it.Attempts, &it.Error, &it.NotBefore, &it.CreatedAt, &it.UpdatedAt); err != nil {
		return nil, err
	}
	return &it, nil
}

// Dequeue atomically claims the oldest due pending item and marks it sending.
// Returns nil, nil when nothing is due.
func (q *Queue) Dequeue(ctx context.Context) (*db.OutboxItem, error) {
	tx, err := q.database.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("queue.Dequeue: begin tx: %w", err)
	}
	defer tx.Rollback()

	it, err := scanItem(tx.QueryRowContext(ctx, `
		SELECT `+itemColumns+` FROM sms_outbox
		WHERE status=? AND (not_before IS NULL OR not_before<=?)
		ORDER BY id ASC LIMIT 1`,
		db.OutboxPending, db.Timestamp(q.now()),
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("queue.Dequeue: select: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE sms_outbox SET status=?, attempts=attempts+1, updated_at=CURRENT_TIMESTAMP WHERE id=?`,
		db.OutboxSending, it.ID,
	)
	if err != nil {
		return nil, fmt.Errorf("queue.Dequeue: update status: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("queue.Dequeue: commit: %w", err)
	}

	it.Status = db.OutboxSending
	it.Attempts++
	return it, nil
}

// MarkSent completes an item.
func (q *Queue) MarkSent(ctx context.Context, id int) error {
	return q.setStatus(ctx, "queue.MarkSent", id, db.OutboxSent, "", nil)
}

// MarkFailed records errMsg. With a retry time and attempts left the item
// goes back to pending, otherwise it is failed for good.
func (q *Queue) MarkFailed(ctx context.Context, it *db.OutboxItem, errMsg string, retryAt *time.Time) error {
	if retryAt != nil && it.Attempts < MaxAttempts {
		return q.setStatus(ctx, "queue.MarkFailed", it.ID, db.OutboxPending, errMsg, retryAt)
	}
	return q.setStatus(ctx, "queue.MarkFailed", it.ID, db.OutboxFailed, errMsg, nil)
}

// Retry puts a failed item back in the queue with a fresh attempt budget.
func (q *Queue) Retry(ctx context.Context, id int) error {
	res, err := q.database.ExecContext(ctx, `
		UPDATE sms_outbox SET status=?, attempts=0, error='', not_before=NULL, updated_at=CURRENT_TIMESTAMP
		WHERE id=? AND status=?`,
		db.OutboxPending, id, db.OutboxFailed)
	if err != nil {
		return fmt.Errorf("queue.Retry: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// Wake clears the backoff of a pending item so the next free worker takes it.
func (q *Queue) Wake(ctx context.Context, id int) error {
	res, err := q.database.ExecContext(ctx, `
		UPDATE sms_outbox SET not_before=NULL, updated_at=CURRENT_TIMESTAMP WHERE id=? AND status=?`,
		id, db.OutboxPending)
	if err != nil {
		return fmt.Errorf("queue.Wake: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// RequeueStale returns items stuck in sending, after a crash, to pending.
func (q *Queue) RequeueStale(ctx context.Context) (int, error) {
	res, err := q.database.ExecContext(ctx, `
		UPDATE sms_outbox SET status=?, updated_at=CURRENT_TIMESTAMP WHERE status=?`,
		db.OutboxPending, db.OutboxSending)
	if err != nil {
		return 0, fmt.Errorf("queue.RequeueStale: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func (q *Queue) setStatus(ctx context.Context, op string, id int, status, errMsg string, notBefore *time.Time) error {
	var nb any
	if notBefore != nil {
		nb = db.Timestamp(*notBefore)
	}
	_, err := q.database.ExecContext(ctx, `
		UPDATE sms_outbox SET status=?, error=?, not_before=?, updated_at=CURRENT_TIMESTAMP WHERE id=?`,
		status, errMsg, nb, id,
	)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// Get fetches an item by ID.
func (q *Queue) Get(ctx context.Context, id int) (*db.OutboxItem, error) {
	it, err := scanItem(q.database.QueryRowContext(ctx,
		`SELECT `+itemColumns+` FROM sms_outbox WHERE id=?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("queue.Get: %w", err)
	}
	return it, nil
}

// List returns items, optionally filtered by status and account (userID 0
// means all), newest first.
func (q *Queue) List(ctx context.Context, userID int, status string, limit int) ([]db.OutboxItem, error) {
	where := `WHERE 1=1`
	var args []any
	if userID > 0 {
		where += ` AND user_id=?`
		args = append(args, userID)
	}
	if status != "" {
		where += ` AND status=?`
		args = append(args, status)
	}
	if limit <= 0 {
		limit = 50
	}
	rows, err := q.database.QueryContext(ctx,
		`SELECT `+itemColumns+` FROM sms_outbox `+where+` ORDER BY id DESC LIMIT ?`,
		append(args, limit)...)
	if err != nil {
		return nil, fmt.Errorf("queue.List: %w", err)
	}
	defer rows.Close()
	items := []db.OutboxItem{}
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("queue.List: scan: %w", err)
		}
		items = append(items, *it)
	}
	return items, rows.Err()
}

// Counts returns the number of items per status.
func (q *Queue) Counts(ctx context.Context) (map[string]int, error) {
	rows, err := q.database.QueryContext(ctx, `SELECT status, COUNT(*) FROM sms_outbox GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("queue.Counts: %w", err)
	}
	defer rows.Close()
	out := map[string]int{
		db.OutboxPending: 0, db.OutboxSending: 0, db.OutboxSent: 0, db.OutboxFailed: 0,
	}
	for rows.Next() {
		var s string
		var n int
		if err := rows.Scan(&s, &n); err != nil {
			return nil, fmt.Errorf("queue.Counts: scan: %w", err)
		}
		out[s] = n
	}
	return out, rows.Err()
}
