package webhook

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/NEXTmarketingSTUDIO/next-review-booster-sub000/internal/db"
)

// ErrNotFound is returned for an unknown webhook id.
var ErrNotFound = errors.New("webhook: not found")

// Input is the writable part of a webhook.
type Input struct {
	Name    string `json:"name"`
	URL     string `json:"url"`
	Events  string `json:"events"`
	Secret  string `json:"secret"`
	Enabled bool   `json:"enabled"`
}

const columns = `id, name, url, events, secret, enabled, last_status, last_fired, created_at`

func scan(row interface{ Scan(...any) error }) (db.Webhook, error) {
	var wh db.Webhook
	err := row.Scan(&wh.ID, &wh.Name, &wh.URL, &wh.Events, &wh.Secret,
		&wh.Enabled, &wh.LastStatus, &wh.LastFired, &wh.CreatedAt)
	return wh, err
}

// List returns every webhook ordered by id.
func (d *Dispatcher) List(ctx context.Context) ([]db.Webhook, error) {
	rows, err := d.database.QueryContext(ctx, `SELECT `+columns+` FROM webhooks ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("webhook.List: %w", err)
	}
	defer rows.Close()
	hooks := []db.Webhook{}
	for rows.Next() {
		wh, err := scan(rows)
		if err != nil {
			return nil, fmt.Errorf("webhook.List: scan: %w", err)
		}
		hooks = append(hooks, wh)
	}
	return hooks, rows.Err()
}

// Get returns one webhook.
func (d *Dispatcher) Get(ctx context.Context, id int) (db.Webhook, error) {
	wh, err := scan(d.database.QueryRowContext(ctx, `SELECT `+columns+` FROM webhooks WHERE id=?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return wh, ErrNotFound
	}
	if err != nil {
		return wh, fmt.Errorf("webhook.Get: %w", err)
	}
	return wh, nil
}

// Create stores a webhook and returns its id.
func (d *Dispatcher) Create(ctx context.Context, in Input) (int, error) {
	res, err := d.database.ExecContext(ctx,
		`INSERT INTO webhooks (name, url, events, secret, enabled) VALUES (?,?,?,?,?)`,
		in.Name, in.URL, in.Events, in.Secret, in.Enabled)
	if err != nil {
		return 0, fmt.Errorf("webhook.Create: %w", err)
	}
	id, _ := res.LastInsertId()
	return int(id), nil
}

// Update overwrites a webhook.
func (d *Dispatcher) Update(ctx context.Context, id int, in Input) error {
	res, err := d.database.ExecContext(ctx,
		`UPDATE webhooks SET name=?, url=?, events=?, secret=?, enabled=? WHERE id=?`,
		in.Name, in.URL, in.Events, in.Secret, in.Enabled, id)
	if err != nil {
		return fmt.Errorf("webhook.Update: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// Delete removes a webhook.
func (d *Dispatcher) Delete(ctx context.Context, id int) error {
	res, err := d.database.ExecContext(ctx, `DELETE FROM webhooks WHERE id=?`, id)
	if err != nil {
		return fmt.Errorf("webhook.Delete: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
