// Package webhook fires outbound webhook events to registered URLs.
package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/NEXTmarketingSTUDIO/next-review-booster-sub000/internal/db"
)

// SignatureHeader carries hex(HMAC-SHA256(secret, body)) when a secret is set.
const SignatureHeader = "X-ReviewBooster-Signature"

// Dispatcher fires webhooks stored in the database.
type Dispatcher struct {
	database *db.DB
	client   *http.Client
	delays   []time.Duration
	wg       sync.WaitGroup
}

// New creates a Dispatcher with a default HTTP client.
func New(database *db.DB) *Dispatcher {
	return &Dispatcher{
		database: database,
		client:   &http.Client{Timeout: 10 * time.Second},
		delays:   []time.Duration{0, 500 * time.Millisecond, time.Second, 2 * time.Second},
	}
}

// Payload is the JSON body sent to webhook URLs.
type Payload struct {
	ID        string      `json:"id"`
	Event     string      `json:"event"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data"`
}

// Fire sends an event to all matching enabled webhook URLs in the
// background. Each delivery is tried up to 4 times (backoff 500ms, 1s, 2s).
func (d *Dispatcher) Fire(event string, data interface{}) {
	hooks, err := d.subscribers(event)
	if err != nil {
		log.Printf("webhook.Fire: %v", err)
		return
	}
	if len(hooks) == 0 {
		return
	}

	body, err := json.Marshal(Payload{ID: uuid.NewString(), Event: event, Timestamp: time.Now(), Data: data})
	if err != nil {
		log.Printf("webhook.Fire: marshal: %v", err)
		return
	}

	for _, wh := range hooks {
		d.wg.Add(1)
		go func(wh db.Webhook) {
			defer d.wg.Done()
			d.fireOne(wh, body)
		}(wh)
	}
}

// Wait blocks until every in-flight delivery has finished.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

func (d *Dispatcher) subscribers(event string) ([]db.Webhook, error) {
	rows, err := d.database.Query(`SELECT id, url, events, secret FROM webhooks WHERE enabled=1`)
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	defer rows.Close()

	var hooks []db.Webhook
	for rows.Next() {
		var wh db.Webhook
		if err := rows.Scan(&wh.ID, &wh.URL, &wh.Events, &wh.Secret); err != nil {
			continue
		}
		if wh.Events != "" && !matchesEvent(wh.Events, event) {
			continue
		}
		hooks = append(hooks, wh)
	}
	return hooks, rows.Err()
}

func (d *Dispatcher) fireOne(wh db.Webhook, body []byte) {
	var lastStatus int
	for i, delay := range d.delays {
		if delay > 0 {
			time.Sleep(delay)
		}
		status, err := d.post(context.Background(), wh.URL, wh.Secret, body)
		lastStatus = status
		if err == nil && status < 400 {
			break
		}
		log.Printf("webhook.fireOne: attempt %d to %s: status=%d err=%v", i+1, wh.URL, status, err)
	}
	if _, err := d.database.Exec(
		`UPDATE webhooks SET last_status=?, last_fired=? WHERE id=?`,
		lastStatus, db.Timestamp(time.Now()), wh.ID,
	); err != nil {
		log.Printf("webhook.fireOne: %d: record status: %v", wh.ID, err)
	}
}

func (d *Dispatcher) post(ctx context.Context, url, secret string, body []byte) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, 8*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("webhook.post: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if secret != "" {
		req.Header.Set(SignatureHeader, Sign(secret, body))
	}
	resp, err := d.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("webhook.post: do: %w", err)
	}
	defer resp.Body.Close()
	return resp.StatusCode, nil
}

// Sign returns the hex HMAC-SHA256 of body under secret.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func matchesEvent(events, event string) bool {
	for _, e := range strings.Split(events, ",") {
		if strings.TrimSpace(e) == event {
			return true
		}
	}
	return false
}

// TestWebhook fires a test payload to a single webhook by ID.
func (d *Dispatcher) TestWebhook(ctx context.Context, id int) error {
	wh, err := d.Get(ctx, id)
	if err != nil {
		return err
	}
	body, _ := json.Marshal(Payload{
		ID:        uuid.NewString(),
		Event:     "webhook.test",
		Timestamp: time.Now(),
		Data:      map[string]string{"message": "This is a test from review booster"},
	})
	status, err := d.post(ctx, wh.URL, wh.Secret, body)
	if err != nil {
		return fmt.Errorf("webhook.TestWebhook: post: %w", err)
	}
	if status >= 400 {
		return fmt.Errorf("webhook.TestWebhook: server returned %d", status)
	}
	return nil
}
