// Package notify provides a notification dispatcher that routes events to configured adapters.
package notify

import (
	"context"
	"fmt"
	"log"

	"github.com/NEXTmarketingSTUDIO/next-review-booster-sub000/internal/quota"
	"github.com/NEXTmarketingSTUDIO/next-review-booster-sub000/internal/ws"
)

// Sender can send a plain text message.
type Sender interface {
	Send(msg string) error
}

// WebhookFirer can fire a webhook event.
type WebhookFirer interface {
	Fire(event string, payload interface{})
}

// Broadcaster pushes live events to connected dashboards.
type Broadcaster interface {
	Broadcast(msg ws.WSMessage)
}

// Event is something that happened to an account.
type Event struct {
	UserID   int
	Type     string // ws.Type* constant, also used as the webhook event name
	ClientID int
	Data     interface{}

	// Title and Message, when set, create an in-app notification.
	Title   string
	Message string
	Level   string

	// Alert also sends Message to the operator over Telegram.
	Alert bool
}

// Dispatcher routes notification events to the dashboard, the in-app store,
// Telegram and webhooks.
type Dispatcher struct {
	telegram Sender
	webhook  WebhookFirer
	hub      Broadcaster
	store    *Store
}

// New creates a Dispatcher. Any adapter may be nil (disabled).
func New(telegram Sender, webhook WebhookFirer, hub Broadcaster, store *Store) *Dispatcher {
	return &Dispatcher{telegram: telegram, webhook: webhook, hub: hub, store: store}
}

// Notify dispatches ev to all configured adapters.
func (d *Dispatcher) Notify(ctx context.Context, ev Event) {
	if d.hub != nil {
		d.hub.Broadcast(ws.WSMessage{
			Type:     ev.Type,
			UserID:   ev.UserID,
			ClientID: ev.ClientID,
			Message:  ev.Message,
			Data:     ev.Data,
		})
	}
	if ev.Title != "" && d.store != nil && ev.UserID > 0 {
		n, err := d.store.Create(ctx, ev.UserID, ev.Level, ev.Title, ev.Message)
		if err != nil {
			log.Printf("notify: store: %v", err)
		} else if d.hub != nil {
			d.hub.Broadcast(ws.WSMessage{Type: ws.TypeNotification, UserID: ev.UserID, Data: n})
		}
	}
	if d.webhook != nil {
		d.webhook.Fire(ev.Type, webhookPayload(ev))
	}
	if ev.Alert {
		d.SendTelegram(formatEvent(ev))
	}
}

// SendTelegram sends a message only via Telegram.
func (d *Dispatcher) SendTelegram(msg string) {
	if d.telegram == nil {
		return
	}
	if err := d.telegram.Send(msg); err != nil {
		log.Printf("notify: telegram: %v", err)
	}
}

// QuotaAlert tells the account and the operator that usage entered a higher
// zone.
func (d *Dispatcher) QuotaAlert(ctx context.Context, userID int, u quota.Usage) {
	level := LevelWarning
	if u.Zone == quota.ZoneRed {
		level = LevelError
	}
	d.Notify(ctx, Event{
		UserID:  userID,
		Type:    ws.TypeQuotaWarning,
		Data:    u,
		Title:   "Limit SMS",
		Message: fmt.Sprintf("Wykorzystano %d z %d wiadomości w tym miesiącu (%d%%).", u.Used, u.Limit, u.Percent),
		Level:   level,
		Alert:   u.Zone >= quota.ZoneOrange,
	})
}

func webhookPayload(ev Event) map[string]interface{} {
	p := map[string]interface{}{"user_id": ev.UserID}
	if ev.ClientID != 0 {
		p["client_id"] = ev.ClientID
	}
	if ev.Message != "" {
		p["message"] = ev.Message
	}
	if ev.Data != nil {
		p["data"] = ev.Data
	}
	return p
}

func formatEvent(ev Event) string {
	if ev.UserID > 0 {
		return fmt.Sprintf("[%s] account %d: %s", ev.Type, ev.UserID, ev.Message)
	}
	return fmt.Sprintf("[%s] %s", ev.Type, ev.Message)
}
