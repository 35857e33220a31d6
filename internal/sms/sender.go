// Package sms sends review requests through an SMS gateway and records what
// each message cost.
package sms

import (
	"context"
	"log"

	"github.com/google/uuid"
)

// Message is one outbound SMS.
type Message struct {
	To   string
	Body string
	// From or MessagingServiceSID, when set, override the sender's defaults.
	From                string
	MessagingServiceSID string
}

// SendResult is the gateway's answer to an accepted message.
type SendResult struct {
	ProviderSID string // external message id assigned by the gateway
	Status      string
}

// Sender abstracts the SMS gateway.
type Sender interface {
	Send(ctx context.Context, msg Message) (SendResult, error)
}

// LogSender logs messages instead of sending them.
type LogSender struct{}

// Send logs msg and reports it accepted.
func (LogSender) Send(_ context.Context, msg Message) (SendResult, error) {
	log.Printf("sms.LogSender: to=%s len=%d body=%q", msg.To, len([]rune(msg.Body)), msg.Body)
	return SendResult{ProviderSID: "dry-" + uuid.NewString(), Status: "queued"}, nil
}
