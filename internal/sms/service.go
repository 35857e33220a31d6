package sms

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/NEXTmarketingSTUDIO/next-review-booster-sub000/internal/clients"
	"github.com/NEXTmarketingSTUDIO/next-review-booster-sub000/internal/config"
	"github.com/NEXTmarketingSTUDIO/next-review-booster-sub000/internal/db"
	"github.com/NEXTmarketingSTUDIO/next-review-booster-sub000/internal/notify"
	"github.com/NEXTmarketingSTUDIO/next-review-booster-sub000/internal/quota"
	"github.com/NEXTmarketingSTUDIO/next-review-booster-sub000/internal/settings"
	"github.com/NEXTmarketingSTUDIO/next-review-booster-sub000/internal/smscost"
	"github.com/NEXTmarketingSTUDIO/next-review-booster-sub000/internal/ws"
)

var (
	ErrNoPhone          = errors.New("sms: client has no phone number")
	ErrNoReviewCode     = errors.New("sms: client has no review code")
	ErrLimitReached     = errors.New("sms: per-client message limit reached")
	ErrAlreadyCompleted = errors.New("sms: client already left a review")
	ErrNoGateway        = errors.New("sms: no SMS gateway configured")
)

// BulkConcurrency bounds parallel gateway calls in SendToAll.
const BulkConcurrency = 4

// Notifier receives send events.
type Notifier interface {
	Notify(ctx context.Context, ev notify.Event)
}

// Quota checks, reserves and observes monthly limits.
type Quota interface {
	Check(ctx context.Context, userID int) (quota.Usage, error)
	Reserve(ctx context.Context, userID int) (release func(), err error)
	Observe(ctx context.Context, userID int)
}

// Result describes one delivered message.
type Result struct {
	ClientID    int                   `json:"client_id"`
	ProviderSID string                `json:"provider_sid"`
	Segments    int                   `json:"segments"`
	Encoding    smscost.EncodingClass `json:"encoding"`
	Length      int                   `json:"length"`
	CostBase    float64               `json:"cost_base"`
}

// BulkResult summarises SendToAll.
type BulkResult struct {
	TotalFound int      `json:"total_found"`
	Sent       int      `json:"sent"`
	Errors     []string `json:"errors"`
}

// Service sends review requests for accounts.
type Service struct {
	database  *db.DB
	clients   *clients.Store
	settings  *settings.Store
	quota     Quota
	notifier  Notifier
	pricing   config.Pricing
	estimator *smscost.Estimator
	link      func(code string) string

	defaultSender Sender
	dryRun        bool
	// NewAccountSender builds a sender from an account's own credentials.
	NewAccountSender func(db.TwilioConfig) Sender

	now func() time.Time
}

// Options carries the Service dependencies.
type Options struct {
	DB       *db.DB
	Clients  *clients.Store
	Settings *settings.Store
	Quota    Quota
	Notifier Notifier
	Pricing  config.Pricing
	// Link turns a review code into the public review URL.
	Link func(code string) string
	// Sender is used for accounts without their own gateway. May be nil.
	Sender Sender
	DryRun bool
}

// NewService creates a Service.
func NewService(o Options) *Service {
	return &Service{
		database:      o.DB,
		clients:       o.Clients,
		settings:      o.Settings,
		quota:         o.Quota,
		notifier:      o.Notifier,
		pricing:       o.Pricing,
		estimator:     o.Pricing.Estimator(),
		link:          o.Link,
		defaultSender: o.Sender,
		dryRun:        o.DryRun,
		NewAccountSender: func(c db.TwilioConfig) Sender {
			return NewTwilioSender(TwilioCredentials{
				AccountSID:          c.AccountSID,
				AuthToken:           c.AuthToken,
				From:                c.PhoneNumber,
				MessagingServiceSID: c.MessagingServiceSID,
			})
		},
		now: time.Now,
	}
}

func (s *Service) senderFor(ctx context.Context, userID int) (Sender, error) {
	if s.dryRun {
		return LogSender{}, nil
	}
	cfg, ok, err := s.settings.Twilio(ctx, userID)
	if err != nil {
		return nil, err
	}
	if ok && s.NewAccountSender != nil {
		return s.NewAccountSender(cfg), nil
	}
	if s.defaultSender == nil {
		return nil, ErrNoGateway
	}
	return s.defaultSender, nil
}

// Compose renders the account's template for c and checks its length.
func (s *Service) Compose(ctx context.Context, userID int, c *db.Client) (string, error) {
	as, err := s.settings.Get(ctx, userID)
	if err != nil {
		return "", err
	}
	company := as.CompanyName
	if strings.TrimSpace(company) == "" {
		company = clients.DefaultCompanyName
	}
	body := smscost.Render(as.MessageTemplate, smscost.RenderContext{
		LinkValue:   s.link(c.ReviewCode),
		CompanyName: company,
	})
	if err := smscost.CheckLength(body, s.pricing.MaxMessageLength); err != nil {
		return "", err
	}
	return body, nil
}

func checkEligible(c *db.Client) error {
	switch {
	case strings.TrimSpace(c.Phone) == "":
		return ErrNoPhone
	case c.ReviewCode == "":
		return ErrNoReviewCode
	case c.ReviewStatus == db.ReviewCompleted:
		return ErrAlreadyCompleted
	case c.SMSCount >= db.MaxSMSPerClient:
		return ErrLimitReached
	}
	return nil
}

// SendToClient sends the review request to one of the account's clients.
// The client's slot and the monthly quota are claimed before the gateway is
// called, so concurrent sends cannot exceed either limit. Once the gateway
// has been called the outcome is recorded even if ctx is cancelled.
func (s *Service) SendToClient(ctx context.Context, userID, clientID int) (*Result, error) {
	c, err := s.clients.Get(ctx, userID, clientID)
	if err != nil {
		return nil, err
	}
	if err := checkEligible(c); err != nil {
		return nil, err
	}
	release, err := s.quota.Reserve(ctx, userID)
	if err != nil {
		return nil, err
	}
	defer release()
	body, err := s.Compose(ctx, userID, c)
	if err != nil {
		return nil, err
	}
	sender, err := s.senderFor(ctx, userID)
	if err != nil {
		return nil, err
	}
	if err := s.reserveSlot(ctx, userID, c.ID); err != nil {
		return nil, err
	}

	est := s.estimator.QuoteRendered(body, 1, 0)
	res, sendErr := sender.Send(ctx, Message{To: c.Phone, Body: body})

	bctx := context.WithoutCancel(ctx)
	entry := db.SMSLog{
		UserID:      userID,
		ClientID:    c.ID,
		ProviderSID: res.ProviderSID,
		Status:      "sent",
		Segments:    est.Segments,
		Encoding:    est.EncodingClass.String(),
		Length:      est.RenderedLength,
		CostBase:    est.CostBase,
	}
	if sendErr != nil {
		entry.Status = "failed"
		entry.Error = sendErr.Error()
		entry.CostBase = 0
	}
	if err := s.writeLog(bctx, entry); err != nil {
		log.Printf("sms.SendToClient: %v", err)
	}

	if sendErr != nil {
		if err := s.clients.ReleaseSend(bctx, c.ID); err != nil {
			log.Printf("sms.SendToClient: %v", err)
		}
		s.database.WriteLog(&userID, "error", fmt.Sprintf("SMS to client %d failed: %v", c.ID, sendErr))
		s.notify(bctx, notify.Event{
			UserID:   userID,
			Type:     ws.TypeSMSFailed,
			ClientID: c.ID,
			Message:  sendErr.Error(),
		})
		return nil, fmt.Errorf("sms.SendToClient: client %d: %w", c.ID, sendErr)
	}

	// The gateway accepted the message; a bookkeeping failure must not make
	// the caller retry it.
	if err := s.clients.RecordSent(bctx, c.ID, s.now()); err != nil {
		log.Printf("sms.SendToClient: %v", err)
	}
	s.database.WriteLog(&userID, "info", fmt.Sprintf("SMS sent to client %d (%d segments)", c.ID, est.Segments))
	result := &Result{
		ClientID:    c.ID,
		ProviderSID: res.ProviderSID,
		Segments:    est.Segments,
		Encoding:    est.EncodingClass,
		Length:      est.RenderedLength,
		CostBase:    est.CostBase,
	}
	s.notify(bctx, notify.Event{UserID: userID, Type: ws.TypeSMSSent, ClientID: c.ID, Data: result})
	s.quota.Observe(bctx, userID)
	return result, nil
}

// reserveSlot claims one of the client's review request slots. When another
// send or a review got there first, the client is re-read to report why.
func (s *Service) reserveSlot(ctx context.Context, userID, clientID int) error {
	err := s.clients.ReserveSend(ctx, clientID)
	if !errors.Is(err, clients.ErrNoSlot) {
		return err
	}
	c, gerr := s.clients.Get(ctx, userID, clientID)
	if gerr != nil {
		return gerr
	}
	if err := checkEligible(c); err != nil {
		return err
	}
	return ErrLimitReached
}

// SendToAll sends to every eligible client of the account, at most
// BulkConcurrency at a time and no more than the remaining monthly quota.
func (s *Service) SendToAll(ctx context.Context, userID int) (BulkResult, error) {
	eligible, err := s.clients.ListEligible(ctx, userID)
	if err != nil {
		return BulkResult{}, err
	}
	out := BulkResult{TotalFound: len(eligible), Errors: []string{}}
	if len(eligible) == 0 {
		return out, nil
	}

	usage, err := s.quota.Check(ctx, userID)
	if err != nil {
		if errors.Is(err, quota.ErrQuotaExceeded) {
			out.Errors = append(out.Errors, err.Error())
			return out, nil
		}
		return out, err
	}
	if rem := usage.Remaining(); rem < len(eligible) {
		for _, c := range eligible[rem:] {
			out.Errors = append(out.Errors, fmt.Sprintf("%s %s: %v", c.Name, c.Surname, quota.ErrQuotaExceeded))
		}
		eligible = eligible[:rem]
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(BulkConcurrency)
	for _, c := range eligible {
		c := c
		g.Go(func() error {
			_, err := s.SendToClient(gctx, userID, c.ID)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				out.Errors = append(out.Errors, fmt.Sprintf("%s %s: %v", c.Name, c.Surname, err))
				return nil
			}
			out.Sent++
			return nil
		})
	}
	_ = g.Wait()
	return out, nil
}

func (s *Service) writeLog(ctx context.Context, e db.SMSLog) error {
	_, err := s.database.ExecContext(ctx, `
		INSERT INTO sms_log (user_id, client_id, provider_sid, status, segments, encoding, length, cost_base, error)
		VALUES (?,?,?,?,?,?,?,?,?)`,
		e.UserID, e.ClientID, e.ProviderSID, e.Status, e.Segments, e.Encoding, e.Length, e.CostBase, e.Error)
	if err != nil {
		return fmt.Errorf("sms.writeLog: %w", err)
	}
	return nil
}

// History returns the account's most recent send attempts.
func (s *Service) History(ctx context.Context, userID, limit int) ([]db.SMSLog, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	rows, err := s.database.QueryContext(ctx, `
		SELECT id, user_id, COALESCE(client_id, 0), provider_sid, status, segments, encoding, length,
		       cost_base, error, created_at
		FROM sms_log WHERE user_id=? ORDER BY id DESC LIMIT ?`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("sms.History: %w", err)
	}
	defer rows.Close()
	out := []db.SMSLog{}
	for rows.Next() {
		var e db.SMSLog
		if err := rows.Scan(&e.ID, &e.UserID, &e.ClientID, &e.ProviderSID, &e.Status, &e.Segments,
			&e.Encoding, &e.Length, &e.CostBase, &e.Error, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("sms.History: scan: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *Service) notify(ctx context.Context, ev notify.Event) {
	if s.notifier != nil {
		s.notifier.Notify(ctx, ev)
	}
}
