package sms

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/NEXTmarketingSTUDIO/next-review-booster-sub000/internal/limiter"
)

// DefaultTwilioBaseURL is the Twilio REST API root.
const DefaultTwilioBaseURL = "https://api.twilio.com"

// TwilioCredentials identify a Twilio account and its sending identity.
type TwilioCredentials struct {
	AccountSID          string
	AuthToken           string
	From                string
	MessagingServiceSID string
}

// TwilioError is a non-throttling error response from Twilio.
type TwilioError struct {
	Status  int    `json:"-"`
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *TwilioError) Error() string {
	return fmt.Sprintf("twilio: status %d code %d: %s", e.Status, e.Code, e.Message)
}

// Permanent reports whether retrying the same message cannot succeed.
func (e *TwilioError) Permanent() bool {
	return e.Status >= 400 && e.Status < 500
}

// TwilioSender sends messages through the Twilio Messages API.
type TwilioSender struct {
	creds    TwilioCredentials
	baseURL  string
	client   *http.Client
	detector *limiter.Detector
}

// TwilioOption configures a TwilioSender.
type TwilioOption func(*TwilioSender)

// WithHTTPClient replaces the default client.
func WithHTTPClient(c *http.Client) TwilioOption {
	return func(s *TwilioSender) { s.client = c }
}

// WithBaseURL points the sender at another API root.
func WithBaseURL(u string) TwilioOption {
	return func(s *TwilioSender) { s.baseURL = strings.TrimRight(u, "/") }
}

// NewTwilioSender creates a TwilioSender.
func NewTwilioSender(creds TwilioCredentials, opts ...TwilioOption) *TwilioSender {
	s := &TwilioSender{
		creds:    creds,
		baseURL:  DefaultTwilioBaseURL,
		client:   &http.Client{Timeout: 15 * time.Second},
		detector: limiter.New("twilio"),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Send posts msg. Throttling answers come back as *limiter.ErrRateLimit,
// other failures as *TwilioError.
func (s *TwilioSender) Send(ctx context.Context, msg Message) (SendResult, error) {
	form := url.Values{}
	form.Set("To", msg.To)
	form.Set("Body", msg.Body)
	switch {
	case msg.MessagingServiceSID != "":
		form.Set("MessagingServiceSid", msg.MessagingServiceSID)
	case msg.From != "":
		form.Set("From", msg.From)
	case s.creds.MessagingServiceSID != "":
		form.Set("MessagingServiceSid", s.creds.MessagingServiceSID)
	default:
		form.Set("From", s.creds.From)
	}

	endpoint := fmt.Sprintf("%s/2010-04-01/Accounts/%s/Messages.json", s.baseURL, url.PathEscape(s.creds.AccountSID))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return SendResult{}, fmt.Errorf("sms.TwilioSender: request: %w", err)
	}
	req.SetBasicAuth(s.creds.AccountSID, s.creds.AuthToken)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return SendResult{}, fmt.Errorf("sms.TwilioSender: %w", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))

	if err := s.detector.Check(resp.StatusCode, string(body), resp.Header.Get("Retry-After")); err != nil {
		return SendResult{}, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		te := &TwilioError{Status: resp.StatusCode}
		if json.Unmarshal(body, te) != nil || te.Message == "" {
			te.Message = strings.TrimSpace(string(body))
		}
		return SendResult{}, te
	}

	var out struct {
		SID    string `json:"sid"`
		Status string `json:"status"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return SendResult{}, fmt.Errorf("sms.TwilioSender: decode: %w", err)
	}
	return SendResult{ProviderSID: out.SID, Status: out.Status}, nil
}
