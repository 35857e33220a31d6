// Package rates fetches the exchange rate used to show SMS costs in the
// display currency.
package rates

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// DefaultBaseURL is the National Bank of Poland public API.
const DefaultBaseURL = "https://api.nbp.pl"

const maxBodySize = 64 << 10

var (
	ErrUnexpectedStatus = errors.New("rates: unexpected status")
	ErrNoRate           = errors.New("rates: response has no rate")
)

// Rate is one mid-market quote: 1 unit of Currency costs Mid display units.
type Rate struct {
	Currency      string    `json:"currency"`
	Mid           float64   `json:"mid"`
	EffectiveDate string    `json:"effective_date"`
	FetchedAt     time.Time `json:"fetched_at"`
	// Fallback is true when Mid is the configured default, not a quote.
	Fallback bool `json:"fallback"`
}

// Fetcher loads a current rate.
type Fetcher interface {
	Fetch(ctx context.Context) (Rate, error)
}

// NBPFetcher reads table A mid rates.
type NBPFetcher struct {
	baseURL  string
	currency string
	client   *http.Client
}

// Option configures an NBPFetcher.
type Option func(*NBPFetcher)

// WithHTTPClient sets the HTTP client. Default has a 10s timeout.
func WithHTTPClient(c *http.Client) Option {
	return func(f *NBPFetcher) {
		if c != nil {
			f.client = c
		}
	}
}

// WithBaseURL points the fetcher at another host, e.g. an httptest server.
func WithBaseURL(u string) Option {
	return func(f *NBPFetcher) {
		if u != "" {
			f.baseURL = strings.TrimRight(u, "/")
		}
	}
}

// NewNBPFetcher returns a fetcher for currency (ISO code, e.g. "usd").
func NewNBPFetcher(currency string, opts ...Option) *NBPFetcher {
	f := &NBPFetcher{
		baseURL:  DefaultBaseURL,
		currency: strings.ToLower(currency),
		client:   &http.Client{Timeout: 10 * time.Second},
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

type nbpResponse struct {
	Code  string `json:"code"`
	Rates []struct {
		No            string  `json:"no"`
		EffectiveDate string  `json:"effectiveDate"`
		Mid           float64 `json:"mid"`
	} `json:"rates"`
}

// Fetch GETs /api/exchangerates/rates/a/{code}/?format=json.
func (f *NBPFetcher) Fetch(ctx context.Context) (Rate, error) {
	url := fmt.Sprintf("%s/api/exchangerates/rates/a/%s/?format=json", f.baseURL, f.currency)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return Rate{}, fmt.Errorf("rates.NBPFetcher.Fetch: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := f.client.Do(req)
	if err != nil {
		return Rate{}, fmt.Errorf("rates.NBPFetcher.Fetch: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxBodySize))
		return Rate{}, fmt.Errorf("%w: %d", ErrUnexpectedStatus, resp.StatusCode)
	}

	var body nbpResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxBodySize)).Decode(&body); err != nil {
		return Rate{}, fmt.Errorf("rates.NBPFetcher.Fetch: decode: %w", err)
	}
	if len(body.Rates) == 0 || body.Rates[0].Mid <= 0 {
		return Rate{}, ErrNoRate
	}
	return Rate{
		Currency:      f.currency,
		Mid:           body.Rates[0].Mid,
		EffectiveDate: body.Rates[0].EffectiveDate,
		FetchedAt:     time.Now(),
	}, nil
}
