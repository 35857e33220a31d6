// Package limiter detects rate limit signals in SMS gateway responses.
package limiter

import (
	"net/http"
	"strconv"
	"strings"
	"time"
)

// Throttling patterns per gateway, matched case-insensitively against the
// response body.
var patterns = map[string][]string{
	"twilio": {
		"too many requests",
		"20429", // API rate limit
		"30001", // queue overflow
		"concurrency limit",
		"rate limit",
	},
	"generic": {
		"too many requests",
		"rate limit",
		"throttl",
		"quota exceeded",
	},
}

// Detector checks gateway output for rate limit signals.
type Detector struct {
	gateway  string
	keywords []string
}

// New creates a Detector for the given gateway. Unknown gateways use the
// generic patterns.
func New(gateway string) *Detector {
	kws := patterns[gateway]
	if kws == nil {
		kws = patterns["generic"]
	}
	return &Detector{gateway: gateway, keywords: kws}
}

// DetectLimit returns true if the line contains a rate limit signal.
func (d *Detector) DetectLimit(line string) bool {
	lower := strings.ToLower(line)
	for _, kw := range d.keywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

// Check returns *ErrRateLimit when status is 429 or body carries a
// throttling signal, else nil. retryAfter is the raw Retry-After header.
func (d *Detector) Check(status int, body, retryAfter string) error {
	if status != http.StatusTooManyRequests && !d.DetectLimit(body) {
		return nil
	}
	line := strings.TrimSpace(body)
	if len(line) > 200 {
		line = line[:200]
	}
	if line == "" {
		line = http.StatusText(status)
	}
	return &ErrRateLimit{Gateway: d.gateway, Line: line, RetryAfter: parseRetryAfter(retryAfter)}
}

func parseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}

// ErrRateLimit is returned by a sender when the gateway throttles.
type ErrRateLimit struct {
	Gateway    string
	Line       string
	RetryAfter time.Duration
}

func (e *ErrRateLimit) Error() string {
	return "rate limit detected: " + e.Line
}
