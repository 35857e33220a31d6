package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/NEXTmarketingSTUDIO/next-review-booster-sub000/internal/smscost"
)

// ErrInvalidPricing is returned for a pricing file with unusable values.
var ErrInvalidPricing = errors.New("config: invalid pricing")

// Pricing is the per-deployment cost and locale configuration.
type Pricing struct {
	CostPerSegment       float64 `yaml:"cost_per_segment"`
	FallbackExchangeRate float64 `yaml:"fallback_exchange_rate"`
	ExtendedCharset      string  `yaml:"extended_charset"`
	MaxMessageLength     int     `yaml:"max_message_length"`
	CurrencyBase         string  `yaml:"currency_base"`
	CurrencyDisplay      string  `yaml:"currency_display"`
	// SampleLink stands in for [LINK] in previews and cost reports.
	SampleLink string `yaml:"sample_link"`
}

// SampleCode is the review code used in sample links. It has the length of a
// real review code.
const SampleCode = "vqyrdqrhf4"

// DefaultPricing returns the production values.
func DefaultPricing() Pricing {
	return Pricing{
		CostPerSegment:       smscost.DefaultCostPerSegment,
		FallbackExchangeRate: smscost.DefaultExchangeRate,
		ExtendedCharset:      smscost.DefaultCharset,
		MaxMessageLength:     smscost.DefaultMaxLength,
		CurrencyBase:         "USD",
		CurrencyDisplay:      "PLN",
		SampleLink:           "next-reviews-booster.com/review/" + SampleCode,
	}
}

// LoadPricing reads a YAML pricing file over the defaults. An empty path
// returns the defaults.
func LoadPricing(path string) (Pricing, error) {
	p := DefaultPricing()
	if path == "" {
		return p, nil
	}
	data, err := os.ReadFile(path) // #nosec G304 -- operator-supplied path
	if err != nil {
		return p, fmt.Errorf("config.LoadPricing: read: %w", err)
	}
	return ParsePricing(data)
}

// LoadPricingFor loads path like LoadPricing. Unless the file sets its own
// sample_link, the sample link is built on reviewBase so previews and
// template validation measure the links that are actually sent.
func LoadPricingFor(path, reviewBase string) (Pricing, error) {
	p, err := LoadPricing(path)
	if err != nil {
		return p, err
	}
	if reviewBase != "" && p.SampleLink == DefaultPricing().SampleLink {
		p.SampleLink = strings.TrimRight(reviewBase, "/") + "/" + SampleCode
	}
	return p, nil
}

// ParsePricing decodes YAML over the defaults and validates the result.
func ParsePricing(data []byte) (Pricing, error) {
	p := DefaultPricing()
	if err := yaml.Unmarshal(data, &p); err != nil {
		return p, fmt.Errorf("%w: %w", ErrInvalidPricing, err)
	}
	if err := p.Validate(); err != nil {
		return p, err
	}
	return p, nil
}

// Validate rejects negative costs and limits.
func (p Pricing) Validate() error {
	switch {
	case p.CostPerSegment <= 0:
		return fmt.Errorf("%w: cost_per_segment must be positive", ErrInvalidPricing)
	case p.FallbackExchangeRate <= 0:
		return fmt.Errorf("%w: fallback_exchange_rate must be positive", ErrInvalidPricing)
	case p.MaxMessageLength <= 0:
		return fmt.Errorf("%w: max_message_length must be positive", ErrInvalidPricing)
	case p.ExtendedCharset == "":
		return fmt.Errorf("%w: extended_charset must not be empty", ErrInvalidPricing)
	}
	return nil
}

// Estimator builds the cost estimator for these settings.
func (p Pricing) Estimator() *smscost.Estimator {
	return smscost.NewEstimator(p.ExtendedCharset, smscost.Pricing{
		CostPerSegment:       p.CostPerSegment,
		FallbackExchangeRate: p.FallbackExchangeRate,
	})
}
