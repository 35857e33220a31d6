package smscost

import "math"

// Pricing defaults observed in production: USD per segment and USD/PLN fallback.
const (
	DefaultCostPerSegment = 0.0431
	DefaultExchangeRate   = 4.0
)

// Pricing holds the external cost configuration.
type Pricing struct {
	CostPerSegment       float64 // base currency per segment
	FallbackExchangeRate float64 // used when no valid rate is supplied
}

// DefaultPricing returns the production pricing.
func DefaultPricing() Pricing {
	return Pricing{
		CostPerSegment:       DefaultCostPerSegment,
		FallbackExchangeRate: DefaultExchangeRate,
	}
}

// CostEstimate is the derived cost of sending one rendered message
// MessageCount times. It is never persisted.
type CostEstimate struct {
	Segments              int           `json:"segments"`
	CharsPerSegment       int           `json:"chars_per_segment"`
	EncodingClass         EncodingClass `json:"encoding"`
	RenderedLength        int           `json:"rendered_length"`
	MessageCount          int           `json:"message_count"`
	ExchangeRate          float64       `json:"exchange_rate"`
	CostPerMessageBase    float64       `json:"cost_per_message_base"`
	CostPerMessageDisplay float64       `json:"cost_per_message_display"`
	CostBase              float64       `json:"cost_base"`
	CostDisplay           float64       `json:"cost_display"`
}

// Estimate converts a segment count into base and display cost.
//
//	costBase    = segments * costPerSegment * perMessageCount
//	costDisplay = costBase * exchangeRate
//
// An exchange rate that is zero, negative, NaN or infinite falls back to
// DefaultExchangeRate. Zero segments or zero messages yield a zero cost.
func Estimate(segments, perMessageCount int, costPerSegment, exchangeRate float64) CostEstimate {
	return estimate(segments, perMessageCount, costPerSegment, exchangeRate, DefaultExchangeRate)
}

func estimate(segments, count int, costPerSegment, rate, fallback float64) CostEstimate {
	rate = EffectiveRate(rate, fallback)
	if segments < 0 {
		segments = 0
	}
	if count < 0 {
		count = 0
	}
	perMessage := float64(segments) * costPerSegment
	base := perMessage * float64(count)
	return CostEstimate{
		Segments:              segments,
		MessageCount:          count,
		ExchangeRate:          rate,
		CostPerMessageBase:    perMessage,
		CostPerMessageDisplay: perMessage * rate,
		CostBase:              base,
		CostDisplay:           base * rate,
	}
}

// EffectiveRate returns rate when it is a usable positive number, else
// fallback, else DefaultExchangeRate.
func EffectiveRate(rate, fallback float64) float64 {
	if validRate(rate) {
		return rate
	}
	if validRate(fallback) {
		return fallback
	}
	return DefaultExchangeRate
}

func validRate(v float64) bool {
	return v > 0 && !math.IsNaN(v) && !math.IsInf(v, 0)
}

// Estimator runs the whole pipeline with deployment configuration.
// The zero value uses the default charset and pricing.
type Estimator struct {
	Classifier Classifier
	Pricing    Pricing
}

// NewEstimator returns an Estimator for the given charset and pricing.
func NewEstimator(charset string, pricing Pricing) *Estimator {
	return &Estimator{Classifier: Classifier{Charset: charset}, Pricing: pricing}
}

// Quote renders tmpl, classifies and segments it, and prices count messages
// at exchangeRate.
func (e *Estimator) Quote(tmpl string, rc RenderContext, count int, exchangeRate float64) CostEstimate {
	return e.QuoteRendered(Render(tmpl, rc), count, exchangeRate)
}

// QuoteRendered prices an already rendered message.
func (e *Estimator) QuoteRendered(message string, count int, exchangeRate float64) CostEstimate {
	class := e.Classifier.Classify(message)
	segments := Segment(message, class)

	pricing := e.Pricing
	if pricing.CostPerSegment <= 0 {
		pricing.CostPerSegment = DefaultCostPerSegment
	}
	est := estimate(segments, count, pricing.CostPerSegment, exchangeRate, pricing.FallbackExchangeRate)
	est.EncodingClass = class
	est.CharsPerSegment = Budget(class)
	est.RenderedLength = Length(message)
	return est
}
