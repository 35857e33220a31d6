package rates

import (
	"context"
	"errors"
	"log"
	"strconv"
	"time"

	"github.com/NEXTmarketingSTUDIO/next-review-booster-sub000/internal/cache"
)

// Store persists the last good quote so a restart during an outage still
// has a real rate. *db.DB satisfies it.
type Store interface {
	GetSetting(key, fallback string) string
	SetSetting(key, value string) error
}

const (
	keyMid  = "exchange_rate_mid"
	keyDate = "exchange_rate_date"
)

// Provider serves the current rate through a TTL cache.
type Provider struct {
	fetcher  Fetcher
	fallback float64
	store    Store
	cache    *cache.Stale[Rate]
}

// NewProvider wraps fetcher in a cache with the given TTL. fallback is
// returned when no quote has ever been obtained. store may be nil.
func NewProvider(fetcher Fetcher, ttl time.Duration, fallback float64, store Store, opts ...cache.Option) *Provider {
	p := &Provider{fetcher: fetcher, fallback: fallback, store: store}
	p.cache = cache.New(ttl, p.fetch, opts...)
	return p
}

func (p *Provider) fetch(ctx context.Context) (Rate, error) {
	r, err := p.fetcher.Fetch(ctx)
	if err != nil {
		return Rate{}, err
	}
	if p.store != nil {
		if err := p.store.SetSetting(keyMid, strconv.FormatFloat(r.Mid, 'f', -1, 64)); err != nil {
			log.Printf("rates.Provider: persist rate: %v", err)
		}
		if err := p.store.SetSetting(keyDate, r.EffectiveDate); err != nil {
			log.Printf("rates.Provider: persist rate date: %v", err)
		}
	}
	return r, nil
}

// Current returns the cached rate, refreshing it when stale. It never
// fails: on error it serves the last quote, the persisted quote, or the
// fallback, in that order. After a failed fetch NBP is not asked again until
// the retry backoff has passed.
func (p *Provider) Current(ctx context.Context) Rate {
	r, err := p.cache.Get(ctx)
	if err == nil {
		return r
	}
	if !errors.Is(err, cache.ErrBackingOff) {
		log.Printf("rates.Provider.Current: %v", err)
	}
	if r.Mid > 0 {
		return r
	}
	if persisted, ok := p.persisted(); ok {
		return persisted
	}
	return Rate{Mid: p.fallback, Fallback: true, FetchedAt: time.Now()}
}

// Refresh forces a new fetch and returns the result.
func (p *Provider) Refresh(ctx context.Context) Rate {
	p.cache.Invalidate()
	return p.Current(ctx)
}

// Mid is shorthand for Current(ctx).Mid.
func (p *Provider) Mid(ctx context.Context) float64 {
	return p.Current(ctx).Mid
}

func (p *Provider) persisted() (Rate, bool) {
	if p.store == nil {
		return Rate{}, false
	}
	mid, err := strconv.ParseFloat(p.store.GetSetting(keyMid, ""), 64)
	if err != nil || mid <= 0 {
		return Rate{}, false
	}
	return Rate{Mid: mid, EffectiveDate: p.store.GetSetting(keyDate, "")}, true
}
