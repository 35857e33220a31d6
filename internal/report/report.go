// Package report builds the admin SMS cost report across all accounts.
package report

import (
	"context"
	"fmt"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/NEXTmarketingSTUDIO/next-review-booster-sub000/internal/auth"
	"github.com/NEXTmarketingSTUDIO/next-review-booster-sub000/internal/config"
	"github.com/NEXTmarketingSTUDIO/next-review-booster-sub000/internal/db"
	"github.com/NEXTmarketingSTUDIO/next-review-booster-sub000/internal/quota"
	"github.com/NEXTmarketingSTUDIO/next-review-booster-sub000/internal/rates"
	"github.com/NEXTmarketingSTUDIO/next-review-booster-sub000/internal/settings"
	"github.com/NEXTmarketingSTUDIO/next-review-booster-sub000/internal/smscost"
)

// Concurrency bounds the per-account estimate goroutines.
const Concurrency = 8

// RateSource provides the exchange rate shared by every row.
type RateSource interface {
	Current(ctx context.Context) rates.Rate
}

// Account is one row of the report.
type Account struct {
	UserID          int                  `json:"user_id"`
	Username        string               `json:"username"`
	Permission      string               `json:"permission"`
	CompanyName     string               `json:"company_name"`
	SMSCount        int                  `json:"sms_count"`
	SMSLimit        int                  `json:"sms_limit"`
	DefaultTemplate bool                 `json:"default_template"`
	NoMessages      bool                 `json:"no_messages"`
	Estimate        smscost.CostEstimate `json:"estimate"`
}

// Report is the full cost report.
type Report struct {
	GeneratedAt      time.Time  `json:"generated_at"`
	Rate             rates.Rate `json:"rate"`
	CurrencyBase     string     `json:"currency_base"`
	CurrencyDisplay  string     `json:"currency_display"`
	Accounts         []Account  `json:"accounts"`
	TotalSMS         int        `json:"total_sms"`
	TotalCostBase    float64    `json:"total_cost_base"`
	TotalCostDisplay float64    `json:"total_cost_display"`
}

// Builder computes reports.
type Builder struct {
	database  *db.DB
	pricing   config.Pricing
	estimator *smscost.Estimator
	rates     RateSource
	now       func() time.Time
}

// NewBuilder creates a Builder.
func NewBuilder(database *db.DB, pricing config.Pricing, rs RateSource) *Builder {
	return &Builder{
		database:  database,
		pricing:   pricing,
		estimator: pricing.Estimator(),
		rates:     rs,
		now:       time.Now,
	}
}

type row struct {
	Account
	template string
}

func (b *Builder) load(ctx context.Context) ([]row, error) {
	rows, err := b.database.QueryContext(ctx, `
		SELECT u.id, u.username, u.permission,
		       COALESCE(a.company_name, ''), COALESCE(a.message_template, ''),
		       (SELECT COUNT(*) FROM sms_log l WHERE l.user_id=u.id AND l.status='sent')
		FROM users u LEFT JOIN account_settings a ON a.user_id = u.id
		ORDER BY u.id`)
	if err != nil {
		return nil, fmt.Errorf("report.load: %w", err)
	}
	defer rows.Close()
	var out []row
	for rows.Next() {
		var r row
		if err := rows.Scan(&r.UserID, &r.Username, &r.Permission, &r.CompanyName, &r.template, &r.SMSCount); err != nil {
			return nil, fmt.Errorf("report.load: scan: %w", err)
		}
		r.SMSLimit = quota.Limit(auth.ParsePermission(r.Permission))
		out = append(out, r)
	}
	return out, rows.Err()
}

// Build computes the report. The exchange rate is fetched once and shared by
// every account.
func (b *Builder) Build(ctx context.Context) (Report, error) {
	list, err := b.load(ctx)
	if err != nil {
		return Report{}, err
	}
	rate := b.rates.Current(ctx)

	accounts := make([]Account, len(list))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(Concurrency)
	for i := range list {
		i := i
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			accounts[i] = b.account(list[i], rate.Mid)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Report{}, fmt.Errorf("report.Build: %w", err)
	}

	rep := Report{
		GeneratedAt:     b.now(),
		Rate:            rate,
		CurrencyBase:    b.pricing.CurrencyBase,
		CurrencyDisplay: b.pricing.CurrencyDisplay,
		Accounts:        accounts,
	}
	for _, a := range accounts {
		rep.TotalSMS += a.SMSCount
		rep.TotalCostBase += a.Estimate.CostBase
		rep.TotalCostDisplay += a.Estimate.CostDisplay
	}
	return rep, nil
}

// account prices one row. An empty template is priced as the default one;
// a custom template with nothing sent yields a zero result flagged
// NoMessages.
func (b *Builder) account(r row, rate float64) Account {
	a := r.Account
	tmpl := r.template
	if strings.TrimSpace(tmpl) == "" {
		tmpl = settings.DefaultTemplate
		a.DefaultTemplate = true
	} else if a.SMSCount == 0 {
		a.NoMessages = true
		a.Estimate = smscost.CostEstimate{ExchangeRate: smscost.EffectiveRate(rate, b.pricing.FallbackExchangeRate)}
		return a
	}
	a.Estimate = b.estimator.Quote(tmpl, smscost.RenderContext{
		LinkValue:   b.pricing.SampleLink,
		CompanyName: a.CompanyName,
	}, a.SMSCount, rate)
	return a
}
