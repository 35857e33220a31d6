package report

import (
	"context"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/NEXTmarketingSTUDIO/next-review-booster-sub000/internal/config"
	"github.com/NEXTmarketingSTUDIO/next-review-booster-sub000/internal/db"
	"github.com/NEXTmarketingSTUDIO/next-review-booster-sub000/internal/rates"
	"github.com/NEXTmarketingSTUDIO/next-review-booster-sub000/internal/smscost"
)

type countingRates struct {
	calls atomic.Int32
	rate  rates.Rate
}

func (c *countingRates) Current(context.Context) rates.Rate {
	c.calls.Add(1)
	return c.rate
}

func newTestDB(t *testing.T) *db.DB {
	t.Helper()
	database, err := db.New(filepath.Join(t.TempDir(), "report_test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })
	require.NoError(t, database.Migrate())
	return database
}

func addAccount(t *testing.T, database *db.DB, name, perm, template string, sent int) int {
	t.Helper()
	res, err := database.Exec(`INSERT INTO users (username, password_hash, permission) VALUES (?, 'x', ?)`, name, perm)
	require.NoError(t, err)
	id, _ := res.LastInsertId()
	if template != "" {
		_, err = database.Exec(`INSERT INTO account_settings (user_id, company_name, message_template) VALUES (?, 'Firma', ?)`, id, template)
		require.NoError(t, err)
	}
	for i := 0; i < sent; i++ {
		_, err = database.Exec(`INSERT INTO sms_log (user_id, status) VALUES (?, 'sent')`, id)
		require.NoError(t, err)
	}
	_, err = database.Exec(`INSERT INTO sms_log (user_id, status) VALUES (?, 'failed')`, id)
	require.NoError(t, err)
	return int(id)
}

func TestBuild(t *testing.T) {
	database := newTestDB(t)
	addAccount(t, database, "fresh", "Demo", "", 0)
	addAccount(t, database, "idle", "Starter", "Custom [LINK]", 0)
	addAccount(t, database, "busy", "Professional", "Opinia: [LINK]", 3)

	rs := &countingRates{rate: rates.Rate{Currency: "USD", Mid: 4.2}}
	rep, err := NewBuilder(database, config.DefaultPricing(), rs).Build(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 1, rs.calls.Load(), "one rate fetch per report")
	require.Len(t, rep.Accounts, 3)

	fresh := rep.Accounts[0]
	assert.True(t, fresh.DefaultTemplate)
	assert.False(t, fresh.NoMessages)
	assert.Equal(t, smscost.Extended, fresh.Estimate.EncodingClass)
	assert.Equal(t, 3, fresh.Estimate.Segments)
	assert.Zero(t, fresh.Estimate.CostBase)
	assert.Equal(t, 10, fresh.SMSLimit)

	idle := rep.Accounts[1]
	assert.True(t, idle.NoMessages)
	assert.Zero(t, idle.Estimate.Segments)
	assert.Zero(t, idle.Estimate.CostDisplay)
	assert.Equal(t, 4.2, idle.Estimate.ExchangeRate)

	busy := rep.Accounts[2]
	assert.Equal(t, 3, busy.SMSCount)
	assert.Equal(t, 500, busy.SMSLimit)
	assert.Equal(t, 1, busy.Estimate.Segments)
	assert.InDelta(t, 3*0.0431, busy.Estimate.CostBase, 1e-9)
	assert.InDelta(t, 3*0.0431*4.2, busy.Estimate.CostDisplay, 1e-9)

	assert.Equal(t, 3, rep.TotalSMS)
	assert.InDelta(t, busy.Estimate.CostBase, rep.TotalCostBase, 1e-9)
	assert.Equal(t, "USD", rep.CurrencyBase)
	assert.Equal(t, "PLN", rep.CurrencyDisplay)
}

func TestBuildFallbackRate(t *testing.T) {
	database := newTestDB(t)
	addAccount(t, database, "busy", "Starter", "Hi [LINK]", 1)

	rs := &countingRates{rate: rates.Rate{Mid: 4.0, Fallback: true}}
	rep, err := NewBuilder(database, config.DefaultPricing(), rs).Build(context.Background())
	require.NoError(t, err)
	assert.True(t, rep.Rate.Fallback)
	assert.InDelta(t, 0.0431*4.0, rep.TotalCostDisplay, 1e-9)
}

func TestBuildEmpty(t *testing.T) {
	database := newTestDB(t)
	rep, err := NewBuilder(database, config.DefaultPricing(), &countingRates{rate: rates.Rate{Mid: 4}}).Build(context.Background())
	require.NoError(t, err)
	assert.Empty(t, rep.Accounts)
	assert.Zero(t, rep.TotalCostBase)
}
