package scheduler

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/NEXTmarketingSTUDIO/next-review-booster-sub000/internal/clients"
	"github.com/NEXTmarketingSTUDIO/next-review-booster-sub000/internal/config"
	"github.com/NEXTmarketingSTUDIO/next-review-booster-sub000/internal/db"
	"github.com/NEXTmarketingSTUDIO/next-review-booster-sub000/internal/queue"
	"github.com/NEXTmarketingSTUDIO/next-review-booster-sub000/internal/rates"
	"github.com/NEXTmarketingSTUDIO/next-review-booster-sub000/internal/settings"
)

type fakeRates struct{ calls int }

func (f *fakeRates) Refresh(context.Context) rates.Rate {
	f.calls++
	return rates.Rate{Currency: "USD", Mid: 4.1}
}

func newTestEngine(t *testing.T) (*Engine, *db.DB, *queue.Queue, int) {
	t.Helper()
	database, err := db.New(filepath.Join(t.TempDir(), "scheduler_test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })
	require.NoError(t, database.Migrate())

	res, err := database.Exec(`INSERT INTO users (username, password_hash) VALUES ('anna','x')`)
	require.NoError(t, err)
	uid, _ := res.LastInsertId()

	q := queue.New(database)
	e := New(Options{
		DB:       database,
		Accounts: settings.New(database, config.DefaultPricing()),
		Clients:  clients.New(database),
		Outbox:   q,
		Rates:    &fakeRates{},
	})
	return e, database, q, int(uid)
}

func addClient(t *testing.T, database *db.DB, userID int, code, status string, smsCount int, lastSent time.Time) int {
	t.Helper()
	res, err := database.Exec(`INSERT INTO clients (user_id, name, phone, review_code, review_status, sms_count, last_sms_sent)
		VALUES (?, 'Jan', '+48500100200', ?, ?, ?, ?)`, userID, code, status, smsCount, db.Timestamp(lastSent))
	require.NoError(t, err)
	id, _ := res.LastInsertId()
	return int(id)
}

func TestSweep(t *testing.T) {
	e, database, q, uid := newTestEngine(t)
	now := time.Date(2025, 6, 20, 10, 0, 0, 0, time.UTC)
	e.now = func() time.Time { return now }

	_, err := database.Exec(`INSERT INTO account_settings (user_id, reminder_frequency, auto_send_enabled) VALUES (?, 7, 1)`, uid)
	require.NoError(t, err)

	due := addClient(t, database, uid, "aaaaaaaaaa", db.ReviewSent, 1, now.AddDate(0, 0, -10))
	addClient(t, database, uid, "bbbbbbbbbb", db.ReviewSent, 1, now.AddDate(0, 0, -3))
	addClient(t, database, uid, "cccccccccc", db.ReviewCompleted, 1, now.AddDate(0, 0, -10))
	addClient(t, database, uid, "dddddddddd", db.ReviewOpened, 2, now.AddDate(0, 0, -10))

	n, err := e.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	items, err := q.List(context.Background(), uid, db.OutboxPending, 10)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, due, items[0].ClientID)
	assert.Equal(t, queue.ReminderKey(due, 1), items[0].IdempotencyKey)

	n, err = e.Sweep(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n, "a second sweep queues nothing new")
}

func TestSweepSkipsManualAccounts(t *testing.T) {
	e, database, _, uid := newTestEngine(t)
	now := time.Date(2025, 6, 20, 10, 0, 0, 0, time.UTC)
	e.now = func() time.Time { return now }

	_, err := database.Exec(`INSERT INTO account_settings (user_id, reminder_frequency, auto_send_enabled) VALUES (?, 7, 0)`, uid)
	require.NoError(t, err)
	addClient(t, database, uid, "aaaaaaaaaa", db.ReviewSent, 1, now.AddDate(0, 0, -30))

	n, err := e.Sweep(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestStartRegistersJobs(t *testing.T) {
	e, _, _, _ := newTestEngine(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, e.Start(ctx, "0 0 * * * *"))
	jobs := e.Jobs()
	require.Len(t, jobs, 3)
	assert.Equal(t, JobCleanup, jobs[0].Name)
	assert.Equal(t, JobRateRefresh, jobs[1].Name)
	assert.Equal(t, JobReminders, jobs[2].Name)
	for _, j := range jobs {
		assert.False(t, j.Next.IsZero(), j.Name)
	}
}

func TestStartRejectsBadSpec(t *testing.T) {
	e, _, _, _ := newTestEngine(t)
	err := e.Start(context.Background(), "every hour")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "reminders")
}

func TestCleanupRemovesExpiredSessions(t *testing.T) {
	e, database, _, uid := newTestEngine(t)
	_, err := database.Exec(`INSERT INTO sessions (user_id, token, expires_at) VALUES (?, 'old', ?)`,
		uid, db.Timestamp(time.Now().Add(-time.Hour)))
	require.NoError(t, err)

	e.cleanup(context.Background())

	var n int
	require.NoError(t, database.QueryRow(`SELECT COUNT(*) FROM sessions`).Scan(&n))
	assert.Zero(t, n)
}
