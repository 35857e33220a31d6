package quota

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/NEXTmarketingSTUDIO/next-review-booster-sub000/internal/auth"
	"github.com/NEXTmarketingSTUDIO/next-review-booster-sub000/internal/db"
)

type fixedPerm auth.Permission

func (f fixedPerm) Lookup(context.Context, int) auth.Permission { return auth.Permission(f) }

type recordingAlerter struct{ zones []Zone }

func (r *recordingAlerter) QuotaAlert(_ context.Context, _ int, u Usage) {
	r.zones = append(r.zones, u.Zone)
}

func setup(t *testing.T, perm auth.Permission) (*Governor, *db.DB, *recordingAlerter, int) {
	t.Helper()
	database, err := db.New(filepath.Join(t.TempDir(), "quota_test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })
	require.NoError(t, database.Migrate())
	res, err := database.Exec(`INSERT INTO users (username, password_hash) VALUES ('anna','x')`)
	require.NoError(t, err)
	id, _ := res.LastInsertId()

	alerts := &recordingAlerter{}
	g := NewGovernor(database, fixedPerm(perm), alerts)
	g.SetClock(func() time.Time { return time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC) })
	return g, database, alerts, int(id)
}

func logSends(t *testing.T, database *db.DB, userID, n int, status string, at time.Time) {
	t.Helper()
	for i := 0; i < n; i++ {
		_, err := database.Exec(`INSERT INTO sms_log (user_id, status, created_at) VALUES (?,?,?)`,
			userID, status, db.Timestamp(at))
		require.NoError(t, err)
	}
}

func TestLimits(t *testing.T) {
	assert.Equal(t, 10, Limit(auth.Demo))
	assert.Equal(t, 100, Limit(auth.Starter))
	assert.Equal(t, 500, Limit(auth.Professional))
	assert.Equal(t, Unlimited, Limit(auth.Admin))
	assert.Equal(t, 10, Limit(auth.Permission(99)))
}

func TestUsageCountsThisMonthOnly(t *testing.T) {
	g, database, _, uid := setup(t, auth.Demo)
	logSends(t, database, uid, 3, "sent", time.Date(2025, 6, 2, 0, 0, 0, 0, time.UTC))
	logSends(t, database, uid, 4, "sent", time.Date(2025, 5, 31, 23, 0, 0, 0, time.UTC))
	logSends(t, database, uid, 2, "failed", time.Date(2025, 6, 3, 0, 0, 0, 0, time.UTC))

	u, err := g.Usage(context.Background(), uid)
	require.NoError(t, err)
	assert.Equal(t, 3, u.Used)
	assert.Equal(t, 30, u.Percent)
	assert.Equal(t, ZoneGreen, u.Zone)
	assert.Equal(t, 7, u.Remaining())
}

func TestCheckExceeded(t *testing.T) {
	g, database, _, uid := setup(t, auth.Demo)
	logSends(t, database, uid, 10, "sent", time.Date(2025, 6, 2, 0, 0, 0, 0, time.UTC))

	u, err := g.Check(context.Background(), uid)
	require.ErrorIs(t, err, ErrQuotaExceeded)
	assert.Equal(t, ZoneRed, u.Zone)
	assert.Zero(t, u.Remaining())
}

func TestAdminUnlimited(t *testing.T) {
	g, database, _, uid := setup(t, auth.Admin)
	logSends(t, database, uid, 20, "sent", time.Date(2025, 6, 2, 0, 0, 0, 0, time.UTC))

	u, err := g.Check(context.Background(), uid)
	require.NoError(t, err)
	assert.True(t, u.Unlimited)
	assert.Equal(t, ZoneGreen, u.Zone)
}

func TestObserveAlertsOnEscalationOnly(t *testing.T) {
	g, database, alerts, uid := setup(t, auth.Demo)
	ctx := context.Background()
	at := time.Date(2025, 6, 2, 0, 0, 0, 0, time.UTC)

	logSends(t, database, uid, 5, "sent", at)
	g.Observe(ctx, uid)
	assert.Empty(t, alerts.zones, "green raises nothing")

	logSends(t, database, uid, 1, "sent", at)
	g.Observe(ctx, uid)
	g.Observe(ctx, uid)
	assert.Equal(t, []Zone{ZoneYellow}, alerts.zones, "same zone is not re-alerted")

	logSends(t, database, uid, 3, "sent", at)
	g.Observe(ctx, uid)
	assert.Equal(t, []Zone{ZoneYellow, ZoneRed}, alerts.zones)
}

func TestReserveCountsInFlight(t *testing.T) {
	g, database, _, uid := setup(t, auth.Demo)
	ctx := context.Background()
	logSends(t, database, uid, 8, "sent", time.Date(2025, 6, 2, 0, 0, 0, 0, time.UTC))

	r1, err := g.Reserve(ctx, uid)
	require.NoError(t, err)
	r2, err := g.Reserve(ctx, uid)
	require.NoError(t, err)
	_, err = g.Reserve(ctx, uid)
	require.ErrorIs(t, err, ErrQuotaExceeded)

	// A failed send frees its place.
	r1()
	r1()
	r3, err := g.Reserve(ctx, uid)
	require.NoError(t, err)

	// A logged send keeps counting after release.
	logSends(t, database, uid, 1, "sent", time.Date(2025, 6, 3, 0, 0, 0, 0, time.UTC))
	r2()
	_, err = g.Reserve(ctx, uid)
	require.ErrorIs(t, err, ErrQuotaExceeded)
	r3()
}

func TestReserveUnlimited(t *testing.T) {
	g, _, _, uid := setup(t, auth.Admin)
	for i := 0; i < 20; i++ {
		_, err := g.Reserve(context.Background(), uid)
		require.NoError(t, err)
	}
}
