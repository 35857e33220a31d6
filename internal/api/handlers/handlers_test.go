package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/NEXTmarketingSTUDIO/next-review-booster-sub000/internal/auth"
	"github.com/NEXTmarketingSTUDIO/next-review-booster-sub000/internal/clients"
	"github.com/NEXTmarketingSTUDIO/next-review-booster-sub000/internal/config"
	"github.com/NEXTmarketingSTUDIO/next-review-booster-sub000/internal/db"
	"github.com/NEXTmarketingSTUDIO/next-review-booster-sub000/internal/limiter"
	"github.com/NEXTmarketingSTUDIO/next-review-booster-sub000/internal/notify"
	"github.com/NEXTmarketingSTUDIO/next-review-booster-sub000/internal/queue"
	"github.com/NEXTmarketingSTUDIO/next-review-booster-sub000/internal/quota"
	"github.com/NEXTmarketingSTUDIO/next-review-booster-sub000/internal/settings"
	"github.com/NEXTmarketingSTUDIO/next-review-booster-sub000/internal/sms"
	"github.com/NEXTmarketingSTUDIO/next-review-booster-sub000/internal/smscost"
)

type fixture struct {
	db    *db.DB
	h     *Handler
	notes *notify.Store
	user  *db.User
	admin *db.User
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	database, err := db.New(filepath.Join(t.TempDir(), "handlers_test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })
	require.NoError(t, database.Migrate())

	cfg := &config.Config{
		SessionExpiryHours:     24,
		BruteForceMaxAttempts:  5,
		BruteForceBlockMinutes: 15,
		PublicReviewURL:        "next-reviews-booster.com/review",
		PublicSignupURL:        "next-reviews-booster.com/client-login",
	}
	pricing := config.DefaultPricing()
	perms := auth.NewPermissions(database)
	cs := clients.New(database)
	st := settings.New(database, pricing)
	gov := quota.NewGovernor(database, perms, nil)
	notes := notify.NewStore(database)
	disp := notify.New(nil, nil, nil, notes)
	svc := sms.NewService(sms.Options{
		DB:       database,
		Clients:  cs,
		Settings: st,
		Quota:    gov,
		Notifier: disp,
		Pricing:  pricing,
		Link:     cfg.ReviewLink,
		DryRun:   true,
	})

	h := New(Deps{
		DB:       database,
		Config:   cfg,
		Pricing:  pricing,
		Perms:    perms,
		Clients:  cs,
		Settings: st,
		SMS:      svc,
		Quota:    gov,
		Queue:    queue.New(database),
		Notify:   disp,
		Notes:    notes,
	})

	ctx := context.Background()
	user, err := auth.CreateUser(ctx, database, "anna", "anna@example.com", "secret123", auth.Professional)
	require.NoError(t, err)
	admin, err := auth.CreateUser(ctx, database, "root", "", "secret123", auth.Admin)
	require.NoError(t, err)
	return &fixture{db: database, h: h, notes: notes, user: user, admin: admin}
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
	Meta    *pageMeta       `json:"meta"`
}

// call runs fn as user with the given path values ("name", "value", ...).
func call(t *testing.T, fn http.HandlerFunc, user *db.User, method, target string, body interface{}, path ...string) (int, envelope) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, target, &buf)
	for i := 0; i+1 < len(path); i += 2 {
		req.SetPathValue(path[i], path[i+1])
	}
	if user != nil {
		req = req.WithContext(auth.WithUser(req.Context(), user))
	}
	rec := httptest.NewRecorder()
	fn(rec, req)

	var env envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env), rec.Body.String())
	return rec.Code, env
}

func (f *fixture) addClient(t *testing.T, phone string) *db.Client {
	t.Helper()
	code, env := call(t, f.h.CreateClient, f.user, http.MethodPost, "/api/v1/clients",
		clients.Input{Name: "Jan", Surname: "Kowalski", Phone: phone})
	require.Equal(t, http.StatusCreated, code, env.Error)
	var c struct {
		ID         int    `json:"id"`
		ReviewCode string `json:"review_code"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &c))
	return &db.Client{ID: c.ID, ReviewCode: c.ReviewCode}
}

func TestEstimate(t *testing.T) {
	f := newFixture(t)

	code, env := call(t, f.h.Estimate, f.user, http.MethodPost, "/api/v1/estimate",
		map[string]interface{}{"template": "Hello [LINK]", "count": 2, "exchange_rate": 4.0})
	require.Equal(t, http.StatusOK, code, env.Error)

	var est smscost.CostEstimate
	require.NoError(t, json.Unmarshal(env.Data, &est))
	assert.Equal(t, 48, est.RenderedLength)
	assert.Equal(t, 1, est.Segments)
	assert.Equal(t, 2, est.MessageCount)
	assert.InDelta(t, 0.0862, est.CostBase, 1e-9)
	assert.InDelta(t, 0.3448, est.CostDisplay, 1e-9)

	code, env = call(t, f.h.Estimate, f.user, http.MethodPost, "/api/v1/estimate",
		map[string]interface{}{"template": "x", "count": -1})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.False(t, env.Success)
}

func TestEstimateKeepsCompanyToken(t *testing.T) {
	f := newFixture(t)
	lengthFor := func(company string) int {
		code, env := call(t, f.h.Estimate, f.user, http.MethodPost, "/api/v1/estimate",
			map[string]interface{}{"template": "Opinia o [NAZWA_FIRMY]: [LINK]", "company_name": company, "exchange_rate": 4.0})
		require.Equal(t, http.StatusOK, code, env.Error)
		var est smscost.CostEstimate
		require.NoError(t, json.Unmarshal(env.Data, &est))
		return est.RenderedLength
	}
	assert.Equal(t, 66, lengthFor(""), "[NAZWA_FIRMY] is measured as written")
	assert.Equal(t, 60, lengthFor("Salon X"))
}

func TestEstimateFallsBackWithoutRates(t *testing.T) {
	f := newFixture(t)
	code, env := call(t, f.h.Estimate, f.user, http.MethodPost, "/api/v1/estimate",
		map[string]interface{}{"template": "Opinia: [LINK]"})
	require.Equal(t, http.StatusOK, code, env.Error)

	var est smscost.CostEstimate
	require.NoError(t, json.Unmarshal(env.Data, &est))
	assert.Equal(t, 1, est.MessageCount)
	assert.Equal(t, 4.0, est.ExchangeRate)

	code, _ = call(t, f.h.GetRate, f.user, http.MethodGet, "/api/v1/rate", nil)
	assert.Equal(t, http.StatusServiceUnavailable, code)
}

func TestClientLifecycle(t *testing.T) {
	f := newFixture(t)
	c := f.addClient(t, "+48500100200")
	f.addClient(t, "+48500100201")
	id := fmt.Sprint(c.ID)

	code, env := call(t, f.h.ListClients, f.user, http.MethodGet, "/api/v1/clients?limit=1", nil)
	require.Equal(t, http.StatusOK, code)
	require.NotNil(t, env.Meta)
	assert.Equal(t, 2, env.Meta.Total)
	assert.Equal(t, 1, env.Meta.Limit)

	code, env = call(t, f.h.UpdateClient, f.user, http.MethodPut, "/api/v1/clients/"+id,
		map[string]string{"note": "VIP"}, "id", id)
	require.Equal(t, http.StatusOK, code, env.Error)
	assert.Contains(t, string(env.Data), `"note":"VIP"`)

	// Another account cannot see it.
	code, _ = call(t, f.h.GetClient, f.admin, http.MethodGet, "/api/v1/clients/"+id, nil, "id", id)
	assert.Equal(t, http.StatusNotFound, code)

	code, _ = call(t, f.h.DeleteClient, f.user, http.MethodDelete, "/api/v1/clients/"+id, nil, "id", id)
	assert.Equal(t, http.StatusOK, code)
	code, _ = call(t, f.h.GetClient, f.user, http.MethodGet, "/api/v1/clients/"+id, nil, "id", id)
	assert.Equal(t, http.StatusNotFound, code)

	code, _ = call(t, f.h.GetClient, f.user, http.MethodGet, "/api/v1/clients/abc", nil, "id", "abc")
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestSendSMS(t *testing.T) {
	f := newFixture(t)
	c := f.addClient(t, "+48500100200")
	id := fmt.Sprint(c.ID)

	code, env := call(t, f.h.SendSMS, f.user, http.MethodPost, "/api/v1/clients/"+id+"/sms", nil, "id", id)
	require.Equal(t, http.StatusOK, code, env.Error)
	var res sms.Result
	require.NoError(t, json.Unmarshal(env.Data, &res))
	assert.Equal(t, c.ID, res.ClientID)
	assert.Equal(t, 3, res.Segments)

	code, env = call(t, f.h.Usage, f.user, http.MethodGet, "/api/v1/usage", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Contains(t, string(env.Data), `"used":1`)

	noPhone := f.addClient(t, "")
	npID := fmt.Sprint(noPhone.ID)
	code, env = call(t, f.h.SendSMS, f.user, http.MethodPost, "/api/v1/clients/"+npID+"/sms", nil, "id", npID)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, sms.ErrNoPhone.Error(), env.Error)
}

func TestQueueSMSIsIdempotent(t *testing.T) {
	f := newFixture(t)
	c := f.addClient(t, "+48500100200")
	id := fmt.Sprint(c.ID)

	var first, second struct {
		ID      int64 `json:"id"`
		Created bool  `json:"created"`
	}
	code, env := call(t, f.h.QueueSMS, f.user, http.MethodPost, "/", nil, "id", id)
	require.Equal(t, http.StatusOK, code, env.Error)
	require.NoError(t, json.Unmarshal(env.Data, &first))
	code, env = call(t, f.h.QueueSMS, f.user, http.MethodPost, "/", nil, "id", id)
	require.Equal(t, http.StatusOK, code, env.Error)
	require.NoError(t, json.Unmarshal(env.Data, &second))

	assert.True(t, first.Created)
	assert.False(t, second.Created)
	assert.Equal(t, first.ID, second.ID)
}

func TestReviewFlow(t *testing.T) {
	f := newFixture(t)
	c := f.addClient(t, "+48500100200")

	code, env := call(t, f.h.GetReviewForm, nil, http.MethodGet, "/api/v1/review/"+c.ReviewCode, nil, "code", c.ReviewCode)
	require.Equal(t, http.StatusOK, code, env.Error)
	var form clients.ReviewForm
	require.NoError(t, json.Unmarshal(env.Data, &form))
	assert.Equal(t, "Jan Kowalski", form.ClientName)
	assert.Equal(t, clients.DefaultCompanyName, form.CompanyName)
	assert.False(t, form.Completed)

	code, _ = call(t, f.h.SubmitReview, nil, http.MethodPost, "/", map[string]interface{}{"stars": 9}, "code", c.ReviewCode)
	assert.Equal(t, http.StatusBadRequest, code)

	code, env = call(t, f.h.SubmitReview, nil, http.MethodPost, "/",
		map[string]interface{}{"stars": 5, "review": "Super"}, "code", c.ReviewCode)
	require.Equal(t, http.StatusOK, code, env.Error)

	n, err := f.notes.UnreadCount(context.Background(), f.user.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	code, _ = call(t, f.h.GetReviewForm, nil, http.MethodGet, "/", nil, "code", "zzzzzzzzzz")
	assert.Equal(t, http.StatusNotFound, code)
}

func TestSettings(t *testing.T) {
	f := newFixture(t)
	base := db.AccountSettings{
		Name:              "Anna",
		Email:             "anna@example.com",
		CompanyName:       "Salon Anna",
		ReminderFrequency: 7,
		MessageTemplate:   "Opinia o [NAZWA_FIRMY]: [LINK]",
	}

	code, env := call(t, f.h.PutSettings, f.user, http.MethodPut, "/api/v1/settings", base)
	require.Equal(t, http.StatusOK, code, env.Error)
	assert.Contains(t, string(env.Data), `"company_name":"Salon Anna"`)

	long := base
	long.MessageTemplate = "[LINK] " + string(bytes.Repeat([]byte("a"), 200))
	code, env = call(t, f.h.PutSettings, f.user, http.MethodPut, "/api/v1/settings", long)
	assert.Equal(t, http.StatusUnprocessableEntity, code)
	assert.False(t, env.Success)

	bad := base
	bad.ReminderFrequency = 45
	code, _ = call(t, f.h.PutSettings, f.user, http.MethodPut, "/api/v1/settings", bad)
	assert.Equal(t, http.StatusBadRequest, code)

	code, env = call(t, f.h.PreviewTemplate, f.user, http.MethodPost, "/api/v1/settings/preview",
		map[string]string{"template": "[NAZWA_FIRMY] [LINK]"})
	require.Equal(t, http.StatusOK, code)
	var p settings.Preview
	require.NoError(t, json.Unmarshal(env.Data, &p))
	assert.Equal(t, "Salon Anna next-reviews-booster.com/review/vqyrdqrhf4", p.Rendered)
	assert.False(t, p.TooLong)
}

func TestNotifications(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	first, err := f.notes.Create(ctx, f.user.ID, notify.LevelInfo, "a", "one")
	require.NoError(t, err)
	_, err = f.notes.Create(ctx, f.user.ID, notify.LevelInfo, "b", "two")
	require.NoError(t, err)

	code, env := call(t, f.h.ListNotifications, f.user, http.MethodGet, "/api/v1/notifications", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, 2, env.Meta.Total)

	id := fmt.Sprint(first.ID)
	code, _ = call(t, f.h.MarkNotificationRead, f.user, http.MethodPost, "/", nil, "id", id)
	require.Equal(t, http.StatusOK, code)
	code, _ = call(t, f.h.MarkNotificationRead, f.admin, http.MethodPost, "/", nil, "id", id)
	assert.Equal(t, http.StatusNotFound, code)

	code, env = call(t, f.h.UnreadNotifications, f.user, http.MethodGet, "/", nil)
	require.Equal(t, http.StatusOK, code)
	assert.JSONEq(t, `{"unread_count":1}`, string(env.Data))

	code, _ = call(t, f.h.DeleteAllNotifications, f.user, http.MethodDelete, "/", nil)
	require.Equal(t, http.StatusOK, code)
	code, env = call(t, f.h.ListNotifications, f.user, http.MethodGet, "/api/v1/notifications?unread_only=true", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, 0, env.Meta.Total)
}

func TestAdminUsers(t *testing.T) {
	f := newFixture(t)

	code, env := call(t, f.h.CreateUser, f.admin, http.MethodPost, "/api/v1/admin/users",
		map[string]string{"display_name": "Piotr Nowak", "password": "secret123", "permission": "Starter"})
	require.Equal(t, http.StatusCreated, code, env.Error)
	var u db.User
	require.NoError(t, json.Unmarshal(env.Data, &u))
	assert.Equal(t, "piotrnowak", u.Username)
	assert.Equal(t, "Starter", u.Permission)

	code, _ = call(t, f.h.CreateUser, f.admin, http.MethodPost, "/",
		map[string]string{"username": "anna", "password": "secret123"})
	assert.Equal(t, http.StatusConflict, code)

	id := fmt.Sprint(u.ID)
	code, _ = call(t, f.h.UpdatePermission, f.admin, http.MethodPut, "/", map[string]string{"permission": "emperor"}, "id", id)
	assert.Equal(t, http.StatusBadRequest, code)
	code, env = call(t, f.h.UpdatePermission, f.admin, http.MethodPut, "/", map[string]string{"permission": "Professional"}, "id", id)
	require.Equal(t, http.StatusOK, code, env.Error)
	assert.Contains(t, string(env.Data), `"permission":"Professional"`)
	code, _ = call(t, f.h.UpdatePermission, f.admin, http.MethodPut, "/", map[string]string{"permission": "Demo"}, "id", "999")
	assert.Equal(t, http.StatusNotFound, code)

	code, env = call(t, f.h.ListUsers, f.admin, http.MethodGet, "/api/v1/admin/users", nil)
	require.Equal(t, http.StatusOK, code)
	var list []userWithUsage
	require.NoError(t, json.Unmarshal(env.Data, &list))
	assert.Len(t, list, 3)
}

func TestAdminTwilio(t *testing.T) {
	f := newFixture(t)
	id := fmt.Sprint(f.user.ID)

	code, _ := call(t, f.h.UpdateUserTwilio, f.admin, http.MethodPut, "/", map[string]string{"account_sid": "AC1"}, "id", id)
	assert.Equal(t, http.StatusBadRequest, code)

	code, env := call(t, f.h.UpdateUserTwilio, f.admin, http.MethodPut, "/",
		map[string]string{"account_sid": "AC1", "auth_token": "tok", "phone_number": "+48100"}, "id", id)
	require.Equal(t, http.StatusOK, code, env.Error)
	assert.Contains(t, string(env.Data), `"configured":true`)
	assert.NotContains(t, string(env.Data), "tok")

	code, env = call(t, f.h.GetTwilio, f.user, http.MethodGet, "/api/v1/settings/twilio", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Contains(t, string(env.Data), `"account_sid":"AC1"`)
}

func TestListLogsScopesAccounts(t *testing.T) {
	f := newFixture(t)
	f.db.WriteLog(&f.user.ID, "info", "mine")
	f.db.WriteLog(&f.admin.ID, "info", "theirs")
	f.db.WriteLog(nil, "warn", "system")

	code, env := call(t, f.h.ListLogs, f.user, http.MethodGet, "/api/v1/logs", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, 1, env.Meta.Total)

	code, env = call(t, f.h.ListLogs, f.admin, http.MethodGet, "/api/v1/logs", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, 3, env.Meta.Total)

	code, env = call(t, f.h.ListLogs, f.admin, http.MethodGet, "/api/v1/logs?level=warn", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, 1, env.Meta.Total)
}

func TestOptionalDepsAnswer503(t *testing.T) {
	f := newFixture(t)
	for name, fn := range map[string]http.HandlerFunc{
		"report":   f.h.CostReport,
		"pause":    f.h.PauseWorkers,
		"refresh":  f.h.RefreshRate,
		"webhooks": f.h.ListWebhooks,
		"ws":       f.h.ServeWS,
	} {
		code, _ := call(t, fn, f.admin, http.MethodGet, "/", nil)
		assert.Equal(t, http.StatusServiceUnavailable, code, name)
	}
}

func TestStatusOf(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{clients.ErrNotFound, http.StatusNotFound},
		{fmt.Errorf("wrapped: %w", auth.ErrUserNotFound), http.StatusNotFound},
		{settings.ErrInvalidFrequency, http.StatusBadRequest},
		{sms.ErrLimitReached, http.StatusConflict},
		{&smscost.LengthError{Length: 201, Max: 200}, http.StatusUnprocessableEntity},
		{quota.ErrQuotaExceeded, http.StatusTooManyRequests},
		{&limiter.ErrRateLimit{}, http.StatusTooManyRequests},
		{sms.ErrNoGateway, http.StatusServiceUnavailable},
		{&sms.TwilioError{Status: 400, Code: 21211}, http.StatusBadGateway},
		{errors.New("disk on fire"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, statusOf(tc.err), tc.err.Error())
	}
}

func TestLoginLogsLostAttempt(t *testing.T) {
	f := newFixture(t)
	_, err := f.db.Exec(`CREATE TRIGGER no_attempts BEFORE INSERT ON login_attempts
		BEGIN SELECT RAISE(ABORT, 'attempts are read-only'); END`)
	require.NoError(t, err)

	var buf bytes.Buffer
	log.SetOutput(&buf)
	t.Cleanup(func() { log.SetOutput(os.Stderr) })

	code, env := call(t, f.h.Login, nil, http.MethodPost, "/api/v1/auth/login",
		map[string]string{"username": "anna", "password": "secret123"})
	require.Equal(t, http.StatusOK, code, env.Error)
	assert.Contains(t, buf.String(), "record attempt")
	assert.Contains(t, buf.String(), "attempts are read-only")

	buf.Reset()
	code, _ = call(t, f.h.Login, nil, http.MethodPost, "/api/v1/auth/login",
		map[string]string{"username": "anna", "password": "wrong"})
	assert.Equal(t, http.StatusUnauthorized, code)
	assert.Contains(t, buf.String(), "record attempt")
}

func TestDeleteUser(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.addClient(t, "+48500100200")
	_, err := f.notes.Create(ctx, f.user.ID, notify.LevelInfo, "t", "m")
	require.NoError(t, err)
	n, err := f.notes.UnreadCount(ctx, f.user.ID)
	require.NoError(t, err)
	require.Equal(t, 1, n)
	f.h.perms.Lookup(ctx, f.user.ID)
	cached := f.h.perms.Cached()

	id := fmt.Sprint(f.user.ID)
	code, _ := call(t, f.h.DeleteUser, f.admin, http.MethodDelete, "/", nil, "id", fmt.Sprint(f.admin.ID))
	assert.Equal(t, http.StatusConflict, code)

	code, env := call(t, f.h.DeleteUser, f.admin, http.MethodDelete, "/", nil, "id", id)
	require.Equal(t, http.StatusOK, code, env.Error)
	assert.Equal(t, cached-1, f.h.perms.Cached())
	_, err = auth.GetUser(ctx, f.db, f.user.ID)
	require.ErrorIs(t, err, auth.ErrUserNotFound)
	n, err = f.notes.UnreadCount(ctx, f.user.ID)
	require.NoError(t, err)
	assert.Zero(t, n, "no cached count survives the account")

	code, _ = call(t, f.h.DeleteUser, f.admin, http.MethodDelete, "/", nil, "id", id)
	assert.Equal(t, http.StatusNotFound, code)
}
