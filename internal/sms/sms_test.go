package sms

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/NEXTmarketingSTUDIO/next-review-booster-sub000/internal/auth"
	"github.com/NEXTmarketingSTUDIO/next-review-booster-sub000/internal/clients"
	"github.com/NEXTmarketingSTUDIO/next-review-booster-sub000/internal/config"
	"github.com/NEXTmarketingSTUDIO/next-review-booster-sub000/internal/db"
	"github.com/NEXTmarketingSTUDIO/next-review-booster-sub000/internal/limiter"
	"github.com/NEXTmarketingSTUDIO/next-review-booster-sub000/internal/notify"
	"github.com/NEXTmarketingSTUDIO/next-review-booster-sub000/internal/quota"
	"github.com/NEXTmarketingSTUDIO/next-review-booster-sub000/internal/settings"
	"github.com/NEXTmarketingSTUDIO/next-review-booster-sub000/internal/smscost"
	"github.com/NEXTmarketingSTUDIO/next-review-booster-sub000/internal/ws"
)

func TestTwilioSenderSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/2010-04-01/Accounts/AC123/Messages.json", r.URL.Path)
		user, pass, ok := r.BasicAuth()
		assert.True(t, ok)
		assert.Equal(t, "AC123", user)
		assert.Equal(t, "secret", pass)
		assert.NoError(t, r.ParseForm())
		assert.Equal(t, "+48500100200", r.PostForm.Get("To"))
		assert.Equal(t, "Cześć", r.PostForm.Get("Body"))
		assert.Equal(t, "MG1", r.PostForm.Get("MessagingServiceSid"))
		assert.Empty(t, r.PostForm.Get("From"))
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"sid":"SM42","status":"queued"}`))
	}))
	defer srv.Close()

	s := NewTwilioSender(TwilioCredentials{AccountSID: "AC123", AuthToken: "secret", From: "+100", MessagingServiceSID: "MG1"},
		WithBaseURL(srv.URL), WithHTTPClient(srv.Client()))
	res, err := s.Send(context.Background(), Message{To: "+48500100200", Body: "Cześć"})
	require.NoError(t, err)
	assert.Equal(t, "SM42", res.ProviderSID)
	assert.Equal(t, "queued", res.Status)
}

func TestTwilioSenderErrors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		header string
		body   string
		check  func(t *testing.T, err error)
	}{
		{
			name: "429 is a rate limit", status: http.StatusTooManyRequests, header: "3",
			body: `{"code":20429,"message":"Too Many Requests"}`,
			check: func(t *testing.T, err error) {
				var rl *limiter.ErrRateLimit
				require.ErrorAs(t, err, &rl)
				assert.Equal(t, "twilio", rl.Gateway)
				assert.Equal(t, 3e9, float64(rl.RetryAfter))
			},
		},
		{
			name: "invalid number is permanent", status: http.StatusBadRequest,
			body: `{"code":21211,"message":"Invalid 'To' Phone Number","status":400}`,
			check: func(t *testing.T, err error) {
				var te *TwilioError
				require.ErrorAs(t, err, &te)
				assert.Equal(t, 21211, te.Code)
				assert.Equal(t, http.StatusBadRequest, te.Status)
				assert.True(t, te.Permanent())
			},
		},
		{
			name: "server error", status: http.StatusBadGateway, body: "bad gateway",
			check: func(t *testing.T, err error) {
				var te *TwilioError
				require.ErrorAs(t, err, &te)
				assert.Equal(t, "bad gateway", te.Message)
				assert.False(t, te.Permanent())
			},
		},
	}
	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				if tc.header != "" {
					w.Header().Set("Retry-After", tc.header)
				}
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(tc.body))
			}))
			defer srv.Close()
			s := NewTwilioSender(TwilioCredentials{AccountSID: "AC1", From: "+1"},
				WithBaseURL(srv.URL), WithHTTPClient(srv.Client()))
			_, err := s.Send(context.Background(), Message{To: "+2", Body: "x"})
			require.Error(t, err)
			tc.check(t, err)
		})
	}
}

type fakeSender struct {
	mu   sync.Mutex
	sent []Message
	err  error
}

func (f *fakeSender) Send(_ context.Context, m Message) (SendResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return SendResult{}, f.err
	}
	f.sent = append(f.sent, m)
	return SendResult{ProviderSID: "SM" + m.To, Status: "queued"}, nil
}

type fakeNotifier struct {
	mu     sync.Mutex
	events []notify.Event
}

func (f *fakeNotifier) Notify(_ context.Context, ev notify.Event) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, ev)
}

type fixedPerm auth.Permission

func (p fixedPerm) Lookup(context.Context, int) auth.Permission { return auth.Permission(p) }

type fixture struct {
	svc      *Service
	db       *db.DB
	clients  *clients.Store
	settings *settings.Store
	sender   *fakeSender
	notes    *fakeNotifier
	userID   int
}

func newFixture(t *testing.T, perm auth.Permission) *fixture {
	t.Helper()
	database, err := db.New(filepath.Join(t.TempDir(), "sms_test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })
	require.NoError(t, database.Migrate())
	res, err := database.Exec(`INSERT INTO users (username, password_hash) VALUES ('anna','x')`)
	require.NoError(t, err)
	uid, _ := res.LastInsertId()

	pricing := config.DefaultPricing()
	f := &fixture{
		db:       database,
		clients:  clients.New(database),
		settings: settings.New(database, pricing),
		sender:   &fakeSender{},
		notes:    &fakeNotifier{},
		userID:   int(uid),
	}
	f.svc = NewService(Options{
		DB:       database,
		Clients:  f.clients,
		Settings: f.settings,
		Quota:    quota.NewGovernor(database, fixedPerm(perm), nil),
		Notifier: f.notes,
		Pricing:  pricing,
		Link:     func(code string) string { return "next-reviews-booster.com/review/" + code },
		Sender:   f.sender,
	})
	return f
}

func (f *fixture) addClient(t *testing.T, name, phone string) *db.Client {
	t.Helper()
	c, err := f.clients.Create(context.Background(), f.userID, clients.Input{Name: name, Phone: phone})
	require.NoError(t, err)
	return c
}

func TestSendToClient(t *testing.T) {
	f := newFixture(t, auth.Starter)
	ctx := context.Background()
	_, err := f.settings.Put(ctx, db.AccountSettings{
		UserID: f.userID, Name: "Anna", Email: "a@example.com", CompanyName: "Salon X",
		ReminderFrequency: 7, MessageTemplate: "Opinia o [NAZWA_FIRMY]: [LINK]",
	})
	require.NoError(t, err)
	c := f.addClient(t, "Jan", "+48500100200")

	res, err := f.svc.SendToClient(ctx, f.userID, c.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Segments)
	assert.Equal(t, smscost.Standard, res.Encoding)
	assert.InDelta(t, smscost.DefaultCostPerSegment, res.CostBase, 1e-9)

	require.Len(t, f.sender.sent, 1)
	assert.Equal(t, "Opinia o Salon X: next-reviews-booster.com/review/"+c.ReviewCode, f.sender.sent[0].Body)

	got, err := f.clients.Get(ctx, f.userID, c.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.SMSCount)
	assert.Equal(t, db.ReviewSent, got.ReviewStatus)
	assert.True(t, got.LastSMSSent.Valid)

	history, err := f.svc.History(ctx, f.userID, 10)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, "sent", history[0].Status)
	assert.Equal(t, "SM+48500100200", history[0].ProviderSID)

	require.Len(t, f.notes.events, 1)
	assert.Equal(t, ws.TypeSMSSent, f.notes.events[0].Type)

	_, err = f.svc.SendToClient(ctx, f.userID, c.ID)
	require.NoError(t, err)
	_, err = f.svc.SendToClient(ctx, f.userID, c.ID)
	require.ErrorIs(t, err, ErrLimitReached)
}

func TestSendToClientRejections(t *testing.T) {
	f := newFixture(t, auth.Starter)
	ctx := context.Background()

	noPhone := f.addClient(t, "Bez", "")
	_, err := f.svc.SendToClient(ctx, f.userID, noPhone.ID)
	require.ErrorIs(t, err, ErrNoPhone)

	done := f.addClient(t, "Done", "+1")
	_, err = f.clients.SubmitReview(ctx, done.ReviewCode, 5, "")
	require.NoError(t, err)
	_, err = f.svc.SendToClient(ctx, f.userID, done.ID)
	require.ErrorIs(t, err, ErrAlreadyCompleted)

	_, err = f.svc.SendToClient(ctx, f.userID, 9999)
	require.ErrorIs(t, err, clients.ErrNotFound)
	assert.Empty(t, f.sender.sent)
}

func TestSendToClientTooLong(t *testing.T) {
	f := newFixture(t, auth.Starter)
	ctx := context.Background()
	c := f.addClient(t, "Jan", "+1")
	// Bypass settings validation to store an over-long template.
	_, err := f.db.Exec(`INSERT INTO account_settings (user_id, message_template) VALUES (?, ?)`,
		f.userID, "[LINK] "+strings.Repeat("a", 190))
	require.NoError(t, err)

	_, err = f.svc.SendToClient(ctx, f.userID, c.ID)
	var le *smscost.LengthError
	require.ErrorAs(t, err, &le)
	assert.Empty(t, f.sender.sent)
}

func TestSendToClientGatewayFailure(t *testing.T) {
	f := newFixture(t, auth.Starter)
	ctx := context.Background()
	c := f.addClient(t, "Jan", "+1")
	f.sender.err = &limiter.ErrRateLimit{Gateway: "twilio", Line: "Too Many Requests"}

	_, err := f.svc.SendToClient(ctx, f.userID, c.ID)
	var rl *limiter.ErrRateLimit
	require.ErrorAs(t, err, &rl)

	got, _ := f.clients.Get(ctx, f.userID, c.ID)
	assert.Zero(t, got.SMSCount, "failed sends are not counted")
	history, _ := f.svc.History(ctx, f.userID, 10)
	require.Len(t, history, 1)
	assert.Equal(t, "failed", history[0].Status)
	assert.Zero(t, history[0].CostBase)
	require.Len(t, f.notes.events, 1)
	assert.Equal(t, ws.TypeSMSFailed, f.notes.events[0].Type)
}

func TestSendToClientNoGateway(t *testing.T) {
	f := newFixture(t, auth.Starter)
	f.svc.defaultSender = nil
	c := f.addClient(t, "Jan", "+1")
	_, err := f.svc.SendToClient(context.Background(), f.userID, c.ID)
	require.ErrorIs(t, err, ErrNoGateway)
}

func TestSendToClientUsesAccountGateway(t *testing.T) {
	f := newFixture(t, auth.Starter)
	ctx := context.Background()
	require.NoError(t, f.settings.PutTwilio(ctx, db.TwilioConfig{UserID: f.userID, AccountSID: "ACown", AuthToken: "t", PhoneNumber: "+48"}))
	own := &fakeSender{}
	var gotCfg db.TwilioConfig
	f.svc.NewAccountSender = func(c db.TwilioConfig) Sender { gotCfg = c; return own }
	c := f.addClient(t, "Jan", "+1")

	_, err := f.svc.SendToClient(ctx, f.userID, c.ID)
	require.NoError(t, err)
	assert.Len(t, own.sent, 1)
	assert.Empty(t, f.sender.sent)
	assert.Equal(t, "ACown", gotCfg.AccountSID)
}

type gatedSender struct {
	entered chan struct{}
	gate    chan struct{}
	mu      sync.Mutex
	sent    int
}

func (g *gatedSender) Send(_ context.Context, m Message) (SendResult, error) {
	g.entered <- struct{}{}
	<-g.gate
	g.mu.Lock()
	defer g.mu.Unlock()
	g.sent++
	return SendResult{ProviderSID: "SM" + m.To}, nil
}

func TestSendToClientConcurrentRespectsLimit(t *testing.T) {
	f := newFixture(t, auth.Starter)
	ctx := context.Background()
	c := f.addClient(t, "Jan", "+48500100200")
	gs := &gatedSender{entered: make(chan struct{}, 3), gate: make(chan struct{})}
	f.svc.defaultSender = gs

	var wg sync.WaitGroup
	errs := make(chan error, 3)
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.SendToClient(ctx, f.userID, c.ID)
			errs <- err
		}()
	}

	// Two sends hold the client's slots inside the gateway; the third is
	// turned away without reaching it.
	<-gs.entered
	<-gs.entered
	require.ErrorIs(t, <-errs, ErrLimitReached)
	close(gs.gate)
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	assert.Equal(t, 2, gs.sent)
	got, err := f.clients.Get(ctx, f.userID, c.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.SMSCount)
}

func TestSendToClientConcurrentRespectsQuota(t *testing.T) {
	f := newFixture(t, auth.Demo)
	ctx := context.Background()
	for i := 0; i < 9; i++ {
		_, err := f.db.Exec(`INSERT INTO sms_log (user_id, status) VALUES (?, 'sent')`, f.userID)
		require.NoError(t, err)
	}
	a := f.addClient(t, "Adam", "+1")
	b := f.addClient(t, "Beata", "+2")
	gs := &gatedSender{entered: make(chan struct{}, 2), gate: make(chan struct{})}
	f.svc.defaultSender = gs

	done := make(chan error, 1)
	go func() {
		_, err := f.svc.SendToClient(ctx, f.userID, a.ID)
		done <- err
	}()
	<-gs.entered
	_, err := f.svc.SendToClient(ctx, f.userID, b.ID)
	require.ErrorIs(t, err, quota.ErrQuotaExceeded)
	close(gs.gate)
	require.NoError(t, <-done)
	assert.Equal(t, 1, gs.sent)
}

// cancellingSender accepts the message and then cancels the caller's context,
// like a client disconnecting while the gateway call is in flight.
type cancellingSender struct{ cancel context.CancelFunc }

func (c cancellingSender) Send(_ context.Context, m Message) (SendResult, error) {
	c.cancel()
	return SendResult{ProviderSID: "SM" + m.To}, nil
}

func TestSendToClientRecordsAfterCancel(t *testing.T) {
	f := newFixture(t, auth.Starter)
	c := f.addClient(t, "Jan", "+48500100200")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.svc.defaultSender = cancellingSender{cancel: cancel}

	_, err := f.svc.SendToClient(ctx, f.userID, c.ID)
	require.NoError(t, err)
	require.Error(t, ctx.Err())

	bg := context.Background()
	got, err := f.clients.Get(bg, f.userID, c.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.SMSCount)
	assert.Equal(t, db.ReviewSent, got.ReviewStatus)
	history, err := f.svc.History(bg, f.userID, 10)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, "sent", history[0].Status)
}

func TestSendToAll(t *testing.T) {
	f := newFixture(t, auth.Demo)
	ctx := context.Background()
	for i := 0; i < 12; i++ {
		f.addClient(t, "Client", "+48"+string(rune('a'+i)))
	}
	f.addClient(t, "NoPhone", "")

	res, err := f.svc.SendToAll(ctx, f.userID)
	require.NoError(t, err)
	assert.Equal(t, 12, res.TotalFound)
	assert.Equal(t, 10, res.Sent, "demo accounts stop at the monthly limit")
	assert.Len(t, res.Errors, 2)
	assert.Len(t, f.sender.sent, 10)

	res, err = f.svc.SendToAll(ctx, f.userID)
	require.NoError(t, err)
	assert.Zero(t, res.Sent)
	require.NotEmpty(t, res.Errors)
	assert.Contains(t, res.Errors[0], "monthly SMS limit")
}

func TestSendToAllEmpty(t *testing.T) {
	f := newFixture(t, auth.Starter)
	res, err := f.svc.SendToAll(context.Background(), f.userID)
	require.NoError(t, err)
	assert.Equal(t, BulkResult{Errors: []string{}}, res)
}

func TestLogSender(t *testing.T) {
	res, err := LogSender{}.Send(context.Background(), Message{To: "+1", Body: "x"})
	require.NoError(t, err)
	assert.Contains(t, res.ProviderSID, "dry-")
}
