// Package scheduler wraps robfig/cron to run the daemon's periodic jobs:
// the auto-reminder sweep, the exchange rate refresh and auth cleanup.
package scheduler

import (
	"context"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/NEXTmarketingSTUDIO/next-review-booster-sub000/internal/auth"
	"github.com/NEXTmarketingSTUDIO/next-review-booster-sub000/internal/db"
	"github.com/NEXTmarketingSTUDIO/next-review-booster-sub000/internal/queue"
	"github.com/NEXTmarketingSTUDIO/next-review-booster-sub000/internal/rates"
)

// Job names.
const (
	JobReminders   = "reminders"
	JobRateRefresh = "rate_refresh"
	JobCleanup     = "cleanup"
)

// Daily schedules, seconds field first.
const (
	RateRefreshSpec = "0 15 12 * * *"
	CleanupSpec     = "0 30 3 * * *"
)

// Accounts lists accounts with automatic reminders switched on.
type Accounts interface {
	AutoSendAccounts(ctx context.Context) ([]db.AccountSettings, error)
}

// Clients finds clients due for another reminder.
type Clients interface {
	DueForReminder(ctx context.Context, userID, frequency int, now time.Time) ([]db.Client, error)
}

// Enqueuer adds a send to the outbox.
type Enqueuer interface {
	Enqueue(ctx context.Context, userID, clientID int, key string) (int64, bool, error)
}

// RateRefresher forces a new exchange rate fetch.
type RateRefresher interface {
	Refresh(ctx context.Context) rates.Rate
}

// Job describes a registered cron entry.
type Job struct {
	Name string    `json:"name"`
	Spec string    `json:"spec"`
	Next time.Time `json:"next"`
	Prev time.Time `json:"prev"`
}

// Engine manages the cron scheduler.
type Engine struct {
	cron     *cron.Cron
	database *db.DB
	accounts Accounts
	clients  Clients
	outbox   Enqueuer
	rates    RateRefresher
	now      func() time.Time

	mu      sync.Mutex
	entries map[string]cron.EntryID
	specs   map[string]string
}

// Options wires an Engine. Rates may be nil.
type Options struct {
	DB       *db.DB
	Accounts Accounts
	Clients  Clients
	Outbox   Enqueuer
	Rates    RateRefresher
}

// New creates a new cron-based Engine.
func New(o Options) *Engine {
	return &Engine{
		cron:     cron.New(cron.WithSeconds()),
		database: o.DB,
		accounts: o.Accounts,
		clients:  o.Clients,
		outbox:   o.Outbox,
		rates:    o.Rates,
		now:      time.Now,
		entries:  make(map[string]cron.EntryID),
		specs:    make(map[string]string),
	}
}

// Start registers the jobs and begins the cron engine. reminderSpec is a
// six-field cron expression; empty disables the sweep.
func (e *Engine) Start(ctx context.Context, reminderSpec string) error {
	if reminderSpec != "" {
		if err := e.add(JobReminders, reminderSpec, func() { e.runSweep(ctx) }); err != nil {
			return fmt.Errorf("scheduler.Start: %w", err)
		}
	}
	if e.rates != nil {
		if err := e.add(JobRateRefresh, RateRefreshSpec, func() { e.refreshRate(ctx) }); err != nil {
			return fmt.Errorf("scheduler.Start: %w", err)
		}
	}
	if err := e.add(JobCleanup, CleanupSpec, func() { e.cleanup(ctx) }); err != nil {
		return fmt.Errorf("scheduler.Start: %w", err)
	}
	e.cron.Start()
	go func() {
		<-ctx.Done()
		<-e.cron.Stop().Done()
	}()
	return nil
}

func (e *Engine) add(name, spec string, fn func()) error {
	id, err := e.cron.AddFunc(spec, fn)
	if err != nil {
		return fmt.Errorf("parse cron %q for %s: %w", spec, name, err)
	}
	e.mu.Lock()
	e.entries[name] = id
	e.specs[name] = spec
	e.mu.Unlock()
	return nil
}

// Jobs lists the registered jobs sorted by name.
func (e *Engine) Jobs() []Job {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]Job, 0, len(e.entries))
	for name, id := range e.entries {
		entry := e.cron.Entry(id)
		out = append(out, Job{Name: name, Spec: e.specs[name], Next: entry.Next, Prev: entry.Prev})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (e *Engine) runSweep(ctx context.Context) {
	n, err := e.Sweep(ctx)
	if err != nil {
		log.Printf("scheduler: reminder sweep: %v", err)
		return
	}
	if n > 0 {
		log.Printf("scheduler: queued %d reminders", n)
		e.database.WriteLog(nil, "info", fmt.Sprintf("Auto-reminder sweep queued %d SMS", n))
	}
}

// Sweep enqueues a reminder for every client due one across all accounts
// with automatic reminders. Each (client, send number) pair is enqueued at
// most once, so overlapping sweeps add nothing. It returns how many new
// items were queued.
func (e *Engine) Sweep(ctx context.Context) (int, error) {
	accounts, err := e.accounts.AutoSendAccounts(ctx)
	if err != nil {
		return 0, fmt.Errorf("scheduler.Sweep: %w", err)
	}
	now := e.now()
	queued := 0
	for _, as := range accounts {
		due, err := e.clients.DueForReminder(ctx, as.UserID, as.ReminderFrequency, now)
		if err != nil {
			log.Printf("scheduler.Sweep: account %d: %v", as.UserID, err)
			continue
		}
		for _, c := range due {
			_, created, err := e.outbox.Enqueue(ctx, as.UserID, c.ID, queue.ReminderKey(c.ID, c.SMSCount))
			if err != nil {
				log.Printf("scheduler.Sweep: client %d: %v", c.ID, err)
				continue
			}
			if created {
				queued++
			}
		}
	}
	return queued, nil
}

func (e *Engine) refreshRate(ctx context.Context) {
	r := e.rates.Refresh(ctx)
	if r.Fallback {
		log.Printf("scheduler: rate refresh failed, using fallback %.4f", r.Mid)
		return
	}
	log.Printf("scheduler: %s rate %.4f (%s)", r.Currency, r.Mid, r.EffectiveDate)
}

func (e *Engine) cleanup(ctx context.Context) {
	if err := auth.CleanOldAttempts(ctx, e.database); err != nil {
		log.Printf("scheduler: cleanup attempts: %v", err)
	}
	if err := auth.CleanExpiredSessions(ctx, e.database); err != nil {
		log.Printf("scheduler: cleanup sessions: %v", err)
	}
}
