// Package worker implements the goroutines that drain the SMS outbox.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/NEXTmarketingSTUDIO/next-review-booster-sub000/internal/clients"
	"github.com/NEXTmarketingSTUDIO/next-review-booster-sub000/internal/db"
	"github.com/NEXTmarketingSTUDIO/next-review-booster-sub000/internal/limiter"
	"github.com/NEXTmarketingSTUDIO/next-review-booster-sub000/internal/notify"
	"github.com/NEXTmarketingSTUDIO/next-review-booster-sub000/internal/quota"
	"github.com/NEXTmarketingSTUDIO/next-review-booster-sub000/internal/sms"
	"github.com/NEXTmarketingSTUDIO/next-review-booster-sub000/internal/smscost"
	"github.com/NEXTmarketingSTUDIO/next-review-booster-sub000/internal/ws"
)

// Queue is the part of the outbox a worker needs.
type Queue interface {
	Dequeue(ctx context.Context) (*db.OutboxItem, error)
	MarkSent(ctx context.Context, id int) error
	MarkFailed(ctx context.Context, it *db.OutboxItem, errMsg string, retryAt *time.Time) error
}

// Sender delivers one review request.
type Sender interface {
	SendToClient(ctx context.Context, userID, clientID int) (*sms.Result, error)
}

// Notifier receives rate limit events.
type Notifier interface {
	Notify(ctx context.Context, ev notify.Event)
}

// LimitAlerter offers the operator retry and pause actions for a throttled
// item.
type LimitAlerter interface {
	SendLimitAlert(itemID, userID int, line string) error
}

// Backoff limits.
const (
	minRateLimitWait = 30 * time.Second
	retryStep        = time.Minute
)

// Worker pulls outbox items and sends them.
type Worker struct {
	id        int
	pool      *Pool
	pollEvery time.Duration
}

// Run is the main worker loop. Exits when ctx is cancelled.
func (w *Worker) Run(ctx context.Context) {
	log.Printf("worker[%d]: started", w.id)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		if w.pool.Paused() {
			w.sleepOrExit(ctx, w.pollEvery)
			continue
		}

		it, err := w.pool.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Printf("worker[%d]: dequeue error: %v", w.id, err)
			w.sleepOrExit(ctx, 10*time.Second)
			continue
		}
		if it == nil {
			w.sleepOrExit(ctx, w.pollEvery)
			continue
		}

		if wait := w.process(ctx, it); wait > 0 {
			w.sleepOrExit(ctx, wait)
		}
	}
}

// process sends one item and records the outcome. It returns how long the
// worker should back off before the next item. The outcome is written even
// when ctx was cancelled during the send, so a delivered item is never left
// in flight for RequeueStale to send again.
func (w *Worker) process(ctx context.Context, it *db.OutboxItem) time.Duration {
	_, err := w.pool.sender.SendToClient(ctx, it.UserID, it.ClientID)
	ctx = context.WithoutCancel(ctx)
	if err == nil {
		if err := w.pool.queue.MarkSent(ctx, it.ID); err != nil {
			log.Printf("worker[%d]: item %d: %v", w.id, it.ID, err)
		}
		return 0
	}

	var rl *limiter.ErrRateLimit
	switch {
	case errors.As(err, &rl):
		wait := rl.RetryAfter
		if wait < minRateLimitWait {
			wait = minRateLimitWait
		}
		retryAt := w.pool.now().Add(wait)
		w.markFailed(ctx, it, err, &retryAt)
		w.pool.rateLimited(ctx, it, rl)
		return wait
	case Permanent(err):
		w.markFailed(ctx, it, err, nil)
	default:
		retryAt := w.pool.now().Add(time.Duration(it.Attempts) * retryStep)
		w.markFailed(ctx, it, err, &retryAt)
	}
	log.Printf("worker[%d]: item %d client %d: %v", w.id, it.ID, it.ClientID, err)
	return 0
}

func (w *Worker) markFailed(ctx context.Context, it *db.OutboxItem, cause error, retryAt *time.Time) {
	if err := w.pool.queue.MarkFailed(ctx, it, cause.Error(), retryAt); err != nil {
		log.Printf("worker[%d]: item %d: %v", w.id, it.ID, err)
	}
}

// Permanent reports whether retrying err cannot succeed without someone
// changing the client, the account or the configuration.
func Permanent(err error) bool {
	var le *smscost.LengthError
	var te *sms.TwilioError
	switch {
	case errors.Is(err, sms.ErrNoPhone),
		errors.Is(err, sms.ErrNoReviewCode),
		errors.Is(err, sms.ErrLimitReached),
		errors.Is(err, sms.ErrAlreadyCompleted),
		errors.Is(err, sms.ErrNoGateway),
		errors.Is(err, quota.ErrQuotaExceeded),
		errors.Is(err, clients.ErrNotFound),
		errors.As(err, &le):
		return true
	case errors.As(err, &te):
		return te.Permanent()
	}
	return false
}

func (w *Worker) sleepOrExit(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

func rateLimitEvent(it *db.OutboxItem, rl *limiter.ErrRateLimit) notify.Event {
	return notify.Event{
		UserID:   it.UserID,
		Type:     ws.TypeRateLimit,
		ClientID: it.ClientID,
		Message:  fmt.Sprintf("%s throttled outbox item %d: %s", rl.Gateway, it.ID, rl.Line),
	}
}
