package worker

import (
	"context"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/NEXTmarketingSTUDIO/next-review-booster-sub000/internal/db"
	"github.com/NEXTmarketingSTUDIO/next-review-booster-sub000/internal/limiter"
)

// Pool manages a set of concurrent Worker goroutines.
type Pool struct {
	mu      sync.Mutex
	cancels []context.CancelFunc
	wg      sync.WaitGroup
	paused  atomic.Bool

	size      int
	pollEvery time.Duration
	queue     Queue
	sender    Sender
	notifier  Notifier
	alerter   LimitAlerter
	now       func() time.Time
}

// NewPool creates a Pool of size workers. notifier and alerter may be nil.
func NewPool(size int, q Queue, sender Sender, notifier Notifier, alerter LimitAlerter) *Pool {
	if size < 1 {
		size = 1
	}
	return &Pool{
		size:      size,
		pollEvery: 5 * time.Second,
		queue:     q,
		sender:    sender,
		notifier:  notifier,
		alerter:   alerter,
		now:       time.Now,
	}
}

// Start launches the worker goroutines.
func (p *Pool) Start(ctx context.Context) {
	for i := 1; i <= p.size; i++ {
		p.startOne(ctx, i)
	}
}

func (p *Pool) startOne(ctx context.Context, id int) {
	workerCtx, cancel := context.WithCancel(ctx)
	w := &Worker{id: id, pool: p, pollEvery: p.pollEvery}

	p.mu.Lock()
	p.cancels = append(p.cancels, cancel)
	p.mu.Unlock()

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				log.Printf("worker[%d]: panic recovered: %v", id, r)
			}
		}()
		w.Run(workerCtx)
	}()
}

// StopAll cancels all running workers and waits for them to finish.
func (p *Pool) StopAll() {
	p.mu.Lock()
	for _, cancel := range p.cancels {
		cancel()
	}
	p.cancels = nil
	p.mu.Unlock()
	p.wg.Wait()
}

// Pause stops workers from taking new items. In-flight sends finish.
func (p *Pool) Pause() { p.paused.Store(true) }

// Resume lets workers take items again.
func (p *Pool) Resume() { p.paused.Store(false) }

// Paused reports whether the pool is paused.
func (p *Pool) Paused() bool { return p.paused.Load() }

// Size returns the number of workers.
func (p *Pool) Size() int { return p.size }

func (p *Pool) rateLimited(ctx context.Context, it *db.OutboxItem, rl *limiter.ErrRateLimit) {
	if p.notifier != nil {
		p.notifier.Notify(ctx, rateLimitEvent(it, rl))
	}
	if p.alerter != nil {
		if err := p.alerter.SendLimitAlert(it.ID, it.UserID, rl.Line); err != nil {
			log.Printf("pool.rateLimited: telegram: %v", err)
		}
	}
}
