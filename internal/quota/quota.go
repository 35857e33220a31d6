// Package quota enforces monthly SMS limits per account tier and raises
// alerts as an account climbs through usage zones.
package quota

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/NEXTmarketingSTUDIO/next-review-booster-sub000/internal/auth"
	"github.com/NEXTmarketingSTUDIO/next-review-booster-sub000/internal/db"
)

// ErrQuotaExceeded is returned by Check once the monthly limit is used up.
var ErrQuotaExceeded = errors.New("quota: monthly SMS limit reached")

// Zone represents how much of the monthly limit is used.
type Zone int

const (
	ZoneGreen  Zone = iota // below 60%
	ZoneYellow             // 60-80%
	ZoneOrange             // 80-90%
	ZoneRed                // 90% and above
)

// Zone thresholds in percent.
const (
	YellowPct = 60
	OrangePct = 80
	RedPct    = 90
)

// String returns a human-readable label for the zone.
func (z Zone) String() string {
	switch z {
	case ZoneYellow:
		return "YELLOW"
	case ZoneOrange:
		return "ORANGE"
	case ZoneRed:
		return "RED"
	default:
		return "GREEN"
	}
}

// Unlimited marks a tier without a monthly cap.
const Unlimited = -1

var monthlyLimits = map[auth.Permission]int{
	auth.Demo:         10,
	auth.Starter:      100,
	auth.Professional: 500,
	auth.Admin:        Unlimited,
}

// Limit returns the monthly SMS limit of perm, or Unlimited.
func Limit(perm auth.Permission) int {
	if l, ok := monthlyLimits[perm]; ok {
		return l
	}
	return monthlyLimits[auth.Demo]
}

// Usage is an account's position against its monthly limit.
type Usage struct {
	Used      int    `json:"used"`
	Limit     int    `json:"limit"`
	Percent   int    `json:"percent"`
	Zone      Zone   `json:"-"`
	ZoneName  string `json:"zone"`
	Unlimited bool   `json:"unlimited"`
}

// Remaining returns how many messages may still be sent this month.
func (u Usage) Remaining() int {
	if u.Unlimited {
		return int(^uint(0) >> 1)
	}
	if r := u.Limit - u.Used; r > 0 {
		return r
	}
	return 0
}

func zoneFor(pct int) Zone {
	switch {
	case pct >= RedPct:
		return ZoneRed
	case pct >= OrangePct:
		return ZoneOrange
	case pct >= YellowPct:
		return ZoneYellow
	default:
		return ZoneGreen
	}
}

// PermissionLookup resolves an account's tier.
type PermissionLookup interface {
	Lookup(ctx context.Context, userID int) auth.Permission
}

// Alerter is told when an account escalates into a higher zone.
type Alerter interface {
	QuotaAlert(ctx context.Context, userID int, u Usage)
}

// Governor computes usage from sms_log and alerts on zone escalation.
type Governor struct {
	database *db.DB
	perms    PermissionLookup
	alerter  Alerter
	now      func() time.Time

	mu sync.Mutex
	// Last known zone per account, to avoid duplicate alerts.
	lastZone map[int]Zone

	// Sends admitted by Reserve that have not been logged yet.
	resMu    sync.Mutex
	inFlight map[int]int
}

// NewGovernor creates a Governor. alerter may be nil.
func NewGovernor(database *db.DB, perms PermissionLookup, alerter Alerter) *Governor {
	return &Governor{
		database: database,
		perms:    perms,
		alerter:  alerter,
		now:      time.Now,
		lastZone: make(map[int]Zone),
		inFlight: make(map[int]int),
	}
}

// SetClock replaces the time source. Used by tests.
func (g *Governor) SetClock(now func() time.Time) { g.now = now }

// Usage counts the account's successful sends this calendar month (UTC).
func (g *Governor) Usage(ctx context.Context, userID int) (Usage, error) {
	var used int
	err := g.database.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM sms_log
		WHERE user_id=? AND status='sent' AND created_at>=?`,
		userID, db.Timestamp(db.MonthStart(g.now())),
	).Scan(&used)
	if err != nil {
		return Usage{}, fmt.Errorf("quota.Usage: %w", err)
	}

	limit := Limit(g.perms.Lookup(ctx, userID))
	u := Usage{Used: used, Limit: limit}
	if limit == Unlimited {
		u.Unlimited = true
	} else if limit > 0 {
		u.Percent = used * 100 / limit
		u.Zone = zoneFor(u.Percent)
	}
	u.ZoneName = u.Zone.String()
	return u, nil
}

// Check returns ErrQuotaExceeded when the account has no messages left this
// month.
func (g *Governor) Check(ctx context.Context, userID int) (Usage, error) {
	u, err := g.Usage(ctx, userID)
	if err != nil {
		return u, err
	}
	if !u.Unlimited && u.Used >= u.Limit {
		return u, fmt.Errorf("%w (%d/%d)", ErrQuotaExceeded, u.Used, u.Limit)
	}
	return u, nil
}

// Reserve admits one send against the account's monthly limit, counting
// sends already admitted but not yet logged. The caller must call release
// once the outcome is in sms_log.
func (g *Governor) Reserve(ctx context.Context, userID int) (release func(), err error) {
	g.resMu.Lock()
	defer g.resMu.Unlock()
	u, err := g.Usage(ctx, userID)
	if err != nil {
		return nil, err
	}
	pending := g.inFlight[userID]
	if !u.Unlimited && u.Used+pending >= u.Limit {
		return nil, fmt.Errorf("%w (%d/%d)", ErrQuotaExceeded, u.Used+pending, u.Limit)
	}
	g.inFlight[userID] = pending + 1

	var once sync.Once
	return func() {
		once.Do(func() {
			g.resMu.Lock()
			defer g.resMu.Unlock()
			if g.inFlight[userID] <= 1 {
				delete(g.inFlight, userID)
				return
			}
			g.inFlight[userID]--
		})
	}, nil
}

// Forget drops what the Governor remembers about a deleted account.
func (g *Governor) Forget(userID int) {
	g.mu.Lock()
	delete(g.lastZone, userID)
	g.mu.Unlock()
}

// Observe detects zone changes after a send and alerts on escalation.
func (g *Governor) Observe(ctx context.Context, userID int) {
	u, err := g.Usage(ctx, userID)
	if err != nil {
		log.Printf("quota.Observe: %v", err)
		return
	}

	g.mu.Lock()
	prev, known := g.lastZone[userID]
	g.lastZone[userID] = u.Zone
	g.mu.Unlock()
	if u.Zone == ZoneGreen || (known && u.Zone <= prev) {
		return
	}
	if g.alerter != nil {
		g.alerter.QuotaAlert(ctx, userID, u)
	}
}
