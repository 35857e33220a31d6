package telegram

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/NEXTmarketingSTUDIO/next-review-booster-sub000/internal/config"
	"github.com/NEXTmarketingSTUDIO/next-review-booster-sub000/internal/db"
	"github.com/NEXTmarketingSTUDIO/next-review-booster-sub000/internal/queue"
	"github.com/NEXTmarketingSTUDIO/next-review-booster-sub000/internal/rates"
	"github.com/NEXTmarketingSTUDIO/next-review-booster-sub000/internal/report"
	"github.com/NEXTmarketingSTUDIO/next-review-booster-sub000/internal/smscost"
)

// Outbox is the part of the SMS queue the bot manages.
type Outbox interface {
	List(ctx context.Context, userID int, status string, limit int) ([]db.OutboxItem, error)
	Counts(ctx context.Context) (map[string]int, error)
	Retry(ctx context.Context, id int) error
	Wake(ctx context.Context, id int) error
}

// Pauser pauses and resumes the outbox workers.
type Pauser interface {
	Pause()
	Resume()
	Paused() bool
}

// RateSource serves and refreshes the exchange rate.
type RateSource interface {
	Current(ctx context.Context) rates.Rate
	Refresh(ctx context.Context) rates.Rate
}

// Reporter builds the cross-account cost report.
type Reporter interface {
	Build(ctx context.Context) (report.Report, error)
}

// Deps wires a CommandHandler. Any field but DB may be nil; the matching
// commands then reply that the feature is unavailable.
type Deps struct {
	DB      *db.DB
	Outbox  Outbox
	Pool    Pauser
	Rates   RateSource
	Reports Reporter
	Pricing config.Pricing
}

// CommandHandler handles Telegram bot commands.
type CommandHandler struct {
	database  *db.DB
	outbox    Outbox
	pool      Pauser
	rates     RateSource
	reports   Reporter
	pricing   config.Pricing
	estimator *smscost.Estimator
	now       func() time.Time
}

// NewCommandHandler creates a CommandHandler.
func NewCommandHandler(d Deps) *CommandHandler {
	return &CommandHandler{
		database:  d.DB,
		outbox:    d.Outbox,
		pool:      d.Pool,
		rates:     d.Rates,
		reports:   d.Reports,
		pricing:   d.Pricing,
		estimator: d.Pricing.Estimator(),
		now:       time.Now,
	}
}

const unavailable = "Not available on this daemon."

// Dispatch runs a command and returns the Markdown reply.
func (h *CommandHandler) Dispatch(ctx context.Context, command, args string) string {
	switch command {
	case "stats":
		return h.handleStats(ctx)
	case "cost":
		return h.handleCost(ctx, args)
	case "rate":
		return h.handleRate(ctx, args)
	case "report":
		return h.handleReport(ctx)
	case "outbox":
		return h.handleOutbox(ctx)
	case "retry":
		return h.handleRetry(ctx, args)
	case "pause":
		return h.handlePause()
	case "resume":
		return h.handleResume()
	case "help", "start":
		return helpText
	default:
		return "Unknown command. Use /help for a list of commands."
	}
}

// HandleCallback processes inline keyboard button presses and returns the
// acknowledgement text.
func (h *CommandHandler) HandleCallback(ctx context.Context, data string) string {
	switch {
	case strings.HasPrefix(data, "retry_"):
		id, err := strconv.Atoi(strings.TrimPrefix(data, "retry_"))
		if err != nil || id <= 0 {
			return "Bad item."
		}
		return h.retry(ctx, id)
	case data == "pause_all":
		return h.handlePause()
	}
	return ""
}

func (h *CommandHandler) handleStats(ctx context.Context) string {
	var users, total, completed, sent int
	err := h.database.QueryRowContext(ctx, `
		SELECT (SELECT COUNT(*) FROM users),
		       (SELECT COUNT(*) FROM clients),
		       (SELECT COUNT(*) FROM clients WHERE review_status=?),
		       (SELECT COUNT(*) FROM sms_log WHERE status='sent' AND created_at>=?)`,
		db.ReviewCompleted, db.Timestamp(db.MonthStart(h.now())),
	).Scan(&users, &total, &completed, &sent)
	if err != nil {
		log.Printf("telegram.handleStats: %v", err)
		return "Error fetching statistics."
	}

	var sb strings.Builder
	sb.WriteString("*Review Booster*\n\n")
	fmt.Fprintf(&sb, "Accounts: %d\n", users)
	fmt.Fprintf(&sb, "Clients: %d\n", total)
	fmt.Fprintf(&sb, "Completed reviews: %d\n", completed)
	fmt.Fprintf(&sb, "SMS sent this month: %d\n", sent)
	if h.outbox != nil {
		if counts, err := h.outbox.Counts(ctx); err == nil {
			fmt.Fprintf(&sb, "Outbox: %d pending, %d failed\n", counts[db.OutboxPending], counts[db.OutboxFailed])
		}
	}
	if h.pool != nil && h.pool.Paused() {
		sb.WriteString("\n🟡 Sending is paused.")
	}
	return sb.String()
}

func (h *CommandHandler) handleCost(ctx context.Context, args string) string {
	tmpl := strings.TrimSpace(args)
	if tmpl == "" {
		return "Usage: /cost <template with [LINK] and [NAZWA_FIRMY]>"
	}
	rate := 0.0
	if h.rates != nil {
		rate = h.rates.Current(ctx).Mid
	}
	est := h.estimator.Quote(tmpl, smscost.RenderContext{LinkValue: h.pricing.SampleLink}, 1, rate)

	var sb strings.Builder
	sb.WriteString("*SMS cost*\n\n")
	fmt.Fprintf(&sb, "Length: %d characters\n", est.RenderedLength)
	fmt.Fprintf(&sb, "Encoding: %s (%d per segment)\n", est.EncodingClass, est.CharsPerSegment)
	fmt.Fprintf(&sb, "Segments: %d\n", est.Segments)
	fmt.Fprintf(&sb, "Cost: %.4f %s / %.4f %s (rate %.4f)\n",
		est.CostBase, h.pricing.CurrencyBase, est.CostDisplay, h.pricing.CurrencyDisplay, est.ExchangeRate)
	if est.RenderedLength > h.pricing.MaxMessageLength {
		fmt.Fprintf(&sb, "\n⚠️ Over the %d character limit.", h.pricing.MaxMessageLength)
	}
	return sb.String()
}

func (h *CommandHandler) handleRate(ctx context.Context, args string) string {
	if h.rates == nil {
		return unavailable
	}
	var r rates.Rate
	if strings.TrimSpace(args) == "refresh" {
		r = h.rates.Refresh(ctx)
	} else {
		r = h.rates.Current(ctx)
	}
	if r.Fallback {
		return fmt.Sprintf("Exchange rate unavailable, using fallback %.4f.", r.Mid)
	}
	return fmt.Sprintf("*%s/%s*: %.4f\nEffective: %s",
		strings.ToUpper(r.Currency), h.pricing.CurrencyDisplay, r.Mid, r.EffectiveDate)
}

func (h *CommandHandler) handleReport(ctx context.Context) string {
	if h.reports == nil {
		return unavailable
	}
	rep, err := h.reports.Build(ctx)
	if err != nil {
		log.Printf("telegram.handleReport: %v", err)
		return "Error building report."
	}
	var sb strings.Builder
	sb.WriteString("*SMS cost report*\n\n")
	for _, a := range rep.Accounts {
		if a.SMSCount == 0 {
			continue
		}
		fmt.Fprintf(&sb, "%s: %d SMS, %.2f %s\n",
			tgbotapi.EscapeText(tgbotapi.ModeMarkdown, a.Username), a.SMSCount, a.Estimate.CostDisplay, rep.CurrencyDisplay)
	}
	fmt.Fprintf(&sb, "\nTotal: %d SMS, %.4f %s / %.2f %s",
		rep.TotalSMS, rep.TotalCostBase, rep.CurrencyBase, rep.TotalCostDisplay, rep.CurrencyDisplay)
	return sb.String()
}

func (h *CommandHandler) handleOutbox(ctx context.Context) string {
	if h.outbox == nil {
		return unavailable
	}
	items, err := h.outbox.List(ctx, 0, "", 10)
	if err != nil {
		log.Printf("telegram.handleOutbox: %v", err)
		return "Error fetching outbox."
	}
	var sb strings.Builder
	sb.WriteString("*Outbox*\n\n")
	shown := 0
	for _, it := range items {
		if it.Status == db.OutboxSent {
			continue
		}
		fmt.Fprintf(&sb, "%s #%d client %d (%d attempts)\n", statusIcon(it.Status), it.ID, it.ClientID, it.Attempts)
		shown++
	}
	if shown == 0 {
		sb.WriteString("_Nothing waiting._")
	}
	return sb.String()
}

func (h *CommandHandler) handleRetry(ctx context.Context, args string) string {
	id, err := strconv.Atoi(strings.TrimSpace(args))
	if err != nil || id <= 0 {
		return "Usage: /retry <item_id>"
	}
	return h.retry(ctx, id)
}

func (h *CommandHandler) retry(ctx context.Context, id int) string {
	if h.outbox == nil {
		return unavailable
	}
	err := h.outbox.Wake(ctx, id)
	if errors.Is(err, queue.ErrNotFound) {
		err = h.outbox.Retry(ctx, id)
	}
	switch {
	case errors.Is(err, queue.ErrNotFound):
		return fmt.Sprintf("Item #%d is not waiting or failed.", id)
	case err != nil:
		log.Printf("telegram.retry: %v", err)
		return "Error retrying item."
	}
	return fmt.Sprintf("🔄 Item #%d queued.", id)
}

func (h *CommandHandler) handlePause() string {
	if h.pool == nil {
		return unavailable
	}
	h.pool.Pause()
	return "⏹ Sending paused."
}

func (h *CommandHandler) handleResume() string {
	if h.pool == nil {
		return unavailable
	}
	h.pool.Resume()
	return "▶️ Sending resumed."
}

const helpText = `*Review Booster Commands*

/stats - Accounts, clients and SMS this month
/cost <template> - Segments and cost of one SMS
/rate [refresh] - Current exchange rate
/report - SMS cost per account
/outbox - Waiting and failed sends
/retry <id> - Retry an outbox item now
/pause - Pause sending
/resume - Resume sending
/help - This help`

func statusIcon(status string) string {
	switch status {
	case db.OutboxPending:
		return "⚪"
	case db.OutboxSending:
		return "🟢"
	case db.OutboxFailed:
		return "🔴"
	default:
		return "⚫"
	}
}
