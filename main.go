// Review Booster: SMS review requests with segment and cost estimates.
// Entry point: wires all packages and starts the HTTP server.
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/NEXTmarketingSTUDIO/next-review-booster-sub000/internal/api"
	"github.com/NEXTmarketingSTUDIO/next-review-booster-sub000/internal/auth"
	"github.com/NEXTmarketingSTUDIO/next-review-booster-sub000/internal/cli"
	"github.com/NEXTmarketingSTUDIO/next-review-booster-sub000/internal/clients"
	"github.com/NEXTmarketingSTUDIO/next-review-booster-sub000/internal/config"
	"github.com/NEXTmarketingSTUDIO/next-review-booster-sub000/internal/db"
	"github.com/NEXTmarketingSTUDIO/next-review-booster-sub000/internal/notify"
	"github.com/NEXTmarketingSTUDIO/next-review-booster-sub000/internal/platform"
	"github.com/NEXTmarketingSTUDIO/next-review-booster-sub000/internal/queue"
	"github.com/NEXTmarketingSTUDIO/next-review-booster-sub000/internal/quota"
	"github.com/NEXTmarketingSTUDIO/next-review-booster-sub000/internal/rates"
	"github.com/NEXTmarketingSTUDIO/next-review-booster-sub000/internal/report"
	"github.com/NEXTmarketingSTUDIO/next-review-booster-sub000/internal/scheduler"
	"github.com/NEXTmarketingSTUDIO/next-review-booster-sub000/internal/settings"
	"github.com/NEXTmarketingSTUDIO/next-review-booster-sub000/internal/sms"
	"github.com/NEXTmarketingSTUDIO/next-review-booster-sub000/internal/telegram"
	"github.com/NEXTmarketingSTUDIO/next-review-booster-sub000/internal/webhook"
	"github.com/NEXTmarketingSTUDIO/next-review-booster-sub000/internal/wizard"
	"github.com/NEXTmarketingSTUDIO/next-review-booster-sub000/internal/worker"
	"github.com/NEXTmarketingSTUDIO/next-review-booster-sub000/internal/ws"
)

// Version is set via -ldflags at build time.
var Version = "dev"

func main() {
	cli.Execute(Version, serve)
}

// serve runs the daemon until ctx is cancelled.
func serve(ctx context.Context, cfg *config.Config) error {
	log.Printf("Review Booster %s starting…", Version)
	log.Printf("Config: port=%s workDir=%s", cfg.Port, cfg.WorkDir)

	if _, err := os.Stat(".env"); os.IsNotExist(err) {
		log.Println("⚠  No .env found, using built-in defaults (admin / changeme, port 8080)")
		log.Println("   Run 'reviewbooster setup' to configure before going to production.")
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// ── 1. Pricing, work dir, database ──────────────────────────────────────
	pricing, err := config.LoadPricingFor(cfg.PricingFile, cfg.PublicReviewURL)
	if err != nil {
		return err
	}
	if err := platform.EnsureDir(cfg.WorkDir); err != nil {
		return fmt.Errorf("EnsureDir %s: %w", cfg.WorkDir, err)
	}
	database, err := db.New(cfg.DBPath)
	if err != nil {
		return err
	}
	defer database.Close()
	if err := database.Migrate(); err != nil {
		return err
	}
	log.Printf("Database ready: %s", cfg.DBPath)

	if err := auth.SeedAdmin(ctx, database, cfg.AdminUsername, cfg.AdminPassword); err != nil {
		return err
	}

	// ── 2. Account stores ───────────────────────────────────────────────────
	perms := auth.NewPermissions(database)
	clientStore := clients.New(database)
	settingsStore := settings.New(database, pricing)

	// ── 3. Exchange rate ────────────────────────────────────────────────────
	fetcher := rates.NewNBPFetcher(cfg.RateCurrency, rates.WithBaseURL(cfg.NBPBaseURL))
	rateProvider := rates.NewProvider(fetcher, cfg.RateTTL, pricing.FallbackExchangeRate, database)

	// ── 4. WebSocket hub ────────────────────────────────────────────────────
	hub := ws.NewHub(cfg.AllowedOrigins)
	go hub.Run(ctx)

	// ── 5. Telegram bot (handler attached once the outbox exists) ───────────
	bot, err := telegram.New(cfg.TelegramToken, cfg.TelegramChatID, nil)
	if err != nil {
		log.Printf("Telegram init error (continuing without Telegram): %v", err)
		bot = nil
	}

	// ── 6. Notify, webhooks, quota ──────────────────────────────────────────
	webhookDispatcher := webhook.New(database)
	notes := notify.NewStore(database)
	notifier := notify.New(telegramSender(bot), webhookDispatcher, hub, notes)
	governor := quota.NewGovernor(database, perms, notifier)

	// ── 7. SMS service ──────────────────────────────────────────────────────
	var defaultSender sms.Sender
	if cfg.Twilio.Configured() {
		defaultSender = sms.NewTwilioSender(sms.TwilioCredentials{
			AccountSID:          cfg.Twilio.AccountSID,
			AuthToken:           cfg.Twilio.AuthToken,
			From:                cfg.Twilio.From,
			MessagingServiceSID: cfg.Twilio.MessagingServiceSID,
		})
	}
	if cfg.SMSDryRun {
		log.Println("SMS dry run: messages are logged, not sent")
	}
	smsService := sms.NewService(sms.Options{
		DB:       database,
		Clients:  clientStore,
		Settings: settingsStore,
		Quota:    governor,
		Notifier: notifier,
		Pricing:  pricing,
		Link:     cfg.ReviewLink,
		Sender:   defaultSender,
		DryRun:   cfg.SMSDryRun,
	})

	// ── 8. Outbox + worker pool ─────────────────────────────────────────────
	outbox := queue.New(database)
	if n, err := outbox.RequeueStale(ctx); err != nil {
		log.Printf("RequeueStale: %v", err)
	} else if n > 0 {
		log.Printf("Requeued %d interrupted outbox items", n)
	}
	pool := worker.NewPool(cfg.SMSWorkers, outbox, smsService, notifier, limitAlerter(bot))
	pool.Start(ctx)

	// ── 9. Reports, scheduler, bot commands ─────────────────────────────────
	reports := report.NewBuilder(database, pricing, rateProvider)
	engine := scheduler.New(scheduler.Options{
		DB:       database,
		Accounts: settingsStore,
		Clients:  clientStore,
		Outbox:   outbox,
		Rates:    rateProvider,
	})
	if err := engine.Start(ctx, cfg.ReminderCron); err != nil {
		return err
	}

	if bot != nil {
		bot.SetHandler(telegram.NewCommandHandler(telegram.Deps{
			DB:      database,
			Outbox:  outbox,
			Pool:    pool,
			Rates:   rateProvider,
			Reports: reports,
			Pricing: pricing,
		}))
		go bot.Start(ctx)
		log.Printf("Telegram bot started (chatID=%d)", cfg.TelegramChatID)
	}

	// ── 10. HTTP server ─────────────────────────────────────────────────────
	mux := http.NewServeMux()
	api.SetupRoutes(mux, api.Deps{
		DB:        database,
		Config:    cfg,
		Pricing:   pricing,
		Perms:     perms,
		Clients:   clientStore,
		Settings:  settingsStore,
		SMS:       smsService,
		Quota:     governor,
		Queue:     outbox,
		Pool:      pool,
		Hub:       hub,
		Notify:    notifier,
		Notes:     notes,
		Webhook:   webhookDispatcher,
		Rates:     rateProvider,
		Reports:   reports,
		Scheduler: engine,
	})

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      api.Wrap(mux, cfg.AllowedOrigins),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		<-ctx.Done()
		log.Printf("Shutting down…")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Printf("HTTP shutdown: %v", err)
		}
	}()

	// ── 11. Ready ───────────────────────────────────────────────────────────
	wizard.PrintDashboardURLs(os.Stdout, cfg.Port)
	log.Printf("Review Booster listening on http://0.0.0.0:%s", cfg.Port)
	err = srv.ListenAndServe()
	cancel()
	pool.StopAll()
	webhookDispatcher.Wait()
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("ListenAndServe: %w", err)
	}
	log.Printf("Review Booster stopped.")
	return nil
}

// telegramSender wraps *telegram.Bot to implement notify.Sender.
// Returns nil if bot is nil (Telegram disabled).
func telegramSender(bot *telegram.Bot) notify.Sender {
	if bot == nil {
		return nil
	}
	return bot
}

func limitAlerter(bot *telegram.Bot) worker.LimitAlerter {
	if bot == nil {
		return nil
	}
	return bot
}
