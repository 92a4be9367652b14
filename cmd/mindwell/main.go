package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rkashin/mindwell/internal/advice"
	"github.com/rkashin/mindwell/internal/bot"
	"github.com/rkashin/mindwell/internal/flow"
	"github.com/rkashin/mindwell/internal/gateway"
	"github.com/rkashin/mindwell/internal/governance"
	"github.com/rkashin/mindwell/internal/observability"
	"github.com/rkashin/mindwell/internal/ratelimit"
	"github.com/rkashin/mindwell/internal/scheduler"
	"github.com/rkashin/mindwell/internal/session"
	"github.com/rkashin/mindwell/internal/store"
	"github.com/rkashin/mindwell/pkg/config"
)

// retryMessenger decorates the mux with bounded retry for reminder
// dispatch and eviction notices.
type retryMessenger struct {
	inner gateway.Messenger
}

func (r retryMessenger) Start(ctx context.Context) error { return r.inner.Start(ctx) }
func (r retryMessenger) Stop() error                     { return r.inner.Stop() }
func (r retryMessenger) Send(ctx context.Context, userID, text string) error {
	return gateway.SendWithRetry(ctx, r.inner, userID, text)
}

func main() {
	observability.PrintBanner()
	observability.InitializeTerminal()

	// Route all log output through the terminal mutex so it never
	// interrupts the dashboard's cursor save/restore sequence.
	log.SetOutput(observability.NewTermWriter())

	cfgPath := "config.yaml"
	if len(os.Args) > 1 {
		cfgPath = os.Args[1]
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatal(err)
	}

	flows, err := flow.LoadDir(cfg.App.FlowsDir)
	if err != nil {
		log.Fatal(err)
	}
	log.Printf("loaded flows: %v", flows.IDs())

	db, err := store.Open(cfg.Storage.Path)
	if err != nil {
		log.Fatal(err)
	}
	defer db.Close()

	events := observability.NewLogger()
	limiter := ratelimit.New(cfg.RateLimit.Limit, cfg.RatePeriod())
	gate := governance.NewGate(cfg.AdminIDs)

	adviceSvc, err := advice.New(cfg, events)
	if err != nil {
		log.Printf("Warning: advice provider disabled: %v", err)
	}

	// The eviction callback belongs to the router, which does not
	// exist yet; bind it through a late-set variable.
	var router *bot.Router
	sessions := session.NewStore(cfg.SessionTimeout(), func(s *session.Session, reason session.EvictReason) {
		if router != nil {
			router.OnSessionEvicted(s, reason)
		}
	})

	engine := flow.NewEngine(flows, sessions, db, events, flow.ConflictPolicy(cfg.Flows.OnConflict))
	router = bot.NewRouter(engine, limiter, gate, db, adviceSvc, events, cfg.RateLimit.Notify)

	mux := gateway.NewMux()
	var transports []gateway.Messenger
	if tgCfg, ok := cfg.TelegramConfig(); ok {
		tg, err := gateway.NewTelegramGateway(tgCfg.Token, router)
		if err != nil {
			log.Fatal(err)
		}
		mux.Register(gateway.TelegramPrefix, tg)
		transports = append(transports, tg)
	}
	if dcCfg, ok := cfg.DiscordConfig(); ok {
		dc, err := gateway.NewDiscordGateway(dcCfg.Token, router)
		if err != nil {
			log.Fatal(err)
		}
		mux.Register(gateway.DiscordPrefix, dc)
		transports = append(transports, dc)
	}
	if len(transports) == 0 {
		log.Fatal("no chat gateway is enabled or has a token")
	}
	out := retryMessenger{inner: mux}
	router.SetMessenger(out)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sessions.StartSweeper(ctx, cfg.SweepInterval())

	sched := scheduler.New(out, events)
	sched.AfterSend = func(ctx context.Context, jobID, userID string) {
		if err := db.LogReminder(ctx, userID, jobID); err != nil {
			log.Printf("reminder log for %s failed: %v", userID, err)
		}
	}
	for _, rem := range cfg.Reminders {
		if err := registerReminder(sched, db, rem); err != nil {
			log.Fatal(err)
		}
	}
	go sched.Start(ctx)

	// Live dashboard (1-second updates)
	go func() {
		ticker := time.NewTicker(1 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				observability.PrintLiveStatus(sessions.Len(), limiter.Denied())
			}
		}
	}()

	go func() {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				events.LogHeartbeat()
			}
		}
	}()

	// Start each transport; a transport dying takes the process down
	// so the supervisor can restart it.
	for _, m := range transports {
		go func(m gateway.Messenger) {
			if err := m.Start(ctx); err != nil && ctx.Err() == nil {
				log.Printf("\033[91m[ FAIL ] GATEWAY CRITICAL ERROR: %v\033[0m", err)
				stop()
			}
		}(m)
	}

	<-ctx.Done()

	sessions.Close(cfg.Session.FlushOnShutdown)
	_ = mux.Stop()

	observability.CleanupTerminal()
	time.Sleep(500 * time.Millisecond)
	log.Println("shutdown complete, goodbye")
}

// registerReminder binds a configured job id to its population
// selector and payload.
func registerReminder(sched *scheduler.Scheduler, db *store.Store, rem config.ReminderConfig) error {
	switch rem.Job {
	case "daily_reminder":
		return sched.Add(rem.Job, rem.Cron, func(ctx context.Context) ([]string, error) {
			midnight := time.Now().UTC().Truncate(24 * time.Hour)
			return db.UserPopulation(ctx, store.PopulationFilter{
				NotificationsEnabled: true,
				Onboarded:            true,
				WithoutFlowID:        bot.FlowDaily,
				Since:                midnight,
			})
		}, func(userID string) string {
			return "🌅 *Daily Check-in Reminder*\n\nDon't forget your daily check-in — it only takes a few minutes. Send /daily to begin."
		})
	case "weekly_reminder":
		return sched.Add(rem.Job, rem.Cron, func(ctx context.Context) ([]string, error) {
			weekAgo := time.Now().UTC().Add(-7 * 24 * time.Hour)
			return db.UserPopulation(ctx, store.PopulationFilter{
				NotificationsEnabled: true,
				Onboarded:            true,
				WithoutFlowID:        bot.FlowWeekly,
				Since:                weekAgo,
			})
		}, func(userID string) string {
			return "🔔 *Weekly Reminder*\n\nIt's time for your weekly assessment. Regular check-ins help you spot patterns over time. Send /weekly to begin."
		})
	default:
		return fmt.Errorf("unknown reminder job %q", rem.Job)
	}
}
