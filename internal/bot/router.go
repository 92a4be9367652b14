// Package bot routes inbound chat events through the governance gate,
// the rate limiter and the flow engine, and renders the replies.
package bot

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/rkashin/mindwell/internal/advice"
	"github.com/rkashin/mindwell/internal/flow"
	"github.com/rkashin/mindwell/internal/gateway"
	"github.com/rkashin/mindwell/internal/governance"
	"github.com/rkashin/mindwell/internal/observability"
	"github.com/rkashin/mindwell/internal/ratelimit"
	"github.com/rkashin/mindwell/internal/session"
	"github.com/rkashin/mindwell/internal/store"
)

const (
	FlowOnboarding = "onboarding"
	FlowDaily      = "daily"
	FlowWeekly     = "weekly"
)

type Router struct {
	engine  *flow.Engine
	limiter *ratelimit.Limiter
	gate    *governance.Gate
	store   *store.Store
	advice  *advice.Service
	events  *observability.Logger

	out               gateway.Messenger
	notifyRateLimited bool
}

func NewRouter(engine *flow.Engine, limiter *ratelimit.Limiter, gate *governance.Gate, db *store.Store, adv *advice.Service, events *observability.Logger, notifyRateLimited bool) *Router {
	gate.RestrictCommand("/stats")
	gate.RestrictCommand("/broadcast")
	return &Router{
		engine:            engine,
		limiter:           limiter,
		gate:              gate,
		store:             db,
		advice:            adv,
		events:            events,
		notifyRateLimited: notifyRateLimited,
	}
}

// SetMessenger wires the outbound transport used for eviction notices.
// Called once at startup after the gateway mux exists.
func (r *Router) SetMessenger(m gateway.Messenger) {
	r.out = m
}

// Handle processes one inbound event and returns the reply texts.
func (r *Router) Handle(ctx context.Context, ev gateway.Event) []string {
	verdict, err := r.gate.Evaluate(ctx, governance.Request{UserID: ev.UserID, RawInput: ev.RawInput})
	if err != nil || verdict.Effect == governance.EffectDeny {
		r.events.PolicyCheck(ev.UserID, verdict.Reason)
		return nil
	}

	if !r.limiter.Admit(ev.UserID) {
		r.events.RateLimited(ev.UserID, r.limiter.Denied())
		if r.notifyRateLimited {
			return []string{msgRateLimited}
		}
		return nil
	}

	if err := r.store.UpsertUser(ev.UserID, ev.Username); err != nil {
		log.Printf("upsert user %s failed: %v", ev.UserID, err)
	}

	command, arg, _ := strings.Cut(strings.TrimSpace(ev.RawInput), " ")
	switch command {
	case "/start":
		return r.handleStart(ctx, ev.UserID)
	case "/daily":
		return r.startFlow(ctx, ev.UserID, FlowDaily)
	case "/weekly":
		return r.startFlow(ctx, ev.UserID, FlowWeekly)
	case "/cancel":
		return r.handleCancel(ctx, ev.UserID)
	case "/notify":
		return r.handleNotify(ev.UserID, arg)
	case "/delete":
		return r.handleDelete(ev.UserID, arg)
	case "/stats":
		return r.handleStats()
	case "/broadcast":
		return r.handleBroadcast(ctx, arg)
	case "/help":
		return []string{msgHelp}
	default:
		return r.handleAnswer(ctx, ev.UserID, ev.RawInput)
	}
}

func (r *Router) handleStart(ctx context.Context, userID string) []string {
	onboarded, err := r.store.IsOnboarded(userID)
	if err != nil {
		log.Printf("onboarded lookup for %s failed: %v", userID, err)
	}
	if onboarded {
		return []string{msgWelcomeBack}
	}
	return r.startFlow(ctx, userID, FlowOnboarding)
}

func (r *Router) startFlow(ctx context.Context, userID, flowID string) []string {
	res, err := r.engine.Start(ctx, userID, flowID)
	if errors.Is(err, flow.ErrAlreadyActive) {
		return []string{msgAlreadyActive}
	}
	if err != nil {
		log.Printf("start %s for %s failed: %v", flowID, userID, err)
		return []string{msgPersistFailed}
	}
	return []string{renderPrompt(res.Step)}
}

func (r *Router) handleCancel(ctx context.Context, userID string) []string {
	_, err := r.engine.Cancel(ctx, userID)
	if errors.Is(err, flow.ErrNoSession) {
		return []string{msgNothingToCancel}
	}
	if err != nil {
		log.Printf("cancel for %s failed: %v", userID, err)
		return nil
	}
	return []string{msgCancelled}
}

func (r *Router) handleAnswer(ctx context.Context, userID, raw string) []string {
	res, err := r.engine.Advance(ctx, userID, "", raw)
	if errors.Is(err, flow.ErrNoSession) {
		return []string{msgNoSession}
	}
	if err != nil {
		log.Printf("advance for %s failed: %v", userID, err)
		return []string{msgPersistFailed}
	}

	switch res.Kind {
	case flow.ValidationFailed:
		return []string{"⚠️ " + res.Reason, renderPrompt(res.Step)}
	case flow.Advanced:
		return []string{renderPrompt(res.Step)}
	case flow.Completed:
		return r.handleCompleted(ctx, userID, res)
	default:
		return nil
	}
}

func (r *Router) handleCompleted(ctx context.Context, userID string, res flow.Result) []string {
	switch res.FlowID {
	case FlowOnboarding:
		if err := r.store.SetOnboarded(userID, true); err != nil {
			log.Printf("set onboarded for %s failed: %v", userID, err)
		}
		return []string{msgOnboardingDone}
	case FlowDaily, FlowWeekly:
		note := r.advice.Note(ctx, userID, res.Answers)
		return []string{"✅ Check-in saved. Thank you!", note}
	default:
		return []string{"✅ Saved. Thank you!"}
	}
}

func (r *Router) handleNotify(userID, arg string) []string {
	switch strings.ToLower(arg) {
	case "on":
		if err := r.store.SetNotifications(userID, true); err != nil {
			log.Printf("notify on for %s failed: %v", userID, err)
		}
		return []string{msgNotifyOn}
	case "off":
		if err := r.store.SetNotifications(userID, false); err != nil {
			log.Printf("notify off for %s failed: %v", userID, err)
		}
		return []string{msgNotifyOff}
	default:
		return []string{"Use /notify on or /notify off."}
	}
}

func (r *Router) handleDelete(userID, arg string) []string {
	if strings.ToLower(arg) != "confirm" {
		return []string{msgDeleteConfirm}
	}
	if _, err := r.engine.Cancel(context.Background(), userID); err != nil && !errors.Is(err, flow.ErrNoSession) {
		log.Printf("cancel during delete for %s failed: %v", userID, err)
	}
	r.limiter.Forget(userID)
	if err := r.store.DeleteUser(userID); err != nil {
		log.Printf("delete user %s failed: %v", userID, err)
		return []string{msgPersistFailed}
	}
	return []string{msgDeleted}
}

func (r *Router) handleStats() []string {
	total, onboarded, err := r.store.CountUsers()
	if err != nil {
		log.Printf("stats query failed: %v", err)
		return nil
	}
	return []string{fmt.Sprintf("👥 Users: %d (%d onboarded)\n🚫 Rate-limit denials: %d", total, onboarded, r.limiter.Denied())}
}

// handleBroadcast pushes an admin announcement to every unblocked user
// with notifications enabled. Delivery failures are logged per user.
func (r *Router) handleBroadcast(ctx context.Context, text string) []string {
	if strings.TrimSpace(text) == "" {
		return []string{"Usage: /broadcast <message>"}
	}
	if r.out == nil {
		return []string{msgPersistFailed}
	}

	users, err := r.store.UserPopulation(ctx, store.PopulationFilter{NotificationsEnabled: true})
	if err != nil {
		log.Printf("broadcast population query failed: %v", err)
		return []string{msgPersistFailed}
	}

	sent := 0
	for _, userID := range users {
		if err := r.out.Send(ctx, userID, "📢 "+text); err != nil {
			log.Printf("broadcast to %s failed: %v", userID, err)
			continue
		}
		sent++
	}
	return []string{fmt.Sprintf("📢 Broadcast delivered to %d of %d users.", sent, len(users))}
}

// OnSessionEvicted is the session store's eviction callback: persist
// the partial answers, log the event and tell the user to start over.
func (r *Router) OnSessionEvicted(sess *session.Session, reason session.EvictReason) {
	ctx := context.Background()
	r.events.SessionExpired(sess.UserID, sess.FlowID, string(reason), len(sess.Answers))

	if err := r.store.PersistAbandonedFlow(ctx, sess.UserID, sess.FlowID, sess.Answers, string(reason)); err != nil {
		log.Printf("persist abandoned flow for %s failed: %v", sess.UserID, err)
	}

	if reason == session.ReasonExpired && r.out != nil {
		if err := gateway.SendWithRetry(ctx, r.out, sess.UserID, msgExpired); err != nil {
			log.Printf("expiry notice to %s failed: %v", sess.UserID, err)
		}
	}
}

func renderPrompt(step *flow.StepDefinition) string {
	if len(step.Options) == 0 {
		return step.Prompt
	}
	var b strings.Builder
	b.WriteString(step.Prompt)
	b.WriteString("\n")
	for i, opt := range step.Options {
		fmt.Fprintf(&b, "\n%d) %s", i+1, opt)
	}
	return b.String()
}
