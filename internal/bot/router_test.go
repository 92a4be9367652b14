package bot

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rkashin/mindwell/internal/flow"
	"github.com/rkashin/mindwell/internal/gateway"
	"github.com/rkashin/mindwell/internal/governance"
	"github.com/rkashin/mindwell/internal/observability"
	"github.com/rkashin/mindwell/internal/ratelimit"
	"github.com/rkashin/mindwell/internal/session"
	"github.com/rkashin/mindwell/internal/store"
)

const onboardingYAML = `
id: onboarding
steps:
  - id: age
    prompt: "How old are you?"
    validate: {type: int, min: 13, max: 120}
    next: __end__
`

const dailyYAML = `
id: daily
steps:
  - id: stress_level
    prompt: "Stress level 1-10?"
    validate: {type: scale}
    next: __end__
`

type testEnv struct {
	router   *Router
	sessions *session.Store
	db       *store.Store
	gate     *governance.Gate
}

func newTestEnv(t *testing.T, rateLimit int) *testEnv {
	t.Helper()

	db, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })

	reg := flow.NewRegistry()
	for _, y := range []string{onboardingYAML, dailyYAML} {
		def, err := flow.Parse([]byte(y))
		if err != nil {
			t.Fatal(err)
		}
		if err := reg.Add(def); err != nil {
			t.Fatal(err)
		}
	}

	events := observability.NewLogger()
	sessions := session.NewStore(time.Hour, nil)
	engine := flow.NewEngine(reg, sessions, db, events, flow.ConflictReject)
	limiter := ratelimit.New(rateLimit, time.Minute)
	gate := governance.NewGate([]string{"tg:42"})

	router := NewRouter(engine, limiter, gate, db, nil, events, true)
	return &testEnv{router: router, sessions: sessions, db: db, gate: gate}
}

func (e *testEnv) send(userID, text string) []string {
	return e.router.Handle(context.Background(), gateway.Event{UserID: userID, Username: "tester", RawInput: text})
}

func TestRouter_OnboardingLifecycle(t *testing.T) {
	env := newTestEnv(t, 100)

	replies := env.send("tg:1", "/start")
	if len(replies) != 1 || !strings.Contains(replies[0], "How old are you?") {
		t.Fatalf("Expected onboarding prompt, got %v", replies)
	}

	replies = env.send("tg:1", "30")
	if len(replies) != 1 || !strings.Contains(replies[0], "All set") {
		t.Fatalf("Expected completion message, got %v", replies)
	}

	onboarded, err := env.db.IsOnboarded("tg:1")
	if err != nil {
		t.Fatal(err)
	}
	if !onboarded {
		t.Error("Completing onboarding should set the flag")
	}

	replies = env.send("tg:1", "/start")
	if len(replies) != 1 || !strings.Contains(replies[0], "Welcome back") {
		t.Errorf("Onboarded user should get the menu, got %v", replies)
	}
}

func TestRouter_DailyCheckin(t *testing.T) {
	env := newTestEnv(t, 100)

	replies := env.send("tg:1", "/daily")
	if len(replies) != 1 || !strings.Contains(replies[0], "Stress level") {
		t.Fatalf("Expected daily prompt, got %v", replies)
	}

	// invalid input re-presents the question with the reason
	replies = env.send("tg:1", "eleven")
	if len(replies) != 2 || !strings.HasPrefix(replies[0], "⚠️") {
		t.Fatalf("Expected rejection plus re-prompt, got %v", replies)
	}

	replies = env.send("tg:1", "6")
	if len(replies) != 2 || !strings.Contains(replies[0], "saved") {
		t.Fatalf("Expected completion plus advice note, got %v", replies)
	}

	done, err := env.db.CompletedSince(context.Background(), "tg:1", "daily", time.Now().Add(-time.Hour).UTC())
	if err != nil {
		t.Fatal(err)
	}
	if !done {
		t.Error("Completed check-in should be persisted")
	}
}

func TestRouter_ConflictAndCancel(t *testing.T) {
	env := newTestEnv(t, 100)

	env.send("tg:1", "/daily")
	replies := env.send("tg:1", "/start")
	if len(replies) != 1 || replies[0] != msgAlreadyActive {
		t.Errorf("Expected conflict refusal, got %v", replies)
	}

	replies = env.send("tg:1", "/cancel")
	if len(replies) != 1 || replies[0] != msgCancelled {
		t.Errorf("Expected cancel confirmation, got %v", replies)
	}
	if replies := env.send("tg:1", "/cancel"); replies[0] != msgNothingToCancel {
		t.Errorf("Second cancel should find nothing, got %v", replies)
	}
	if replies := env.send("tg:1", "hello"); replies[0] != msgNoSession {
		t.Errorf("Free text with no session should explain itself, got %v", replies)
	}
}

func TestRouter_RateLimit(t *testing.T) {
	env := newTestEnv(t, 2)

	env.send("tg:1", "/help")
	env.send("tg:1", "/help")
	replies := env.send("tg:1", "/help")
	if len(replies) != 1 || replies[0] != msgRateLimited {
		t.Errorf("Expected rate-limit notice, got %v", replies)
	}

	// another user has their own window
	if replies := env.send("tg:2", "/help"); len(replies) != 1 || replies[0] != msgHelp {
		t.Errorf("Unrelated user should be served, got %v", replies)
	}
}

func TestRouter_Governance(t *testing.T) {
	env := newTestEnv(t, 100)

	env.gate.Block("tg:1")
	if replies := env.send("tg:1", "/help"); replies != nil {
		t.Errorf("Blocked user should get silence, got %v", replies)
	}

	if replies := env.send("tg:2", "/stats"); replies != nil {
		t.Errorf("Non-admin /stats should be dropped, got %v", replies)
	}
	replies := env.send("tg:42", "/stats")
	if len(replies) != 1 || !strings.Contains(replies[0], "Users:") {
		t.Errorf("Admin should see stats, got %v", replies)
	}
}

func TestRouter_NotifyAndDelete(t *testing.T) {
	env := newTestEnv(t, 100)

	if replies := env.send("tg:1", "/notify off"); replies[0] != msgNotifyOff {
		t.Errorf("Expected notify-off confirmation, got %v", replies)
	}
	users, err := env.db.UserPopulation(context.Background(), store.PopulationFilter{NotificationsEnabled: true})
	if err != nil {
		t.Fatal(err)
	}
	if len(users) != 0 {
		t.Errorf("Opted-out user should leave the reminder population, got %v", users)
	}

	if replies := env.send("tg:1", "/delete"); replies[0] != msgDeleteConfirm {
		t.Errorf("Bare /delete should ask for confirmation, got %v", replies)
	}
	if replies := env.send("tg:1", "/delete confirm"); replies[0] != msgDeleted {
		t.Errorf("Expected deletion confirmation, got %v", replies)
	}
	total, _, err := env.db.CountUsers()
	if err != nil {
		t.Fatal(err)
	}
	if total != 0 {
		t.Errorf("Expected no users after deletion, got %d", total)
	}
}

type fakeMessenger struct {
	sent map[string]string
}

func (f *fakeMessenger) Start(ctx context.Context) error { <-ctx.Done(); return ctx.Err() }
func (f *fakeMessenger) Stop() error                     { return nil }
func (f *fakeMessenger) Send(ctx context.Context, userID, text string) error {
	if f.sent == nil {
		f.sent = make(map[string]string)
	}
	f.sent[userID] = text
	return nil
}

func TestRouter_Broadcast(t *testing.T) {
	env := newTestEnv(t, 100)
	out := &fakeMessenger{}
	env.router.SetMessenger(out)

	env.send("tg:1", "/help")
	env.send("tg:2", "/help")
	env.send("tg:2", "/notify off")

	if replies := env.send("tg:1", "/broadcast maintenance tonight"); replies != nil {
		t.Errorf("Non-admin broadcast should be dropped, got %v", replies)
	}

	replies := env.send("tg:42", "/broadcast maintenance tonight")
	if len(replies) != 1 || !strings.Contains(replies[0], "delivered to") {
		t.Fatalf("Expected delivery summary, got %v", replies)
	}
	if _, ok := out.sent["tg:1"]; !ok {
		t.Error("tg:1 should receive the broadcast")
	}
	if _, ok := out.sent["tg:2"]; ok {
		t.Error("tg:2 opted out of notifications")
	}
	if !strings.Contains(out.sent["tg:1"], "maintenance tonight") {
		t.Errorf("Broadcast text mismatch: %q", out.sent["tg:1"])
	}

	if replies := env.send("tg:42", "/broadcast"); len(replies) != 1 || !strings.HasPrefix(replies[0], "Usage:") {
		t.Errorf("Bare /broadcast should show usage, got %v", replies)
	}
}

func TestRouter_OnSessionEvicted(t *testing.T) {
	env := newTestEnv(t, 100)

	env.send("tg:1", "/daily")
	sess, ok := env.sessions.Get("tg:1")
	if !ok {
		t.Fatal("Expected an active session")
	}

	env.router.OnSessionEvicted(sess, session.ReasonExpired)

	var reason string
	err := env.db.DB.QueryRow(`SELECT reason FROM abandoned_flows WHERE user_id = ?`, "tg:1").Scan(&reason)
	if err != nil {
		t.Fatal(err)
	}
	if reason != "expired" {
		t.Errorf("Expected reason expired, got %s", reason)
	}
}
