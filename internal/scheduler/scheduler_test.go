package scheduler

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"
)

type fakeGateway struct {
	mu      sync.Mutex
	sent    []string
	failFor map[string]bool
}

func (g *fakeGateway) Send(ctx context.Context, userID, text string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.failFor[userID] {
		return fmt.Errorf("gateway rejected %s", userID)
	}
	g.sent = append(g.sent, userID)
	return nil
}

type tickRecorder struct {
	mu         sync.Mutex
	sent       int
	failed     int
	dispatches map[string]bool
}

func (r *tickRecorder) SchedulerTick(jobID string, sent, failed int) {
	r.mu.Lock()
	r.sent, r.failed = sent, failed
	r.mu.Unlock()
}

func (r *tickRecorder) Dispatch(userID, jobID string, delivered bool) {
	r.mu.Lock()
	if r.dispatches == nil {
		r.dispatches = make(map[string]bool)
	}
	r.dispatches[userID] = delivered
	r.mu.Unlock()
}

func staticSelector(users ...string) Selector {
	return func(ctx context.Context) ([]string, error) { return users, nil }
}

func textPayload(text string) PayloadBuilder {
	return func(userID string) string { return text }
}

func TestScheduler_RecipientIsolation(t *testing.T) {
	gw := &fakeGateway{failFor: map[string]bool{"tg:2": true}}
	rec := &tickRecorder{}
	s := New(gw, rec)

	if err := s.Add("daily_reminder", "0 18 * * *", staticSelector("tg:1", "tg:2", "tg:3"), textPayload("time to check in")); err != nil {
		t.Fatal(err)
	}
	job, ok := s.JobByID("daily_reminder")
	if !ok {
		t.Fatal("job not registered")
	}

	sent, failed := s.RunJob(context.Background(), job)
	if sent != 2 || failed != 1 {
		t.Fatalf("Expected sent=2 failed=1, got sent=%d failed=%d", sent, failed)
	}
	if len(gw.sent) != 2 || gw.sent[0] != "tg:1" || gw.sent[1] != "tg:3" {
		t.Errorf("Expected delivery to tg:1 and tg:3, got %v", gw.sent)
	}
	if rec.dispatches["tg:2"] {
		t.Error("tg:2 should be recorded as undelivered")
	}
	if !rec.dispatches["tg:1"] || !rec.dispatches["tg:3"] {
		t.Error("tg:1 and tg:3 should be recorded as delivered")
	}
}

func TestScheduler_AfterSendOnlyOnSuccess(t *testing.T) {
	gw := &fakeGateway{failFor: map[string]bool{"tg:2": true}}
	s := New(gw, &tickRecorder{})

	var logged []string
	s.AfterSend = func(ctx context.Context, jobID, userID string) {
		logged = append(logged, userID)
	}

	if err := s.Add("weekly_reminder", "0 12 * * 0", staticSelector("tg:1", "tg:2"), textPayload("weekly review")); err != nil {
		t.Fatal(err)
	}
	job, _ := s.JobByID("weekly_reminder")
	s.RunJob(context.Background(), job)

	if len(logged) != 1 || logged[0] != "tg:1" {
		t.Errorf("AfterSend should run only for delivered reminders, got %v", logged)
	}
}

func TestScheduler_SelectorFailure(t *testing.T) {
	gw := &fakeGateway{}
	s := New(gw, &tickRecorder{})

	if err := s.Add("daily_reminder", "0 18 * * *", func(ctx context.Context) ([]string, error) {
		return nil, fmt.Errorf("database locked")
	}, textPayload("x")); err != nil {
		t.Fatal(err)
	}
	job, _ := s.JobByID("daily_reminder")
	sent, failed := s.RunJob(context.Background(), job)
	if sent != 0 || failed != 0 {
		t.Errorf("Expected no dispatches on selector failure, got sent=%d failed=%d", sent, failed)
	}
	if len(gw.sent) != 0 {
		t.Error("Nothing should be sent when selection fails")
	}
}

func TestScheduler_BadCronExpression(t *testing.T) {
	s := New(&fakeGateway{}, &tickRecorder{})
	if err := s.Add("broken", "every day at six", staticSelector(), textPayload("x")); err == nil {
		t.Error("Expected error for invalid cron expression")
	}
	if err := s.Add("sixfield", "0 0 18 * * *", staticSelector(), textPayload("x")); err == nil {
		t.Error("Expected error for six-field expression")
	}
}

func TestScheduler_Cadence(t *testing.T) {
	s := New(&fakeGateway{}, &tickRecorder{})
	if err := s.Add("daily_reminder", "0 18 * * *", staticSelector(), textPayload("x")); err != nil {
		t.Fatal(err)
	}
	job, _ := s.JobByID("daily_reminder")

	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	next := job.NextAfter(at)
	want := time.Date(2026, 3, 1, 18, 0, 0, 0, time.UTC)
	if !next.Equal(want) {
		t.Errorf("Expected next fire %v, got %v", want, next)
	}

	// past today's fire time the job rolls to tomorrow, never backfills
	after := job.NextAfter(time.Date(2026, 3, 1, 18, 30, 0, 0, time.UTC))
	want = time.Date(2026, 3, 2, 18, 0, 0, 0, time.UTC)
	if !after.Equal(want) {
		t.Errorf("Expected next fire %v, got %v", want, after)
	}
}

func TestScheduler_StartStops(t *testing.T) {
	s := New(&fakeGateway{}, &tickRecorder{})
	if err := s.Add("daily_reminder", "0 18 * * *", staticSelector(), textPayload("x")); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Start(ctx)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Start did not return after cancellation")
	}
}
