// Package scheduler runs the reminder jobs that nudge the user
// population to check in.
package scheduler

import (
	"context"
	"fmt"
	"log"
	"sort"
	"time"

	"github.com/robfig/cron/v3"
)

// Messenger is the slice of the dispatch gateway the scheduler needs.
type Messenger interface {
	Send(ctx context.Context, userID string, text string) error
}

// Events is the slice of the observability surface the scheduler uses.
type Events interface {
	SchedulerTick(jobID string, sent, failed int)
	Dispatch(userID, jobID string, delivered bool)
}

// Selector enumerates the users a job should target on this firing.
// It is re-evaluated from scratch every tick.
type Selector func(ctx context.Context) ([]string, error)

// PayloadBuilder renders the outbound message for one recipient.
type PayloadBuilder func(userID string) string

// Job is one registered reminder: a cron cadence, a population
// predicate and a payload. It keeps no execution history beyond the
// next fire time.
type Job struct {
	ID       string
	schedule cron.Schedule
	selector Selector
	payload  PayloadBuilder

	next time.Time
}

// Scheduler is a single cadence goroutine. Jobs due at the same instant
// run sequentially to bound load on the gateway; recipients within a
// firing are independent.
type Scheduler struct {
	jobs    []*Job
	gateway Messenger
	events  Events
	now     func() time.Time

	// AfterSend, when set, runs once per delivered reminder
	// (e.g. to append to the reminders audit log).
	AfterSend func(ctx context.Context, jobID, userID string)
}

func New(gateway Messenger, events Events) *Scheduler {
	return &Scheduler{
		gateway: gateway,
		events:  events,
		now:     time.Now,
	}
}

// Add registers a job under a standard 5-field cron expression.
func (s *Scheduler) Add(id, cronExpr string, selector Selector, payload PayloadBuilder) error {
	schedule, err := cron.ParseStandard(cronExpr)
	if err != nil {
		return fmt.Errorf("job %q: bad cron expression %q: %w", id, cronExpr, err)
	}
	s.jobs = append(s.jobs, &Job{
		ID:       id,
		schedule: schedule,
		selector: selector,
		payload:  payload,
	})
	return nil
}

// Start runs the cadence loop until ctx is cancelled. Fire times are
// computed from the current clock, so ticks missed while the process
// was down are skipped, not backfilled.
func (s *Scheduler) Start(ctx context.Context) {
	if len(s.jobs) == 0 {
		log.Println("scheduler: no reminder jobs registered")
		return
	}

	now := s.now()
	for _, j := range s.jobs {
		j.next = j.schedule.Next(now)
	}
	log.Printf("scheduler started with %d job(s)", len(s.jobs))

	for {
		sort.Slice(s.jobs, func(i, k int) bool { return s.jobs[i].next.Before(s.jobs[k].next) })
		wait := time.Until(s.jobs[0].next)
		if wait < 0 {
			wait = 0
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			log.Printf("scheduler stopped: %v", ctx.Err())
			return
		case <-timer.C:
		}

		now = s.now()
		for _, j := range s.jobs {
			if j.next.After(now) {
				continue
			}
			s.RunJob(ctx, j)
			j.next = j.schedule.Next(now)
		}
	}
}

// RunJob executes one firing: select targets, then dispatch to each.
// A failure for one recipient is logged and never aborts the rest.
func (s *Scheduler) RunJob(ctx context.Context, j *Job) (sent, failed int) {
	users, err := j.selector(ctx)
	if err != nil {
		log.Printf("job %s: target selection failed: %v", j.ID, err)
		s.events.SchedulerTick(j.ID, 0, 0)
		return 0, 0
	}

	for _, userID := range users {
		if err := s.gateway.Send(ctx, userID, j.payload(userID)); err != nil {
			log.Printf("job %s: dispatch to %s failed: %v", j.ID, userID, err)
			s.events.Dispatch(userID, j.ID, false)
			failed++
			continue
		}
		s.events.Dispatch(userID, j.ID, true)
		if s.AfterSend != nil {
			s.AfterSend(ctx, j.ID, userID)
		}
		sent++
	}

	s.events.SchedulerTick(j.ID, sent, failed)
	return sent, failed
}

// NextAfter reports when the job would fire next after t.
func (j *Job) NextAfter(t time.Time) time.Time {
	return j.schedule.Next(t)
}

// JobByID returns a registered job, mainly for tests and admin stats.
func (s *Scheduler) JobByID(id string) (*Job, bool) {
	for _, j := range s.jobs {
		if j.ID == id {
			return j, true
		}
	}
	return nil, false
}
