package flow

import (
	"context"
	"errors"
	"fmt"

	"github.com/rkashin/mindwell/internal/session"
)

var (
	// ErrAlreadyActive mirrors the session store error so callers can
	// decide resume vs. replace without importing both packages.
	ErrAlreadyActive = session.ErrAlreadyActive

	// ErrNoSession means input arrived with no flow to route it to.
	ErrNoSession = errors.New("no active session")

	// ErrUnknownFlow means the flow id is not in the registry.
	ErrUnknownFlow = errors.New("unknown flow")
)

// ResultKind classifies the outcome of one Advance call.
type ResultKind int

const (
	// Advanced: input accepted, next prompt in Result.Step.
	Advanced ResultKind = iota
	// Completed: terminal step reached, answers persisted and in Result.Answers.
	Completed
	// Cancelled: session removed on explicit cancel, answers discarded.
	Cancelled
	// ValidationFailed: input rejected, current prompt re-presented.
	ValidationFailed
	// Started: a new session was created, entry prompt in Result.Step.
	Started
)

// Result is what one engine call produced.
type Result struct {
	Kind    ResultKind
	FlowID  string
	Step    *StepDefinition // next prompt (Advanced/Started) or current one (ValidationFailed)
	Reason  string          // user-facing validation message
	Answers map[string]any  // full answer set on Completed
}

// Persister receives the completed answer set. The engine keeps the
// session in the store until this call succeeds, so a failed hand-off
// can be retried by the user's next input.
type Persister interface {
	PersistCompletedFlow(ctx context.Context, userID, flowID string, answers map[string]any) error
}

// Events is the slice of the observability surface the engine uses.
type Events interface {
	FlowEvent(event, userID, flowID, stepID string)
}

// ConflictPolicy decides what happens when a user starts a flow while a
// different one is active.
type ConflictPolicy string

const (
	ConflictReject  ConflictPolicy = "reject"
	ConflictReplace ConflictPolicy = "replace"
)

// Engine drives all flows. Step definitions are data, so one engine
// instance serves onboarding, daily and weekly check-ins alike.
type Engine struct {
	flows    *Registry
	sessions *session.Store
	persist  Persister
	events   Events
	conflict ConflictPolicy
}

func NewEngine(flows *Registry, sessions *session.Store, persist Persister, events Events, conflict ConflictPolicy) *Engine {
	if conflict == "" {
		conflict = ConflictReject
	}
	return &Engine{
		flows:    flows,
		sessions: sessions,
		persist:  persist,
		events:   events,
		conflict: conflict,
	}
}

// Start begins flowID for the user. If the same flow is already active
// its current prompt is re-presented (resume). A different active flow
// is handled per the conflict policy: reject with ErrAlreadyActive, or
// abandon-and-replace.
func (e *Engine) Start(ctx context.Context, userID, flowID string) (Result, error) {
	def, ok := e.flows.Get(flowID)
	if !ok {
		return Result{}, fmt.Errorf("%w: %q", ErrUnknownFlow, flowID)
	}

	var res Result
	err := e.sessions.Locked(userID, func(v *session.View) error {
		cur := v.Get()
		if cur != nil && cur.FlowID == flowID {
			// resume where the user left off
			step, ok := def.Step(cur.CurrentStepID)
			if !ok {
				// definition changed under a live session; start over
				v.Replace(flowID, def.Entry)
				step, _ = def.Step(def.Entry)
			}
			res = Result{Kind: Started, FlowID: flowID, Step: step}
			return nil
		}
		if cur != nil && e.conflict == ConflictReject {
			return fmt.Errorf("%w: %s", ErrAlreadyActive, cur.FlowID)
		}
		v.Replace(flowID, def.Entry)
		step, _ := def.Step(def.Entry)
		res = Result{Kind: Started, FlowID: flowID, Step: step}
		return nil
	})
	if err != nil {
		return Result{}, err
	}
	e.events.FlowEvent("flow_started", userID, flowID, res.Step.ID)
	return res, nil
}

// Advance feeds one raw input into the user's active flow. An empty
// flowID is inferred from the active session.
func (e *Engine) Advance(ctx context.Context, userID, flowID, rawInput string) (Result, error) {
	var res Result
	err := e.sessions.Locked(userID, func(v *session.View) error {
		sess := v.Get()
		if sess == nil {
			return ErrNoSession
		}
		if flowID != "" && flowID != sess.FlowID {
			return fmt.Errorf("%w: %s", ErrAlreadyActive, sess.FlowID)
		}

		def, ok := e.flows.Get(sess.FlowID)
		if !ok {
			// flow vanished from the registry; drop the orphan
			v.Remove()
			return fmt.Errorf("%w: %q", ErrUnknownFlow, sess.FlowID)
		}
		step, ok := def.Step(sess.CurrentStepID)
		if !ok {
			v.Remove()
			return fmt.Errorf("flow %q lost step %q", sess.FlowID, sess.CurrentStepID)
		}

		value, verr := step.Validate(rawInput)
		now := e.sessions.Now()
		if verr != nil {
			// invalid input never advances and never loses answers
			sess.Touch(now)
			v.Update(sess)
			res = Result{Kind: ValidationFailed, FlowID: sess.FlowID, Step: step, Reason: verr.Error()}
			return nil
		}

		sess.Answers[step.ID] = value
		next := step.Next.Next(value)

		if next == Terminal {
			// hand off before removal: a failed persist keeps the
			// session so the user's next input retries completion
			if err := e.persist.PersistCompletedFlow(ctx, userID, sess.FlowID, sess.Answers); err != nil {
				sess.Touch(now)
				v.Update(sess)
				return fmt.Errorf("completed flow hand-off: %w", err)
			}
			answers := sess.Answers
			v.Remove()
			res = Result{Kind: Completed, FlowID: sess.FlowID, Answers: answers}
			return nil
		}

		nextStep, ok := def.Step(next)
		if !ok {
			v.Remove()
			return fmt.Errorf("flow %q transition to unknown step %q", sess.FlowID, next)
		}
		sess.CurrentStepID = next
		sess.Touch(now)
		v.Update(sess)
		res = Result{Kind: Advanced, FlowID: sess.FlowID, Step: nextStep}
		return nil
	})
	if err != nil {
		return Result{}, err
	}

	switch res.Kind {
	case Advanced:
		e.events.FlowEvent("flow_advance", userID, res.FlowID, res.Step.ID)
	case Completed:
		e.events.FlowEvent("flow_complete", userID, res.FlowID, "")
	}
	return res, nil
}

// Cancel removes the user's session, discarding collected answers.
// Idempotent: cancelling with no active session returns ErrNoSession.
func (e *Engine) Cancel(ctx context.Context, userID string) (Result, error) {
	var res Result
	err := e.sessions.Locked(userID, func(v *session.View) error {
		sess := v.Remove()
		if sess == nil {
			return ErrNoSession
		}
		res = Result{Kind: Cancelled, FlowID: sess.FlowID}
		return nil
	})
	if err != nil {
		return Result{}, err
	}
	e.events.FlowEvent("flow_cancelled", userID, res.FlowID, "")
	return res, nil
}

// Active reports the user's active flow id, if any.
func (e *Engine) Active(userID string) (string, bool) {
	sess, ok := e.sessions.Get(userID)
	if !ok {
		return "", false
	}
	return sess.FlowID, true
}
