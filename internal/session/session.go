package session

import (
	"time"

	"github.com/google/uuid"
)

// Session is a user's in-progress position within one flow instance.
// A user has at most one active session at any time.
type Session struct {
	ID             uuid.UUID
	UserID         string
	FlowID         string
	CurrentStepID  string
	Answers        map[string]any
	CreatedAt      time.Time
	LastActivityAt time.Time
}

func newSession(userID, flowID, entryStep string, now time.Time) *Session {
	return &Session{
		ID:             uuid.New(),
		UserID:         userID,
		FlowID:         flowID,
		CurrentStepID:  entryStep,
		Answers:        make(map[string]any),
		CreatedAt:      now,
		LastActivityAt: now,
	}
}

// Touch refreshes the activity timestamp.
func (s *Session) Touch(now time.Time) {
	s.LastActivityAt = now
}

// EvictReason says why a session left the store without completing.
type EvictReason string

const (
	ReasonExpired  EvictReason = "expired"
	ReasonReplaced EvictReason = "replaced"
	ReasonShutdown EvictReason = "shutdown"
)

// EvictFunc receives the final state of an abandoned session before it
// is forgotten. It runs outside the per-user lock.
type EvictFunc func(s *Session, reason EvictReason)
