package session

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"
)

// ErrAlreadyActive is returned by Create when the user already has an
// active session and replacement was not explicitly requested.
var ErrAlreadyActive = errors.New("session already active")

// Store is the concurrency-safe mapping from user id to active session.
// All per-user operations serialize on a per-user lock, including the
// timeout sweep, so an advance and an eviction can never interleave on
// the same session.
type Store struct {
	mu      sync.RWMutex
	entries map[string]*userEntry

	timeout time.Duration
	onEvict EvictFunc
	now     func() time.Time
}

type userEntry struct {
	mu   sync.Mutex
	sess *Session
}

func NewStore(timeout time.Duration, onEvict EvictFunc) *Store {
	return &Store{
		entries: make(map[string]*userEntry),
		timeout: timeout,
		onEvict: onEvict,
		now:     time.Now,
	}
}

// View exposes one user's session state while that user's lock is held.
// It must not escape the callback passed to Locked.
type View struct {
	store  *Store
	entry  *userEntry
	userID string

	// session handed to onEvict after the lock is released
	evicted *Session
	reason  EvictReason
}

// Get returns the active session, or nil.
func (v *View) Get() *Session {
	return v.entry.sess
}

// Create starts a new session. Fails with ErrAlreadyActive if one exists.
func (v *View) Create(flowID, entryStep string) (*Session, error) {
	if v.entry.sess != nil {
		return nil, ErrAlreadyActive
	}
	s := newSession(v.userID, flowID, entryStep, v.store.now())
	v.entry.sess = s
	return s, nil
}

// Replace abandons any active session and starts a new one. The old
// session, if any, is handed to the eviction callback with
// ReasonReplaced once the lock is released.
func (v *View) Replace(flowID, entryStep string) *Session {
	if old := v.entry.sess; old != nil {
		v.entry.sess = nil
		v.evicted = old
		v.reason = ReasonReplaced
	}
	s := newSession(v.userID, flowID, entryStep, v.store.now())
	v.entry.sess = s
	return s
}

// Update stores the (mutated) session back. The session must belong to
// this user.
func (v *View) Update(s *Session) {
	v.entry.sess = s
}

// Remove deletes the session. Idempotent; returns nil if already absent.
func (v *View) Remove() *Session {
	s := v.entry.sess
	v.entry.sess = nil
	return s
}

// Now reads the store's clock. Shared with the flow engine so session
// timestamps and sweep decisions agree.
func (s *Store) Now() time.Time {
	return s.now()
}

// Locked runs fn with the per-user lock held. This is the engine's
// serialization point: two near-simultaneous advances for one user run
// strictly one after the other.
func (s *Store) Locked(userID string, fn func(*View) error) error {
	for {
		e := s.entryFor(userID)
		e.mu.Lock()
		if s.currentEntry(userID) != e {
			// entry was garbage-collected while we waited; retry
			e.mu.Unlock()
			continue
		}
		v := &View{store: s, entry: e, userID: userID}
		err := fn(v)
		if e.sess == nil {
			// drop the empty slot so the map does not grow with
			// every user ever seen; waiters on e.mu will notice
			// the stale entry and retry
			s.mu.Lock()
			if s.entries[userID] == e {
				delete(s.entries, userID)
			}
			s.mu.Unlock()
		}
		e.mu.Unlock()
		if v.evicted != nil && s.onEvict != nil {
			s.onEvict(v.evicted, v.reason)
		}
		return err
	}
}

// Get returns the user's active session, if any.
func (s *Store) Get(userID string) (*Session, bool) {
	var out *Session
	_ = s.Locked(userID, func(v *View) error {
		out = v.Get()
		return nil
	})
	return out, out != nil
}

// Create starts a session for the user, failing with ErrAlreadyActive
// if one exists.
func (s *Store) Create(userID, flowID, entryStep string) (*Session, error) {
	var out *Session
	err := s.Locked(userID, func(v *View) error {
		sess, err := v.Create(flowID, entryStep)
		out = sess
		return err
	})
	return out, err
}

// Remove deletes and returns the user's session. Idempotent.
func (s *Store) Remove(userID string) *Session {
	var out *Session
	_ = s.Locked(userID, func(v *View) error {
		out = v.Remove()
		return nil
	})
	return out
}

// Len reports the number of active sessions.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, e := range s.entries {
		if e.sess != nil {
			n++
		}
	}
	return n
}

// StartSweeper runs the eviction sweep on the given interval until ctx
// is cancelled.
func (s *Store) StartSweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		log.Printf("session sweeper started (interval %s, timeout %s)", interval, s.timeout)
		for {
			select {
			case <-ctx.Done():
				log.Printf("session sweeper stopped: %v", ctx.Err())
				return
			case <-ticker.C:
				s.Sweep()
			}
		}
	}()
}

// Sweep evicts every session whose last activity is older than the
// configured timeout. Each eviction takes the per-user lock, so a
// concurrent advance either completes fully before the eviction or
// finds no session and starts fresh.
func (s *Store) Sweep() int {
	s.mu.RLock()
	ids := make([]string, 0, len(s.entries))
	for id := range s.entries {
		ids = append(ids, id)
	}
	s.mu.RUnlock()

	evicted := 0
	cutoff := s.now().Add(-s.timeout)
	for _, id := range ids {
		_ = s.Locked(id, func(v *View) error {
			sess := v.Get()
			if sess != nil && sess.LastActivityAt.Before(cutoff) {
				v.Remove()
				v.evicted = sess
				v.reason = ReasonExpired
				evicted++
			}
			return nil
		})
	}
	return evicted
}

// Close drains the store. When flush is set every remaining session is
// handed to the eviction callback with ReasonShutdown, otherwise the
// sessions are simply dropped.
func (s *Store) Close(flush bool) {
	s.mu.RLock()
	ids := make([]string, 0, len(s.entries))
	for id := range s.entries {
		ids = append(ids, id)
	}
	s.mu.RUnlock()

	for _, id := range ids {
		_ = s.Locked(id, func(v *View) error {
			if sess := v.Remove(); sess != nil && flush {
				v.evicted = sess
				v.reason = ReasonShutdown
			}
			return nil
		})
	}
}

func (s *Store) entryFor(userID string) *userEntry {
	s.mu.RLock()
	e, ok := s.entries[userID]
	s.mu.RUnlock()
	if ok {
		return e
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok = s.entries[userID]; ok {
		return e
	}
	e = &userEntry{}
	s.entries[userID] = e
	return e
}

func (s *Store) currentEntry(userID string) *userEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.entries[userID]
}
