package governance

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// Effect defines the result of a gate evaluation.
type Effect string

const (
	EffectAllow Effect = "allow"
	EffectDeny  Effect = "deny"
)

// Request contains the context of an inbound event to be evaluated.
type Request struct {
	UserID   string
	RawInput string
}

// Result contains the outcome of a gate evaluation.
type Result struct {
	Effect Effect
	Reason string
}

// Gate screens inbound events before they reach the rate limiter:
// blocked users are dropped and admin commands require an allowlisted
// user id.
type Gate struct {
	mu            sync.RWMutex
	blocked       map[string]bool
	admins        map[string]bool
	adminCommands map[string]bool
}

func NewGate(adminIDs []string) *Gate {
	g := &Gate{
		blocked:       make(map[string]bool),
		admins:        make(map[string]bool),
		adminCommands: make(map[string]bool),
	}
	for _, id := range adminIDs {
		g.admins[id] = true
	}
	return g
}

// Block denies all further events from the user.
func (g *Gate) Block(userID string) {
	g.mu.Lock()
	g.blocked[userID] = true
	g.mu.Unlock()
}

func (g *Gate) Unblock(userID string) {
	g.mu.Lock()
	delete(g.blocked, userID)
	g.mu.Unlock()
}

// RestrictCommand marks a command (e.g. "/stats") admin-only.
func (g *Gate) RestrictCommand(command string) {
	g.mu.Lock()
	g.adminCommands[command] = true
	g.mu.Unlock()
}

func (g *Gate) IsAdmin(userID string) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.admins[userID]
}

func (g *Gate) Evaluate(ctx context.Context, req Request) (Result, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	if g.blocked[req.UserID] {
		return Result{
			Effect: EffectDeny,
			Reason: fmt.Sprintf("user %s is blocked", req.UserID),
		}, nil
	}

	command, _, _ := strings.Cut(strings.TrimSpace(req.RawInput), " ")
	if g.adminCommands[command] && !g.admins[req.UserID] {
		return Result{
			Effect: EffectDeny,
			Reason: fmt.Sprintf("command %s requires admin access", command),
		}, nil
	}

	return Result{
		Effect: EffectAllow,
		Reason: "approved by default policy",
	}, nil
}
