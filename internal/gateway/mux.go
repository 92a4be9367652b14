package gateway

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// Mux routes outbound sends to the transport that owns the user id
// prefix. The scheduler and the session-expiry path only ever see one
// Messenger regardless of how many chat transports are running.
type Mux struct {
	mu     sync.RWMutex
	routes map[string]Messenger
}

func NewMux() *Mux {
	return &Mux{routes: make(map[string]Messenger)}
}

// Register binds a user-id prefix (e.g. "tg:") to a transport.
func (m *Mux) Register(prefix string, messenger Messenger) {
	m.mu.Lock()
	m.routes[prefix] = messenger
	m.mu.Unlock()
}

func (m *Mux) Start(ctx context.Context) error {
	<-ctx.Done()
	return ctx.Err()
}

func (m *Mux) Send(ctx context.Context, userID string, text string) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for prefix, messenger := range m.routes {
		if strings.HasPrefix(userID, prefix) {
			return messenger.Send(ctx, userID, text)
		}
	}
	return fmt.Errorf("no transport for user id %s", userID)
}

func (m *Mux) Stop() error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var firstErr error
	for _, messenger := range m.routes {
		if err := messenger.Stop(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
