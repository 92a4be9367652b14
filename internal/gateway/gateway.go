package gateway

import "context"

// Event is one inbound user interaction handed to the core.
type Event struct {
	UserID   string
	Username string
	RawInput string
}

// Handler is the core's inbound boundary. It returns the reply texts to
// send back to the user; rate-limit and validation outcomes are already
// resolved inside, so the gateway just delivers.
type Handler interface {
	Handle(ctx context.Context, ev Event) []string
}

// Messenger defines the interface for communication gateways
// (Telegram, Discord, etc.)
type Messenger interface {
	// Start begins the message listening loop and blocks until it ends
	Start(ctx context.Context) error
	// Send sends a message to a specific user
	Send(ctx context.Context, userID string, text string) error
	// Stop gracefully shuts down the gateway
	Stop() error
}
