package gateway

import (
	"context"
	"fmt"
	"log"
	"time"
)

const (
	sendMaxAttempts = 3
	sendBaseDelay   = 200 * time.Millisecond
)

// SendWithRetry delivers one outbound message with exponential backoff.
// Transport errors are recoverable up to sendMaxAttempts; the last
// error is returned once attempts are exhausted.
func SendWithRetry(ctx context.Context, m Messenger, userID, text string) error {
	var lastErr error
	for i := 0; i < sendMaxAttempts; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		lastErr = m.Send(ctx, userID, text)
		if lastErr == nil {
			return nil
		}
		if i < sendMaxAttempts-1 {
			delay := sendBaseDelay * time.Duration(1<<i) // 200ms, 400ms
			log.Printf("send to %s failed (attempt %d): %v, retrying in %s", userID, i+1, lastErr, delay)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}
	}
	return fmt.Errorf("send to %s failed after %d attempts: %w", userID, sendMaxAttempts, lastErr)
}
