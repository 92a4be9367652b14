package observability

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"
)

// EventType defines the category of the log event.
type EventType string

const (
	EventTypeFlow           EventType = "flow"
	EventTypeSessionExpired EventType = "session_expired"
	EventTypeRateLimited    EventType = "rate_limited"
	EventTypePolicyCheck    EventType = "policy_check"
	EventTypeDispatch       EventType = "dispatch"
	EventTypeSchedulerTick  EventType = "scheduler_tick"
	EventTypePrediction     EventType = "prediction"
	EventTypeHeartbeat      EventType = "heartbeat"
)

// Event represents a structured log entry.
type Event struct {
	Type      EventType `json:"type"`
	UserID    string    `json:"user_id,omitempty"`
	FlowID    string    `json:"flow_id,omitempty"`
	Data      any       `json:"data,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Logger handles structured logging.
type Logger struct {
	dispatchLogPath string
	maxSize         int64
}

func NewLogger() *Logger {
	return &Logger{
		dispatchLogPath: filepath.Join("logs", "dispatch.jsonl"),
		maxSize:         10 * 1024 * 1024, // 10MB
	}
}

// Log emits a structured JSON event to stdout. Dispatch events are
// additionally appended to a rotated file so reminder delivery can be
// audited after the fact.
func (l *Logger) Log(evt Event) {
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now()
	}
	data, err := json.Marshal(evt)
	if err != nil {
		fmt.Printf("{\"error\": \"failed to marshal event: %v\"}\n", err)
		return
	}
	fmt.Println(string(data))

	if evt.Type == EventTypeDispatch {
		l.writeToFile(data)
	}
}

func (l *Logger) writeToFile(data []byte) {
	if err := os.MkdirAll(filepath.Dir(l.dispatchLogPath), 0755); err != nil {
		log.Printf("failed to create log directory: %v", err)
		return
	}

	// Check size before writing
	info, err := os.Stat(l.dispatchLogPath)
	if err == nil && info.Size() > l.maxSize {
		l.rotateLogs()
	}

	f, err := os.OpenFile(l.dispatchLogPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		log.Printf("failed to open log file: %v", err)
		return
	}
	defer f.Close()

	if _, err := f.Write(append(data, '\n')); err != nil {
		log.Printf("failed to write to log file: %v", err)
	}
}

func (l *Logger) rotateLogs() {
	// Simple rotation: keep one .old file
	oldPath := l.dispatchLogPath + ".old"
	_ = os.Remove(oldPath)
	_ = os.Rename(l.dispatchLogPath, oldPath)
}

// Helper methods for common events

// FlowEvent records a flow lifecycle step: flow_started, flow_advance,
// flow_complete, flow_cancelled.
func (l *Logger) FlowEvent(event, userID, flowID, stepID string) {
	l.Log(Event{
		Type:   EventTypeFlow,
		UserID: userID,
		FlowID: flowID,
		Data:   map[string]string{"event": event, "step": stepID},
	})
}

func (l *Logger) SessionExpired(userID, flowID, reason string, answered int) {
	l.Log(Event{
		Type:   EventTypeSessionExpired,
		UserID: userID,
		FlowID: flowID,
		Data: map[string]any{
			"reason":   reason,
			"answered": answered,
		},
	})
}

func (l *Logger) RateLimited(userID string, deniedTotal uint64) {
	l.Log(Event{
		Type:   EventTypeRateLimited,
		UserID: userID,
		Data:   map[string]any{"denied_total": deniedTotal},
	})
}

func (l *Logger) PolicyCheck(userID, reason string) {
	l.Log(Event{
		Type:   EventTypePolicyCheck,
		UserID: userID,
		Data:   map[string]string{"reason": reason},
	})
}

func (l *Logger) Dispatch(userID, jobID string, delivered bool) {
	l.Log(Event{
		Type:   EventTypeDispatch,
		UserID: userID,
		Data: map[string]any{
			"job":       jobID,
			"delivered": delivered,
		},
	})
}

func (l *Logger) SchedulerTick(jobID string, sent, failed int) {
	l.Log(Event{
		Type: EventTypeSchedulerTick,
		Data: map[string]any{
			"job":    jobID,
			"sent":   sent,
			"failed": failed,
		},
	})
}

func (l *Logger) Prediction(userID string, level string) {
	l.Log(Event{
		Type:   EventTypePrediction,
		UserID: userID,
		Data:   map[string]string{"level": level},
	})
}

func (l *Logger) LogHeartbeat() {
	l.Log(Event{
		Type: EventTypeHeartbeat,
		Data: map[string]string{"status": "alive"},
	})
}
