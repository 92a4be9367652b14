// Package advice wraps the AI collaborator that turns a completed
// check-in into a short supportive note. The core never depends on the
// model details; failures degrade to a static fallback.
package advice

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/rkashin/mindwell/pkg/config"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
)

// Level buckets match the prediction classes of the upstream model.
type Level string

const (
	LevelLow    Level = "Low"
	LevelMedium Level = "Medium"
	LevelHigh   Level = "High"
)

const fallbackNote = "Thanks for checking in. Taking a moment for yourself every day already counts. " +
	"If things feel heavy, consider reaching out to someone you trust."

const noteTimeout = 15 * time.Second

// Events is the slice of the observability surface the service uses.
type Events interface {
	Prediction(userID string, level string)
}

type Service struct {
	model  llms.Model
	events Events
}

// New builds the service from the configured provider. Returns nil
// (disabled) when no provider is enabled; callers treat a nil service
// as "fallback note only".
func New(cfg *config.Config, events Events) (*Service, error) {
	name, p := cfg.DefaultProvider()
	if name == "" {
		return nil, nil
	}

	switch name {
	case "openai", "openrouter":
		opts := []openai.Option{
			openai.WithToken(p.APIKey),
			openai.WithModel(p.Model),
		}
		if p.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(p.BaseURL))
		}
		model, err := openai.New(opts...)
		if err != nil {
			return nil, err
		}
		return &Service{model: model, events: events}, nil
	default:
		return nil, fmt.Errorf("provider %q not supported", name)
	}
}

// Classify maps the stress/anxiety answers onto the model's anxiety
// classes. Purely local; used when the remote note fails too.
func Classify(answers map[string]any) Level {
	score := highestOf(answers, "stress_level", "avg_stress_level", "avg_anxiety_level")
	switch {
	case score >= 8:
		return LevelHigh
	case score >= 5:
		return LevelMedium
	default:
		return LevelLow
	}
}

// Note produces a two-sentence supportive message for the completed
// answer set. Any model failure returns the fallback note with a nil
// error; the flow completion must never block on advice.
func (s *Service) Note(ctx context.Context, userID string, answers map[string]any) string {
	level := Classify(answers)
	if s != nil && s.events != nil {
		s.events.Prediction(userID, string(level))
	}
	if s == nil || s.model == nil {
		return fallbackNote
	}

	ctx, cancel := context.WithTimeout(ctx, noteTimeout)
	defer cancel()

	prompt := buildPrompt(level, answers)
	out, err := llms.GenerateFromSinglePrompt(ctx, s.model, prompt,
		llms.WithMaxTokens(120), llms.WithTemperature(0.6))
	if err != nil {
		return fallbackNote
	}
	out = strings.TrimSpace(out)
	if out == "" {
		return fallbackNote
	}
	return out
}

func buildPrompt(level Level, answers map[string]any) string {
	var b strings.Builder
	b.WriteString("You are a calm, supportive wellbeing assistant. ")
	b.WriteString("A user just completed a mental-health check-in. ")
	fmt.Fprintf(&b, "Their estimated anxiety level is %s. ", level)
	b.WriteString("Their answers were:\n")

	keys := make([]string, 0, len(answers))
	for k := range answers {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, "- %s: %v\n", k, answers[k])
	}

	b.WriteString("\nReply with at most two warm, practical sentences. ")
	b.WriteString("Never diagnose, never prescribe, suggest professional help only if anxiety is High.")
	return b.String()
}

func highestOf(answers map[string]any, keys ...string) float64 {
	var best float64
	for _, k := range keys {
		switch v := answers[k].(type) {
		case int64:
			if f := float64(v); f > best {
				best = f
			}
		case float64:
			if v > best {
				best = v
			}
		}
	}
	return best
}
