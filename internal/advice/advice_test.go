package advice

import (
	"context"
	"strings"
	"testing"

	"github.com/rkashin/mindwell/pkg/config"
)

func TestClassify(t *testing.T) {
	cases := []struct {
		answers map[string]any
		want    Level
	}{
		{map[string]any{"stress_level": int64(9)}, LevelHigh},
		{map[string]any{"stress_level": int64(8)}, LevelHigh},
		{map[string]any{"stress_level": int64(6)}, LevelMedium},
		{map[string]any{"stress_level": int64(4)}, LevelLow},
		{map[string]any{"avg_stress_level": int64(3), "avg_anxiety_level": int64(7)}, LevelMedium},
		{map[string]any{"sleep_hours": float64(7)}, LevelLow},
		{map[string]any{}, LevelLow},
	}
	for _, tc := range cases {
		if got := Classify(tc.answers); got != tc.want {
			t.Errorf("Classify(%v) = %s, want %s", tc.answers, got, tc.want)
		}
	}
}

func TestNote_NilService(t *testing.T) {
	var s *Service
	note := s.Note(context.Background(), "tg:1", map[string]any{"stress_level": int64(9)})
	if note == "" {
		t.Fatal("Disabled service must still produce a note")
	}
	if note != fallbackNote {
		t.Errorf("Expected the fallback note, got %q", note)
	}
}

type predictionRecorder struct {
	userID string
	level  string
}

func (p *predictionRecorder) Prediction(userID, level string) {
	p.userID, p.level = userID, level
}

func TestNote_RecordsPrediction(t *testing.T) {
	rec := &predictionRecorder{}
	s := &Service{events: rec}

	note := s.Note(context.Background(), "tg:1", map[string]any{"stress_level": int64(9)})
	if note != fallbackNote {
		t.Errorf("Service without a model should fall back, got %q", note)
	}
	if rec.userID != "tg:1" || rec.level != string(LevelHigh) {
		t.Errorf("Expected High prediction for tg:1, got %s/%s", rec.userID, rec.level)
	}
}

func TestNew_Disabled(t *testing.T) {
	cfg := &config.Config{}
	s, err := New(cfg, nil)
	if err != nil {
		t.Fatal(err)
	}
	if s != nil {
		t.Error("No enabled provider should mean a nil service")
	}
}

func TestNew_UnsupportedProvider(t *testing.T) {
	cfg := &config.Config{Providers: map[string]config.ProviderConfig{
		"palm": {APIKey: "x", Model: "y", Enabled: true},
	}}
	if _, err := New(cfg, nil); err == nil {
		t.Error("Expected error for unsupported provider")
	}
}

func TestBuildPrompt(t *testing.T) {
	prompt := buildPrompt(LevelHigh, map[string]any{"stress_level": int64(9), "notes": "rough week"})
	if !strings.Contains(prompt, "High") {
		t.Error("Prompt should carry the anxiety level")
	}
	if !strings.Contains(prompt, "stress_level: 9") || !strings.Contains(prompt, "notes: rough week") {
		t.Errorf("Prompt should list the answers:\n%s", prompt)
	}
}
