package governance

import (
	"context"
	"testing"
)

func TestGate_BlockedUser(t *testing.T) {
	gate := NewGate(nil)
	ctx := context.Background()

	res, err := gate.Evaluate(ctx, Request{UserID: "tg:1", RawInput: "/start"})
	if err != nil {
		t.Fatal(err)
	}
	if res.Effect != EffectAllow {
		t.Errorf("Expected allow for unknown user, got %s", res.Effect)
	}

	gate.Block("tg:1")
	res, _ = gate.Evaluate(ctx, Request{UserID: "tg:1", RawInput: "/start"})
	if res.Effect != EffectDeny {
		t.Errorf("Expected deny for blocked user, got %s", res.Effect)
	}

	gate.Unblock("tg:1")
	res, _ = gate.Evaluate(ctx, Request{UserID: "tg:1", RawInput: "/start"})
	if res.Effect != EffectAllow {
		t.Errorf("Expected allow after unblock, got %s", res.Effect)
	}
}

func TestGate_AdminCommands(t *testing.T) {
	gate := NewGate([]string{"tg:42"})
	gate.RestrictCommand("/stats")
	ctx := context.Background()

	res, _ := gate.Evaluate(ctx, Request{UserID: "tg:1", RawInput: "/stats"})
	if res.Effect != EffectDeny {
		t.Errorf("Expected deny for non-admin /stats, got %s", res.Effect)
	}

	res, _ = gate.Evaluate(ctx, Request{UserID: "tg:42", RawInput: "/stats"})
	if res.Effect != EffectAllow {
		t.Errorf("Expected allow for admin /stats, got %s", res.Effect)
	}

	// arguments after the command do not change the decision
	res, _ = gate.Evaluate(ctx, Request{UserID: "tg:1", RawInput: "  /stats today  "})
	if res.Effect != EffectDeny {
		t.Errorf("Expected deny for non-admin /stats with args, got %s", res.Effect)
	}

	// unrestricted commands stay open to everyone
	res, _ = gate.Evaluate(ctx, Request{UserID: "tg:1", RawInput: "/help"})
	if res.Effect != EffectAllow {
		t.Errorf("Expected allow for /help, got %s", res.Effect)
	}
}

func TestGate_IsAdmin(t *testing.T) {
	gate := NewGate([]string{"tg:42", "dc:7"})
	if !gate.IsAdmin("tg:42") || !gate.IsAdmin("dc:7") {
		t.Error("Configured admins should be recognized")
	}
	if gate.IsAdmin("tg:1") {
		t.Error("Unknown user should not be admin")
	}
}
