package economy

import (
	"context"
	"testing"
)

func TestAgents_StatusMachine(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	a := env.newAgent(t, "ada")

	// idle → planning → thinking → executing → idle.
	for _, next := range []AgentStatus{StatusPlanning, StatusThinking, StatusExecuting, StatusIdle} {
		if err := env.agents.SetStatus(ctx, a, next); err != nil {
			t.Fatalf("transition to %s: %v", next, err)
		}
	}

	// thinking → planning is not allowed.
	if err := env.agents.SetStatus(ctx, a, StatusThinking); err != nil {
		t.Fatalf("to thinking: %v", err)
	}
	if err := env.agents.SetStatus(ctx, a, StatusPlanning); err == nil {
		t.Fatalf("thinking→planning should be rejected")
	}

	// Any state may fall back to idle.
	if err := env.agents.SetStatus(ctx, a, StatusIdle); err != nil {
		t.Fatalf("fallback to idle: %v", err)
	}
}

func TestAgents_DeleteCascadesAndProtectsHuman(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	if err := env.agents.EnsureHuman(ctx, "mayor"); err != nil {
		t.Fatalf("ensure human: %v", err)
	}
	a := env.newAgent(t, "ada")
	env.give(t, a, "wood", 5)

	out, err := env.agents.Delete(ctx, a)
	if err != nil || !out.OK {
		t.Fatalf("delete: out=%+v err=%v", out, err)
	}
	if ag, _ := env.agents.Get(ctx, a); ag != nil {
		t.Fatalf("agent still present after delete")
	}

	out, err = env.agents.Delete(ctx, HumanID)
	if err != nil {
		t.Fatalf("delete human err: %v", err)
	}
	if out.OK {
		t.Fatalf("human delete should be refused")
	}

	out, _ = env.agents.Delete(ctx, 9999)
	if out.OK || out.Reason != ReasonAgentNotFound {
		t.Fatalf("out=%+v want agent_not_found", out)
	}
}

func TestAgents_EnsureHumanIdempotent(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	if err := env.agents.EnsureHuman(ctx, "mayor"); err != nil {
		t.Fatalf("ensure: %v", err)
	}
	if err := env.agents.EnsureHuman(ctx, "other name"); err != nil {
		t.Fatalf("repeat ensure: %v", err)
	}
	human, err := env.agents.Get(ctx, HumanID)
	if err != nil || human == nil {
		t.Fatalf("get human: %v", err)
	}
	if human.Name != "mayor" {
		t.Fatalf("name=%q want original kept", human.Name)
	}
}
