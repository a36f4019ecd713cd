package economy

import (
	"context"
	"testing"
	"time"
)

func TestProduction_ConstructionCompletesAfterElapsedDays(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	a := env.newAgent(t, "ada")
	env.give(t, a, "wood", 10)
	env.give(t, a, "stone", 5)

	start := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	env.setClock(start)
	farm := constructBuilding(t, env, a, "farm", "")

	// Two days in: still constructing.
	env.setClock(start.AddDate(0, 0, 2))
	completed, err := env.city.CheckConstructionProgress(ctx)
	if err != nil {
		t.Fatalf("progress: %v", err)
	}
	if len(completed) != 0 {
		t.Fatalf("completed=%v want none", completed)
	}

	// Day three: flips to active exactly once.
	env.setClock(start.AddDate(0, 0, 3))
	completed, err = env.city.CheckConstructionProgress(ctx)
	if err != nil {
		t.Fatalf("progress: %v", err)
	}
	if len(completed) != 1 || completed[0].BuildingID != farm {
		t.Fatalf("completed=%v want farm %d", completed, farm)
	}

	completed, err = env.city.CheckConstructionProgress(ctx)
	if err != nil {
		t.Fatalf("repeat progress: %v", err)
	}
	if len(completed) != 0 {
		t.Fatalf("repeat completed=%v want none", completed)
	}
	if got := len(env.recorder.Named("building_completed")); got != 1 {
		t.Fatalf("building_completed events=%d want 1", got)
	}
}

// Farms run before mills, so the wheat harvested this tick feeds the
// same worker's mill conversion next tick, and a worker on a mill can
// grind wheat harvested by farm workers in the same tick.
func TestProduction_TickOrderAndConversions(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	owner := env.newAgent(t, "ada")
	farmer := env.newAgent(t, "fern")
	miller := env.newAgent(t, "milo")
	env.give(t, owner, "wood", 25)
	env.give(t, owner, "stone", 15)

	farm := constructBuilding(t, env, owner, "farm", "")
	mill := constructBuilding(t, env, owner, "mill", "")
	activate(t, env, farm)
	activate(t, env, mill)

	if out, err := env.city.AssignWorker(ctx, farm, farmer); err != nil || !out.OK {
		t.Fatalf("assign farmer: out=%+v err=%v", out, err)
	}
	if out, err := env.city.AssignWorker(ctx, mill, miller); err != nil || !out.OK {
		t.Fatalf("assign miller: out=%+v err=%v", out, err)
	}
	env.give(t, miller, "wheat", 5)

	res, err := env.city.ProductionTick(ctx)
	if err != nil {
		t.Fatalf("tick: %v", err)
	}
	if res.Produced != 2 || res.Skipped != 0 {
		t.Fatalf("result=%+v want 2 produced", res)
	}

	// Farmer: +10 wheat, stamina 100-15.
	if q := env.quantity(t, farmer, "wheat"); q != 10 {
		t.Fatalf("farmer wheat=%v want 10", q)
	}
	// Miller: -5 wheat +3 flour.
	if q := env.quantity(t, miller, "wheat"); q != 0 {
		t.Fatalf("miller wheat=%v want 0", q)
	}
	if q := env.quantity(t, miller, "flour"); q != 3 {
		t.Fatalf("miller flour=%v want 3", q)
	}
	ag, _ := env.agents.Get(ctx, farmer)
	if ag.Stamina != 85 {
		t.Fatalf("farmer stamina=%d want 85", ag.Stamina)
	}

	logs, err := env.city.ProductionLogs(ctx, 10)
	if err != nil {
		t.Fatalf("logs: %v", err)
	}
	if len(logs) != 2 {
		t.Fatalf("logs=%d want 2", len(logs))
	}
	if got := len(env.recorder.Named("production_settled")); got != 2 {
		t.Fatalf("production_settled events=%d want 2", got)
	}
}

func TestProduction_StaminaAndInputGates(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	owner := env.newAgent(t, "ada")
	tired := env.newAgent(t, "tina")
	hungry := env.newAgent(t, "hank")
	env.give(t, owner, "wood", 25)
	env.give(t, owner, "stone", 15)

	farm := constructBuilding(t, env, owner, "farm", "")
	mill := constructBuilding(t, env, owner, "mill", "")
	activate(t, env, farm)
	activate(t, env, mill)

	if out, err := env.city.AssignWorker(ctx, farm, tired); err != nil || !out.OK {
		t.Fatalf("assign: out=%+v err=%v", out, err)
	}
	if out, err := env.city.AssignWorker(ctx, mill, hungry); err != nil || !out.OK {
		t.Fatalf("assign: out=%+v err=%v", out, err)
	}

	// Below the stamina floor: skipped, no stamina charge.
	if out, err := env.agents.SetAttributes(ctx, tired, -1, -1, 19); err != nil || !out.OK {
		t.Fatalf("set attributes: out=%+v err=%v", out, err)
	}
	// Mill worker has stamina but no wheat: skipped too.

	res, err := env.city.ProductionTick(ctx)
	if err != nil {
		t.Fatalf("tick: %v", err)
	}
	if res.Produced != 0 || res.Skipped != 2 {
		t.Fatalf("result=%+v want 2 skipped", res)
	}
	if q := env.quantity(t, tired, "wheat"); q != 0 {
		t.Fatalf("tired wheat=%v want 0", q)
	}
	ag, _ := env.agents.Get(ctx, tired)
	if ag.Stamina != 19 {
		t.Fatalf("tired stamina=%d want unchanged 19", ag.Stamina)
	}
}

func TestProduction_GovFarmNeedsNoInput(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	owner := env.newAgent(t, "ada")
	w := env.newAgent(t, "wade")
	env.give(t, owner, "wood", 20)
	env.give(t, owner, "stone", 10)

	gov := constructBuilding(t, env, owner, "gov_farm", "")
	activate(t, env, gov)
	if out, err := env.city.AssignWorker(ctx, gov, w); err != nil || !out.OK {
		t.Fatalf("assign: out=%+v err=%v", out, err)
	}

	res, err := env.city.ProductionTick(ctx)
	if err != nil {
		t.Fatalf("tick: %v", err)
	}
	if res.Produced != 1 {
		t.Fatalf("result=%+v want 1 produced", res)
	}
	if q := env.quantity(t, w, "flour"); q != 5 {
		t.Fatalf("flour=%v want 5", q)
	}
}

func TestDecay_AppliesOncePerDay(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	a := env.newAgent(t, "ada")
	if out, err := env.agents.SetAttributes(ctx, a, 50, 80, 40); err != nil || !out.OK {
		t.Fatalf("set attributes: out=%+v err=%v", out, err)
	}

	day := time.Date(2026, 3, 1, 23, 0, 0, 0, time.UTC)
	env.setClock(day)

	res, err := env.city.DailyAttributeDecay(ctx)
	if err != nil {
		t.Fatalf("decay: %v", err)
	}
	if !res.Ran || res.Touched != 1 {
		t.Fatalf("result=%+v want ran touching 1", res)
	}
	ag, _ := env.agents.Get(ctx, a)
	// satiety 50-15=35 (not low), mood unchanged, stamina 40+15=55.
	if ag.Satiety != 35 || ag.Mood != 80 || ag.Stamina != 55 {
		t.Fatalf("agent=%d/%d/%d want 35/80/55", ag.Satiety, ag.Mood, ag.Stamina)
	}

	// Same day: no-op.
	res, err = env.city.DailyAttributeDecay(ctx)
	if err != nil {
		t.Fatalf("repeat decay: %v", err)
	}
	if res.Ran {
		t.Fatalf("result=%+v want guarded no-op", res)
	}

	// Next day: satiety 35-15=20 (<30), mood -10.
	env.setClock(day.AddDate(0, 0, 1))
	if _, err := env.city.DailyAttributeDecay(ctx); err != nil {
		t.Fatalf("next-day decay: %v", err)
	}
	ag, _ = env.agents.Get(ctx, a)
	if ag.Satiety != 20 || ag.Mood != 70 {
		t.Fatalf("agent=%d/%d want 20/70", ag.Satiety, ag.Mood)
	}

	// Two days later satiety bottoms out at 0: mood -20.
	env.setClock(day.AddDate(0, 0, 2))
	if _, err := env.city.DailyAttributeDecay(ctx); err != nil {
		t.Fatalf("decay: %v", err)
	}
	env.setClock(day.AddDate(0, 0, 3))
	if _, err := env.city.DailyAttributeDecay(ctx); err != nil {
		t.Fatalf("decay: %v", err)
	}
	ag, _ = env.agents.Get(ctx, a)
	if ag.Satiety != 0 {
		t.Fatalf("satiety=%d want 0", ag.Satiety)
	}
	// Day 3: 20-15=5 (<30, mood 70-10=60); day 4: 5-15 floors at 0 (mood 60-20=40).
	if ag.Mood != 40 {
		t.Fatalf("mood=%d want 40", ag.Mood)
	}
}

func TestDecay_HumanExempt(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	if err := env.agents.EnsureHuman(ctx, "mayor"); err != nil {
		t.Fatalf("ensure human: %v", err)
	}
	env.setClock(time.Date(2026, 3, 1, 23, 0, 0, 0, time.UTC))

	res, err := env.city.DailyAttributeDecay(ctx)
	if err != nil {
		t.Fatalf("decay: %v", err)
	}
	if res.Touched != 0 {
		t.Fatalf("touched=%d want 0", res.Touched)
	}
	human, _ := env.agents.Get(ctx, HumanID)
	if human.Satiety != 100 {
		t.Fatalf("human satiety=%d want untouched 100", human.Satiety)
	}
}
