package economy

import (
	"context"
	"sync"
	"testing"
	"time"
)

func constructBuilding(t *testing.T, env *testEnv, builder int64, buildingType, name string) int64 {
	t.Helper()
	res, err := env.city.Construct(context.Background(), builder, buildingType, name)
	if err != nil || !res.OK {
		t.Fatalf("construct %s: out=%+v err=%v", buildingType, res.Outcome, err)
	}
	return res.BuildingID
}

// activate flips a constructing building straight to active by
// back-dating its start and running the completion pass.
func activate(t *testing.T, env *testEnv, buildingID int64) {
	t.Helper()
	ctx := context.Background()
	started := time.Now().UTC().AddDate(0, 0, -30).Format(time.RFC3339)
	_, err := env.store.DB().ExecContext(ctx,
		"UPDATE buildings SET construction_started_at = ? WHERE id = ?", started, buildingID)
	if err != nil {
		t.Fatalf("backdate building: %v", err)
	}
	if _, err := env.city.CheckConstructionProgress(ctx); err != nil {
		t.Fatalf("construction progress: %v", err)
	}
	detail, err := env.city.BuildingDetail(ctx, buildingID)
	if err != nil || detail == nil {
		t.Fatalf("building detail: %v", err)
	}
	if detail.Status != BuildingActive {
		t.Fatalf("status=%s want active", detail.Status)
	}
}

func TestCity_ConstructDebitsCosts(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	a := env.newAgent(t, "ada")
	env.give(t, a, "wood", 20)
	env.give(t, a, "stone", 10)

	id := constructBuilding(t, env, a, "farm", "north farm")

	// Farm costs 10 wood + 5 stone.
	if q := env.quantity(t, a, "wood"); q != 10 {
		t.Fatalf("wood=%v want 10", q)
	}
	if q := env.quantity(t, a, "stone"); q != 5 {
		t.Fatalf("stone=%v want 5", q)
	}

	detail, err := env.city.BuildingDetail(ctx, id)
	if err != nil || detail == nil {
		t.Fatalf("detail: %v", err)
	}
	if detail.Status != BuildingConstructing || detail.ConstructionDays != 3 {
		t.Fatalf("building=%+v want constructing for 3 days", detail.Building)
	}
	if got := len(env.recorder.Named("building_construction_started")); got != 1 {
		t.Fatalf("events=%d want 1", got)
	}
}

func TestCity_ConstructShortfallRollsBack(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	a := env.newAgent(t, "ada")
	env.give(t, a, "wood", 20)
	// No stone at all: the wood debit must roll back too.

	res, err := env.city.Construct(ctx, a, "farm", "")
	if err != nil {
		t.Fatalf("construct err: %v", err)
	}
	if res.OK || res.Reason != ReasonInsufficientResource {
		t.Fatalf("out=%+v want insufficient_resource", res.Outcome)
	}
	if q := env.quantity(t, a, "wood"); q != 20 {
		t.Fatalf("wood=%v want 20 untouched", q)
	}
	buildings, _ := env.city.Buildings(ctx)
	if len(buildings) != 0 {
		t.Fatalf("buildings=%d want 0", len(buildings))
	}
}

func TestCity_ConstructUnknownType(t *testing.T) {
	env := newTestEnv(t)
	a := env.newAgent(t, "ada")

	res, err := env.city.Construct(context.Background(), a, "casino", "")
	if err != nil {
		t.Fatalf("construct err: %v", err)
	}
	if res.OK || res.Reason != ReasonUnknownBuildingType {
		t.Fatalf("out=%+v want unknown_building_type", res.Outcome)
	}
}

func TestCity_AssignRequiresActive(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	a := env.newAgent(t, "ada")
	w := env.newAgent(t, "wade")
	env.give(t, a, "wood", 10)
	env.give(t, a, "stone", 5)

	id := constructBuilding(t, env, a, "farm", "")

	out, err := env.city.AssignWorker(ctx, id, w)
	if err != nil {
		t.Fatalf("assign err: %v", err)
	}
	if out.OK || out.Reason != ReasonBuildingNotActive {
		t.Fatalf("out=%+v want building_not_active", out)
	}

	activate(t, env, id)
	if out, err := env.city.AssignWorker(ctx, id, w); err != nil || !out.OK {
		t.Fatalf("assign after activation: out=%+v err=%v", out, err)
	}
}

func TestCity_OneBuildingPerAgent(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	a := env.newAgent(t, "ada")
	w := env.newAgent(t, "wade")
	env.give(t, a, "wood", 30)
	env.give(t, a, "stone", 15)

	farm := constructBuilding(t, env, a, "farm", "")
	mill := constructBuilding(t, env, a, "mill", "")
	activate(t, env, farm)
	activate(t, env, mill)

	if out, err := env.city.AssignWorker(ctx, farm, w); err != nil || !out.OK {
		t.Fatalf("assign: out=%+v err=%v", out, err)
	}
	out, err := env.city.AssignWorker(ctx, mill, w)
	if err != nil {
		t.Fatalf("second assign err: %v", err)
	}
	if out.OK || out.Reason != ReasonAlreadyAssigned {
		t.Fatalf("out=%+v want already_assigned", out)
	}

	// After removal the agent can move.
	if out, err := env.city.RemoveWorker(ctx, farm, w); err != nil || !out.OK {
		t.Fatalf("remove: out=%+v err=%v", out, err)
	}
	if out, err := env.city.AssignWorker(ctx, mill, w); err != nil || !out.OK {
		t.Fatalf("reassign: out=%+v err=%v", out, err)
	}
}

// N+2 agents race for a building with N slots: exactly N succeed.
func TestCity_CapacityUnderConcurrency(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	a := env.newAgent(t, "ada")
	env.give(t, a, "wood", 15)
	env.give(t, a, "stone", 10)

	mill := constructBuilding(t, env, a, "mill", "") // max 2 workers
	activate(t, env, mill)

	workers := make([]int64, 4)
	for i := range workers {
		workers[i] = env.newAgent(t, "worker")
	}

	var wg sync.WaitGroup
	outcomes := make([]Outcome, len(workers))
	for i, w := range workers {
		wg.Add(1)
		go func(i int, w int64) {
			defer wg.Done()
			out, err := env.city.AssignWorker(ctx, mill, w)
			if err != nil {
				t.Errorf("assign %d: %v", i, err)
				return
			}
			outcomes[i] = out
		}(i, w)
	}
	wg.Wait()

	succeeded := 0
	for _, out := range outcomes {
		if out.OK {
			succeeded++
		}
	}
	if succeeded != 2 {
		t.Fatalf("succeeded=%d want 2", succeeded)
	}
	detail, _ := env.city.BuildingDetail(ctx, mill)
	if len(detail.Workers) != 2 {
		t.Fatalf("roster=%d want 2", len(detail.Workers))
	}
}

func TestCity_RemoveWorkerNotAssigned(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	a := env.newAgent(t, "ada")
	env.give(t, a, "wood", 10)
	env.give(t, a, "stone", 5)
	farm := constructBuilding(t, env, a, "farm", "")
	activate(t, env, farm)

	out, err := env.city.RemoveWorker(ctx, farm, a)
	if err != nil {
		t.Fatalf("remove err: %v", err)
	}
	if out.OK || out.Reason != ReasonWorkerNotAssigned {
		t.Fatalf("out=%+v want worker_not_assigned", out)
	}
}

func TestCity_EatFood(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	a := env.newAgent(t, "ada")
	env.give(t, a, "flour", 2)

	if out, err := env.agents.SetAttributes(ctx, a, 40, 50, 60); err != nil || !out.OK {
		t.Fatalf("set attributes: out=%+v err=%v", out, err)
	}

	res, err := env.city.EatFood(ctx, a)
	if err != nil || !res.OK {
		t.Fatalf("eat: out=%+v err=%v", res.Outcome, err)
	}
	if res.Satiety != 70 || res.Mood != 60 || res.Stamina != 80 {
		t.Fatalf("after=%+v want 70/60/80", res)
	}
	if q := env.quantity(t, a, "flour"); q != 1 {
		t.Fatalf("flour=%v want 1", q)
	}

	// Caps at 100.
	res, err = env.city.EatFood(ctx, a)
	if err != nil || !res.OK {
		t.Fatalf("second eat: out=%+v err=%v", res.Outcome, err)
	}
	if res.Satiety != 100 || res.Stamina != 100 {
		t.Fatalf("after=%+v want capped at 100", res)
	}

	// No flour left.
	res, err = env.city.EatFood(ctx, a)
	if err != nil {
		t.Fatalf("third eat err: %v", err)
	}
	if res.OK || res.Reason != ReasonInsufficientResource {
		t.Fatalf("out=%+v want insufficient_resource", res.Outcome)
	}
}
