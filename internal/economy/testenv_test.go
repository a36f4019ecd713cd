package economy

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/halcyon-sim/agora/internal/catalog"
	"github.com/halcyon-sim/agora/internal/events"
	"github.com/halcyon-sim/agora/internal/store"
)

// testEnv wires every economy service over one temp database.
type testEnv struct {
	store      *store.Store
	recorder   *events.Recorder
	agents     *Agents
	ledger     *Ledger
	market     *Market
	worksite   *WorkSite
	storefront *Storefront
	city       *City
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "agora.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	bus := events.NewBus()
	recorder := events.NewRecorder(0)
	bus.Attach(recorder)

	ledger := NewLedger(st, bus)
	env := &testEnv{
		store:      st,
		recorder:   recorder,
		agents:     NewAgents(st, bus),
		ledger:     ledger,
		market:     NewMarket(st, bus),
		worksite:   NewWorkSite(st, bus),
		storefront: NewStorefront(st, bus),
		city:       NewCity("testville", st, bus, ledger, catalog.Default()),
	}
	if err := env.city.Seed(context.Background()); err != nil {
		t.Fatalf("seed: %v", err)
	}
	return env
}

func (e *testEnv) newAgent(t *testing.T, name string) int64 {
	t.Helper()
	id, err := e.agents.Create(context.Background(), name, "")
	if err != nil {
		t.Fatalf("create agent %s: %v", name, err)
	}
	return id
}

func (e *testEnv) give(t *testing.T, agentID int64, resourceType string, amount float64) {
	t.Helper()
	if out, err := e.ledger.Credit(context.Background(), agentID, resourceType, amount); err != nil || !out.OK {
		t.Fatalf("credit %s: out=%+v err=%v", resourceType, out, err)
	}
}

func (e *testEnv) quantity(t *testing.T, agentID int64, resourceType string) float64 {
	t.Helper()
	q, err := e.ledger.Quantity(context.Background(), agentID, resourceType)
	if err != nil {
		t.Fatalf("quantity %s: %v", resourceType, err)
	}
	return q
}

func (e *testEnv) entry(t *testing.T, agentID int64, resourceType string) ResourceEntry {
	t.Helper()
	entry, err := e.ledger.GetOrCreate(context.Background(), agentID, resourceType)
	if err != nil {
		t.Fatalf("entry %s: %v", resourceType, err)
	}
	return entry
}

// setClock pins the worksite and city clocks to a fixed time.
func (e *testEnv) setClock(at time.Time) {
	e.worksite.now = func() time.Time { return at }
	e.city.now = func() time.Time { return at }
}
