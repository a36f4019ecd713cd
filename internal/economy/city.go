package economy

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/halcyon-sim/agora/internal/catalog"
	"github.com/halcyon-sim/agora/internal/events"
	"github.com/halcyon-sim/agora/internal/store"
)

// City runs the building economy: construction, worker assignment,
// the production/decay ticks and eating.
type City struct {
	Name string

	store   *store.Store
	bus     events.Sink
	ledger  *Ledger
	catalog *catalog.Catalog
	now     func() time.Time
}

// NewCity creates the city service.
func NewCity(name string, st *store.Store, bus events.Sink, ledger *Ledger, cat *catalog.Catalog) *City {
	return &City{
		Name:    name,
		store:   st,
		bus:     bus,
		ledger:  ledger,
		catalog: cat,
		now:     time.Now,
	}
}

// Seed inserts the catalog's jobs and shop items when their tables
// are empty. Idempotent across restarts.
func (c *City) Seed(ctx context.Context) error {
	return c.store.WithTx(ctx, func(tx *sqlx.Tx) error {
		var jobs int
		if err := tx.Get(&jobs, "SELECT COUNT(*) FROM jobs"); err != nil {
			return err
		}
		if jobs == 0 {
			for _, j := range c.catalog.Jobs {
				if _, err := tx.Exec(
					"INSERT INTO jobs (title, description, daily_reward, max_workers) VALUES (?, ?, ?, ?)",
					j.Title, j.Description, j.DailyReward, j.MaxWorkers); err != nil {
					return err
				}
			}
		}
		var items int
		if err := tx.Get(&items, "SELECT COUNT(*) FROM shop_items"); err != nil {
			return err
		}
		if items == 0 {
			for _, it := range c.catalog.Items {
				if _, err := tx.Exec(
					"INSERT INTO shop_items (name, description, item_type, price) VALUES (?, ?, ?, ?)",
					it.Name, it.Description, it.ItemType, it.Price); err != nil {
					return err
				}
			}
		}
		return nil
	})
}

func buildingByID(tx *sqlx.Tx, id int64) (*Building, error) {
	var b Building
	err := tx.Get(&b, "SELECT * FROM buildings WHERE id = ?", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load building %d: %w", id, err)
	}
	return &b, nil
}

// ConstructResult is the outcome of Construct.
type ConstructResult struct {
	Outcome
	BuildingID       int64 `json:"building_id,omitempty"`
	ConstructionDays int   `json:"construction_days,omitempty"`
}

// Construct debits the recipe costs from the builder's available
// balances atomically and creates the building in constructing
// status. Publishes building_construction_started.
func (c *City) Construct(ctx context.Context, builderID int64, buildingType, name string) (ConstructResult, error) {
	recipe := c.catalog.Recipe(buildingType)
	if recipe == nil {
		return ConstructResult{Outcome: Fail(ReasonUnknownBuildingType)}, nil
	}
	if name == "" {
		name = buildingType
	}
	var buildingID int64
	startedAt := c.now().UTC().Format(time.RFC3339)
	err := c.store.WithTx(ctx, func(tx *sqlx.Tx) error {
		builder, err := agentByID(tx, builderID)
		if err != nil {
			return err
		}
		if builder == nil {
			return failTx(ReasonAgentNotFound)
		}

		// Deterministic debit order; any shortfall rolls back all of it.
		types := make([]string, 0, len(recipe.Costs))
		for t := range recipe.Costs {
			types = append(types, t)
		}
		sort.Strings(types)
		for _, t := range types {
			if err := debitEntry(tx, builderID, t, recipe.Costs[t]); err != nil {
				return err
			}
		}

		res, err := tx.Exec(`INSERT INTO buildings
			(name, building_type, city, owner_id, builder_id, max_workers, status, construction_started_at, construction_days)
			VALUES (?, ?, ?, ?, ?, ?, 'constructing', ?, ?)`,
			name, buildingType, c.Name, builderID, builderID,
			recipe.MaxWorkers, startedAt, recipe.ConstructionDays)
		if err != nil {
			return fmt.Errorf("insert building: %w", err)
		}
		buildingID, err = res.LastInsertId()
		return err
	})
	out, err, done := asOutcome(err)
	if !done || !out.OK {
		return ConstructResult{Outcome: out}, err
	}
	c.bus.Publish(events.New("building_construction_started", map[string]any{
		"building_id":       buildingID,
		"building_type":     buildingType,
		"name":              name,
		"city":              c.Name,
		"builder_id":        builderID,
		"construction_days": recipe.ConstructionDays,
	}))
	return ConstructResult{Outcome: Ok(), BuildingID: buildingID, ConstructionDays: recipe.ConstructionDays}, nil
}

// AssignWorker puts an agent on a building's roster. The building
// must be active, below capacity, and the agent must not hold any
// other assignment city-wide; the UNIQUE(agent_id) index backs the
// last invariant under concurrency.
func (c *City) AssignWorker(ctx context.Context, buildingID, agentID int64) (Outcome, error) {
	err := c.store.WithTx(ctx, func(tx *sqlx.Tx) error {
		agent, err := agentByID(tx, agentID)
		if err != nil {
			return err
		}
		if agent == nil {
			return failTx(ReasonAgentNotFound)
		}
		b, err := buildingByID(tx, buildingID)
		if err != nil {
			return err
		}
		if b == nil || b.City != c.Name {
			return failTx(ReasonBuildingNotFound)
		}
		if b.Status != BuildingActive {
			return failTx(ReasonBuildingNotActive)
		}

		var assigned int
		if err := tx.Get(&assigned,
			"SELECT COUNT(*) FROM building_workers WHERE agent_id = ?", agentID); err != nil {
			return err
		}
		if assigned > 0 {
			return failTx(ReasonAlreadyAssigned)
		}

		var count int
		if err := tx.Get(&count,
			"SELECT COUNT(*) FROM building_workers WHERE building_id = ?", buildingID); err != nil {
			return err
		}
		if count >= b.MaxWorkers {
			return failTx(ReasonBuildingFull)
		}

		_, err = tx.Exec(
			"INSERT INTO building_workers (building_id, agent_id) VALUES (?, ?)",
			buildingID, agentID)
		if store.IsUniqueViolation(err) {
			return failTx(ReasonAlreadyAssigned)
		}
		return err
	})
	out, err, done := asOutcome(err)
	if !done || !out.OK {
		return out, err
	}
	c.bus.Publish(events.New("worker_assigned", map[string]any{
		"building_id": buildingID,
		"agent_id":    agentID,
		"city":        c.Name,
	}))
	return out, nil
}

// RemoveWorker takes an agent off a building's roster.
func (c *City) RemoveWorker(ctx context.Context, buildingID, agentID int64) (Outcome, error) {
	err := c.store.WithTx(ctx, func(tx *sqlx.Tx) error {
		res, err := tx.Exec(
			"DELETE FROM building_workers WHERE building_id = ? AND agent_id = ?",
			buildingID, agentID)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return failTx(ReasonWorkerNotAssigned)
		}
		return nil
	})
	out, err, done := asOutcome(err)
	if !done || !out.OK {
		return out, err
	}
	c.bus.Publish(events.New("worker_unassigned", map[string]any{
		"building_id": buildingID,
		"agent_id":    agentID,
		"city":        c.Name,
	}))
	return out, nil
}

// IsAssigned reports whether the agent is on the building's roster.
func (c *City) IsAssigned(ctx context.Context, buildingID, agentID int64) (bool, error) {
	var n int
	err := c.store.DB().GetContext(ctx, &n,
		"SELECT COUNT(*) FROM building_workers WHERE building_id = ? AND agent_id = ?",
		buildingID, agentID)
	return n > 0, err
}

// EatResult is the outcome of EatFood.
type EatResult struct {
	Outcome
	Satiety int `json:"satiety"`
	Mood    int `json:"mood"`
	Stamina int `json:"stamina"`
}

// EatFood consumes one flour from the agent's own ledger:
// satiety +30, mood +10, stamina +20, all capped at 100.
func (c *City) EatFood(ctx context.Context, agentID int64) (EatResult, error) {
	var after Agent
	err := c.store.WithTx(ctx, func(tx *sqlx.Tx) error {
		agent, err := agentByID(tx, agentID)
		if err != nil {
			return err
		}
		if agent == nil {
			return failTx(ReasonAgentNotFound)
		}
		if err := debitEntry(tx, agentID, "flour", 1); err != nil {
			return err
		}
		after = *agent
		after.Satiety = clampAttr(agent.Satiety + 30)
		after.Mood = clampAttr(agent.Mood + 10)
		after.Stamina = clampAttr(agent.Stamina + 20)
		_, err = tx.Exec(
			"UPDATE agents SET satiety = ?, mood = ?, stamina = ? WHERE id = ?",
			after.Satiety, after.Mood, after.Stamina, agentID)
		return err
	})
	out, err, done := asOutcome(err)
	if !done || !out.OK {
		return EatResult{Outcome: out}, err
	}
	c.bus.Publish(events.New("agent_ate", map[string]any{
		"agent_id": agentID,
		"satiety":  after.Satiety,
		"mood":     after.Mood,
		"stamina":  after.Stamina,
	}))
	return EatResult{Outcome: Ok(), Satiety: after.Satiety, Mood: after.Mood, Stamina: after.Stamina}, nil
}

// TransferResource is the ledger transfer, exposed here for city-level
// callers; the resource_transferred event is published by the ledger.
func (c *City) TransferResource(ctx context.Context, from, to int64, resourceType string, amount float64) (Outcome, error) {
	return c.ledger.Transfer(ctx, from, to, resourceType, amount)
}

// ── read models ────────────────────────────────────────────────────

// WorkerView is a roster entry with the agent's name.
type WorkerView struct {
	AgentID    int64  `db:"agent_id" json:"agent_id"`
	AgentName  string `db:"agent_name" json:"agent_name"`
	AssignedAt string `db:"assigned_at" json:"assigned_at"`
}

// BuildingView is a building plus its roster.
type BuildingView struct {
	Building
	Workers []WorkerView `json:"workers"`
}

// Buildings lists all buildings in the city with their workers.
func (c *City) Buildings(ctx context.Context) ([]BuildingView, error) {
	var buildings []Building
	err := c.store.DB().SelectContext(ctx, &buildings,
		"SELECT * FROM buildings WHERE city = ? ORDER BY id", c.Name)
	if err != nil {
		return nil, err
	}
	out := make([]BuildingView, 0, len(buildings))
	for _, b := range buildings {
		workers, err := c.workers(ctx, b.ID)
		if err != nil {
			return nil, err
		}
		out = append(out, BuildingView{Building: b, Workers: workers})
	}
	return out, nil
}

// BuildingDetail returns one building with its roster, or nil.
func (c *City) BuildingDetail(ctx context.Context, buildingID int64) (*BuildingView, error) {
	var b Building
	err := c.store.DB().GetContext(ctx, &b,
		"SELECT * FROM buildings WHERE id = ? AND city = ?", buildingID, c.Name)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	workers, err := c.workers(ctx, b.ID)
	if err != nil {
		return nil, err
	}
	return &BuildingView{Building: b, Workers: workers}, nil
}

func (c *City) workers(ctx context.Context, buildingID int64) ([]WorkerView, error) {
	var out []WorkerView
	err := c.store.DB().SelectContext(ctx, &out, `
		SELECT bw.agent_id, a.name AS agent_name, bw.assigned_at
		FROM building_workers bw JOIN agents a ON a.id = bw.agent_id
		WHERE bw.building_id = ?
		ORDER BY bw.assigned_at`, buildingID)
	return out, err
}

// AgentResourceView is a compact balance line for the overview.
type AgentResourceView struct {
	ID        int64           `json:"id"`
	Name      string          `json:"name"`
	Satiety   int             `json:"satiety"`
	Mood      int             `json:"mood"`
	Stamina   int             `json:"stamina"`
	Resources []ResourceEntry `json:"resources"`
}

// Overview returns the whole city: buildings with rosters plus every
// bot agent with its balances.
func (c *City) Overview(ctx context.Context) (map[string]any, error) {
	buildings, err := c.Buildings(ctx)
	if err != nil {
		return nil, err
	}
	var agents []Agent
	if err := c.store.DB().SelectContext(ctx, &agents,
		"SELECT * FROM agents WHERE id != ? ORDER BY id", HumanID); err != nil {
		return nil, err
	}
	views := make([]AgentResourceView, 0, len(agents))
	for _, a := range agents {
		res, err := c.ledger.AgentResources(ctx, a.ID)
		if err != nil {
			return nil, err
		}
		views = append(views, AgentResourceView{
			ID: a.ID, Name: a.Name,
			Satiety: a.Satiety, Mood: a.Mood, Stamina: a.Stamina,
			Resources: res,
		})
	}
	return map[string]any{
		"city":      c.Name,
		"buildings": buildings,
		"agents":    views,
	}, nil
}

// ProductionLogs returns the most recent conversion records.
func (c *City) ProductionLogs(ctx context.Context, limit int) ([]ProductionLog, error) {
	if limit <= 0 {
		limit = 50
	}
	var out []ProductionLog
	err := c.store.DB().SelectContext(ctx, &out, `
		SELECT pl.* FROM production_logs pl
		JOIN buildings b ON b.id = pl.building_id
		WHERE b.city = ?
		ORDER BY pl.id DESC LIMIT ?`, c.Name, limit)
	return out, err
}
