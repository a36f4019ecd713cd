package economy

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/halcyon-sim/agora/internal/events"
	"github.com/halcyon-sim/agora/internal/store"
)

// Agents manages inhabitant lifecycle and the status state machine.
type Agents struct {
	store *store.Store
	bus   events.Sink
}

// NewAgents creates the agent service.
func NewAgents(st *store.Store, bus events.Sink) *Agents {
	return &Agents{store: st, bus: bus}
}

// EnsureHuman seeds the reserved human row (id 0) if it is missing.
func (a *Agents) EnsureHuman(ctx context.Context, name string) error {
	return a.store.WithTx(ctx, func(tx *sqlx.Tx) error {
		_, err := tx.Exec(
			"INSERT OR IGNORE INTO agents (id, name, persona, status) VALUES (?, ?, '', 'idle')",
			HumanID, name)
		return err
	})
}

// Create adds a bot agent and returns its id.
func (a *Agents) Create(ctx context.Context, name, persona string) (int64, error) {
	var id int64
	err := a.store.WithTx(ctx, func(tx *sqlx.Tx) error {
		res, err := tx.Exec(
			"INSERT INTO agents (name, persona, status) VALUES (?, ?, 'idle')",
			name, persona)
		if err != nil {
			return err
		}
		id, err = res.LastInsertId()
		return err
	})
	return id, err
}

// Delete removes an agent. The human participant is immutable.
func (a *Agents) Delete(ctx context.Context, id int64) (Outcome, error) {
	if id == HumanID {
		return Fail(ReasonNotOwner), nil
	}
	err := a.store.WithTx(ctx, func(tx *sqlx.Tx) error {
		ag, err := agentByID(tx, id)
		if err != nil {
			return err
		}
		if ag == nil {
			return failTx(ReasonAgentNotFound)
		}
		for _, q := range []string{
			"DELETE FROM building_workers WHERE agent_id = ?",
			"DELETE FROM resources WHERE agent_id = ?",
			"DELETE FROM agent_items WHERE agent_id = ?",
			"DELETE FROM agents WHERE id = ?",
		} {
			if _, err := tx.Exec(q, id); err != nil {
				return err
			}
		}
		return nil
	})
	out, err, _ := asOutcome(err)
	return out, err
}

// Get returns an agent, or nil when it does not exist.
func (a *Agents) Get(ctx context.Context, id int64) (*Agent, error) {
	var ag *Agent
	err := a.store.WithTx(ctx, func(tx *sqlx.Tx) error {
		var err error
		ag, err = agentByID(tx, id)
		return err
	})
	return ag, err
}

// List returns all agents ordered by id.
func (a *Agents) List(ctx context.Context) ([]Agent, error) {
	var out []Agent
	err := a.store.DB().SelectContext(ctx, &out, "SELECT * FROM agents ORDER BY id")
	return out, err
}

// SetStatus moves an agent through the status machine, rejecting
// transitions the machine does not allow. Orchestration code must
// call back with StatusIdle on every exit path, success or failure.
func (a *Agents) SetStatus(ctx context.Context, id int64, next AgentStatus) error {
	return a.store.WithTx(ctx, func(tx *sqlx.Tx) error {
		ag, err := agentByID(tx, id)
		if err != nil {
			return err
		}
		if ag == nil {
			return failTx(ReasonAgentNotFound)
		}
		if !ag.Status.CanTransition(next) {
			return fmt.Errorf("invalid status transition %s -> %s for agent %d", ag.Status, next, id)
		}
		_, err = tx.Exec("UPDATE agents SET status = ? WHERE id = ?", string(next), id)
		return err
	})
}

// SetAttributes force-sets bounded attributes (dev/admin API).
// Negative values leave the attribute unchanged.
func (a *Agents) SetAttributes(ctx context.Context, id int64, satiety, mood, stamina int) (Outcome, error) {
	err := a.store.WithTx(ctx, func(tx *sqlx.Tx) error {
		ag, err := agentByID(tx, id)
		if err != nil {
			return err
		}
		if ag == nil {
			return failTx(ReasonAgentNotFound)
		}
		if satiety >= 0 {
			ag.Satiety = clampAttr(satiety)
		}
		if mood >= 0 {
			ag.Mood = clampAttr(mood)
		}
		if stamina >= 0 {
			ag.Stamina = clampAttr(stamina)
		}
		_, err = tx.Exec(
			"UPDATE agents SET satiety = ?, mood = ?, stamina = ? WHERE id = ?",
			ag.Satiety, ag.Mood, ag.Stamina, id)
		return err
	})
	out, err, _ := asOutcome(err)
	return out, err
}
