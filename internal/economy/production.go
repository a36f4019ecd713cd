package economy

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/halcyon-sim/agora/internal/events"
	"github.com/halcyon-sim/agora/internal/store"
)

// Production tuning. Worker stamina gates every conversion; eating
// flour is how agents recover beyond the nightly rest.
const (
	staminaFloor    = 20
	staminaWorkCost = 15

	farmWheatYield = 10.0
	millWheatCost  = 5.0
	millFlourYield = 3.0
	govFlourYield  = 5.0

	decayMetaKey = "last_decay_day"
)

// conversion describes what one worker does in one production tick.
type conversion struct {
	inputType  string
	inputQty   float64
	outputType string
	outputQty  float64
}

// conversions maps building types to their per-worker recipe. Order of
// execution across types is fixed by tickOrder so pass output is
// deterministic; workers consume from their own ledgers and hold at
// most one post, so a mill grinds wheat earned on earlier ticks.
var conversions = map[string]conversion{
	"farm":     {outputType: "wheat", outputQty: farmWheatYield},
	"mill":     {inputType: "wheat", inputQty: millWheatCost, outputType: "flour", outputQty: millFlourYield},
	"gov_farm": {outputType: "flour", outputQty: govFlourYield},
}

var tickOrder = []string{"farm", "mill", "gov_farm"}

// CompletedBuilding records one constructing→active flip.
type CompletedBuilding struct {
	BuildingID   int64  `json:"building_id"`
	BuildingType string `json:"building_type"`
	Name         string `json:"name"`
}

// CheckConstructionProgress flips buildings whose construction time
// has elapsed to active. Runs before ProductionTick in the scheduler;
// a building completed this tick still cannot produce, because workers
// can only be assigned once it is active. Idempotent.
func (c *City) CheckConstructionProgress(ctx context.Context) ([]CompletedBuilding, error) {
	now := c.now().UTC()
	var completed []CompletedBuilding
	err := c.store.WithTx(ctx, func(tx *sqlx.Tx) error {
		completed = completed[:0]
		var constructing []Building
		if err := tx.Select(&constructing,
			"SELECT * FROM buildings WHERE city = ? AND status = 'constructing' ORDER BY id",
			c.Name); err != nil {
			return err
		}
		for _, b := range constructing {
			started, err := time.Parse(time.RFC3339, b.ConstructionStartedAt)
			if err != nil {
				// Unparseable timestamp: skip rather than wedge the tick.
				continue
			}
			if now.Sub(started) < time.Duration(b.ConstructionDays)*24*time.Hour {
				continue
			}
			if _, err := tx.Exec(
				"UPDATE buildings SET status = 'active' WHERE id = ? AND status = 'constructing'",
				b.ID); err != nil {
				return err
			}
			completed = append(completed, CompletedBuilding{
				BuildingID: b.ID, BuildingType: b.BuildingType, Name: b.Name,
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	for _, done := range completed {
		c.bus.Publish(events.New("building_completed", map[string]any{
			"building_id":   done.BuildingID,
			"building_type": done.BuildingType,
			"name":          done.Name,
			"city":          c.Name,
		}))
	}
	return completed, nil
}

// TickResult summarizes one production tick.
type TickResult struct {
	Produced int `json:"produced"` // conversions settled
	Skipped  int `json:"skipped"`  // workers gated by stamina or inputs
}

// ProductionTick runs every active building's workers once, in fixed
// building-type order (farms, then mills, then government farms).
// Each worker either settles one conversion or is skipped; a skipped
// worker costs no stamina. Not day-guarded: one call is one tick.
func (c *City) ProductionTick(ctx context.Context) (TickResult, error) {
	now := c.now().UTC().Format(time.RFC3339)
	var (
		result    TickResult
		published []events.Event
	)
	err := c.store.WithTx(ctx, func(tx *sqlx.Tx) error {
		result = TickResult{}
		published = published[:0]
		for _, btype := range tickOrder {
			conv := conversions[btype]
			var rows []struct {
				BuildingID int64 `db:"building_id"`
				AgentID    int64 `db:"agent_id"`
				Stamina    int   `db:"stamina"`
			}
			if err := tx.Select(&rows, `
				SELECT bw.building_id, bw.agent_id, a.stamina
				FROM building_workers bw
				JOIN buildings b ON b.id = bw.building_id
				JOIN agents a ON a.id = bw.agent_id
				WHERE b.city = ? AND b.status = 'active' AND b.building_type = ?
				ORDER BY bw.building_id, bw.agent_id`, c.Name, btype); err != nil {
				return err
			}
			for _, w := range rows {
				if w.Stamina < staminaFloor {
					result.Skipped++
					continue
				}
				if conv.inputQty > 0 {
					var have float64
					if err := tx.Get(&have, `
						SELECT COALESCE(quantity - frozen, 0) FROM resources
						WHERE agent_id = ? AND resource_type = ?`,
						w.AgentID, conv.inputType); err != nil {
						if !store.IsNoRows(err) {
							return err
						}
						have = 0
					}
					if have < conv.inputQty {
						result.Skipped++
						continue
					}
					if err := debitEntry(tx, w.AgentID, conv.inputType, conv.inputQty); err != nil {
						return err
					}
				}
				if err := creditEntry(tx, w.AgentID, conv.outputType, conv.outputQty); err != nil {
					return err
				}
				if _, err := tx.Exec(
					"UPDATE agents SET stamina = MAX(0, stamina - ?) WHERE id = ?",
					staminaWorkCost, w.AgentID); err != nil {
					return err
				}
				if _, err := tx.Exec(`INSERT INTO production_logs
					(building_id, agent_id, input_type, input_qty, output_type, output_qty, tick_time)
					VALUES (?, ?, ?, ?, ?, ?, ?)`,
					w.BuildingID, w.AgentID, conv.inputType, conv.inputQty,
					conv.outputType, conv.outputQty, now); err != nil {
					return err
				}
				result.Produced++
				published = append(published, events.New("production_settled", map[string]any{
					"building_id": w.BuildingID,
					"agent_id":    w.AgentID,
					"input_type":  conv.inputType,
					"input_qty":   conv.inputQty,
					"output_type": conv.outputType,
					"output_qty":  conv.outputQty,
				}))
			}
		}
		return nil
	})
	if err != nil {
		return TickResult{}, err
	}
	for _, ev := range published {
		c.bus.Publish(ev)
	}
	return result, nil
}

// DecayResult summarizes one daily decay run.
type DecayResult struct {
	Ran     bool `json:"ran"`
	Touched int  `json:"touched"`
}

// DailyAttributeDecay applies the nightly attribute drift to every bot
// agent: satiety -15 (floor 0), stamina +15 from rest (cap 100), and a
// mood penalty of 20 when satiety bottoms out or 10 when it is merely
// low. Guarded by a city_meta day marker so repeated calls within one
// UTC day are no-ops. The human participant is exempt.
func (c *City) DailyAttributeDecay(ctx context.Context) (DecayResult, error) {
	day := utcDay(c.now())
	var (
		result  DecayResult
		changed []Agent
	)
	err := c.store.WithTx(ctx, func(tx *sqlx.Tx) error {
		result = DecayResult{}
		changed = changed[:0]

		var last string
		err := tx.Get(&last, "SELECT value FROM city_meta WHERE key = ?", decayMetaKey)
		if err != nil && !store.IsNoRows(err) {
			return err
		}
		if last == day {
			return nil
		}

		var agents []Agent
		if err := tx.Select(&agents,
			"SELECT * FROM agents WHERE id != ? ORDER BY id", HumanID); err != nil {
			return err
		}
		for _, a := range agents {
			satiety := clampAttr(a.Satiety - 15)
			mood := a.Mood
			switch {
			case satiety == 0:
				mood = clampAttr(mood - 20)
			case satiety < 30:
				mood = clampAttr(mood - 10)
			}
			stamina := clampAttr(a.Stamina + 15)
			if _, err := tx.Exec(
				"UPDATE agents SET satiety = ?, mood = ?, stamina = ? WHERE id = ?",
				satiety, mood, stamina, a.ID); err != nil {
				return err
			}
			a.Satiety, a.Mood, a.Stamina = satiety, mood, stamina
			changed = append(changed, a)
		}
		result = DecayResult{Ran: true, Touched: len(changed)}
		return store.SetMeta(tx, decayMetaKey, day)
	})
	if err != nil {
		return DecayResult{}, err
	}
	for _, a := range changed {
		c.bus.Publish(events.New("attribute_changed", map[string]any{
			"agent_id": a.ID,
			"satiety":  a.Satiety,
			"mood":     a.Mood,
			"stamina":  a.Stamina,
			"cause":    "daily_decay",
		}))
	}
	return result, nil
}
