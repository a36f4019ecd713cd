package strategy

import (
	"context"
	"log/slog"

	"github.com/halcyon-sim/agora/internal/economy"
	"github.com/halcyon-sim/agora/internal/events"
)

// Automaton executes stored strategies against the economy between
// planning passes. It is the fast, deterministic layer: no model call
// ever happens here.
type Automaton struct {
	store  *Store
	ledger *economy.Ledger
	market *economy.Market
	city   *economy.City
	bus    events.Sink
	log    *slog.Logger
}

// NewAutomaton creates the execution layer over the economy services.
func NewAutomaton(store *Store, ledger *economy.Ledger, market *economy.Market, city *economy.City, bus events.Sink, log *slog.Logger) *Automaton {
	if log == nil {
		log = slog.Default()
	}
	return &Automaton{store: store, ledger: ledger, market: market, city: city, bus: bus, log: log}
}

// PassStats counts what one ExecutePass did. Executed counts orders
// filled by opportunistic buys; keep_working holds its post without
// moving either counter.
type PassStats struct {
	Executed  int `json:"executed"`
	Skipped   int `json:"skipped"`
	Completed int `json:"completed"`
}

// ExecutePass runs every agent's active strategies once. Each strategy
// performs at most one economic action per pass; stop conditions are
// re-checked after the action so a strategy that reaches its target
// completes in the same pass.
func (a *Automaton) ExecutePass(ctx context.Context) (PassStats, error) {
	var stats PassStats
	for _, agentID := range a.store.agents() {
		for _, s := range a.store.active(agentID) {
			if err := ctx.Err(); err != nil {
				return stats, err
			}
			var err error
			switch s.Kind {
			case KindKeepWorking:
				err = a.runKeepWorking(ctx, s, &stats)
			case KindOpportunisticBuy:
				err = a.runOpportunisticBuy(ctx, s, &stats)
			default:
				stats.Skipped++
			}
			if err != nil {
				return stats, err
			}
		}
	}
	return stats, nil
}

// runKeepWorking checks the stop condition and otherwise verifies the
// agent is still at its post. Holding the post is the whole action and
// the production tick does the actual work, so a watchdog hold is
// neither executed nor skipped; only completion moves a counter.
func (a *Automaton) runKeepWorking(ctx context.Context, s *Strategy, stats *PassStats) error {
	qty, err := a.ledger.Quantity(ctx, s.AgentID, s.stopResource())
	if err != nil {
		return err
	}
	if qty >= s.StopWhenAmount {
		a.complete(s, qty)
		stats.Completed++
		return nil
	}
	assigned, err := a.city.IsAssigned(ctx, s.BuildingID, s.AgentID)
	if err != nil {
		return err
	}
	if !assigned {
		a.log.Debug("keep_working agent not at post",
			"agent", s.AgentID, "building", s.BuildingID)
	}
	return nil
}

// runOpportunisticBuy fills at most one qualifying order per pass:
// the cheapest open order selling the wanted resource strictly below
// the price ceiling, never the agent's own.
func (a *Automaton) runOpportunisticBuy(ctx context.Context, s *Strategy, stats *PassStats) error {
	qty, err := a.ledger.Quantity(ctx, s.AgentID, s.stopResource())
	if err != nil {
		return err
	}
	if qty >= s.StopWhenAmount {
		a.complete(s, qty)
		stats.Completed++
		return nil
	}

	orders, err := a.market.OpenOrdersSelling(ctx, s.Resource)
	if err != nil {
		return err
	}
	var target *economy.MarketOrder
	for i := range orders {
		o := &orders[i]
		if o.SellerID == s.AgentID {
			continue
		}
		if o.UnitPrice() < s.PriceBelow {
			target = o
			break
		}
	}
	if target == nil {
		stats.Skipped++
		return nil
	}

	amount := s.StopWhenAmount - qty
	if amount > target.RemainingSell {
		amount = target.RemainingSell
	}
	res, err := a.market.FillOrder(ctx, target.ID, s.AgentID, amount)
	if err != nil {
		return err
	}
	if !res.OK {
		// Could not afford it, or the order closed under us.
		a.log.Debug("opportunistic buy skipped",
			"agent", s.AgentID, "order", target.ID, "reason", res.Reason)
		stats.Skipped++
		return nil
	}
	stats.Executed++

	qty, err = a.ledger.Quantity(ctx, s.AgentID, s.stopResource())
	if err != nil {
		return err
	}
	if qty >= s.StopWhenAmount {
		a.complete(s, qty)
		stats.Completed++
	}
	return nil
}

func (a *Automaton) complete(s *Strategy, qty float64) {
	a.store.complete(s)
	a.log.Info("strategy completed",
		"agent", s.AgentID, "kind", s.Kind,
		"resource", s.stopResource(), "quantity", qty)
	a.bus.Publish(events.New("strategy_completed", map[string]any{
		"agent_id": s.AgentID,
		"kind":     s.Kind,
		"resource": s.stopResource(),
		"target":   s.StopWhenAmount,
		"quantity": qty,
	}))
}
