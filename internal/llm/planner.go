package llm

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/halcyon-sim/agora/internal/economy"
	"github.com/halcyon-sim/agora/internal/events"
	"github.com/halcyon-sim/agora/internal/strategy"
)

// Planner is the slow layer of the agent brain: on each planning pass
// it shows the model the city and one agent's position, and replaces
// that agent's standing strategies with whatever the model returns.
// The fast layer (strategy.Automaton) executes them between passes.
type Planner struct {
	client *Client
	agents *economy.Agents
	ledger *economy.Ledger
	market *economy.Market
	city   *economy.City
	store  *strategy.Store
	bus    events.Sink
	log    *slog.Logger
}

// NewPlanner wires the planner over the economy services.
func NewPlanner(client *Client, agents *economy.Agents, ledger *economy.Ledger, market *economy.Market, city *economy.City, store *strategy.Store, bus events.Sink, log *slog.Logger) *Planner {
	if log == nil {
		log = slog.Default()
	}
	return &Planner{
		client: client, agents: agents, ledger: ledger,
		market: market, city: city, store: store, bus: bus, log: log,
	}
}

// Enabled reports whether planning can run at all.
func (p *Planner) Enabled() bool {
	return p.client.Enabled()
}

// PlanAll runs one planning pass over every bot agent. Per-agent
// failures are logged and skipped; one confused agent must not stall
// the rest of the city.
func (p *Planner) PlanAll(ctx context.Context) error {
	if !p.Enabled() {
		return nil
	}
	agents, err := p.agents.List(ctx)
	if err != nil {
		return err
	}
	for _, a := range agents {
		if a.ID == economy.HumanID {
			continue
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := p.PlanAgent(ctx, a.ID); err != nil {
			p.log.Warn("planning failed", "agent", a.ID, "error", err)
		}
	}
	return nil
}

// PlanAgent runs one planning pass for one agent, walking it through
// the planning→thinking→idle status path. The agent is returned to
// idle on every exit, including errors.
func (p *Planner) PlanAgent(ctx context.Context, agentID int64) (err error) {
	if !p.Enabled() {
		return fmt.Errorf("LLM client not configured")
	}
	if err := p.agents.SetStatus(ctx, agentID, economy.StatusPlanning); err != nil {
		return err
	}
	defer func() {
		if idleErr := p.agents.SetStatus(ctx, agentID, economy.StatusIdle); idleErr != nil && err == nil {
			err = idleErr
		}
	}()

	agent, err := p.agents.Get(ctx, agentID)
	if err != nil {
		return err
	}
	if agent == nil {
		return fmt.Errorf("agent %d not found", agentID)
	}
	user, err := p.buildContext(ctx, agent)
	if err != nil {
		return err
	}

	if err := p.agents.SetStatus(ctx, agentID, economy.StatusThinking); err != nil {
		return err
	}
	raw, err := p.client.Complete(ctx, plannerSystemPrompt(agent), user, 800)
	if err != nil {
		return fmt.Errorf("plan agent %d: %w", agentID, err)
	}

	strategies, droppedBad, err := strategy.ParseStrategies(raw, agentID)
	if err != nil {
		return fmt.Errorf("parse plan for agent %d: %w", agentID, err)
	}
	kept := p.store.Replace(agentID, strategies)
	p.log.Info("agent planned",
		"agent", agentID, "strategies", kept, "dropped", droppedBad)
	p.bus.Publish(events.New("agent_planned", map[string]any{
		"agent_id":   agentID,
		"strategies": kept,
		"dropped":    droppedBad,
	}))
	return nil
}

func plannerSystemPrompt(agent *economy.Agent) string {
	return fmt.Sprintf(
		`You are the economic planner for %s, an inhabitant of a small city. Persona: %s.

You do not act directly. You emit standing strategies that a deterministic executor runs every tick until the next planning pass. Respond ONLY with a JSON array of strategy objects; an empty array is valid. Two kinds exist:

{"kind":"keep_working","agent_id":%d,"building_id":<id>,"stop_when_resource":"<type>","stop_when_amount":<n>}
  Stay at the named building until the stockpile of the named resource reaches the target.

{"kind":"opportunistic_buy","agent_id":%d,"resource":"<type>","price_below":<unit price>,"stop_when_amount":<n>}
  Buy the resource off the market whenever a seller asks strictly less than price_below per unit, until you hold the target amount.

Keep the plan small: one or two strategies. Eat when satiety is low; flour restores it. Do not invent other fields or kinds.`,
		agent.Name, agent.Persona, agent.ID, agent.ID,
	)
}

// buildContext renders the agent's situation: attributes, balances,
// the city's buildings, and the open order book.
func (p *Planner) buildContext(ctx context.Context, agent *economy.Agent) (string, error) {
	var b strings.Builder

	fmt.Fprintf(&b, "You are agent %d (%s). Satiety %d, mood %d, stamina %d.\n\n",
		agent.ID, agent.Name, agent.Satiety, agent.Mood, agent.Stamina)

	resources, err := p.ledger.AgentResources(ctx, agent.ID)
	if err != nil {
		return "", err
	}
	b.WriteString("Your holdings:\n")
	if len(resources) == 0 {
		b.WriteString("- nothing\n")
	}
	for _, r := range resources {
		fmt.Fprintf(&b, "- %s: %.1f (%.1f frozen in open orders)\n",
			r.ResourceType, r.Quantity, r.Frozen)
	}
	b.WriteString("\n")

	buildings, err := p.city.Buildings(ctx)
	if err != nil {
		return "", err
	}
	b.WriteString("Buildings:\n")
	if len(buildings) == 0 {
		b.WriteString("- none yet\n")
	}
	for _, bd := range buildings {
		fmt.Fprintf(&b, "- #%d %s (%s) status=%s workers=%d/%d\n",
			bd.ID, bd.Name, bd.BuildingType, bd.Status, len(bd.Workers), bd.MaxWorkers)
	}
	b.WriteString("\n")

	orders, err := p.market.OpenOrders(ctx)
	if err != nil {
		return "", err
	}
	b.WriteString("Open market orders (cheapest first):\n")
	if len(orders) == 0 {
		b.WriteString("- none\n")
	}
	for _, o := range orders {
		fmt.Fprintf(&b, "- #%d seller=%d sells %.1f %s for %.1f %s (%.2f %s per unit)\n",
			o.ID, o.SellerID, o.RemainingSell, o.SellType,
			o.RemainingBuy, o.BuyType, o.UnitPrice(), o.BuyType)
	}
	b.WriteString("\nEmit the JSON array of strategies now.")
	return b.String(), nil
}
