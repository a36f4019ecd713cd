// Package economy implements the transactional core of the city:
// the resource ledger, the market order book, the work site, the
// storefront and the building/production systems. Every mutating
// operation runs as one store transaction and publishes a domain
// event only after that transaction commits.
package economy

import "time"

// HumanID is the reserved id of the human participant. The row is
// seeded at startup and never deleted or renamed.
const HumanID int64 = 0

// CreditType is the resource type credits are ledgered under.
// Payouts, purchases and market settlement all share this one pool.
const CreditType = "credits"

// AgentStatus is the orchestration-visible state of an agent.
type AgentStatus string

const (
	StatusIdle      AgentStatus = "idle"
	StatusThinking  AgentStatus = "thinking"
	StatusExecuting AgentStatus = "executing"
	StatusPlanning  AgentStatus = "planning"
)

// validStatusTransitions encodes the agent state machine. Every
// non-idle state may always fall back to idle: the orchestration
// layer must restore idle on both success and failure paths.
var validStatusTransitions = map[AgentStatus][]AgentStatus{
	StatusIdle:      {StatusThinking, StatusPlanning, StatusExecuting},
	StatusThinking:  {StatusExecuting, StatusIdle},
	StatusPlanning:  {StatusThinking, StatusExecuting, StatusIdle},
	StatusExecuting: {StatusThinking, StatusIdle},
}

// CanTransition reports whether moving from s to next is allowed.
func (s AgentStatus) CanTransition(next AgentStatus) bool {
	if s == next {
		return true
	}
	for _, allowed := range validStatusTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Agent is a city inhabitant. Credits live in the resource ledger
// under CreditType, not on this row.
type Agent struct {
	ID        int64       `db:"id" json:"id"`
	Name      string      `db:"name" json:"name"`
	Persona   string      `db:"persona" json:"persona"`
	Satiety   int         `db:"satiety" json:"satiety"`
	Mood      int         `db:"mood" json:"mood"`
	Stamina   int         `db:"stamina" json:"stamina"`
	Status    AgentStatus `db:"status" json:"status"`
	CreatedAt string      `db:"created_at" json:"created_at"`
}

// ResourceEntry is one (agent, resource_type) ledger row.
// Invariant: 0 <= Frozen <= Quantity at all times.
type ResourceEntry struct {
	ID           int64   `db:"id" json:"-"`
	AgentID      int64   `db:"agent_id" json:"agent_id"`
	ResourceType string  `db:"resource_type" json:"resource_type"`
	Quantity     float64 `db:"quantity" json:"quantity"`
	Frozen       float64 `db:"frozen" json:"frozen"`
}

// Available is the spendable amount: quantity minus frozen.
func (e ResourceEntry) Available() float64 {
	return e.Quantity - e.Frozen
}

// Building statuses. The constructing→active transition is one-way
// and happens only in the construction-completion tick.
const (
	BuildingConstructing = "constructing"
	BuildingActive       = "active"
)

// Building is a production site. Workers may only be assigned while
// status is active.
type Building struct {
	ID                    int64  `db:"id" json:"id"`
	Name                  string `db:"name" json:"name"`
	BuildingType          string `db:"building_type" json:"building_type"`
	City                  string `db:"city" json:"city"`
	OwnerID               int64  `db:"owner_id" json:"owner_id"`
	BuilderID             int64  `db:"builder_id" json:"builder_id"`
	MaxWorkers            int    `db:"max_workers" json:"max_workers"`
	Status                string `db:"status" json:"status"`
	ConstructionStartedAt string `db:"construction_started_at" json:"construction_started_at"`
	ConstructionDays      int    `db:"construction_days" json:"construction_days"`
}

// BuildingWorker is one worker slot assignment.
type BuildingWorker struct {
	BuildingID int64  `db:"building_id" json:"building_id"`
	AgentID    int64  `db:"agent_id" json:"agent_id"`
	AssignedAt string `db:"assigned_at" json:"assigned_at"`
}

// Market order statuses.
const (
	OrderOpen      = "open"
	OrderPartial   = "partial"
	OrderFilled    = "filled"
	OrderCancelled = "cancelled"
)

// MarketOrder is a resource-for-resource offer. The seller's offered
// stock is frozen (not debited) at creation and only released on
// cancel or debited on fill.
type MarketOrder struct {
	ID            int64   `db:"id" json:"id"`
	SellerID      int64   `db:"seller_id" json:"seller_id"`
	SellType      string  `db:"sell_type" json:"sell_type"`
	SellAmount    float64 `db:"sell_amount" json:"sell_amount"`
	BuyType       string  `db:"buy_type" json:"buy_type"`
	BuyAmount     float64 `db:"buy_amount" json:"buy_amount"`
	RemainingSell float64 `db:"remaining_sell" json:"remaining_sell"`
	RemainingBuy  float64 `db:"remaining_buy" json:"remaining_buy"`
	Status        string  `db:"status" json:"status"`
	CreatedAt     string  `db:"created_at" json:"created_at"`
}

// UnitPrice is the cost of one unit of the offered resource,
// denominated in the requested resource.
func (o MarketOrder) UnitPrice() float64 {
	if o.RemainingSell <= 0 {
		return 0
	}
	return o.RemainingBuy / o.RemainingSell
}

// ProductionLog is one append-only conversion record.
type ProductionLog struct {
	ID         int64   `db:"id" json:"id"`
	BuildingID int64   `db:"building_id" json:"building_id"`
	AgentID    int64   `db:"agent_id" json:"agent_id"`
	InputType  string  `db:"input_type" json:"input_type"`
	InputQty   float64 `db:"input_qty" json:"input_qty"`
	OutputType string  `db:"output_type" json:"output_type"`
	OutputQty  float64 `db:"output_qty" json:"output_qty"`
	TickTime   string  `db:"tick_time" json:"tick_time"`
}

// Job is a daily check-in position.
type Job struct {
	ID          int64  `db:"id" json:"id"`
	Title       string `db:"title" json:"title"`
	Description string `db:"description" json:"description"`
	DailyReward int    `db:"daily_reward" json:"daily_reward"`
	MaxWorkers  int    `db:"max_workers" json:"max_workers"` // 0 = unlimited
}

// CheckIn is one day's attendance record for an agent.
type CheckIn struct {
	ID        int64  `db:"id" json:"checkin_id"`
	AgentID   int64  `db:"agent_id" json:"agent_id"`
	JobID     int64  `db:"job_id" json:"job_id"`
	Reward    int    `db:"reward" json:"reward"`
	Day       string `db:"day" json:"-"`
	CheckedAt string `db:"checked_at" json:"checked_at"`
}

// ShopItem is a catalog entry in the storefront.
type ShopItem struct {
	ID          int64  `db:"id" json:"id"`
	Name        string `db:"name" json:"name"`
	Description string `db:"description" json:"description"`
	ItemType    string `db:"item_type" json:"item_type"`
	Price       int    `db:"price" json:"price"`
}

// AgentItem is an ownership record; (agent, item) pairs are unique.
type AgentItem struct {
	AgentID     int64  `db:"agent_id" json:"agent_id"`
	ItemID      int64  `db:"item_id" json:"item_id"`
	PurchasedAt string `db:"purchased_at" json:"purchased_at"`
}

// utcDay returns the UTC calendar day used for check-in uniqueness
// and capacity checks. Both checks must share this definition.
func utcDay(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

func clampAttr(v int) int {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}
