package economy

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/halcyon-sim/agora/internal/events"
	"github.com/halcyon-sim/agora/internal/store"
)

// Storefront sells catalog items for credits. Each item can be owned
// at most once per agent.
type Storefront struct {
	store *store.Store
	bus   events.Sink
}

// NewStorefront creates the storefront service.
func NewStorefront(st *store.Store, bus events.Sink) *Storefront {
	return &Storefront{store: st, bus: bus}
}

// Items lists the catalog.
func (s *Storefront) Items(ctx context.Context) ([]ShopItem, error) {
	var out []ShopItem
	err := s.store.DB().SelectContext(ctx, &out, "SELECT * FROM shop_items ORDER BY id")
	return out, err
}

// OwnedItemView joins an ownership record with its catalog entry.
type OwnedItemView struct {
	ItemID      int64  `db:"item_id" json:"item_id"`
	Name        string `db:"name" json:"name"`
	ItemType    string `db:"item_type" json:"item_type"`
	PurchasedAt string `db:"purchased_at" json:"purchased_at"`
}

// AgentItems lists the items an agent owns.
func (s *Storefront) AgentItems(ctx context.Context, agentID int64) ([]OwnedItemView, error) {
	var out []OwnedItemView
	err := s.store.DB().SelectContext(ctx, &out, `
		SELECT ai.item_id, si.name, si.item_type, ai.purchased_at
		FROM agent_items ai JOIN shop_items si ON si.id = ai.item_id
		WHERE ai.agent_id = ?
		ORDER BY ai.purchased_at`, agentID)
	return out, err
}

// PurchaseResult is the outcome of Purchase.
type PurchaseResult struct {
	Outcome
	ItemName         string  `json:"item_name,omitempty"`
	Price            int     `json:"price,omitempty"`
	RemainingCredits float64 `json:"remaining_credits,omitempty"`
}

// Purchase debits the item price and records ownership in one
// transaction. The pre-checks catch the common failures cheaply; the
// UNIQUE ownership index and the non-negative balance CHECK are the
// required fallback under races, reclassified into the same outcome
// codes rather than surfaced as store errors.
func (s *Storefront) Purchase(ctx context.Context, agentID, itemID int64) (PurchaseResult, error) {
	var (
		item      ShopItem
		remaining float64
	)
	err := s.store.WithTx(ctx, func(tx *sqlx.Tx) error {
		agent, err := agentByID(tx, agentID)
		if err != nil {
			return err
		}
		if agent == nil {
			return failTx(ReasonAgentNotFound)
		}

		err = tx.Get(&item, "SELECT * FROM shop_items WHERE id = ?", itemID)
		if errors.Is(err, sql.ErrNoRows) {
			return failTx(ReasonItemNotFound)
		}
		if err != nil {
			return fmt.Errorf("load item: %w", err)
		}

		var owned int
		if err := tx.Get(&owned,
			"SELECT COUNT(*) FROM agent_items WHERE agent_id = ? AND item_id = ?",
			agentID, itemID); err != nil {
			return err
		}
		if owned > 0 {
			return failTx(ReasonAlreadyOwned)
		}

		if err := debitEntry(tx, agentID, CreditType, float64(item.Price)); err != nil {
			return err
		}

		_, err = tx.Exec(
			"INSERT INTO agent_items (agent_id, item_id) VALUES (?, ?)", agentID, itemID)
		if store.IsUniqueViolation(err) {
			return failTx(ReasonAlreadyOwned)
		}
		if store.IsCheckViolation(err) {
			return failTx(ReasonInsufficientCredits)
		}
		if err != nil {
			return fmt.Errorf("insert ownership: %w", err)
		}

		entry, err := getOrCreateEntry(tx, agentID, CreditType)
		if err != nil {
			return err
		}
		remaining = entry.Quantity
		return nil
	})
	out, err, done := asOutcome(err)
	if !done || !out.OK {
		return PurchaseResult{Outcome: out}, err
	}
	s.bus.Publish(events.New("purchase", map[string]any{
		"agent_id":  agentID,
		"item_id":   itemID,
		"item_name": item.Name,
		"price":     item.Price,
	}))
	return PurchaseResult{Outcome: Ok(), ItemName: item.Name, Price: item.Price, RemainingCredits: remaining}, nil
}
