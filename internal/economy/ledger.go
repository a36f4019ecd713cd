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

// Ledger owns agent balances and per-agent resource quantities,
// including amounts frozen by open market orders. It is the single
// source of truth for "can X afford Y".
type Ledger struct {
	store *store.Store
	bus   events.Sink
}

// NewLedger creates a ledger over the given store, publishing to bus.
func NewLedger(st *store.Store, bus events.Sink) *Ledger {
	return &Ledger{store: st, bus: bus}
}

// ── transaction-scoped helpers (shared with market/city/worksite) ──

func agentByID(tx *sqlx.Tx, id int64) (*Agent, error) {
	var a Agent
	err := tx.Get(&a, "SELECT * FROM agents WHERE id = ?", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load agent %d: %w", id, err)
	}
	return &a, nil
}

func getOrCreateEntry(tx *sqlx.Tx, agentID int64, resourceType string) (ResourceEntry, error) {
	var e ResourceEntry
	_, err := tx.Exec(
		"INSERT OR IGNORE INTO resources (agent_id, resource_type, quantity, frozen) VALUES (?, ?, 0, 0)",
		agentID, resourceType)
	if err != nil {
		return e, fmt.Errorf("create ledger entry: %w", err)
	}
	err = tx.Get(&e,
		"SELECT * FROM resources WHERE agent_id = ? AND resource_type = ?",
		agentID, resourceType)
	if err != nil {
		return e, fmt.Errorf("load ledger entry: %w", err)
	}
	return e, nil
}

// shortfallReason picks the taxonomy code for an uncovered debit.
func shortfallReason(resourceType string) string {
	if resourceType == CreditType {
		return ReasonInsufficientCredits
	}
	return ReasonInsufficientResource
}

// debitEntry removes amount from the agent's available balance. The
// available check and the decrement happen in the same transaction;
// the row CHECK constraint is the backstop against lost updates.
func debitEntry(tx *sqlx.Tx, agentID int64, resourceType string, amount float64) error {
	if amount <= 0 {
		return failTx(ReasonInvalidAmount)
	}
	e, err := getOrCreateEntry(tx, agentID, resourceType)
	if err != nil {
		return err
	}
	if e.Available() < amount {
		return failTx(shortfallReason(resourceType))
	}
	_, err = tx.Exec(
		"UPDATE resources SET quantity = quantity - ? WHERE id = ?",
		amount, e.ID)
	if store.IsCheckViolation(err) {
		return failTx(shortfallReason(resourceType))
	}
	if err != nil {
		return fmt.Errorf("debit: %w", err)
	}
	return nil
}

func creditEntry(tx *sqlx.Tx, agentID int64, resourceType string, amount float64) error {
	if amount <= 0 {
		return failTx(ReasonInvalidAmount)
	}
	e, err := getOrCreateEntry(tx, agentID, resourceType)
	if err != nil {
		return err
	}
	_, err = tx.Exec(
		"UPDATE resources SET quantity = quantity + ? WHERE id = ?",
		amount, e.ID)
	if err != nil {
		return fmt.Errorf("credit: %w", err)
	}
	return nil
}

// freezeEntry reserves amount of the agent's available balance for an
// open order without debiting it.
func freezeEntry(tx *sqlx.Tx, agentID int64, resourceType string, amount float64) error {
	if amount <= 0 {
		return failTx(ReasonInvalidAmount)
	}
	e, err := getOrCreateEntry(tx, agentID, resourceType)
	if err != nil {
		return err
	}
	if e.Available() < amount {
		return failTx(shortfallReason(resourceType))
	}
	_, err = tx.Exec(
		"UPDATE resources SET frozen = frozen + ? WHERE id = ?",
		amount, e.ID)
	if store.IsCheckViolation(err) {
		return failTx(shortfallReason(resourceType))
	}
	if err != nil {
		return fmt.Errorf("freeze: %w", err)
	}
	return nil
}

func unfreezeEntry(tx *sqlx.Tx, agentID int64, resourceType string, amount float64) error {
	if amount <= 0 {
		return failTx(ReasonInvalidAmount)
	}
	e, err := getOrCreateEntry(tx, agentID, resourceType)
	if err != nil {
		return err
	}
	if e.Frozen < amount {
		return failTx(shortfallReason(resourceType))
	}
	_, err = tx.Exec(
		"UPDATE resources SET frozen = frozen - ? WHERE id = ?",
		amount, e.ID)
	if err != nil {
		return fmt.Errorf("unfreeze: %w", err)
	}
	return nil
}

// spendFrozen debits amount that was previously frozen, keeping the
// frozen <= quantity invariant through a single update.
func spendFrozen(tx *sqlx.Tx, agentID int64, resourceType string, amount float64) error {
	if amount <= 0 {
		return failTx(ReasonInvalidAmount)
	}
	e, err := getOrCreateEntry(tx, agentID, resourceType)
	if err != nil {
		return err
	}
	if e.Frozen < amount {
		return failTx(shortfallReason(resourceType))
	}
	_, err = tx.Exec(
		"UPDATE resources SET quantity = quantity - ?, frozen = frozen - ? WHERE id = ?",
		amount, amount, e.ID)
	if store.IsCheckViolation(err) {
		return failTx(shortfallReason(resourceType))
	}
	if err != nil {
		return fmt.Errorf("spend frozen: %w", err)
	}
	return nil
}

// ── public operations ──────────────────────────────────────────────

// GetOrCreate returns the ledger entry for (agentID, resourceType),
// creating a zero row if none exists. Idempotent.
func (l *Ledger) GetOrCreate(ctx context.Context, agentID int64, resourceType string) (ResourceEntry, error) {
	var entry ResourceEntry
	err := l.store.WithTx(ctx, func(tx *sqlx.Tx) error {
		var err error
		entry, err = getOrCreateEntry(tx, agentID, resourceType)
		return err
	})
	return entry, err
}

// Available returns quantity minus frozen for the entry.
func (l *Ledger) Available(ctx context.Context, agentID int64, resourceType string) (float64, error) {
	e, err := l.GetOrCreate(ctx, agentID, resourceType)
	if err != nil {
		return 0, err
	}
	return e.Available(), nil
}

// Quantity returns the raw quantity, frozen included. Strategy stop
// conditions read this, not the available balance.
func (l *Ledger) Quantity(ctx context.Context, agentID int64, resourceType string) (float64, error) {
	e, err := l.GetOrCreate(ctx, agentID, resourceType)
	if err != nil {
		return 0, err
	}
	return e.Quantity, nil
}

// AgentResources lists all ledger entries for an agent.
func (l *Ledger) AgentResources(ctx context.Context, agentID int64) ([]ResourceEntry, error) {
	var entries []ResourceEntry
	err := l.store.DB().SelectContext(ctx, &entries,
		"SELECT * FROM resources WHERE agent_id = ? ORDER BY resource_type", agentID)
	return entries, err
}

// Debit removes amount from the agent's available balance.
func (l *Ledger) Debit(ctx context.Context, agentID int64, resourceType string, amount float64) (Outcome, error) {
	err := l.store.WithTx(ctx, func(tx *sqlx.Tx) error {
		return debitEntry(tx, agentID, resourceType, amount)
	})
	out, err, _ := asOutcome(err)
	return out, err
}

// Credit adds amount unconditionally (amount must be positive).
func (l *Ledger) Credit(ctx context.Context, agentID int64, resourceType string, amount float64) (Outcome, error) {
	err := l.store.WithTx(ctx, func(tx *sqlx.Tx) error {
		return creditEntry(tx, agentID, resourceType, amount)
	})
	out, err, _ := asOutcome(err)
	return out, err
}

// Transfer atomically debits from and credits to in one transaction.
// Publishes resource_transferred after commit.
func (l *Ledger) Transfer(ctx context.Context, from, to int64, resourceType string, amount float64) (Outcome, error) {
	if amount <= 0 {
		return Fail(ReasonInvalidAmount), nil
	}
	err := l.store.WithTx(ctx, func(tx *sqlx.Tx) error {
		if err := debitEntry(tx, from, resourceType, amount); err != nil {
			return err
		}
		return creditEntry(tx, to, resourceType, amount)
	})
	out, err, done := asOutcome(err)
	if !done || !out.OK {
		return out, err
	}
	l.bus.Publish(events.New("resource_transferred", map[string]any{
		"from":          from,
		"to":            to,
		"resource_type": resourceType,
		"amount":        amount,
	}))
	return out, nil
}

// Freeze reserves amount against an open market order.
func (l *Ledger) Freeze(ctx context.Context, agentID int64, resourceType string, amount float64) (Outcome, error) {
	err := l.store.WithTx(ctx, func(tx *sqlx.Tx) error {
		return freezeEntry(tx, agentID, resourceType, amount)
	})
	out, err, _ := asOutcome(err)
	return out, err
}

// Unfreeze releases a previous reservation.
func (l *Ledger) Unfreeze(ctx context.Context, agentID int64, resourceType string, amount float64) (Outcome, error) {
	err := l.store.WithTx(ctx, func(tx *sqlx.Tx) error {
		return unfreezeEntry(tx, agentID, resourceType, amount)
	})
	out, err, _ := asOutcome(err)
	return out, err
}

// SetQuantity force-sets a balance (dev/admin API). Frozen capital is
// clamped so the row invariant survives.
func (l *Ledger) SetQuantity(ctx context.Context, agentID int64, resourceType string, quantity float64) error {
	if quantity < 0 {
		quantity = 0
	}
	return l.store.WithTx(ctx, func(tx *sqlx.Tx) error {
		e, err := getOrCreateEntry(tx, agentID, resourceType)
		if err != nil {
			return err
		}
		frozen := e.Frozen
		if frozen > quantity {
			frozen = quantity
		}
		_, err = tx.Exec(
			"UPDATE resources SET quantity = ?, frozen = ? WHERE id = ?",
			quantity, frozen, e.ID)
		return err
	})
}
