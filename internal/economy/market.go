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

// remainderEpsilon absorbs float residue when deciding whether an
// order is fully filled.
const remainderEpsilon = 1e-9

// Market is the order book. Sellers freeze stock when posting; a fill
// settles both legs in one transaction or not at all.
type Market struct {
	store *store.Store
	bus   events.Sink
}

// NewMarket creates the market service.
func NewMarket(st *store.Store, bus events.Sink) *Market {
	return &Market{store: st, bus: bus}
}

func orderByID(tx *sqlx.Tx, id int64) (*MarketOrder, error) {
	var o MarketOrder
	err := tx.Get(&o, "SELECT * FROM market_orders WHERE id = ?", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load order %d: %w", id, err)
	}
	return &o, nil
}

// PlaceResult is the outcome of PlaceOrder.
type PlaceResult struct {
	Outcome
	OrderID int64 `json:"order_id,omitempty"`
}

// PlaceOrder posts an offer of sellAmount sellType for buyAmount
// buyType, freezing the offered stock from the seller's ledger.
func (m *Market) PlaceOrder(ctx context.Context, sellerID int64, sellType string, sellAmount float64, buyType string, buyAmount float64) (PlaceResult, error) {
	if sellAmount <= 0 || buyAmount <= 0 {
		return PlaceResult{Outcome: Fail(ReasonInvalidAmount)}, nil
	}
	var orderID int64
	err := m.store.WithTx(ctx, func(tx *sqlx.Tx) error {
		seller, err := agentByID(tx, sellerID)
		if err != nil {
			return err
		}
		if seller == nil {
			return failTx(ReasonAgentNotFound)
		}
		if err := freezeEntry(tx, sellerID, sellType, sellAmount); err != nil {
			return err
		}
		res, err := tx.Exec(`INSERT INTO market_orders
			(seller_id, sell_type, sell_amount, buy_type, buy_amount, remaining_sell, remaining_buy, status)
			VALUES (?, ?, ?, ?, ?, ?, ?, 'open')`,
			sellerID, sellType, sellAmount, buyType, buyAmount, sellAmount, buyAmount)
		if err != nil {
			return fmt.Errorf("insert order: %w", err)
		}
		orderID, err = res.LastInsertId()
		return err
	})
	out, err, done := asOutcome(err)
	if !done || !out.OK {
		return PlaceResult{Outcome: out}, err
	}
	m.bus.Publish(events.New("order_placed", map[string]any{
		"order_id":    orderID,
		"seller_id":   sellerID,
		"sell_type":   sellType,
		"sell_amount": sellAmount,
		"buy_type":    buyType,
		"buy_amount":  buyAmount,
	}))
	return PlaceResult{Outcome: Ok(), OrderID: orderID}, nil
}

// FillResult is the outcome of FillOrder.
type FillResult struct {
	Outcome
	OrderID      int64   `json:"order_id"`
	FilledAmount float64 `json:"filled_amount,omitempty"`
	BuyCost      float64 `json:"buy_cost,omitempty"`
	OrderStatus  string  `json:"order_status,omitempty"`
}

// FillOrder executes a (possibly partial) fill: the buyer pays the
// proportional cost in the order's buy type, the seller's frozen
// stock is spent, and both sides are credited, all in one
// transaction. A failed buyer debit leaves the order and the seller's
// frozen stock completely unchanged.
func (m *Market) FillOrder(ctx context.Context, orderID, buyerID int64, amount float64) (FillResult, error) {
	if amount <= 0 {
		return FillResult{Outcome: Fail(ReasonInvalidAmount), OrderID: orderID}, nil
	}
	var (
		filled  float64
		buyCost float64
		status  string
	)
	err := m.store.WithTx(ctx, func(tx *sqlx.Tx) error {
		buyer, err := agentByID(tx, buyerID)
		if err != nil {
			return err
		}
		if buyer == nil {
			return failTx(ReasonAgentNotFound)
		}
		o, err := orderByID(tx, orderID)
		if err != nil {
			return err
		}
		if o == nil {
			return failTx(ReasonOrderNotFound)
		}
		if o.Status != OrderOpen && o.Status != OrderPartial {
			return failTx(ReasonOrderClosed)
		}

		filled = amount
		if filled > o.RemainingSell {
			filled = o.RemainingSell
		}
		buyCost = filled * (o.RemainingBuy / o.RemainingSell)

		// Buyer pays first; a shortfall aborts the whole fill.
		if err := debitEntry(tx, buyerID, o.BuyType, buyCost); err != nil {
			return err
		}
		if err := spendFrozen(tx, o.SellerID, o.SellType, filled); err != nil {
			return err
		}
		if err := creditEntry(tx, buyerID, o.SellType, filled); err != nil {
			return err
		}
		if err := creditEntry(tx, o.SellerID, o.BuyType, buyCost); err != nil {
			return err
		}

		remSell := o.RemainingSell - filled
		remBuy := o.RemainingBuy - buyCost
		if remSell < remainderEpsilon {
			remSell, remBuy = 0, 0
			status = OrderFilled
		} else {
			status = OrderPartial
		}
		_, err = tx.Exec(
			"UPDATE market_orders SET remaining_sell = ?, remaining_buy = ?, status = ? WHERE id = ?",
			remSell, remBuy, status, orderID)
		if err != nil {
			return fmt.Errorf("update order: %w", err)
		}
		return nil
	})
	out, err, done := asOutcome(err)
	if !done || !out.OK {
		return FillResult{Outcome: out, OrderID: orderID}, err
	}
	m.bus.Publish(events.New("order_filled", map[string]any{
		"order_id": orderID,
		"buyer_id": buyerID,
		"amount":   filled,
		"buy_cost": buyCost,
		"status":   status,
	}))
	return FillResult{Outcome: Ok(), OrderID: orderID, FilledAmount: filled, BuyCost: buyCost, OrderStatus: status}, nil
}

// CancelOrder withdraws the seller's own order and releases the
// remaining frozen stock.
func (m *Market) CancelOrder(ctx context.Context, orderID, sellerID int64) (Outcome, error) {
	var released float64
	err := m.store.WithTx(ctx, func(tx *sqlx.Tx) error {
		o, err := orderByID(tx, orderID)
		if err != nil {
			return err
		}
		if o == nil {
			return failTx(ReasonOrderNotFound)
		}
		if o.SellerID != sellerID {
			return failTx(ReasonNotOwner)
		}
		if o.Status != OrderOpen && o.Status != OrderPartial {
			return failTx(ReasonNotCancellable)
		}
		released = o.RemainingSell
		if released > remainderEpsilon {
			if err := unfreezeEntry(tx, sellerID, o.SellType, released); err != nil {
				return err
			}
		}
		_, err = tx.Exec(
			"UPDATE market_orders SET status = 'cancelled' WHERE id = ?", orderID)
		return err
	})
	out, err, done := asOutcome(err)
	if !done || !out.OK {
		return out, err
	}
	m.bus.Publish(events.New("order_cancelled", map[string]any{
		"order_id":  orderID,
		"seller_id": sellerID,
		"released":  released,
	}))
	return out, nil
}

// Get returns one order, or nil when it does not exist.
func (m *Market) Get(ctx context.Context, orderID int64) (*MarketOrder, error) {
	var o *MarketOrder
	err := m.store.WithTx(ctx, func(tx *sqlx.Tx) error {
		var err error
		o, err = orderByID(tx, orderID)
		return err
	})
	return o, err
}

// OpenOrders lists open/partial orders, cheapest first; ties break by
// creation order (oldest first) for price-time priority.
func (m *Market) OpenOrders(ctx context.Context) ([]MarketOrder, error) {
	var out []MarketOrder
	err := m.store.DB().SelectContext(ctx, &out, `
		SELECT * FROM market_orders
		WHERE status IN ('open','partial')
		ORDER BY remaining_buy / remaining_sell ASC, id ASC`)
	return out, err
}

// OpenOrdersSelling lists open/partial orders offering resourceType,
// in price-time priority order.
func (m *Market) OpenOrdersSelling(ctx context.Context, resourceType string) ([]MarketOrder, error) {
	var out []MarketOrder
	err := m.store.DB().SelectContext(ctx, &out, `
		SELECT * FROM market_orders
		WHERE status IN ('open','partial') AND sell_type = ?
		ORDER BY remaining_buy / remaining_sell ASC, id ASC`, resourceType)
	return out, err
}
