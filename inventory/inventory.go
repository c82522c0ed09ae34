// Package inventory defines per-site item balances, the movement audit
// trail and the weighted-average costing applied on every movement.
package inventory

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/xraph/farmledger/id"
)

// MovementType tags the cause of a balance change.
type MovementType string

const (
	MovementIn          MovementType = "in"
	MovementOut         MovementType = "out"
	MovementTransferIn  MovementType = "transfer_in"
	MovementTransferOut MovementType = "transfer_out"
	MovementConsumption MovementType = "consumption"
	MovementAdjustment  MovementType = "adjustment"
	MovementReceipt     MovementType = "receipt"
)

// Balance is the on-hand position of one item at one site. It is
// materialized lazily on the first movement; Version increments on every
// update and is used for optimistic concurrency by persistent stores.
type Balance struct {
	TenantID       string          `json:"tenant_id"`
	SiteID         string          `json:"site_id"`
	ItemID         string          `json:"item_id"`
	QtyOnHand      decimal.Decimal `json:"qty_on_hand"`
	AvgCostPerUnit decimal.Decimal `json:"avg_cost_per_unit"`
	Version        int64           `json:"version"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// TotalValue is QtyOnHand * AvgCostPerUnit.
func (b *Balance) TotalValue() decimal.Decimal {
	return b.QtyOnHand.Mul(b.AvgCostPerUnit)
}

// Movement is an append-only audit row for one balance change.
// Qty is signed: negative values decrease the balance.
type Movement struct {
	ID             id.MovementID    `json:"id"`
	TenantID       string           `json:"tenant_id"`
	SiteID         string           `json:"site_id"`
	ItemID         string           `json:"item_id"`
	Type           MovementType     `json:"movement_type"`
	Qty            decimal.Decimal  `json:"qty"`
	UnitCost       decimal.Decimal  `json:"unit_cost"`
	TotalCost      decimal.Decimal  `json:"total_cost"`
	BalanceAfter   decimal.Decimal  `json:"balance_after"`
	EventID        id.EventID       `json:"event_id,omitempty"`
	TransactionID  id.TransactionID `json:"transaction_id,omitempty"`
	IdempotencyKey string           `json:"idempotency_key"`
	CreatedBy      string           `json:"created_by,omitempty"`
	CreatedAt      time.Time        `json:"created_at"`
}

// IsDecrease reports whether the movement lowers the on-hand quantity.
func (m *Movement) IsDecrease() bool { return m.Qty.IsNegative() }

// Key identifies the balance a movement applies to.
func (m *Movement) Key() Key {
	return Key{TenantID: m.TenantID, SiteID: m.SiteID, ItemID: m.ItemID}
}

// Key identifies a (tenant, site, item) balance.
type Key struct {
	TenantID string
	SiteID   string
	ItemID   string
}

func (k Key) String() string {
	return "inventory:" + k.TenantID + ":" + k.SiteID + ":" + k.ItemID
}

// Apply folds m into prev and returns the resulting balance. prev may be
// nil for a balance that does not exist yet.
//
// Increases blend the movement's unit cost into the running average; when
// the prior quantity is zero or negative the unit cost becomes the average.
// Decreases leave the average unchanged. A decrease with no unit cost is
// costed at the prior average. Apply also fills m.UnitCost, m.TotalCost
// when they are zero, and always sets m.BalanceAfter.
func Apply(prev *Balance, m *Movement) *Balance {
	next := &Balance{
		TenantID:       m.TenantID,
		SiteID:         m.SiteID,
		ItemID:         m.ItemID,
		QtyOnHand:      decimal.Zero,
		AvgCostPerUnit: decimal.Zero,
	}
	if prev != nil {
		next.QtyOnHand = prev.QtyOnHand
		next.AvgCostPerUnit = prev.AvgCostPerUnit
		next.Version = prev.Version
	}

	if m.UnitCost.IsZero() && m.IsDecrease() {
		m.UnitCost = next.AvgCostPerUnit
	}
	if m.TotalCost.IsZero() {
		m.TotalCost = m.Qty.Abs().Mul(m.UnitCost)
	}

	prevQty := next.QtyOnHand
	newQty := prevQty.Add(m.Qty)
	if m.Qty.IsPositive() {
		if !prevQty.IsPositive() || newQty.IsZero() {
			next.AvgCostPerUnit = m.UnitCost
		} else {
			value := prevQty.Mul(next.AvgCostPerUnit).Add(m.Qty.Mul(m.UnitCost))
			next.AvgCostPerUnit = value.Div(newQty)
		}
	}

	next.QtyOnHand = newQty
	next.Version++
	next.UpdatedAt = m.CreatedAt
	m.BalanceAfter = newQty
	return next
}

// ApplyResult is the outcome of Store.ApplyMovement. Replayed is true when a
// movement with the same idempotency key already existed; Movement is then
// the stored row and the balance was not changed.
type ApplyResult struct {
	Movement *Movement
	Balance  *Balance
	Replayed bool
}

// MovementQuery filters ListMovements.
type MovementQuery struct {
	SiteID  string
	ItemID  string
	EventID id.EventID
	Limit   int
}

// Store is the inventory collaborator.
//
// ApplyMovement updates the balance via Apply and appends the movement as
// one atomic step, deduplicated on (tenant, idempotency key). GetBalance
// returns a zero balance with Version 0 when none has been materialized.
type Store interface {
	ApplyMovement(ctx context.Context, m *Movement) (*ApplyResult, error)
	GetBalance(ctx context.Context, tenantID, siteID, itemID string) (*Balance, error)
	ListMovements(ctx context.Context, tenantID string, q MovementQuery) ([]*Movement, error)
}
