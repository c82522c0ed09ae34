package farmledger

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/xraph/farmledger/event"
	"github.com/xraph/farmledger/id"
	"github.com/xraph/farmledger/idempotency"
	"github.com/xraph/farmledger/inventory"
	"github.com/xraph/farmledger/journal"
	"github.com/xraph/farmledger/tenant"
)

// plannedMovement is one balance change implied by an event.
type plannedMovement struct {
	siteID    string
	itemID    string
	typ       inventory.MovementType
	qty       decimal.Decimal
	unitCost  decimal.Decimal
	totalCost decimal.Decimal
	// costFromPrevious carries the previous movement's unit cost, used by
	// the destination leg of a transfer.
	costFromPrevious bool
}

// planMovements maps a payload to its inventory movements, in order.
// Livestock events have none.
func planMovements(evt *event.Event, payload event.Payload) []plannedMovement {
	switch p := payload.(type) {
	case *event.InventoryAdjustment:
		return nonZero(plannedMovement{
			siteID: evt.SiteID, itemID: p.ItemID, typ: inventory.MovementAdjustment,
			qty: p.QtyDelta, unitCost: p.UnitCost(), totalCost: p.Amount(),
		})
	case *event.FeedLivestock:
		unit := decimal.Zero
		if p.Quantity.IsPositive() {
			unit = p.TotalCost.Div(p.Quantity)
		}
		return nonZero(plannedMovement{
			siteID: evt.SiteID, itemID: p.FeedItemID, typ: inventory.MovementConsumption,
			qty: p.Quantity.Neg(), unitCost: unit, totalCost: p.TotalCost,
		})
	case *event.ReceivePurchaseOrder:
		return nonZero(plannedMovement{
			siteID: evt.SiteID, itemID: p.ItemID, typ: inventory.MovementReceipt,
			qty: p.Quantity, unitCost: p.ResolvedUnitCost(), totalCost: p.Amount(),
		})
	case *event.Sale:
		if p.ItemID == "" {
			return nil
		}
		return nonZero(plannedMovement{
			siteID: evt.SiteID, itemID: p.ItemID, typ: inventory.MovementOut,
			qty: p.Quantity.Neg(),
		})
	case *event.InventoryTransfer:
		unit := p.ResolvedUnitCost()
		return nonZero(
			plannedMovement{
				siteID: p.FromSiteID, itemID: p.ItemID, typ: inventory.MovementTransferOut,
				qty: p.Quantity.Neg(), unitCost: unit,
			},
			plannedMovement{
				siteID: p.ToSiteID, itemID: p.ItemID, typ: inventory.MovementTransferIn,
				qty: p.Quantity, unitCost: unit, costFromPrevious: unit.IsZero(),
			},
		)
	default:
		return nil
	}
}

func nonZero(plans ...plannedMovement) []plannedMovement {
	out := plans[:0]
	for _, p := range plans {
		if !p.qty.IsZero() {
			out = append(out, p)
		}
	}
	return out
}

// applyInventoryEffects applies every planned movement of evt. Each movement
// is deduplicated on eventID:seq, so a retry never double-counts stock.
// After each decrease the reorder trigger runs on a best-effort basis.
func (e *Engine) applyInventoryEffects(ctx context.Context, evt *event.Event, t *tenant.Tenant, payload event.Payload, tx *journal.Transaction) ([]id.MovementID, error) {
	plans := planMovements(evt, payload)
	if len(plans) == 0 {
		return nil, nil
	}

	ids := make([]id.MovementID, 0, len(plans))
	var prev *inventory.Movement
	for seq, pl := range plans {
		unit := pl.unitCost
		if pl.costFromPrevious && prev != nil {
			unit = prev.UnitCost
		}
		m := &inventory.Movement{
			ID:             id.NewMovementID(),
			TenantID:       evt.TenantID,
			SiteID:         pl.siteID,
			ItemID:         pl.itemID,
			Type:           pl.typ,
			Qty:            pl.qty,
			UnitCost:       unit,
			TotalCost:      pl.totalCost,
			EventID:        evt.ID,
			TransactionID:  tx.ID,
			IdempotencyKey: idempotency.MovementKey(evt.ID.String(), seq),
			CreatedBy:      evt.CreatedBy,
			CreatedAt:      e.now(),
		}

		res, err := e.applyMovement(ctx, t, m)
		if err != nil {
			return nil, err
		}
		ids = append(ids, res.Movement.ID)
		prev = res.Movement
	}
	return ids, nil
}

// applyMovement applies m under the keyed lock for its balance. The reorder
// check for a decrease runs inside the same lease so two concurrent
// decreases cannot both raise a requisition.
func (e *Engine) applyMovement(ctx context.Context, t *tenant.Tenant, m *inventory.Movement) (*inventory.ApplyResult, error) {
	key := m.Key()
	lease, err := e.locker.Acquire(ctx, key.String())
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := lease.Release(context.WithoutCancel(ctx)); err != nil {
			e.logger.Warn("failed to release inventory lock",
				"key", key.String(),
				"error", err,
			)
		}
	}()

	res, err := e.inventory.ApplyMovement(ctx, m)
	if err != nil {
		return nil, err
	}
	if res.Replayed {
		e.logger.Debug("inventory movement already applied",
			"tenant_id", m.TenantID,
			"idempotency_key", m.IdempotencyKey,
		)
		return res, nil
	}

	e.plugins.EmitInventoryMoved(ctx, res.Movement, res.Balance)

	if res.Movement.IsDecrease() {
		rr := e.triggerReorder(ctx, t, m.TenantID, m.SiteID, m.ItemID, m.CreatedBy)
		if rr.Err != nil {
			e.logger.Warn("reorder check failed",
				"tenant_id", m.TenantID,
				"site_id", m.SiteID,
				"item_id", m.ItemID,
				"error", rr.Err,
			)
		}
	}
	return res, nil
}

// GetBalance returns the inventory position of an item at a site.
func (e *Engine) GetBalance(ctx context.Context, tenantID, siteID, itemID string) (*inventory.Balance, error) {
	return e.inventory.GetBalance(ctx, tenantID, siteID, itemID)
}

// ListMovements returns the movement audit trail of a tenant.
func (e *Engine) ListMovements(ctx context.Context, tenantID string, q inventory.MovementQuery) ([]*inventory.Movement, error) {
	return e.inventory.ListMovements(ctx, tenantID, q)
}
