package farmledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/xraph/farmledger/id"
	"github.com/xraph/farmledger/requisition"
	"github.com/xraph/farmledger/tenant"
	"github.com/xraph/farmledger/types"
)

// ReorderResult is the outcome of the reorder trigger. The trigger is a
// best-effort side channel: Err is reported here instead of being returned,
// and callers may log and discard it without affecting their own result.
type ReorderResult struct {
	Triggered   bool
	Requisition *requisition.Requisition
	Check       *requisition.ReorderCheck
	Err         error
}

// CheckReorderNeeded compares the current balance of an item at a site with
// the item's reorder point.
func (e *Engine) CheckReorderNeeded(ctx context.Context, tenantID, siteID, itemID string) (*requisition.ReorderCheck, error) {
	it, err := e.items.GetItem(ctx, tenantID, itemID)
	if err != nil {
		return nil, err
	}
	bal, err := e.inventory.GetBalance(ctx, tenantID, siteID, itemID)
	if err != nil {
		return nil, err
	}
	return requisition.Check(it, bal.QtyOnHand), nil
}

// CheckAndTriggerReorder raises an auto-generated purchase requisition when
// the tenant has auto-reorder enabled and the balance is below the item's
// reorder point. It is a no-op while an OPEN auto requisition exists for
// the same site and item.
func (e *Engine) CheckAndTriggerReorder(ctx context.Context, tenantID, siteID, itemID, createdBy string) ReorderResult {
	t, err := e.tenants.GetTenant(ctx, tenantID)
	if err != nil {
		e.plugins.EmitReorderFailed(ctx, tenantID, siteID, itemID, err)
		return ReorderResult{Err: err}
	}
	return e.triggerReorder(ctx, t, tenantID, siteID, itemID, createdBy)
}

func (e *Engine) triggerReorder(ctx context.Context, t *tenant.Tenant, tenantID, siteID, itemID, createdBy string) ReorderResult {
	if !t.Settings.AutoReorderEnabled {
		return ReorderResult{}
	}

	res := e.reorder(ctx, tenantID, siteID, itemID, createdBy)
	if res.Err != nil {
		e.plugins.EmitReorderFailed(ctx, tenantID, siteID, itemID, res.Err)
	}
	return res
}

func (e *Engine) reorder(ctx context.Context, tenantID, siteID, itemID, createdBy string) ReorderResult {
	check, err := e.CheckReorderNeeded(ctx, tenantID, siteID, itemID)
	if err != nil {
		return ReorderResult{Err: fmt.Errorf("check reorder: %w", err)}
	}
	if !check.NeedsReorder {
		return ReorderResult{Check: check}
	}

	_, err = e.requisitions.FindOpenAutoRequisition(ctx, tenantID, siteID, itemID)
	switch {
	case err == nil:
		return ReorderResult{Check: check}
	case !errors.Is(err, ErrRequisitionNotFound):
		return ReorderResult{Check: check, Err: fmt.Errorf("find open requisition: %w", err)}
	}

	now := e.now()
	req := &requisition.Requisition{
		Entity:         types.NewEntityAt(now),
		ID:             id.NewRequisitionID(),
		TenantID:       tenantID,
		SiteID:         siteID,
		ItemID:         itemID,
		Qty:            check.SuggestedQty,
		EstimatedCost:  check.SuggestedQty.Mul(check.Item.DefaultCost),
		AutoGenerated:  true,
		TriggerBalance: check.CurrentQty,
		ReorderPoint:   check.ReorderPoint,
		Reason: fmt.Sprintf("Auto-reorder: balance %s below reorder point %s",
			check.CurrentQty.String(), check.ReorderPoint.String()),
		Status:    requisition.StatusOpen,
		CreatedBy: createdBy,
	}
	if err := e.requisitions.CreateRequisition(ctx, req); err != nil {
		return ReorderResult{Check: check, Err: fmt.Errorf("create requisition: %w", err)}
	}

	e.plugins.EmitReorderTriggered(ctx, req)

	e.logger.Info("reorder triggered",
		"tenant_id", tenantID,
		"site_id", siteID,
		"item_id", itemID,
		"qty", req.Qty.String(),
		"requisition_id", req.ID.String(),
	)

	return ReorderResult{Triggered: true, Requisition: req, Check: check}
}

// ListRequisitions returns a tenant's purchase requisitions.
func (e *Engine) ListRequisitions(ctx context.Context, tenantID string) ([]*requisition.Requisition, error) {
	return e.requisitions.ListRequisitions(ctx, tenantID)
}
