// Package requisition holds purchase requisitions raised by the reorder
// trigger. After creation they belong to the purchasing workflow.
package requisition

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/xraph/farmledger/id"
	"github.com/xraph/farmledger/item"
	"github.com/xraph/farmledger/types"
)

// Status is the purchasing workflow state of a requisition.
type Status string

const (
	StatusOpen     Status = "OPEN"
	StatusApproved Status = "APPROVED"
	StatusOrdered  Status = "ORDERED"
	StatusClosed   Status = "CLOSED"
	StatusCanceled Status = "CANCELED"
)

// Requisition is a request to purchase stock of one item for one site.
type Requisition struct {
	types.Entity

	ID             id.RequisitionID `json:"id"`
	TenantID       string           `json:"tenant_id"`
	SiteID         string           `json:"site_id"`
	ItemID         string           `json:"item_id"`
	Qty            decimal.Decimal  `json:"qty"`
	EstimatedCost  decimal.Decimal  `json:"estimated_cost"`
	AutoGenerated  bool             `json:"auto_generated"`
	TriggerBalance decimal.Decimal  `json:"trigger_balance"`
	ReorderPoint   decimal.Decimal  `json:"reorder_point"`
	Reason         string           `json:"reason"`
	Status         Status           `json:"status"`
	CreatedBy      string           `json:"created_by,omitempty"`
}

// ReorderCheck is the result of comparing a balance with its reorder point.
type ReorderCheck struct {
	NeedsReorder bool
	SuggestedQty decimal.Decimal
	CurrentQty   decimal.Decimal
	ReorderPoint decimal.Decimal
	Item         *item.Item
}

// Check compares currentQty with the item's reorder point. An item without a
// positive reorder point never needs reorder. The suggested quantity is the
// item's reorder quantity, or the shortfall to the reorder point when unset.
func Check(it *item.Item, currentQty decimal.Decimal) *ReorderCheck {
	c := &ReorderCheck{
		CurrentQty:   currentQty,
		ReorderPoint: it.ReorderPoint,
		SuggestedQty: decimal.Zero,
		Item:         it,
	}
	if !it.ReorderPoint.IsPositive() || !currentQty.LessThan(it.ReorderPoint) {
		return c
	}
	c.NeedsReorder = true
	if it.ReorderQty.IsPositive() {
		c.SuggestedQty = it.ReorderQty
	} else {
		c.SuggestedQty = it.ReorderPoint.Sub(currentQty)
	}
	return c
}

// Store is the requisition collaborator.
type Store interface {
	CreateRequisition(ctx context.Context, r *Requisition) error
	GetRequisition(ctx context.Context, tenantID string, reqID id.RequisitionID) (*Requisition, error)
	// FindOpenAutoRequisition returns an OPEN auto-generated requisition for
	// the site and item, or farmledger.ErrRequisitionNotFound.
	FindOpenAutoRequisition(ctx context.Context, tenantID, siteID, itemID string) (*Requisition, error)
	ListRequisitions(ctx context.Context, tenantID string) ([]*Requisition, error)
}
