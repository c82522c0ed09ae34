// Package item holds inventory item master data.
package item

import (
	"context"

	"github.com/xraph/farmledger/types"
)

// Type classifies an inventory item and selects its inventory account.
type Type string

const (
	TypeFeed     Type = "FEED"
	TypeSupplies Type = "SUPPLIES"
	TypeMedical  Type = "MEDICAL"
	TypeOther    Type = "OTHER"
)

// Item is a stocked inventory item.
type Item struct {
	types.Entity

	ID           string       `json:"id"`
	TenantID     string       `json:"tenant_id"`
	Name         string       `json:"name"`
	Type         Type         `json:"type"`
	Unit         string       `json:"unit"`
	ReorderPoint types.Amount `json:"reorder_point"`
	ReorderQty   types.Amount `json:"reorder_qty"`
	DefaultCost  types.Amount `json:"default_cost"`
}

// Store reads item master data.
type Store interface {
	CreateItem(ctx context.Context, it *Item) error
	GetItem(ctx context.Context, tenantID, itemID string) (*Item, error)
}
