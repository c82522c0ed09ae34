// Package tenant holds the per-tenant settings read by the posting engine.
package tenant

import (
	"context"

	"github.com/xraph/farmledger/types"
)

// CostingMode selects how feed consumed by livestock is booked.
type CostingMode string

const (
	// CostingCapitalize adds feed cost to the livestock asset.
	CostingCapitalize CostingMode = "CAPITALIZE"
	// CostingExpense books feed cost directly to feed expense.
	CostingExpense CostingMode = "EXPENSE"
)

// Settings are the tenant options the engine consults at posting time.
type Settings struct {
	LivestockCostingMode CostingMode `json:"livestock_costing_mode" yaml:"livestock_costing_mode"`
	AutoReorderEnabled   bool        `json:"auto_reorder_enabled" yaml:"auto_reorder_enabled"`
}

// Capitalize reports whether feed should be capitalized into livestock.
// Anything other than CAPITALIZE expenses it.
func (s Settings) Capitalize() bool {
	return s.LivestockCostingMode == CostingCapitalize
}

// Tenant is an account holder of the farm management system.
type Tenant struct {
	types.Entity

	ID       string   `json:"id"`
	Name     string   `json:"name"`
	Settings Settings `json:"settings"`
}

// Store reads tenant records. Tenants are provisioned elsewhere;
// CreateTenant exists for fixtures and tests.
type Store interface {
	CreateTenant(ctx context.Context, t *Tenant) error
	GetTenant(ctx context.Context, tenantID string) (*Tenant, error)
	ListTenants(ctx context.Context) ([]*Tenant, error)
}
