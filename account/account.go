// Package account defines the per-tenant chart of accounts.
package account

import (
	"github.com/xraph/farmledger/id"
	"github.com/xraph/farmledger/types"
)

// Type classifies an account.
type Type string

const (
	TypeAsset     Type = "ASSET"
	TypeLiability Type = "LIABILITY"
	TypeEquity    Type = "EQUITY"
	TypeIncome    Type = "INCOME"
	TypeExpense   Type = "EXPENSE"
	TypeCOGS      Type = "COGS"
)

// NormalBalance is the side on which an account naturally increases.
type NormalBalance string

const (
	NormalDebit  NormalBalance = "DEBIT"
	NormalCredit NormalBalance = "CREDIT"
)

// Well-known account codes referenced by the posting rules.
const (
	CodeCash               = "1000"
	CodeAccountsReceivable = "1100"
	CodeFeedInventory      = "1200"
	CodeSuppliesInventory  = "1210"
	CodeLivestock          = "1300"
	CodeAccountsPayable    = "2000"
	CodeOwnersEquity       = "3000"
	CodeRetainedEarnings   = "3100"
	CodeSalesRevenue       = "4000"
	CodeOtherIncome        = "4100"
	CodeCOGS               = "5000"
	CodeFeedExpense        = "6000"
	CodeInventoryAdjust    = "6100"
	CodeSuppliesExpense    = "6200"
	CodeVeterinaryExpense  = "6300"
)

// Account is a tenant-scoped chart-of-accounts entry. Accounts are never
// deleted; system accounts cannot be deactivated.
type Account struct {
	types.Entity

	ID            id.AccountID  `json:"id"`
	TenantID      string        `json:"tenant_id"`
	Code          string        `json:"code"`
	Name          string        `json:"name"`
	Type          Type          `json:"type"`
	Subtype       string        `json:"subtype,omitempty"`
	NormalBalance NormalBalance `json:"normal_balance"`
	IsSystem      bool          `json:"is_system"`
	IsActive      bool          `json:"is_active"`
}

// NormalBalanceFor returns the conventional normal balance for an account type.
func NormalBalanceFor(t Type) NormalBalance {
	switch t {
	case TypeAsset, TypeExpense, TypeCOGS:
		return NormalDebit
	default:
		return NormalCredit
	}
}

// Template describes one account of a seed chart.
type Template struct {
	Code    string
	Name    string
	Type    Type
	Subtype string
}

// DefaultChart is the chart seeded for every new tenant.
var DefaultChart = []Template{
	{CodeCash, "Cash", TypeAsset, "CURRENT_ASSET"},
	{CodeAccountsReceivable, "Accounts Receivable", TypeAsset, "CURRENT_ASSET"},
	{CodeFeedInventory, "Feed Inventory", TypeAsset, "INVENTORY"},
	{CodeSuppliesInventory, "Supplies Inventory", TypeAsset, "INVENTORY"},
	{CodeLivestock, "Livestock", TypeAsset, "BIOLOGICAL_ASSET"},
	{CodeAccountsPayable, "Accounts Payable", TypeLiability, "CURRENT_LIABILITY"},
	{CodeOwnersEquity, "Owner's Equity", TypeEquity, ""},
	{CodeRetainedEarnings, "Retained Earnings", TypeEquity, ""},
	{CodeSalesRevenue, "Sales Revenue", TypeIncome, "OPERATING_REVENUE"},
	{CodeOtherIncome, "Other Income", TypeIncome, "OTHER_REVENUE"},
	{CodeCOGS, "Cost of Goods Sold", TypeCOGS, ""},
	{CodeFeedExpense, "Feed Expense", TypeExpense, "OPERATING_EXPENSE"},
	{CodeInventoryAdjust, "Inventory Adjustments", TypeExpense, "OPERATING_EXPENSE"},
	{CodeSuppliesExpense, "Supplies Expense", TypeExpense, "OPERATING_EXPENSE"},
	{CodeVeterinaryExpense, "Veterinary Expense", TypeExpense, "OPERATING_EXPENSE"},
}

// Build materializes the templates as system accounts for tenantID.
func Build(tenantID string, templates []Template) []*Account {
	out := make([]*Account, 0, len(templates))
	for _, t := range templates {
		out = append(out, &Account{
			Entity:        types.NewEntity(),
			ID:            id.NewAccountID(),
			TenantID:      tenantID,
			Code:          t.Code,
			Name:          t.Name,
			Type:          t.Type,
			Subtype:       t.Subtype,
			NormalBalance: NormalBalanceFor(t.Type),
			IsSystem:      true,
			IsActive:      true,
		})
	}
	return out
}
