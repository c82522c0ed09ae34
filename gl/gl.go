// Package gl computes the general-ledger lines for a business event.
//
// Compute is a pure function of the typed payload, the tenant's settings
// and its chart of accounts. It switches exhaustively over the event
// payload types; every rule resolves all of the accounts it needs before
// producing any line, so a missing account never yields a partial set.
package gl

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/xraph/farmledger/account"
	"github.com/xraph/farmledger/event"
	"github.com/xraph/farmledger/id"
	"github.com/xraph/farmledger/item"
	"github.com/xraph/farmledger/journal"
	"github.com/xraph/farmledger/tenant"
)

var (
	// ErrNoLines is returned when a rule yields no non-zero lines.
	ErrNoLines = errors.New("farmledger: no GL lines computed")
	// ErrRequiredAccounts is returned when the chart lacks an account a rule needs.
	ErrRequiredAccounts = errors.New("farmledger: required accounts not found")
)

// RequiredAccountsError lists the account codes a rule could not resolve.
type RequiredAccountsError struct {
	Codes []string
}

func (e *RequiredAccountsError) Error() string {
	return fmt.Sprintf("farmledger: required accounts not found: %s", strings.Join(e.Codes, ", "))
}

// Unwrap lets errors.Is match ErrRequiredAccounts.
func (e *RequiredAccountsError) Unwrap() error { return ErrRequiredAccounts }

// Line is one computed debit or credit leg.
type Line struct {
	AccountID   id.AccountID
	AccountCode string
	Debit       decimal.Decimal
	Credit      decimal.Decimal
	EntityType  journal.EntityType
	EntityID    string
	Memo        string
}

// Chart indexes a tenant's active accounts by code.
type Chart map[string]*account.Account

// NewChart builds a Chart from accts, skipping inactive accounts.
func NewChart(accts []*account.Account) Chart {
	c := make(Chart, len(accts))
	for _, a := range accts {
		if a.IsActive {
			c[a.Code] = a
		}
	}
	return c
}

func (c Chart) resolve(codes ...string) (map[string]*account.Account, error) {
	out := make(map[string]*account.Account, len(codes))
	var missing []string
	for _, code := range codes {
		if _, done := out[code]; done {
			continue
		}
		a, ok := c[code]
		if !ok {
			missing = append(missing, code)
			continue
		}
		out[code] = a
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return nil, &RequiredAccountsError{Codes: missing}
	}
	return out, nil
}

// Input is everything a rule may read.
type Input struct {
	Payload  event.Payload
	Settings tenant.Settings
	// ItemType selects the inventory account when the payload does not carry one.
	ItemType item.Type
}

// InventoryAccountCode maps an item type to its inventory account.
func InventoryAccountCode(t item.Type) string {
	if t == item.TypeFeed {
		return account.CodeFeedInventory
	}
	return account.CodeSuppliesInventory
}

// SettlementAccountCode returns cash for cash payments and receivable
// (sales) or payable (purchases) otherwise.
func SettlementAccountCode(m event.PaymentMethod, sale bool) string {
	switch {
	case m.IsCash():
		return account.CodeCash
	case sale:
		return account.CodeAccountsReceivable
	default:
		return account.CodeAccountsPayable
	}
}

type tag struct {
	entityType journal.EntityType
	entityID   string
}

func tagged(t journal.EntityType, entityID string) tag {
	if entityID == "" {
		return tag{}
	}
	return tag{entityType: t, entityID: entityID}
}

type builder struct {
	accts map[string]*account.Account
	lines []Line
}

// pair appends a debit and a credit of amount. Zero amounts are skipped.
func (b *builder) pair(debitCode, creditCode string, amount decimal.Decimal, dt, ct tag, debitMemo, creditMemo string) {
	if amount.IsZero() {
		return
	}
	amount = amount.Abs()
	da, ca := b.accts[debitCode], b.accts[creditCode]
	b.lines = append(b.lines,
		Line{AccountID: da.ID, AccountCode: da.Code, Debit: amount, Credit: decimal.Zero, EntityType: dt.entityType, EntityID: dt.entityID, Memo: debitMemo},
		Line{AccountID: ca.ID, AccountCode: ca.Code, Debit: decimal.Zero, Credit: amount, EntityType: ct.entityType, EntityID: ct.entityID, Memo: creditMemo},
	)
}

func (b *builder) result(t event.Type) ([]Line, error) {
	if len(b.lines) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoLines, t)
	}
	return b.lines, nil
}

// stockResult is result for rules that move inventory. A quantity change
// carrying no value is rejected with the quantity named, since the
// movement would leave the GL and the sub-ledger apart.
func (b *builder) stockResult(t event.Type, qty decimal.Decimal) ([]Line, error) {
	if len(b.lines) == 0 && !qty.IsZero() {
		return nil, fmt.Errorf("%w: %s: stock change of %s has zero value", ErrNoLines, t, qty)
	}
	return b.result(t)
}

func pickItemType(fromPayload, fallback item.Type) item.Type {
	if fromPayload != "" {
		return fromPayload
	}
	return fallback
}

// Compute returns the ordered GL lines for in.Payload.
func Compute(chart Chart, in Input) ([]Line, error) {
	switch p := in.Payload.(type) {
	case *event.InventoryAdjustment:
		return inventoryAdjustment(chart, p, pickItemType(p.ItemType, in.ItemType))
	case *event.FeedLivestock:
		return feedLivestock(chart, p, in.Settings)
	case *event.ReceivePurchaseOrder:
		return receivePurchaseOrder(chart, p, pickItemType(p.ItemType, in.ItemType))
	case *event.Sale:
		return sale(chart, p.PaymentMethod, p.SaleAmount, p.CostAmount, tag{}, event.TypeSale)
	case *event.SellLivestock:
		return sale(chart, p.PaymentMethod, p.SaleAmount, p.CostAmount,
			tagged(journal.EntityAnimalGroup, p.LivestockGroupID), event.TypeSellLivestock)
	case *event.PurchaseLivestock:
		return purchaseLivestock(chart, p)
	case *event.InventoryTransfer:
		return inventoryTransfer(chart, p, pickItemType(p.ItemType, in.ItemType))
	default:
		return nil, fmt.Errorf("%w: %T", event.ErrUnknownType, in.Payload)
	}
}

func inventoryAdjustment(chart Chart, p *event.InventoryAdjustment, it item.Type) ([]Line, error) {
	inv := InventoryAccountCode(it)
	accts, err := chart.resolve(inv, account.CodeInventoryAdjust)
	if err != nil {
		return nil, err
	}
	memo := p.Reason
	if memo == "" {
		memo = "Inventory adjustment"
	}
	itemTag := tagged(journal.EntityInventoryItem, p.ItemID)
	b := &builder{accts: accts}
	if p.QtyDelta.IsPositive() {
		b.pair(inv, account.CodeInventoryAdjust, p.Amount(), itemTag, tag{}, memo, memo)
	} else {
		b.pair(account.CodeInventoryAdjust, inv, p.Amount(), tag{}, itemTag, memo, memo)
	}
	return b.stockResult(event.TypeInventoryAdjustment, p.QtyDelta)
}

func feedLivestock(chart Chart, p *event.FeedLivestock, s tenant.Settings) ([]Line, error) {
	debit := account.CodeFeedExpense
	if s.Capitalize() {
		debit = account.CodeLivestock
	}
	accts, err := chart.resolve(debit, account.CodeFeedInventory)
	if err != nil {
		return nil, err
	}
	b := &builder{accts: accts}
	b.pair(debit, account.CodeFeedInventory, p.TotalCost,
		tagged(journal.EntityAnimalGroup, p.LivestockGroupID),
		tagged(journal.EntityInventoryItem, p.FeedItemID),
		"Feed consumed", "Feed consumed")
	return b.stockResult(event.TypeFeedLivestock, p.Quantity)
}

func receivePurchaseOrder(chart Chart, p *event.ReceivePurchaseOrder, it item.Type) ([]Line, error) {
	inv := InventoryAccountCode(it)
	settle := SettlementAccountCode(p.PaymentMethod, false)
	accts, err := chart.resolve(inv, settle)
	if err != nil {
		return nil, err
	}
	memo := "Goods received"
	if p.PurchaseOrderID != "" {
		memo += " for PO " + p.PurchaseOrderID
	}
	b := &builder{accts: accts}
	b.pair(inv, settle, p.Amount(), tagged(journal.EntityInventoryItem, p.ItemID), tag{}, memo, memo)
	return b.stockResult(event.TypeReceivePurchaseOrder, p.Quantity)
}

func sale(chart Chart, m event.PaymentMethod, amount, cost decimal.Decimal, t tag, et event.Type) ([]Line, error) {
	settle := SettlementAccountCode(m, true)
	codes := []string{settle, account.CodeSalesRevenue}
	withCost := cost.IsPositive()
	if withCost {
		codes = append(codes, account.CodeCOGS, account.CodeLivestock)
	}
	accts, err := chart.resolve(codes...)
	if err != nil {
		return nil, err
	}
	b := &builder{accts: accts}
	b.pair(settle, account.CodeSalesRevenue, amount, t, t, "Sale", "Sale")
	if withCost {
		b.pair(account.CodeCOGS, account.CodeLivestock, cost, t, t, "Cost of sale", "Cost of sale")
	}
	return b.result(et)
}

func purchaseLivestock(chart Chart, p *event.PurchaseLivestock) ([]Line, error) {
	settle := SettlementAccountCode(p.PaymentMethod, false)
	accts, err := chart.resolve(account.CodeLivestock, settle)
	if err != nil {
		return nil, err
	}
	t := tagged(journal.EntityAnimalGroup, p.LivestockGroupID)
	b := &builder{accts: accts}
	b.pair(account.CodeLivestock, settle, p.TotalCost, t, t, "Livestock purchase", "Livestock purchase")
	return b.result(event.TypePurchaseLivestock)
}

// inventoryTransfer posts both legs to the same inventory account so the
// GL balance does not move; the entries exist for the audit trail.
func inventoryTransfer(chart Chart, p *event.InventoryTransfer, it item.Type) ([]Line, error) {
	inv := InventoryAccountCode(it)
	accts, err := chart.resolve(inv)
	if err != nil {
		return nil, err
	}
	t := tagged(journal.EntityInventoryItem, p.ItemID)
	b := &builder{accts: accts}
	b.pair(inv, inv, p.Amount(), t, t, "Transfer out", "Transfer in")
	return b.stockResult(event.TypeInventoryTransfer, p.Quantity)
}
