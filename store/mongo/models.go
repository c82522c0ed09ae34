package mongo

import (
	"bytes"
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
	"github.com/xraph/grove"

	"github.com/xraph/farmledger/account"
	"github.com/xraph/farmledger/event"
	"github.com/xraph/farmledger/id"
	"github.com/xraph/farmledger/inventory"
	"github.com/xraph/farmledger/item"
	"github.com/xraph/farmledger/journal"
	"github.com/xraph/farmledger/requisition"
	"github.com/xraph/farmledger/tenant"
	"github.com/xraph/farmledger/types"
)

// Amounts are stored as their canonical decimal strings so no precision is
// lost to BSON doubles.

// ==================== Event models ====================

type eventModel struct {
	grove.BaseModel `grove:"table:farmledger_events"`

	ID                   string     `grove:"id,pk"                  bson:"_id"`
	TenantID             string     `grove:"tenant_id"              bson:"tenant_id"`
	SiteID               string     `grove:"site_id"                bson:"site_id"`
	Type                 string     `grove:"type"                   bson:"type"`
	Payload              string     `grove:"payload"                bson:"payload"`
	OccurredAt           time.Time  `grove:"occurred_at"            bson:"occurred_at"`
	CreatedBy            string     `grove:"created_by"             bson:"created_by"`
	Status               string     `grove:"status"                 bson:"status"`
	IdempotencyKey       string     `grove:"idempotency_key"        bson:"idempotency_key"`
	LockedBy             string     `grove:"locked_by"              bson:"locked_by"`
	LockedAt             *time.Time `grove:"locked_at"              bson:"locked_at,omitempty"`
	Attempts             int        `grove:"attempts"               bson:"attempts"`
	LastError            string     `grove:"last_error"             bson:"last_error"`
	LedgerTransactionID  string     `grove:"ledger_transaction_id"  bson:"ledger_transaction_id"`
	InventoryMovementIDs []string   `grove:"inventory_movement_ids" bson:"inventory_movement_ids"`
	PostedAt             *time.Time `grove:"posted_at"              bson:"posted_at,omitempty"`
	CreatedAt            time.Time  `grove:"created_at"             bson:"created_at"`
	UpdatedAt            time.Time  `grove:"updated_at"             bson:"updated_at"`
}

func toEventModel(e *event.Event) (*eventModel, error) {
	payload, err := json.Marshal(e.Payload)
	if err != nil {
		return nil, err
	}
	return &eventModel{
		ID:                   e.ID.String(),
		TenantID:             e.TenantID,
		SiteID:               e.SiteID,
		Type:                 string(e.Type),
		Payload:              string(payload),
		OccurredAt:           e.OccurredAt,
		CreatedBy:            e.CreatedBy,
		Status:               string(e.Status),
		IdempotencyKey:       e.IdempotencyKey,
		LockedBy:             e.LockedBy,
		LockedAt:             e.LockedAt,
		Attempts:             e.Attempts,
		LastError:            e.LastError,
		LedgerTransactionID:  optionalID(e.LedgerTransactionID),
		InventoryMovementIDs: idStrings(e.InventoryMovementIDs),
		PostedAt:             e.PostedAt,
		CreatedAt:            e.CreatedAt,
		UpdatedAt:            e.UpdatedAt,
	}, nil
}

func fromEventModel(m *eventModel) (*event.Event, error) {
	eventID, err := id.ParseEventID(m.ID)
	if err != nil {
		return nil, err
	}
	txID, err := parseOptional(m.LedgerTransactionID)
	if err != nil {
		return nil, err
	}
	payload, err := decodePayload(m.Payload)
	if err != nil {
		return nil, err
	}
	var movements []id.MovementID
	for _, s := range m.InventoryMovementIDs {
		mv, err := id.ParseMovementID(s)
		if err != nil {
			return nil, err
		}
		movements = append(movements, mv)
	}

	return &event.Event{
		Entity: types.Entity{
			CreatedAt: m.CreatedAt,
			UpdatedAt: m.UpdatedAt,
		},
		ID:                   eventID,
		TenantID:             m.TenantID,
		SiteID:               m.SiteID,
		Type:                 event.Type(m.Type),
		Payload:              payload,
		OccurredAt:           m.OccurredAt,
		CreatedBy:            m.CreatedBy,
		Status:               event.Status(m.Status),
		IdempotencyKey:       m.IdempotencyKey,
		LockedBy:             m.LockedBy,
		LockedAt:             m.LockedAt,
		Attempts:             m.Attempts,
		LastError:            m.LastError,
		LedgerTransactionID:  txID,
		InventoryMovementIDs: movements,
		PostedAt:             m.PostedAt,
	}, nil
}

// ==================== Tenant models ====================

type tenantModel struct {
	grove.BaseModel `grove:"table:farmledger_tenants"`

	ID                   string    `grove:"id,pk"                  bson:"_id"`
	Name                 string    `grove:"name"                   bson:"name"`
	LivestockCostingMode string    `grove:"livestock_costing_mode" bson:"livestock_costing_mode"`
	AutoReorderEnabled   bool      `grove:"auto_reorder_enabled"   bson:"auto_reorder_enabled"`
	CreatedAt            time.Time `grove:"created_at"             bson:"created_at"`
	UpdatedAt            time.Time `grove:"updated_at"             bson:"updated_at"`
}

func toTenantModel(t *tenant.Tenant) *tenantModel {
	return &tenantModel{
		ID:                   t.ID,
		Name:                 t.Name,
		LivestockCostingMode: string(t.Settings.LivestockCostingMode),
		AutoReorderEnabled:   t.Settings.AutoReorderEnabled,
		CreatedAt:            t.CreatedAt,
		UpdatedAt:            t.UpdatedAt,
	}
}

func fromTenantModel(m *tenantModel) *tenant.Tenant {
	return &tenant.Tenant{
		Entity: types.Entity{
			CreatedAt: m.CreatedAt,
			UpdatedAt: m.UpdatedAt,
		},
		ID:   m.ID,
		Name: m.Name,
		Settings: tenant.Settings{
			LivestockCostingMode: tenant.CostingMode(m.LivestockCostingMode),
			AutoReorderEnabled:   m.AutoReorderEnabled,
		},
	}
}

// ==================== Account models ====================

type accountModel struct {
	grove.BaseModel `grove:"table:farmledger_accounts"`

	ID            string    `grove:"id,pk"          bson:"_id"`
	TenantID      string    `grove:"tenant_id"      bson:"tenant_id"`
	Code          string    `grove:"code"           bson:"code"`
	Name          string    `grove:"name"           bson:"name"`
	Type          string    `grove:"type"           bson:"type"`
	Subtype       string    `grove:"subtype"        bson:"subtype"`
	NormalBalance string    `grove:"normal_balance" bson:"normal_balance"`
	IsSystem      bool      `grove:"is_system"      bson:"is_system"`
	IsActive      bool      `grove:"is_active"      bson:"is_active"`
	CreatedAt     time.Time `grove:"created_at"     bson:"created_at"`
	UpdatedAt     time.Time `grove:"updated_at"     bson:"updated_at"`
}

func toAccountModel(a *account.Account) *accountModel {
	return &accountModel{
		ID:            a.ID.String(),
		TenantID:      a.TenantID,
		Code:          a.Code,
		Name:          a.Name,
		Type:          string(a.Type),
		Subtype:       a.Subtype,
		NormalBalance: string(a.NormalBalance),
		IsSystem:      a.IsSystem,
		IsActive:      a.IsActive,
		CreatedAt:     a.CreatedAt,
		UpdatedAt:     a.UpdatedAt,
	}
}

func fromAccountModel(m *accountModel) (*account.Account, error) {
	acctID, err := id.ParseAccountID(m.ID)
	if err != nil {
		return nil, err
	}
	return &account.Account{
		Entity: types.Entity{
			CreatedAt: m.CreatedAt,
			UpdatedAt: m.UpdatedAt,
		},
		ID:            acctID,
		TenantID:      m.TenantID,
		Code:          m.Code,
		Name:          m.Name,
		Type:          account.Type(m.Type),
		Subtype:       m.Subtype,
		NormalBalance: account.NormalBalance(m.NormalBalance),
		IsSystem:      m.IsSystem,
		IsActive:      m.IsActive,
	}, nil
}

// ==================== Item models ====================

type itemModel struct {
	grove.BaseModel `grove:"table:farmledger_items"`

	Key          string    `grove:"id,pk"         bson:"_id"`
	ItemID       string    `grove:"item_id"       bson:"item_id"`
	TenantID     string    `grove:"tenant_id"     bson:"tenant_id"`
	Name         string    `grove:"name"          bson:"name"`
	Type         string    `grove:"type"          bson:"type"`
	Unit         string    `grove:"unit"          bson:"unit"`
	ReorderPoint string    `grove:"reorder_point" bson:"reorder_point"`
	ReorderQty   string    `grove:"reorder_qty"   bson:"reorder_qty"`
	DefaultCost  string    `grove:"default_cost"  bson:"default_cost"`
	CreatedAt    time.Time `grove:"created_at"    bson:"created_at"`
	UpdatedAt    time.Time `grove:"updated_at"    bson:"updated_at"`
}

func itemKey(tenantID, itemID string) string { return tenantID + ":" + itemID }

func toItemModel(it *item.Item) *itemModel {
	return &itemModel{
		Key:          itemKey(it.TenantID, it.ID),
		ItemID:       it.ID,
		TenantID:     it.TenantID,
		Name:         it.Name,
		Type:         string(it.Type),
		Unit:         it.Unit,
		ReorderPoint: it.ReorderPoint.String(),
		ReorderQty:   it.ReorderQty.String(),
		DefaultCost:  it.DefaultCost.String(),
		CreatedAt:    it.CreatedAt,
		UpdatedAt:    it.UpdatedAt,
	}
}

func fromItemModel(m *itemModel) *item.Item {
	return &item.Item{
		Entity: types.Entity{
			CreatedAt: m.CreatedAt,
			UpdatedAt: m.UpdatedAt,
		},
		ID:           m.ItemID,
		TenantID:     m.TenantID,
		Name:         m.Name,
		Type:         item.Type(m.Type),
		Unit:         m.Unit,
		ReorderPoint: dec(m.ReorderPoint),
		ReorderQty:   dec(m.ReorderQty),
		DefaultCost:  dec(m.DefaultCost),
	}
}

// ==================== Journal models ====================

type transactionModel struct {
	grove.BaseModel `grove:"table:farmledger_transactions"`

	ID                      string    `grove:"id,pk"                      bson:"_id"`
	TenantID                string    `grove:"tenant_id"                  bson:"tenant_id"`
	SiteID                  string    `grove:"site_id"                    bson:"site_id"`
	EventID                 string    `grove:"event_id"                   bson:"event_id"`
	OccurredAt              time.Time `grove:"occurred_at"                bson:"occurred_at"`
	PostedAt                time.Time `grove:"posted_at"                  bson:"posted_at"`
	Status                  string    `grove:"status"                     bson:"status"`
	Memo                    string    `grove:"memo"                       bson:"memo"`
	IdempotencyKey          string    `grove:"idempotency_key"            bson:"idempotency_key"`
	ReversesTransactionID   string    `grove:"reverses_transaction_id"    bson:"reverses_transaction_id"`
	ReversedByTransactionID string    `grove:"reversed_by_transaction_id" bson:"reversed_by_transaction_id"`
	ReversalReason          string    `grove:"reversal_reason"            bson:"reversal_reason"`
	CreatedAt               time.Time `grove:"created_at"                 bson:"created_at"`
	UpdatedAt               time.Time `grove:"updated_at"                 bson:"updated_at"`
}

func toTransactionModel(tx *journal.Transaction) *transactionModel {
	return &transactionModel{
		ID:                      tx.ID.String(),
		TenantID:                tx.TenantID,
		SiteID:                  tx.SiteID,
		EventID:                 optionalID(tx.EventID),
		OccurredAt:              tx.OccurredAt,
		PostedAt:                tx.PostedAt,
		Status:                  string(tx.Status),
		Memo:                    tx.Memo,
		IdempotencyKey:          tx.IdempotencyKey,
		ReversesTransactionID:   optionalID(tx.ReversesTransactionID),
		ReversedByTransactionID: optionalID(tx.ReversedByTransactionID),
		ReversalReason:          tx.ReversalReason,
		CreatedAt:               tx.CreatedAt,
		UpdatedAt:               tx.UpdatedAt,
	}
}

func fromTransactionModel(m *transactionModel) (*journal.Transaction, error) {
	txID, err := id.ParseTransactionID(m.ID)
	if err != nil {
		return nil, err
	}
	eventID, err := parseOptional(m.EventID)
	if err != nil {
		return nil, err
	}
	reverses, err := parseOptional(m.ReversesTransactionID)
	if err != nil {
		return nil, err
	}
	reversedBy, err := parseOptional(m.ReversedByTransactionID)
	if err != nil {
		return nil, err
	}
	return &journal.Transaction{
		Entity: types.Entity{
			CreatedAt: m.CreatedAt,
			UpdatedAt: m.UpdatedAt,
		},
		ID:                      txID,
		TenantID:                m.TenantID,
		SiteID:                  m.SiteID,
		EventID:                 eventID,
		OccurredAt:              m.OccurredAt,
		PostedAt:                m.PostedAt,
		Status:                  journal.Status(m.Status),
		Memo:                    m.Memo,
		IdempotencyKey:          m.IdempotencyKey,
		ReversesTransactionID:   reverses,
		ReversedByTransactionID: reversedBy,
		ReversalReason:          m.ReversalReason,
	}, nil
}

type entryModel struct {
	grove.BaseModel `grove:"table:farmledger_entries"`

	ID            string    `grove:"id,pk"          bson:"_id"`
	TransactionID string    `grove:"transaction_id" bson:"transaction_id"`
	TenantID      string    `grove:"tenant_id"      bson:"tenant_id"`
	LineNo        int       `grove:"line_no"        bson:"line_no"`
	AccountID     string    `grove:"account_id"     bson:"account_id"`
	AccountCode   string    `grove:"account_code"   bson:"account_code"`
	Debit         string    `grove:"debit"          bson:"debit"`
	Credit        string    `grove:"credit"         bson:"credit"`
	EntityType    string    `grove:"entity_type"    bson:"entity_type"`
	EntityID      string    `grove:"entity_id"      bson:"entity_id"`
	Memo          string    `grove:"memo"           bson:"memo"`
	CreatedAt     time.Time `grove:"created_at"     bson:"created_at"`
}

func toEntryModels(entries []*journal.Entry) []*entryModel {
	out := make([]*entryModel, len(entries))
	for i, e := range entries {
		out[i] = &entryModel{
			ID:            e.ID.String(),
			TransactionID: e.TransactionID.String(),
			TenantID:      e.TenantID,
			LineNo:        e.LineNo,
			AccountID:     optionalID(e.AccountID),
			AccountCode:   e.AccountCode,
			Debit:         e.Debit.String(),
			Credit:        e.Credit.String(),
			EntityType:    string(e.EntityType),
			EntityID:      e.EntityID,
			Memo:          e.Memo,
			CreatedAt:     e.CreatedAt,
		}
	}
	return out
}

func fromEntryModel(m *entryModel) (*journal.Entry, error) {
	entryID, err := id.ParseEntryID(m.ID)
	if err != nil {
		return nil, err
	}
	txID, err := id.ParseTransactionID(m.TransactionID)
	if err != nil {
		return nil, err
	}
	acctID, err := parseOptional(m.AccountID)
	if err != nil {
		return nil, err
	}
	return &journal.Entry{
		ID:            entryID,
		TransactionID: txID,
		TenantID:      m.TenantID,
		LineNo:        m.LineNo,
		AccountID:     acctID,
		AccountCode:   m.AccountCode,
		Debit:         dec(m.Debit),
		Credit:        dec(m.Credit),
		EntityType:    journal.EntityType(m.EntityType),
		EntityID:      m.EntityID,
		Memo:          m.Memo,
		CreatedAt:     m.CreatedAt,
	}, nil
}

// ==================== Inventory models ====================

type balanceModel struct {
	grove.BaseModel `grove:"table:farmledger_balances"`

	Key            string    `grove:"id,pk"             bson:"_id"`
	TenantID       string    `grove:"tenant_id"         bson:"tenant_id"`
	SiteID         string    `grove:"site_id"           bson:"site_id"`
	ItemID         string    `grove:"item_id"           bson:"item_id"`
	QtyOnHand      string    `grove:"qty_on_hand"       bson:"qty_on_hand"`
	AvgCostPerUnit string    `grove:"avg_cost_per_unit" bson:"avg_cost_per_unit"`
	Version        int64     `grove:"version"           bson:"version"`
	UpdatedAt      time.Time `grove:"updated_at"        bson:"updated_at"`
}

func toBalanceModel(b *inventory.Balance) *balanceModel {
	return &balanceModel{
		Key:            balanceKey(b.TenantID, b.SiteID, b.ItemID),
		TenantID:       b.TenantID,
		SiteID:         b.SiteID,
		ItemID:         b.ItemID,
		QtyOnHand:      b.QtyOnHand.String(),
		AvgCostPerUnit: b.AvgCostPerUnit.String(),
		Version:        b.Version,
		UpdatedAt:      b.UpdatedAt,
	}
}

func fromBalanceModel(m *balanceModel) *inventory.Balance {
	return &inventory.Balance{
		TenantID:       m.TenantID,
		SiteID:         m.SiteID,
		ItemID:         m.ItemID,
		QtyOnHand:      dec(m.QtyOnHand),
		AvgCostPerUnit: dec(m.AvgCostPerUnit),
		Version:        m.Version,
		UpdatedAt:      m.UpdatedAt,
	}
}

func balanceKey(tenantID, siteID, itemID string) string {
	return inventory.Key{TenantID: tenantID, SiteID: siteID, ItemID: itemID}.String()
}

type movementModel struct {
	grove.BaseModel `grove:"table:farmledger_movements"`

	ID             string    `grove:"id,pk"           bson:"_id"`
	TenantID       string    `grove:"tenant_id"       bson:"tenant_id"`
	SiteID         string    `grove:"site_id"         bson:"site_id"`
	ItemID         string    `grove:"item_id"         bson:"item_id"`
	MovementType   string    `grove:"movement_type"   bson:"movement_type"`
	Qty            string    `grove:"qty"             bson:"qty"`
	UnitCost       string    `grove:"unit_cost"       bson:"unit_cost"`
	TotalCost      string    `grove:"total_cost"      bson:"total_cost"`
	BalanceAfter   string    `grove:"balance_after"   bson:"balance_after"`
	EventID        string    `grove:"event_id"        bson:"event_id"`
	TransactionID  string    `grove:"transaction_id"  bson:"transaction_id"`
	IdempotencyKey string    `grove:"idempotency_key" bson:"idempotency_key"`
	CreatedBy      string    `grove:"created_by"      bson:"created_by"`
	CreatedAt      time.Time `grove:"created_at"      bson:"created_at"`
}

func toMovementModel(m *inventory.Movement) *movementModel {
	return &movementModel{
		ID:             m.ID.String(),
		TenantID:       m.TenantID,
		SiteID:         m.SiteID,
		ItemID:         m.ItemID,
		MovementType:   string(m.Type),
		Qty:            m.Qty.String(),
		UnitCost:       m.UnitCost.String(),
		TotalCost:      m.TotalCost.String(),
		BalanceAfter:   m.BalanceAfter.String(),
		EventID:        optionalID(m.EventID),
		TransactionID:  optionalID(m.TransactionID),
		IdempotencyKey: m.IdempotencyKey,
		CreatedBy:      m.CreatedBy,
		CreatedAt:      m.CreatedAt,
	}
}

func fromMovementModel(m *movementModel) (*inventory.Movement, error) {
	mvID, err := id.ParseMovementID(m.ID)
	if err != nil {
		return nil, err
	}
	eventID, err := parseOptional(m.EventID)
	if err != nil {
		return nil, err
	}
	txID, err := parseOptional(m.TransactionID)
	if err != nil {
		return nil, err
	}
	return &inventory.Movement{
		ID:             mvID,
		TenantID:       m.TenantID,
		SiteID:         m.SiteID,
		ItemID:         m.ItemID,
		Type:           inventory.MovementType(m.MovementType),
		Qty:            dec(m.Qty),
		UnitCost:       dec(m.UnitCost),
		TotalCost:      dec(m.TotalCost),
		BalanceAfter:   dec(m.BalanceAfter),
		EventID:        eventID,
		TransactionID:  txID,
		IdempotencyKey: m.IdempotencyKey,
		CreatedBy:      m.CreatedBy,
		CreatedAt:      m.CreatedAt,
	}, nil
}

// ==================== Requisition models ====================

type requisitionModel struct {
	grove.BaseModel `grove:"table:farmledger_requisitions"`

	ID             string    `grove:"id,pk"           bson:"_id"`
	TenantID       string    `grove:"tenant_id"       bson:"tenant_id"`
	SiteID         string    `grove:"site_id"         bson:"site_id"`
	ItemID         string    `grove:"item_id"         bson:"item_id"`
	Qty            string    `grove:"qty"             bson:"qty"`
	EstimatedCost  string    `grove:"estimated_cost"  bson:"estimated_cost"`
	AutoGenerated  bool      `grove:"auto_generated"  bson:"auto_generated"`
	TriggerBalance string    `grove:"trigger_balance" bson:"trigger_balance"`
	ReorderPoint   string    `grove:"reorder_point"   bson:"reorder_point"`
	Reason         string    `grove:"reason"          bson:"reason"`
	Status         string    `grove:"status"          bson:"status"`
	CreatedBy      string    `grove:"created_by"      bson:"created_by"`
	CreatedAt      time.Time `grove:"created_at"      bson:"created_at"`
	UpdatedAt      time.Time `grove:"updated_at"      bson:"updated_at"`
}

func toRequisitionModel(r *requisition.Requisition) *requisitionModel {
	return &requisitionModel{
		ID:             r.ID.String(),
		TenantID:       r.TenantID,
		SiteID:         r.SiteID,
		ItemID:         r.ItemID,
		Qty:            r.Qty.String(),
		EstimatedCost:  r.EstimatedCost.String(),
		AutoGenerated:  r.AutoGenerated,
		TriggerBalance: r.TriggerBalance.String(),
		ReorderPoint:   r.ReorderPoint.String(),
		Reason:         r.Reason,
		Status:         string(r.Status),
		CreatedBy:      r.CreatedBy,
		CreatedAt:      r.CreatedAt,
		UpdatedAt:      r.UpdatedAt,
	}
}

func fromRequisitionModel(m *requisitionModel) (*requisition.Requisition, error) {
	reqID, err := id.ParseRequisitionID(m.ID)
	if err != nil {
		return nil, err
	}
	return &requisition.Requisition{
		Entity: types.Entity{
			CreatedAt: m.CreatedAt,
			UpdatedAt: m.UpdatedAt,
		},
		ID:             reqID,
		TenantID:       m.TenantID,
		SiteID:         m.SiteID,
		ItemID:         m.ItemID,
		Qty:            dec(m.Qty),
		EstimatedCost:  dec(m.EstimatedCost),
		AutoGenerated:  m.AutoGenerated,
		TriggerBalance: dec(m.TriggerBalance),
		ReorderPoint:   dec(m.ReorderPoint),
		Reason:         m.Reason,
		Status:         requisition.Status(m.Status),
		CreatedBy:      m.CreatedBy,
	}, nil
}

// ==================== Conversion helpers ====================

// dec parses a stored amount. Values are written with Decimal.String, so a
// parse failure means a hand-edited document and reads as zero.
func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

func optionalID(i id.ID) string {
	if i.IsNil() {
		return ""
	}
	return i.String()
}

func parseOptional(s string) (id.ID, error) {
	if s == "" {
		return id.Nil, nil
	}
	return id.ParseAny(s)
}

func idStrings(ids []id.MovementID) []string {
	out := make([]string, len(ids))
	for i, v := range ids {
		out[i] = v.String()
	}
	return out
}

func decodePayload(raw string) (map[string]any, error) {
	out := map[string]any{}
	if raw == "" || raw == "null" {
		return out, nil
	}
	d := json.NewDecoder(bytes.NewReader([]byte(raw)))
	d.UseNumber()
	if err := d.Decode(&out); err != nil {
		return nil, err
	}
	return out, nil
}
