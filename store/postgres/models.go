package postgres

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

// ==================== Event models ====================

type eventModel struct {
	grove.BaseModel `grove:"table:farmledger_events"`

	ID                   string          `grove:"id,pk"`
	TenantID             string          `grove:"tenant_id"`
	SiteID               string          `grove:"site_id"`
	Type                 string          `grove:"type"`
	Payload              json.RawMessage `grove:"payload,type:jsonb"`
	OccurredAt           time.Time       `grove:"occurred_at"`
	CreatedBy            string          `grove:"created_by"`
	Status               string          `grove:"status"`
	IdempotencyKey       string          `grove:"idempotency_key"`
	LockedBy             string          `grove:"locked_by"`
	LockedAt             *time.Time      `grove:"locked_at"`
	Attempts             int             `grove:"attempts"`
	LastError            string          `grove:"last_error"`
	LedgerTransactionID  string          `grove:"ledger_transaction_id"`
	InventoryMovementIDs json.RawMessage `grove:"inventory_movement_ids,type:jsonb"`
	PostedAt             *time.Time      `grove:"posted_at"`
	CreatedAt            time.Time       `grove:"created_at"`
	UpdatedAt            time.Time       `grove:"updated_at"`
}

func toEventModel(e *event.Event) (*eventModel, error) {
	payload, err := json.Marshal(e.Payload)
	if err != nil {
		return nil, err
	}
	movements, err := json.Marshal(idStrings(e.InventoryMovementIDs))
	if err != nil {
		return nil, err
	}
	return &eventModel{
		ID:                   e.ID.String(),
		TenantID:             e.TenantID,
		SiteID:               e.SiteID,
		Type:                 string(e.Type),
		Payload:              payload,
		OccurredAt:           e.OccurredAt,
		CreatedBy:            e.CreatedBy,
		Status:               string(e.Status),
		IdempotencyKey:       e.IdempotencyKey,
		LockedBy:             e.LockedBy,
		LockedAt:             e.LockedAt,
		Attempts:             e.Attempts,
		LastError:            e.LastError,
		LedgerTransactionID:  optionalID(e.LedgerTransactionID),
		InventoryMovementIDs: movements,
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
	movements, err := decodeIDs(m.InventoryMovementIDs)
	if err != nil {
		return nil, err
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

	ID        string          `grove:"id,pk"`
	Name      string          `grove:"name"`
	Settings  json.RawMessage `grove:"settings,type:jsonb"`
	CreatedAt time.Time       `grove:"created_at"`
	UpdatedAt time.Time       `grove:"updated_at"`
}

func toTenantModel(t *tenant.Tenant) *tenantModel {
	settings, _ := toJSON(t.Settings) //nolint:errcheck // plain struct
	return &tenantModel{
		ID:        t.ID,
		Name:      t.Name,
		Settings:  settings,
		CreatedAt: t.CreatedAt,
		UpdatedAt: t.UpdatedAt,
	}
}

func fromTenantModel(m *tenantModel) (*tenant.Tenant, error) {
	var settings tenant.Settings
	if len(m.Settings) > 0 {
		if err := json.Unmarshal(m.Settings, &settings); err != nil {
			return nil, err
		}
	}
	return &tenant.Tenant{
		Entity: types.Entity{
			CreatedAt: m.CreatedAt,
			UpdatedAt: m.UpdatedAt,
		},
		ID:       m.ID,
		Name:     m.Name,
		Settings: settings,
	}, nil
}

// ==================== Account models ====================

type accountModel struct {
	grove.BaseModel `grove:"table:farmledger_accounts"`

	ID            string    `grove:"id,pk"`
	TenantID      string    `grove:"tenant_id"`
	Code          string    `grove:"code"`
	Name          string    `grove:"name"`
	Type          string    `grove:"type"`
	Subtype       string    `grove:"subtype"`
	NormalBalance string    `grove:"normal_balance"`
	IsSystem      bool      `grove:"is_system"`
	IsActive      bool      `grove:"is_active"`
	CreatedAt     time.Time `grove:"created_at"`
	UpdatedAt     time.Time `grove:"updated_at"`
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

	TenantID     string          `grove:"tenant_id,pk"`
	ID           string          `grove:"id,pk"`
	Name         string          `grove:"name"`
	Type         string          `grove:"type"`
	Unit         string          `grove:"unit"`
	ReorderPoint decimal.Decimal `grove:"reorder_point"`
	ReorderQty   decimal.Decimal `grove:"reorder_qty"`
	DefaultCost  decimal.Decimal `grove:"default_cost"`
	CreatedAt    time.Time       `grove:"created_at"`
	UpdatedAt    time.Time       `grove:"updated_at"`
}

func toItemModel(it *item.Item) *itemModel {
	return &itemModel{
		TenantID:     it.TenantID,
		ID:           it.ID,
		Name:         it.Name,
		Type:         string(it.Type),
		Unit:         it.Unit,
		ReorderPoint: it.ReorderPoint,
		ReorderQty:   it.ReorderQty,
		DefaultCost:  it.DefaultCost,
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
		ID:           m.ID,
		TenantID:     m.TenantID,
		Name:         m.Name,
		Type:         item.Type(m.Type),
		Unit:         m.Unit,
		ReorderPoint: m.ReorderPoint,
		ReorderQty:   m.ReorderQty,
		DefaultCost:  m.DefaultCost,
	}
}

// ==================== Journal models ====================

type transactionModel struct {
	grove.BaseModel `grove:"table:farmledger_transactions"`

	ID                      string    `grove:"id,pk"`
	TenantID                string    `grove:"tenant_id"`
	SiteID                  string    `grove:"site_id"`
	EventID                 string    `grove:"event_id"`
	OccurredAt              time.Time `grove:"occurred_at"`
	PostedAt                time.Time `grove:"posted_at"`
	Status                  string    `grove:"status"`
	Memo                    string    `grove:"memo"`
	IdempotencyKey          string    `grove:"idempotency_key"`
	ReversesTransactionID   string    `grove:"reverses_transaction_id"`
	ReversedByTransactionID string    `grove:"reversed_by_transaction_id"`
	ReversalReason          string    `grove:"reversal_reason"`
	CreatedAt               time.Time `grove:"created_at"`
	UpdatedAt               time.Time `grove:"updated_at"`
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

	ID            string          `grove:"id,pk"`
	TransactionID string          `grove:"transaction_id"`
	TenantID      string          `grove:"tenant_id"`
	LineNo        int             `grove:"line_no"`
	AccountID     string          `grove:"account_id"`
	AccountCode   string          `grove:"account_code"`
	Debit         decimal.Decimal `grove:"debit"`
	Credit        decimal.Decimal `grove:"credit"`
	EntityType    string          `grove:"entity_type"`
	EntityID      string          `grove:"entity_id"`
	Memo          string          `grove:"memo"`
	CreatedAt     time.Time       `grove:"created_at"`
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
		Debit:         m.Debit,
		Credit:        m.Credit,
		EntityType:    journal.EntityType(m.EntityType),
		EntityID:      m.EntityID,
		Memo:          m.Memo,
		CreatedAt:     m.CreatedAt,
	}, nil
}

// entryRow is the jsonb_to_recordset shape used to insert all entries of a
// transaction in the same statement as the header.
type entryRow struct {
	ID          string          `json:"id"`
	TenantID    string          `json:"tenant_id"`
	LineNo      int             `json:"line_no"`
	AccountID   string          `json:"account_id"`
	AccountCode string          `json:"account_code"`
	Debit       decimal.Decimal `json:"debit"`
	Credit      decimal.Decimal `json:"credit"`
	EntityType  string          `json:"entity_type"`
	EntityID    string          `json:"entity_id"`
	Memo        string          `json:"memo"`
	CreatedAt   time.Time       `json:"created_at"`
}

func entryRows(entries []*journal.Entry) ([]byte, error) {
	rows := make([]entryRow, len(entries))
	for i, e := range entries {
		rows[i] = entryRow{
			ID:          e.ID.String(),
			TenantID:    e.TenantID,
			LineNo:      e.LineNo,
			AccountID:   optionalID(e.AccountID),
			AccountCode: e.AccountCode,
			Debit:       e.Debit,
			Credit:      e.Credit,
			EntityType:  string(e.EntityType),
			EntityID:    e.EntityID,
			Memo:        e.Memo,
			CreatedAt:   e.CreatedAt,
		}
	}
	return json.Marshal(rows)
}

// ==================== Inventory models ====================

type balanceModel struct {
	grove.BaseModel `grove:"table:farmledger_balances"`

	TenantID       string          `grove:"tenant_id,pk"`
	SiteID         string          `grove:"site_id,pk"`
	ItemID         string          `grove:"item_id,pk"`
	QtyOnHand      decimal.Decimal `grove:"qty_on_hand"`
	AvgCostPerUnit decimal.Decimal `grove:"avg_cost_per_unit"`
	Version        int64           `grove:"version"`
	UpdatedAt      time.Time       `grove:"updated_at"`
}

func fromBalanceModel(m *balanceModel) *inventory.Balance {
	return &inventory.Balance{
		TenantID:       m.TenantID,
		SiteID:         m.SiteID,
		ItemID:         m.ItemID,
		QtyOnHand:      m.QtyOnHand,
		AvgCostPerUnit: m.AvgCostPerUnit,
		Version:        m.Version,
		UpdatedAt:      m.UpdatedAt,
	}
}

type movementModel struct {
	grove.BaseModel `grove:"table:farmledger_movements"`

	ID             string          `grove:"id,pk"`
	TenantID       string          `grove:"tenant_id"`
	SiteID         string          `grove:"site_id"`
	ItemID         string          `grove:"item_id"`
	MovementType   string          `grove:"movement_type"`
	Qty            decimal.Decimal `grove:"qty"`
	UnitCost       decimal.Decimal `grove:"unit_cost"`
	TotalCost      decimal.Decimal `grove:"total_cost"`
	BalanceAfter   decimal.Decimal `grove:"balance_after"`
	EventID        string          `grove:"event_id"`
	TransactionID  string          `grove:"transaction_id"`
	IdempotencyKey string          `grove:"idempotency_key"`
	CreatedBy      string          `grove:"created_by"`
	CreatedAt      time.Time       `grove:"created_at"`
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
		Qty:            m.Qty,
		UnitCost:       m.UnitCost,
		TotalCost:      m.TotalCost,
		BalanceAfter:   m.BalanceAfter,
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

	ID             string          `grove:"id,pk"`
	TenantID       string          `grove:"tenant_id"`
	SiteID         string          `grove:"site_id"`
	ItemID         string          `grove:"item_id"`
	Qty            decimal.Decimal `grove:"qty"`
	EstimatedCost  decimal.Decimal `grove:"estimated_cost"`
	AutoGenerated  bool            `grove:"auto_generated"`
	TriggerBalance decimal.Decimal `grove:"trigger_balance"`
	ReorderPoint   decimal.Decimal `grove:"reorder_point"`
	Reason         string          `grove:"reason"`
	Status         string          `grove:"status"`
	CreatedBy      string          `grove:"created_by"`
	CreatedAt      time.Time       `grove:"created_at"`
	UpdatedAt      time.Time       `grove:"updated_at"`
}

func toRequisitionModel(r *requisition.Requisition) *requisitionModel {
	return &requisitionModel{
		ID:             r.ID.String(),
		TenantID:       r.TenantID,
		SiteID:         r.SiteID,
		ItemID:         r.ItemID,
		Qty:            r.Qty,
		EstimatedCost:  r.EstimatedCost,
		AutoGenerated:  r.AutoGenerated,
		TriggerBalance: r.TriggerBalance,
		ReorderPoint:   r.ReorderPoint,
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
		Qty:            m.Qty,
		EstimatedCost:  m.EstimatedCost,
		AutoGenerated:  m.AutoGenerated,
		TriggerBalance: m.TriggerBalance,
		ReorderPoint:   m.ReorderPoint,
		Reason:         m.Reason,
		Status:         requisition.Status(m.Status),
		CreatedBy:      m.CreatedBy,
	}, nil
}

// ==================== Conversion helpers ====================

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

func decodeIDs(raw json.RawMessage) ([]id.MovementID, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	var strs []string
	if err := json.Unmarshal(raw, &strs); err != nil {
		return nil, err
	}
	if len(strs) == 0 {
		return nil, nil
	}
	out := make([]id.MovementID, len(strs))
	for i, s := range strs {
		mv, err := id.ParseMovementID(s)
		if err != nil {
			return nil, err
		}
		out[i] = mv
	}
	return out, nil
}

// decodePayload keeps numbers as json.Number so amounts are not rounded
// through float64 and the idempotency key stays stable across reads.
func decodePayload(raw json.RawMessage) (map[string]any, error) {
	out := map[string]any{}
	if len(raw) == 0 || string(raw) == "null" {
		return out, nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&out); err != nil {
		return nil, err
	}
	return out, nil
}

func toJSON(v any) (json.RawMessage, error) {
	return json.Marshal(v)
}
