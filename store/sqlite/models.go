package sqlite

import (
	"bytes"
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
	"github.com/xraph/grove"

	"github.com/xraph/farmledger/event"
	"github.com/xraph/farmledger/id"
	"github.com/xraph/farmledger/requisition"
	"github.com/xraph/farmledger/tenant"
	"github.com/xraph/farmledger/types"
)

type eventModel struct {
	grove.BaseModel `grove:"table:farmledger_events"`

	ID                   string     `grove:"id,pk"`
	TenantID             string     `grove:"tenant_id"`
	SiteID               string     `grove:"site_id"`
	Type                 string     `grove:"type"`
	Payload              string     `grove:"payload"`
	OccurredAt           time.Time  `grove:"occurred_at"`
	CreatedBy            string     `grove:"created_by"`
	Status               string     `grove:"status"`
	IdempotencyKey       string     `grove:"idempotency_key"`
	LockedBy             string     `grove:"locked_by"`
	LockedAt             *time.Time `grove:"locked_at"`
	Attempts             int        `grove:"attempts"`
	LastError            string     `grove:"last_error"`
	LedgerTransactionID  string     `grove:"ledger_transaction_id"`
	InventoryMovementIDs string     `grove:"inventory_movement_ids"`
	PostedAt             *time.Time `grove:"posted_at"`
	CreatedAt            time.Time  `grove:"created_at"`
	UpdatedAt            time.Time  `grove:"updated_at"`
}

func toEventModel(e *event.Event) (*eventModel, error) {
	payload, err := json.Marshal(e.Payload)
	if err != nil {
		return nil, err
	}
	movements, err := encodeIDs(e.InventoryMovementIDs)
	if err != nil {
		return nil, err
	}
	txID := ""
	if !e.LedgerTransactionID.IsNil() {
		txID = e.LedgerTransactionID.String()
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
		LedgerTransactionID:  txID,
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
	txID := id.Nil
	if m.LedgerTransactionID != "" {
		if txID, err = id.ParseTransactionID(m.LedgerTransactionID); err != nil {
			return nil, err
		}
	}

	payload := map[string]any{}
	if m.Payload != "" && m.Payload != "null" {
		dec := json.NewDecoder(bytes.NewReader([]byte(m.Payload)))
		dec.UseNumber()
		if err := dec.Decode(&payload); err != nil {
			return nil, err
		}
	}

	var movements []id.MovementID
	if m.InventoryMovementIDs != "" {
		var strs []string
		if err := json.Unmarshal([]byte(m.InventoryMovementIDs), &strs); err != nil {
			return nil, err
		}
		for _, s := range strs {
			mv, err := id.ParseMovementID(s)
			if err != nil {
				return nil, err
			}
			movements = append(movements, mv)
		}
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

func encodeIDs(ids []id.MovementID) (string, error) {
	strs := make([]string, len(ids))
	for i, v := range ids {
		strs[i] = v.String()
	}
	raw, err := json.Marshal(strs)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

type tenantModel struct {
	grove.BaseModel `grove:"table:farmledger_tenants"`

	ID        string    `grove:"id,pk"`
	Name      string    `grove:"name"`
	Settings  string    `grove:"settings"`
	CreatedAt time.Time `grove:"created_at"`
	UpdatedAt time.Time `grove:"updated_at"`
}

func toTenantModel(t *tenant.Tenant) (*tenantModel, error) {
	settings, err := json.Marshal(t.Settings)
	if err != nil {
		return nil, err
	}
	return &tenantModel{
		ID:        t.ID,
		Name:      t.Name,
		Settings:  string(settings),
		CreatedAt: t.CreatedAt,
		UpdatedAt: t.UpdatedAt,
	}, nil
}

func fromTenantModel(m *tenantModel) (*tenant.Tenant, error) {
	var settings tenant.Settings
	if m.Settings != "" {
		if err := json.Unmarshal([]byte(m.Settings), &settings); err != nil {
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

type requisitionModel struct {
	grove.BaseModel `grove:"table:farmledger_requisitions"`

	ID             string    `grove:"id,pk"`
	TenantID       string    `grove:"tenant_id"`
	SiteID         string    `grove:"site_id"`
	ItemID         string    `grove:"item_id"`
	Qty            string    `grove:"qty"`
	EstimatedCost  string    `grove:"estimated_cost"`
	AutoGenerated  bool      `grove:"auto_generated"`
	TriggerBalance string    `grove:"trigger_balance"`
	ReorderPoint   string    `grove:"reorder_point"`
	Reason         string    `grove:"reason"`
	Status         string    `grove:"status"`
	CreatedBy      string    `grove:"created_by"`
	CreatedAt      time.Time `grove:"created_at"`
	UpdatedAt      time.Time `grove:"updated_at"`
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
	amounts := make([]decimal.Decimal, 4)
	for i, s := range []string{m.Qty, m.EstimatedCost, m.TriggerBalance, m.ReorderPoint} {
		if amounts[i], err = decimal.NewFromString(s); err != nil {
			return nil, err
		}
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
		Qty:            amounts[0],
		EstimatedCost:  amounts[1],
		AutoGenerated:  m.AutoGenerated,
		TriggerBalance: amounts[2],
		ReorderPoint:   amounts[3],
		Reason:         m.Reason,
		Status:         requisition.Status(m.Status),
		CreatedBy:      m.CreatedBy,
	}, nil
}
