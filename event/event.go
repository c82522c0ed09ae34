// Package event defines the business events consumed by the posting engine.
//
// Events are written by an external collaborator in PENDING state and are
// moved through PROCESSING to POSTED or FAILED only by the engine's lock
// and finalize operations. The event's payload is stored as a generic
// document and decoded into a typed Payload at posting time.
package event

import (
	"context"
	"time"

	"github.com/xraph/farmledger/id"
	"github.com/xraph/farmledger/types"
)

// Type is the operational kind of an event.
type Type string

const (
	TypeInventoryAdjustment  Type = "INVENTORY_ADJUSTMENT"
	TypeFeedLivestock        Type = "FEED_LIVESTOCK"
	TypeReceivePurchaseOrder Type = "RECEIVE_PURCHASE_ORDER"
	TypeSale                 Type = "SALE"
	TypeSellLivestock        Type = "SELL_LIVESTOCK"
	TypePurchaseLivestock    Type = "PURCHASE_LIVESTOCK"
	TypeInventoryTransfer    Type = "INVENTORY_TRANSFER"
)

// Types lists every event kind the engine can post.
var Types = []Type{
	TypeInventoryAdjustment,
	TypeFeedLivestock,
	TypeReceivePurchaseOrder,
	TypeSale,
	TypeSellLivestock,
	TypePurchaseLivestock,
	TypeInventoryTransfer,
}

// KnownType reports whether t is one of Types.
func KnownType(t Type) bool {
	for _, k := range Types {
		if k == t {
			return true
		}
	}
	return false
}

// Status is the posting state of an event.
type Status string

const (
	StatusPending    Status = "PENDING"
	StatusProcessing Status = "PROCESSING"
	StatusPosted     Status = "POSTED"
	StatusFailed     Status = "FAILED"
)

// Lockable reports whether an event in this status may be claimed for posting.
func (s Status) Lockable() bool {
	return s == StatusPending || s == StatusFailed
}

// Event is a tenant- and site-scoped business fact.
type Event struct {
	types.Entity

	ID         id.EventID     `json:"id"`
	TenantID   string         `json:"tenant_id"`
	SiteID     string         `json:"site_id"`
	Type       Type           `json:"type"`
	Payload    map[string]any `json:"payload"`
	OccurredAt time.Time      `json:"occurred_at"`
	CreatedBy  string         `json:"created_by,omitempty"`

	Status         Status     `json:"status"`
	IdempotencyKey string     `json:"idempotency_key,omitempty"`
	LockedBy       string     `json:"locked_by,omitempty"`
	LockedAt       *time.Time `json:"locked_at,omitempty"`
	Attempts       int        `json:"attempts"`
	LastError      string     `json:"last_error,omitempty"`

	LedgerTransactionID  id.TransactionID `json:"ledger_transaction_id,omitempty"`
	InventoryMovementIDs []id.MovementID  `json:"inventory_movement_ids,omitempty"`
	PostedAt             *time.Time       `json:"posted_at,omitempty"`
}

// PostedResult is what the engine attaches to an event when it is finalized.
type PostedResult struct {
	IdempotencyKey string
	TransactionID  id.TransactionID
	MovementIDs    []id.MovementID
	PostedAt       time.Time
}

// ListOpts filters ListEvents. LockedBefore only applies to PROCESSING events.
type ListOpts struct {
	Status       Status
	LockedBefore time.Time
	// AttemptsBelow keeps only events claimed fewer times than this.
	// Zero disables the filter.
	AttemptsBelow int
	Limit         int
	Offset        int
}

// Store is the event collaborator.
//
// AcquireLock must be a single atomic compare-and-set from PENDING or FAILED
// to PROCESSING that increments Attempts; when no row matches it returns
// farmledger.ErrLockNotAcquired. ReleaseLock moves a PROCESSING event held by
// lockerID back to FAILED.
type Store interface {
	CreateEvent(ctx context.Context, e *Event) error
	GetEvent(ctx context.Context, tenantID string, eventID id.EventID) (*Event, error)
	ListEvents(ctx context.Context, tenantID string, opts ListOpts) ([]*Event, error)
	AcquireLock(ctx context.Context, tenantID string, eventID id.EventID, lockerID string, at time.Time) (*Event, error)
	MarkPosted(ctx context.Context, tenantID string, eventID id.EventID, res PostedResult) error
	MarkFailed(ctx context.Context, tenantID string, eventID id.EventID, errMsg string, at time.Time) error
	ReleaseLock(ctx context.Context, tenantID string, eventID id.EventID, lockerID, reason string, at time.Time) error
}
