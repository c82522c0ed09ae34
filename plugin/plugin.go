// Package plugin provides an extensible plugin system for the posting engine.
// Plugins hook into posting, reversal and inventory lifecycle events to
// add metrics, audit trails or notifications without touching the engine.
package plugin

import (
	"context"
	"time"

	"github.com/xraph/farmledger/event"
	"github.com/xraph/farmledger/inventory"
	"github.com/xraph/farmledger/journal"
	"github.com/xraph/farmledger/requisition"
)

// Plugin is the base interface that all plugins must implement.
type Plugin interface {
	Name() string
}

// ──────────────────────────────────────────────────
// Lifecycle hooks
// ──────────────────────────────────────────────────

// OnInit is called when the engine starts.
type OnInit interface {
	Plugin
	OnInit(ctx context.Context, engine any) error
}

// OnShutdown is called when the engine stops.
type OnShutdown interface {
	Plugin
	OnShutdown(ctx context.Context) error
}

// ──────────────────────────────────────────────────
// Posting hooks
// ──────────────────────────────────────────────────

// OnEventPosted is called after an event is finalized as POSTED.
// replayed is true when the ledger transaction already existed.
type OnEventPosted interface {
	Plugin
	OnEventPosted(ctx context.Context, evt *event.Event, tx *journal.Transaction, replayed bool, elapsed time.Duration) error
}

// OnEventFailed is called after a posting attempt fails and the event is
// marked FAILED.
type OnEventFailed interface {
	Plugin
	OnEventFailed(ctx context.Context, evt *event.Event, err error) error
}

// OnTransactionReversed is called after a reversal is committed.
type OnTransactionReversed interface {
	Plugin
	OnTransactionReversed(ctx context.Context, original, reversal *journal.Transaction) error
}

// ──────────────────────────────────────────────────
// Inventory hooks
// ──────────────────────────────────────────────────

// OnInventoryMoved is called for every newly applied movement.
type OnInventoryMoved interface {
	Plugin
	OnInventoryMoved(ctx context.Context, m *inventory.Movement, b *inventory.Balance) error
}

// OnReorderTriggered is called when an auto requisition is created.
type OnReorderTriggered interface {
	Plugin
	OnReorderTriggered(ctx context.Context, r *requisition.Requisition) error
}

// OnReorderFailed is called when the best-effort reorder check fails.
type OnReorderFailed interface {
	Plugin
	OnReorderFailed(ctx context.Context, tenantID, siteID, itemID string, err error) error
}

// ──────────────────────────────────────────────────
// Chart of accounts hooks
// ──────────────────────────────────────────────────

// OnAccountsSeeded is called after the default chart is seeded for a tenant.
type OnAccountsSeeded interface {
	Plugin
	OnAccountsSeeded(ctx context.Context, tenantID string, count int) error
}
