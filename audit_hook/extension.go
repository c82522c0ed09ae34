// Package audithook bridges farmledger lifecycle events to an audit trail backend.
//
// It defines a local Recorder interface so the package does not depend on a
// particular audit store. Callers inject a RecorderFunc adapter at wiring time.
package audithook

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/xraph/farmledger/event"
	"github.com/xraph/farmledger/inventory"
	"github.com/xraph/farmledger/journal"
	"github.com/xraph/farmledger/plugin"
	"github.com/xraph/farmledger/requisition"
)

// Compile-time interface checks.
var (
	_ plugin.Plugin                = (*Extension)(nil)
	_ plugin.OnEventPosted         = (*Extension)(nil)
	_ plugin.OnEventFailed         = (*Extension)(nil)
	_ plugin.OnTransactionReversed = (*Extension)(nil)
	_ plugin.OnInventoryMoved      = (*Extension)(nil)
	_ plugin.OnReorderTriggered    = (*Extension)(nil)
	_ plugin.OnReorderFailed       = (*Extension)(nil)
	_ plugin.OnAccountsSeeded      = (*Extension)(nil)
)

// Recorder is the interface that audit backends must implement.
type Recorder interface {
	Record(ctx context.Context, event *AuditEvent) error
}

// AuditEvent is a single audit trail record.
type AuditEvent struct {
	Action     string         `json:"action"`
	Resource   string         `json:"resource"`
	Category   string         `json:"category"`
	TenantID   string         `json:"tenant_id,omitempty"`
	ResourceID string         `json:"resource_id,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	Outcome    string         `json:"outcome"`
	Severity   string         `json:"severity"`
	Reason     string         `json:"reason,omitempty"`
}

// RecorderFunc is an adapter to use a plain function as a Recorder.
type RecorderFunc func(ctx context.Context, event *AuditEvent) error

// Record implements Recorder.
func (f RecorderFunc) Record(ctx context.Context, event *AuditEvent) error {
	return f(ctx, event)
}

// Extension bridges farmledger lifecycle events to an audit trail backend.
type Extension struct {
	recorder Recorder
	enabled  map[string]bool // nil = all enabled
	logger   *slog.Logger
}

// New creates an Extension that emits audit events through the provided Recorder.
func New(r Recorder, opts ...Option) *Extension {
	e := &Extension{
		recorder: r,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Name implements plugin.Plugin.
func (e *Extension) Name() string { return "audit-hook" }

// ──────────────────────────────────────────────────
// Posting hooks
// ──────────────────────────────────────────────────

// OnEventPosted implements plugin.OnEventPosted.
func (e *Extension) OnEventPosted(ctx context.Context, evt *event.Event, tx *journal.Transaction, replayed bool, elapsed time.Duration) error {
	action := ActionEventPosted
	if replayed {
		action = ActionEventReplayed
	}
	return e.record(ctx, action, SeverityInfo, OutcomeSuccess,
		ResourceEvent, evt.TenantID, evt.ID.String(), CategoryPosting, nil,
		"event_type", string(evt.Type),
		"site_id", evt.SiteID,
		"transaction_id", tx.ID.String(),
		"idempotency_key", tx.IdempotencyKey,
		"movements", len(evt.InventoryMovementIDs),
		"attempts", evt.Attempts,
		"elapsed_ms", elapsed.Milliseconds(),
	)
}

// OnEventFailed implements plugin.OnEventFailed.
func (e *Extension) OnEventFailed(ctx context.Context, evt *event.Event, err error) error {
	return e.record(ctx, ActionEventFailed, SeverityError, OutcomeFailure,
		ResourceEvent, evt.TenantID, evt.ID.String(), CategoryPosting, err,
		"event_type", string(evt.Type),
		"site_id", evt.SiteID,
		"attempts", evt.Attempts,
	)
}

// ──────────────────────────────────────────────────
// Ledger hooks
// ──────────────────────────────────────────────────

// OnTransactionReversed implements plugin.OnTransactionReversed.
func (e *Extension) OnTransactionReversed(ctx context.Context, original, reversal *journal.Transaction) error {
	return e.record(ctx, ActionTransactionReversed, SeverityWarning, OutcomeSuccess,
		ResourceTransaction, original.TenantID, original.ID.String(), CategoryLedger, nil,
		"reversal_id", reversal.ID.String(),
		"reason", reversal.ReversalReason,
	)
}

// ──────────────────────────────────────────────────
// Inventory hooks
// ──────────────────────────────────────────────────

// OnInventoryMoved implements plugin.OnInventoryMoved.
func (e *Extension) OnInventoryMoved(ctx context.Context, m *inventory.Movement, b *inventory.Balance) error {
	return e.record(ctx, ActionInventoryMoved, SeverityInfo, OutcomeSuccess,
		ResourceMovement, m.TenantID, m.ID.String(), CategoryInventory, nil,
		"site_id", m.SiteID,
		"item_id", m.ItemID,
		"movement_type", string(m.Type),
		"qty", m.Qty.String(),
		"total_cost", m.TotalCost.String(),
		"balance_after", b.QtyOnHand.String(),
	)
}

// OnReorderTriggered implements plugin.OnReorderTriggered.
func (e *Extension) OnReorderTriggered(ctx context.Context, r *requisition.Requisition) error {
	return e.record(ctx, ActionReorderTriggered, SeverityInfo, OutcomeSuccess,
		ResourceRequisition, r.TenantID, r.ID.String(), CategoryPurchasing, nil,
		"site_id", r.SiteID,
		"item_id", r.ItemID,
		"qty", r.Qty.String(),
		"trigger_balance", r.TriggerBalance.String(),
	)
}

// OnReorderFailed implements plugin.OnReorderFailed.
func (e *Extension) OnReorderFailed(ctx context.Context, tenantID, siteID, itemID string, err error) error {
	return e.record(ctx, ActionReorderFailed, SeverityWarning, OutcomeFailure,
		ResourceRequisition, tenantID, "", CategoryPurchasing, err,
		"site_id", siteID,
		"item_id", itemID,
	)
}

// OnAccountsSeeded implements plugin.OnAccountsSeeded.
func (e *Extension) OnAccountsSeeded(ctx context.Context, tenantID string, count int) error {
	return e.record(ctx, ActionAccountsSeeded, SeverityInfo, OutcomeSuccess,
		ResourceChart, tenantID, tenantID, CategorySetup, nil,
		"accounts", count,
	)
}

// ──────────────────────────────────────────────────
// Internal helpers
// ──────────────────────────────────────────────────

// record builds and sends an audit event if the action is enabled.
func (e *Extension) record(
	ctx context.Context,
	action, severity, outcome string,
	resource, tenantID, resourceID, category string,
	err error,
	kvPairs ...any,
) error {
	if e.enabled != nil && !e.enabled[action] {
		return nil
	}

	meta := make(map[string]any, len(kvPairs)/2+1)
	for i := 0; i+1 < len(kvPairs); i += 2 {
		key, ok := kvPairs[i].(string)
		if !ok {
			key = fmt.Sprintf("%v", kvPairs[i])
		}
		meta[key] = kvPairs[i+1]
	}

	var reason string
	if err != nil {
		reason = err.Error()
		meta["error"] = err.Error()
	}

	evt := &AuditEvent{
		Action:     action,
		Resource:   resource,
		Category:   category,
		TenantID:   tenantID,
		ResourceID: resourceID,
		Metadata:   meta,
		Outcome:    outcome,
		Severity:   severity,
		Reason:     reason,
	}

	if recErr := e.recorder.Record(ctx, evt); recErr != nil {
		e.logger.Warn("audit_hook: failed to record audit event",
			"action", action,
			"resource_id", resourceID,
			"error", recErr,
		)
	}
	return nil
}
