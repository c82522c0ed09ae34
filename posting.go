package farmledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/xraph/farmledger/event"
	"github.com/xraph/farmledger/gl"
	"github.com/xraph/farmledger/id"
	"github.com/xraph/farmledger/idempotency"
	"github.com/xraph/farmledger/item"
	"github.com/xraph/farmledger/journal"
	"github.com/xraph/farmledger/tenant"
	"github.com/xraph/farmledger/types"
)

// PostingResult is the outcome of ProcessEvent.
type PostingResult struct {
	Success              bool
	TransactionID        id.TransactionID
	AlreadyPosted        bool
	EntriesCount         int
	InventoryMovementIDs []id.MovementID
}

// ProcessEvent posts one event: it claims the event, derives the
// idempotency key, computes and validates the GL lines, writes the ledger
// transaction atomically, applies the inventory side effects and finalizes
// the event as POSTED.
//
// An event that is already POSTED yields AlreadyPosted without side
// effects. Any failure after the event was claimed marks it FAILED and the
// original error is returned. lockerID defaults to the engine's worker id.
func (e *Engine) ProcessEvent(ctx context.Context, tenantID string, eventID id.EventID, lockerID string) (res *PostingResult, err error) {
	ctx, span := e.tracer.Start(ctx, "farmledger.ProcessEvent", trace.WithAttributes(
		attribute.String("farmledger.tenant_id", tenantID),
		attribute.String("farmledger.event_id", eventID.String()),
	))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else if res != nil {
			span.SetAttributes(attribute.Bool("farmledger.already_posted", res.AlreadyPosted))
		}
		span.End()
	}()

	if lockerID == "" {
		lockerID = e.workerID
	}
	start := e.now()

	evt, err := e.events.AcquireLock(ctx, tenantID, eventID, lockerID, start)
	if err != nil {
		if !errors.Is(err, ErrLockNotAcquired) {
			return nil, err
		}
		cur, getErr := e.events.GetEvent(ctx, tenantID, eventID)
		if getErr != nil {
			return nil, getErr
		}
		if cur.Status == event.StatusPosted {
			return &PostingResult{
				Success:              true,
				TransactionID:        cur.LedgerTransactionID,
				AlreadyPosted:        true,
				InventoryMovementIDs: cur.InventoryMovementIDs,
			}, nil
		}
		return nil, &InvalidEventStateError{EventID: eventID.String(), Status: cur.Status}
	}

	res, err = e.post(ctx, evt, start)
	if err != nil {
		e.fail(ctx, evt, err)
		return nil, err
	}
	return res, nil
}

func (e *Engine) post(ctx context.Context, evt *event.Event, start time.Time) (*PostingResult, error) {
	t, err := e.tenants.GetTenant(ctx, evt.TenantID)
	if err != nil {
		return nil, err
	}

	key, err := idempotency.Key(evt.TenantID, evt.ID.String(), evt.Payload, e.profileVersion)
	if err != nil {
		return nil, err
	}

	payload, err := event.DecodePayload(evt.Type, evt.Payload)
	if err != nil {
		return nil, err
	}

	existing, err := e.journal.FindByIdempotencyKey(ctx, evt.TenantID, key)
	switch {
	case err == nil:
		return e.replay(ctx, evt, t, payload, existing, start)
	case !errors.Is(err, ErrTransactionNotFound):
		return nil, err
	}

	itemType, err := e.resolveItemType(ctx, evt.TenantID, payload)
	if err != nil {
		return nil, err
	}
	if err := e.resolveTransferCost(ctx, evt.TenantID, payload); err != nil {
		return nil, err
	}
	if err := e.resolveFeedQuantity(ctx, evt, payload); err != nil {
		return nil, err
	}

	accts, err := e.accounts.GetAccounts(ctx, evt.TenantID)
	if err != nil {
		return nil, err
	}
	lines, err := gl.Compute(gl.NewChart(accts), gl.Input{
		Payload:  payload,
		Settings: t.Settings,
		ItemType: itemType,
	})
	if err != nil {
		return nil, err
	}

	tx, entries := e.buildTransaction(evt, lines, key)
	if err := journal.ValidateBalance(entries); err != nil {
		return nil, err
	}

	if err := e.journal.CreateTransaction(ctx, tx, entries); err != nil {
		if !errors.Is(err, ErrDuplicateIdempotencyKey) {
			return nil, err
		}
		// Lost a race with an equivalent submission.
		existing, findErr := e.journal.FindByIdempotencyKey(ctx, evt.TenantID, key)
		if findErr != nil {
			return nil, findErr
		}
		return e.replay(ctx, evt, t, payload, existing, start)
	}

	return e.finalize(ctx, evt, t, payload, tx, len(entries), false, start)
}

// replay finalizes an event whose ledger transaction already exists. The
// inventory effects are re-applied under their dedup keys, so movements
// that were recorded before an earlier failure are not duplicated.
func (e *Engine) replay(ctx context.Context, evt *event.Event, t *tenant.Tenant, payload event.Payload, tx *journal.Transaction, start time.Time) (*PostingResult, error) {
	if err := e.resolveTransferCost(ctx, evt.TenantID, payload); err != nil {
		return nil, err
	}
	if err := e.resolveFeedQuantity(ctx, evt, payload); err != nil {
		return nil, err
	}
	entries, err := e.journal.GetEntries(ctx, evt.TenantID, tx.ID)
	if err != nil {
		return nil, err
	}
	e.logger.Info("idempotency key already posted",
		"tenant_id", evt.TenantID,
		"event_id", evt.ID.String(),
		"transaction_id", tx.ID.String(),
	)
	return e.finalize(ctx, evt, t, payload, tx, len(entries), true, start)
}

func (e *Engine) finalize(ctx context.Context, evt *event.Event, t *tenant.Tenant, payload event.Payload, tx *journal.Transaction, entriesCount int, replayed bool, start time.Time) (*PostingResult, error) {
	movementIDs, err := e.applyInventoryEffects(ctx, evt, t, payload, tx)
	if err != nil {
		return nil, err
	}

	postedAt := e.now()
	if err := e.events.MarkPosted(ctx, evt.TenantID, evt.ID, event.PostedResult{
		IdempotencyKey: tx.IdempotencyKey,
		TransactionID:  tx.ID,
		MovementIDs:    movementIDs,
		PostedAt:       postedAt,
	}); err != nil {
		return nil, err
	}

	evt.Status = event.StatusPosted
	evt.IdempotencyKey = tx.IdempotencyKey
	evt.LedgerTransactionID = tx.ID
	evt.InventoryMovementIDs = movementIDs
	evt.PostedAt = &postedAt
	evt.LockedBy = ""
	evt.LockedAt = nil
	evt.LastError = ""

	elapsed := postedAt.Sub(start)
	e.plugins.EmitEventPosted(ctx, evt, tx, replayed, elapsed)

	e.logger.Info("event posted",
		"tenant_id", evt.TenantID,
		"event_id", evt.ID.String(),
		"event_type", string(evt.Type),
		"transaction_id", tx.ID.String(),
		"movements", len(movementIDs),
		"already_posted", replayed,
		"elapsed_ms", elapsed.Milliseconds(),
	)

	return &PostingResult{
		Success:              true,
		TransactionID:        tx.ID,
		AlreadyPosted:        replayed,
		EntriesCount:         entriesCount,
		InventoryMovementIDs: movementIDs,
	}, nil
}

// fail records cause on the event. It runs on a context detached from the
// caller's cancellation so a cancelled request still leaves an audit trail.
func (e *Engine) fail(ctx context.Context, evt *event.Event, cause error) {
	ctx = context.WithoutCancel(ctx)
	at := e.now()

	if err := e.events.MarkFailed(ctx, evt.TenantID, evt.ID, cause.Error(), at); err != nil {
		e.logger.Error("failed to mark event failed",
			"tenant_id", evt.TenantID,
			"event_id", evt.ID.String(),
			"error", err,
		)
	}

	evt.Status = event.StatusFailed
	evt.LastError = cause.Error()
	evt.LockedBy = ""
	evt.LockedAt = nil

	e.plugins.EmitEventFailed(ctx, evt, cause)

	e.logger.Warn("event posting failed",
		"tenant_id", evt.TenantID,
		"event_id", evt.ID.String(),
		"event_type", string(evt.Type),
		"attempts", evt.Attempts,
		"error", cause,
	)
}

func (e *Engine) buildTransaction(evt *event.Event, lines []gl.Line, key string) (*journal.Transaction, []*journal.Entry) {
	now := e.now()
	tx := &journal.Transaction{
		Entity:         types.NewEntityAt(now),
		ID:             id.NewTransactionID(),
		TenantID:       evt.TenantID,
		SiteID:         evt.SiteID,
		EventID:        evt.ID,
		OccurredAt:     evt.OccurredAt,
		PostedAt:       now,
		Status:         journal.StatusPosted,
		Memo:           fmt.Sprintf("%s %s", evt.Type, evt.ID),
		IdempotencyKey: key,
	}

	entries := make([]*journal.Entry, 0, len(lines))
	for i, l := range lines {
		entries = append(entries, &journal.Entry{
			ID:            id.NewEntryID(),
			TransactionID: tx.ID,
			TenantID:      evt.TenantID,
			LineNo:        i + 1,
			AccountID:     l.AccountID,
			AccountCode:   l.AccountCode,
			Debit:         l.Debit,
			Credit:        l.Credit,
			EntityType:    l.EntityType,
			EntityID:      l.EntityID,
			Memo:          l.Memo,
			CreatedAt:     now,
		})
	}
	return tx, entries
}

// resolveItemType returns the item type selecting the inventory account.
// The payload's own itemType wins; otherwise the item master is consulted.
func (e *Engine) resolveItemType(ctx context.Context, tenantID string, payload event.Payload) (item.Type, error) {
	var (
		itemID   string
		explicit item.Type
	)
	switch p := payload.(type) {
	case *event.InventoryAdjustment:
		itemID, explicit = p.ItemID, p.ItemType
	case *event.ReceivePurchaseOrder:
		itemID, explicit = p.ItemID, p.ItemType
	case *event.InventoryTransfer:
		itemID, explicit = p.ItemID, p.ItemType
	default:
		return "", nil
	}
	if explicit != "" {
		return explicit, nil
	}
	it, err := e.items.GetItem(ctx, tenantID, itemID)
	if err != nil {
		return "", err
	}
	return it.Type, nil
}

// resolveTransferCost fills a transfer's unit cost from the source site's
// average when the payload carries neither unit nor total cost.
func (e *Engine) resolveTransferCost(ctx context.Context, tenantID string, payload event.Payload) error {
	p, ok := payload.(*event.InventoryTransfer)
	if !ok || !p.UnitCost.IsZero() || !p.TotalCost.IsZero() {
		return nil
	}
	bal, err := e.inventory.GetBalance(ctx, tenantID, p.FromSiteID, p.ItemID)
	if err != nil {
		return err
	}
	p.UnitCost = bal.AvgCostPerUnit
	return nil
}

// quantityPlaces matches the NUMERIC(20,6) scale of stored quantities.
const quantityPlaces = 6

// resolveFeedQuantity derives the consumed quantity of a feeding that only
// carries its cost, using the site's average cost per unit.
func (e *Engine) resolveFeedQuantity(ctx context.Context, evt *event.Event, payload event.Payload) error {
	p, ok := payload.(*event.FeedLivestock)
	if !ok || !p.Quantity.IsZero() || p.TotalCost.IsZero() {
		return nil
	}
	bal, err := e.inventory.GetBalance(ctx, evt.TenantID, evt.SiteID, p.FeedItemID)
	if err != nil {
		return err
	}
	if !bal.AvgCostPerUnit.IsPositive() {
		return fmt.Errorf("%w: %s: quantity is required when site %s has no average cost for %s",
			ErrInvalidPayload, evt.Type, evt.SiteID, p.FeedItemID)
	}
	p.Quantity = p.TotalCost.DivRound(bal.AvgCostPerUnit, quantityPlaces)
	return nil
}
