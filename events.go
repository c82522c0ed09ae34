package farmledger

import (
	"context"
	"time"

	"github.com/xraph/farmledger/event"
	"github.com/xraph/farmledger/id"
	"github.com/xraph/farmledger/tenant"
	"github.com/xraph/farmledger/types"
)

// SubmitEvent stores a new PENDING event. The payload is only decoded at
// posting time; SubmitEvent checks that the type is known.
func (e *Engine) SubmitEvent(ctx context.Context, evt *event.Event) error {
	if evt.TenantID == "" {
		return ValidationError{Field: "tenant_id", Message: "is required"}
	}
	if evt.SiteID == "" {
		return ValidationError{Field: "site_id", Message: "is required"}
	}
	if !event.KnownType(evt.Type) {
		return ErrUnknownEventType
	}

	now := e.now()
	if evt.ID.IsNil() {
		evt.ID = id.NewEventID()
	}
	if evt.OccurredAt.IsZero() {
		evt.OccurredAt = now
	}
	if evt.Payload == nil {
		evt.Payload = map[string]any{}
	}
	evt.Entity = types.NewEntityAt(now)
	evt.Status = event.StatusPending
	evt.Attempts = 0

	return e.events.CreateEvent(ctx, evt)
}

// GetEvent returns an event of a tenant.
func (e *Engine) GetEvent(ctx context.Context, tenantID string, eventID id.EventID) (*event.Event, error) {
	return e.events.GetEvent(ctx, tenantID, eventID)
}

// ListEvents returns a tenant's events filtered by opts.
func (e *Engine) ListEvents(ctx context.Context, tenantID string, opts event.ListOpts) ([]*event.Event, error) {
	return e.events.ListEvents(ctx, tenantID, opts)
}

// ListTenants returns every tenant.
func (e *Engine) ListTenants(ctx context.Context) ([]*tenant.Tenant, error) {
	return e.tenants.ListTenants(ctx)
}

// StaleLocks returns PROCESSING events locked before cutoff.
func (e *Engine) StaleLocks(ctx context.Context, tenantID string, cutoff time.Time) ([]*event.Event, error) {
	return e.events.ListEvents(ctx, tenantID, event.ListOpts{
		Status:       event.StatusProcessing,
		LockedBefore: cutoff,
	})
}

// ReleaseLock moves a PROCESSING event held by lockerID back to FAILED so it
// becomes eligible for a retry. It is never called automatically on a
// timeout; operators or an explicitly enabled sweep decide.
func (e *Engine) ReleaseLock(ctx context.Context, tenantID string, eventID id.EventID, lockerID, reason string) error {
	if err := e.events.ReleaseLock(ctx, tenantID, eventID, lockerID, reason, e.now()); err != nil {
		return err
	}
	e.logger.Warn("event lock released",
		"tenant_id", tenantID,
		"event_id", eventID.String(),
		"locked_by", lockerID,
		"reason", reason,
	)
	return nil
}
