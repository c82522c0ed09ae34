package sweep_test

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xraph/farmledger"
	"github.com/xraph/farmledger/event"
	"github.com/xraph/farmledger/item"
	"github.com/xraph/farmledger/store/memory"
	"github.com/xraph/farmledger/sweep"
	"github.com/xraph/farmledger/tenant"
)

const tenantID = "t1"

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type harness struct {
	ctx    context.Context
	mem    *memory.Store
	engine *farmledger.Engine
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	ctx := context.Background()
	mem := memory.New()
	e := farmledger.New(mem, farmledger.WithLogger(quietLogger()))
	require.NoError(t, e.Start(ctx))
	t.Cleanup(func() { _ = e.Stop() })

	require.NoError(t, mem.CreateTenant(ctx, &tenant.Tenant{
		ID: tenantID, Name: "Valley Farm",
		Settings: tenant.Settings{LivestockCostingMode: tenant.CostingExpense},
	}))
	_, err := e.SeedChartOfAccounts(ctx, tenantID)
	require.NoError(t, err)
	return &harness{ctx: ctx, mem: mem, engine: e}
}

func (h *harness) submitReceipt(t *testing.T, itemID string) *event.Event {
	t.Helper()
	evt := &event.Event{
		TenantID: tenantID, SiteID: "A", Type: event.TypeReceivePurchaseOrder,
		Payload: map[string]any{"itemId": itemID, "quantity": 5, "unitCost": 3, "paymentMethod": "CASH"},
	}
	require.NoError(t, h.engine.SubmitEvent(h.ctx, evt))
	return evt
}

func (h *harness) createItem(t *testing.T, itemID string) {
	t.Helper()
	require.NoError(t, h.mem.CreateItem(h.ctx, &item.Item{
		ID: itemID, TenantID: tenantID, Name: "Feed", Type: item.TypeFeed, Unit: "kg",
	}))
}

func (h *harness) status(t *testing.T, evt *event.Event) *event.Event {
	t.Helper()
	got, err := h.engine.GetEvent(h.ctx, tenantID, evt.ID)
	require.NoError(t, err)
	return got
}

func TestRunOnceRetriesFailedEvents(t *testing.T) {
	h := newHarness(t)
	evt := h.submitReceipt(t, "F1")

	_, err := h.engine.ProcessEvent(h.ctx, tenantID, evt.ID, "")
	require.ErrorIs(t, err, farmledger.ErrItemNotFound)
	require.Equal(t, event.StatusFailed, h.status(t, evt).Status)

	// The missing master data arrives later.
	h.createItem(t, "F1")

	s := sweep.New(h.engine, sweep.Config{}, sweep.WithLogger(quietLogger()))
	report, err := s.RunOnce(h.ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Retried)
	assert.Equal(t, 1, report.Posted)
	assert.Zero(t, report.Failed)

	got := h.status(t, evt)
	assert.Equal(t, event.StatusPosted, got.Status)
	assert.Equal(t, 2, got.Attempts)
}

func TestRunOnceStopsAtMaxAttempts(t *testing.T) {
	h := newHarness(t)
	evt := h.submitReceipt(t, "F1")
	_, err := h.engine.ProcessEvent(h.ctx, tenantID, evt.ID, "")
	require.Error(t, err)

	s := sweep.New(h.engine, sweep.Config{MaxAttempts: 1}, sweep.WithLogger(quietLogger()))
	report, err := s.RunOnce(h.ctx)
	require.NoError(t, err)
	assert.Zero(t, report.Retried)
	assert.Equal(t, 1, h.status(t, evt).Attempts)
}

func TestRunOnceReachesRetryableBehindExhausted(t *testing.T) {
	h := newHarness(t)
	s := sweep.New(h.engine, sweep.Config{MaxAttempts: 2, BatchSize: 2}, sweep.WithLogger(quietLogger()))

	// Two events that can never post take both retries.
	exhausted := []*event.Event{h.submitReceipt(t, "gone-1"), h.submitReceipt(t, "gone-2")}
	for _, evt := range exhausted {
		_, err := h.engine.ProcessEvent(h.ctx, tenantID, evt.ID, "")
		require.Error(t, err)
	}
	report, err := s.RunOnce(h.ctx)
	require.NoError(t, err)
	require.Equal(t, 2, report.Failed)
	for _, evt := range exhausted {
		require.Equal(t, 2, h.status(t, evt).Attempts)
	}

	// A later event fails once, then its item appears.
	fixable := h.submitReceipt(t, "F1")
	_, err = h.engine.ProcessEvent(h.ctx, tenantID, fixable.ID, "")
	require.Error(t, err)
	h.createItem(t, "F1")

	report, err = s.RunOnce(h.ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Retried)
	assert.Equal(t, 1, report.Posted)

	got := h.status(t, fixable)
	assert.Equal(t, event.StatusPosted, got.Status)
	assert.Equal(t, 2, got.Attempts)
	for _, evt := range exhausted {
		assert.Equal(t, event.StatusFailed, h.status(t, evt).Status)
		assert.Equal(t, 2, h.status(t, evt).Attempts)
	}
}

func TestRunOnceCountsFailedRetries(t *testing.T) {
	h := newHarness(t)
	evt := h.submitReceipt(t, "F1")
	_, err := h.engine.ProcessEvent(h.ctx, tenantID, evt.ID, "")
	require.Error(t, err)

	s := sweep.New(h.engine, sweep.Config{}, sweep.WithLogger(quietLogger()))
	report, err := s.RunOnce(h.ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Retried)
	assert.Equal(t, 1, report.Failed)
	assert.Equal(t, event.StatusFailed, h.status(t, evt).Status)
}

func TestStaleLocksAreReportedNotReleased(t *testing.T) {
	h := newHarness(t)
	h.createItem(t, "F1")
	evt := h.submitReceipt(t, "F1")

	lockedAt := time.Now().Add(-2 * time.Hour)
	_, err := h.mem.AcquireLock(h.ctx, tenantID, evt.ID, "crashed-worker", lockedAt)
	require.NoError(t, err)

	s := sweep.New(h.engine, sweep.Config{StaleLockAfter: time.Hour}, sweep.WithLogger(quietLogger()))
	report, err := s.RunOnce(h.ctx)
	require.NoError(t, err)

	require.Len(t, report.Stale, 1)
	assert.Equal(t, evt.ID, report.Stale[0].EventID)
	assert.Equal(t, "crashed-worker", report.Stale[0].LockedBy)
	assert.False(t, report.Stale[0].Released)

	got := h.status(t, evt)
	assert.Equal(t, event.StatusProcessing, got.Status)
	assert.Equal(t, "crashed-worker", got.LockedBy)
}

func TestStaleLocksIgnoredWithoutThreshold(t *testing.T) {
	h := newHarness(t)
	h.createItem(t, "F1")
	evt := h.submitReceipt(t, "F1")
	_, err := h.mem.AcquireLock(h.ctx, tenantID, evt.ID, "crashed-worker", time.Now().Add(-48*time.Hour))
	require.NoError(t, err)

	s := sweep.New(h.engine, sweep.Config{ResetStale: true}, sweep.WithLogger(quietLogger()))
	report, err := s.RunOnce(h.ctx)
	require.NoError(t, err)
	assert.Empty(t, report.Stale)
	assert.Equal(t, event.StatusProcessing, h.status(t, evt).Status)
}

func TestResetStaleReleasesAndRetries(t *testing.T) {
	h := newHarness(t)
	h.createItem(t, "F1")
	evt := h.submitReceipt(t, "F1")
	fresh := h.submitReceipt(t, "F1")

	_, err := h.mem.AcquireLock(h.ctx, tenantID, evt.ID, "crashed-worker", time.Now().Add(-2*time.Hour))
	require.NoError(t, err)
	_, err = h.mem.AcquireLock(h.ctx, tenantID, fresh.ID, "busy-worker", time.Now())
	require.NoError(t, err)

	s := sweep.New(h.engine, sweep.Config{StaleLockAfter: time.Hour, ResetStale: true}, sweep.WithLogger(quietLogger()))
	report, err := s.RunOnce(h.ctx)
	require.NoError(t, err)

	require.Len(t, report.Stale, 1)
	assert.True(t, report.Stale[0].Released)
	assert.Equal(t, 1, report.Posted)
	assert.Equal(t, event.StatusPosted, h.status(t, evt).Status)

	// A recent lock is left with its holder.
	assert.Equal(t, "busy-worker", h.status(t, fresh).LockedBy)
}

func TestStartRejectsBadSchedule(t *testing.T) {
	h := newHarness(t)
	s := sweep.New(h.engine, sweep.Config{Schedule: "every now and then"}, sweep.WithLogger(quietLogger()))
	require.Error(t, s.Start(h.ctx))
}

func TestStartStop(t *testing.T) {
	h := newHarness(t)
	s := sweep.New(h.engine, sweep.Config{Schedule: "@every 1h"}, sweep.WithLogger(quietLogger()))
	require.NoError(t, s.Start(h.ctx))
	require.Error(t, s.Start(h.ctx))
	require.NoError(t, s.Stop(h.ctx))
	require.NoError(t, s.Stop(h.ctx))
}
