package farmledger_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xraph/farmledger"
	"github.com/xraph/farmledger/account"
	"github.com/xraph/farmledger/event"
	"github.com/xraph/farmledger/id"
	"github.com/xraph/farmledger/idempotency"
	"github.com/xraph/farmledger/inventory"
	"github.com/xraph/farmledger/item"
	"github.com/xraph/farmledger/journal"
	"github.com/xraph/farmledger/requisition"
	"github.com/xraph/farmledger/store"
	"github.com/xraph/farmledger/store/memory"
	"github.com/xraph/farmledger/tenant"
)

const tenantID = "tenant-1"

func d(v float64) decimal.Decimal { return decimal.NewFromFloat(v) }

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fixture struct {
	t      *testing.T
	ctx    context.Context
	mem    *memory.Store
	engine *farmledger.Engine
}

type fixtureOpts struct {
	settings tenant.Settings
	noSeed   bool
	wrap     func(*memory.Store) store.Store
	options  []farmledger.Option
}

func newFixture(t *testing.T, fo fixtureOpts) *fixture {
	t.Helper()
	ctx := context.Background()
	mem := memory.New()

	var s store.Store = mem
	if fo.wrap != nil {
		s = fo.wrap(mem)
	}
	opts := append([]farmledger.Option{farmledger.WithLogger(quietLogger())}, fo.options...)
	e := farmledger.New(s, opts...)
	require.NoError(t, e.Start(ctx))
	t.Cleanup(func() { _ = e.Stop() })

	if fo.settings.LivestockCostingMode == "" {
		fo.settings.LivestockCostingMode = tenant.CostingExpense
	}
	require.NoError(t, mem.CreateTenant(ctx, &tenant.Tenant{ID: tenantID, Name: "Green Acres", Settings: fo.settings}))
	require.NoError(t, mem.CreateItem(ctx, &item.Item{
		ID: "F1", TenantID: tenantID, Name: "Layer feed", Type: item.TypeFeed, Unit: "kg",
		ReorderPoint: d(50), ReorderQty: d(200), DefaultCost: d(2),
	}))
	require.NoError(t, mem.CreateItem(ctx, &item.Item{
		ID: "S1", TenantID: tenantID, Name: "Bedding", Type: item.TypeSupplies, Unit: "bale",
	}))
	if !fo.noSeed {
		n, err := e.SeedChartOfAccounts(ctx, tenantID)
		require.NoError(t, err)
		require.Equal(t, len(account.DefaultChart), n)
	}

	return &fixture{t: t, ctx: ctx, mem: mem, engine: e}
}

func (f *fixture) submit(typ event.Type, siteID string, payload map[string]any) *event.Event {
	f.t.Helper()
	evt := &event.Event{TenantID: tenantID, SiteID: siteID, Type: typ, Payload: payload, CreatedBy: "tester"}
	require.NoError(f.t, f.engine.SubmitEvent(f.ctx, evt))
	return evt
}

func (f *fixture) post(typ event.Type, siteID string, payload map[string]any) *farmledger.PostingResult {
	f.t.Helper()
	evt := f.submit(typ, siteID, payload)
	res, err := f.engine.ProcessEvent(f.ctx, tenantID, evt.ID, "")
	require.NoError(f.t, err)
	require.True(f.t, res.Success)
	return res
}

func (f *fixture) entries(txID id.TransactionID) []*journal.Entry {
	f.t.Helper()
	entries, err := f.engine.GetEntries(f.ctx, tenantID, txID)
	require.NoError(f.t, err)
	return entries
}

func (f *fixture) balance(siteID, itemID string) *inventory.Balance {
	f.t.Helper()
	b, err := f.engine.GetBalance(f.ctx, tenantID, siteID, itemID)
	require.NoError(f.t, err)
	return b
}

func (f *fixture) movements(q inventory.MovementQuery) []*inventory.Movement {
	f.t.Helper()
	ms, err := f.engine.ListMovements(f.ctx, tenantID, q)
	require.NoError(f.t, err)
	return ms
}

func (f *fixture) event(eventID id.EventID) *event.Event {
	f.t.Helper()
	evt, err := f.engine.GetEvent(f.ctx, tenantID, eventID)
	require.NoError(f.t, err)
	return evt
}

func receive(qty, unitCost float64) map[string]any {
	return map[string]any{"itemId": "F1", "quantity": qty, "unitCost": unitCost, "paymentMethod": "CASH"}
}

type leg struct {
	code   string
	debit  string
	credit string
}

func legs(entries []*journal.Entry) []leg {
	out := make([]leg, 0, len(entries))
	for _, e := range entries {
		out = append(out, leg{e.AccountCode, e.Debit.StringFixed(2), e.Credit.StringFixed(2)})
	}
	return out
}

func assertBalanced(t *testing.T, entries []*journal.Entry) {
	t.Helper()
	debit, credit := journal.Totals(entries)
	assert.True(t, debit.Equal(credit), "debits %s != credits %s", debit, credit)
}

// ──────────────────────────────────────────────────
// Posting
// ──────────────────────────────────────────────────

func TestFeedLivestockExpenseMode(t *testing.T) {
	f := newFixture(t, fixtureOpts{})
	f.post(event.TypeReceivePurchaseOrder, "A", receive(100, 2))

	res := f.post(event.TypeFeedLivestock, "A", map[string]any{
		"feedItemId": "F1", "totalCost": 120, "livestockGroupId": "G1", "quantity": 40,
	})

	assert.False(t, res.AlreadyPosted)
	assert.Equal(t, 2, res.EntriesCount)
	assert.Equal(t, []leg{{"6000", "120.00", "0.00"}, {"1200", "0.00", "120.00"}}, legs(f.entries(res.TransactionID)))

	require.Len(t, res.InventoryMovementIDs, 1)
	ms := f.movements(inventory.MovementQuery{ItemID: "F1", SiteID: "A"})
	require.Len(t, ms, 2)
	consumption := ms[1]
	assert.Equal(t, inventory.MovementConsumption, consumption.Type)
	assert.True(t, consumption.Qty.Equal(d(-40)))
	assert.True(t, consumption.TotalCost.Equal(d(120)))
	assert.True(t, consumption.BalanceAfter.Equal(d(60)))
	assert.Equal(t, res.TransactionID, consumption.TransactionID)

	assert.True(t, f.balance("A", "F1").QtyOnHand.Equal(d(60)))
}

func TestFeedLivestockCapitalizeMode(t *testing.T) {
	f := newFixture(t, fixtureOpts{settings: tenant.Settings{LivestockCostingMode: tenant.CostingCapitalize}})
	f.post(event.TypeReceivePurchaseOrder, "A", receive(100, 2))

	res := f.post(event.TypeFeedLivestock, "A", map[string]any{
		"feedItemId": "F1", "totalCost": "75.50", "livestockGroupId": "G1",
	})
	assert.Equal(t, []leg{{"1300", "75.50", "0.00"}, {"1200", "0.00", "75.50"}}, legs(f.entries(res.TransactionID)))

	require.Len(t, res.InventoryMovementIDs, 1)
	ms := f.movements(inventory.MovementQuery{EventID: f.eventOf(res)})
	require.Len(t, ms, 1)
	assert.True(t, ms[0].Qty.Equal(d(-37.75)), "qty %s", ms[0].Qty)
}

func TestFeedLivestockQuantityFromAverageCost(t *testing.T) {
	f := newFixture(t, fixtureOpts{})
	f.post(event.TypeReceivePurchaseOrder, "A", receive(100, 2))

	res := f.post(event.TypeFeedLivestock, "A", map[string]any{
		"feedItemId": "F1", "totalCost": 120, "livestockGroupId": "G1",
	})
	assert.Equal(t, []leg{{"6000", "120.00", "0.00"}, {"1200", "0.00", "120.00"}}, legs(f.entries(res.TransactionID)))

	require.Len(t, res.InventoryMovementIDs, 1)
	ms := f.movements(inventory.MovementQuery{EventID: f.eventOf(res)})
	require.Len(t, ms, 1)
	consumption := ms[0]
	assert.Equal(t, inventory.MovementConsumption, consumption.Type)
	assert.Equal(t, res.InventoryMovementIDs[0], consumption.ID)
	assert.True(t, consumption.Qty.Equal(d(-60)), "qty %s", consumption.Qty)
	assert.True(t, consumption.UnitCost.Equal(d(2)))
	assert.True(t, consumption.TotalCost.Equal(d(120)))
	assert.True(t, consumption.BalanceAfter.Equal(d(40)))

	assert.True(t, f.balance("A", "F1").QtyOnHand.Equal(d(40)))
}

func TestFeedLivestockWithoutQuantityOrAverageFails(t *testing.T) {
	f := newFixture(t, fixtureOpts{})
	evt := f.submit(event.TypeFeedLivestock, "A", map[string]any{
		"feedItemId": "F1", "totalCost": 120, "livestockGroupId": "G1",
	})

	_, err := f.engine.ProcessEvent(f.ctx, tenantID, evt.ID, "")
	require.ErrorIs(t, err, farmledger.ErrInvalidPayload)

	got := f.event(evt.ID)
	assert.Equal(t, event.StatusFailed, got.Status)
	assert.True(t, got.LedgerTransactionID.IsNil())
	assert.Empty(t, f.movements(inventory.MovementQuery{}))
}

func TestInventoryAdjustmentMovementCarriesCost(t *testing.T) {
	f := newFixture(t, fixtureOpts{})
	f.post(event.TypeReceivePurchaseOrder, "A", receive(20, 2))

	res := f.post(event.TypeInventoryAdjustment, "A", map[string]any{
		"itemId": "F1", "qtyDelta": 100, "costPerUnit": 2.50, "reason": "count",
	})
	assert.Equal(t, []leg{{"1200", "250.00", "0.00"}, {"6100", "0.00", "250.00"}}, legs(f.entries(res.TransactionID)))

	require.Len(t, res.InventoryMovementIDs, 1)
	ms := f.movements(inventory.MovementQuery{EventID: f.eventOf(res)})
	require.Len(t, ms, 1)
	adj := ms[0]
	assert.Equal(t, inventory.MovementAdjustment, adj.Type)
	assert.True(t, adj.Qty.Equal(d(100)))
	assert.True(t, adj.UnitCost.Equal(d(2.5)))
	assert.True(t, adj.TotalCost.Equal(d(250)), "total %s", adj.TotalCost)
	assert.True(t, adj.BalanceAfter.Equal(d(120)), "after %s", adj.BalanceAfter)

	// (20*2 + 100*2.5) / 120
	b := f.balance("A", "F1")
	assert.True(t, b.QtyOnHand.Equal(d(120)))
	assert.Equal(t, "2.416667", b.AvgCostPerUnit.StringFixed(6))
}

func TestZeroValueStockChangeFails(t *testing.T) {
	tests := []struct {
		name    string
		typ     event.Type
		payload map[string]any
	}{
		{"free receipt", event.TypeReceivePurchaseOrder,
			map[string]any{"itemId": "F1", "quantity": 10, "paymentMethod": "CASH"}},
		{"uncosted adjustment", event.TypeInventoryAdjustment,
			map[string]any{"itemId": "F1", "qtyDelta": 5, "reason": "found"}},
		{"transfer from unvalued site", event.TypeInventoryTransfer,
			map[string]any{"itemId": "F1", "fromSiteId": "C", "toSiteId": "B", "quantity": 5}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, fixtureOpts{})
			evt := f.submit(tt.typ, "A", tt.payload)

			_, err := f.engine.ProcessEvent(f.ctx, tenantID, evt.ID, "")
			require.ErrorIs(t, err, farmledger.ErrNoGLLinesComputed)
			assert.Contains(t, err.Error(), "has zero value")
			assert.Equal(t, event.StatusFailed, f.event(evt.ID).Status)
			assert.Empty(t, f.movements(inventory.MovementQuery{}))
		})
	}
}

func TestEveryEventTypeBalances(t *testing.T) {
	f := newFixture(t, fixtureOpts{})
	f.post(event.TypeReceivePurchaseOrder, "A", receive(500, 2))

	cases := []struct {
		typ     event.Type
		payload map[string]any
	}{
		{event.TypeInventoryAdjustment, map[string]any{"itemId": "S1", "qtyDelta": 10, "costPerUnit": 3, "reason": "count"}},
		{event.TypeInventoryAdjustment, map[string]any{"itemId": "F1", "qtyDelta": -5, "totalCost": 10}},
		{event.TypeFeedLivestock, map[string]any{"feedItemId": "F1", "totalCost": 20, "quantity": 10}},
		{event.TypeReceivePurchaseOrder, map[string]any{"itemId": "S1", "quantity": 4, "totalCost": 40}},
		{event.TypeSale, map[string]any{"saleAmount": 500, "costAmount": 300, "paymentMethod": "CASH"}},
		{event.TypeSale, map[string]any{"saleAmount": 30, "itemId": "F1", "quantity": 5}},
		{event.TypeSellLivestock, map[string]any{"livestockGroupId": "G1", "saleAmount": 900, "costAmount": 650}},
		{event.TypePurchaseLivestock, map[string]any{"livestockGroupId": "G2", "totalCost": 1500, "paymentMethod": "CASH"}},
		{event.TypeInventoryTransfer, map[string]any{"itemId": "F1", "fromSiteId": "A", "toSiteId": "B", "quantity": 25}},
	}
	for _, tc := range cases {
		res := f.post(tc.typ, "A", tc.payload)
		entries := f.entries(res.TransactionID)
		require.NotEmpty(t, entries, tc.typ)
		assertBalanced(t, entries)
		for i, e := range entries {
			assert.Equal(t, i+1, e.LineNo, tc.typ)
		}
	}
}

func TestPostedEventIsFinalized(t *testing.T) {
	f := newFixture(t, fixtureOpts{})
	evt := f.submit(event.TypeReceivePurchaseOrder, "A", receive(10, 2))
	res, err := f.engine.ProcessEvent(f.ctx, tenantID, evt.ID, "worker-7")
	require.NoError(t, err)

	got := f.event(evt.ID)
	assert.Equal(t, event.StatusPosted, got.Status)
	assert.Equal(t, res.TransactionID, got.LedgerTransactionID)
	assert.Equal(t, res.InventoryMovementIDs, got.InventoryMovementIDs)
	assert.NotNil(t, got.PostedAt)
	assert.Empty(t, got.LockedBy)
	assert.Nil(t, got.LockedAt)
	assert.Equal(t, 1, got.Attempts)

	want, err := idempotency.Key(tenantID, evt.ID.String(), evt.Payload, farmledger.DefaultPostingProfileVersion)
	require.NoError(t, err)
	assert.Equal(t, want, got.IdempotencyKey)

	tx, err := f.engine.GetTransaction(f.ctx, tenantID, res.TransactionID)
	require.NoError(t, err)
	assert.Equal(t, want, tx.IdempotencyKey)
	assert.Equal(t, evt.ID, tx.EventID)
	assert.Equal(t, journal.StatusPosted, tx.Status)
}

// ──────────────────────────────────────────────────
// Idempotency and locking
// ──────────────────────────────────────────────────

func TestProcessEventTwiceIsIdempotent(t *testing.T) {
	f := newFixture(t, fixtureOpts{})
	evt := f.submit(event.TypeReceivePurchaseOrder, "A", receive(100, 2))

	first, err := f.engine.ProcessEvent(f.ctx, tenantID, evt.ID, "")
	require.NoError(t, err)
	assert.False(t, first.AlreadyPosted)

	second, err := f.engine.ProcessEvent(f.ctx, tenantID, evt.ID, "")
	require.NoError(t, err)
	assert.True(t, second.Success)
	assert.True(t, second.AlreadyPosted)
	assert.Equal(t, first.TransactionID, second.TransactionID)

	assert.Len(t, f.movements(inventory.MovementQuery{EventID: evt.ID}), 1)
	assert.True(t, f.balance("A", "F1").QtyOnHand.Equal(d(100)))
	assert.Len(t, f.entries(first.TransactionID), 2)
}

func TestProcessEventUnknownEvent(t *testing.T) {
	f := newFixture(t, fixtureOpts{})
	_, err := f.engine.ProcessEvent(f.ctx, tenantID, id.NewEventID(), "")
	assert.ErrorIs(t, err, farmledger.ErrEventNotFound)
}

func TestProcessEventHeldByAnotherWorker(t *testing.T) {
	f := newFixture(t, fixtureOpts{})
	evt := f.submit(event.TypeReceivePurchaseOrder, "A", receive(1, 1))
	_, err := f.mem.AcquireLock(f.ctx, tenantID, evt.ID, "other-worker", time.Now())
	require.NoError(t, err)

	_, err = f.engine.ProcessEvent(f.ctx, tenantID, evt.ID, "")
	require.ErrorIs(t, err, farmledger.ErrInvalidEventState)

	var ise *farmledger.InvalidEventStateError
	require.True(t, errors.As(err, &ise))
	assert.Equal(t, event.StatusProcessing, ise.Status)

	// The event stays with its holder.
	got := f.event(evt.ID)
	assert.Equal(t, event.StatusProcessing, got.Status)
	assert.Equal(t, "other-worker", got.LockedBy)
}

func TestConcurrentProcessEventPostsOnce(t *testing.T) {
	f := newFixture(t, fixtureOpts{})
	evt := f.submit(event.TypeReceivePurchaseOrder, "A", receive(100, 2))

	const workers = 16
	var (
		wg      sync.WaitGroup
		fresh   int32
		already int32
		busy    int32
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := f.engine.ProcessEvent(f.ctx, tenantID, evt.ID, "")
			switch {
			case err == nil && !res.AlreadyPosted:
				atomic.AddInt32(&fresh, 1)
			case err == nil:
				atomic.AddInt32(&already, 1)
			case errors.Is(err, farmledger.ErrInvalidEventState):
				atomic.AddInt32(&busy, 1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), fresh)
	assert.Equal(t, int32(workers), fresh+already+busy)
	assert.Len(t, f.movements(inventory.MovementQuery{EventID: evt.ID}), 1)
	assert.True(t, f.balance("A", "F1").QtyOnHand.Equal(d(100)))
}

func TestConcurrentInventoryUpdatesSerialize(t *testing.T) {
	f := newFixture(t, fixtureOpts{})

	const n = 20
	events := make([]*event.Event, n)
	for i := range events {
		events[i] = f.submit(event.TypeReceivePurchaseOrder, "A", receive(10, 2))
	}

	var wg sync.WaitGroup
	for _, evt := range events {
		wg.Add(1)
		go func(evt *event.Event) {
			defer wg.Done()
			_, err := f.engine.ProcessEvent(f.ctx, tenantID, evt.ID, "")
			assert.NoError(t, err)
		}(evt)
	}
	wg.Wait()

	b := f.balance("A", "F1")
	assert.True(t, b.QtyOnHand.Equal(d(10*n)), "qty %s", b.QtyOnHand)
	assert.True(t, b.AvgCostPerUnit.Equal(d(2)))
	assert.Equal(t, int64(n), b.Version)
}

// flakyStore fails the n-th ApplyMovement call.
type flakyStore struct {
	*memory.Store
	failOn int32
	calls  int32
}

func (s *flakyStore) ApplyMovement(ctx context.Context, m *inventory.Movement) (*inventory.ApplyResult, error) {
	if atomic.AddInt32(&s.calls, 1) == s.failOn {
		return nil, farmledger.ErrTransactionFailed
	}
	return s.Store.ApplyMovement(ctx, m)
}

func TestRetryAfterPartialInventoryFailure(t *testing.T) {
	// Call 1 is the receipt, 2 the transfer_out, 3 the transfer_in.
	f := newFixture(t, fixtureOpts{wrap: func(m *memory.Store) store.Store {
		return &flakyStore{Store: m, failOn: 3}
	}})
	f.post(event.TypeReceivePurchaseOrder, "A", receive(100, 2))

	evt := f.submit(event.TypeInventoryTransfer, "A", map[string]any{
		"itemId": "F1", "fromSiteId": "A", "toSiteId": "B", "quantity": 30,
	})

	_, err := f.engine.ProcessEvent(f.ctx, tenantID, evt.ID, "")
	require.ErrorIs(t, err, farmledger.ErrTransactionFailed)
	failed := f.event(evt.ID)
	assert.Equal(t, event.StatusFailed, failed.Status)
	assert.Contains(t, failed.LastError, "transaction failed")
	assert.True(t, f.balance("A", "F1").QtyOnHand.Equal(d(70)), "first leg applied")

	res, err := f.engine.ProcessEvent(f.ctx, tenantID, evt.ID, "")
	require.NoError(t, err)
	assert.True(t, res.AlreadyPosted, "ledger write is not repeated")
	require.Len(t, res.InventoryMovementIDs, 2)

	assert.Len(t, f.movements(inventory.MovementQuery{EventID: evt.ID}), 2)
	assert.True(t, f.balance("A", "F1").QtyOnHand.Equal(d(70)), "transfer_out not applied twice")
	assert.True(t, f.balance("B", "F1").QtyOnHand.Equal(d(30)))

	posted := f.event(evt.ID)
	assert.Equal(t, event.StatusPosted, posted.Status)
	assert.Equal(t, 2, posted.Attempts)
}

// ──────────────────────────────────────────────────
// Failure path
// ──────────────────────────────────────────────────

func TestMissingAccountsFailEvent(t *testing.T) {
	f := newFixture(t, fixtureOpts{noSeed: true})
	evt := f.submit(event.TypeFeedLivestock, "A", map[string]any{"feedItemId": "F1", "totalCost": 120, "quantity": 60})

	_, err := f.engine.ProcessEvent(f.ctx, tenantID, evt.ID, "")
	require.ErrorIs(t, err, farmledger.ErrRequiredAccountsNotFound)
	var rae *farmledger.RequiredAccountsError
	require.True(t, errors.As(err, &rae))
	assert.Equal(t, []string{"1200", "6000"}, rae.Codes)
	assert.True(t, farmledger.IsConfigurationError(err))

	got := f.event(evt.ID)
	assert.Equal(t, event.StatusFailed, got.Status)
	assert.Equal(t, err.Error(), got.LastError)
	assert.True(t, got.LedgerTransactionID.IsNil())

	// Fixing the chart makes the FAILED event postable.
	_, err = f.engine.SeedChartOfAccounts(f.ctx, tenantID)
	require.NoError(t, err)
	res, err := f.engine.ProcessEvent(f.ctx, tenantID, evt.ID, "")
	require.NoError(t, err)
	assert.False(t, res.AlreadyPosted)
	assert.Equal(t, 2, f.event(evt.ID).Attempts)
}

func TestInvalidEventsFail(t *testing.T) {
	tests := []struct {
		name    string
		typ     event.Type
		payload map[string]any
		want    error
	}{
		{"transfer to same site", event.TypeInventoryTransfer,
			map[string]any{"itemId": "F1", "fromSiteId": "A", "toSiteId": "A", "quantity": 1}, farmledger.ErrInvalidPayload},
		{"adjustment without item", event.TypeInventoryAdjustment,
			map[string]any{"qtyDelta": 1, "costPerUnit": 1}, farmledger.ErrInvalidPayload},
		{"zero quantity adjustment", event.TypeInventoryAdjustment,
			map[string]any{"itemId": "F1", "qtyDelta": 0, "totalCost": 50}, farmledger.ErrInvalidPayload},
		{"malformed amount", event.TypeSale,
			map[string]any{"saleAmount": "lots"}, farmledger.ErrInvalidPayload},
		{"zero amounts", event.TypePurchaseLivestock,
			map[string]any{"livestockGroupId": "G1"}, farmledger.ErrNoGLLinesComputed},
		{"unknown item", event.TypeReceivePurchaseOrder,
			map[string]any{"itemId": "nope", "quantity": 1, "unitCost": 1}, farmledger.ErrItemNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, fixtureOpts{})
			evt := f.submit(tt.typ, "A", tt.payload)
			_, err := f.engine.ProcessEvent(f.ctx, tenantID, evt.ID, "")
			require.ErrorIs(t, err, tt.want)
			assert.Equal(t, event.StatusFailed, f.event(evt.ID).Status)
		})
	}
}

func TestUnknownEventTypeFails(t *testing.T) {
	f := newFixture(t, fixtureOpts{})
	evt := &event.Event{ID: id.NewEventID(), TenantID: tenantID, SiteID: "A", Type: "HARVEST", Status: event.StatusPending}
	require.NoError(t, f.mem.CreateEvent(f.ctx, evt))

	_, err := f.engine.ProcessEvent(f.ctx, tenantID, evt.ID, "")
	require.ErrorIs(t, err, farmledger.ErrUnknownEventType)
	assert.Equal(t, event.StatusFailed, f.event(evt.ID).Status)

	err = f.engine.SubmitEvent(f.ctx, &event.Event{TenantID: tenantID, SiteID: "A", Type: "HARVEST"})
	assert.ErrorIs(t, err, farmledger.ErrUnknownEventType)
}

func TestFailureRecordedOnCanceledContext(t *testing.T) {
	f := newFixture(t, fixtureOpts{noSeed: true})
	evt := f.submit(event.TypeSale, "A", map[string]any{"saleAmount": 10})

	ctx, cancel := context.WithCancel(f.ctx)
	cancel()
	_, err := f.engine.ProcessEvent(ctx, tenantID, evt.ID, "")
	require.Error(t, err)
	assert.Equal(t, event.StatusFailed, f.event(evt.ID).Status)
}

// ──────────────────────────────────────────────────
// Inventory
// ──────────────────────────────────────────────────

func TestTransferHasZeroGLImpact(t *testing.T) {
	f := newFixture(t, fixtureOpts{})
	f.post(event.TypeReceivePurchaseOrder, "A", receive(100, 2))

	res := f.post(event.TypeInventoryTransfer, "A", map[string]any{
		"itemId": "F1", "fromSiteId": "A", "toSiteId": "B", "quantity": 30,
	})

	entries := f.entries(res.TransactionID)
	require.Len(t, entries, 2)
	assert.Equal(t, []leg{{"1200", "60.00", "0.00"}, {"1200", "0.00", "60.00"}}, legs(entries))
	assert.Equal(t, entries[0].AccountID, entries[1].AccountID)
	assert.Equal(t, "Transfer out", entries[0].Memo)
	assert.Equal(t, "Transfer in", entries[1].Memo)

	require.Len(t, res.InventoryMovementIDs, 2)
	out := f.movements(inventory.MovementQuery{SiteID: "A", EventID: f.eventOf(res)})
	require.Len(t, out, 1)
	assert.Equal(t, inventory.MovementTransferOut, out[0].Type)
	assert.True(t, out[0].Qty.Equal(d(-30)))

	in := f.movements(inventory.MovementQuery{SiteID: "B"})
	require.Len(t, in, 1)
	assert.Equal(t, inventory.MovementTransferIn, in[0].Type)
	assert.True(t, in[0].UnitCost.Equal(d(2)))

	a, b := f.balance("A", "F1"), f.balance("B", "F1")
	assert.True(t, a.QtyOnHand.Equal(d(70)))
	assert.True(t, b.QtyOnHand.Equal(d(30)))
	assert.True(t, b.AvgCostPerUnit.Equal(d(2)))
}

// eventOf returns the event id recorded on a posted transaction.
func (f *fixture) eventOf(res *farmledger.PostingResult) id.EventID {
	f.t.Helper()
	tx, err := f.engine.GetTransaction(f.ctx, tenantID, res.TransactionID)
	require.NoError(f.t, err)
	return tx.EventID
}

func TestWeightedAverageCosting(t *testing.T) {
	f := newFixture(t, fixtureOpts{})
	f.post(event.TypeReceivePurchaseOrder, "A", receive(100, 2))
	f.post(event.TypeReceivePurchaseOrder, "A", receive(100, 4))

	b := f.balance("A", "F1")
	assert.True(t, b.QtyOnHand.Equal(d(200)))
	assert.True(t, b.AvgCostPerUnit.Equal(d(3)), "avg %s", b.AvgCostPerUnit)

	f.post(event.TypeSale, "A", map[string]any{"saleAmount": 400, "itemId": "F1", "quantity": 50})
	b = f.balance("A", "F1")
	assert.True(t, b.QtyOnHand.Equal(d(150)))
	assert.True(t, b.AvgCostPerUnit.Equal(d(3)), "decrease keeps the average")

	out := f.movements(inventory.MovementQuery{SiteID: "A"})
	require.Len(t, out, 3)
	assert.Equal(t, inventory.MovementOut, out[2].Type)
	assert.True(t, out[2].TotalCost.Equal(d(150)))
}

func TestLivestockEventsMoveNoInventory(t *testing.T) {
	f := newFixture(t, fixtureOpts{})
	res := f.post(event.TypePurchaseLivestock, "A", map[string]any{"livestockGroupId": "G1", "totalCost": 800})
	assert.Empty(t, res.InventoryMovementIDs)
	assert.Empty(t, f.movements(inventory.MovementQuery{}))
}

// ──────────────────────────────────────────────────
// Reorder
// ──────────────────────────────────────────────────

func TestReorderTriggeredBelowReorderPoint(t *testing.T) {
	f := newFixture(t, fixtureOpts{settings: tenant.Settings{AutoReorderEnabled: true}})
	f.post(event.TypeReceivePurchaseOrder, "A", receive(100, 2))
	f.post(event.TypeFeedLivestock, "A", map[string]any{"feedItemId": "F1", "totalCost": 120, "quantity": 60})

	reqs, err := f.engine.ListRequisitions(f.ctx, tenantID)
	require.NoError(t, err)
	require.Len(t, reqs, 1)
	r := reqs[0]
	assert.True(t, r.AutoGenerated)
	assert.Equal(t, requisition.StatusOpen, r.Status)
	assert.Equal(t, "A", r.SiteID)
	assert.Equal(t, "F1", r.ItemID)
	assert.True(t, r.Qty.Equal(d(200)))
	assert.True(t, r.EstimatedCost.Equal(d(400)))
	assert.True(t, r.TriggerBalance.Equal(d(40)))
	assert.Equal(t, "Auto-reorder: balance 40 below reorder point 50", r.Reason)
	assert.Equal(t, "tester", r.CreatedBy)

	// A further decrease does not duplicate the open requisition.
	f.post(event.TypeFeedLivestock, "A", map[string]any{"feedItemId": "F1", "totalCost": 20, "quantity": 10})
	reqs, err = f.engine.ListRequisitions(f.ctx, tenantID)
	require.NoError(t, err)
	assert.Len(t, reqs, 1)

	// Once purchasing has moved it on, a new one may be raised.
	require.NoError(t, f.mem.UpdateRequisitionStatus(f.ctx, tenantID, r.ID, requisition.StatusOrdered))
	f.post(event.TypeFeedLivestock, "A", map[string]any{"feedItemId": "F1", "totalCost": 2, "quantity": 1})
	reqs, err = f.engine.ListRequisitions(f.ctx, tenantID)
	require.NoError(t, err)
	assert.Len(t, reqs, 2)
}

func TestReorderDisabledIsNoop(t *testing.T) {
	f := newFixture(t, fixtureOpts{})
	f.post(event.TypeReceivePurchaseOrder, "A", receive(10, 2))
	f.post(event.TypeFeedLivestock, "A", map[string]any{"feedItemId": "F1", "totalCost": 10, "quantity": 5})

	rr := f.engine.CheckAndTriggerReorder(f.ctx, tenantID, "A", "F1", "tester")
	assert.False(t, rr.Triggered)
	assert.NoError(t, rr.Err)

	reqs, err := f.engine.ListRequisitions(f.ctx, tenantID)
	require.NoError(t, err)
	assert.Empty(t, reqs)
}

func TestReorderOnlyAtTransferSource(t *testing.T) {
	f := newFixture(t, fixtureOpts{settings: tenant.Settings{AutoReorderEnabled: true}})
	f.post(event.TypeReceivePurchaseOrder, "A", receive(60, 2))
	f.post(event.TypeInventoryTransfer, "A", map[string]any{
		"itemId": "F1", "fromSiteId": "A", "toSiteId": "B", "quantity": 20,
	})

	reqs, err := f.engine.ListRequisitions(f.ctx, tenantID)
	require.NoError(t, err)
	require.Len(t, reqs, 1)
	assert.Equal(t, "A", reqs[0].SiteID)
}

func TestReorderFailureDoesNotFailEvent(t *testing.T) {
	rec := newRecorder()
	f := newFixture(t, fixtureOpts{
		settings: tenant.Settings{AutoReorderEnabled: true},
		options:  []farmledger.Option{farmledger.WithPlugin(rec)},
	})

	// F9 is not in the item master, so the reorder check cannot run.
	res := f.post(event.TypeFeedLivestock, "A", map[string]any{"feedItemId": "F9", "totalCost": 5, "quantity": 5})
	assert.True(t, res.Success)
	assert.Equal(t, event.StatusPosted, f.event(f.eventOf(res)).Status)

	rr := f.engine.CheckAndTriggerReorder(f.ctx, tenantID, "A", "F9", "tester")
	assert.ErrorIs(t, rr.Err, farmledger.ErrItemNotFound)
	assert.False(t, rr.Triggered)

	assert.Equal(t, 2, rec.count("reorder_failed"))
}

// ──────────────────────────────────────────────────
// Reversal
// ──────────────────────────────────────────────────

func TestReverseTransaction(t *testing.T) {
	f := newFixture(t, fixtureOpts{})
	res := f.post(event.TypeSale, "A", map[string]any{"saleAmount": 500, "costAmount": 300, "paymentMethod": "CASH"})
	original := f.entries(res.TransactionID)

	rev, err := f.engine.ReverseTransaction(f.ctx, tenantID, res.TransactionID, "duplicate sale")
	require.NoError(t, err)

	require.Len(t, rev.Entries, len(original))
	for i, e := range rev.Entries {
		assert.Equal(t, original[i].AccountID, e.AccountID)
		assert.True(t, e.Debit.Equal(original[i].Credit))
		assert.True(t, e.Credit.Equal(original[i].Debit))
	}
	assertBalanced(t, f.entries(rev.Transaction.ID))
	assert.Equal(t, res.TransactionID, rev.Transaction.ReversesTransactionID)
	assert.Contains(t, rev.Transaction.Memo, "duplicate sale")

	orig, err := f.engine.GetTransaction(f.ctx, tenantID, res.TransactionID)
	require.NoError(t, err)
	assert.Equal(t, journal.StatusReversed, orig.Status)
	assert.Equal(t, rev.Transaction.ID, orig.ReversedByTransactionID)

	_, err = f.engine.ReverseTransaction(f.ctx, tenantID, res.TransactionID, "again")
	assert.ErrorIs(t, err, farmledger.ErrAlreadyReversed)

	_, err = f.engine.ReverseTransaction(f.ctx, "someone-else", res.TransactionID, "")
	assert.ErrorIs(t, err, farmledger.ErrTransactionNotFound)
}

func TestReversalLeavesInventory(t *testing.T) {
	f := newFixture(t, fixtureOpts{})
	res := f.post(event.TypeReceivePurchaseOrder, "A", receive(100, 2))
	_, err := f.engine.ReverseTransaction(f.ctx, tenantID, res.TransactionID, "")
	require.NoError(t, err)

	assert.True(t, f.balance("A", "F1").QtyOnHand.Equal(d(100)))
	assert.Len(t, f.movements(inventory.MovementQuery{}), 1)
}

func TestConcurrentReversalsReverseOnce(t *testing.T) {
	f := newFixture(t, fixtureOpts{})
	res := f.post(event.TypePurchaseLivestock, "A", map[string]any{"livestockGroupId": "G1", "totalCost": 100})

	var (
		wg  sync.WaitGroup
		ok  int32
		bad int32
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.engine.ReverseTransaction(f.ctx, tenantID, res.TransactionID, "")
			if err == nil {
				atomic.AddInt32(&ok, 1)
			} else if errors.Is(err, farmledger.ErrAlreadyReversed) {
				atomic.AddInt32(&bad, 1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), ok)
	assert.Equal(t, int32(9), bad)
}

// ──────────────────────────────────────────────────
// Chart of accounts
// ──────────────────────────────────────────────────

func TestSeedChartOfAccountsOnce(t *testing.T) {
	f := newFixture(t, fixtureOpts{})
	n, err := f.engine.SeedChartOfAccounts(f.ctx, tenantID)
	require.NoError(t, err)
	assert.Zero(t, n)

	accts, err := f.engine.GetAccounts(f.ctx, tenantID)
	require.NoError(t, err)
	assert.Len(t, accts, len(account.DefaultChart))
	for _, a := range accts {
		assert.True(t, a.IsSystem)
		assert.True(t, a.IsActive)
	}
}

func TestDeactivateAccount(t *testing.T) {
	f := newFixture(t, fixtureOpts{})

	err := f.engine.DeactivateAccount(f.ctx, tenantID, account.CodeCash)
	assert.ErrorIs(t, err, farmledger.ErrSystemAccount)

	custom := &account.Account{TenantID: tenantID, Code: "6400", Name: "Fuel", Type: account.TypeExpense}
	require.NoError(t, f.engine.CreateAccount(f.ctx, custom))
	assert.Equal(t, account.NormalDebit, custom.NormalBalance)

	err = f.engine.CreateAccount(f.ctx, &account.Account{TenantID: tenantID, Code: "6400", Name: "Dup"})
	var ve farmledger.ValidationError
	assert.True(t, errors.As(err, &ve))

	require.NoError(t, f.engine.DeactivateAccount(f.ctx, tenantID, "6400"))
	got, err := f.engine.GetAccountByCode(f.ctx, tenantID, "6400")
	require.NoError(t, err)
	assert.False(t, got.IsActive)

	_, err = f.engine.GetAccountByCode(f.ctx, tenantID, "9999")
	assert.True(t, farmledger.IsNotFound(err))
}

// ──────────────────────────────────────────────────
// Configuration and plugins
// ──────────────────────────────────────────────────

func TestPostingProfileVersion(t *testing.T) {
	f := newFixture(t, fixtureOpts{options: []farmledger.Option{farmledger.WithPostingProfileVersion("2025-03")}})
	evt := f.submit(event.TypeSale, "A", map[string]any{"saleAmount": 10})
	_, err := f.engine.ProcessEvent(f.ctx, tenantID, evt.ID, "")
	require.NoError(t, err)

	want, err := idempotency.Key(tenantID, evt.ID.String(), evt.Payload, "2025-03")
	require.NoError(t, err)
	assert.Equal(t, want, f.event(evt.ID).IdempotencyKey)
}

func TestPluginHooks(t *testing.T) {
	rec := newRecorder()
	f := newFixture(t, fixtureOpts{
		settings: tenant.Settings{AutoReorderEnabled: true},
		options:  []farmledger.Option{farmledger.WithPlugin(rec)},
	})

	res := f.post(event.TypeReceivePurchaseOrder, "A", receive(60, 2))
	f.post(event.TypeFeedLivestock, "A", map[string]any{"feedItemId": "F1", "totalCost": 40, "quantity": 20})
	_, err := f.engine.ReverseTransaction(f.ctx, tenantID, res.TransactionID, "")
	require.NoError(t, err)

	bad := f.submit(event.TypeSale, "A", map[string]any{})
	_, err = f.engine.ProcessEvent(f.ctx, tenantID, bad.ID, "")
	require.Error(t, err)

	assert.Equal(t, 1, rec.count("init"))
	assert.Equal(t, 1, rec.count("seeded"))
	assert.Equal(t, 2, rec.count("posted"))
	assert.Equal(t, 1, rec.count("failed"))
	assert.Equal(t, 2, rec.count("moved"))
	assert.Equal(t, 1, rec.count("reorder"))
	assert.Equal(t, 1, rec.count("reversed"))
}

type recorder struct {
	mu     sync.Mutex
	counts map[string]int
}

func newRecorder() *recorder { return &recorder{counts: make(map[string]int)} }

func (r *recorder) hit(name string) {
	r.mu.Lock()
	r.counts[name]++
	r.mu.Unlock()
}

func (r *recorder) count(name string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.counts[name]
}

func (r *recorder) Name() string { return "recorder" }

func (r *recorder) OnInit(context.Context, any) error { r.hit("init"); return nil }

func (r *recorder) OnAccountsSeeded(context.Context, string, int) error { r.hit("seeded"); return nil }

func (r *recorder) OnEventPosted(context.Context, *event.Event, *journal.Transaction, bool, time.Duration) error {
	r.hit("posted")
	return nil
}

func (r *recorder) OnEventFailed(context.Context, *event.Event, error) error { r.hit("failed"); return nil }

func (r *recorder) OnTransactionReversed(context.Context, *journal.Transaction, *journal.Transaction) error {
	r.hit("reversed")
	return nil
}

func (r *recorder) OnInventoryMoved(context.Context, *inventory.Movement, *inventory.Balance) error {
	r.hit("moved")
	return nil
}

func (r *recorder) OnReorderTriggered(context.Context, *requisition.Requisition) error {
	r.hit("reorder")
	return nil
}

func (r *recorder) OnReorderFailed(context.Context, string, string, string, error) error {
	r.hit("reorder_failed")
	return nil
}
