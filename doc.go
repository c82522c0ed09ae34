// Package farmledger provides the accounting posting engine of a multi-tenant
// farm management system.
//
// Farmledger is designed as a library, not a service. Operational events
// (feeding livestock, receiving a purchase order, a sale, a stock transfer)
// are submitted as PENDING records; the engine turns each one into exactly
// one balanced double-entry ledger transaction plus the matching inventory
// movements. It provides:
//
//   - Exactly-once posting via content-derived idempotency keys
//   - Atomic compare-and-set event locking safe across workers
//   - Deterministic GL rules for every supported event type
//   - Weighted-average inventory costing per site and item
//   - Automatic purchase requisitions below an item's reorder point
//   - Compensating reversals for posted transactions
//   - Pluggable lifecycle hooks for audit and metrics
//
// # Quick Start
//
// Create an engine with your preferred store:
//
//	import (
//	    "github.com/xraph/farmledger"
//	    "github.com/xraph/farmledger/store/postgres"
//	)
//
//	store := postgres.New(db)
//	engine := farmledger.New(store)
//
//	// Start runs the store migrations and plugin init hooks.
//	if err := engine.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	defer engine.Stop()
//
// # Posting
//
// Seed the standard chart of accounts once per tenant, submit events and
// post them:
//
//	engine.SeedChartOfAccounts(ctx, tenantID)
//
//	evt := &event.Event{
//	    TenantID: tenantID,
//	    SiteID:   "barn-1",
//	    Type:     event.TypeFeedLivestock,
//	    Payload:  map[string]any{"feedItemId": "layer-mash", "totalCost": 120, "quantity": 40},
//	}
//	engine.SubmitEvent(ctx, evt)
//
//	res, err := engine.ProcessEvent(ctx, tenantID, evt.ID, "")
//
// Processing the same event again returns AlreadyPosted without writing
// anything. A failed event is marked FAILED and may be processed again; the
// ledger write and each inventory movement are deduplicated, so a retry
// completes what the earlier attempt left undone.
//
// # Amounts
//
// All amounts and quantities are shopspring/decimal values. A transaction is
// balanced when its debits and credits differ by at most 0.001.
//
// # TypeID
//
// Engine-owned records use TypeID identifiers:
//
//	evt_01h2xcejqtf2nbrexx3vqjhp41  // Event ID
//	txn_01h2xcejqtf2nbrexx3vqjhp41  // Transaction ID
//	mov_01h455vb4pex5vsknk084sn02q  // Movement ID
//
// Tenants, sites and items are identified by the caller's own string keys.
package farmledger
