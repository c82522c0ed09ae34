// Package store defines the composite storage interface used by the engine.
package store

import (
	"context"

	"github.com/xraph/farmledger/account"
	"github.com/xraph/farmledger/event"
	"github.com/xraph/farmledger/inventory"
	"github.com/xraph/farmledger/item"
	"github.com/xraph/farmledger/journal"
	"github.com/xraph/farmledger/requisition"
	"github.com/xraph/farmledger/tenant"
)

// Store is the unified storage interface for every collaborator the
// posting engine needs. The sub-interfaces have disjoint method sets so
// they are embedded directly.
type Store interface {
	event.Store
	tenant.Store
	account.Store
	item.Store
	journal.Store
	inventory.Store
	requisition.Store

	// Core methods
	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}
