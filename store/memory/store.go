// Package memory implements store.Store in memory. It serializes every
// operation behind one mutex, which makes each store call atomic, and hands
// out copies so callers never alias stored records.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/xraph/farmledger"
	"github.com/xraph/farmledger/account"
	"github.com/xraph/farmledger/event"
	"github.com/xraph/farmledger/id"
	"github.com/xraph/farmledger/inventory"
	"github.com/xraph/farmledger/item"
	"github.com/xraph/farmledger/journal"
	"github.com/xraph/farmledger/requisition"
	"github.com/xraph/farmledger/store"
	"github.com/xraph/farmledger/tenant"
)

var _ store.Store = (*Store)(nil)

type Store struct {
	mu sync.RWMutex

	// Event storage
	events map[string]*event.Event

	// Master data
	tenants  map[string]*tenant.Tenant
	accounts map[string]map[string]*account.Account // tenant -> code
	items    map[string]*item.Item                  // tenant:item

	// Ledger storage
	transactions map[string]*journal.Transaction
	entries      map[string][]*journal.Entry
	txKeys       map[string]string // tenant:key -> transaction id

	// Inventory storage
	balances     map[inventory.Key]*inventory.Balance
	movements    []*inventory.Movement
	movementKeys map[string]*inventory.Movement // tenant:key

	// Requisition storage
	requisitions []*requisition.Requisition
}

func New() *Store {
	return &Store{
		events:       make(map[string]*event.Event),
		tenants:      make(map[string]*tenant.Tenant),
		accounts:     make(map[string]map[string]*account.Account),
		items:        make(map[string]*item.Item),
		transactions: make(map[string]*journal.Transaction),
		entries:      make(map[string][]*journal.Entry),
		txKeys:       make(map[string]string),
		balances:     make(map[inventory.Key]*inventory.Balance),
		movementKeys: make(map[string]*inventory.Movement),
	}
}

func scoped(tenantID, key string) string { return tenantID + "\x00" + key }

// ──────────────────────────────────────────────────
// Event Store
// ──────────────────────────────────────────────────

func (s *Store) CreateEvent(_ context.Context, e *event.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.events[e.ID.String()]; exists {
		return farmledger.ErrAlreadyExists
	}
	s.events[e.ID.String()] = copyEvent(e)
	return nil
}

func (s *Store) GetEvent(_ context.Context, tenantID string, eventID id.EventID) (*event.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.events[eventID.String()]
	if !ok || e.TenantID != tenantID {
		return nil, farmledger.ErrEventNotFound
	}
	return copyEvent(e), nil
}

func (s *Store) ListEvents(_ context.Context, tenantID string, opts event.ListOpts) ([]*event.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*event.Event, 0)
	for _, e := range s.events {
		if e.TenantID != tenantID {
			continue
		}
		if opts.Status != "" && e.Status != opts.Status {
			continue
		}
		if !opts.LockedBefore.IsZero() && (e.LockedAt == nil || !e.LockedAt.Before(opts.LockedBefore)) {
			continue
		}
		if opts.AttemptsBelow > 0 && e.Attempts >= opts.AttemptsBelow {
			continue
		}
		result = append(result, copyEvent(e))
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID.String() < result[j].ID.String() })

	return paginate(result, opts.Offset, opts.Limit), nil
}

func (s *Store) AcquireLock(_ context.Context, tenantID string, eventID id.EventID, lockerID string, at time.Time) (*event.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.events[eventID.String()]
	if !ok || e.TenantID != tenantID || !e.Status.Lockable() {
		return nil, farmledger.ErrLockNotAcquired
	}
	lockedAt := at
	e.Status = event.StatusProcessing
	e.LockedBy = lockerID
	e.LockedAt = &lockedAt
	e.Attempts++
	e.UpdatedAt = at
	return copyEvent(e), nil
}

func (s *Store) MarkPosted(_ context.Context, tenantID string, eventID id.EventID, res event.PostedResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.events[eventID.String()]
	if !ok || e.TenantID != tenantID {
		return farmledger.ErrEventNotFound
	}
	postedAt := res.PostedAt
	e.Status = event.StatusPosted
	e.IdempotencyKey = res.IdempotencyKey
	e.LedgerTransactionID = res.TransactionID
	e.InventoryMovementIDs = append([]id.MovementID(nil), res.MovementIDs...)
	e.PostedAt = &postedAt
	e.LockedBy = ""
	e.LockedAt = nil
	e.LastError = ""
	e.UpdatedAt = postedAt
	return nil
}

func (s *Store) MarkFailed(_ context.Context, tenantID string, eventID id.EventID, errMsg string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.events[eventID.String()]
	if !ok || e.TenantID != tenantID {
		return farmledger.ErrEventNotFound
	}
	e.Status = event.StatusFailed
	e.LastError = errMsg
	e.LockedBy = ""
	e.LockedAt = nil
	e.UpdatedAt = at
	return nil
}

func (s *Store) ReleaseLock(_ context.Context, tenantID string, eventID id.EventID, lockerID, reason string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.events[eventID.String()]
	if !ok || e.TenantID != tenantID {
		return farmledger.ErrEventNotFound
	}
	if e.Status != event.StatusProcessing || e.LockedBy != lockerID {
		return fmt.Errorf("%w: not held by %q", farmledger.ErrLockNotAcquired, lockerID)
	}
	e.Status = event.StatusFailed
	e.LastError = "lock released: " + reason
	e.LockedBy = ""
	e.LockedAt = nil
	e.UpdatedAt = at
	return nil
}

// ──────────────────────────────────────────────────
// Tenant Store
// ──────────────────────────────────────────────────

func (s *Store) CreateTenant(_ context.Context, t *tenant.Tenant) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.tenants[t.ID]; exists {
		return farmledger.ErrAlreadyExists
	}
	cp := *t
	s.tenants[t.ID] = &cp
	return nil
}

func (s *Store) GetTenant(_ context.Context, tenantID string) (*tenant.Tenant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.tenants[tenantID]
	if !ok {
		return nil, farmledger.ErrTenantNotFound
	}
	cp := *t
	return &cp, nil
}

func (s *Store) ListTenants(_ context.Context) ([]*tenant.Tenant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*tenant.Tenant, 0, len(s.tenants))
	for _, t := range s.tenants {
		cp := *t
		result = append(result, &cp)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

// UpdateTenantSettings replaces a tenant's settings.
func (s *Store) UpdateTenantSettings(_ context.Context, tenantID string, settings tenant.Settings) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tenants[tenantID]
	if !ok {
		return farmledger.ErrTenantNotFound
	}
	t.Settings = settings
	t.Touch()
	return nil
}

// ──────────────────────────────────────────────────
// Account Store
// ──────────────────────────────────────────────────

func (s *Store) CreateAccounts(_ context.Context, accts []*account.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	seen := make(map[string]bool, len(accts))
	for _, a := range accts {
		k := scoped(a.TenantID, a.Code)
		if _, exists := s.accounts[a.TenantID][a.Code]; exists || seen[k] {
			return fmt.Errorf("%w: account %s", farmledger.ErrAlreadyExists, a.Code)
		}
		seen[k] = true
	}
	for _, a := range accts {
		chart, ok := s.accounts[a.TenantID]
		if !ok {
			chart = make(map[string]*account.Account)
			s.accounts[a.TenantID] = chart
		}
		cp := *a
		chart[a.Code] = &cp
	}
	return nil
}

func (s *Store) GetAccountByCode(_ context.Context, tenantID, code string) (*account.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.accounts[tenantID][code]
	if !ok {
		return nil, farmledger.ErrAccountNotFound
	}
	cp := *a
	return &cp, nil
}

func (s *Store) GetAccounts(_ context.Context, tenantID string) ([]*account.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	chart := s.accounts[tenantID]
	result := make([]*account.Account, 0, len(chart))
	for _, a := range chart {
		cp := *a
		result = append(result, &cp)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Code < result[j].Code })
	return result, nil
}

func (s *Store) CountAccounts(_ context.Context, tenantID string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(s.accounts[tenantID])), nil
}

func (s *Store) UpdateAccount(_ context.Context, a *account.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.accounts[a.TenantID][a.Code]; !ok {
		return farmledger.ErrAccountNotFound
	}
	cp := *a
	s.accounts[a.TenantID][a.Code] = &cp
	return nil
}

// ──────────────────────────────────────────────────
// Item Store
// ──────────────────────────────────────────────────

func (s *Store) CreateItem(_ context.Context, it *item.Item) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := scoped(it.TenantID, it.ID)
	if _, exists := s.items[k]; exists {
		return farmledger.ErrAlreadyExists
	}
	cp := *it
	s.items[k] = &cp
	return nil
}

func (s *Store) GetItem(_ context.Context, tenantID, itemID string) (*item.Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	it, ok := s.items[scoped(tenantID, itemID)]
	if !ok {
		return nil, farmledger.ErrItemNotFound
	}
	cp := *it
	return &cp, nil
}

// ──────────────────────────────────────────────────
// Ledger Store
// ──────────────────────────────────────────────────

func (s *Store) CreateTransaction(_ context.Context, tx *journal.Transaction, entries []*journal.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.insertTransaction(tx, entries)
}

// insertTransaction must be called with s.mu held.
func (s *Store) insertTransaction(tx *journal.Transaction, entries []*journal.Entry) error {
	k := scoped(tx.TenantID, tx.IdempotencyKey)
	if _, exists := s.txKeys[k]; exists {
		return farmledger.ErrDuplicateIdempotencyKey
	}
	if _, exists := s.transactions[tx.ID.String()]; exists {
		return farmledger.ErrAlreadyExists
	}

	cp := *tx
	s.transactions[tx.ID.String()] = &cp
	s.txKeys[k] = tx.ID.String()
	s.entries[tx.ID.String()] = copyEntries(entries)
	return nil
}

func (s *Store) GetTransaction(_ context.Context, tenantID string, txID id.TransactionID) (*journal.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tx, ok := s.transactions[txID.String()]
	if !ok || tx.TenantID != tenantID {
		return nil, farmledger.ErrTransactionNotFound
	}
	cp := *tx
	return &cp, nil
}

func (s *Store) GetEntries(_ context.Context, tenantID string, txID id.TransactionID) ([]*journal.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tx, ok := s.transactions[txID.String()]
	if !ok || tx.TenantID != tenantID {
		return nil, farmledger.ErrTransactionNotFound
	}
	return copyEntries(s.entries[txID.String()]), nil
}

func (s *Store) FindByIdempotencyKey(_ context.Context, tenantID, key string) (*journal.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	txID, ok := s.txKeys[scoped(tenantID, key)]
	if !ok {
		return nil, farmledger.ErrTransactionNotFound
	}
	cp := *s.transactions[txID]
	return &cp, nil
}

func (s *Store) ReverseTransaction(_ context.Context, original, reversal *journal.Transaction, entries []*journal.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.transactions[original.ID.String()]
	if !ok || cur.TenantID != original.TenantID {
		return farmledger.ErrTransactionNotFound
	}
	if cur.Status != journal.StatusPosted {
		return farmledger.ErrAlreadyReversed
	}
	if err := s.insertTransaction(reversal, entries); err != nil {
		return err
	}
	cur.Status = journal.StatusReversed
	cur.ReversedByTransactionID = reversal.ID
	cur.UpdatedAt = reversal.CreatedAt
	return nil
}

// ──────────────────────────────────────────────────
// Inventory Store
// ──────────────────────────────────────────────────

func (s *Store) ApplyMovement(_ context.Context, m *inventory.Movement) (*inventory.ApplyResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := m.Key()
	if existing, ok := s.movementKeys[scoped(m.TenantID, m.IdempotencyKey)]; ok {
		return &inventory.ApplyResult{
			Movement: copyMovement(existing),
			Balance:  s.balanceLocked(k),
			Replayed: true,
		}, nil
	}

	next := inventory.Apply(s.balances[k], m)
	s.balances[k] = next
	stored := copyMovement(m)
	s.movements = append(s.movements, stored)
	s.movementKeys[scoped(m.TenantID, m.IdempotencyKey)] = stored

	b := *next
	return &inventory.ApplyResult{Movement: copyMovement(stored), Balance: &b}, nil
}

func (s *Store) GetBalance(_ context.Context, tenantID, siteID, itemID string) (*inventory.Balance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.balanceLocked(inventory.Key{TenantID: tenantID, SiteID: siteID, ItemID: itemID}), nil
}

// balanceLocked must be called with s.mu held.
func (s *Store) balanceLocked(k inventory.Key) *inventory.Balance {
	if b, ok := s.balances[k]; ok {
		cp := *b
		return &cp
	}
	return &inventory.Balance{
		TenantID:       k.TenantID,
		SiteID:         k.SiteID,
		ItemID:         k.ItemID,
		QtyOnHand:      decimal.Zero,
		AvgCostPerUnit: decimal.Zero,
	}
}

func (s *Store) ListMovements(_ context.Context, tenantID string, q inventory.MovementQuery) ([]*inventory.Movement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*inventory.Movement, 0)
	for _, m := range s.movements {
		if m.TenantID != tenantID {
			continue
		}
		if q.SiteID != "" && m.SiteID != q.SiteID {
			continue
		}
		if q.ItemID != "" && m.ItemID != q.ItemID {
			continue
		}
		if !q.EventID.IsNil() && m.EventID != q.EventID {
			continue
		}
		result = append(result, copyMovement(m))
	}
	return paginate(result, 0, q.Limit), nil
}

// ──────────────────────────────────────────────────
// Requisition Store
// ──────────────────────────────────────────────────

func (s *Store) CreateRequisition(_ context.Context, r *requisition.Requisition) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.requisitions {
		if existing.ID == r.ID {
			return farmledger.ErrAlreadyExists
		}
	}
	cp := *r
	s.requisitions = append(s.requisitions, &cp)
	return nil
}

func (s *Store) GetRequisition(_ context.Context, tenantID string, reqID id.RequisitionID) (*requisition.Requisition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, r := range s.requisitions {
		if r.ID == reqID && r.TenantID == tenantID {
			cp := *r
			return &cp, nil
		}
	}
	return nil, farmledger.ErrRequisitionNotFound
}

func (s *Store) FindOpenAutoRequisition(_ context.Context, tenantID, siteID, itemID string) (*requisition.Requisition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, r := range s.requisitions {
		if r.TenantID == tenantID && r.SiteID == siteID && r.ItemID == itemID &&
			r.AutoGenerated && r.Status == requisition.StatusOpen {
			cp := *r
			return &cp, nil
		}
	}
	return nil, farmledger.ErrRequisitionNotFound
}

func (s *Store) ListRequisitions(_ context.Context, tenantID string) ([]*requisition.Requisition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*requisition.Requisition, 0)
	for _, r := range s.requisitions {
		if r.TenantID == tenantID {
			cp := *r
			result = append(result, &cp)
		}
	}
	return result, nil
}

// UpdateRequisitionStatus moves a requisition through the purchasing workflow.
func (s *Store) UpdateRequisitionStatus(_ context.Context, tenantID string, reqID id.RequisitionID, status requisition.Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, r := range s.requisitions {
		if r.ID == reqID && r.TenantID == tenantID {
			r.Status = status
			r.Touch()
			return nil
		}
	}
	return farmledger.ErrRequisitionNotFound
}

// ──────────────────────────────────────────────────
// Core methods
// ──────────────────────────────────────────────────

func (s *Store) Migrate(_ context.Context) error { return nil }

func (s *Store) Ping(_ context.Context) error { return nil }

func (s *Store) Close() error { return nil }

// ──────────────────────────────────────────────────
// Helpers
// ──────────────────────────────────────────────────

func copyEvent(e *event.Event) *event.Event {
	cp := *e
	if e.LockedAt != nil {
		t := *e.LockedAt
		cp.LockedAt = &t
	}
	if e.PostedAt != nil {
		t := *e.PostedAt
		cp.PostedAt = &t
	}
	cp.InventoryMovementIDs = append([]id.MovementID(nil), e.InventoryMovementIDs...)
	return &cp
}

func copyEntries(entries []*journal.Entry) []*journal.Entry {
	out := make([]*journal.Entry, len(entries))
	for i, e := range entries {
		cp := *e
		out[i] = &cp
	}
	return out
}

func copyMovement(m *inventory.Movement) *inventory.Movement {
	cp := *m
	return &cp
}

func paginate[T any](items []T, offset, limit int) []T {
	start := offset
	if start > len(items) {
		start = len(items)
	}
	end := start + limit
	if limit == 0 || end > len(items) {
		end = len(items)
	}
	return items[start:end]
}
