package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/xraph/grove"
	"github.com/xraph/grove/drivers/mongodriver"

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

// Collection name constants.
const (
	colEvents       = "farmledger_events"
	colTenants      = "farmledger_tenants"
	colAccounts     = "farmledger_accounts"
	colItems        = "farmledger_items"
	colTransactions = "farmledger_transactions"
	colEntries      = "farmledger_entries"
	colBalances     = "farmledger_balances"
	colMovements    = "farmledger_movements"
	colRequisitions = "farmledger_requisitions"
)

// maxApplyAttempts bounds the optimistic retry loop in ApplyMovement.
const maxApplyAttempts = 8

var errVersionConflict = errors.New("balance version conflict")

// compile-time interface check
var _ store.Store = (*Store)(nil)

// Store implements store.Store using MongoDB via Grove ORM.
//
// Multi-document writes run inside a session transaction, which requires
// the server to be a replica set or sharded cluster.
type Store struct {
	db  *grove.DB
	mdb *mongodriver.MongoDB
}

// New creates a new MongoDB store backed by Grove ORM.
func New(db *grove.DB) *Store {
	return &Store{
		db:  db,
		mdb: mongodriver.Unwrap(db),
	}
}

// DB returns the underlying grove database for direct access.
func (s *Store) DB() *grove.DB { return s.db }

// Migrate creates indexes for all farmledger collections.
func (s *Store) Migrate(ctx context.Context) error {
	indexes := migrationIndexes()

	for col, models := range indexes {
		if len(models) == 0 {
			continue
		}
		_, err := s.mdb.Collection(col).Indexes().CreateMany(ctx, models)
		if err != nil {
			return fmt.Errorf("farmledger/mongo: migrate %s indexes: %w", col, err)
		}
	}
	return nil
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// withTransaction runs fn inside a session transaction. Grove queries built
// with the callback's context join the transaction.
func (s *Store) withTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	client := s.mdb.Collection(colTransactions).Database().Client()
	sess, err := client.StartSession()
	if err != nil {
		return fmt.Errorf("farmledger/mongo: start session: %w", err)
	}
	defer sess.EndSession(ctx)

	_, err = sess.WithTransaction(ctx, func(ctx context.Context) (any, error) {
		return nil, fn(ctx)
	})
	return err
}

// ==================== Event Store ====================

func (s *Store) CreateEvent(ctx context.Context, e *event.Event) error {
	m, err := toEventModel(e)
	if err != nil {
		return fmt.Errorf("farmledger/mongo: encode event: %w", err)
	}
	if _, err := s.mdb.NewInsert(m).Exec(ctx); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return farmledger.ErrAlreadyExists
		}
		return fmt.Errorf("farmledger/mongo: create event: %w", err)
	}
	return nil
}

func (s *Store) GetEvent(ctx context.Context, tenantID string, eventID id.EventID) (*event.Event, error) {
	var m eventModel
	err := s.mdb.NewFind(&m).
		Filter(bson.M{"_id": eventID.String(), "tenant_id": tenantID}).
		Scan(ctx)
	if err != nil {
		if isNoDocuments(err) {
			return nil, farmledger.ErrEventNotFound
		}
		return nil, fmt.Errorf("farmledger/mongo: get event: %w", err)
	}
	return fromEventModel(&m)
}

func (s *Store) ListEvents(ctx context.Context, tenantID string, opts event.ListOpts) ([]*event.Event, error) {
	var models []eventModel

	filter := bson.M{"tenant_id": tenantID}
	if opts.Status != "" {
		filter["status"] = string(opts.Status)
	}
	if !opts.LockedBefore.IsZero() {
		filter["locked_at"] = bson.M{"$lt": opts.LockedBefore}
	}
	if opts.AttemptsBelow > 0 {
		filter["attempts"] = bson.M{"$lt": opts.AttemptsBelow}
	}

	q := s.mdb.NewFind(&models).
		Filter(filter).
		Sort(bson.D{{Key: "_id", Value: 1}})
	if opts.Limit > 0 {
		q = q.Limit(int64(opts.Limit))
	}
	if opts.Offset > 0 {
		q = q.Skip(int64(opts.Offset))
	}

	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("farmledger/mongo: list events: %w", err)
	}

	result := make([]*event.Event, len(models))
	for i := range models {
		e, err := fromEventModel(&models[i])
		if err != nil {
			return nil, err
		}
		result[i] = e
	}
	return result, nil
}

// AcquireLock is a single-document conditional update, which MongoDB
// applies atomically.
func (s *Store) AcquireLock(ctx context.Context, tenantID string, eventID id.EventID, lockerID string, at time.Time) (*event.Event, error) {
	res, err := s.mdb.NewUpdate((*eventModel)(nil)).
		Filter(bson.M{
			"_id":       eventID.String(),
			"tenant_id": tenantID,
			"status":    bson.M{"$in": bson.A{string(event.StatusPending), string(event.StatusFailed)}},
		}).
		SetUpdate(bson.M{
			"$set": bson.M{
				"status":     string(event.StatusProcessing),
				"locked_by":  lockerID,
				"locked_at":  at,
				"updated_at": at,
			},
			"$inc": bson.M{"attempts": 1},
		}).
		Exec(ctx)
	if err != nil {
		return nil, fmt.Errorf("farmledger/mongo: acquire lock: %w", err)
	}
	if res.MatchedCount() == 0 {
		return nil, farmledger.ErrLockNotAcquired
	}
	return s.GetEvent(ctx, tenantID, eventID)
}

func (s *Store) MarkPosted(ctx context.Context, tenantID string, eventID id.EventID, r event.PostedResult) error {
	res, err := s.mdb.NewUpdate((*eventModel)(nil)).
		Filter(bson.M{"_id": eventID.String(), "tenant_id": tenantID}).
		SetUpdate(bson.M{
			"$set": bson.M{
				"status":                 string(event.StatusPosted),
				"idempotency_key":        r.IdempotencyKey,
				"ledger_transaction_id":  optionalID(r.TransactionID),
				"inventory_movement_ids": idStrings(r.MovementIDs),
				"posted_at":              r.PostedAt,
				"locked_by":              "",
				"last_error":             "",
				"updated_at":             r.PostedAt,
			},
			"$unset": bson.M{"locked_at": ""},
		}).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("farmledger/mongo: mark posted: %w", err)
	}
	if res.MatchedCount() == 0 {
		return farmledger.ErrEventNotFound
	}
	return nil
}

func (s *Store) MarkFailed(ctx context.Context, tenantID string, eventID id.EventID, errMsg string, at time.Time) error {
	res, err := s.mdb.NewUpdate((*eventModel)(nil)).
		Filter(bson.M{"_id": eventID.String(), "tenant_id": tenantID}).
		SetUpdate(bson.M{
			"$set": bson.M{
				"status":     string(event.StatusFailed),
				"last_error": errMsg,
				"locked_by":  "",
				"updated_at": at,
			},
			"$unset": bson.M{"locked_at": ""},
		}).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("farmledger/mongo: mark failed: %w", err)
	}
	if res.MatchedCount() == 0 {
		return farmledger.ErrEventNotFound
	}
	return nil
}

func (s *Store) ReleaseLock(ctx context.Context, tenantID string, eventID id.EventID, lockerID, reason string, at time.Time) error {
	res, err := s.mdb.NewUpdate((*eventModel)(nil)).
		Filter(bson.M{
			"_id":       eventID.String(),
			"tenant_id": tenantID,
			"status":    string(event.StatusProcessing),
			"locked_by": lockerID,
		}).
		SetUpdate(bson.M{
			"$set": bson.M{
				"status":     string(event.StatusFailed),
				"last_error": "lock released: " + reason,
				"locked_by":  "",
				"updated_at": at,
			},
			"$unset": bson.M{"locked_at": ""},
		}).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("farmledger/mongo: release lock: %w", err)
	}
	if res.MatchedCount() == 0 {
		if _, err := s.GetEvent(ctx, tenantID, eventID); err != nil {
			return err
		}
		return fmt.Errorf("%w: not held by %q", farmledger.ErrLockNotAcquired, lockerID)
	}
	return nil
}

// ==================== Tenant Store ====================

func (s *Store) CreateTenant(ctx context.Context, t *tenant.Tenant) error {
	if _, err := s.mdb.NewInsert(toTenantModel(t)).Exec(ctx); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return farmledger.ErrAlreadyExists
		}
		return fmt.Errorf("farmledger/mongo: create tenant: %w", err)
	}
	return nil
}

func (s *Store) GetTenant(ctx context.Context, tenantID string) (*tenant.Tenant, error) {
	var m tenantModel
	err := s.mdb.NewFind(&m).Filter(bson.M{"_id": tenantID}).Scan(ctx)
	if err != nil {
		if isNoDocuments(err) {
			return nil, farmledger.ErrTenantNotFound
		}
		return nil, fmt.Errorf("farmledger/mongo: get tenant: %w", err)
	}
	return fromTenantModel(&m), nil
}

func (s *Store) ListTenants(ctx context.Context) ([]*tenant.Tenant, error) {
	var models []tenantModel
	err := s.mdb.NewFind(&models).
		Filter(bson.M{}).
		Sort(bson.D{{Key: "_id", Value: 1}}).
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("farmledger/mongo: list tenants: %w", err)
	}
	result := make([]*tenant.Tenant, len(models))
	for i := range models {
		result[i] = fromTenantModel(&models[i])
	}
	return result, nil
}

// UpdateTenantSettings replaces a tenant's posting settings.
func (s *Store) UpdateTenantSettings(ctx context.Context, tenantID string, settings tenant.Settings) error {
	res, err := s.mdb.NewUpdate((*tenantModel)(nil)).
		Filter(bson.M{"_id": tenantID}).
		Set("livestock_costing_mode", string(settings.LivestockCostingMode)).
		Set("auto_reorder_enabled", settings.AutoReorderEnabled).
		Set("updated_at", now()).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("farmledger/mongo: update tenant settings: %w", err)
	}
	if res.MatchedCount() == 0 {
		return farmledger.ErrTenantNotFound
	}
	return nil
}

// ==================== Account Store ====================

func (s *Store) CreateAccounts(ctx context.Context, accts []*account.Account) error {
	if len(accts) == 0 {
		return nil
	}
	err := s.withTransaction(ctx, func(ctx context.Context) error {
		for _, a := range accts {
			if _, err := s.mdb.NewInsert(toAccountModel(a)).Exec(ctx); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return fmt.Errorf("farmledger/mongo: create accounts: %w", farmledger.ErrAlreadyExists)
		}
		return fmt.Errorf("farmledger/mongo: create accounts: %w", err)
	}
	return nil
}

func (s *Store) GetAccountByCode(ctx context.Context, tenantID, code string) (*account.Account, error) {
	var m accountModel
	err := s.mdb.NewFind(&m).
		Filter(bson.M{"tenant_id": tenantID, "code": code}).
		Scan(ctx)
	if err != nil {
		if isNoDocuments(err) {
			return nil, farmledger.ErrAccountNotFound
		}
		return nil, fmt.Errorf("farmledger/mongo: get account: %w", err)
	}
	return fromAccountModel(&m)
}

func (s *Store) GetAccounts(ctx context.Context, tenantID string) ([]*account.Account, error) {
	var models []accountModel
	err := s.mdb.NewFind(&models).
		Filter(bson.M{"tenant_id": tenantID}).
		Sort(bson.D{{Key: "code", Value: 1}}).
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("farmledger/mongo: get accounts: %w", err)
	}
	result := make([]*account.Account, len(models))
	for i := range models {
		a, err := fromAccountModel(&models[i])
		if err != nil {
			return nil, err
		}
		result[i] = a
	}
	return result, nil
}

func (s *Store) CountAccounts(ctx context.Context, tenantID string) (int64, error) {
	n, err := s.mdb.Collection(colAccounts).CountDocuments(ctx, bson.M{"tenant_id": tenantID})
	if err != nil {
		return 0, fmt.Errorf("farmledger/mongo: count accounts: %w", err)
	}
	return n, nil
}

func (s *Store) UpdateAccount(ctx context.Context, a *account.Account) error {
	res, err := s.mdb.NewUpdate((*accountModel)(nil)).
		Filter(bson.M{"tenant_id": a.TenantID, "code": a.Code}).
		Set("name", a.Name).
		Set("subtype", a.Subtype).
		Set("is_active", a.IsActive).
		Set("updated_at", now()).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("farmledger/mongo: update account: %w", err)
	}
	if res.MatchedCount() == 0 {
		return farmledger.ErrAccountNotFound
	}
	return nil
}

// ==================== Item Store ====================

func (s *Store) CreateItem(ctx context.Context, it *item.Item) error {
	if _, err := s.mdb.NewInsert(toItemModel(it)).Exec(ctx); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return farmledger.ErrAlreadyExists
		}
		return fmt.Errorf("farmledger/mongo: create item: %w", err)
	}
	return nil
}

func (s *Store) GetItem(ctx context.Context, tenantID, itemID string) (*item.Item, error) {
	var m itemModel
	err := s.mdb.NewFind(&m).Filter(bson.M{"_id": itemKey(tenantID, itemID)}).Scan(ctx)
	if err != nil {
		if isNoDocuments(err) {
			return nil, farmledger.ErrItemNotFound
		}
		return nil, fmt.Errorf("farmledger/mongo: get item: %w", err)
	}
	return fromItemModel(&m), nil
}

// ==================== Ledger Store ====================

func (s *Store) CreateTransaction(ctx context.Context, tx *journal.Transaction, entries []*journal.Entry) error {
	err := s.withTransaction(ctx, func(ctx context.Context) error {
		if _, err := s.mdb.NewInsert(toTransactionModel(tx)).Exec(ctx); err != nil {
			return err
		}
		return s.insertEntries(ctx, entries)
	})
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return farmledger.ErrDuplicateIdempotencyKey
		}
		return fmt.Errorf("farmledger/mongo: create transaction: %w", err)
	}
	return nil
}

func (s *Store) insertEntries(ctx context.Context, entries []*journal.Entry) error {
	for _, m := range toEntryModels(entries) {
		if _, err := s.mdb.NewInsert(m).Exec(ctx); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) GetTransaction(ctx context.Context, tenantID string, txID id.TransactionID) (*journal.Transaction, error) {
	var m transactionModel
	err := s.mdb.NewFind(&m).
		Filter(bson.M{"_id": txID.String(), "tenant_id": tenantID}).
		Scan(ctx)
	if err != nil {
		if isNoDocuments(err) {
			return nil, farmledger.ErrTransactionNotFound
		}
		return nil, fmt.Errorf("farmledger/mongo: get transaction: %w", err)
	}
	return fromTransactionModel(&m)
}

func (s *Store) GetEntries(ctx context.Context, tenantID string, txID id.TransactionID) ([]*journal.Entry, error) {
	if _, err := s.GetTransaction(ctx, tenantID, txID); err != nil {
		return nil, err
	}
	var models []entryModel
	err := s.mdb.NewFind(&models).
		Filter(bson.M{"transaction_id": txID.String()}).
		Sort(bson.D{{Key: "line_no", Value: 1}}).
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("farmledger/mongo: get entries: %w", err)
	}
	result := make([]*journal.Entry, len(models))
	for i := range models {
		e, err := fromEntryModel(&models[i])
		if err != nil {
			return nil, err
		}
		result[i] = e
	}
	return result, nil
}

func (s *Store) FindByIdempotencyKey(ctx context.Context, tenantID, key string) (*journal.Transaction, error) {
	var m transactionModel
	err := s.mdb.NewFind(&m).
		Filter(bson.M{"tenant_id": tenantID, "idempotency_key": key}).
		Scan(ctx)
	if err != nil {
		if isNoDocuments(err) {
			return nil, farmledger.ErrTransactionNotFound
		}
		return nil, fmt.Errorf("farmledger/mongo: find by idempotency key: %w", err)
	}
	return fromTransactionModel(&m)
}

// ReverseTransaction flips the original (guarded on status POSTED) and
// inserts the reversal in the same session transaction.
func (s *Store) ReverseTransaction(ctx context.Context, original, reversal *journal.Transaction, entries []*journal.Entry) error {
	err := s.withTransaction(ctx, func(ctx context.Context) error {
		res, err := s.mdb.NewUpdate((*transactionModel)(nil)).
			Filter(bson.M{
				"_id":       original.ID.String(),
				"tenant_id": original.TenantID,
				"status":    string(journal.StatusPosted),
			}).
			Set("status", string(journal.StatusReversed)).
			Set("reversed_by_transaction_id", reversal.ID.String()).
			Set("updated_at", reversal.CreatedAt).
			Exec(ctx)
		if err != nil {
			return err
		}
		if res.MatchedCount() == 0 {
			return farmledger.ErrAlreadyReversed
		}
		if _, err := s.mdb.NewInsert(toTransactionModel(reversal)).Exec(ctx); err != nil {
			return err
		}
		return s.insertEntries(ctx, entries)
	})
	switch {
	case err == nil:
		return nil
	case errors.Is(err, farmledger.ErrAlreadyReversed):
		if _, getErr := s.GetTransaction(ctx, original.TenantID, original.ID); getErr != nil {
			return getErr
		}
		return farmledger.ErrAlreadyReversed
	case mongo.IsDuplicateKeyError(err):
		return farmledger.ErrDuplicateIdempotencyKey
	default:
		return fmt.Errorf("farmledger/mongo: reverse transaction: %w", err)
	}
}

// ==================== Inventory Store ====================

// ApplyMovement computes the next balance with inventory.Apply and writes
// it with the movement in one session transaction. The balance update is
// guarded by the version that was read; a lost race re-reads and retries.
func (s *Store) ApplyMovement(ctx context.Context, m *inventory.Movement) (*inventory.ApplyResult, error) {
	for attempt := 0; attempt < maxApplyAttempts; attempt++ {
		existing, err := s.findMovementByKey(ctx, m.TenantID, m.IdempotencyKey)
		if err != nil {
			return nil, err
		}
		if existing != nil {
			bal, err := s.GetBalance(ctx, m.TenantID, m.SiteID, m.ItemID)
			if err != nil {
				return nil, err
			}
			return &inventory.ApplyResult{Movement: existing, Balance: bal, Replayed: true}, nil
		}

		prev, err := s.GetBalance(ctx, m.TenantID, m.SiteID, m.ItemID)
		if err != nil {
			return nil, err
		}
		mv := *m
		next := inventory.Apply(prev, &mv)

		err = s.withTransaction(ctx, func(ctx context.Context) error {
			if err := s.writeBalance(ctx, prev.Version, next); err != nil {
				return err
			}
			_, err := s.mdb.NewInsert(toMovementModel(&mv)).Exec(ctx)
			return err
		})
		switch {
		case err == nil:
			*m = mv
			stored := mv
			return &inventory.ApplyResult{Movement: &stored, Balance: next}, nil
		case errors.Is(err, errVersionConflict), mongo.IsDuplicateKeyError(err):
			continue
		default:
			return nil, fmt.Errorf("farmledger/mongo: apply movement: %w", err)
		}
	}
	return nil, fmt.Errorf("farmledger/mongo: apply movement: %w", farmledger.ErrConcurrentModification)
}

func (s *Store) writeBalance(ctx context.Context, prevVersion int64, next *inventory.Balance) error {
	m := toBalanceModel(next)
	if prevVersion == 0 {
		if _, err := s.mdb.NewInsert(m).Exec(ctx); err != nil {
			if mongo.IsDuplicateKeyError(err) {
				return errVersionConflict
			}
			return err
		}
		return nil
	}

	res, err := s.mdb.NewUpdate((*balanceModel)(nil)).
		Filter(bson.M{"_id": m.Key, "version": prevVersion}).
		Set("qty_on_hand", m.QtyOnHand).
		Set("avg_cost_per_unit", m.AvgCostPerUnit).
		Set("version", m.Version).
		Set("updated_at", m.UpdatedAt).
		Exec(ctx)
	if err != nil {
		return err
	}
	if res.MatchedCount() == 0 {
		return errVersionConflict
	}
	return nil
}

func (s *Store) findMovementByKey(ctx context.Context, tenantID, key string) (*inventory.Movement, error) {
	var m movementModel
	err := s.mdb.NewFind(&m).
		Filter(bson.M{"tenant_id": tenantID, "idempotency_key": key}).
		Scan(ctx)
	if err != nil {
		if isNoDocuments(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("farmledger/mongo: find movement: %w", err)
	}
	return fromMovementModel(&m)
}

func (s *Store) GetBalance(ctx context.Context, tenantID, siteID, itemID string) (*inventory.Balance, error) {
	var m balanceModel
	err := s.mdb.NewFind(&m).
		Filter(bson.M{"_id": balanceKey(tenantID, siteID, itemID)}).
		Scan(ctx)
	if err != nil {
		if isNoDocuments(err) {
			return &inventory.Balance{TenantID: tenantID, SiteID: siteID, ItemID: itemID}, nil
		}
		return nil, fmt.Errorf("farmledger/mongo: get balance: %w", err)
	}
	return fromBalanceModel(&m), nil
}

func (s *Store) ListMovements(ctx context.Context, tenantID string, q inventory.MovementQuery) ([]*inventory.Movement, error) {
	var models []movementModel

	filter := bson.M{"tenant_id": tenantID}
	if q.SiteID != "" {
		filter["site_id"] = q.SiteID
	}
	if q.ItemID != "" {
		filter["item_id"] = q.ItemID
	}
	if !q.EventID.IsNil() {
		filter["event_id"] = q.EventID.String()
	}

	find := s.mdb.NewFind(&models).
		Filter(filter).
		Sort(bson.D{{Key: "created_at", Value: 1}, {Key: "_id", Value: 1}})
	if q.Limit > 0 {
		find = find.Limit(int64(q.Limit))
	}
	if err := find.Scan(ctx); err != nil {
		return nil, fmt.Errorf("farmledger/mongo: list movements: %w", err)
	}

	result := make([]*inventory.Movement, len(models))
	for i := range models {
		mv, err := fromMovementModel(&models[i])
		if err != nil {
			return nil, err
		}
		result[i] = mv
	}
	return result, nil
}

// ==================== Requisition Store ====================

func (s *Store) CreateRequisition(ctx context.Context, r *requisition.Requisition) error {
	if _, err := s.mdb.NewInsert(toRequisitionModel(r)).Exec(ctx); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return farmledger.ErrAlreadyExists
		}
		return fmt.Errorf("farmledger/mongo: create requisition: %w", err)
	}
	return nil
}

func (s *Store) GetRequisition(ctx context.Context, tenantID string, reqID id.RequisitionID) (*requisition.Requisition, error) {
	var m requisitionModel
	err := s.mdb.NewFind(&m).
		Filter(bson.M{"_id": reqID.String(), "tenant_id": tenantID}).
		Scan(ctx)
	if err != nil {
		if isNoDocuments(err) {
			return nil, farmledger.ErrRequisitionNotFound
		}
		return nil, fmt.Errorf("farmledger/mongo: get requisition: %w", err)
	}
	return fromRequisitionModel(&m)
}

func (s *Store) FindOpenAutoRequisition(ctx context.Context, tenantID, siteID, itemID string) (*requisition.Requisition, error) {
	var m requisitionModel
	err := s.mdb.NewFind(&m).
		Filter(bson.M{
			"tenant_id":      tenantID,
			"site_id":        siteID,
			"item_id":        itemID,
			"status":         string(requisition.StatusOpen),
			"auto_generated": true,
		}).
		Sort(bson.D{{Key: "created_at", Value: -1}}).
		Scan(ctx)
	if err != nil {
		if isNoDocuments(err) {
			return nil, farmledger.ErrRequisitionNotFound
		}
		return nil, fmt.Errorf("farmledger/mongo: find open requisition: %w", err)
	}
	return fromRequisitionModel(&m)
}

func (s *Store) ListRequisitions(ctx context.Context, tenantID string) ([]*requisition.Requisition, error) {
	var models []requisitionModel
	err := s.mdb.NewFind(&models).
		Filter(bson.M{"tenant_id": tenantID}).
		Sort(bson.D{{Key: "created_at", Value: 1}}).
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("farmledger/mongo: list requisitions: %w", err)
	}
	result := make([]*requisition.Requisition, len(models))
	for i := range models {
		r, err := fromRequisitionModel(&models[i])
		if err != nil {
			return nil, err
		}
		result[i] = r
	}
	return result, nil
}

// UpdateRequisitionStatus moves a requisition through its purchasing lifecycle.
func (s *Store) UpdateRequisitionStatus(ctx context.Context, tenantID string, reqID id.RequisitionID, status requisition.Status) error {
	res, err := s.mdb.NewUpdate((*requisitionModel)(nil)).
		Filter(bson.M{"_id": reqID.String(), "tenant_id": tenantID}).
		Set("status", string(status)).
		Set("updated_at", now()).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("farmledger/mongo: update requisition status: %w", err)
	}
	if res.MatchedCount() == 0 {
		return farmledger.ErrRequisitionNotFound
	}
	return nil
}

// ==================== Helpers ====================

// now returns the current UTC time.
func now() time.Time {
	return time.Now().UTC()
}

// isNoDocuments checks if an error wraps mongo.ErrNoDocuments.
func isNoDocuments(err error) bool {
	return errors.Is(err, mongo.ErrNoDocuments)
}

// migrationIndexes returns the index definitions for all farmledger collections.
func migrationIndexes() map[string][]mongo.IndexModel {
	return map[string][]mongo.IndexModel{
		colEvents: {
			{Keys: bson.D{{Key: "tenant_id", Value: 1}, {Key: "status", Value: 1}}},
			{Keys: bson.D{{Key: "status", Value: 1}, {Key: "locked_at", Value: 1}}},
		},
		colAccounts: {
			{
				Keys:    bson.D{{Key: "tenant_id", Value: 1}, {Key: "code", Value: 1}},
				Options: options.Index().SetUnique(true),
			},
		},
		colItems: {
			{Keys: bson.D{{Key: "tenant_id", Value: 1}, {Key: "item_id", Value: 1}}},
		},
		colTransactions: {
			{
				Keys:    bson.D{{Key: "tenant_id", Value: 1}, {Key: "idempotency_key", Value: 1}},
				Options: options.Index().SetUnique(true),
			},
			{Keys: bson.D{{Key: "tenant_id", Value: 1}, {Key: "event_id", Value: 1}}},
		},
		colEntries: {
			{Keys: bson.D{{Key: "transaction_id", Value: 1}, {Key: "line_no", Value: 1}}},
			{Keys: bson.D{{Key: "tenant_id", Value: 1}, {Key: "account_code", Value: 1}}},
		},
		colBalances: {
			{Keys: bson.D{{Key: "tenant_id", Value: 1}, {Key: "site_id", Value: 1}, {Key: "item_id", Value: 1}}},
		},
		colMovements: {
			{
				Keys:    bson.D{{Key: "tenant_id", Value: 1}, {Key: "idempotency_key", Value: 1}},
				Options: options.Index().SetUnique(true),
			},
			{Keys: bson.D{{Key: "tenant_id", Value: 1}, {Key: "site_id", Value: 1}, {Key: "item_id", Value: 1}, {Key: "created_at", Value: 1}}},
			{Keys: bson.D{{Key: "tenant_id", Value: 1}, {Key: "event_id", Value: 1}}},
		},
		colRequisitions: {
			{Keys: bson.D{{Key: "tenant_id", Value: 1}, {Key: "created_at", Value: 1}}},
			{
				Keys: bson.D{{Key: "tenant_id", Value: 1}, {Key: "site_id", Value: 1}, {Key: "item_id", Value: 1}},
				Options: options.Index().SetUnique(true).SetPartialFilterExpression(bson.M{
					"auto_generated": true,
					"status":         string(requisition.StatusOpen),
				}),
			},
		},
	}
}
