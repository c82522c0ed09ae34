package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/xraph/grove"
	"github.com/xraph/grove/drivers/pgdriver"
	"github.com/xraph/grove/migrate"

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

// compile-time interface check
var _ store.Store = (*Store)(nil)

const (
	transactionKeyIndex = "idx_farmledger_transactions_idem"
	movementKeyIndex    = "idx_farmledger_movements_idem"

	// maxApplyAttempts bounds the optimistic retry loop in ApplyMovement.
	maxApplyAttempts = 8
)

// Store implements store.Store using PostgreSQL via Grove ORM.
//
// Writes that must be atomic (ledger transaction plus entries, reversal plus
// original status flip, balance update plus movement) are issued as single
// data-modifying CTE statements, so no client-side transaction is held.
type Store struct {
	db *grove.DB
	pg *pgdriver.PgDB
}

// New creates a new PostgreSQL store backed by Grove ORM.
func New(db *grove.DB) *Store {
	return &Store{
		db: db,
		pg: pgdriver.Unwrap(db),
	}
}

// DB returns the underlying grove database for direct access.
func (s *Store) DB() *grove.DB { return s.db }

// Migrate creates the required tables and indexes using the grove orchestrator.
func (s *Store) Migrate(ctx context.Context) error {
	executor, err := migrate.NewExecutorFor(s.pg)
	if err != nil {
		return fmt.Errorf("farmledger/postgres: create migration executor: %w", err)
	}
	orch := migrate.NewOrchestrator(executor, Migrations)
	if _, err := orch.Migrate(ctx); err != nil {
		return fmt.Errorf("farmledger/postgres: %w: %w", farmledger.ErrMigrationFailed, err)
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

// ==================== Event Store ====================

func (s *Store) CreateEvent(ctx context.Context, e *event.Event) error {
	m, err := toEventModel(e)
	if err != nil {
		return fmt.Errorf("farmledger/postgres: encode event: %w", err)
	}
	_, err = s.pg.NewInsert(m).Exec(ctx)
	if isUniqueViolation(err, "") {
		return farmledger.ErrAlreadyExists
	}
	return err
}

func (s *Store) GetEvent(ctx context.Context, tenantID string, eventID id.EventID) (*event.Event, error) {
	m := new(eventModel)
	err := s.pg.NewSelect(m).
		Where("id = $1", eventID.String()).
		Where("tenant_id = $2", tenantID).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, farmledger.ErrEventNotFound
		}
		return nil, err
	}
	return fromEventModel(m)
}

func (s *Store) ListEvents(ctx context.Context, tenantID string, opts event.ListOpts) ([]*event.Event, error) {
	var models []eventModel
	q := s.pg.NewSelect(&models).Where("tenant_id = $1", tenantID)

	argIdx := 1
	if opts.Status != "" {
		argIdx++
		q = q.Where(fmt.Sprintf("status = $%d", argIdx), string(opts.Status))
	}
	if !opts.LockedBefore.IsZero() {
		argIdx++
		q = q.Where(fmt.Sprintf("locked_at IS NOT NULL AND locked_at < $%d", argIdx), opts.LockedBefore)
	}
	if opts.AttemptsBelow > 0 {
		argIdx++
		q = q.Where(fmt.Sprintf("attempts < $%d", argIdx), opts.AttemptsBelow)
	}
	if opts.Limit > 0 {
		q = q.Limit(opts.Limit)
	}
	if opts.Offset > 0 {
		q = q.Offset(opts.Offset)
	}
	q = q.OrderExpr("id ASC")

	if err := q.Scan(ctx); err != nil {
		return nil, err
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

// AcquireLock is a single conditional UPDATE; concurrent callers serialize
// on the row lock and only one sees a matching status.
func (s *Store) AcquireLock(ctx context.Context, tenantID string, eventID id.EventID, lockerID string, at time.Time) (*event.Event, error) {
	res, err := s.pg.NewUpdate((*eventModel)(nil)).
		Set("status = $1", string(event.StatusProcessing)).
		Set("locked_by = $2", lockerID).
		Set("locked_at = $3", at).
		Set("attempts = attempts + 1").
		Set("updated_at = $4", at).
		Where("id = $5", eventID.String()).
		Where("tenant_id = $6", tenantID).
		Where("status IN ($7, $8)", string(event.StatusPending), string(event.StatusFailed)).
		Exec(ctx)
	if err != nil {
		return nil, fmt.Errorf("farmledger/postgres: acquire lock: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if rows == 0 {
		return nil, farmledger.ErrLockNotAcquired
	}
	return s.GetEvent(ctx, tenantID, eventID)
}

func (s *Store) MarkPosted(ctx context.Context, tenantID string, eventID id.EventID, r event.PostedResult) error {
	movements, err := toJSON(idStrings(r.MovementIDs))
	if err != nil {
		return err
	}
	res, err := s.pg.NewUpdate((*eventModel)(nil)).
		Set("status = $1", string(event.StatusPosted)).
		Set("idempotency_key = $2", r.IdempotencyKey).
		Set("ledger_transaction_id = $3", optionalID(r.TransactionID)).
		Set("inventory_movement_ids = $4", movements).
		Set("posted_at = $5", r.PostedAt).
		Set("locked_by = ''").
		Set("locked_at = NULL").
		Set("last_error = ''").
		Set("updated_at = $6", r.PostedAt).
		Where("id = $7", eventID.String()).
		Where("tenant_id = $8", tenantID).
		Exec(ctx)
	return expectOne(res, err, farmledger.ErrEventNotFound)
}

func (s *Store) MarkFailed(ctx context.Context, tenantID string, eventID id.EventID, errMsg string, at time.Time) error {
	res, err := s.pg.NewUpdate((*eventModel)(nil)).
		Set("status = $1", string(event.StatusFailed)).
		Set("last_error = $2", errMsg).
		Set("locked_by = ''").
		Set("locked_at = NULL").
		Set("updated_at = $3", at).
		Where("id = $4", eventID.String()).
		Where("tenant_id = $5", tenantID).
		Exec(ctx)
	return expectOne(res, err, farmledger.ErrEventNotFound)
}

func (s *Store) ReleaseLock(ctx context.Context, tenantID string, eventID id.EventID, lockerID, reason string, at time.Time) error {
	res, err := s.pg.NewUpdate((*eventModel)(nil)).
		Set("status = $1", string(event.StatusFailed)).
		Set("last_error = $2", "lock released: "+reason).
		Set("locked_by = ''").
		Set("locked_at = NULL").
		Set("updated_at = $3", at).
		Where("id = $4", eventID.String()).
		Where("tenant_id = $5", tenantID).
		Where("status = $6", string(event.StatusProcessing)).
		Where("locked_by = $7", lockerID).
		Exec(ctx)
	if err != nil {
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		if _, err := s.GetEvent(ctx, tenantID, eventID); err != nil {
			return err
		}
		return fmt.Errorf("%w: not held by %q", farmledger.ErrLockNotAcquired, lockerID)
	}
	return nil
}

// ==================== Tenant Store ====================

func (s *Store) CreateTenant(ctx context.Context, t *tenant.Tenant) error {
	_, err := s.pg.NewInsert(toTenantModel(t)).Exec(ctx)
	if isUniqueViolation(err, "") {
		return farmledger.ErrAlreadyExists
	}
	return err
}

func (s *Store) GetTenant(ctx context.Context, tenantID string) (*tenant.Tenant, error) {
	m := new(tenantModel)
	err := s.pg.NewSelect(m).Where("id = $1", tenantID).Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, farmledger.ErrTenantNotFound
		}
		return nil, err
	}
	return fromTenantModel(m)
}

func (s *Store) ListTenants(ctx context.Context) ([]*tenant.Tenant, error) {
	var models []tenantModel
	if err := s.pg.NewSelect(&models).OrderExpr("id ASC").Scan(ctx); err != nil {
		return nil, err
	}
	result := make([]*tenant.Tenant, len(models))
	for i := range models {
		t, err := fromTenantModel(&models[i])
		if err != nil {
			return nil, err
		}
		result[i] = t
	}
	return result, nil
}

// UpdateTenantSettings replaces a tenant's posting settings.
func (s *Store) UpdateTenantSettings(ctx context.Context, tenantID string, settings tenant.Settings) error {
	raw, err := toJSON(settings)
	if err != nil {
		return err
	}
	res, err := s.pg.NewUpdate((*tenantModel)(nil)).
		Set("settings = $1", raw).
		Set("updated_at = $2", now()).
		Where("id = $3", tenantID).
		Exec(ctx)
	return expectOne(res, err, farmledger.ErrTenantNotFound)
}

// ==================== Account Store ====================

// CreateAccounts inserts the whole batch in one statement, so a conflict on
// any code leaves the chart untouched.
func (s *Store) CreateAccounts(ctx context.Context, accts []*account.Account) error {
	if len(accts) == 0 {
		return nil
	}
	models := make([]accountModel, len(accts))
	for i, a := range accts {
		models[i] = *toAccountModel(a)
	}
	_, err := s.pg.NewInsert(&models).Exec(ctx)
	if isUniqueViolation(err, "") {
		return fmt.Errorf("farmledger/postgres: create accounts: %w", farmledger.ErrAlreadyExists)
	}
	return err
}

func (s *Store) GetAccountByCode(ctx context.Context, tenantID, code string) (*account.Account, error) {
	m := new(accountModel)
	err := s.pg.NewSelect(m).
		Where("tenant_id = $1", tenantID).
		Where("code = $2", code).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, farmledger.ErrAccountNotFound
		}
		return nil, err
	}
	return fromAccountModel(m)
}

func (s *Store) GetAccounts(ctx context.Context, tenantID string) ([]*account.Account, error) {
	var models []accountModel
	err := s.pg.NewSelect(&models).
		Where("tenant_id = $1", tenantID).
		OrderExpr("code ASC").
		Scan(ctx)
	if err != nil {
		return nil, err
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
	var count int64
	err := s.pg.NewRaw(`SELECT COUNT(*) FROM farmledger_accounts WHERE tenant_id = $1`, tenantID).
		Scan(ctx, &count)
	if err != nil {
		return 0, err
	}
	return count, nil
}

func (s *Store) UpdateAccount(ctx context.Context, a *account.Account) error {
	res, err := s.pg.NewUpdate((*accountModel)(nil)).
		Set("name = $1", a.Name).
		Set("subtype = $2", a.Subtype).
		Set("is_active = $3", a.IsActive).
		Set("updated_at = $4", now()).
		Where("tenant_id = $5", a.TenantID).
		Where("code = $6", a.Code).
		Exec(ctx)
	return expectOne(res, err, farmledger.ErrAccountNotFound)
}

// ==================== Item Store ====================

func (s *Store) CreateItem(ctx context.Context, it *item.Item) error {
	_, err := s.pg.NewInsert(toItemModel(it)).Exec(ctx)
	if isUniqueViolation(err, "") {
		return farmledger.ErrAlreadyExists
	}
	return err
}

func (s *Store) GetItem(ctx context.Context, tenantID, itemID string) (*item.Item, error) {
	m := new(itemModel)
	err := s.pg.NewSelect(m).
		Where("tenant_id = $1", tenantID).
		Where("id = $2", itemID).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, farmledger.ErrItemNotFound
		}
		return nil, err
	}
	return fromItemModel(m), nil
}

// ==================== Ledger Store ====================

const insertEntriesCTE = `
INSERT INTO farmledger_entries (id, transaction_id, tenant_id, line_no, account_id, account_code,
    debit, credit, entity_type, entity_id, memo, created_at)
SELECT e.id, tx.id, e.tenant_id, e.line_no, e.account_id, e.account_code,
    e.debit, e.credit, e.entity_type, e.entity_id, e.memo, e.created_at
FROM tx, jsonb_to_recordset(%s::jsonb) AS e(
    id TEXT, tenant_id TEXT, line_no INT, account_id TEXT, account_code TEXT,
    debit NUMERIC, credit NUMERIC, entity_type TEXT, entity_id TEXT, memo TEXT, created_at TIMESTAMPTZ)
RETURNING 1`

// CreateTransaction writes the header and every entry in one statement.
func (s *Store) CreateTransaction(ctx context.Context, tx *journal.Transaction, entries []*journal.Entry) error {
	rows, err := entryRows(entries)
	if err != nil {
		return fmt.Errorf("farmledger/postgres: encode entries: %w", err)
	}

	query := `
WITH tx AS (
    INSERT INTO farmledger_transactions (id, tenant_id, site_id, event_id, occurred_at, posted_at, status,
        memo, idempotency_key, reverses_transaction_id, reversed_by_transaction_id, reversal_reason,
        created_at, updated_at)
    VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, '', $11, $12, $12)
    RETURNING id
), ins AS (` + fmt.Sprintf(insertEntriesCTE, "$13") + `
)
SELECT COUNT(*) FROM ins`

	var written int64
	err = s.pg.NewRaw(query,
		tx.ID.String(), tx.TenantID, tx.SiteID, optionalID(tx.EventID), tx.OccurredAt, tx.PostedAt,
		string(tx.Status), tx.Memo, tx.IdempotencyKey, optionalID(tx.ReversesTransactionID),
		tx.ReversalReason, tx.CreatedAt, rows,
	).Scan(ctx, &written)
	if err != nil {
		if isUniqueViolation(err, transactionKeyIndex) {
			return farmledger.ErrDuplicateIdempotencyKey
		}
		if isUniqueViolation(err, "") {
			return farmledger.ErrAlreadyExists
		}
		return fmt.Errorf("farmledger/postgres: create transaction: %w", err)
	}
	return nil
}

func (s *Store) GetTransaction(ctx context.Context, tenantID string, txID id.TransactionID) (*journal.Transaction, error) {
	m := new(transactionModel)
	err := s.pg.NewSelect(m).
		Where("id = $1", txID.String()).
		Where("tenant_id = $2", tenantID).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, farmledger.ErrTransactionNotFound
		}
		return nil, err
	}
	return fromTransactionModel(m)
}

func (s *Store) GetEntries(ctx context.Context, tenantID string, txID id.TransactionID) ([]*journal.Entry, error) {
	if _, err := s.GetTransaction(ctx, tenantID, txID); err != nil {
		return nil, err
	}
	var models []entryModel
	err := s.pg.NewSelect(&models).
		Where("transaction_id = $1", txID.String()).
		OrderExpr("line_no ASC").
		Scan(ctx)
	if err != nil {
		return nil, err
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
	m := new(transactionModel)
	err := s.pg.NewSelect(m).
		Where("tenant_id = $1", tenantID).
		Where("idempotency_key = $2", key).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, farmledger.ErrTransactionNotFound
		}
		return nil, err
	}
	return fromTransactionModel(m)
}

// ReverseTransaction flips the original to REVERSED and inserts the reversal
// with its entries in one statement. The reversal rows are selected from the
// guarded UPDATE, so nothing is written unless the original was still POSTED.
func (s *Store) ReverseTransaction(ctx context.Context, original, reversal *journal.Transaction, entries []*journal.Entry) error {
	rows, err := entryRows(entries)
	if err != nil {
		return fmt.Errorf("farmledger/postgres: encode entries: %w", err)
	}

	query := `
WITH orig AS (
    UPDATE farmledger_transactions
    SET status = $1, reversed_by_transaction_id = $2, updated_at = $3
    WHERE id = $4 AND tenant_id = $5 AND status = $6
    RETURNING id
), tx AS (
    INSERT INTO farmledger_transactions (id, tenant_id, site_id, event_id, occurred_at, posted_at, status,
        memo, idempotency_key, reverses_transaction_id, reversed_by_transaction_id, reversal_reason,
        created_at, updated_at)
    SELECT $2, $5, $7::text, $8::text, $9::timestamptz, $10::timestamptz, $6,
        $11::text, $12::text, orig.id, '', $13::text, $3, $3
    FROM orig
    RETURNING id
), ins AS (` + fmt.Sprintf(insertEntriesCTE, "$14") + `
)
SELECT COUNT(*) FROM orig`

	var flipped int64
	err = s.pg.NewRaw(query,
		string(journal.StatusReversed), reversal.ID.String(), reversal.CreatedAt,
		original.ID.String(), original.TenantID, string(journal.StatusPosted),
		reversal.SiteID, optionalID(reversal.EventID), reversal.OccurredAt, reversal.PostedAt,
		reversal.Memo, reversal.IdempotencyKey, reversal.ReversalReason, rows,
	).Scan(ctx, &flipped)
	if err != nil {
		if isUniqueViolation(err, transactionKeyIndex) {
			return farmledger.ErrDuplicateIdempotencyKey
		}
		return fmt.Errorf("farmledger/postgres: reverse transaction: %w", err)
	}
	if flipped == 0 {
		if _, err := s.GetTransaction(ctx, original.TenantID, original.ID); err != nil {
			return err
		}
		return farmledger.ErrAlreadyReversed
	}
	return nil
}

// ==================== Inventory Store ====================

const insertMovementCTE = `
mv AS (
    INSERT INTO farmledger_movements (id, tenant_id, site_id, item_id, movement_type, qty, unit_cost,
        total_cost, balance_after, event_id, transaction_id, idempotency_key, created_by, created_at)
    SELECT $1::text, $2::text, $3::text, $4::text, $5::text, $6::numeric, $7::numeric,
        $8::numeric, $9::numeric, $10::text, $11::text, $12::text, $13::text, $14::timestamptz
    FROM bal
    RETURNING 1
)
SELECT COUNT(*) FROM mv`

const createBalanceSQL = `
WITH bal AS (
    INSERT INTO farmledger_balances (tenant_id, site_id, item_id, qty_on_hand, avg_cost_per_unit, version, updated_at)
    VALUES ($2, $3, $4, $15, $16, $17, $18)
    ON CONFLICT (tenant_id, site_id, item_id) DO NOTHING
    RETURNING version
), ` + insertMovementCTE

const updateBalanceSQL = `
WITH bal AS (
    UPDATE farmledger_balances
    SET qty_on_hand = $15, avg_cost_per_unit = $16, version = $17, updated_at = $18
    WHERE tenant_id = $2 AND site_id = $3 AND item_id = $4 AND version = $19
    RETURNING version
), ` + insertMovementCTE

// ApplyMovement computes the next balance with inventory.Apply and writes it
// together with the movement, guarded by the balance version read. A lost
// race re-reads and retries; a duplicate key rolls the statement back and
// resolves to the stored movement.
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

		ok, err := s.writeMovement(ctx, prev.Version, next, &mv)
		if err != nil {
			if isUniqueViolation(err, movementKeyIndex) {
				continue
			}
			return nil, fmt.Errorf("farmledger/postgres: apply movement: %w", err)
		}
		if ok {
			*m = mv
			stored := mv
			return &inventory.ApplyResult{Movement: &stored, Balance: next}, nil
		}
	}
	return nil, fmt.Errorf("farmledger/postgres: apply movement: %w", farmledger.ErrConcurrentModification)
}

func (s *Store) writeMovement(ctx context.Context, prevVersion int64, next *inventory.Balance, m *inventory.Movement) (bool, error) {
	args := []any{
		m.ID.String(), m.TenantID, m.SiteID, m.ItemID, string(m.Type),
		m.Qty.String(), m.UnitCost.String(), m.TotalCost.String(), m.BalanceAfter.String(),
		optionalID(m.EventID), optionalID(m.TransactionID), m.IdempotencyKey, m.CreatedBy, m.CreatedAt,
		next.QtyOnHand, next.AvgCostPerUnit, next.Version, next.UpdatedAt,
	}
	query := createBalanceSQL
	if prevVersion > 0 {
		query = updateBalanceSQL
		args = append(args, prevVersion)
	}

	var written int64
	if err := s.pg.NewRaw(query, args...).Scan(ctx, &written); err != nil {
		return false, err
	}
	return written == 1, nil
}

func (s *Store) findMovementByKey(ctx context.Context, tenantID, key string) (*inventory.Movement, error) {
	m := new(movementModel)
	err := s.pg.NewSelect(m).
		Where("tenant_id = $1", tenantID).
		Where("idempotency_key = $2", key).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, err
	}
	return fromMovementModel(m)
}

func (s *Store) GetBalance(ctx context.Context, tenantID, siteID, itemID string) (*inventory.Balance, error) {
	m := new(balanceModel)
	err := s.pg.NewSelect(m).
		Where("tenant_id = $1", tenantID).
		Where("site_id = $2", siteID).
		Where("item_id = $3", itemID).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return &inventory.Balance{TenantID: tenantID, SiteID: siteID, ItemID: itemID}, nil
		}
		return nil, err
	}
	return fromBalanceModel(m), nil
}

func (s *Store) ListMovements(ctx context.Context, tenantID string, q inventory.MovementQuery) ([]*inventory.Movement, error) {
	var models []movementModel
	sq := s.pg.NewSelect(&models).Where("tenant_id = $1", tenantID)

	argIdx := 1
	if q.SiteID != "" {
		argIdx++
		sq = sq.Where(fmt.Sprintf("site_id = $%d", argIdx), q.SiteID)
	}
	if q.ItemID != "" {
		argIdx++
		sq = sq.Where(fmt.Sprintf("item_id = $%d", argIdx), q.ItemID)
	}
	if !q.EventID.IsNil() {
		argIdx++
		sq = sq.Where(fmt.Sprintf("event_id = $%d", argIdx), q.EventID.String())
	}
	if q.Limit > 0 {
		sq = sq.Limit(q.Limit)
	}
	sq = sq.OrderExpr("created_at ASC, id ASC")

	if err := sq.Scan(ctx); err != nil {
		return nil, err
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
	_, err := s.pg.NewInsert(toRequisitionModel(r)).Exec(ctx)
	if isUniqueViolation(err, "") {
		return farmledger.ErrAlreadyExists
	}
	return err
}

func (s *Store) GetRequisition(ctx context.Context, tenantID string, reqID id.RequisitionID) (*requisition.Requisition, error) {
	m := new(requisitionModel)
	err := s.pg.NewSelect(m).
		Where("id = $1", reqID.String()).
		Where("tenant_id = $2", tenantID).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, farmledger.ErrRequisitionNotFound
		}
		return nil, err
	}
	return fromRequisitionModel(m)
}

func (s *Store) FindOpenAutoRequisition(ctx context.Context, tenantID, siteID, itemID string) (*requisition.Requisition, error) {
	m := new(requisitionModel)
	err := s.pg.NewSelect(m).
		Where("tenant_id = $1", tenantID).
		Where("site_id = $2", siteID).
		Where("item_id = $3", itemID).
		Where("status = $4", string(requisition.StatusOpen)).
		Where("auto_generated = TRUE").
		OrderExpr("created_at DESC").
		Limit(1).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, farmledger.ErrRequisitionNotFound
		}
		return nil, err
	}
	return fromRequisitionModel(m)
}

func (s *Store) ListRequisitions(ctx context.Context, tenantID string) ([]*requisition.Requisition, error) {
	var models []requisitionModel
	err := s.pg.NewSelect(&models).
		Where("tenant_id = $1", tenantID).
		OrderExpr("created_at ASC").
		Scan(ctx)
	if err != nil {
		return nil, err
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
	res, err := s.pg.NewUpdate((*requisitionModel)(nil)).
		Set("status = $1", string(status)).
		Set("updated_at = $2", now()).
		Where("id = $3", reqID.String()).
		Where("tenant_id = $4", tenantID).
		Exec(ctx)
	return expectOne(res, err, farmledger.ErrRequisitionNotFound)
}

// ==================== Helpers ====================

// now returns the current UTC time.
func now() time.Time {
	return time.Now().UTC()
}

// isNoRows checks for the standard sql.ErrNoRows sentinel.
func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}

// isUniqueViolation reports a 23505 error, optionally restricted to one
// constraint or index name.
func isUniqueViolation(err error, constraint string) bool {
	if err == nil {
		return false
	}
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != "23505" {
		return false
	}
	return constraint == "" || pgErr.ConstraintName == constraint
}

type rowsAffecter interface {
	RowsAffected() (int64, error)
}

// expectOne maps a zero-row UPDATE to notFound.
func expectOne(res rowsAffecter, err error, notFound error) error {
	if err != nil {
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return notFound
	}
	return nil
}
