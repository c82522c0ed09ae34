// Package sqlite implements the document-side farmledger collaborators
// (events, tenants, requisitions) on SQLite via Grove ORM. It is meant for
// edge deployments that queue events locally and hand them to a posting
// service; the ledger and inventory collaborators live in postgres or mongo.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/xraph/grove"
	"github.com/xraph/grove/drivers/sqlitedriver"
	"github.com/xraph/grove/migrate"

	"github.com/xraph/farmledger"
	"github.com/xraph/farmledger/event"
	"github.com/xraph/farmledger/id"
	"github.com/xraph/farmledger/requisition"
	"github.com/xraph/farmledger/tenant"
)

// compile-time interface checks
var (
	_ event.Store       = (*Store)(nil)
	_ tenant.Store      = (*Store)(nil)
	_ requisition.Store = (*Store)(nil)
)

// Store implements event.Store, tenant.Store and requisition.Store using
// SQLite via Grove ORM.
type Store struct {
	db  *grove.DB
	sdb *sqlitedriver.SqliteDB
}

// New creates a new SQLite store backed by Grove ORM.
func New(db *grove.DB) *Store {
	return &Store{
		db:  db,
		sdb: sqlitedriver.Unwrap(db),
	}
}

// DB returns the underlying grove database for direct access.
func (s *Store) DB() *grove.DB { return s.db }

// Migrate creates the required tables and indexes using the grove orchestrator.
func (s *Store) Migrate(ctx context.Context) error {
	executor, err := migrate.NewExecutorFor(s.sdb)
	if err != nil {
		return fmt.Errorf("farmledger/sqlite: create migration executor: %w", err)
	}
	orch := migrate.NewOrchestrator(executor, Migrations)
	if _, err := orch.Migrate(ctx); err != nil {
		return fmt.Errorf("farmledger/sqlite: %w: %w", farmledger.ErrMigrationFailed, err)
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
		return fmt.Errorf("farmledger/sqlite: encode event: %w", err)
	}
	_, err = s.sdb.NewInsert(m).Exec(ctx)
	if isUniqueViolation(err) {
		return farmledger.ErrAlreadyExists
	}
	return err
}

func (s *Store) GetEvent(ctx context.Context, tenantID string, eventID id.EventID) (*event.Event, error) {
	m := new(eventModel)
	err := s.sdb.NewSelect(m).
		Where("id = ?", eventID.String()).
		Where("tenant_id = ?", tenantID).
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
	q := s.sdb.NewSelect(&models).Where("tenant_id = ?", tenantID)

	if opts.Status != "" {
		q = q.Where("status = ?", string(opts.Status))
	}
	if !opts.LockedBefore.IsZero() {
		q = q.Where("locked_at IS NOT NULL AND locked_at < ?", opts.LockedBefore)
	}
	if opts.AttemptsBelow > 0 {
		q = q.Where("attempts < ?", opts.AttemptsBelow)
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

// AcquireLock is a single conditional UPDATE; SQLite serializes writers,
// so at most one caller matches the PENDING/FAILED guard.
func (s *Store) AcquireLock(ctx context.Context, tenantID string, eventID id.EventID, lockerID string, at time.Time) (*event.Event, error) {
	res, err := s.sdb.NewUpdate((*eventModel)(nil)).
		Set("status = ?", string(event.StatusProcessing)).
		Set("locked_by = ?", lockerID).
		Set("locked_at = ?", at).
		Set("attempts = attempts + 1").
		Set("updated_at = ?", at).
		Where("id = ?", eventID.String()).
		Where("tenant_id = ?", tenantID).
		Where("status IN (?, ?)", string(event.StatusPending), string(event.StatusFailed)).
		Exec(ctx)
	if err != nil {
		return nil, fmt.Errorf("farmledger/sqlite: acquire lock: %w", err)
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
	movements, err := encodeIDs(r.MovementIDs)
	if err != nil {
		return err
	}
	txID := ""
	if !r.TransactionID.IsNil() {
		txID = r.TransactionID.String()
	}
	res, err := s.sdb.NewUpdate((*eventModel)(nil)).
		Set("status = ?", string(event.StatusPosted)).
		Set("idempotency_key = ?", r.IdempotencyKey).
		Set("ledger_transaction_id = ?", txID).
		Set("inventory_movement_ids = ?", movements).
		Set("posted_at = ?", r.PostedAt).
		Set("locked_by = ''").
		Set("locked_at = NULL").
		Set("last_error = ''").
		Set("updated_at = ?", r.PostedAt).
		Where("id = ?", eventID.String()).
		Where("tenant_id = ?", tenantID).
		Exec(ctx)
	if err != nil {
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return farmledger.ErrEventNotFound
	}
	return nil
}

func (s *Store) MarkFailed(ctx context.Context, tenantID string, eventID id.EventID, errMsg string, at time.Time) error {
	res, err := s.sdb.NewUpdate((*eventModel)(nil)).
		Set("status = ?", string(event.StatusFailed)).
		Set("last_error = ?", errMsg).
		Set("locked_by = ''").
		Set("locked_at = NULL").
		Set("updated_at = ?", at).
		Where("id = ?", eventID.String()).
		Where("tenant_id = ?", tenantID).
		Exec(ctx)
	if err != nil {
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return farmledger.ErrEventNotFound
	}
	return nil
}

func (s *Store) ReleaseLock(ctx context.Context, tenantID string, eventID id.EventID, lockerID, reason string, at time.Time) error {
	res, err := s.sdb.NewUpdate((*eventModel)(nil)).
		Set("status = ?", string(event.StatusFailed)).
		Set("last_error = ?", "lock released: "+reason).
		Set("locked_by = ''").
		Set("locked_at = NULL").
		Set("updated_at = ?", at).
		Where("id = ?", eventID.String()).
		Where("tenant_id = ?", tenantID).
		Where("status = ?", string(event.StatusProcessing)).
		Where("locked_by = ?", lockerID).
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
	m, err := toTenantModel(t)
	if err != nil {
		return err
	}
	_, err = s.sdb.NewInsert(m).Exec(ctx)
	if isUniqueViolation(err) {
		return farmledger.ErrAlreadyExists
	}
	return err
}

func (s *Store) GetTenant(ctx context.Context, tenantID string) (*tenant.Tenant, error) {
	m := new(tenantModel)
	err := s.sdb.NewSelect(m).Where("id = ?", tenantID).Scan(ctx)
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
	if err := s.sdb.NewSelect(&models).OrderExpr("id ASC").Scan(ctx); err != nil {
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

// ==================== Requisition Store ====================

func (s *Store) CreateRequisition(ctx context.Context, r *requisition.Requisition) error {
	_, err := s.sdb.NewInsert(toRequisitionModel(r)).Exec(ctx)
	if isUniqueViolation(err) {
		return farmledger.ErrAlreadyExists
	}
	return err
}

func (s *Store) GetRequisition(ctx context.Context, tenantID string, reqID id.RequisitionID) (*requisition.Requisition, error) {
	m := new(requisitionModel)
	err := s.sdb.NewSelect(m).
		Where("id = ?", reqID.String()).
		Where("tenant_id = ?", tenantID).
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
	err := s.sdb.NewSelect(m).
		Where("tenant_id = ?", tenantID).
		Where("site_id = ?", siteID).
		Where("item_id = ?", itemID).
		Where("status = ?", string(requisition.StatusOpen)).
		Where("auto_generated = 1").
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
	err := s.sdb.NewSelect(&models).
		Where("tenant_id = ?", tenantID).
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

// ==================== Helpers ====================

// isNoRows checks for the standard sql.ErrNoRows sentinel.
func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}

// isUniqueViolation matches SQLite's constraint message; the driver does
// not expose a typed error through grove.
func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
