package sqlite

import (
	"context"

	"github.com/xraph/grove/migrate"
)

// Migrations is the grove migration group for the farmledger document
// tables (SQLite).
var Migrations = migrate.NewGroup("farmledger")

func init() {
	Migrations.MustRegister(
		&migrate.Migration{
			Name:    "create_farmledger_tenants",
			Version: "20250101000001",
			Up: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
CREATE TABLE IF NOT EXISTS farmledger_tenants (
    id         TEXT PRIMARY KEY,
    name       TEXT NOT NULL DEFAULT '',
    settings   TEXT NOT NULL DEFAULT '{}',
    created_at TEXT NOT NULL DEFAULT (datetime('now')),
    updated_at TEXT NOT NULL DEFAULT (datetime('now'))
);
`)
				return err
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `DROP TABLE IF EXISTS farmledger_tenants`)
				return err
			},
		},
		&migrate.Migration{
			Name:    "create_farmledger_events",
			Version: "20250101000002",
			Up: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
CREATE TABLE IF NOT EXISTS farmledger_events (
    id                     TEXT PRIMARY KEY,
    tenant_id              TEXT NOT NULL,
    site_id                TEXT NOT NULL,
    type                   TEXT NOT NULL,
    payload                TEXT NOT NULL DEFAULT '{}',
    occurred_at            TEXT NOT NULL,
    created_by             TEXT NOT NULL DEFAULT '',
    status                 TEXT NOT NULL DEFAULT 'PENDING',
    idempotency_key        TEXT NOT NULL DEFAULT '',
    locked_by              TEXT NOT NULL DEFAULT '',
    locked_at              TEXT,
    attempts               INTEGER NOT NULL DEFAULT 0,
    last_error             TEXT NOT NULL DEFAULT '',
    ledger_transaction_id  TEXT NOT NULL DEFAULT '',
    inventory_movement_ids TEXT NOT NULL DEFAULT '[]',
    posted_at              TEXT,
    created_at             TEXT NOT NULL DEFAULT (datetime('now')),
    updated_at             TEXT NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_farmledger_events_status ON farmledger_events (tenant_id, status);
CREATE INDEX IF NOT EXISTS idx_farmledger_events_locked ON farmledger_events (status, locked_at);
`)
				return err
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `DROP TABLE IF EXISTS farmledger_events`)
				return err
			},
		},
		&migrate.Migration{
			Name:    "create_farmledger_requisitions",
			Version: "20250101000003",
			Up: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
CREATE TABLE IF NOT EXISTS farmledger_requisitions (
    id              TEXT PRIMARY KEY,
    tenant_id       TEXT NOT NULL,
    site_id         TEXT NOT NULL,
    item_id         TEXT NOT NULL,
    qty             TEXT NOT NULL DEFAULT '0',
    estimated_cost  TEXT NOT NULL DEFAULT '0',
    auto_generated  INTEGER NOT NULL DEFAULT 0,
    trigger_balance TEXT NOT NULL DEFAULT '0',
    reorder_point   TEXT NOT NULL DEFAULT '0',
    reason          TEXT NOT NULL DEFAULT '',
    status          TEXT NOT NULL DEFAULT 'OPEN',
    created_by      TEXT NOT NULL DEFAULT '',
    created_at      TEXT NOT NULL DEFAULT (datetime('now')),
    updated_at      TEXT NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_farmledger_requisitions_open ON farmledger_requisitions (tenant_id, site_id, item_id, status);
CREATE UNIQUE INDEX IF NOT EXISTS idx_farmledger_requisitions_auto ON farmledger_requisitions (tenant_id, site_id, item_id)
    WHERE auto_generated = 1 AND status = 'OPEN';
`)
				return err
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `DROP TABLE IF EXISTS farmledger_requisitions`)
				return err
			},
		},
	)
}
