package postgres

import (
	"context"

	"github.com/xraph/grove/migrate"
)

// Migrations is the grove migration group for the farmledger store.
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
    settings   JSONB NOT NULL DEFAULT '{}',
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
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
    payload                JSONB NOT NULL DEFAULT '{}',
    occurred_at            TIMESTAMPTZ NOT NULL,
    created_by             TEXT NOT NULL DEFAULT '',
    status                 TEXT NOT NULL DEFAULT 'PENDING',
    idempotency_key        TEXT NOT NULL DEFAULT '',
    locked_by              TEXT NOT NULL DEFAULT '',
    locked_at              TIMESTAMPTZ,
    attempts               INT NOT NULL DEFAULT 0,
    last_error             TEXT NOT NULL DEFAULT '',
    ledger_transaction_id  TEXT NOT NULL DEFAULT '',
    inventory_movement_ids JSONB NOT NULL DEFAULT '[]',
    posted_at              TIMESTAMPTZ,
    created_at             TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at             TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_farmledger_events_status ON farmledger_events (tenant_id, status);
CREATE INDEX IF NOT EXISTS idx_farmledger_events_locked ON farmledger_events (status, locked_at) WHERE status = 'PROCESSING';
`)
				return err
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `DROP TABLE IF EXISTS farmledger_events`)
				return err
			},
		},
		&migrate.Migration{
			Name:    "create_farmledger_accounts",
			Version: "20250101000003",
			Up: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
CREATE TABLE IF NOT EXISTS farmledger_accounts (
    id             TEXT PRIMARY KEY,
    tenant_id      TEXT NOT NULL,
    code           TEXT NOT NULL,
    name           TEXT NOT NULL DEFAULT '',
    type           TEXT NOT NULL,
    subtype        TEXT NOT NULL DEFAULT '',
    normal_balance TEXT NOT NULL,
    is_system      BOOLEAN NOT NULL DEFAULT FALSE,
    is_active      BOOLEAN NOT NULL DEFAULT TRUE,
    created_at     TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at     TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_farmledger_accounts_code ON farmledger_accounts (tenant_id, code);
`)
				return err
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `DROP TABLE IF EXISTS farmledger_accounts`)
				return err
			},
		},
		&migrate.Migration{
			Name:    "create_farmledger_items",
			Version: "20250101000004",
			Up: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
CREATE TABLE IF NOT EXISTS farmledger_items (
    tenant_id     TEXT NOT NULL,
    id            TEXT NOT NULL,
    name          TEXT NOT NULL DEFAULT '',
    type          TEXT NOT NULL,
    unit          TEXT NOT NULL DEFAULT '',
    reorder_point NUMERIC(20,6) NOT NULL DEFAULT 0,
    reorder_qty   NUMERIC(20,6) NOT NULL DEFAULT 0,
    default_cost  NUMERIC(20,6) NOT NULL DEFAULT 0,
    created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at    TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    PRIMARY KEY (tenant_id, id)
);
`)
				return err
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `DROP TABLE IF EXISTS farmledger_items`)
				return err
			},
		},
		&migrate.Migration{
			Name:    "create_farmledger_transactions",
			Version: "20250101000005",
			Up: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
CREATE TABLE IF NOT EXISTS farmledger_transactions (
    id                         TEXT PRIMARY KEY,
    tenant_id                  TEXT NOT NULL,
    site_id                    TEXT NOT NULL,
    event_id                   TEXT NOT NULL DEFAULT '',
    occurred_at                TIMESTAMPTZ NOT NULL,
    posted_at                  TIMESTAMPTZ NOT NULL,
    status                     TEXT NOT NULL DEFAULT 'POSTED',
    memo                       TEXT NOT NULL DEFAULT '',
    idempotency_key            TEXT NOT NULL,
    reverses_transaction_id    TEXT NOT NULL DEFAULT '',
    reversed_by_transaction_id TEXT NOT NULL DEFAULT '',
    reversal_reason            TEXT NOT NULL DEFAULT '',
    created_at                 TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at                 TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_farmledger_transactions_idem ON farmledger_transactions (tenant_id, idempotency_key);
CREATE INDEX IF NOT EXISTS idx_farmledger_transactions_event ON farmledger_transactions (tenant_id, event_id);

CREATE TABLE IF NOT EXISTS farmledger_entries (
    id             TEXT PRIMARY KEY,
    transaction_id TEXT NOT NULL REFERENCES farmledger_transactions (id),
    tenant_id      TEXT NOT NULL,
    line_no        INT NOT NULL,
    account_id     TEXT NOT NULL DEFAULT '',
    account_code   TEXT NOT NULL,
    debit          NUMERIC(20,6) NOT NULL DEFAULT 0,
    credit         NUMERIC(20,6) NOT NULL DEFAULT 0,
    entity_type    TEXT NOT NULL DEFAULT '',
    entity_id      TEXT NOT NULL DEFAULT '',
    memo           TEXT NOT NULL DEFAULT '',
    created_at     TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    CHECK (debit >= 0 AND credit >= 0),
    CHECK (debit = 0 OR credit = 0)
);

CREATE INDEX IF NOT EXISTS idx_farmledger_entries_tx ON farmledger_entries (transaction_id, line_no);
CREATE INDEX IF NOT EXISTS idx_farmledger_entries_account ON farmledger_entries (tenant_id, account_code);
`)
				return err
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
DROP TABLE IF EXISTS farmledger_entries;
DROP TABLE IF EXISTS farmledger_transactions;
`)
				return err
			},
		},
		&migrate.Migration{
			Name:    "create_farmledger_inventory",
			Version: "20250101000006",
			Up: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
CREATE TABLE IF NOT EXISTS farmledger_balances (
    tenant_id         TEXT NOT NULL,
    site_id           TEXT NOT NULL,
    item_id           TEXT NOT NULL,
    qty_on_hand       NUMERIC(20,6) NOT NULL DEFAULT 0,
    avg_cost_per_unit NUMERIC(20,6) NOT NULL DEFAULT 0,
    version           BIGINT NOT NULL DEFAULT 0,
    updated_at        TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    PRIMARY KEY (tenant_id, site_id, item_id)
);

CREATE TABLE IF NOT EXISTS farmledger_movements (
    id              TEXT PRIMARY KEY,
    tenant_id       TEXT NOT NULL,
    site_id         TEXT NOT NULL,
    item_id         TEXT NOT NULL,
    movement_type   TEXT NOT NULL,
    qty             NUMERIC(20,6) NOT NULL,
    unit_cost       NUMERIC(20,6) NOT NULL DEFAULT 0,
    total_cost      NUMERIC(20,6) NOT NULL DEFAULT 0,
    balance_after   NUMERIC(20,6) NOT NULL DEFAULT 0,
    event_id        TEXT NOT NULL DEFAULT '',
    transaction_id  TEXT NOT NULL DEFAULT '',
    idempotency_key TEXT NOT NULL,
    created_by      TEXT NOT NULL DEFAULT '',
    created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_farmledger_movements_idem ON farmledger_movements (tenant_id, idempotency_key);
CREATE INDEX IF NOT EXISTS idx_farmledger_movements_item ON farmledger_movements (tenant_id, site_id, item_id, created_at);
CREATE INDEX IF NOT EXISTS idx_farmledger_movements_event ON farmledger_movements (tenant_id, event_id);
`)
				return err
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
DROP TABLE IF EXISTS farmledger_movements;
DROP TABLE IF EXISTS farmledger_balances;
`)
				return err
			},
		},
		&migrate.Migration{
			Name:    "create_farmledger_requisitions",
			Version: "20250101000007",
			Up: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
CREATE TABLE IF NOT EXISTS farmledger_requisitions (
    id              TEXT PRIMARY KEY,
    tenant_id       TEXT NOT NULL,
    site_id         TEXT NOT NULL,
    item_id         TEXT NOT NULL,
    qty             NUMERIC(20,6) NOT NULL DEFAULT 0,
    estimated_cost  NUMERIC(20,6) NOT NULL DEFAULT 0,
    auto_generated  BOOLEAN NOT NULL DEFAULT FALSE,
    trigger_balance NUMERIC(20,6) NOT NULL DEFAULT 0,
    reorder_point   NUMERIC(20,6) NOT NULL DEFAULT 0,
    reason          TEXT NOT NULL DEFAULT '',
    status          TEXT NOT NULL DEFAULT 'OPEN',
    created_by      TEXT NOT NULL DEFAULT '',
    created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at      TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_farmledger_requisitions_open ON farmledger_requisitions (tenant_id, site_id, item_id, status);
CREATE UNIQUE INDEX IF NOT EXISTS idx_farmledger_requisitions_auto ON farmledger_requisitions (tenant_id, site_id, item_id)
    WHERE auto_generated AND status = 'OPEN';
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
