package farmledger

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/xraph/farmledger/id"
	"github.com/xraph/farmledger/idempotency"
	"github.com/xraph/farmledger/journal"
)

// Reversal is a committed compensating transaction.
type Reversal struct {
	Original    *journal.Transaction
	Transaction *journal.Transaction
	Entries     []*journal.Entry
}

// ReverseTransaction posts a transaction that swaps the debits and credits
// of txID and flips the original to REVERSED, atomically. Reversals are not
// deduplicated; each call against a POSTED transaction creates a new one.
// Inventory movements are left untouched.
func (e *Engine) ReverseTransaction(ctx context.Context, tenantID string, txID id.TransactionID, reason string) (rev *Reversal, err error) {
	ctx, span := e.tracer.Start(ctx, "farmledger.ReverseTransaction", trace.WithAttributes(
		attribute.String("farmledger.tenant_id", tenantID),
		attribute.String("farmledger.transaction_id", txID.String()),
	))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	original, err := e.journal.GetTransaction(ctx, tenantID, txID)
	if err != nil {
		return nil, err
	}
	if original.TenantID != tenantID {
		return nil, ErrTransactionNotFound
	}
	if original.Status == journal.StatusReversed {
		return nil, ErrAlreadyReversed
	}

	entries, err := e.journal.GetEntries(ctx, tenantID, txID)
	if err != nil {
		return nil, err
	}

	now := e.now()
	tx, revEntries := journal.Reversal(original, entries, reason,
		idempotency.ReversalKey(original.ID.String(), now), now)
	if err := journal.ValidateBalance(revEntries); err != nil {
		return nil, err
	}

	if err := e.journal.ReverseTransaction(ctx, original, tx, revEntries); err != nil {
		return nil, err
	}

	original.Status = journal.StatusReversed
	original.ReversedByTransactionID = tx.ID
	original.Touch()

	e.plugins.EmitTransactionReversed(ctx, original, tx)

	e.logger.Info("transaction reversed",
		"tenant_id", tenantID,
		"transaction_id", original.ID.String(),
		"reversal_id", tx.ID.String(),
		"reason", reason,
	)

	return &Reversal{Original: original, Transaction: tx, Entries: revEntries}, nil
}

// GetTransaction returns a ledger transaction of a tenant.
func (e *Engine) GetTransaction(ctx context.Context, tenantID string, txID id.TransactionID) (*journal.Transaction, error) {
	return e.journal.GetTransaction(ctx, tenantID, txID)
}

// GetEntries returns the entries of a ledger transaction, ordered by line.
func (e *Engine) GetEntries(ctx context.Context, tenantID string, txID id.TransactionID) ([]*journal.Entry, error) {
	return e.journal.GetEntries(ctx, tenantID, txID)
}
