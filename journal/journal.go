// Package journal defines ledger transactions and their entries.
//
// A Transaction owns its Entries: they are written together in one atomic
// store operation and are never modified afterwards. The only permitted
// update is flipping a POSTED transaction to REVERSED and linking the
// reversal that compensates it.
package journal

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/xraph/farmledger/id"
	"github.com/xraph/farmledger/types"
)

// ErrUnbalanced is returned when total debits and credits differ by more than types.Tolerance.
var ErrUnbalanced = errors.New("farmledger: unbalanced transaction")

// Status is the lifecycle state of a ledger transaction.
type Status string

const (
	StatusPosted   Status = "POSTED"
	StatusReversed Status = "REVERSED"
)

// EntityType tags an entry for sub-ledger drill-down.
type EntityType string

const (
	EntityAnimalGroup   EntityType = "ANIMAL_GROUP"
	EntityInventoryItem EntityType = "INVENTORY_ITEM"
)

// Transaction is a posted, balanced set of ledger entries.
type Transaction struct {
	types.Entity

	ID                      id.TransactionID `json:"id"`
	TenantID                string           `json:"tenant_id"`
	SiteID                  string           `json:"site_id"`
	EventID                 id.EventID       `json:"event_id,omitempty"`
	OccurredAt              time.Time        `json:"occurred_at"`
	PostedAt                time.Time        `json:"posted_at"`
	Status                  Status           `json:"status"`
	Memo                    string           `json:"memo,omitempty"`
	IdempotencyKey          string           `json:"idempotency_key"`
	ReversesTransactionID   id.TransactionID `json:"reverses_transaction_id,omitempty"`
	ReversedByTransactionID id.TransactionID `json:"reversed_by_transaction_id,omitempty"`
	ReversalReason          string           `json:"reversal_reason,omitempty"`
}

// Entry is a single debit or credit leg.
type Entry struct {
	ID            id.EntryID       `json:"id"`
	TransactionID id.TransactionID `json:"transaction_id"`
	TenantID      string           `json:"tenant_id"`
	LineNo        int              `json:"line_no"`
	AccountID     id.AccountID     `json:"account_id"`
	AccountCode   string           `json:"account_code"`
	Debit         decimal.Decimal  `json:"debit"`
	Credit        decimal.Decimal  `json:"credit"`
	EntityType    EntityType       `json:"entity_type,omitempty"`
	EntityID      string           `json:"entity_id,omitempty"`
	Memo          string           `json:"memo,omitempty"`
	CreatedAt     time.Time        `json:"created_at"`
}

// UnbalancedError carries the totals of a transaction that failed the balance check.
type UnbalancedError struct {
	Debit  decimal.Decimal
	Credit decimal.Decimal
}

func (e *UnbalancedError) Error() string {
	return fmt.Sprintf("farmledger: unbalanced transaction: debits %s != credits %s",
		e.Debit.String(), e.Credit.String())
}

// Unwrap lets errors.Is match ErrUnbalanced.
func (e *UnbalancedError) Unwrap() error { return ErrUnbalanced }

// Totals returns the debit and credit sums of entries.
func Totals(entries []*Entry) (debit, credit decimal.Decimal) {
	debit, credit = decimal.Zero, decimal.Zero
	for _, e := range entries {
		debit = debit.Add(e.Debit)
		credit = credit.Add(e.Credit)
	}
	return debit, credit
}

// ValidateBalance fails with *UnbalancedError unless debits equal credits
// within types.Tolerance. It never adjusts the entries.
func ValidateBalance(entries []*Entry) error {
	debit, credit := Totals(entries)
	if !types.WithinTolerance(debit, credit) {
		return &UnbalancedError{Debit: debit, Credit: credit}
	}
	return nil
}

// Reversal builds the compensating transaction for original: every entry is
// copied onto the same account with debit and credit swapped.
func Reversal(original *Transaction, entries []*Entry, reason, key string, at time.Time) (*Transaction, []*Entry) {
	at = at.UTC()
	rev := &Transaction{
		Entity:                types.NewEntityAt(at),
		ID:                    id.NewTransactionID(),
		TenantID:              original.TenantID,
		SiteID:                original.SiteID,
		OccurredAt:            at,
		PostedAt:              at,
		Status:                StatusPosted,
		Memo:                  "Reversal of " + original.ID.String(),
		IdempotencyKey:        key,
		ReversesTransactionID: original.ID,
		ReversalReason:        reason,
	}
	if reason != "" {
		rev.Memo += ": " + reason
	}

	out := make([]*Entry, 0, len(entries))
	for i, e := range entries {
		out = append(out, &Entry{
			ID:            id.NewEntryID(),
			TransactionID: rev.ID,
			TenantID:      e.TenantID,
			LineNo:        i + 1,
			AccountID:     e.AccountID,
			AccountCode:   e.AccountCode,
			Debit:         e.Credit,
			Credit:        e.Debit,
			EntityType:    e.EntityType,
			EntityID:      e.EntityID,
			Memo:          e.Memo,
			CreatedAt:     at,
		})
	}
	return rev, out
}

// Store is the ledger collaborator.
//
// CreateTransaction writes the header and all entries atomically and returns
// farmledger.ErrDuplicateIdempotencyKey when the tenant already has a
// transaction with the same key. ReverseTransaction inserts the reversal and
// flips the original to REVERSED in one atomic step guarded by the original
// still being POSTED; otherwise it returns farmledger.ErrAlreadyReversed.
type Store interface {
	CreateTransaction(ctx context.Context, tx *Transaction, entries []*Entry) error
	GetTransaction(ctx context.Context, tenantID string, txID id.TransactionID) (*Transaction, error)
	GetEntries(ctx context.Context, tenantID string, txID id.TransactionID) ([]*Entry, error)
	FindByIdempotencyKey(ctx context.Context, tenantID, key string) (*Transaction, error)
	ReverseTransaction(ctx context.Context, original *Transaction, reversal *Transaction, entries []*Entry) error
}
