package farmledger

import (
	"context"
	"errors"

	"github.com/xraph/farmledger/account"
	"github.com/xraph/farmledger/id"
	"github.com/xraph/farmledger/types"
)

// SeedChartOfAccounts creates the default chart for a tenant that has no
// accounts yet and returns the number created. A tenant with any account
// is left untouched.
func (e *Engine) SeedChartOfAccounts(ctx context.Context, tenantID string) (int, error) {
	n, err := e.accounts.CountAccounts(ctx, tenantID)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		return 0, nil
	}

	accts := account.Build(tenantID, account.DefaultChart)
	if err := e.accounts.CreateAccounts(ctx, accts); err != nil {
		return 0, err
	}

	e.plugins.EmitAccountsSeeded(ctx, tenantID, len(accts))
	e.logger.Info("chart of accounts seeded",
		"tenant_id", tenantID,
		"accounts", len(accts),
	)
	return len(accts), nil
}

// GetAccountByCode returns one account of a tenant's chart.
func (e *Engine) GetAccountByCode(ctx context.Context, tenantID, code string) (*account.Account, error) {
	return e.accounts.GetAccountByCode(ctx, tenantID, code)
}

// GetAccounts returns a tenant's chart ordered by code.
func (e *Engine) GetAccounts(ctx context.Context, tenantID string) ([]*account.Account, error) {
	return e.accounts.GetAccounts(ctx, tenantID)
}

// DeactivateAccount hides an account from posting rules. System accounts
// refuse with ErrSystemAccount.
func (e *Engine) DeactivateAccount(ctx context.Context, tenantID, code string) error {
	a, err := e.accounts.GetAccountByCode(ctx, tenantID, code)
	if err != nil {
		return err
	}
	if a.IsSystem {
		return ErrSystemAccount
	}
	if !a.IsActive {
		return nil
	}
	a.IsActive = false
	a.Touch()
	return e.accounts.UpdateAccount(ctx, a)
}

// CreateAccount adds a tenant-defined account to the chart. Codes are
// unique per tenant.
func (e *Engine) CreateAccount(ctx context.Context, a *account.Account) error {
	if a.TenantID == "" {
		return ValidationError{Field: "tenant_id", Message: "is required"}
	}
	if a.Code == "" {
		return ValidationError{Field: "code", Message: "is required"}
	}
	if _, err := e.accounts.GetAccountByCode(ctx, a.TenantID, a.Code); err == nil {
		return ValidationError{Field: "code", Message: "already exists: " + a.Code}
	} else if !errors.Is(err, ErrAccountNotFound) {
		return err
	}

	if a.ID.IsNil() {
		a.ID = id.NewAccountID()
	}
	if a.NormalBalance == "" {
		a.NormalBalance = account.NormalBalanceFor(a.Type)
	}
	a.Entity = types.NewEntityAt(e.now())
	a.IsSystem = false
	a.IsActive = true

	return e.accounts.CreateAccounts(ctx, []*account.Account{a})
}
