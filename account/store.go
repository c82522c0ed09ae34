package account

import "context"

// Store persists chart-of-accounts entries.
type Store interface {
	CreateAccounts(ctx context.Context, accts []*Account) error
	GetAccountByCode(ctx context.Context, tenantID, code string) (*Account, error)
	GetAccounts(ctx context.Context, tenantID string) ([]*Account, error)
	CountAccounts(ctx context.Context, tenantID string) (int64, error)
	UpdateAccount(ctx context.Context, a *Account) error
}
