package account_test

import (
	"testing"

	"github.com/xraph/farmledger/account"
)

func TestDefaultChartCodesUnique(t *testing.T) {
	seen := make(map[string]bool)
	for _, tpl := range account.DefaultChart {
		if seen[tpl.Code] {
			t.Errorf("duplicate code %s", tpl.Code)
		}
		seen[tpl.Code] = true
	}

	for _, code := range []string{
		account.CodeCash, account.CodeAccountsReceivable, account.CodeFeedInventory,
		account.CodeSuppliesInventory, account.CodeLivestock, account.CodeAccountsPayable,
		account.CodeSalesRevenue, account.CodeCOGS, account.CodeFeedExpense, account.CodeInventoryAdjust,
	} {
		if !seen[code] {
			t.Errorf("default chart missing posting account %s", code)
		}
	}
}

func TestBuild(t *testing.T) {
	accts := account.Build("t1", account.DefaultChart)
	if len(accts) != len(account.DefaultChart) {
		t.Fatalf("expected %d accounts, got %d", len(account.DefaultChart), len(accts))
	}
	for _, a := range accts {
		if a.TenantID != "t1" || !a.IsSystem || !a.IsActive || a.ID.IsNil() {
			t.Errorf("unexpected seeded account %+v", a)
		}
	}
}

func TestNormalBalanceFor(t *testing.T) {
	tests := []struct {
		typ  account.Type
		want account.NormalBalance
	}{
		{account.TypeAsset, account.NormalDebit},
		{account.TypeExpense, account.NormalDebit},
		{account.TypeCOGS, account.NormalDebit},
		{account.TypeLiability, account.NormalCredit},
		{account.TypeEquity, account.NormalCredit},
		{account.TypeIncome, account.NormalCredit},
	}
	for _, tt := range tests {
		t.Run(string(tt.typ), func(t *testing.T) {
			if got := account.NormalBalanceFor(tt.typ); got != tt.want {
				t.Errorf("got %s, want %s", got, tt.want)
			}
		})
	}
}
