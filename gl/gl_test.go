package gl_test

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xraph/farmledger/account"
	"github.com/xraph/farmledger/event"
	"github.com/xraph/farmledger/gl"
	"github.com/xraph/farmledger/item"
	"github.com/xraph/farmledger/journal"
	"github.com/xraph/farmledger/tenant"
)

func d(v float64) decimal.Decimal { return decimal.NewFromFloat(v) }

func fullChart() gl.Chart {
	return gl.NewChart(account.Build("t1", account.DefaultChart))
}

func chartWithout(codes ...string) gl.Chart {
	c := fullChart()
	for _, code := range codes {
		delete(c, code)
	}
	return c
}

func sums(lines []gl.Line) (debit, credit decimal.Decimal) {
	debit, credit = decimal.Zero, decimal.Zero
	for _, l := range lines {
		debit = debit.Add(l.Debit)
		credit = credit.Add(l.Credit)
	}
	return debit, credit
}

type leg struct {
	code   string
	debit  float64
	credit float64
}

func legs(lines []gl.Line) []leg {
	out := make([]leg, 0, len(lines))
	for _, l := range lines {
		df, _ := l.Debit.Float64()
		cf, _ := l.Credit.Float64()
		out = append(out, leg{l.AccountCode, df, cf})
	}
	return out
}

func TestCompute(t *testing.T) {
	expense := tenant.Settings{LivestockCostingMode: tenant.CostingExpense}
	capitalize := tenant.Settings{LivestockCostingMode: tenant.CostingCapitalize}

	tests := []struct {
		name string
		in   gl.Input
		want []leg
	}{
		{
			name: "feed expensed",
			in: gl.Input{Settings: expense, Payload: &event.FeedLivestock{
				FeedItemID: "F1", LivestockGroupID: "G1", Quantity: d(40), TotalCost: d(120),
			}},
			want: []leg{{"6000", 120, 0}, {"1200", 0, 120}},
		},
		{
			name: "feed capitalized",
			in: gl.Input{Settings: capitalize, Payload: &event.FeedLivestock{
				FeedItemID: "F1", LivestockGroupID: "G1", TotalCost: d(75.5),
			}},
			want: []leg{{"1300", 75.5, 0}, {"1200", 0, 75.5}},
		},
		{
			name: "positive adjustment on supplies",
			in: gl.Input{ItemType: item.TypeSupplies, Payload: &event.InventoryAdjustment{
				ItemID: "S1", QtyDelta: d(10), CostPerUnit: d(3),
			}},
			want: []leg{{"1210", 30, 0}, {"6100", 0, 30}},
		},
		{
			name: "negative adjustment on feed",
			in: gl.Input{Payload: &event.InventoryAdjustment{
				ItemID: "F1", ItemType: item.TypeFeed, QtyDelta: d(-4), CostPerUnit: d(2.5),
			}},
			want: []leg{{"6100", 10, 0}, {"1200", 0, 10}},
		},
		{
			name: "purchase order received on credit",
			in: gl.Input{ItemType: item.TypeFeed, Payload: &event.ReceivePurchaseOrder{
				ItemID: "F1", Quantity: d(100), UnitCost: d(2),
			}},
			want: []leg{{"1200", 200, 0}, {"2000", 0, 200}},
		},
		{
			name: "purchase order paid in cash",
			in: gl.Input{ItemType: item.TypeMedical, Payload: &event.ReceivePurchaseOrder{
				ItemID: "M1", TotalCost: d(80), PaymentMethod: "cash",
			}},
			want: []leg{{"1210", 80, 0}, {"1000", 0, 80}},
		},
		{
			name: "cash sale with cost",
			in: gl.Input{Payload: &event.Sale{
				SaleAmount: d(500), CostAmount: d(300), PaymentMethod: event.PaymentCash,
			}},
			want: []leg{{"1000", 500, 0}, {"4000", 0, 500}, {"5000", 300, 0}, {"1300", 0, 300}},
		},
		{
			name: "credit sale without cost",
			in:   gl.Input{Payload: &event.Sale{SaleAmount: d(90)}},
			want: []leg{{"1100", 90, 0}, {"4000", 0, 90}},
		},
		{
			name: "livestock purchase on account",
			in: gl.Input{Payload: &event.PurchaseLivestock{
				LivestockGroupID: "G2", TotalCost: d(1500),
			}},
			want: []leg{{"1300", 1500, 0}, {"2000", 0, 1500}},
		},
		{
			name: "transfer between sites",
			in: gl.Input{ItemType: item.TypeFeed, Payload: &event.InventoryTransfer{
				ItemID: "F1", FromSiteID: "A", ToSiteID: "B", Quantity: d(20), UnitCost: d(2),
			}},
			want: []leg{{"1200", 40, 0}, {"1200", 0, 40}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			lines, err := gl.Compute(fullChart(), tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, legs(lines))

			debit, credit := sums(lines)
			assert.True(t, debit.Equal(credit), "debits %s != credits %s", debit, credit)
			for _, l := range lines {
				assert.False(t, l.AccountID.IsNil(), "line on %s has no account id", l.AccountCode)
			}
		})
	}
}

func TestComputeSellLivestockTagsGroup(t *testing.T) {
	lines, err := gl.Compute(fullChart(), gl.Input{Payload: &event.SellLivestock{
		LivestockGroupID: "G7", SaleAmount: d(900), CostAmount: d(600), PaymentMethod: event.PaymentCash,
	}})
	require.NoError(t, err)
	require.Len(t, lines, 4)
	for _, l := range lines {
		assert.Equal(t, journal.EntityAnimalGroup, l.EntityType)
		assert.Equal(t, "G7", l.EntityID)
	}
}

func TestComputeFeedTagsLegs(t *testing.T) {
	lines, err := gl.Compute(fullChart(), gl.Input{Payload: &event.FeedLivestock{
		FeedItemID: "F1", LivestockGroupID: "G1", TotalCost: d(12),
	}})
	require.NoError(t, err)
	require.Len(t, lines, 2)
	assert.Equal(t, journal.EntityAnimalGroup, lines[0].EntityType)
	assert.Equal(t, "G1", lines[0].EntityID)
	assert.Equal(t, journal.EntityInventoryItem, lines[1].EntityType)
	assert.Equal(t, "F1", lines[1].EntityID)
}

func TestComputeTransferMemos(t *testing.T) {
	lines, err := gl.Compute(fullChart(), gl.Input{ItemType: item.TypeFeed, Payload: &event.InventoryTransfer{
		ItemID: "F1", FromSiteID: "A", ToSiteID: "B", Quantity: d(5), TotalCost: d(10),
	}})
	require.NoError(t, err)
	require.Len(t, lines, 2)
	assert.Equal(t, "Transfer out", lines[0].Memo)
	assert.Equal(t, "Transfer in", lines[1].Memo)
}

func TestComputeMissingAccounts(t *testing.T) {
	_, err := gl.Compute(chartWithout(account.CodeFeedInventory), gl.Input{Payload: &event.FeedLivestock{
		FeedItemID: "F1", TotalCost: d(120),
	}})
	require.Error(t, err)
	assert.True(t, errors.Is(err, gl.ErrRequiredAccounts))

	var rae *gl.RequiredAccountsError
	require.True(t, errors.As(err, &rae))
	assert.Equal(t, []string{"1200"}, rae.Codes)
}

func TestComputeMissingAccountsListsAll(t *testing.T) {
	_, err := gl.Compute(chartWithout(account.CodeCOGS, account.CodeCash), gl.Input{Payload: &event.Sale{
		SaleAmount: d(10), CostAmount: d(5), PaymentMethod: event.PaymentCash,
	}})
	var rae *gl.RequiredAccountsError
	require.True(t, errors.As(err, &rae))
	assert.Equal(t, []string{"1000", "5000"}, rae.Codes)
}

func TestComputeInactiveAccountIsMissing(t *testing.T) {
	accts := account.Build("t1", account.DefaultChart)
	for _, a := range accts {
		if a.Code == account.CodeFeedExpense {
			a.IsActive = false
		}
	}
	_, err := gl.Compute(gl.NewChart(accts), gl.Input{Payload: &event.FeedLivestock{
		FeedItemID: "F1", TotalCost: d(1),
	}})
	assert.True(t, errors.Is(err, gl.ErrRequiredAccounts))
}

func TestComputeNoLines(t *testing.T) {
	tests := []struct {
		name    string
		payload event.Payload
	}{
		{"zero feed cost", &event.FeedLivestock{FeedItemID: "F1"}},
		{"zero sale", &event.Sale{}},
		{"zero adjustment", &event.InventoryAdjustment{ItemID: "F1", ItemType: item.TypeFeed}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := gl.Compute(fullChart(), gl.Input{Payload: tt.payload})
			assert.True(t, errors.Is(err, gl.ErrNoLines), "got %v", err)
		})
	}
}

func TestComputeZeroValueStockChange(t *testing.T) {
	tests := []struct {
		name    string
		payload event.Payload
	}{
		{"free receipt", &event.ReceivePurchaseOrder{ItemID: "F1", ItemType: item.TypeFeed, Quantity: d(10)}},
		{"uncosted count", &event.InventoryAdjustment{ItemID: "F1", ItemType: item.TypeFeed, QtyDelta: d(-3)}},
		{"uncosted transfer", &event.InventoryTransfer{ItemID: "F1", ItemType: item.TypeFeed, FromSiteID: "A", ToSiteID: "B", Quantity: d(4)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := gl.Compute(fullChart(), gl.Input{Payload: tt.payload})
			require.ErrorIs(t, err, gl.ErrNoLines)
			assert.Contains(t, err.Error(), "has zero value")
		})
	}
}

func TestComputeUnknownPayload(t *testing.T) {
	_, err := gl.Compute(fullChart(), gl.Input{})
	assert.True(t, errors.Is(err, event.ErrUnknownType))
}

func TestSettlementAccountCode(t *testing.T) {
	assert.Equal(t, account.CodeCash, gl.SettlementAccountCode("Cash", true))
	assert.Equal(t, account.CodeAccountsReceivable, gl.SettlementAccountCode("CARD", true))
	assert.Equal(t, account.CodeAccountsPayable, gl.SettlementAccountCode("", false))
}
