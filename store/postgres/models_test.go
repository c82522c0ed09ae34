package postgres

import (
	"encoding/json"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xraph/farmledger/id"
	"github.com/xraph/farmledger/idempotency"
	"github.com/xraph/farmledger/journal"
)

func TestStoredPayloadKeepsIdempotencyKey(t *testing.T) {
	payload := map[string]any{
		"itemId":   "F1",
		"quantity": 12.5,
		"unitCost": 0.1,
		"lines":    []any{map[string]any{"qty": 3}},
	}
	before, err := idempotency.Key("t1", "evt_1", payload, "v1")
	require.NoError(t, err)

	raw, err := toJSON(payload)
	require.NoError(t, err)
	decoded, err := decodePayload(raw)
	require.NoError(t, err)
	assert.Equal(t, json.Number("12.5"), decoded["quantity"])

	after, err := idempotency.Key("t1", "evt_1", decoded, "v1")
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestDecodePayloadEmpty(t *testing.T) {
	for _, raw := range []json.RawMessage{nil, json.RawMessage("null")} {
		p, err := decodePayload(raw)
		require.NoError(t, err)
		assert.Empty(t, p)
	}
}

func TestEntryRowsCarryExactAmounts(t *testing.T) {
	txID := id.NewTransactionID()
	entries := []*journal.Entry{
		{ID: id.NewEntryID(), TransactionID: txID, TenantID: "t1", LineNo: 1, AccountCode: "6000",
			Debit: decimal.RequireFromString("0.10"), Credit: decimal.Zero},
		{ID: id.NewEntryID(), TransactionID: txID, TenantID: "t1", LineNo: 2, AccountCode: "1200",
			Debit: decimal.Zero, Credit: decimal.RequireFromString("0.10")},
	}

	raw, err := entryRows(entries)
	require.NoError(t, err)

	var rows []entryRow
	require.NoError(t, json.Unmarshal(raw, &rows))
	require.Len(t, rows, 2)
	assert.Equal(t, entries[0].ID.String(), rows[0].ID)
	assert.Equal(t, "", rows[0].AccountID)
	assert.True(t, rows[0].Debit.Equal(decimal.RequireFromString("0.1")))
	assert.True(t, rows[1].Credit.Equal(decimal.RequireFromString("0.1")))
}
