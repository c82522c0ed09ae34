package mongo

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodePayloadUsesNumbers(t *testing.T) {
	p, err := decodePayload(`{"quantity":40,"totalCost":120.50}`)
	require.NoError(t, err)
	assert.Equal(t, json.Number("40"), p["quantity"])
	assert.Equal(t, json.Number("120.50"), p["totalCost"])

	p, err = decodePayload("")
	require.NoError(t, err)
	assert.Empty(t, p)
}

func TestDecReadsCorruptAmountsAsZero(t *testing.T) {
	assert.True(t, dec("12.345").Equal(dec("12.3450")))
	assert.True(t, dec("n/a").IsZero())
}

func TestIdempotencyIndexesAreUnique(t *testing.T) {
	idx := migrationIndexes()
	for _, col := range []string{colTransactions, colMovements, colAccounts} {
		found := false
		for _, m := range idx[col] {
			if m.Options != nil {
				found = true
			}
		}
		assert.True(t, found, "collection %s has no unique index", col)
	}
	require.Len(t, idx[colRequisitions], 2)
	assert.NotNil(t, idx[colRequisitions][1].Options)
}
