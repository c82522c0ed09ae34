package main

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xraph/farmledger"
	"github.com/xraph/farmledger/account"
	"github.com/xraph/farmledger/idempotency"
)

func TestSimulateFixture(t *testing.T) {
	fx, err := loadFixture("testdata/farm.yaml")
	require.NoError(t, err)

	sim, err := simulate(context.Background(), fx, "v1", nil)
	require.NoError(t, err)
	require.Len(t, sim.outcomes, 5)

	for _, o := range sim.outcomes[:4] {
		require.NoError(t, o.Err, "event %d", o.Index)
		assert.True(t, o.Result.Success)
	}
	assert.NotNil(t, sim.outcomes[3].Reversal)
	assert.ErrorIs(t, sim.outcomes[4].Err, farmledger.ErrNoGLLinesComputed)

	qty := map[string]decimal.Decimal{}
	for _, b := range sim.balances {
		qty[b.SiteID+"/"+b.ItemID] = b.QtyOnHand
	}
	require.Len(t, qty, 2)
	assert.True(t, qty["north/F1"].Equal(decimal.NewFromInt(30)))
	assert.True(t, qty["south/F1"].Equal(decimal.NewFromInt(10)))

	require.Len(t, sim.requisitions, 1)
	assert.Equal(t, "north", sim.requisitions[0].SiteID)

	var out bytes.Buffer
	require.NoError(t, sim.render(&out))
	assert.Contains(t, out.String(), "REVERSED by txn_")
	assert.Contains(t, out.String(), "FAILED:")
}

func TestParseFixtureRequiresTenant(t *testing.T) {
	_, err := parseFixture([]byte("events: []\n"))
	require.Error(t, err)

	_, err = parseFixture([]byte("tenant: {id: t1}\nevents:\n  - type: SALE\n"))
	require.Error(t, err)
}

func run(t *testing.T, args ...string) string {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(append([]string{"--env-file", ""}, args...))
	require.NoError(t, cmd.Execute())
	return out.String()
}

func TestKeyCommandIgnoresFieldOrder(t *testing.T) {
	t.Setenv(envProfileVersion, "")

	a := run(t, "key", "--tenant", "t1", "--event", "evt_1", "--payload", `{"quantity":1.50,"itemId":"F1"}`)
	b := run(t, "key", "--tenant", "t1", "--event", "evt_1", "--payload", `{"itemId":"F1","quantity":1.50}`)
	assert.Equal(t, a, b)

	want, err := idempotency.Key("t1", "evt_1", map[string]any{"itemId": "F1", "quantity": json.Number("1.50")}, "v1")
	require.NoError(t, err)
	assert.Equal(t, want, strings.TrimSpace(a))
}

func TestKeyCommandProfileVersionFromEnv(t *testing.T) {
	t.Setenv(envProfileVersion, "v2")
	fromEnv := run(t, "key", "--tenant", "t1", "--event", "evt_1")
	explicit := run(t, "key", "--tenant", "t1", "--event", "evt_1", "--profile-version", "v2")
	v1 := run(t, "key", "--tenant", "t1", "--event", "evt_1", "--profile-version", "v1")

	assert.Equal(t, explicit, fromEnv)
	assert.NotEqual(t, v1, fromEnv)
}

func TestAccountsCommand(t *testing.T) {
	out := run(t, "accounts")
	for _, tpl := range account.DefaultChart {
		assert.Contains(t, out, tpl.Code)
	}
}

func TestParseLevel(t *testing.T) {
	lvl, err := parseLevel("")
	require.NoError(t, err)
	assert.Equal(t, "WARN", lvl.String())

	lvl, err = parseLevel("debug")
	require.NoError(t, err)
	assert.Equal(t, "DEBUG", lvl.String())

	_, err = parseLevel("loud")
	assert.Error(t, err)
}
