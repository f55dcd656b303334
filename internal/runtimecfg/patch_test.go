package runtimecfg

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePatchAcceptsMixedValueTypes(t *testing.T) {
	p, err := ParsePatch([]byte(`{"TRADING_PUBLIC": 1, "MIN_RISK_SCORE": "55", "MIN_LIQ_USD": 1500.5, "MAX_TAX_PCT": "10"}`))
	require.NoError(t, err)

	require.NotNil(t, p.TradingPublic)
	assert.True(t, *p.TradingPublic)
	require.NotNil(t, p.MinRiskScore)
	assert.Equal(t, 55, *p.MinRiskScore)
	require.NotNil(t, p.MinLiquidityUSD)
	assert.Equal(t, "1500.5", p.MinLiquidityUSD.String())
	assert.Nil(t, p.MinTokenAgeMinutes)
	assert.Nil(t, p.AllowedWallets)
}

func TestParsePatchTradingPublicFalsy(t *testing.T) {
	for _, body := range []string{`{"TRADING_PUBLIC": false}`, `{"TRADING_PUBLIC": "0"}`, `{"TRADING_PUBLIC": 0}`} {
		p, err := ParsePatch([]byte(body))
		require.NoError(t, err, body)
		require.NotNil(t, p.TradingPublic, body)
		assert.False(t, *p.TradingPublic, body)
	}
}

func TestParsePatchWalletListWinsOverCSV(t *testing.T) {
	p, err := ParsePatch([]byte(`{"ALLOWED_WALLETS": "a,b", "ALLOWED_WALLETS_LIST": ["c", " d "]}`))
	require.NoError(t, err)
	assert.Equal(t, []string{"c", "d"}, p.AllowedWallets)

	p, err = ParsePatch([]byte(`{"ALLOWED_WALLETS": ""}`))
	require.NoError(t, err)
	assert.NotNil(t, p.AllowedWallets, "empty csv clears the list")
	assert.Empty(t, p.AllowedWallets)
}

func TestParsePatchRejectsInvalidNumbers(t *testing.T) {
	_, err := ParsePatch([]byte(`{"MIN_RISK_SCORE": "high"}`))
	assert.Error(t, err)

	_, err = ParsePatch([]byte(`{"MIN_LIQ_USD": {"usd": 1}}`))
	assert.Error(t, err)
}

func TestParsePatchEmptyBody(t *testing.T) {
	p, err := ParsePatch(nil)
	require.NoError(t, err)
	assert.True(t, p.IsEmpty())
}
