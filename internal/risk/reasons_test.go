package risk

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"riskgate/internal/fetcher"
)

var evalTime = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func holders(n int) []fetcher.Holder {
	out := make([]fetcher.Holder, n)
	for i := range out {
		out[i] = fetcher.Holder{Address: "h", Amount: decimal.NewFromInt(1)}
	}
	return out
}

func intp(v int) *int           { return &v }
func floatp(v float64) *float64 { return &v }

func market(liq int64, age *int, ratio *float64) *fetcher.MarketData {
	return &fetcher.MarketData{LiquidityUSD: decimal.NewFromInt(liq), AgeMinutes: age, BuyRatio5m: ratio}
}

func TestLabelFor(t *testing.T) {
	cases := map[int]Label{100: LabelLow, 70: LabelLow, 69: LabelMedium, 40: LabelMedium, 39: LabelHigh, 0: LabelHigh}
	for score, want := range cases {
		assert.Equal(t, want, LabelFor(score), "score %d", score)
	}

	severity := map[Label]int{LabelLow: 0, LabelMedium: 1, LabelHigh: 2}
	prev := severity[LabelFor(100)]
	for s := 99; s >= 0; s-- {
		cur := severity[LabelFor(s)]
		assert.GreaterOrEqual(t, cur, prev, "severity must not drop as score falls (score %d)", s)
		prev = cur
	}
}

func TestEvaluateDocumentedScenario(t *testing.T) {
	sig := Signals{
		MintErr: errors.New("rpc down"),
		Holders: holders(120),
		Market:  market(2500, intp(45), floatp(0.5)),
	}

	res := Evaluate("mint", sig, Thresholds{}, evalTime)

	assert.Equal(t, 50, res.Score)
	assert.Equal(t, LabelMedium, res.Label)
	assert.Equal(t, []string{
		"Mint parsed info unavailable (-5)",
		"Low holder count (-5)",
		"Low liquidity (<$3k) (-25)",
		"New token (<60m) (-15)",
	}, res.Reasons)
	assert.Empty(t, res.Critical)
	assert.Equal(t, evalTime, res.FetchedAt)
}

func TestEvaluateClampsStackedDeductions(t *testing.T) {
	sig := Signals{
		Mint:    &fetcher.MintInfo{MintAuthority: "auth", FreezeAuthority: "freeze"},
		Holders: holders(3),
		Market:  market(10, intp(2), floatp(1)),
	}
	th := Thresholds{MinLiquidityUSD: decimal.NewFromInt(5000), MinTokenAgeMinutes: 30}

	res := Evaluate("mint", sig, th, evalTime)

	assert.Equal(t, 0, res.Score)
	assert.Equal(t, LabelHigh, res.Label)
	assert.Contains(t, res.Reasons, "Below admin min liquidity (<$5000) (-10)")
	assert.Contains(t, res.Reasons, "Below admin min age (<30m) (-10)")
	assert.Contains(t, res.Reasons, "Buy pressure extremely high; sells near zero (honeypot risk) (-20)")
	assert.Equal(t, []ReasonCode{ReasonMintAuthority}, res.Critical)
}

func TestEvaluateScoreStaysInRange(t *testing.T) {
	variants := []Signals{
		{},
		{MintErr: errors.New("x"), HoldersErr: errors.New("x"), MarketErr: errors.New("x")},
		{Mint: &fetcher.MintInfo{}, Holders: holders(500), Market: market(50_000, intp(600), floatp(0.5))},
		{Mint: &fetcher.MintInfo{MintAuthority: "a"}, Holders: holders(0), Market: market(0, intp(0), floatp(0.99)), Denylisted: true},
	}
	for i, sig := range variants {
		res := Evaluate("mint", sig, Thresholds{MinLiquidityUSD: decimal.NewFromInt(1_000_000), MinTokenAgeMinutes: 10_000}, evalTime)
		assert.GreaterOrEqual(t, res.Score, 0, "variant %d", i)
		assert.LessOrEqual(t, res.Score, 100, "variant %d", i)
		assert.Equal(t, LabelFor(res.Score), res.Label, "variant %d", i)
	}
}

func TestEvaluateCleanTokenKeepsFullScore(t *testing.T) {
	sig := Signals{Mint: &fetcher.MintInfo{Decimals: 6}, Holders: holders(250), Market: market(50_000, intp(600), floatp(0.6))}

	res := Evaluate("mint", sig, Thresholds{}, evalTime)

	assert.Equal(t, 100, res.Score)
	assert.Equal(t, LabelLow, res.Label)
	assert.Empty(t, res.Reasons)
	assert.Equal(t, 250, res.Factors["holdersApprox"])
	assert.Equal(t, false, res.Factors["mintAuthority"])
}

func TestEvaluateDenylistForcesZero(t *testing.T) {
	sig := Signals{
		Denylisted: true,
		Mint:       &fetcher.MintInfo{},
		Holders:    holders(500),
		Market:     market(100_000, intp(1000), floatp(0.5)),
	}

	res := Evaluate("mint", sig, Thresholds{}, evalTime)

	assert.Equal(t, 0, res.Score)
	assert.Equal(t, LabelHigh, res.Label)
	assert.Equal(t, []string{"Denylisted token"}, res.Reasons)
	assert.Equal(t, []ReasonCode{ReasonDenylisted}, res.Critical)
	assert.Equal(t, true, res.Factors["denylisted"])
}

func TestEvaluateMarketFailureModes(t *testing.T) {
	base := Signals{Mint: &fetcher.MintInfo{}, Holders: holders(300)}

	noData := Evaluate("mint", base, Thresholds{}, evalTime)
	assert.Equal(t, []string{"No DEX data available (-5)"}, noData.Reasons)

	failed := base
	failed.MarketErr = errors.New("timeout")
	res := Evaluate("mint", failed, Thresholds{}, evalTime)
	assert.Equal(t, []string{"DEX lookup failed (-5)"}, res.Reasons)
	assert.Equal(t, 95, res.Score)
}

func TestEvaluateUnknownAgeAndRatioSkipped(t *testing.T) {
	sig := Signals{Mint: &fetcher.MintInfo{}, Holders: holders(300), Market: market(20_000, nil, nil)}

	res := Evaluate("mint", sig, Thresholds{MinTokenAgeMinutes: 60}, evalTime)

	assert.Equal(t, 100, res.Score)
	_, hasAge := res.Factors["ageMinutes"]
	assert.False(t, hasAge)
}

func TestEvaluateHolderLadder(t *testing.T) {
	cases := []struct {
		count  int
		reason string
	}{
		{49, "Very few holders (-10)"},
		{50, "Low holder count (-5)"},
		{199, "Low holder count (-5)"},
	}
	for _, tc := range cases {
		res := Evaluate("mint", Signals{Mint: &fetcher.MintInfo{}, Holders: holders(tc.count), Market: market(50_000, nil, nil)}, Thresholds{}, evalTime)
		assert.Equal(t, []string{tc.reason}, res.Reasons, "holders %d", tc.count)
	}

	res := Evaluate("mint", Signals{Mint: &fetcher.MintInfo{}, HoldersErr: errors.New("x"), Market: market(50_000, nil, nil)}, Thresholds{}, evalTime)
	assert.Equal(t, []string{"Holders info unavailable (-3)"}, res.Reasons)
}

func TestEvaluateLiquidityLadder(t *testing.T) {
	cases := map[int64]string{
		999:  "Very low liquidity (<$1k) (-40)",
		1000: "Low liquidity (<$3k) (-25)",
		9999: "Moderate liquidity (<$10k) (-10)",
	}
	for liq, reason := range cases {
		res := Evaluate("mint", Signals{Mint: &fetcher.MintInfo{}, Holders: holders(300), Market: market(liq, nil, nil)}, Thresholds{}, evalTime)
		assert.Equal(t, []string{reason}, res.Reasons, "liquidity %d", liq)
	}
}

func TestCriticalCodes(t *testing.T) {
	assert.True(t, ReasonDenylisted.Critical())
	assert.True(t, ReasonMintAuthority.Critical())
	assert.False(t, ReasonFreezeAuthority.Critical())
	assert.False(t, ReasonBelowMinLiquidity.Critical())
}
