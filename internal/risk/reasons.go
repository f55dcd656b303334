package risk

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"riskgate/internal/fetcher"
)

// ReasonCode identifies a deduction independently of its display text.
type ReasonCode string

const (
	ReasonMintAuthority       ReasonCode = "mint_authority"
	ReasonFreezeAuthority     ReasonCode = "freeze_authority"
	ReasonMintInfoUnavailable ReasonCode = "mint_info_unavailable"
	ReasonVeryFewHolders      ReasonCode = "very_few_holders"
	ReasonLowHolders          ReasonCode = "low_holders"
	ReasonHoldersUnavailable  ReasonCode = "holders_unavailable"
	ReasonVeryLowLiquidity    ReasonCode = "very_low_liquidity"
	ReasonLowLiquidity        ReasonCode = "low_liquidity"
	ReasonModerateLiquidity   ReasonCode = "moderate_liquidity"
	ReasonBelowMinLiquidity   ReasonCode = "below_min_liquidity"
	ReasonVeryNewToken        ReasonCode = "very_new_token"
	ReasonNewToken            ReasonCode = "new_token"
	ReasonBelowMinAge         ReasonCode = "below_min_age"
	ReasonHoneypot            ReasonCode = "honeypot"
	ReasonNoDexData           ReasonCode = "no_dex_data"
	ReasonDexLookupFailed     ReasonCode = "dex_lookup_failed"
	ReasonDenylisted          ReasonCode = "denylisted"
)

// Critical reports whether the gate must block on this reason regardless of score.
func (c ReasonCode) Critical() bool {
	return c == ReasonMintAuthority || c == ReasonDenylisted
}

const (
	honeypotBuyRatio = 0.95
	veryFewHolders   = 50
	lowHolders       = 200
	veryNewMinutes   = 10
	newMinutes       = 60
)

var (
	liquidityVeryLow  = decimal.NewFromInt(1_000)
	liquidityLow      = decimal.NewFromInt(3_000)
	liquidityModerate = decimal.NewFromInt(10_000)
)

// Thresholds are the admin-tunable scoring minimums.
type Thresholds struct {
	MinLiquidityUSD    decimal.Decimal
	MinTokenAgeMinutes int
}

// Signals is everything the scorer gathered for one subject.
type Signals struct {
	Denylisted bool
	Mint       *fetcher.MintInfo
	MintErr    error
	Holders    []fetcher.Holder
	HoldersErr error
	Market     *fetcher.MarketData
	MarketErr  error
}

type tally struct {
	score    int
	reasons  []string
	codes    []ReasonCode
	critical []ReasonCode
}

func (t *tally) deduct(code ReasonCode, points int, text string) {
	t.score -= points
	t.add(code, fmt.Sprintf("%s (-%d)", text, points))
}

func (t *tally) add(code ReasonCode, reason string) {
	t.reasons = append(t.reasons, reason)
	t.codes = append(t.codes, code)
	if code.Critical() {
		t.critical = append(t.critical, code)
	}
}

// Evaluate applies the deduction ladder to s. It performs no I/O.
func Evaluate(subjectID string, s Signals, th Thresholds, now time.Time) Result {
	t := &tally{score: 100, reasons: []string{}, codes: []ReasonCode{}, critical: []ReasonCode{}}
	factors := map[string]any{"denylisted": s.Denylisted}

	if s.MintErr == nil && s.Mint != nil {
		factors["decimals"] = s.Mint.Decimals
		factors["supply"] = s.Mint.Supply
		factors["mintAuthority"] = s.Mint.HasMintAuthority()
		factors["freezeAuthority"] = s.Mint.HasFreezeAuthority()
		if s.Mint.HasMintAuthority() {
			t.deduct(ReasonMintAuthority, 25, "Mint authority present (can mint more)")
		}
		if s.Mint.HasFreezeAuthority() {
			t.deduct(ReasonFreezeAuthority, 15, "Freeze authority present")
		}
	} else {
		t.deduct(ReasonMintInfoUnavailable, 5, "Mint parsed info unavailable")
	}

	if s.HoldersErr == nil {
		holders := fetcher.CountPositive(s.Holders)
		factors["holdersApprox"] = holders
		switch {
		case holders < veryFewHolders:
			t.deduct(ReasonVeryFewHolders, 10, "Very few holders")
		case holders < lowHolders:
			t.deduct(ReasonLowHolders, 5, "Low holder count")
		}
	} else {
		t.deduct(ReasonHoldersUnavailable, 3, "Holders info unavailable")
	}

	switch {
	case s.MarketErr != nil:
		t.deduct(ReasonDexLookupFailed, 5, "DEX lookup failed")
	case s.Market == nil:
		t.deduct(ReasonNoDexData, 5, "No DEX data available")
	default:
		applyMarket(t, factors, s.Market, th)
	}

	if s.Denylisted {
		t.add(ReasonDenylisted, "Denylisted token")
		t.score = 0
	}

	score := clamp(t.score)
	return Result{
		SubjectID: subjectID,
		Score:     score,
		Label:     LabelFor(score),
		Reasons:   t.reasons,
		Codes:     t.codes,
		Critical:  t.critical,
		Factors:   factors,
		FetchedAt: now.UTC(),
	}
}

func applyMarket(t *tally, factors map[string]any, m *fetcher.MarketData, th Thresholds) {
	liq := m.LiquidityUSD
	factors["liquidityUsd"] = liq.InexactFloat64()
	factors["marketCap"] = m.MarketCap.InexactFloat64()
	factors["priceUsd"] = m.PriceUSD.InexactFloat64()
	factors["bestPair"] = m.PairAddress

	switch {
	case liq.LessThan(liquidityVeryLow):
		t.deduct(ReasonVeryLowLiquidity, 40, "Very low liquidity (<$1k)")
	case liq.LessThan(liquidityLow):
		t.deduct(ReasonLowLiquidity, 25, "Low liquidity (<$3k)")
	case liq.LessThan(liquidityModerate):
		t.deduct(ReasonModerateLiquidity, 10, "Moderate liquidity (<$10k)")
	}
	if th.MinLiquidityUSD.IsPositive() && liq.LessThan(th.MinLiquidityUSD) {
		t.deduct(ReasonBelowMinLiquidity, 10, fmt.Sprintf("Below admin min liquidity (<$%s)", th.MinLiquidityUSD))
	}

	if m.AgeMinutes != nil {
		age := *m.AgeMinutes
		factors["ageMinutes"] = age
		switch {
		case age < veryNewMinutes:
			t.deduct(ReasonVeryNewToken, 30, "Very new token (<10m)")
		case age < newMinutes:
			t.deduct(ReasonNewToken, 15, "New token (<60m)")
		}
		if th.MinTokenAgeMinutes > 0 && age < th.MinTokenAgeMinutes {
			t.deduct(ReasonBelowMinAge, 10, fmt.Sprintf("Below admin min age (<%dm)", th.MinTokenAgeMinutes))
		}
	}

	if m.BuyRatio5m != nil {
		factors["buyRatio5m"] = *m.BuyRatio5m
		if *m.BuyRatio5m >= honeypotBuyRatio {
			t.deduct(ReasonHoneypot, 20, "Buy pressure extremely high; sells near zero (honeypot risk)")
		}
	}
}

func clamp(score int) int {
	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return score
}
