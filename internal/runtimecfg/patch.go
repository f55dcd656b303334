package runtimecfg

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// Patch is a partial update. Nil fields are left unchanged.
type Patch struct {
	TradingPublic      *bool
	AllowedWallets     []string
	MinLiquidityUSD    *decimal.Decimal
	MinTokenAgeMinutes *int
	MaxTaxPercent      *decimal.Decimal
	MinRiskScore       *int
}

// IsEmpty reports whether the patch changes nothing.
func (p Patch) IsEmpty() bool {
	return p.TradingPublic == nil && p.AllowedWallets == nil && p.MinLiquidityUSD == nil &&
		p.MinTokenAgeMinutes == nil && p.MaxTaxPercent == nil && p.MinRiskScore == nil
}

func (p Patch) apply(c RuntimeConfig) RuntimeConfig {
	out := c.clone()
	if p.TradingPublic != nil {
		out.TradingPublic = *p.TradingPublic
	}
	if p.AllowedWallets != nil {
		out.AllowedWallets = ParseWalletList(strings.Join(p.AllowedWallets, ","))
	}
	if p.MinLiquidityUSD != nil {
		out.MinLiquidityUSD = *p.MinLiquidityUSD
	}
	if p.MinTokenAgeMinutes != nil {
		out.MinTokenAgeMinutes = *p.MinTokenAgeMinutes
	}
	if p.MaxTaxPercent != nil {
		out.MaxTaxPercent = *p.MaxTaxPercent
	}
	if p.MinRiskScore != nil {
		out.MinRiskScore = *p.MinRiskScore
	}
	return out
}

type patchDocument struct {
	TradingPublic      json.RawMessage `json:"TRADING_PUBLIC"`
	AllowedWallets     json.RawMessage `json:"ALLOWED_WALLETS"`
	AllowedWalletsList []string        `json:"ALLOWED_WALLETS_LIST"`
	MinLiquidityUSD    json.RawMessage `json:"MIN_LIQ_USD"`
	MinTokenAgeMinutes json.RawMessage `json:"MIN_TOKEN_AGE_MINUTES"`
	MaxTaxPercent      json.RawMessage `json:"MAX_TAX_PCT"`
	MinRiskScore       json.RawMessage `json:"MIN_RISK_SCORE"`
}

// ParsePatch decodes an admin patch keyed by the legacy names. Values may be
// JSON strings, numbers or booleans; ALLOWED_WALLETS_LIST wins over the CSV form.
func ParsePatch(body []byte) (Patch, error) {
	var doc patchDocument
	if len(bytes.TrimSpace(body)) > 0 {
		if err := json.Unmarshal(body, &doc); err != nil {
			return Patch{}, fmt.Errorf("decode patch: %w", err)
		}
	}

	var p Patch
	if s, ok, err := scalar(doc.TradingPublic); err != nil {
		return Patch{}, fmt.Errorf("TRADING_PUBLIC: %w", err)
	} else if ok {
		v := parseFlag(s)
		p.TradingPublic = &v
	}

	if s, ok, err := scalar(doc.AllowedWallets); err != nil {
		return Patch{}, fmt.Errorf("ALLOWED_WALLETS: %w", err)
	} else if ok {
		p.AllowedWallets = ParseWalletList(s)
	}
	if doc.AllowedWalletsList != nil {
		p.AllowedWallets = ParseWalletList(strings.Join(doc.AllowedWalletsList, ","))
	}

	var err error
	if p.MinLiquidityUSD, err = decimalField("MIN_LIQ_USD", doc.MinLiquidityUSD); err != nil {
		return Patch{}, err
	}
	if p.MaxTaxPercent, err = decimalField("MAX_TAX_PCT", doc.MaxTaxPercent); err != nil {
		return Patch{}, err
	}
	if p.MinTokenAgeMinutes, err = intField("MIN_TOKEN_AGE_MINUTES", doc.MinTokenAgeMinutes); err != nil {
		return Patch{}, err
	}
	if p.MinRiskScore, err = intField("MIN_RISK_SCORE", doc.MinRiskScore); err != nil {
		return Patch{}, err
	}
	return p, nil
}

// scalar flattens a JSON string, number or boolean into its text form.
func scalar(raw json.RawMessage) (string, bool, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return "", false, nil
	}
	switch raw[0] {
	case '"':
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return "", false, err
		}
		return s, true, nil
	case '{', '[':
		return "", false, fmt.Errorf("expected a scalar value")
	}
	return string(raw), true, nil
}

func decimalField(name string, raw json.RawMessage) (*decimal.Decimal, error) {
	s, ok, err := scalar(raw)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	if !ok {
		return nil, nil
	}
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return nil, fmt.Errorf("%s: invalid number %q", name, s)
	}
	return &d, nil
}

func intField(name string, raw json.RawMessage) (*int, error) {
	s, ok, err := scalar(raw)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	if !ok {
		return nil, nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return nil, fmt.Errorf("%s: invalid integer %q", name, s)
	}
	return &n, nil
}
