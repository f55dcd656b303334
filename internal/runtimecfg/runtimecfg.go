// Package runtimecfg holds the admin-mutable trading configuration and its JSON file persistence.
package runtimecfg

import (
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"riskgate/internal/config"
)

// RuntimeConfig is the effective runtime configuration.
type RuntimeConfig struct {
	TradingPublic      bool
	AllowedWallets     []string
	MinLiquidityUSD    decimal.Decimal
	MinTokenAgeMinutes int
	MaxTaxPercent      decimal.Decimal
	MinRiskScore       int
}

// Defaults returns the built-in runtime defaults.
func Defaults() RuntimeConfig {
	return RuntimeConfig{
		AllowedWallets: []string{},
		MaxTaxPercent:  decimal.NewFromInt(100),
		MinRiskScore:   40,
	}
}

// DefaultsFromConfig seeds runtime defaults from static configuration.
func DefaultsFromConfig(cfg config.RuntimeConfig) RuntimeConfig {
	return RuntimeConfig{
		TradingPublic:      cfg.TradingPublic,
		AllowedWallets:     ParseWalletList(cfg.AllowedWallets),
		MinLiquidityUSD:    decimal.NewFromFloat(cfg.MinLiquidityUSD),
		MinTokenAgeMinutes: cfg.MinTokenAgeMinutes,
		MaxTaxPercent:      decimal.NewFromFloat(cfg.MaxTaxPercent),
		MinRiskScore:       cfg.MinRiskScore,
	}
}

// IsWalletAllowed reports whether wallet is on the allowlist.
func (c RuntimeConfig) IsWalletAllowed(wallet string) bool {
	wallet = strings.TrimSpace(wallet)
	return wallet != "" && slices.Contains(c.AllowedWallets, wallet)
}

// Validate rejects values the gate cannot act on.
func (c RuntimeConfig) Validate() error {
	if err := checkMinRiskScore(c.MinRiskScore); err != nil {
		return err
	}
	if err := checkMinTokenAge(c.MinTokenAgeMinutes); err != nil {
		return err
	}
	if err := checkMinLiquidity(c.MinLiquidityUSD); err != nil {
		return err
	}
	return checkMaxTax(c.MaxTaxPercent)
}

func checkMinRiskScore(n int) error {
	if n < 0 || n > 100 {
		return fmt.Errorf("MIN_RISK_SCORE must be within 0..100, got %d", n)
	}
	return nil
}

func checkMinTokenAge(n int) error {
	if n < 0 {
		return fmt.Errorf("MIN_TOKEN_AGE_MINUTES must not be negative, got %d", n)
	}
	return nil
}

func checkMinLiquidity(d decimal.Decimal) error {
	if d.IsNegative() {
		return fmt.Errorf("MIN_LIQ_USD must not be negative, got %s", d)
	}
	return nil
}

func checkMaxTax(d decimal.Decimal) error {
	if d.IsNegative() || d.GreaterThan(decimal.NewFromInt(100)) {
		return fmt.Errorf("MAX_TAX_PCT must be within 0..100, got %s", d)
	}
	return nil
}

func (c RuntimeConfig) clone() RuntimeConfig {
	out := c
	out.AllowedWallets = slices.Clone(c.AllowedWallets)
	if out.AllowedWallets == nil {
		out.AllowedWallets = []string{}
	}
	return out
}

// ParseWalletList splits a comma separated list, trimming entries and
// dropping empties and duplicates while keeping first-seen order.
func ParseWalletList(csv string) []string {
	out := []string{}
	for _, part := range strings.Split(csv, ",") {
		w := strings.TrimSpace(part)
		if w == "" || slices.Contains(out, w) {
			continue
		}
		out = append(out, w)
	}
	return out
}

// Document is the persisted and admin-facing shape: legacy key names with
// every value carried as a string.
type Document struct {
	TradingPublic      string `json:"TRADING_PUBLIC"`
	AllowedWallets     string `json:"ALLOWED_WALLETS"`
	MinLiquidityUSD    string `json:"MIN_LIQ_USD"`
	MinTokenAgeMinutes string `json:"MIN_TOKEN_AGE_MINUTES"`
	MaxTaxPercent      string `json:"MAX_TAX_PCT"`
	MinRiskScore       string `json:"MIN_RISK_SCORE"`
}

// Document renders c in the persisted string form.
func (c RuntimeConfig) Document() Document {
	public := "0"
	if c.TradingPublic {
		public = "1"
	}
	return Document{
		TradingPublic:      public,
		AllowedWallets:     strings.Join(c.AllowedWallets, ","),
		MinLiquidityUSD:    c.MinLiquidityUSD.String(),
		MinTokenAgeMinutes: strconv.Itoa(c.MinTokenAgeMinutes),
		MaxTaxPercent:      c.MaxTaxPercent.String(),
		MinRiskScore:       strconv.Itoa(c.MinRiskScore),
	}
}

// fileDocument tracks which keys the file actually carried.
type fileDocument struct {
	TradingPublic      *fileValue `json:"TRADING_PUBLIC"`
	AllowedWallets     *fileValue `json:"ALLOWED_WALLETS"`
	MinLiquidityUSD    *fileValue `json:"MIN_LIQ_USD"`
	MinTokenAgeMinutes *fileValue `json:"MIN_TOKEN_AGE_MINUTES"`
	MaxTaxPercent      *fileValue `json:"MAX_TAX_PCT"`
	MinRiskScore       *fileValue `json:"MIN_RISK_SCORE"`
}

// fileValue accepts hand-edited numbers and booleans alongside strings.
type fileValue string

func (v *fileValue) UnmarshalJSON(raw []byte) error {
	s, _, err := scalar(raw)
	if err != nil {
		return err
	}
	*v = fileValue(s)
	return nil
}

func parseFlag(raw string) bool {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "1", "true", "yes", "on":
		return true
	}
	return false
}
