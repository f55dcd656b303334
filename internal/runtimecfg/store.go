package runtimecfg

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"riskgate/internal/fsutil"
)

// ErrPersist wraps failures to write the runtime config file.
var ErrPersist = errors.New("persist runtime config")

// Store owns the runtime config file. Reads are lock-free snapshots; every
// mutation goes through a single writer.
type Store struct {
	path     string
	defaults RuntimeConfig
	current  atomic.Pointer[RuntimeConfig]
	mu       sync.Mutex
	logger   zerolog.Logger
}

// NewStore publishes defaults immediately; call Load to overlay the file.
func NewStore(path string, defaults RuntimeConfig, logger zerolog.Logger) *Store {
	s := &Store{
		path:     path,
		defaults: defaults.clone(),
		logger:   logger.With().Str("component", "runtime_config").Logger(),
	}
	snapshot := s.defaults.clone()
	s.current.Store(&snapshot)
	return s
}

// Path returns the backing file.
func (s *Store) Path() string { return s.path }

// Load merges the file over the defaults and publishes the result. Read
// and parse problems are logged and the defaults are kept.
func (s *Store) Load() RuntimeConfig {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadLocked()
}

// Get returns the current snapshot.
func (s *Store) Get() RuntimeConfig {
	return s.current.Load().clone()
}

// Save merges p into the current snapshot, persists the full result and reloads.
func (s *Store) Save(p Patch) (RuntimeConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveLocked(p)
}

// AddWallet appends wallet to the allowlist. It reports false when the wallet was already present.
func (s *Store) AddWallet(wallet string) (RuntimeConfig, bool, error) {
	wallet = strings.TrimSpace(wallet)
	if wallet == "" {
		return RuntimeConfig{}, false, errors.New("wallet required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cur := s.current.Load().clone()
	if cur.IsWalletAllowed(wallet) {
		return cur, false, nil
	}
	saved, err := s.saveLocked(Patch{AllowedWallets: append(cur.AllowedWallets, wallet)})
	return saved, err == nil, err
}

// RemoveWallet drops wallet from the allowlist. It reports false when the wallet was absent.
func (s *Store) RemoveWallet(wallet string) (RuntimeConfig, bool, error) {
	wallet = strings.TrimSpace(wallet)
	if wallet == "" {
		return RuntimeConfig{}, false, errors.New("wallet required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cur := s.current.Load().clone()
	if !cur.IsWalletAllowed(wallet) {
		return cur, false, nil
	}
	kept := make([]string, 0, len(cur.AllowedWallets))
	for _, w := range cur.AllowedWallets {
		if w != wallet {
			kept = append(kept, w)
		}
	}
	saved, err := s.saveLocked(Patch{AllowedWallets: kept})
	return saved, err == nil, err
}

func (s *Store) saveLocked(p Patch) (RuntimeConfig, error) {
	next := p.apply(*s.current.Load())
	if err := next.Validate(); err != nil {
		return RuntimeConfig{}, err
	}
	if err := fsutil.WriteJSONAtomic(s.path, next.Document()); err != nil {
		return RuntimeConfig{}, fmt.Errorf("%w: %v", ErrPersist, err)
	}
	s.logger.Info().
		Bool("trading_public", next.TradingPublic).
		Int("wallets", len(next.AllowedWallets)).
		Int("min_risk_score", next.MinRiskScore).
		Msg("runtime config saved")
	return s.loadLocked(), nil
}

func (s *Store) loadLocked() RuntimeConfig {
	merged := s.defaults.clone()

	raw, err := os.ReadFile(s.path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		s.logger.Warn().Err(err).Str("path", s.path).Msg("read runtime config failed; using defaults")
	default:
		var doc fileDocument
		if err := json.Unmarshal(raw, &doc); err != nil {
			s.logger.Warn().Err(err).Str("path", s.path).Msg("parse runtime config failed; using defaults")
		} else {
			merged = s.resetInvalid(s.overlay(merged, doc))
		}
	}

	s.current.Store(&merged)
	return merged.clone()
}

// overlay applies each present file key, skipping values that do not parse.
func (s *Store) overlay(c RuntimeConfig, doc fileDocument) RuntimeConfig {
	if doc.TradingPublic != nil {
		c.TradingPublic = parseFlag(string(*doc.TradingPublic))
	}
	if doc.AllowedWallets != nil {
		c.AllowedWallets = ParseWalletList(string(*doc.AllowedWallets))
	}
	if doc.MinLiquidityUSD != nil {
		if d, err := decimal.NewFromString(strings.TrimSpace(string(*doc.MinLiquidityUSD))); err == nil {
			c.MinLiquidityUSD = d
		} else {
			s.logger.Warn().Str("key", "MIN_LIQ_USD").Str("value", string(*doc.MinLiquidityUSD)).Msg("ignoring invalid value")
		}
	}
	if doc.MaxTaxPercent != nil {
		if d, err := decimal.NewFromString(strings.TrimSpace(string(*doc.MaxTaxPercent))); err == nil {
			c.MaxTaxPercent = d
		} else {
			s.logger.Warn().Str("key", "MAX_TAX_PCT").Str("value", string(*doc.MaxTaxPercent)).Msg("ignoring invalid value")
		}
	}
	if doc.MinTokenAgeMinutes != nil {
		if n, err := strconv.Atoi(strings.TrimSpace(string(*doc.MinTokenAgeMinutes))); err == nil {
			c.MinTokenAgeMinutes = n
		} else {
			s.logger.Warn().Str("key", "MIN_TOKEN_AGE_MINUTES").Str("value", string(*doc.MinTokenAgeMinutes)).Msg("ignoring invalid value")
		}
	}
	if doc.MinRiskScore != nil {
		if n, err := strconv.Atoi(strings.TrimSpace(string(*doc.MinRiskScore))); err == nil {
			c.MinRiskScore = n
		} else {
			s.logger.Warn().Str("key", "MIN_RISK_SCORE").Str("value", string(*doc.MinRiskScore)).Msg("ignoring invalid value")
		}
	}
	return c
}

// resetInvalid puts every key that parsed but fails validation back to its
// default.
func (s *Store) resetInvalid(c RuntimeConfig) RuntimeConfig {
	warn := func(key string, err error) {
		s.logger.Warn().Err(err).Str("key", key).Str("path", s.path).Msg("runtime config value out of range; using default")
	}
	if err := checkMinRiskScore(c.MinRiskScore); err != nil {
		warn("MIN_RISK_SCORE", err)
		c.MinRiskScore = s.defaults.MinRiskScore
	}
	if err := checkMinTokenAge(c.MinTokenAgeMinutes); err != nil {
		warn("MIN_TOKEN_AGE_MINUTES", err)
		c.MinTokenAgeMinutes = s.defaults.MinTokenAgeMinutes
	}
	if err := checkMinLiquidity(c.MinLiquidityUSD); err != nil {
		warn("MIN_LIQ_USD", err)
		c.MinLiquidityUSD = s.defaults.MinLiquidityUSD
	}
	if err := checkMaxTax(c.MaxTaxPercent); err != nil {
		warn("MAX_TAX_PCT", err)
		c.MaxTaxPercent = s.defaults.MaxTaxPercent
	}
	return c
}
