package gate

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/rs/zerolog"

	"riskgate/internal/risk"
	"riskgate/internal/runtimecfg"
)

// Check names as they appear in trails, metrics and audit rows.
const (
	CheckAdminOverride   = "admin-override"
	CheckAdminAuth       = "admin-auth"
	CheckTradingAccess   = "trading-access"
	CheckPublicMode      = "public-mode"
	CheckWalletAllowlist = "wallet-allowlist"
	CheckRisk            = "risk-gate"
)

// CodeCriticalRisk is the denial code for mints carrying a critical reason.
const CodeCriticalRisk = "critical_risk"

// ConfigSource exposes the current runtime configuration.
type ConfigSource interface {
	Get() runtimecfg.RuntimeConfig
}

// Scorer computes risk for a mint.
type Scorer interface {
	Score(ctx context.Context, subjectID string) (risk.Result, error)
}

// TokenMatches compares an admin token in constant time. An empty secret
// never matches.
func TokenMatches(presented, secret string) bool {
	if presented == "" || secret == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(presented), []byte(secret)) == 1
}

// AdminOverride admits requests carrying the admin secret. With no secret
// configured it never matches.
func AdminOverride(secret string) Check {
	return Check{Name: CheckAdminOverride, Run: func(_ context.Context, req *Request) (Decision, error) {
		if TokenMatches(req.AdminToken, secret) {
			return Allow("admin_override"), nil
		}
		return Pass(), nil
	}}
}

// AdminAuth guards admin endpoints. A missing secret is a server
// misconfiguration, reported separately from a wrong credential.
func AdminAuth(secret string) Check {
	return Check{Name: CheckAdminAuth, Run: func(_ context.Context, req *Request) (Decision, error) {
		if secret == "" {
			return Deny(http.StatusInternalServerError, "admin_not_configured", "admin token not configured"), nil
		}
		if !TokenMatches(req.AdminToken, secret) {
			return Deny(http.StatusUnauthorized, "unauthorized", "unauthorized"), nil
		}
		return Allow("admin"), nil
	}}
}

// PublicMode passes when trading is open to everyone.
func PublicMode(cfg ConfigSource) Check {
	return Check{Name: CheckPublicMode, Run: func(_ context.Context, _ *Request) (Decision, error) {
		if cfg.Get().TradingPublic {
			return Pass(), nil
		}
		return Deny(http.StatusForbidden, "trading_private", "trading is not public"), nil
	}}
}

// WalletAllowlist passes when the requesting wallet is allowlisted.
func WalletAllowlist(cfg ConfigSource) Check {
	return Check{Name: CheckWalletAllowlist, Run: func(_ context.Context, req *Request) (Decision, error) {
		if cfg.Get().IsWalletAllowed(req.Wallet) {
			return Pass(), nil
		}
		return Deny(http.StatusForbidden, "not_allowlisted", "Closed beta: wallet not allowlisted"), nil
	}}
}

// TradingAccess admits public trading or allowlisted wallets.
func TradingAccess(cfg ConfigSource) Check {
	return AnyOf(CheckTradingAccess, PublicMode(cfg), WalletAllowlist(cfg))
}

// RiskGate scores the requested mint and rejects critical or low-scoring
// tokens. The computed result is attached to req either way.
func RiskGate(scorer Scorer, cfg ConfigSource) Check {
	return Check{Name: CheckRisk, Run: func(ctx context.Context, req *Request) (Decision, error) {
		mint := strings.TrimSpace(req.Mint)
		if mint == "" {
			return Deny(http.StatusBadRequest, "mint_required", "mint required"), nil
		}

		res, err := scorer.Score(ctx, mint)
		if err != nil {
			if errors.Is(err, risk.ErrInvalidSubject) {
				return Deny(http.StatusBadRequest, "invalid_mint", "invalid mint"), nil
			}
			return Deny(http.StatusInternalServerError, "risk_failed", "risk evaluation failed"), nil
		}
		req.Risk = &res

		if res.HasCritical() {
			return Deny(http.StatusBadRequest, CodeCriticalRisk, "blocked by critical risk"), nil
		}
		if minScore := cfg.Get().MinRiskScore; res.Score < minScore {
			return Deny(http.StatusBadRequest, "score_too_low", fmt.Sprintf("risk score too low (< %d)", minScore)), nil
		}
		return Pass(), nil
	}}
}

// NewTradeChain wires the trade-intent checks in precedence order.
func NewTradeChain(adminSecret string, cfg ConfigSource, scorer Scorer, logger zerolog.Logger) *Chain {
	return NewChain("trade", logger,
		AdminOverride(adminSecret),
		TradingAccess(cfg),
		RiskGate(scorer, cfg),
	)
}

// NewAdminChain guards admin endpoints.
func NewAdminChain(adminSecret string, logger zerolog.Logger) *Chain {
	return NewChain("admin", logger, AdminAuth(adminSecret))
}
