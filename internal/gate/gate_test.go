package gate

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"riskgate/internal/risk"
	"riskgate/internal/runtimecfg"
)

const (
	secret = "s3cret"
	mint   = "So11111111111111111111111111111111111111112"
)

type staticConfig runtimecfg.RuntimeConfig

func (c staticConfig) Get() runtimecfg.RuntimeConfig { return runtimecfg.RuntimeConfig(c) }

type stubScorer struct {
	calls  int
	result risk.Result
	err    error
}

func (s *stubScorer) Score(_ context.Context, id string) (risk.Result, error) {
	s.calls++
	if s.err != nil {
		return risk.Result{}, s.err
	}
	res := s.result
	res.SubjectID = id
	return res, nil
}

func closedBeta(wallets ...string) staticConfig {
	return staticConfig{AllowedWallets: wallets, MinRiskScore: 40}
}

func lowScore() risk.Result {
	return risk.Result{Score: 20, Label: risk.LabelHigh, Reasons: []string{"Very low liquidity (<$1k) (-40)"}}
}

func denylisted() risk.Result {
	return risk.Result{
		Score:    0,
		Label:    risk.LabelHigh,
		Reasons:  []string{"Denylisted token"},
		Critical: []risk.ReasonCode{risk.ReasonDenylisted},
	}
}

func TestAdminOverrideWinsOverEverything(t *testing.T) {
	scorer := &stubScorer{result: lowScore()}
	chain := NewTradeChain(secret, closedBeta(), scorer, zerolog.Nop())

	out := chain.Evaluate(context.Background(), &Request{AdminToken: secret, Wallet: "stranger", Mint: mint})

	assert.True(t, out.Allowed)
	assert.Equal(t, CheckAdminOverride, out.DecidedBy)
	assert.Equal(t, 0, scorer.calls, "risk is never computed for admin requests")
	require.Len(t, out.Trail, 1)
	assert.Equal(t, "allow", out.Trail[0].Verdict)
}

func TestDenylistBeatsScoreThreshold(t *testing.T) {
	scorer := &stubScorer{result: denylisted()}
	chain := NewTradeChain(secret, closedBeta("W1"), scorer, zerolog.Nop())

	req := &Request{Wallet: "W1", Mint: mint}
	out := chain.Evaluate(context.Background(), req)

	assert.False(t, out.Allowed)
	assert.Equal(t, CheckRisk, out.DecidedBy)
	assert.Equal(t, http.StatusBadRequest, out.Decision.Status)
	assert.Equal(t, "critical_risk", out.Decision.Code)
	assert.Equal(t, "blocked by critical risk", out.Decision.Message)
	require.NotNil(t, req.Risk)
	assert.Equal(t, 0, req.Risk.Score)
}

func TestCriticalBlocksEvenWithHighScore(t *testing.T) {
	res := risk.Result{Score: 75, Label: risk.LabelLow, Critical: []risk.ReasonCode{risk.ReasonMintAuthority}}
	chain := NewTradeChain(secret, staticConfig{TradingPublic: true, MinRiskScore: 40}, &stubScorer{result: res}, zerolog.Nop())

	out := chain.Evaluate(context.Background(), &Request{Mint: mint})

	assert.False(t, out.Allowed)
	assert.Equal(t, "critical_risk", out.Decision.Code)
}

func TestWalletNotAllowlisted(t *testing.T) {
	scorer := &stubScorer{result: risk.Result{Score: 90}}
	chain := NewTradeChain(secret, closedBeta("W1"), scorer, zerolog.Nop())

	for _, wallet := range []string{"", "W2"} {
		out := chain.Evaluate(context.Background(), &Request{Wallet: wallet, Mint: mint})
		assert.False(t, out.Allowed)
		assert.Equal(t, CheckTradingAccess, out.DecidedBy)
		assert.Equal(t, http.StatusForbidden, out.Decision.Status)
		assert.Equal(t, "Closed beta: wallet not allowlisted", out.Decision.Message)
	}
	assert.Equal(t, 0, scorer.calls)
}

func TestWrongAdminTokenFallsThrough(t *testing.T) {
	chain := NewTradeChain(secret, closedBeta(), &stubScorer{result: risk.Result{Score: 90}}, zerolog.Nop())

	out := chain.Evaluate(context.Background(), &Request{AdminToken: "guess", Mint: mint})

	assert.False(t, out.Allowed)
	assert.Equal(t, CheckTradingAccess, out.DecidedBy)
}

func TestEmptySecretNeverOverrides(t *testing.T) {
	chain := NewTradeChain("", closedBeta(), &stubScorer{result: risk.Result{Score: 90}}, zerolog.Nop())

	out := chain.Evaluate(context.Background(), &Request{AdminToken: "", Mint: mint})

	assert.False(t, out.Allowed)
	assert.Equal(t, CheckTradingAccess, out.DecidedBy)
}

func TestTokenMatches(t *testing.T) {
	assert.True(t, TokenMatches("secret", "secret"))
	assert.False(t, TokenMatches("secre", "secret"))
	assert.False(t, TokenMatches("", "secret"))
	assert.False(t, TokenMatches("", ""))
}

func TestPublicModeSkipsAllowlist(t *testing.T) {
	chain := NewTradeChain(secret, staticConfig{TradingPublic: true, MinRiskScore: 40}, &stubScorer{result: risk.Result{Score: 70}}, zerolog.Nop())

	req := &Request{Wallet: "anyone", Mint: mint}
	out := chain.Evaluate(context.Background(), req)

	assert.True(t, out.Allowed)
	assert.Equal(t, "end", out.DecidedBy)
	require.NotNil(t, req.Risk)
	assert.Equal(t, mint, req.Risk.SubjectID)
	assert.Len(t, out.Trail, 3)
}

func TestScoreBelowMinimum(t *testing.T) {
	cfg := closedBeta("W1")
	cfg.MinRiskScore = 55
	chain := NewTradeChain(secret, cfg, &stubScorer{result: risk.Result{Score: 50}}, zerolog.Nop())

	out := chain.Evaluate(context.Background(), &Request{Wallet: "W1", Mint: mint})

	assert.False(t, out.Allowed)
	assert.Equal(t, "score_too_low", out.Decision.Code)
	assert.Equal(t, "risk score too low (< 55)", out.Decision.Message)
}

func TestMintRequired(t *testing.T) {
	scorer := &stubScorer{}
	chain := NewTradeChain(secret, closedBeta("W1"), scorer, zerolog.Nop())

	out := chain.Evaluate(context.Background(), &Request{Wallet: "W1", Mint: "  "})

	assert.Equal(t, http.StatusBadRequest, out.Decision.Status)
	assert.Equal(t, "mint required", out.Decision.Message)
	assert.Equal(t, 0, scorer.calls)
}

func TestRiskErrorsFailClosed(t *testing.T) {
	cases := []struct {
		err    error
		status int
		code   string
	}{
		{fmt.Errorf("%w: bad", risk.ErrInvalidSubject), http.StatusBadRequest, "invalid_mint"},
		{errors.New("boom"), http.StatusInternalServerError, "risk_failed"},
		{context.DeadlineExceeded, http.StatusInternalServerError, "risk_failed"},
	}
	for _, tc := range cases {
		chain := NewTradeChain(secret, closedBeta("W1"), &stubScorer{err: tc.err}, zerolog.Nop())
		out := chain.Evaluate(context.Background(), &Request{Wallet: "W1", Mint: mint})
		assert.False(t, out.Allowed, tc.code)
		assert.Equal(t, tc.status, out.Decision.Status, tc.code)
		assert.Equal(t, tc.code, out.Decision.Code)
	}
}

func TestPanickingCheckFailsClosed(t *testing.T) {
	boom := Check{Name: "boom", Run: func(context.Context, *Request) (Decision, error) { panic("kaboom") }}
	never := Check{Name: "never", Run: func(context.Context, *Request) (Decision, error) {
		t.Fatal("chain must stop at the panic")
		return Pass(), nil
	}}
	chain := NewChain("test", zerolog.Nop(), boom, never)

	out := chain.Evaluate(context.Background(), &Request{})

	assert.False(t, out.Allowed)
	assert.Equal(t, "boom", out.DecidedBy)
	assert.Equal(t, http.StatusInternalServerError, out.Decision.Status)
}

func TestCheckErrorFailsClosed(t *testing.T) {
	failing := Check{Name: "failing", Run: func(context.Context, *Request) (Decision, error) {
		return Pass(), errors.New("backend down")
	}}
	out := NewChain("test", zerolog.Nop(), failing).Evaluate(context.Background(), &Request{})

	assert.False(t, out.Allowed)
	assert.Equal(t, "gate_error", out.Decision.Code)
}

func TestAnyOfPropagatesErrors(t *testing.T) {
	failing := Check{Name: "failing", Run: func(context.Context, *Request) (Decision, error) {
		return Decision{}, errors.New("nope")
	}}
	out := NewChain("test", zerolog.Nop(), AnyOf("either", failing)).Evaluate(context.Background(), &Request{})

	assert.False(t, out.Allowed)
	assert.Equal(t, http.StatusInternalServerError, out.Decision.Status)
}

func TestEmptyChainAllows(t *testing.T) {
	chain := NewChain("empty", zerolog.Nop())
	assert.True(t, chain.Evaluate(context.Background(), &Request{}).Allowed)
	assert.Empty(t, chain.Checks())
}

func TestAdminChain(t *testing.T) {
	out := NewAdminChain("", zerolog.Nop()).Evaluate(context.Background(), &Request{AdminToken: "x"})
	assert.Equal(t, http.StatusInternalServerError, out.Decision.Status)
	assert.Equal(t, "admin token not configured", out.Decision.Message)

	out = NewAdminChain(secret, zerolog.Nop()).Evaluate(context.Background(), &Request{AdminToken: "x"})
	assert.Equal(t, http.StatusUnauthorized, out.Decision.Status)
	assert.Equal(t, "unauthorized", out.Decision.Message)

	out = NewAdminChain(secret, zerolog.Nop()).Evaluate(context.Background(), &Request{AdminToken: secret})
	assert.True(t, out.Allowed)
}

func TestTradeChainOrder(t *testing.T) {
	chain := NewTradeChain(secret, closedBeta(), &stubScorer{}, zerolog.Nop())
	assert.Equal(t, []string{CheckAdminOverride, CheckTradingAccess, CheckRisk}, chain.Checks())
	assert.Equal(t, "trade", chain.Name())
}
