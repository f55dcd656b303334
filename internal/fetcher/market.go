package fetcher

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"riskgate/internal/version"
)

const dexTokensPath = "/latest/dex/tokens/"

// MarketOptions parameterise the DexScreener fetcher.
type MarketOptions struct {
	BaseURL   string
	Timeout   time.Duration
	UserAgent string
	// Now overrides the clock used for pair age.
	Now func() time.Time
}

// Market fetches trading pairs from DexScreener.
type Market struct {
	opts    MarketOptions
	logger  zerolog.Logger
	client  *http.Client
	baseURL string
	now     func() time.Time
}

// NewMarket constructs a market fetcher.
func NewMarket(opts MarketOptions, logger zerolog.Logger) *Market {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://api.dexscreener.com"
	}

	now := opts.Now
	if now == nil {
		now = time.Now
	}

	return &Market{
		opts:    opts,
		logger:  logger.With().Str("component", "market_fetcher").Logger(),
		client:  &http.Client{Timeout: timeout},
		baseURL: baseURL,
		now:     now,
	}
}

// FetchMarket returns the pair with the highest USD liquidity, or nil when
// DexScreener lists no pairs for the mint.
func (m *Market) FetchMarket(ctx context.Context, mint string) (*MarketData, error) {
	mint = strings.TrimSpace(mint)
	if mint == "" {
		return nil, fmt.Errorf("mint required")
	}

	endpoint := m.baseURL + dexTokensPath + url.PathEscape(mint)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if ua := strings.TrimSpace(m.opts.UserAgent); ua != "" {
		req.Header.Set("User-Agent", ua)
	} else {
		req.Header.Set("User-Agent", version.UserAgent())
	}

	resp, err := m.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode != http.StatusOK {
		return nil, parseHTTPError(resp.StatusCode, payload)
	}

	var tokensRes tokensResponse
	if err := json.Unmarshal(payload, &tokensRes); err != nil {
		return nil, fmt.Errorf("decode dexscreener response: %w", err)
	}

	best := bestPair(tokensRes.Pairs)
	if best == nil {
		m.logger.Debug().Str("mint", mint).Msg("no pairs listed")
		return nil, nil
	}
	return m.toMarketData(best), nil
}

func (m *Market) toMarketData(p *dexPair) *MarketData {
	data := &MarketData{
		PairAddress:  p.PairAddress,
		DexID:        p.DexID,
		LiquidityUSD: p.Liquidity.USD,
		MarketCap:    p.FDV,
		PriceUSD:     p.PriceUSD,
		Buys5m:       p.Txns.M5.Buys,
		Sells5m:      p.Txns.M5.Sells,
	}
	if data.MarketCap.IsZero() {
		data.MarketCap = p.MarketCap
	}

	if p.PairCreatedAt > 0 {
		created := time.UnixMilli(p.PairCreatedAt)
		age := int(math.Round(float64(m.now().Sub(created).Milliseconds()) / 60000))
		if age < 0 {
			age = 0
		}
		data.AgeMinutes = &age
	}

	if total := data.Buys5m + data.Sells5m; total > 0 {
		ratio := float64(data.Buys5m) / float64(total)
		data.BuyRatio5m = &ratio
	}
	return data
}

// bestPair keeps the first pair on ties.
func bestPair(pairs []dexPair) *dexPair {
	var best *dexPair
	for i := range pairs {
		p := &pairs[i]
		if best == nil || p.Liquidity.USD.GreaterThan(best.Liquidity.USD) {
			best = p
		}
	}
	return best
}

type tokensResponse struct {
	SchemaVersion string    `json:"schemaVersion"`
	Pairs         []dexPair `json:"pairs"`
}

type dexPair struct {
	ChainID     string `json:"chainId"`
	DexID       string `json:"dexId"`
	PairAddress string `json:"pairAddress"`
	BaseToken   struct {
		Address string `json:"address"`
		Symbol  string `json:"symbol"`
	} `json:"baseToken"`
	PriceUSD decimal.Decimal `json:"priceUsd"`
	Txns     struct {
		M5 struct {
			Buys  int `json:"buys"`
			Sells int `json:"sells"`
		} `json:"m5"`
	} `json:"txns"`
	Liquidity struct {
		USD decimal.Decimal `json:"usd"`
	} `json:"liquidity"`
	FDV           decimal.Decimal `json:"fdv"`
	MarketCap     decimal.Decimal `json:"marketCap"`
	PairCreatedAt int64           `json:"pairCreatedAt"`
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func parseHTTPError(status int, payload []byte) error {
	var apiErr errorResponse
	if err := json.Unmarshal(payload, &apiErr); err == nil {
		if apiErr.Message != "" {
			return fmt.Errorf("dexscreener api error (%d): %s", status, apiErr.Message)
		}
		if apiErr.Error != "" {
			return fmt.Errorf("dexscreener api error (%d): %s", status, apiErr.Error)
		}
	}
	if len(payload) > 0 {
		return fmt.Errorf("dexscreener api error (%d): %s", status, strings.TrimSpace(string(payload)))
	}
	return fmt.Errorf("dexscreener api error (%d)", status)
}

var _ MarketFetcher = (*Market)(nil)
