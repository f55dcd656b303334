package fetcher

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
)

var (
	// ErrAccountNotFound means the RPC node has no account at the address.
	ErrAccountNotFound = errors.New("account not found")
	// ErrNotMint means the account exists but is not an initialized SPL token mint.
	ErrNotMint = errors.New("account is not a token mint")
)

// MintInfo is the decoded state of an SPL token mint account.
type MintInfo struct {
	Decimals        uint8
	Supply          uint64
	MintAuthority   string
	FreezeAuthority string
}

// HasMintAuthority reports whether more supply can still be minted.
func (m MintInfo) HasMintAuthority() bool { return m.MintAuthority != "" }

// HasFreezeAuthority reports whether holder accounts can be frozen.
func (m MintInfo) HasFreezeAuthority() bool { return m.FreezeAuthority != "" }

// Holder is one entry of the largest-accounts listing.
type Holder struct {
	Address string
	Amount  decimal.Decimal
}

// CountPositive returns how many holders carry a non-zero balance.
func CountPositive(holders []Holder) int {
	n := 0
	for _, h := range holders {
		if h.Amount.IsPositive() {
			n++
		}
	}
	return n
}

// MarketData is the best-liquidity trading pair reported by the market data provider.
type MarketData struct {
	PairAddress  string
	DexID        string
	LiquidityUSD decimal.Decimal
	MarketCap    decimal.Decimal
	PriceUSD     decimal.Decimal
	// AgeMinutes is nil when the pair has no creation timestamp.
	AgeMinutes *int
	Buys5m     int
	Sells5m    int
	// BuyRatio5m is nil when the pair had no trades in the last five minutes.
	BuyRatio5m *float64
}

// MintInfoFetcher reads mint account state from the chain.
type MintInfoFetcher interface {
	FetchMintInfo(ctx context.Context, mint string) (*MintInfo, error)
}

// HolderFetcher lists the largest token accounts of a mint.
type HolderFetcher interface {
	FetchLargestHolders(ctx context.Context, mint string) ([]Holder, error)
}

// MarketFetcher looks up trading pairs for a mint. A nil result with a nil
// error means the provider knows no pairs for it.
type MarketFetcher interface {
	FetchMarket(ctx context.Context, mint string) (*MarketData, error)
}
