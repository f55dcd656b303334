package fetcher

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/token"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

const mintAccountSize = 82

var token2022ProgramID = solana.MustPublicKeyFromBase58("TokenzQdBNbLqP5VEhdkAS6EPFLC1PHnBqCXEpPxuEb")

// ErrInvalidAddress is returned for identifiers that are not base58 public keys.
var ErrInvalidAddress = errors.New("invalid solana address")

// ValidateAddress checks that id decodes to a 32-byte public key.
func ValidateAddress(id string) (solana.PublicKey, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return solana.PublicKey{}, fmt.Errorf("%w: empty", ErrInvalidAddress)
	}
	pk, err := solana.PublicKeyFromBase58(id)
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("%w: %v", ErrInvalidAddress, err)
	}
	return pk, nil
}

// ChainOptions parameterise the Solana RPC fetcher.
type ChainOptions struct {
	RPCURL     string
	Commitment string
	Timeout    time.Duration
	// HoldersTopN truncates the largest-accounts listing.
	HoldersTopN int
}

// Chain reads mint and holder data over Solana JSON-RPC.
type Chain struct {
	opts       ChainOptions
	logger     zerolog.Logger
	client     *rpc.Client
	commitment rpc.CommitmentType
}

// NewChain builds a chain fetcher.
func NewChain(opts ChainOptions, logger zerolog.Logger) *Chain {
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.HoldersTopN <= 0 {
		opts.HoldersTopN = 20
	}
	commitment := rpc.CommitmentType(strings.ToLower(strings.TrimSpace(opts.Commitment)))
	if commitment == "" {
		commitment = rpc.CommitmentConfirmed
	}

	return &Chain{
		opts:       opts,
		logger:     logger.With().Str("component", "chain_fetcher").Logger(),
		client:     rpc.New(opts.RPCURL),
		commitment: commitment,
	}
}

// FetchMintInfo decodes the mint account. Accounts owned by neither token
// program, or too short to hold a mint, yield ErrNotMint.
func (c *Chain) FetchMintInfo(ctx context.Context, mint string) (*MintInfo, error) {
	if c.opts.RPCURL == "" {
		return nil, errors.New("solana rpc url not configured")
	}
	pk, err := ValidateAddress(mint)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, c.opts.Timeout)
	defer cancel()

	resp, err := c.client.GetAccountInfoWithOpts(ctx, pk, &rpc.GetAccountInfoOpts{
		Encoding:   solana.EncodingBase64,
		Commitment: c.commitment,
	})
	if err != nil {
		if errors.Is(err, rpc.ErrNotFound) {
			return nil, ErrAccountNotFound
		}
		return nil, fmt.Errorf("get account info: %w", err)
	}
	if resp == nil || resp.Value == nil {
		return nil, ErrAccountNotFound
	}

	owner := resp.Value.Owner
	if !owner.Equals(solana.TokenProgramID) && !owner.Equals(token2022ProgramID) {
		return nil, fmt.Errorf("%w: owner %s", ErrNotMint, owner)
	}

	data := resp.Value.Data.GetBinary()
	if len(data) < mintAccountSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrNotMint, len(data))
	}

	var account token.Mint
	if err := bin.NewBinDecoder(data[:mintAccountSize]).Decode(&account); err != nil {
		return nil, fmt.Errorf("decode mint: %w", err)
	}
	if !account.IsInitialized {
		return nil, fmt.Errorf("%w: uninitialized", ErrNotMint)
	}

	info := &MintInfo{Decimals: account.Decimals, Supply: account.Supply}
	if account.MintAuthority != nil {
		info.MintAuthority = account.MintAuthority.String()
	}
	if account.FreezeAuthority != nil {
		info.FreezeAuthority = account.FreezeAuthority.String()
	}
	return info, nil
}

// FetchLargestHolders returns up to HoldersTopN of the largest token accounts.
func (c *Chain) FetchLargestHolders(ctx context.Context, mint string) ([]Holder, error) {
	if c.opts.RPCURL == "" {
		return nil, errors.New("solana rpc url not configured")
	}
	pk, err := ValidateAddress(mint)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, c.opts.Timeout)
	defer cancel()

	resp, err := c.client.GetTokenLargestAccounts(ctx, pk, c.commitment)
	if err != nil {
		return nil, fmt.Errorf("get token largest accounts: %w", err)
	}
	if resp == nil {
		return nil, errors.New("empty largest accounts response")
	}

	holders := make([]Holder, 0, len(resp.Value))
	for _, acc := range resp.Value {
		if acc == nil {
			continue
		}
		amount, err := decimal.NewFromString(acc.Amount)
		if err != nil {
			c.logger.Debug().Err(err).Str("account", acc.Address.String()).Msg("skip holder with unparsable amount")
			continue
		}
		holders = append(holders, Holder{Address: acc.Address.String(), Amount: amount})
		if len(holders) == c.opts.HoldersTopN {
			break
		}
	}
	return holders, nil
}

var (
	_ MintInfoFetcher = (*Chain)(nil)
	_ HolderFetcher   = (*Chain)(nil)
)
