package risk

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"riskgate/internal/fetcher"
)

const testMint = "So11111111111111111111111111111111111111112"

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type fakeChain struct {
	mintCalls   atomic.Int32
	holderCalls atomic.Int32
	mint        *fetcher.MintInfo
	mintErr     error
	holders     []fetcher.Holder
	holdersErr  error
}

func (f *fakeChain) FetchMintInfo(ctx context.Context, mint string) (*fetcher.MintInfo, error) {
	f.mintCalls.Add(1)
	return f.mint, f.mintErr
}

func (f *fakeChain) FetchLargestHolders(ctx context.Context, mint string) ([]fetcher.Holder, error) {
	f.holderCalls.Add(1)
	return f.holders, f.holdersErr
}

type fakeMarket struct {
	calls   atomic.Int32
	data    *fetcher.MarketData
	err     error
	release chan struct{}
}

func (f *fakeMarket) FetchMarket(ctx context.Context, mint string) (*fetcher.MarketData, error) {
	f.calls.Add(1)
	if f.release != nil {
		<-f.release
	}
	return f.data, f.err
}

type fakeDenylist map[string]bool

func (d fakeDenylist) Contains(id string) (bool, error) { return d[id], nil }

type brokenDenylist struct{}

func (brokenDenylist) Contains(string) (bool, error) { return false, errors.New("corrupt") }

type harness struct {
	scorer *Scorer
	chain  *fakeChain
	market *fakeMarket
	clock  *fakeClock
}

func newHarness(t *testing.T, deny Denylist) *harness {
	t.Helper()
	h := &harness{
		chain:  &fakeChain{mintErr: errors.New("rpc down"), holders: holders(120)},
		market: &fakeMarket{data: market(2500, intp(45), floatp(0.5))},
		clock:  &fakeClock{now: evalTime},
	}
	h.scorer = NewScorer(Options{TTL: 20 * time.Second, FetchTimeout: time.Second, Now: h.clock.Now}, Deps{
		Mint:     h.chain,
		Holders:  h.chain,
		Market:   h.market,
		Denylist: deny,
	}, zerolog.Nop())
	return h
}

func mintAddress(i int) string {
	var b [32]byte
	b[0] = byte(i)
	b[1] = byte(i >> 8)
	b[31] = 1
	return solana.PublicKeyFromBytes(b[:]).String()
}

func TestScoreComputesScenario(t *testing.T) {
	h := newHarness(t, nil)

	res, err := h.scorer.Score(context.Background(), testMint)
	require.NoError(t, err)
	assert.Equal(t, 50, res.Score)
	assert.Equal(t, LabelMedium, res.Label)
	assert.Equal(t, testMint, res.SubjectID)
}

func TestScoreCachedWithinTTL(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	first, err := h.scorer.Score(ctx, testMint)
	require.NoError(t, err)
	h.clock.Advance(19 * time.Second)
	second, err := h.scorer.Score(ctx, testMint)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.EqualValues(t, 1, h.chain.mintCalls.Load())
	assert.EqualValues(t, 1, h.chain.holderCalls.Load())
	assert.EqualValues(t, 1, h.market.calls.Load())
}

func TestScoreRecomputesAfterTTL(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	first, err := h.scorer.Score(ctx, testMint)
	require.NoError(t, err)
	h.clock.Advance(20 * time.Second)
	second, err := h.scorer.Score(ctx, testMint)
	require.NoError(t, err)

	assert.EqualValues(t, 2, h.market.calls.Load())
	assert.EqualValues(t, 2, h.chain.mintCalls.Load())
	assert.True(t, second.FetchedAt.After(first.FetchedAt))
}

func TestScoreReturnsIndependentCopies(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	first, err := h.scorer.Score(ctx, testMint)
	require.NoError(t, err)
	first.Reasons[0] = "tampered"

	second, err := h.scorer.Score(ctx, testMint)
	require.NoError(t, err)
	assert.Equal(t, "Mint parsed info unavailable (-5)", second.Reasons[0])
}

func TestScoreRejectsMalformedSubject(t *testing.T) {
	h := newHarness(t, nil)

	_, err := h.scorer.Score(context.Background(), "not a mint")
	require.ErrorIs(t, err, ErrInvalidSubject)
	assert.EqualValues(t, 0, h.market.calls.Load())
	assert.EqualValues(t, 0, h.chain.mintCalls.Load())
}

func TestScoreSharesConcurrentComputation(t *testing.T) {
	h := newHarness(t, nil)
	h.market.release = make(chan struct{})

	const callers = 10
	var wg sync.WaitGroup
	results := make([]Result, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := h.scorer.Score(context.Background(), testMint)
			assert.NoError(t, err)
			results[i] = res
		}()
	}

	require.Eventually(t, func() bool { return h.market.calls.Load() == 1 }, time.Second, time.Millisecond)
	close(h.market.release)
	wg.Wait()

	assert.EqualValues(t, 1, h.market.calls.Load())
	for _, res := range results {
		assert.Equal(t, results[0], res)
	}
}

func TestScoreCallerCancellationDoesNotPoisonCache(t *testing.T) {
	h := newHarness(t, nil)
	h.market.release = make(chan struct{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := h.scorer.Score(ctx, testMint)
		done <- err
	}()
	require.Eventually(t, func() bool { return h.market.calls.Load() == 1 }, time.Second, time.Millisecond)
	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)

	close(h.market.release)
	require.Eventually(t, func() bool { return h.scorer.CacheLen() == 1 }, time.Second, time.Millisecond)

	res, err := h.scorer.Score(context.Background(), testMint)
	require.NoError(t, err)
	assert.Equal(t, 50, res.Score)
	assert.EqualValues(t, 1, h.market.calls.Load())
}

func TestScoreDenylistedForcesZero(t *testing.T) {
	h := newHarness(t, fakeDenylist{testMint: true})

	res, err := h.scorer.Score(context.Background(), testMint)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Score)
	assert.Equal(t, LabelHigh, res.Label)
	assert.Contains(t, res.Reasons, "Denylisted token")
	assert.True(t, res.HasCritical())
}

func TestScoreUnreadableDenylistIsNotFatal(t *testing.T) {
	h := newHarness(t, brokenDenylist{})

	res, err := h.scorer.Score(context.Background(), testMint)
	require.NoError(t, err)
	assert.Equal(t, 50, res.Score)
	assert.NotContains(t, res.Reasons, "Denylisted token")
}

func TestScoreUsesCurrentThresholds(t *testing.T) {
	h := newHarness(t, nil)
	var minLiq atomic.Int64
	h.scorer.thresholds = ThresholdsFunc(func() Thresholds {
		return Thresholds{MinLiquidityUSD: decimal.NewFromInt(minLiq.Load())}
	})

	res, err := h.scorer.Score(context.Background(), testMint)
	require.NoError(t, err)
	assert.Equal(t, 50, res.Score)

	minLiq.Store(5000)
	h.scorer.Invalidate(testMint)
	res, err = h.scorer.Score(context.Background(), testMint)
	require.NoError(t, err)
	assert.Equal(t, 40, res.Score)
	assert.Contains(t, res.Reasons, "Below admin min liquidity (<$5000) (-10)")
}

func TestInvalidateForcesRecompute(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	_, err := h.scorer.Score(ctx, testMint)
	require.NoError(t, err)
	h.scorer.Invalidate(testMint)
	_, err = h.scorer.Score(ctx, testMint)
	require.NoError(t, err)

	assert.EqualValues(t, 2, h.market.calls.Load())
}

func TestInvalidateDuringFlightSkipsCacheWrite(t *testing.T) {
	h := newHarness(t, nil)
	h.market.release = make(chan struct{})

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = h.scorer.Score(context.Background(), testMint)
	}()
	require.Eventually(t, func() bool { return h.market.calls.Load() == 1 }, time.Second, time.Millisecond)

	h.scorer.Invalidate(testMint)
	close(h.market.release)
	<-done

	assert.Equal(t, 0, h.scorer.CacheLen())
}

func TestSweepDropsExpired(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	_, err := h.scorer.Score(ctx, testMint)
	require.NoError(t, err)
	h.clock.Advance(5 * time.Second)
	_, err = h.scorer.Score(ctx, mintAddress(1))
	require.NoError(t, err)

	h.clock.Advance(16 * time.Second)
	assert.Equal(t, 1, h.scorer.Sweep())
	assert.Equal(t, 1, h.scorer.CacheLen())
}

func TestScoreBatchCapsAtFifty(t *testing.T) {
	h := newHarness(t, nil)
	ids := make([]string, 60)
	for i := range ids {
		ids[i] = mintAddress(i)
	}

	out := h.scorer.ScoreBatch(context.Background(), ids)

	require.Len(t, out, 50)
	for i, res := range out {
		assert.Equal(t, ids[i], res.SubjectID)
	}
	assert.EqualValues(t, 50, h.market.calls.Load())
}

func TestScoreBatchOmitsFailedItems(t *testing.T) {
	h := newHarness(t, nil)
	ids := []string{mintAddress(1), "bogus!", mintAddress(2)}

	out := h.scorer.ScoreBatch(context.Background(), ids)

	require.Len(t, out, 2)
	assert.Equal(t, ids[0], out[0].SubjectID)
	assert.Equal(t, ids[2], out[1].SubjectID)
}

func TestScoreBatchHonoursConfiguredLimit(t *testing.T) {
	h := newHarness(t, nil)
	h.scorer.opts.BatchLimit = 3
	ids := []string{mintAddress(1), mintAddress(2), mintAddress(3), mintAddress(4)}

	assert.Len(t, h.scorer.ScoreBatch(context.Background(), ids), 3)
}

func TestSweepDuringFlightSkipsCacheWrite(t *testing.T) {
	h := newHarness(t, nil)
	h.market.release = make(chan struct{})

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = h.scorer.Score(context.Background(), testMint)
	}()
	require.Eventually(t, func() bool { return h.market.calls.Load() == 1 }, time.Second, time.Millisecond)

	h.scorer.Sweep()
	close(h.market.release)
	<-done

	assert.Equal(t, 0, h.scorer.CacheLen())
}

func TestSweepResetsInvalidations(t *testing.T) {
	h := newHarness(t, nil)
	for i := 0; i < 5; i++ {
		h.scorer.Invalidate(mintAddress(i))
	}
	assert.Len(t, h.scorer.gen, 5)

	h.scorer.Sweep()
	assert.Empty(t, h.scorer.gen)

	_, err := h.scorer.Score(context.Background(), testMint)
	require.NoError(t, err)
	assert.Equal(t, 1, h.scorer.CacheLen())
}

func TestStoreIfCurrentRejectsStaleStamp(t *testing.T) {
	h := newHarness(t, nil)
	st := h.scorer.stamp(testMint)
	h.scorer.Invalidate(testMint)

	stored := h.scorer.storeIfCurrent(testMint, st, Result{SubjectID: testMint, Score: 90})
	assert.False(t, stored)
	assert.Equal(t, 0, h.scorer.CacheLen())

	stored = h.scorer.storeIfCurrent(testMint, h.scorer.stamp(testMint), Result{SubjectID: testMint, Score: 90})
	assert.True(t, stored)
	assert.Equal(t, 1, h.scorer.CacheLen())
}
