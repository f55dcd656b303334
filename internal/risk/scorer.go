package risk

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"riskgate/internal/fetcher"
	"riskgate/internal/metrics"
)

// MaxBatchSize caps ScoreBatch regardless of configuration.
const MaxBatchSize = 50

// ErrInvalidSubject is returned for identifiers that are not Solana public keys.
var ErrInvalidSubject = errors.New("invalid subject id")

// Denylist reports whether a subject is always critical.
type Denylist interface {
	Contains(id string) (bool, error)
}

// ThresholdSource supplies the current admin thresholds on every computation.
type ThresholdSource interface {
	RiskThresholds() Thresholds
}

// ThresholdsFunc adapts a function to ThresholdSource.
type ThresholdsFunc func() Thresholds

// RiskThresholds implements ThresholdSource.
func (f ThresholdsFunc) RiskThresholds() Thresholds { return f() }

// Options parameterise the scorer.
type Options struct {
	TTL          time.Duration
	FetchTimeout time.Duration
	BatchLimit   int
	Now          func() time.Time
}

// Scorer computes and caches risk results.
type Scorer struct {
	opts       Options
	mint       fetcher.MintInfoFetcher
	holders    fetcher.HolderFetcher
	market     fetcher.MarketFetcher
	denylist   Denylist
	thresholds ThresholdSource
	logger     zerolog.Logger
	now        func() time.Time

	cache  *Cache
	flight singleflight.Group

	// genMu guards gen, epoch and every cache write made after a computation.
	genMu sync.Mutex
	gen   map[string]uint64
	epoch uint64
}

// Deps bundles the scorer's collaborators.
type Deps struct {
	Mint       fetcher.MintInfoFetcher
	Holders    fetcher.HolderFetcher
	Market     fetcher.MarketFetcher
	Denylist   Denylist
	Thresholds ThresholdSource
}

// NewScorer builds a scorer. Fetchers are required; a nil denylist or
// threshold source behaves as empty.
func NewScorer(opts Options, deps Deps, logger zerolog.Logger) *Scorer {
	if deps.Mint == nil || deps.Holders == nil || deps.Market == nil {
		panic("risk: scorer requires mint, holder and market fetchers")
	}
	if opts.TTL <= 0 {
		opts.TTL = 20 * time.Second
	}
	if opts.FetchTimeout <= 0 {
		opts.FetchTimeout = 15 * time.Second
	}
	if opts.BatchLimit <= 0 || opts.BatchLimit > MaxBatchSize {
		opts.BatchLimit = MaxBatchSize
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	thresholds := deps.Thresholds
	if thresholds == nil {
		thresholds = ThresholdsFunc(func() Thresholds { return Thresholds{} })
	}

	return &Scorer{
		opts:       opts,
		mint:       deps.Mint,
		holders:    deps.Holders,
		market:     deps.Market,
		denylist:   deps.Denylist,
		thresholds: thresholds,
		logger:     logger.With().Str("component", "risk_scorer").Logger(),
		now:        now,
		cache:      NewCache(),
		gen:        make(map[string]uint64),
	}
}

// Score returns the cached result for subjectID when fresh, otherwise
// computes one. Concurrent callers for the same subject share a computation.
func (s *Scorer) Score(ctx context.Context, subjectID string) (Result, error) {
	subjectID = strings.TrimSpace(subjectID)
	if _, err := fetcher.ValidateAddress(subjectID); err != nil {
		metrics.RiskComputations.WithLabelValues("invalid").Inc()
		return Result{}, fmt.Errorf("%w: %q", ErrInvalidSubject, subjectID)
	}

	if res, ok := s.cache.Get(subjectID, s.now()); ok {
		metrics.RiskComputations.WithLabelValues("cache_hit").Inc()
		return res.Clone(), nil
	}

	ch := s.flight.DoChan(subjectID, func() (any, error) {
		if res, ok := s.cache.Get(subjectID, s.now()); ok {
			return res, nil
		}
		st := s.stamp(subjectID)
		res := s.compute(context.WithoutCancel(ctx), subjectID)
		s.storeIfCurrent(subjectID, st, res)
		metrics.RiskComputations.WithLabelValues("computed").Inc()
		metrics.RiskScore.Observe(float64(res.Score))
		return res, nil
	})

	select {
	case <-ctx.Done():
		return Result{}, ctx.Err()
	case out := <-ch:
		if out.Err != nil {
			return Result{}, out.Err
		}
		if out.Shared {
			metrics.RiskComputations.WithLabelValues("shared").Inc()
		}
		return out.Val.(Result).Clone(), nil
	}
}

// ScoreBatch scores up to the batch limit of ids concurrently. Items that
// fail are omitted; the rest keep input order.
func (s *Scorer) ScoreBatch(ctx context.Context, ids []string) []Result {
	if len(ids) > s.opts.BatchLimit {
		ids = ids[:s.opts.BatchLimit]
	}

	slots := make([]*Result, len(ids))
	var g errgroup.Group
	for i, id := range ids {
		g.Go(func() error {
			res, err := s.Score(ctx, id)
			if err != nil {
				s.logger.Debug().Err(err).Str("subject", id).Msg("batch item skipped")
				return nil
			}
			slots[i] = &res
			return nil
		})
	}
	_ = g.Wait()

	out := make([]Result, 0, len(slots))
	for _, res := range slots {
		if res != nil {
			out = append(out, *res)
		}
	}
	return out
}

// Invalidate drops any cached result for subjectID and keeps a computation
// already in flight from repopulating the cache.
func (s *Scorer) Invalidate(subjectID string) {
	subjectID = strings.TrimSpace(subjectID)
	s.genMu.Lock()
	s.gen[subjectID]++
	s.cache.Delete(subjectID)
	s.genMu.Unlock()
	s.flight.Forget(subjectID)
}

// Sweep drops expired cache entries and resets invalidation bookkeeping.
// Computations that started before the reset are not cached.
func (s *Scorer) Sweep() int {
	s.genMu.Lock()
	s.epoch++
	clear(s.gen)
	s.genMu.Unlock()

	removed := s.cache.Sweep(s.now())
	metrics.RiskCacheEntries.Set(float64(s.cache.Len()))
	return removed
}

// CacheLen reports how many results are cached.
func (s *Scorer) CacheLen() int { return s.cache.Len() }

type genStamp struct {
	epoch uint64
	gen   uint64
}

func (s *Scorer) stamp(subjectID string) genStamp {
	s.genMu.Lock()
	defer s.genMu.Unlock()
	return genStamp{epoch: s.epoch, gen: s.gen[subjectID]}
}

// storeIfCurrent caches res unless subjectID was invalidated, or the
// bookkeeping reset, since st was taken.
func (s *Scorer) storeIfCurrent(subjectID string, st genStamp, res Result) bool {
	s.genMu.Lock()
	defer s.genMu.Unlock()
	if s.epoch != st.epoch || s.gen[subjectID] != st.gen {
		return false
	}
	s.cache.Set(subjectID, res, s.now().Add(s.opts.TTL))
	return true
}

func (s *Scorer) compute(ctx context.Context, subjectID string) Result {
	ctx, cancel := context.WithTimeout(ctx, s.opts.FetchTimeout)
	defer cancel()

	var sig Signals
	var g errgroup.Group
	g.Go(func() error {
		sig.Mint, sig.MintErr = s.mint.FetchMintInfo(ctx, subjectID)
		if sig.MintErr != nil {
			metrics.RiskFetchFailures.WithLabelValues("mint").Inc()
			s.logger.Debug().Err(sig.MintErr).Str("subject", subjectID).Msg("mint info unavailable")
		}
		return nil
	})
	g.Go(func() error {
		sig.Holders, sig.HoldersErr = s.holders.FetchLargestHolders(ctx, subjectID)
		if sig.HoldersErr != nil {
			metrics.RiskFetchFailures.WithLabelValues("holders").Inc()
			s.logger.Debug().Err(sig.HoldersErr).Str("subject", subjectID).Msg("holders unavailable")
		}
		return nil
	})
	g.Go(func() error {
		sig.Market, sig.MarketErr = s.market.FetchMarket(ctx, subjectID)
		if sig.MarketErr != nil {
			metrics.RiskFetchFailures.WithLabelValues("market").Inc()
			s.logger.Warn().Err(sig.MarketErr).Str("subject", subjectID).Msg("dex lookup failed")
		}
		return nil
	})
	sig.Denylisted = s.isDenylisted(subjectID)
	_ = g.Wait()

	res := Evaluate(subjectID, sig, s.thresholds.RiskThresholds(), s.now())
	s.logger.Debug().
		Str("subject", subjectID).
		Int("score", res.Score).
		Str("label", string(res.Label)).
		Int("reasons", len(res.Reasons)).
		Msg("risk computed")
	return res
}

func (s *Scorer) isDenylisted(subjectID string) bool {
	if s.denylist == nil {
		return false
	}
	ok, err := s.denylist.Contains(subjectID)
	if err != nil {
		metrics.RiskFetchFailures.WithLabelValues("denylist").Inc()
		s.logger.Error().Err(err).Str("subject", subjectID).Msg("denylist unreadable; treating as not listed")
		return false
	}
	return ok
}
