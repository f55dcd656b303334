// Package server exposes risk scoring, denylist and runtime config
// administration, and the gated trade-intent endpoint over HTTP.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"riskgate/internal/gate"
	"riskgate/internal/metrics"
	"riskgate/internal/risk"
	"riskgate/internal/runtimecfg"
)

// RiskScorer is the scoring surface the API needs.
type RiskScorer interface {
	Score(ctx context.Context, subjectID string) (risk.Result, error)
	ScoreBatch(ctx context.Context, ids []string) []risk.Result
	Invalidate(subjectID string)
}

// DenylistStore manages denylisted mints.
type DenylistStore interface {
	List() ([]string, error)
	Add(id string) (bool, error)
	Remove(id string) (bool, error)
}

// RuntimeStore manages the live runtime configuration.
type RuntimeStore interface {
	Get() runtimecfg.RuntimeConfig
	Save(p runtimecfg.Patch) (runtimecfg.RuntimeConfig, error)
	AddWallet(wallet string) (runtimecfg.RuntimeConfig, bool, error)
	RemoveWallet(wallet string) (runtimecfg.RuntimeConfig, bool, error)
}

// OutcomeRecorder audits trade gate outcomes.
type OutcomeRecorder interface {
	RecordOutcome(ctx context.Context, req *gate.Request, out gate.Outcome)
}

// HealthCheck is one named subsystem probe for /health.
type HealthCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

// Options configure the HTTP listener and API behaviour.
type Options struct {
	Addr              string
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	ShutdownTimeout   time.Duration
	TrustedProxies    []string
	MaxBodyBytes      int64
	RateLimit         RateLimitConfig
	AdminToken        string
	DevTradeIntentTxn string
	Now               func() time.Time
}

// Deps are the collaborators behind the routes. Recorder may be nil.
type Deps struct {
	Scorer   RiskScorer
	Denylist DenylistStore
	Runtime  RuntimeStore
	Recorder OutcomeRecorder
	Health   []HealthCheck
}

// Server wires the gin router to the risk and gate packages.
type Server struct {
	opts       Options
	deps       Deps
	router     *gin.Engine
	limiter    *Limiter
	tradeChain *gate.Chain
	adminChain *gate.Chain
	logger     zerolog.Logger
	now        func() time.Time
}

// New builds the server and its routes.
func New(opts Options, deps Deps, logger zerolog.Logger) (*Server, error) {
	if deps.Scorer == nil || deps.Denylist == nil || deps.Runtime == nil {
		return nil, errors.New("server: scorer, denylist and runtime store are required")
	}
	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = 10 * time.Second
	}
	if opts.DevTradeIntentTxn == "" {
		opts.DevTradeIntentTxn = "DEV_MODE"
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	log := logger.With().Str("component", "http").Logger()
	s := &Server{
		opts:       opts,
		deps:       deps,
		limiter:    NewLimiter(opts.RateLimit, now),
		tradeChain: gate.NewTradeChain(opts.AdminToken, deps.Runtime, deps.Scorer, logger),
		adminChain: gate.NewAdminChain(opts.AdminToken, logger),
		logger:     log,
		now:        now,
	}

	s.router = gin.New()
	if err := s.router.SetTrustedProxies(opts.TrustedProxies); err != nil {
		return nil, fmt.Errorf("set trusted proxies: %w", err)
	}
	s.router.Use(recovery(log), metrics.Middleware(), accessLog(log), bodyLimit(opts.MaxBodyBytes))
	s.registerRoutes()
	return s, nil
}

// Router exposes the engine for tests and embedding.
func (s *Server) Router() *gin.Engine { return s.router }

func (s *Server) registerRoutes() {
	s.router.GET("/health", s.healthHandler)
	s.router.GET("/metrics", metrics.Handler())

	limited := s.router.Group("/", s.limiter.Middleware(s.opts.AdminToken))

	riskGroup := limited.Group("/risk")
	riskGroup.GET("/:id", s.getRisk)
	riskGroup.POST("/batch", s.batchRisk)

	denylist := riskGroup.Group("/denylist", s.requireAdmin())
	denylist.GET("", s.listDenylist)
	denylist.POST("/add", s.addDenylist)
	denylist.POST("/remove", s.removeDenylist)

	admin := limited.Group("/admin", s.requireAdmin())
	admin.GET("/config", s.getConfig)
	admin.POST("/config", s.saveConfig)
	admin.GET("/wallets", s.listWallets)
	admin.POST("/wallets/add", s.addWallet)
	admin.POST("/wallets/remove", s.removeWallet)

	limited.POST("/snipe/intent", s.tradeGate(), s.tradeIntent)
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	httpSrv := &http.Server{
		Addr:              s.opts.Addr,
		Handler:           s.router,
		ReadTimeout:       s.opts.ReadTimeout,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      s.opts.WriteTimeout,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", s.opts.Addr).Msg("http server listening")
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	go s.pruneLimiter(ctx)

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	s.logger.Info().Msg("shutting down http server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.opts.ShutdownTimeout)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	return nil
}

func (s *Server) pruneLimiter(ctx context.Context) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.limiter.Prune()
		}
	}
}
