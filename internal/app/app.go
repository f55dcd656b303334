package app

import (
	"context"
	"errors"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"riskgate/internal/alerting"
	"riskgate/internal/config"
	"riskgate/internal/denylist"
	"riskgate/internal/fetcher"
	"riskgate/internal/logging"
	"riskgate/internal/risk"
	"riskgate/internal/runtimecfg"
	"riskgate/internal/scheduler"
	"riskgate/internal/server"
	"riskgate/internal/service"
	"riskgate/internal/storage"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{Config: cfg, Logger: logging.Component(logger, "app")}
}

func (a *App) newFetchers() (*fetcher.Chain, *fetcher.Market) {
	chain := fetcher.NewChain(fetcher.ChainOptions{
		RPCURL:      a.Config.Solana.RPCURL,
		Commitment:  a.Config.Solana.Commitment,
		Timeout:     a.Config.Solana.RequestTimeout,
		HoldersTopN: a.Config.Solana.HoldersTopN,
	}, a.Logger)

	market := fetcher.NewMarket(fetcher.MarketOptions{
		BaseURL:   a.Config.DexScreener.BaseURL,
		Timeout:   a.Config.DexScreener.RequestTimeout,
		UserAgent: a.Config.DexScreener.UserAgent,
	}, a.Logger)

	return chain, market
}

func (a *App) newDenylist() *denylist.Store {
	return denylist.New(a.Config.Risk.DenylistPath, a.Logger)
}

func (a *App) newRuntimeStore() *runtimecfg.Store {
	defaults := runtimecfg.DefaultsFromConfig(a.Config.Runtime)
	store := runtimecfg.NewStore(a.Config.Runtime.ConfigPath, defaults, a.Logger)
	store.Load()
	return store
}

func (a *App) newScorer(deny *denylist.Store, rt *runtimecfg.Store) *risk.Scorer {
	chain, market := a.newFetchers()
	return risk.NewScorer(risk.Options{
		TTL:          a.Config.Risk.CacheTTL,
		FetchTimeout: a.Config.Risk.FetchTimeout,
		BatchLimit:   a.Config.ResolveBatchLimit(),
	}, risk.Deps{
		Mint:       chain,
		Holders:    chain,
		Market:     market,
		Denylist:   deny,
		Thresholds: thresholdsFrom(rt),
	}, a.Logger)
}

// thresholdsFrom reads scoring minimums from the live runtime config on every computation.
func thresholdsFrom(rt *runtimecfg.Store) risk.ThresholdSource {
	return risk.ThresholdsFunc(func() risk.Thresholds {
		cfg := rt.Get()
		return risk.Thresholds{
			MinLiquidityUSD:    cfg.MinLiquidityUSD,
			MinTokenAgeMinutes: cfg.MinTokenAgeMinutes,
		}
	})
}

func (a *App) newNotifier() alerting.Notifier {
	cfg := a.Config.Alerting
	var channels []alerting.Channel
	if cfg.Telegram.Enabled {
		channels = append(channels, alerting.Channel{
			Name: "telegram",
			Notifier: alerting.NewTelegramNotifier(alerting.TelegramOptions{
				BotToken: cfg.Telegram.BotToken,
				ChatID:   cfg.Telegram.ChatID,
				APIBase:  cfg.Telegram.APIBase,
				Timeout:  10 * time.Second,
				Silent:   cfg.Telegram.Silent,
			}, a.Logger),
		})
	}
	if cfg.Discord.Enabled {
		channels = append(channels, alerting.Channel{
			Name:     "discord",
			Notifier: alerting.NewDiscordNotifier(cfg.Discord.WebhookURL, cfg.Discord.Username, 10*time.Second, a.Logger),
		})
	}
	if len(channels) == 0 {
		return nil
	}
	fanout := alerting.NewFanout(a.Logger, channels...)
	return alerting.NewThrottled(fanout, cfg.Cooldown, nil, a.Logger)
}

func (a *App) openStore(ctx context.Context) (*storage.Store, func(), error) {
	if a.Config.Database.DSN == "" {
		return nil, nil, nil
	}

	store, err := storage.Open(ctx, a.Config.Database)
	if err != nil {
		return nil, nil, err
	}
	return store, store.Close, nil
}

func (a *App) newService(store *storage.Store, sched *scheduler.Scheduler, cache service.CacheSweeper) *service.Service {
	deps := service.Deps{
		Scheduler: sched,
		Cache:     cache,
		Notifier:  a.newNotifier(),
	}
	if store != nil {
		deps.Assessments = store
		deps.Decisions = store
	}
	return service.New(service.Options{
		Retention: a.Config.Maintenance.Retention,
		LockKey:   a.Config.Maintenance.AdvisoryLockKey,
		AlertsOn:  a.Config.Alerting.Enabled,
		Channels:  a.Config.Alerting.Channels,
	}, deps, a.Logger)
}

// Serve runs the HTTP API and the maintenance loop until interrupted.
func (a *App) Serve(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		a.Logger.Warn().Msg("database.dsn not configured; audit trail disabled")
	}
	if closeStore != nil {
		defer closeStore()
	}

	deny := a.newDenylist()
	rt := a.newRuntimeStore()
	scorer := a.newScorer(deny, rt)

	sched := scheduler.New(scheduler.Options{
		Name:         "maintenance",
		Interval:     a.Config.Maintenance.Interval,
		StartupDelay: a.Config.Maintenance.StartupDelay,
	}, a.Logger)
	svc := a.newService(store, sched, scorer)

	srv, err := server.New(server.Options{
		Addr:            a.Config.Server.Addr,
		ReadTimeout:     a.Config.Server.ReadTimeout,
		WriteTimeout:    a.Config.Server.WriteTimeout,
		ShutdownTimeout: a.Config.Server.ShutdownTimeout,
		TrustedProxies:  a.Config.Server.TrustedProxies,
		MaxBodyBytes:    a.Config.Server.MaxBodyBytes,
		RateLimit: server.RateLimitConfig{
			RequestsPerMinute: a.Config.Server.RateLimitPerMin,
			BurstSize:         a.Config.Server.RateLimitBurst,
		},
		AdminToken:        a.Config.Admin.Token,
		DevTradeIntentTxn: a.Config.Server.DevTradeIntentTxn,
	}, server.Deps{
		Scorer:   scorer,
		Denylist: deny,
		Runtime:  rt,
		Recorder: svc,
		Health:   a.healthChecks(store, deny),
	}, a.Logger)
	if err != nil {
		return err
	}

	if a.Config.Admin.Token == "" {
		a.Logger.Warn().Msg("admin.token not configured; admin endpoints will answer 500")
	}
	a.Logger.Info().
		Str("addr", a.Config.Server.Addr).
		Dur("cache_ttl", a.Config.Risk.CacheTTL).
		Str("denylist", deny.Path()).
		Str("runtime_config", rt.Path()).
		Bool("trading_public", rt.Get().TradingPublic).
		Msg("starting riskgate")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return srv.Run(gctx) })
	g.Go(func() error {
		if err := svc.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})

	err = g.Wait()
	if n := svc.Flush(); n > 0 {
		a.Logger.Info().Int("outcomes", n).Msg("flushed queued gate outcomes")
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("riskgate terminated with error")
		return err
	}
	a.Logger.Info().Msg("riskgate stopped")
	return nil
}

func (a *App) healthChecks(store *storage.Store, deny *denylist.Store) []server.HealthCheck {
	checks := []server.HealthCheck{
		{Name: "denylist", Check: func(context.Context) error {
			_, err := deny.List()
			return err
		}},
	}
	if store != nil {
		checks = append(checks, server.HealthCheck{Name: "database", Check: store.Ping})
	}
	return checks
}

// ExportOptions hold parameters for exporting a mint's score history.
type ExportOptions struct {
	Mint      string
	From      *time.Time
	To        *time.Time
	PNGPath   string
	CSVPath   string
	MaxPoints int
}

// ShowOptions configure the show command.
type ShowOptions struct {
	Limit     int
	Decisions bool
}

// ScoreOptions configure one-off scoring from the CLI.
type ScoreOptions struct {
	Mints  []string
	JSON   bool
	DryRun bool
}

func formatDecimal(d decimal.Decimal, places int32) string {
	return d.StringFixed(places)
}
