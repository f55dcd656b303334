package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"riskgate/internal/logging"
)

// MaxBatchSize is the hard upper bound for batch risk requests.
const MaxBatchSize = 50

// Config materialises application configuration.
type Config struct {
	App         AppConfig         `mapstructure:"app"`
	Logging     logging.Config    `mapstructure:"logging"`
	Server      ServerConfig      `mapstructure:"server"`
	Admin       AdminConfig       `mapstructure:"admin"`
	Solana      SolanaConfig      `mapstructure:"solana"`
	DexScreener DexScreenerConfig `mapstructure:"dexscreener"`
	Risk        RiskConfig        `mapstructure:"risk"`
	Runtime     RuntimeConfig     `mapstructure:"runtime"`
	Database    DatabaseConfig    `mapstructure:"database"`
	Maintenance MaintenanceConfig `mapstructure:"maintenance"`
	Alerting    AlertingConfig    `mapstructure:"alerting"`
	Export      ExportConfig      `mapstructure:"export"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// ServerConfig covers the HTTP listener.
type ServerConfig struct {
	Addr              string        `mapstructure:"addr"`
	ReadTimeout       time.Duration `mapstructure:"read_timeout"`
	WriteTimeout      time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout   time.Duration `mapstructure:"shutdown_timeout"`
	RateLimitPerMin   int           `mapstructure:"rate_limit_per_minute"`
	RateLimitBurst    int           `mapstructure:"rate_limit_burst"`
	TrustedProxies    []string      `mapstructure:"trusted_proxies"`
	MaxBodyBytes      int64         `mapstructure:"max_body_bytes"`
	DevTradeIntentTxn string        `mapstructure:"dev_trade_intent_txn"`
}

// AdminConfig holds the shared admin secret.
type AdminConfig struct {
	Token string `mapstructure:"token"`
}

// SolanaConfig covers on-chain data access.
type SolanaConfig struct {
	RPCURL         string        `mapstructure:"rpc_url"`
	Commitment     string        `mapstructure:"commitment"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	HoldersTopN    int           `mapstructure:"holders_top_n"`
}

// DexScreenerConfig captures market aggregator connectivity.
type DexScreenerConfig struct {
	BaseURL        string        `mapstructure:"base_url"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	UserAgent      string        `mapstructure:"user_agent"`
}

// RiskConfig tunes the scorer.
type RiskConfig struct {
	CacheTTL     time.Duration `mapstructure:"cache_ttl"`
	BatchLimit   int           `mapstructure:"batch_limit"`
	FetchTimeout time.Duration `mapstructure:"fetch_timeout"`
	DenylistPath string        `mapstructure:"denylist_path"`
}

// RuntimeConfig seeds the admin-mutable runtime store; the file at ConfigPath overrides these values.
type RuntimeConfig struct {
	ConfigPath         string  `mapstructure:"config_path"`
	TradingPublic      bool    `mapstructure:"trading_public"`
	AllowedWallets     string  `mapstructure:"allowed_wallets"`
	MinLiquidityUSD    float64 `mapstructure:"min_liq_usd"`
	MinTokenAgeMinutes int     `mapstructure:"min_token_age_minutes"`
	MaxTaxPercent      float64 `mapstructure:"max_tax_pct"`
	MinRiskScore       int     `mapstructure:"min_risk_score"`
}

// DatabaseConfig encapsulates PostgreSQL connectivity for the audit trail.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	AutoMigrate     bool          `mapstructure:"auto_migrate"`
}

// MaintenanceConfig governs the periodic sweep job.
type MaintenanceConfig struct {
	Interval        time.Duration `mapstructure:"interval"`
	Retention       time.Duration `mapstructure:"retention"`
	AdvisoryLockKey int64         `mapstructure:"advisory_lock_key"`
	StartupDelay    time.Duration `mapstructure:"startup_delay"`
}

// AlertingConfig defines alert routing for blocked trade intents. Channels
// restricts delivery to the named channels; empty means every enabled one.
type AlertingConfig struct {
	Enabled  bool           `mapstructure:"enabled"`
	Cooldown time.Duration  `mapstructure:"cooldown"`
	Channels []string       `mapstructure:"channels"`
	Telegram TelegramConfig `mapstructure:"telegram"`
	Discord  DiscordConfig  `mapstructure:"discord"`
}

// TelegramConfig describes Telegram alert parameters.
type TelegramConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	BotToken string `mapstructure:"bot_token"`
	ChatID   string `mapstructure:"chat_id"`
	APIBase  string `mapstructure:"api_base"`
	Silent   bool   `mapstructure:"silent"`
}

// DiscordConfig describes the Discord webhook channel.
type DiscordConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	WebhookURL string `mapstructure:"webhook_url"`
	Username   string `mapstructure:"username"`
}

// ExportConfig sets CLI export behaviour.
type ExportConfig struct {
	MaxDataPoints int `mapstructure:"max_data_points"`
}

// legacyEnv maps config keys onto the environment names the dashboard backend used.
var legacyEnv = map[string][]string{
	"admin.token":                   {"ADMIN_TOKEN"},
	"solana.rpc_url":                {"QUICKNODE_RPC", "RPC_HTTP"},
	"dexscreener.base_url":          {"DEXSCREENER_API"},
	"runtime.trading_public":        {"TRADING_PUBLIC"},
	"runtime.allowed_wallets":       {"ALLOWED_WALLETS"},
	"runtime.min_liq_usd":           {"MIN_LIQ_USD"},
	"runtime.min_token_age_minutes": {"MIN_TOKEN_AGE_MINUTES"},
	"runtime.max_tax_pct":           {"MAX_TAX_PCT"},
	"runtime.min_risk_score":        {"MIN_RISK_SCORE"},
	"database.dsn":                  {"DATABASE_URL"},
	"alerting.telegram.bot_token":   {"TELEGRAM_BOT_TOKEN"},
	"alerting.telegram.chat_id":     {"TELEGRAM_CHAT_ID"},
	"alerting.discord.webhook_url":  {"DISCORD_WEBHOOK_URL"},
}

// Load builds configuration from file, environment, and defaults.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetEnvPrefix("RISKGATE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)
	if err := bindLegacyEnv(v); err != nil {
		return nil, err
	}

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := readConfig(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, decodeHook()); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	applyLegacyCacheTTL(v, &cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// applyLegacyCacheTTL honours XME_RISK_TTL_MS (milliseconds) unless the TTL was set explicitly.
func applyLegacyCacheTTL(v *viper.Viper, cfg *Config) {
	raw := strings.TrimSpace(os.Getenv("XME_RISK_TTL_MS"))
	if raw == "" || v.InConfig("risk.cache_ttl") || os.Getenv("RISKGATE_RISK_CACHE_TTL") != "" {
		return
	}
	ms, err := strconv.Atoi(raw)
	if err != nil || ms <= 0 {
		return
	}
	cfg.Risk.CacheTTL = time.Duration(ms) * time.Millisecond
}

func readConfig(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

// bindLegacyEnv keeps RISKGATE_* first so the prefixed name always wins.
func bindLegacyEnv(v *viper.Viper) error {
	for key, names := range legacyEnv {
		prefixed := "RISKGATE_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		args := append([]string{key, prefixed}, names...)
		if err := v.BindEnv(args...); err != nil {
			return fmt.Errorf("bind env %s: %w", key, err)
		}
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "riskgate")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("server.addr", ":3001")
	v.SetDefault("server.read_timeout", "10s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.shutdown_timeout", "10s")
	v.SetDefault("server.rate_limit_per_minute", 120)
	v.SetDefault("server.rate_limit_burst", 20)
	v.SetDefault("server.trusted_proxies", []string{"127.0.0.1"})
	v.SetDefault("server.max_body_bytes", int64(1<<20))
	v.SetDefault("server.dev_trade_intent_txn", "DEV_MODE")

	v.SetDefault("solana.rpc_url", "https://api.mainnet-beta.solana.com")
	v.SetDefault("solana.commitment", "confirmed")
	v.SetDefault("solana.request_timeout", "10s")
	v.SetDefault("solana.holders_top_n", 20)

	v.SetDefault("dexscreener.base_url", "https://api.dexscreener.com")
	v.SetDefault("dexscreener.request_timeout", "10s")

	v.SetDefault("risk.cache_ttl", "20s")
	v.SetDefault("risk.batch_limit", MaxBatchSize)
	v.SetDefault("risk.fetch_timeout", "15s")
	v.SetDefault("risk.denylist_path", "data/denylist.json")

	v.SetDefault("runtime.config_path", "data/runtime-config.json")
	v.SetDefault("runtime.trading_public", false)
	v.SetDefault("runtime.allowed_wallets", "")
	v.SetDefault("runtime.min_liq_usd", 0.0)
	v.SetDefault("runtime.min_token_age_minutes", 0)
	v.SetDefault("runtime.max_tax_pct", 100.0)
	v.SetDefault("runtime.min_risk_score", 40)

	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 2)
	v.SetDefault("database.conn_max_lifetime", "30m")
	v.SetDefault("database.auto_migrate", false)

	v.SetDefault("maintenance.interval", "1m")
	v.SetDefault("maintenance.retention", "720h")
	v.SetDefault("maintenance.advisory_lock_key", int64(0x7269736b))
	v.SetDefault("maintenance.startup_delay", "0s")

	v.SetDefault("alerting.enabled", false)
	v.SetDefault("alerting.cooldown", "10m")
	v.SetDefault("alerting.channels", []string{})
	v.SetDefault("alerting.telegram.enabled", false)
	v.SetDefault("alerting.telegram.api_base", "https://api.telegram.org")
	v.SetDefault("alerting.telegram.silent", false)
	v.SetDefault("alerting.discord.enabled", false)
	v.SetDefault("alerting.discord.username", "riskgate")

	v.SetDefault("export.max_data_points", 10000)
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}

// Validate performs basic sanity checks on the configuration values.
func (c *Config) Validate() error {
	if c.Risk.CacheTTL <= 0 {
		return fmt.Errorf("risk.cache_ttl must be greater than zero")
	}
	if c.Risk.BatchLimit <= 0 || c.Risk.BatchLimit > MaxBatchSize {
		return fmt.Errorf("risk.batch_limit must be between 1 and %d", MaxBatchSize)
	}
	if c.Risk.FetchTimeout <= 0 {
		return fmt.Errorf("risk.fetch_timeout must be greater than zero")
	}
	if c.Risk.DenylistPath == "" {
		return fmt.Errorf("risk.denylist_path must be set")
	}
	if c.Runtime.ConfigPath == "" {
		return fmt.Errorf("runtime.config_path must be set")
	}
	if c.Runtime.MinRiskScore < 0 || c.Runtime.MinRiskScore > 100 {
		return fmt.Errorf("runtime.min_risk_score must be within 0..100")
	}
	if c.Solana.HoldersTopN <= 0 {
		return fmt.Errorf("solana.holders_top_n must be greater than zero")
	}
	if c.Maintenance.Interval <= 0 {
		return fmt.Errorf("maintenance.interval must be greater than zero")
	}
	if c.Export.MaxDataPoints <= 0 {
		return fmt.Errorf("export.max_data_points must be greater than zero")
	}
	if c.Alerting.Telegram.Enabled {
		if c.Alerting.Telegram.BotToken == "" {
			return fmt.Errorf("alerting.telegram.bot_token must be set")
		}
		if c.Alerting.Telegram.ChatID == "" {
			return fmt.Errorf("alerting.telegram.chat_id must be set")
		}
	}
	if c.Alerting.Discord.Enabled && c.Alerting.Discord.WebhookURL == "" {
		return fmt.Errorf("alerting.discord.webhook_url must be set")
	}
	for _, name := range c.Alerting.Channels {
		switch name {
		case "telegram", "discord":
		default:
			return fmt.Errorf("alerting.channels: unknown channel %q", name)
		}
	}
	return nil
}

// ResolveMaxPoints returns either the CLI override or config default.
func (c *Config) ResolveMaxPoints(override int) int {
	if override > 0 {
		return override
	}
	return c.Export.MaxDataPoints
}

// ResolveBatchLimit clamps a requested batch size to the configured limit.
func (c *Config) ResolveBatchLimit() int {
	if c.Risk.BatchLimit <= 0 || c.Risk.BatchLimit > MaxBatchSize {
		return MaxBatchSize
	}
	return c.Risk.BatchLimit
}
