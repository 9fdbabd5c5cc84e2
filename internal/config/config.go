package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"offerwatch/internal/logging"
	"offerwatch/internal/model"
)

// Config materialises application configuration.
type Config struct {
	App           AppConfig           `mapstructure:"app"`
	Logging       logging.Config      `mapstructure:"logging"`
	Database      DatabaseConfig      `mapstructure:"database"`
	Redis         RedisConfig         `mapstructure:"redis"`
	Scheduler     SchedulerConfig     `mapstructure:"scheduler"`
	Sources       SourcesConfig       `mapstructure:"sources"`
	Markets       []MarketConfig      `mapstructure:"markets"`
	Evaluation    EvaluationConfig    `mapstructure:"evaluation"`
	Reports       ReportsConfig       `mapstructure:"reports"`
	Ledger        LedgerConfig        `mapstructure:"ledger"`
	Notifications NotificationsConfig `mapstructure:"notifications"`
	Metrics       MetricsConfig       `mapstructure:"metrics"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// DatabaseConfig encapsulates PostgreSQL connectivity.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	AutoMigrate     bool          `mapstructure:"auto_migrate"`
}

// RedisConfig locates the redis ledger backend.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// SchedulerConfig governs the watch cadence.
type SchedulerConfig struct {
	Interval        time.Duration `mapstructure:"interval"`
	AlignToBucket   bool          `mapstructure:"align_to_bucket"`
	AdvisoryLockKey int64         `mapstructure:"advisory_lock_key"`
	StartupDelay    time.Duration `mapstructure:"startup_delay"`
	RunOnStart      bool          `mapstructure:"run_on_start"`
}

// HTTPSourceConfig is shared by the HTTP data sources.
type HTTPSourceConfig struct {
	BaseURL        string        `mapstructure:"base_url"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	UserAgent      string        `mapstructure:"user_agent"`
}

// SourcesConfig lists the upstream data sources.
type SourcesConfig struct {
	Bisq           HTTPSourceConfig     `mapstructure:"bisq"`
	FeeRate        FeeRateConfig        `mapstructure:"fee_rate"`
	BitcoinAverage BitcoinAverageConfig `mapstructure:"bitcoinaverage"`
	Chainlink      ChainlinkConfig      `mapstructure:"chainlink"`
	// QuoteOrder lists quote sources by name, first wins.
	QuoteOrder []string `mapstructure:"quote_order"`
}

// FeeRateConfig points at a mempool.space compatible API.
type FeeRateConfig struct {
	Enabled          bool   `mapstructure:"enabled"`
	Target           string `mapstructure:"target"`
	HTTPSourceConfig `mapstructure:",squash"`
}

// BitcoinAverageConfig carries the signed-request credentials.
type BitcoinAverageConfig struct {
	Enabled          bool   `mapstructure:"enabled"`
	PublicKey        string `mapstructure:"public_key"`
	SecretKey        string `mapstructure:"secret_key"`
	HTTPSourceConfig `mapstructure:",squash"`
}

// ChainlinkConfig covers on-chain price feeds.
type ChainlinkConfig struct {
	Enabled        bool              `mapstructure:"enabled"`
	RPCURL         string            `mapstructure:"rpc_url"`
	Feeds          map[string]string `mapstructure:"feeds"`
	RequestTimeout time.Duration     `mapstructure:"request_timeout"`
}

// MarketConfig names one watched market.
type MarketConfig struct {
	ID    string `mapstructure:"id"`
	Title string `mapstructure:"title"`
}

// EvaluationConfig holds the offer filters.
type EvaluationConfig struct {
	IgnoredPaymentMethods []string           `mapstructure:"ignored_payment_methods"`
	MinSaleValues         map[string]float64 `mapstructure:"min_sale_values"`
}

// ReportsConfig controls the per-threshold artifacts.
type ReportsConfig struct {
	PathTemplate string `mapstructure:"path_template"`
	MinThreshold int    `mapstructure:"min_threshold"`
	MaxThreshold int    `mapstructure:"max_threshold"`
	Footer       string `mapstructure:"footer"`
	// ChartDir enables one depth chart per market per run when set.
	ChartDir       string  `mapstructure:"chart_dir"`
	ChartThreshold float64 `mapstructure:"chart_threshold"`
}

// LedgerConfig selects where sent notifications are remembered.
type LedgerConfig struct {
	Backend  string `mapstructure:"backend"`
	Path     string `mapstructure:"path"`
	RedisKey string `mapstructure:"redis_key"`
}

// NotificationsConfig defines criteria and channel transports.
type NotificationsConfig struct {
	Criteria []CriterionConfig `mapstructure:"criteria"`
	Email    EmailConfig       `mapstructure:"email"`
	Telegram TelegramConfig    `mapstructure:"telegram"`
}

// CriterionConfig is one subscriber rule.
type CriterionConfig struct {
	Name           string   `mapstructure:"name"`
	Sides          []string `mapstructure:"sides"`
	PaymentMethods []string `mapstructure:"payment_methods"`
	MaxDistance    float64  `mapstructure:"max_distance"`
	Channel        string   `mapstructure:"channel"`
	Address        string   `mapstructure:"address"`
}

// EmailConfig 描述 SMTP 发信参数。
type EmailConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	Host           string        `mapstructure:"host"`
	Port           int           `mapstructure:"port"`
	Username       string        `mapstructure:"username"`
	Password       string        `mapstructure:"password"`
	From           string        `mapstructure:"from"`
	RequireTLS     bool          `mapstructure:"require_tls"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// TelegramConfig 描述 Telegram 频道推送参数。
type TelegramConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	BotToken       string        `mapstructure:"bot_token"`
	ChatID         string        `mapstructure:"chat_id"`
	APIBase        string        `mapstructure:"api_base"`
	Silent         bool          `mapstructure:"silent"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// MetricsConfig enables the prometheus outputs.
type MetricsConfig struct {
	Addr     string `mapstructure:"addr"`
	Textfile string `mapstructure:"textfile"`
}

const (
	LedgerBackendFile     = "file"
	LedgerBackendPostgres = "postgres"
	LedgerBackendRedis    = "redis"

	ChannelEmail    = "email"
	ChannelTelegram = "telegram"
)

// SideBoth in a criterion matches sell and buy offers alike.
const SideBoth model.Side = "both"

// Load builds configuration from file, environment, and defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("OFFERWATCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

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

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
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

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "offerwatch")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stderr")

	v.SetDefault("scheduler.interval", "10m")
	v.SetDefault("scheduler.align_to_bucket", true)
	v.SetDefault("scheduler.advisory_lock_key", int64(0x6f666672))
	v.SetDefault("scheduler.startup_delay", "0s")
	v.SetDefault("scheduler.run_on_start", true)

	v.SetDefault("sources.bisq.base_url", "https://markets.bisq.network/api")
	v.SetDefault("sources.bisq.request_timeout", "15s")
	v.SetDefault("sources.bisq.user_agent", "offerwatch/1.0")
	v.SetDefault("sources.fee_rate.enabled", true)
	v.SetDefault("sources.fee_rate.base_url", "https://mempool.space")
	v.SetDefault("sources.fee_rate.target", "half_hour")
	v.SetDefault("sources.fee_rate.request_timeout", "10s")
	v.SetDefault("sources.fee_rate.user_agent", "offerwatch/1.0")
	v.SetDefault("sources.bitcoinaverage.enabled", true)
	v.SetDefault("sources.bitcoinaverage.base_url", "https://apiv2.bitcoinaverage.com")
	v.SetDefault("sources.bitcoinaverage.request_timeout", "10s")
	v.SetDefault("sources.bitcoinaverage.user_agent", "offerwatch/1.0")
	v.SetDefault("sources.chainlink.enabled", false)
	v.SetDefault("sources.chainlink.request_timeout", "10s")
	v.SetDefault("sources.quote_order", []string{"chainlink", "bitcoinaverage"})

	v.SetDefault("markets", []map[string]any{
		{"id": "btc_usd", "title": "Bitcoin Offers with USD"},
		{"id": "btc_eur", "title": "Bitcoin Offers with EUR"},
		{"id": "btc_chf", "title": "Bitcoin Offers with CHF"},
		{"id": "btc_gbp", "title": "Bitcoin Offers with GBP"},
		{"id": "ltc_btc", "title": "Litecoin Offers with BTC"},
		{"id": "eth_btc", "title": "Ethereum Offers with BTC"},
	})

	v.SetDefault("reports.path_template", "reports/bisq_offers_%d.txt")
	v.SetDefault("reports.min_threshold", 1)
	v.SetDefault("reports.max_threshold", 100)
	v.SetDefault("reports.footer", "Data: markets.bisq.network")
	v.SetDefault("reports.chart_threshold", 5.0)

	v.SetDefault("ledger.backend", LedgerBackendFile)
	v.SetDefault("ledger.path", "sent_notifications.json")
	v.SetDefault("ledger.redis_key", "offerwatch:sent")

	v.SetDefault("notifications.email.port", 587)
	v.SetDefault("notifications.email.require_tls", true)
	v.SetDefault("notifications.email.request_timeout", "15s")
	v.SetDefault("notifications.telegram.api_base", "https://api.telegram.org")
	v.SetDefault("notifications.telegram.request_timeout", "10s")

	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 2)
	v.SetDefault("database.conn_max_lifetime", "30m")
	v.SetDefault("database.auto_migrate", true)

	v.SetDefault("redis.addr", "127.0.0.1:6379")
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
	if c.Scheduler.Interval <= 0 {
		return fmt.Errorf("scheduler.interval must be greater than zero")
	}
	if len(c.Markets) == 0 {
		return fmt.Errorf("at least one market must be configured")
	}
	for i, m := range c.Markets {
		if _, _, ok := model.ParseMarketID(m.ID); !ok {
			return fmt.Errorf("markets[%d].id %q must look like base_quote", i, m.ID)
		}
	}
	if err := c.Reports.validate(); err != nil {
		return err
	}
	for currency, value := range c.Evaluation.MinSaleValues {
		if value < 0 {
			return fmt.Errorf("evaluation.min_sale_values.%s cannot be negative", currency)
		}
	}

	switch c.Ledger.Backend {
	case LedgerBackendFile:
		if c.Ledger.Path == "" {
			return fmt.Errorf("ledger.path is required for the file backend")
		}
	case LedgerBackendPostgres:
		if c.Database.DSN == "" {
			return fmt.Errorf("database.dsn is required for the postgres ledger")
		}
	case LedgerBackendRedis:
		if c.Redis.Addr == "" || c.Ledger.RedisKey == "" {
			return fmt.Errorf("redis.addr and ledger.redis_key are required for the redis ledger")
		}
	default:
		return fmt.Errorf("ledger.backend %q is not one of file, postgres, redis", c.Ledger.Backend)
	}

	if c.Notifications.Email.Enabled {
		if c.Notifications.Email.Host == "" || c.Notifications.Email.From == "" {
			return fmt.Errorf("notifications.email.host 与 from 必须配置")
		}
	}
	if c.Notifications.Telegram.Enabled && c.Notifications.Telegram.BotToken == "" {
		return fmt.Errorf("notifications.telegram.bot_token 必须配置")
	}
	for i, crit := range c.Notifications.Criteria {
		if err := c.validateCriterion(crit); err != nil {
			return fmt.Errorf("notifications.criteria[%d]: %w", i, err)
		}
	}

	if c.Sources.BitcoinAverage.Enabled && c.Sources.BitcoinAverage.BaseURL == "" {
		return fmt.Errorf("sources.bitcoinaverage.base_url must be set")
	}
	if c.Sources.Chainlink.Enabled && c.Sources.Chainlink.RPCURL == "" {
		return fmt.Errorf("sources.chainlink.rpc_url must be set")
	}
	return nil
}

func (r ReportsConfig) validate() error {
	if r.MinThreshold < 1 || r.MaxThreshold < r.MinThreshold {
		return fmt.Errorf("reports thresholds must satisfy 1 <= min_threshold <= max_threshold")
	}
	if strings.Count(r.PathTemplate, "%") != 1 {
		return fmt.Errorf("reports.path_template must contain exactly one integer verb such as %%d")
	}
	if probe := fmt.Sprintf(r.PathTemplate, r.MinThreshold); strings.Contains(probe, "%!") {
		return fmt.Errorf("reports.path_template %q does not format an integer", r.PathTemplate)
	}
	if r.ChartDir != "" && r.ChartThreshold <= 0 {
		return fmt.Errorf("reports.chart_threshold must be greater than zero")
	}
	return nil
}

func (c *Config) validateCriterion(crit CriterionConfig) error {
	for _, side := range crit.Sides {
		switch model.Side(strings.ToLower(side)) {
		case model.SideSell, model.SideBuy, SideBoth:
		default:
			return fmt.Errorf("side %q is not sell, buy or both", side)
		}
	}
	switch crit.Channel {
	case ChannelEmail:
		if !c.Notifications.Email.Enabled {
			return fmt.Errorf("channel email is not enabled")
		}
		if crit.Address == "" {
			return fmt.Errorf("email criteria need an address")
		}
	case ChannelTelegram:
		if !c.Notifications.Telegram.Enabled {
			return fmt.Errorf("channel telegram is not enabled")
		}
		if crit.Address == "" && c.Notifications.Telegram.ChatID == "" {
			return fmt.Errorf("telegram criteria need an address or notifications.telegram.chat_id")
		}
	default:
		return fmt.Errorf("unknown channel %q", crit.Channel)
	}
	return nil
}

// MarketTitle returns the configured title or a generated one.
func (m MarketConfig) MarketTitle() string {
	if m.Title != "" {
		return m.Title
	}
	return strings.ToUpper(m.ID)
}
