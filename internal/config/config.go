package config

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"token-indexer/internal/instrument"
	"token-indexer/internal/logging"
	"token-indexer/internal/version"
)

// Config materialises application configuration.
type Config struct {
	App         AppConfig                `mapstructure:"app"`
	Logging     logging.Config           `mapstructure:"logging"`
	Database    DatabaseConfig           `mapstructure:"database"`
	Instruments []instrument.Instrument  `mapstructure:"instruments"`
	Price       PriceConfig              `mapstructure:"price"`
	Ledger      LedgerConfig             `mapstructure:"ledger"`
	Scheduler   SchedulerConfig          `mapstructure:"scheduler"`
	Cadences    map[string]CadenceConfig `mapstructure:"cadences"`
	Rollups     map[string]RollupConfig  `mapstructure:"rollups"`
	API         APIConfig                `mapstructure:"api"`
	Alerting    AlertingConfig           `mapstructure:"alerting"`
	Export      ExportConfig             `mapstructure:"export"`
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

// PriceConfig covers the spot price quoting service.
type PriceConfig struct {
	BaseURL        string        `mapstructure:"base_url"`
	Source         string        `mapstructure:"source"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	UserAgent      string        `mapstructure:"user_agent"`
}

// LedgerConfig covers the supply query RPC endpoint.
type LedgerConfig struct {
	RPCURL         string        `mapstructure:"rpc_url"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// SchedulerConfig governs trigger alignment.
type SchedulerConfig struct {
	AlignToBucket   bool          `mapstructure:"align_to_bucket"`
	StartupDelay    time.Duration `mapstructure:"startup_delay"`
	AdvisoryLockKey int64         `mapstructure:"advisory_lock_key"`
}

// CadenceConfig maps one trigger cadence to its ordered job list.
type CadenceConfig struct {
	Interval time.Duration `mapstructure:"interval"`
	Cron     string        `mapstructure:"cron"`
	Jobs     []string      `mapstructure:"jobs"`
}

// RollupConfig declares one (window, destination) pair.
type RollupConfig struct {
	Source      string        `mapstructure:"source"`
	Destination string        `mapstructure:"destination"`
	Window      time.Duration `mapstructure:"window"`
	DependsOn   []string      `mapstructure:"depends_on"`
}

// APIConfig configures the read API listener.
type APIConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	ListenAddr   string        `mapstructure:"listen_addr"`
	LegacyErrors bool          `mapstructure:"legacy_errors"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	Metrics      bool          `mapstructure:"metrics"`
}

// AlertingConfig routes failed invocation reports.
type AlertingConfig struct {
	Enabled  bool           `mapstructure:"enabled"`
	Telegram TelegramConfig `mapstructure:"telegram"`
}

// TelegramConfig describes Telegram bot parameters.
type TelegramConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	BotToken string        `mapstructure:"bot_token"`
	ChatID   string        `mapstructure:"chat_id"`
	APIBase  string        `mapstructure:"api_base"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// ExportConfig sets CLI export behaviour.
type ExportConfig struct {
	MaxDataPoints int `mapstructure:"max_data_points"`
}

// Load builds configuration from file, environment, and defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("INDEXER")
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

	// Map defaults would be merged key by key under the file, so they apply
	// only when the key is absent and a configured map replaces them whole.
	if !v.IsSet("cadences") {
		cfg.Cadences = defaultCadences()
	}
	if !v.IsSet("rollups") {
		cfg.Rollups = defaultRollups()
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
	v.SetDefault("app.name", "token-indexer")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 2)
	v.SetDefault("database.conn_max_lifetime", "30m")
	v.SetDefault("database.auto_migrate", false)

	v.SetDefault("instruments", []map[string]any{
		{"name": "ANTI", "address": "HB8KrN7Bb3iLWUPsozp67kS4gxtbA4W5QJX4wKPvpump"},
		{"name": "PRO", "address": "CWFa2nxUMf5d1WwKtG9FS9kjUKGwKXWSjH8hFdWspump"},
	})

	v.SetDefault("price.base_url", "https://api-v3.raydium.io")
	v.SetDefault("price.source", "raydium")
	v.SetDefault("price.request_timeout", "10s")
	v.SetDefault("price.user_agent", version.UserAgent())

	v.SetDefault("ledger.rpc_url", "https://api.mainnet-beta.solana.com")
	v.SetDefault("ledger.request_timeout", "10s")

	v.SetDefault("scheduler.align_to_bucket", true)
	v.SetDefault("scheduler.startup_delay", "0s")
	v.SetDefault("scheduler.advisory_lock_key", int64(0))

	v.SetDefault("api.enabled", true)
	v.SetDefault("api.listen_addr", ":8080")
	v.SetDefault("api.legacy_errors", false)
	v.SetDefault("api.read_timeout", "10s")
	v.SetDefault("api.metrics", true)

	v.SetDefault("alerting.enabled", false)
	v.SetDefault("alerting.telegram.enabled", false)
	v.SetDefault("alerting.telegram.api_base", "https://api.telegram.org")
	v.SetDefault("alerting.telegram.timeout", "10s")

	v.SetDefault("export.max_data_points", 100000)
}

func defaultCadences() map[string]CadenceConfig {
	return map[string]CadenceConfig{
		"minute": {Interval: time.Minute, Cron: "* * * * *", Jobs: []string{"ingest_prices"}},
		"hourly": {Interval: time.Hour, Cron: "0 * * * *", Jobs: []string{"ingest_market_cap", "rollup_hourly_price"}},
		"daily":  {Interval: 24 * time.Hour, Cron: "0 0 * * *", Jobs: []string{"rollup_daily_price", "rollup_daily_market_cap"}},
	}
}

func defaultRollups() map[string]RollupConfig {
	return map[string]RollupConfig{
		"hourly_price":     {Source: "prices", Destination: "hourly_prices", Window: time.Hour},
		"daily_price":      {Source: "prices", Destination: "daily_prices", Window: 24 * time.Hour},
		"daily_market_cap": {Source: "market_caps", Destination: "daily_market_caps", Window: 24 * time.Hour, DependsOn: []string{"ingest_market_cap"}},
	}
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
	if _, err := instrument.NewSet(c.Instruments); err != nil {
		return fmt.Errorf("instruments: %w", err)
	}
	if c.Price.BaseURL == "" {
		return fmt.Errorf("price.base_url is required")
	}
	if c.Price.Source == "" {
		return fmt.Errorf("price.source is required")
	}
	if c.Ledger.RPCURL == "" {
		return fmt.Errorf("ledger.rpc_url is required")
	}
	if len(c.Cadences) == 0 {
		return fmt.Errorf("at least one cadence must be configured")
	}
	for name, cad := range c.Cadences {
		if cad.Interval <= 0 {
			return fmt.Errorf("cadences.%s.interval must be greater than zero", name)
		}
		if len(cad.Jobs) == 0 {
			return fmt.Errorf("cadences.%s.jobs must not be empty", name)
		}
	}
	for name, r := range c.Rollups {
		if r.Window <= 0 {
			return fmt.Errorf("rollups.%s.window must be greater than zero", name)
		}
		if r.Source == "" || r.Destination == "" {
			return fmt.Errorf("rollups.%s needs source and destination", name)
		}
	}
	if c.Export.MaxDataPoints <= 0 {
		return fmt.Errorf("export.max_data_points must be greater than zero")
	}
	if c.Alerting.Telegram.Enabled {
		if c.Alerting.Telegram.BotToken == "" {
			return fmt.Errorf("alerting.telegram.bot_token is required")
		}
		if c.Alerting.Telegram.ChatID == "" {
			return fmt.Errorf("alerting.telegram.chat_id is required")
		}
	}
	return nil
}

// InstrumentSet builds the validated instrument set.
func (c *Config) InstrumentSet() (*instrument.Set, error) {
	return instrument.NewSet(c.Instruments)
}

// CadenceNames returns configured cadences sorted by interval, shortest first.
func (c *Config) CadenceNames() []string {
	names := make([]string, 0, len(c.Cadences))
	for name := range c.Cadences {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		a, b := c.Cadences[names[i]], c.Cadences[names[j]]
		if a.Interval == b.Interval {
			return names[i] < names[j]
		}
		return a.Interval < b.Interval
	})
	return names
}

// ResolveMaxPoints returns either the CLI override or config default.
func (c *Config) ResolveMaxPoints(override int) int {
	if override > 0 {
		return override
	}
	return c.Export.MaxDataPoints
}
