package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	App    AppConfig    `mapstructure:"app"`
	Server ServerConfig `mapstructure:"server"`
	Log    LogConfig    `mapstructure:"log"`
	DB     DBConfig     `mapstructure:"db"`
	Cron   CronConfig   `mapstructure:"cron"`

	Broker     BrokerConfig     `mapstructure:"broker"`
	PriceCache PriceCacheConfig `mapstructure:"price_cache"`
	Allocator  AllocatorConfig  `mapstructure:"allocator"`
	Lifecycle  LifecycleConfig  `mapstructure:"lifecycle"`
}

type AppConfig struct {
	Env string `mapstructure:"env"`
}

type ServerConfig struct {
	HTTPAddr string `mapstructure:"http_addr"`
}

type LogConfig struct {
	Level             string `mapstructure:"level"`
	Encoding          string `mapstructure:"encoding"`
	Development       bool   `mapstructure:"development"`
	Sampling          bool   `mapstructure:"sampling"`
	DisableCaller     bool   `mapstructure:"disable_caller"`
	DisableStacktrace bool   `mapstructure:"disable_stacktrace"`
}

type DBConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`
	Timezone        string        `mapstructure:"timezone"`
}

type CronConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	FillSync string `mapstructure:"fill_sync"`
}

type BrokerConfig struct {
	// Mode selects the broker adapter: "paper" fills orders in process
	// against cached prices; anything else must be wired by the embedder.
	Mode    string `mapstructure:"mode"`
	Account string `mapstructure:"account"`

	// SubmitRatePerSec throttles order submission toward the broker.
	SubmitRatePerSec float64 `mapstructure:"submit_rate_per_sec"`
	SubmitBurst      int     `mapstructure:"submit_burst"`

	// PaperBalance seeds the paper broker when mode=paper.
	PaperBalance float64 `mapstructure:"paper_balance"`
}

type PriceCacheConfig struct {
	TTL time.Duration `mapstructure:"ttl"`
}

type AllocatorConfig struct {
	// DiversificationFactor is applied when more than one distinct
	// instrument remains to be sized in the same pass.
	DiversificationFactor   float64 `mapstructure:"diversification_factor"`
	MaxEquityPerInstrument  float64 `mapstructure:"max_equity_per_instrument"`
	DefaultInstrumentWeight int     `mapstructure:"default_instrument_weight"`
}

type LifecycleConfig struct {
	// LockTimeout bounds the per-(expert, use-case) lock acquisition.
	// Overlapping invocations degrade to a logged skip, never block.
	LockTimeout time.Duration `mapstructure:"lock_timeout"`

	// MinProtectionPct is the smallest allowed profit/loss distance from
	// the open price when a take-profit or stop-loss is set.
	MinProtectionPct float64 `mapstructure:"min_protection_pct"`

	// Default dependent-order distances applied to new entry orders when
	// the ruleset does not adjust them itself. Zero disables the default.
	DefaultTakeProfitPct float64 `mapstructure:"default_take_profit_pct"`
	DefaultStopLossPct   float64 `mapstructure:"default_stop_loss_pct"`
}

func Load(path string, envOnly bool) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("TC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.AutomaticEnv()

	v.SetDefault("app.env", "dev")
	v.SetDefault("server.http_addr", ":8080")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.encoding", "console")
	v.SetDefault("log.development", true)
	v.SetDefault("log.sampling", false)
	v.SetDefault("log.disable_caller", false)
	v.SetDefault("log.disable_stacktrace", false)
	v.SetDefault("db.max_open_conns", 20)
	v.SetDefault("db.max_idle_conns", 5)
	v.SetDefault("db.conn_max_lifetime", "30m")
	v.SetDefault("db.conn_max_idle_time", "5m")
	v.SetDefault("db.timezone", "UTC")
	v.SetDefault("cron.enabled", true)
	v.SetDefault("cron.fill_sync", "@every 30s")

	v.SetDefault("broker.mode", "paper")
	v.SetDefault("broker.account", "default")
	v.SetDefault("broker.submit_rate_per_sec", 5)
	v.SetDefault("broker.submit_burst", 10)
	v.SetDefault("broker.paper_balance", 10000)

	v.SetDefault("price_cache.ttl", "30s")

	v.SetDefault("allocator.diversification_factor", 0.7)
	v.SetDefault("allocator.max_equity_per_instrument", 500)
	v.SetDefault("allocator.default_instrument_weight", 100)

	v.SetDefault("lifecycle.lock_timeout", "500ms")
	v.SetDefault("lifecycle.min_protection_pct", 1.0)
	v.SetDefault("lifecycle.default_take_profit_pct", 0)
	v.SetDefault("lifecycle.default_stop_loss_pct", 0)

	if !envOnly {
		if err := v.ReadInConfig(); err != nil {
			return Config{}, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, err
	}

	return cfg, nil
}
