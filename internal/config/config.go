package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Source names used as configuration keys and in priority lists.
const (
	SourceEODHD        = "eodhd"
	SourceAlphaVantage = "alphavantage"
	SourceFMP          = "fmp"
	SourceEDGAR        = "edgar"
)

// KnownSources lists every adapter the binary can build, in default priority order.
var KnownSources = []string{SourceEODHD, SourceAlphaVantage, SourceFMP, SourceEDGAR}

// Config holds the full application configuration.
type Config struct {
	Sources    SourcesConfig    `yaml:"sources" mapstructure:"sources"`
	Fusion     FusionConfig     `yaml:"fusion" mapstructure:"fusion"`
	Cache      CacheConfig      `yaml:"cache" mapstructure:"cache"`
	Validation ValidationConfig `yaml:"validation" mapstructure:"validation"`
	Batch      BatchConfig      `yaml:"batch" mapstructure:"batch"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Monitoring MonitoringConfig `yaml:"monitoring" mapstructure:"monitoring"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
}

// SourcesConfig holds per-vendor settings.
type SourcesConfig struct {
	EODHD        SourceConfig  `yaml:"eodhd" mapstructure:"eodhd"`
	AlphaVantage SourceConfig  `yaml:"alphavantage" mapstructure:"alphavantage"`
	FMP          SourceConfig  `yaml:"fmp" mapstructure:"fmp"`
	EDGAR        SourceConfig  `yaml:"edgar" mapstructure:"edgar"`
	Circuit      CircuitConfig `yaml:"circuit" mapstructure:"circuit"`
}

// SourceConfig configures one vendor adapter. An empty Key leaves the adapter
// permanently unavailable. For EDGAR the key is the contact user agent.
type SourceConfig struct {
	Key            string `yaml:"key" mapstructure:"key"`
	BaseURL        string `yaml:"base_url" mapstructure:"base_url"`
	DailyLimit     int    `yaml:"daily_limit" mapstructure:"daily_limit"`
	MinIntervalMs  int    `yaml:"min_interval_ms" mapstructure:"min_interval_ms"`
	TimeoutSecs    int    `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	RetryAttempts  int    `yaml:"retry_attempts" mapstructure:"retry_attempts"`
	RetryBackoffMs int    `yaml:"retry_backoff_ms" mapstructure:"retry_backoff_ms"`
}

// CircuitConfig configures the per-source circuit breakers.
type CircuitConfig struct {
	FailureThreshold int `yaml:"failure_threshold" mapstructure:"failure_threshold"`
	ResetTimeoutSecs int `yaml:"reset_timeout_secs" mapstructure:"reset_timeout_secs"`
}

// Lookup returns the settings for the named source.
func (s SourcesConfig) Lookup(name string) (SourceConfig, bool) {
	switch name {
	case SourceEODHD:
		return s.EODHD, true
	case SourceAlphaVantage:
		return s.AlphaVantage, true
	case SourceFMP:
		return s.FMP, true
	case SourceEDGAR:
		return s.EDGAR, true
	default:
		return SourceConfig{}, false
	}
}

// FusionConfig configures the orchestrator.
type FusionConfig struct {
	Priority        []string    `yaml:"priority" mapstructure:"priority"`
	Fields          []string    `yaml:"fields" mapstructure:"fields"`
	CacheTTLMinutes int         `yaml:"cache_ttl_minutes" mapstructure:"cache_ttl_minutes"`
	Prefetch        bool        `yaml:"prefetch" mapstructure:"prefetch"`
	Decay           DecayConfig `yaml:"decay" mapstructure:"decay"`
}

// DecayConfig configures staleness decay of fused confidence. A zero
// half-life disables decay.
type DecayConfig struct {
	HalfLifeDays float64 `yaml:"half_life_days" mapstructure:"half_life_days"`
	Floor        float64 `yaml:"floor" mapstructure:"floor"`
}

// CacheConfig configures the fusion result cache backend.
type CacheConfig struct {
	Driver string `yaml:"driver" mapstructure:"driver"`
	DSN    string `yaml:"dsn" mapstructure:"dsn"`
}

// ValidationConfig configures the validation policy.
type ValidationConfig struct {
	BalanceTolerance     float64 `yaml:"balance_tolerance" mapstructure:"balance_tolerance"`
	CrossMetricTolerance float64 `yaml:"crossmetric_tolerance" mapstructure:"crossmetric_tolerance"`
	YoYThreshold         float64 `yaml:"yoy_threshold" mapstructure:"yoy_threshold"`
	BaselinePassFraction float64 `yaml:"baseline_pass_fraction" mapstructure:"baseline_pass_fraction"`
	MaxWarnings          int     `yaml:"max_warnings" mapstructure:"max_warnings"`
	PolicyFile           string  `yaml:"policy_file" mapstructure:"policy_file"`
	ReferenceFile        string  `yaml:"reference_file" mapstructure:"reference_file"`
	ReferenceSource      string  `yaml:"reference_source" mapstructure:"reference_source"`
}

// BatchConfig configures multi-ticker runs.
type BatchConfig struct {
	MaxConcurrentTickers int `yaml:"max_concurrent_tickers" mapstructure:"max_concurrent_tickers"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Port           int      `yaml:"port" mapstructure:"port"`
	AllowedOrigins []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
}

// MonitoringConfig configures batch health alerts.
type MonitoringConfig struct {
	WebhookURL           string  `yaml:"webhook_url" mapstructure:"webhook_url"`
	FailureRateThreshold float64 `yaml:"failure_rate_threshold" mapstructure:"failure_rate_threshold"`
	QualityThreshold     int     `yaml:"quality_threshold" mapstructure:"quality_threshold"`
	MinTickers           int     `yaml:"min_tickers" mapstructure:"min_tickers"`
	CheckIntervalSecs    int     `yaml:"check_interval_secs" mapstructure:"check_interval_secs"`
	LookbackWindowHours  int     `yaml:"lookback_window_hours" mapstructure:"lookback_window_hours"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("FINFUSE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Vendor credentials use their conventional names as well.
	for key, env := range map[string]string{
		"sources.eodhd.key":        "EODHD_API_KEY",
		"sources.alphavantage.key": "ALPHAVANTAGE_API_KEY",
		"sources.fmp.key":          "FMP_API_KEY",
		"sources.edgar.key":        "SEC_EDGAR_USER_AGENT",
	} {
		prefixed := "FINFUSE_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if err := v.BindEnv(key, prefixed, env); err != nil {
			return nil, eris.Wrapf(err, "config: bind env %s", env)
		}
	}

	// Defaults
	v.SetDefault("sources.eodhd.base_url", "https://eodhd.com/api")
	v.SetDefault("sources.eodhd.daily_limit", 100000)
	v.SetDefault("sources.eodhd.min_interval_ms", 50)
	v.SetDefault("sources.eodhd.timeout_secs", 15)
	v.SetDefault("sources.alphavantage.base_url", "https://www.alphavantage.co/query")
	v.SetDefault("sources.alphavantage.daily_limit", 25)
	v.SetDefault("sources.alphavantage.min_interval_ms", 12000)
	v.SetDefault("sources.alphavantage.timeout_secs", 15)
	v.SetDefault("sources.fmp.base_url", "https://financialmodelingprep.com/api/v3")
	v.SetDefault("sources.fmp.daily_limit", 250)
	v.SetDefault("sources.fmp.min_interval_ms", 200)
	v.SetDefault("sources.fmp.timeout_secs", 10)
	v.SetDefault("sources.edgar.base_url", "https://data.sec.gov")
	v.SetDefault("sources.edgar.daily_limit", 0)
	v.SetDefault("sources.edgar.min_interval_ms", 100)
	v.SetDefault("sources.edgar.timeout_secs", 15)
	v.SetDefault("sources.circuit.failure_threshold", 5)
	v.SetDefault("sources.circuit.reset_timeout_secs", 60)
	v.SetDefault("fusion.priority", KnownSources)
	v.SetDefault("fusion.cache_ttl_minutes", 60)
	v.SetDefault("fusion.prefetch", true)
	v.SetDefault("fusion.decay.half_life_days", 0)
	v.SetDefault("fusion.decay.floor", 0.2)
	v.SetDefault("cache.driver", "memory")
	v.SetDefault("validation.balance_tolerance", 0.02)
	v.SetDefault("validation.crossmetric_tolerance", 0.05)
	v.SetDefault("validation.yoy_threshold", 1.0)
	v.SetDefault("validation.baseline_pass_fraction", 0.8)
	v.SetDefault("validation.max_warnings", 3)
	v.SetDefault("batch.max_concurrent_tickers", 4)
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("monitoring.failure_rate_threshold", 0.25)
	v.SetDefault("monitoring.quality_threshold", 60)
	v.SetDefault("monitoring.min_tickers", 5)
	v.SetDefault("monitoring.check_interval_secs", 300)
	v.SetDefault("monitoring.lookback_window_hours", 24)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
