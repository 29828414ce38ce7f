package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func chdirTemp(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })
	return dir
}

func TestLoadDefaults(t *testing.T) {
	chdirTemp(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "memory", cfg.Cache.Driver)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 4, cfg.Batch.MaxConcurrentTickers)
	assert.Equal(t, []string{"eodhd", "alphavantage", "fmp", "edgar"}, cfg.Fusion.Priority)
	assert.Equal(t, 60, cfg.Fusion.CacheTTLMinutes)
	assert.True(t, cfg.Fusion.Prefetch)
	assert.Equal(t, 25, cfg.Sources.AlphaVantage.DailyLimit)
	assert.Equal(t, 12000, cfg.Sources.AlphaVantage.MinIntervalMs)
	assert.Equal(t, 10, cfg.Sources.FMP.TimeoutSecs)
	assert.Equal(t, 15, cfg.Sources.EDGAR.TimeoutSecs)
	assert.Equal(t, 0, cfg.Sources.EDGAR.DailyLimit)
	assert.Equal(t, 5, cfg.Sources.Circuit.FailureThreshold)
	assert.InDelta(t, 0.02, cfg.Validation.BalanceTolerance, 0.0001)
	assert.InDelta(t, 0.05, cfg.Validation.CrossMetricTolerance, 0.0001)
	assert.InDelta(t, 1.0, cfg.Validation.YoYThreshold, 0.0001)
	assert.InDelta(t, 0.8, cfg.Validation.BaselinePassFraction, 0.0001)
	assert.Equal(t, 3, cfg.Validation.MaxWarnings)
	assert.InDelta(t, 0.25, cfg.Monitoring.FailureRateThreshold, 0.0001)
	assert.Equal(t, 60, cfg.Monitoring.QualityThreshold)
	assert.Equal(t, 5, cfg.Monitoring.MinTickers)
	assert.Empty(t, cfg.Monitoring.WebhookURL)
}

func TestLoadFromYAML(t *testing.T) {
	dir := chdirTemp(t)

	yaml := `
cache:
  driver: sqlite
  dsn: /tmp/finfuse.db
log:
  level: debug
  format: console
fusion:
  priority: [fmp, eodhd]
sources:
  fmp:
    daily_limit: 500
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Cache.Driver)
	assert.Equal(t, "/tmp/finfuse.db", cfg.Cache.DSN)
	assert.Equal(t, "console", cfg.Log.Format)
	assert.Equal(t, []string{"fmp", "eodhd"}, cfg.Fusion.Priority)
	assert.Equal(t, 500, cfg.Sources.FMP.DailyLimit)
	// Defaults still apply for unset values
	assert.Equal(t, 10, cfg.Sources.FMP.TimeoutSecs)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := chdirTemp(t)

	yaml := `
cache:
  driver: sqlite
log:
  level: debug
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	t.Setenv("FINFUSE_CACHE_DRIVER", "postgres")
	t.Setenv("FINFUSE_LOG_LEVEL", "warn")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Cache.Driver)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestLoadVendorKeysFromConventionalEnv(t *testing.T) {
	chdirTemp(t)

	t.Setenv("EODHD_API_KEY", "eod-key")
	t.Setenv("ALPHAVANTAGE_API_KEY", "av-key")
	t.Setenv("FMP_API_KEY", "fmp-key")
	t.Setenv("SEC_EDGAR_USER_AGENT", "Acme Research ops@acme.test")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "eod-key", cfg.Sources.EODHD.Key)
	assert.Equal(t, "av-key", cfg.Sources.AlphaVantage.Key)
	assert.Equal(t, "fmp-key", cfg.Sources.FMP.Key)
	assert.Equal(t, "Acme Research ops@acme.test", cfg.Sources.EDGAR.Key)
}

func TestLoadPrefixedKeyWins(t *testing.T) {
	chdirTemp(t)

	t.Setenv("FMP_API_KEY", "plain")
	t.Setenv("FINFUSE_SOURCES_FMP_KEY", "prefixed")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "prefixed", cfg.Sources.FMP.Key)
}

func TestLoadMissingKeyIsEmpty(t *testing.T) {
	chdirTemp(t)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Empty(t, cfg.Sources.AlphaVantage.Key)
}

func TestSourcesLookup(t *testing.T) {
	s := SourcesConfig{FMP: SourceConfig{Key: "k"}}
	sc, ok := s.Lookup("fmp")
	require.True(t, ok)
	assert.Equal(t, "k", sc.Key)

	_, ok = s.Lookup("bloomberg")
	assert.False(t, ok)
}

func TestInitLoggerConsole(t *testing.T) {
	err := InitLogger(LogConfig{Level: "debug", Format: "console"})
	require.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerJSON(t *testing.T) {
	err := InitLogger(LogConfig{Level: "info", Format: "json"})
	require.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerInvalidLevel(t *testing.T) {
	err := InitLogger(LogConfig{Level: "invalid", Format: "json"})
	assert.Error(t, err)
}

// validDefaults returns a Config with all defaults populated for validation tests.
func validDefaults() *Config {
	return &Config{
		Fusion: FusionConfig{
			Priority:        []string{"eodhd", "fmp"},
			CacheTTLMinutes: 60,
			Decay:           DecayConfig{Floor: 0.2},
		},
		Cache: CacheConfig{Driver: "memory"},
		Validation: ValidationConfig{
			BalanceTolerance:     0.02,
			CrossMetricTolerance: 0.05,
			YoYThreshold:         1.0,
			BaselinePassFraction: 0.8,
		},
		Batch:  BatchConfig{MaxConcurrentTickers: 4},
		Server: ServerConfig{Port: 8080},
	}
}

func TestValidate_Defaults(t *testing.T) {
	cfg := validDefaults()
	for _, mode := range []string{"fuse", "batch", "serve"} {
		assert.NoError(t, cfg.Validate(mode), mode)
	}
}

func TestValidate_UnknownMode(t *testing.T) {
	err := validDefaults().Validate("bogus")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown mode")
}

func TestValidate_Priority(t *testing.T) {
	cfg := validDefaults()
	cfg.Fusion.Priority = []string{"eodhd", "bloomberg", "eodhd"}
	err := cfg.Validate("fuse")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown source bloomberg")
	assert.Contains(t, err.Error(), "duplicate source eodhd")

	cfg.Fusion.Priority = nil
	assert.Error(t, cfg.Validate("fuse"))
}

func TestValidate_CacheDSNRequired(t *testing.T) {
	cfg := validDefaults()
	cfg.Cache.Driver = "postgres"
	err := cfg.Validate("fuse")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cache.dsn")

	cfg.Cache.DSN = "postgres://localhost/finfuse"
	assert.NoError(t, cfg.Validate("fuse"))

	cfg.Cache.Driver = "redis"
	assert.Error(t, cfg.Validate("fuse"))
}

func TestValidate_Tolerances(t *testing.T) {
	cfg := validDefaults()
	cfg.Validation.BalanceTolerance = 0
	cfg.Validation.BaselinePassFraction = 1.5
	err := cfg.Validate("fuse")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "validation.balance_tolerance")
	assert.Contains(t, err.Error(), "validation.baseline_pass_fraction")
}

func TestValidate_ModeSpecific(t *testing.T) {
	cfg := validDefaults()
	cfg.Server.Port = 0
	cfg.Batch.MaxConcurrentTickers = 0

	assert.NoError(t, cfg.Validate("fuse"))
	assert.ErrorContains(t, cfg.Validate("serve"), "server.port")
	assert.ErrorContains(t, cfg.Validate("batch"), "batch.max_concurrent_tickers")
}
