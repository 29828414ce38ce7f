package config

import (
	"slices"
	"strings"

	"github.com/rotisserie/eris"
)

// Validate checks the settings needed by the given command mode
// ("fuse", "batch" or "serve").
func (c *Config) Validate(mode string) error {
	var errs []string

	switch mode {
	case "fuse", "batch", "serve":
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if len(c.Fusion.Priority) == 0 {
		errs = append(errs, "fusion.priority must name at least one source")
	}
	seen := make(map[string]bool, len(c.Fusion.Priority))
	for _, name := range c.Fusion.Priority {
		if !slices.Contains(KnownSources, name) {
			errs = append(errs, "fusion.priority: unknown source "+name)
		}
		if seen[name] {
			errs = append(errs, "fusion.priority: duplicate source "+name)
		}
		seen[name] = true
	}
	if c.Fusion.CacheTTLMinutes <= 0 {
		errs = append(errs, "fusion.cache_ttl_minutes must be positive")
	}
	if c.Fusion.Decay.Floor < 0 || c.Fusion.Decay.Floor > 1 {
		errs = append(errs, "fusion.decay.floor must be within [0, 1]")
	}

	switch c.Cache.Driver {
	case "memory":
	case "sqlite", "postgres":
		if c.Cache.DSN == "" {
			errs = append(errs, "cache.dsn is required for driver "+c.Cache.Driver)
		}
	default:
		errs = append(errs, "cache.driver must be memory, sqlite or postgres")
	}

	for name, tol := range map[string]float64{
		"validation.balance_tolerance":      c.Validation.BalanceTolerance,
		"validation.crossmetric_tolerance":  c.Validation.CrossMetricTolerance,
		"validation.baseline_pass_fraction": c.Validation.BaselinePassFraction,
	} {
		if tol <= 0 || tol > 1 {
			errs = append(errs, name+" must be within (0, 1]")
		}
	}
	if c.Validation.YoYThreshold <= 0 {
		errs = append(errs, "validation.yoy_threshold must be positive")
	}
	if ref := c.Validation.ReferenceSource; ref != "" && !slices.Contains(KnownSources, ref) {
		errs = append(errs, "validation.reference_source: unknown source "+ref)
	}

	if mode == "batch" && (c.Batch.MaxConcurrentTickers < 1 || c.Batch.MaxConcurrentTickers > 64) {
		errs = append(errs, "batch.max_concurrent_tickers must be within [1, 64]")
	}
	if mode == "serve" && (c.Server.Port < 1 || c.Server.Port > 65535) {
		errs = append(errs, "server.port must be within [1, 65535]")
	}

	if len(errs) > 0 {
		slices.Sort(errs)
		return eris.Errorf("config: invalid: %s", strings.Join(errs, "; "))
	}
	return nil
}
