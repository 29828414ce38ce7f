package source

import (
	"github.com/sells-group/finfuse/internal/config"
	"github.com/sells-group/finfuse/internal/resilience"
)

// FromConfig constructs one adapter per known source, each with its own quota
// tracker and circuit breaker, and registers them. Adapters without
// credentials are registered too and report themselves unavailable.
func FromConfig(cfg config.SourcesConfig, opts ...ClientOption) *Registry {
	breakers := resilience.NewBreakers(resilience.BreakerFromCircuit(cfg.Circuit))
	reg := NewRegistry()

	withBreaker := func(name string) []ClientOption {
		return append([]ClientOption{WithBreaker(breakers.Get(name))}, opts...)
	}

	reg.Register(NewEODHD(cfg.EODHD, withBreaker(config.SourceEODHD)...))
	reg.Register(NewAlphaVantage(cfg.AlphaVantage, withBreaker(config.SourceAlphaVantage)...))
	reg.Register(NewFMP(cfg.FMP, withBreaker(config.SourceFMP)...))
	reg.Register(NewEDGAR(cfg.EDGAR, withBreaker(config.SourceEDGAR)...))
	return reg
}
