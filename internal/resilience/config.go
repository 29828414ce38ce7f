package resilience

import (
	"time"

	"github.com/sells-group/finfuse/internal/config"
)

// RetryFromSource builds the retry policy for one source's settings.
func RetryFromSource(name string, sc config.SourceConfig) RetryConfig {
	cfg := DefaultRetryConfig()
	if sc.RetryAttempts > 0 {
		cfg.MaxAttempts = sc.RetryAttempts
	}
	if sc.RetryBackoffMs > 0 {
		cfg.InitialBackoff = time.Duration(sc.RetryBackoffMs) * time.Millisecond
	}
	cfg.OnRetry = RetryLogger(name, "")
	return cfg
}

// BreakerFromCircuit converts circuit settings to a BreakerConfig.
func BreakerFromCircuit(cc config.CircuitConfig) BreakerConfig {
	cfg := DefaultBreakerConfig()
	if cc.FailureThreshold > 0 {
		cfg.FailureThreshold = cc.FailureThreshold
	}
	if cc.ResetTimeoutSecs > 0 {
		cfg.ResetTimeout = time.Duration(cc.ResetTimeoutSecs) * time.Second
	}
	return cfg
}
