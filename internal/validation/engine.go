package validation

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/finfuse/internal/model"
)

// Engine runs the validation checks over a fused record. It holds no
// per-run state and is safe for concurrent use.
type Engine struct {
	policy    Policy
	reference Reference
	checks    []check
	nowFunc   func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithReference sets the baseline reference source.
func WithReference(r Reference) Option {
	return func(e *Engine) { e.reference = r }
}

// WithNow overrides the report clock.
func WithNow(now func() time.Time) Option {
	return func(e *Engine) { e.nowFunc = now }
}

// NewEngine creates an engine with the given policy.
func NewEngine(p Policy, opts ...Option) *Engine {
	e := &Engine{
		policy:  p,
		checks:  []check{structural, logical, ratio, timeSeries, crossMetric, baseline},
		nowFunc: time.Now,
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Policy returns the engine's policy.
func (e *Engine) Policy() Policy { return e.policy }

// Validate scores rec. Findings are grouped by check in a fixed order so
// identical records produce identical reports.
func (e *Engine) Validate(ctx context.Context, rec *model.CompanyRecord) *Report {
	if rec == nil {
		rec = model.NewCompanyRecord("")
	}
	r := &Report{
		Ticker:    rec.Ticker,
		Timestamp: e.nowFunc().UTC(),
		Findings:  []Finding{},
	}
	for _, c := range e.checks {
		r.Findings = append(r.Findings, c(ctx, e, rec)...)
	}
	r.Aggregate(e.policy.MaxWarnings)

	zap.L().Info("validation: scored record",
		zap.String("ticker", r.Ticker),
		zap.String("status", string(r.OverallStatus)),
		zap.Int("quality_score", r.QualityScore),
		zap.Int("errors", r.Errors),
		zap.Int("warnings", r.Warnings),
	)
	return r
}
