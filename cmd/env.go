package main

import (
	"context"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/finfuse/internal/cache"
	"github.com/sells-group/finfuse/internal/config"
	"github.com/sells-group/finfuse/internal/fusion"
	"github.com/sells-group/finfuse/internal/model"
	"github.com/sells-group/finfuse/internal/monitoring"
	"github.com/sells-group/finfuse/internal/pipeline"
	"github.com/sells-group/finfuse/internal/source"
	"github.com/sells-group/finfuse/internal/validation"
)

// fusionEnv holds the adapters, cache, orchestrator and validation engine
// shared by the fuse/validate/batch/serve commands.
type fusionEnv struct {
	Cache        cache.Cache
	Registry     *source.Registry
	Orchestrator *fusion.Orchestrator
	Engine       *validation.Engine
	Metrics      *monitoring.Metrics
	Fields       []model.Field
	Priority     []string
}

// Close releases the cache backend.
func (e *fusionEnv) Close() {
	if e.Cache != nil {
		_ = e.Cache.Close()
	}
}

// Runner builds a batch runner over the environment. The metrics collectors
// always observe; extra observers are appended.
func (e *fusionEnv) Runner(concurrency int, observers ...pipeline.Observer) *pipeline.Runner {
	opts := []pipeline.Option{
		pipeline.WithFields(e.Fields),
		pipeline.WithPriority(e.Priority),
		pipeline.WithConcurrency(concurrency),
		pipeline.WithObserver(e.Metrics),
	}
	for _, o := range observers {
		opts = append(opts, pipeline.WithObserver(o))
	}
	return pipeline.NewRunner(e.Orchestrator, e.Engine, opts...)
}

// initEnv validates the config for mode, opens the cache and builds every
// adapter from config. Callers should defer env.Close().
func initEnv(ctx context.Context, mode string) (*fusionEnv, error) {
	if err := cfg.Validate(mode); err != nil {
		return nil, err
	}

	c, err := cache.Open(ctx, cfg.Cache)
	if err != nil {
		return nil, eris.Wrap(err, "open cache")
	}
	if n, err := c.DeleteExpired(ctx); err != nil {
		zap.L().Warn("cache: purge failed", zap.Error(err))
	} else if n > 0 {
		zap.L().Info("cache: purged expired entries", zap.Int("count", n))
	}

	env, err := newEnv(cfg, source.FromConfig(cfg.Sources), c)
	if err != nil {
		_ = c.Close()
		return nil, err
	}
	return env, nil
}

// newEnv wires an environment around an existing registry and cache.
func newEnv(c *config.Config, reg *source.Registry, store cache.Cache) (*fusionEnv, error) {
	fields, unknown := model.ParseFields(c.Fusion.Fields)
	if len(unknown) > 0 {
		return nil, eris.Errorf("fusion.fields: unknown fields %s", strings.Join(unknown, ", "))
	}

	policy, err := validation.PolicyFromConfig(c.Validation)
	if err != nil {
		return nil, err
	}
	ref, err := buildReference(c, reg)
	if err != nil {
		return nil, err
	}
	var engineOpts []validation.Option
	if ref != nil {
		engineOpts = append(engineOpts, validation.WithReference(ref))
		zap.L().Debug("validation: baseline reference enabled", zap.String("reference", ref.Name()))
	}

	metrics := monitoring.NewMetrics()
	return &fusionEnv{
		Cache:        store,
		Registry:     reg,
		Orchestrator: fusion.FromConfig(reg, store, c.Fusion, fusion.WithObserver(metrics)),
		Engine:       validation.NewEngine(policy, engineOpts...),
		Metrics:      metrics,
		Fields:       fields,
		Priority:     c.Fusion.Priority,
	}, nil
}

// buildReference picks the baseline source: a benchmark file wins over a
// reference adapter. No reference leaves the baseline check skipped.
func buildReference(c *config.Config, reg *source.Registry) (validation.Reference, error) {
	switch {
	case c.Validation.ReferenceFile != "":
		ref, err := validation.LoadStaticReference(c.Validation.ReferenceFile)
		if err != nil {
			return nil, err
		}
		return ref, nil
	case c.Validation.ReferenceSource != "":
		// Uncached so the benchmark never reads the primary run's entries.
		return validation.NewAdapterReference(fusion.New(reg), c.Validation.ReferenceSource, nil), nil
	default:
		return nil, nil
	}
}

// applyFusionFlags overrides the configured field set and priority.
func applyFusionFlags(fields, priority []string) {
	if len(fields) > 0 {
		cfg.Fusion.Fields = fields
	}
	if len(priority) > 0 {
		cfg.Fusion.Priority = priority
	}
}

// missingFields lists the requested fields absent from rec.
func missingFields(rec *model.CompanyRecord, requested []model.Field) []string {
	if len(requested) == 0 {
		requested = model.AllFields()
	}
	resolved := make(map[model.Field]bool)
	for _, f := range fusion.Resolved(rec) {
		resolved[f] = true
	}
	var out []string
	for _, f := range requested {
		if !resolved[f] {
			out = append(out, string(f))
		}
	}
	return out
}
