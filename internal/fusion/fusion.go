// Package fusion merges per-source records into one canonical company record.
package fusion

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/finfuse/internal/cache"
	"github.com/sells-group/finfuse/internal/config"
	"github.com/sells-group/finfuse/internal/dictionary"
	"github.com/sells-group/finfuse/internal/model"
	"github.com/sells-group/finfuse/internal/provenance"
	"github.com/sells-group/finfuse/internal/resilience"
	"github.com/sells-group/finfuse/internal/source"
)

// DefaultTTL is how long a fused record is served from cache.
const DefaultTTL = time.Hour

// Orchestrator runs fusion passes. It holds no per-pass state and is safe
// for concurrent use across tickers.
type Orchestrator struct {
	registry *source.Registry
	dict     *dictionary.Dictionary
	cache    cache.Cache
	wrapper  *provenance.Wrapper
	decay    provenance.Decay
	ttl      time.Duration
	prefetch bool
	observer Observer
	nowFunc  func() time.Time
}

// Observer receives per-pass events, typically for metrics. Kind is empty
// when a source returned a record.
type Observer interface {
	ObserveCache(hit bool)
	ObserveFetch(source string, kind resilience.Kind)
}

type nopObserver struct{}

func (nopObserver) ObserveCache(bool) {}
func (nopObserver) ObserveFetch(string, resilience.Kind) {}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithCache enables result caching.
func WithCache(c cache.Cache) Option {
	return func(o *Orchestrator) { o.cache = c }
}

// WithTTL sets the cache lifetime of a fused record.
func WithTTL(ttl time.Duration) Option {
	return func(o *Orchestrator) {
		if ttl > 0 {
			o.ttl = ttl
		}
	}
}

// WithDictionary replaces the embedded field dictionary.
func WithDictionary(d *dictionary.Dictionary) Option {
	return func(o *Orchestrator) { o.dict = d }
}

// WithDecay enables staleness decay of confidence.
func WithDecay(d provenance.Decay) Option {
	return func(o *Orchestrator) { o.decay = d }
}

// WithPrefetch toggles concurrent fetching of every source up front. When
// off, sources are fetched one at a time and only while something is still
// missing.
func WithPrefetch(on bool) Option {
	return func(o *Orchestrator) { o.prefetch = on }
}

// WithObserver reports cache and fetch outcomes to obs.
func WithObserver(obs Observer) Option {
	return func(o *Orchestrator) {
		if obs != nil {
			o.observer = obs
		}
	}
}

// WithNow sets the clock used for fused_at and staleness.
func WithNow(now func() time.Time) Option {
	return func(o *Orchestrator) { o.nowFunc = now }
}

// New creates an Orchestrator over the adapters in registry.
func New(registry *source.Registry, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		registry: registry,
		ttl:      DefaultTTL,
		prefetch: true,
		observer: nopObserver{},
		nowFunc:  time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.dict == nil {
		o.dict = dictionary.Default()
	}
	o.wrapper = provenance.New(o.decay, provenance.WithNow(o.nowFunc))
	return o
}

// FromConfig creates an Orchestrator from the fusion settings.
func FromConfig(registry *source.Registry, c cache.Cache, cfg config.FusionConfig, opts ...Option) *Orchestrator {
	base := []Option{
		WithCache(c),
		WithTTL(time.Duration(cfg.CacheTTLMinutes) * time.Minute),
		WithDecay(provenance.DecayFromConfig(cfg.Decay)),
		WithPrefetch(cfg.Prefetch),
	}
	return New(registry, append(base, opts...)...)
}

// Signature derives the cache key of a fusion request. Field order does not
// matter; priority order does.
func Signature(ticker string, fields []model.Field, priority []string) string {
	sorted := append([]model.Field(nil), fields...)
	model.SortFields(sorted)
	names := make([]string, len(sorted))
	for i, f := range sorted {
		names[i] = string(f)
	}
	sum := sha256.Sum256([]byte(strings.Join(names, ",") + "|" + strings.Join(priority, ",")))
	return model.NormalizeTicker(ticker) + ":" + hex.EncodeToString(sum[:12])
}

// fetched is the outcome of one adapter pass.
type fetched struct {
	rec *source.Record
	err error
}

// Fuse builds the company record for ticker. fields defaults to every
// canonical field. Source failures never surface as errors; an error means
// the cache failed, the context ended or an adapter panicked.
func (o *Orchestrator) Fuse(ctx context.Context, ticker string, fields []model.Field, priority []string) (*model.CompanyRecord, error) {
	ticker = model.NormalizeTicker(ticker)
	if ticker == "" {
		return nil, eris.New("fusion: empty ticker")
	}
	fields = canonical(fields)
	key := Signature(ticker, fields, priority)

	if o.cache != nil {
		rec, err := o.cached(ctx, key)
		if err != nil {
			return nil, err
		}
		o.observer.ObserveCache(rec != nil)
		if rec != nil {
			zap.L().Debug("fusion: cache hit", zap.String("ticker", ticker), zap.String("key", key))
			return rec, nil
		}
		zap.L().Debug("fusion: cache miss", zap.String("ticker", ticker), zap.String("key", key))
	}

	adapters := o.registry.Ordered(priority)
	p := newPass(o, ticker, fields, adapters)
	if err := p.run(ctx); err != nil {
		return nil, err
	}
	rec := p.out

	zap.L().Info("fusion: fused record",
		zap.String("ticker", ticker),
		zap.Int("resolved", len(rec.Metrics)),
		zap.Int("requested", len(fields)),
		zap.Int("statements", len(rec.Statements)),
		zap.String("sector", rec.Sector),
	)

	switch {
	case o.cache == nil:
	case ctx.Err() != nil:
		// Sources skipped after cancellation would stay missing for the whole TTL.
		zap.L().Debug("fusion: not caching interrupted pass", zap.String("ticker", ticker), zap.Error(ctx.Err()))
	default:
		o.store(ctx, key, rec)
	}
	return rec, nil
}

func (o *Orchestrator) cached(ctx context.Context, key string) (*model.CompanyRecord, error) {
	data, ok, err := o.cache.Get(ctx, key)
	if err != nil {
		return nil, eris.Wrap(err, "fusion: cache get")
	}
	if !ok {
		return nil, nil
	}
	var rec model.CompanyRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		// A corrupt entry is treated as a miss and overwritten by this pass.
		zap.L().Warn("fusion: discarding unreadable cache entry", zap.String("key", key), zap.Error(err))
		return nil, nil
	}
	return &rec, nil
}

func (o *Orchestrator) store(ctx context.Context, key string, rec *model.CompanyRecord) {
	data, err := json.Marshal(rec)
	if err == nil {
		err = o.cache.Set(ctx, key, data, o.ttl)
	}
	if err != nil {
		zap.L().Warn("fusion: cache set failed", zap.String("ticker", rec.Ticker), zap.Error(err))
	}
}

// fetch runs one adapter, converting a panic into an error.
func (o *Orchestrator) fetch(ctx context.Context, a source.Adapter, req source.Request) (f fetched, panicErr error) {
	defer func() {
		if r := recover(); r != nil {
			panicErr = eris.Errorf("fusion: adapter %s panicked: %v", a.Name(), r)
		}
	}()

	if !a.Available() {
		o.observer.ObserveFetch(a.Name(), resilience.KindUnavailable)
		return fetched{err: resilience.NewError(resilience.KindUnavailable, a.Name(), "", source.ErrNoCredentials)}, nil
	}
	rec, err := a.Fetch(ctx, req)
	if err == nil && rec == nil {
		err = resilience.NewError(resilience.KindNotFound, a.Name(), "", eris.New("empty record"))
	}
	if err != nil {
		lvl := zap.L().Warn
		if k := resilience.KindOf(err); k == resilience.KindNotFound || k == resilience.KindUnavailable {
			lvl = zap.L().Info
		}
		lvl("fusion: source yielded no record",
			zap.String("source", a.Name()),
			zap.String("ticker", req.Ticker),
			zap.String("kind", string(resilience.KindOf(err))),
			zap.Error(err),
		)
		o.observer.ObserveFetch(a.Name(), resilience.KindOf(err))
		return fetched{err: err}, nil
	}
	o.observer.ObserveFetch(a.Name(), "")
	return fetched{rec: rec}, nil
}

// canonical drops unknown and duplicate fields, defaulting to all fields.
func canonical(fields []model.Field) []model.Field {
	if len(fields) == 0 {
		return model.AllFields()
	}
	out := make([]model.Field, 0, len(fields))
	seen := make(map[model.Field]bool, len(fields))
	for _, f := range fields {
		if !model.IsKnown(f) || seen[f] {
			continue
		}
		seen[f] = true
		out = append(out, f)
	}
	return out
}

// fetchAll prefetches every adapter concurrently, one goroutine per source.
// Calls to the same source stay serialized by that source's quota tracker.
func (o *Orchestrator) fetchAll(ctx context.Context, adapters []source.Adapter, req source.Request) ([]*fetched, error) {
	results := make([]*fetched, len(adapters))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(len(adapters), 1))
	for i, a := range adapters {
		g.Go(func() error {
			f, err := o.fetch(gctx, a, req)
			if err != nil {
				return err
			}
			results[i] = &f
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

func attemptFor(f fetched) model.ProvenanceAttempt {
	a := model.ProvenanceAttempt{Outcome: model.OutcomeUnavailable}
	kind := resilience.KindOf(f.err)
	if kind == resilience.KindNotFound {
		a.Outcome = model.OutcomeNoRecord
	}
	a.Detail = string(kind)
	return a
}
