package fusion

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/finfuse/internal/cache"
	"github.com/sells-group/finfuse/internal/config"
	"github.com/sells-group/finfuse/internal/model"
	"github.com/sells-group/finfuse/internal/provenance"
	"github.com/sells-group/finfuse/internal/resilience"
	"github.com/sells-group/finfuse/internal/source"
)

var fetchedAt = time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

// fakeAdapter implements source.Adapter with a canned record.
type fakeAdapter struct {
	name        string
	unavailable bool
	incomplete  bool
	values      map[string]any
	statements  map[model.StatementKind][]source.RawPeriod
	err         error
	panicMsg    string
	ctxAware    bool               // fail once ctx is done
	afterFetch  context.CancelFunc // called after a successful fetch
	calls       atomic.Int32
}

func (f *fakeAdapter) Name() string    { return f.name }
func (f *fakeAdapter) Available() bool { return !f.unavailable }
func (f *fakeAdapter) Fetch(ctx context.Context, _ source.Request) (*source.Record, error) {
	f.calls.Add(1)
	if f.ctxAware && ctx.Err() != nil {
		return nil, ctx.Err()
	}
	if f.afterFetch != nil {
		defer f.afterFetch()
	}
	if f.panicMsg != "" {
		panic(f.panicMsg)
	}
	if f.err != nil {
		return nil, f.err
	}
	rec := source.NewRecord(f.name, fetchedAt)
	rec.Endpoints = []string{"fake"}
	for k, v := range f.values {
		rec.Set(k, v)
	}
	for k, v := range f.statements {
		rec.Statements[k] = v
	}
	rec.Complete = !f.incomplete
	return rec, nil
}

func newTestOrchestrator(t *testing.T, adapters []*fakeAdapter, opts ...Option) *Orchestrator {
	t.Helper()
	reg := source.NewRegistry()
	for _, a := range adapters {
		reg.Register(a)
	}
	now := fetchedAt.Add(time.Minute)
	base := []Option{WithNow(func() time.Time { return now })}
	return New(reg, append(base, opts...)...)
}

func fullStatements() map[model.StatementKind][]source.RawPeriod {
	return map[model.StatementKind][]source.RawPeriod{
		model.IncomeStatement: {
			{End: "2024-12-31", Values: map[string]any{"totalRevenue": 1200.0, "netIncome": 120.0}},
			{End: "2023-12-31", Values: map[string]any{"totalRevenue": "1000", "netIncome": 90.0}},
		},
		model.BalanceSheet: {
			{End: "2024-12-31", Values: map[string]any{"totalAssets": 5000.0, "totalLiab": 3000.0, "totalStockholderEquity": 2000.0}},
		},
		model.CashFlowStatement: {
			{End: "2024-12-31", Values: map[string]any{"totalCashFromOperatingActivities": 300.0}},
		},
	}
}

func TestFuse_FallbackToNextSource(t *testing.T) {
	a := &fakeAdapter{name: "a", values: map[string]any{"Revenue": nil}}
	b := &fakeAdapter{name: "b", values: map[string]any{"Revenue": 42.0}}
	o := newTestOrchestrator(t, []*fakeAdapter{a, b})

	rec, err := o.Fuse(context.Background(), "acme", []model.Field{model.Revenue}, []string{"a", "b"})
	require.NoError(t, err)

	m, ok := rec.Metrics[model.Revenue]
	require.True(t, ok)
	assert.Equal(t, 42.0, m.Value)
	assert.Equal(t, "b", m.Source)
	assert.Equal(t, 1, m.Tier)

	require.Len(t, rec.Provenance, 1)
	attempts := rec.Provenance[0].Attempts
	require.Len(t, attempts, 2)
	assert.Equal(t, model.OutcomePlaceholder, attempts[0].Outcome)
	assert.Equal(t, "Revenue", attempts[0].VendorKey)
	assert.Equal(t, model.OutcomeAccepted, attempts[1].Outcome)
	assert.Equal(t, "b", rec.Provenance[0].Winner)
}

func TestFuse_ACMEEndToEnd(t *testing.T) {
	a := &fakeAdapter{name: "A", values: map[string]any{"Revenue": nil}}
	b := &fakeAdapter{name: "B", values: map[string]any{"Revenue": 1000000.0}}
	o := newTestOrchestrator(t, []*fakeAdapter{a, b})

	rec, err := o.Fuse(context.Background(), "ACME", []model.Field{model.Revenue}, []string{"A", "B"})
	require.NoError(t, err)

	assert.Equal(t, "ACME", rec.Ticker)
	m := rec.Metrics[model.Revenue]
	assert.Equal(t, 1000000.0, m.Value)
	assert.Equal(t, "B", m.Source)
	assert.Equal(t, provenance.BandSecondary, m.Confidence)
	assert.Less(t, m.Confidence, provenance.Band(0, true))
	assert.Equal(t, fetchedAt, m.FetchedAt)
	assert.Equal(t, []string{"A", "B"}, rec.Sources)
}

func TestFuse_FirstPriorityWins(t *testing.T) {
	a := &fakeAdapter{name: "a", values: map[string]any{"Beta": 1.1}}
	b := &fakeAdapter{name: "b", values: map[string]any{"Beta": 1.5}}
	o := newTestOrchestrator(t, []*fakeAdapter{a, b})

	rec, err := o.Fuse(context.Background(), "ACME", []model.Field{model.Beta}, []string{"a", "b"})
	require.NoError(t, err)
	assert.Equal(t, 1.1, rec.Metrics[model.Beta].Value)
	assert.Equal(t, provenance.BandPrimary, rec.Metrics[model.Beta].Confidence)

	// Reversed priority picks the other source.
	rec, err = o.Fuse(context.Background(), "ACME", []model.Field{model.Beta}, []string{"b", "a"})
	require.NoError(t, err)
	assert.Equal(t, 1.5, rec.Metrics[model.Beta].Value)
}

func TestFuse_IncompletePrimaryBand(t *testing.T) {
	a := &fakeAdapter{name: "a", incomplete: true, values: map[string]any{"Beta": 1.1}}
	o := newTestOrchestrator(t, []*fakeAdapter{a})

	rec, err := o.Fuse(context.Background(), "ACME", []model.Field{model.Beta}, []string{"a"})
	require.NoError(t, err)
	assert.Equal(t, provenance.BandPrimaryIncomplete, rec.Metrics[model.Beta].Confidence)
}

func TestFuse_AbsentWhenNoUsableValue(t *testing.T) {
	a := &fakeAdapter{name: "a", values: map[string]any{"Revenue": "None", "EPS": "abc"}}
	b := &fakeAdapter{name: "b", values: map[string]any{"Revenue": "", "EPS": "-"}}
	o := newTestOrchestrator(t, []*fakeAdapter{a, b})

	rec, err := o.Fuse(context.Background(), "ACME", []model.Field{model.Revenue, model.EPS, model.Beta}, []string{"a", "b"})
	require.NoError(t, err)
	assert.Empty(t, rec.Metrics)
	assert.False(t, rec.Has(model.Revenue))

	data, err := json.Marshal(rec)
	require.NoError(t, err)
	var decoded map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Empty(t, decoded["metrics"], "absent fields must not appear as null placeholders")

	byField := map[model.Field]model.FieldProvenance{}
	for _, fp := range rec.Provenance {
		byField[fp.Field] = fp
	}
	assert.Equal(t, model.OutcomeUnparseable, byField[model.EPS].Attempts[0].Outcome)
	assert.Equal(t, model.OutcomeUnresolved, byField[model.Beta].Attempts[0].Outcome)
}

func TestFuse_UnavailableAdapterSkipped(t *testing.T) {
	a := &fakeAdapter{name: "a", unavailable: true, values: map[string]any{"Revenue": 1.0}}
	b := &fakeAdapter{name: "b", values: map[string]any{"Revenue": 2.0}}
	o := newTestOrchestrator(t, []*fakeAdapter{a, b})

	rec, err := o.Fuse(context.Background(), "ACME", []model.Field{model.Revenue}, []string{"a", "b"})
	require.NoError(t, err)
	assert.Equal(t, int32(0), a.calls.Load(), "an adapter without credentials is never called")
	assert.Equal(t, 2.0, rec.Metrics[model.Revenue].Value)
	assert.Equal(t, model.OutcomeUnavailable, rec.Provenance[0].Attempts[0].Outcome)
}

func TestFuse_SourceErrorsFallThrough(t *testing.T) {
	for _, kind := range []resilience.Kind{
		resilience.KindTransientNetwork,
		resilience.KindQuotaExhausted,
		resilience.KindVendorSoftLimit,
		resilience.KindMalformedPayload,
		resilience.KindNotFound,
	} {
		t.Run(string(kind), func(t *testing.T) {
			a := &fakeAdapter{name: "a", err: resilience.NewError(kind, "a", "overview", errors.New("boom"))}
			b := &fakeAdapter{name: "b", values: map[string]any{"Revenue": 7.0}}
			o := newTestOrchestrator(t, []*fakeAdapter{a, b})

			rec, err := o.Fuse(context.Background(), "ACME", []model.Field{model.Revenue}, []string{"a", "b"})
			require.NoError(t, err)
			assert.Equal(t, "b", rec.Metrics[model.Revenue].Source)
			assert.Equal(t, string(kind), rec.Provenance[0].Attempts[0].Detail)
		})
	}
}

func TestFuse_Idempotent(t *testing.T) {
	a := &fakeAdapter{name: "a", values: map[string]any{"Revenue": nil, "Beta": 1.2, "Name": "Acme Corp"}, statements: fullStatements()}
	b := &fakeAdapter{name: "b", values: map[string]any{"Revenue": "1,000", "mktCap": 5e9}}
	o := newTestOrchestrator(t, []*fakeAdapter{a, b})

	first, err := o.Fuse(context.Background(), "ACME", nil, []string{"a", "b"})
	require.NoError(t, err)
	second, err := o.Fuse(context.Background(), "ACME", nil, []string{"a", "b"})
	require.NoError(t, err)

	assert.Equal(t, first, second)
	// a's null scalar falls back to a's latest income statement before b.
	assert.Equal(t, 1200.0, first.Metrics[model.Revenue].Value)
	assert.Equal(t, "a", first.Metrics[model.Revenue].Source)
	assert.Equal(t, 5e9, first.Metrics[model.MarketCap].Value)
	assert.Equal(t, "Acme Corp", first.Metrics[model.Name].Value)
}

func TestFuse_CacheHitSkipsAdapters(t *testing.T) {
	a := &fakeAdapter{name: "a", values: map[string]any{"Revenue": 10.0}}
	o := newTestOrchestrator(t, []*fakeAdapter{a}, WithCache(cache.NewMemory()))

	first, err := o.Fuse(context.Background(), "ACME", []model.Field{model.Revenue}, []string{"a"})
	require.NoError(t, err)
	second, err := o.Fuse(context.Background(), "acme", []model.Field{model.Revenue}, []string{"a"})
	require.NoError(t, err)

	assert.Equal(t, int32(1), a.calls.Load())
	assert.Equal(t, first.Metrics[model.Revenue].Value, second.Metrics[model.Revenue].Value)
	assert.Equal(t, first.Metrics[model.Revenue].Source, second.Metrics[model.Revenue].Source)

	// A different field set is a different cache entry.
	_, err = o.Fuse(context.Background(), "ACME", []model.Field{model.Revenue, model.Beta}, []string{"a"})
	require.NoError(t, err)
	assert.Equal(t, int32(2), a.calls.Load())
}

type recordingObserver struct {
	mu      sync.Mutex
	hits    int
	misses  int
	fetches map[string]resilience.Kind
}

func (r *recordingObserver) ObserveCache(hit bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if hit {
		r.hits++
	} else {
		r.misses++
	}
}

func (r *recordingObserver) ObserveFetch(src string, kind resilience.Kind) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fetches[src] = kind
}

func TestFuse_InterruptedPassNotCached(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a := &fakeAdapter{name: "a", values: map[string]any{"Revenue": 1000.0}, afterFetch: cancel}
	b := &fakeAdapter{name: "b", ctxAware: true, values: map[string]any{"NetIncome": 100.0}}
	store := cache.NewMemory()
	o := newTestOrchestrator(t, []*fakeAdapter{a, b}, WithCache(store), WithPrefetch(false))
	fields := []model.Field{model.Revenue, model.NetIncome}

	rec, err := o.Fuse(ctx, "ACME", fields, []string{"a", "b"})
	require.NoError(t, err, "a partial record is still returned to the caller")
	assert.True(t, rec.Has(model.Revenue))
	assert.False(t, rec.Has(model.NetIncome))

	_, ok, err := store.Get(context.Background(), Signature("ACME", canonical(fields), []string{"a", "b"}))
	require.NoError(t, err)
	assert.False(t, ok, "an interrupted pass must not be cached")

	a.afterFetch = nil
	rec, err = o.Fuse(context.Background(), "ACME", fields, []string{"a", "b"})
	require.NoError(t, err)
	assert.True(t, rec.Has(model.NetIncome))
	assert.Equal(t, int32(2), a.calls.Load(), "the second request fetches again")

	_, ok, err = store.Get(context.Background(), Signature("ACME", canonical(fields), []string{"a", "b"}))
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestFuse_ObserverSeesCacheAndFetches(t *testing.T) {
	a := &fakeAdapter{name: "a", err: resilience.NewError(resilience.KindQuotaExhausted, "a", "", nil)}
	b := &fakeAdapter{name: "b", values: map[string]any{"Revenue": 7.0}}
	c := &fakeAdapter{name: "c", unavailable: true}
	obs := &recordingObserver{fetches: make(map[string]resilience.Kind)}
	o := newTestOrchestrator(t, []*fakeAdapter{a, b, c}, WithCache(cache.NewMemory()), WithObserver(obs))

	for range 2 {
		_, err := o.Fuse(context.Background(), "ACME", []model.Field{model.Revenue}, []string{"a", "b", "c"})
		require.NoError(t, err)
	}
	assert.Equal(t, 1, obs.hits)
	assert.Equal(t, 1, obs.misses)
	assert.Equal(t, map[string]resilience.Kind{
		"a": resilience.KindQuotaExhausted,
		"b": "",
		"c": resilience.KindUnavailable,
	}, obs.fetches)
}

func TestFuse_LazyFetchStopsWhenComplete(t *testing.T) {
	a := &fakeAdapter{name: "a", values: map[string]any{"Revenue": 10.0}, statements: fullStatements()}
	b := &fakeAdapter{name: "b", values: map[string]any{"Revenue": 20.0}}
	o := newTestOrchestrator(t, []*fakeAdapter{a, b}, WithPrefetch(false))

	rec, err := o.Fuse(context.Background(), "ACME", []model.Field{model.Revenue}, []string{"a", "b"})
	require.NoError(t, err)
	assert.Equal(t, 10.0, rec.Metrics[model.Revenue].Value)
	assert.Equal(t, int32(0), b.calls.Load())
}

func TestFuse_PrefetchCallsEverySourceOnce(t *testing.T) {
	a := &fakeAdapter{name: "a", values: map[string]any{"Revenue": 10.0}, statements: fullStatements()}
	b := &fakeAdapter{name: "b", values: map[string]any{"Revenue": 20.0}}
	o := newTestOrchestrator(t, []*fakeAdapter{a, b})

	_, err := o.Fuse(context.Background(), "ACME", nil, []string{"a", "b"})
	require.NoError(t, err)
	assert.Equal(t, int32(1), a.calls.Load())
	assert.Equal(t, int32(1), b.calls.Load())
}

func TestFuse_StatementsAndExtras(t *testing.T) {
	a := &fakeAdapter{
		name:       "a",
		values:     map[string]any{"FullTimeEmployees": 164000.0, "Code": "ACME", "Ignored": nil},
		statements: fullStatements(),
	}
	b := &fakeAdapter{name: "b", statements: map[model.StatementKind][]source.RawPeriod{
		model.IncomeStatement: {{End: "2024-12-31", Values: map[string]any{"revenue": 1.0}}},
	}}
	o := newTestOrchestrator(t, []*fakeAdapter{a, b})

	rec, err := o.Fuse(context.Background(), "ACME", []model.Field{model.Revenue}, []string{"a", "b"})
	require.NoError(t, err)

	income := rec.Statement(model.IncomeStatement)
	require.NotNil(t, income)
	assert.Equal(t, "a", income.Source)
	require.Len(t, income.Periods, 2)
	assert.Equal(t, "2023-12-31", income.Periods[0].End)
	assert.Equal(t, 1000.0, income.Periods[0].Values[model.Revenue])
	assert.Equal(t, 1200.0, income.Periods[1].Values[model.Revenue])
	assert.Equal(t, 120.0, income.Periods[1].Values[model.NetIncome])

	balance := rec.Statement(model.BalanceSheet)
	require.NotNil(t, balance)
	assert.Equal(t, 3000.0, balance.Periods[0].Values[model.TotalLiabilities])
	assert.Equal(t, 2000.0, balance.Periods[0].Values[model.TotalEquity])

	assert.Equal(t, 164000.0, rec.Extras["a.FullTimeEmployees"])
	assert.Equal(t, "ACME", rec.Extras["a.Code"])
	assert.NotContains(t, rec.Extras, "a.Ignored")
}

func TestFuse_ScalarFromLatestStatementPeriod(t *testing.T) {
	a := &fakeAdapter{name: "a", statements: fullStatements()}
	o := newTestOrchestrator(t, []*fakeAdapter{a})

	rec, err := o.Fuse(context.Background(), "ACME", []model.Field{model.Revenue, model.TotalAssets}, []string{"a"})
	require.NoError(t, err)

	m := rec.Metrics[model.Revenue]
	assert.Equal(t, 1200.0, m.Value)
	assert.Equal(t, "2024-12-31", m.Period)
	assert.Equal(t, "totalRevenue", m.VendorKey)
	assert.Equal(t, 5000.0, rec.Metrics[model.TotalAssets].Value)
}

func TestFuse_AdapterPanicIsReturned(t *testing.T) {
	for _, prefetch := range []bool{true, false} {
		a := &fakeAdapter{name: "a", panicMsg: "nil map"}
		o := newTestOrchestrator(t, []*fakeAdapter{a}, WithPrefetch(prefetch))

		_, err := o.Fuse(context.Background(), "ACME", nil, []string{"a"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "panicked")
	}
}

func TestFuse_EmptyTicker(t *testing.T) {
	o := newTestOrchestrator(t, nil)
	_, err := o.Fuse(context.Background(), "  ", nil, nil)
	assert.Error(t, err)
}

func TestFuse_SectorProfile(t *testing.T) {
	a := &fakeAdapter{name: "a", values: map[string]any{
		"Industry":                  "Banks - Regional",
		"Deposits":                  9000.0,
		"Special Commission Income": 500.0,
	}}
	o := newTestOrchestrator(t, []*fakeAdapter{a})

	rec, err := o.Fuse(context.Background(), "RJHI", []model.Field{model.Revenue}, []string{"a"})
	require.NoError(t, err)
	assert.Equal(t, "bank", rec.Sector)
	assert.Equal(t, 500.0, rec.Metrics[model.Revenue].Value)
}

func TestFromConfig(t *testing.T) {
	o := FromConfig(source.NewRegistry(), nil, config.FusionConfig{
		CacheTTLMinutes: 30,
		Prefetch:        false,
		Decay:           config.DecayConfig{HalfLifeDays: 90, Floor: 0.2},
	})
	assert.Equal(t, 30*time.Minute, o.ttl)
	assert.False(t, o.prefetch)
	assert.Equal(t, provenance.Decay{HalfLifeDays: 90, Floor: 0.2}, o.decay)
}

func TestSignature(t *testing.T) {
	s1 := Signature("aapl", []model.Field{model.Revenue, model.EPS}, []string{"eodhd", "fmp"})
	s2 := Signature("AAPL", []model.Field{model.EPS, model.Revenue}, []string{"eodhd", "fmp"})
	s3 := Signature("AAPL", []model.Field{model.EPS, model.Revenue}, []string{"fmp", "eodhd"})

	assert.Equal(t, s1, s2, "field order must not change the key")
	assert.NotEqual(t, s2, s3, "priority order must change the key")
	assert.Contains(t, s1, "AAPL:")
}

func TestAccept(t *testing.T) {
	cases := []struct {
		field   model.Field
		raw     any
		want    any
		outcome model.Outcome
	}{
		{model.Revenue, 12.5, 12.5, model.OutcomeAccepted},
		{model.Revenue, "383285000000", 383285000000.0, model.OutcomeAccepted},
		{model.Revenue, " 1,250.5 ", 1250.5, model.OutcomeAccepted},
		{model.Revenue, 7, 7.0, model.OutcomeAccepted},
		{model.Revenue, nil, nil, model.OutcomePlaceholder},
		{model.Revenue, "None", nil, model.OutcomePlaceholder},
		{model.Revenue, "none", nil, model.OutcomePlaceholder},
		{model.Revenue, "N/A", nil, model.OutcomePlaceholder},
		{model.Revenue, "-", nil, model.OutcomePlaceholder},
		{model.Revenue, "", nil, model.OutcomePlaceholder},
		{model.Revenue, "abc", nil, model.OutcomeUnparseable},
		{model.Revenue, true, nil, model.OutcomeUnparseable},
		{model.Name, "  Acme Corp ", "Acme Corp", model.OutcomeAccepted},
		{model.Name, 12.0, nil, model.OutcomeUnparseable},
		{model.Name, "null", nil, model.OutcomePlaceholder},
	}
	for _, tc := range cases {
		got, outcome := accept(tc.field, tc.raw)
		assert.Equal(t, tc.outcome, outcome, "%s %v", tc.field, tc.raw)
		assert.Equal(t, tc.want, got, "%s %v", tc.field, tc.raw)
	}
}
