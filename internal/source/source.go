// Package source defines the vendor adapters that feed the fusion pipeline.
package source

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/finfuse/internal/model"
	"github.com/sells-group/finfuse/internal/quota"
	"github.com/sells-group/finfuse/internal/resilience"
)

// Request describes what a fusion pass needs from one adapter.
type Request struct {
	Ticker string
	Fields []model.Field
	// Statements asks for the annual statement tables in addition to the
	// scalar endpoints.
	Statements bool
}

// RawPeriod is one fiscal period of a vendor statement table, keyed by the
// vendor's own line item labels.
type RawPeriod struct {
	End    string
	Values map[string]any
}

// Record is the raw payload of one adapter pass for one ticker. Values keep
// the vendor's keys and raw values (strings, numbers or nil). A Record is
// discarded once fusion has read it.
type Record struct {
	Source     string
	Endpoints  []string
	FetchedAt  time.Time
	Values     map[string]any
	Statements map[model.StatementKind][]RawPeriod
	// Complete is false when at least one planned endpoint failed.
	Complete bool
}

// NewRecord creates an empty, complete record.
func NewRecord(source string, fetchedAt time.Time) *Record {
	return &Record{
		Source:     source,
		FetchedAt:  fetchedAt,
		Values:     make(map[string]any),
		Statements: make(map[model.StatementKind][]RawPeriod),
		Complete:   true,
	}
}

// Set stores a vendor value unless an earlier endpoint already supplied it.
func (r *Record) Set(key string, v any) {
	if _, ok := r.Values[key]; ok {
		return
	}
	r.Values[key] = v
}

// Adapter wraps one external vendor.
type Adapter interface {
	// Name returns the source identifier used in priority lists.
	Name() string
	// Available is false when the adapter has no credentials configured.
	Available() bool
	// Fetch performs at most one call per vendor endpoint and returns the
	// flattened payload. Failures are *resilience.Error values.
	Fetch(ctx context.Context, req Request) (*Record, error)
}

// QuotaReporter is implemented by adapters that own a quota tracker.
type QuotaReporter interface {
	Quota() quota.Snapshot
}

// ErrNoCredentials marks an adapter without a configured key.
var ErrNoCredentials = errors.New("no credentials configured")

func unavailable(source string) error {
	return resilience.NewError(resilience.KindUnavailable, source, "", ErrNoCredentials)
}

// step is one vendor endpoint in an adapter's fetch plan. A failed primary
// step ends the pass.
type step struct {
	endpoint string
	primary  bool
	run      func(ctx context.Context, rec *Record) error
}

// runSteps executes a fetch plan. The record is returned when at least one
// step succeeded; it is marked incomplete if any step failed.
func runSteps(ctx context.Context, rec *Record, steps []step) (*Record, error) {
	var firstErr error
	for _, s := range steps {
		err := s.run(ctx, rec)
		if err == nil {
			rec.Endpoints = append(rec.Endpoints, s.endpoint)
			continue
		}

		rec.Complete = false
		if firstErr == nil {
			firstErr = err
		}
		zap.L().Debug("source: endpoint failed",
			zap.String("source", rec.Source),
			zap.String("endpoint", s.endpoint),
			zap.String("kind", string(resilience.KindOf(err))),
			zap.Error(err),
		)
		if s.primary || halts(err) || ctx.Err() != nil {
			break
		}
	}
	if len(rec.Endpoints) == 0 {
		return nil, firstErr
	}
	return rec, nil
}

// halts reports failures after which further calls to the vendor are wasted.
func halts(err error) bool {
	switch resilience.KindOf(err) {
	case resilience.KindQuotaExhausted, resilience.KindVendorSoftLimit, resilience.KindUnavailable:
		return true
	}
	return false
}

// Registry holds the adapters constructed for this process.
type Registry struct {
	mu       sync.RWMutex
	adapters map[string]Adapter
}

// NewRegistry creates an empty adapter registry.
func NewRegistry() *Registry {
	return &Registry{
		adapters: make(map[string]Adapter),
	}
}

// Register adds an adapter, replacing any adapter with the same name.
func (r *Registry) Register(a Adapter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adapters[a.Name()] = a
}

// Get returns an adapter by name, or nil if not found.
func (r *Registry) Get(name string) Adapter {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.adapters[name]
}

// List returns all registered adapter names, sorted.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.adapters))
	for name := range r.adapters {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Ordered returns the registered adapters named in priority, in that order.
// Unknown names are skipped.
func (r *Registry) Ordered(priority []string) []Adapter {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Adapter, 0, len(priority))
	for _, name := range priority {
		a, ok := r.adapters[name]
		if !ok {
			zap.L().Warn("source: priority names unregistered adapter", zap.String("source", name))
			continue
		}
		out = append(out, a)
	}
	return out
}

// Status is the externally visible state of one adapter.
type Status struct {
	Source    string          `json:"source"`
	Available bool            `json:"available"`
	Quota     *quota.Snapshot `json:"quota,omitempty"`
}

// Statuses reports every registered adapter, sorted by name.
func (r *Registry) Statuses() []Status {
	names := r.List()
	out := make([]Status, 0, len(names))
	for _, name := range names {
		a := r.Get(name)
		st := Status{Source: name, Available: a.Available()}
		if q, ok := a.(QuotaReporter); ok {
			snap := q.Quota()
			st.Quota = &snap
		}
		out = append(out, st)
	}
	return out
}
