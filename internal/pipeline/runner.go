// Package pipeline runs fusion and validation over batches of tickers.
package pipeline

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/finfuse/internal/model"
	"github.com/sells-group/finfuse/internal/validation"
)

// DefaultConcurrency is the number of tickers processed at once.
const DefaultConcurrency = 4

// Fuser builds a fused record for one ticker.
type Fuser interface {
	Fuse(ctx context.Context, ticker string, fields []model.Field, priority []string) (*model.CompanyRecord, error)
}

// Validator scores a fused record.
type Validator interface {
	Validate(ctx context.Context, rec *model.CompanyRecord) *validation.Report
}

// Observer is notified of every finished ticker.
type Observer interface {
	ObserveReport(r *validation.Report, elapsed time.Duration)
}

// Result is the outcome for one ticker. Record is nil when fusion failed;
// Report is never nil.
type Result struct {
	Ticker string
	Record *model.CompanyRecord
	Report *validation.Report
	Err    error
}

// Runner processes tickers through fuse then validate. One ticker's
// failure or panic becomes a FAIL report and never aborts the batch.
type Runner struct {
	fuser       Fuser
	validator   Validator
	fields      []model.Field
	priority    []string
	concurrency int
	observers   []Observer
	nowFunc     func() time.Time
}

// Option configures a Runner.
type Option func(*Runner)

// WithFields limits fusion to fields.
func WithFields(fields []model.Field) Option {
	return func(r *Runner) { r.fields = fields }
}

// WithPriority sets the adapter order.
func WithPriority(priority []string) Option {
	return func(r *Runner) { r.priority = priority }
}

// WithConcurrency bounds the number of tickers in flight.
func WithConcurrency(n int) Option {
	return func(r *Runner) {
		if n > 0 {
			r.concurrency = n
		}
	}
}

// WithObserver adds an observer.
func WithObserver(o Observer) Option {
	return func(r *Runner) {
		if o != nil {
			r.observers = append(r.observers, o)
		}
	}
}

// WithNow overrides the clock.
func WithNow(now func() time.Time) Option {
	return func(r *Runner) { r.nowFunc = now }
}

// NewRunner creates a Runner.
func NewRunner(f Fuser, v Validator, opts ...Option) *Runner {
	r := &Runner{
		fuser:       f,
		validator:   v,
		concurrency: DefaultConcurrency,
		nowFunc:     time.Now,
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// RunOne processes a single ticker under a fresh run id.
func (r *Runner) RunOne(ctx context.Context, ticker string) Result {
	return r.process(ctx, ticker, uuid.NewString())
}

// Run processes tickers concurrently and returns results in input order.
// Duplicate and blank tickers are dropped. Every report of the batch
// shares one run id. The error is non-nil only when ctx ended early.
func (r *Runner) Run(ctx context.Context, tickers []string) ([]Result, error) {
	tickers = Normalize(tickers)
	runID := uuid.NewString()
	log := zap.L().With(zap.String("run_id", runID))
	log.Info("pipeline: starting batch",
		zap.Int("tickers", len(tickers)),
		zap.Int("concurrency", r.concurrency),
	)

	results := make([]Result, len(tickers))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.concurrency)
	for i, t := range tickers {
		g.Go(func() error {
			results[i] = r.process(gctx, t, runID)
			return nil
		})
	}
	_ = g.Wait()

	var failed int
	for _, res := range results {
		if res.Report.OverallStatus == validation.StatusFail {
			failed++
		}
	}
	log.Info("pipeline: batch complete",
		zap.Int("tickers", len(results)),
		zap.Int("failed", failed),
	)

	if err := ctx.Err(); err != nil {
		return results, eris.Wrap(err, "pipeline: batch interrupted")
	}
	return results, nil
}

func (r *Runner) process(ctx context.Context, ticker, runID string) (res Result) {
	start := r.nowFunc()
	res.Ticker = model.NormalizeTicker(ticker)
	log := zap.L().With(zap.String("ticker", res.Ticker))

	defer func() {
		if p := recover(); p != nil {
			res.Err = eris.Errorf("pipeline: panic processing %s: %v", res.Ticker, p)
			res.Report = validation.ErrorReport(res.Ticker, res.Err, r.nowFunc().UTC())
			log.Error("pipeline: ticker panicked", zap.Any("panic", p))
		}
		if res.Report == nil {
			res.Report = validation.ErrorReport(res.Ticker, eris.New("pipeline: validator returned no report"), r.nowFunc().UTC())
		}
		res.Report.RunID = runID
		elapsed := r.nowFunc().Sub(start)
		for _, o := range r.observers {
			o.ObserveReport(res.Report, elapsed)
		}
	}()

	if res.Ticker == "" {
		res.Err = eris.New("pipeline: empty ticker")
		res.Report = validation.ErrorReport(res.Ticker, res.Err, r.nowFunc().UTC())
		return res
	}

	rec, err := r.fuser.Fuse(ctx, res.Ticker, r.fields, r.priority)
	if err != nil {
		log.Error("pipeline: fusion failed", zap.Error(err))
		res.Err = err
		res.Report = validation.ErrorReport(res.Ticker, err, r.nowFunc().UTC())
		return res
	}
	res.Record = rec
	res.Report = r.validator.Validate(ctx, rec)
	return res
}

// Reports extracts the reports of results.
func Reports(results []Result) []*validation.Report {
	out := make([]*validation.Report, len(results))
	for i := range results {
		out[i] = results[i].Report
	}
	return out
}
