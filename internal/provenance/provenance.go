// Package provenance attaches source, period and confidence to fused values.
package provenance

import (
	"math"
	"time"

	"github.com/sells-group/finfuse/internal/config"
	"github.com/sells-group/finfuse/internal/model"
)

// Confidence bands by priority tier. Tier 0 is the first adapter in the
// priority list.
const (
	BandPrimary           = 0.95
	BandPrimaryIncomplete = 0.90
	BandSecondary         = 0.80
	BandTertiary          = 0.65
	BandFallback          = 0.50
)

// Band returns the base confidence for a value taken from the adapter at
// tier. complete is false when that adapter's response was partial.
func Band(tier int, complete bool) float64 {
	switch {
	case tier < 0:
		return 0
	case tier == 0 && complete:
		return BandPrimary
	case tier == 0:
		return BandPrimaryIncomplete
	case tier == 1:
		return BandSecondary
	case tier == 2:
		return BandTertiary
	default:
		return BandFallback
	}
}

// Decay holds staleness decay parameters. A zero half-life disables decay.
type Decay struct {
	HalfLifeDays float64
	Floor        float64
}

// DecayFromConfig converts the fusion decay settings.
func DecayFromConfig(c config.DecayConfig) Decay {
	return Decay{HalfLifeDays: c.HalfLifeDays, Floor: c.Floor}
}

// EffectiveConfidence computes the time-decayed confidence of a value.
// Formula: effective = max(floor, raw * 2^(-ageDays / halfLifeDays))
func EffectiveConfidence(raw float64, asOf, now time.Time, d Decay) float64 {
	if raw <= 0 {
		return 0
	}
	raw = math.Min(raw, 1)
	if d.HalfLifeDays <= 0 || asOf.IsZero() {
		return raw
	}

	ageDays := now.Sub(asOf).Hours() / 24
	if ageDays <= 0 {
		return raw
	}

	decayed := raw * math.Pow(2, -ageDays/d.HalfLifeDays)
	floor := math.Min(math.Max(d.Floor, 0), raw)
	if decayed < floor {
		return floor
	}
	return decayed
}

// Candidate is an accepted value before it is wrapped.
type Candidate struct {
	Field     model.Field
	Value     any
	Source    string
	VendorKey string
	Period    string // ISO period end, empty for point-in-time values
	Tier      int
	Complete  bool
	FetchedAt time.Time
}

// Wrapper turns candidates into fused metrics.
type Wrapper struct {
	decay   Decay
	nowFunc func() time.Time
}

// Option configures a Wrapper.
type Option func(*Wrapper)

// WithNow overrides the clock used for staleness.
func WithNow(now func() time.Time) Option {
	return func(w *Wrapper) { w.nowFunc = now }
}

// New creates a Wrapper.
func New(decay Decay, opts ...Option) *Wrapper {
	w := &Wrapper{decay: decay, nowFunc: time.Now}
	for _, o := range opts {
		o(w)
	}
	return w
}

// Wrap builds the fused metric for c. Staleness is measured from the period
// end when there is one, otherwise from the fetch time.
func (w *Wrapper) Wrap(c Candidate) model.Metric {
	asOf := c.FetchedAt
	if c.Period != "" {
		if t, err := time.Parse(time.DateOnly, c.Period); err == nil {
			asOf = t
		}
	}
	return model.Metric{
		Field:      c.Field,
		Value:      c.Value,
		Source:     c.Source,
		VendorKey:  c.VendorKey,
		Period:     c.Period,
		Tier:       c.Tier,
		Confidence: EffectiveConfidence(Band(c.Tier, c.Complete), asOf, w.nowFunc(), w.decay),
		FetchedAt:  c.FetchedAt,
	}
}

// Trail accumulates per-field attempts during one fusion pass. It is owned
// by a single goroutine.
type Trail struct {
	order   []model.Field
	byField map[model.Field]*model.FieldProvenance
}

// NewTrail creates a trail for fields in the given order.
func NewTrail(fields []model.Field) *Trail {
	t := &Trail{byField: make(map[model.Field]*model.FieldProvenance, len(fields))}
	for _, f := range fields {
		t.order = append(t.order, f)
		t.byField[f] = &model.FieldProvenance{Field: f}
	}
	return t
}

// Attempt appends one adapter consultation for f.
func (t *Trail) Attempt(f model.Field, a model.ProvenanceAttempt) {
	fp, ok := t.byField[f]
	if !ok {
		fp = &model.FieldProvenance{Field: f}
		t.byField[f] = fp
		t.order = append(t.order, f)
	}
	fp.Attempts = append(fp.Attempts, a)
	if a.Outcome == model.OutcomeAccepted && fp.Winner == "" {
		fp.Winner = a.Source
	}
}

// List returns the trail in field order.
func (t *Trail) List() []model.FieldProvenance {
	out := make([]model.FieldProvenance, 0, len(t.order))
	for _, f := range t.order {
		out = append(out, *t.byField[f])
	}
	return out
}
