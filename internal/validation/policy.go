package validation

import (
	"os"
	"slices"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/finfuse/internal/config"
	"github.com/sells-group/finfuse/internal/model"
)

// Bounds is an inclusive plausible range.
type Bounds struct {
	Min float64 `yaml:"min"`
	Max float64 `yaml:"max"`
}

// Contains reports whether v lies within the bounds.
func (b Bounds) Contains(v float64) bool {
	return v >= b.Min && v <= b.Max
}

// Derivation recomputes a ratio from two components.
type Derivation struct {
	Ratio       model.Field `yaml:"ratio"`
	Numerator   model.Field `yaml:"numerator"`
	Denominator model.Field `yaml:"denominator"`
}

// Policy holds every tolerance the checks use. The defaults are heuristics
// and are meant to be tuned.
type Policy struct {
	RequiredStatements   []model.StatementKind   `yaml:"required_statements"`
	BalanceTolerance     float64                 `yaml:"balance_tolerance"`
	RatioBounds          map[model.Field]Bounds  `yaml:"ratio_bounds"`
	TrackedSeries        []model.Field           `yaml:"tracked_series"`
	YoYThreshold         float64                 `yaml:"yoy_threshold"`
	Derivations          []Derivation            `yaml:"derivations"`
	CrossMetricTolerance float64                 `yaml:"crossmetric_tolerance"`
	BaselineTolerances   map[model.Field]float64 `yaml:"baseline_tolerances"`
	BaselinePassFraction float64                 `yaml:"baseline_pass_fraction"`
	MaxWarnings          int                     `yaml:"max_warnings"`
}

// DefaultPolicy returns the stock tolerances.
func DefaultPolicy() Policy {
	return Policy{
		RequiredStatements: []model.StatementKind{model.IncomeStatement, model.BalanceSheet, model.CashFlowStatement},
		BalanceTolerance:   0.02,
		RatioBounds: map[model.Field]Bounds{
			model.PERatio:         {Min: -100, Max: 200},
			model.ROE:             {Min: -0.5, Max: 2.0},
			model.ROA:             {Min: -0.3, Max: 0.5},
			model.DebtToEquity:    {Min: 0, Max: 10},
			model.CurrentRatio:    {Min: 0, Max: 20},
			model.GrossMargin:     {Min: -0.5, Max: 1.0},
			model.OperatingMargin: {Min: -1, Max: 1},
			model.NetMargin:       {Min: -1, Max: 1},
		},
		TrackedSeries: []model.Field{model.Revenue},
		YoYThreshold:  1.0,
		Derivations: []Derivation{
			{Ratio: model.ROE, Numerator: model.NetIncome, Denominator: model.TotalEquity},
			{Ratio: model.ROA, Numerator: model.NetIncome, Denominator: model.TotalAssets},
			{Ratio: model.DebtToEquity, Numerator: model.TotalDebt, Denominator: model.TotalEquity},
			{Ratio: model.CurrentRatio, Numerator: model.CurrentAssets, Denominator: model.CurrentLiabilities},
			{Ratio: model.GrossMargin, Numerator: model.GrossProfit, Denominator: model.Revenue},
			{Ratio: model.OperatingMargin, Numerator: model.OperatingIncome, Denominator: model.Revenue},
			{Ratio: model.NetMargin, Numerator: model.NetIncome, Denominator: model.Revenue},
		},
		CrossMetricTolerance: 0.05,
		BaselineTolerances: map[model.Field]float64{
			model.Revenue:      0.02,
			model.EPS:          0.03,
			model.PERatio:      0.05,
			model.PriceToBook:  0.05,
			model.CurrentRatio: 0.05,
			model.MarketCap:    0.05,
			model.ROE:          0.10,
			model.ROA:          0.10,
			model.DebtToEquity: 0.10,
			model.Beta:         0.10,
		},
		BaselinePassFraction: 0.8,
		MaxWarnings:          3,
	}
}

// PolicyFromConfig overlays the configured tolerances and the optional
// policy file on the defaults.
func PolicyFromConfig(cfg config.ValidationConfig) (Policy, error) {
	p := DefaultPolicy()
	if cfg.BalanceTolerance > 0 {
		p.BalanceTolerance = cfg.BalanceTolerance
	}
	if cfg.CrossMetricTolerance > 0 {
		p.CrossMetricTolerance = cfg.CrossMetricTolerance
	}
	if cfg.YoYThreshold > 0 {
		p.YoYThreshold = cfg.YoYThreshold
	}
	if cfg.BaselinePassFraction > 0 {
		p.BaselinePassFraction = cfg.BaselinePassFraction
	}
	if cfg.MaxWarnings > 0 {
		p.MaxWarnings = cfg.MaxWarnings
	}
	if cfg.PolicyFile != "" {
		data, err := os.ReadFile(cfg.PolicyFile)
		if err != nil {
			return Policy{}, eris.Wrapf(err, "validation: read policy %s", cfg.PolicyFile)
		}
		if err := yaml.Unmarshal(data, &p); err != nil {
			return Policy{}, eris.Wrap(err, "validation: parse policy")
		}
	}
	if err := p.Validate(); err != nil {
		return Policy{}, err
	}
	return p, nil
}

// Validate rejects unknown fields and out-of-range tolerances.
func (p Policy) Validate() error {
	var fields []model.Field
	for f := range p.RatioBounds {
		fields = append(fields, f)
	}
	for f := range p.BaselineTolerances {
		fields = append(fields, f)
	}
	fields = append(fields, p.TrackedSeries...)
	for _, d := range p.Derivations {
		fields = append(fields, d.Ratio, d.Numerator, d.Denominator)
	}
	for _, f := range fields {
		if !model.IsKnown(f) {
			return eris.Errorf("validation: policy names unknown field %q", f)
		}
	}
	for _, k := range p.RequiredStatements {
		if !slices.Contains(model.StatementKinds, k) {
			return eris.Errorf("validation: policy names unknown statement %q", k)
		}
	}
	for f, b := range p.RatioBounds {
		if b.Min > b.Max {
			return eris.Errorf("validation: ratio bounds for %s are inverted", f)
		}
	}
	if p.BaselinePassFraction <= 0 || p.BaselinePassFraction > 1 {
		return eris.New("validation: baseline_pass_fraction must be within (0, 1]")
	}
	return nil
}

// sortedFields returns the keys of m in canonical order.
func sortedFields[V any](m map[model.Field]V) []model.Field {
	out := make([]model.Field, 0, len(m))
	for f := range m {
		out = append(out, f)
	}
	model.SortFields(out)
	return out
}
