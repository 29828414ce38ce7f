package validation

import (
	"context"
	"fmt"
	"math"

	"go.uber.org/zap"

	"github.com/sells-group/finfuse/internal/model"
)

// check produces the findings of one validation pass over a record.
type check func(ctx context.Context, e *Engine, rec *model.CompanyRecord) []Finding

func relDiff(a, b float64) float64 {
	return math.Abs(a-b) / math.Abs(b)
}

func structural(_ context.Context, e *Engine, rec *model.CompanyRecord) []Finding {
	var out []Finding
	for _, kind := range e.policy.RequiredStatements {
		metric := string(kind)
		st := rec.Statement(kind)
		switch {
		case st == nil:
			f := newFinding(CheckStructural, metric, StatusFail)
			f.Message = "statement missing"
			out = append(out, f)
		case st.Empty():
			f := newFinding(CheckStructural, metric, StatusFail)
			f.Message = "statement empty"
			out = append(out, f)
		default:
			out = append(out, newFinding(CheckStructural, metric, StatusPass))
		}
	}
	return out
}

// balanceInputs prefers the latest balance sheet period when it carries all
// three line items so the identity is tested within one period.
func balanceInputs(rec *model.CompanyRecord) (assets, liab, equity float64, ok bool) {
	if p := rec.Statement(model.BalanceSheet).Latest(); p != nil {
		a, okA := p.Values[model.TotalAssets]
		l, okL := p.Values[model.TotalLiabilities]
		q, okQ := p.Values[model.TotalEquity]
		if okA && okL && okQ {
			return a, l, q, true
		}
	}
	a, okA := rec.Value(model.TotalAssets)
	l, okL := rec.Value(model.TotalLiabilities)
	q, okQ := rec.Value(model.TotalEquity)
	return a, l, q, okA && okL && okQ
}

func logical(_ context.Context, e *Engine, rec *model.CompanyRecord) []Finding {
	out := []Finding{balance(e.policy.BalanceTolerance, rec)}

	rev, hasRev := rec.Value(model.Revenue)
	ni, hasNI := rec.Value(model.NetIncome)

	// Net income above revenue is impossible when income is positive.
	metric := "NetIncome<=Revenue"
	switch {
	case !hasRev || !hasNI:
		out = append(out, newFinding(CheckLogical, metric, StatusMissing))
	case ni > 0 && ni > rev:
		f := newFinding(CheckLogical, metric, StatusFail).with(ptr(ni), ptr(rev), nil)
		f.Message = "net income exceeds revenue"
		out = append(out, f)
	default:
		out = append(out, newFinding(CheckLogical, metric, StatusPass).with(ptr(ni), ptr(rev), nil))
	}

	if gp, ok := rec.Value(model.GrossProfit); ok && hasRev {
		metric := "GrossProfit<=Revenue"
		if gp > rev && gp > 0 {
			f := newFinding(CheckLogical, metric, StatusFail).with(ptr(gp), ptr(rev), nil)
			f.Message = "gross profit exceeds revenue"
			out = append(out, f)
		} else {
			out = append(out, newFinding(CheckLogical, metric, StatusPass).with(ptr(gp), ptr(rev), nil))
		}
	}

	ca, hasCA := rec.Value(model.CurrentAssets)
	ta, hasTA := rec.Value(model.TotalAssets)
	if hasCA && hasTA {
		metric := "CurrentAssets<=TotalAssets"
		if ca > ta {
			f := newFinding(CheckLogical, metric, StatusFail).with(ptr(ca), ptr(ta), nil)
			f.Message = "current assets exceed total assets"
			out = append(out, f)
		} else {
			out = append(out, newFinding(CheckLogical, metric, StatusPass).with(ptr(ca), ptr(ta), nil))
		}
	}

	return append(out, negatives(rec)...)
}

// negatives fails every present field whose spec forbids a negative value.
func negatives(rec *model.CompanyRecord) []Finding {
	var out []Finding
	for _, field := range model.AllFields() {
		spec, _ := model.Spec(field)
		if spec.Kind != model.KindNumeric || spec.Sign != model.SignNonNegative {
			continue
		}
		v, ok := rec.Value(field)
		if !ok || v >= 0 {
			continue
		}
		f := newFinding(CheckLogical, fmt.Sprintf("%s>=0", field), StatusFail).with(ptr(v), ptr(0), nil)
		f.Message = "negative " + string(spec.Unit) + " value"
		if spec.Unit == model.UnitNone {
			f.Message = "negative value"
		}
		out = append(out, f)
	}
	return out
}

func balance(tol float64, rec *model.CompanyRecord) Finding {
	const metric = "Assets=Liabilities+Equity"
	assets, liab, equity, ok := balanceInputs(rec)
	if !ok {
		return newFinding(CheckLogical, metric, StatusMissing)
	}
	sum := liab + equity
	if assets == 0 {
		f := newFinding(CheckLogical, metric, StatusSkip).with(ptr(assets), ptr(sum), nil)
		f.Message = "total assets is zero"
		return f
	}
	diff := math.Abs(assets-sum) / math.Abs(assets)
	status := StatusPass
	if diff >= tol {
		status = StatusWarn
	}
	f := newFinding(CheckLogical, metric, status).with(ptr(assets), ptr(sum), ptr(diff*100))
	f.Tolerance = tol
	return f
}

func ratio(_ context.Context, e *Engine, rec *model.CompanyRecord) []Finding {
	var out []Finding
	for _, field := range sortedFields(e.policy.RatioBounds) {
		b := e.policy.RatioBounds[field]
		v, ok := rec.Value(field)
		if !ok {
			out = append(out, newFinding(CheckRatio, string(field), StatusMissing))
			continue
		}
		status := StatusPass
		if !b.Contains(v) {
			status = StatusWarn
		}
		f := newFinding(CheckRatio, string(field), status).with(ptr(v), nil, nil)
		if status == StatusWarn {
			f.Message = fmt.Sprintf("outside [%g, %g]", b.Min, b.Max)
		}
		out = append(out, f)
	}
	return out
}

// seriesFor returns the series of f from the first statement that carries
// at least one observation.
func seriesFor(rec *model.CompanyRecord, f model.Field) []model.SeriesPoint {
	for _, kind := range model.StatementKinds {
		if s := rec.Statement(kind).Series(f); len(s) > 0 {
			return s
		}
	}
	return nil
}

func timeSeries(_ context.Context, e *Engine, rec *model.CompanyRecord) []Finding {
	var out []Finding
	for _, field := range e.policy.TrackedSeries {
		series := seriesFor(rec, field)
		if len(series) < 2 {
			f := newFinding(CheckTimeSeries, string(field), StatusSkip)
			f.Message = "fewer than two periods"
			out = append(out, f)
			continue
		}
		for i := 1; i < len(series); i++ {
			prev, cur := series[i-1], series[i]
			metric := fmt.Sprintf("%s %s", field, cur.End)
			if prev.Value == 0 {
				f := newFinding(CheckTimeSeries, metric, StatusSkip).with(ptr(cur.Value), ptr(prev.Value), nil)
				f.Message = "prior period is zero"
				out = append(out, f)
				continue
			}
			change := (cur.Value - prev.Value) / math.Abs(prev.Value)
			status := StatusPass
			if math.Abs(change) > e.policy.YoYThreshold {
				status = StatusWarn
			}
			f := newFinding(CheckTimeSeries, metric, status).with(ptr(cur.Value), ptr(prev.Value), ptr(change*100))
			f.Tolerance = e.policy.YoYThreshold
			out = append(out, f)
		}
	}
	return out
}

func crossMetric(_ context.Context, e *Engine, rec *model.CompanyRecord) []Finding {
	tol := e.policy.CrossMetricTolerance
	var out []Finding
	for _, d := range e.policy.Derivations {
		stated, ok := rec.Float(d.Ratio)
		num, okN := rec.Value(d.Numerator)
		den, okD := rec.Value(d.Denominator)
		if !ok || !okN || !okD {
			out = append(out, newFinding(CheckCrossMetric, string(d.Ratio), StatusSkip))
			continue
		}
		if den == 0 {
			f := newFinding(CheckCrossMetric, string(d.Ratio), StatusSkip)
			f.Message = fmt.Sprintf("%s is zero", d.Denominator)
			out = append(out, f)
			continue
		}
		computed := num / den
		if computed == 0 {
			f := newFinding(CheckCrossMetric, string(d.Ratio), StatusSkip).with(ptr(stated), ptr(computed), nil)
			f.Message = "computed ratio is zero"
			out = append(out, f)
			continue
		}
		diff := relDiff(stated, computed)
		status := StatusPass
		if diff > tol {
			status = StatusWarn
		}
		f := newFinding(CheckCrossMetric, string(d.Ratio), status).with(ptr(stated), ptr(computed), ptr(diff*100))
		f.Tolerance = tol
		out = append(out, f)
	}
	return out
}

func baseline(ctx context.Context, e *Engine, rec *model.CompanyRecord) []Finding {
	if e.reference == nil {
		f := newFinding(CheckBaseline, "reference", StatusSkip)
		f.Message = "no reference source configured"
		return []Finding{f}
	}

	ref, err := e.reference.Lookup(ctx, rec.Ticker)
	if err != nil {
		zap.L().Warn("validation: reference lookup failed",
			zap.String("reference", e.reference.Name()),
			zap.String("ticker", rec.Ticker),
			zap.Error(err),
		)
		f := newFinding(CheckBaseline, "reference", StatusSkip)
		f.Message = err.Error()
		return []Finding{f}
	}

	var out []Finding
	for _, field := range sortedFields(e.policy.BaselineTolerances) {
		tol := e.policy.BaselineTolerances[field]
		own, hasOwn := rec.Value(field)
		want, hasRef := ref[field]
		switch {
		case !hasOwn && !hasRef:
			out = append(out, newFinding(CheckBaseline, string(field), StatusSkip))
			continue
		case !hasOwn:
			out = append(out, newFinding(CheckBaseline, string(field), StatusMissing).with(nil, ptr(want), nil))
			continue
		case !hasRef:
			out = append(out, newFinding(CheckBaseline, string(field), StatusMissing).with(ptr(own), nil, nil))
			continue
		case want == 0:
			f := newFinding(CheckBaseline, string(field), StatusSkip).with(ptr(own), ptr(want), nil)
			f.Message = "reference value is zero"
			out = append(out, f)
			continue
		}

		diff := relDiff(own, want)
		var status Status
		switch {
		case diff <= e.policy.BaselinePassFraction*tol:
			status = StatusPass
		case diff <= tol:
			status = StatusWarn
		default:
			status = StatusFail
		}
		f := newFinding(CheckBaseline, string(field), status).with(ptr(own), ptr(want), ptr(diff*100))
		f.Tolerance = tol
		out = append(out, f)
	}
	return out
}
