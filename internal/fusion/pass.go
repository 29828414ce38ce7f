package fusion

import (
	"context"
	"slices"

	"github.com/sells-group/finfuse/internal/dictionary"
	"github.com/sells-group/finfuse/internal/model"
	"github.com/sells-group/finfuse/internal/provenance"
	"github.com/sells-group/finfuse/internal/source"
)

// pass holds the state of one fusion pass. It is owned by one goroutine.
type pass struct {
	o        *Orchestrator
	fields   []model.Field
	adapters []source.Adapter
	req      source.Request
	trail    *provenance.Trail
	terms    []string
	profile  dictionary.Profile
	out      *model.CompanyRecord
}

func newPass(o *Orchestrator, ticker string, fields []model.Field, adapters []source.Adapter) *pass {
	out := model.NewCompanyRecord(ticker)
	out.Sector = string(dictionary.ProfileGeneral)
	for _, a := range adapters {
		out.Sources = append(out.Sources, a.Name())
	}
	return &pass{
		o:        o,
		fields:   fields,
		adapters: adapters,
		req:      source.Request{Ticker: ticker, Fields: fields, Statements: true},
		trail:    provenance.NewTrail(fields),
		profile:  dictionary.ProfileGeneral,
		out:      out,
	}
}

// run fetches and merges adapters in priority order. The tier of an adapter
// is its position in the priority list, so merge order alone decides which
// source wins a field regardless of fetch latency.
func (p *pass) run(ctx context.Context) error {
	var results []*fetched
	if p.o.prefetch {
		var err error
		if results, err = p.o.fetchAll(ctx, p.adapters, p.req); err != nil {
			return err
		}
	}

	for tier, a := range p.adapters {
		var f fetched
		if results != nil {
			f = *results[tier]
		} else {
			if !p.needsMore() {
				break
			}
			var err error
			if f, err = p.o.fetch(ctx, a, p.req); err != nil {
				return err
			}
		}
		p.merge(tier, a.Name(), f)
	}

	if err := ctx.Err(); err != nil && len(p.out.Metrics) == 0 {
		return err
	}
	p.out.Provenance = p.trail.List()
	p.out.FusedAt = p.o.nowFunc()
	return nil
}

// needsMore reports whether a requested field or a statement table is
// still missing.
func (p *pass) needsMore() bool {
	if len(p.out.Statements) < len(model.StatementKinds) {
		return true
	}
	for _, f := range p.fields {
		if !p.out.Has(f) {
			return true
		}
	}
	return false
}

func (p *pass) merge(tier int, name string, f fetched) {
	if f.rec == nil {
		for _, field := range p.fields {
			if p.out.Has(field) {
				continue
			}
			a := attemptFor(f)
			a.Source, a.Tier = name, tier
			p.trail.Attempt(field, a)
		}
		return
	}

	rec := f.rec
	p.classify(rec)
	scalars := p.o.dict.Lookup(p.profile, rec.Values)
	latest := p.latestLookups(rec)

	for _, field := range p.fields {
		if p.out.Has(field) {
			continue
		}
		attempt := model.ProvenanceAttempt{Source: name, Tier: tier, Outcome: model.OutcomeUnresolved}
		cand, ok := p.resolve(field, scalars, "", &attempt)
		if !ok {
			for _, l := range latest {
				if cand, ok = p.resolve(field, l.lookup, l.end, &attempt); ok {
					break
				}
			}
		}
		if ok {
			cand.Source, cand.Tier, cand.Complete, cand.FetchedAt = name, tier, rec.Complete, rec.FetchedAt
			p.out.Metrics[field] = p.o.wrapper.Wrap(cand)
		}
		p.trail.Attempt(field, attempt)
	}

	p.mergeStatements(name, rec)
	p.mergeExtras(name, rec, scalars)
}

// resolve tries one lookup. attempt keeps the most informative outcome: a
// resolved-but-rejected value outranks an unresolved field.
func (p *pass) resolve(field model.Field, l *dictionary.Lookup, period string, attempt *model.ProvenanceAttempt) (provenance.Candidate, bool) {
	r, ok := l.Resolve(field)
	if !ok {
		return provenance.Candidate{}, false
	}
	v, outcome := accept(field, r.Value)
	if outcome != model.OutcomeAccepted {
		if attempt.Outcome == model.OutcomeUnresolved {
			attempt.Outcome, attempt.VendorKey = outcome, r.Key
		}
		return provenance.Candidate{}, false
	}
	attempt.Outcome, attempt.VendorKey = model.OutcomeAccepted, r.Key
	attempt.Detail = r.Stage.String()
	return provenance.Candidate{Field: field, Value: v, VendorKey: r.Key, Period: period}, true
}

type periodLookup struct {
	end    string
	lookup *dictionary.Lookup
}

// latestLookups indexes the most recent period of each statement the record
// carries, in statement order.
func (p *pass) latestLookups(rec *source.Record) []periodLookup {
	var out []periodLookup
	for _, kind := range model.StatementKinds {
		periods := rec.Statements[kind]
		if len(periods) == 0 {
			continue
		}
		last := periods[0]
		for _, rp := range periods[1:] {
			if rp.End > last.End {
				last = rp
			}
		}
		out = append(out, periodLookup{end: last.End, lookup: p.o.dict.Lookup(p.profile, last.Values)})
	}
	return out
}

// classify widens the sector vocabulary with rec and re-runs the classifier.
func (p *pass) classify(rec *source.Record) {
	for k, v := range rec.Values {
		p.terms = append(p.terms, k)
		if s, ok := v.(string); ok {
			p.terms = append(p.terms, s)
		}
	}
	for _, periods := range rec.Statements {
		if len(periods) > 0 {
			for k := range periods[len(periods)-1].Values {
				p.terms = append(p.terms, k)
			}
		}
	}
	p.profile = p.o.dict.Classify(p.terms)
	p.out.Sector = string(p.profile)
}

// mergeStatements takes each statement table whole from the first source
// that supplies a usable one.
func (p *pass) mergeStatements(name string, rec *source.Record) {
	for _, kind := range model.StatementKinds {
		if _, ok := p.out.Statements[kind]; ok {
			continue
		}
		st := model.Statement{Source: name}
		for _, rp := range rec.Statements[kind] {
			l := p.o.dict.Lookup(p.profile, rp.Values)
			period := model.Period{End: rp.End, Values: make(map[model.Field]float64)}
			for _, field := range p.o.dict.Fields(p.profile) {
				spec, _ := model.Spec(field)
				if spec.Kind != model.KindNumeric {
					continue
				}
				r, ok := l.Resolve(field)
				if !ok {
					continue
				}
				if v, outcome := accept(field, r.Value); outcome == model.OutcomeAccepted {
					period.Values[field] = v.(float64)
				}
			}
			if len(period.Values) > 0 {
				st.Periods = append(st.Periods, period)
			}
		}
		if st.Empty() {
			continue
		}
		st.Sort()
		p.out.Statements[kind] = st
	}
}

// mergeExtras keeps scalar vendor values no canonical field claimed.
func (p *pass) mergeExtras(name string, rec *source.Record, l *dictionary.Lookup) {
	for _, k := range l.Unmapped() {
		v := rec.Values[k]
		if v == nil {
			continue
		}
		if p.out.Extras == nil {
			p.out.Extras = make(map[string]any)
		}
		p.out.Extras[name+"."+k] = v
	}
}

// Resolved returns the fields of rec that were fused, in canonical order.
func Resolved(rec *model.CompanyRecord) []model.Field {
	out := make([]model.Field, 0, len(rec.Metrics))
	for f := range rec.Metrics {
		out = append(out, f)
	}
	slices.Sort(out)
	return out
}
