package report

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/finfuse/internal/model"
)

// Canonical is the read-only view handed to calculators and renderers:
// canonical field name to scalar, plus the statement tables.
type Canonical struct {
	Ticker     string                                  `json:"ticker"`
	Sector     string                                  `json:"sector_profile,omitempty"`
	Values     map[string]any                          `json:"values"`
	Statements map[model.StatementKind]model.Statement `json:"statements"`
	FusedAt    time.Time                               `json:"fused_at"`
}

// CanonicalOf flattens rec.
func CanonicalOf(rec *model.CompanyRecord) Canonical {
	return Canonical{
		Ticker:     rec.Ticker,
		Sector:     rec.Sector,
		Values:     rec.Flat(),
		Statements: rec.Statements,
		FusedAt:    rec.FusedAt.UTC(),
	}
}

// EncodeRecord writes rec in the given format. JSON carries the full
// record with provenance; text is a per-field table.
func EncodeRecord(w io.Writer, f Format, rec *model.CompanyRecord) error {
	if f == FormatText {
		return encodeRecordText(w, rec)
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return eris.Wrap(enc.Encode(rec), "report: encode record")
}

func encodeRecordText(w io.Writer, rec *model.CompanyRecord) error {
	fields := make([]model.Field, 0, len(rec.Metrics))
	for f := range rec.Metrics {
		fields = append(fields, f)
	}
	model.SortFields(fields)

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "ticker\t%s\n", rec.Ticker)
	fmt.Fprintf(tw, "sector_profile\t%s\n", rec.Sector)
	fmt.Fprintf(tw, "fields\t%d\n\n", len(fields))
	fmt.Fprintln(tw, "field\tvalue\tunit\tsource\tperiod\tconfidence")
	for _, f := range fields {
		m := rec.Metrics[f]
		period := m.Period
		if period == "" {
			period = "-"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%.2f\n", f, value(m), unit(f), m.Source, period, m.Confidence)
	}

	kinds := make([]string, 0, len(rec.Statements))
	for k, st := range rec.Statements {
		kinds = append(kinds, fmt.Sprintf("%s\t%s\t%d periods", k, st.Source, len(st.Periods)))
	}
	sort.Strings(kinds)
	if len(kinds) > 0 {
		fmt.Fprintln(tw, "\nstatement\tsource\tperiods")
		for _, k := range kinds {
			fmt.Fprintln(tw, k)
		}
	}
	return eris.Wrap(tw.Flush(), "report: write record")
}

func unit(f model.Field) string {
	if spec, ok := model.Spec(f); ok && spec.Unit != model.UnitNone {
		return string(spec.Unit)
	}
	return "-"
}

func value(m model.Metric) string {
	if v, ok := m.Float(); ok {
		return strconv.FormatFloat(v, 'f', -1, 64)
	}
	return fmt.Sprint(m.Value)
}
