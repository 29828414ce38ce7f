package model

import (
	"strings"
	"time"
)

// CompanyRecord is the canonical, confidence-annotated record for one ticker.
// A field with no usable value is absent from Metrics, never present as a placeholder.
type CompanyRecord struct {
	Ticker     string                      `json:"ticker"`
	Metrics    map[Field]Metric            `json:"metrics"`
	Statements map[StatementKind]Statement `json:"statements"`
	Sector     string                      `json:"sector_profile"`
	Provenance []FieldProvenance           `json:"provenance,omitempty"`
	Extras     map[string]any              `json:"extras,omitempty"`
	FusedAt    time.Time                   `json:"fused_at"`
	Sources    []string                    `json:"sources"` // adapters consulted, in priority order
}

// NewCompanyRecord creates an empty record for ticker.
func NewCompanyRecord(ticker string) *CompanyRecord {
	return &CompanyRecord{
		Ticker:     NormalizeTicker(ticker),
		Metrics:    make(map[Field]Metric),
		Statements: make(map[StatementKind]Statement),
	}
}

// NormalizeTicker upper-cases and trims a ticker symbol.
func NormalizeTicker(t string) string {
	return strings.ToUpper(strings.TrimSpace(t))
}

// Has reports whether the record carries a fused value for f.
func (r *CompanyRecord) Has(f Field) bool {
	if r == nil {
		return false
	}
	_, ok := r.Metrics[f]
	return ok
}

// Float returns the numeric fused value for f.
func (r *CompanyRecord) Float(f Field) (float64, bool) {
	if r == nil {
		return 0, false
	}
	m, ok := r.Metrics[f]
	if !ok {
		return 0, false
	}
	return m.Float()
}

// Text returns the string fused value for f.
func (r *CompanyRecord) Text(f Field) (string, bool) {
	if r == nil {
		return "", false
	}
	m, ok := r.Metrics[f]
	if !ok {
		return "", false
	}
	s, ok := m.Value.(string)
	return s, ok
}

// Statement returns the statement table of the given kind, or nil.
func (r *CompanyRecord) Statement(kind StatementKind) *Statement {
	if r == nil {
		return nil
	}
	s, ok := r.Statements[kind]
	if !ok {
		return nil
	}
	return &s
}

// Value returns f from the fused metrics, falling back to the latest period of
// the statement tables when no scalar metric was fused.
func (r *CompanyRecord) Value(f Field) (float64, bool) {
	if v, ok := r.Float(f); ok {
		return v, true
	}
	if r == nil {
		return 0, false
	}
	for _, kind := range StatementKinds {
		st := r.Statement(kind)
		if p := st.Latest(); p != nil {
			if v, ok := p.Values[f]; ok {
				return v, true
			}
		}
	}
	return 0, false
}

// Flat returns the canonical output consumed by downstream renderers:
// canonical field name to scalar value.
func (r *CompanyRecord) Flat() map[string]any {
	out := make(map[string]any, len(r.Metrics))
	for f, m := range r.Metrics {
		out[string(f)] = m.Value
	}
	return out
}
