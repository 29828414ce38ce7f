package model

import "time"

// Outcome records what happened when one adapter was consulted for one field.
type Outcome string

const (
	OutcomeUnavailable Outcome = "unavailable" // adapter skipped or fetch failed
	OutcomeNoRecord    Outcome = "no_record"   // adapter returned nothing for this ticker
	OutcomeUnresolved  Outcome = "unresolved"  // no synonym matched a record key
	OutcomePlaceholder Outcome = "placeholder" // vendor sentinel such as "None" or ""
	OutcomeUnparseable Outcome = "unparseable" // numeric field did not parse
	OutcomeAccepted    Outcome = "accepted"
)

// ProvenanceAttempt records a single adapter consultation for a field.
type ProvenanceAttempt struct {
	Source    string  `json:"source"`
	Tier      int     `json:"tier"`
	Outcome   Outcome `json:"outcome"`
	VendorKey string  `json:"vendor_key,omitempty"`
	Detail    string  `json:"detail,omitempty"`
}

// FieldProvenance is the audit trail of a field within one fusion pass.
type FieldProvenance struct {
	Field    Field               `json:"field"`
	Winner   string              `json:"winner,omitempty"`
	Attempts []ProvenanceAttempt `json:"attempts"`
}

// Metric is a fused value with its provenance. Exactly one source per field per pass.
type Metric struct {
	Field      Field     `json:"field"`
	Value      any       `json:"value"` // float64 for numeric fields, string for text fields
	Source     string    `json:"source"`
	VendorKey  string    `json:"vendor_key,omitempty"`
	Period     string    `json:"period,omitempty"`
	Tier       int       `json:"tier"`
	Confidence float64   `json:"confidence"`
	FetchedAt  time.Time `json:"fetched_at"`
}

// Float returns the numeric value of the metric.
func (m Metric) Float() (float64, bool) {
	switch v := m.Value.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	default:
		return 0, false
	}
}
