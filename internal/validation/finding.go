// Package validation scores a fused company record with six independent
// checks and aggregates the findings into a report.
package validation

import (
	"time"
)

// Status is the outcome of one finding.
type Status string

const (
	StatusPass    Status = "PASS"
	StatusWarn    Status = "WARN"
	StatusFail    Status = "FAIL"
	StatusMissing Status = "MISSING"
	StatusSkip    Status = "SKIP"
)

// Severity grades a finding for aggregation.
type Severity string

const (
	SeverityInfo    Severity = "INFO"
	SeverityWarning Severity = "WARNING"
	SeverityError   Severity = "ERROR"
)

// SeverityOf maps a status to its severity.
func SeverityOf(s Status) Severity {
	switch s {
	case StatusFail:
		return SeverityError
	case StatusWarn:
		return SeverityWarning
	default:
		return SeverityInfo
	}
}

// Check names.
const (
	CheckStructural  = "structural"
	CheckLogical     = "logical"
	CheckRatio       = "ratio"
	CheckTimeSeries  = "timeseries"
	CheckCrossMetric = "crossmetric"
	CheckBaseline    = "baseline"
	// CheckPipeline marks findings produced when a ticker could not be
	// fused at all.
	CheckPipeline = "pipeline"
)

// Finding is one check result. OwnValue is the value carried by the record;
// ReferenceValue is what the check expected (a recomputed ratio, a
// reference source, a bound).
type Finding struct {
	Check          string   `json:"check_name"`
	Metric         string   `json:"metric"`
	OwnValue       *float64 `json:"own_value"`
	ReferenceValue *float64 `json:"reference_value"`
	DiffPercent    *float64 `json:"diff_percent"`
	Tolerance      float64  `json:"tolerance"`
	Severity       Severity `json:"severity"`
	Status         Status   `json:"status"`
	Message        string   `json:"message,omitempty"`
}

func newFinding(check, metric string, status Status) Finding {
	return Finding{Check: check, Metric: metric, Status: status, Severity: SeverityOf(status)}
}

func (f Finding) with(own, ref, diff *float64) Finding {
	f.OwnValue, f.ReferenceValue, f.DiffPercent = own, ref, diff
	return f
}

func ptr(v float64) *float64 { return &v }

// Report is the validation outcome for one ticker.
type Report struct {
	RunID         string    `json:"run_id,omitempty"`
	Ticker        string    `json:"ticker"`
	Timestamp     time.Time `json:"timestamp"`
	Findings      []Finding `json:"findings"`
	OverallStatus Status    `json:"overall_status"`
	QualityScore  int       `json:"quality_score"`
	Errors        int       `json:"errors"`
	Warnings      int       `json:"warnings"`
}

// Aggregate sets the counts, overall status and quality score from the
// findings. maxWarnings is the number of warnings tolerated before the
// report degrades to WARN.
func (r *Report) Aggregate(maxWarnings int) {
	r.Errors, r.Warnings = 0, 0
	for _, f := range r.Findings {
		switch f.Severity {
		case SeverityError:
			r.Errors++
		case SeverityWarning:
			r.Warnings++
		}
	}

	switch {
	case r.Errors > 0:
		r.OverallStatus = StatusFail
		r.QualityScore = max(0, 100-r.Errors*20)
	case r.Warnings > maxWarnings:
		r.OverallStatus = StatusWarn
		r.QualityScore = max(50, 100-r.Warnings*5)
	default:
		r.OverallStatus = StatusPass
		r.QualityScore = 100
	}
}

// Count returns the number of findings with the given status.
func (r *Report) Count(s Status) int {
	n := 0
	for _, f := range r.Findings {
		if f.Status == s {
			n++
		}
	}
	return n
}

// ErrorReport is the FAIL report for a ticker whose fusion could not run.
func ErrorReport(ticker string, err error, now time.Time) *Report {
	f := newFinding(CheckPipeline, "fusion", StatusFail)
	if err != nil {
		f.Message = err.Error()
	}
	r := &Report{Ticker: ticker, Timestamp: now, Findings: []Finding{f}}
	r.Aggregate(0)
	return r
}
