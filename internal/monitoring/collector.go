// Package monitoring tracks validation outcomes, exposes Prometheus metrics
// and raises webhook alerts when batch quality degrades.
package monitoring

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/sells-group/finfuse/internal/validation"
)

// Snapshot holds a point-in-time view of validation health.
type Snapshot struct {
	Total      int     `json:"total"`
	Pass       int     `json:"pass"`
	Warn       int     `json:"warn"`
	Fail       int     `json:"fail"`
	FailRate   float64 `json:"fail_rate"`
	AvgQuality float64 `json:"avg_quality"`
	// Failing lists the tickers with a FAIL report, sorted.
	Failing []string `json:"failing,omitempty"`

	LookbackHours int       `json:"lookback_hours"`
	CollectedAt   time.Time `json:"collected_at"`
}

// Summarize builds a snapshot from a set of reports.
func Summarize(reports []*validation.Report) *Snapshot {
	snap := &Snapshot{CollectedAt: time.Now().UTC()}
	var totalQuality int
	for _, r := range reports {
		if r == nil {
			continue
		}
		snap.Total++
		totalQuality += r.QualityScore
		switch r.OverallStatus {
		case validation.StatusPass:
			snap.Pass++
		case validation.StatusWarn:
			snap.Warn++
		case validation.StatusFail:
			snap.Fail++
			snap.Failing = append(snap.Failing, r.Ticker)
		}
	}
	if snap.Total > 0 {
		snap.FailRate = float64(snap.Fail) / float64(snap.Total)
		snap.AvgQuality = float64(totalQuality) / float64(snap.Total)
	}
	sort.Strings(snap.Failing)
	return snap
}

// Collector keeps recent reports so a long-running server can be checked
// over a rolling window.
type Collector struct {
	mu      sync.Mutex
	reports []*validation.Report
	nowFunc func() time.Time
}

// NewCollector creates an empty collector.
func NewCollector() *Collector {
	return &Collector{nowFunc: time.Now}
}

// Record adds a report to the window.
func (c *Collector) Record(r *validation.Report) {
	if r == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reports = append(c.reports, r)
}

// ObserveReport records r; it lets a Collector observe a pipeline run.
func (c *Collector) ObserveReport(r *validation.Report, _ time.Duration) {
	c.Record(r)
}

// Collect summarizes the reports stamped within the lookback window and
// drops older ones.
func (c *Collector) Collect(_ context.Context, lookbackHours int) (*Snapshot, error) {
	cutoff := c.nowFunc().UTC().Add(-time.Duration(lookbackHours) * time.Hour)

	c.mu.Lock()
	kept := c.reports[:0]
	for _, r := range c.reports {
		if !r.Timestamp.Before(cutoff) {
			kept = append(kept, r)
		}
	}
	c.reports = kept
	window := append([]*validation.Report(nil), kept...)
	c.mu.Unlock()

	snap := Summarize(window)
	snap.LookbackHours = lookbackHours
	snap.CollectedAt = c.nowFunc().UTC()
	return snap, nil
}
