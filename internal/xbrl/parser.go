// Package xbrl parses EDGAR company-facts JSON into annual statement periods.
package xbrl

import (
	"encoding/json"
	"io"
	"sort"
	"time"

	"github.com/rotisserie/eris"
)

// CompanyFacts represents the EDGAR company facts JSON structure.
type CompanyFacts struct {
	CIK        int               `json:"cik"`
	EntityName string            `json:"entityName"`
	Facts      map[string]FactNS `json:"facts"`
}

// FactNS groups facts by namespace (e.g., "us-gaap", "dei").
type FactNS map[string]Fact

// Fact is a single XBRL concept with its values per unit.
type Fact struct {
	Label       string                 `json:"label"`
	Description string                 `json:"description"`
	Units       map[string][]FactValue `json:"units"`
}

// FactValue is a single data point for a fact. Start is empty for instant
// (balance sheet) facts.
type FactValue struct {
	Start string  `json:"start,omitempty"`
	End   string  `json:"end"`
	Val   float64 `json:"val"`
	Accn  string  `json:"accn"`
	FY    int     `json:"fy"`
	FP    string  `json:"fp"`
	Form  string  `json:"form"`
	Filed string  `json:"filed"`
	Frame string  `json:"frame,omitempty"`
}

// Period is one fiscal year of annual values keyed by concept name.
type Period struct {
	End    string
	Values map[string]float64
}

// ParseCompanyFacts parses EDGAR company facts JSON from a reader.
func ParseCompanyFacts(r io.Reader) (*CompanyFacts, error) {
	var facts CompanyFacts
	if err := json.NewDecoder(r).Decode(&facts); err != nil {
		return nil, eris.Wrap(err, "xbrl: parse company facts")
	}
	return &facts, nil
}

// annualForms are the filing types whose FY facts count as annual values.
var annualForms = map[string]bool{
	"10-K":   true,
	"10-K/A": true,
	"20-F":   true,
	"40-F":   true,
}

// Annual collects full-year values from annual filings, grouped by period end
// and sorted ascending. When a period is reported more than once (a later
// filing carries prior-year comparatives or an amendment) the most recently
// filed value wins. Duration facts spanning other than roughly one year are
// ignored so quarterly breakdowns in a 10-K do not leak into annual periods.
func Annual(facts *CompanyFacts) []Period {
	if facts == nil || len(facts.Facts) == 0 {
		return nil
	}

	type pick struct {
		val   float64
		filed string
	}
	byEnd := make(map[string]map[string]pick)

	for _, ns := range []string{"us-gaap", "ifrs-full", "dei"} {
		for name, fact := range facts.Facts[ns] {
			for unit, values := range fact.Units {
				if !annualUnit(unit) {
					continue
				}
				for _, v := range values {
					if v.End == "" || v.FP != "FY" || !annualForms[v.Form] || !yearLong(v.Start, v.End) {
						continue
					}
					if byEnd[v.End] == nil {
						byEnd[v.End] = make(map[string]pick)
					}
					if cur, ok := byEnd[v.End][name]; ok && cur.filed >= v.Filed {
						continue
					}
					byEnd[v.End][name] = pick{val: v.Val, filed: v.Filed}
				}
			}
		}
	}

	periods := make([]Period, 0, len(byEnd))
	for end, picks := range byEnd {
		p := Period{End: end, Values: make(map[string]float64, len(picks))}
		for name, pk := range picks {
			p.Values[name] = pk.val
		}
		periods = append(periods, p)
	}
	sort.Slice(periods, func(i, j int) bool { return periods[i].End < periods[j].End })
	return periods
}

func annualUnit(unit string) bool {
	switch unit {
	case "USD", "shares", "USD/shares", "pure":
		return true
	}
	return false
}

func yearLong(start, end string) bool {
	if start == "" {
		return true
	}
	s, err1 := time.Parse(time.DateOnly, start)
	e, err2 := time.Parse(time.DateOnly, end)
	if err1 != nil || err2 != nil {
		return false
	}
	days := e.Sub(s).Hours() / 24
	return days >= 340 && days <= 380
}
