package model

import "sort"

// StatementKind names one of the three statement tables on a CompanyRecord.
type StatementKind string

const (
	IncomeStatement   StatementKind = "income"
	BalanceSheet      StatementKind = "balance"
	CashFlowStatement StatementKind = "cash_flow"
)

// StatementKinds lists the required statement tables in report order.
var StatementKinds = []StatementKind{IncomeStatement, BalanceSheet, CashFlowStatement}

// Period is one column of a statement table: a fiscal period end date and its line items.
type Period struct {
	End    string            `json:"end"` // ISO date, e.g. 2024-12-31
	Values map[Field]float64 `json:"values"`
}

// Statement is a time-indexed statement table sourced from a single adapter.
type Statement struct {
	Source  string   `json:"source"`
	Periods []Period `json:"periods"` // ascending by End
}

// Empty reports whether the statement has no usable periods.
func (s *Statement) Empty() bool {
	if s == nil {
		return true
	}
	for _, p := range s.Periods {
		if len(p.Values) > 0 {
			return false
		}
	}
	return true
}

// Sort orders periods ascending by end date.
func (s *Statement) Sort() {
	sort.Slice(s.Periods, func(i, j int) bool { return s.Periods[i].End < s.Periods[j].End })
}

// Latest returns the most recent period, or nil for an empty statement.
func (s *Statement) Latest() *Period {
	if s == nil || len(s.Periods) == 0 {
		return nil
	}
	return &s.Periods[len(s.Periods)-1]
}

// Series returns (end, value) pairs for one line item in ascending period order.
// Periods that do not carry the field are skipped.
func (s *Statement) Series(f Field) []SeriesPoint {
	if s == nil {
		return nil
	}
	var out []SeriesPoint
	for _, p := range s.Periods {
		if v, ok := p.Values[f]; ok {
			out = append(out, SeriesPoint{End: p.End, Value: v})
		}
	}
	return out
}

// SeriesPoint is one observation of a statement line item.
type SeriesPoint struct {
	End   string
	Value float64
}
