package model

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewCompanyRecord_NormalizesTicker(t *testing.T) {
	t.Parallel()

	r := NewCompanyRecord("  acme ")
	assert.Equal(t, "ACME", r.Ticker)
	assert.NotNil(t, r.Metrics)
	assert.NotNil(t, r.Statements)
}

func TestCompanyRecord_AbsentFieldIsNotPresent(t *testing.T) {
	t.Parallel()

	r := NewCompanyRecord("ACME")
	r.Metrics[Revenue] = Metric{Field: Revenue, Value: 1000.0, Source: "b"}

	assert.True(t, r.Has(Revenue))
	assert.False(t, r.Has(NetIncome))

	_, ok := r.Float(NetIncome)
	assert.False(t, ok)

	data, err := json.Marshal(r)
	require.NoError(t, err)
	assert.NotContains(t, string(data), `"NetIncome"`)
}

func TestCompanyRecord_ValueFallsBackToLatestStatement(t *testing.T) {
	t.Parallel()

	r := NewCompanyRecord("ACME")
	r.Statements[BalanceSheet] = Statement{
		Source: "a",
		Periods: []Period{
			{End: "2023-12-31", Values: map[Field]float64{TotalAssets: 900}},
			{End: "2024-12-31", Values: map[Field]float64{TotalAssets: 1000}},
		},
	}

	v, ok := r.Value(TotalAssets)
	require.True(t, ok)
	assert.InDelta(t, 1000, v, 0.001)

	r.Metrics[TotalAssets] = Metric{Field: TotalAssets, Value: 1200.0}
	v, ok = r.Value(TotalAssets)
	require.True(t, ok)
	assert.InDelta(t, 1200, v, 0.001)
}

func TestCompanyRecord_Text(t *testing.T) {
	t.Parallel()

	r := NewCompanyRecord("ACME")
	r.Metrics[Name] = Metric{Field: Name, Value: "Acme Corp"}

	s, ok := r.Text(Name)
	require.True(t, ok)
	assert.Equal(t, "Acme Corp", s)

	_, ok = r.Float(Name)
	assert.False(t, ok)
}

func TestCompanyRecord_Flat(t *testing.T) {
	t.Parallel()

	r := NewCompanyRecord("ACME")
	r.Metrics[Revenue] = Metric{Field: Revenue, Value: 42.0, FetchedAt: time.Now()}
	r.Metrics[Name] = Metric{Field: Name, Value: "Acme"}

	flat := r.Flat()
	assert.Equal(t, 42.0, flat["Revenue"])
	assert.Equal(t, "Acme", flat["Name"])
	assert.Len(t, flat, 2)
}

func TestStatement_SortAndSeries(t *testing.T) {
	t.Parallel()

	s := Statement{Periods: []Period{
		{End: "2024-12-31", Values: map[Field]float64{Revenue: 300}},
		{End: "2022-12-31", Values: map[Field]float64{Revenue: 100}},
		{End: "2023-12-31", Values: map[Field]float64{NetIncome: 5}},
	}}
	s.Sort()

	assert.Equal(t, "2022-12-31", s.Periods[0].End)
	assert.Equal(t, "2024-12-31", s.Latest().End)

	series := s.Series(Revenue)
	require.Len(t, series, 2)
	assert.Equal(t, "2022-12-31", series[0].End)
	assert.InDelta(t, 300, series[1].Value, 0.001)
}

func TestStatement_Empty(t *testing.T) {
	t.Parallel()

	var nilStmt *Statement
	assert.True(t, nilStmt.Empty())
	assert.True(t, (&Statement{Periods: []Period{{End: "2024-12-31"}}}).Empty())
	assert.False(t, (&Statement{Periods: []Period{{End: "2024-12-31", Values: map[Field]float64{Revenue: 1}}}}).Empty())
}
