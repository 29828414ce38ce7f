package xbrl

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/finfuse/internal/model"
)

const sampleCompanyFacts = `{
  "cik": 320193,
  "entityName": "Apple Inc.",
  "facts": {
    "us-gaap": {
      "Assets": {
        "label": "Assets",
        "units": {
          "USD": [
            {"end": "2023-09-30", "val": 352583000000, "fy": 2023, "fp": "FY", "form": "10-K", "filed": "2023-11-03"},
            {"end": "2022-09-24", "val": 352755000000, "fy": 2022, "fp": "FY", "form": "10-K", "filed": "2022-10-28"},
            {"end": "2023-07-01", "val": 335038000000, "fy": 2023, "fp": "Q3", "form": "10-Q", "filed": "2023-08-04"}
          ]
        }
      },
      "Revenues": {
        "label": "Revenues",
        "units": {
          "USD": [
            {"start": "2022-09-25", "end": "2023-09-30", "val": 383285000000, "fy": 2023, "fp": "FY", "form": "10-K", "filed": "2023-11-03"},
            {"start": "2023-07-02", "end": "2023-09-30", "val": 89498000000, "fy": 2023, "fp": "FY", "form": "10-K", "filed": "2023-11-03"},
            {"start": "2021-09-26", "end": "2022-09-24", "val": 394328000000, "fy": 2022, "fp": "FY", "form": "10-K", "filed": "2022-10-28"},
            {"start": "2021-09-26", "end": "2022-09-24", "val": 394000000000, "fy": 2023, "fp": "FY", "form": "10-K", "filed": "2023-11-03"}
          ]
        }
      }
    },
    "dei": {
      "EntityCommonStockSharesOutstanding": {
        "label": "Shares",
        "units": {
          "shares": [
            {"end": "2023-09-30", "val": 15550061000, "fy": 2023, "fp": "FY", "form": "10-K", "filed": "2023-11-03"}
          ]
        }
      }
    }
  }
}`

func TestParseCompanyFacts(t *testing.T) {
	facts, err := ParseCompanyFacts(strings.NewReader(sampleCompanyFacts))
	require.NoError(t, err)

	assert.Equal(t, 320193, facts.CIK)
	assert.Equal(t, "Apple Inc.", facts.EntityName)
	assert.Contains(t, facts.Facts["us-gaap"], "Assets")
	assert.Len(t, facts.Facts["us-gaap"]["Assets"].Units["USD"], 3)
}

func TestParseCompanyFacts_Invalid(t *testing.T) {
	_, err := ParseCompanyFacts(strings.NewReader("not json"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "xbrl: parse company facts")
}

func TestAnnual(t *testing.T) {
	facts, err := ParseCompanyFacts(strings.NewReader(sampleCompanyFacts))
	require.NoError(t, err)

	periods := Annual(facts)
	require.Len(t, periods, 2)

	assert.Equal(t, "2022-09-24", periods[0].End)
	assert.Equal(t, "2023-09-30", periods[1].End)

	// Later filing's comparative wins for the 2022 period.
	assert.InDelta(t, 394000000000, periods[0].Values["Revenues"], 1)
	// Quarterly duration inside the 10-K is ignored.
	assert.InDelta(t, 383285000000, periods[1].Values["Revenues"], 1)
	// 10-Q instant is ignored.
	assert.InDelta(t, 352583000000, periods[1].Values["Assets"], 1)
	assert.InDelta(t, 15550061000, periods[1].Values["EntityCommonStockSharesOutstanding"], 1)
}

func TestAnnual_Empty(t *testing.T) {
	assert.Empty(t, Annual(nil))
	assert.Empty(t, Annual(&CompanyFacts{Facts: map[string]FactNS{}}))
}

func TestAnnual_SkipsEmptyEnd(t *testing.T) {
	factsJSON := `{"cik": 1, "entityName": "Test", "facts": {"us-gaap": {"Assets": {"units": {"USD": [
		{"end": "", "val": 100, "fy": 2023, "fp": "FY", "form": "10-K", "filed": "2024-01-01"},
		{"end": "2023-12-31", "val": 200, "fy": 2023, "fp": "FY", "form": "10-K", "filed": "2024-01-01"}
	]}}}}}`

	facts, err := ParseCompanyFacts(strings.NewReader(factsJSON))
	require.NoError(t, err)

	periods := Annual(facts)
	require.Len(t, periods, 1)
	assert.Equal(t, "2023-12-31", periods[0].End)
}

func TestStatementOf(t *testing.T) {
	k, ok := StatementOf("Assets")
	require.True(t, ok)
	assert.Equal(t, model.BalanceSheet, k)

	k, ok = StatementOf("NetCashProvidedByUsedInOperatingActivities")
	require.True(t, ok)
	assert.Equal(t, model.CashFlowStatement, k)

	_, ok = StatementOf("EntityCommonStockSharesOutstanding")
	assert.False(t, ok)
}
