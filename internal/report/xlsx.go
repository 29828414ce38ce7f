package report

import (
	"io"
	"time"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"

	"github.com/sells-group/finfuse/internal/validation"
)

// Sheet names used by WriteXLSX.
const (
	SheetSummary  = "Summary"
	SheetFindings = "Findings"
)

// WriteXLSX exports reports as a workbook with a summary sheet (one row per
// ticker) and a findings sheet (one row per finding).
func WriteXLSX(w io.Writer, reports []*validation.Report) error {
	f := xlsx.NewFile()

	summary, err := f.AddSheet(SheetSummary)
	if err != nil {
		return eris.Wrap(err, "report: add summary sheet")
	}
	addStrings(summary.AddRow(), "ticker", "run_id", "timestamp", "overall_status", "quality_score", "errors", "warnings")
	for _, r := range reports {
		row := summary.AddRow()
		addStrings(row, r.Ticker, r.RunID, r.Timestamp.Format(time.RFC3339), string(r.OverallStatus))
		row.AddCell().SetInt(r.QualityScore)
		row.AddCell().SetInt(r.Errors)
		row.AddCell().SetInt(r.Warnings)
	}

	findings, err := f.AddSheet(SheetFindings)
	if err != nil {
		return eris.Wrap(err, "report: add findings sheet")
	}
	addStrings(findings.AddRow(), append([]string{"ticker"}, findingColumns...)...)
	for _, r := range reports {
		for _, fd := range r.Findings {
			row := findings.AddRow()
			addStrings(row, r.Ticker, fd.Check, fd.Metric)
			addFloat(row, fd.OwnValue)
			addFloat(row, fd.ReferenceValue)
			addFloat(row, fd.DiffPercent)
			row.AddCell().SetFloat(fd.Tolerance)
			addStrings(row, string(fd.Severity), string(fd.Status), fd.Message)
		}
	}

	if err := f.Write(w); err != nil {
		return eris.Wrap(err, "report: write xlsx")
	}
	return nil
}

func addStrings(row *xlsx.Row, values ...string) {
	for _, v := range values {
		row.AddCell().SetString(v)
	}
}

// addFloat leaves the cell blank for an absent value.
func addFloat(row *xlsx.Row, v *float64) {
	c := row.AddCell()
	if v != nil {
		c.SetFloat(*v)
	}
}
