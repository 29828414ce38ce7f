package report

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/rotisserie/eris"

	"github.com/sells-group/finfuse/internal/validation"
)

// nilCell marks an absent numeric value.
const nilCell = "-"

var findingColumns = []string{
	"check", "metric", "own_value", "reference_value", "diff_percent",
	"tolerance", "severity", "status", "message",
}

// EncodeText writes r as an aligned table. Header lines carry the report
// fields, then a blank line, then one row per finding. Cells holding
// whitespace are Go-quoted so the table can be parsed back.
func EncodeText(w io.Writer, r *validation.Report) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	for _, kv := range [][2]string{
		{"ticker", cell(r.Ticker)},
		{"run_id", cell(r.RunID)},
		{"timestamp", r.Timestamp.Format(time.RFC3339Nano)},
		{"overall_status", cell(string(r.OverallStatus))},
		{"quality_score", strconv.Itoa(r.QualityScore)},
		{"errors", strconv.Itoa(r.Errors)},
		{"warnings", strconv.Itoa(r.Warnings)},
	} {
		fmt.Fprintf(tw, "%s\t%s\n", kv[0], kv[1])
	}
	if err := tw.Flush(); err != nil {
		return eris.Wrap(err, "report: write text header")
	}
	if _, err := io.WriteString(w, "\n"); err != nil {
		return eris.Wrap(err, "report: write text")
	}

	tw = tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, strings.Join(findingColumns, "\t"))
	for _, f := range r.Findings {
		fmt.Fprintln(tw, strings.Join([]string{
			cell(f.Check),
			cell(f.Metric),
			num(f.OwnValue),
			num(f.ReferenceValue),
			num(f.DiffPercent),
			strconv.FormatFloat(f.Tolerance, 'g', -1, 64),
			cell(string(f.Severity)),
			cell(string(f.Status)),
			cell(f.Message),
		}, "\t"))
	}
	if err := tw.Flush(); err != nil {
		return eris.Wrap(err, "report: write text findings")
	}
	return nil
}

// DecodeText parses a report written by EncodeText.
func DecodeText(rd io.Reader) (*validation.Report, error) {
	r := &validation.Report{Findings: []validation.Finding{}}
	sc := bufio.NewScanner(rd)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)

	line := 0
	inFindings := false
	for sc.Scan() {
		line++
		text := sc.Text()
		if strings.TrimSpace(text) == "" {
			continue
		}
		cells, err := split(text)
		if err != nil {
			return nil, eris.Wrapf(err, "report: line %d", line)
		}

		if !inFindings {
			if cells[0] == findingColumns[0] {
				inFindings = true
				continue
			}
			if len(cells) != 2 {
				return nil, eris.Errorf("report: line %d: want key and value, got %d cells", line, len(cells))
			}
			if err := setHeader(r, cells[0], cells[1]); err != nil {
				return nil, eris.Wrapf(err, "report: line %d", line)
			}
			continue
		}

		f, err := parseFinding(cells)
		if err != nil {
			return nil, eris.Wrapf(err, "report: line %d", line)
		}
		r.Findings = append(r.Findings, f)
	}
	if err := sc.Err(); err != nil {
		return nil, eris.Wrap(err, "report: read text")
	}
	if !inFindings {
		return nil, eris.New("report: missing findings table")
	}
	return r, nil
}

func setHeader(r *validation.Report, key, value string) error {
	var err error
	switch key {
	case "ticker":
		r.Ticker = value
	case "run_id":
		r.RunID = value
	case "timestamp":
		r.Timestamp, err = time.Parse(time.RFC3339Nano, value)
	case "overall_status":
		r.OverallStatus = validation.Status(value)
	case "quality_score":
		r.QualityScore, err = strconv.Atoi(value)
	case "errors":
		r.Errors, err = strconv.Atoi(value)
	case "warnings":
		r.Warnings, err = strconv.Atoi(value)
	default:
		return eris.Errorf("unknown header %q", key)
	}
	return err
}

func parseFinding(cells []string) (validation.Finding, error) {
	if len(cells) != len(findingColumns) {
		return validation.Finding{}, eris.Errorf("want %d cells, got %d", len(findingColumns), len(cells))
	}
	f := validation.Finding{
		Check:    cells[0],
		Metric:   cells[1],
		Severity: validation.Severity(cells[6]),
		Status:   validation.Status(cells[7]),
		Message:  cells[8],
	}
	var err error
	if f.OwnValue, err = parseNum(cells[2]); err != nil {
		return f, err
	}
	if f.ReferenceValue, err = parseNum(cells[3]); err != nil {
		return f, err
	}
	if f.DiffPercent, err = parseNum(cells[4]); err != nil {
		return f, err
	}
	if f.Tolerance, err = strconv.ParseFloat(cells[5], 64); err != nil {
		return f, eris.Wrap(err, "tolerance")
	}
	return f, nil
}

// cell quotes s when it would be ambiguous as a bare table cell. Any
// non-printing rune is quoted, since tabwriter treats \v and \f as cell
// and line breaks.
func cell(s string) string {
	if s == "" || s == nilCell || strings.ContainsAny(s, " \"\\") || !utf8.ValidString(s) {
		return strconv.Quote(s)
	}
	for _, r := range s {
		if !unicode.IsPrint(r) {
			return strconv.Quote(s)
		}
	}
	return s
}

func num(v *float64) string {
	if v == nil {
		return nilCell
	}
	return strconv.FormatFloat(*v, 'g', -1, 64)
}

func parseNum(s string) (*float64, error) {
	if s == nilCell {
		return nil, nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil, eris.Wrapf(err, "parse %q", s)
	}
	return &v, nil
}

// split breaks a table line into cells on runs of blanks. Quoted cells are
// unquoted.
func split(line string) ([]string, error) {
	var out []string
	for {
		line = strings.TrimLeft(line, " \t")
		if line == "" {
			return out, nil
		}
		if line[0] == '"' {
			q, err := strconv.QuotedPrefix(line)
			if err != nil {
				return nil, eris.Wrap(err, "quoted cell")
			}
			s, err := strconv.Unquote(q)
			if err != nil {
				return nil, eris.Wrap(err, "quoted cell")
			}
			out = append(out, s)
			line = line[len(q):]
			continue
		}
		end := strings.IndexAny(line, " \t")
		if end < 0 {
			end = len(line)
		}
		out = append(out, line[:end])
		line = line[end:]
	}
}

// EncodeSummary writes one line per report: ticker, status, score and
// finding counts.
func EncodeSummary(w io.Writer, reports []*validation.Report) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ticker\toverall_status\tquality_score\terrors\twarnings\tmissing")
	for _, r := range reports {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%d\t%d\n",
			cell(r.Ticker), r.OverallStatus, r.QualityScore, r.Errors, r.Warnings, r.Count(validation.StatusMissing))
	}
	return eris.Wrap(tw.Flush(), "report: write summary")
}
