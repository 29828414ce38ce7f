package pipeline

import (
	"bufio"
	"io"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/finfuse/internal/model"
)

// ReadTickers parses a ticker list: one or more symbols per line separated
// by commas or blanks. Text after '#' is a comment.
func ReadTickers(r io.Reader) ([]string, error) {
	var out []string
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := sc.Text()
		if i := strings.IndexByte(line, '#'); i >= 0 {
			line = line[:i]
		}
		out = append(out, strings.FieldsFunc(line, func(r rune) bool {
			return r == ',' || r == ' ' || r == '\t' || r == ';'
		})...)
	}
	if err := sc.Err(); err != nil {
		return nil, eris.Wrap(err, "pipeline: read tickers")
	}
	return Normalize(out), nil
}

// Normalize upper-cases tickers and drops blanks and repeats, keeping the
// first occurrence order.
func Normalize(tickers []string) []string {
	out := make([]string, 0, len(tickers))
	seen := make(map[string]bool, len(tickers))
	for _, t := range tickers {
		t = model.NormalizeTicker(t)
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
	}
	return out
}
