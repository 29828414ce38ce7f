// Package report renders validation reports and fused records for people
// and downstream tools. The JSON and text encodings round-trip.
package report

import (
	"encoding/json"
	"io"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/finfuse/internal/validation"
)

// Format selects an encoding.
type Format string

const (
	FormatJSON Format = "json"
	FormatText Format = "text"
)

// ParseFormat accepts "json", "text" or "table".
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "json", "":
		return FormatJSON, nil
	case "text", "table":
		return FormatText, nil
	default:
		return "", eris.Errorf("report: unknown format %q", s)
	}
}

// Encode writes r in the given format.
func Encode(w io.Writer, f Format, r *validation.Report) error {
	switch f {
	case FormatText:
		return EncodeText(w, r)
	default:
		return EncodeJSON(w, r)
	}
}

// EncodeJSON writes r as indented JSON.
func EncodeJSON(w io.Writer, r *validation.Report) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(r); err != nil {
		return eris.Wrap(err, "report: encode json")
	}
	return nil
}

// DecodeJSON reads a report written by EncodeJSON.
func DecodeJSON(rd io.Reader) (*validation.Report, error) {
	var r validation.Report
	if err := json.NewDecoder(rd).Decode(&r); err != nil {
		return nil, eris.Wrap(err, "report: decode json")
	}
	if r.Findings == nil {
		r.Findings = []validation.Finding{}
	}
	return &r, nil
}
