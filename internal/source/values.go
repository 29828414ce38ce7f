package source

import (
	"slices"
	"sort"

	"github.com/sells-group/finfuse/internal/model"
)

// scalars copies the scalar members of obj (strings, numbers, booleans and
// nulls) into the record. Nested objects and arrays are skipped.
func scalars(rec *Record, obj map[string]any) {
	for k, v := range obj {
		switch v.(type) {
		case nil, string, float64, bool:
			rec.Set(k, v)
		}
	}
}

// period builds a RawPeriod from one vendor row, taking its end date from
// dateKey and dropping bookkeeping keys.
func period(row map[string]any, dateKey string, drop ...string) (RawPeriod, bool) {
	end, _ := row[dateKey].(string)
	if end == "" {
		return RawPeriod{}, false
	}
	skip := make(map[string]bool, len(drop)+1)
	skip[dateKey] = true
	for _, d := range drop {
		skip[d] = true
	}
	p := RawPeriod{End: end, Values: make(map[string]any, len(row))}
	for k, v := range row {
		if skip[k] {
			continue
		}
		switch v.(type) {
		case nil, string, float64:
			p.Values[k] = v
		}
	}
	return p, true
}

// sortPeriods orders periods by end date, oldest first.
func sortPeriods(ps []RawPeriod) []RawPeriod {
	sort.Slice(ps, func(i, j int) bool { return ps[i].End < ps[j].End })
	return ps
}

// wants reports whether any requested field is in set.
func wants(req Request, set ...model.Field) bool {
	for _, f := range set {
		if slices.Contains(req.Fields, f) {
			return true
		}
	}
	return false
}
