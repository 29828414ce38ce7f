package validation

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/finfuse/internal/model"
)

// Reference supplies independent benchmark values for the baseline check.
// A ticker the reference does not know yields an empty map, not an error.
type Reference interface {
	Name() string
	Lookup(ctx context.Context, ticker string) (map[model.Field]float64, error)
}

// StaticReference serves benchmark values loaded from a file keyed by
// ticker then canonical field.
type StaticReference struct {
	name   string
	values map[string]map[model.Field]float64
}

// NewStaticReference builds a reference from in-memory values.
func NewStaticReference(name string, values map[string]map[model.Field]float64) *StaticReference {
	norm := make(map[string]map[model.Field]float64, len(values))
	for t, v := range values {
		norm[model.NormalizeTicker(t)] = v
	}
	return &StaticReference{name: name, values: norm}
}

// LoadStaticReference reads a YAML or JSON benchmark file. Unknown field
// names are rejected.
func LoadStaticReference(path string) (*StaticReference, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "validation: read reference %s", path)
	}

	var raw map[string]map[string]float64
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		err = json.Unmarshal(data, &raw)
	default:
		err = yaml.Unmarshal(data, &raw)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "validation: parse reference %s", path)
	}

	values := make(map[string]map[model.Field]float64, len(raw))
	for ticker, fields := range raw {
		m := make(map[model.Field]float64, len(fields))
		for name, v := range fields {
			f := model.Field(name)
			if !model.IsKnown(f) {
				return nil, eris.Errorf("validation: reference %s: unknown field %q for %s", path, name, ticker)
			}
			m[f] = v
		}
		values[ticker] = m
	}
	return NewStaticReference(filepath.Base(path), values), nil
}

// Name implements Reference.
func (s *StaticReference) Name() string { return s.name }

// Lookup implements Reference.
func (s *StaticReference) Lookup(_ context.Context, ticker string) (map[model.Field]float64, error) {
	return s.values[model.NormalizeTicker(ticker)], nil
}

// Fuser produces a fused record for a ticker from an explicit source order.
type Fuser interface {
	Fuse(ctx context.Context, ticker string, fields []model.Field, priority []string) (*model.CompanyRecord, error)
}

// AdapterReference uses a single source adapter, resolved through the field
// dictionary, as an independent benchmark. The fuser should not share a
// cache with the primary fusion run.
type AdapterReference struct {
	fuser  Fuser
	source string
	fields []model.Field
}

// NewAdapterReference benchmarks fields against source. Nil fields means
// every field the baseline check compares.
func NewAdapterReference(f Fuser, source string, fields []model.Field) *AdapterReference {
	if len(fields) == 0 {
		fields = sortedFields(DefaultPolicy().BaselineTolerances)
	}
	return &AdapterReference{fuser: f, source: source, fields: fields}
}

// Name implements Reference.
func (a *AdapterReference) Name() string { return a.source }

// Lookup implements Reference.
func (a *AdapterReference) Lookup(ctx context.Context, ticker string) (map[model.Field]float64, error) {
	rec, err := a.fuser.Fuse(ctx, ticker, a.fields, []string{a.source})
	if err != nil {
		return nil, eris.Wrapf(err, "validation: reference %s", a.source)
	}
	out := make(map[model.Field]float64, len(a.fields))
	for _, f := range a.fields {
		if v, ok := rec.Value(f); ok {
			out[f] = v
		}
	}
	return out, nil
}
