// Package dictionary maps vendor field labels onto canonical fields using
// ordered synonym tables partitioned by sector profile.
package dictionary

import (
	"bytes"
	_ "embed"
	"io"
	"sort"
	"strings"
	"sync"
	"unicode"

	"github.com/rotisserie/eris"
	"golang.org/x/text/cases"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/finfuse/internal/model"
)

//go:embed synonyms.yaml
var defaultTables []byte

// Profile names a sector vocabulary.
type Profile string

const (
	ProfileGeneral   Profile = "general"
	ProfileBank      Profile = "bank"
	ProfileInsurance Profile = "insurance"
)

// Stage is the matching pass that resolved a field.
type Stage int

const (
	StageExact Stage = iota + 1
	StageNormalized
	StageSubstring
)

func (s Stage) String() string {
	switch s {
	case StageExact:
		return "exact"
	case StageNormalized:
		return "normalized"
	case StageSubstring:
		return "substring"
	default:
		return "unresolved"
	}
}

// minContained is the shortest normalized label allowed on the contained
// side of a substring match.
const minContained = 4

// Resolution is a successful lookup of one canonical field in one payload.
type Resolution struct {
	Field   model.Field
	Key     string // vendor key as it appears in the payload
	Value   any
	Stage   Stage
	Profile Profile // table that supplied the matching synonym
}

type entry struct {
	synonyms   []string
	folded     []string
	normalized []string
	exclude    []string // normalized
	require    []string // normalized; a substring match must contain one
}

type table struct {
	profile  Profile
	triggers []string // normalized
	minHits  int
	fields   map[model.Field]entry
}

// Dictionary holds the general table and the sector tables. It is immutable
// after Load and safe for concurrent use.
type Dictionary struct {
	general *table
	sectors []*table // sorted by profile name
}

type fileEntry struct {
	Synonyms []string `yaml:"synonyms"`
	Exclude  []string `yaml:"exclude"`
	Require  []string `yaml:"require"`
}

type fileProfile struct {
	MinHits  int                  `yaml:"min_hits"`
	Triggers []string             `yaml:"triggers"`
	Fields   map[string]fileEntry `yaml:"fields"`
}

var defaultDict = sync.OnceValue(func() *Dictionary {
	d, err := Load(bytes.NewReader(defaultTables))
	if err != nil {
		panic(eris.Wrap(err, "dictionary: embedded synonyms"))
	}
	return d
})

// Default returns the dictionary built from the embedded synonym tables.
func Default() *Dictionary {
	return defaultDict()
}

// Load parses synonym tables from YAML. A "general" profile is required and
// every field name must be a canonical field.
func Load(r io.Reader) (*Dictionary, error) {
	var raw map[string]fileProfile
	if err := yaml.NewDecoder(r).Decode(&raw); err != nil {
		return nil, eris.Wrap(err, "dictionary: decode")
	}

	fold := cases.Fold()
	d := &Dictionary{}
	for name, fp := range raw {
		t := &table{
			profile: Profile(name),
			minHits: fp.MinHits,
			fields:  make(map[model.Field]entry, len(fp.Fields)),
		}
		if t.minHits <= 0 {
			t.minHits = 1
		}
		for _, trig := range fp.Triggers {
			if n := normalize(fold, trig); n != "" {
				t.triggers = append(t.triggers, n)
			}
		}
		for fname, fe := range fp.Fields {
			f := model.Field(fname)
			if !model.IsKnown(f) {
				return nil, eris.Errorf("dictionary: profile %s: unknown field %q", name, fname)
			}
			if len(fe.Synonyms) == 0 {
				return nil, eris.Errorf("dictionary: profile %s: field %s has no synonyms", name, fname)
			}
			e := entry{synonyms: fe.Synonyms}
			for _, s := range fe.Synonyms {
				e.folded = append(e.folded, fold.String(s))
				e.normalized = append(e.normalized, normalize(fold, s))
			}
			for _, x := range fe.Exclude {
				e.exclude = append(e.exclude, normalize(fold, x))
			}
			for _, x := range fe.Require {
				if n := normalize(fold, x); n != "" {
					e.require = append(e.require, n)
				}
			}
			t.fields[f] = e
		}

		if t.profile == ProfileGeneral {
			d.general = t
			continue
		}
		if len(t.triggers) == 0 {
			return nil, eris.Errorf("dictionary: profile %s has no triggers", name)
		}
		d.sectors = append(d.sectors, t)
	}
	if d.general == nil {
		return nil, eris.New("dictionary: missing general profile")
	}
	sort.Slice(d.sectors, func(i, j int) bool { return d.sectors[i].profile < d.sectors[j].profile })
	return d, nil
}

// Profiles lists the known profiles, general first.
func (d *Dictionary) Profiles() []Profile {
	out := []Profile{ProfileGeneral}
	for _, t := range d.sectors {
		out = append(out, t.profile)
	}
	return out
}

// Fields lists every canonical field the given profile can resolve, sorted.
func (d *Dictionary) Fields(profile Profile) []model.Field {
	seen := make(map[model.Field]bool)
	for _, t := range d.tables(profile) {
		for f := range t.fields {
			seen[f] = true
		}
	}
	out := make([]model.Field, 0, len(seen))
	for f := range seen {
		out = append(out, f)
	}
	model.SortFields(out)
	return out
}

// Classify scans vocabulary (vendor keys and descriptive values) for sector
// trigger terms. The sector with the most hits wins provided it reaches its
// minimum; otherwise the general profile applies.
func (d *Dictionary) Classify(terms []string) Profile {
	fold := cases.Fold()
	norm := make([]string, 0, len(terms))
	for _, term := range terms {
		if n := normalize(fold, term); n != "" {
			norm = append(norm, n)
		}
	}

	best, bestHits := ProfileGeneral, 0
	for _, t := range d.sectors {
		hits := 0
		for _, trig := range t.triggers {
			for _, n := range norm {
				if strings.Contains(n, trig) {
					hits++
					break
				}
			}
		}
		if hits >= t.minHits && hits > bestHits {
			best, bestHits = t.profile, hits
		}
	}
	return best
}

// tables returns the tables searched for profile, sector table first.
func (d *Dictionary) tables(profile Profile) []*table {
	for _, t := range d.sectors {
		if t.profile == profile {
			return []*table{t, d.general}
		}
	}
	return []*table{d.general}
}

type key struct {
	raw, folded, normalized string
}

// Lookup resolves fields against one payload. It is not safe for concurrent
// use.
type Lookup struct {
	d       *Dictionary
	profile Profile
	values  map[string]any
	keys    []key
}

// Lookup indexes values for repeated resolution under profile.
func (d *Dictionary) Lookup(profile Profile, values map[string]any) *Lookup {
	fold := cases.Fold()
	keys := make([]key, 0, len(values))
	for k := range values {
		keys = append(keys, key{raw: k, folded: fold.String(k), normalized: normalize(fold, k)})
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].raw < keys[j].raw })
	return &Lookup{d: d, profile: profile, values: values, keys: keys}
}

// Resolve is a one-shot lookup of field in values.
func (d *Dictionary) Resolve(profile Profile, field model.Field, values map[string]any) (Resolution, bool) {
	return d.Lookup(profile, values).Resolve(field)
}

// Resolve finds the vendor key for field. Stages run in order across all
// tables, so an exact general match beats a substring sector match; within
// a stage the sector table wins and synonyms are tried in rank order.
func (l *Lookup) Resolve(field model.Field) (Resolution, bool) {
	tables := l.d.tables(l.profile)
	for _, stage := range []Stage{StageExact, StageNormalized, StageSubstring} {
		for _, t := range tables {
			e, ok := t.fields[field]
			if !ok {
				continue
			}
			if k, ok := l.match(stage, e); ok {
				return Resolution{
					Field:   field,
					Key:     k.raw,
					Value:   l.values[k.raw],
					Stage:   stage,
					Profile: t.profile,
				}, true
			}
		}
	}
	return Resolution{}, false
}

func (l *Lookup) match(stage Stage, e entry) (key, bool) {
	for i := range e.synonyms {
		for _, k := range l.keys {
			switch stage {
			case StageExact:
				if k.folded == e.folded[i] {
					return k, true
				}
			case StageNormalized:
				if k.normalized != "" && k.normalized == e.normalized[i] {
					return k, true
				}
			case StageSubstring:
				if contains(k.normalized, e.normalized[i]) && !excluded(k.normalized, e.exclude) && required(k.normalized, e.require) {
					return k, true
				}
			}
		}
	}
	return key{}, false
}

// Unmapped returns the payload keys that no canonical field resolves to,
// sorted.
func (l *Lookup) Unmapped() []string {
	used := make(map[string]bool)
	for _, f := range l.d.Fields(l.profile) {
		if r, ok := l.Resolve(f); ok {
			used[r.Key] = true
		}
	}
	var out []string
	for _, k := range l.keys {
		if !used[k.raw] {
			out = append(out, k.raw)
		}
	}
	return out
}

// contains reports substring containment in either direction. The
// contained side must be at least minContained long.
func contains(a, b string) bool {
	if a == "" || b == "" {
		return false
	}
	if a == b {
		return true
	}
	long, short := a, b
	if len(short) > len(long) {
		long, short = short, long
	}
	if len(short) < minContained {
		return false
	}
	return strings.Contains(long, short)
}

// required reports whether k carries one of the field's core terms, which
// keeps a generic key such as "price" from resolving "pricetobookratio".
func required(k string, terms []string) bool {
	if len(terms) == 0 {
		return true
	}
	for _, x := range terms {
		if strings.Contains(k, x) {
			return true
		}
	}
	return false
}

func excluded(k string, terms []string) bool {
	for _, x := range terms {
		if x != "" && strings.Contains(k, x) {
			return true
		}
	}
	return false
}

// normalize folds case and strips everything but letters and digits.
func normalize(fold cases.Caser, s string) string {
	s = fold.String(s)
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}
