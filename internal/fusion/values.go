package fusion

import (
	"math"
	"strconv"
	"strings"

	"github.com/sells-group/finfuse/internal/model"
)

// placeholders are vendor sentinels meaning "no value", compared lower-case.
var placeholders = map[string]bool{
	"":     true,
	"none": true,
	"null": true,
	"nil":  true,
	"-":    true,
	"--":   true,
	"n/a":  true,
	"na":   true,
	"nan":  true,
}

// accept converts a raw vendor value into a canonical value for f. The
// outcome is OutcomeAccepted only when the value may be fused.
func accept(f model.Field, raw any) (any, model.Outcome) {
	spec, _ := model.Spec(f)

	switch v := raw.(type) {
	case nil:
		return nil, model.OutcomePlaceholder
	case string:
		s := strings.TrimSpace(v)
		if placeholders[strings.ToLower(s)] {
			return nil, model.OutcomePlaceholder
		}
		if spec.Kind == model.KindText {
			return s, model.OutcomeAccepted
		}
		n, ok := parseNumber(s)
		if !ok {
			return nil, model.OutcomeUnparseable
		}
		return n, model.OutcomeAccepted
	case float64:
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, model.OutcomePlaceholder
		}
		if spec.Kind == model.KindText {
			return nil, model.OutcomeUnparseable
		}
		return v, model.OutcomeAccepted
	case int:
		return accept(f, float64(v))
	case int64:
		return accept(f, float64(v))
	default:
		return nil, model.OutcomeUnparseable
	}
}

// parseNumber accepts plain decimals and thousands separators.
func parseNumber(s string) (float64, bool) {
	n, err := strconv.ParseFloat(strings.ReplaceAll(s, ",", ""), 64)
	if err != nil || math.IsNaN(n) || math.IsInf(n, 0) {
		return 0, false
	}
	return n, true
}
