package source

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	"github.com/sells-group/finfuse/internal/config"
	"github.com/sells-group/finfuse/internal/model"
	"github.com/sells-group/finfuse/internal/quota"
	"github.com/sells-group/finfuse/internal/resilience"
)

// eodhdSections are the fundamentals sections whose scalars feed fusion.
var eodhdSections = []string{"General", "Highlights", "Valuation", "SharesStats", "Technicals", "SplitsDividends"}

var eodhdStatements = map[string]model.StatementKind{
	"Income_Statement": model.IncomeStatement,
	"Balance_Sheet":    model.BalanceSheet,
	"Cash_Flow":        model.CashFlowStatement,
}

// EODHD is the primary market-data adapter (eodhd.com).
type EODHD struct {
	key     string
	baseURL string
	client  *Client
}

// NewEODHD creates the EODHD adapter.
func NewEODHD(sc config.SourceConfig, opts ...ClientOption) *EODHD {
	return &EODHD{
		key:     sc.Key,
		baseURL: strings.TrimRight(sc.BaseURL, "/"),
		client:  NewClient(config.SourceEODHD, sc, eodhdSoftLimit, opts...),
	}
}

func (e *EODHD) Name() string { return config.SourceEODHD }

func (e *EODHD) Available() bool { return e.key != "" }

func (e *EODHD) Quota() quota.Snapshot { return e.client.Quota() }

// Fetch reads the fundamentals document and, when a price is requested, the
// real-time quote.
func (e *EODHD) Fetch(ctx context.Context, req Request) (*Record, error) {
	if !e.Available() {
		return nil, unavailable(e.Name())
	}
	symbol := eodhdSymbol(req.Ticker)
	rec := NewRecord(e.Name(), e.client.nowFunc())

	steps := []step{{
		endpoint: "fundamentals",
		primary:  true,
		run: func(ctx context.Context, rec *Record) error {
			var doc map[string]any
			if err := e.client.GetJSON(ctx, "fundamentals", e.url("/fundamentals/"+symbol), &doc); err != nil {
				return err
			}
			general, _ := doc["General"].(map[string]any)
			if len(general) == 0 {
				return resilience.NewError(resilience.KindNotFound, e.Name(), "fundamentals", nil)
			}
			for _, section := range eodhdSections {
				if obj, ok := doc[section].(map[string]any); ok {
					scalars(rec, obj)
				}
			}
			if req.Statements {
				financials, _ := doc["Financials"].(map[string]any)
				for name, kind := range eodhdStatements {
					table, _ := financials[name].(map[string]any)
					yearly, _ := table["yearly"].(map[string]any)
					var ps []RawPeriod
					for _, row := range yearly {
						m, ok := row.(map[string]any)
						if !ok {
							continue
						}
						if p, ok := period(m, "date", "filing_date", "currency_symbol"); ok {
							ps = append(ps, p)
						}
					}
					if len(ps) > 0 {
						rec.Statements[kind] = sortPeriods(ps)
					}
				}
			}
			return nil
		},
	}}

	if wants(req, model.Price) {
		steps = append(steps, step{
			endpoint: "real-time",
			run: func(ctx context.Context, rec *Record) error {
				var quote map[string]any
				if err := e.client.GetJSON(ctx, "real-time", e.url("/real-time/"+symbol), &quote); err != nil {
					return err
				}
				if v, ok := quote["close"]; ok {
					rec.Set("close", v)
				}
				return nil
			},
		})
	}

	return runSteps(ctx, rec, steps)
}

func (e *EODHD) url(path string) string {
	q := url.Values{}
	q.Set("api_token", e.key)
	q.Set("fmt", "json")
	return e.baseURL + path + "?" + q.Encode()
}

// eodhdSymbol qualifies a bare ticker with the US exchange suffix.
func eodhdSymbol(ticker string) string {
	t := model.NormalizeTicker(ticker)
	if strings.Contains(t, ".") {
		return t
	}
	return t + ".US"
}

// eodhdSoftLimit recognises EODHD's plan and throttle responses: 402 when the
// daily allowance is spent and a JSON error/message object on 200.
func eodhdSoftLimit(status int, body []byte) string {
	if status == http.StatusPaymentRequired {
		return "payment required: " + strings.TrimSpace(string(body))
	}
	if status != http.StatusOK {
		return ""
	}
	return jsonMarker(body, "error", "message")
}
