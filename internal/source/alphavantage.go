package source

import (
	"context"
	"net/url"
	"strings"

	"github.com/sells-group/finfuse/internal/config"
	"github.com/sells-group/finfuse/internal/model"
	"github.com/sells-group/finfuse/internal/quota"
	"github.com/sells-group/finfuse/internal/resilience"
)

var avStatements = []struct {
	function string
	kind     model.StatementKind
}{
	{"INCOME_STATEMENT", model.IncomeStatement},
	{"BALANCE_SHEET", model.BalanceSheet},
	{"CASH_FLOW", model.CashFlowStatement},
}

// AlphaVantage reads company overview, statements and quotes from
// alphavantage.co. Every function is a separate call against a small daily
// allowance, so the plan only includes what the request needs.
type AlphaVantage struct {
	key     string
	baseURL string
	client  *Client
}

// NewAlphaVantage creates the Alpha Vantage adapter.
func NewAlphaVantage(sc config.SourceConfig, opts ...ClientOption) *AlphaVantage {
	return &AlphaVantage{
		key:     sc.Key,
		baseURL: strings.TrimRight(sc.BaseURL, "/"),
		client:  NewClient(config.SourceAlphaVantage, sc, alphaVantageSoftLimit, opts...),
	}
}

func (a *AlphaVantage) Name() string { return config.SourceAlphaVantage }

func (a *AlphaVantage) Available() bool { return a.key != "" }

func (a *AlphaVantage) Quota() quota.Snapshot { return a.client.Quota() }

// Fetch calls OVERVIEW, then the statement functions and GLOBAL_QUOTE when
// requested.
func (a *AlphaVantage) Fetch(ctx context.Context, req Request) (*Record, error) {
	if !a.Available() {
		return nil, unavailable(a.Name())
	}
	symbol := model.NormalizeTicker(req.Ticker)
	rec := NewRecord(a.Name(), a.client.nowFunc())

	steps := []step{{
		endpoint: "OVERVIEW",
		primary:  true,
		run: func(ctx context.Context, rec *Record) error {
			var overview map[string]any
			if err := a.client.GetJSON(ctx, "OVERVIEW", a.url("OVERVIEW", symbol), &overview); err != nil {
				return err
			}
			if len(overview) == 0 {
				return resilience.NewError(resilience.KindNotFound, a.Name(), "OVERVIEW", nil)
			}
			scalars(rec, overview)
			return nil
		},
	}}

	if req.Statements {
		for _, st := range avStatements {
			steps = append(steps, step{
				endpoint: st.function,
				run: func(ctx context.Context, rec *Record) error {
					var doc struct {
						AnnualReports []map[string]any `json:"annualReports"`
					}
					if err := a.client.GetJSON(ctx, st.function, a.url(st.function, symbol), &doc); err != nil {
						return err
					}
					var ps []RawPeriod
					for _, row := range doc.AnnualReports {
						if p, ok := period(row, "fiscalDateEnding", "reportedCurrency"); ok {
							ps = append(ps, p)
						}
					}
					if len(ps) > 0 {
						rec.Statements[st.kind] = sortPeriods(ps)
					}
					return nil
				},
			})
		}
	}

	if wants(req, model.Price) {
		steps = append(steps, step{
			endpoint: "GLOBAL_QUOTE",
			run: func(ctx context.Context, rec *Record) error {
				var doc struct {
					Quote map[string]any `json:"Global Quote"`
				}
				if err := a.client.GetJSON(ctx, "GLOBAL_QUOTE", a.url("GLOBAL_QUOTE", symbol), &doc); err != nil {
					return err
				}
				scalars(rec, doc.Quote)
				return nil
			},
		})
	}

	return runSteps(ctx, rec, steps)
}

func (a *AlphaVantage) url(function, symbol string) string {
	q := url.Values{}
	q.Set("function", function)
	q.Set("symbol", symbol)
	q.Set("apikey", a.key)
	return a.baseURL + "?" + q.Encode()
}

// alphaVantageSoftLimit recognises the three markers Alpha Vantage embeds in
// HTTP 200 bodies: "Note" (per-minute throttle), "Information" (daily cap or
// premium endpoint) and "Error Message" (invalid call).
func alphaVantageSoftLimit(_ int, body []byte) string {
	return jsonMarker(body, "Note", "Information", "Error Message")
}
