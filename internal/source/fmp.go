package source

import (
	"context"
	"encoding/json"
	"net/url"
	"strings"

	"github.com/sells-group/finfuse/internal/config"
	"github.com/sells-group/finfuse/internal/model"
	"github.com/sells-group/finfuse/internal/quota"
	"github.com/sells-group/finfuse/internal/resilience"
)

var fmpStatements = []struct {
	path string
	kind model.StatementKind
}{
	{"income-statement", model.IncomeStatement},
	{"balance-sheet-statement", model.BalanceSheet},
	{"cash-flow-statement", model.CashFlowStatement},
}

// FMP reads profile, TTM ratios and statements from financialmodelingprep.com.
type FMP struct {
	key     string
	baseURL string
	client  *Client
}

// NewFMP creates the Financial Modeling Prep adapter.
func NewFMP(sc config.SourceConfig, opts ...ClientOption) *FMP {
	return &FMP{
		key:     sc.Key,
		baseURL: strings.TrimRight(sc.BaseURL, "/"),
		client:  NewClient(config.SourceFMP, sc, fmpSoftLimit, opts...),
	}
}

func (f *FMP) Name() string { return config.SourceFMP }

func (f *FMP) Available() bool { return f.key != "" }

func (f *FMP) Quota() quota.Snapshot { return f.client.Quota() }

// Fetch calls profile and ratios-ttm, then the statement endpoints when
// requested.
func (f *FMP) Fetch(ctx context.Context, req Request) (*Record, error) {
	if !f.Available() {
		return nil, unavailable(f.Name())
	}
	symbol := model.NormalizeTicker(req.Ticker)
	rec := NewRecord(f.Name(), f.client.nowFunc())

	steps := []step{
		{
			endpoint: "profile",
			primary:  true,
			run: func(ctx context.Context, rec *Record) error {
				rows, err := f.rows(ctx, "profile", "/profile/"+symbol, nil)
				if err != nil {
					return err
				}
				if len(rows) == 0 {
					return resilience.NewError(resilience.KindNotFound, f.Name(), "profile", nil)
				}
				scalars(rec, rows[0])
				return nil
			},
		},
		{
			endpoint: "ratios-ttm",
			run: func(ctx context.Context, rec *Record) error {
				rows, err := f.rows(ctx, "ratios-ttm", "/ratios-ttm/"+symbol, nil)
				if err != nil {
					return err
				}
				if len(rows) > 0 {
					scalars(rec, rows[0])
				}
				return nil
			},
		},
	}

	if req.Statements {
		for _, st := range fmpStatements {
			steps = append(steps, step{
				endpoint: st.path,
				run: func(ctx context.Context, rec *Record) error {
					rows, err := f.rows(ctx, st.path, "/"+st.path+"/"+symbol, url.Values{"period": {"annual"}, "limit": {"5"}})
					if err != nil {
						return err
					}
					var ps []RawPeriod
					for _, row := range rows {
						if p, ok := period(row, "date", "symbol", "reportedCurrency", "cik", "fillingDate", "acceptedDate", "calendarYear", "period", "link", "finalLink"); ok {
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

	return runSteps(ctx, rec, steps)
}

// rows fetches an endpoint that answers with a JSON array of objects.
func (f *FMP) rows(ctx context.Context, endpoint, path string, q url.Values) ([]map[string]any, error) {
	if q == nil {
		q = url.Values{}
	}
	q.Set("apikey", f.key)

	body, err := f.client.Get(ctx, endpoint, f.baseURL+path+"?"+q.Encode())
	if err != nil {
		return nil, err
	}
	var rows []map[string]any
	if err := json.Unmarshal(body, &rows); err != nil {
		return nil, resilience.NewError(resilience.KindMalformedPayload, f.Name(), endpoint, err)
	}
	return rows, nil
}

// fmpSoftLimit recognises FMP's {"Error Message": "..."} object, which it
// returns for exhausted plans and invalid keys with either 200 or 4xx.
func fmpSoftLimit(_ int, body []byte) string {
	return jsonMarker(body, "Error Message")
}
