package source

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/sells-group/finfuse/internal/config"
	"github.com/sells-group/finfuse/internal/model"
	"github.com/sells-group/finfuse/internal/quota"
	"github.com/sells-group/finfuse/internal/resilience"
	"github.com/sells-group/finfuse/internal/xbrl"
)

// DefaultEDGARTickersURL is SEC's ticker to CIK mapping.
const DefaultEDGARTickersURL = "https://www.sec.gov/files/company_tickers.json"

// EDGAR reads XBRL company facts from SEC EDGAR. Its credential is the
// contact user agent SEC requires on every request.
type EDGAR struct {
	userAgent  string
	baseURL    string
	tickersURL string
	client     *Client

	mu   sync.Mutex
	ciks map[string]int
}

// NewEDGAR creates the SEC EDGAR adapter.
func NewEDGAR(sc config.SourceConfig, opts ...ClientOption) *EDGAR {
	e := &EDGAR{
		userAgent:  sc.Key,
		baseURL:    strings.TrimRight(sc.BaseURL, "/"),
		tickersURL: DefaultEDGARTickersURL,
		client:     NewClient(config.SourceEDGAR, sc, edgarSoftLimit, opts...),
	}
	e.client.header.Set("User-Agent", sc.Key)
	return e
}

// WithTickersURL overrides where the ticker to CIK map is loaded from.
func (e *EDGAR) WithTickersURL(u string) *EDGAR {
	e.tickersURL = u
	return e
}

func (e *EDGAR) Name() string { return config.SourceEDGAR }

func (e *EDGAR) Available() bool { return e.userAgent != "" }

func (e *EDGAR) Quota() quota.Snapshot { return e.client.Quota() }

// Fetch resolves the ticker's CIK and reads its company facts. The latest
// annual period supplies the scalar values; all annual periods feed the
// statement tables.
func (e *EDGAR) Fetch(ctx context.Context, req Request) (*Record, error) {
	if !e.Available() {
		return nil, unavailable(e.Name())
	}
	ticker := model.NormalizeTicker(req.Ticker)
	rec := NewRecord(e.Name(), e.client.nowFunc())

	return runSteps(ctx, rec, []step{{
		endpoint: "companyfacts",
		primary:  true,
		run: func(ctx context.Context, rec *Record) error {
			cik, err := e.cik(ctx, ticker)
			if err != nil {
				return err
			}
			body, err := e.client.Get(ctx, "companyfacts", fmt.Sprintf("%s/api/xbrl/companyfacts/CIK%010d.json", e.baseURL, cik))
			if err != nil {
				return err
			}
			facts, err := xbrl.ParseCompanyFacts(bytes.NewReader(body))
			if err != nil {
				return resilience.NewError(resilience.KindMalformedPayload, e.Name(), "companyfacts", err)
			}
			e.fill(rec, facts, req.Statements)
			return nil
		},
	}})
}

func (e *EDGAR) fill(rec *Record, facts *xbrl.CompanyFacts, statements bool) {
	if facts.EntityName != "" {
		rec.Set("entityName", facts.EntityName)
	}
	periods := xbrl.Annual(facts)
	if len(periods) == 0 {
		return
	}
	latest := periods[len(periods)-1]
	for concept, v := range latest.Values {
		rec.Set(concept, v)
	}
	rec.Set("fiscalPeriodEnd", latest.End)

	if !statements {
		return
	}
	for _, p := range periods {
		split := make(map[model.StatementKind]map[string]any)
		for concept, v := range p.Values {
			kind, ok := xbrl.StatementOf(concept)
			if !ok {
				continue
			}
			if split[kind] == nil {
				split[kind] = make(map[string]any)
			}
			split[kind][concept] = v
		}
		for kind, values := range split {
			rec.Statements[kind] = append(rec.Statements[kind], RawPeriod{End: p.End, Values: values})
		}
	}
}

// cik resolves a ticker through SEC's mapping file, loaded once per process.
func (e *EDGAR) cik(ctx context.Context, ticker string) (int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.ciks == nil {
		body, err := e.client.Get(ctx, "company_tickers", e.tickersURL)
		if err != nil {
			return 0, err
		}
		var doc map[string]struct {
			CIK    int    `json:"cik_str"`
			Ticker string `json:"ticker"`
		}
		if err := json.Unmarshal(body, &doc); err != nil {
			return 0, resilience.NewError(resilience.KindMalformedPayload, e.Name(), "company_tickers", err)
		}
		ciks := make(map[string]int, len(doc))
		for _, row := range doc {
			ciks[strings.ToUpper(row.Ticker)] = row.CIK
		}
		e.ciks = ciks
	}

	cik, ok := e.ciks[ticker]
	if !ok {
		return 0, resilience.NewError(resilience.KindNotFound, e.Name(), "company_tickers", nil)
	}
	return cik, nil
}

// edgarSoftLimit recognises SEC's fair-access throttle, a 403 (sometimes an
// HTML page) mentioning the request rate threshold.
func edgarSoftLimit(status int, body []byte) string {
	if bytes.Contains(body, []byte("Request Rate Threshold Exceeded")) {
		return "request rate threshold exceeded"
	}
	if status == http.StatusForbidden {
		return "forbidden: undeclared or throttled user agent"
	}
	return ""
}
