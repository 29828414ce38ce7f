package source

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/finfuse/internal/config"
	"github.com/sells-group/finfuse/internal/model"
	"github.com/sells-group/finfuse/internal/resilience"
)

const eodhdFundamentals = `{
  "General": {"Code": "ACME", "Name": "Acme Corp", "Sector": "Industrials", "CurrencyCode": "USD", "Exchange": "NYSE"},
  "Highlights": {"MarketCapitalization": 5000000000, "PERatio": 18.5, "EarningsShare": 2.1, "RevenueTTM": 1000000, "ReturnOnEquityTTM": null},
  "Valuation": {"PriceBookMRQ": 3.2},
  "Technicals": {"Beta": 1.1},
  "SharesStats": {"SharesOutstanding": 250000000},
  "Financials": {
    "Balance_Sheet": {"currency_symbol": "USD", "yearly": {
      "2024-12-31": {"date": "2024-12-31", "filing_date": "2025-02-20", "totalAssets": "1000.00", "totalLiab": "600.00", "totalStockholderEquity": "400.00"},
      "2023-12-31": {"date": "2023-12-31", "filing_date": "2024-02-20", "totalAssets": "900.00", "totalLiab": "550.00", "totalStockholderEquity": "350.00"}
    }},
    "Income_Statement": {"yearly": {
      "2024-12-31": {"date": "2024-12-31", "totalRevenue": "500.00", "netIncome": "50.00"}
    }},
    "Cash_Flow": {"yearly": {}}
  }
}`

func TestEODHD_Fetch(t *testing.T) {
	var paths []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		paths = append(paths, r.URL.Path)
		assert.Equal(t, "test-key", r.URL.Query().Get("api_token"))
		assert.Equal(t, "json", r.URL.Query().Get("fmt"))
		switch {
		case strings.HasPrefix(r.URL.Path, "/fundamentals/"):
			_, _ = w.Write([]byte(eodhdFundamentals))
		case strings.HasPrefix(r.URL.Path, "/real-time/"):
			_, _ = w.Write([]byte(`{"code": "ACME.US", "close": 20.5}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(srv.Close)

	a := NewEODHD(testSourceConfig(srv.URL))
	rec, err := a.Fetch(context.Background(), Request{
		Ticker:     "acme",
		Fields:     []model.Field{model.Revenue, model.Price},
		Statements: true,
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"/fundamentals/ACME.US", "/real-time/ACME.US"}, paths)
	assert.Equal(t, "eodhd", rec.Source)
	assert.True(t, rec.Complete)
	assert.Equal(t, []string{"fundamentals", "real-time"}, rec.Endpoints)
	assert.Equal(t, "Acme Corp", rec.Values["Name"])
	assert.Equal(t, 1000000.0, rec.Values["RevenueTTM"])
	assert.Equal(t, 20.5, rec.Values["close"])
	assert.Contains(t, rec.Values, "ReturnOnEquityTTM")
	assert.Nil(t, rec.Values["ReturnOnEquityTTM"])

	bs := rec.Statements[model.BalanceSheet]
	require.Len(t, bs, 2)
	assert.Equal(t, "2023-12-31", bs[0].End)
	assert.Equal(t, "1000.00", bs[1].Values["totalAssets"])
	assert.NotContains(t, bs[1].Values, "filing_date")
	assert.Len(t, rec.Statements[model.IncomeStatement], 1)
	assert.NotContains(t, rec.Statements, model.CashFlowStatement)
}

func TestEODHD_SkipsQuoteWhenPriceNotRequested(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		_, _ = w.Write([]byte(eodhdFundamentals))
	}))
	t.Cleanup(srv.Close)

	rec, err := NewEODHD(testSourceConfig(srv.URL)).Fetch(context.Background(), Request{Ticker: "ACME", Fields: []model.Field{model.Revenue}})
	require.NoError(t, err)
	assert.Equal(t, int32(1), hits.Load())
	assert.Empty(t, rec.Statements, "statements were not requested")
}

func TestEODHD_UnknownTicker(t *testing.T) {
	srv, _ := countingServer(t, http.StatusOK, `{}`)
	_, err := NewEODHD(testSourceConfig(srv.URL)).Fetch(context.Background(), Request{Ticker: "NOPE"})
	assert.True(t, resilience.IsKind(err, resilience.KindNotFound))
}

func TestEODHD_SoftLimit(t *testing.T) {
	srv, _ := countingServer(t, http.StatusPaymentRequired, `You exceeded your daily API requests limit.`)
	_, err := NewEODHD(testSourceConfig(srv.URL)).Fetch(context.Background(), Request{Ticker: "ACME"})
	assert.True(t, resilience.IsKind(err, resilience.KindVendorSoftLimit))

	srv2, _ := countingServer(t, http.StatusOK, `{"error": "Unauthenticated"}`)
	_, err = NewEODHD(testSourceConfig(srv2.URL)).Fetch(context.Background(), Request{Ticker: "ACME"})
	assert.True(t, resilience.IsKind(err, resilience.KindVendorSoftLimit))
}

func TestEODHD_QuoteFailureMarksIncomplete(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, "/real-time/") {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(eodhdFundamentals))
	}))
	t.Cleanup(srv.Close)

	rec, err := NewEODHD(testSourceConfig(srv.URL)).Fetch(context.Background(), Request{Ticker: "ACME", Fields: []model.Field{model.Price}})
	require.NoError(t, err)
	assert.False(t, rec.Complete)
	assert.Equal(t, []string{"fundamentals"}, rec.Endpoints)
}

func TestEODHD_NoKeyIsUnavailable(t *testing.T) {
	a := NewEODHD(config.SourceConfig{BaseURL: "http://127.0.0.1:1"})
	assert.False(t, a.Available())
	_, err := a.Fetch(context.Background(), Request{Ticker: "ACME"})
	assert.True(t, resilience.IsKind(err, resilience.KindUnavailable))
}

func TestEODHDSymbol(t *testing.T) {
	assert.Equal(t, "ACME.US", eodhdSymbol(" acme "))
	assert.Equal(t, "VOD.LSE", eodhdSymbol("vod.lse"))
}
