package source

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/finfuse/internal/config"
	"github.com/sells-group/finfuse/internal/quota"
	"github.com/sells-group/finfuse/internal/resilience"
)

const maxBodyBytes = 64 << 20

// SoftLimitFunc inspects a vendor response and returns a non-empty message
// when the body carries the vendor's throttle or error marker.
type SoftLimitFunc func(status int, body []byte) string

// Client performs quota-guarded JSON GETs against one vendor. Calls are
// serialized: one request is in flight at a time, from quota reservation to
// the end of the body read.
type Client struct {
	source   string
	inFlight chan struct{}
	http     *http.Client
	timeout  time.Duration
	tracker  *quota.Tracker
	breaker  *resilience.Breaker
	retry    resilience.RetryConfig
	header   http.Header
	detect   SoftLimitFunc
	nowFunc  func() time.Time
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		c.http = hc
	}
}

// WithTracker replaces the quota tracker built from the source settings.
func WithTracker(t *quota.Tracker) ClientOption {
	return func(c *Client) {
		c.tracker = t
	}
}

// WithBreaker guards calls with a circuit breaker.
func WithBreaker(b *resilience.Breaker) ClientOption {
	return func(c *Client) {
		c.breaker = b
	}
}

// WithNow overrides the clock used to stamp records.
func WithNow(now func() time.Time) ClientOption {
	return func(c *Client) {
		c.nowFunc = now
	}
}

// NewClient builds the client for one source from its settings.
func NewClient(source string, sc config.SourceConfig, detect SoftLimitFunc, opts ...ClientOption) *Client {
	timeout := time.Duration(sc.TimeoutSecs) * time.Second
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	c := &Client{
		source:  source,
		http:    &http.Client{},
		timeout: timeout,
		tracker: quota.NewTracker(quota.Config{
			Source:      source,
			DailyLimit:  sc.DailyLimit,
			MinInterval: time.Duration(sc.MinIntervalMs) * time.Millisecond,
		}),
		retry:    resilience.RetryFromSource(source, sc),
		header:   make(http.Header),
		detect:   detect,
		nowFunc:  time.Now,
		inFlight: make(chan struct{}, 1),
	}
	for _, o := range opts {
		o(c)
	}
	if c.breaker == nil {
		c.breaker = resilience.NewBreaker(source, resilience.DefaultBreakerConfig())
	}
	return c
}

// Quota returns the tracker's current state.
func (c *Client) Quota() quota.Snapshot {
	return c.tracker.Snapshot()
}

// Get returns the raw body of a successful call. The call passes through the
// circuit breaker, the retry policy and, per attempt, the quota tracker.
func (c *Client) Get(ctx context.Context, endpoint, rawURL string) ([]byte, error) {
	return resilience.ExecuteVal(ctx, c.breaker, func(ctx context.Context) ([]byte, error) {
		return resilience.DoVal(ctx, c.retry, func(ctx context.Context) ([]byte, error) {
			return c.do(ctx, endpoint, rawURL)
		})
	})
}

// GetJSON is Get followed by decoding into out.
func (c *Client) GetJSON(ctx context.Context, endpoint, rawURL string, out any) error {
	body, err := c.Get(ctx, endpoint, rawURL)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return c.fail(resilience.KindMalformedPayload, endpoint, 0, eris.Wrap(err, "source: decode response"))
	}
	return nil
}

func (c *Client) do(ctx context.Context, endpoint, rawURL string) ([]byte, error) {
	select {
	case c.inFlight <- struct{}{}:
	case <-ctx.Done():
		return nil, c.fail(resilience.KindUnavailable, endpoint, 0, ctx.Err())
	}
	defer func() { <-c.inFlight }()

	if !c.tracker.Reserve(ctx) {
		if err := ctx.Err(); err != nil {
			return nil, c.fail(resilience.KindUnavailable, endpoint, 0, err)
		}
		zap.L().Info("source: quota exhausted, skipping call",
			zap.String("source", c.source),
			zap.String("endpoint", endpoint),
		)
		return nil, c.fail(resilience.KindQuotaExhausted, endpoint, 0, nil)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, c.fail(resilience.KindUnavailable, endpoint, 0, eris.Wrap(err, "source: build request"))
	}
	req.Header.Set("Accept", "application/json")
	for k, vs := range c.header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	zap.L().Debug("source: request",
		zap.String("source", c.source),
		zap.String("endpoint", endpoint),
	)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, c.fail(resilience.KindTransientNetwork, endpoint, 0, eris.Wrap(err, "source: execute request"))
	}
	defer resp.Body.Close() //nolint:errcheck

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, c.fail(resilience.KindTransientNetwork, endpoint, resp.StatusCode, eris.Wrap(err, "source: read body"))
	}

	if c.detect != nil {
		if msg := c.detect(resp.StatusCode, body); msg != "" {
			return nil, c.fail(resilience.KindVendorSoftLimit, endpoint, resp.StatusCode, eris.New(msg))
		}
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return body, nil
	case resp.StatusCode == http.StatusNotFound:
		return nil, c.fail(resilience.KindNotFound, endpoint, resp.StatusCode, nil)
	case resilience.IsTransientHTTPStatus(resp.StatusCode):
		return nil, c.fail(resilience.KindTransientNetwork, endpoint, resp.StatusCode, nil)
	default:
		return nil, c.fail(resilience.KindUnavailable, endpoint, resp.StatusCode, nil)
	}
}

func (c *Client) fail(kind resilience.Kind, endpoint string, status int, err error) *resilience.Error {
	return &resilience.Error{Kind: kind, Source: c.source, Endpoint: endpoint, StatusCode: status, Err: err}
}

// jsonMarker returns the first non-empty string among the named top-level
// fields of a JSON object body.
func jsonMarker(body []byte, fields ...string) string {
	var obj map[string]any
	if err := json.Unmarshal(body, &obj); err != nil {
		return ""
	}
	for _, f := range fields {
		if s, ok := obj[f].(string); ok && s != "" {
			return f + ": " + s
		}
	}
	return ""
}
