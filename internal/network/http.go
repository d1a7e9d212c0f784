package network

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/yanun0323/errors"

	"tradecore/internal/obs"
	"tradecore/internal/ratelimit"
	"tradecore/pkg/clock"
	"tradecore/pkg/exception"
)

const maxErrorBody = 512

type HTTPConfig struct {
	BaseURL string        `json:"base_url"`
	Timeout time.Duration `json:"timeout"`
	Retry   RetryConfig   `json:"retry"`
	// ResetHeaders name the venue headers that carry a rate limit reset
	// epoch. Empty uses the common ones.
	ResetHeaders []exception.ResetHeader `json:"-"`
}

// Request is one venue call. Keys are the rate limit keys waited on
// before every attempt.
type Request struct {
	Method string
	Path   string
	Query  url.Values
	Body   any
	Header http.Header
	Keys   []string
}

// HTTPClient sends venue requests under a shared rate limiter and the
// retry policy.
type HTTPClient struct {
	name    string
	cfg     HTTPConfig
	client  *http.Client
	limiter *ratelimit.Limiter[string]
	retrier *Retrier
	clock   clock.Clock
	metrics *obs.Metrics
	header  http.Header
}

type HTTPOption func(*HTTPClient)

func WithHTTPClient(c *http.Client) HTTPOption {
	return func(h *HTTPClient) { h.client = c }
}

func WithLimiter(l *ratelimit.Limiter[string]) HTTPOption {
	return func(h *HTTPClient) { h.limiter = l }
}

func WithHTTPClock(c clock.Clock) HTTPOption {
	return func(h *HTTPClient) { h.clock = c }
}

func WithHTTPMetrics(m *obs.Metrics) HTTPOption {
	return func(h *HTTPClient) { h.metrics = m }
}

// WithHeader sets a header sent on every request, such as an API key.
func WithHeader(key, value string) HTTPOption {
	return func(h *HTTPClient) { h.header.Set(key, value) }
}

func NewHTTPClient(name string, cfg HTTPConfig, opts ...HTTPOption) *HTTPClient {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	h := &HTTPClient{
		name:   name,
		cfg:    cfg,
		clock:  clock.Real(),
		header: make(http.Header),
	}
	for _, opt := range opts {
		opt(h)
	}
	if h.client == nil {
		h.client = &http.Client{Timeout: cfg.Timeout}
	}
	h.retrier = NewRetrier(cfg.Retry, WithRetryClock(h.clock), WithRetryMetrics(h.metrics))
	return h
}

// Do sends req with retries and returns the response body of the first
// 2xx answer.
func (h *HTTPClient) Do(ctx context.Context, req Request) ([]byte, error) {
	name := h.name + " " + req.Method + " " + req.Path
	return Do(ctx, h.retrier, name, func(ctx context.Context) ([]byte, error) {
		return h.once(ctx, req)
	})
}

// JSON sends req and decodes the response body into out.
func (h *HTTPClient) JSON(ctx context.Context, req Request, out any) error {
	body, err := h.Do(ctx, req)
	if err != nil {
		return err
	}
	if out == nil || len(body) == 0 {
		return nil
	}
	if err := sonic.Unmarshal(body, out); err != nil {
		return errors.Wrapf(err, "%s: decode %s", h.name, req.Path)
	}
	return nil
}

func (h *HTTPClient) once(ctx context.Context, req Request) ([]byte, error) {
	if h.limiter != nil && len(req.Keys) != 0 {
		start := h.clock.Now()
		if err := h.limiter.WaitAll(ctx, req.Keys...); err != nil {
			return nil, err
		}
		h.metrics.Since(obs.LatencyLimiterWait, start, h.clock.Now())
	}

	var body io.Reader
	if req.Body != nil {
		payload, err := sonic.ConfigFastest.Marshal(req.Body)
		if err != nil {
			return nil, errors.Wrap(err, "marshal body")
		}
		body = bytes.NewReader(payload)
	}

	target := strings.TrimRight(h.cfg.BaseURL, "/") + req.Path
	if len(req.Query) != 0 {
		target += "?" + req.Query.Encode()
	}
	r, err := http.NewRequestWithContext(ctx, req.Method, target, body)
	if err != nil {
		return nil, exception.NewVenueError(exception.CodeInvalidRequest, err.Error())
	}
	for k, v := range h.header {
		r.Header[k] = v
	}
	for k, v := range req.Header {
		r.Header[k] = v
	}
	if req.Body != nil {
		r.Header.Set("Content-Type", "application/json")
	}

	resp, err := h.client.Do(r)
	if err != nil {
		return nil, transportError(ctx, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, transportError(ctx, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := string(data)
		if len(msg) > maxErrorBody {
			msg = msg[:maxErrorBody]
		}
		return nil, exception.FromHTTPStatus(resp.StatusCode, msg, resp.Header,
			time.Unix(0, h.clock.Now()), h.cfg.ResetHeaders...)
	}
	return data, nil
}
