package network

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradecore/internal/obs"
	"tradecore/internal/ratelimit"
	"tradecore/pkg/exception"
)

func TestHTTPClientStatusHandling(t *testing.T) {
	testCases := []struct {
		desc      string
		statuses  []int
		header    http.Header
		expectErr bool
		code      exception.Code
		calls     int32
	}{
		{
			desc:     "ok",
			statuses: []int{http.StatusOK},
			calls:    1,
		},
		{
			desc:     "service unavailable then ok",
			statuses: []int{http.StatusServiceUnavailable, http.StatusBadGateway, http.StatusOK},
			calls:    3,
		},
		{
			desc:     "rate limited with zero hint then ok",
			statuses: []int{http.StatusTooManyRequests, http.StatusOK},
			header:   http.Header{"Retry-After": []string{"0"}},
			calls:    2,
		},
		{
			desc:      "bad request is not retried",
			statuses:  []int{http.StatusBadRequest, http.StatusOK},
			expectErr: true,
			code:      exception.CodeBadRequest,
			calls:     1,
		},
		{
			desc:      "unauthorized is fatal",
			statuses:  []int{http.StatusUnauthorized},
			expectErr: true,
			code:      exception.CodeAuthenticationFailed,
			calls:     1,
		},
		{
			desc:      "server errors exhaust retries",
			statuses:  []int{500, 500, 500, 500},
			expectErr: true,
			code:      exception.CodeServerError,
			calls:     3,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.desc, func(t *testing.T) {
			var calls atomic.Int32
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				n := int(calls.Add(1)) - 1
				status := tc.statuses[min(n, len(tc.statuses)-1)]
				for k, v := range tc.header {
					w.Header()[k] = v
				}
				w.WriteHeader(status)
				_, _ = w.Write([]byte(`{"ok":true}`))
			}))
			defer srv.Close()

			c := NewHTTPClient("test", HTTPConfig{BaseURL: srv.URL, Retry: fastRetry(2)})
			body, err := c.Do(context.Background(), Request{Method: http.MethodGet, Path: "/ping"})
			assert.Equal(t, tc.calls, calls.Load())
			if tc.expectErr {
				require.Error(t, err)
				ve, ok := exception.AsVenueError(err)
				require.True(t, ok)
				assert.Equal(t, tc.code, ve.Code)
				return
			}
			require.NoError(t, err)
			assert.JSONEq(t, `{"ok":true}`, string(body))
		})
	}
}

func TestHTTPClientRequestShape(t *testing.T) {
	var (
		gotMethod string
		gotQuery  string
		gotBody   string
		gotKey    string
		gotType   string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		gotMethod, gotQuery, gotBody = r.Method, r.URL.RawQuery, string(b)
		gotKey, gotType = r.Header.Get("X-API-KEY"), r.Header.Get("Content-Type")
		_, _ = w.Write([]byte(`{"orderId":42,"status":"NEW"}`))
	}))
	defer srv.Close()

	c := NewHTTPClient("test", HTTPConfig{BaseURL: srv.URL + "/"}, WithHeader("X-API-KEY", "k"))
	var out struct {
		OrderID int64  `json:"orderId"`
		Status  string `json:"status"`
	}
	err := c.JSON(context.Background(), Request{
		Method: http.MethodPost,
		Path:   "/api/v3/order",
		Query:  map[string][]string{"symbol": {"BTCUSDT"}},
		Body:   map[string]string{"side": "BUY"},
	}, &out)
	require.NoError(t, err)

	assert.Equal(t, http.MethodPost, gotMethod)
	assert.Equal(t, "symbol=BTCUSDT", gotQuery)
	assert.JSONEq(t, `{"side":"BUY"}`, gotBody)
	assert.Equal(t, "k", gotKey)
	assert.Equal(t, "application/json", gotType)
	assert.Equal(t, int64(42), out.OrderID)
	assert.Equal(t, "NEW", out.Status)
}

func TestHTTPClientWaitsOnLimiter(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	}))
	defer srv.Close()

	m := obs.NewMetrics()
	limiter, err := ratelimit.New[string](ratelimit.Quota{MaxBurst: 1, Period: 50 * time.Millisecond},
		ratelimit.WithMetrics[string](m))
	require.NoError(t, err)
	c := NewHTTPClient("test", HTTPConfig{BaseURL: srv.URL}, WithLimiter(limiter), WithHTTPMetrics(m))

	req := Request{Method: http.MethodGet, Path: "/x", Keys: []string{"binance:global", "binance:orders"}}
	start := time.Now()
	for range 3 {
		_, err := c.Do(context.Background(), req)
		require.NoError(t, err)
	}
	assert.GreaterOrEqual(t, time.Since(start), 90*time.Millisecond)
	assert.Equal(t, int32(3), calls.Load())
	assert.Equal(t, uint64(3), m.Latency(obs.LatencyLimiterWait).Count)
}

func TestHTTPClientTransportError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := srv.URL
	srv.Close()

	c := NewHTTPClient("test", HTTPConfig{BaseURL: url, Retry: fastRetry(1)})
	_, err := c.Do(context.Background(), Request{Method: http.MethodGet, Path: "/"})
	require.Error(t, err)
	assert.True(t, exception.IsRetryable(err))
}
