package server

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"connectrpc.com/connect"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/0xc0d3d00d/swapcandles/internal/connect/handler"
	"github.com/0xc0d3d00d/swapcandles/internal/domain"
	"github.com/0xc0d3d00d/swapcandles/internal/storage/memory"
)

type noOpenCandles struct{}

func (noOpenCandles) OpenCandles(string) []domain.Candle { return nil }

func newTestServer(t *testing.T, ctx context.Context, ready func() bool) *httptest.Server {
	t.Helper()

	h := handler.NewHandler(memory.New(), noOpenCandles{})
	srv, err := New(ctx, "127.0.0.1:0",
		WithHandlerFunc(h.HTTPHandler),
		WithReadiness(ready),
		WithRegistry(prometheus.NewRegistry()),
	)
	require.NoError(t, err)

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts
}

func get(t *testing.T, url string) (int, string) {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, string(body)
}

func TestProbes(t *testing.T) {
	var ready atomic.Bool
	ts := newTestServer(t, context.Background(), ready.Load)

	code, body := get(t, ts.URL+"/healthz")
	assert.Equal(t, http.StatusOK, code)
	assert.JSONEq(t, `{"status":"HEALTHY"}`, body)

	code, body = get(t, ts.URL+"/readyz")
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.JSONEq(t, `{"status":"NOT_SERVING"}`, body)

	ready.Store(true)
	code, body = get(t, ts.URL+"/readyz")
	assert.Equal(t, http.StatusOK, code)
	assert.JSONEq(t, `{"status":"SERVING"}`, body)
}

func TestReadyzAfterShutdownSignal(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	ts := newTestServer(t, ctx, func() bool { return true })
	cancel()

	code, _ := get(t, ts.URL+"/readyz")
	assert.Equal(t, http.StatusServiceUnavailable, code)
}

func TestServesCandleServiceAndMetrics(t *testing.T) {
	ts := newTestServer(t, context.Background(), func() bool { return true })

	client := connect.NewClient[handler.GetCandlesRequest, handler.GetCandlesResponse](
		ts.Client(), ts.URL+handler.GetCandlesProcedure, connect.WithCodec(handler.Codec),
	)
	resp, err := client.CallUnary(context.Background(), connect.NewRequest(&handler.GetCandlesRequest{
		Pair:      "0xb4e16d0168e52d35cacd2c6185b44281ec28c9dc",
		Timeframe: "1m",
	}))
	require.NoError(t, err)
	assert.Empty(t, resp.Msg.Candles)

	code, body := get(t, ts.URL+"/metrics")
	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, body, "rpc_server_duration")

	code, _ = get(t, ts.URL+"/candlegen.v1.CandleService/Nope")
	assert.NotEqual(t, http.StatusOK, code)
}
