package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"papertrader/src/session"
)

type fakeProvider struct {
	status session.Status
}

func (f *fakeProvider) Status() session.Status { return f.status }

func TestHealthcheck(t *testing.T) {
	router := newRouter(&fakeProvider{})

	req := httptest.NewRequest(http.MethodGet, "/healthcheck", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "OK", rec.Body.String())
}

func TestStatusServesSessionSnapshot(t *testing.T) {
	provider := &fakeProvider{status: session.Status{
		Symbol:         "BTCUSDT",
		Strategy:       "sma_cross_9_21",
		Equity:         decimal.RequireFromString("10123.45"),
		BreakerTripped: false,
		ErrorCount:     3,
		DroppedOrders:  1,
	}}
	router := newRouter(provider)

	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var got session.Status
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Equal(t, "BTCUSDT", got.Symbol)
	require.Equal(t, "sma_cross_9_21", got.Strategy)
	require.True(t, got.Equity.Equal(decimal.RequireFromString("10123.45")))
	require.EqualValues(t, 3, got.ErrorCount)
	require.EqualValues(t, 1, got.DroppedOrders)
}
