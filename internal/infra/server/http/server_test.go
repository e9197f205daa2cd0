package httpserver

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	json "github.com/goccy/go-json"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/coachpo/asxtrader/errs"
	"github.com/coachpo/asxtrader/internal/infra/adapters/ibkr"
)

type stubBroker struct {
	connected  bool
	session    ibkr.Session
	status     ibkr.AuthStatus
	statusErr  error
	summary    ibkr.AccountSummary
	summaryErr error
}

func (s *stubBroker) IsConnected() bool     { return s.connected }
func (s *stubBroker) Session() ibkr.Session { return s.session }
func (s *stubBroker) Status(context.Context) (ibkr.AuthStatus, error) {
	return s.status, s.statusErr
}
func (s *stubBroker) AccountSummary(context.Context) (ibkr.AccountSummary, error) {
	return s.summary, s.summaryErr
}

func serve(t *testing.T, h http.Handler, method, path string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	var body map[string]any
	if rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	}
	return rec, body
}

func TestHealthReflectsConnection(t *testing.T) {
	broker := &stubBroker{}
	h := NewHandler(broker)

	rec, body := serve(t, h, http.MethodGet, "/healthz")
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	require.Equal(t, "disconnected", body["status"])

	broker.connected = true
	rec, body = serve(t, h, http.MethodGet, "/healthz")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "ok", body["status"])
	require.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestSessionEndpoint(t *testing.T) {
	expiry := time.Date(2026, 10, 18, 0, 0, 0, 0, time.UTC)
	broker := &stubBroker{connected: true, session: ibkr.Session{
		Mode:        ibkr.ModePaper,
		State:       "CONNECTED",
		Connected:   true,
		Account:     "DU123456",
		TokenExpiry: &expiry,
	}}
	rec, body := serve(t, NewHandler(broker), http.MethodGet, "/session")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "paper", body["mode"])
	require.Equal(t, "DU123456", body["account"])
	require.Equal(t, "2026-10-18T00:00:00Z", body["token_expiry"])
}

func TestSummaryEndpoint(t *testing.T) {
	broker := &stubBroker{connected: true, summary: ibkr.AccountSummary{
		Account:        "DU123456",
		Currency:       "AUD",
		NetLiquidation: decimal.RequireFromString("105234.57"),
	}}
	rec, body := serve(t, NewHandler(broker), http.MethodGet, "/account/summary")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "105234.57", body["net_liquidation"])
	require.Equal(t, "AUD", body["currency"])
}

func TestBrokerErrorsMapToGatewayStatuses(t *testing.T) {
	cases := map[string]struct {
		err  error
		want int
	}{
		"not connected": {errs.NotConnected("ibkr"), http.StatusServiceUnavailable},
		"network":       {errs.New("ibkr", errs.CodeNetwork), http.StatusGatewayTimeout},
		"auth":          {errs.New("ibkr", errs.CodeAuth, errs.WithHTTP(http.StatusUnauthorized)), http.StatusBadGateway},
		"request":       {errs.New("ibkr", errs.CodeRequest, errs.WithHTTP(http.StatusNotFound)), http.StatusBadGateway},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			broker := &stubBroker{statusErr: tc.err}
			rec, body := serve(t, NewHandler(broker), http.MethodGet, "/status")
			require.Equal(t, tc.want, rec.Code)
			require.Equal(t, "error", body["status"])
		})
	}
}

func TestMethodNotAllowed(t *testing.T) {
	rec, _ := serve(t, NewHandler(&stubBroker{}), http.MethodPost, "/session")
	require.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	require.Equal(t, "GET", rec.Header().Get("Allow"))

	rec, _ = serve(t, NewHandler(&stubBroker{}), http.MethodOptions, "/session")
	require.Equal(t, http.StatusNoContent, rec.Code)
}
