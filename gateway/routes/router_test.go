package routes

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"jobmarket/gateway/auth"
	"jobmarket/gateway/middleware"
)

type fixedVerifier [20]byte

func (v fixedVerifier) Verify(string) ([20]byte, error) { return v, nil }

func TestRouterMountsEndpoints(t *testing.T) {
	var sawCaller bool
	rpc := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, sawCaller = auth.CallerFrom(r.Context())
		_, _ = w.Write([]byte(`{"jsonrpc":"2.0","id":1,"result":true}`))
	})
	handler := New(Config{
		RPC:           rpc,
		Authenticator: middleware.NewAuthenticator(fixedVerifier{1}, nil),
		RateLimiter: middleware.NewRateLimiter(map[string]middleware.RateLimit{
			RateLimitRPC: {RequestsPerMinute: 600, Burst: 10},
		}, nil),
		Observability: middleware.NewObservability(middleware.ObservabilityConfig{Enabled: true}, nil),
	})

	res := httptest.NewRecorder()
	handler.ServeHTTP(res, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if res.Code != http.StatusOK || res.Body.String() != "ok" {
		t.Fatalf("healthz: %d %q", res.Code, res.Body.String())
	}
	if res.Header().Get(middleware.RequestIDHeader) == "" {
		t.Fatalf("request id header missing")
	}

	req := httptest.NewRequest(http.MethodPost, "/rpc", strings.NewReader(`{}`))
	req.Header.Set("Authorization", "Bearer anything")
	res = httptest.NewRecorder()
	handler.ServeHTTP(res, req)
	if res.Code != http.StatusOK || !sawCaller {
		t.Fatalf("rpc: code %d caller %v", res.Code, sawCaller)
	}

	res = httptest.NewRecorder()
	handler.ServeHTTP(res, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if res.Code != http.StatusOK || !strings.Contains(res.Body.String(), "gateway_requests_total") {
		t.Fatalf("metrics endpoint missing request counters")
	}

	res = httptest.NewRecorder()
	handler.ServeHTTP(res, httptest.NewRequest(http.MethodGet, "/ws/events", nil))
	if res.Code != http.StatusNotFound {
		t.Fatalf("events route should be absent without a handler, got %d", res.Code)
	}
}
