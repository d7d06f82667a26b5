package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"coinwatch/src/admission"
	"coinwatch/src/logger"
	"coinwatch/src/models"
	"coinwatch/src/store"
)

func newTestServer(t *testing.T) *CoinwatchServer {
	return newTestServerWithConfig(t, testConfig())
}

func newTestServerWithConfig(t *testing.T, cfg *models.MConfig) *CoinwatchServer {
	t.Helper()
	log := logger.GetLogger()

	st := store.NewStateStore(log)
	st.Seed(models.MSnapshot{
		"BTC": {Symbol: "BTC", Holders: fptr(1000)},
	})

	hub := NewHub(cfg, log)
	limiter := admission.NewRateLimiter(cfg.Limits, log)
	breaker := admission.NewCircuitBreaker(cfg.Limits.BreakerFailures,
		time.Duration(cfg.Limits.BreakerCooldownSecs)*time.Second, log)

	return NewCoinwatchServer(cfg, log, hub, st, limiter, breaker, nil, nil)
}

func doRequest(s *CoinwatchServer, method, path, remoteAddr string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	req.RemoteAddr = remoteAddr
	w := httptest.NewRecorder()
	s.Engine().ServeHTTP(w, req)
	return w
}

func TestGetCoins(t *testing.T) {
	s := newTestServer(t)

	w := doRequest(s, "GET", "/api/coins", "10.0.0.1:1234")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	var body struct {
		Count int `json:"count"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body.Count != 1 {
		t.Errorf("expected count 1, got %d", body.Count)
	}
}

func TestGetCoinDetail_SymbolValidation(t *testing.T) {
	s := newTestServer(t)

	cases := []struct {
		path string
		code int
	}{
		{"/api/coins/BTC", http.StatusOK},
		{"/api/coins/btc", http.StatusBadRequest},     // lowercase
		{"/api/coins/B", http.StatusBadRequest},       // too short
		{"/api/coins/TOOLONGSYMBOL", http.StatusBadRequest},
		{"/api/coins/BT%24", http.StatusBadRequest},   // special char
		{"/api/coins/DOGE", http.StatusNotFound},      // valid shape, unknown
	}

	for _, tc := range cases {
		w := doRequest(s, "GET", tc.path, "10.0.0.1:1234")
		if w.Code != tc.code {
			t.Errorf("%s: expected %d, got %d", tc.path, tc.code, w.Code)
		}
	}
}

func TestGetCoinDetail_PriceFailureTolerated(t *testing.T) {
	// No price lookup wired at all: metrics still served, price fields null.
	s := newTestServer(t)

	w := doRequest(s, "GET", "/api/coins/BTC", "10.0.0.1:1234")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	var body map[string]json.RawMessage
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if string(body["price"]) != "null" {
		t.Errorf("expected null price, got %s", body["price"])
	}
	if string(body["metrics"]) == "null" {
		t.Error("metrics must be served even without prices")
	}
}

func TestGetStatus_LoopbackOnly(t *testing.T) {
	s := newTestServer(t)

	if w := doRequest(s, "GET", "/api/status", "10.0.0.1:1234"); w.Code != http.StatusForbidden {
		t.Errorf("expected 403 for remote origin, got %d", w.Code)
	}

	w := doRequest(s, "GET", "/api/status", "127.0.0.1:1234")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 for loopback, got %d", w.Code)
	}

	var body map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	for _, key := range []string{"blacklist_size", "active_connections", "circuit_state"} {
		if _, ok := body[key]; !ok {
			t.Errorf("status payload missing %q", key)
		}
	}
}

func TestGetHealth(t *testing.T) {
	s := newTestServer(t)

	w := doRequest(s, "GET", "/api/health", "10.0.0.1:1234")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
}

func TestAdmission_BlacklistedIPGets403(t *testing.T) {
	// Keep slowdown delays negligible so the burst lands in one second.
	cfg := testConfig()
	cfg.Limits.SlowdownMaxMillis = 10
	s := newTestServerWithConfig(t, cfg)

	// Exceed the per-second cap from one IP. 25 back-to-back requests
	// guarantee more than 10 land in a single wall-clock second.
	var last *httptest.ResponseRecorder
	for i := 0; i < 25; i++ {
		last = doRequest(s, "GET", "/api/health", "10.0.0.9:1234")
	}
	if last.Code != http.StatusForbidden {
		t.Fatalf("expected 403 after crossing the per-second cap, got %d", last.Code)
	}

	// Other IPs are unaffected.
	if w := doRequest(s, "GET", "/api/health", "10.0.0.10:1234"); w.Code != http.StatusOK {
		t.Errorf("expected other IPs to pass, got %d", w.Code)
	}
}
