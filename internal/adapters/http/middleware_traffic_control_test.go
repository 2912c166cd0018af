package httpadapter

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestRateLimitMiddlewareReturns429(t *testing.T) {
	handler := newTestHandler(t, newBackendFake(), Options{
		RateLimitRPS:   1,
		RateLimitBurst: 1,
	})

	res1 := doRequest(handler, http.MethodGet, "/v1/entity-types", nil)
	if res1.Code != http.StatusOK {
		t.Fatalf("first request expected 200, got %d", res1.Code)
	}

	res2 := doRequest(handler, http.MethodGet, "/v1/entity-types", nil)
	if res2.Code != http.StatusTooManyRequests {
		t.Fatalf("second request expected 429, got %d", res2.Code)
	}
	if res2.Header().Get("Retry-After") == "" {
		t.Fatalf("expected Retry-After header for 429 response")
	}
}

func TestBackpressureMiddlewareReturns503WhenSaturated(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	done := make(chan int, 1)

	base := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		started <- struct{}{}
		<-release
		w.WriteHeader(http.StatusNoContent)
	})
	handler := backpressureMiddleware(base, 1, 20*time.Millisecond)

	go func() {
		req := httptest.NewRequest(http.MethodGet, "/v1/queue", nil)
		res := httptest.NewRecorder()
		handler.ServeHTTP(res, req)
		done <- res.Code
	}()

	<-started

	req2 := httptest.NewRequest(http.MethodGet, "/v1/queue", nil)
	res2 := httptest.NewRecorder()
	handler.ServeHTTP(res2, req2)
	if res2.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 for saturated backpressure gate, got %d", res2.Code)
	}

	var resp map[string]any
	if err := json.NewDecoder(bytes.NewReader(res2.Body.Bytes())).Decode(&resp); err != nil {
		t.Fatalf("decode overload response: %v", err)
	}
	if resp["error"] == "" {
		t.Fatalf("expected overload error message in response")
	}

	close(release)

	select {
	case code := <-done:
		if code != http.StatusNoContent {
			t.Fatalf("first request expected 204, got %d", code)
		}
	case <-time.After(1 * time.Second):
		t.Fatalf("timed out waiting for first request completion")
	}
}

func TestRateLimiterDisabledWithoutRPS(t *testing.T) {
	if newRateLimiter(0, 10) != nil {
		t.Fatalf("expected nil limiter for zero rps")
	}
	if l := newRateLimiter(2.5, 0); l == nil || l.Burst() != 3 {
		t.Fatalf("expected burst rounded up from rps, got %+v", l)
	}
}

func TestAccessLogCarriesRequestAndUserID(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	base := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	handler := requestIDMiddleware(accessLogMiddleware(authMiddleware(base, nil), logger))

	req := httptest.NewRequest(http.MethodGet, "/v1/queue", nil)
	req.Header.Set(requestIDHeader, "req-1")
	req.Header.Set(devUserHeader, "user-1")
	handler.ServeHTTP(httptest.NewRecorder(), req)

	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("decode access log: %v (%s)", err, buf.String())
	}
	if line["request_id"] != "req-1" || line["user_id"] != "user-1" {
		t.Fatalf("unexpected access log %v", line)
	}
	if line["status"] != float64(http.StatusNoContent) {
		t.Fatalf("expected status 204 in log, got %v", line["status"])
	}
}
