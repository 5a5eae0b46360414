package web

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"telepresence-headset/clock"
	"telepresence-headset/config"
)

func defaultTestConfig() *config.Config {
	cfg, _ := config.Load("non-existent-config.toml", zap.NewNop())
	return cfg
}

func TestHandleHealth(t *testing.T) {
	h := &Handlers{logger: zaptest.NewLogger(t), clock: clock.New()}
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()

	h.HandleHealth(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var body map[string]string
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["status"] != "ok" {
		t.Fatalf("status field = %q, want ok", body["status"])
	}
}

func TestHandleStatusReflectsClockOffset(t *testing.T) {
	clk := clock.New()
	clk.SetOffset(5000)

	h := &Handlers{logger: zaptest.NewLogger(t), clock: clk, config: defaultTestConfig()}
	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	rec := httptest.NewRecorder()

	h.HandleStatus(rec, req)

	var snap statusSnapshot
	if err := json.NewDecoder(rec.Body).Decode(&snap); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if snap.ClockOffsetUS != 5000 {
		t.Fatalf("ClockOffsetUS = %d, want 5000", snap.ClockOffsetUS)
	}
}
