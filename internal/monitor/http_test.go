package monitor

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.uber.org/zap"
)

type fakeStats struct {
	clients, vars int
}

func (f fakeStats) ConnectedClients() int { return f.clients }
func (f fakeStats) VariableCount() int    { return f.vars }

func TestHealthzOK(t *testing.T) {
	e := NewEndpoint("127.0.0.1:0", fakeStats{}, zap.NewNop())
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	e.handleHealthz(rr, req)
	if rr.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rr.Code)
	}
}

func TestStatsReportsCurrentCounters(t *testing.T) {
	e := NewEndpoint("127.0.0.1:0", fakeStats{clients: 3, vars: 7}, zap.NewNop())
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/stats", nil)
	e.handleStats(rr, req)

	var body map[string]int
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if body["connected_clients"] != 3 || body["variable_count"] != 7 {
		t.Errorf("unexpected stats body: %+v", body)
	}
}
