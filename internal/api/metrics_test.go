package api

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/AaronLay10/SentientBridge/internal/bridge"
)

func TestMetricsEndpoint(t *testing.T) {
	InitMetrics()
	SetMQTTState(true, false)
	SetPostgresState(false, true)
	SetBridge(&fakeBridge{status: bridge.Status{State: bridge.StateSuspended, Depth: 3, Ticks: 42, LastResult: true}})
	defer SetBridge(nil)

	w := httptest.NewRecorder()
	metricsHandler(w, httptest.NewRequest("GET", "/metrics", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/plain") {
		t.Errorf("unexpected content type %s", ct)
	}

	body := w.Body.String()
	for _, want := range []string{
		"# TYPE sentient_bridge_uptime_seconds gauge",
		`state="suspended"} 1`,
		`state="running"} 0`,
		`sentient_bridge_ticks_total{bridge="bench"`,
		"} 42\n",
		"} 3\n",
		"sentient_bridge_mqtt_connected{",
		"# TYPE sentient_bridge_events_total counter",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("expected metrics to contain %q", want)
		}
	}
}

func TestMetricsEndpoint_MethodNotAllowed(t *testing.T) {
	w := httptest.NewRecorder()
	metricsHandler(w, httptest.NewRequest("POST", "/metrics", nil))
	if w.Code != http.StatusMethodNotAllowed {
		t.Errorf("expected 405, got %d", w.Code)
	}
}
