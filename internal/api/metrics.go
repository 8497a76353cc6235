package api

import (
	"fmt"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/AaronLay10/SentientBridge/internal/bridge"
	"github.com/AaronLay10/SentientBridge/internal/events"
	"github.com/AaronLay10/SentientBridge/internal/version"
)

var metricsState = &MetricsState{startTime: time.Now()}

// MetricsState holds process metrics for the /metrics endpoint.
type MetricsState struct {
	mu        sync.RWMutex
	startTime time.Time
}

// InitMetrics resets the uptime clock. Call it at startup.
func InitMetrics() {
	metricsState.mu.Lock()
	defer metricsState.mu.Unlock()
	metricsState.startTime = time.Now()
}

var bridgeStates = []bridge.State{
	bridge.StateIdle,
	bridge.StateRunning,
	bridge.StateSuspended,
	bridge.StateDone,
	bridge.StateAborted,
}

func boolGauge(b bool) int {
	if b {
		return 1
	}
	return 0
}

// metricsHandler returns Prometheus-compatible metrics in text format.
func metricsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	metricsState.mu.RLock()
	uptime := time.Since(metricsState.startTime).Seconds()
	metricsState.mu.RUnlock()

	readiness.mu.RLock()
	mqttConnected := readiness.mqttConnected
	postgresConnected := readiness.postgresConnected
	readiness.mu.RUnlock()

	bridgeID := ""
	var st bridge.Status
	if b := currentBridge(); b != nil {
		bridgeID = b.ID()
		st = b.Status()
	}

	hostname, _ := os.Hostname()
	if hostname == "" {
		hostname = "unknown"
	}

	w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")

	header := func(name, mtype, help string) {
		fmt.Fprintf(w, "# HELP %s %s\n", name, help)
		fmt.Fprintf(w, "# TYPE %s %s\n", name, mtype)
	}
	labels := fmt.Sprintf(`bridge="%s",instance="%s",version="%s"`, bridgeID, hostname, version.Version)
	writeMetric := func(name, mtype, help string, value interface{}) {
		header(name, mtype, help)
		fmt.Fprintf(w, "%s{%s} %v\n", name, labels, value)
	}

	writeMetric("sentient_bridge_uptime_seconds", "gauge",
		"Number of seconds since the bridge started", uptime)

	header("sentient_bridge_state", "gauge", "Current run state (1 for the active state)")
	for _, s := range bridgeStates {
		fmt.Fprintf(w, "sentient_bridge_state{%s,state=\"%s\"} %d\n", labels, s, boolGauge(st.State == s))
	}

	writeMetric("sentient_bridge_ticks_total", "counter",
		"Timer ticks dispatched by the run", st.Ticks)
	writeMetric("sentient_bridge_stack_depth", "gauge",
		"Scopes on the command stack", st.Depth)
	writeMetric("sentient_bridge_last_result", "gauge",
		"Outcome of the most recent execute callback (1 ok, 0 failed)", boolGauge(st.LastResult))
	writeMetric("sentient_bridge_events_total", "counter",
		"Total number of events emitted since startup", events.TotalCount())
	writeMetric("sentient_bridge_mqtt_connected", "gauge",
		"Whether the MQTT broker is connected (1) or not (0)", boolGauge(mqttConnected))
	writeMetric("sentient_bridge_postgres_connected", "gauge",
		"Whether PostgreSQL is connected (1) or not (0)", boolGauge(postgresConnected))
	writeMetric("sentient_bridge_ws_clients", "gauge",
		"Number of active WebSocket client connections", events.SubscriberCount())
}
