// Package api serves the bridge's HTTP surface: health, readiness, the event
// log, run status and control, live events over WebSocket and metrics.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/AaronLay10/SentientBridge/internal/bridge"
	"github.com/AaronLay10/SentientBridge/internal/events"
	"github.com/AaronLay10/SentientBridge/internal/version"
)

// Bridge is the run exposed by /bridge/status and /bridge/stop.
type Bridge interface {
	ID() string
	Status() bridge.Status
	Stop()
}

var (
	bridgeMu     sync.RWMutex
	activeBridge Bridge
)

// SetBridge sets the run served by the bridge endpoints.
func SetBridge(b Bridge) {
	bridgeMu.Lock()
	activeBridge = b
	bridgeMu.Unlock()
}

func currentBridge() Bridge {
	bridgeMu.RLock()
	defer bridgeMu.RUnlock()
	return activeBridge
}

// readinessState tracks the dependencies reported by /ready.
type readinessState struct {
	mu                sync.RWMutex
	bridgeReady       bool
	mqttConnected     bool
	mqttOptional      bool
	postgresConnected bool
	postgresOptional  bool
}

var readiness = &readinessState{postgresOptional: true}

// SetBridgeReady records whether a script has been built and started.
func SetBridgeReady(ready bool) {
	readiness.mu.Lock()
	readiness.bridgeReady = ready
	readiness.mu.Unlock()
}

// SetMQTTState records the broker connection. An optional broker does not
// block readiness.
func SetMQTTState(connected, optional bool) {
	readiness.mu.Lock()
	readiness.mqttConnected = connected
	readiness.mqttOptional = optional
	readiness.mu.Unlock()
}

// SetPostgresState records the event store connection.
func SetPostgresState(connected, optional bool) {
	readiness.mu.Lock()
	readiness.postgresConnected = connected
	readiness.postgresOptional = optional
	readiness.mu.Unlock()
}

type HealthResponse struct {
	Status    string `json:"status"`
	Service   string `json:"service"`
	Version   string `json:"version"`
	Hostname  string `json:"hostname"`
	Timestamp string `json:"ts"`
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	host, _ := os.Hostname()
	resp := HealthResponse{
		Status:    "ok",
		Service:   "sentient-bridge",
		Version:   version.Version,
		Hostname:  host,
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
	}
	writeJSON(w, http.StatusOK, resp)
}

type CheckResult struct {
	Status string `json:"status"`
	Detail string `json:"detail,omitempty"`
}

type ReadinessResponse struct {
	Ready  bool                   `json:"ready"`
	Checks map[string]CheckResult `json:"checks"`
}

func readyHandler(w http.ResponseWriter, r *http.Request) {
	readiness.mu.RLock()
	bridgeReady := readiness.bridgeReady
	mqttConnected, mqttOptional := readiness.mqttConnected, readiness.mqttOptional
	pgConnected, pgOptional := readiness.postgresConnected, readiness.postgresOptional
	readiness.mu.RUnlock()

	resp := ReadinessResponse{Ready: true, Checks: make(map[string]CheckResult)}
	check := func(name string, ok, optional bool) {
		switch {
		case ok:
			resp.Checks[name] = CheckResult{Status: "ok"}
		case optional:
			resp.Checks[name] = CheckResult{Status: "degraded", Detail: "optional dependency unavailable"}
		default:
			resp.Checks[name] = CheckResult{Status: "fail"}
			resp.Ready = false
		}
	}
	check("bridge", bridgeReady, false)
	check("mqtt", mqttConnected, mqttOptional)
	check("postgres", pgConnected, pgOptional)

	code := http.StatusOK
	if !resp.Ready {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, resp)
}

func eventsHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, events.Snapshot())
}

type StatusResponse struct {
	BridgeID string `json:"bridge_id"`
	bridge.Status
}

type ControlResponse struct {
	OK    bool   `json:"ok"`
	State string `json:"state,omitempty"`
	Error string `json:"error,omitempty"`
}

func bridgeStatusHandler(w http.ResponseWriter, r *http.Request) {
	b := currentBridge()
	if b == nil {
		writeJSON(w, http.StatusServiceUnavailable, ControlResponse{Error: "no bridge running"})
		return
	}
	writeJSON(w, http.StatusOK, StatusResponse{BridgeID: b.ID(), Status: b.Status()})
}

func bridgeStopHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, ControlResponse{Error: "method not allowed"})
		return
	}

	b := currentBridge()
	if b == nil {
		writeJSON(w, http.StatusServiceUnavailable, ControlResponse{Error: "no bridge running"})
		return
	}

	b.Stop()
	writeJSON(w, http.StatusOK, ControlResponse{OK: true, State: string(b.Status().State)})
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// NewMux returns the API routes.
func NewMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", healthHandler)
	mux.HandleFunc("/ready", readyHandler)
	mux.HandleFunc("/events", eventsHandler)
	mux.HandleFunc("/metrics", metricsHandler)
	mux.HandleFunc("/ws/events", wsEventsHandler)
	mux.HandleFunc("/bridge/status", bridgeStatusHandler)
	mux.HandleFunc("/bridge/stop", RequireAdmin(bridgeStopHandler))
	return mux
}

// ListenAndServe serves the API on port until ctx is cancelled. TLS is used
// when InitTLS found a certificate pair.
func ListenAndServe(ctx context.Context, port int) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           NewMux(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	tlsCfg, err := LoadTLSConfig()
	if err != nil {
		return err
	}
	srv.TLSConfig = tlsCfg

	errCh := make(chan error, 1)
	go func() {
		if tlsCfg != nil {
			log.Printf("API listening on %s (TLS)", srv.Addr)
			errCh <- srv.ListenAndServeTLS("", "")
			return
		}
		log.Printf("API listening on %s", srv.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	events.CloseAllSubscribers()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
