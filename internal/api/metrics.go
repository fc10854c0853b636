package api

import (
	"fmt"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/AaronLay10/NarrativeForge/internal/events"
	"github.com/AaronLay10/NarrativeForge/internal/version"
)

var metricsState = &MetricsState{startTime: time.Now()}

// MetricsState holds process metrics for the /metrics endpoint.
type MetricsState struct {
	mu          sync.RWMutex
	startTime   time.Time
	serviceName string
}

// InitMetrics resets the uptime clock and sets the service label.
func InitMetrics(serviceName string) {
	metricsState.mu.Lock()
	defer metricsState.mu.Unlock()
	metricsState.startTime = time.Now()
	metricsState.serviceName = serviceName
}

func boolGauge(b bool) int {
	if b {
		return 1
	}
	return 0
}

// metricsHandler writes Prometheus text format.
func (s *Server) metricsHandler(w http.ResponseWriter, r *http.Request) {
	metricsState.mu.RLock()
	startTime := metricsState.startTime
	service := metricsState.serviceName
	metricsState.mu.RUnlock()

	readiness.mu.RLock()
	mqttConnected := readiness.mqttConnected
	storageConnected := readiness.storageConnected
	readiness.mu.RUnlock()

	sessions := 0
	if s.runtime != nil {
		sessions = len(s.runtime.Sessions())
	}

	hostname, _ := os.Hostname()
	if hostname == "" {
		hostname = "unknown"
	}
	labels := fmt.Sprintf(`service=%q,instance=%q,version=%q`, service, hostname, version.Version)

	w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
	writeMetric := func(name, mtype, help string, value any) {
		fmt.Fprintf(w, "# HELP %s %s\n", name, help)
		fmt.Fprintf(w, "# TYPE %s %s\n", name, mtype)
		fmt.Fprintf(w, "%s{%s} %v\n", name, labels, value)
	}

	writeMetric("forge_uptime_seconds", "gauge",
		"Number of seconds since the service started", time.Since(startTime).Seconds())
	writeMetric("forge_events_total", "counter",
		"Total number of events emitted since startup", events.TotalCount())
	writeMetric("forge_sessions_active", "gauge",
		"Number of live play sessions", sessions)
	writeMetric("forge_ws_clients", "gauge",
		"Number of active WebSocket client connections", events.SubscriberCount())
	writeMetric("forge_ws_dropped_events_total", "counter",
		"Events skipped for WebSocket clients that fell behind", events.DroppedCount())
	writeMetric("forge_mqtt_connected", "gauge",
		"Whether the MQTT broker is connected (1) or not (0)", boolGauge(mqttConnected))
	writeMetric("forge_storage_connected", "gauge",
		"Whether graph storage is connected (1) or not (0)", boolGauge(storageConnected))
}
