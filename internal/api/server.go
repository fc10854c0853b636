package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/AaronLay10/NarrativeForge/internal/events"
	"github.com/AaronLay10/NarrativeForge/internal/forge"
	"github.com/AaronLay10/NarrativeForge/internal/orchestrator"
	"github.com/AaronLay10/NarrativeForge/internal/version"
	"github.com/AaronLay10/NarrativeForge/internal/yarn"
)

const maxBodyBytes = 8 << 20

// GraphStore is the persistent graph repository behind /graphs.
type GraphStore interface {
	GetGraph(ctx context.Context, graphID string) (*forge.Graph, error)
	PutGraph(ctx context.Context, g *forge.Graph) error
	DeleteGraph(ctx context.Context, graphID string) error
}

// Server exposes validation, Yarn conversion and play sessions over HTTP.
type Server struct {
	runtime   *orchestrator.Runtime
	converter *yarn.Converter
	graphs    GraphStore
	logger    *slog.Logger
}

// NewServer wires the handlers. graphs may be nil, in which case the
// /graphs/{id} routes answer 503.
func NewServer(rt *orchestrator.Runtime, conv *yarn.Converter, graphs GraphStore, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Server{runtime: rt, converter: conv, graphs: graphs, logger: logger}
}

// Handler returns the routed mux.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", healthHandler)
	mux.HandleFunc("GET /ready", readyHandler)
	mux.HandleFunc("GET /metrics", s.metricsHandler)
	mux.HandleFunc("GET /events", RequireAnyRole(eventsHandler))
	mux.HandleFunc("GET /ws/events", RequireAnyRole(wsEventsHandler))

	mux.HandleFunc("POST /graphs/validate", RequireAnyRole(s.validateHandler))
	mux.HandleFunc("GET /graphs/{id}", RequireAnyRole(s.getGraphHandler))
	mux.HandleFunc("PUT /graphs/{id}", RequireAdmin(s.putGraphHandler))
	mux.HandleFunc("DELETE /graphs/{id}", RequireAdmin(s.deleteGraphHandler))

	mux.HandleFunc("POST /yarn/export", RequireAnyRole(s.exportHandler))
	mux.HandleFunc("POST /yarn/import", RequireAnyRole(s.importHandler))

	mux.HandleFunc("POST /play/start", RequireAnyRole(s.startHandler))
	mux.HandleFunc("POST /play/choose", RequireAnyRole(s.chooseHandler))
	mux.HandleFunc("GET /play/session", RequireAnyRole(s.sessionHandler))
	mux.HandleFunc("POST /play/end", RequireAnyRole(s.endHandler))
	return mux
}

// ListenAndServe serves until ctx is cancelled, then shuts down
// gracefully. TLS is used when InitTLS found a certificate pair.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	tlsCfg, err := LoadTLSConfig()
	if err != nil {
		return err
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		TLSConfig:         tlsCfg,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("api listening", "addr", addr, "tls", tlsCfg != nil)
		if tlsCfg != nil {
			errCh <- srv.ListenAndServeTLS("", "")
		} else {
			errCh <- srv.ListenAndServe()
		}
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		events.CloseAllSubscribers()
		return srv.Shutdown(shutdownCtx)
	}
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
	writeJSON(w, http.StatusOK, HealthResponse{
		Status:    "ok",
		Service:   "narrativeforge",
		Version:   version.Version,
		Hostname:  host,
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
	})
}

func eventsHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, events.Snapshot())
}

// readinessState tracks dependencies. Optional dependencies that are
// down are reported but do not make the service unready.
type readinessState struct {
	mu               sync.RWMutex
	runtimeReady     bool
	storageConnected bool
	storageOptional  bool
	mqttConnected    bool
	mqttOptional     bool
}

var readiness = &readinessState{storageOptional: true, mqttOptional: true}

// SetRuntimeReady marks the play runtime as ready.
func SetRuntimeReady(ready bool) {
	readiness.mu.Lock()
	readiness.runtimeReady = ready
	readiness.mu.Unlock()
}

// SetStorageState records the storage connection and whether it is
// required.
func SetStorageState(connected, optional bool) {
	readiness.mu.Lock()
	readiness.storageConnected = connected
	readiness.storageOptional = optional
	readiness.mu.Unlock()
}

// SetMQTTState records the broker connection and whether it is required.
func SetMQTTState(connected, optional bool) {
	readiness.mu.Lock()
	readiness.mqttConnected = connected
	readiness.mqttOptional = optional
	readiness.mu.Unlock()
}

type CheckStatus struct {
	Status   string `json:"status"`
	Optional bool   `json:"optional,omitempty"`
}

type ReadinessResponse struct {
	Ready       bool                   `json:"ready"`
	Checks      map[string]CheckStatus `json:"checks"`
	NotReadyMsg string                 `json:"message,omitempty"`
}

func dependency(connected, optional bool) (CheckStatus, bool) {
	switch {
	case connected:
		return CheckStatus{Status: "ok", Optional: optional}, true
	case optional:
		return CheckStatus{Status: "unavailable", Optional: true}, true
	default:
		return CheckStatus{Status: "not_connected"}, false
	}
}

func readyHandler(w http.ResponseWriter, r *http.Request) {
	readiness.mu.RLock()
	runtimeReady := readiness.runtimeReady
	storage, storageOK := dependency(readiness.storageConnected, readiness.storageOptional)
	mqtt, mqttOK := dependency(readiness.mqttConnected, readiness.mqttOptional)
	readiness.mu.RUnlock()

	resp := ReadinessResponse{Ready: true, Checks: make(map[string]CheckStatus, 3)}
	var failed []string

	if runtimeReady {
		resp.Checks["runtime"] = CheckStatus{Status: "ok"}
	} else {
		resp.Checks["runtime"] = CheckStatus{Status: "not_ready"}
		failed = append(failed, "runtime")
	}
	resp.Checks["storage"] = storage
	if !storageOK {
		failed = append(failed, "storage")
	}
	resp.Checks["mqtt"] = mqtt
	if !mqttOK {
		failed = append(failed, "mqtt")
	}

	status := http.StatusOK
	if len(failed) > 0 {
		resp.Ready = false
		resp.NotReadyMsg = "not ready: " + strings.Join(failed, ", ")
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	OK    bool   `json:"ok"`
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorResponse{OK: false, Error: msg})
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return false
	}
	return true
}
