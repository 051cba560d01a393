// Package monitor exposes an optional, best-effort HTTP/WebSocket
// operator endpoint: health checks and a live counters feed. None of
// it is reachable from the wire protocol; disabling it (an empty bind
// address) leaves the hub's client-facing behavior untouched.
package monitor

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// Stats is the subset of live state the endpoint reports.
type Stats interface {
	ConnectedClients() int
	VariableCount() int
}

// Endpoint serves /healthz, /readyz, /stats, and /ws/stats.
type Endpoint struct {
	stats  Stats
	logger *zap.Logger
	server *http.Server
}

// NewEndpoint builds an Endpoint bound to bindAddr. Call ListenAndServe
// to run it; it is designed to be started in its own goroutine by the
// supervisor and stopped with Shutdown.
func NewEndpoint(bindAddr string, stats Stats, logger *zap.Logger) *Endpoint {
	e := &Endpoint{stats: stats, logger: logger}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", e.handleHealthz)
	mux.HandleFunc("/readyz", e.handleReadyz)
	mux.HandleFunc("/stats", e.handleStats)
	mux.HandleFunc("/ws/stats", e.handleWSStats)

	e.server = &http.Server{
		Addr:         bindAddr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	}
	return e
}

// ListenAndServe blocks serving the monitoring endpoint until Shutdown
// is called, at which point it returns http.ErrServerClosed.
func (e *Endpoint) ListenAndServe() error {
	e.logger.Info("monitoring endpoint listening", zap.String("addr", e.server.Addr))
	return e.server.ListenAndServe()
}

// Shutdown gracefully stops the endpoint, bounded by ctx.
func (e *Endpoint) Shutdown(ctx context.Context) error {
	return e.server.Shutdown(ctx)
}

func (e *Endpoint) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// handleReadyz reports ready as soon as the process is up: there is no
// separate warm-up phase, so readiness and liveness currently coincide.
func (e *Endpoint) handleReadyz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}

func (e *Endpoint) currentCounters() map[string]int {
	return map[string]int{
		"connected_clients": e.stats.ConnectedClients(),
		"variable_count":    e.stats.VariableCount(),
	}
}

func (e *Endpoint) handleStats(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(e.currentCounters()); err != nil {
		e.logger.Warn("failed to encode stats response", zap.Error(err))
	}
}
