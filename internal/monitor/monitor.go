// Package monitor is the side HTTP server for observing the panel: live logs
// and display frames, metrics, telemetry history and settings. Nothing here
// touches the hardware, so the control port keeps its single thread of control.
package monitor

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"iot-panel-server/internal/logger"
	"iot-panel-server/internal/logstream"
	"iot-panel-server/internal/metrics"
	"iot-panel-server/internal/telemetry"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
)

const shutdownTimeout = 5 * time.Second

type Options struct {
	Hub     *logstream.Hub
	Metrics *metrics.Metrics
	// History serves the telemetry endpoints; nil when telemetry is disabled.
	History *telemetry.API
	// Device reports the hardware link state for /health; nil in sim mode.
	Device func() DeviceStatus
}

// DeviceStatus is the serial link state reported by /health.
type DeviceStatus struct {
	Connected bool   `json:"connected"`
	Port      string `json:"port,omitempty"`
	Firmware  string `json:"firmware,omitempty"`
}

type healthResponse struct {
	Status string        `json:"status"`
	Uptime string        `json:"uptime"`
	Device *DeviceStatus `json:"device,omitempty"`
}

// NewRouter registers every monitor route.
func NewRouter(opts Options) *mux.Router {
	started := time.Now()
	r := mux.NewRouter()

	r.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		resp := healthResponse{Status: "ok", Uptime: time.Since(started).Round(time.Second).String()}
		if opts.Device != nil {
			d := opts.Device()
			resp.Device = &d
			if !d.Connected {
				resp.Status = "degraded"
			}
		}
		writeJSON(w, resp)
	}).Methods(http.MethodGet)

	if opts.Hub != nil {
		r.HandleFunc("/ws/logs", opts.Hub.ServeWs)
	}
	if opts.Metrics != nil {
		r.Handle("/metrics", opts.Metrics.Handler()).Methods(http.MethodGet)
	}

	if opts.History != nil {
		r.HandleFunc("/api/v1/history", opts.History.HandleGetHistory).Methods(http.MethodGet)
		r.HandleFunc("/api/v1/history/dates", opts.History.HandleGetLogDates).Methods(http.MethodGet)
		r.HandleFunc("/api/v1/history/csv", opts.History.HandleDownloadCSV).Methods(http.MethodGet)
	}

	r.HandleFunc("/api/v1/settings", HandleGetSettings).Methods(http.MethodGet)
	r.HandleFunc("/api/v1/settings", HandlePostSettings).Methods(http.MethodPost)
	return r
}

// Run serves the monitor on addr until ctx is cancelled.
func Run(ctx context.Context, addr string, opts Options) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           handlers.LoggingHandler(logger.Writer(logger.LogLevelDebug), NewRouter(opts)),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Monitor server listening on http://%s", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("Monitor server shutdown: %v", err)
		}
		return nil
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Error("Failed to encode response: %v", err)
	}
}
