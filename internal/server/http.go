package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/skypro1111/nanoflight-decoder/internal/batch"
	"github.com/skypro1111/nanoflight-decoder/internal/config"
	"github.com/skypro1111/nanoflight-decoder/internal/decoder"
	"github.com/skypro1111/nanoflight-decoder/internal/metrics"
)

const (
	serviceName    = "nanoflight-decoder"
	serviceVersion = "1.0.0"

	// DecodeErrorHeader carries the decode failure when a partial result is returned
	DecodeErrorHeader = "X-Decode-Error"
)

// HTTPServer provides HTTP API endpoints for decoding and monitoring
type HTTPServer struct {
	server   *http.Server
	handler  http.Handler
	logger   *slog.Logger
	config   *config.Config
	batchMgr *batch.Manager
	metrics  *metrics.Metrics
	gatherer prometheus.Gatherer

	// Server state
	listener  net.Listener
	errCh     chan error
	startTime time.Time
	mu        sync.RWMutex
	running   bool
}

// NewHTTPServer creates a new HTTP API server
func NewHTTPServer(appConfig *config.Config, logger *slog.Logger,
	batchMgr *batch.Manager, m *metrics.Metrics, gatherer prometheus.Gatherer) *HTTPServer {

	h := &HTTPServer{
		logger:    logger,
		config:    appConfig,
		batchMgr:  batchMgr,
		metrics:   m,
		gatherer:  gatherer,
		startTime: time.Now(),
		errCh:     make(chan error, 1),
	}

	mux := http.NewServeMux()
	h.setupRoutes(mux)
	h.handler = mux

	h.server = &http.Server{
		Addr:         appConfig.HTTP.ListenAddress(),
		Handler:      mux,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return h
}

// Handler returns the routed handler, for embedding or tests
func (h *HTTPServer) Handler() http.Handler {
	return h.handler
}

// setupRoutes configures HTTP API routes
func (h *HTTPServer) setupRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/health", h.withMetrics("/health", h.handleHealth))
	mux.HandleFunc("/jobs", h.withMetrics("/jobs", h.handleJobs))
	mux.HandleFunc("/config", h.withMetrics("/config", h.handleConfig))
	mux.HandleFunc("/stats", h.withMetrics("/stats", h.handleStats))
	mux.HandleFunc("/decode", h.withMetrics("/decode", h.handleDecode))

	// Prometheus metrics endpoint (no metrics needed for metrics endpoint)
	mux.Handle("/metrics", promhttp.HandlerFor(h.gatherer, promhttp.HandlerOpts{}))

	mux.HandleFunc("/", h.withMetrics("/", h.handleRoot))
}

// withMetrics wraps an HTTP handler with metrics collection
func (h *HTTPServer) withMetrics(endpoint string, handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		startTime := time.Now()

		ww := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		handler(ww, r)

		h.metrics.RecordHTTPRequest(r.Method, endpoint, strconv.Itoa(ww.statusCode), time.Since(startTime).Seconds())
	}
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Start binds the listen address and serves in the background. A bind
// failure is returned; later serve failures are delivered on Err.
func (h *HTTPServer) Start() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.running {
		return fmt.Errorf("http server already running")
	}

	ln, err := net.Listen("tcp", h.server.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", h.server.Addr, err)
	}
	h.listener = ln
	h.running = true

	h.logger.Info("Starting HTTP API server",
		slog.String("address", ln.Addr().String()),
	)

	go func() {
		if err := h.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			h.logger.Error("HTTP server error", slog.String("error", err.Error()))
			h.errCh <- err
		}
	}()

	return nil
}

// Err reports a serve failure after a successful Start
func (h *HTTPServer) Err() <-chan error {
	return h.errCh
}

// Addr returns the bound address, or nil before Start
func (h *HTTPServer) Addr() net.Addr {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.listener == nil {
		return nil
	}
	return h.listener.Addr()
}

// Stop gracefully stops the HTTP server
func (h *HTTPServer) Stop(ctx context.Context) error {
	h.mu.Lock()
	h.running = false
	h.mu.Unlock()

	h.logger.Info("Stopping HTTP API server...")
	return h.server.Shutdown(ctx)
}

// handleHealth implements the /health endpoint
func (h *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	health := map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().UTC(),
		"uptime":    time.Since(h.startTime).String(),
		"service": map[string]interface{}{
			"name":    serviceName,
			"version": serviceVersion,
		},
		"active_jobs": len(h.batchMgr.ActiveJobs()),
	}

	writeJSON(w, health)
}

// handleJobs implements the /jobs endpoint
func (h *HTTPServer) handleJobs(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	jobs := h.batchMgr.ActiveJobs()
	writeJSON(w, map[string]interface{}{
		"total_jobs": len(jobs),
		"timestamp":  time.Now().UTC(),
		"jobs":       jobs,
	})
}

// handleConfig implements the /config endpoint
func (h *HTTPServer) handleConfig(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	writeJSON(w, map[string]interface{}{
		"decoder": map[string]interface{}{
			"protocol_version": h.config.Decoder.ProtocolVersion,
			"output_suffix":    h.config.Decoder.OutputSuffix,
			"max_parallel":     h.config.Decoder.MaxParallel,
			"buffer_size":      h.config.Decoder.BufferSize,
		},
		"http": map[string]interface{}{
			"address":        h.config.HTTP.Address,
			"port":           h.config.HTTP.Port,
			"max_body_bytes": h.config.HTTP.MaxBodyBytes,
		},
		"logging": map[string]interface{}{
			"level":  h.config.Logging.Level,
			"format": h.config.Logging.Format,
			"output": h.config.Logging.Output,
		},
	})
}

// handleStats implements the /stats endpoint
func (h *HTTPServer) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	writeJSON(w, map[string]interface{}{
		"uptime":      time.Since(h.startTime).String(),
		"timestamp":   time.Now().UTC(),
		"totals":      h.batchMgr.Totals(),
		"active_jobs": len(h.batchMgr.ActiveJobs()),
	})
}

// handleDecode implements POST /decode. The request body is a raw recorder
// log; the response is the decoded text. When decoding stops early the
// lines decoded so far are returned with status 422 and the reason in
// the X-Decode-Error header.
func (h *HTTPServer) handleDecode(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	body := http.MaxBytesReader(w, r.Body, h.config.HTTP.MaxBodyBytes)
	defer body.Close()

	var out bytes.Buffer
	sink := decoder.NewLineWriter(&out)
	result := h.batchMgr.DecodeStream(r.Context(), "http:"+r.RemoteAddr, body, sink)
	if err := sink.Flush(); err != nil && result.Err == nil {
		result.Err = err
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("X-Job-ID", result.ID)
	w.Header().Set("X-Records", strconv.FormatUint(result.Stats.Records, 10))

	status := http.StatusOK
	if result.Err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(result.Err, &tooLarge) {
			http.Error(w, "Request body too large", http.StatusRequestEntityTooLarge)
			return
		}
		switch metrics.ErrorKind(result.Err) {
		case metrics.ErrorKindCanceled:
			http.Error(w, "Request cancelled", http.StatusServiceUnavailable)
			return
		case metrics.ErrorKindVersion:
			http.Error(w, "Decoder misconfigured", http.StatusInternalServerError)
			return
		case metrics.ErrorKindIO:
			http.Error(w, "Failed to read request body", http.StatusBadRequest)
			return
		}
		status = http.StatusUnprocessableEntity
		w.Header().Set(DecodeErrorHeader, result.Err.Error())
	}

	w.WriteHeader(status)
	if _, err := out.WriteTo(w); err != nil {
		h.logger.Warn("Failed to write decode response",
			slog.String("job_id", result.ID),
			slog.String("error", err.Error()),
		)
	}
}

// handleRoot implements the / endpoint with API documentation
func (h *HTTPServer) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	writeJSON(w, map[string]interface{}{
		"service": "Flight Recorder Log Decoder",
		"version": serviceVersion,
		"endpoints": map[string]interface{}{
			"GET /":        "API documentation",
			"GET /health":  "Service health check",
			"GET /jobs":    "List decode jobs in flight",
			"GET /config":  "Get service configuration",
			"GET /stats":   "Get decode totals",
			"GET /metrics": "Prometheus metrics",
			"POST /decode": "Decode a raw log body into text lines",
		},
		"timestamp": time.Now().UTC(),
	})
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}
