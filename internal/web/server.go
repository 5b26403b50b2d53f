package web

import (
	"encoding/json"
	"net/http"
	"runtime"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/routerlab/autofee/internal/logger"
	"github.com/routerlab/autofee/internal/state"
	"github.com/routerlab/autofee/internal/types"
)

var webLogger = logger.GetForComponent("web_server")

// WebServer exposes the pipeline's audit trail over HTTP: cycle snapshots,
// the active parameter set and ledger-derived summaries. Read-only.
type WebServer struct {
	router     *mux.Router
	port       string
	configName string
}

// NewWebServer creates a new web server instance
func NewWebServer(port, configName string) *WebServer {
	if port == "" {
		port = "8080"
	}

	server := &WebServer{
		router:     mux.NewRouter(),
		port:       port,
		configName: configName,
	}

	server.setupRoutes()
	return server
}

// setupRoutes configures all HTTP routes
func (ws *WebServer) setupRoutes() {
	// Health endpoint (direct route)
	ws.router.HandleFunc("/health", ws.handleHealth).Methods("GET")

	// API endpoints
	api := ws.router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/health", ws.handleHealth).Methods("GET")
	api.HandleFunc("/cycles", ws.handleGetCycles).Methods("GET")
	api.HandleFunc("/cycles/latest", ws.handleGetLatestCycle).Methods("GET")
	api.HandleFunc("/parameters", ws.handleGetParameters).Methods("GET")
	api.HandleFunc("/overrides/latest", ws.handleGetLatestOverrides).Methods("GET")
	api.HandleFunc("/summary", ws.handleGetSummary).Methods("GET")
	api.HandleFunc("/activity", ws.handleGetActivity).Methods("GET")
	api.HandleFunc("/channels/{id}/events", ws.handleGetChannelEvents).Methods("GET")

	// Add CORS middleware
	ws.router.Use(ws.corsMiddleware)
	ws.router.Use(ws.loggingMiddleware)
}

// Start starts the web server
func (ws *WebServer) Start() error {
	webLogger.Info().Str("port", ws.port).Msg("Starting web server")

	server := &http.Server{
		Addr:         ":" + ws.port,
		Handler:      ws.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return server.ListenAndServe()
}

// handleHealth returns comprehensive server health status
func (ws *WebServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	var hasErrors bool
	var cycleInfo map[string]interface{}
	var lastCycleTime *time.Time

	latest, cycleErr := state.GetLatestCycleSnapshot()
	if cycleErr == nil && latest != nil {
		failedStages := 0
		for _, sr := range latest.StageResults {
			if sr.Failed() {
				failedStages++
			}
		}
		cycleInfo = map[string]interface{}{
			"current_cycle":   latest.CycleNumber,
			"last_cycle_time": latest.Timestamp,
			"dry_run":         latest.DryRun,
			"override_count":  latest.OverrideCount,
			"failed_stages":   failedStages,
		}
		hasErrors = failedStages > 0
		lastCycleTime = &latest.Timestamp
	} else {
		// No snapshot yet; the counter still tells us where the pipeline is.
		currentCycle, _ := state.GetCurrentCycleNumber()
		cycleInfo = map[string]interface{}{
			"current_cycle":   currentCycle,
			"last_cycle_time": nil,
			"dry_run":         nil,
			"override_count":  0,
			"failed_stages":   0,
		}
		hasErrors = true
	}

	dbHealthy := true
	if err := state.TestDBConnection(); err != nil {
		dbHealthy = false
		hasErrors = true
	}

	overallStatus := "OK"
	if hasErrors {
		overallStatus = "DEGRADED"
	}

	var sinceLastCycleSeconds int64
	if lastCycleTime != nil {
		sinceLastCycleSeconds = int64(time.Since(*lastCycleTime).Seconds())
	}

	response := map[string]interface{}{
		"status":    overallStatus,
		"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
		"system": map[string]interface{}{
			"version":                  runtime.Version(),
			"goroutines_count":         runtime.NumGoroutine(),
			"alloc_bytes":              memStats.Alloc,
			"sys_bytes":                memStats.Sys,
			"gc_cycles":                memStats.NumGC,
			"since_last_cycle_seconds": sinceLastCycleSeconds,
		},
		"component": map[string]interface{}{
			"name":    "autofee-policy-manager",
			"version": "1.0.0",
		},
		"pipeline_status": map[string]interface{}{
			"database_healthy":  dbHealthy,
			"has_recent_errors": hasErrors,
			"cycle_info":        cycleInfo,
		},
	}

	statusCode := http.StatusOK
	if hasErrors {
		statusCode = http.StatusServiceUnavailable
	}

	ws.writeJSONResponse(w, statusCode, response)
}

// handleGetCycles returns paginated cycle snapshots, newest first
func (ws *WebServer) handleGetCycles(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if parsedLimit, err := strconv.Atoi(limitStr); err == nil && parsedLimit > 0 && parsedLimit <= 100 {
			limit = parsedLimit
		}
	}

	cycles, err := state.GetRecentCycleSnapshots(limit)
	if err != nil {
		webLogger.Error().Err(err).Msg("Failed to get recent cycles")
		ws.writeErrorResponse(w, http.StatusInternalServerError, "Failed to retrieve cycles")
		return
	}

	response := map[string]interface{}{
		"cycles": cycles,
		"count":  len(cycles),
		"limit":  limit,
	}

	ws.writeJSONResponse(w, http.StatusOK, response)
}

// handleGetLatestCycle returns the most recent cycle snapshot
func (ws *WebServer) handleGetLatestCycle(w http.ResponseWriter, r *http.Request) {
	latest, err := state.GetLatestCycleSnapshot()
	if err != nil || latest == nil {
		webLogger.Error().Err(err).Msg("Failed to get latest cycle")
		ws.writeErrorResponse(w, http.StatusNotFound, "No cycles found")
		return
	}

	ws.writeJSONResponse(w, http.StatusOK, latest)
}

// handleGetParameters returns the active policy parameter set
func (ws *WebServer) handleGetParameters(w http.ResponseWriter, r *http.Request) {
	params, err := state.LoadActivePolicyParameters(ws.configName)
	if err != nil {
		webLogger.Error().Err(err).Msg("Failed to get policy parameters")
		ws.writeErrorResponse(w, http.StatusInternalServerError, "Failed to retrieve policy parameters")
		return
	}

	response := map[string]interface{}{
		"config_name": ws.configName,
		"parameters":  params,
		"timestamp":   time.Now().UTC(),
	}

	ws.writeJSONResponse(w, http.StatusOK, response)
}

// handleGetLatestOverrides returns the override set compiled by the most
// recent cycle
func (ws *WebServer) handleGetLatestOverrides(w http.ResponseWriter, r *http.Request) {
	latest, err := state.GetLatestCycleSnapshot()
	if err != nil || latest == nil {
		webLogger.Error().Err(err).Msg("Failed to get latest overrides")
		ws.writeErrorResponse(w, http.StatusNotFound, "No cycles found")
		return
	}

	response := map[string]interface{}{
		"cycle_number": latest.CycleNumber,
		"timestamp":    latest.Timestamp,
		"dry_run":      latest.DryRun,
		"overrides":    latest.Overrides,
		"count":        len(latest.Overrides),
	}

	ws.writeJSONResponse(w, http.StatusOK, response)
}

// handleGetSummary returns pipeline-wide summary statistics
func (ws *WebServer) handleGetSummary(w http.ResponseWriter, r *http.Request) {
	summary, err := state.GetPipelineSummary()
	if err != nil {
		webLogger.Error().Err(err).Msg("Failed to get pipeline summary")
		ws.writeErrorResponse(w, http.StatusInternalServerError, "Failed to retrieve pipeline summary")
		return
	}

	ws.writeJSONResponse(w, http.StatusOK, summary)
}

// handleGetActivity returns per-channel routing activity over a trailing
// window (default 7 days, capped at 90)
func (ws *WebServer) handleGetActivity(w http.ResponseWriter, r *http.Request) {
	days := 7
	if daysStr := r.URL.Query().Get("days"); daysStr != "" {
		if parsedDays, err := strconv.Atoi(daysStr); err == nil && parsedDays > 0 && parsedDays <= 90 {
			days = parsedDays
		}
	}

	since := time.Now().AddDate(0, 0, -days)
	activity, err := state.GetChannelActivity(since)
	if err != nil {
		webLogger.Error().Err(err).Msg("Failed to get channel activity")
		ws.writeErrorResponse(w, http.StatusInternalServerError, "Failed to retrieve channel activity")
		return
	}

	response := map[string]interface{}{
		"since":    since,
		"days":     days,
		"channels": activity,
		"count":    len(activity),
	}

	ws.writeJSONResponse(w, http.StatusOK, response)
}

// handleGetChannelEvents returns one channel's ledger events over a trailing
// window (default 7 days, capped at 90)
func (ws *WebServer) handleGetChannelEvents(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	id, err := strconv.ParseUint(vars["id"], 10, 64)
	if err != nil {
		ws.writeErrorResponse(w, http.StatusBadRequest, "Invalid channel ID")
		return
	}

	days := 7
	if daysStr := r.URL.Query().Get("days"); daysStr != "" {
		if parsedDays, err := strconv.Atoi(daysStr); err == nil && parsedDays > 0 && parsedDays <= 90 {
			days = parsedDays
		}
	}

	since := time.Now().AddDate(0, 0, -days)
	events, err := state.EventsInWindow(types.ChannelID(id), since)
	if err != nil {
		webLogger.Error().Err(err).Uint64("channelId", id).Msg("Failed to get channel events")
		ws.writeErrorResponse(w, http.StatusInternalServerError, "Failed to retrieve channel events")
		return
	}

	response := map[string]interface{}{
		"channel_id": id,
		"since":      since,
		"events":     events,
		"count":      len(events),
	}

	ws.writeJSONResponse(w, http.StatusOK, response)
}

// writeJSONResponse writes a JSON response
func (ws *WebServer) writeJSONResponse(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		webLogger.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

// writeErrorResponse writes an error response
func (ws *WebServer) writeErrorResponse(w http.ResponseWriter, statusCode int, message string) {
	response := map[string]interface{}{
		"error":     true,
		"message":   message,
		"timestamp": time.Now().UTC(),
	}

	ws.writeJSONResponse(w, statusCode, response)
}

// corsMiddleware adds CORS headers
func (ws *WebServer) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// loggingMiddleware logs HTTP requests
func (ws *WebServer) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		wrapper := &responseWriterWrapper{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(wrapper, r)

		webLogger.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Str("remote_addr", r.RemoteAddr).
			Int("status", wrapper.statusCode).
			Dur("duration", time.Since(start)).
			Msg("HTTP request")
	})
}

// responseWriterWrapper wraps http.ResponseWriter to capture status code
type responseWriterWrapper struct {
	http.ResponseWriter
	statusCode int
}

func (w *responseWriterWrapper) WriteHeader(statusCode int) {
	w.statusCode = statusCode
	w.ResponseWriter.WriteHeader(statusCode)
}
