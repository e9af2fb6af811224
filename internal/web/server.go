package web

import (
	"encoding/json"
	"net/http"
	"runtime"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/bayfield-finance/yieldengine/internal/logger"
	"github.com/bayfield-finance/yieldengine/internal/rewardfarm"
	"github.com/bayfield-finance/yieldengine/internal/state"
	"github.com/bayfield-finance/yieldengine/internal/vault"
)

var webLogger = logger.GetForComponent("web_server")

// WebServer exposes the engine's accounting state over a read-only JSON API.
type WebServer struct {
	router     *mux.Router
	listenAddr string
	vault      *vault.ShareVault
	farm       *rewardfarm.Farm
}

// NewWebServer creates a new web server instance.
func NewWebServer(listenAddr string, v *vault.ShareVault, f *rewardfarm.Farm) *WebServer {
	if listenAddr == "" {
		listenAddr = ":8080"
	}

	server := &WebServer{
		router:     mux.NewRouter(),
		listenAddr: listenAddr,
		vault:      v,
		farm:       f,
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
	api.HandleFunc("/vault/summary", ws.handleGetVaultSummary).Methods("GET")
	api.HandleFunc("/vault/snapshots", ws.handleGetVaultSnapshots).Methods("GET")
	api.HandleFunc("/harvests", ws.handleGetHarvests).Methods("GET")
	api.HandleFunc("/farm/pools", ws.handleGetFarmPools).Methods("GET")

	// Add CORS middleware
	ws.router.Use(ws.corsMiddleware)
	ws.router.Use(ws.loggingMiddleware)
}

// Start starts the web server
func (ws *WebServer) Start() error {
	webLogger.Info().Str("addr", ws.listenAddr).Msg("Starting web server")

	server := &http.Server{
		Addr:         ws.listenAddr,
		Handler:      ws.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return server.ListenAndServe()
}

// handleHealth returns server and database health status
func (ws *WebServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	dbHealthy := true
	if err := state.TestDBConnection(); err != nil {
		dbHealthy = false
	}

	overallStatus := "OK"
	statusCode := http.StatusOK
	if !dbHealthy {
		overallStatus = "DEGRADED"
		statusCode = http.StatusServiceUnavailable
	}

	response := map[string]interface{}{
		"status":    overallStatus,
		"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
		"system": map[string]interface{}{
			"version":          runtime.Version(),
			"goroutines_count": runtime.NumGoroutine(),
			"alloc_bytes":      memStats.Alloc,
			"sys_bytes":        memStats.Sys,
			"gc_cycles":        memStats.NumGC,
		},
		"component": map[string]interface{}{
			"name":    "yieldengine",
			"version": "1.0.0",
		},
		"engine_status": map[string]interface{}{
			"database_healthy": dbHealthy,
			"vault_paused":     ws.vault.Paused(),
			"farm_pool_count":  ws.farm.PoolCount(),
		},
	}

	ws.writeJSONResponse(w, statusCode, response)
}

// handleGetVaultSummary returns the vault's live accounting state
func (ws *WebServer) handleGetVaultSummary(w http.ResponseWriter, r *http.Request) {
	ws.writeJSONResponse(w, http.StatusOK, ws.vault.Snapshot())
}

// handleGetVaultSnapshots returns persisted vault snapshots, newest first
func (ws *WebServer) handleGetVaultSnapshots(w http.ResponseWriter, r *http.Request) {
	limit := ws.parseLimit(r, 20)

	snapshots, err := state.GetRecentVaultSnapshots(limit)
	if err != nil {
		webLogger.Error().Err(err).Msg("Failed to get vault snapshots")
		ws.writeErrorResponse(w, http.StatusInternalServerError, "Failed to retrieve vault snapshots")
		return
	}

	response := map[string]interface{}{
		"snapshots": snapshots,
		"count":     len(snapshots),
		"limit":     limit,
	}

	ws.writeJSONResponse(w, http.StatusOK, response)
}

// handleGetHarvests returns recent harvest receipts
func (ws *WebServer) handleGetHarvests(w http.ResponseWriter, r *http.Request) {
	limit := ws.parseLimit(r, 20)

	receipts, err := state.GetRecentHarvestReceipts(limit)
	if err != nil {
		webLogger.Error().Err(err).Msg("Failed to get harvest receipts")
		ws.writeErrorResponse(w, http.StatusInternalServerError, "Failed to retrieve harvest receipts")
		return
	}

	response := map[string]interface{}{
		"harvests": receipts,
		"count":    len(receipts),
		"limit":    limit,
	}

	ws.writeJSONResponse(w, http.StatusOK, response)
}

// handleGetFarmPools returns the live state of every farm pool
func (ws *WebServer) handleGetFarmPools(w http.ResponseWriter, r *http.Request) {
	count := ws.farm.PoolCount()
	pools := make([]interface{}, 0, count)
	for pid := uint64(0); pid < uint64(count); pid++ {
		snapshot, err := ws.farm.Snapshot(pid)
		if err != nil {
			webLogger.Error().Err(err).Uint64("pid", pid).Msg("Failed to snapshot farm pool")
			continue
		}
		pools = append(pools, snapshot)
	}

	response := map[string]interface{}{
		"pools": pools,
		"count": len(pools),
	}

	ws.writeJSONResponse(w, http.StatusOK, response)
}

// parseLimit reads the limit query parameter, bounded to [1, 100]
func (ws *WebServer) parseLimit(r *http.Request, fallback int) int {
	limit := fallback
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if parsedLimit, err := strconv.Atoi(limitStr); err == nil && parsedLimit > 0 && parsedLimit <= 100 {
			limit = parsedLimit
		}
	}
	return limit
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

		// Create a response writer wrapper to capture status code
		wrapper := &responseWriterWrapper{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(wrapper, r)

		duration := time.Since(start)

		webLogger.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Str("remote_addr", r.RemoteAddr).
			Int("status", wrapper.statusCode).
			Dur("duration", duration).
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
