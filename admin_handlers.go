package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"runtime"
	"strconv"
	"sync"
	"time"

	"faststream-proxy/work/config"
	"faststream-proxy/work/logger"
	"faststream-proxy/work/middleware"
	"faststream-proxy/work/proxy"
	"faststream-proxy/work/utils"

	"github.com/gorilla/mux"
)

// StatusResponse represents the system statistics exposed through the admin
// API, providing operational metrics for monitoring, debugging, and capacity
// planning. It combines live registry and relay state with process-level
// resource figures.
type StatusResponse struct {
	ActiveSessions       int     `json:"activeSessions"`
	CurrentSession       string  `json:"currentSession"`
	SessionCounter       int64   `json:"sessionCounter"`
	ActiveStreams        int     `json:"activeStreams"`
	MaxConcurrentStreams int     `json:"maxConcurrentStreams"`
	BytesRelayed         string  `json:"bytesRelayed"`
	MetadataCacheEntries int     `json:"metadataCacheEntries"`
	HistoryEntries       int64   `json:"historyEntries"`
	HistoryHosts         int64   `json:"historyHosts"`
	Uptime               string  `json:"uptime"`
	MemoryUsage          string  `json:"memoryUsage"`
	WorkerThreads        int     `json:"workerThreads"`
	WorkersRunning       int     `json:"workersRunning"`
	ChunkSizeFast        string  `json:"chunkSizeFast"`
	ChunkSizeStandard    string  `json:"chunkSizeStandard"`
	PlaylistRewriting    bool    `json:"playlistRewriting"`
	HistoryStoreEnabled  bool    `json:"historyStoreEnabled"`
	Debug                bool    `json:"debug"`
	Version              string  `json:"version"`
	SlotUsage            float64 `json:"slotUsage"`
}

// SessionResponse provides per-session information for admin interface
// display. URLs are obfuscated before leaving the process.
type SessionResponse struct {
	ID        string `json:"id"`        // Opaque session identifier
	URL       string `json:"url"`       // Obfuscated upstream URL
	Age       string `json:"age"`       // Human-readable session age
	CreatedAt string `json:"createdAt"` // RFC3339 creation timestamp
	Current   bool   `json:"current"`   // Whether this is the current session
}

// HistoryResponse is one set-video audit row served by the history API.
type HistoryResponse struct {
	ID          int64  `json:"id"`
	SessionID   string `json:"sessionId"`
	URL         string `json:"url"` // Stored obfuscated
	Host        string `json:"host"`
	Fingerprint string `json:"fingerprint"`
	CreatedAt   string `json:"createdAt"`
}

// LogEntry represents individual log entries captured by the admin interface
// for real-time monitoring and debugging support.
type LogEntry struct {
	Timestamp string `json:"timestamp"` // Human-readable timestamp of log entry creation
	Level     string `json:"level"`     // Log severity level (info, debug, error, etc.)
	Message   string `json:"message"`   // Complete log message content for analysis
}

// SpeedTestResponse reports one upstream throughput probe.
type SpeedTestResponse struct {
	Status    string  `json:"status"`
	URL       string  `json:"url"` // Obfuscated probe target
	SpeedKBps float64 `json:"speedKBps"`
	Bytes     int64   `json:"bytes"`
	ElapsedMs int64   `json:"elapsedMs"`
	Timestamp string  `json:"timestamp"`
}

// Global variables for admin interface state management and operational tracking
var (
	// adminStartTime records the admin interface initialization timestamp for
	// uptime calculation across the administrative interface lifecycle.
	adminStartTime = time.Now()

	// logEntries maintains a circular buffer of recent log entries with a 1000
	// entry limit, providing real-time debugging information through the admin
	// interface without unbounded memory growth. The mutex is required because
	// entries arrive from every goroutine via the logger hook.
	logMu      sync.Mutex
	logEntries = make([]LogEntry, 0, 1000)
)

// setupAdminRoutes configures all HTTP routes for the administrative API,
// wires the logger hook that feeds the in-memory log ring, and applies CORS
// plus gzip middleware. Gzip is safe here because these endpoints serve
// small JSON documents, never video bytes.
//
// Parameters:
//   - router: configured mux router for route registration
//   - proxyInstance: StreamProxy instance for API operations
func setupAdminRoutes(router *mux.Router, proxyInstance *proxy.StreamProxy) {
	logger.AddHook(addLogEntry)

	router.HandleFunc("/api/status", corsMiddleware(middleware.Gzip(handleGetStatus(proxyInstance)))).Methods("GET", "OPTIONS")
	router.HandleFunc("/api/sessions", corsMiddleware(middleware.Gzip(handleGetSessions(proxyInstance)))).Methods("GET", "OPTIONS")
	router.HandleFunc("/api/history", corsMiddleware(middleware.Gzip(handleGetHistory(proxyInstance)))).Methods("GET", "OPTIONS")
	router.HandleFunc("/api/config", corsMiddleware(middleware.Gzip(handleGetConfig(proxyInstance)))).Methods("GET", "OPTIONS")
	router.HandleFunc("/api/logs", corsMiddleware(middleware.Gzip(handleGetLogs))).Methods("GET", "OPTIONS")
	router.HandleFunc("/api/logs", corsMiddleware(handleClearLogs)).Methods("DELETE", "OPTIONS")
	router.HandleFunc("/api/speedtest", corsMiddleware(handleSpeedTest(proxyInstance))).Methods("POST", "OPTIONS")

	addLogEntry("info", "Admin interface initialized")
}

// corsMiddleware provides Cross-Origin Resource Sharing (CORS) support for
// admin API endpoints, enabling web-based admin interfaces to access the API
// from different origins, and records every admin request in the log ring.
func corsMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		addLogEntry("info", fmt.Sprintf("Request: %s %s", r.Method, r.URL.Path))

		// Configure CORS headers for cross-origin support
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		// Handle preflight OPTIONS requests
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		// Continue to actual handler
		next(w, r)
	}
}

// handleGetStatus generates system statistics for monitoring and
// administrative purposes, including registry state, relay utilization,
// and process resource figures.
func handleGetStatus(sp *proxy.StreamProxy) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")

		var m runtime.MemStats
		runtime.ReadMemStats(&m)

		histStats, err := sp.DB.Stats()
		if err != nil {
			addLogEntry("error", fmt.Sprintf("Failed to read history stats: %v", err))
		}

		active := sp.ActiveStreams()
		slotUsage := 0.0
		if sp.Config.MaxConcurrentStreams > 0 {
			slotUsage = float64(active) / float64(sp.Config.MaxConcurrentStreams)
		}

		workersRunning := 0
		if sp.Pool != nil {
			workersRunning = sp.Pool.Running()
		}

		status := StatusResponse{
			ActiveSessions:       sp.Registry.Count(),
			CurrentSession:       sp.Registry.CurrentID(),
			SessionCounter:       sp.Registry.Counter(),
			ActiveStreams:        active,
			MaxConcurrentStreams: sp.Config.MaxConcurrentStreams,
			BytesRelayed:         utils.FormatBytes(sp.Relay.TotalBytes()),
			MetadataCacheEntries: sp.Metadata.Len(),
			HistoryEntries:       histStats.Entries,
			HistoryHosts:         histStats.DistinctHosts,
			Uptime:               formatDuration(time.Since(adminStartTime)),
			MemoryUsage:          utils.FormatBytes(int64(m.Alloc)),
			WorkerThreads:        sp.Config.WorkerThreads,
			WorkersRunning:       workersRunning,
			ChunkSizeFast:        utils.FormatBytes(int64(sp.Config.ChunkSizeFast)),
			ChunkSizeStandard:    utils.FormatBytes(int64(sp.Config.ChunkSizeStandard)),
			PlaylistRewriting:    sp.Config.RewritePlaylists,
			HistoryStoreEnabled:  sp.DB != nil,
			Debug:                sp.Config.Debug,
			Version:              Version,
			SlotUsage:            slotUsage,
		}

		if err := json.NewEncoder(w).Encode(status); err != nil {
			addLogEntry("error", fmt.Sprintf("Failed to encode status: %v", err))
			http.Error(w, "Failed to encode status", http.StatusInternalServerError)
		}
	}
}

// handleGetSessions retrieves information about every live session in the
// registry, newest first as reported by the snapshot, for administrative
// display. Upstream URLs are obfuscated before serialization.
func handleGetSessions(sp *proxy.StreamProxy) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")

		currentID := sp.Registry.CurrentID()
		sessions := make([]SessionResponse, 0)
		for _, s := range sp.Registry.Snapshot() {
			sessions = append(sessions, SessionResponse{
				ID:        s.ID,
				URL:       config.ObfuscateURL(s.URL),
				Age:       formatDuration(s.Age()),
				CreatedAt: s.CreatedAt.Format(time.RFC3339),
				Current:   s.ID == currentID,
			})
		}

		if err := json.NewEncoder(w).Encode(sessions); err != nil {
			addLogEntry("error", fmt.Sprintf("Failed to encode sessions: %v", err))
			http.Error(w, "Failed to encode sessions", http.StatusInternalServerError)
		}
	}
}

// handleGetHistory retrieves recent set-video audit rows from the history
// store. Responds with an empty list when the store is disabled so admin
// frontends need no special case.
func handleGetHistory(sp *proxy.StreamProxy) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")

		limit := 50
		if v := r.URL.Query().Get("limit"); v != "" {
			if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 500 {
				limit = n
			}
		}

		entries, err := sp.DB.RecentHistory(limit)
		if err != nil {
			addLogEntry("error", fmt.Sprintf("Failed to read history: %v", err))
			http.Error(w, "Failed to read history", http.StatusInternalServerError)
			return
		}

		out := make([]HistoryResponse, 0, len(entries))
		for _, e := range entries {
			out = append(out, HistoryResponse{
				ID:          e.ID,
				SessionID:   e.SessionID,
				URL:         e.URL,
				Host:        e.Host,
				Fingerprint: e.Fingerprint,
				CreatedAt:   e.CreatedAt.Format(time.RFC3339),
			})
		}

		if err := json.NewEncoder(w).Encode(out); err != nil {
			addLogEntry("error", fmt.Sprintf("Failed to encode history: %v", err))
			http.Error(w, "Failed to encode history", http.StatusInternalServerError)
		}
	}
}

// handleGetConfig serves the running configuration in the on-disk file
// shape, so what the admin sees is valid input for the config file.
func handleGetConfig(sp *proxy.StreamProxy) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")

		if err := json.NewEncoder(w).Encode(config.ToFile(sp.Config)); err != nil {
			addLogEntry("error", fmt.Sprintf("Failed to encode config: %v", err))
			http.Error(w, "Failed to encode config", http.StatusInternalServerError)
		}
	}
}

// handleGetLogs retrieves the current log buffer for admin interface display
func handleGetLogs(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	logMu.Lock()
	entries := make([]LogEntry, len(logEntries))
	copy(entries, logEntries)
	logMu.Unlock()

	if err := json.NewEncoder(w).Encode(entries); err != nil {
		http.Error(w, "Failed to encode logs", http.StatusInternalServerError)
	}
}

// handleClearLogs clears the admin log buffer and records the clearing action
func handleClearLogs(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	logMu.Lock()
	logEntries = logEntries[:0]
	logMu.Unlock()
	addLogEntry("info", "Log entries cleared via admin interface")

	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]string{"status": "success"})
}

// handleSpeedTest runs one upstream throughput probe against the current
// session's URL (or an explicit url parameter) on the shared worker pool
// and reports the measured rate. The probe itself is bounded, so a slow
// upstream cannot pin an admin request for longer than its internal budget.
func handleSpeedTest(sp *proxy.StreamProxy) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")

		target := r.FormValue("url")
		if target == "" {
			cur, ok := sp.Registry.Current()
			if !ok {
				http.Error(w, "No video URL set and none supplied", http.StatusBadRequest)
				return
			}
			target = cur.URL
		}
		target = utils.NormalizeTarget(target)

		type outcome struct {
			speedKBps float64
			bytes     int64
			elapsed   time.Duration
			err       error
		}
		done := make(chan outcome, 1)
		run := func() {
			res, err := sp.Prober.Measure(r.Context(), target)
			done <- outcome{res.SpeedKBps, res.Bytes, res.Elapsed, err}
		}
		if sp.Pool == nil || sp.Pool.Submit(run) != nil {
			go run()
		}

		select {
		case <-r.Context().Done():
			return
		case res := <-done:
			if res.err != nil {
				addLogEntry("error", fmt.Sprintf("Speed test failed: %v", res.err))
				http.Error(w, fmt.Sprintf("Speed test failed: %v", res.err), http.StatusBadGateway)
				return
			}
			json.NewEncoder(w).Encode(SpeedTestResponse{
				Status:    "ok",
				URL:       config.ObfuscateURL(target),
				SpeedKBps: res.speedKBps,
				Bytes:     res.bytes,
				ElapsedMs: res.elapsed.Milliseconds(),
				Timestamp: time.Now().Format(time.RFC3339),
			})
		}
	}
}

// addLogEntry adds a new entry to the admin log buffer with automatic size
// management. Also registered as the logger hook, so every logged line in
// the process lands here.
func addLogEntry(level, message string) {
	entry := LogEntry{
		Timestamp: time.Now().Format("2006-01-02 15:04:05"),
		Level:     level,
		Message:   message,
	}

	logMu.Lock()
	defer logMu.Unlock()

	logEntries = append(logEntries, entry)

	// Maintain circular buffer with 1000 entry limit
	if len(logEntries) > 1000 {
		logEntries = logEntries[len(logEntries)-1000:]
	}
}

// formatDuration converts time.Duration to human-readable format
func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	} else if d < time.Hour {
		return fmt.Sprintf("%dm", int(d.Minutes()))
	} else if d < 24*time.Hour {
		hours := int(d.Hours())
		minutes := int(d.Minutes()) % 60
		return fmt.Sprintf("%dh %dm", hours, minutes)
	} else {
		days := int(d.Hours()) / 24
		hours := int(d.Hours()) % 24
		return fmt.Sprintf("%dd %dh", days, hours)
	}
}
