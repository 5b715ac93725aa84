// Package dashboard serves a read-only JSON status API next to the
// standalone JSON-RPC server.
//
//	GET /api/status   backend, network, health, endpoints and cache counters
//	GET /api/metrics  Go runtime statistics
package dashboard

import (
	"encoding/json"
	"fmt"
	"net/http"
	"runtime"
	"time"
)

// NodeStats provides node statistics to the dashboard.
type NodeStats interface {
	// Backend returns the active backend token, or "" before init.
	Backend() string

	// Backends returns the tokens of every backend this build can run.
	Backends() []string

	// Network returns the configured network.
	Network() string

	// Healthy reports the latest probe outcome. ok is false before init.
	Healthy() (healthy bool, height uint64, ibd bool, lastError error, ok bool)

	// CacheStats returns the block cache counters. ok is false when no
	// cache is in use.
	CacheStats() (hits, misses uint64, ok bool)

	// Endpoints returns the failover state of the active backend's
	// endpoints, or nil when it has a single upstream.
	Endpoints() []Endpoint

	// Uptime returns how long the node has been running.
	Uptime() time.Duration
}

// StatusResponse is the response for GET /api/status.
type StatusResponse struct {
	Backend           string      `json:"backend"`
	AvailableBackends []string    `json:"availableBackends"`
	Network           string      `json:"network"`
	Initialized       bool        `json:"initialized"`
	Healthy           bool        `json:"healthy"`
	Height            uint64      `json:"height"`
	IBD               bool        `json:"ibd"`
	Uptime            string      `json:"uptime"`
	UptimeSeconds     float64     `json:"uptimeSeconds"`
	Endpoints         []Endpoint  `json:"endpoints,omitempty"`
	Cache             *CacheStats `json:"cache,omitempty"`
	LastError         string      `json:"lastError,omitempty"`
}

// Endpoint is one upstream of a failover backend.
type Endpoint struct {
	URL       string `json:"url"`
	Healthy   bool   `json:"healthy"`
	LatencyMs int64  `json:"latencyMs"`
	LastError string `json:"lastError,omitempty"`
}

// CacheStats is the block cache section of StatusResponse.
type CacheStats struct {
	Hits    uint64  `json:"hits"`
	Misses  uint64  `json:"misses"`
	HitRate float64 `json:"hitRate"`
}

// MetricsResponse is the response for GET /api/metrics.
type MetricsResponse struct {
	MemAlloc      uint64 `json:"memAlloc"`
	MemTotalAlloc uint64 `json:"memTotalAlloc"`
	MemSys        uint64 `json:"memSys"`
	MemHeapInuse  uint64 `json:"memHeapInuse"`
	MemHeapIdle   uint64 `json:"memHeapIdle"`
	NumGC         uint32 `json:"numGC"`
	NumGoroutine  int    `json:"numGoroutine"`
	NumCPU        int    `json:"numCPU"`
	GoVersion     string `json:"goVersion"`
}

// Dashboard is the status API.
type Dashboard struct {
	stats NodeStats
	mux   *http.ServeMux
}

// New creates the status API over stats.
func New(stats NodeStats) *Dashboard {
	d := &Dashboard{stats: stats, mux: http.NewServeMux()}
	d.mux.HandleFunc("/api/status", d.handleAPIStatus)
	d.mux.HandleFunc("/api/metrics", d.handleAPIMetrics)
	return d
}

// ServeHTTP implements http.Handler.
func (d *Dashboard) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	d.mux.ServeHTTP(w, r)
}

// handleAPIStatus handles GET /api/status.
func (d *Dashboard) handleAPIStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	uptime := d.stats.Uptime()
	resp := StatusResponse{
		Backend:           d.stats.Backend(),
		AvailableBackends: d.stats.Backends(),
		Network:           d.stats.Network(),
		Uptime:            formatDuration(uptime),
		UptimeSeconds:     uptime.Seconds(),
		Endpoints:         d.stats.Endpoints(),
	}
	if healthy, height, ibd, lastErr, ok := d.stats.Healthy(); ok {
		resp.Initialized = true
		resp.Healthy = healthy
		resp.Height = height
		resp.IBD = ibd
		if lastErr != nil {
			resp.LastError = lastErr.Error()
		}
	}
	if hits, misses, ok := d.stats.CacheStats(); ok {
		resp.Cache = &CacheStats{Hits: hits, Misses: misses}
		if total := hits + misses; total > 0 {
			resp.Cache.HitRate = float64(hits) / float64(total)
		}
	}

	writeJSON(w, resp)
}

// handleAPIMetrics handles GET /api/metrics.
func (d *Dashboard) handleAPIMetrics(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	writeJSON(w, MetricsResponse{
		MemAlloc:      memStats.Alloc,
		MemTotalAlloc: memStats.TotalAlloc,
		MemSys:        memStats.Sys,
		MemHeapInuse:  memStats.HeapInuse,
		MemHeapIdle:   memStats.HeapIdle,
		NumGC:         memStats.NumGC,
		NumGoroutine:  runtime.NumGoroutine(),
		NumCPU:        runtime.NumCPU(),
		GoVersion:     runtime.Version(),
	})
}

func writeJSON(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}

func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm %ds", int(d.Minutes()), int(d.Seconds())%60)
	}
	if d < 24*time.Hour {
		return fmt.Sprintf("%dh %dm", int(d.Hours()), int(d.Minutes())%60)
	}
	days := int(d.Hours() / 24)
	hours := int(d.Hours()) % 24
	return fmt.Sprintf("%dd %dh", days, hours)
}
