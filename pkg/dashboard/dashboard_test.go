package dashboard

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStats struct {
	backend string
	healthy bool
	ok      bool
	lastErr error
	hits    uint64
	misses  uint64
	cache   bool
	eps     []Endpoint
}

func (f *fakeStats) Backend() string { return f.backend }
func (f *fakeStats) Network() string { return "regtest" }

func (f *fakeStats) Backends() []string {
	return []string{"nakamoto", "esplora", "bitcoind"}
}


func (f *fakeStats) Healthy() (bool, uint64, bool, error, bool) {
	return f.healthy, 150, false, f.lastErr, f.ok
}

func (f *fakeStats) CacheStats() (uint64, uint64, bool) { return f.hits, f.misses, f.cache }
func (f *fakeStats) Endpoints() []Endpoint              { return f.eps }
func (f *fakeStats) Uptime() time.Duration              { return 90 * time.Second }

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestAPIStatus(t *testing.T) {
	d := New(&fakeStats{backend: "esplora", healthy: true, ok: true, hits: 3, misses: 1, cache: true})

	rec := get(t, d, "/api/status")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp StatusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "esplora", resp.Backend)
	assert.Equal(t, "regtest", resp.Network)
	assert.True(t, resp.Initialized)
	assert.True(t, resp.Healthy)
	assert.Equal(t, uint64(150), resp.Height)
	assert.Equal(t, "1m 30s", resp.Uptime)
	require.NotNil(t, resp.Cache)
	assert.InDelta(t, 0.75, resp.Cache.HitRate, 1e-9)
	assert.Empty(t, resp.LastError)
	assert.Equal(t, []string{"nakamoto", "esplora", "bitcoind"}, resp.AvailableBackends)
	assert.Nil(t, resp.Endpoints)
}

func TestAPIStatusEndpoints(t *testing.T) {
	d := New(&fakeStats{backend: "esplora", healthy: true, ok: true, eps: []Endpoint{
		{URL: "https://blockstream.info/api", Healthy: true, LatencyMs: 120},
		{URL: "https://mempool.space/api", LastError: "503 Service Unavailable"},
	}})

	var resp StatusResponse
	require.NoError(t, json.Unmarshal(get(t, d, "/api/status").Body.Bytes(), &resp))
	require.Len(t, resp.Endpoints, 2)
	assert.True(t, resp.Endpoints[0].Healthy)
	assert.Equal(t, int64(120), resp.Endpoints[0].LatencyMs)
	assert.False(t, resp.Endpoints[1].Healthy)
	assert.Equal(t, "503 Service Unavailable", resp.Endpoints[1].LastError)
}

func TestAPIStatusBeforeInit(t *testing.T) {
	d := New(&fakeStats{lastErr: errors.New("ignored")})

	var resp StatusResponse
	require.NoError(t, json.Unmarshal(get(t, d, "/api/status").Body.Bytes(), &resp))
	assert.False(t, resp.Initialized)
	assert.False(t, resp.Healthy)
	assert.Nil(t, resp.Cache)
	assert.Empty(t, resp.LastError)
}

func TestAPIStatusUnhealthy(t *testing.T) {
	d := New(&fakeStats{ok: true, lastErr: errors.New("backend unavailable")})

	var resp StatusResponse
	require.NoError(t, json.Unmarshal(get(t, d, "/api/status").Body.Bytes(), &resp))
	assert.True(t, resp.Initialized)
	assert.False(t, resp.Healthy)
	assert.Equal(t, "backend unavailable", resp.LastError)
}

func TestAPIMetrics(t *testing.T) {
	rec := get(t, New(&fakeStats{}), "/api/metrics")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp MetricsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Positive(t, resp.NumGoroutine)
	assert.NotEmpty(t, resp.GoVersion)
}

func TestMethodNotAllowed(t *testing.T) {
	rec := httptest.NewRecorder()
	New(&fakeStats{}).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/status", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestFormatDuration(t *testing.T) {
	assert.Equal(t, "45s", formatDuration(45*time.Second))
	assert.Equal(t, "2h 5m", formatDuration(2*time.Hour+5*time.Minute))
	assert.Equal(t, "3d 4h", formatDuration(76*time.Hour))
}
