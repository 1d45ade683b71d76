package app

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	u "certforge/internal/utils"
)

func appTestConfig(t *testing.T) u.Config {
	t.Helper()
	var cfg u.Config
	cfg.Storage.Mode = "local"
	cfg.Storage.Dir = t.TempDir()
	cfg.Pipeline.TempDir = t.TempDir()
	cfg.Chrome.TimeoutSecs = 5
	cfg.Cache.RedisHost = "127.0.0.1:1" // unreachable, limiter falls back to memory
	cfg.RateLimiter.IntervalSecs = 60
	u.SetConfig(cfg)
	return cfg
}

func TestSetupApp_UnknownRouteReturnsJSON404(t *testing.T) {
	app, err := SetupApp(appTestConfig(t), nil)
	require.NoError(t, err)

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/nope", nil), 5000)
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	var body map[string]map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.EqualValues(t, 404, body["error"]["code"])
	assert.Equal(t, "Not Found", body["error"]["message"])
}

func TestSetupApp_HealthAndStatsEndpoints(t *testing.T) {
	app, err := SetupApp(appTestConfig(t), nil)
	require.NoError(t, err)

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/livez", nil), 5000)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = app.Test(httptest.NewRequest(http.MethodGet, "/v1/chrome/stats", nil), 5000)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var stats map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&stats))
	assert.Equal(t, false, stats["enabled"])
}

func TestSetupApp_AssignsRequestID(t *testing.T) {
	app, err := SetupApp(appTestConfig(t), nil)
	require.NoError(t, err)

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/livez", nil), 5000)
	require.NoError(t, err)
	assert.NotEmpty(t, resp.Header.Get("X-Request-Id"))
}
