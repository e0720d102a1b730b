package metrics

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func resetHealth(t *testing.T) {
	t.Helper()
	healthChecker = newHealthChecker()
}

func TestGetHealth(t *testing.T) {
	tests := []struct {
		name       string
		components map[string]bool
		wantStatus string
	}{
		{name: "no components", wantStatus: StatusHealthy},
		{name: "all healthy", components: map[string]bool{"queue": true, "storage": true}, wantStatus: StatusHealthy},
		{name: "one unhealthy", components: map[string]bool{"queue": true, "storage": false}, wantStatus: StatusUnhealthy},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resetHealth(t)
			SetVersion("1.0.0")
			for name, ok := range tt.components {
				RegisterComponent(name, ok, "not mounted")
			}
			health := GetHealth()
			assert.Equal(t, tt.wantStatus, health.Status)
			assert.Len(t, health.Components, len(tt.components))
			assert.Equal(t, "1.0.0", health.Version)
			if tt.wantStatus == StatusUnhealthy {
				assert.Equal(t, "unhealthy: not mounted", health.Components["storage"])
			}
		})
	}
}

func TestGetReadiness(t *testing.T) {
	resetHealth(t)
	RegisterComponent("queue", false, "idle")

	r := GetReadiness()
	assert.Equal(t, StatusNotReady, r.Status)
	assert.Equal(t, "not registered", r.Components["storage"])
	assert.Equal(t, "waiting for config", r.Message)

	RegisterComponent("config", true, "loaded")
	UpdateComponent("storage", false, "version mismatch")
	r = GetReadiness()
	assert.Equal(t, StatusNotReady, r.Status)
	assert.Equal(t, "not ready: version mismatch", r.Components["storage"])

	UpdateComponent("storage", true, "default")
	r = GetReadiness()
	assert.Equal(t, StatusReady, r.Status)
	assert.NotContains(t, r.Components, "queue", "non-critical components are ignored")
}

func TestHandlers(t *testing.T) {
	resetHealth(t)
	SetPhase("update")
	RegisterComponent("config", true, "")
	RegisterComponent("storage", false, "not mounted")

	tests := []struct {
		name     string
		handler  http.HandlerFunc
		wantCode int
	}{
		{"health", HealthHandler(), http.StatusServiceUnavailable},
		{"ready", ReadyHandler(), http.StatusServiceUnavailable},
		{"live", LivenessHandler(), http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			tt.handler(rec, httptest.NewRequest(http.MethodGet, "/"+tt.name, nil))
			assert.Equal(t, tt.wantCode, rec.Code)
			assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

			var body map[string]any
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.NotEmpty(t, body["uptime"])
			if tt.name != "live" {
				assert.Equal(t, "update", body["phase"])
			}
		})
	}

	UpdateComponent("storage", true, "")
	rec := httptest.NewRecorder()
	ReadyHandler()(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}
