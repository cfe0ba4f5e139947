package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestHealth(t *testing.T) {
	env := newTestEnv(nil, inlineConfig())
	w := httptest.NewRecorder()
	env.server.Router().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, w.Code)
	require.JSONEq(t, `{"status":"ok"}`, w.Body.String())
}

func TestReady(t *testing.T) {
	t.Run("ok", func(t *testing.T) {
		env := newTestEnv(&stubRunner{}, inlineConfig())
		w := httptest.NewRecorder()
		env.server.Router().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ready", nil))
		require.Equal(t, http.StatusOK, w.Code)

		var resp readinessResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		require.Equal(t, "ok", resp.Status)
		require.Equal(t, "ok", resp.Subsystems["store"].Status)
		require.NotContains(t, resp.Subsystems, "credentials")
	})

	t.Run("store down", func(t *testing.T) {
		storeMock := &MockStore{}
		storeMock.On("Ping", mock.Anything).Return(errors.New("connection refused")).Once()
		cfg := inlineConfig()
		cfg.TavilyAPIKey = ""
		server := NewServer(storeMock, nil, nil, &stubRunner{}, cfg, nil)

		w := httptest.NewRecorder()
		server.Router().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ready", nil))
		require.Equal(t, http.StatusServiceUnavailable, w.Code)

		var resp readinessResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		require.Equal(t, "degraded", resp.Status)
		require.Equal(t, "error", resp.Subsystems["store"].Status)
		require.Equal(t, "TAVILY_API_KEY", resp.Subsystems["credentials"].Error)
		storeMock.AssertExpectations(t)
	})

	t.Run("no runner", func(t *testing.T) {
		env := newTestEnv(nil, inlineConfig())
		w := httptest.NewRecorder()
		env.server.Router().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ready", nil))
		require.Equal(t, http.StatusServiceUnavailable, w.Code)
	})
}

func TestCORSPreflight(t *testing.T) {
	env := newTestEnv(nil, inlineConfig())
	w := httptest.NewRecorder()
	env.server.Router().ServeHTTP(w, httptest.NewRequest(http.MethodOptions, "/api/research", nil))
	require.Equal(t, http.StatusNoContent, w.Code)
	require.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
	require.Contains(t, w.Header().Get("Access-Control-Allow-Headers"), "Last-Event-ID")
}

func TestShouldSuppressRequestLog(t *testing.T) {
	require.True(t, shouldSuppressRequestLog(http.MethodGet, "/runs/run-1/events"))
	require.True(t, shouldSuppressRequestLog(http.MethodGet, "/health"))
	require.True(t, shouldSuppressRequestLog(http.MethodOptions, "/api/research"))
	require.False(t, shouldSuppressRequestLog(http.MethodPost, "/api/research"))
	require.False(t, shouldSuppressRequestLog(http.MethodGet, "/runs"))
}
