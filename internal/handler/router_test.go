package handler

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tripwise/planner/backend/internal/config"
	"github.com/tripwise/planner/backend/internal/middleware"
	"github.com/tripwise/planner/backend/internal/model/persona"
	chatService "github.com/tripwise/planner/backend/internal/service/chat"
	"github.com/tripwise/planner/backend/internal/service/inference"
	"github.com/tripwise/planner/backend/internal/service/session"
)

type echoBackend struct{}

func (echoBackend) Name() string { return "echo" }

func (echoBackend) Generate(context.Context, inference.Request) (string, error) {
	return "Going from Oslo to Bergen.", nil
}

func (echoBackend) Close() error { return nil }

func newTestRouter(t *testing.T) (http.Handler, *inference.Gateway) {
	t.Helper()

	gateway := inference.NewGateway(echoBackend{},
		config.ModelConfig{ContextWindow: 2048},
		config.GenerationConfig{Temperature: 0.5, MaxTokens: 100, TopP: 0.9, PoolSize: 1, Timeout: time.Second},
	)
	personas := persona.NewRegistry(persona.Seed())
	svc, err := chatService.NewService(session.NewMemoryStore(session.Options{}), gateway, personas, persona.DefaultID)
	require.NoError(t, err)

	return NewRouter(zerolog.Nop(), svc, personas, gateway), gateway
}

func TestHealth(t *testing.T) {
	r, gateway := newTestRouter(t)

	for path, label := range map[string]string{"/": "running", "/health": "healthy"} {
		resp := httptest.NewRecorder()
		r.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, path, nil))
		require.Equal(t, http.StatusOK, resp.Code)

		var got healthResponse
		require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &got))
		assert.Equal(t, label, got.Status)
		assert.True(t, got.ModelLoaded)
		assert.Equal(t, "echo", got.Backend)
	}

	require.NoError(t, gateway.Close())
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/health", nil))
	var got healthResponse
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &got))
	assert.False(t, got.ModelLoaded)
}

func TestRoutes(t *testing.T) {
	r, _ := newTestRouter(t)

	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/v1/personas", nil))
	assert.Equal(t, http.StatusOK, resp.Code)

	body := `{"messages":[{"role":"user","content":"hello"}]}`
	resp = httptest.NewRecorder()
	r.ServeHTTP(resp, httptest.NewRequest(http.MethodPost, "/v1/chat/completions", strings.NewReader(body)))
	assert.Equal(t, http.StatusUnauthorized, resp.Code)

	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", strings.NewReader(body))
	req.Header.Set(middleware.UserIDHeader, "u1")
	req.Header.Set("Origin", "http://example.com")
	resp = httptest.NewRecorder()
	r.ServeHTTP(resp, req)
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Contains(t, resp.Body.String(), `"journey_details":{"origin":"Oslo","destination":"Bergen"}`)
	assert.NotEmpty(t, resp.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodGet, "/v1/chat/stream?message=hi", nil)
	req.Header.Set(middleware.UserIDHeader, "u1")
	resp = httptest.NewRecorder()
	r.ServeHTTP(resp, req)
	assert.Equal(t, "text/event-stream", resp.Header().Get("Content-Type"))
}

func TestMetricsEndpoint(t *testing.T) {
	r, _ := newTestRouter(t)

	srv := httptest.NewServer(r)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(raw), "planner_")
}
