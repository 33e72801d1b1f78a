package controllers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jewelcraft/jewelcraft-backend/pkg/types"
)

type stubPinger struct{ err error }

func (s stubPinger) Ping(context.Context) error { return s.err }

func TestHealthLive(t *testing.T) {
	rec := httptest.NewRecorder()
	HealthLive("dev")(rec, httptest.NewRequest(http.MethodGet, "/health/live", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "dev", rec.Header().Get(envHeader))
}

func TestHealthReady(t *testing.T) {
	rec := httptest.NewRecorder()
	HealthReady("dev", nil, map[string]Pinger{"db": stubPinger{}, "redis": nil})(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var body types.SuccessEnvelope
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	data := body.Data.(map[string]any)
	assert.Equal(t, "ready", data["status"])
	assert.Equal(t, map[string]any{"db": "up"}, data["checks"])
}

func TestHealthReadyReportsDownDependency(t *testing.T) {
	rec := httptest.NewRecorder()
	deps := map[string]Pinger{"db": stubPinger{}, "redis": stubPinger{err: errors.New("dial tcp: refused")}}
	HealthReady("dev", nil, deps)(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))

	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	var body types.ErrorEnvelope
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, "DEPENDENCY_ERROR", body.Error.Code)
	assert.Equal(t, map[string]any{"db": "up", "redis": "down"}, body.Error.Details)
}
