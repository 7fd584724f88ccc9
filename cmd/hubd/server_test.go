package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openswarm/swarm-go/pkg/config"
	"github.com/openswarm/swarm-go/pkg/swarm"
	"github.com/openswarm/swarm-go/pkg/swarmerr"
)

func newTestServer(t *testing.T) *server {
	t.Helper()
	log := logrus.New()
	log.SetOutput(testWriter{t})
	return newServer(config.Default(), log)
}

type testWriter struct{ t *testing.T }

func (w testWriter) Write(p []byte) (int, error) {
	w.t.Log(strings.TrimSpace(string(p)))
	return len(p), nil
}

func doJSON(t *testing.T, s *server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	s.routes().ServeHTTP(w, req)
	return w
}

func decodeErrorBody(t *testing.T, w *httptest.ResponseRecorder) *swarmerr.Error {
	t.Helper()
	var se swarmerr.Error
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &se))
	return &se
}

func TestRegisterAndList(t *testing.T) {
	s := newTestServer(t)

	w := doJSON(t, s, http.MethodPost, "/v1/services", swarm.RegisterRequest{
		ID: "mem-1", Role: "memory", Addr: "localhost:9001",
		Capabilities: []string{"put", "get"},
	})
	require.Equal(t, http.StatusCreated, w.Code)

	var view swarm.InstanceView
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &view))
	assert.Equal(t, "unknown", view.Health)

	w = doJSON(t, s, http.MethodGet, "/v1/services?role=memory", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var list struct {
		Services []swarm.InstanceView `json:"services"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	require.Len(t, list.Services, 1)
	assert.Equal(t, "mem-1", list.Services[0].ID)
}

func TestRegisterValidation(t *testing.T) {
	s := newTestServer(t)

	w := doJSON(t, s, http.MethodPost, "/v1/services", swarm.RegisterRequest{
		ID: "mem-1", Addr: "localhost:9001",
	})
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, swarmerr.KindMissingField, decodeErrorBody(t, w).Kind)
}

func TestHeartbeatUpdatesHealth(t *testing.T) {
	s := newTestServer(t)
	doJSON(t, s, http.MethodPost, "/v1/services", swarm.RegisterRequest{
		ID: "mem-1", Role: "memory", Addr: "localhost:9001",
	})

	w := doJSON(t, s, http.MethodPost, "/v1/services/mem-1/heartbeat",
		swarm.HeartbeatRequest{Status: "healthy"})
	require.Equal(t, http.StatusNoContent, w.Code)

	w = doJSON(t, s, http.MethodGet, "/v1/services", nil)
	var list struct {
		Services []swarm.InstanceView `json:"services"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	assert.Equal(t, "healthy", list.Services[0].Health)
}

func TestHeartbeatUnknownInstance(t *testing.T) {
	s := newTestServer(t)

	w := doJSON(t, s, http.MethodPost, "/v1/services/ghost/heartbeat",
		swarm.HeartbeatRequest{Status: "healthy"})
	require.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, swarmerr.KindNotFound, decodeErrorBody(t, w).Kind)
}

func TestDeregisterIdempotent(t *testing.T) {
	s := newTestServer(t)
	doJSON(t, s, http.MethodPost, "/v1/services", swarm.RegisterRequest{
		ID: "mem-1", Role: "memory", Addr: "localhost:9001",
	})

	w := doJSON(t, s, http.MethodDelete, "/v1/services/mem-1", nil)
	require.Equal(t, http.StatusNoContent, w.Code)

	w = doJSON(t, s, http.MethodDelete, "/v1/services/mem-1", nil)
	require.Equal(t, http.StatusNoContent, w.Code)
}

func TestRouteWithoutCandidates(t *testing.T) {
	s := newTestServer(t)

	w := doJSON(t, s, http.MethodPost, "/v1/route/memory", map[string]string{"op": "get"})
	require.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, swarmerr.KindUnavailable, decodeErrorBody(t, w).Kind)
}

func TestRouteForwardsToWorker(t *testing.T) {
	var gotCorrelation string
	worker := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/invoke", r.URL.Path)
		gotCorrelation = r.Header.Get(swarm.CorrelationHeader)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"result":"done"}`))
	}))
	defer worker.Close()

	s := newTestServer(t)
	doJSON(t, s, http.MethodPost, "/v1/services", swarm.RegisterRequest{
		ID: "mem-1", Role: "memory", Addr: worker.URL,
	})
	doJSON(t, s, http.MethodPost, "/v1/services/mem-1/heartbeat",
		swarm.HeartbeatRequest{Status: "healthy"})

	w := doJSON(t, s, http.MethodPost, "/v1/route/memory", map[string]string{"op": "noop"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"result":"done"}`, w.Body.String())
	assert.NotEmpty(t, gotCorrelation, "correlation id travels to the worker")
	assert.Equal(t, gotCorrelation, w.Header().Get(swarm.CorrelationHeader))
}

func TestHealthAndMetricsEndpoints(t *testing.T) {
	s := newTestServer(t)

	w := doJSON(t, s, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, s, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, w.Code)
}
