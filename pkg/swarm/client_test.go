package swarm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openswarm/swarm-go/pkg/swarmerr"
)

func TestPostJSONRoundTrip(t *testing.T) {
	var gotCorrelation string
	var gotBody map[string]string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotCorrelation = r.Header.Get(CorrelationHeader)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		_ = json.NewEncoder(w).Encode(map[string]string{"echo": gotBody["msg"]})
	}))
	defer server.Close()

	ctx := WithCorrelationID(context.Background(), "corr-123")
	var out map[string]string
	err := PostJSON(ctx, server.URL, map[string]string{"msg": "ping"}, &out)

	require.NoError(t, err)
	assert.Equal(t, "corr-123", gotCorrelation)
	assert.Equal(t, "ping", out["echo"])
}

func TestGetJSONDecodesErrorBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		se := swarmerr.New(swarmerr.KindNotFound, "no such service")
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(swarmerr.HTTPStatus(se))
		_ = json.NewEncoder(w).Encode(se)
	}))
	defer server.Close()

	err := GetJSON(context.Background(), server.URL, nil)
	require.Error(t, err)
	assert.True(t, swarmerr.IsKind(err, swarmerr.KindNotFound))

	se := swarmerr.From(err)
	assert.Equal(t, "no such service", se.Message)
}

func TestGetJSONFallsBackToStatusMapping(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "plain text failure", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	err := GetJSON(context.Background(), server.URL, nil)
	require.Error(t, err)
	assert.True(t, swarmerr.IsKind(err, swarmerr.KindUnavailable))
}

func TestPostJSONCanceledContext(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := PostJSON(ctx, server.URL, map[string]string{}, nil)
	require.Error(t, err)
	assert.True(t, swarmerr.IsKind(err, swarmerr.KindInternal))
	assert.False(t, swarmerr.IsTransient(err), "caller cancellation is not retried")
}

func TestCorrelationContextHelpers(t *testing.T) {
	assert.Empty(t, CorrelationIDFrom(context.Background()))

	id := NewCorrelationID()
	assert.NotEmpty(t, id)

	ctx := WithCorrelationID(context.Background(), id)
	assert.Equal(t, id, CorrelationIDFrom(ctx))

	assert.NotEqual(t, id, NewCorrelationID(), "ids are unique")
}
