package router

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/openswarm/swarm-go/pkg/registry"
	"github.com/openswarm/swarm-go/pkg/swarm"
	"github.com/openswarm/swarm-go/pkg/swarmerr"
)

// Caller forwards an opaque payload to one worker instance. Implementations
// must honor ctx cancellation and return taxonomy errors only.
type Caller interface {
	Call(ctx context.Context, inst registry.ServiceInstance, payload []byte) ([]byte, error)
}

// HTTPCaller posts routed payloads to a worker's invoke endpoint.
type HTTPCaller struct {
	// Timeout bounds each individual call.
	Timeout time.Duration

	// Path is the invoke endpoint on the worker, default "/v1/invoke".
	Path string

	client *http.Client
}

// NewHTTPCaller creates a caller with the given per-call timeout.
func NewHTTPCaller(timeout time.Duration) *HTTPCaller {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &HTTPCaller{
		Timeout: timeout,
		Path:    "/v1/invoke",
		client:  &http.Client{Timeout: timeout},
	}
}

// Call posts payload to the instance and returns the raw response body.
func (c *HTTPCaller) Call(ctx context.Context, inst registry.ServiceInstance, payload []byte) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, c.Timeout)
	defer cancel()

	url := baseURL(inst.Addr) + c.Path
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, swarmerr.Wrap(swarmerr.KindInternal, "build worker request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if id := swarm.CorrelationIDFrom(ctx); id != "" {
		req.Header.Set(swarm.CorrelationHeader, id)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, swarmerr.From(err).WithDetail("instance_id", inst.ID)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, swarmerr.Wrap(swarmerr.KindNetwork, "read worker response", err).
			WithDetail("instance_id", inst.ID)
	}
	if resp.StatusCode >= 300 {
		return nil, workerError(resp.StatusCode, body, inst.ID)
	}
	return body, nil
}

func workerError(status int, body []byte, instID string) error {
	var se swarmerr.Error
	if err := json.Unmarshal(body, &se); err == nil && se.Kind != "" {
		return &se
	}
	return swarmerr.FromHTTPStatus(status, "worker call failed").
		WithDetail("instance_id", instID)
}

func baseURL(addr string) string {
	if strings.HasPrefix(addr, "http://") || strings.HasPrefix(addr, "https://") {
		return strings.TrimRight(addr, "/")
	}
	return "http://" + strings.TrimRight(addr, "/")
}
