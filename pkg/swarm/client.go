package swarm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/openswarm/swarm-go/pkg/swarmerr"
)

// CorrelationHeader is the HTTP header the correlation id travels in.
const CorrelationHeader = "X-Correlation-ID"

var httpClient = &http.Client{Timeout: 10 * time.Second}

// PostJSON posts body as JSON to url and decodes the response into out
// (skipped when out is nil). The correlation id from ctx, if any, is attached
// to the request. Non-2xx responses are decoded into a StandardError when the
// body carries one, otherwise mapped from the status code.
func PostJSON(ctx context.Context, url string, body any, out any) error {
	reqBody, err := json.Marshal(body)
	if err != nil {
		return swarmerr.Wrap(swarmerr.KindInternal, "encode request", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(reqBody))
	if err != nil {
		return swarmerr.Wrap(swarmerr.KindInternal, "build request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if id := CorrelationIDFrom(ctx); id != "" {
		req.Header.Set(CorrelationHeader, id)
	}
	return do(req, out)
}

// GetJSON fetches url and decodes the response into out, with the same
// correlation and error translation behavior as PostJSON.
func GetJSON(ctx context.Context, url string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return swarmerr.Wrap(swarmerr.KindInternal, "build request", err)
	}
	if id := CorrelationIDFrom(ctx); id != "" {
		req.Header.Set(CorrelationHeader, id)
	}
	return do(req, out)
}

// DeleteJSON issues a DELETE to url, with the same correlation and error
// translation behavior as PostJSON.
func DeleteJSON(ctx context.Context, url string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, url, nil)
	if err != nil {
		return swarmerr.Wrap(swarmerr.KindInternal, "build request", err)
	}
	if id := CorrelationIDFrom(ctx); id != "" {
		req.Header.Set(CorrelationHeader, id)
	}
	return do(req, nil)
}

func do(req *http.Request, out any) error {
	resp, err := httpClient.Do(req)
	if err != nil {
		return swarmerr.From(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return decodeError(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return swarmerr.Wrap(swarmerr.KindDependency, "decode response", err)
	}
	return nil
}

// decodeError recovers a StandardError from an error response body, falling
// back to a status-derived error when the body is not one.
func decodeError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))

	var se swarmerr.Error
	if err := json.Unmarshal(body, &se); err == nil && se.Kind != "" {
		return &se
	}
	return swarmerr.FromHTTPStatus(resp.StatusCode,
		fmt.Sprintf("http %s: %d", resp.Request.URL, resp.StatusCode))
}
