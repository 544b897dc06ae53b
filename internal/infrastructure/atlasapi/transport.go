package atlasapi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kirillkom/atlas-slicer/internal/core/domain"
)

const (
	requestIDHeader  = "X-Request-Id"
	maxResponseBytes = 1 << 20
)

func (c *Client) post(ctx context.Context, operation, path string, body io.Reader, contentType, schema string, out any) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return domain.WrapError(domain.ErrTransport, "wait for "+operation+" rate limit", err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("create %s request: %w", operation, err)
	}
	requestID := uuid.NewString()
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", "application/json")
	req.Header.Set(requestIDHeader, requestID)

	start := time.Now()
	err = c.roundTrip(req, operation, schema, out)
	c.observe(operation, start, err)

	logAttrs := []any{
		"operation", operation,
		"request_id", requestID,
		"path", path,
		"duration_ms", float64(time.Since(start).Microseconds()) / 1000.0,
	}
	if err != nil {
		logAttrs = append(logAttrs, "breaker_state", c.executor.State(breakerOperation(operation)), "error", err)
		c.logger.Warn("remote_request", logAttrs...)
		return err
	}
	c.logger.Debug("remote_request", logAttrs...)
	return nil
}

func (c *Client) roundTrip(req *http.Request, operation, schema string, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return domain.WrapError(domain.ErrTransport, "atlas "+operation+" request", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return newHTTPStatusError(operation, resp)
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return domain.WrapError(domain.ErrTransport, "read "+operation+" response", err)
	}
	if c.contract != nil {
		if err := c.contract.ValidateResponse(schema, raw); err != nil {
			return err
		}
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return domain.WrapError(domain.ErrContract, "decode "+operation+" response", err)
	}
	return nil
}

func (c *Client) observe(operation string, start time.Time, err error) {
	if c.observer == nil {
		return
	}
	c.observer.ObserveRequest(operation, time.Since(start), err)
}

func newHTTPStatusError(operation string, resp *http.Response) *HTTPStatusError {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
	return &HTTPStatusError{
		Operation:  operation,
		StatusCode: resp.StatusCode,
		Status:     resp.Status,
		Body:       strings.TrimSpace(string(body)),
	}
}

// breakerOperation is the executor key guarding operation.
func breakerOperation(operation string) string {
	return "atlas." + operation
}
