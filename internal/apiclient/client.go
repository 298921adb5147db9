// Package apiclient talks to the remote time-tracking API on behalf of
// the sync worker: one request per dispatched sync task, shaped by the
// task's entity_type.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/hubnity/timer-agent/internal/syncqueue"
)

// Client issues the outbound HTTP calls a sync task dispatch needs. It is
// deliberately built on plain net/http rather than a generated client: the
// remote surface here is five endpoints, and there is no OpenAPI document
// to generate one from.
type Client struct {
	baseURL string
	http    *http.Client
}

func New(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: timeout},
	}
}

// Dispatch sends one sync task to the remote API and reports whether it
// was accepted. A non-2xx response or transport failure is returned as an
// error; StatusError carries the HTTP status for 401-detection by the
// caller.
func (c *Client) Dispatch(ctx context.Context, entityType string, payload []byte, accessToken, idempotencyKey string) error {
	req, err := c.buildRequest(ctx, entityType, payload)
	if err != nil {
		return err
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+accessToken)
	if idempotencyKey != "" {
		req.Header.Set("X-Idempotency-Key", idempotencyKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("apiclient: network error: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	return &StatusError{Code: resp.StatusCode, Status: http.StatusText(resp.StatusCode)}
}

// StatusError is returned when the remote API responds with a non-2xx
// status. Callers check Code == 401 to decide whether a token refresh and
// single replay are warranted.
type StatusError struct {
	Code   int
	Status string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("apiclient: HTTP %d: %s", e.Code, e.Status)
}

func (c *Client) buildRequest(ctx context.Context, entityType string, payload []byte) (*http.Request, error) {
	var payloadJSON map[string]interface{}
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &payloadJSON); err != nil {
			return nil, fmt.Errorf("apiclient: decode payload: %w", err)
		}
	}

	switch entityType {
	case syncqueue.EntityTimeEntryStart:
		return c.newRequest(ctx, http.MethodPost, "/time-entries", payload)

	case syncqueue.EntityTimeEntryStop, syncqueue.EntityTimeEntryPause, syncqueue.EntityTimeEntryResume:
		op := operationSuffix(entityType)
		id, _ := payloadJSON["id"].(string)
		if id == "" {
			return nil, fmt.Errorf("apiclient: missing id for %s operation", op)
		}
		return c.newRequest(ctx, http.MethodPut, fmt.Sprintf("/time-entries/%s/%s", id, op), payload)

	case syncqueue.EntityScreenshot:
		imageData, _ := payloadJSON["imageData"].(string)
		timeEntryID, _ := payloadJSON["timeEntryId"].(string)
		if imageData == "" || timeEntryID == "" {
			return nil, fmt.Errorf("apiclient: screenshot payload missing imageData or timeEntryId")
		}
		return c.newRequest(ctx, http.MethodPost, "/screenshots", payload)

	default:
		return nil, fmt.Errorf("apiclient: unknown entity type %q", entityType)
	}
}

func operationSuffix(entityType string) string {
	switch entityType {
	case syncqueue.EntityTimeEntryStop:
		return "stop"
	case syncqueue.EntityTimeEntryPause:
		return "pause"
	case syncqueue.EntityTimeEntryResume:
		return "resume"
	default:
		return ""
	}
}

func (c *Client) newRequest(ctx context.Context, method, path string, body []byte) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("apiclient: build request: %w", err)
	}
	return req, nil
}
