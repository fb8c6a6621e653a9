// Package esmd is the HTTP client for the regulatory submission gateway.
package esmd

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"

	"github.com/pabridge/pabridge/internal/platform/telemetry"
)

// Gateway submits decision payloads downstream. Implementations must be safe
// for concurrent use by multiple workers.
type Gateway interface {
	Submit(ctx context.Context, req *SubmitRequest) (*SubmitResponse, error)
}

// SubmitRequest is one wire submission. CorrelationID is echoed back in the
// asynchronous acknowledgment feed.
type SubmitRequest struct {
	TrackingID     string          `json:"tracking_id"`
	CorrelationID  string          `json:"correlation_id"`
	PayloadVersion int             `json:"payload_version"`
	Payload        json.RawMessage `json:"payload"`
	Resend         bool            `json:"resend"`
}

// SubmitResponse is the synchronous gateway reply. Acks and UTN assignment
// arrive later through the feedback channel; this only confirms receipt.
type SubmitResponse struct {
	ReceiptID  string `json:"receipt_id"`
	StatusCode int    `json:"-"`
}

// StatusError reports a non-2xx gateway reply.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("esmd gateway returned %d: %s", e.Code, e.Body)
}

// Temporary reports whether retrying could help. Client errors are final;
// everything else (5xx, 429) is worth another try.
func (e *StatusError) Temporary() bool {
	return e.Code >= 500 || e.Code == http.StatusTooManyRequests
}

// Client is the HTTP Gateway implementation. Transient failures are retried
// with exponential backoff inside the call, bounded by the request context;
// the inbox retry ladder handles anything that outlives it.
type Client struct {
	baseURL string
	http    *http.Client
	logger  zerolog.Logger
}

func NewClient(baseURL string, timeout time.Duration, logger zerolog.Logger) *Client {
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: timeout},
		logger:  logger.With().Str("component", "esmd").Logger(),
	}
}

func (c *Client) Submit(ctx context.Context, req *SubmitRequest) (*SubmitResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("esmd submit marshal: %w", err)
	}

	timer := time.Now()
	defer func() {
		telemetry.ESMDRequestDuration.Observe(time.Since(timer).Seconds())
	}()

	var resp *SubmitResponse
	operation := func() error {
		r, err := c.doSubmit(ctx, body)
		if err != nil {
			var se *StatusError
			if errors.As(err, &se) && !se.Temporary() {
				return backoff.Permanent(err)
			}
			c.logger.Warn().Err(err).Str("tracking_id", req.TrackingID).Msg("submit attempt failed")
			return err
		}
		resp = r
		return nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = 30 * time.Second
	if err := backoff.Retry(operation, backoff.WithContext(bo, ctx)); err != nil {
		return nil, err
	}
	return resp, nil
}

func (c *Client) doSubmit(ctx context.Context, body []byte) (*SubmitResponse, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/submissions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("esmd submit request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	httpResp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("esmd submit: %w", err)
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(httpResp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("esmd submit read: %w", err)
	}
	if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
		return nil, &StatusError{Code: httpResp.StatusCode, Body: string(respBody)}
	}

	var out SubmitResponse
	if err := json.Unmarshal(respBody, &out); err != nil {
		return nil, fmt.Errorf("esmd submit decode: %w", err)
	}
	out.StatusCode = httpResp.StatusCode
	return &out, nil
}
