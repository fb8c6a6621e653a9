// Package letter drives beneficiary letter rendering and delivery against
// the external correspondence services.
package letter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Renderer asks the render service to produce a letter for a decision. The
// call is a request, not a completion: the render service reports READY or
// FAILED back through the message feed.
type Renderer interface {
	RequestRender(ctx context.Context, req *RenderRequest) error
}

// Deliverer sends a rendered letter out. Delivery is synchronous.
type Deliverer interface {
	Deliver(ctx context.Context, req *DeliverRequest) error
}

type RenderRequest struct {
	TrackingID string          `json:"tracking_id"`
	CaseID     string          `json:"case_id"`
	Outcome    string          `json:"outcome"`
	Document   json.RawMessage `json:"document,omitempty"`
}

type DeliverRequest struct {
	TrackingID string          `json:"tracking_id"`
	CaseID     string          `json:"case_id"`
	Package    json.RawMessage `json:"package,omitempty"`
}

// HTTPClient implements both interfaces over the correspondence services.
type HTTPClient struct {
	renderURL   string
	deliveryURL string
	http        *http.Client
}

func NewHTTPClient(renderURL, deliveryURL string, timeout time.Duration) *HTTPClient {
	return &HTTPClient{
		renderURL:   renderURL,
		deliveryURL: deliveryURL,
		http:        &http.Client{Timeout: timeout},
	}
}

func (c *HTTPClient) RequestRender(ctx context.Context, req *RenderRequest) error {
	return c.post(ctx, c.renderURL+"/render", req)
}

func (c *HTTPClient) Deliver(ctx context.Context, req *DeliverRequest) error {
	return c.post(ctx, c.deliveryURL+"/deliver", req)
}

func (c *HTTPClient) post(ctx context.Context, url string, body interface{}) error {
	raw, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("letter request marshal: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("letter request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return fmt.Errorf("letter post %s: %w", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("letter post %s: status %d: %s", url, resp.StatusCode, msg)
	}
	return nil
}
