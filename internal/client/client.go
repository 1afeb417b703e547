// Package client is the HTTP client for the intake API, used by the CLI.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/alfredjeanlab/anchord/internal/model"
)

// APIError is a non-2xx response from the intake API.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error (status %d): %s", e.StatusCode, e.Message)
}

// Client talks to the intake API over HTTP/JSON.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// New creates a client targeting the given base URL (e.g.
// "http://localhost:8080"). When token is non-empty, an Authorization header
// is set on every request.
func New(baseURL, token string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		httpClient: &http.Client{},
	}
}

// SubmitEvent submits an event and returns its receipt.
func (c *Client) SubmitEvent(ctx context.Context, ev *model.Event) (*model.Receipt, error) {
	var rec model.Receipt
	if err := c.doJSON(ctx, http.MethodPost, "/v1/events", ev, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// GetReceipt fetches the receipt for a decision id.
func (c *Client) GetReceipt(ctx context.Context, decisionID string) (*model.Receipt, error) {
	var rec model.Receipt
	if err := c.doJSON(ctx, http.MethodGet, "/v1/events/"+url.PathEscape(decisionID), nil, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// Cancel abandons a decision that has not reached the ledger yet.
func (c *Client) Cancel(ctx context.Context, decisionID string) (*model.Receipt, error) {
	var rec model.Receipt
	if err := c.doJSON(ctx, http.MethodPost, "/v1/events/"+url.PathEscape(decisionID)+"/cancel", nil, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// Pending lists non-terminal receipts for a pipeline.
func (c *Client) Pending(ctx context.Context, pipeline string, limit int) ([]*model.Receipt, error) {
	path := "/v1/pipelines/" + url.PathEscape(pipeline) + "/pending"
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	var resp struct {
		Receipts []*model.Receipt `json:"receipts"`
	}
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Receipts, nil
}

// Reconcile triggers a reconciliation sweep for a pipeline and returns how
// many receipts were re-queued.
func (c *Client) Reconcile(ctx context.Context, pipeline string) (int, error) {
	var resp struct {
		Requeued int `json:"requeued"`
	}
	if err := c.doJSON(ctx, http.MethodPost, "/v1/pipelines/"+url.PathEscape(pipeline)+"/reconcile", nil, &resp); err != nil {
		return 0, err
	}
	return resp.Requeued, nil
}

// Health reports daemon liveness and per-pipeline queue depths.
func (c *Client) Health(ctx context.Context) (map[string]int, error) {
	var resp struct {
		Status string         `json:"status"`
		Queues map[string]int `json:"queues"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/v1/health", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Queues, nil
}

// doJSON performs an HTTP request with an optional JSON body, decoding the
// JSON response into result when non-nil.
func (c *Client) doJSON(ctx context.Context, method, path string, body any, result any) error {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshaling request body: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("performing request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNoContent {
		return nil
	}

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode >= 400 {
		var errResp struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(respBody, &errResp) == nil && errResp.Error != "" {
			return &APIError{StatusCode: resp.StatusCode, Message: errResp.Error}
		}
		return &APIError{StatusCode: resp.StatusCode, Message: string(respBody)}
	}

	if result != nil {
		if err := json.Unmarshal(respBody, result); err != nil {
			return fmt.Errorf("decoding response: %w", err)
		}
	}
	return nil
}
