// Package apply talks to the deployment backend that realizes plan steps.
package apply

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/industriverse/industriverse-sub007/internal/core/plan"
	"github.com/industriverse/industriverse-sub007/internal/shell/engine"
)

// =============================================================================
// HTTP Applier
// =============================================================================

// Config holds configuration for the HTTP applier.
type Config struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// DefaultConfig returns default applier configuration.
func DefaultConfig() Config {
	return Config{
		BaseURL: "http://localhost:9090",
		Timeout: 30 * time.Second,
	}
}

// HTTPApplier applies and reverts plan steps against a remote deployment
// backend. Network failures and 5xx responses are transient; any 4xx
// response is fatal for the step.
type HTTPApplier struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewHTTPApplier creates a new HTTP applier.
func NewHTTPApplier(cfg Config) *HTTPApplier {
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}

	return &HTTPApplier{
		baseURL: cfg.BaseURL,
		apiKey:  cfg.APIKey,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
	}
}

// stepRequest is the request body for apply and revert calls.
type stepRequest struct {
	StepID    string `json:"step_id"`
	NodeID    string `json:"node_id"`
	Action    string `json:"action"`
	Phase     int    `json:"phase"`
	Timestamp string `json:"timestamp"`
}

// Apply asks the backend to realize the step.
func (c *HTTPApplier) Apply(ctx context.Context, step plan.Step) error {
	return c.post(ctx, "/api/v1/apply", step, string(step.Action))
}

// Revert asks the backend to undo the step.
func (c *HTTPApplier) Revert(ctx context.Context, step plan.Step) error {
	return c.post(ctx, "/api/v1/revert", step, string(plan.ActionRollback))
}

func (c *HTTPApplier) post(ctx context.Context, path string, step plan.Step, action string) error {
	payload := stepRequest{
		StepID:    step.ID,
		NodeID:    step.NodeID,
		Action:    action,
		Phase:     step.Phase,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal step request: %w", err)
	}

	url := c.baseURL + path
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return engine.Transient(fmt.Errorf("failed to reach deployment backend: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		respBody, _ := io.ReadAll(resp.Body)
		return engine.Transient(fmt.Errorf("backend returned %d for step %s: %s", resp.StatusCode, step.ID, string(respBody)))
	}
	if resp.StatusCode >= 400 {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("backend rejected step %s with %d: %s", step.ID, resp.StatusCode, string(respBody))
	}

	return nil
}

// =============================================================================
// No-Op Applier (for development/testing)
// =============================================================================

// NoOpApplier is an applier that does nothing (for development mode).
type NoOpApplier struct{}

// NewNoOpApplier creates a no-op applier.
func NewNoOpApplier() *NoOpApplier {
	return &NoOpApplier{}
}

// Apply does nothing.
func (c *NoOpApplier) Apply(ctx context.Context, step plan.Step) error {
	return nil
}

// Revert does nothing.
func (c *NoOpApplier) Revert(ctx context.Context, step plan.Step) error {
	return nil
}
