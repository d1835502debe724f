// Package reasoner is the client for the external command-reasoning
// collaborator. It classifies suspicious commands the signature matcher
// cannot explain, at the cost of a network round trip, so it is only ever
// called from the incident consumer, never from the event fast path.
package reasoner

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"custodian/internal/model"
)

// Client calls the reasoning service over HTTP.
type Client struct {
	baseURL string
	client  *http.Client
	logger  *slog.Logger
}

// NewClient creates a reasoner client. The timeout bounds the whole
// request; a slow or unreachable reasoner must never stall the incident
// consumer beyond it.
func NewClient(baseURL string, timeout time.Duration, logger *slog.Logger) *Client {
	return &Client{
		baseURL: baseURL,
		client: &http.Client{
			Timeout: timeout,
		},
		logger: logger.With("component", "reasoner"),
	}
}

// Analyze submits a command context for classification. Any failure is
// returned to the caller, which treats the verdict as unknown and falls
// back to the signature severity.
func (c *Client) Analyze(ctx context.Context, cmdCtx model.CommandContext) (*model.Verdict, error) {
	body, err := json.Marshal(cmdCtx)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal command context: %w", err)
	}

	url := fmt.Sprintf("%s/v1/analyze", c.baseURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build reasoner request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to reach reasoner: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("reasoner returned status %d", resp.StatusCode)
	}

	var verdict model.Verdict
	if err := json.NewDecoder(resp.Body).Decode(&verdict); err != nil {
		return nil, fmt.Errorf("failed to decode reasoner verdict: %w", err)
	}

	c.logger.Debug("reasoner verdict received",
		"is_threat", verdict.IsThreat,
		"category", verdict.Category,
		"severity", verdict.Severity,
		"confidence", verdict.Confidence)

	return &verdict, nil
}
