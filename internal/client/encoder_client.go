package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/stemmix/api/internal/config"
)

// MediaEncoder defines the interface for the export muxing/encoding service
type MediaEncoder interface {
	Encode(ctx context.Context, req *EncodeRequest) (*EncodeResponse, error)
	HealthCheck(ctx context.Context) error
}

// EncoderClient implements MediaEncoder for the encoding microservice.
// The core's only obligation is handing it correctly shaped PCM; container
// muxing and codec work happen on the other side.
type EncoderClient struct {
	httpClient *http.Client
	baseURL    string
}

// EncodeRequest represents the request for final export encoding
type EncodeRequest struct {
	InputURL    string            `json:"input_url"`
	OriginalURL string            `json:"original_url,omitempty"`
	Format      string            `json:"format"`
	Quality     int               `json:"quality,omitempty"`
	SampleRate  int               `json:"sample_rate,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	OutputKey   string            `json:"output_key"`
}

// EncodeResponse represents the response from encoding
type EncodeResponse struct {
	OutputURL string `json:"output_url"`
	Format    string `json:"format"`
	Size      int64  `json:"size"`
}

// NewEncoderClient creates a new encoding client
func NewEncoderClient(cfg *config.EncoderConfig) *EncoderClient {
	return &EncoderClient{
		httpClient: &http.Client{
			Timeout: time.Duration(cfg.Timeout) * time.Second,
		},
		baseURL: cfg.ServiceURL,
	}
}

// Encode sends audio to the encoding endpoint
func (c *EncoderClient) Encode(ctx context.Context, req *EncodeRequest) (*EncodeResponse, error) {
	var result EncodeResponse
	if err := c.post(ctx, "/encode", req, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// HealthCheck checks if the encoding service is available
func (c *EncoderClient) HealthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("encoder service unhealthy: status %d", resp.StatusCode)
	}

	return nil
}

// post sends a POST request with JSON body and parses the response
func (c *EncoderClient) post(ctx context.Context, endpoint string, body interface{}, result interface{}) error {
	bodyBytes, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+endpoint, bytes.NewReader(bodyBytes))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("encoder service error (status %d): %s", resp.StatusCode, string(respBody))
	}

	if err := json.Unmarshal(respBody, result); err != nil {
		return fmt.Errorf("failed to unmarshal response: %w", err)
	}

	return nil
}

// IsConfigured returns true if the client has valid configuration
func (c *EncoderClient) IsConfigured() bool {
	return c.baseURL != ""
}
