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

// MediaFetcher defines the interface for remote media ingestion
type MediaFetcher interface {
	Resolve(ctx context.Context, url string) (*ResolvedMedia, error)
	Download(ctx context.Context, downloadURL string) ([]byte, error)
}

// FetcherClient implements MediaFetcher against the download service. The
// core treats it purely as a byte source: no retry logic lives here.
type FetcherClient struct {
	httpClient *http.Client
	baseURL    string
}

// ResolvedMedia is the metadata the download service reports for a locator.
type ResolvedMedia struct {
	Title        string  `json:"title"`
	Duration     float64 `json:"duration"`
	ThumbnailURL string  `json:"thumbnail_url,omitempty"`
	DownloadURL  string  `json:"download_url"`
}

// NewFetcherClient creates a new media fetcher client
func NewFetcherClient(cfg *config.FetcherConfig) *FetcherClient {
	return &FetcherClient{
		httpClient: &http.Client{
			Timeout: time.Duration(cfg.Timeout) * time.Second,
		},
		baseURL: cfg.ServiceURL,
	}
}

// Resolve asks the service to resolve a media locator into download metadata.
func (c *FetcherClient) Resolve(ctx context.Context, url string) (*ResolvedMedia, error) {
	body, err := json.Marshal(map[string]string{"url": url})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/resolve", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("fetcher service error (status %d): %s", resp.StatusCode, string(respBody))
	}

	var resolved ResolvedMedia
	if err := json.Unmarshal(respBody, &resolved); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}
	return &resolved, nil
}

// Download streams the resolved media's container bytes.
func (c *FetcherClient) Download(ctx context.Context, downloadURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, downloadURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to download media: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("download failed: status %d", resp.StatusCode)
	}

	return io.ReadAll(resp.Body)
}

// IsConfigured returns true if the client has valid configuration
func (c *FetcherClient) IsConfigured() bool {
	return c.baseURL != ""
}
