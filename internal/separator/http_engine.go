package separator

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/stemmix/api/internal/config"
	"github.com/stemmix/api/internal/wav"
)

// HTTPEngine talks to a separation microservice: it POSTs the mix as a WAV
// container and receives the four stems back as base64 WAV blobs.
type HTTPEngine struct {
	httpClient *http.Client
	baseURL    string
	readiness
}

type separateResponse struct {
	Drums  string `json:"drums"`
	Bass   string `json:"bass"`
	Other  string `json:"other"`
	Vocals string `json:"vocals"`
}

// NewHTTPEngine creates an engine client for the configured service.
func NewHTTPEngine(cfg *config.SeparatorConfig) *HTTPEngine {
	return &HTTPEngine{
		httpClient: &http.Client{
			Timeout: time.Duration(cfg.Timeout) * time.Second,
		},
		baseURL: cfg.ServiceURL,
	}
}

// IsConfigured returns true if the client has valid configuration.
func (e *HTTPEngine) IsConfigured() bool {
	return e.baseURL != ""
}

// EnsureReady polls the service health endpoint until it answers, the model
// being loaded server-side on first use.
func (e *HTTPEngine) EnsureReady(ctx context.Context) error {
	return e.ensure(ctx, func(ctx context.Context) error {
		if e.baseURL == "" {
			return fmt.Errorf("separation service URL not configured")
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.baseURL+"/health", nil)
		if err != nil {
			return fmt.Errorf("failed to create request: %w", err)
		}
		resp, err := e.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("health check failed: %w", err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("separation service unhealthy: status %d", resp.StatusCode)
		}
		return nil
	})
}

// Separate sends one mix and decodes the four returned stems.
func (e *HTTPEngine) Separate(ctx context.Context, left, right []float64, sampleRate int) (*StemSet, error) {
	if err := e.EnsureReady(ctx); err != nil {
		return nil, err
	}

	body := wav.EncodeContainer(left, right, sampleRate)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/separate", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEngineFailed, err)
	}
	req.Header.Set("Content-Type", "audio/wav")

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEngineFailed, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEngineFailed, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%w: status %d: %s", ErrEngineFailed, resp.StatusCode, string(respBody))
	}

	var parsed separateResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEngineFailed, err)
	}

	set := &StemSet{}
	for _, entry := range []struct {
		name string
		b64  string
		dst  *Stem
	}{
		{"drums", parsed.Drums, &set.Drums},
		{"bass", parsed.Bass, &set.Bass},
		{"other", parsed.Other, &set.Other},
		{"vocals", parsed.Vocals, &set.Vocals},
	} {
		stem, err := decodeStem(entry.b64, sampleRate)
		if err != nil {
			return nil, fmt.Errorf("%w: stem %q: %v", ErrEngineFailed, entry.name, err)
		}
		*entry.dst = stem
	}

	if err := set.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEngineFailed, err)
	}
	return set, nil
}

func decodeStem(b64 string, wantRate int) (Stem, error) {
	raw, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return Stem{}, fmt.Errorf("bad base64: %v", err)
	}
	left, right, rate, err := wav.DecodeContainer(raw)
	if err != nil {
		return Stem{}, err
	}
	if rate != wantRate {
		return Stem{}, fmt.Errorf("stem sample rate %d, want %d", rate, wantRate)
	}
	return Stem{Left: left, Right: right}, nil
}
