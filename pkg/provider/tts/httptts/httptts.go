// Package httptts provides a tts.Provider backed by a synthesis HTTP server.
//
// The server exposes POST /api/tts, takes {"text","voice"} as JSON, renders
// the audio to its own storage and answers with {"url"} pointing at the
// rendered file. Devices then stream the URL directly.
package httptts

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/voxleaf/voxleaf/pkg/provider/tts"
)

const (
	defaultTimeout = 30 * time.Second

	synthesizeEndpoint = "/api/tts"

	// One retry for transient failures, same policy as the recognizer
	// client. Synthesis blocks the spoken part of a response.
	maxAttempts  = 2
	retryBackoff = time.Second
)

var _ tts.Provider = (*Provider)(nil)

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithVoice sets the voice identifier sent with each request.
func WithVoice(voice string) Option {
	return func(p *Provider) { p.voice = voice }
}

// WithTimeout sets the per-request HTTP timeout. Defaults to 30 s.
func WithTimeout(d time.Duration) Option {
	return func(p *Provider) { p.httpClient.Timeout = d }
}

// Provider implements [tts.Provider] against a synthesis HTTP server.
// It is safe for concurrent use.
type Provider struct {
	serverURL  string
	voice      string
	httpClient *http.Client
}

// New creates a Provider targeting the synthesis server at serverURL.
func New(serverURL string, opts ...Option) (*Provider, error) {
	if serverURL == "" {
		return nil, errors.New("httptts: serverURL must not be empty")
	}
	p := &Provider{
		serverURL:  strings.TrimRight(serverURL, "/"),
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

type synthesizeRequest struct {
	Text  string `json:"text"`
	Voice string `json:"voice,omitempty"`
}

type synthesizeResponse struct {
	URL string `json:"url"`
}

// Synthesize renders text and returns the playback URL. Transient failures
// (network errors, HTTP 5xx) are retried once; client errors, HTTP 429
// included, are returned immediately.
func (p *Provider) Synthesize(ctx context.Context, text string) (string, error) {
	if strings.TrimSpace(text) == "" {
		return "", errors.New("httptts: text must not be empty")
	}
	body, err := json.Marshal(synthesizeRequest{Text: text, Voice: p.voice})
	if err != nil {
		return "", fmt.Errorf("httptts: marshal request: %w", err)
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if attempt > 1 {
			select {
			case <-time.After(retryBackoff):
			case <-ctx.Done():
				return "", ctx.Err()
			}
		}
		url, retryable, err := p.synthesize(ctx, body)
		if err == nil {
			return url, nil
		}
		lastErr = err
		if !retryable {
			break
		}
	}
	return "", lastErr
}

func (p *Provider) synthesize(ctx context.Context, body []byte) (string, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.serverURL+synthesizeEndpoint, bytes.NewReader(body))
	if err != nil {
		return "", false, fmt.Errorf("httptts: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return "", ctx.Err() == nil, fmt.Errorf("httptts: http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		retryable := resp.StatusCode >= 500
		return "", retryable, fmt.Errorf("httptts: server returned HTTP %d", resp.StatusCode)
	}

	var result synthesizeResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", false, fmt.Errorf("httptts: parse JSON response: %w", err)
	}
	if result.URL == "" {
		return "", false, errors.New("httptts: response missing url")
	}
	return result.URL, false, nil
}
