// Package tts synthesizes reply text to audio files that the telephony
// provider can fetch and play into the call.
package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/opencarelabs/medvoice/internal/metrics"
)

// Sentinel errors distinguishing where synthesis failed. The turn engine
// degrades to spoken-text fallback on either.
var (
	ErrUpstream = errors.New("tts upstream")
	ErrStorage  = errors.New("tts storage")
)

// Client synthesizes speech via an HTTP synthesis sidecar and stores the
// resulting WAV under audioDir, returning a URL below publicBaseURL.
type Client struct {
	url           string
	voice         string
	publicBaseURL string
	audioDir      string
	httpClient    *http.Client
}

// NewClient creates a synthesis client.
func NewClient(url, voice, publicBaseURL, audioDir string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{
		url:           url,
		voice:         voice,
		publicBaseURL: publicBaseURL,
		audioDir:      audioDir,
		httpClient:    httpClient,
	}
}

// Synthesize converts text to audio, writes it as filename under the audio
// dir, and returns the playable URL.
func (c *Client) Synthesize(ctx context.Context, text, filename string) (string, error) {
	start := time.Now()

	body, err := json.Marshal(struct {
		Text  string `json:"text"`
		Voice string `json:"voice"`
	}{Text: text, Voice: c.voice})
	if err != nil {
		return "", fmt.Errorf("marshal synthesis request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.url+"/synthesize", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create synthesis request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		metrics.Errors.WithLabelValues("tts", "http").Inc()
		return "", fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		metrics.Errors.WithLabelValues("tts", "status").Inc()
		return "", fmt.Errorf("%w: status %d", ErrUpstream, resp.StatusCode)
	}

	audioData, err := io.ReadAll(resp.Body)
	if err != nil {
		metrics.Errors.WithLabelValues("tts", "read").Inc()
		return "", fmt.Errorf("%w: read body: %v", ErrUpstream, err)
	}

	path := filepath.Join(c.audioDir, filename)
	if err = os.WriteFile(path, audioData, 0o644); err != nil {
		metrics.Errors.WithLabelValues("tts", "storage").Inc()
		return "", fmt.Errorf("%w: %v", ErrStorage, err)
	}

	metrics.StageDuration.WithLabelValues("tts").Observe(time.Since(start).Seconds())
	return c.publicBaseURL + "/audio/" + filename, nil
}
