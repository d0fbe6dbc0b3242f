// Package whisper transcribes WAV clips against a whisper.cpp server
// (HTTP, POST /inference). A CGO-backed in-process variant lives in
// native.go.
package whisper

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/longscribe/longscribe/pkg/provider/stt"
)

const defaultTimeout = 5 * time.Minute

// Client transcribes audio files via a whisper.cpp server's /inference
// endpoint. Safe for concurrent use.
type Client struct {
	serverURL  string
	language   string
	beamSize   int
	httpClient *http.Client
}

var _ stt.Transcriber = (*Client)(nil)

// Option configures a Client.
type Option func(*Client)

// WithLanguage sets the transcription language hint (e.g. "ja").
func WithLanguage(lang string) Option {
	return func(c *Client) { c.language = lang }
}

// WithBeamSize sets the decoder beam size. Zero leaves the server default.
func WithBeamSize(n int) Option {
	return func(c *Client) { c.beamSize = n }
}

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// New builds a Client for the whisper.cpp server at serverURL.
func New(serverURL string, opts ...Option) (*Client, error) {
	serverURL = strings.TrimRight(serverURL, "/")
	if serverURL == "" {
		return nil, fmt.Errorf("whisper: server URL is required")
	}
	c := &Client{
		serverURL:  serverURL,
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Transcribe implements stt.Transcriber. It uploads the WAV file at path
// as multipart/form-data and returns the transcript text.
func (c *Client) Transcribe(ctx context.Context, path string) (string, error) {
	wav, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("whisper: read audio file: %w", err)
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	// Primary audio field.
	fw, err := mw.CreateFormFile("file", "audio.wav")
	if err != nil {
		return "", fmt.Errorf("whisper: create form file: %w", err)
	}
	if _, err := fw.Write(wav); err != nil {
		return "", fmt.Errorf("whisper: write wav data: %w", err)
	}

	// Optional hint fields.
	if c.language != "" {
		if err := mw.WriteField("language", c.language); err != nil {
			return "", fmt.Errorf("whisper: write language field: %w", err)
		}
	}
	if c.beamSize > 0 {
		if err := mw.WriteField("beam_size", strconv.Itoa(c.beamSize)); err != nil {
			return "", fmt.Errorf("whisper: write beam_size field: %w", err)
		}
	}

	if err := mw.Close(); err != nil {
		return "", fmt.Errorf("whisper: close multipart writer: %w", err)
	}

	endpoint := c.serverURL + "/inference"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, &body)
	if err != nil {
		return "", fmt.Errorf("whisper: create request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("whisper: http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("whisper: server returned HTTP %d", resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("whisper: read response body: %w", err)
	}

	var result struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(data, &result); err != nil {
		return "", fmt.Errorf("whisper: parse JSON response: %w", err)
	}
	return strings.TrimSpace(result.Text), nil
}
