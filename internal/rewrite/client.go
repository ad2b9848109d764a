// Package rewrite calls an external AI service to rewrite a selected
// passage. The service owns the generation; this client only carries
// the request and surfaces failures as plain errors, leaving annotation
// state untouched.
package rewrite

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// DefaultTimeout caps a rewrite round trip. Generation is slow compared
// to the directory lookups elsewhere, so the budget is generous.
const DefaultTimeout = 30 * time.Second

var (
	errMissingBaseURL = errors.New("rewrite: base url is required")

	// ErrEmptyText indicates there is nothing to rewrite.
	ErrEmptyText = errors.New("rewrite: text is required")
	// ErrEmptyReplacement indicates the service returned no usable text.
	ErrEmptyReplacement = errors.New("rewrite: service returned empty replacement")
)

// ClientConfig wires a Client.
type ClientConfig struct {
	BaseURL     string
	BearerToken string
	HTTPClient  *http.Client
	Logger      *zap.Logger
}

// Client talks to the rewrite service.
type Client struct {
	baseURL     string
	bearerToken string
	httpClient  *http.Client
	logger      *zap.Logger
}

type rewriteRequest struct {
	Text        string `json:"text"`
	Instruction string `json:"instruction,omitempty"`
}

type rewriteResponse struct {
	Replacement string `json:"replacement"`
}

// NewClient validates configuration and constructs a Client.
func NewClient(cfg ClientConfig) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, errMissingBaseURL
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultTimeout}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		baseURL:     cfg.BaseURL,
		bearerToken: cfg.BearerToken,
		httpClient:  httpClient,
		logger:      logger,
	}, nil
}

// Rewrite submits text with an optional instruction and returns the
// replacement.
func (c *Client) Rewrite(ctx context.Context, text, instruction string) (string, error) {
	if text == "" {
		return "", ErrEmptyText
	}

	requestBody, err := json.Marshal(rewriteRequest{Text: text, Instruction: instruction})
	if err != nil {
		return "", fmt.Errorf("rewrite: encode request: %w", err)
	}

	request, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/rewrite", bytes.NewReader(requestBody))
	if err != nil {
		return "", fmt.Errorf("rewrite: build request: %w", err)
	}
	request.Header.Set("Content-Type", "application/json")
	request.Header.Set("Accept", "application/json")
	if c.bearerToken != "" {
		request.Header.Set("Authorization", "Bearer "+c.bearerToken)
	}

	response, err := c.httpClient.Do(request)
	if err != nil {
		return "", fmt.Errorf("rewrite: request: %w", err)
	}
	defer func() { _ = response.Body.Close() }()

	body, err := io.ReadAll(response.Body)
	if err != nil {
		return "", fmt.Errorf("rewrite: read response: %w", err)
	}
	if response.StatusCode != http.StatusOK {
		c.logger.Warn("rewrite service rejected request",
			zap.Int("status", response.StatusCode))
		return "", fmt.Errorf("rewrite: service returned status %d", response.StatusCode)
	}

	var payload rewriteResponse
	if err := json.Unmarshal(body, &payload); err != nil {
		return "", fmt.Errorf("rewrite: parse response: %w", err)
	}
	if payload.Replacement == "" {
		return "", ErrEmptyReplacement
	}
	return payload.Replacement, nil
}
