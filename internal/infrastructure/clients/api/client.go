package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/localdirectory/telemetry-core/internal/domain/entities"
	"github.com/localdirectory/telemetry-core/internal/domain/providers"
	"github.com/localdirectory/telemetry-core/pkg/config"
	apperrors "github.com/localdirectory/telemetry-core/pkg/errors"
)

const maxErrorBody = 512

// TokenSource supplies the bearer token for each request. An empty token omits the
// Authorization header.
type TokenSource interface {
	Token() string
}

// Client posts interactions to the tracking API
type Client struct {
	baseURL    string
	trackPath  string
	batchPath  string
	tokens     TokenSource
	httpClient *http.Client
}

// NewClient creates a tracking API client from config
func NewClient(cfg *config.APIConfig, tokens TokenSource) *Client {
	return &Client{
		baseURL:   strings.TrimRight(cfg.BaseURL, "/"),
		trackPath: cfg.TrackPath,
		batchPath: cfg.BatchPath,
		tokens:    tokens,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
	}
}

var _ providers.InteractionSender = (*Client)(nil)

// SendInteraction posts a single interaction
func (c *Client) SendInteraction(ctx context.Context, payload entities.InteractionPayload) error {
	return c.post(ctx, c.trackPath, payload)
}

// SendBatch posts a batch of interactions
func (c *Client) SendBatch(ctx context.Context, payload entities.BatchPayload) error {
	return c.post(ctx, c.batchPath, payload)
}

func (c *Client) post(ctx context.Context, path string, payload interface{}) error {
	jsonData, err := json.Marshal(payload)
	if err != nil {
		return apperrors.NewValidationError(fmt.Sprintf("failed to marshal payload: %v", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(jsonData))
	if err != nil {
		return apperrors.NewInternalError("failed to create request", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.tokens != nil {
		if token := c.tokens.Token(); token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return apperrors.NewTransportError(fmt.Sprintf("POST %s failed", path), 0, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	if err != nil {
		return apperrors.NewTransportError(fmt.Sprintf("POST %s rejected, failed to read response", path), resp.StatusCode, err)
	}
	return apperrors.NewTransportError(
		fmt.Sprintf("POST %s rejected after %s: %s", path, time.Since(start).Round(time.Millisecond), strings.TrimSpace(string(body))),
		resp.StatusCode,
		nil,
	)
}
