package geolocation

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/localdirectory/telemetry-core/internal/domain/providers"
	"github.com/localdirectory/telemetry-core/internal/infrastructure/observability"
	apperrors "github.com/localdirectory/telemetry-core/pkg/errors"
	"github.com/localdirectory/telemetry-core/pkg/retry"
)

const defaultHTTPTimeout = 8 * time.Second

// HTTPProvider implements the LocationProvider against a local positioning daemon.
//
//	GET {baseURL}/permission -> {"status": "granted"}
//	GET {baseURL}/position   -> {"latitude": 41.3, "longitude": 69.2, "accuracy": 12.5}
type HTTPProvider struct {
	baseURL     string
	httpClient  *http.Client
	retryConfig retry.Config
}

type permissionResponse struct {
	Status string `json:"status"`
}

type positionResponse struct {
	Latitude  *float64 `json:"latitude"`
	Longitude *float64 `json:"longitude"`
	Accuracy  *float64 `json:"accuracy,omitempty"`
}

// NewHTTPProvider creates a new HTTP location provider
func NewHTTPProvider(baseURL string, attempts int) *HTTPProvider {
	return NewHTTPProviderWithOptions(baseURL, attempts, nil)
}

// NewHTTPProviderWithOptions allows overriding the HTTP client (used for tests)
func NewHTTPProviderWithOptions(baseURL string, attempts int, httpClient *http.Client) *HTTPProvider {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultHTTPTimeout}
	}
	cfg := retry.DefaultConfig()
	if attempts > 0 {
		cfg.MaxAttempts = attempts
	}
	cfg.Retriable = func(err error) bool {
		return !apperrors.IsType(err, apperrors.ErrorTypePermission) && !apperrors.IsType(err, apperrors.ErrorTypeValidation)
	}
	return &HTTPProvider{
		baseURL:     strings.TrimRight(baseURL, "/"),
		httpClient:  httpClient,
		retryConfig: cfg,
	}
}

// RequestPermission asks the daemon for the current permission state
func (p *HTTPProvider) RequestPermission(ctx context.Context) (providers.PermissionStatus, error) {
	var resp permissionResponse
	if err := p.getJSON(ctx, "/permission", &resp); err != nil {
		return providers.PermissionUndetermined, err
	}

	switch providers.PermissionStatus(resp.Status) {
	case providers.PermissionGranted:
		return providers.PermissionGranted, nil
	case providers.PermissionDenied:
		return providers.PermissionDenied, nil
	default:
		return providers.PermissionUndetermined, nil
	}
}

// CurrentPosition requests a fix, retrying transient daemon failures
func (p *HTTPProvider) CurrentPosition(ctx context.Context) (*providers.Position, error) {
	var position *providers.Position
	logger := observability.LoggerFromContext(ctx)

	err := retry.DoWithLog(ctx, p.retryConfig, "location position", func(ctx context.Context) error {
		var resp positionResponse
		if err := p.getJSON(ctx, "/position", &resp); err != nil {
			return err
		}
		if resp.Latitude == nil || resp.Longitude == nil {
			return apperrors.NewValidationError("position response missing coordinates")
		}
		position = &providers.Position{
			Latitude:  *resp.Latitude,
			Longitude: *resp.Longitude,
			Accuracy:  resp.Accuracy,
		}
		return nil
	}, func(attempt int, err error, nextDelay time.Duration) {
		logger.Warn().Err(err).Int("attempt", attempt).Dur("next_delay", nextDelay).Msg("Position request failed, retrying")
	})
	if err != nil {
		return nil, err
	}
	return position, nil
}

func (p *HTTPProvider) getJSON(ctx context.Context, path string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return apperrors.NewTransportError("location daemon unreachable", 0, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return apperrors.NewTransportError("failed to read location daemon response", resp.StatusCode, err)
	}

	switch {
	case resp.StatusCode == http.StatusForbidden:
		return apperrors.NewPermissionError("location permission denied")
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return apperrors.NewTransportError(fmt.Sprintf("location daemon error: %s", strings.TrimSpace(string(body))), resp.StatusCode, nil)
	}

	if err := json.Unmarshal(body, out); err != nil {
		return apperrors.NewValidationError(fmt.Sprintf("invalid location daemon response: %v", err))
	}
	return nil
}
