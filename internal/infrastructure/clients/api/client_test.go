package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/localdirectory/telemetry-core/internal/domain/entities"
	"github.com/localdirectory/telemetry-core/pkg/config"
	apperrors "github.com/localdirectory/telemetry-core/pkg/errors"
)

type staticToken string

func (s staticToken) Token() string { return string(s) }

func newTestClient(server *httptest.Server, token TokenSource) *Client {
	return &Client{
		baseURL:    server.URL,
		trackPath:  "/api/interactions/track/",
		batchPath:  "/api/interactions/batch-track/",
		tokens:     token,
		httpClient: server.Client(),
	}
}

func TestClient_SendInteraction(t *testing.T) {
	var got map[string]interface{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/interactions/track/", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.Equal(t, "application/json", r.Header.Get("Accept"))
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusCreated)
	}))
	defer server.Close()

	event := entities.NewInteractionEvent(42, entities.ActionPhoneCall, map[string]interface{}{"session_id": "s1"}, time.UnixMilli(1700000000000))
	payload := entities.NewInteractionPayload(event, entities.Coordinates{Latitude: 41.3, Longitude: 69.2}, "mobile")

	err := newTestClient(server, staticToken("secret")).SendInteraction(context.Background(), payload)
	require.NoError(t, err)

	assert.Equal(t, float64(42), got["business_id"])
	assert.Equal(t, "phone_call", got["action"])
	assert.Equal(t, float64(1700000000000), got["timestamp"])
	assert.Equal(t, 41.3, got["user_latitude"])
	assert.Equal(t, 69.2, got["user_longitude"])
	assert.Equal(t, "mobile", got["source"])
	assert.Equal(t, map[string]interface{}{"session_id": "s1"}, got["context"])
}

func TestClient_SendBatch(t *testing.T) {
	var got entities.BatchPayload
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/interactions/batch-track/", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	now := time.UnixMilli(1700000000000)
	payload := entities.BatchPayload{
		UserLatitude:  41.3,
		UserLongitude: 69.2,
		Source:        "mobile",
		Interactions: []entities.InteractionEvent{
			entities.NewInteractionEvent(1, entities.ActionView, nil, now),
			entities.NewInteractionEvent(2, entities.ActionClick, nil, now.Add(time.Second)),
		},
	}

	require.NoError(t, newTestClient(server, staticToken("secret")).SendBatch(context.Background(), payload))
	require.Len(t, got.Interactions, 2)
	assert.Equal(t, int64(1), got.Interactions[0].BusinessID)
	assert.Equal(t, int64(2), got.Interactions[1].BusinessID)
	assert.Equal(t, "mobile", got.Source)
}

func TestClient_OmitsAuthorizationWithoutToken(t *testing.T) {
	tests := []struct {
		name   string
		tokens TokenSource
	}{
		{name: "nil source", tokens: nil},
		{name: "empty token", tokens: staticToken("")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				_, present := r.Header["Authorization"]
				assert.False(t, present)
				w.WriteHeader(http.StatusOK)
			}))
			defer server.Close()

			err := newTestClient(server, tt.tokens).SendBatch(context.Background(), entities.BatchPayload{})
			assert.NoError(t, err)
		})
	}
}

func TestClient_NonSuccessStatus(t *testing.T) {
	tests := []struct {
		name        string
		statusCode  int
		clientError bool
	}{
		{name: "bad request", statusCode: http.StatusBadRequest, clientError: true},
		{name: "unauthorized", statusCode: http.StatusUnauthorized, clientError: false},
		{name: "rate limited", statusCode: http.StatusTooManyRequests, clientError: false},
		{name: "server error", statusCode: http.StatusInternalServerError, clientError: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.statusCode)
				_, _ = w.Write([]byte(`{"detail":"nope"}`))
			}))
			defer server.Close()

			err := newTestClient(server, nil).SendBatch(context.Background(), entities.BatchPayload{})
			require.Error(t, err)

			var appErr *apperrors.AppError
			require.ErrorAs(t, err, &appErr)
			assert.Equal(t, apperrors.ErrorTypeTransport, appErr.Type)
			assert.Equal(t, tt.statusCode, appErr.StatusCode)
			assert.Equal(t, tt.clientError, apperrors.IsClientError(err))
		})
	}
}

func TestClient_TruncatedErrorBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", "100")
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte(`{"detail":`))
	}))
	defer server.Close()

	err := newTestClient(server, nil).SendBatch(context.Background(), entities.BatchPayload{})
	require.Error(t, err)

	var appErr *apperrors.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, apperrors.ErrorTypeTransport, appErr.Type)
	assert.Equal(t, http.StatusBadGateway, appErr.StatusCode)
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
}

func TestClient_NetworkError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	client := newTestClient(server, nil)
	server.Close()

	err := client.SendBatch(context.Background(), entities.BatchPayload{})
	require.Error(t, err)

	var appErr *apperrors.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, apperrors.ErrorTypeTransport, appErr.Type)
	assert.Zero(t, appErr.StatusCode)
}

func TestNewClient_FromConfig(t *testing.T) {
	cfg := &config.APIConfig{
		BaseURL:   "http://api.local/",
		TrackPath: "/t/",
		BatchPath: "/b/",
		Timeout:   3 * time.Second,
	}
	c := NewClient(cfg, nil)
	assert.Equal(t, "http://api.local", c.baseURL)
	assert.Equal(t, "/t/", c.trackPath)
	assert.Equal(t, "/b/", c.batchPath)
	assert.Equal(t, 3*time.Second, c.httpClient.Timeout)
}
