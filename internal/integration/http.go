package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/lorawan-server/lorawan-join-server/internal/config"
	"github.com/lorawan-server/lorawan-join-server/internal/models"
)

// HTTPIntegration POSTs join events as JSON to an endpoint.
type HTTPIntegration struct {
	endpoint string
	headers  map[string]string
	client   *http.Client
}

// NewHTTPIntegration creates an HTTPIntegration.
func NewHTTPIntegration(conf config.HTTPIntegrationConfig) *HTTPIntegration {
	return &HTTPIntegration{
		endpoint: conf.Endpoint,
		headers:  conf.Headers,
		client:   &http.Client{Timeout: conf.Timeout},
	}
}

type httpJoinEvent struct {
	Type string `json:"type"`
	models.JoinEvent
}

// PublishJoinEvent sends the event. Any status >= 400 is an error.
func (i *HTTPIntegration) PublishJoinEvent(ctx context.Context, event models.JoinEvent) error {
	body, err := json.Marshal(httpJoinEvent{Type: "join", JoinEvent: event})
	if err != nil {
		return fmt.Errorf("marshal join event: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, i.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range i.headers {
		req.Header.Set(k, v)
	}

	resp, err := i.client.Do(req)
	if err != nil {
		eventCounter("http", "error").Inc()
		return fmt.Errorf("post %s: %w", i.endpoint, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 400 {
		eventCounter("http", "error").Inc()
		return fmt.Errorf("post %s: unexpected status %d", i.endpoint, resp.StatusCode)
	}
	eventCounter("http", "ok").Inc()

	log.Debug().
		Str("devEUI", event.DevEUI.String()).
		Str("endpoint", i.endpoint).
		Int("status", resp.StatusCode).
		Msg("Join event forwarded to HTTP")
	return nil
}

// Close is a no-op.
func (i *HTTPIntegration) Close() error {
	return nil
}
