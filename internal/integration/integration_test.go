package integration

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lorawan-server/lorawan-join-server/internal/config"
	"github.com/lorawan-server/lorawan-join-server/internal/models"
	"github.com/lorawan-server/lorawan-join-server/pkg/lorawan"
)

type testIntegration struct {
	events atomic.Int32
	closed bool
	err    error
}

func (i *testIntegration) PublishJoinEvent(ctx context.Context, event models.JoinEvent) error {
	i.events.Add(1)
	return i.err
}

func (i *testIntegration) Close() error {
	i.closed = true
	return nil
}

func testEvent() models.JoinEvent {
	return models.JoinEvent{
		DevEUI:        lorawan.EUI64{1, 2, 3, 4, 5, 6, 7, 8},
		DevAddr:       lorawan.DevAddr{0x26, 1, 2, 3},
		Kind:          "join",
		FrequencyPlan: "EU868",
		Timestamp:     time.Now().UTC(),
	}
}

func TestForwarder(t *testing.T) {
	a := &testIntegration{}
	b := &testIntegration{err: errors.New("broker down")}

	f := NewForwarder(a, nil, b)
	assert.Equal(t, 2, f.Len())

	err := f.PublishJoinEvent(context.Background(), testEvent())
	assert.EqualError(t, err, "broker down")
	assert.EqualValues(t, 1, a.events.Load())
	assert.EqualValues(t, 1, b.events.Load())

	require.NoError(t, f.Close())
	assert.True(t, a.closed)
	assert.True(t, b.closed)
}

func TestHTTPIntegration(t *testing.T) {
	var got map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.Equal(t, "secret", r.Header.Get("X-Token"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	i := NewHTTPIntegration(config.HTTPIntegrationConfig{
		Endpoint: srv.URL,
		Headers:  map[string]string{"X-Token": "secret"},
		Timeout:  time.Second,
	})
	require.NoError(t, i.PublishJoinEvent(context.Background(), testEvent()))

	assert.Equal(t, "join", got["type"])
	assert.Equal(t, "0102030405060708", got["devEUI"])
	assert.Equal(t, "EU868", got["frequencyPlan"])
}

func TestHTTPIntegrationErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	i := NewHTTPIntegration(config.HTTPIntegrationConfig{Endpoint: srv.URL, Timeout: time.Second})
	err := i.PublishJoinEvent(context.Background(), testEvent())
	assert.ErrorContains(t, err, "unexpected status 502")
}

func TestHTTPIntegrationContextCanceled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	i := NewHTTPIntegration(config.HTTPIntegrationConfig{Endpoint: srv.URL, Timeout: time.Second})
	assert.ErrorIs(t, i.PublishJoinEvent(ctx, testEvent()), context.Canceled)
}
