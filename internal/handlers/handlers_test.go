package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/neurostream-systems/neurostream/internal/anonymizer"
	"github.com/neurostream-systems/neurostream/internal/coordinator"
	"github.com/neurostream-systems/neurostream/internal/dispatch"
	"github.com/neurostream-systems/neurostream/internal/model"
	"github.com/neurostream-systems/neurostream/internal/source"
	"github.com/neurostream-systems/neurostream/internal/validator"
	"github.com/neurostream-systems/neurostream/internal/worker"
)

type okPublisher struct {
	mu    sync.Mutex
	count int
}

func (p *okPublisher) Publish(context.Context, *model.DispatchEnvelope) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.count++
	return nil
}

func (p *okPublisher) Close() error { return nil }

func newTestHandler(t *testing.T) (*IngestHandler, *coordinator.Coordinator) {
	t.Helper()
	anon, err := anonymizer.New(anonymizer.Config{Salt: "test-salt"})
	require.NoError(t, err)
	d := dispatch.New(dispatch.Config{
		BufferCapacity: 256,
		MaxAttempts:    5,
		BackoffBase:    time.Millisecond,
		BackoffCap:     5 * time.Millisecond,
		PublishTimeout: time.Second,
		DrainTimeout:   time.Second,
	}, &okPublisher{}, nil, nil)
	d.Start()

	pipe := &worker.Pipeline{
		Validator:  validator.New(nil),
		Anonymizer: anon,
		Dispatcher: d,
		Cooldown:   5 * time.Millisecond,
	}
	registry := source.NewRegistry()
	registry.Register("synthetic", source.SyntheticFactory(source.SyntheticOptions{
		FrameSamples: 4,
	}))
	coord := coordinator.New(pipe, d, registry, worker.Config{
		PollTimeout:          5 * time.Millisecond,
		ReconnectBase:        time.Millisecond,
		ReconnectCap:         5 * time.Millisecond,
		BackpressureCooldown: 5 * time.Millisecond,
	}, nil)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = coord.Shutdown(ctx)
	})
	return NewIngestHandler(coord, nil), coord
}

func startBody() string {
	return `{
		"adapter": "synthetic",
		"device_id": "headset-01",
		"source_type": "eeg",
		"channel_count": 4,
		"sample_rate_hz": 250
	}`
}

func TestSourcesStartAndList(t *testing.T) {
	h, _ := newTestHandler(t)

	rec := httptest.NewRecorder()
	h.Sources(rec, httptest.NewRequest(http.MethodPost, "/api/v1/sources", strings.NewReader(startBody())))
	require.Equal(t, http.StatusCreated, rec.Code)

	var status worker.Status
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Equal(t, "headset-01", status.DeviceID)
	assert.NotEmpty(t, status.SessionID)

	rec = httptest.NewRecorder()
	h.Sources(rec, httptest.NewRequest(http.MethodGet, "/api/v1/sources", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var health map[string]worker.Status
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &health))
	assert.Contains(t, health, "headset-01")
}

func TestSourcesDuplicateConflict(t *testing.T) {
	h, _ := newTestHandler(t)

	rec := httptest.NewRecorder()
	h.Sources(rec, httptest.NewRequest(http.MethodPost, "/api/v1/sources", strings.NewReader(startBody())))
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = httptest.NewRecorder()
	h.Sources(rec, httptest.NewRequest(http.MethodPost, "/api/v1/sources", strings.NewReader(startBody())))
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Contains(t, rec.Body.String(), "already_running")
}

func TestSourcesBadRequests(t *testing.T) {
	h, _ := newTestHandler(t)

	cases := []struct {
		name string
		body string
	}{
		{"invalid json", `{`},
		{"missing adapter", `{"device_id":"x","source_type":"eeg","channel_count":1,"sample_rate_hz":100}`},
		{"unknown source type", `{"adapter":"synthetic","device_id":"x","source_type":"mri","channel_count":1,"sample_rate_hz":100}`},
		{"unknown adapter", `{"adapter":"lsl","device_id":"x","source_type":"eeg","channel_count":1,"sample_rate_hz":100}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			h.Sources(rec, httptest.NewRequest(http.MethodPost, "/api/v1/sources", strings.NewReader(tc.body)))
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
}

func TestSourceDelete(t *testing.T) {
	h, _ := newTestHandler(t)

	rec := httptest.NewRecorder()
	h.Sources(rec, httptest.NewRequest(http.MethodPost, "/api/v1/sources", strings.NewReader(startBody())))
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = httptest.NewRecorder()
	h.Source(rec, httptest.NewRequest(http.MethodDelete, "/api/v1/sources/headset-01", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"stopped"`)

	rec = httptest.NewRecorder()
	h.Source(rec, httptest.NewRequest(http.MethodDelete, "/api/v1/sources/headset-01", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestBatch(t *testing.T) {
	h, _ := newTestHandler(t)

	csv := strings.Join([]string{
		"timestamp,ch1,ch2",
		"2026-03-01T10:00:00Z,0.1,-0.2",
		"2026-03-01T10:00:00.004Z,0.3,0.4",
		"not-a-time,0.1,0.2",
	}, "\n")

	url := "/api/v1/batch?device_id=recording-01&source_type=eeg&channel_count=2&sample_rate_hz=250"
	rec := httptest.NewRecorder()
	h.Batch(rec, httptest.NewRequest(http.MethodPost, url, strings.NewReader(csv)))
	require.Equal(t, http.StatusOK, rec.Code)

	var res coordinator.BatchResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.Equal(t, coordinator.BatchResult{Accepted: 2, Rejected: 1, DeadLettered: 0}, res)
}

func TestBatchBadQuery(t *testing.T) {
	h, _ := newTestHandler(t)

	rec := httptest.NewRecorder()
	h.Batch(rec, httptest.NewRequest(http.MethodPost, "/api/v1/batch?source_type=eeg&channel_count=two&sample_rate_hz=250", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "channel_count")
}

func TestHealthEndpoints(t *testing.T) {
	h, _ := newTestHandler(t)

	rec := httptest.NewRecorder()
	h.Health(rec, httptest.NewRequest(http.MethodGet, "/api/v1/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"dispatcher"`)

	rec = httptest.NewRecorder()
	h.Healthz(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestMethodNotAllowed(t *testing.T) {
	h, _ := newTestHandler(t)

	rec := httptest.NewRecorder()
	h.Sources(rec, httptest.NewRequest(http.MethodPut, "/api/v1/sources", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	assert.Equal(t, "POST, GET", rec.Header().Get("Allow"))

	rec = httptest.NewRecorder()
	h.Batch(rec, httptest.NewRequest(http.MethodGet, "/api/v1/batch", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}
