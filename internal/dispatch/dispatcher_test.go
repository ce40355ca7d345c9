package dispatch

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/neurostream-systems/neurostream/internal/model"
)

// scriptedPublisher fails the first failFirst calls and succeeds after.
type scriptedPublisher struct {
	mu        sync.Mutex
	failFirst int
	calls     int
	attempts  []int
}

func (p *scriptedPublisher) Publish(_ context.Context, env *model.DispatchEnvelope) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	p.attempts = append(p.attempts, env.AttemptCount)
	if p.calls <= p.failFirst {
		return errors.New("broker unavailable")
	}
	return nil
}

func (p *scriptedPublisher) Close() error { return nil }

func (p *scriptedPublisher) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

type captureSink struct {
	mu      sync.Mutex
	reasons []string
	envs    []*model.DispatchEnvelope
}

func (s *captureSink) Write(_ context.Context, env *model.DispatchEnvelope, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reasons = append(s.reasons, reason)
	s.envs = append(s.envs, env)
	return nil
}

func (s *captureSink) Close() error { return nil }

func (s *captureSink) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.envs)
}

func sanitizedRecord(t *testing.T) *model.NeuralRecord {
	t.Helper()
	rec, err := model.NewRecord("session-1", model.SourceConfig{
		DeviceID:     "headset-01",
		SourceType:   model.SourceEEG,
		ChannelCount: 2,
		SampleRateHz: 250,
	}, &model.RawFrame{
		ChannelCount: 2,
		Timestamp:    time.Now().UTC(),
		Samples:      [][]float64{{0.1, 0.2}},
	})
	require.NoError(t, err)
	rec.Validated = true
	rec.Anonymized = true
	return rec
}

func fastConfig() Config {
	return Config{
		BufferCapacity: 16,
		MaxAttempts:    5,
		BackoffBase:    time.Millisecond,
		BackoffCap:     5 * time.Millisecond,
		PublishTimeout: time.Second,
		DrainTimeout:   2 * time.Second,
	}
}

func TestEnqueueRejectsUnsanitized(t *testing.T) {
	d := New(fastConfig(), &scriptedPublisher{}, nil, nil)

	rec := sanitizedRecord(t)
	rec.Anonymized = false
	assert.ErrorIs(t, d.Enqueue(rec), ErrUnsanitized)

	rec = sanitizedRecord(t)
	rec.Validated = false
	assert.ErrorIs(t, d.Enqueue(rec), ErrUnsanitized)

	assert.ErrorIs(t, d.Enqueue(nil), ErrUnsanitized)
}

func TestEnqueueBackpressure(t *testing.T) {
	cfg := fastConfig()
	cfg.BufferCapacity = 1
	// Not started, so the queue is never drained.
	d := New(cfg, &scriptedPublisher{}, nil, nil)

	require.NoError(t, d.Enqueue(sanitizedRecord(t)))
	err := d.Enqueue(sanitizedRecord(t))
	assert.ErrorIs(t, err, ErrBackpressure)

	stats := d.Stats()
	assert.Equal(t, uint64(1), stats.Enqueued)
	assert.Equal(t, uint64(1), stats.BackpressureHits)
	assert.Equal(t, 1, stats.QueueDepth)
}

func TestRetryThenDeliver(t *testing.T) {
	pub := &scriptedPublisher{failFirst: 4}
	sink := &captureSink{}
	d := New(fastConfig(), pub, sink, nil)
	d.Start()

	require.NoError(t, d.Enqueue(sanitizedRecord(t)))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, d.Flush(ctx))

	// Four failures, then success on the fifth and final attempt.
	assert.Equal(t, 5, pub.callCount())
	assert.Equal(t, []int{1, 2, 3, 4, 5}, pub.attempts)
	assert.Zero(t, sink.len())

	stats := d.Stats()
	assert.Equal(t, uint64(1), stats.Delivered)
	assert.Equal(t, uint64(4), stats.Retried)
	assert.Equal(t, uint64(0), stats.DeadLettered)
}

func TestDeadLetterAfterMaxAttempts(t *testing.T) {
	pub := &scriptedPublisher{failFirst: 1000}
	sink := &captureSink{}
	d := New(fastConfig(), pub, sink, nil)
	d.Start()

	require.NoError(t, d.Enqueue(sanitizedRecord(t)))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, d.Flush(ctx))

	// Exactly MaxAttempts publish calls, then exactly one dead letter.
	assert.Equal(t, 5, pub.callCount())
	require.Equal(t, 1, sink.len())
	assert.Equal(t, 5, sink.envs[0].AttemptCount)
	assert.Contains(t, sink.reasons[0], "after 5 attempts")

	stats := d.Stats()
	assert.Equal(t, uint64(0), stats.Delivered)
	assert.Equal(t, uint64(1), stats.DeadLettered)
}

func TestBackoffDelay(t *testing.T) {
	d := New(DefaultConfig(), &scriptedPublisher{}, nil, nil)

	cases := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 500 * time.Millisecond},
		{2, time.Second},
		{3, 2 * time.Second},
		{4, 4 * time.Second},
		{5, 8 * time.Second},
		{6, 10 * time.Second},
		{7, 10 * time.Second},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, d.backoffDelay(tc.attempt), "attempt %d", tc.attempt)
	}
}

func TestStopDeadLettersPendingRetries(t *testing.T) {
	pub := &scriptedPublisher{failFirst: 1000}
	sink := &captureSink{}
	cfg := fastConfig()
	cfg.BackoffBase = time.Minute // retry never fires before Stop
	cfg.BackoffCap = time.Minute
	cfg.DrainTimeout = 20 * time.Millisecond
	d := New(cfg, pub, sink, nil)
	d.Start()

	require.NoError(t, d.Enqueue(sanitizedRecord(t)))
	require.Eventually(t, func() bool { return pub.callCount() == 1 },
		time.Second, time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	err := d.Stop(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	require.Equal(t, 1, sink.len())
	assert.Equal(t, "shutdown before retry", sink.reasons[0])
}

func TestEnqueueAfterStop(t *testing.T) {
	d := New(fastConfig(), &scriptedPublisher{}, nil, nil)
	d.Start()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, d.Stop(ctx))

	assert.ErrorIs(t, d.Enqueue(sanitizedRecord(t)), ErrStopped)
}
