package deadletter

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/neurostream-systems/neurostream/internal/model"
)

func testEnvelope(t *testing.T, attempts int) *model.DispatchEnvelope {
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
	return &model.DispatchEnvelope{
		Record:          rec,
		AttemptCount:    attempts,
		MaxAttempts:     5,
		FirstEnqueuedAt: time.Now().UTC(),
		LastAttemptAt:   time.Now().UTC(),
	}
}

func TestFileSink(t *testing.T) {
	dir := t.TempDir()
	sink, err := NewFileSink(dir, nil)
	require.NoError(t, err)
	defer sink.Close()

	ctx := context.Background()
	env := testEnvelope(t, 5)
	require.NoError(t, sink.Write(ctx, env, "publish failed after 5 attempts"))
	require.NoError(t, sink.Write(ctx, testEnvelope(t, 3), "shutdown before retry"))

	entries, err := sink.List(ctx, 0)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "publish failed after 5 attempts", entries[0].Reason)
	assert.Equal(t, env.Record.ID, entries[0].Envelope.Record.ID)
	assert.Equal(t, 5, entries[0].Envelope.AttemptCount)

	limited, err := sink.List(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)

	stats := sink.Stats()
	assert.Equal(t, "file", stats["backend"])
	assert.Equal(t, uint64(2), stats["written"])
	assert.Equal(t, 2, stats["pending_files"])
}

func TestRedisSink(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	sink := NewRedisSinkFromClient(client, "", 0)
	defer sink.Close()

	ctx := context.Background()
	first := testEnvelope(t, 5)
	second := testEnvelope(t, 5)
	require.NoError(t, sink.Write(ctx, first, "publish failed after 5 attempts"))
	require.NoError(t, sink.Write(ctx, second, "discarded at shutdown"))

	n, err := sink.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	// Newest first.
	entries, err := sink.List(ctx, 10)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "discarded at shutdown", entries[0].Reason)
	assert.Equal(t, second.Record.ID, entries[0].Envelope.Record.ID)
	assert.Equal(t, first.Record.ID, entries[1].Envelope.Record.ID)
}

func TestRedisSinkTrimsToCap(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	sink := NewRedisSinkFromClient(client, "test:deadletter", 3)
	defer sink.Close()

	ctx := context.Background()
	for i := 0; i < 5; i++ {
		require.NoError(t, sink.Write(ctx, testEnvelope(t, 5), "overflow test"))
	}

	n, err := sink.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
}

func TestNewRedisSinkBadURL(t *testing.T) {
	_, err := NewRedisSink("not-a-url", "", 0)
	assert.Error(t, err)
}

func TestDiscard(t *testing.T) {
	var sink Sink = Discard{}
	assert.NoError(t, sink.Write(context.Background(), testEnvelope(t, 1), "whatever"))
}
