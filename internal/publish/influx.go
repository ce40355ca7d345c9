package publish

import (
	"context"
	"fmt"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/neurostream-systems/neurostream/internal/model"
)

// InfluxConfig holds time-series store settings.
type InfluxConfig struct {
	URL    string
	Token  string
	Org    string
	Bucket string
}

// InfluxPublisher writes each record's sample vectors as points in the
// time-series store, one point per timestep. This is the write contract
// against the store; the store itself is an external system.
type InfluxPublisher struct {
	client   influxdb2.Client
	writeAPI api.WriteAPIBlocking
}

// NewInfluxPublisher connects to InfluxDB and verifies it is healthy.
func NewInfluxPublisher(ctx context.Context, cfg InfluxConfig) (*InfluxPublisher, error) {
	client := influxdb2.NewClient(cfg.URL, cfg.Token)

	health, err := client.Health(ctx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("influxdb health check: %w", err)
	}
	if health.Status != "pass" {
		client.Close()
		msg := ""
		if health.Message != nil {
			msg = *health.Message
		}
		return nil, fmt.Errorf("influxdb unhealthy: %s", msg)
	}

	return &InfluxPublisher{
		client:   client,
		writeAPI: client.WriteAPIBlocking(cfg.Org, cfg.Bucket),
	}, nil
}

// Publish writes the record. Timestamps are derived from the record's
// start time and sample rate so points land at true acquisition time.
// Point identity (measurement + tags + timestamp) makes retries
// idempotent on the store side.
func (p *InfluxPublisher) Publish(ctx context.Context, env *model.DispatchEnvelope) error {
	if env == nil || env.Record == nil {
		return fmt.Errorf("nil envelope")
	}
	rec := env.Record

	step := time.Duration(float64(time.Second) / rec.SampleRateHz)
	points := make([]*write.Point, 0, len(rec.Samples))
	for i, vec := range rec.Samples {
		fields := make(map[string]interface{}, len(vec))
		for ch, val := range vec {
			fields[fmt.Sprintf("ch_%02d", ch)] = val
		}
		points = append(points, influxdb2.NewPoint(
			"neural_samples",
			map[string]string{
				"session_id":  rec.SessionID,
				"device_id":   rec.DeviceID,
				"source_type": string(rec.SourceType),
			},
			fields,
			rec.TimestampStart.Add(time.Duration(i)*step),
		))
	}

	if err := p.writeAPI.WritePoint(ctx, points...); err != nil {
		return fmt.Errorf("write points: %w", err)
	}
	return nil
}

// Close releases the client.
func (p *InfluxPublisher) Close() error {
	p.client.Close()
	return nil
}
