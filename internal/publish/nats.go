package publish

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/neurostream-systems/neurostream/internal/model"
)

// NATSConfig holds connection settings for the record bus.
type NATSConfig struct {
	// URL is the NATS server URL (e.g., "nats://localhost:4222").
	URL string

	// Name identifies this connection on the server.
	Name string

	// MaxReconnects caps reconnection attempts; -1 means infinite.
	MaxReconnects int

	// ReconnectWait is the pause between reconnection attempts.
	ReconnectWait time.Duration

	// Timeout bounds the initial connect.
	Timeout time.Duration
}

// DefaultNATSConfig returns sensible defaults.
func DefaultNATSConfig() NATSConfig {
	return NATSConfig{
		URL:           nats.DefaultURL,
		Name:          "neurostream-ingest",
		MaxReconnects: -1,
		ReconnectWait: 2 * time.Second,
		Timeout:       5 * time.Second,
	}
}

// NATSPublisher publishes anonymized records to per-source-type
// subjects. Downstream consumers key on session_id + timestamp_start,
// so redelivery after a dispatcher retry is safe.
type NATSPublisher struct {
	conn *nats.Conn
}

// NewNATSPublisher connects to the record bus.
func NewNATSPublisher(cfg NATSConfig) (*NATSPublisher, error) {
	opts := []nats.Option{
		nats.Name(cfg.Name),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.Timeout(cfg.Timeout),
	}

	conn, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}
	return &NATSPublisher{conn: conn}, nil
}

// Publish sends the envelope's record as JSON on its source-type
// subject, with delivery bookkeeping carried in headers.
func (p *NATSPublisher) Publish(ctx context.Context, env *model.DispatchEnvelope) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if env == nil || env.Record == nil {
		return fmt.Errorf("nil envelope")
	}

	data, err := json.Marshal(env.Record)
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}

	msg := &nats.Msg{
		Subject: RecordSubject(env.Record.SourceType),
		Data:    data,
		Header: nats.Header{
			"Neurostream-Record-Id": []string{env.Record.ID},
			"Neurostream-Attempt":   []string{fmt.Sprintf("%d", env.AttemptCount)},
		},
	}
	return p.conn.PublishMsg(msg)
}

// IsConnected reports broker connectivity for health checks.
func (p *NATSPublisher) IsConnected() bool {
	return p.conn.IsConnected()
}

// Close drains the connection, letting in-flight publishes finish.
func (p *NATSPublisher) Close() error {
	return p.conn.Drain()
}
