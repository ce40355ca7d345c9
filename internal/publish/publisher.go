// Package publish defines the boundary between the dispatcher and the
// external messaging/storage layer, with NATS and InfluxDB
// implementations.
package publish

import (
	"context"

	"github.com/neurostream-systems/neurostream/internal/model"
)

// Publisher delivers one envelope to the external boundary. A nil
// error is a durable accept; any error is retried by the dispatcher up
// to its attempt budget.
type Publisher interface {
	Publish(ctx context.Context, env *model.DispatchEnvelope) error
	Close() error
}

// Multi fans one envelope out to several publishers, failing on the
// first error so the dispatcher's retry covers all sinks.
type Multi []Publisher

// Publish sends to every sink in order.
func (m Multi) Publish(ctx context.Context, env *model.DispatchEnvelope) error {
	for _, p := range m {
		if err := p.Publish(ctx, env); err != nil {
			return err
		}
	}
	return nil
}

// Close closes all sinks, returning the last error.
func (m Multi) Close() error {
	var last error
	for _, p := range m {
		if err := p.Close(); err != nil {
			last = err
		}
	}
	return last
}
