// Package deadletter provides sinks for envelopes that exhausted their
// retry budget. Entries are terminal for the primary pipeline and kept
// only for later inspection or replay.
package deadletter

import (
	"context"
	"time"

	"github.com/neurostream-systems/neurostream/internal/model"
)

// Entry is the persisted form of a dead-lettered envelope.
type Entry struct {
	Timestamp time.Time               `json:"timestamp"`
	Reason    string                  `json:"reason"`
	Envelope  *model.DispatchEnvelope `json:"envelope"`
}

// Sink accepts envelopes the dispatcher gave up on. Writes are
// fire-and-forget from the pipeline's perspective; a sink error is
// logged, never retried.
type Sink interface {
	Write(ctx context.Context, env *model.DispatchEnvelope, reason string) error
	Close() error
}

// Discard drops everything. Useful in tests and for deployments that
// accept loss past the retry budget.
type Discard struct{}

func (Discard) Write(ctx context.Context, env *model.DispatchEnvelope, reason string) error {
	return nil
}

func (Discard) Close() error { return nil }
