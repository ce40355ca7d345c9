package model

import "time"

// DispatchEnvelope wraps a validated and anonymized record with
// delivery bookkeeping. It is owned exclusively by the dispatcher and
// never exposed to workers after handoff.
type DispatchEnvelope struct {
	Record          *NeuralRecord `json:"record"`
	AttemptCount    int           `json:"attempt_count"`
	MaxAttempts     int           `json:"max_attempts"`
	FirstEnqueuedAt time.Time     `json:"first_enqueued_at"`
	LastAttemptAt   time.Time     `json:"last_attempt_at,omitempty"`
}
