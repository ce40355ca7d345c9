// Package dispatch decouples ingestion rate from the publish rate of
// the external messaging boundary, providing a bounded buffer, bounded
// retry with exponential backoff, and dead-lettering.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/neurostream-systems/neurostream/internal/deadletter"
	"github.com/neurostream-systems/neurostream/internal/logging"
	"github.com/neurostream-systems/neurostream/internal/metrics"
	"github.com/neurostream-systems/neurostream/internal/model"
	"github.com/neurostream-systems/neurostream/internal/publish"
)

// ErrBackpressure is returned by Enqueue when the buffer is at
// capacity. The caller must cool down and retry the same record; the
// dispatcher never drops it silently.
var ErrBackpressure = errors.New("dispatch buffer full")

// ErrStopped is returned by Enqueue after shutdown began.
var ErrStopped = errors.New("dispatcher stopped")

// ErrUnsanitized is returned for records that have not passed both the
// validator and the anonymizer.
var ErrUnsanitized = errors.New("record must be validated and anonymized before dispatch")

// Config tunes the dispatcher.
type Config struct {
	// BufferCapacity bounds the queue; size for ~2s of peak throughput.
	BufferCapacity int

	// MaxAttempts bounds publish attempts per envelope before
	// dead-lettering.
	MaxAttempts int

	// BackoffBase and BackoffCap shape the retry delay curve.
	BackoffBase time.Duration
	BackoffCap  time.Duration

	// PublishTimeout bounds one publish call.
	PublishTimeout time.Duration

	// DrainTimeout bounds the shutdown drain before leftovers go to
	// the dead-letter sink.
	DrainTimeout time.Duration
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	return Config{
		BufferCapacity: 4096,
		MaxAttempts:    5,
		BackoffBase:    500 * time.Millisecond,
		BackoffCap:     10 * time.Second,
		PublishTimeout: 10 * time.Second,
		DrainTimeout:   5 * time.Second,
	}
}

// Stats is a point-in-time snapshot of dispatcher counters.
type Stats struct {
	Enqueued         uint64 `json:"enqueued"`
	Delivered        uint64 `json:"delivered"`
	Retried          uint64 `json:"retried"`
	DeadLettered     uint64 `json:"dead_lettered"`
	BackpressureHits uint64 `json:"backpressure_hits"`
	QueueDepth       int    `json:"queue_depth"`
	QueueCapacity    int    `json:"queue_capacity"`
}

// Dispatcher drains a bounded buffer of envelopes into the publish
// boundary. One background goroutine performs attempts; envelopes in
// backoff wait on their own timers and re-enter through the retry
// channel, so retries from different records may interleave.
type Dispatcher struct {
	cfg  Config
	pub  publish.Publisher
	sink deadletter.Sink
	log  *logging.Logger

	queue   chan *model.DispatchEnvelope
	retries chan *model.DispatchEnvelope
	stopCh  chan struct{}
	doneCh  chan struct{}
	stopped atomic.Bool

	inflight       atomic.Int64
	pendingRetries atomic.Int64

	enqueued         atomic.Uint64
	delivered        atomic.Uint64
	retried          atomic.Uint64
	deadLettered     atomic.Uint64
	backpressureHits atomic.Uint64
}

// New creates a dispatcher. Call Start to begin draining.
func New(cfg Config, pub publish.Publisher, sink deadletter.Sink, log *logging.Logger) *Dispatcher {
	if cfg.BufferCapacity < 1 {
		cfg.BufferCapacity = DefaultConfig().BufferCapacity
	}
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = DefaultConfig().MaxAttempts
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = DefaultConfig().BackoffBase
	}
	if cfg.BackoffCap < cfg.BackoffBase {
		cfg.BackoffCap = DefaultConfig().BackoffCap
	}
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = DefaultConfig().PublishTimeout
	}
	if cfg.DrainTimeout <= 0 {
		cfg.DrainTimeout = DefaultConfig().DrainTimeout
	}
	if sink == nil {
		sink = deadletter.Discard{}
	}
	if log == nil {
		log = logging.Default()
	}

	metrics.QueueCapacity.Set(float64(cfg.BufferCapacity))

	return &Dispatcher{
		cfg:     cfg,
		pub:     pub,
		sink:    sink,
		log:     log,
		queue:   make(chan *model.DispatchEnvelope, cfg.BufferCapacity),
		retries: make(chan *model.DispatchEnvelope, cfg.BufferCapacity),
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
	}
}

// Start launches the drain goroutine.
func (d *Dispatcher) Start() {
	go d.run()
}

// Enqueue admits one sanitized record into the buffer. It never
// blocks: at capacity it returns ErrBackpressure and the caller keeps
// the record in its in-flight slot.
func (d *Dispatcher) Enqueue(rec *model.NeuralRecord) error {
	if d.stopped.Load() {
		return ErrStopped
	}
	if rec == nil || !rec.Validated || !rec.Anonymized {
		return ErrUnsanitized
	}

	env := &model.DispatchEnvelope{
		Record:          rec,
		MaxAttempts:     d.cfg.MaxAttempts,
		FirstEnqueuedAt: time.Now().UTC(),
	}

	select {
	case d.queue <- env:
		d.enqueued.Add(1)
		metrics.QueueDepth.Set(float64(len(d.queue)))
		return nil
	default:
		d.backpressureHits.Add(1)
		metrics.BackpressureTotal.Inc()
		return ErrBackpressure
	}
}

func (d *Dispatcher) run() {
	defer close(d.doneCh)
	for {
		select {
		case env := <-d.retries:
			d.attempt(env)
		case env := <-d.queue:
			metrics.QueueDepth.Set(float64(len(d.queue)))
			d.attempt(env)
		case <-d.stopCh:
			return
		}
	}
}

func (d *Dispatcher) attempt(env *model.DispatchEnvelope) {
	d.inflight.Add(1)
	defer d.inflight.Add(-1)

	env.AttemptCount++
	env.LastAttemptAt = time.Now().UTC()
	metrics.PublishAttemptsTotal.Inc()

	ctx, cancel := context.WithTimeout(context.Background(), d.cfg.PublishTimeout)
	start := time.Now()
	err := d.pub.Publish(ctx, env)
	cancel()
	metrics.PublishDuration.Observe(time.Since(start).Seconds())

	if err == nil {
		d.delivered.Add(1)
		return
	}

	metrics.PublishFailuresTotal.Inc()

	if env.AttemptCount >= env.MaxAttempts {
		d.toDeadLetter(env, fmt.Sprintf("publish failed after %d attempts: %v", env.AttemptCount, err))
		return
	}

	delay := d.backoffDelay(env.AttemptCount)
	d.retried.Add(1)
	d.log.Warn("publish failed, scheduling retry",
		"record_id", env.Record.ID,
		"attempt", env.AttemptCount,
		"retry_in", delay.String(),
		"error", err)
	d.scheduleRetry(env, delay)
}

// backoffDelay doubles from the base per completed attempt, capped.
func (d *Dispatcher) backoffDelay(attempt int) time.Duration {
	delay := d.cfg.BackoffBase
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= d.cfg.BackoffCap {
			return d.cfg.BackoffCap
		}
	}
	if delay > d.cfg.BackoffCap {
		delay = d.cfg.BackoffCap
	}
	return delay
}

func (d *Dispatcher) scheduleRetry(env *model.DispatchEnvelope, delay time.Duration) {
	d.pendingRetries.Add(1)
	go func() {
		defer d.pendingRetries.Add(-1)
		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-timer.C:
			select {
			case d.retries <- env:
			case <-d.stopCh:
				d.toDeadLetter(env, "shutdown before retry")
			}
		case <-d.stopCh:
			d.toDeadLetter(env, "shutdown before retry")
		}
	}()
}

func (d *Dispatcher) toDeadLetter(env *model.DispatchEnvelope, reason string) {
	d.deadLettered.Add(1)
	metrics.DeadLettersTotal.Inc()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := d.sink.Write(ctx, env, reason); err != nil {
		d.log.Error("dead-letter write failed",
			"record_id", env.Record.ID, "reason", reason, "error", err)
	}
}

func (d *Dispatcher) idle() bool {
	return len(d.queue) == 0 &&
		len(d.retries) == 0 &&
		d.inflight.Load() == 0 &&
		d.pendingRetries.Load() == 0
}

// Flush blocks until every admitted envelope reached a terminal state
// (delivered or dead-lettered) or ctx expires.
func (d *Dispatcher) Flush(ctx context.Context) error {
	ticker := time.NewTicker(5 * time.Millisecond)
	defer ticker.Stop()
	for {
		if d.idle() {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Stop drains the buffer within the configured timeout, then halts the
// drain loop and moves whatever is left to the dead-letter sink.
func (d *Dispatcher) Stop(ctx context.Context) error {
	if !d.stopped.CompareAndSwap(false, true) {
		return nil
	}

	drainCtx, cancel := context.WithTimeout(ctx, d.cfg.DrainTimeout)
	defer cancel()
	drainErr := d.Flush(drainCtx)

	close(d.stopCh)
	<-d.doneCh

	// Leftovers after the bounded drain are terminal losses for the
	// primary pipeline; record them.
	for {
		select {
		case env := <-d.queue:
			d.toDeadLetter(env, "discarded at shutdown")
		case env := <-d.retries:
			d.toDeadLetter(env, "discarded at shutdown")
		default:
			if d.pendingRetries.Load() == 0 {
				metrics.QueueDepth.Set(0)
				return drainErr
			}
			time.Sleep(time.Millisecond)
		}
	}
}

// Stats returns a snapshot of the dispatcher counters.
func (d *Dispatcher) Stats() Stats {
	return Stats{
		Enqueued:         d.enqueued.Load(),
		Delivered:        d.delivered.Load(),
		Retried:          d.retried.Load(),
		DeadLettered:     d.deadLettered.Load(),
		BackpressureHits: d.backpressureHits.Load(),
		QueueDepth:       len(d.queue),
		QueueCapacity:    d.cfg.BufferCapacity,
	}
}
