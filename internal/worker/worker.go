// Package worker runs the per-source ingestion loop: poll the adapter,
// build a record, validate, anonymize, hand off to the dispatcher.
package worker

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/neurostream-systems/neurostream/internal/dispatch"
	"github.com/neurostream-systems/neurostream/internal/logging"
	"github.com/neurostream-systems/neurostream/internal/metrics"
	"github.com/neurostream-systems/neurostream/internal/model"
	"github.com/neurostream-systems/neurostream/internal/source"
	"github.com/neurostream-systems/neurostream/internal/validator"
)

// State is the worker lifecycle state.
type State int32

const (
	StateStopped State = iota
	StateConnecting
	StateRunning
	StateBackingOff
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateRunning:
		return "running"
	case StateBackingOff:
		return "backing_off"
	default:
		return "stopped"
	}
}

// Config tunes one worker. Zero values fall back to the documented
// defaults.
type Config struct {
	Source model.SourceConfig

	// PollTimeout bounds one adapter poll. Defaults to the source's
	// PollTimeout, then 500ms.
	PollTimeout time.Duration

	// ReconnectBase and ReconnectCap shape the jittered backoff after
	// an unavailable or disconnected source.
	ReconnectBase time.Duration
	ReconnectCap  time.Duration

	// BackpressureCooldown is the pause before re-attempting an
	// enqueue the dispatcher refused.
	BackpressureCooldown time.Duration
}

// Status is a read-only snapshot for health reporting.
type Status struct {
	DeviceID   string           `json:"device_id"`
	SourceType model.SourceType `json:"source_type"`
	SessionID  string           `json:"session_id"`
	State      string           `json:"state"`
	Accepted   uint64           `json:"accepted"`
	Rejected   uint64           `json:"rejected"`
	Bytes      uint64           `json:"bytes"`
	Reconnects uint64           `json:"reconnects"`
	LastRecord time.Time        `json:"last_record,omitempty"`
}

type loopExit int

const (
	exitStop loopExit = iota
	exitDisconnect
)

// Worker drives one source. At most one record is in flight at any
// time; the stop signal is honored only at iteration boundaries so a
// validated record is never lost mid-handoff.
type Worker struct {
	cfg     Config
	adapter source.Adapter
	pipe    *Pipeline
	log     *logging.Logger

	sessionID string
	devState  validator.DeviceState

	state    atomic.Int32
	stopCh   chan struct{}
	stopOnce sync.Once
	doneCh   chan struct{}

	accepted   atomic.Uint64
	rejected   atomic.Uint64
	bytes      atomic.Uint64
	reconnects atomic.Uint64
	lastRecord atomic.Int64 // unix nanos

	rng *rand.Rand
}

// New creates a worker for one source. A fresh session ID groups every
// record the worker produces until it stops.
func New(cfg Config, adapter source.Adapter, pipe *Pipeline, log *logging.Logger) *Worker {
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = cfg.Source.PollTimeout
	}
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = 500 * time.Millisecond
	}
	if cfg.ReconnectBase <= 0 {
		cfg.ReconnectBase = time.Second
	}
	if cfg.ReconnectCap < cfg.ReconnectBase {
		cfg.ReconnectCap = 30 * time.Second
	}
	if cfg.BackpressureCooldown <= 0 {
		cfg.BackpressureCooldown = 200 * time.Millisecond
	}
	if log == nil {
		log = logging.Default()
	}

	return &Worker{
		cfg:       cfg,
		adapter:   adapter,
		pipe:      pipe,
		log:       log.With("device_id", cfg.Source.DeviceID),
		sessionID: uuid.New().String(),
		stopCh:    make(chan struct{}),
		doneCh:    make(chan struct{}),
		rng:       rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Start launches the worker loop.
func (w *Worker) Start(ctx context.Context) {
	go w.run(ctx)
}

// Stop requests a graceful stop and blocks until the worker reaches
// STOPPED or ctx expires.
func (w *Worker) Stop(ctx context.Context) error {
	w.stopOnce.Do(func() { close(w.stopCh) })
	select {
	case <-w.doneCh:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// State returns the current lifecycle state.
func (w *Worker) State() State {
	return State(w.state.Load())
}

// SessionID returns the acquisition session this worker stamps on its
// records.
func (w *Worker) SessionID() string {
	return w.sessionID
}

// Status returns a snapshot for health reporting.
func (w *Worker) Status() Status {
	st := Status{
		DeviceID:   w.cfg.Source.DeviceID,
		SourceType: w.cfg.Source.SourceType,
		SessionID:  w.sessionID,
		State:      w.State().String(),
		Accepted:   w.accepted.Load(),
		Rejected:   w.rejected.Load(),
		Bytes:      w.bytes.Load(),
		Reconnects: w.reconnects.Load(),
	}
	if ns := w.lastRecord.Load(); ns > 0 {
		st.LastRecord = time.Unix(0, ns).UTC()
	}
	return st
}

func (w *Worker) setState(s State) {
	w.state.Store(int32(s))
}

func (w *Worker) stopRequested() bool {
	select {
	case <-w.stopCh:
		return true
	default:
		return false
	}
}

func (w *Worker) run(ctx context.Context) {
	defer close(w.doneCh)
	defer w.setState(StateStopped)
	defer func() {
		if err := w.adapter.Close(); err != nil {
			w.log.Warn("adapter close failed", "error", err)
		}
	}()

	ctx = logging.WithDevice(ctx, w.cfg.Source.DeviceID)
	backoff := w.cfg.ReconnectBase

	for {
		if w.stopRequested() || ctx.Err() != nil {
			return
		}

		w.setState(StateConnecting)
		if err := w.adapter.Connect(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			w.reconnects.Add(1)
			metrics.WorkerReconnects.WithLabelValues(w.cfg.Source.DeviceID).Inc()
			w.log.Warn("source unavailable, backing off", "error", err, "backoff", backoff.String())
			if !w.backOff(ctx, &backoff) {
				return
			}
			continue
		}
		backoff = w.cfg.ReconnectBase

		w.setState(StateRunning)
		metrics.WorkersRunning.Inc()
		w.log.Info("source connected", "session_id", w.sessionID)
		exit := w.loop(ctx)
		metrics.WorkersRunning.Dec()

		if exit == exitStop {
			return
		}
		w.reconnects.Add(1)
		metrics.WorkerReconnects.WithLabelValues(w.cfg.Source.DeviceID).Inc()
		w.log.Warn("stream interrupted, backing off", "backoff", backoff.String())
		if !w.backOff(ctx, &backoff) {
			return
		}
	}
}

// loop is the RUNNING body. It returns exitStop on a stop request or
// hard cancellation and exitDisconnect for recoverable stream faults.
func (w *Worker) loop(ctx context.Context) loopExit {
	for {
		if w.stopRequested() || ctx.Err() != nil {
			return exitStop
		}

		frame, err := w.adapter.Poll(ctx, w.cfg.PollTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return exitStop
			}
			// Disconnects and unexpected adapter faults alike are
			// recoverable; the worker never dies without a stop request.
			w.log.Warn("poll failed", "error", err)
			return exitDisconnect
		}
		if frame == nil {
			continue // poll timeout, connection healthy
		}

		rec, err := w.pipe.Process(ctx, w.cfg.Source, w.sessionID, frame, &w.devState)
		switch {
		case err == nil:
			w.accepted.Add(1)
			w.bytes.Add(uint64(rec.ByteSizeEstimate()))
			w.lastRecord.Store(time.Now().UnixNano())
			metrics.RecordsTotal.WithLabelValues(w.cfg.Source.DeviceID, "accepted").Inc()
			metrics.RecordBytesTotal.Add(float64(rec.ByteSizeEstimate()))

		case IsMalformed(err):
			w.rejected.Add(1)
			metrics.RecordsTotal.WithLabelValues(w.cfg.Source.DeviceID, "rejected").Inc()
			metrics.RejectionsTotal.WithLabelValues("malformed").Inc()
			w.log.Warn("malformed frame rejected", "error", err)

		case IsRejected(err):
			w.rejected.Add(1)
			metrics.RecordsTotal.WithLabelValues(w.cfg.Source.DeviceID, "rejected").Inc()
			metrics.RejectionsTotal.WithLabelValues("validation").Inc()
			w.log.Warn("record rejected", "error", err)

		case errors.Is(err, dispatch.ErrStopped), errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			w.log.Info("pipeline closed, stopping worker")
			return exitStop

		default:
			w.log.Error("unexpected pipeline fault, backing off", "error", err)
			return exitDisconnect
		}
	}
}

// backOff sleeps the jittered delay, doubling it for next time up to
// the cap. Returns false when a stop arrived during the wait.
func (w *Worker) backOff(ctx context.Context, d *time.Duration) bool {
	w.setState(StateBackingOff)

	// Full jitter over [d/2, d).
	wait := *d/2 + time.Duration(w.rng.Int63n(int64(*d/2)+1))
	*d *= 2
	if *d > w.cfg.ReconnectCap {
		*d = w.cfg.ReconnectCap
	}

	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-w.stopCh:
		return false
	case <-ctx.Done():
		return false
	}
}
