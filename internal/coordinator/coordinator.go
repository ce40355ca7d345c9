// Package coordinator owns the set of active ingestion workers and is
// the public entry point for starting sources, stopping them, batch
// replay, and health snapshots.
package coordinator

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/google/uuid"

	"github.com/neurostream-systems/neurostream/internal/dispatch"
	"github.com/neurostream-systems/neurostream/internal/logging"
	"github.com/neurostream-systems/neurostream/internal/metrics"
	"github.com/neurostream-systems/neurostream/internal/model"
	"github.com/neurostream-systems/neurostream/internal/source"
	"github.com/neurostream-systems/neurostream/internal/validator"
	"github.com/neurostream-systems/neurostream/internal/worker"
)

// AlreadyRunningError is returned by StartSource when a worker for the
// device is already active.
type AlreadyRunningError struct {
	DeviceID string
}

func (e *AlreadyRunningError) Error() string {
	return fmt.Sprintf("source %q already running", e.DeviceID)
}

// BatchResult aggregates the outcome of a batch upload.
type BatchResult struct {
	Accepted     int `json:"accepted"`
	Rejected     int `json:"rejected"`
	DeadLettered int `json:"dead_lettered"`
}

// Coordinator serializes all mutation of the worker set through one
// mutex: the admission check-and-insert is atomic, while admitted
// workers run fully in parallel.
type Coordinator struct {
	pipe       *worker.Pipeline
	dispatcher *dispatch.Dispatcher
	registry   *source.Registry
	defaults   worker.Config
	log        *logging.Logger

	mu      sync.Mutex
	workers map[string]*worker.Worker
}

// New creates a coordinator. defaults supplies worker tuning; its
// Source field is ignored.
func New(pipe *worker.Pipeline, d *dispatch.Dispatcher, registry *source.Registry, defaults worker.Config, log *logging.Logger) *Coordinator {
	if log == nil {
		log = logging.Default()
	}
	return &Coordinator{
		pipe:       pipe,
		dispatcher: d,
		registry:   registry,
		defaults:   defaults,
		log:        log,
		workers:    make(map[string]*worker.Worker),
	}
}

// StartSource admits a worker for the source, driving the injected
// adapter. Exactly one worker per device: a second call for the same
// device fails with *AlreadyRunningError.
func (c *Coordinator) StartSource(ctx context.Context, cfg model.SourceConfig, adapter source.Adapter) (*worker.Worker, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid source config: %w", err)
	}

	wcfg := c.defaults
	wcfg.Source = cfg

	c.mu.Lock()
	if _, exists := c.workers[cfg.DeviceID]; exists {
		c.mu.Unlock()
		return nil, &AlreadyRunningError{DeviceID: cfg.DeviceID}
	}
	w := worker.New(wcfg, adapter, c.pipe, c.log)
	c.workers[cfg.DeviceID] = w
	c.mu.Unlock()

	w.Start(ctx)
	c.log.Info("source started",
		"device_id", cfg.DeviceID,
		"source_type", cfg.SourceType,
		"session_id", w.SessionID())
	return w, nil
}

// StartSourceNamed builds the adapter from the registry and starts the
// source. This is the path the control API and manifest loading use.
func (c *Coordinator) StartSourceNamed(ctx context.Context, adapterName string, cfg model.SourceConfig) (*worker.Worker, error) {
	adapter, err := c.registry.New(adapterName, cfg)
	if err != nil {
		return nil, err
	}
	return c.StartSource(ctx, cfg, adapter)
}

// StopSource signals a graceful stop and blocks until the worker
// reaches STOPPED or ctx expires. The worker stays registered on
// timeout so a later stop can be retried.
func (c *Coordinator) StopSource(ctx context.Context, deviceID string) error {
	c.mu.Lock()
	w, ok := c.workers[deviceID]
	c.mu.Unlock()
	if !ok {
		return fmt.Errorf("no worker for device %q", deviceID)
	}

	if err := w.Stop(ctx); err != nil {
		return fmt.Errorf("stop %s: %w", deviceID, err)
	}

	c.mu.Lock()
	delete(c.workers, deviceID)
	c.mu.Unlock()
	c.log.Info("source stopped", "device_id", deviceID)
	return nil
}

// Health returns a read-only snapshot of every worker's state, keyed
// by device ID.
func (c *Coordinator) Health() map[string]worker.Status {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make(map[string]worker.Status, len(c.workers))
	for id, w := range c.workers {
		out[id] = w.Status()
	}
	return out
}

// DispatcherStats exposes dispatcher counters for health output.
func (c *Coordinator) DispatcherStats() dispatch.Stats {
	return c.dispatcher.Stats()
}

// BatchUpload replays a pre-recorded file through the same pipeline as
// live streams, as one bounded synthetic session, then waits for the
// dispatcher to drain before reporting counts.
func (c *Coordinator) BatchUpload(ctx context.Context, r io.Reader, format string, cfg model.SourceConfig) (BatchResult, error) {
	var res BatchResult

	if err := cfg.Validate(); err != nil {
		return res, fmt.Errorf("invalid source config: %w", err)
	}
	reader, err := source.FileReaderFor(format)
	if err != nil {
		return res, err
	}
	frames, err := reader.Frames(r, cfg)
	if err != nil {
		return res, fmt.Errorf("open %s stream: %w", format, err)
	}

	sessionID := uuid.New().String()
	state := &validator.DeviceState{}
	before := c.dispatcher.Stats()

	for {
		frame, err := frames.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			if !worker.IsMalformed(err) {
				return res, fmt.Errorf("read %s stream: %w", format, err)
			}
			res.Rejected++
			metrics.RecordsTotal.WithLabelValues(cfg.DeviceID, "rejected").Inc()
			metrics.RejectionsTotal.WithLabelValues("malformed").Inc()
			continue
		}

		_, err = c.pipe.Process(ctx, cfg, sessionID, frame, state)
		switch {
		case err == nil:
			res.Accepted++
			metrics.RecordsTotal.WithLabelValues(cfg.DeviceID, "accepted").Inc()
		case worker.IsMalformed(err):
			res.Rejected++
			metrics.RecordsTotal.WithLabelValues(cfg.DeviceID, "rejected").Inc()
			metrics.RejectionsTotal.WithLabelValues("malformed").Inc()
		case worker.IsRejected(err):
			res.Rejected++
			metrics.RecordsTotal.WithLabelValues(cfg.DeviceID, "rejected").Inc()
			metrics.RejectionsTotal.WithLabelValues("validation").Inc()
		default:
			return res, err
		}
	}

	if err := c.dispatcher.Flush(ctx); err != nil {
		return res, fmt.Errorf("drain after batch: %w", err)
	}
	after := c.dispatcher.Stats()
	res.DeadLettered = int(after.DeadLettered - before.DeadLettered)

	c.log.Info("batch upload complete",
		"device_id", cfg.DeviceID,
		"format", format,
		"accepted", res.Accepted,
		"rejected", res.Rejected,
		"dead_lettered", res.DeadLettered)
	return res, nil
}

// Shutdown stops all workers concurrently, then drains the dispatcher
// within its bounded timeout.
func (c *Coordinator) Shutdown(ctx context.Context) error {
	c.mu.Lock()
	workers := make([]*worker.Worker, 0, len(c.workers))
	for _, w := range c.workers {
		workers = append(workers, w)
	}
	c.workers = make(map[string]*worker.Worker)
	c.mu.Unlock()

	var wg sync.WaitGroup
	for _, w := range workers {
		wg.Add(1)
		go func(w *worker.Worker) {
			defer wg.Done()
			if err := w.Stop(ctx); err != nil {
				c.log.Warn("worker stop timed out", "error", err)
			}
		}(w)
	}
	wg.Wait()

	return c.dispatcher.Stop(ctx)
}
