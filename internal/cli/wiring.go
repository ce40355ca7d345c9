package cli

import (
	"context"
	"fmt"

	"github.com/neurostream-systems/neurostream/internal/anonymizer"
	"github.com/neurostream-systems/neurostream/internal/config"
	"github.com/neurostream-systems/neurostream/internal/coordinator"
	"github.com/neurostream-systems/neurostream/internal/deadletter"
	"github.com/neurostream-systems/neurostream/internal/dispatch"
	"github.com/neurostream-systems/neurostream/internal/logging"
	"github.com/neurostream-systems/neurostream/internal/publish"
	"github.com/neurostream-systems/neurostream/internal/source"
	"github.com/neurostream-systems/neurostream/internal/validator"
	"github.com/neurostream-systems/neurostream/internal/worker"
)

// stack is the assembled service: everything serve and replay need.
type stack struct {
	cfg        *config.Config
	log        *logging.Logger
	publisher  publish.Publisher
	sink       deadletter.Sink
	dispatcher *dispatch.Dispatcher
	coord      *coordinator.Coordinator
}

// buildStack wires the pipeline from configuration: publisher(s),
// dead-letter sink, dispatcher, validator, anonymizer, coordinator.
func buildStack(ctx context.Context, cfg *config.Config) (*stack, error) {
	log := logging.New(logging.ParseLevel(cfg.Logging.Level), cfg.Logging.Format)
	logging.SetDefault(log)

	ranges, err := cfg.Validation.Ranges()
	if err != nil {
		return nil, err
	}

	anon, err := anonymizer.New(anonymizer.Config{
		Salt:              cfg.Anonymize.Salt,
		MetadataDenyList:  cfg.Anonymize.MetadataDenyList,
		CoarsenTimestamps: cfg.Anonymize.CoarsenTimestamps,
		CoarsenTo:         cfg.Anonymize.CoarsenTo,
	})
	if err != nil {
		return nil, fmt.Errorf("anonymizer: %w", err)
	}

	natsPub, err := publish.NewNATSPublisher(publish.NATSConfig{
		URL:           cfg.NATS.URL,
		Name:          cfg.NATS.Name,
		MaxReconnects: cfg.NATS.MaxReconnects,
		ReconnectWait: cfg.NATS.ReconnectWait,
		Timeout:       cfg.NATS.Timeout,
	})
	if err != nil {
		return nil, fmt.Errorf("nats publisher: %w", err)
	}

	var pub publish.Publisher = natsPub
	if cfg.Influx.Enabled {
		influxPub, err := publish.NewInfluxPublisher(ctx, publish.InfluxConfig{
			URL:    cfg.Influx.URL,
			Token:  cfg.Influx.Token,
			Org:    cfg.Influx.Org,
			Bucket: cfg.Influx.Bucket,
		})
		if err != nil {
			natsPub.Close()
			return nil, fmt.Errorf("influx publisher: %w", err)
		}
		pub = publish.Multi{natsPub, influxPub}
	}

	var sink deadletter.Sink
	switch cfg.DeadLetter.Backend {
	case "redis":
		sink, err = deadletter.NewRedisSink(cfg.DeadLetter.RedisURL, cfg.DeadLetter.RedisKey, cfg.DeadLetter.MaxLen)
	case "discard":
		sink = deadletter.Discard{}
	default:
		sink, err = deadletter.NewFileSink(cfg.DeadLetter.Path, log)
	}
	if err != nil {
		pub.Close()
		return nil, fmt.Errorf("dead-letter sink: %w", err)
	}

	d := dispatch.New(dispatch.Config{
		BufferCapacity: cfg.Dispatch.BufferCapacity,
		MaxAttempts:    cfg.Dispatch.MaxAttempts,
		BackoffBase:    cfg.Dispatch.BackoffBase,
		BackoffCap:     cfg.Dispatch.BackoffCap,
		PublishTimeout: cfg.Dispatch.PublishTimeout,
		DrainTimeout:   cfg.Dispatch.DrainTimeout,
	}, pub, sink, log)
	d.Start()

	pipe := &worker.Pipeline{
		Validator:  validator.New(ranges),
		Anonymizer: anon,
		Dispatcher: d,
		Cooldown:   cfg.Worker.BackpressureCooldown,
	}

	registry := source.NewRegistry()
	registry.Register("synthetic", source.SyntheticFactory(source.SyntheticOptions{Realtime: true}))

	coord := coordinator.New(pipe, d, registry, worker.Config{
		PollTimeout:          cfg.Worker.PollTimeout,
		ReconnectBase:        cfg.Worker.ReconnectBase,
		ReconnectCap:         cfg.Worker.ReconnectCap,
		BackpressureCooldown: cfg.Worker.BackpressureCooldown,
	}, log)

	return &stack{
		cfg:        cfg,
		log:        log,
		publisher:  pub,
		sink:       sink,
		dispatcher: d,
		coord:      coord,
	}, nil
}

// close tears the stack down after the coordinator has shut down.
func (s *stack) close() {
	if err := s.publisher.Close(); err != nil {
		s.log.Warn("publisher close failed", "error", err)
	}
	if err := s.sink.Close(); err != nil {
		s.log.Warn("dead-letter sink close failed", "error", err)
	}
}
