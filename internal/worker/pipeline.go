package worker

import (
	"context"
	"errors"
	"time"

	"github.com/neurostream-systems/neurostream/internal/anonymizer"
	"github.com/neurostream-systems/neurostream/internal/dispatch"
	"github.com/neurostream-systems/neurostream/internal/model"
	"github.com/neurostream-systems/neurostream/internal/validator"
)

// Pipeline is the record path shared by streaming workers and batch
// replay: build, validate, anonymize, enqueue.
type Pipeline struct {
	Validator  *validator.Validator
	Anonymizer *anonymizer.Anonymizer
	Dispatcher *dispatch.Dispatcher

	// Cooldown is the pause before retrying an enqueue that hit
	// backpressure.
	Cooldown time.Duration
}

// Process carries one raw frame through the full pipeline. The record
// stays in the caller's single in-flight slot until the dispatcher
// accepts it: backpressure triggers a cooldown and the same enqueue is
// retried, so no record is dropped between validation and handoff.
//
// Errors are classified by type: *model.MalformedRecordError for
// construction failures, *validator.RejectionError for semantic
// rejections, anything else is a pipeline fault.
func (p *Pipeline) Process(ctx context.Context, cfg model.SourceConfig, sessionID string, frame *model.RawFrame, state *validator.DeviceState) (*model.NeuralRecord, error) {
	rec, err := model.NewRecord(sessionID, cfg, frame)
	if err != nil {
		return nil, err
	}
	if err := p.Validator.Validate(rec, state); err != nil {
		return nil, err
	}
	anon, err := p.Anonymizer.Anonymize(rec)
	if err != nil {
		return nil, err
	}

	cooldown := p.Cooldown
	if cooldown <= 0 {
		cooldown = 200 * time.Millisecond
	}

	for {
		err := p.Dispatcher.Enqueue(anon)
		if err == nil {
			return anon, nil
		}
		if !errors.Is(err, dispatch.ErrBackpressure) {
			return nil, err
		}
		select {
		case <-time.After(cooldown):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// IsMalformed reports whether err is a record construction failure.
func IsMalformed(err error) bool {
	var m *model.MalformedRecordError
	return errors.As(err, &m)
}

// IsRejected reports whether err is a validation rejection.
func IsRejected(err error) bool {
	var r *validator.RejectionError
	return errors.As(err, &r)
}
