package source

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/neurostream-systems/neurostream/internal/model"
)

// PushAdapter is the contract for sources that deliver frames via a
// callback instead of being polled.
type PushAdapter interface {
	// Start begins delivery, invoking emit for every frame until ctx is
	// cancelled or Close is called.
	Start(ctx context.Context, emit func(*model.RawFrame)) error

	// Close stops delivery and releases resources.
	Close() error
}

// PushBridge adapts a PushAdapter to the pull contract the worker
// expects, buffering pushed frames in a bounded channel. When the
// buffer is full the newest frame is dropped and counted; the worker's
// backpressure handling governs the rest of the pipeline.
type PushBridge struct {
	inner   PushAdapter
	frames  chan *model.RawFrame
	cancel  context.CancelFunc
	dropped atomic.Uint64
	failed  chan error
}

// NewPushBridge wraps a push adapter. buffer bounds the number of
// frames held between pushes and polls.
func NewPushBridge(inner PushAdapter, buffer int) *PushBridge {
	if buffer < 1 {
		buffer = 64
	}
	return &PushBridge{
		inner:  inner,
		frames: make(chan *model.RawFrame, buffer),
		failed: make(chan error, 1),
	}
}

// Connect starts the underlying push delivery.
func (b *PushBridge) Connect(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(context.Background())
	b.cancel = cancel

	started := make(chan error, 1)
	go func() {
		started <- b.inner.Start(runCtx, b.emit)
	}()

	select {
	case err := <-started:
		if err != nil {
			cancel()
			return err
		}
		// Start returned immediately without error: the stream already
		// ended. Surface that on the next poll.
		select {
		case b.failed <- ErrDisconnected:
		default:
		}
		return nil
	case <-time.After(50 * time.Millisecond):
		// Start is long-running for healthy streams. Whenever it does
		// return, the worker learns about it through the failed channel.
		go func() {
			err := <-started
			if err == nil {
				err = ErrDisconnected
			}
			select {
			case b.failed <- err:
			default:
			}
		}()
		return nil
	case <-ctx.Done():
		cancel()
		return ctx.Err()
	}
}

func (b *PushBridge) emit(frame *model.RawFrame) {
	select {
	case b.frames <- frame:
	default:
		b.dropped.Add(1)
	}
}

// Poll returns the next buffered frame, or nil on timeout.
func (b *PushBridge) Poll(ctx context.Context, timeout time.Duration) (*model.RawFrame, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case frame := <-b.frames:
		return frame, nil
	case err := <-b.failed:
		return nil, err
	case <-timer.C:
		return nil, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Dropped reports how many pushed frames were discarded because the
// bridge buffer was full.
func (b *PushBridge) Dropped() uint64 {
	return b.dropped.Load()
}

// Close stops delivery and the underlying adapter.
func (b *PushBridge) Close() error {
	if b.cancel != nil {
		b.cancel()
	}
	return b.inner.Close()
}
