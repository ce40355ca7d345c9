package source

import (
	"context"
	"math"
	"math/rand"
	"strconv"
	"time"

	"github.com/brianvoe/gofakeit/v6"

	"github.com/neurostream-systems/neurostream/internal/model"
)

// SyntheticOptions tune the built-in signal generator.
type SyntheticOptions struct {
	// FrameSamples is the number of timesteps per emitted frame.
	FrameSamples int

	// FrameLimit stops the stream after this many frames; zero means
	// unlimited.
	FrameLimit int

	// MalformedEvery injects a frame with a wrong channel count every
	// n-th frame (zero disables). Used to exercise rejection paths.
	MalformedEvery int

	// Amplitude scales the generated signal. Zero defaults to 1.
	Amplitude float64

	// Seed fixes the noise generator for reproducible streams.
	Seed int64

	// Realtime paces emission at the configured sample rate. Off by
	// default so tests and seeding runs are not clocked.
	Realtime bool
}

// Synthetic generates sine-plus-noise frames for a configured source.
// It backs load tests, the replay seeder, and the pipeline tests, in
// lieu of vendor hardware drivers.
type Synthetic struct {
	cfg       model.SourceConfig
	opts      SyntheticOptions
	rng       *rand.Rand
	meta      map[string]string
	emitted   int
	next      time.Time
	connected bool
}

// NewSynthetic creates a generator for the given source configuration.
func NewSynthetic(cfg model.SourceConfig, opts SyntheticOptions) *Synthetic {
	if opts.FrameSamples < 1 {
		opts.FrameSamples = 32
	}
	if opts.Amplitude == 0 {
		opts.Amplitude = 1
	}
	seed := opts.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	faker := gofakeit.New(seed)
	return &Synthetic{
		cfg:  cfg,
		opts: opts,
		rng:  rand.New(rand.NewSource(seed)),
		meta: map[string]string{
			"firmware_version": faker.AppVersion(),
			"serial_number":    faker.UUID(),
			"gain":             strconv.Itoa(faker.Number(1, 24)),
		},
	}
}

// SyntheticFactory registers under the "synthetic" adapter name.
func SyntheticFactory(opts SyntheticOptions) Factory {
	return func(cfg model.SourceConfig) (Adapter, error) {
		return NewSynthetic(cfg, opts), nil
	}
}

// Connect marks the generator ready and anchors the stream clock.
func (s *Synthetic) Connect(ctx context.Context) error {
	s.connected = true
	s.next = time.Now().UTC()
	return nil
}

// Poll produces the next frame. Once the frame limit is reached the
// stream reports a disconnect, which stops a draining worker cleanly.
func (s *Synthetic) Poll(ctx context.Context, timeout time.Duration) (*model.RawFrame, error) {
	if !s.connected {
		return nil, ErrUnavailable
	}
	if s.opts.FrameLimit > 0 && s.emitted >= s.opts.FrameLimit {
		return nil, ErrDisconnected
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	frameDur := time.Duration(float64(s.opts.FrameSamples) / s.cfg.SampleRateHz * float64(time.Second))
	if s.opts.Realtime {
		wait := time.Until(s.next)
		if wait > timeout {
			time.Sleep(timeout)
			return nil, nil
		}
		if wait > 0 {
			time.Sleep(wait)
		}
	}

	channels := s.cfg.ChannelCount
	if s.opts.MalformedEvery > 0 && (s.emitted+1)%s.opts.MalformedEvery == 0 {
		channels++
	}

	samples := make([][]float64, s.opts.FrameSamples)
	phase := float64(s.emitted * s.opts.FrameSamples)
	for i := range samples {
		vec := make([]float64, channels)
		t := (phase + float64(i)) / s.cfg.SampleRateHz
		for ch := range vec {
			carrier := math.Sin(2 * math.Pi * (10 + float64(ch)) * t)
			noise := s.rng.NormFloat64() * 0.1
			vec[ch] = s.opts.Amplitude * (carrier + noise)
		}
		samples[i] = vec
	}

	frame := &model.RawFrame{
		ChannelCount: channels,
		Timestamp:    s.next,
		Samples:      samples,
		Metadata:     s.meta,
	}
	s.next = s.next.Add(frameDur)
	s.emitted++
	return frame, nil
}

// Close stops the generator.
func (s *Synthetic) Close() error {
	s.connected = false
	return nil
}
