// Package validator performs per-record structural and semantic checks
// before a record may be anonymized and dispatched.
package validator

import (
	"fmt"
	"math"
	"time"

	"github.com/neurostream-systems/neurostream/internal/model"
)

// RejectionError reports a semantic check failure. Rejected records are
// counted by the owning worker and never retried or forwarded.
type RejectionError struct {
	Reason string
}

func (e *RejectionError) Error() string {
	return "record rejected: " + e.Reason
}

// Range bounds the physiological amplitude envelope for a source type,
// in the same units the device reports (millivolts for EEG/EMG/ECG).
type Range struct {
	Min float64 `mapstructure:"min" yaml:"min"`
	Max float64 `mapstructure:"max" yaml:"max"`
}

// Contains reports whether v falls inside the envelope.
func (r Range) Contains(v float64) bool {
	return v >= r.Min && v <= r.Max
}

// DefaultRanges are starting-point envelopes; deployments tune them via
// configuration.
func DefaultRanges() map[model.SourceType]Range {
	return map[model.SourceType]Range{
		model.SourceEEG: {Min: -5, Max: 5},
		model.SourceEMG: {Min: -20, Max: 20},
		model.SourceECG: {Min: -10, Max: 10},
	}
}

// DeviceState holds the last accepted timestamp for one device. It is
// owned by the single worker driving that device and passed in
// explicitly on every call, so no locking is needed.
type DeviceState struct {
	LastTimestamp time.Time
}

// Validator applies the check chain. Stateless apart from the envelope
// table; per-device ordering state lives in DeviceState.
type Validator struct {
	ranges map[model.SourceType]Range
}

// New creates a validator. A nil ranges map falls back to DefaultRanges.
func New(ranges map[model.SourceType]Range) *Validator {
	if ranges == nil {
		ranges = DefaultRanges()
	}
	return &Validator{ranges: ranges}
}

// Validate runs the checks in order, short-circuiting on the first
// failure. On success it sets Validated and advances the device state.
// Amplitude-envelope violations mark the record suspect rather than
// rejecting it, unless the violation is majority-wide.
func (v *Validator) Validate(rec *model.NeuralRecord, state *DeviceState) error {
	if rec == nil {
		return &RejectionError{Reason: "nil record"}
	}

	if err := v.checkStructure(rec); err != nil {
		return err
	}
	if err := v.checkAmplitude(rec); err != nil {
		return err
	}
	if state != nil && !state.LastTimestamp.IsZero() && rec.TimestampStart.Before(state.LastTimestamp) {
		return &RejectionError{
			Reason: fmt.Sprintf("timestamp %s earlier than last accepted %s for device",
				rec.TimestampStart.Format(time.RFC3339Nano), state.LastTimestamp.Format(time.RFC3339Nano)),
		}
	}

	rec.Validated = true
	if state != nil {
		state.LastTimestamp = rec.TimestampStart
	}
	return nil
}

func (v *Validator) checkStructure(rec *model.NeuralRecord) error {
	if rec.ChannelCount < 1 {
		return &RejectionError{Reason: fmt.Sprintf("channel_count %d < 1", rec.ChannelCount)}
	}
	if rec.SampleRateHz <= 0 {
		return &RejectionError{Reason: "sample_rate_hz <= 0"}
	}
	for i, vec := range rec.Samples {
		if len(vec) != rec.ChannelCount {
			return &RejectionError{
				Reason: fmt.Sprintf("sample vector %d has %d values, want %d", i, len(vec), rec.ChannelCount),
			}
		}
	}
	// OTHER sources carry arbitrary payloads and get the lenient path.
	if rec.SourceType == model.SourceOther {
		return nil
	}
	for i, vec := range rec.Samples {
		for ch, val := range vec {
			if math.IsNaN(val) || math.IsInf(val, 0) {
				return &RejectionError{
					Reason: fmt.Sprintf("non-finite value at sample %d channel %d", i, ch),
				}
			}
		}
	}
	return nil
}

// checkAmplitude applies the physiological envelope for the source
// type. A channel is out of range when more than half its samples fall
// outside the envelope; when more than half the channels are out of
// range the record is rejected outright, otherwise any violation only
// marks the record suspect.
func (v *Validator) checkAmplitude(rec *model.NeuralRecord) error {
	env, ok := v.ranges[rec.SourceType]
	if !ok || len(rec.Samples) == 0 {
		return nil
	}

	outCounts := make([]int, rec.ChannelCount)
	anyOut := false
	for _, vec := range rec.Samples {
		for ch, val := range vec {
			if !env.Contains(val) {
				outCounts[ch]++
				anyOut = true
			}
		}
	}
	if !anyOut {
		return nil
	}

	half := len(rec.Samples) / 2
	badChannels := 0
	for _, n := range outCounts {
		if n > half {
			badChannels++
		}
	}
	if badChannels > rec.ChannelCount/2 {
		return &RejectionError{
			Reason: fmt.Sprintf("%d of %d channels outside [%v, %v] envelope", badChannels, rec.ChannelCount, env.Min, env.Max),
		}
	}

	rec.Quality = model.QualitySuspect
	return nil
}
