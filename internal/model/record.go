// Package model defines the canonical in-memory representation of
// ingested neural data and the envelopes that carry it through the
// pipeline.
package model

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// SourceType identifies the kind of biosignal a source produces.
type SourceType string

const (
	SourceEEG           SourceType = "eeg"
	SourceEMG           SourceType = "emg"
	SourceECG           SourceType = "ecg"
	SourceSpikes        SourceType = "spikes"
	SourceLFP           SourceType = "lfp"
	SourceAccelerometer SourceType = "accelerometer"
	SourceOther         SourceType = "other"
)

// ParseSourceType converts a string into a known SourceType.
func ParseSourceType(s string) (SourceType, error) {
	switch SourceType(s) {
	case SourceEEG, SourceEMG, SourceECG, SourceSpikes, SourceLFP, SourceAccelerometer, SourceOther:
		return SourceType(s), nil
	}
	return "", fmt.Errorf("unknown source type %q", s)
}

// QualityFlag marks the outcome of the amplitude-envelope check.
type QualityFlag string

const (
	QualityGood    QualityFlag = "good"
	QualitySuspect QualityFlag = "suspect"
)

// MalformedRecordError indicates a structural invariant was violated at
// record construction. Records carrying this error never enter the
// pipeline; they are counted, not retried.
type MalformedRecordError struct {
	Reason string
}

func (e *MalformedRecordError) Error() string {
	return "malformed record: " + e.Reason
}

// NeuralRecord is one timestamped batch of multi-channel samples from a
// single device. Samples are immutable once constructed; stages after
// anonymization may only read.
type NeuralRecord struct {
	ID             string            `json:"id"`
	SessionID      string            `json:"session_id"`
	SourceType     SourceType        `json:"source_type"`
	DeviceID       string            `json:"device_id"`
	ChannelCount   int               `json:"channel_count"`
	SampleRateHz   float64           `json:"sample_rate_hz"`
	TimestampStart time.Time         `json:"timestamp_start"`
	Samples        [][]float64       `json:"samples"`
	Metadata       map[string]string `json:"metadata,omitempty"`
	Quality        QualityFlag       `json:"quality"`
	Validated      bool              `json:"validated"`
	Anonymized     bool              `json:"anonymized"`
}

// NewRecord builds a NeuralRecord from a raw frame, enforcing the
// structural invariants at construction time.
func NewRecord(sessionID string, cfg SourceConfig, frame *RawFrame) (*NeuralRecord, error) {
	if frame == nil {
		return nil, &MalformedRecordError{Reason: "nil frame"}
	}
	if cfg.ChannelCount < 1 {
		return nil, &MalformedRecordError{Reason: fmt.Sprintf("channel_count %d < 1", cfg.ChannelCount)}
	}
	if cfg.SampleRateHz <= 0 {
		return nil, &MalformedRecordError{Reason: fmt.Sprintf("sample_rate_hz %v <= 0", cfg.SampleRateHz)}
	}
	if frame.ChannelCount != cfg.ChannelCount {
		return nil, &MalformedRecordError{
			Reason: fmt.Sprintf("frame reports %d channels, source configured for %d", frame.ChannelCount, cfg.ChannelCount),
		}
	}
	if len(frame.Samples) == 0 {
		return nil, &MalformedRecordError{Reason: "empty sample buffer"}
	}
	for i, vec := range frame.Samples {
		if len(vec) != cfg.ChannelCount {
			return nil, &MalformedRecordError{
				Reason: fmt.Sprintf("sample vector %d has %d values, want %d", i, len(vec), cfg.ChannelCount),
			}
		}
	}

	var meta map[string]string
	if len(frame.Metadata) > 0 {
		meta = make(map[string]string, len(frame.Metadata))
		for k, v := range frame.Metadata {
			meta[k] = v
		}
	}

	return &NeuralRecord{
		ID:             uuid.New().String(),
		SessionID:      sessionID,
		SourceType:     cfg.SourceType,
		DeviceID:       cfg.DeviceID,
		ChannelCount:   cfg.ChannelCount,
		SampleRateHz:   cfg.SampleRateHz,
		TimestampStart: frame.Timestamp,
		Samples:        frame.Samples,
		Metadata:       meta,
		Quality:        QualityGood,
	}, nil
}

// DurationSeconds is the wall-clock span covered by the sample batch.
func (r *NeuralRecord) DurationSeconds() float64 {
	if r.SampleRateHz <= 0 {
		return 0
	}
	return float64(len(r.Samples)) / r.SampleRateHz
}

// ByteSizeEstimate approximates the in-memory footprint of the record
// for memory-pressure accounting. Samples dominate; headers and
// metadata are counted coarsely.
func (r *NeuralRecord) ByteSizeEstimate() int {
	size := 128 // fixed fields
	size += len(r.Samples) * r.ChannelCount * 8
	for k, v := range r.Metadata {
		size += len(k) + len(v)
	}
	return size
}

// Clone returns a copy sharing the immutable sample buffer but with an
// independent metadata map.
func (r *NeuralRecord) Clone() *NeuralRecord {
	out := *r
	if r.Metadata != nil {
		out.Metadata = make(map[string]string, len(r.Metadata))
		for k, v := range r.Metadata {
			out.Metadata[k] = v
		}
	}
	return &out
}

// RawFrame is the minimal pre-validation structure a source adapter
// hands to the worker: a raw sample buffer plus the channel count the
// device reported for it.
type RawFrame struct {
	ChannelCount int
	Timestamp    time.Time
	Samples      [][]float64
	Metadata     map[string]string
}
