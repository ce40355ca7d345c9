package model

import (
	"fmt"
	"time"
)

// SourceConfig describes one logical device or stream. It is owned by
// the coordinator and immutable after a worker starts; changing it
// requires stopping and restarting the worker for that source.
type SourceConfig struct {
	DeviceID     string        `yaml:"device_id" json:"device_id"`
	SourceType   SourceType    `yaml:"source_type" json:"source_type"`
	ChannelCount int           `yaml:"channel_count" json:"channel_count"`
	SampleRateHz float64       `yaml:"sample_rate_hz" json:"sample_rate_hz"`
	PollInterval time.Duration `yaml:"poll_interval" json:"poll_interval"`
	PollTimeout  time.Duration `yaml:"poll_timeout" json:"poll_timeout"`
	Push         bool          `yaml:"push" json:"push"`
}

// Validate checks the configuration is usable before a worker starts.
func (c SourceConfig) Validate() error {
	if c.DeviceID == "" {
		return fmt.Errorf("device_id is required")
	}
	if _, err := ParseSourceType(string(c.SourceType)); err != nil {
		return err
	}
	if c.ChannelCount < 1 {
		return fmt.Errorf("channel_count must be >= 1, got %d", c.ChannelCount)
	}
	if c.SampleRateHz <= 0 {
		return fmt.Errorf("sample_rate_hz must be > 0, got %v", c.SampleRateHz)
	}
	return nil
}
