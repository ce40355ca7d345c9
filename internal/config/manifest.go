package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/neurostream-systems/neurostream/internal/model"
)

// ManifestSource pairs a source configuration with the adapter that
// should drive it.
type ManifestSource struct {
	Adapter            string `yaml:"adapter"`
	model.SourceConfig `yaml:",inline"`
}

// Manifest lists sources to start at boot.
type Manifest struct {
	Sources []ManifestSource `yaml:"sources"`
}

// LoadManifest reads and validates a sources manifest.
func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}

	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse manifest: %w", err)
	}

	seen := make(map[string]struct{}, len(m.Sources))
	for i, src := range m.Sources {
		if src.Adapter == "" {
			return nil, fmt.Errorf("manifest source %d: adapter is required", i)
		}
		if err := src.SourceConfig.Validate(); err != nil {
			return nil, fmt.Errorf("manifest source %d: %w", i, err)
		}
		if _, dup := seen[src.DeviceID]; dup {
			return nil, fmt.Errorf("manifest source %d: duplicate device_id %q", i, src.DeviceID)
		}
		seen[src.DeviceID] = struct{}{}
	}
	return &m, nil
}
