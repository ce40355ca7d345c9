// Package config loads service configuration from defaults, an
// optional YAML file, and NEUROSTREAM_-prefixed environment variables.
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"

	"github.com/neurostream-systems/neurostream/internal/model"
	"github.com/neurostream-systems/neurostream/internal/validator"
)

type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	NATS       NATSConfig       `mapstructure:"nats"`
	Influx     InfluxConfig     `mapstructure:"influx"`
	Dispatch   DispatchConfig   `mapstructure:"dispatch"`
	Worker     WorkerConfig     `mapstructure:"worker"`
	Anonymize  AnonymizeConfig  `mapstructure:"anonymize"`
	Validation ValidationConfig `mapstructure:"validation"`
	DeadLetter DeadLetterConfig `mapstructure:"dead_letter"`
	Logging    LoggingConfig    `mapstructure:"logging"`

	// SourcesManifest optionally points at a YAML file of sources to
	// start at boot.
	SourcesManifest string `mapstructure:"sources_manifest"`
}

type ServerConfig struct {
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
}

type NATSConfig struct {
	URL           string        `mapstructure:"url"`
	Name          string        `mapstructure:"name"`
	MaxReconnects int           `mapstructure:"max_reconnects"`
	ReconnectWait time.Duration `mapstructure:"reconnect_wait"`
	Timeout       time.Duration `mapstructure:"timeout"`
}

type InfluxConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	URL     string `mapstructure:"url"`
	Token   string `mapstructure:"token"`
	Org     string `mapstructure:"org"`
	Bucket  string `mapstructure:"bucket"`
}

type DispatchConfig struct {
	BufferCapacity int           `mapstructure:"buffer_capacity"`
	MaxAttempts    int           `mapstructure:"max_attempts"`
	BackoffBase    time.Duration `mapstructure:"backoff_base"`
	BackoffCap     time.Duration `mapstructure:"backoff_cap"`
	PublishTimeout time.Duration `mapstructure:"publish_timeout"`
	DrainTimeout   time.Duration `mapstructure:"drain_timeout"`
}

type WorkerConfig struct {
	PollTimeout          time.Duration `mapstructure:"poll_timeout"`
	ReconnectBase        time.Duration `mapstructure:"reconnect_base"`
	ReconnectCap         time.Duration `mapstructure:"reconnect_cap"`
	BackpressureCooldown time.Duration `mapstructure:"backpressure_cooldown"`
}

type AnonymizeConfig struct {
	Salt              string        `mapstructure:"salt"`
	MetadataDenyList  []string      `mapstructure:"metadata_deny_list"`
	CoarsenTimestamps bool          `mapstructure:"coarsen_timestamps"`
	CoarsenTo         time.Duration `mapstructure:"coarsen_to"`
}

type ValidationConfig struct {
	// Envelopes maps source type to its physiological amplitude range.
	// Unset types use the built-in defaults.
	Envelopes map[string]validator.Range `mapstructure:"envelopes"`
}

// Ranges merges configured envelopes over the defaults.
func (v ValidationConfig) Ranges() (map[model.SourceType]validator.Range, error) {
	ranges := validator.DefaultRanges()
	for name, r := range v.Envelopes {
		st, err := model.ParseSourceType(name)
		if err != nil {
			return nil, fmt.Errorf("validation.envelopes: %w", err)
		}
		if r.Max <= r.Min {
			return nil, fmt.Errorf("validation.envelopes.%s: max must exceed min", name)
		}
		ranges[st] = r
	}
	return ranges, nil
}

type DeadLetterConfig struct {
	// Backend selects "file", "redis", or "discard".
	Backend  string `mapstructure:"backend"`
	Path     string `mapstructure:"path"`
	RedisURL string `mapstructure:"redis_url"`
	RedisKey string `mapstructure:"redis_key"`
	MaxLen   int64  `mapstructure:"max_len"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

func Load(configPath string) (*Config, error) {
	v := viper.New()

	// Set defaults
	v.SetDefault("server.port", 8092)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.idle_timeout", "120s")
	v.SetDefault("nats.url", "nats://localhost:4222")
	v.SetDefault("nats.name", "neurostream-ingest")
	v.SetDefault("nats.max_reconnects", -1)
	v.SetDefault("nats.reconnect_wait", "2s")
	v.SetDefault("nats.timeout", "5s")
	v.SetDefault("influx.enabled", false)
	v.SetDefault("influx.url", "http://localhost:8086")
	v.SetDefault("influx.org", "neurostream")
	v.SetDefault("influx.bucket", "neural-data")
	v.SetDefault("dispatch.buffer_capacity", 4096)
	v.SetDefault("dispatch.max_attempts", 5)
	v.SetDefault("dispatch.backoff_base", "500ms")
	v.SetDefault("dispatch.backoff_cap", "10s")
	v.SetDefault("dispatch.publish_timeout", "10s")
	v.SetDefault("dispatch.drain_timeout", "5s")
	v.SetDefault("worker.poll_timeout", "500ms")
	v.SetDefault("worker.reconnect_base", "1s")
	v.SetDefault("worker.reconnect_cap", "30s")
	v.SetDefault("worker.backpressure_cooldown", "200ms")
	v.SetDefault("anonymize.salt", "")
	v.SetDefault("anonymize.coarsen_timestamps", false)
	v.SetDefault("anonymize.coarsen_to", "1s")
	v.SetDefault("dead_letter.backend", "file")
	v.SetDefault("dead_letter.path", "/var/lib/neurostream/deadletter")
	v.SetDefault("dead_letter.redis_url", "redis://localhost:6379/0")
	v.SetDefault("dead_letter.max_len", 10000)
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	// Read config file
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/neurostream/ingest")
	}

	// Environment variables override
	v.SetEnvPrefix("NEUROSTREAM")
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		// Config file not found; use defaults
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}
