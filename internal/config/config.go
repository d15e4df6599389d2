// Package config
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	// PollInterval is the sleep after each cycle, in milliseconds. 0 samples
	// as fast as the sources allow.
	PollInterval int64  `yaml:"poll_interval" validate:"gte=0"`
	Format       string `yaml:"format" validate:"oneof=json cbor text"`
	Output       string `yaml:"output" validate:"required"`
	Compress     bool   `yaml:"compress"`
	Listen       string `yaml:"listen" validate:"omitempty,hostname_port"`
	QueueSize    int    `yaml:"queue_size" validate:"gte=0,lte=65536"`
	Timestamp    bool   `yaml:"timestamp"`

	GPU GPUConfig `yaml:"gpu"`

	LogLevel  string `yaml:"log_level" validate:"oneof=debug info warn warning error"`
	LogFormat string `yaml:"log_format" validate:"oneof=text json"`

	// Count stops the sampler after that many snapshots. Flag only.
	Count int `yaml:"-" validate:"gte=0"`
	// File is the YAML file the config was read from, if any.
	File        string `yaml:"-"`
	ShowVersion bool   `yaml:"-"`
}

type GPUConfig struct {
	Backend  string `yaml:"backend" validate:"oneof=auto nvml drm none"`
	Required bool   `yaml:"required"`
}

const (
	FormatJSON = "json"
	FormatCBOR = "cbor"
	FormatText = "text"

	BackendAuto = "auto"
	BackendNVML = "nvml"
	BackendDRM  = "drm"
	BackendNone = "none"

	// StdoutOutput selects standard output as the record sink.
	StdoutOutput = "-"

	DefaultPollInterval = 1000
)

func Default() *Config {
	return &Config{
		PollInterval: DefaultPollInterval,
		Format:       FormatJSON,
		Output:       StdoutOutput,
		GPU: GPUConfig{
			Backend: BackendAuto,
		},
		LogLevel:  "info",
		LogFormat: "text",
	}
}

// Interval returns PollInterval as a duration.
func (c *Config) Interval() time.Duration {
	return time.Duration(c.PollInterval) * time.Millisecond
}

// Load builds the configuration from, in increasing precedence: defaults,
// an optional YAML file, the environment (including .env), and args.
// It returns pflag.ErrHelp when help was requested.
func Load(args []string) (*Config, error) {
	godotenv.Load()

	cfg := Default()

	fl, err := parseFlags(args)
	if err != nil {
		return nil, err
	}

	path := os.Getenv("HWSAMPLER_CONFIG")
	if fl.set.Changed("config") {
		path = fl.configFile
	}
	if path != "" {
		if err := loadFile(cfg, path); err != nil {
			return nil, err
		}
		cfg.File = path
	}

	if err := applyEnv(cfg); err != nil {
		return nil, err
	}

	fl.apply(cfg)

	if err := Validate(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

func loadFile(cfg *Config, path string) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config: read %s: %w", path, err)
	}

	if err := yaml.Unmarshal(b, cfg); err != nil {
		return fmt.Errorf("config: parse %s: %w", path, err)
	}

	return nil
}

func applyEnv(cfg *Config) error {
	if raw := os.Getenv("HWSAMPLER_POLL_INTERVAL"); raw != "" {
		v, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return fmt.Errorf("config: HWSAMPLER_POLL_INTERVAL: %w", err)
		}
		cfg.PollInterval = v
	}

	if raw := os.Getenv("HWSAMPLER_QUEUE_SIZE"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil {
			return fmt.Errorf("config: HWSAMPLER_QUEUE_SIZE: %w", err)
		}
		cfg.QueueSize = v
	}

	bools := map[string]*bool{
		"HWSAMPLER_COMPRESS":     &cfg.Compress,
		"HWSAMPLER_TIMESTAMP":    &cfg.Timestamp,
		"HWSAMPLER_GPU_REQUIRED": &cfg.GPU.Required,
	}
	for key, dst := range bools {
		raw := os.Getenv(key)
		if raw == "" {
			continue
		}
		v, err := strconv.ParseBool(raw)
		if err != nil {
			return fmt.Errorf("config: %s: %w", key, err)
		}
		*dst = v
	}

	strs := map[string]*string{
		"HWSAMPLER_FORMAT":      &cfg.Format,
		"HWSAMPLER_OUTPUT":      &cfg.Output,
		"HWSAMPLER_LISTEN":      &cfg.Listen,
		"HWSAMPLER_GPU_BACKEND": &cfg.GPU.Backend,
		"LOG_LEVEL":             &cfg.LogLevel,
		"LOG_FORMAT":            &cfg.LogFormat,
	}
	for key, dst := range strs {
		if raw := os.Getenv(key); raw != "" {
			*dst = raw
		}
	}

	return nil
}
