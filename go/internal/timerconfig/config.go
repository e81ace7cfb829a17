package timerconfig

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/mcdev12/roadbook/go/internal/racetimer"
	"gopkg.in/yaml.v3"
)

// Config holds race timer service settings.
type Config struct {
	Port                    string  `yaml:"port"`
	TickIntervalMs          int     `yaml:"tick_interval_ms"`
	InitialCorrectionFactor float64 `yaml:"initial_correction_factor"`
	LogLevel                string  `yaml:"log_level"`

	NATS struct {
		URL           string `yaml:"url"`
		SubjectPrefix string `yaml:"subject_prefix"`
	} `yaml:"nats"`
}

// Default returns the configuration used when nothing is set.
func Default() Config {
	cfg := Config{
		Port:                    "8080",
		TickIntervalMs:          int(racetimer.DefaultTickInterval / time.Millisecond),
		InitialCorrectionFactor: racetimer.DefaultCorrectionFactor,
		LogLevel:                "info",
	}
	cfg.NATS.SubjectPrefix = "racetimer.events"
	return cfg
}

// Load reads the YAML file at path, if any, over the defaults and then
// applies environment overrides. An empty path skips the file.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// LoadFromEnv loads using the path in RACETIMER_CONFIG.
func LoadFromEnv() (Config, error) {
	return Load(os.Getenv("RACETIMER_CONFIG"))
}

func (c *Config) applyEnv() error {
	c.Port = getEnv("PORT", c.Port)
	c.LogLevel = getEnv("LOG_LEVEL", c.LogLevel)
	c.NATS.URL = getEnv("NATS_URL", c.NATS.URL)
	c.NATS.SubjectPrefix = getEnv("NATS_SUBJECT_PREFIX", c.NATS.SubjectPrefix)

	if v := os.Getenv("TICK_INTERVAL_MS"); v != "" {
		ms, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid TICK_INTERVAL_MS %q: %w", v, err)
		}
		c.TickIntervalMs = ms
	}
	if v := os.Getenv("CORRECTION_FACTOR"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("invalid CORRECTION_FACTOR %q: %w", v, err)
		}
		c.InitialCorrectionFactor = f
	}
	return nil
}

// Validate rejects settings the service cannot run with.
func (c Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("port must be set")
	}
	if c.TickIntervalMs <= 0 {
		return fmt.Errorf("tick interval must be positive, got %dms", c.TickIntervalMs)
	}
	if c.NATS.URL != "" && c.NATS.SubjectPrefix == "" {
		return fmt.Errorf("nats subject prefix must be set when nats url is configured")
	}
	return nil
}

func (c Config) TickInterval() time.Duration {
	return time.Duration(c.TickIntervalMs) * time.Millisecond
}

// NATSEnabled reports whether tick events should be fanned out over NATS.
func (c Config) NATSEnabled() bool {
	return c.NATS.URL != ""
}

// Addr is the listen address for the HTTP server.
func (c Config) Addr() string {
	return fmt.Sprintf(":%s", c.Port)
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
