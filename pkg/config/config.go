// Package config provides configuration structures and loading logic for the
// triage service.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/polisai/polis-triage/pkg/domain"
)

// Config holds the global configuration for the triage service.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Logging   LoggingConfig   `yaml:"logging"`
	Engine    EngineConfig    `yaml:"engine"`
	Model     ModelConfig     `yaml:"model"`
	Agents    AgentsConfig    `yaml:"agents"`
	Workers   []WorkerConfig  `yaml:"workers"`
	Storage   StorageConfig   `yaml:"storage"`
}

// ServerConfig holds configuration for the HTTP front end.
type ServerConfig struct {
	ListenAddress string        `yaml:"listen_address"`
	ReadTimeout   time.Duration `yaml:"read_timeout"`
	// RunTimeout bounds a single workflow run started over HTTP.
	RunTimeout time.Duration `yaml:"run_timeout"`
}

// TelemetryConfig holds configuration for OpenTelemetry.
type TelemetryConfig struct {
	OTLPEndpoint string  `yaml:"otlp_endpoint"`
	Insecure     bool    `yaml:"insecure"`
	Environment  string  `yaml:"environment"`
	SampleRatio  float64 `yaml:"sample_ratio"`
}

// LoggingConfig holds configuration for logging.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// EngineConfig bounds workflow and plan execution.
type EngineConfig struct {
	MaxConcurrency int           `yaml:"max_concurrency"`
	TaskTimeout    time.Duration `yaml:"task_timeout"`
	ModelTimeout   time.Duration `yaml:"model_timeout"`
	TaskRetries    int           `yaml:"task_retries"`
	MaxActivations int           `yaml:"max_activations"`
	// BreakerFailures is the consecutive failure count that opens a
	// worker's circuit. Zero disables the breaker.
	BreakerFailures int           `yaml:"breaker_failures"`
	BreakerCooldown time.Duration `yaml:"breaker_cooldown"`
}

// ModelConfig selects the model provider shared by the planner, reviewer,
// clarifier and LLM workers.
type ModelConfig struct {
	Provider  string `yaml:"provider"`
	Model     string `yaml:"model"`
	BaseURL   string `yaml:"base_url"`
	APIKeyEnv string `yaml:"api_key_env"`
}

// APIKey resolves the provider key from the configured environment variable.
func (c ModelConfig) APIKey() string {
	if c.APIKeyEnv == "" {
		return ""
	}
	return os.Getenv(c.APIKeyEnv)
}

// AgentsConfig points at the directory of agent definition files.
type AgentsConfig struct {
	Dir string `yaml:"dir"`
	// Watch reloads agent definitions when files in Dir change.
	Watch bool `yaml:"watch"`
}

// Worker kinds.
const (
	WorkerKindLLM  = "llm"
	WorkerKindHTTP = "http"
)

// WorkerConfig registers one worker.
type WorkerConfig struct {
	ID          string           `yaml:"id"`
	Kind        string           `yaml:"kind"`
	Description string           `yaml:"description"`
	Agent       string           `yaml:"agent"`
	Endpoint    string           `yaml:"endpoint"`
	RateLimit   *RateLimitConfig `yaml:"rate_limit,omitempty"`
}

// RateLimitConfig is a token bucket applied to calls to one worker.
type RateLimitConfig struct {
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	Burst             int     `yaml:"burst"`
}

// Storage drivers.
const (
	StorageMemory = "memory"
	StorageSQLite = "sqlite"
)

// StorageConfig selects the conversation history store.
type StorageConfig struct {
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
}

// Default returns a configuration with every default applied.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			ListenAddress: ":8095",
			ReadTimeout:   10 * time.Second,
			RunTimeout:    5 * time.Minute,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Engine: EngineConfig{
			MaxConcurrency:  4,
			TaskTimeout:     2 * time.Minute,
			ModelTimeout:    time.Minute,
			TaskRetries:     2,
			MaxActivations:  1000,
			BreakerFailures: 5,
			BreakerCooldown: 30 * time.Second,
		},
		Model: ModelConfig{
			Provider:  "openai",
			Model:     "gpt-4o-mini",
			APIKeyEnv: "OPENAI_API_KEY",
		},
		Agents: AgentsConfig{
			Dir: "agents",
		},
		Storage: StorageConfig{
			Driver: StorageMemory,
		},
	}
}

// Load reads configuration from a file and applies environment variable overrides.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		//nolint:gosec // Config file path is controlled by the operator
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

func applyEnvOverrides(cfg *Config) error {
	if val := os.Getenv("TRIAGE_LISTEN_ADDR"); val != "" {
		cfg.Server.ListenAddress = val
	}

	if val := os.Getenv("TRIAGE_OTLP_ENDPOINT"); val != "" {
		cfg.Telemetry.OTLPEndpoint = val
	}
	if val := os.Getenv("TRIAGE_OTLP_INSECURE"); val == "true" {
		cfg.Telemetry.Insecure = true
	}

	if val := os.Getenv("TRIAGE_LOG_LEVEL"); val != "" {
		cfg.Logging.Level = val
	}

	if val := os.Getenv("TRIAGE_MODEL"); val != "" {
		cfg.Model.Model = val
	}
	if val := os.Getenv("TRIAGE_MODEL_BASE_URL"); val != "" {
		cfg.Model.BaseURL = val
	}

	if val := os.Getenv("TRIAGE_MAX_CONCURRENCY"); val != "" {
		n, err := strconv.Atoi(val)
		if err != nil {
			return fmt.Errorf("%w: TRIAGE_MAX_CONCURRENCY=%q is not an integer", domain.ErrConfigInvalid, val)
		}
		cfg.Engine.MaxConcurrency = n
	}

	if val := os.Getenv("TRIAGE_STORAGE_DSN"); val != "" {
		cfg.Storage.DSN = val
	}
	return nil
}

// Validate performs validation of every section. Errors wrap
// domain.ErrConfigInvalid.
func (c *Config) Validate() error {
	var errs []error

	if err := c.Server.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("server configuration: %w", err))
	}
	if err := c.Telemetry.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("telemetry configuration: %w", err))
	}
	if err := c.Logging.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("logging configuration: %w", err))
	}
	if err := c.Engine.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("engine configuration: %w", err))
	}
	if err := c.Model.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("model configuration: %w", err))
	}
	if err := c.validateWorkers(); err != nil {
		errs = append(errs, fmt.Errorf("workers configuration: %w", err))
	}
	if err := c.Storage.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("storage configuration: %w", err))
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", domain.ErrConfigInvalid, errors.Join(errs...))
	}
	return nil
}

// Validate performs validation of server configuration.
func (c *ServerConfig) Validate() error {
	if strings.TrimSpace(c.ListenAddress) == "" {
		c.ListenAddress = ":8095"
	}
	if c.ReadTimeout < 0 || c.RunTimeout < 0 {
		return errors.New("timeouts must not be negative")
	}
	return nil
}

// Validate performs validation of telemetry configuration.
func (c *TelemetryConfig) Validate() error {
	if c.SampleRatio < 0 || c.SampleRatio > 1 {
		return fmt.Errorf("sample_ratio %v must be within [0, 1]", c.SampleRatio)
	}
	return nil
}

// Validate performs validation of logging configuration.
func (c *LoggingConfig) Validate() error {
	if strings.TrimSpace(c.Level) == "" {
		c.Level = "info"
	}
	level := strings.TrimSpace(strings.ToLower(c.Level))
	switch level {
	case "debug", "info", "warn", "error":
		c.Level = level
	default:
		return fmt.Errorf("invalid log level %q, supported levels: debug, info, warn, error", c.Level)
	}

	format := strings.TrimSpace(strings.ToLower(c.Format))
	switch format {
	case "":
		c.Format = "json"
	case "json", "text":
		c.Format = format
	default:
		return fmt.Errorf("invalid log format %q, supported formats: json, text", c.Format)
	}
	return nil
}

// Validate performs validation of engine limits.
func (c *EngineConfig) Validate() error {
	if c.MaxConcurrency < 1 {
		return fmt.Errorf("max_concurrency must be at least 1, got %d", c.MaxConcurrency)
	}
	if c.TaskTimeout <= 0 {
		return fmt.Errorf("task_timeout must be positive, got %s", c.TaskTimeout)
	}
	if c.ModelTimeout <= 0 {
		return fmt.Errorf("model_timeout must be positive, got %s", c.ModelTimeout)
	}
	if c.TaskRetries < 0 {
		return fmt.Errorf("task_retries must not be negative, got %d", c.TaskRetries)
	}
	if c.MaxActivations < 0 {
		return fmt.Errorf("max_activations must not be negative, got %d", c.MaxActivations)
	}
	if c.BreakerFailures < 0 {
		return fmt.Errorf("breaker_failures must not be negative, got %d", c.BreakerFailures)
	}
	return nil
}

// Validate performs validation of the model provider selection.
func (c *ModelConfig) Validate() error {
	switch strings.ToLower(strings.TrimSpace(c.Provider)) {
	case "openai", "openrouter":
		c.Provider = strings.ToLower(strings.TrimSpace(c.Provider))
	default:
		return fmt.Errorf("unsupported provider %q, supported providers: openai, openrouter", c.Provider)
	}
	if strings.TrimSpace(c.Model) == "" {
		return errors.New("model is required")
	}
	return nil
}

func (c *Config) validateWorkers() error {
	seen := make(map[string]bool, len(c.Workers))
	for i := range c.Workers {
		w := &c.Workers[i]
		if _, err := domain.ParseWorkerID(w.ID); err != nil {
			return fmt.Errorf("worker %d: %w", i, err)
		}
		if seen[w.ID] {
			return fmt.Errorf("worker %q is declared twice", w.ID)
		}
		seen[w.ID] = true

		if w.Kind == "" {
			w.Kind = WorkerKindLLM
		}
		switch w.Kind {
		case WorkerKindLLM:
			if w.Agent == "" {
				w.Agent = w.ID
			}
		case WorkerKindHTTP:
			if w.Endpoint == "" {
				return fmt.Errorf("worker %q: http workers need an endpoint", w.ID)
			}
		default:
			return fmt.Errorf("worker %q: unsupported kind %q", w.ID, w.Kind)
		}

		if rl := w.RateLimit; rl != nil && (rl.RequestsPerSecond <= 0 || rl.Burst < 1) {
			return fmt.Errorf("worker %q: rate_limit needs requests_per_second > 0 and burst >= 1", w.ID)
		}
	}
	return nil
}

// Validate performs validation of the history store selection.
func (c *StorageConfig) Validate() error {
	switch c.Driver {
	case "":
		c.Driver = StorageMemory
	case StorageMemory:
	case StorageSQLite:
		if strings.TrimSpace(c.DSN) == "" {
			return errors.New("sqlite storage needs a dsn")
		}
	default:
		return fmt.Errorf("unsupported storage driver %q, supported drivers: memory, sqlite", c.Driver)
	}
	return nil
}
