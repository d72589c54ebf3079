package common

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/pelletier/go-toml/v2"
)

// Config represents the application configuration
type Config struct {
	Environment string            `toml:"environment"` // "development" or "production"
	Server      ServerConfig      `toml:"server"`
	Storage     StorageConfig     `toml:"storage"`
	Broker      BrokerConfig      `toml:"broker"`
	Scheduler   SchedulerConfig   `toml:"scheduler"`
	Auth        AuthConfig        `toml:"auth"`
	ObjectStore ObjectStoreConfig `toml:"objectstore"`
	Logging     LoggingConfig     `toml:"logging"`
	WebSocket   WebSocketConfig   `toml:"websocket"`
	LLM         LLMConfig         `toml:"llm"`
	Workers     WorkersConfig     `toml:"workers"`
}

type ServerConfig struct {
	Port int    `toml:"port" validate:"min=0,max=65535"`
	Host string `toml:"host"`
}

type StorageConfig struct {
	Badger BadgerConfig `toml:"badger"`
}

// BadgerConfig represents BadgerDB-specific configuration
type BadgerConfig struct {
	Path           string `toml:"path"`             // Database directory path
	ResetOnStartup bool   `toml:"reset_on_startup"` // Delete database on startup for clean test runs
}

// BrokerConfig configures the durable task queues.
type BrokerConfig struct {
	PollInterval      string `toml:"poll_interval"`                       // e.g., "1s" - how often consumers poll for messages
	Concurrency       int    `toml:"concurrency" validate:"min=1"`        // Number of concurrent consumers per queue
	VisibilityTimeout string `toml:"visibility_timeout"`                  // e.g., "5m" - message visibility timeout for redelivery
	MaxReceive        int    `toml:"max_receive" validate:"min=1,max=10"` // Max times a message can be received before dead-letter
}

// SchedulerConfig configures the periodic tick loop.
type SchedulerConfig struct {
	TickInterval  string `toml:"tick_interval"`                   // Cadence of the scheduler loop (default "30s")
	RetentionDays int    `toml:"retention_days" validate:"min=1"` // Terminal jobs older than this are garbage-collected
	TaskTimeout   string `toml:"task_timeout"`                    // RUNNING tasks older than this are failed (retryable)
	MaxRetries    int    `toml:"max_retries" validate:"min=0"`    // Max automatic retries per task
}

// AuthConfig carries the bearer-token verification settings.
type AuthConfig struct {
	JWTSecret string `toml:"jwt_secret"`
}

// ObjectStoreConfig is passed through to workers; the core only tracks storage keys.
type ObjectStoreConfig struct {
	Endpoint  string `toml:"endpoint"`
	Bucket    string `toml:"bucket"`
	AccessKey string `toml:"access_key"`
	SecretKey string `toml:"secret_key"`
}

type LoggingConfig struct {
	Level         string   `toml:"level" validate:"omitempty,oneof=debug info warn error"`
	Format        string   `toml:"format"`          // "json" or "text"
	Output        []string `toml:"output"`          // "stdout", "file"
	MinEventLevel string   `toml:"min_event_level"` // Minimum log level to publish as events
}

// WebSocketConfig contains configuration for the task-event push stream
type WebSocketConfig struct {
	// Whitelist of event types to broadcast. Empty list allows all events.
	AllowedEvents []string `toml:"allowed_events"`
	// Throttle intervals for high-frequency events. Map of event type to duration string.
	ThrottleIntervals map[string]string `toml:"throttle_intervals"`
}

// LLMProviderKind identifies a provider implementation.
type LLMProviderKind string

const (
	LLMProviderClaude LLMProviderKind = "claude"
	LLMProviderGemini LLMProviderKind = "gemini"
	LLMProviderOpenAI LLMProviderKind = "openai"
)

// LLMProviderConfig configures one provider in the planner fan-out chain.
type LLMProviderConfig struct {
	Provider    LLMProviderKind `toml:"provider"` // "claude", "gemini", or "openai"
	APIKey      string          `toml:"api_key"`
	Model       string          `toml:"model"`
	BaseURL     string          `toml:"base_url"`
	MaxTokens   int             `toml:"max_tokens"`
	Temperature float32         `toml:"temperature"`
}

// LLMConfig holds the ordered provider chain: primary first, fallbacks after.
type LLMConfig struct {
	Providers []LLMProviderConfig `toml:"providers"`
	Timeout   string              `toml:"timeout"` // Per-call timeout as duration string
}

// WorkersConfig controls the embedded worker pool (single-binary deployments and tests).
type WorkersConfig struct {
	Embedded    bool `toml:"embedded"`    // Run workers in-process
	Concurrency int  `toml:"concurrency"` // Consumers per agent queue
}

// NewDefaultConfig creates a configuration with default values.
// Technical parameters are hardcoded here for production stability.
// Only user-facing settings should be exposed in maestro.toml.
func NewDefaultConfig() *Config {
	return &Config{
		Environment: "development",
		Server: ServerConfig{
			Port: 8080,
			Host: "localhost",
		},
		Storage: StorageConfig{
			Badger: BadgerConfig{
				Path: "./data",
			},
		},
		Broker: BrokerConfig{
			PollInterval:      "1s",
			Concurrency:       4,
			VisibilityTimeout: "5m",
			MaxReceive:        3,
		},
		Scheduler: SchedulerConfig{
			TickInterval:  "30s",
			RetentionDays: 7,
			TaskTimeout:   "10m",
			MaxRetries:    3,
		},
		Auth: AuthConfig{
			JWTSecret: "", // Empty disables token verification in development
		},
		ObjectStore: ObjectStoreConfig{
			Bucket: "maestro-artifacts",
		},
		Logging: LoggingConfig{
			Level:         "info",
			Format:        "text",
			Output:        []string{"stdout", "file"},
			MinEventLevel: "info",
		},
		WebSocket: WebSocketConfig{
			AllowedEvents: []string{},
			ThrottleIntervals: map[string]string{
				"task_event": "1s",
			},
		},
		LLM: LLMConfig{
			Providers: []LLMProviderConfig{
				{Provider: LLMProviderClaude, Model: "claude-haiku-3-5-20241022", MaxTokens: 8192, Temperature: 0.2},
				{Provider: LLMProviderGemini, Model: "gemini-3-flash-preview", MaxTokens: 8192, Temperature: 0.2},
				{Provider: LLMProviderOpenAI, Model: "gpt-4o-mini", MaxTokens: 8192, Temperature: 0.2},
			},
			Timeout: "2m",
		},
		Workers: WorkersConfig{
			Embedded:    false,
			Concurrency: 2,
		},
	}
}

// LoadFromFiles loads configuration from multiple files with priority:
// default -> file1 -> file2 -> ... -> env. Later files override earlier files.
func LoadFromFiles(paths ...string) (*Config, error) {
	config := NewDefaultConfig()

	for i, path := range paths {
		if path == "" {
			continue
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}

		if err := toml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s (file %d of %d): %w", path, i+1, len(paths), err)
		}
	}

	applyEnvOverrides(config)

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

var configValidator = validator.New()

// Validate checks the loaded configuration against the struct constraints.
func (c *Config) Validate() error {
	if err := configValidator.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	for i, p := range c.LLM.Providers {
		switch p.Provider {
		case LLMProviderClaude, LLMProviderGemini, LLMProviderOpenAI:
		default:
			return fmt.Errorf("invalid configuration: llm provider %d has unknown kind %q", i, p.Provider)
		}
	}
	return nil
}

// applyEnvOverrides applies environment variable overrides to config
func applyEnvOverrides(config *Config) {
	if env := os.Getenv("MAESTRO_ENV"); env != "" {
		config.Environment = env
	} else if env := os.Getenv("GO_ENV"); env != "" {
		config.Environment = env
	}

	if port := os.Getenv("MAESTRO_SERVER_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.Server.Port = p
		}
	}
	if host := os.Getenv("MAESTRO_SERVER_HOST"); host != "" {
		config.Server.Host = host
	}

	if badgerPath := os.Getenv("MAESTRO_BADGER_PATH"); badgerPath != "" {
		config.Storage.Badger.Path = badgerPath
	}

	if pollInterval := os.Getenv("MAESTRO_BROKER_POLL_INTERVAL"); pollInterval != "" {
		config.Broker.PollInterval = pollInterval
	}
	if concurrency := os.Getenv("MAESTRO_BROKER_CONCURRENCY"); concurrency != "" {
		if c, err := strconv.Atoi(concurrency); err == nil {
			config.Broker.Concurrency = c
		}
	}
	if visibilityTimeout := os.Getenv("MAESTRO_BROKER_VISIBILITY_TIMEOUT"); visibilityTimeout != "" {
		config.Broker.VisibilityTimeout = visibilityTimeout
	}
	if maxReceive := os.Getenv("MAESTRO_BROKER_MAX_RECEIVE"); maxReceive != "" {
		if mr, err := strconv.Atoi(maxReceive); err == nil {
			config.Broker.MaxReceive = mr
		}
	}

	if tick := os.Getenv("MAESTRO_SCHEDULER_TICK_INTERVAL"); tick != "" {
		config.Scheduler.TickInterval = tick
	}
	if retention := os.Getenv("MAESTRO_RETENTION_DAYS"); retention != "" {
		if d, err := strconv.Atoi(retention); err == nil {
			config.Scheduler.RetentionDays = d
		}
	}
	if taskTimeout := os.Getenv("MAESTRO_TASK_TIMEOUT"); taskTimeout != "" {
		config.Scheduler.TaskTimeout = taskTimeout
	}
	if maxRetries := os.Getenv("MAESTRO_MAX_RETRIES"); maxRetries != "" {
		if mr, err := strconv.Atoi(maxRetries); err == nil {
			config.Scheduler.MaxRetries = mr
		}
	}

	if secret := os.Getenv("MAESTRO_JWT_SECRET"); secret != "" {
		config.Auth.JWTSecret = secret
	}

	if endpoint := os.Getenv("MAESTRO_OBJECTSTORE_ENDPOINT"); endpoint != "" {
		config.ObjectStore.Endpoint = endpoint
	}
	if bucket := os.Getenv("MAESTRO_OBJECTSTORE_BUCKET"); bucket != "" {
		config.ObjectStore.Bucket = bucket
	}
	if accessKey := os.Getenv("MAESTRO_OBJECTSTORE_ACCESS_KEY"); accessKey != "" {
		config.ObjectStore.AccessKey = accessKey
	}
	if secretKey := os.Getenv("MAESTRO_OBJECTSTORE_SECRET_KEY"); secretKey != "" {
		config.ObjectStore.SecretKey = secretKey
	}

	if level := os.Getenv("MAESTRO_LOG_LEVEL"); level != "" {
		config.Logging.Level = level
	}
	if format := os.Getenv("MAESTRO_LOG_FORMAT"); format != "" {
		config.Logging.Format = format
	}
	if output := os.Getenv("MAESTRO_LOG_OUTPUT"); output != "" {
		outputs := []string{}
		for _, o := range strings.Split(output, ",") {
			if trimmed := strings.TrimSpace(o); trimmed != "" {
				outputs = append(outputs, trimmed)
			}
		}
		if len(outputs) > 0 {
			config.Logging.Output = outputs
		}
	}

	// Provider API keys: standard env var names override config for each slot.
	for i := range config.LLM.Providers {
		p := &config.LLM.Providers[i]
		switch p.Provider {
		case LLMProviderClaude:
			if key := os.Getenv("ANTHROPIC_API_KEY"); key != "" {
				p.APIKey = key
			}
		case LLMProviderGemini:
			if key := os.Getenv("GEMINI_API_KEY"); key != "" {
				p.APIKey = key
			}
		case LLMProviderOpenAI:
			if key := os.Getenv("OPENAI_API_KEY"); key != "" {
				p.APIKey = key
			}
		}
	}

	if embedded := os.Getenv("MAESTRO_WORKERS_EMBEDDED"); embedded != "" {
		if e, err := strconv.ParseBool(embedded); err == nil {
			config.Workers.Embedded = e
		}
	}
}

// ApplyFlagOverrides applies command-line flag overrides to config
func ApplyFlagOverrides(config *Config, port int, host string) {
	if port > 0 {
		config.Server.Port = port
	}
	if host != "" {
		config.Server.Host = host
	}
}

// IsProduction returns true if the environment is set to production
func (c *Config) IsProduction() bool {
	env := strings.ToLower(strings.TrimSpace(c.Environment))
	return env == "production" || env == "prod"
}

// parseDuration parses a duration string, falling back to a default on error.
func parseDuration(value string, fallback time.Duration) time.Duration {
	if value == "" {
		return fallback
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return d
}

// GetPollInterval returns the parsed broker poll interval.
func (c *BrokerConfig) GetPollInterval() time.Duration {
	return parseDuration(c.PollInterval, time.Second)
}

// GetVisibilityTimeout returns the parsed message visibility timeout.
func (c *BrokerConfig) GetVisibilityTimeout() time.Duration {
	return parseDuration(c.VisibilityTimeout, 5*time.Minute)
}

// GetTickInterval returns the parsed scheduler tick interval.
func (c *SchedulerConfig) GetTickInterval() time.Duration {
	return parseDuration(c.TickInterval, 30*time.Second)
}

// GetTaskTimeout returns the parsed per-task wall-clock timeout.
func (c *SchedulerConfig) GetTaskTimeout() time.Duration {
	return parseDuration(c.TaskTimeout, 10*time.Minute)
}

// GetRetention returns the retention window for terminal jobs.
func (c *SchedulerConfig) GetRetention() time.Duration {
	days := c.RetentionDays
	if days <= 0 {
		days = 7
	}
	return time.Duration(days) * 24 * time.Hour
}

// GetTimeout returns the parsed per-call LLM timeout.
func (c *LLMConfig) GetTimeout() time.Duration {
	return parseDuration(c.Timeout, 2*time.Minute)
}
