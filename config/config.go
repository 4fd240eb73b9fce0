// Package config loads the console configuration from YAML.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	redisstore "github.com/KamdynS/agentconsole/adapters/redis"
	sqsqueue "github.com/KamdynS/agentconsole/adapters/sqs"
	"github.com/KamdynS/agentconsole/agent"
	"github.com/KamdynS/agentconsole/llm"
)

// ErrInvalidConfig is returned when the configuration is invalid.
var ErrInvalidConfig = errors.New("invalid configuration")

// Backend kinds.
const (
	KindMemory   = "memory"
	KindRedis    = "redis"
	KindPostgres = "postgres"
	KindSQS      = "sqs"
)

// Provider names.
const (
	ProviderAnthropic = "anthropic"
	ProviderOpenAI    = "openai"
)

// Config is the root configuration.
type Config struct {
	HTTP      HTTPConfig         `yaml:"http"`
	Store     StoreConfig        `yaml:"store"`
	Queue     QueueConfig        `yaml:"queue"`
	Providers ProvidersConfig    `yaml:"providers"`
	Agents    []agent.Definition `yaml:"agents"`
	Worker    WorkerConfig       `yaml:"worker"`
	Log       LogConfig          `yaml:"log"`
}

// HTTPConfig configures the admin API.
type HTTPConfig struct {
	Addr              string        `yaml:"addr"`
	PollInterval      time.Duration `yaml:"pollInterval"`
	HeartbeatInterval time.Duration `yaml:"heartbeatInterval"`
	ReadTimeout       time.Duration `yaml:"readTimeout"`
	WriteTimeout      time.Duration `yaml:"writeTimeout"`
}

// StoreConfig selects the state backend.
type StoreConfig struct {
	Kind     string            `yaml:"kind"`
	Redis    redisstore.Config `yaml:"redis"`
	Postgres PostgresConfig    `yaml:"postgres"`
}

// PostgresConfig configures the Postgres store.
type PostgresConfig struct {
	URL string `yaml:"url"`
	// Migrate applies the schema at startup.
	Migrate bool `yaml:"migrate"`
}

// QueueConfig selects the run queue backend.
type QueueConfig struct {
	Kind              string           `yaml:"kind"`
	Name              string           `yaml:"name"`
	VisibilityTimeout time.Duration    `yaml:"visibilityTimeout"`
	EnableDLQ         bool             `yaml:"enableDLQ"`
	Redis             RedisQueueConfig `yaml:"redis"`
	SQS               sqsqueue.Config  `yaml:"sqs"`
}

// RedisQueueConfig configures the Redis run queue.
type RedisQueueConfig struct {
	Addr       string        `yaml:"addr"`
	Username   string        `yaml:"username"`
	Password   string        `yaml:"password"`
	DB         int           `yaml:"db"`
	Namespace  string        `yaml:"namespace"`
	PopTimeout time.Duration `yaml:"popTimeout"`
}

// ProvidersConfig configures LLM providers.
type ProvidersConfig struct {
	// Default names the provider used by agents without one.
	Default   string          `yaml:"default"`
	Anthropic *ProviderConfig `yaml:"anthropic"`
	OpenAI    *ProviderConfig `yaml:"openai"`
}

// ProviderConfig holds settings shared by provider clients.
type ProviderConfig struct {
	APIKey       string          `yaml:"apiKey"`
	Model        string          `yaml:"model"`
	BaseURL      string          `yaml:"baseURL"`
	Organization string          `yaml:"organization"`
	Temperature  float64         `yaml:"temperature"`
	MaxTokens    int             `yaml:"maxTokens"`
	Timeout      time.Duration   `yaml:"timeout"`
	Retry        llm.RetryConfig `yaml:"retry"`
	// DisableStreaming sends non-streaming requests, for gateways that
	// cannot proxy server-sent events.
	DisableStreaming bool `yaml:"disableStreaming"`
}

// WorkerConfig configures the in-process run worker.
type WorkerConfig struct {
	ID           string        `yaml:"id"`
	Concurrency  int           `yaml:"concurrency"`
	PollInterval time.Duration `yaml:"pollInterval"`
	MaxAttempts  int           `yaml:"maxAttempts"`
	RunTimeout   time.Duration `yaml:"runTimeout"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level string `yaml:"level"`
}

// Default returns a configuration using in-memory backends.
func Default() *Config {
	c := &Config{}
	c.applyDefaults()
	return c
}

// Load reads path, applies defaults and environment overrides, and validates.
func Load(path string) (*Config, error) {
	return load(path, os.Getenv)
}

// The file is decoded over Default, so keys it omits keep their defaults.
func load(path string, getenv func(string) string) (*Config, error) {
	c := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		if err := yaml.Unmarshal(data, c); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	}
	c.applyEnv(getenv)
	c.applyDefaults()
	if err := c.validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Config) applyDefaults() {
	if c.HTTP.Addr == "" {
		c.HTTP.Addr = ":8080"
	}
	if c.HTTP.PollInterval == 0 {
		c.HTTP.PollInterval = 500 * time.Millisecond
	}
	if c.HTTP.HeartbeatInterval == 0 {
		c.HTTP.HeartbeatInterval = 15 * time.Second
	}
	if c.HTTP.ReadTimeout == 0 {
		c.HTTP.ReadTimeout = 10 * time.Second
	}
	if c.Store.Kind == "" {
		c.Store.Kind = KindMemory
	}
	if c.Queue.Kind == "" {
		c.Queue.Kind = KindMemory
	}
	if c.Queue.Name == "" {
		c.Queue.Name = "runs"
	}
	if c.Queue.VisibilityTimeout == 0 {
		c.Queue.VisibilityTimeout = 5 * time.Minute
	}
	if c.Providers.Default == "" {
		switch {
		case c.Providers.Anthropic != nil:
			c.Providers.Default = ProviderAnthropic
		case c.Providers.OpenAI != nil:
			c.Providers.Default = ProviderOpenAI
		}
	}
	for _, p := range []*ProviderConfig{c.Providers.Anthropic, c.Providers.OpenAI} {
		if p != nil && p.Retry.MaxRetries == 0 {
			p.Retry = llm.DefaultRetryConfig()
		}
	}
	if c.Worker.Concurrency == 0 {
		c.Worker.Concurrency = 5
	}
	if c.Worker.PollInterval == 0 {
		c.Worker.PollInterval = time.Second
	}
	if c.Worker.MaxAttempts == 0 {
		c.Worker.MaxAttempts = 3
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
}

// applyEnv lets secrets and endpoints come from the environment.
func (c *Config) applyEnv(getenv func(string) string) {
	if v := getenv("ANTHROPIC_API_KEY"); v != "" {
		if c.Providers.Anthropic == nil {
			c.Providers.Anthropic = &ProviderConfig{}
		}
		c.Providers.Anthropic.APIKey = v
	}
	if v := getenv("OPENAI_API_KEY"); v != "" {
		if c.Providers.OpenAI == nil {
			c.Providers.OpenAI = &ProviderConfig{}
		}
		c.Providers.OpenAI.APIKey = v
	}
	if v := getenv("REDIS_ADDR"); v != "" {
		c.Store.Redis.Addr = v
		c.Queue.Redis.Addr = v
	}
	if v := getenv("DATABASE_URL"); v != "" {
		c.Store.Postgres.URL = v
	}
	if v := getenv("SQS_QUEUE_URL"); v != "" {
		c.Queue.SQS.QueueURL = v
	}
}

func (c *Config) validate() error {
	switch c.Store.Kind {
	case KindMemory:
	case KindRedis:
		if c.Store.Redis.Addr == "" {
			return fmt.Errorf("%w: store.redis.addr is required", ErrInvalidConfig)
		}
	case KindPostgres:
		if c.Store.Postgres.URL == "" {
			return fmt.Errorf("%w: store.postgres.url is required", ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: unknown store kind %q", ErrInvalidConfig, c.Store.Kind)
	}

	switch c.Queue.Kind {
	case KindMemory:
	case KindRedis:
		if c.Queue.Redis.Addr == "" {
			return fmt.Errorf("%w: queue.redis.addr is required", ErrInvalidConfig)
		}
	case KindSQS:
		if c.Queue.SQS.QueueURL == "" {
			return fmt.Errorf("%w: queue.sqs.queueURL is required", ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: unknown queue kind %q", ErrInvalidConfig, c.Queue.Kind)
	}

	if c.Providers.Default != "" && !c.hasProvider(c.Providers.Default) {
		return fmt.Errorf("%w: default provider %q is not configured", ErrInvalidConfig, c.Providers.Default)
	}
	seen := make(map[string]bool, len(c.Agents))
	for i, a := range c.Agents {
		if a.ID == "" {
			return fmt.Errorf("%w: agents[%d].id is required", ErrInvalidConfig, i)
		}
		if seen[a.ID] {
			return fmt.Errorf("%w: duplicate agent %q", ErrInvalidConfig, a.ID)
		}
		seen[a.ID] = true
		provider := a.Provider
		if provider == "" {
			provider = c.Providers.Default
		}
		if !c.hasProvider(provider) {
			return fmt.Errorf("%w: agent %q has no configured provider", ErrInvalidConfig, a.ID)
		}
	}

	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("%w: unknown log level %q", ErrInvalidConfig, c.Log.Level)
	}
	return nil
}

func (c *Config) hasProvider(name string) bool {
	switch name {
	case ProviderAnthropic:
		return c.Providers.Anthropic != nil
	case ProviderOpenAI:
		return c.Providers.OpenAI != nil
	}
	return false
}
