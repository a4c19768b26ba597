// Package config provides application configuration.
//
// Values come from an optional YAML file named by CONFIG_FILE and are then
// overridden by environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/containerd/errdefs"
	"gopkg.in/yaml.v3"

	"github.com/dakarenzi/AI-Tutor/internal/ratelimit"
)

// Rate limit backends.
const (
	RateLimitMemory = "memory"
	RateLimitRedis  = "redis"
	RateLimitSQLite = "sqlite"
)

// Model providers.
const (
	ProviderGemini    = "gemini"
	ProviderAnthropic = "anthropic"
	ProviderOpenAI    = "openai"
	ProviderGRPC      = "grpc"
)

// Config holds all application configuration.
type Config struct {
	Port           string   `yaml:"port"`
	AllowedOrigins []string `yaml:"allowed_origins"`
	DBPath         string   `yaml:"db_path"`

	RateLimit  RateLimitConfig  `yaml:"rate_limit"`
	Model      ModelConfig      `yaml:"model"`
	Tutor      TutorConfig      `yaml:"tutor"`
	Transcript TranscriptConfig `yaml:"transcript"`

	MetricsEnabled bool `yaml:"metrics_enabled"`
}

// RateLimitConfig selects the quota backend and limits.
type RateLimitConfig struct {
	ratelimit.Config `yaml:",inline"`
	Backend          string `yaml:"backend"`
	Scope            string `yaml:"scope"`
	RedisURL         string `yaml:"redis_url"`
}

// ModelConfig selects and tunes the model backend.
type ModelConfig struct {
	Provider    string        `yaml:"provider"`
	Name        string        `yaml:"name"`
	APIKey      string        `yaml:"-"`
	BaseURL     string        `yaml:"base_url"`
	GRPCAddr    string        `yaml:"grpc_addr"`
	MaxTokens   int           `yaml:"max_tokens"`
	Temperature float64       `yaml:"temperature"`
	Timeout     time.Duration `yaml:"timeout"`
	MaxRetries  int           `yaml:"max_retries"`
}

// TutorConfig tunes the pipeline.
type TutorConfig struct {
	ShortTermSize      int           `yaml:"short_term_size"`
	SessionIdleTimeout time.Duration `yaml:"session_idle_timeout"`
	MaxMessageLength   int           `yaml:"max_message_length"`
	MaxResponseLength  int           `yaml:"max_response_length"`
	SweepInterval      time.Duration `yaml:"sweep_interval"`
}

// TranscriptConfig controls NDJSON conversation transcripts.
type TranscriptConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Dir       string `yaml:"dir"`
	QueueSize int    `yaml:"queue_size"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Port:           "8080",
		AllowedOrigins: []string{"*"},
		DBPath:         "./data/tutor.db",
		RateLimit: RateLimitConfig{
			Config:  ratelimit.DefaultConfig(),
			Backend: RateLimitMemory,
			Scope:   string(ratelimit.ScopeUser),
		},
		Model: ModelConfig{
			Provider:    ProviderGemini,
			MaxTokens:   2048,
			Temperature: 0.7,
			Timeout:     30 * time.Second,
			MaxRetries:  3,
		},
		Tutor: TutorConfig{
			ShortTermSize:      5,
			SessionIdleTimeout: 30 * time.Minute,
			MaxMessageLength:   2000,
			MaxResponseLength:  1000,
			SweepInterval:      5 * time.Minute,
		},
		Transcript: TranscriptConfig{
			Enabled:   true,
			Dir:       "./data/logs/transcripts",
			QueueSize: 1000,
		},
		MetricsEnabled: true,
	}
}

// Load builds the configuration from defaults, CONFIG_FILE and the environment.
func Load() (*Config, error) {
	cfg := Default()
	if path := getEnv("CONFIG_FILE", ""); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}
	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() {
	c.Port = getEnv("PORT", c.Port)
	if origins := getEnv("ALLOWED_ORIGINS", ""); origins != "" {
		c.AllowedOrigins = splitList(origins)
	}
	c.DBPath = getEnv("DB_PATH", c.DBPath)

	rl := &c.RateLimit
	rl.PerMinute = getEnvInt("RATE_LIMIT_PER_MINUTE", rl.PerMinute)
	rl.PerHour = getEnvInt("RATE_LIMIT_PER_HOUR", rl.PerHour)
	rl.PerDay = getEnvInt("RATE_LIMIT_PER_DAY", rl.PerDay)
	rl.Backend = strings.ToLower(getEnv("RATE_LIMIT_BACKEND", rl.Backend))
	rl.Scope = strings.ToLower(getEnv("RATE_LIMIT_SCOPE", rl.Scope))
	rl.RedisURL = getEnv("REDIS_URL", rl.RedisURL)

	m := &c.Model
	m.Provider = strings.ToLower(getEnv("MODEL_PROVIDER", m.Provider))
	m.Name = getEnv("MODEL_NAME", m.Name)
	m.BaseURL = getEnv("MODEL_BASE_URL", m.BaseURL)
	m.GRPCAddr = getEnv("MODEL_GRPC_ADDR", m.GRPCAddr)
	m.MaxTokens = getEnvInt("MODEL_MAX_TOKENS", m.MaxTokens)
	m.Temperature = getEnvFloat("MODEL_TEMPERATURE", m.Temperature)
	m.Timeout = getEnvDuration("MODEL_TIMEOUT", m.Timeout)
	m.MaxRetries = getEnvInt("MODEL_MAX_RETRIES", m.MaxRetries)
	m.APIKey = getEnv("MODEL_API_KEY", m.APIKey)
	if m.APIKey == "" {
		m.APIKey = getEnv(providerKeyEnv(m.Provider), "")
	}

	t := &c.Tutor
	t.ShortTermSize = getEnvInt("SHORT_TERM_MEMORY_SIZE", t.ShortTermSize)
	t.SessionIdleTimeout = getEnvDuration("SESSION_IDLE_TIMEOUT", t.SessionIdleTimeout)
	t.MaxMessageLength = getEnvInt("MAX_MESSAGE_LENGTH", t.MaxMessageLength)
	t.MaxResponseLength = getEnvInt("MAX_RESPONSE_LENGTH", t.MaxResponseLength)
	t.SweepInterval = getEnvDuration("SWEEP_INTERVAL", t.SweepInterval)

	tr := &c.Transcript
	tr.Enabled = getEnvBool("TRANSCRIPT_ENABLED", tr.Enabled)
	tr.Dir = getEnv("TRANSCRIPT_DIR", tr.Dir)
	tr.QueueSize = getEnvInt("TRANSCRIPT_QUEUE_SIZE", tr.QueueSize)

	c.MetricsEnabled = getEnvBool("METRICS_ENABLED", c.MetricsEnabled)
}

func providerKeyEnv(provider string) string {
	switch provider {
	case ProviderAnthropic:
		return "ANTHROPIC_API_KEY"
	case ProviderOpenAI:
		return "OPENAI_API_KEY"
	default:
		return "GEMINI_API_KEY"
	}
}

// Validate rejects impossible values.
func (c *Config) Validate() error {
	invalid := func(format string, args ...any) error {
		return fmt.Errorf(format+": %w", append(args, errdefs.ErrInvalidArgument)...)
	}

	if c.Port == "" {
		return invalid("PORT cannot be empty")
	}
	if c.DBPath == "" {
		return invalid("DB_PATH cannot be empty")
	}
	if err := c.RateLimit.Config.Validate(); err != nil {
		return err
	}
	switch c.RateLimit.Backend {
	case RateLimitMemory, RateLimitSQLite:
	case RateLimitRedis:
		if c.RateLimit.RedisURL == "" {
			return invalid("REDIS_URL is required for the redis rate limit backend")
		}
	default:
		return invalid("unknown RATE_LIMIT_BACKEND %q", c.RateLimit.Backend)
	}
	switch ratelimit.Scope(c.RateLimit.Scope) {
	case ratelimit.ScopeIP, ratelimit.ScopeUser, ratelimit.ScopeSession:
	default:
		return invalid("unknown RATE_LIMIT_SCOPE %q", c.RateLimit.Scope)
	}

	switch c.Model.Provider {
	case ProviderGemini, ProviderAnthropic, ProviderOpenAI:
	case ProviderGRPC:
		if c.Model.GRPCAddr == "" {
			return invalid("MODEL_GRPC_ADDR is required for the grpc provider")
		}
	default:
		return invalid("unknown MODEL_PROVIDER %q", c.Model.Provider)
	}
	if c.Model.MaxTokens <= 0 {
		return invalid("MODEL_MAX_TOKENS must be > 0")
	}
	if c.Model.Temperature < 0 || c.Model.Temperature > 2 {
		return invalid("MODEL_TEMPERATURE must be within [0, 2]")
	}
	if c.Model.Timeout <= 0 {
		return invalid("MODEL_TIMEOUT must be > 0")
	}
	if c.Model.MaxRetries < 0 {
		return invalid("MODEL_MAX_RETRIES must be >= 0")
	}

	if c.Tutor.ShortTermSize <= 0 {
		return invalid("SHORT_TERM_MEMORY_SIZE must be > 0")
	}
	if c.Tutor.MaxMessageLength <= 0 || c.Tutor.MaxResponseLength <= 0 {
		return invalid("message and response length limits must be > 0")
	}
	if c.Tutor.SessionIdleTimeout <= 0 {
		return invalid("SESSION_IDLE_TIMEOUT must be > 0")
	}

	if c.Transcript.Enabled {
		if c.Transcript.Dir == "" {
			return invalid("TRANSCRIPT_DIR cannot be empty")
		}
		if c.Transcript.QueueSize <= 0 {
			return invalid("TRANSCRIPT_QUEUE_SIZE must be > 0")
		}
	}
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

func getEnvFloat(key string, fallback float64) float64 {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return fallback
	}
	return f
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return d
}
