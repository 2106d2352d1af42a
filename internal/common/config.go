package common

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
	"github.com/robfig/cron/v3"
)

// Config represents the application configuration
type Config struct {
	Environment string         `toml:"environment"` // "development" or "production"
	Server      ServerConfig   `toml:"server"`
	Queue       QueueConfig    `toml:"queue"`
	Storage     StorageConfig  `toml:"storage"`
	Pipeline    PipelineConfig `toml:"pipeline"`
	PDF         PDFConfig      `toml:"pdf"`
	Logging     LoggingConfig  `toml:"logging"`
	Gemini      GeminiConfig   `toml:"gemini"`
	Claude      ClaudeConfig   `toml:"claude"`
	LLM         LLMConfig      `toml:"llm"`
}

type ServerConfig struct {
	Enabled bool   `toml:"enabled"` // Serve the HTTP API alongside the workers
	Port    int    `toml:"port"`
	Host    string `toml:"host"`
}

type QueueConfig struct {
	Name              string `toml:"name"`               // Queue name prefix in Badger
	PollInterval      string `toml:"poll_interval"`      // e.g., "1s" - how often workers poll for messages
	Concurrency       int    `toml:"concurrency"`        // Number of concurrent workers
	VisibilityTimeout string `toml:"visibility_timeout"` // e.g., "15m" - message visibility timeout for redelivery
	Attempts          int    `toml:"attempts"`           // Attempts per job including the first
	BackoffDelay      string `toml:"backoff_delay"`      // Base delay for exponential backoff
	BackoffMax        string `toml:"backoff_max"`        // Upper bound for a single backoff delay
	KeepCompleted     int    `toml:"keep_completed"`     // Completed job records retained
	KeepFailed        int    `toml:"keep_failed"`        // Failed job records retained
	CompletedMaxAge   string `toml:"completed_max_age"`  // Completed job records older than this are pruned
	FailedMaxAge      string `toml:"failed_max_age"`     // Failed job records older than this are pruned
	CleanupSchedule   string `toml:"cleanup_schedule"`   // Cron schedule for retention cleanup
	ShutdownTimeout   string `toml:"shutdown_timeout"`   // Wait for in-flight jobs before requeueing them
}

type StorageConfig struct {
	Badger    BadgerConfig    `toml:"badger"`
	Artifacts ArtifactsConfig `toml:"artifacts"`
}

// BadgerConfig represents BadgerDB-specific configuration
type BadgerConfig struct {
	Path           string `toml:"path"`             // Database directory path
	ResetOnStartup bool   `toml:"reset_on_startup"` // Delete database on startup for clean test runs
}

// ArtifactsConfig controls where rendered documents are written and how they are addressed
type ArtifactsConfig struct {
	Dir           string `toml:"dir"`
	PublicBaseURL string `toml:"public_base_url"`
}

type PipelineConfig struct {
	ChapterCount              int    `toml:"chapter_count"`
	PagesPerChapter           int    `toml:"pages_per_chapter"`
	ChapterInterval           string `toml:"chapter_interval"` // Minimum spacing between chapter generation calls
	ChapterBurst              int    `toml:"chapter_burst"`
	DescriptionRepairAttempts int    `toml:"description_repair_attempts"` // Re-prompts after a malformed description
}

type PDFConfig struct {
	Enabled  bool    `toml:"enabled"`
	PageSize string  `toml:"page_size"` // "A4" or "Letter"
	MarginMM float64 `toml:"margin_mm"`
}

type LoggingConfig struct {
	Level      string   `toml:"level"`       // "debug", "info", "warn", "error"
	Output     []string `toml:"output"`      // "stdout", "file"
	TimeFormat string   `toml:"time_format"` // Console/file timestamp layout
	Dir        string   `toml:"dir"`         // Log directory; empty means ./logs next to the executable
}

type GeminiConfig struct {
	APIKey      string  `toml:"api_key"`     // Google Gemini API key
	Model       string  `toml:"model"`       // Model for generation (default: "gemini-3-flash-preview")
	Timeout     string  `toml:"timeout"`     // Per-call timeout as duration string (default: "5m")
	Temperature float32 `toml:"temperature"` // Completion temperature (default: 0.7)
}

type ClaudeConfig struct {
	APIKey      string  `toml:"api_key"`     // Anthropic API key
	Model       string  `toml:"model"`       // Model for generation
	MaxTokens   int     `toml:"max_tokens"`  // Maximum tokens in response (default: 8192)
	Timeout     string  `toml:"timeout"`     // Per-call timeout as duration string (default: "5m")
	Temperature float32 `toml:"temperature"` // Completion temperature (default: 0.7)
}

// LLMProvider names a content generation backend
type LLMProvider string

const (
	LLMProviderGemini LLMProvider = "gemini"
	LLMProviderClaude LLMProvider = "claude"
)

type LLMConfig struct {
	DefaultProvider      LLMProvider `toml:"default_provider"`        // "gemini" or "claude"
	HealthCheckOnStartup bool        `toml:"health_check_on_startup"` // Fail startup if the provider is unreachable
	RetryAttempts        int         `toml:"retry_attempts"`          // Retries on provider rate limiting
	RetryDelay           string      `toml:"retry_delay"`             // Base delay when the provider gives no hint
}

// NewDefaultConfig creates a configuration with default values
func NewDefaultConfig() *Config {
	return &Config{
		Environment: "development",
		Server: ServerConfig{
			Enabled: true,
			Port:    8085,
			Host:    "localhost",
		},
		Queue: QueueConfig{
			Name:              "ebooks",
			PollInterval:      "1s",
			Concurrency:       2,
			VisibilityTimeout: "15m",
			Attempts:          3,
			BackoffDelay:      "5s",
			BackoffMax:        "5m",
			KeepCompleted:     100,
			KeepFailed:        50,
			CompletedMaxAge:   "1h",
			FailedMaxAge:      "24h",
			CleanupSchedule:   "*/10 * * * *",
			ShutdownTimeout:   "30s",
		},
		Storage: StorageConfig{
			Badger: BadgerConfig{
				Path: "./data/folio",
			},
			Artifacts: ArtifactsConfig{
				Dir:           "./data/artifacts",
				PublicBaseURL: "/artifacts",
			},
		},
		Pipeline: PipelineConfig{
			ChapterCount:              10,
			PagesPerChapter:           5,
			ChapterInterval:           "1s",
			ChapterBurst:              1,
			DescriptionRepairAttempts: 2,
		},
		PDF: PDFConfig{
			Enabled:  true,
			PageSize: "A4",
			MarginMM: 20,
		},
		Logging: LoggingConfig{
			Level:      "info",
			Output:     []string{"stdout", "file"},
			TimeFormat: "15:04:05",
		},
		Gemini: GeminiConfig{
			Model:       "gemini-3-flash-preview",
			Timeout:     "5m",
			Temperature: 0.7,
		},
		Claude: ClaudeConfig{
			Model:       "claude-haiku-3-5-20241022",
			MaxTokens:   8192,
			Timeout:     "5m",
			Temperature: 0.7,
		},
		LLM: LLMConfig{
			DefaultProvider: LLMProviderGemini,
			RetryAttempts:   3,
			RetryDelay:      "2s",
		},
	}
}

// LoadFromFiles loads configuration with priority: defaults -> files (in order) -> env
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

		// Later files override earlier files
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

func applyEnvOverrides(config *Config) {
	if env := os.Getenv("FOLIO_ENV"); env != "" {
		config.Environment = env
	} else if env := os.Getenv("GO_ENV"); env != "" {
		config.Environment = env
	}

	// Server
	if enabled := os.Getenv("FOLIO_SERVER_ENABLED"); enabled != "" {
		if b, err := strconv.ParseBool(enabled); err == nil {
			config.Server.Enabled = b
		}
	}
	if port := os.Getenv("FOLIO_SERVER_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.Server.Port = p
		}
	}
	if host := os.Getenv("FOLIO_SERVER_HOST"); host != "" {
		config.Server.Host = host
	}

	// Queue
	if pollInterval := os.Getenv("FOLIO_QUEUE_POLL_INTERVAL"); pollInterval != "" {
		config.Queue.PollInterval = pollInterval
	}
	if concurrency := os.Getenv("FOLIO_QUEUE_CONCURRENCY"); concurrency != "" {
		if c, err := strconv.Atoi(concurrency); err == nil {
			config.Queue.Concurrency = c
		}
	}
	if visibilityTimeout := os.Getenv("FOLIO_QUEUE_VISIBILITY_TIMEOUT"); visibilityTimeout != "" {
		config.Queue.VisibilityTimeout = visibilityTimeout
	}
	if attempts := os.Getenv("FOLIO_QUEUE_ATTEMPTS"); attempts != "" {
		if a, err := strconv.Atoi(attempts); err == nil {
			config.Queue.Attempts = a
		}
	}
	if backoff := os.Getenv("FOLIO_QUEUE_BACKOFF_DELAY"); backoff != "" {
		config.Queue.BackoffDelay = backoff
	}

	// Storage
	if badgerPath := os.Getenv("FOLIO_BADGER_PATH"); badgerPath != "" {
		config.Storage.Badger.Path = badgerPath
	}
	if artifactsDir := os.Getenv("FOLIO_ARTIFACTS_DIR"); artifactsDir != "" {
		config.Storage.Artifacts.Dir = artifactsDir
	}
	if baseURL := os.Getenv("FOLIO_ARTIFACTS_BASE_URL"); baseURL != "" {
		config.Storage.Artifacts.PublicBaseURL = baseURL
	}

	// Pipeline
	if interval := os.Getenv("FOLIO_PIPELINE_CHAPTER_INTERVAL"); interval != "" {
		config.Pipeline.ChapterInterval = interval
	}

	// PDF
	if enabled := os.Getenv("FOLIO_PDF_ENABLED"); enabled != "" {
		if b, err := strconv.ParseBool(enabled); err == nil {
			config.PDF.Enabled = b
		}
	}

	// Logging
	if level := os.Getenv("FOLIO_LOG_LEVEL"); level != "" {
		config.Logging.Level = level
	}
	if output := os.Getenv("FOLIO_LOG_OUTPUT"); output != "" {
		var outputs []string
		for _, o := range strings.Split(output, ",") {
			if trimmed := strings.TrimSpace(o); trimmed != "" {
				outputs = append(outputs, trimmed)
			}
		}
		if len(outputs) > 0 {
			config.Logging.Output = outputs
		}
	}

	// Gemini
	if apiKey := os.Getenv("FOLIO_GEMINI_API_KEY"); apiKey != "" {
		config.Gemini.APIKey = apiKey
	} else if apiKey := os.Getenv("GOOGLE_API_KEY"); apiKey != "" {
		config.Gemini.APIKey = apiKey
	}
	if model := os.Getenv("FOLIO_GEMINI_MODEL"); model != "" {
		config.Gemini.Model = model
	}

	// Claude (ANTHROPIC_API_KEY is the SDK convention, FOLIO_ wins)
	if apiKey := os.Getenv("ANTHROPIC_API_KEY"); apiKey != "" {
		config.Claude.APIKey = apiKey
	}
	if apiKey := os.Getenv("FOLIO_CLAUDE_API_KEY"); apiKey != "" {
		config.Claude.APIKey = apiKey
	}
	if model := os.Getenv("FOLIO_CLAUDE_MODEL"); model != "" {
		config.Claude.Model = model
	}

	if provider := os.Getenv("FOLIO_LLM_DEFAULT_PROVIDER"); provider != "" {
		config.LLM.DefaultProvider = LLMProvider(strings.ToLower(provider))
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

// Validate checks values that would otherwise fail deep inside the pipeline
func (c *Config) Validate() error {
	durations := map[string]string{
		"queue.poll_interval":       c.Queue.PollInterval,
		"queue.visibility_timeout":  c.Queue.VisibilityTimeout,
		"queue.backoff_delay":       c.Queue.BackoffDelay,
		"queue.backoff_max":         c.Queue.BackoffMax,
		"queue.completed_max_age":   c.Queue.CompletedMaxAge,
		"queue.failed_max_age":      c.Queue.FailedMaxAge,
		"queue.shutdown_timeout":    c.Queue.ShutdownTimeout,
		"pipeline.chapter_interval": c.Pipeline.ChapterInterval,
	}
	for key, value := range durations {
		if _, err := time.ParseDuration(value); err != nil {
			return fmt.Errorf("invalid duration for %s: %q: %w", key, value, err)
		}
	}

	if c.Queue.Concurrency < 1 {
		return fmt.Errorf("queue.concurrency must be at least 1, got %d", c.Queue.Concurrency)
	}
	if c.Queue.Attempts < 1 {
		return fmt.Errorf("queue.attempts must be at least 1, got %d", c.Queue.Attempts)
	}
	if c.Pipeline.ChapterCount < 1 || c.Pipeline.PagesPerChapter < 1 {
		return fmt.Errorf("pipeline.chapter_count and pipeline.pages_per_chapter must be positive")
	}

	if c.Queue.CleanupSchedule != "" {
		if err := ValidateSchedule(c.Queue.CleanupSchedule); err != nil {
			return fmt.Errorf("queue.cleanup_schedule: %w", err)
		}
	}

	switch c.LLM.DefaultProvider {
	case LLMProviderGemini, LLMProviderClaude:
	default:
		return fmt.Errorf("llm.default_provider must be %q or %q, got %q", LLMProviderGemini, LLMProviderClaude, c.LLM.DefaultProvider)
	}

	return nil
}

// ValidateSchedule validates a standard 5-field cron expression
func ValidateSchedule(schedule string) error {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	if _, err := parser.Parse(schedule); err != nil {
		return fmt.Errorf("invalid cron schedule %q: %w", schedule, err)
	}
	return nil
}

// Duration parses a duration string, returning fallback if empty or invalid.
// Values are checked by Validate at load time.
func Duration(value string, fallback time.Duration) time.Duration {
	if value == "" {
		return fallback
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return d
}

// IsProduction returns true if the environment is production
func (c *Config) IsProduction() bool {
	env := strings.ToLower(c.Environment)
	return env == "production" || env == "prod"
}
