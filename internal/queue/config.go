package queue

import (
	"time"

	"github.com/ternarybob/folio/internal/common"
)

// Config holds configuration for the queue manager and worker pool
type Config struct {
	// QueueName is the key prefix of the queue in Badger
	QueueName string

	// PollInterval is how often workers poll for messages
	PollInterval time.Duration

	// Concurrency is the number of concurrent workers
	Concurrency int

	// VisibilityTimeout hides a claimed message; it is redelivered if not settled in time
	VisibilityTimeout time.Duration

	// Attempts is the default number of tries per job, including the first
	Attempts int

	// Backoff computes the delay before each retry
	Backoff BackoffPolicy

	// Retention bounds for terminal job records
	KeepCompleted   int
	KeepFailed      int
	CompletedMaxAge time.Duration
	FailedMaxAge    time.Duration

	// CleanupSchedule is a cron expression for periodic retention cleanup; empty disables it
	CleanupSchedule string

	// ShutdownTimeout is how long Stop waits for in-flight jobs before requeueing them
	ShutdownTimeout time.Duration
}

// NewDefaultConfig creates a queue configuration with sensible defaults
func NewDefaultConfig() Config {
	return Config{
		QueueName:         "ebooks",
		PollInterval:      1 * time.Second,
		Concurrency:       2,
		VisibilityTimeout: 15 * time.Minute,
		Attempts:          3,
		Backoff:           DefaultBackoffPolicy(),
		KeepCompleted:     100,
		KeepFailed:        50,
		CompletedMaxAge:   time.Hour,
		FailedMaxAge:      24 * time.Hour,
		CleanupSchedule:   "*/10 * * * *",
		ShutdownTimeout:   30 * time.Second,
	}
}

// ConfigFromCommon maps the [queue] section onto a queue Config
func ConfigFromCommon(c common.QueueConfig) Config {
	defaults := NewDefaultConfig()

	cfg := Config{
		QueueName:         c.Name,
		PollInterval:      common.Duration(c.PollInterval, defaults.PollInterval),
		Concurrency:       c.Concurrency,
		VisibilityTimeout: common.Duration(c.VisibilityTimeout, defaults.VisibilityTimeout),
		Attempts:          c.Attempts,
		Backoff:           defaults.Backoff,
		KeepCompleted:     c.KeepCompleted,
		KeepFailed:        c.KeepFailed,
		CompletedMaxAge:   common.Duration(c.CompletedMaxAge, defaults.CompletedMaxAge),
		FailedMaxAge:      common.Duration(c.FailedMaxAge, defaults.FailedMaxAge),
		CleanupSchedule:   c.CleanupSchedule,
		ShutdownTimeout:   common.Duration(c.ShutdownTimeout, defaults.ShutdownTimeout),
	}
	cfg.Backoff.InitialInterval = common.Duration(c.BackoffDelay, defaults.Backoff.InitialInterval)
	cfg.Backoff.MaxInterval = common.Duration(c.BackoffMax, defaults.Backoff.MaxInterval)

	if cfg.QueueName == "" {
		cfg.QueueName = defaults.QueueName
	}
	if cfg.Concurrency < 1 {
		cfg.Concurrency = defaults.Concurrency
	}
	if cfg.Attempts < 1 {
		cfg.Attempts = defaults.Attempts
	}
	return cfg
}
