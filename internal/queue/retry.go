package queue

import (
	"errors"
	"math"
	"math/rand"
	"time"
)

// BackoffPolicy computes exponential retry delays
type BackoffPolicy struct {
	InitialInterval time.Duration // Delay before the first retry
	MaxInterval     time.Duration // Cap for any single delay
	BackoffFactor   float64       // Exponential multiplier
	Jitter          float64       // ±fraction of randomization; 0 disables
}

// DefaultBackoffPolicy doubles from 5s
func DefaultBackoffPolicy() BackoffPolicy {
	return BackoffPolicy{
		InitialInterval: 5 * time.Second,
		MaxInterval:     5 * time.Minute,
		BackoffFactor:   2.0,
	}
}

// Delay returns the wait before retry number attempt (1-based):
// initial * factor^(attempt-1), capped, then jittered.
func (p BackoffPolicy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	factor := p.BackoffFactor
	if factor < 1 {
		factor = 1
	}

	backoff := float64(p.InitialInterval) * math.Pow(factor, float64(attempt-1))

	if p.MaxInterval > 0 && backoff > float64(p.MaxInterval) {
		backoff = float64(p.MaxInterval)
	}

	if p.Jitter > 0 {
		jitterAmount := backoff * p.Jitter
		backoff += (rand.Float64()*2 - 1) * jitterAmount
	}

	if backoff < 0 {
		backoff = float64(p.InitialInterval)
	}

	return time.Duration(backoff)
}

// permanentError marks a failure that retrying cannot fix
type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent wraps err so the queue fails the job without further attempts
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err, or anything it wraps, was marked Permanent
func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}
