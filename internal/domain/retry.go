package domain

import (
	"strings"
	"time"
)

// RetryClassifier decides whether a worker-side error is transient (worth
// another poll-error retry) or fatal (should abort the agent). The
// predictive-retry decision policy itself is left undefined by spec.md;
// this interface is the external-collaborator hook callers may supply.
type RetryClassifier interface {
	ShouldRetry(err error) bool
}

// DefaultRetryableErrors lists substrings classifying a worker transport
// error as retryable, mirroring the teacher's retryable/non-retryable
// error taxonomy for DLQ routing, adapted to the worker poll loop.
var DefaultRetryableErrors = []string{
	"context deadline exceeded",
	"connection refused",
	"timeout",
	"temporary failure",
	"rate limited",
	"eof",
}

// DefaultNonRetryableErrors lists substrings that must never be retried.
var DefaultNonRetryableErrors = []string{
	"unauthorized",
	"invalid argument",
	"not found",
	"forbidden",
}

// substringClassifier implements RetryClassifier by matching an error's
// message against DefaultRetryableErrors/DefaultNonRetryableErrors.
// Non-retryable substrings take precedence over retryable ones when both
// somehow match.
type substringClassifier struct{}

func (substringClassifier) ShouldRetry(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, s := range DefaultNonRetryableErrors {
		if strings.Contains(msg, s) {
			return false
		}
	}
	for _, s := range DefaultRetryableErrors {
		if strings.Contains(msg, s) {
			return true
		}
	}
	// Unclassified errors default to retryable: a worker poll loop should
	// keep trying rather than abort on an error shape it hasn't seen.
	return true
}

// NewDefaultRetryClassifier returns the substring-matching RetryClassifier
// the worker polling agent uses when no override is supplied.
func NewDefaultRetryClassifier() RetryClassifier { return substringClassifier{} }

// BackoffConfig tunes the worker's backoff when posting a job result, scaled differently
// in test environments the same way the teacher scales AI backoff.
type BackoffConfig struct {
	InitialInterval time.Duration
	MaxInterval     time.Duration
	Multiplier      float64
	MaxElapsedTime  time.Duration
}

// DefaultBackoffConfig returns sensible production defaults.
func DefaultBackoffConfig() BackoffConfig {
	return BackoffConfig{
		InitialInterval: 500 * time.Millisecond,
		MaxInterval:     10 * time.Second,
		Multiplier:      2.0,
		MaxElapsedTime:  0, // not read by the agent; postResult caps retries by count instead
	}
}
