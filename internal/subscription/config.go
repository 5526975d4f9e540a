package subscription

import (
	"time"

	"github.com/Checker-Finance/public-sdk/pkg/apierr"
)

// Bounds for the polling frequency, in seconds.
const (
	MinPollingFrequency = 0.1
	MaxPollingFrequency = 60.0
)

// idleSleep caps the scheduler's sleep when no subscription is registered, so
// a new subscription is picked up promptly.
const idleSleep = 1 * time.Second

// Config controls the polling and retry behavior of one subscription.
type Config struct {
	// PollingFrequencySeconds is how often the subject is polled. Must lie
	// in [0.1, 60.0].
	PollingFrequencySeconds float64

	// RetryOnError keeps the subscription alive across fetch failures, up to
	// MaxRetries consecutive failures.
	RetryOnError bool

	// MaxRetries is the number of consecutive fetch failures tolerated
	// before the subscription moves to ERROR.
	MaxRetries int

	// ExponentialBackoff doubles the retry delay per consecutive failure
	// (capped at 60s). When false the plain polling interval is used.
	ExponentialBackoff bool
}

// DefaultConfig returns the subscription defaults: poll every 5 seconds,
// retry up to 3 times with exponential backoff.
func DefaultConfig() Config {
	return Config{
		PollingFrequencySeconds: 5.0,
		RetryOnError:            true,
		MaxRetries:              3,
		ExponentialBackoff:      true,
	}
}

// Validate checks the config against its documented bounds.
func (c Config) Validate() error {
	if err := validateFrequency(c.PollingFrequencySeconds); err != nil {
		return err
	}
	if c.MaxRetries < 0 {
		return apierr.ErrInvalidMaxRetries
	}
	return nil
}

// Interval returns the polling frequency as a duration.
func (c Config) Interval() time.Duration {
	return time.Duration(c.PollingFrequencySeconds * float64(time.Second))
}

// backoffDelay computes the retry delay after the given number of consecutive
// failures (failures >= 1): interval * 2^(failures-1) capped at 60s when
// exponential backoff is on, otherwise the plain interval.
func (c Config) backoffDelay(failures int) time.Duration {
	interval := c.Interval()
	if !c.ExponentialBackoff || failures <= 1 {
		return interval
	}
	d := interval
	for i := 1; i < failures; i++ {
		d *= 2
		if d >= 60*time.Second {
			return 60 * time.Second
		}
	}
	return d
}

func validateFrequency(seconds float64) error {
	if seconds < MinPollingFrequency || seconds > MaxPollingFrequency {
		return apierr.ErrInvalidPollingFrequency
	}
	return nil
}
