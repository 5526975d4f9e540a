package apierr

import (
	"errors"
	"fmt"
	"time"
)

// Errors surfaced by the subscription managers and order handles.
var (
	// ErrSubscriptionNotFound is returned for operations referencing an
	// unknown subscription id.
	ErrSubscriptionNotFound = errors.New("subscription not found")

	// ErrEmptySubscription is returned when subscribing with no subjects.
	ErrEmptySubscription = errors.New("subscription requires at least one instrument")

	// ErrInvalidPollingFrequency is returned when a polling frequency falls
	// outside the supported range.
	ErrInvalidPollingFrequency = errors.New("polling frequency must be between 0.1 and 60.0 seconds")

	// ErrInvalidMaxRetries is returned when a retry budget is negative.
	ErrInvalidMaxRetries = errors.New("max retries must not be negative")
)

// WaitTimeoutError reports that a wait_* call exceeded its deadline.
type WaitTimeoutError struct {
	OrderID string
	Timeout time.Duration
}

func (e *WaitTimeoutError) Error() string {
	return fmt.Sprintf("timed out after %s waiting for order %s", e.Timeout, e.OrderID)
}

// WaitCancelledError reports that the subscription backing a wait_* call was
// cancelled before the wait resolved.
type WaitCancelledError struct {
	OrderID string
	Reason  string
}

func (e *WaitCancelledError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("wait for order %s cancelled: %s", e.OrderID, e.Reason)
	}
	return fmt.Sprintf("wait for order %s cancelled", e.OrderID)
}

// IsWaitTimeout reports whether err is a WaitTimeoutError.
func IsWaitTimeout(err error) bool {
	var t *WaitTimeoutError
	return errors.As(err, &t)
}

// IsWaitCancelled reports whether err is a WaitCancelledError.
func IsWaitCancelled(err error) bool {
	var c *WaitCancelledError
	return errors.As(err, &c)
}
