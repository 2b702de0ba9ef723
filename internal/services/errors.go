package services

import "errors"

// RetryableError marks a failure that must surface as a server error so the
// gateway's redelivery mechanism retries the notification. Everything else on
// the webhook path is acknowledged.
type RetryableError struct {
	Err error
}

func (e *RetryableError) Error() string {
	return e.Err.Error()
}

func (e *RetryableError) Unwrap() error {
	return e.Err
}

// Retryable wraps err as retryable. Returns nil for a nil err.
func Retryable(err error) error {
	if err == nil {
		return nil
	}
	return &RetryableError{Err: err}
}

// IsRetryable reports whether err should trigger gateway redelivery.
func IsRetryable(err error) bool {
	var re *RetryableError
	return errors.As(err, &re)
}

// ValidationError reports caller-supplied input that fails shape or
// positivity checks. It maps to a client error and never to a retry.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string {
	return e.Msg
}

// ErrSnapshotMissing signals that a success notification arrived before the
// pending snapshot became visible. The write and the delivery are not ordered
// by anything, so the delivery is failed and retried rather than dropped.
var ErrSnapshotMissing = errors.New("pending snapshot not found")
